// Package fileops resolves file-mutating requests against the
// workspace: an Index tracks the project's files and keeps itself
// fresh through a filesystem watcher, and a Classifier turns a
// structured intent into a concrete FileOperationIntent the safety
// pipeline can act on.
package fileops

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haasonsaas/forge/internal/intent"
	"github.com/haasonsaas/forge/internal/observability"
)

// defaultMaxFiles bounds the index so a scan of a huge monorepo cannot
// exhaust memory.
const defaultMaxFiles = 20000

// Entry is one tracked file.
type Entry struct {
	Path     string
	Size     int64
	ModTime  time.Time
	Language string
}

// IndexConfig assembles an Index.
type IndexConfig struct {
	// Root is the workspace directory to index. Required.
	Root string
	// MaxFiles caps how many files are tracked. Defaults to 20000.
	MaxFiles int
	// IgnoreDirs are directory names skipped in addition to the
	// built-in set (.git, node_modules, vendor, and friends).
	IgnoreDirs []string
	Logger     *observability.Logger
}

// Index is a bounded snapshot of the workspace's files, refreshed
// either by explicit Scan calls or by a filesystem watcher. Safe for
// concurrent use.
type Index struct {
	root     string
	maxFiles int
	ignore   map[string]struct{}
	logger   *observability.Logger

	mu    sync.RWMutex
	files map[string]Entry
	dirs  map[string]struct{}

	watcher     *fsnotify.Watcher
	watchPaths  map[string]struct{}
	watchMu     sync.Mutex
	watchWg     sync.WaitGroup
	watchCancel context.CancelFunc
}

// NewIndex validates the root and builds an empty Index. Call Scan to
// populate it.
func NewIndex(cfg IndexConfig) (*Index, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("project root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root is not a directory: %s", root)
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = defaultMaxFiles
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{Output: io.Discard})
	}
	ignore := make(map[string]struct{}, len(cfg.IgnoreDirs))
	for _, name := range cfg.IgnoreDirs {
		if name = strings.TrimSpace(name); name != "" {
			ignore[name] = struct{}{}
		}
	}
	return &Index{
		root:     root,
		maxFiles: cfg.MaxFiles,
		ignore:   ignore,
		logger:   logger,
		files:    make(map[string]Entry),
		dirs:     make(map[string]struct{}),
	}, nil
}

// Root returns the absolute workspace root.
func (ix *Index) Root() string {
	return ix.root
}

// Scan walks the workspace and replaces the tracked file set.
// Unreadable entries are skipped. The walk stops once MaxFiles is
// reached.
func (ix *Index) Scan(ctx context.Context) error {
	files := make(map[string]Entry)
	dirs := map[string]struct{}{ix.root: {}}
	truncated := false

	err := filepath.WalkDir(ix.root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			if path != ix.root && ix.skipDir(entry.Name()) {
				return fs.SkipDir
			}
			dirs[path] = struct{}{}
			return nil
		}
		if !entry.Type().IsRegular() || isBinaryName(entry.Name()) {
			return nil
		}
		if len(files) >= ix.maxFiles {
			truncated = true
			return fs.SkipAll
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		files[path] = Entry{
			Path:     path,
			Size:     info.Size(),
			ModTime:  info.ModTime(),
			Language: languageFor(entry.Name()),
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan project: %w", err)
	}

	ix.mu.Lock()
	ix.files = files
	ix.dirs = dirs
	ix.mu.Unlock()

	if truncated {
		ix.logger.Warn(ctx, "project index truncated", "max_files", ix.maxFiles)
	}
	ix.logger.Debug(ctx, "project scan complete", "files", len(files), "dirs", len(dirs))

	if err := ix.refreshWatches(); err != nil {
		ix.logger.Warn(ctx, "refresh index watches failed", "error", err)
	}
	return nil
}

// StartWatching begins applying filesystem events to the index. Safe
// to call once; subsequent calls are no-ops until Close.
func (ix *Index) StartWatching(ctx context.Context) error {
	ix.watchMu.Lock()
	if ix.watcher != nil {
		ix.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		ix.watchMu.Unlock()
		return err
	}
	ix.watcher = watcher
	if ix.watchPaths == nil {
		ix.watchPaths = make(map[string]struct{})
	}
	watchCtx, cancel := context.WithCancel(ctx)
	ix.watchCancel = cancel
	ix.watchMu.Unlock()

	if err := ix.refreshWatches(); err != nil {
		ix.logger.Warn(ctx, "initial index watch refresh failed", "error", err)
	}

	ix.watchWg.Add(1)
	go ix.watchLoop(watchCtx)
	return nil
}

// Close stops the watcher if one is active.
func (ix *Index) Close() error {
	ix.watchMu.Lock()
	if ix.watchCancel != nil {
		ix.watchCancel()
		ix.watchCancel = nil
	}
	watcher := ix.watcher
	ix.watcher = nil
	ix.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	ix.watchWg.Wait()
	return nil
}

func (ix *Index) watchLoop(ctx context.Context) {
	defer ix.watchWg.Done()
	ix.watchMu.Lock()
	watcher := ix.watcher
	ix.watchMu.Unlock()
	if watcher == nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				ix.applyEvent(ctx, event)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			ix.logger.Warn(ctx, "index watch error", "error", err)
		}
	}
}

func (ix *Index) applyEvent(ctx context.Context, event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		ix.forget(ctx, path)
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		info, err := os.Stat(path)
		if err != nil {
			// Gone again before we could stat it.
			ix.forget(ctx, path)
			return
		}
		if info.IsDir() {
			if event.Op&fsnotify.Create != 0 && !ix.skipDir(filepath.Base(path)) {
				ix.adoptDir(ctx, path)
			}
			return
		}
		ix.upsert(path, info)
	}
}

// forget drops a path from the index. When the path was a tracked
// directory, everything beneath it goes too.
func (ix *Index) forget(ctx context.Context, path string) {
	ix.mu.Lock()
	delete(ix.files, path)
	_, wasDir := ix.dirs[path]
	if wasDir {
		prefix := path + string(filepath.Separator)
		for p := range ix.files {
			if strings.HasPrefix(p, prefix) {
				delete(ix.files, p)
			}
		}
		for d := range ix.dirs {
			if d == path || strings.HasPrefix(d, prefix) {
				delete(ix.dirs, d)
			}
		}
	}
	ix.mu.Unlock()

	if wasDir {
		if err := ix.refreshWatches(); err != nil {
			ix.logger.Debug(ctx, "refresh index watches failed", "error", err)
		}
	}
}

func (ix *Index) upsert(path string, info fs.FileInfo) {
	if !info.Mode().IsRegular() || isBinaryName(filepath.Base(path)) {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, tracked := ix.files[path]; !tracked && len(ix.files) >= ix.maxFiles {
		return
	}
	ix.files[path] = Entry{
		Path:     path,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Language: languageFor(filepath.Base(path)),
	}
}

// adoptDir indexes a directory created after the initial scan and adds
// it to the watch set.
func (ix *Index) adoptDir(ctx context.Context, dir string) {
	ix.mu.Lock()
	ix.dirs[dir] = struct{}{}
	ix.mu.Unlock()

	_ = filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if entry.IsDir() {
			if path != dir && ix.skipDir(entry.Name()) {
				return fs.SkipDir
			}
			ix.mu.Lock()
			ix.dirs[path] = struct{}{}
			ix.mu.Unlock()
			return nil
		}
		if !entry.Type().IsRegular() || isBinaryName(entry.Name()) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return nil
		}
		ix.upsert(path, info)
		return nil
	})

	if err := ix.refreshWatches(); err != nil {
		ix.logger.Debug(ctx, "refresh index watches failed", "error", err)
	}
}

// refreshWatches reconciles the watcher against the tracked directory
// set: new directories are added, vanished ones removed.
func (ix *Index) refreshWatches() error {
	ix.watchMu.Lock()
	watcher := ix.watcher
	ix.watchMu.Unlock()
	if watcher == nil {
		return nil
	}

	ix.mu.RLock()
	desired := make(map[string]struct{}, len(ix.dirs))
	for dir := range ix.dirs {
		desired[dir] = struct{}{}
	}
	ix.mu.RUnlock()

	ix.watchMu.Lock()
	defer ix.watchMu.Unlock()

	for path := range desired {
		if _, ok := ix.watchPaths[path]; ok {
			continue
		}
		if err := watcher.Add(path); err != nil {
			ix.logger.Debug(context.Background(), "failed to watch project path", "path", path, "error", err)
			continue
		}
		ix.watchPaths[path] = struct{}{}
	}

	for path := range ix.watchPaths {
		if _, ok := desired[path]; ok {
			continue
		}
		if err := watcher.Remove(path); err != nil {
			ix.logger.Debug(context.Background(), "failed to unwatch project path", "path", path, "error", err)
		}
		delete(ix.watchPaths, path)
	}

	return nil
}

// Project summarizes the index for intent analysis. Languages are
// ordered by file count, ties alphabetical.
func (ix *Index) Project() intent.Project {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	counts := make(map[string]int)
	for _, entry := range ix.files {
		if entry.Language != "" {
			counts[entry.Language]++
		}
	}
	languages := make([]string, 0, len(counts))
	for lang := range counts {
		languages = append(languages, lang)
	}
	sort.Slice(languages, func(i, j int) bool {
		if counts[languages[i]] != counts[languages[j]] {
			return counts[languages[i]] > counts[languages[j]]
		}
		return languages[i] < languages[j]
	})
	return intent.Project{
		Root:      ix.root,
		Languages: languages,
		FileCount: len(ix.files),
	}
}

// Recent returns up to n tracked paths ordered newest first.
func (ix *Index) Recent(n int) []string {
	if n <= 0 {
		return nil
	}
	ix.mu.RLock()
	entries := make([]Entry, 0, len(ix.files))
	for _, entry := range ix.files {
		entries = append(entries, entry)
	}
	ix.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].ModTime.After(entries[j].ModTime)
		}
		return entries[i].Path < entries[j].Path
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	paths := make([]string, len(entries))
	for i, entry := range entries {
		paths[i] = entry.Path
	}
	return paths
}

// Match returns tracked paths whose lowercased base name matches any
// of the glob patterns, sorted, capped at limit when limit > 0.
// Patterns are expected lowercase.
func (ix *Index) Match(patterns []string, limit int) []string {
	if len(patterns) == 0 {
		return nil
	}
	ix.mu.RLock()
	var matched []string
	for path := range ix.files {
		base := strings.ToLower(filepath.Base(path))
		for _, pattern := range patterns {
			if ok, err := filepath.Match(pattern, base); err == nil && ok {
				matched = append(matched, path)
				break
			}
		}
	}
	ix.mu.RUnlock()

	sort.Strings(matched)
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Info returns the tracked entry for an absolute path.
func (ix *Index) Info(path string) (Entry, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	entry, ok := ix.files[path]
	return entry, ok
}

// Len returns the number of tracked files.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.files)
}

// skipDir reports whether a directory name is excluded from the walk,
// by the built-in set or by configuration.
func (ix *Index) skipDir(name string) bool {
	if shouldSkipDir(name) {
		return true
	}
	_, ok := ix.ignore[name]
	return ok
}

func shouldSkipDir(name string) bool {
	if name == "" {
		return false
	}
	switch name {
	case ".git", ".hg", ".svn", "node_modules", "vendor", "dist", "target", ".idea", ".vscode", "__pycache__":
		return true
	}
	return strings.HasPrefix(name, ".")
}

var binaryExtensions = map[string]struct{}{
	".exe": {}, ".dll": {}, ".so": {}, ".dylib": {}, ".a": {}, ".o": {},
	".bin": {}, ".wasm": {}, ".class": {}, ".jar": {}, ".pyc": {},
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".ico": {}, ".webp": {},
	".pdf": {}, ".zip": {}, ".tar": {}, ".gz": {}, ".bz2": {}, ".xz": {}, ".7z": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".webm": {},
	".db": {}, ".sqlite": {},
}

func isBinaryName(name string) bool {
	_, ok := binaryExtensions[strings.ToLower(filepath.Ext(name))]
	return ok
}

var languageByExtension = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rs":    "rust",
	".java":  "java",
	".rb":    "ruby",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cc":    "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".scss":  "css",
	".md":    "markdown",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
}

func languageFor(name string) string {
	return languageByExtension[strings.ToLower(filepath.Ext(name))]
}
