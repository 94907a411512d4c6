package fileops

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func newScannedIndex(t *testing.T, root string, maxFiles int) *Index {
	t.Helper()
	ix, err := NewIndex(IndexConfig{Root: root, MaxFiles: maxFiles})
	if err != nil {
		t.Fatalf("NewIndex error: %v", err)
	}
	if err := ix.Scan(context.Background()); err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	return ix
}

func TestScanSkipsIgnoredDirsAndBinaries(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	writeFile(t, filepath.Join(root, "lib", "util.py"), "x = 1\n")
	writeFile(t, filepath.Join(root, "README.md"), "# readme\n")
	writeFile(t, filepath.Join(root, ".git", "config"), "[core]\n")
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "index.js"), "module.exports = {}\n")
	writeFile(t, filepath.Join(root, "vendor", "dep.go"), "package dep\n")
	writeFile(t, filepath.Join(root, "logo.png"), "binary bytes")

	ix := newScannedIndex(t, root, 0)

	if got := ix.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
	if _, ok := ix.Info(filepath.Join(root, "main.go")); !ok {
		t.Errorf("expected main.go to be tracked")
	}
	if _, ok := ix.Info(filepath.Join(root, "node_modules", "pkg", "index.js")); ok {
		t.Errorf("expected node_modules to be skipped")
	}
	if _, ok := ix.Info(filepath.Join(root, "logo.png")); ok {
		t.Errorf("expected binary file to be skipped")
	}
}

func TestScanHonorsConfiguredIgnoreDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	writeFile(t, filepath.Join(root, "generated", "api.go"), "package generated\n")
	writeFile(t, filepath.Join(root, "docs", "guide.md"), "# guide\n")

	ix, err := NewIndex(IndexConfig{Root: root, IgnoreDirs: []string{"generated", " ", "docs"}})
	if err != nil {
		t.Fatalf("NewIndex error: %v", err)
	}
	if err := ix.Scan(context.Background()); err != nil {
		t.Fatalf("Scan error: %v", err)
	}

	if got := ix.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
	if _, ok := ix.Info(filepath.Join(root, "generated", "api.go")); ok {
		t.Errorf("expected configured ignore dir to be skipped")
	}
}

func TestScanHonorsMaxFiles(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"a.go", "b.go", "c.go", "d.go", "e.go"} {
		writeFile(t, filepath.Join(root, name), "package x\n")
	}

	ix := newScannedIndex(t, root, 3)

	if got := ix.Len(); got != 3 {
		t.Fatalf("Len() = %d, want 3", got)
	}
}

func TestProjectSummary(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	writeFile(t, filepath.Join(root, "util.go"), "package main\n")
	writeFile(t, filepath.Join(root, "script.py"), "x = 1\n")
	writeFile(t, filepath.Join(root, "README.md"), "# readme\n")

	ix := newScannedIndex(t, root, 0)
	project := ix.Project()

	if project.Root != ix.Root() {
		t.Errorf("Root = %q, want %q", project.Root, ix.Root())
	}
	if project.FileCount != 4 {
		t.Errorf("FileCount = %d, want 4", project.FileCount)
	}
	want := []string{"go", "markdown", "python"}
	if !reflect.DeepEqual(project.Languages, want) {
		t.Errorf("Languages = %v, want %v", project.Languages, want)
	}
}

func TestRecentOrdersByModTime(t *testing.T) {
	root := t.TempDir()
	old := filepath.Join(root, "old.go")
	mid := filepath.Join(root, "mid.go")
	newest := filepath.Join(root, "new.go")
	for _, path := range []string{old, mid, newest} {
		writeFile(t, path, "package x\n")
	}
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(old, base, base); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(mid, base.Add(time.Minute), base.Add(time.Minute)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(newest, base.Add(2*time.Minute), base.Add(2*time.Minute)); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	ix := newScannedIndex(t, root, 0)

	got := ix.Recent(2)
	want := []string{newest, mid}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Recent(2) = %v, want %v", got, want)
	}
	if got := ix.Recent(0); got != nil {
		t.Errorf("Recent(0) = %v, want nil", got)
	}
}

func TestMatchPatterns(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "app.tsx"), "export {}\n")
	writeFile(t, filepath.Join(root, "src", "profile_component.ts"), "export {}\n")
	writeFile(t, filepath.Join(root, "style.css"), "body {}\n")
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")

	ix := newScannedIndex(t, root, 0)

	if got := ix.Match([]string{"*.tsx"}, 0); !reflect.DeepEqual(got, []string{filepath.Join(root, "src", "app.tsx")}) {
		t.Errorf("Match(*.tsx) = %v", got)
	}
	if got := ix.Match([]string{"*component*"}, 0); !reflect.DeepEqual(got, []string{filepath.Join(root, "src", "profile_component.ts")}) {
		t.Errorf("Match(*component*) = %v", got)
	}
	got := ix.Match([]string{"*.go", "*.css"}, 0)
	want := []string{filepath.Join(root, "main.go"), filepath.Join(root, "style.css")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Match(*.go, *.css) = %v, want %v", got, want)
	}
	if got := ix.Match([]string{"*.go", "*.css"}, 1); len(got) != 1 {
		t.Errorf("Match with limit 1 returned %d paths", len(got))
	}
	if got := ix.Match(nil, 0); got != nil {
		t.Errorf("Match(nil) = %v, want nil", got)
	}
}

func TestNewIndexValidation(t *testing.T) {
	if _, err := NewIndex(IndexConfig{}); err == nil {
		t.Errorf("expected error for empty root")
	}
	file := filepath.Join(t.TempDir(), "plain.txt")
	writeFile(t, file, "hello")
	if _, err := NewIndex(IndexConfig{Root: file}); err == nil {
		t.Errorf("expected error for non-directory root")
	}
}

func TestApplyEventLifecycle(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	ix := newScannedIndex(t, root, 0)
	ctx := context.Background()

	created := filepath.Join(root, "created.go")
	writeFile(t, created, "package x\n")
	ix.applyEvent(ctx, fsnotify.Event{Name: created, Op: fsnotify.Create})
	if _, ok := ix.Info(created); !ok {
		t.Fatalf("expected created file to be tracked")
	}

	grown := "package x\n\nvar y = 1\n"
	writeFile(t, created, grown)
	ix.applyEvent(ctx, fsnotify.Event{Name: created, Op: fsnotify.Write})
	entry, ok := ix.Info(created)
	if !ok {
		t.Fatalf("expected written file to remain tracked")
	}
	if entry.Size != int64(len(grown)) {
		t.Errorf("Size = %d, want %d", entry.Size, len(grown))
	}

	if err := os.Remove(created); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ix.applyEvent(ctx, fsnotify.Event{Name: created, Op: fsnotify.Remove})
	if _, ok := ix.Info(created); ok {
		t.Errorf("expected removed file to be forgotten")
	}

	ix.applyEvent(ctx, fsnotify.Event{Name: filepath.Join(root, "main.go"), Op: fsnotify.Rename})
	if got := ix.Len(); got != 0 {
		t.Errorf("Len() = %d after rename, want 0", got)
	}
}

func TestApplyEventAdoptsCreatedDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	ix := newScannedIndex(t, root, 0)
	ctx := context.Background()

	dir := filepath.Join(root, "pkg")
	writeFile(t, filepath.Join(dir, "a.go"), "package pkg\n")
	writeFile(t, filepath.Join(dir, "b.go"), "package pkg\n")
	ix.applyEvent(ctx, fsnotify.Event{Name: dir, Op: fsnotify.Create})

	if _, ok := ix.Info(filepath.Join(dir, "a.go")); !ok {
		t.Errorf("expected a.go in created dir to be tracked")
	}
	if _, ok := ix.Info(filepath.Join(dir, "b.go")); !ok {
		t.Errorf("expected b.go in created dir to be tracked")
	}

	hidden := filepath.Join(root, ".cache")
	writeFile(t, filepath.Join(hidden, "c.go"), "package cache\n")
	ix.applyEvent(ctx, fsnotify.Event{Name: hidden, Op: fsnotify.Create})
	if _, ok := ix.Info(filepath.Join(hidden, "c.go")); ok {
		t.Errorf("expected hidden dir to stay ignored")
	}
}

func TestApplyEventRespectsMaxFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	ix := newScannedIndex(t, root, 1)
	ctx := context.Background()

	extra := filepath.Join(root, "extra.go")
	writeFile(t, extra, "package main\n")
	ix.applyEvent(ctx, fsnotify.Event{Name: extra, Op: fsnotify.Create})

	if got := ix.Len(); got != 1 {
		t.Errorf("Len() = %d, want 1", got)
	}
}

func TestWatcherPicksUpNewFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main\n")
	ix := newScannedIndex(t, root, 0)
	defer func() { _ = ix.Close() }()

	if err := ix.StartWatching(context.Background()); err != nil {
		t.Skipf("watcher unavailable: %v", err)
	}

	added := filepath.Join(root, "added.go")
	writeFile(t, added, "package main\n")

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := ix.Info(added); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %s to be indexed", added)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	root := t.TempDir()
	ix := newScannedIndex(t, root, 0)

	if err := ix.Close(); err != nil {
		t.Fatalf("Close without watcher: %v", err)
	}
	if err := ix.StartWatching(context.Background()); err != nil {
		t.Skipf("watcher unavailable: %v", err)
	}
	if err := ix.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := ix.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}
}
