package safety

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/forge/internal/observability"
	"github.com/haasonsaas/forge/pkg/models"
)

const (
	backupTimeFormat = "20060102T150405"
	metaSuffix       = ".meta"
)

// backupStore keeps checksummed copies of files under one flat
// directory, one payload plus one .meta sidecar per backup. The
// sidecar is the source of truth; a payload without one is invisible.
type backupStore struct {
	dir        string
	retention  time.Duration
	maxPerFile int
	logger     *observability.Logger
	now        func() time.Time
}

func newBackupStore(dir string, retention time.Duration, maxPerFile int, logger *observability.Logger) *backupStore {
	return &backupStore{
		dir:        dir,
		retention:  retention,
		maxPerFile: maxPerFile,
		logger:     logger,
		now:        time.Now,
	}
}

// prunedBackup names one backup the store dropped and why.
type prunedBackup struct {
	ID     string
	Reason string
}

// create backs up path before an operation mutates it. A missing file
// yields an intent record, a sidecar alone, marking that rollback
// means deleting whatever the operation creates there.
func (s *backupStore) create(ctx context.Context, op, path string) (models.BackupInfo, []prunedBackup, error) {
	now := s.now()
	info := models.BackupInfo{
		OriginalPath:   path,
		Created:        now,
		RetentionUntil: now.Add(s.retention),
	}

	stat, err := os.Stat(path)
	switch {
	case os.IsNotExist(err):
		info.IsIntent = true
		info.ID = backupName(op, path, now, "intent")
	case err != nil:
		return models.BackupInfo{}, nil, fmt.Errorf("stat %s: %w", path, err)
	default:
		raw, err := os.ReadFile(path)
		if err != nil {
			return models.BackupInfo{}, nil, fmt.Errorf("read %s: %w", path, err)
		}
		sum := sha256.Sum256(raw)
		info.Checksum = hex.EncodeToString(sum[:])
		info.Size = stat.Size()
		info.Mode = uint32(stat.Mode().Perm())
		info.ID = backupName(op, path, now, info.Checksum[:8])
		info.BackupPath = filepath.Join(s.dir, info.ID)
		if err := os.WriteFile(info.BackupPath, raw, 0o600); err != nil {
			return models.BackupInfo{}, nil, fmt.Errorf("write backup: %w", err)
		}
	}

	if err := s.writeSidecar(info); err != nil {
		return models.BackupInfo{}, nil, err
	}

	pruned, err := s.pruneForPath(ctx, path, info.ID)
	if err != nil {
		// The backup itself succeeded; deferred pruning is not fatal.
		s.logger.Debug(ctx, "backup pruning failed", "path", path, "error", err)
	}
	return info, pruned, nil
}

// restore writes the backed-up bytes and mode back to the original
// path. Intent backups undo a create by deleting the file instead.
func (s *backupStore) restore(info models.BackupInfo) error {
	if info.IsIntent {
		if err := os.Remove(info.OriginalPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove created file: %w", err)
		}
		return nil
	}

	raw, err := os.ReadFile(info.BackupPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != info.Checksum {
		return fmt.Errorf("backup %s failed checksum verification", info.ID)
	}

	if err := os.MkdirAll(filepath.Dir(info.OriginalPath), 0o755); err != nil {
		return fmt.Errorf("recreate parent directory: %w", err)
	}
	mode := os.FileMode(info.Mode)
	if mode == 0 {
		mode = 0o644
	}
	if err := os.WriteFile(info.OriginalPath, raw, mode); err != nil {
		return fmt.Errorf("restore %s: %w", info.OriginalPath, err)
	}
	// WriteFile's mode only applies on create; force it for overwrites.
	if err := os.Chmod(info.OriginalPath, mode); err != nil {
		return fmt.Errorf("restore mode of %s: %w", info.OriginalPath, err)
	}
	return nil
}

// latest finds the newest backup recorded for originalPath.
func (s *backupStore) latest(ctx context.Context, originalPath string) (models.BackupInfo, error) {
	infos, err := s.list(ctx)
	if err != nil {
		return models.BackupInfo{}, err
	}
	var best models.BackupInfo
	found := false
	for _, info := range infos {
		if info.OriginalPath != originalPath {
			continue
		}
		if !found || info.Created.After(best.Created) ||
			(info.Created.Equal(best.Created) && info.ID > best.ID) {
			best = info
			found = true
		}
	}
	if !found {
		return models.BackupInfo{}, fmt.Errorf("no backup recorded for %s", originalPath)
	}
	return best, nil
}

// sweep removes every backup past its retention.
func (s *backupStore) sweep(ctx context.Context) ([]prunedBackup, error) {
	infos, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	var pruned []prunedBackup
	for _, info := range infos {
		if !info.RetentionUntil.Before(now) {
			continue
		}
		if err := s.remove(info); err != nil {
			return pruned, err
		}
		pruned = append(pruned, prunedBackup{ID: info.ID, Reason: "expired"})
	}
	return pruned, nil
}

// list loads every sidecar in the store. Unreadable sidecars are
// skipped, not fatal: a torn write must not block new backups.
func (s *backupStore) list(ctx context.Context) ([]models.BackupInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup directory: %w", err)
	}
	var infos []models.BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), metaSuffix) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Debug(ctx, "skipping unreadable backup sidecar", "name", entry.Name(), "error", err)
			continue
		}
		var info models.BackupInfo
		if err := json.Unmarshal(raw, &info); err != nil {
			s.logger.Debug(ctx, "skipping invalid backup sidecar", "name", entry.Name(), "error", err)
			continue
		}
		if info.ID == "" {
			info.ID = strings.TrimSuffix(entry.Name(), metaSuffix)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// pruneForPath drops expired backups of path and then enforces the
// per-file cap, oldest first. keep is the id of the backup just taken.
func (s *backupStore) pruneForPath(ctx context.Context, path, keep string) ([]prunedBackup, error) {
	infos, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	var mine []models.BackupInfo
	for _, info := range infos {
		if info.OriginalPath == path {
			mine = append(mine, info)
		}
	}
	sort.Slice(mine, func(i, j int) bool {
		if mine[i].Created.Equal(mine[j].Created) {
			return mine[i].ID < mine[j].ID
		}
		return mine[i].Created.Before(mine[j].Created)
	})

	now := s.now()
	var pruned []prunedBackup
	var kept []models.BackupInfo
	for _, info := range mine {
		if info.ID != keep && info.RetentionUntil.Before(now) {
			if err := s.remove(info); err != nil {
				return pruned, err
			}
			pruned = append(pruned, prunedBackup{ID: info.ID, Reason: "expired"})
			continue
		}
		kept = append(kept, info)
	}
	for len(kept) > s.maxPerFile {
		info := kept[0]
		if info.ID == keep {
			break
		}
		if err := s.remove(info); err != nil {
			return pruned, err
		}
		pruned = append(pruned, prunedBackup{ID: info.ID, Reason: "max_backups"})
		kept = kept[1:]
	}
	return pruned, nil
}

func (s *backupStore) remove(info models.BackupInfo) error {
	if info.BackupPath != "" {
		if err := os.Remove(info.BackupPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove backup payload: %w", err)
		}
	}
	meta := filepath.Join(s.dir, info.ID+metaSuffix)
	if err := os.Remove(meta); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove backup metadata: %w", err)
	}
	return nil
}

func (s *backupStore) writeSidecar(info models.BackupInfo) error {
	raw, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("encode backup metadata: %w", err)
	}
	path := filepath.Join(s.dir, info.ID+metaSuffix)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write backup metadata: %w", err)
	}
	return nil
}

// backupName is <op>_<basename>_<timestamp>_<suffix>, sanitized so any
// original file name maps to a safe flat name.
func backupName(op, path string, ts time.Time, suffix string) string {
	return fmt.Sprintf("%s_%s_%s_%s", op, sanitizeName(filepath.Base(path)), ts.Format(backupTimeFormat), suffix)
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
