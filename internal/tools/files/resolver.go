// Package files provides the built-in filesystem tools. Every path is
// resolved against a workspace root; anything that escapes the root is
// rejected before any file is touched.
package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Resolver maps workspace-relative paths to absolute ones.
type Resolver struct {
	Root string
}

// Resolve returns the absolute, cleaned path for a workspace-relative
// input, or an error when the result would leave the workspace.
func (r Resolver) Resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", errors.New("path is required")
	}
	root := strings.TrimSpace(r.Root)
	if root == "" {
		root = "."
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	target := clean
	if !filepath.IsAbs(target) {
		target = filepath.Join(rootAbs, target)
	}
	target = filepath.Clean(target)
	rel, err := filepath.Rel(rootAbs, target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", errors.New("path escapes workspace")
	}
	return target, nil
}

// Config controls the filesystem tool defaults.
type Config struct {
	Workspace string

	// MaxReadBytes caps read_file output. Defaults to 200000.
	MaxReadBytes int

	// MaxEntries caps list_dir output. Defaults to 500.
	MaxEntries int

	// MaxResults caps search_files matches. Defaults to 100.
	MaxResults int

	// MaxScanBytes is the largest file search_files will scan.
	// Defaults to 1 MiB.
	MaxScanBytes int64
}

func (c Config) withDefaults() Config {
	if c.MaxReadBytes <= 0 {
		c.MaxReadBytes = 200000
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 500
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 100
	}
	if c.MaxScanBytes <= 0 {
		c.MaxScanBytes = 1 << 20
	}
	return c
}
