package safety

import (
	"context"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/haasonsaas/forge/pkg/models"
)

func TestPreviewUnifiedDiff(t *testing.T) {
	p := newTestPipeline(t, nil)
	dir := t.TempDir()
	path := filepath.Join(dir, "handler.go")
	writeFile(t, path, "package web\n\nfunc handle() {}\n")

	op := opWithTargets(models.FileOpEdit, models.SafetySafe, path)
	proposed := map[string]string{path: "package web\n\nfunc handle() { ready() }\n"}

	previews := p.previews(context.Background(), op, proposed)
	if len(previews) != 1 {
		t.Fatalf("previews = %d, want 1", len(previews))
	}
	pv := previews[0]
	if pv.Path != path {
		t.Errorf("path = %q, want %q", pv.Path, path)
	}
	if !strings.Contains(pv.Diff, "-func handle() {}") {
		t.Errorf("diff missing removed line:\n%s", pv.Diff)
	}
	if !strings.Contains(pv.Diff, "+func handle() { ready() }") {
		t.Errorf("diff missing added line:\n%s", pv.Diff)
	}
	if pv.LinesAdded != 1 || pv.LinesRemoved != 1 {
		t.Errorf("lines added/removed = %d/%d, want 1/1", pv.LinesAdded, pv.LinesRemoved)
	}
	if pv.Truncated {
		t.Error("short diff must not be truncated")
	}
}

func TestPreviewTruncatesLongDiffs(t *testing.T) {
	p := newTestPipeline(t, func(cfg *Config) { cfg.MaxPreviewLines = 5 })
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")

	var current, proposed strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&current, "old value %d\n", i)
		fmt.Fprintf(&proposed, "new value %d\n", i)
	}
	writeFile(t, path, current.String())

	op := opWithTargets(models.FileOpEdit, models.SafetySafe, path)
	previews := p.previews(context.Background(), op, map[string]string{path: proposed.String()})
	if len(previews) != 1 {
		t.Fatalf("previews = %d, want 1", len(previews))
	}
	pv := previews[0]
	if !pv.Truncated {
		t.Error("expected a truncated diff")
	}
	if got := len(strings.Split(strings.TrimSuffix(pv.Diff, "\n"), "\n")); got != 5 {
		t.Errorf("rendered diff lines = %d, want 5", got)
	}
	if pv.LinesAdded != 40 || pv.LinesRemoved != 40 {
		t.Errorf("lines added/removed = %d/%d, want 40/40", pv.LinesAdded, pv.LinesRemoved)
	}
}

func TestPreviewNewFile(t *testing.T) {
	p := newTestPipeline(t, nil)
	path := filepath.Join(t.TempDir(), "notes.txt")

	op := opWithTargets(models.FileOpCreate, models.SafetySafe, path)
	previews := p.previews(context.Background(), op, map[string]string{path: "hello\nworld\n"})
	if len(previews) != 1 {
		t.Fatalf("previews = %d, want 1", len(previews))
	}
	pv := previews[0]
	if pv.LinesAdded != 2 || pv.LinesRemoved != 0 {
		t.Errorf("lines added/removed = %d/%d, want 2/0", pv.LinesAdded, pv.LinesRemoved)
	}
}

func TestPreviewOnlyCoversProposedPaths(t *testing.T) {
	p := newTestPipeline(t, nil)
	op := opWithTargets(models.FileOpEdit, models.SafetySafe, "/work/a.go", "/work/b.go")

	previews := p.previews(context.Background(), op, map[string]string{"/work/b.go": "package b\n"})
	if len(previews) != 1 || previews[0].Path != "/work/b.go" {
		t.Fatalf("previews = %+v, want /work/b.go only", previews)
	}
}

func TestPreviewScansImports(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    []string
	}{
		{
			name:    "go",
			file:    "main.go",
			content: "package main\n\nimport (\n\t\"fmt\"\n\tnh \"net/http\"\n)\n\nimport \"os\"\n",
			want:    []string{"fmt", "net/http", "os"},
		},
		{
			name:    "python",
			file:    "app.py",
			content: "import os, sys\nfrom flask import Flask\n",
			want:    []string{"os", "sys", "flask"},
		},
		{
			name:    "typescript",
			file:    "app.ts",
			content: "import { useState } from \"react\"\nimport \"./styles.css\"\nconst fs = require('node:fs')\n",
			want:    []string{"react", "./styles.css", "node:fs"},
		},
		{
			name:    "unsupported",
			file:    "notes.md",
			content: "import nothing\n",
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scanImports(tt.file, tt.content); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("scanImports(%s) = %v, want %v", tt.file, got, tt.want)
			}
		})
	}
}

func TestPreviewContentIssues(t *testing.T) {
	tests := []struct {
		name     string
		current  string
		proposed string
		want     []string
	}{
		{"clean", "a\n", "b\n", nil},
		{
			"conflict markers", "",
			"<<<<<<< ours\nx\n>>>>>>> theirs\n",
			[]string{"merge conflict markers present"},
		},
		{
			"unbalanced braces", "",
			"func f() {\n",
			[]string{"unbalanced braces"},
		},
		{
			"new todo", "done\n",
			"// TODO finish\n",
			[]string{"introduces TODO or FIXME markers"},
		},
		{"existing todo", "// TODO finish\n", "// TODO finish it\n", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := contentIssues(tt.current, tt.proposed); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("contentIssues = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPreviewFlagsRemovedExports(t *testing.T) {
	p := newTestPipeline(t, nil)
	dir := t.TempDir()

	goPath := filepath.Join(dir, "api.go")
	writeFile(t, goPath, "package api\n\nfunc Serve() {}\n\nfunc helper() {}\n")
	tsPath := filepath.Join(dir, "util.ts")
	writeFile(t, tsPath, "export function parse() {}\nfunction local() {}\n")
	pyPath := filepath.Join(dir, "tasks.py")
	writeFile(t, pyPath, "def run():\n    pass\n")

	tests := []struct {
		name     string
		path     string
		proposed string
		want     bool
	}{
		{"removes exported func", goPath, "package api\n\nfunc helper() {}\n", true},
		{"keeps exported func", goPath, "package api\n\nfunc Serve() {}\n\nfunc helper() { prep() }\n", false},
		{"removes ts export", tsPath, "function local() {}\n", true},
		{"removes python def", pyPath, "pass\n", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pv, err := p.buildPreview(tt.path, tt.proposed)
			if err != nil {
				t.Fatalf("buildPreview: %v", err)
			}
			if pv.BreakingChange != tt.want {
				t.Errorf("breaking change = %t, want %t\n%s", pv.BreakingChange, tt.want, pv.Diff)
			}
		})
	}
}
