package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/forge/internal/app"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"chat", "ask", "status", "providers", "tools", "config", "history", "version"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestBuildRootCmdVersion(t *testing.T) {
	cmd := buildRootCmd()
	if !strings.Contains(cmd.Version, version) {
		t.Fatalf("version string %q missing build version %q", cmd.Version, version)
	}
	if !strings.Contains(cmd.Version, "commit:") {
		t.Fatalf("version string %q missing commit", cmd.Version)
	}
}

func TestVersionSubcommand(t *testing.T) {
	var out bytes.Buffer
	cmd := buildRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "forge "+version) {
		t.Fatalf("version output = %q", out.String())
	}
	if !strings.Contains(out.String(), "commit:") {
		t.Fatalf("version output missing commit, got %q", out.String())
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("FORGE_CONFIG", "")

	t.Run("flag wins", func(t *testing.T) {
		t.Setenv("FORGE_CONFIG", "/env/forge.yaml")
		if got := resolveConfigPath("/flag/forge.yaml"); got != "/flag/forge.yaml" {
			t.Fatalf("resolveConfigPath = %q, want flag value", got)
		}
	})

	t.Run("environment next", func(t *testing.T) {
		t.Setenv("FORGE_CONFIG", "/env/forge.yaml")
		if got := resolveConfigPath(""); got != "/env/forge.yaml" {
			t.Fatalf("resolveConfigPath = %q, want env value", got)
		}
	})

	t.Run("local file next", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, defaultConfigFile), []byte("{}\n"), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		t.Chdir(dir)
		if got := resolveConfigPath(""); got != defaultConfigFile {
			t.Fatalf("resolveConfigPath = %q, want %q", got, defaultConfigFile)
		}
	})

	t.Run("defaults when nothing set", func(t *testing.T) {
		t.Chdir(t.TempDir())
		if got := resolveConfigPath(""); got != "" {
			t.Fatalf("resolveConfigPath = %q, want empty", got)
		}
	})
}

func TestLoadSessionConfigOverrides(t *testing.T) {
	t.Setenv("FORGE_CONFIG", "")
	cfgFile := filepath.Join(t.TempDir(), "forge.yaml")
	body := "providers:\n  default: local\n  local:\n    enabled: true\n"
	if err := os.WriteFile(cfgFile, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ws := t.TempDir()
	setFlags(t, cfgFile, ws, true)

	cfg, err := loadSessionConfig("local")
	if err != nil {
		t.Fatalf("loadSessionConfig: %v", err)
	}
	if cfg.Workspace.Root != ws {
		t.Errorf("workspace root = %q, want %q", cfg.Workspace.Root, ws)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Providers.Default != "local" {
		t.Errorf("default provider = %q, want local", cfg.Providers.Default)
	}
}

func TestLoadSessionConfigBadFile(t *testing.T) {
	t.Setenv("FORGE_CONFIG", "")
	cfgFile := filepath.Join(t.TempDir(), "forge.yaml")
	if err := os.WriteFile(cfgFile, []byte("providers: [unclosed"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	setFlags(t, cfgFile, "", false)

	_, err := loadSessionConfig("")
	if err == nil {
		t.Fatal("expected error for unparseable config")
	}
	var ue *app.UserError
	if !errors.As(err, &ue) {
		t.Fatalf("error %T is not a UserError", err)
	}
	if ue.Resolution == "" {
		t.Error("config load failure carries no resolution")
	}
}

// setFlags installs persistent-flag values and restores the previous
// ones when the test finishes.
func setFlags(t *testing.T, cfg, ws string, debug bool) {
	t.Helper()
	prevCfg, prevWS, prevDebug := configPath, workspaceDir, debugMode
	configPath, workspaceDir, debugMode = cfg, ws, debug
	t.Cleanup(func() {
		configPath, workspaceDir, debugMode = prevCfg, prevWS, prevDebug
	})
}
