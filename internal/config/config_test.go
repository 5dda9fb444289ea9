package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigParsing(t *testing.T) {
	configContent := `# Global options
interval 20ms
threshold 80ms

[run]
format json
filter blockage_ms > 200

[wasm]
wasi true`

	config, err := LoadFromReader(strings.NewReader(configContent))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if config.HasWarnings() {
		t.Errorf("Expected no warnings, got %v", config.Warnings)
	}

	if value, ok := config.GetGlobalOption("interval"); !ok || value != "20ms" {
		t.Errorf("Expected interval=20ms, got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetCommandOption("run", "format"); !ok || value != "json" {
		t.Errorf("Expected run.format=json, got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetCommandOption("run", "filter"); !ok || value != "blockage_ms > 200" {
		t.Errorf("Expected the whole remaining line as the value, got %q", value)
	}

	// fallback to global options
	if value, ok := config.GetCommandOption("wasm", "threshold"); !ok || value != "80ms" {
		t.Errorf("Expected wasm.threshold=80ms (fallback), got %s (exists: %v)", value, ok)
	}
	if value, ok := config.GetCommandOption("nonexistent", "option"); ok {
		t.Errorf("Expected nonexistent option to not exist, but got %s", value)
	}
}

func TestEmptyConfig(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader("\n# only a comment\n"))
	if err != nil {
		t.Fatalf("Failed to load empty config: %v", err)
	}
	if len(config.Global) != 0 || len(config.Commands) != 0 {
		t.Errorf("Expected empty config, got %+v", config)
	}
}

func TestConfigWarnings(t *testing.T) {
	config, err := LoadFromReader(strings.NewReader("colour auto\ninterval soon\n[run]\nauto-start maybe\n"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if len(config.Warnings) != 3 {
		t.Fatalf("Expected 3 warnings, got %v", config.Warnings)
	}
	joined := strings.Join(config.Warnings, "\n")
	for _, want := range []string{`unknown global option: "colour"`, `global option "interval": expected duration`, `option "auto-start" in [run]: expected bool`} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected warning containing %q, got %v", want, config.Warnings)
		}
	}
}

func TestSetGlobalAndCommandOptions(t *testing.T) {
	cfg := NewConfig()

	cfg.SetGlobalOption("format", "text")
	if got, ok := cfg.GetGlobalOption("format"); !ok || got != "text" {
		t.Fatalf("expected global option format=text, got %q exists=%v", got, ok)
	}

	cfg.SetCommandOption("run", "format", "json")
	if got, ok := cfg.GetCommandOption("run", "format"); !ok || got != "json" {
		t.Fatalf("expected command option to shadow global, got %q exists=%v", got, ok)
	}
}

func TestLoadFromPathMissing(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "missing-config"))
	if err != nil {
		t.Fatalf("expected no error loading missing config, got %v", err)
	}
	if len(cfg.Global) != 0 || len(cfg.Commands) != 0 {
		t.Fatalf("expected empty config for missing file, got %+v", cfg)
	}
}

func TestLoadFromPathRejectsSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	if err := os.WriteFile(target, []byte("interval 10ms"), 0600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "config")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if _, err := LoadFromPath(link); err == nil || !strings.Contains(err.Error(), "symlink not allowed") {
		t.Fatalf("expected symlink rejection, got %v", err)
	}
}

func TestLoadUsesConfigPathEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte("format cbor"), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv(EnvConfigPath, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected load success, got %v", err)
	}
	if got, ok := cfg.GetGlobalOption("format"); !ok || got != "cbor" {
		t.Fatalf("expected format option from env-config, got %q exists=%v", got, ok)
	}
}
