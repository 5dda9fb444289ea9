package command

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/joeycumines/goja-blocked-at/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(NewHelpCommand(registry))
	registry.Register(NewVersionCommand("1.2.3"))
	registry.Register(NewConfigCommand(config.NewConfig(), ""))
	registry.Register(NewRunCommand(config.NewConfig()))
	registry.Register(NewWasmCommand(config.NewConfig()))
	registry.Register(NewDecodeCommand())
	registry.Register(NewCompletionCommand(registry))
	return registry
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	registry := newTestRegistry()

	assert.Equal(t, []string{"completion", "config", "decode", "help", "run", "version", "wasm"}, registry.List())

	cmd, err := registry.Get("run")
	require.NoError(t, err)
	assert.Equal(t, "run", cmd.Name())

	_, err = registry.Get("nope")
	assert.ErrorIs(t, err, ErrCommandNotFound)
}

func TestHelpCommand(t *testing.T) {
	t.Parallel()
	registry := newTestRegistry()
	cmd, err := registry.Get("help")
	require.NoError(t, err)

	t.Run("general help", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		require.NoError(t, cmd.Execute(nil, &stdout, &stderr))
		out := stdout.String()
		assert.Contains(t, out, "Usage: blocked-at <command>")
		assert.Regexp(t, `(?m)^  run\s+Run a JavaScript file`, out)
		assert.Regexp(t, `(?m)^  wasm\s+Call a WebAssembly export`, out)
	})

	t.Run("command help lists flags", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		require.NoError(t, cmd.Execute([]string{"run"}, &stdout, &stderr))
		out := stdout.String()
		assert.Contains(t, out, "Usage: blocked-at run [options] <script.js>")
		assert.Contains(t, out, "-threshold")
		assert.Contains(t, out, "-auto")
	})

	t.Run("unknown command", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		err := cmd.Execute([]string{"nope"}, &stdout, &stderr)
		assert.ErrorIs(t, err, ErrCommandNotFound)
		assert.Contains(t, stderr.String(), "Unknown command: nope")
	})
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()
	cmd := NewVersionCommand("1.2.3")

	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute(nil, &stdout, &stderr))
	assert.Equal(t, "blocked-at version 1.2.3\n", stdout.String())

	err := cmd.Execute([]string{"extra"}, &stdout, &stderr)
	assert.ErrorIs(t, err, ErrUsage)
}

func TestConfigCommand_GetAndSet(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n[run]\ntimeout 5s\n"), 0644))
	cfg, err := config.LoadFromPath(path)
	require.NoError(t, err)
	cmd := NewConfigCommand(cfg, path)

	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute([]string{config.KeyMaxFrames}, &stdout, &stderr))
	assert.Equal(t, "max-frames: 32\n", stdout.String())

	stdout.Reset()
	require.NoError(t, cmd.Execute([]string{config.KeyMaxFrames, "8"}, &stdout, &stderr))
	assert.Equal(t, "Set configuration: max-frames = 8\n", stdout.String())
	assert.Empty(t, stderr.String())

	stdout.Reset()
	require.NoError(t, cmd.Execute([]string{config.KeyMaxFrames}, &stdout, &stderr))
	assert.Equal(t, "max-frames: 8\n", stdout.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# comment\nmax-frames 8\n[run]\ntimeout 5s\n", string(data))

	stdout.Reset()
	require.NoError(t, cmd.Execute([]string{"unknown-key"}, &stdout, &stderr))
	assert.Equal(t, "Configuration key 'unknown-key' not found\n", stdout.String())

	assert.ErrorIs(t, cmd.Execute([]string{"a", "b", "c"}, &stdout, &stderr), ErrUsage)
}

func TestConfigCommand_Listing(t *testing.T) {
	t.Parallel()
	cfg := config.NewConfig()
	cfg.SetGlobalOption(config.KeyThreshold, "1s")
	cfg.SetGlobalOption(config.KeyFormat, "json")
	cfg.SetCommandOption("wasm", config.KeyWASI, "true")

	cmd := NewConfigCommand(cfg, "")
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	cmd.SetupFlags(fs)
	require.NoError(t, fs.Parse([]string{"-all"}))

	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute(fs.Args(), &stdout, &stderr))
	assert.Equal(t, `Global configuration:
  format: json
  threshold: 1s

Command-specific configuration:
  [wasm]
    wasi: true
`, stdout.String())
}

func TestConfigCommand_Validate(t *testing.T) {
	t.Parallel()
	cfg := config.NewConfig()
	cmd := NewConfigCommand(cfg, "")

	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute([]string{"validate"}, &stdout, &stderr))
	assert.Equal(t, "Configuration is valid.\n", stdout.String())

	cfg.SetGlobalOption("bogus", "1")
	cfg.SetGlobalOption(config.KeyMaxFrames, "lots")
	stdout.Reset()
	require.NoError(t, cmd.Execute([]string{"validate"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "Configuration has 2 issue(s):")
	assert.Contains(t, stdout.String(), "bogus")
	assert.Contains(t, stdout.String(), "max-frames")
}

func TestConfigCommand_SchemaAndEffective(t *testing.T) {
	t.Parallel()
	cfg := config.NewConfig()
	cfg.SetCommandOption("wasm", config.KeyMemoryLimitPages, "16")
	cmd := NewConfigCommand(cfg, "")

	var stdout, stderr bytes.Buffer
	require.NoError(t, cmd.Execute([]string{"schema"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "[wasm] Options:")

	stdout.Reset()
	require.NoError(t, cmd.Execute([]string{"effective", "wasm"}, &stdout, &stderr))
	out := stdout.String()
	assert.Contains(t, out, "Effective settings for wasm:")
	assert.Regexp(t, `(?m)^  memory-limit-pages\s+16$`, out)
	assert.Regexp(t, `(?m)^  max-frames\s+32$`, out)
	assert.NotContains(t, out, "auto-start")

	assert.ErrorIs(t, cmd.Execute([]string{"effective", "run", "wasm"}, &stdout, &stderr), ErrUsage)
}
