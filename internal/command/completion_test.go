package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionCommand(t *testing.T) {
	t.Parallel()
	registry := newTestRegistry()
	cmd, err := registry.Get("completion")
	require.NoError(t, err)

	t.Run("bash is the default", func(t *testing.T) {
		stdout, _, err := executeCommand(t, cmd)
		require.NoError(t, err)
		out := stdout.String()
		assert.Contains(t, out, `compgen -W "completion config decode help run version wasm"`)
		assert.Contains(t, out, `compgen -W "bash zsh fish"`)
		assert.Contains(t, out, "complete -F _blocked_at_completion blocked-at")
		assert.NotContains(t, out, "%!")
	})

	t.Run("zsh", func(t *testing.T) {
		stdout, _, err := executeCommand(t, cmd, "zsh")
		require.NoError(t, err)
		out := stdout.String()
		assert.Contains(t, out, "#compdef blocked-at")
		assert.Contains(t, out, "'run:Run a JavaScript file and report event loop blockages'")
		assert.Contains(t, out, "_values 'shell' 'bash' 'zsh' 'fish'")
	})

	t.Run("fish", func(t *testing.T) {
		stdout, _, err := executeCommand(t, cmd, "FISH")
		require.NoError(t, err)
		assert.Contains(t, stdout.String(), "complete -c blocked-at -n '__fish_use_subcommand' -a 'wasm' -d 'Call a WebAssembly export and report blockages'")
	})

	t.Run("unsupported", func(t *testing.T) {
		_, stderr, err := executeCommand(t, cmd, "powershell")
		assert.ErrorIs(t, err, ErrUsage)
		assert.Contains(t, stderr.String(), "unsupported shell")

		_, _, err = executeCommand(t, cmd, "bash", "zsh")
		assert.ErrorIs(t, err, ErrUsage)
	})
}

func TestShellEscaping(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `it'\''s\: here`, zshEscape("it's: here"))
	assert.Equal(t, `it\'s`, fishEscape("it's"))
}
