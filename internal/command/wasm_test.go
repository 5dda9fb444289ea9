package command

import (
	"strings"
	"testing"

	"github.com/joeycumines/goja-blocked-at/internal/config"
	"github.com/joeycumines/goja-blocked-at/internal/wasm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spin.wasm imports blocked_at.sleep and exports spin(n), which calls
// sleep(1) n times.
const spinModule = "../wasm/testdata/spin.wasm"

func TestWasmCommand_ReportsBlockage(t *testing.T) {
	t.Parallel()
	cmd := NewWasmCommand(config.NewConfig())
	cmd.ctxFactory = testContext

	stdout, stderr, err := executeCommand(t, cmd,
		"-interval=10ms", "-threshold=50ms", "-format=json", "-log-level=info",
		spinModule, "spin", "150")
	require.NoError(t, err, stderr.String())

	records := decodeJSONRecords(t, stdout.Bytes())
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, spinModule, rec.Source)
	assert.GreaterOrEqual(t, rec.BlockageMs, int64(100))
	require.NotNil(t, rec.Stack)
	lines := strings.Split(*rec.Stack, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "    at sleep (blocked_at:(unknown):(unknown))", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "    at spin <WASM> (spin:(unknown):"), lines[1])

	assert.Contains(t, stderr.String(), "call returned")
}

func TestWasmCommand_NoBlockage(t *testing.T) {
	t.Parallel()
	cmd := NewWasmCommand(config.NewConfig())
	cmd.ctxFactory = testContext

	stdout, stderr, err := executeCommand(t, cmd, "-format=json", "-log-level=error", "-wasi", spinModule, "spin", "0x2")
	require.NoError(t, err, stderr.String())
	assert.Empty(t, stdout.String())
}

func TestWasmCommand_Timeout(t *testing.T) {
	t.Parallel()
	cmd := NewWasmCommand(config.NewConfig())
	cmd.ctxFactory = testContext

	_, _, err := executeCommand(t, cmd, "-timeout=100ms", "-log-level=error", spinModule, "spin", "1000000")
	assert.ErrorContains(t, err, "call spin aborted")
}

func TestWasmCommand_Errors(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name string
		argv []string
		want string
	}{
		{"no arguments", nil, "expected <module.wasm> <export>"},
		{"no export", []string{spinModule}, "expected <module.wasm> <export>"},
		{"bad param", []string{spinModule, "spin", "ten"}, `invalid i32 argument "ten"`},
		{"param overflow", []string{spinModule, "spin", "4294967296"}, `invalid i32 argument`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, stderr, err := executeCommand(t, NewWasmCommand(config.NewConfig()), tc.argv...)
			assert.ErrorIs(t, err, ErrUsage)
			assert.Contains(t, stderr.String(), tc.want)
		})
	}

	t.Run("missing export", func(t *testing.T) {
		cmd := NewWasmCommand(config.NewConfig())
		cmd.ctxFactory = testContext
		_, _, err := executeCommand(t, cmd, "-log-level=error", spinModule, "nope")
		assert.ErrorIs(t, err, wasm.ErrExportNotFound)
	})

	t.Run("not a module", func(t *testing.T) {
		path := writeScript(t, "bad.wasm", "not wasm")
		cmd := NewWasmCommand(config.NewConfig())
		cmd.ctxFactory = testContext
		_, _, err := executeCommand(t, cmd, "-log-level=error", path, "spin")
		assert.ErrorContains(t, err, "compile bad")
	})
}
