package scripting

import (
	"context"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	requirepkg "github.com/stretchr/testify/require"
)

func waitSettled(t *testing.T, rt *Runtime, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return rt.WaitSettled(ctx)
}

func TestRuntime_WaitSettled(t *testing.T) {
	t.Parallel()

	t.Run("nothing scheduled", func(t *testing.T) {
		t.Parallel()
		rt := newTestRuntime(t)
		requirepkg.NoError(t, rt.LoadScript("sync.js", `var done = true;`))
		requirepkg.NoError(t, waitSettled(t, rt, time.Second))
	})

	t.Run("timers chain", func(t *testing.T) {
		t.Parallel()
		rt := newTestRuntime(t)
		requirepkg.NoError(t, rt.LoadScript("chain.js", `
var steps = [];
setTimeout((a, b) => {
  steps.push(a + b);
  setImmediate(() => {
    steps.push('immediate');
    setTimeout(() => steps.push('last'), 10);
  });
}, 20, 1, 2);
`))
		requirepkg.NoError(t, waitSettled(t, rt, 2*time.Second))
		steps, err := rt.GetGlobal("steps")
		requirepkg.NoError(t, err)
		assert.Equal(t, []any{int64(3), "immediate", "last"}, steps)
	})

	t.Run("cleared timers", func(t *testing.T) {
		t.Parallel()
		rt := newTestRuntime(t)
		requirepkg.NoError(t, rt.LoadScript("cleared.js", `
var fired = false;
const t = setTimeout(() => { fired = true; }, 10000);
const i = setInterval(() => {}, 5);
setTimeout(() => { clearTimeout(t); clearInterval(i); }, 30);
clearTimeout(undefined);
`))
		requirepkg.NoError(t, waitSettled(t, rt, 2*time.Second))
		fired, err := rt.GetGlobal("fired")
		requirepkg.NoError(t, err)
		assert.Equal(t, false, fired)
	})

	t.Run("interval keeps it busy", func(t *testing.T) {
		t.Parallel()
		rt := newTestRuntime(t)
		requirepkg.NoError(t, rt.LoadScript("interval.js", `setInterval(() => {}, 5);`))
		assert.ErrorIs(t, waitSettled(t, rt, 100*time.Millisecond), context.DeadlineExceeded)
	})

	t.Run("go intervals do not count", func(t *testing.T) {
		t.Parallel()
		rt := newTestRuntime(t)
		rt.SetInterval(func(*goja.Runtime) {}, 5*time.Millisecond)
		requirepkg.NoError(t, rt.LoadScript("short.js", `setTimeout(() => {}, 10);`))
		requirepkg.NoError(t, waitSettled(t, rt, time.Second))
	})

	t.Run("callback throws", func(t *testing.T) {
		t.Parallel()
		rt := newTestRuntime(t)
		requirepkg.NoError(t, rt.LoadScript("throws.js", `setTimeout(() => { throw new Error('boom'); }, 5);`))
		requirepkg.NoError(t, waitSettled(t, rt, time.Second))
		assert.True(t, rt.IsRunning())
	})

	t.Run("closed", func(t *testing.T) {
		t.Parallel()
		rt := newTestRuntime(t)
		requirepkg.NoError(t, rt.LoadScript("interval.js", `setInterval(() => {}, 5);`))
		go func() {
			time.Sleep(20 * time.Millisecond)
			_ = rt.Close()
		}()
		assert.ErrorIs(t, waitSettled(t, rt, 2*time.Second), ErrNotRunning)
		assert.ErrorIs(t, rt.WaitSettled(context.Background()), ErrNotRunning)
	})
}

func TestRuntime_TimerGlobalsKeepLoopSemantics(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	requirepkg.NoError(t, rt.LoadScript("globals.js", `
var notFn = setTimeout('not a function', 10);
var args = null;
setTimeout((x, y) => { args = [x, y]; }, 0, 'x', 2);
`))
	requirepkg.NoError(t, waitSettled(t, rt, time.Second))

	notFn, err := rt.GetGlobal("notFn")
	requirepkg.NoError(t, err)
	assert.Nil(t, notFn)
	args, err := rt.GetGlobal("args")
	requirepkg.NoError(t, err)
	assert.Equal(t, []any{"x", int64(2)}, args)
}
