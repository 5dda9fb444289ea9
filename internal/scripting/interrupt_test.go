package scripting

import (
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/goja-blocked-at/internal/blockage"
	"github.com/joeycumines/goja-blocked-at/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const spinScript = `function spin(ms) {
  const start = Date.now();
  while (Date.now() - start < ms);
}
function outer() {
  spin(30);
}
outer();
`

func TestRuntime_InterruptAtClockRead(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	captured := make(chan []blockage.Frame, 1)
	onLoop := make(chan bool, 1)
	rt.RequestInterrupt(func() {
		onLoop <- rt.OnLoop()
		captured <- rt.CaptureStack(blockage.DefaultMaxFrames)
	})

	name := testutil.ScriptName(t.Name())
	require.NoError(t, rt.LoadScript(name, spinScript))

	var frames []blockage.Frame
	select {
	case frames = <-captured:
	case <-time.After(time.Second):
		t.Fatal("interrupt should run at the first clock read")
	}
	assert.True(t, <-onLoop)

	require.GreaterOrEqual(t, len(frames), 3)
	assert.Equal(t, "spin", frames[0].Function)
	assert.Equal(t, name, frames[0].Script)
	assert.Equal(t, 2, frames[0].Line)
	assert.Positive(t, frames[0].Column)
	assert.Equal(t, "outer", frames[1].Function)
	assert.Equal(t, 6, frames[1].Line)
	assert.Equal(t, 8, frames[2].Line)

	stack := blockage.FormatStack(frames)
	assert.Contains(t, stack, "    at spin ("+name+":2:")
	assert.Contains(t, stack, "    at outer ("+name+":6:")
}

func TestRuntime_CaptureStackEval(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	captured := make(chan []blockage.Frame, 1)
	rt.RequestInterrupt(func() {
		captured <- rt.CaptureStack(blockage.DefaultMaxFrames)
	})
	require.NoError(t, rt.LoadScript("evaluated.js", `
function spin(ms) {
  const start = Date.now();
  while (Date.now() - start < ms);
}
eval("spin(30)");
`))

	frames := <-captured
	require.NotEmpty(t, frames)
	assert.Equal(t, "spin", frames[0].Function)
	assert.False(t, frames[0].Eval)

	var eval *blockage.Frame
	for i := range frames {
		if frames[i].Eval {
			eval = &frames[i]
			break
		}
	}
	require.NotNil(t, eval, "%+v", frames)
	assert.Equal(t, 1, eval.Line)
	assert.Contains(t, blockage.FormatStack(frames), "([eval]:1:")
}

func TestRuntime_CaptureStackLimit(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	captured := make(chan []blockage.Frame, 1)
	rt.RequestInterrupt(func() {
		captured <- rt.CaptureStack(4)
	})
	require.NoError(t, rt.LoadScript("deep.js", `
function recurse(depth) {
  if (depth > 0) {
    return recurse(depth - 1);
  }
  return Date.now();
}
recurse(20);
`))

	frames := <-captured
	require.Len(t, frames, 4)
	for _, f := range frames {
		assert.Equal(t, "recurse", f.Function)
	}
}

func TestRuntime_SafePoint(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	ran := make(chan struct{}, 1)
	rt.RequestInterrupt(func() { ran <- struct{}{} })

	// off the loop nothing runs
	rt.SafePoint()
	select {
	case <-ran:
		t.Fatal("handler must only run on the loop goroutine")
	default:
	}

	// a Go host function can act as a safe point
	require.NoError(t, rt.SetGlobal("yieldToWatchdog", func() { rt.SafePoint() }))
	require.NoError(t, rt.LoadScript("host.js", `yieldToWatchdog();`))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("handler should run at an explicit safe point")
	}
}

func TestRuntime_InterruptPanicContained(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	rt.RequestInterrupt(func() { panic("handler failure") })
	after := make(chan struct{}, 1)
	rt.RequestInterrupt(func() { after <- struct{}{} })

	require.NoError(t, rt.LoadScript("clock.js", `var t = Date.now();`))
	select {
	case <-after:
	case <-time.After(time.Second):
		t.Fatal("later handlers should still run")
	}

	v, err := rt.GetGlobal("t")
	require.NoError(t, err)
	assert.Positive(t, v)
}

func TestRuntime_CaptureStackIdle(t *testing.T) {
	t.Parallel()
	rt := newTestRuntime(t)

	var frames []blockage.Frame
	require.NoError(t, rt.RunOnLoopSync(func(*goja.Runtime) error {
		frames = rt.CaptureStack(blockage.DefaultMaxFrames)
		return nil
	}))
	assert.Empty(t, frames)
	assert.Nil(t, rt.CaptureStack(0))
}
