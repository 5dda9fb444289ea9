package command

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/joeycumines/goja-blocked-at/internal/builtin/blockedat"
	"github.com/joeycumines/goja-blocked-at/internal/config"
	"github.com/joeycumines/goja-blocked-at/internal/scripting"
)

// RunCommand runs a JavaScript file on an event loop watched for blockages.
//
// With auto-start (the default) the watchdog is started before the script
// runs and reports go to the configured sink. Otherwise the script starts
// it itself with require('blocked-at').
//
// The watchdog heartbeat does not keep the script alive: the command ends
// once the script has no timers pending, when it calls exit([code]), when
// the timeout expires, or when the process is interrupted.
type RunCommand struct {
	*BaseCommand
	config     *config.Config
	flags      settingFlags
	ctxFactory contextFactory
}

// NewRunCommand creates a new run command.
func NewRunCommand(cfg *config.Config) *RunCommand {
	return &RunCommand{
		BaseCommand: NewBaseCommand(
			"run",
			"Run a JavaScript file and report event loop blockages",
			"run [options] <script.js> [script-args...]",
		),
		config: cfg,
		flags:  settingFlags{},
	}
}

// SetupFlags configures the flags for the run command.
func (c *RunCommand) SetupFlags(fs *flag.FlagSet) {
	c.flags = settingFlags{}
	setupWatchFlags(fs, c.flags)
	c.flags.boolFlag(fs, "auto", config.KeyAutoStart, "Start the watchdog before the script runs (-auto=false to leave it to the script)")
}

// Execute runs the script.
func (c *RunCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return usageError(stderr, "missing script file")
	}
	scriptPath := args[0]
	code, err := os.ReadFile(scriptPath)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}

	st, err := resolveSettings(c.config, c.Name(), c.flags)
	if err != nil {
		return err
	}
	p, err := newPipeline(st, scriptPath, stdout, stderr)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := commandContext(c.ctxFactory, st.Timeout)
	defer cancel()

	// Scripts may block for as long as they like.
	rt, err := scripting.NewRuntime(ctx, scripting.WithLogger(p.logger), scripting.WithSyncTimeout(0))
	if err != nil {
		return fmt.Errorf("failed to create runtime: %w", err)
	}
	defer rt.Close()

	m := blockedat.Register(rt, st.WatchdogOptions()...)

	var exitCode atomic.Int64
	if err := rt.SetGlobal("args", args[1:]); err != nil {
		return err
	}
	if err := rt.SetGlobal("exit", func(call goja.FunctionCall) goja.Value {
		exitCode.Store(call.Argument(0).ToInteger())
		cancel()
		return goja.Undefined()
	}); err != nil {
		return err
	}

	if st.AutoStart {
		if err := m.Start(p.dispatcher.Observe, st.Interval, st.Threshold); err != nil {
			return fmt.Errorf("failed to start watchdog: %w", err)
		}
	}

	p.logger.Debug("running script", slog.String("script", scriptPath))
	if err := rt.LoadScript(filepath.Base(scriptPath), string(code)); err != nil && ctx.Err() == nil {
		return fmt.Errorf("script failed: %w", err)
	}

	if err := rt.WaitSettled(ctx); err == nil {
		p.logger.Debug("script settled")
		if err := m.Flush(); err != nil && ctx.Err() == nil {
			p.logger.Warn("final heartbeat failed", slog.Any("error", err))
		}
	}
	// Close retires the watchdog, so no report races the summary.
	_ = rt.Close()
	p.finish()

	if code := exitCode.Load(); code != 0 {
		return &ExitError{Code: int(code)}
	}
	return nil
}
