package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/joeycumines/goja-blocked-at/internal/blockage"
	"github.com/joeycumines/goja-blocked-at/internal/config"
	"github.com/joeycumines/goja-blocked-at/internal/scripting"
	"github.com/joeycumines/goja-blocked-at/internal/wasm"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
)

// WasmCommand calls an exported function of a WebAssembly module under the
// watchdog.
//
// The call runs as a job on an event loop that also schedules the
// heartbeat, so a blocking call is reported once it returns, exactly like a
// blocking script. Guests may also import blocked_at.heartbeat to report
// from inside long running calls.
type WasmCommand struct {
	*BaseCommand
	config     *config.Config
	flags      settingFlags
	ctxFactory contextFactory
}

// NewWasmCommand creates a new wasm command.
func NewWasmCommand(cfg *config.Config) *WasmCommand {
	return &WasmCommand{
		BaseCommand: NewBaseCommand(
			"wasm",
			"Call a WebAssembly export and report blockages",
			"wasm [options] <module.wasm> <export> [i32 args...]",
		),
		config: cfg,
		flags:  settingFlags{},
	}
}

// SetupFlags configures the flags for the wasm command.
func (c *WasmCommand) SetupFlags(fs *flag.FlagSet) {
	c.flags = settingFlags{}
	setupWatchFlags(fs, c.flags)
	c.flags.boolFlag(fs, "wasi", config.KeyWASI, "Provide WASI preview 1 to the module")
	c.flags.stringFlag(fs, config.KeyMemoryLimitPages, "Memory limit per instance in 64KiB pages")
}

// Execute instantiates the module and calls the export.
func (c *WasmCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) < 2 {
		return usageError(stderr, "expected <module.wasm> <export>")
	}
	modulePath, export := args[0], args[1]
	params, err := parseI32Params(args[2:])
	if err != nil {
		return usageError(stderr, "%v", err)
	}
	wasmBytes, err := os.ReadFile(modulePath)
	if err != nil {
		return fmt.Errorf("failed to read module: %w", err)
	}

	st, err := resolveSettings(c.config, c.Name(), c.flags)
	if err != nil {
		return err
	}
	p, err := newPipeline(st, modulePath, stdout, stderr)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := commandContext(c.ctxFactory, st.Timeout)
	defer cancel()

	engine, err := wasm.NewEngine(ctx,
		wasm.WithLogger(p.logger),
		wasm.WithMemoryLimitPages(st.MemoryLimitPages),
		wasm.WithStdio(stderr, stderr))
	if err != nil {
		return err
	}
	defer engine.Close(context.Background())

	if st.WASI {
		if err := engine.InitWASI(ctx); err != nil {
			return err
		}
	}

	w := blockage.New(engine, append(st.WatchdogOptions(), blockage.WithLogger(p.logger))...)
	defer w.Close()

	if _, err := engine.InstantiateHost(ctx, w); err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(modulePath), filepath.Ext(modulePath))
	mod, err := engine.Instantiate(ctx, name, wasmBytes)
	if err != nil {
		return err
	}

	loop, err := scripting.NewRuntime(ctx, scripting.WithLogger(p.logger), scripting.WithSyncTimeout(0))
	if err != nil {
		return fmt.Errorf("failed to create event loop: %w", err)
	}
	defer loop.Close()
	loop.AddCleanupHook(w.Close)

	if err := w.Start(p.dispatcher.Observe, st.Interval, st.Threshold); err != nil {
		return fmt.Errorf("failed to start watchdog: %w", err)
	}
	loop.SetInterval(func(*goja.Runtime) { w.Heartbeat() }, st.Interval)

	var results []uint64
	callErr := loop.RunOnLoopSync(func(*goja.Runtime) error {
		var err error
		results, err = engine.Call(ctx, mod, export, params...)
		return err
	})

	// A stack captured just before the call returned is delivered by one
	// of the next heartbeats.
	if ctx.Err() == nil {
		select {
		case <-time.After(max(2*st.Interval, 50*time.Millisecond)):
		case <-ctx.Done():
		}
	}
	_ = loop.Close()
	p.finish()

	if callErr != nil {
		var exitErr *sys.ExitError
		switch {
		case ctx.Err() != nil:
			// wazero reports this as an exit too
			return fmt.Errorf("call %s aborted: %w", export, ctx.Err())
		case errors.As(callErr, &exitErr):
			if exitErr.ExitCode() == 0 {
				return nil
			}
			return &ExitError{Code: int(exitErr.ExitCode())}
		default:
			return fmt.Errorf("call %s: %w", export, callErr)
		}
	}

	p.logger.Info("call returned", slog.String("export", export), slog.Any("results", decodeI32Results(results)))
	return nil
}

func parseI32Params(args []string) ([]uint64, error) {
	params := make([]uint64, 0, len(args))
	for _, arg := range args {
		n, err := strconv.ParseInt(arg, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid i32 argument %q", arg)
		}
		params = append(params, api.EncodeI32(int32(n)))
	}
	return params, nil
}

func decodeI32Results(results []uint64) []int32 {
	out := make([]int32, len(results))
	for i, r := range results {
		out[i] = api.DecodeI32(r)
	}
	return out
}
