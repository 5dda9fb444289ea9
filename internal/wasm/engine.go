// Package wasm adapts a wazero runtime to the blockage watchdog.
//
// wazero cannot interrupt a guest at an arbitrary instruction, so interrupt
// requests are served at function boundaries: every call into a guest or
// host function of a module compiled through the engine passes through a
// function listener, which runs pending handlers with the call stack of
// that moment available to CaptureStack.
//
// Guest code runs on whichever goroutine calls an exported function. That
// goroutine is the script goroutine, and heartbeats must come from it too,
// usually from a host function or from the event loop driving the calls.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/goja-blocked-at/internal/blockage"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// ErrExportNotFound is returned by Call for a missing exported function.
var ErrExportNotFound = errors.New("exported function not found")

var (
	_ blockage.Engine                      = (*Engine)(nil)
	_ experimental.FunctionListenerFactory = (*Engine)(nil)
	_ experimental.FunctionListener        = (*Engine)(nil)
)

// Engine owns a wazero runtime whose modules can be watched.
type Engine struct {
	runtime wazero.Runtime
	logger  *slog.Logger
	stdout  io.Writer
	stderr  io.Writer

	mu      sync.Mutex
	pending []func()
	hasWork atomic.Bool

	// Only touched on the script goroutine, while handlers run. frames
	// caches the walk so every handler sees the same stack. caller names
	// the module making the call, for guests without a name section.
	stack     experimental.StackIterator
	caller    string
	frames    []blockage.Frame
	exhausted bool

	wasiMu   sync.Mutex
	wasiDone atomic.Bool
}

// Option configures an Engine.
type Option func(*config)

type config struct {
	logger           *slog.Logger
	memoryLimitPages uint32
	stdout, stderr   io.Writer
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMemoryLimitPages limits memory per instance, in 64KiB pages.
func WithMemoryLimitPages(pages uint32) Option {
	return func(c *config) {
		c.memoryLimitPages = pages
	}
}

// WithStdio sets the output streams of guest modules. They are discarded
// by default.
func WithStdio(stdout, stderr io.Writer) Option {
	return func(c *config) {
		c.stdout, c.stderr = stdout, stderr
	}
}

// NewEngine creates an engine backed by the wazero interpreter. Guest calls
// are aborted when the context passed to them is done.
func NewEngine(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg := config{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}

	runtimeCfg := wazero.NewRuntimeConfigInterpreter().WithCloseOnContextDone(true)
	if cfg.memoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.memoryLimitPages)
	}

	return &Engine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		logger:  cfg.logger,
		stdout:  cfg.stdout,
		stderr:  cfg.stderr,
	}, nil
}

// Context returns ctx carrying the engine's function listener. Modules must
// be compiled, and host modules instantiated, with it to be watched.
func (e *Engine) Context(ctx context.Context) context.Context {
	return experimental.WithFunctionListenerFactory(ctx, e)
}

// HostModule starts building a host module. Instantiate the result with
// Context(ctx) so its functions act as safe points.
func (e *Engine) HostModule(name string) wazero.HostModuleBuilder {
	return e.runtime.NewHostModuleBuilder(name)
}

// InitWASI instantiates WASI preview 1, watched like any other host module.
// It is safe to call more than once.
func (e *Engine) InitWASI(ctx context.Context) error {
	if e.wasiDone.Load() {
		return nil
	}

	e.wasiMu.Lock()
	defer e.wasiMu.Unlock()

	if e.wasiDone.Load() {
		return nil
	}
	if _, err := wasi_snapshot_preview1.Instantiate(e.Context(ctx), e.runtime); err != nil {
		return fmt.Errorf("instantiate WASI: %w", err)
	}
	e.wasiDone.Store(true)
	return nil
}

// Instantiate compiles and instantiates a guest module under name. Its
// imports must already be instantiated. No start function is run, so a
// WASI command's _start must be called like any other export.
func (e *Engine) Instantiate(ctx context.Context, name string, wasmBytes []byte) (api.Module, error) {
	compiled, err := e.runtime.CompileModule(e.Context(ctx), wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", name, err)
	}
	modCfg := wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions()
	if e.stdout != nil {
		modCfg = modCfg.WithStdout(e.stdout)
	}
	if e.stderr != nil {
		modCfg = modCfg.WithStderr(e.stderr)
	}
	mod, err := e.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, fmt.Errorf("instantiate %s: %w", name, err)
	}
	e.logger.Debug("instantiated module", slog.String("module", name))
	return mod, nil
}

// Call invokes an exported function of mod on the calling goroutine.
func (e *Engine) Call(ctx context.Context, mod api.Module, export string, params ...uint64) ([]uint64, error) {
	fn := mod.ExportedFunction(export)
	if fn == nil {
		return nil, fmt.Errorf("%s.%s: %w", mod.Name(), export, ErrExportNotFound)
	}
	return fn.Call(ctx, params...)
}

// Close closes the runtime and every module in it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// RequestInterrupt queues handler for the next function call on the
// script goroutine. It may be called from any goroutine.
func (e *Engine) RequestInterrupt(handler func()) {
	e.mu.Lock()
	e.pending = append(e.pending, handler)
	e.hasWork.Store(true)
	e.mu.Unlock()
}

// CaptureStack returns the wasm call stack, innermost first. Outside an
// interrupt handler there is no stack to walk, and it returns nil.
func (e *Engine) CaptureStack(limit int) []blockage.Frame {
	if e.stack == nil || limit <= 0 {
		return nil
	}
	for len(e.frames) < limit && !e.exhausted {
		if !e.stack.Next() {
			e.exhausted = true
			break
		}
		e.frames = append(e.frames, e.convertFrame(e.stack))
	}
	return slices.Clone(e.frames[:min(limit, len(e.frames))])
}

func (e *Engine) convertFrame(si experimental.StackIterator) blockage.Frame {
	fn := si.Function()
	def := fn.Definition()

	name := def.Name()
	if name == "" {
		name = def.DebugName()
	}
	f := blockage.Frame{
		Function: name,
		Script:   def.ModuleName(),
	}
	if def.GoFunction() == nil {
		f.Compiled = true
		f.Column = int(fn.SourceOffsetForPC(si.ProgramCounter()))
		// The module name comes from the name section, which is optional.
		if f.Script == "" {
			f.Script = e.caller
		}
	}
	return f
}

// NewFunctionListener implements experimental.FunctionListenerFactory.
// The engine itself listens to every function.
func (e *Engine) NewFunctionListener(api.FunctionDefinition) experimental.FunctionListener {
	return e
}

// Before implements experimental.FunctionListener. It is the safe point.
func (e *Engine) Before(_ context.Context, mod api.Module, _ api.FunctionDefinition, _ []uint64, si experimental.StackIterator) {
	if !e.hasWork.Load() {
		return
	}

	e.mu.Lock()
	handlers := e.pending
	e.pending = nil
	e.hasWork.Store(false)
	e.mu.Unlock()

	e.stack, e.frames, e.exhausted = si, nil, false
	if mod != nil {
		e.caller = mod.Name()
	}
	defer func() { e.stack, e.frames, e.caller = nil, nil, "" }()
	for _, handler := range handlers {
		e.runInterrupt(handler)
	}
}

func (e *Engine) runInterrupt(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("interrupt handler panicked", slog.Any("panic", r))
		}
	}()
	handler()
}

// After implements experimental.FunctionListener.
func (e *Engine) After(context.Context, api.Module, api.FunctionDefinition, []uint64) {}

// Abort implements experimental.FunctionListener.
func (e *Engine) Abort(context.Context, api.Module, api.FunctionDefinition, error) {}
