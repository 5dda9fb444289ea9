package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/goja-blocked-at/internal/config"
	"github.com/joeycumines/goja-blocked-at/internal/report"
)

// settingFlags collects command line overrides of config options, keyed by
// option name. Only flags actually given are present.
type settingFlags map[string]string

func (f settingFlags) stringFlag(fs *flag.FlagSet, key, usage string) {
	fs.Func(key, usage, func(v string) error {
		f[key] = v
		return nil
	})
}

func (f settingFlags) boolFlag(fs *flag.FlagSet, name, key, usage string) {
	fs.BoolFunc(name, usage, func(v string) error {
		f[key] = v
		return nil
	})
}

// setupWatchFlags defines the flags shared by commands that run a watchdog.
func setupWatchFlags(fs *flag.FlagSet, f settingFlags) {
	f.stringFlag(fs, config.KeyInterval, "Heartbeat interval (e.g. 50ms)")
	f.stringFlag(fs, config.KeyThreshold, "Report blockages longer than this (e.g. 100ms)")
	f.stringFlag(fs, config.KeyMaxFrames, "Frames captured per blockage")
	f.stringFlag(fs, config.KeyMaxStackBytes, "Stacks larger than this are reported as unavailable")
	f.stringFlag(fs, config.KeyFormat, "Report format: text, json, cbor")
	f.stringFlag(fs, config.KeyFilter, "Only report blockages matching this expression")
	f.stringFlag(fs, config.KeyOutput, "Write reports to this file instead of standard output")
	f.stringFlag(fs, config.KeyTimeout, "Stop after this long")
	f.stringFlag(fs, "log-file", "Path to log file (JSON output)")
	f.stringFlag(fs, "log-level", "Log level (debug, info, warn, error)")
}

// resolveSettings merges flags over the config for command.
func resolveSettings(cfg *config.Config, command string, f settingFlags) (config.Settings, error) {
	overrides := make(map[string]string, len(f))
	for k, v := range f {
		switch k {
		case "log-file":
			k = config.KeyLogFile
		case "log-level":
			k = config.KeyLogLevel
		}
		overrides[k] = v
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}
	st, err := config.DefaultSchema().SettingsWithOverrides(cfg, command, overrides)
	if err != nil {
		return st, fmt.Errorf("invalid settings: %w", err)
	}
	return st, nil
}

// pipeline turns watchdog reports into records on the configured output.
type pipeline struct {
	logger     *slog.Logger
	dispatcher *report.Dispatcher
	closers    []func() error
}

func newPipeline(st config.Settings, source string, stdout, stderr io.Writer) (_ *pipeline, err error) {
	p := &pipeline{}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	logger, closeLog, err := newLogger(st, stderr)
	if err != nil {
		return nil, err
	}
	p.logger = logger
	p.closers = append(p.closers, closeLog)

	out := stdout
	if st.Output != "" {
		f, err := os.OpenFile(st.Output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open output %s: %w", st.Output, err)
		}
		p.closers = append(p.closers, f.Close)
		out = f
	}

	sink, err := report.NewSink(report.Format(st.Format), out)
	if err != nil {
		return nil, err
	}
	opts := []report.DispatcherOption{
		report.WithSink(sink),
		report.WithLogger(logger),
	}
	if st.Filter != "" {
		filter, err := report.NewFilter(st.Filter)
		if err != nil {
			return nil, err
		}
		opts = append(opts, report.WithFilter(filter))
	}
	p.dispatcher = report.NewDispatcher(source, opts...)
	return p, nil
}

// finish logs the run summary.
func (p *pipeline) finish() {
	p.logger.Info("finished",
		slog.String("run", p.dispatcher.RunID()),
		slog.Int64("reported", p.dispatcher.Written()),
		slog.Int64("filtered", p.dispatcher.Dropped()))
}

// Close releases the output and log files.
func (p *pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	p.closers = nil
	return errors.Join(errs...)
}

// contextFactory creates the execution context of a command.
type contextFactory func() (context.Context, context.CancelFunc)

// commandContext returns the execution context: cancelled on SIGINT or
// SIGTERM unless factory is set, and bounded by timeout if positive.
func commandContext(factory contextFactory, timeout time.Duration) (context.Context, context.CancelFunc) {
	var ctx context.Context
	var cancel context.CancelFunc
	if factory != nil {
		ctx, cancel = factory()
	} else {
		ctx, cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	}
	if timeout <= 0 {
		return ctx, cancel
	}
	timeoutCtx, timeoutCancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx, func() {
		timeoutCancel()
		cancel()
	}
}
