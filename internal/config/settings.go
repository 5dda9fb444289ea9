package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"time"

	"github.com/joeycumines/goja-blocked-at/internal/blockage"
)

// Option keys.
const (
	KeyInterval      = "interval"
	KeyThreshold     = "threshold"
	KeyMaxFrames     = "max-frames"
	KeyMaxStackBytes = "max-stack-bytes"
	KeyFormat        = "format"
	KeyFilter        = "filter"
	KeyOutput        = "output"
	KeyLogFile       = "log.file"
	KeyLogLevel      = "log.level"
	KeyLogMaxSizeMB  = "log.max-size-mb"
	KeyLogMaxFiles   = "log.max-files"

	KeyAutoStart        = "auto-start"
	KeyTimeout          = "timeout"
	KeyWASI             = "wasi"
	KeyMemoryLimitPages = "memory-limit-pages"
)

// ErrInvalidValue is returned for option values that parse but are out of range.
var ErrInvalidValue = errors.New("invalid option value")

// Formats lists the accepted values of the format option.
var Formats = []string{"text", "json", "cbor"}

// Settings are the resolved options for a command.
type Settings struct {
	Interval      time.Duration
	Threshold     time.Duration
	MaxFrames     int
	MaxStackBytes int
	Format        string
	Filter        string
	Output        string
	LogFile       string
	LogLevel      slog.Level
	LogMaxSizeMB  int
	LogMaxFiles   int

	// [run]
	AutoStart bool
	Timeout   time.Duration

	// [wasm]
	WASI             bool
	MemoryLimitPages uint32
}

// Settings resolves and validates every global option for command.
func (s *ConfigSchema) Settings(c *Config, command string) (Settings, error) {
	return s.SettingsWithOverrides(c, command, nil)
}

// SettingsWithOverrides is Settings where values in overrides, usually
// command line flags, take precedence over everything else.
func (s *ConfigSchema) SettingsWithOverrides(c *Config, command string, overrides map[string]string) (Settings, error) {
	var (
		out  Settings
		errs []error
	)
	resolve := func(key string) string {
		if v, ok := overrides[key]; ok {
			return v
		}
		return s.ResolveCommand(c, command, key)
	}
	positiveDuration := func(key string) time.Duration {
		d, err := time.ParseDuration(resolve(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return 0
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: %w: must be positive, got %v", key, ErrInvalidValue, d))
		}
		return d
	}
	positiveInt := func(key string) int {
		n, err := strconv.Atoi(resolve(key))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			return 0
		}
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s: %w: must be positive, got %d", key, ErrInvalidValue, n))
		}
		return n
	}

	out.Interval = positiveDuration(KeyInterval)
	out.Threshold = positiveDuration(KeyThreshold)
	out.MaxFrames = positiveInt(KeyMaxFrames)
	out.MaxStackBytes = positiveInt(KeyMaxStackBytes)

	out.Format = resolve(KeyFormat)
	if !slices.Contains(Formats, out.Format) {
		errs = append(errs, fmt.Errorf("%s: %w: %q is not one of %v", KeyFormat, ErrInvalidValue, out.Format, Formats))
	}
	out.Filter = resolve(KeyFilter)
	out.Output = resolve(KeyOutput)
	out.LogFile = resolve(KeyLogFile)
	out.LogMaxSizeMB = positiveInt(KeyLogMaxSizeMB)
	if n, err := strconv.Atoi(resolve(KeyLogMaxFiles)); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyLogMaxFiles, err))
	} else if n < 0 {
		errs = append(errs, fmt.Errorf("%s: %w: must not be negative, got %d", KeyLogMaxFiles, ErrInvalidValue, n))
	} else {
		out.LogMaxFiles = n
	}
	if err := out.LogLevel.UnmarshalText([]byte(resolve(KeyLogLevel))); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", KeyLogLevel, err))
	}

	// Section options are only known to their command; empty means unset.
	sectionValue := func(key string, parse func(string) error) {
		v := resolve(key)
		if v == "" {
			return
		}
		if err := parse(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	sectionValue(KeyAutoStart, func(v string) (err error) {
		out.AutoStart, err = parseBool(v)
		return err
	})
	sectionValue(KeyTimeout, func(v string) (err error) {
		out.Timeout, err = time.ParseDuration(v)
		return err
	})
	sectionValue(KeyWASI, func(v string) (err error) {
		out.WASI, err = parseBool(v)
		return err
	})
	sectionValue(KeyMemoryLimitPages, func(v string) error {
		n, err := strconv.ParseUint(v, 10, 32)
		out.MemoryLimitPages = uint32(n)
		return err
	})

	return out, errors.Join(errs...)
}

// WatchdogOptions returns the blockage options implied by the settings.
func (st Settings) WatchdogOptions() []blockage.Option {
	return []blockage.Option{
		blockage.WithMaxFrames(st.MaxFrames),
		blockage.WithMaxStackBytes(st.MaxStackBytes),
	}
}
