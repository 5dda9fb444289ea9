package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OptionType is the type an option's string value must parse as.
type OptionType string

const (
	TypeString   OptionType = "string"
	TypeBool     OptionType = "bool" // true/false, yes/no, on/off, 1/0
	TypeInt      OptionType = "int"
	TypeDuration OptionType = "duration" // time.ParseDuration syntax
)

// ConfigOption declares one option. Values are always stored as strings;
// Type is what ValidateConfig checks them against.
type ConfigOption struct {
	Key         string
	Type        OptionType
	Default     string // "" for none
	Description string
	Section     string // "" for global options
	EnvVar      string // overrides every other source when set
}

// ConfigSchema is the set of known options, global and per command
// section, in registration order.
type ConfigSchema struct {
	options []ConfigOption
	index   map[string]map[string]int // section, key -> options index
}

// NewSchema creates a new empty ConfigSchema.
func NewSchema() *ConfigSchema {
	return &ConfigSchema{index: make(map[string]map[string]int)}
}

// Register adds opt. Registering a key twice in a section replaces the
// earlier option in place.
func (s *ConfigSchema) Register(opt ConfigOption) {
	keys := s.index[opt.Section]
	if keys == nil {
		keys = make(map[string]int)
		s.index[opt.Section] = keys
	}
	if i, ok := keys[opt.Key]; ok {
		s.options[i] = opt
		return
	}
	keys[opt.Key] = len(s.options)
	s.options = append(s.options, opt)
}

// RegisterAll registers each of opts.
func (s *ConfigSchema) RegisterAll(opts []ConfigOption) {
	for _, opt := range opts {
		s.Register(opt)
	}
}

// Lookup returns the option registered for key in section ("" for global),
// or nil.
func (s *ConfigSchema) Lookup(section, key string) *ConfigOption {
	if i, ok := s.index[section][key]; ok {
		opt := s.options[i]
		return &opt
	}
	return nil
}

// IsKnown reports whether key may appear in section. Global keys are known
// in every section, where they shadow the global value.
func (s *ConfigSchema) IsKnown(section, key string) bool {
	if _, ok := s.index[section][key]; ok {
		return true
	}
	_, ok := s.index[""][key]
	return ok
}

// GlobalOptions returns the global options in registration order.
func (s *ConfigSchema) GlobalOptions() []ConfigOption {
	return s.SectionOptions("")
}

// SectionOptions returns the options of section in registration order.
func (s *ConfigSchema) SectionOptions(section string) []ConfigOption {
	var out []ConfigOption
	for _, o := range s.options {
		if o.Section == section {
			out = append(out, o)
		}
	}
	return out
}

// Sections returns the sorted names of the command sections.
func (s *ConfigSchema) Sections() []string {
	out := make([]string, 0, len(s.index))
	for sec := range s.index {
		if sec != "" {
			out = append(out, sec)
		}
	}
	sort.Strings(out)
	return out
}

// Resolve returns the value of the global option key: its environment
// variable, then the config file, then the default. Unknown keys that are
// not set resolve to "".
func (s *ConfigSchema) Resolve(c *Config, key string) string {
	opt := s.Lookup("", key)
	if v, ok := lookupEnv(opt); ok {
		return v
	}
	if v, ok := c.GetGlobalOption(key); ok {
		return v
	}
	if opt != nil {
		return opt.Default
	}
	return ""
}

// ResolveCommand is Resolve for an option read by command: the environment
// variable, then the [command] section, then the global value, then the
// section default, then the global default.
func (s *ConfigSchema) ResolveCommand(c *Config, command, key string) string {
	global := s.Lookup("", key)
	if v, ok := lookupEnv(global); ok {
		return v
	}
	if v, ok := c.GetCommandOption(command, key); ok {
		return v
	}
	if opt := s.Lookup(command, key); opt != nil {
		return opt.Default
	}
	if global != nil {
		return global.Default
	}
	return ""
}

func lookupEnv(opt *ConfigOption) (string, bool) {
	if opt == nil || opt.EnvVar == "" {
		return "", false
	}
	return os.LookupEnv(opt.EnvVar)
}

// ValidateConfig returns the sorted problems with c: unknown keys, and
// values that do not parse as their declared type. A valid config yields
// no issues.
func ValidateConfig(c *Config, s *ConfigSchema) []string {
	var issues []string

	for key, value := range c.Global {
		opt := s.Lookup("", key)
		if opt == nil {
			issues = append(issues, fmt.Sprintf("unknown global option: %q (value: %q)", key, value))
		} else if err := validateType(opt.Type, value); err != nil {
			issues = append(issues, fmt.Sprintf("global option %q: %v", key, err))
		}
	}

	for section, opts := range c.Commands {
		for key, value := range opts {
			opt := s.Lookup(section, key)
			if opt == nil {
				opt = s.Lookup("", key)
			}
			if opt == nil {
				issues = append(issues, fmt.Sprintf("unknown option for command %q: %q (value: %q)", section, key, value))
			} else if err := validateType(opt.Type, value); err != nil {
				issues = append(issues, fmt.Sprintf("option %q in [%s]: %v", key, section, err))
			}
		}
	}

	sort.Strings(issues)
	return issues
}

func validateType(t OptionType, value string) error {
	var err error
	switch t {
	case TypeString, "":
	case TypeBool:
		_, err = parseBool(value)
	case TypeInt:
		_, err = strconv.Atoi(value)
	case TypeDuration:
		_, err = time.ParseDuration(value)
	default:
		return fmt.Errorf("unknown option type %q", t)
	}
	if err != nil {
		return fmt.Errorf("expected %s, got %q", t, value)
	}
	return nil
}

// FormatHelp documents every option, global options first and then each
// section.
func (s *ConfigSchema) FormatHelp() string {
	var b strings.Builder
	if globals := s.GlobalOptions(); len(globals) > 0 {
		b.WriteString("Global Options:\n")
		for _, o := range globals {
			writeOptionHelp(&b, o)
		}
	}
	for _, sec := range s.Sections() {
		fmt.Fprintf(&b, "\n[%s] Options:\n", sec)
		for _, o := range s.SectionOptions(sec) {
			writeOptionHelp(&b, o)
		}
	}
	return b.String()
}

func writeOptionHelp(b *strings.Builder, o ConfigOption) {
	fmt.Fprintf(b, "  %-20s %s", o.Key, o.Description)
	var notes []string
	if o.Type != "" && o.Type != TypeString {
		notes = append(notes, "type: "+string(o.Type))
	}
	if o.Default != "" {
		notes = append(notes, "default: "+o.Default)
	}
	if o.EnvVar != "" {
		notes = append(notes, "env: "+o.EnvVar)
	}
	if len(notes) > 0 {
		fmt.Fprintf(b, " (%s)", strings.Join(notes, ", "))
	}
	b.WriteByte('\n')
}

// DefaultSchema declares every option blocked-at reads.
func DefaultSchema() *ConfigSchema {
	s := NewSchema()
	s.RegisterAll(defaultGlobalOptions())
	s.RegisterAll(defaultCommandOptions())
	return s
}

func defaultGlobalOptions() []ConfigOption {
	return []ConfigOption{
		// Watchdog options
		{Key: KeyInterval, Type: TypeDuration, Default: "50ms", Description: "Heartbeat interval", EnvVar: "BLOCKED_AT_INTERVAL"},
		{Key: KeyThreshold, Type: TypeDuration, Default: "100ms", Description: "Report blockages longer than this", EnvVar: "BLOCKED_AT_THRESHOLD"},
		{Key: KeyMaxFrames, Type: TypeInt, Default: "32", Description: "Frames captured per blockage"},
		{Key: KeyMaxStackBytes, Type: TypeInt, Default: "1048576", Description: "Stacks larger than this are reported as unavailable"},

		// Report options
		{Key: KeyFormat, Type: TypeString, Default: "text", Description: "Report format: text, json, cbor", EnvVar: "BLOCKED_AT_FORMAT"},
		{Key: KeyFilter, Type: TypeString, Default: "", Description: "Only report blockages matching this expression, e.g. blockage_ms > 200"},
		{Key: KeyOutput, Type: TypeString, Default: "", Description: "Report file, standard output when empty"},

		// Logging options
		{Key: KeyLogFile, Type: TypeString, Default: "", Description: "Log file path (JSON output)", EnvVar: "BLOCKED_AT_LOG_FILE"},
		{Key: KeyLogLevel, Type: TypeString, Default: "info", Description: "Log level: debug, info, warn, error", EnvVar: "BLOCKED_AT_LOG_LEVEL"},
		{Key: KeyLogMaxSizeMB, Type: TypeInt, Default: "10", Description: "Max log file size in MB before rotation"},
		{Key: KeyLogMaxFiles, Type: TypeInt, Default: "5", Description: "Max number of rotated log backup files"},
	}
}

func defaultCommandOptions() []ConfigOption {
	return []ConfigOption{
		// [run] section
		{Key: KeyAutoStart, Section: "run", Type: TypeBool, Default: "true", Description: "Start the watchdog before the script runs"},
		{Key: KeyTimeout, Section: "run", Type: TypeDuration, Default: "", Description: "Stop the script after this long"},

		// [wasm] section
		{Key: KeyTimeout, Section: "wasm", Type: TypeDuration, Default: "", Description: "Abort the call after this long"},
		{Key: KeyWASI, Section: "wasm", Type: TypeBool, Default: "false", Description: "Provide WASI preview 1 to the module"},
		{Key: KeyMemoryLimitPages, Section: "wasm", Type: TypeInt, Default: "0", Description: "Memory limit per instance in 64KiB pages, 0 for no limit"},
	}
}
