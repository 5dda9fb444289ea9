package command

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/joeycumines/goja-blocked-at/internal/config"
)

// HelpCommand displays help information for commands.
type HelpCommand struct {
	*BaseCommand
	registry *Registry
}

// NewHelpCommand creates a new help command.
func NewHelpCommand(registry *Registry) *HelpCommand {
	return &HelpCommand{
		BaseCommand: NewBaseCommand(
			"help",
			"Display help information for commands",
			"help [command]",
		),
		registry: registry,
	}
}

// Execute displays help information.
func (c *HelpCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprintln(stdout, "blocked-at - report where a script blocked its event loop")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Usage: blocked-at <command> [options] [args...]")
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Available commands:")

		w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
		for _, name := range c.registry.List() {
			if cmd, err := c.registry.Get(name); err == nil {
				_, _ = fmt.Fprintf(w, "  %s\t%s\n", name, cmd.Description())
			}
		}
		_ = w.Flush()

		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Use 'blocked-at help <command>' for more information about a specific command (includes flags).")
		return nil
	}

	cmdName := args[0]
	cmd, err := c.registry.Get(cmdName)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", cmdName)
		return err
	}

	_, _ = fmt.Fprintf(stdout, "Command: %s\n", cmd.Name())
	_, _ = fmt.Fprintf(stdout, "Description: %s\n", cmd.Description())
	_, _ = fmt.Fprintf(stdout, "Usage: blocked-at %s\n", cmd.Usage())

	// SetupFlags on a throwaway FlagSet lists the command's flags.
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	buf := &bytes.Buffer{}
	fs.SetOutput(buf)
	cmd.SetupFlags(fs)
	fs.PrintDefaults()
	if buf.Len() > 0 {
		_, _ = fmt.Fprintln(stdout, "")
		_, _ = fmt.Fprintln(stdout, "Flags:")
		_, _ = fmt.Fprint(stdout, buf.String())
	}
	return nil
}

// VersionCommand displays version information.
type VersionCommand struct {
	*BaseCommand
	version string
}

// NewVersionCommand creates a new version command.
func NewVersionCommand(version string) *VersionCommand {
	return &VersionCommand{
		BaseCommand: NewBaseCommand(
			"version",
			"Display version information",
			"version",
		),
		version: version,
	}
}

// Execute displays version information.
func (c *VersionCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 0 {
		return usageError(stderr, "unexpected arguments: %v", args)
	}
	_, _ = fmt.Fprintf(stdout, "blocked-at version %s\n", c.version)
	return nil
}

// ConfigCommand inspects and edits the configuration file.
type ConfigCommand struct {
	*BaseCommand
	config     *config.Config
	configPath string
	showGlobal bool
	showAll    bool
}

// NewConfigCommand creates a new config command. If configPath is empty,
// the path is resolved with config.GetConfigPath when a value is set.
func NewConfigCommand(cfg *config.Config, configPath string) *ConfigCommand {
	return &ConfigCommand{
		BaseCommand: NewBaseCommand(
			"config",
			"Show effective settings and manage the configuration file",
			"config [options] [key [value] | validate | schema | effective [command]]",
		),
		config:     cfg,
		configPath: configPath,
	}
}

// SetupFlags configures the flags for the config command.
func (c *ConfigCommand) SetupFlags(fs *flag.FlagSet) {
	fs.BoolVar(&c.showGlobal, "global", false, "Show only global configuration")
	fs.BoolVar(&c.showAll, "all", false, "Show all configuration (global and command-specific)")
}

// Execute manages configuration.
func (c *ConfigCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		switch {
		case c.showAll:
			c.printOptions(stdout, "Global configuration:", "  ", c.config.Global)
			_, _ = fmt.Fprintln(stdout, "\nCommand-specific configuration:")
			for _, cmd := range slices.Sorted(maps.Keys(c.config.Commands)) {
				_, _ = fmt.Fprintf(stdout, "  [%s]\n", cmd)
				c.printOptions(stdout, "", "    ", c.config.Commands[cmd])
			}
		case c.showGlobal:
			c.printOptions(stdout, "Global configuration:", "  ", c.config.Global)
		default:
			_, _ = fmt.Fprintln(stdout, "Configuration management:")
			_, _ = fmt.Fprintln(stdout, "  config <key>              - Get configuration value")
			_, _ = fmt.Fprintln(stdout, "  config <key> <value>      - Set configuration value")
			_, _ = fmt.Fprintln(stdout, "  config --global           - Show global configuration")
			_, _ = fmt.Fprintln(stdout, "  config --all              - Show all configuration")
			_, _ = fmt.Fprintln(stdout, "  config effective [cmd]    - Show resolved settings")
			_, _ = fmt.Fprintln(stdout, "  config validate           - Validate configuration")
			_, _ = fmt.Fprintln(stdout, "  config schema             - Show configuration schema")
		}
		return nil
	}

	switch args[0] {
	case "validate":
		return c.executeValidate(stdout)
	case "schema":
		_, _ = fmt.Fprint(stdout, config.DefaultSchema().FormatHelp())
		return nil
	case "effective":
		return c.executeEffective(args[1:], stdout, stderr)
	}

	switch len(args) {
	case 1:
		// env, then config, then default
		key := args[0]
		if !config.DefaultSchema().IsKnown("", key) {
			if _, exists := c.config.GetGlobalOption(key); !exists {
				_, _ = fmt.Fprintf(stdout, "Configuration key '%s' not found\n", key)
				return nil
			}
		}
		_, _ = fmt.Fprintf(stdout, "%s: %s\n", key, config.DefaultSchema().Resolve(c.config, key))
		return nil

	case 2:
		key, value := args[0], args[1]
		c.config.SetGlobalOption(key, value)

		configPath := c.configPath
		if configPath == "" {
			configPath, _ = config.GetConfigPath()
		}
		if configPath != "" {
			if err := config.SetKeyInFile(configPath, key, value); err != nil {
				_, _ = fmt.Fprintf(stderr, "Warning: failed to persist config to disk: %v\n", err)
			}
		}
		_, _ = fmt.Fprintf(stdout, "Set configuration: %s = %s\n", key, value)
		return nil
	}

	return usageError(stderr, "invalid number of arguments")
}

func (c *ConfigCommand) printOptions(w io.Writer, header, indent string, options map[string]string) {
	if header != "" {
		_, _ = fmt.Fprintln(w, header)
	}
	for _, key := range slices.Sorted(maps.Keys(options)) {
		_, _ = fmt.Fprintf(w, "%s%s: %s\n", indent, key, options[key])
	}
}

// executeValidate validates the current config against the schema.
func (c *ConfigCommand) executeValidate(stdout io.Writer) error {
	issues := config.ValidateConfig(c.config, config.DefaultSchema())
	if len(issues) == 0 {
		_, _ = fmt.Fprintln(stdout, "Configuration is valid.")
		return nil
	}
	_, _ = fmt.Fprintf(stdout, "Configuration has %d issue(s):\n", len(issues))
	for _, issue := range issues {
		_, _ = fmt.Fprintf(stdout, "  - %s\n", issue)
	}
	return nil
}

// executeEffective prints every option as the named command would see it.
func (c *ConfigCommand) executeEffective(args []string, stdout, stderr io.Writer) error {
	if len(args) > 1 {
		return usageError(stderr, "unexpected arguments: %v", args[1:])
	}
	command := "run"
	if len(args) == 1 {
		command = args[0]
	}

	schema := config.DefaultSchema()
	if _, err := schema.Settings(c.config, command); err != nil {
		_, _ = fmt.Fprintf(stderr, "Warning: %v\n", err)
	}

	w := tabwriter.NewWriter(stdout, 0, 8, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Effective settings for %s:\n", command)
	for _, opt := range slices.Concat(schema.GlobalOptions(), schema.SectionOptions(command)) {
		_, _ = fmt.Fprintf(w, "  %s\t%s\n", opt.Key, schema.ResolveCommand(c.config, command, opt.Key))
	}
	return w.Flush()
}
