// Package command implements the blocked-at subcommands.
package command

import (
	"errors"
	"flag"
	"fmt"
	"io"
)

// ErrUsage is returned when a command is invoked with invalid arguments.
var ErrUsage = errors.New("invalid usage")

// ExitError carries a non-zero exit status requested by the monitored
// program, e.g. a script calling exit(2).
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Command represents a command that can be executed.
type Command interface {
	// Name returns the command name.
	Name() string

	// Description returns a short description of the command.
	Description() string

	// Usage returns the usage string for the command.
	Usage() string

	// SetupFlags configures the flag.FlagSet for this command.
	// The FlagSet will be used to parse command-specific arguments.
	SetupFlags(fs *flag.FlagSet)

	// Execute runs the command with the positional arguments left after
	// flag parsing.
	Execute(args []string, stdout, stderr io.Writer) error
}

// BaseCommand provides the descriptive half of Command.
type BaseCommand struct {
	name        string
	description string
	usage       string
}

// NewBaseCommand creates a new BaseCommand.
func NewBaseCommand(name, description, usage string) *BaseCommand {
	return &BaseCommand{
		name:        name,
		description: description,
		usage:       usage,
	}
}

// Name returns the command name.
func (c *BaseCommand) Name() string {
	return c.name
}

// Description returns the command description.
func (c *BaseCommand) Description() string {
	return c.description
}

// Usage returns the command usage.
func (c *BaseCommand) Usage() string {
	return c.usage
}

// SetupFlags defines no flags.
func (c *BaseCommand) SetupFlags(*flag.FlagSet) {}

// usageError reports a usage problem on stderr and returns it wrapped in
// ErrUsage.
func usageError(stderr io.Writer, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	_, _ = fmt.Fprintln(stderr, msg)
	return fmt.Errorf("%w: %s", ErrUsage, msg)
}
