package command

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrCommandNotFound is returned by Registry.Get for unknown names.
var ErrCommandNotFound = errors.New("command not found")

// Registry manages the collection of available commands.
type Registry struct {
	commands map[string]Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds a command, replacing any command of the same name.
func (r *Registry) Register(cmd Command) {
	r.commands[cmd.Name()] = cmd
}

// Get returns a command by name.
func (r *Registry) Get(name string) (Command, error) {
	if cmd, exists := r.commands[name]; exists {
		return cmd, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, name)
}

// List returns the names of all commands, sorted.
func (r *Registry) List() []string {
	return slices.Sorted(maps.Keys(r.commands))
}
