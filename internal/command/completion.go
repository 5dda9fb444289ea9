package command

import (
	"fmt"
	"io"
	"strings"
)

var completionShells = []string{"bash", "zsh", "fish"}

// CompletionCommand generates shell completion scripts.
type CompletionCommand struct {
	*BaseCommand
	registry *Registry
}

// NewCompletionCommand creates a new completion command.
func NewCompletionCommand(registry *Registry) *CompletionCommand {
	return &CompletionCommand{
		BaseCommand: NewBaseCommand(
			"completion",
			"Generate shell completion scripts",
			"completion [bash|zsh|fish]",
		),
		registry: registry,
	}
}

// Execute writes the completion script for the given shell, bash by default.
func (c *CompletionCommand) Execute(args []string, stdout, stderr io.Writer) error {
	if len(args) > 1 {
		return usageError(stderr, "too many arguments: %v", args[1:])
	}
	shell := "bash"
	if len(args) > 0 {
		shell = strings.ToLower(args[0])
	}

	var script string
	switch shell {
	case "bash":
		script = c.bash()
	case "zsh":
		script = c.zsh()
	case "fish":
		script = c.fish()
	default:
		return usageError(stderr, "unsupported shell %q, expected one of %s", shell, strings.Join(completionShells, ", "))
	}
	_, err := io.WriteString(stdout, script)
	return err
}

func (c *CompletionCommand) bash() string {
	return fmt.Sprintf(`# bash completion for blocked-at
# Install: source <(blocked-at completion bash)

_blocked_at_completion() {
    local cur prev
    COMPREPLY=()
    cur="${COMP_WORDS[COMP_CWORD]}"
    prev="${COMP_WORDS[COMP_CWORD-1]}"

    if [[ ${COMP_CWORD} -eq 1 ]]; then
        COMPREPLY=($(compgen -W "%s" -- "${cur}"))
        return 0
    fi

    case "${COMP_WORDS[1]}" in
        run)
            COMPREPLY=($(compgen -f -X '!*.js' -- "${cur}") $(compgen -d -- "${cur}"))
            ;;
        wasm)
            COMPREPLY=($(compgen -f -X '!*.wasm' -- "${cur}") $(compgen -d -- "${cur}"))
            ;;
        config)
            COMPREPLY=($(compgen -W "effective validate schema" -- "${cur}"))
            ;;
        completion)
            COMPREPLY=($(compgen -W "%s" -- "${cur}"))
            ;;
        help)
            COMPREPLY=($(compgen -W "%[1]s" -- "${cur}"))
            ;;
        *)
            COMPREPLY=($(compgen -f -- "${cur}"))
            ;;
    esac
}

complete -F _blocked_at_completion blocked-at
`, strings.Join(c.registry.List(), " "), strings.Join(completionShells, " "))
}

func (c *CompletionCommand) zsh() string {
	var commands strings.Builder
	for _, name := range c.registry.List() {
		if cmd, err := c.registry.Get(name); err == nil {
			_, _ = fmt.Fprintf(&commands, "        '%s:%s'\n", name, zshEscape(cmd.Description()))
		}
	}

	return fmt.Sprintf(`#compdef blocked-at
# zsh completion for blocked-at
# Install: blocked-at completion zsh > "${fpath[1]}/_blocked-at"

_blocked_at() {
    local -a commands
    commands=(
%s    )

    if (( CURRENT == 2 )); then
        _describe 'command' commands
        return
    fi

    case ${words[2]} in
        run)
            _files -g '*.js'
            ;;
        wasm)
            _files -g '*.wasm'
            ;;
        config)
            _values 'subcommand' 'effective' 'validate' 'schema'
            ;;
        completion)
            _values 'shell' %s
            ;;
        help)
            _describe 'command' commands
            ;;
        *)
            _files
            ;;
    esac
}

_blocked_at "$@"
`, commands.String(), "'"+strings.Join(completionShells, "' '")+"'")
}

func (c *CompletionCommand) fish() string {
	var b strings.Builder
	b.WriteString("# fish completion for blocked-at\n")
	b.WriteString("# Install: blocked-at completion fish > ~/.config/fish/completions/blocked-at.fish\n\n")
	for _, name := range c.registry.List() {
		if cmd, err := c.registry.Get(name); err == nil {
			_, _ = fmt.Fprintf(&b, "complete -c blocked-at -n '__fish_use_subcommand' -a '%s' -d '%s'\n",
				name, fishEscape(cmd.Description()))
		}
	}
	_, _ = fmt.Fprintf(&b, "complete -c blocked-at -n '__fish_seen_subcommand_from run' -F -a '(__fish_complete_suffix .js)'\n")
	_, _ = fmt.Fprintf(&b, "complete -c blocked-at -n '__fish_seen_subcommand_from wasm' -F -a '(__fish_complete_suffix .wasm)'\n")
	_, _ = fmt.Fprintf(&b, "complete -c blocked-at -n '__fish_seen_subcommand_from config' -f -a 'effective validate schema'\n")
	_, _ = fmt.Fprintf(&b, "complete -c blocked-at -n '__fish_seen_subcommand_from completion' -f -a '%s'\n",
		strings.Join(completionShells, " "))
	return b.String()
}

func zshEscape(s string) string {
	s = strings.ReplaceAll(s, "'", "'\\''")
	return strings.ReplaceAll(s, ":", "\\:")
}

func fishEscape(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
