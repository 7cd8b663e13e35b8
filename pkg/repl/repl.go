package repl

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
)

// ErrQuit can be returned by a handler to end Run.
var ErrQuit = errors.New("quit")

type Handler func(string, *REPLConfig) error

type REPL struct {
	Commands map[string]Handler
	Help     map[string]string
}

type REPLConfig struct {
	Writer io.Writer
}

type RunConfig struct {
	Prompt      string
	HistoryFile string

	// Stdin and Stdout default to the terminal.
	Stdin  io.ReadCloser
	Stdout io.Writer
}

func NewRepl() *REPL {
	r := &REPL{make(map[string]Handler), make(map[string]string)}
	r.AddCommand("help", r.helpHandler, "Prints this help. usage: help")
	r.AddCommand("exit", func(string, *REPLConfig) error { return ErrQuit }, "Leaves the shell. usage: exit")
	return r
}

// Add a command, along with its help string, to the set of commands
func (r *REPL) AddCommand(trigger string, handler Handler, help string) {
	if trigger == "" || trigger[0] == '.' {
		return
	}
	r.Help[trigger] = help
	r.Commands[trigger] = handler
}

// Return all REPL usage information as a string
func (r *REPL) HelpString() string {
	triggers := make([]string, 0, len(r.Help))
	for k := range r.Help {
		triggers = append(triggers, k)
	}
	sort.Strings(triggers)

	var sb strings.Builder
	sb.WriteString("Commands\n")
	for _, k := range triggers {
		sb.WriteString(fmt.Sprintf("\t%s: %s\n", k, r.Help[k]))
	}
	return sb.String()
}

func (r *REPL) helpHandler(_ string, config *REPLConfig) error {
	_, err := io.WriteString(config.Writer, r.HelpString())
	return err
}

// Exec dispatches one input line. Unknown commands print the help text.
func (r *REPL) Exec(input string, config *REPLConfig) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	command := strings.Fields(input)[0]
	handler, ok := r.Commands[command]
	if !ok {
		io.WriteString(config.Writer, fmt.Sprintf("Invalid command: %s\n", command))
		io.WriteString(config.Writer, r.HelpString())
		return nil
	}
	return handler(input, config)
}

func (r *REPL) completer() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(r.Commands))
	for trigger := range r.Commands {
		items = append(items, readline.PcItem(trigger))
	}
	return readline.NewPrefixCompleter(items...)
}

// Run reads and executes lines until EOF, interrupt or ErrQuit.
func (r *REPL) Run(cfg *RunConfig) error {
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = "> "
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     cfg.HistoryFile,
		AutoComplete:    r.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           cfg.Stdin,
		Stdout:          cfg.Stdout,
	})
	if err != nil {
		return errors.Wrap(err, "repl: init readline")
	}
	defer rl.Close()

	replConfig := &REPLConfig{Writer: rl.Stdout()}
	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "repl: read line")
		}

		err = r.Exec(line, replConfig)
		if err == ErrQuit {
			return nil
		}
		if err != nil {
			io.WriteString(replConfig.Writer, fmt.Sprintf("Error: %v\n", err))
		}
	}
}
