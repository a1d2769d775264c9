// Package shell is the line-oriented front-end of the clinical workspace.
// Each line names a command; commands drive workspace flows and print the
// resulting status line followed by whatever the flow loaded.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"github.com/ehr/copilot/internal/platform/apperr"
	"github.com/ehr/copilot/internal/workspace"
	"github.com/ehr/copilot/pkg/pagination"
)

// ErrQuit is returned by Exec when the user asks to leave.
var ErrQuit = errors.New("quit")

// RosterPageSize is the number of patients listed per page.
const RosterPageSize = 10

// HistoryLimit caps the lines kept by the interactive line editor.
const HistoryLimit = 500

// Option configures a Shell.
type Option func(*Shell)

// WithLogger sets the shell logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Shell) { s.logger = l }
}

// WithRegistry replaces the built-in command set.
func WithRegistry(r *Registry) Option {
	return func(s *Shell) { s.registry = r }
}

// WithHistoryFile persists interactive history to path.
func WithHistoryFile(path string) Option {
	return func(s *Shell) { s.historyFile = path }
}

// WithOpener replaces the function used to open files for upload.
func WithOpener(open func(path string) (io.ReadCloser, error)) Option {
	return func(s *Shell) { s.open = open }
}

// Shell executes command lines against a workspace.
type Shell struct {
	ws       *workspace.Workspace
	registry *Registry
	open     func(path string) (io.ReadCloser, error)
	logger   zerolog.Logger

	historyFile string

	mu     sync.Mutex
	roster pagination.Params
}

// New returns a shell bound to ws with the built-in commands.
func New(ws *workspace.Workspace, opts ...Option) *Shell {
	s := &Shell{
		ws:     ws,
		logger: zerolog.Nop(),
		open:   func(path string) (io.ReadCloser, error) { return os.Open(path) },
		roster: pagination.Params{Limit: RosterPageSize},
	}
	for _, o := range opts {
		o(s)
	}
	if s.registry == nil {
		s.registry = NewRegistry(Builtins()...)
	}
	return s
}

// Workspace returns the workspace the shell drives.
func (s *Shell) Workspace() *workspace.Workspace { return s.ws }

// Registry returns the command set.
func (s *Shell) Registry() *Registry { return s.registry }

// Prompt describes the session and active patient, e.g. "copilot doctor #7> ".
func (s *Shell) Prompt() string {
	var b strings.Builder
	b.WriteString("copilot")
	if sess := s.ws.Session(); sess != nil {
		b.WriteString(" " + string(sess.Role))
	}
	if id := s.ws.Snapshot().SelectedID; id != nil {
		fmt.Fprintf(&b, " #%d", *id)
	}
	b.WriteString("> ")
	return b.String()
}

// Exec runs one command line, writing its output to w. Unknown commands,
// disabled commands and malformed arguments fail before any flow runs.
func (s *Shell) Exec(ctx context.Context, w io.Writer, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	name, rest := cutWord(line)
	cmd, ok := s.registry.Lookup(name)
	if !ok {
		msg := fmt.Sprintf("unknown command %q", name)
		if sug := s.registry.Suggest(name); len(sug) > 0 {
			msg += "; did you mean " + strings.Join(sug, " or ") + "?"
		}
		return apperr.Validation(msg)
	}

	role := s.role()
	if ok, reason := cmd.Enabled(role); !ok {
		return apperr.Precondition(reason)
	}

	var args []string
	if cmd.RawArgs {
		if rest != "" {
			args = []string{rest}
		}
	} else {
		var err error
		if args, err = splitArgs(rest); err != nil {
			return err
		}
	}

	s.logger.Debug().Str("command", cmd.Name).Int("args", len(args)).Msg("exec")
	return cmd.Run(ctx, s, w, args)
}

// Run reads command lines from in until EOF, quit or ctx is done. Command
// failures are printed and do not stop the loop. On a terminal the line
// editor adds history and tab completion; any other reader is consumed line
// by line with the prompt written to out.
func (s *Shell) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	rl, interactive, err := s.lineEditor(in, out)
	if err != nil {
		return fmt.Errorf("start line editor: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(out, "Connected to %s. Type help for commands.\n", s.ws.APIBase())
	for {
		prompt := s.Prompt()
		rl.SetPrompt(prompt)
		if !interactive {
			fmt.Fprint(out, prompt)
		}
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			fmt.Fprintln(out)
			return nil
		case err != nil:
			return err
		}

		err = s.Exec(ctx, out, line)
		if errors.Is(err, ErrQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(out, "error: %s\n", apperr.Message(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// lineEditor wraps in. Only the process terminal gets raw mode, history and
// completion.
func (s *Shell) lineEditor(in io.Reader, out io.Writer) (*readline.Instance, bool, error) {
	cfg := &readline.Config{
		Prompt:       s.Prompt(),
		HistoryFile:  s.historyFile,
		HistoryLimit: HistoryLimit,
		AutoComplete: completer{s},
		Stdout:       out,
		Stderr:       out,
	}
	interactive := in == io.Reader(os.Stdin) && readline.DefaultIsTerminal()
	if !interactive {
		cfg.Stdin = io.NopCloser(in)
		cfg.HistoryFile = ""
		cfg.HistoryLimit = -1
		cfg.AutoComplete = nil
		cfg.FuncIsTerminal = func() bool { return false }
		cfg.FuncMakeRaw = func() error { return nil }
		cfg.FuncExitRaw = func() error { return nil }
		cfg.FuncGetWidth = func() int { return 80 }
		cfg.FuncOnWidthChanged = func(func()) {}
	}
	rl, err := readline.NewEx(cfg)
	return rl, interactive, err
}

// completer completes the first word to a command the current role may run.
type completer struct{ s *Shell }

func (c completer) Do(line []rune, pos int) ([][]rune, int) {
	head := line[:pos]
	if strings.ContainsAny(string(head), " \t") {
		return nil, 0
	}
	prefix := strings.ToLower(string(head))
	var out [][]rune
	for _, cmd := range c.s.registry.Available(c.s.role()) {
		if strings.HasPrefix(cmd.Name, prefix) {
			out = append(out, []rune(cmd.Name[len(prefix):]+" "))
		}
	}
	return out, len(head)
}

// flow reports the outcome of a workspace flow. On success the status line
// is printed and show, if set, renders what the flow loaded.
func (s *Shell) flow(w io.Writer, err error, show func()) error {
	if err != nil {
		return err
	}
	if msg := s.ws.Status().Message; msg != "" {
		fmt.Fprintln(w, msg)
	}
	if show != nil {
		show()
	}
	return nil
}

func (s *Shell) rosterPage() pagination.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster
}

func (s *Shell) setRosterOffset(offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster.Offset = max(0, offset)
}
