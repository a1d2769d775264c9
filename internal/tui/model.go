// Package tui is the terminal UI front-end of the clinical workspace. It runs
// the same commands as the shell, either typed after ":" or bound to single
// keys, and renders the session, the active patient and the last output.
package tui

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ehr/copilot/internal/platform/apperr"
	"github.com/ehr/copilot/internal/platform/auth"
	"github.com/ehr/copilot/internal/shell"
	"github.com/ehr/copilot/internal/workspace"
)

// ---------------------------------------------------------------------------
// Bubble Tea messages
// ---------------------------------------------------------------------------

type commandDoneMsg struct {
	line   string
	output string
	err    error
}

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

type Model struct {
	ctx   context.Context
	sh    *shell.Shell
	ws    *workspace.Workspace
	keys  keyMap
	help  help.Model
	input textinput.Model

	typing  bool
	running string // command line in flight
	last    string
	output  string
	note    string // error raised before any flow ran, e.g. an unknown command

	width  int
	height int
}

// New returns a model that executes commands through sh.
func New(ctx context.Context, sh *shell.Shell) Model {
	inp := textinput.New()
	inp.Prompt = ": "
	inp.Placeholder = "login doctor <mobile> <password>"
	inp.PromptStyle = inputStyle
	inp.CharLimit = 2048

	m := Model{
		ctx:    ctx,
		sh:     sh,
		ws:     sh.Workspace(),
		keys:   newKeyMap(),
		help:   help.New(),
		input:  inp,
		output: "Press : and type help to see what you can do.",
	}
	m.refreshKeys()
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.input.Width = max(10, msg.Width-6)
		return m, nil
	case commandDoneMsg:
		return m.handleCommandDone(msg)
	case tea.KeyMsg:
		if m.typing {
			return m.updateTyping(msg)
		}
		return m.updateKeys(msg)
	}
	if m.typing {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil
	case key.Matches(msg, m.keys.Command):
		m.typing = true
		m.input.Reset()
		return m, m.input.Focus()
	}
	for _, s := range m.keys.Shortcuts {
		if key.Matches(msg, s.binding) {
			return m.run(s.line)
		}
	}
	return m, nil
}

func (m Model) updateTyping(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.Type == tea.KeyCtrlC:
		return m, tea.Quit
	case key.Matches(msg, m.keys.Cancel):
		m.typing = false
		m.input.Blur()
		return m, nil
	case key.Matches(msg, m.keys.Submit):
		line := strings.TrimSpace(m.input.Value())
		m.typing = false
		m.input.Blur()
		m.input.Reset()
		if line == "" {
			return m, nil
		}
		if m.busy() {
			m.note = "Still working on " + m.runningName() + "."
			return m, nil
		}
		return m.run(line)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// run starts line as a command in its own goroutine. Triggers stay disabled
// until it reports back.
func (m Model) run(line string) (Model, tea.Cmd) {
	m.running = line
	m.note = ""
	m.refreshKeys()
	ctx, sh := m.ctx, m.sh
	return m, func() tea.Msg {
		var buf bytes.Buffer
		err := sh.Exec(ctx, &buf, line)
		return commandDoneMsg{line: line, output: buf.String(), err: err}
	}
}

func (m Model) handleCommandDone(msg commandDoneMsg) (tea.Model, tea.Cmd) {
	m.running = ""
	if errors.Is(msg.err, shell.ErrQuit) {
		return m, tea.Quit
	}
	m.last = commandName(msg.line)
	m.output = strings.TrimRight(msg.output, "\n")
	m.note = ""
	if msg.err != nil {
		m.note = apperr.Message(msg.err)
	}
	m.refreshKeys()
	return m, nil
}

func (m Model) runningName() string {
	return commandName(m.running)
}

// commandName strips the arguments from line. Arguments may hold a password,
// so only the name is ever shown.
func commandName(line string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(line), " ")
	return name
}

func (m Model) busy() bool {
	return m.running != "" || m.ws.Status().Busy
}

func (m Model) role() auth.Role {
	if sess := m.ws.Session(); sess != nil {
		return sess.Role
	}
	return auth.RoleNone
}

func (m *Model) refreshKeys() {
	m.keys.sync(m.sh.Registry(), m.role(), m.busy())
}
