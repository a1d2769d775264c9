package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"

	"github.com/ehr/copilot/internal/platform/auth"
	"github.com/ehr/copilot/internal/shell"
)

// ---------------------------------------------------------------------------
// Key bindings
// ---------------------------------------------------------------------------

// shortcut runs a shell command line from a single key.
type shortcut struct {
	binding key.Binding
	line    string
}

type keyMap struct {
	Command key.Binding
	Submit  key.Binding
	Cancel  key.Binding
	Help    key.Binding
	Quit    key.Binding

	Shortcuts []shortcut
}

func newKeyMap() keyMap {
	sc := func(k, line, desc string) shortcut {
		return shortcut{binding: key.NewBinding(key.WithKeys(k), key.WithHelp(k, desc)), line: line}
	}
	return keyMap{
		Command: key.NewBinding(key.WithKeys(":"), key.WithHelp(":", "command")),
		Submit:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "run")),
		Cancel:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Shortcuts: []shortcut{
			sc("r", "patients", "patients"),
			sc("p", "profile", "profile"),
			sc("b", "profile build", "build profile"),
			sc("t", "triage", "triage"),
			sc("s", "summary", "summary"),
			sc("i", "preintel", "pre-visit"),
			sc("h", "hospitals", "hospitals"),
			sc("n", "questions", "questions"),
			sc("d", "docs", "documents"),
			sc("c", "coach", "coach"),
			sc("a", "adherence", "adherence"),
			sc("o", "logout", "logout"),
		},
	}
}

// sync enables only the shortcuts whose command role may run. Everything but
// quit is disabled while a flow is in flight.
func (k *keyMap) sync(reg *shell.Registry, role auth.Role, busy bool) {
	for i := range k.Shortcuts {
		s := &k.Shortcuts[i]
		name, _, _ := strings.Cut(s.line, " ")
		cmd, ok := reg.Lookup(name)
		enabled := ok && !busy
		if enabled {
			enabled, _ = cmd.Enabled(role)
		}
		if name == "logout" && role == auth.RoleNone {
			enabled = false
		}
		s.binding.SetEnabled(enabled)
	}
	k.Command.SetEnabled(!busy)
}

func (k keyMap) ShortHelp() []key.Binding {
	out := []key.Binding{k.Command}
	for _, s := range k.Shortcuts {
		if len(out) > 5 {
			break
		}
		if s.binding.Enabled() {
			out = append(out, s.binding)
		}
	}
	return append(out, k.Help, k.Quit)
}

func (k keyMap) FullHelp() [][]key.Binding {
	cols := [][]key.Binding{{k.Command, k.Submit, k.Cancel, k.Help, k.Quit}}
	var col []key.Binding
	for _, s := range k.Shortcuts {
		col = append(col, s.binding)
		if len(col) == 6 {
			cols = append(cols, col)
			col = nil
		}
	}
	if len(col) > 0 {
		cols = append(cols, col)
	}
	return cols
}
