package shell

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/mattn/go-shellwords"

	"github.com/ehr/copilot/internal/platform/apperr"
	"github.com/ehr/copilot/internal/platform/auth"
)

// Command categories, in help order.
const (
	CategoryAccess   = "Access"
	CategoryPatients = "Patients"
	CategoryClinical = "Clinical"
	CategoryRecords  = "Records"
	CategoryCare     = "Care"
	CategoryGeneral  = "General"
)

var categoryOrder = []string{
	CategoryAccess, CategoryPatients, CategoryClinical, CategoryRecords, CategoryCare, CategoryGeneral,
}

// Command is one verb understood by the shell.
type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Category    string
	// Capability gates the command. Empty means always available.
	Capability auth.Capability
	// RawArgs passes the remainder of the line to Run as a single argument
	// instead of splitting it into words.
	RawArgs bool
	Run     func(ctx context.Context, s *Shell, w io.Writer, args []string) error
}

// Enabled reports whether the command may run for role, and why not.
func (c Command) Enabled(role auth.Role) (bool, string) {
	if c.Capability == "" {
		return true, ""
	}
	if err := auth.Require(role, c.Capability); err != nil {
		return false, apperr.Message(err)
	}
	return true, ""
}

func (c Command) usageError() error {
	return apperr.Validation("usage: " + c.Usage)
}

// Registry resolves command names and aliases.
type Registry struct {
	commands []Command
	byName   map[string]Command
}

// NewRegistry indexes cmds. Names and aliases must be unique.
func NewRegistry(cmds ...Command) *Registry {
	r := &Registry{byName: make(map[string]Command, len(cmds))}
	for _, c := range cmds {
		for _, n := range append([]string{c.Name}, c.Aliases...) {
			if _, dup := r.byName[n]; dup {
				panic(fmt.Sprintf("shell: duplicate command name %q", n))
			}
			r.byName[n] = c
		}
		r.commands = append(r.commands, c)
	}
	return r
}

// All returns every command in registration order.
func (r *Registry) All() []Command {
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Lookup finds a command by name or alias, ignoring case.
func (r *Registry) Lookup(name string) (Command, bool) {
	c, ok := r.byName[strings.ToLower(name)]
	return c, ok
}

// Available returns the commands role may run, grouped by category.
func (r *Registry) Available(role auth.Role) []Command {
	var out []Command
	for _, c := range r.commands {
		if ok, _ := c.Enabled(role); ok {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return categoryRank(out[i].Category) < categoryRank(out[j].Category)
	})
	return out
}

// Suggest returns up to three command names close to name: prefix matches
// first, then names within a small edit distance.
func (r *Registry) Suggest(name string) []string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil
	}
	type candidate struct {
		name string
		dist int
	}
	best := map[string]int{}
	for alias, c := range r.byName {
		d := levenshtein.ComputeDistance(name, alias)
		if len(name) >= 2 && strings.HasPrefix(alias, name) {
			d = 0
		}
		if d > maxDistance(name) {
			continue
		}
		if prev, ok := best[c.Name]; !ok || d < prev {
			best[c.Name] = d
		}
	}
	cands := make([]candidate, 0, len(best))
	for n, d := range best {
		cands = append(cands, candidate{n, d})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].name < cands[j].name
	})
	var out []string
	for i := 0; i < len(cands) && i < 3; i++ {
		out = append(out, cands[i].name)
	}
	return out
}

func maxDistance(name string) int {
	return max(1, len(name)/3)
}

func categoryRank(c string) int {
	for i, name := range categoryOrder {
		if name == c {
			return i
		}
	}
	return len(categoryOrder)
}

// splitArgs splits a command line into words with shell quoting rules.
// Environment and backtick expansion stay off. Unquoted ; & | < > would end
// the parse early, so they are rejected instead of silently dropping the rest.
func splitArgs(line string) ([]string, error) {
	p := shellwords.NewParser()
	args, err := p.Parse(line)
	if err != nil {
		return nil, apperr.Validation("unterminated quote or escape, or unquoted parenthesis")
	}
	if p.Position >= 0 {
		return nil, apperr.Validation("quote arguments containing ; & | < or >")
	}
	return args, nil
}

// cutWord splits the first word off line.
func cutWord(line string) (string, string) {
	line = strings.TrimSpace(line)
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		return line[:i], strings.TrimSpace(line[i+1:])
	}
	return line, ""
}
