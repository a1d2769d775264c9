package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ehr/copilot/internal/platform/apperr"
	"github.com/ehr/copilot/internal/platform/gateway"
	"github.com/ehr/copilot/internal/platform/sandbox"
	"github.com/ehr/copilot/internal/workspace"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type counter struct {
	mu    sync.Mutex
	paths []string
	next  http.Handler
}

func (c *counter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	c.paths = append(c.paths, r.Method+" "+r.URL.Path)
	c.mu.Unlock()
	c.next.ServeHTTP(w, r)
}

func (c *counter) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

func (c *counter) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = nil
}

type fixture struct {
	sh    *Shell
	store *sandbox.Store
	calls *counter
	out   bytes.Buffer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	store := sandbox.NewStore()
	calls := &counter{next: sandbox.NewServer(store, sandbox.DefaultServerConfig(), zerolog.Nop())}
	srv := httptest.NewServer(calls)
	t.Cleanup(srv.Close)
	ws := workspace.New(gateway.NewClient(srv.URL))
	return &fixture{sh: New(ws, opts...), store: store, calls: calls}
}

// exec runs line and returns what it printed.
func (f *fixture) exec(t *testing.T, line string) (string, error) {
	t.Helper()
	f.out.Reset()
	err := f.sh.Exec(context.Background(), &f.out, line)
	return f.out.String(), err
}

func (f *fixture) mustExec(t *testing.T, line string) string {
	t.Helper()
	out, err := f.exec(t, line)
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", line, err)
	}
	return out
}

func (f *fixture) loginAs(t *testing.T, role string) {
	t.Helper()
	if _, err := f.store.CreateAccount(role, "+15550001111", "pw", nil); err != nil {
		t.Fatalf("create account: %v", err)
	}
	f.mustExec(t, "login "+role+" +15550001111 pw")
}

func (f *fixture) loginPatient(t *testing.T) int64 {
	t.Helper()
	mobile, pw := "+15550002222", "pw"
	p, _, err := f.store.CreatePatient(sandbox.PatientInput{Name: "Ada Obi", Mobile: &mobile, Password: &pw})
	if err != nil {
		t.Fatalf("create patient: %v", err)
	}
	f.mustExec(t, "login patient "+mobile+" "+pw)
	return p.ID
}

func (f *fixture) addPatients(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, _, err := f.store.CreatePatient(sandbox.PatientInput{Name: "Patient"}); err != nil {
			t.Fatalf("create patient: %v", err)
		}
	}
}

// ---------------------------------------------------------------------------
// Parsing and lookup
// ---------------------------------------------------------------------------

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    []string
		wantErr bool
	}{
		{"empty", "", []string{}, false},
		{"words", "login doctor +1555 pw", []string{"login", "doctor", "+1555", "pw"}, false},
		{"double quotes", `create "Lena Okafor" age=52`, []string{"create", "Lena Okafor", "age=52"}, false},
		{"single quotes keep backslash", `'a\b' c`, []string{`a\b`, "c"}, false},
		{"quoted value in option", `contact="call 555"`, []string{"contact=call 555"}, false},
		{"escaped space", `notes\ 1.txt`, []string{"notes 1.txt"}, false},
		{"empty quotes", `a "" b`, []string{"a", "", "b"}, false},
		{"extra whitespace", "  a \t b  ", []string{"a", "b"}, false},
		{"unterminated", `create "Lena`, nil, true},
		{"trailing escape", `a\`, nil, true},
		{"quoted separator", `feedback t1 useful "fine; thanks"`, []string{"feedback", "t1", "useful", "fine; thanks"}, false},
		{"unquoted separator", `feedback t1 useful fine; rm`, nil, true},
		{"unquoted redirect", `notes >out`, nil, true},
		{"no env expansion", `contact=$HOME`, []string{"contact=$HOME"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitArgs(tt.line)
			if (err != nil) != tt.wantErr {
				t.Fatalf("splitArgs() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitArgs() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCompleter_FollowsRole(t *testing.T) {
	f := newFixture(t)
	c := completer{f.sh}
	complete := func(line string) []string {
		got, n := c.Do([]rune(line), len([]rune(line)))
		if n != len([]rune(line)) && got != nil {
			t.Errorf("%q: replaced length %d", line, n)
		}
		var out []string
		for _, r := range got {
			out = append(out, line+string(r))
		}
		return out
	}

	if got := complete("tri"); len(got) != 0 {
		t.Errorf("logged out: expected no triage completion, got %q", got)
	}
	if got := complete("log"); !reflect.DeepEqual(got, []string{"login ", "logout "}) {
		t.Errorf("logged out: got %q", got)
	}

	f.loginPatient(t)
	if got := complete("TRI"); !reflect.DeepEqual(got, []string{"TRIage "}) {
		t.Errorf("patient: got %q", got)
	}
	if got := complete("triage "); got != nil {
		t.Errorf("arguments are not completed, got %q", got)
	}
}

func TestRegistry_Suggest(t *testing.T) {
	r := NewRegistry(Builtins()...)
	tests := []struct {
		in   string
		want string
	}{
		{"tirage", "triage"},
		{"hosp", "hospitals"},
		{"logn", "login"},
		{"TRIAGE!", "triage"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := r.Suggest(tt.in)
			if len(got) == 0 || got[0] != tt.want {
				t.Errorf("Suggest(%q) = %v, want %q first", tt.in, got, tt.want)
			}
		})
	}
	if got := r.Suggest("zzzzzzzz"); len(got) != 0 {
		t.Errorf("expected no suggestions, got %v", got)
	}
}

func TestRegistry_LookupAliases(t *testing.T) {
	r := NewRegistry(Builtins()...)
	for alias, name := range map[string]string{"exit": "quit", "SBAR": "summary", "use": "select", "documents": "docs"} {
		c, ok := r.Lookup(alias)
		if !ok || c.Name != name {
			t.Errorf("Lookup(%q) = %q, %v; want %q", alias, c.Name, ok, name)
		}
	}
}

func TestRegistry_DuplicateNamePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate name")
		}
	}()
	NewRegistry(Command{Name: "a"}, Command{Name: "b", Aliases: []string{"a"}})
}

// ---------------------------------------------------------------------------
// Exec
// ---------------------------------------------------------------------------

func TestExec_UnknownCommandSuggests(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec(t, "tirage")
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), `unknown command "tirage"; did you mean triage?`) {
		t.Errorf("unexpected message %q", err)
	}
	if len(f.calls.Paths()) != 0 {
		t.Errorf("expected no backend calls, got %v", f.calls.Paths())
	}
}

func TestSelect_PatientCannotOpenOtherRecords(t *testing.T) {
	f := newFixture(t)
	other, _, err := f.store.CreatePatient(sandbox.PatientInput{Name: "Someone Else"})
	if err != nil {
		t.Fatal(err)
	}
	own := f.loginPatient(t)
	f.calls.Reset()

	_, err = f.exec(t, "select "+strconv.FormatInt(other.ID, 10))
	if !apperr.IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if len(f.calls.Paths()) != 0 {
		t.Errorf("expected no backend calls, got %v", f.calls.Paths())
	}
	if out := f.mustExec(t, "show"); !strings.Contains(out, "Ada Obi") || strings.Contains(out, "Someone Else") {
		t.Errorf("expected own record to stay active:\n%s", out)
	}
	f.mustExec(t, "select "+strconv.FormatInt(own, 10))
}

func TestExec_BlankAndComment(t *testing.T) {
	f := newFixture(t)
	for _, line := range []string{"", "   ", "# note to self"} {
		if out, err := f.exec(t, line); err != nil || out != "" {
			t.Errorf("%q: got %q, %v", line, out, err)
		}
	}
}

func TestExec_DisabledCommandMakesNoCall(t *testing.T) {
	f := newFixture(t, WithOpener(func(string) (io.ReadCloser, error) {
		t.Error("opener must not be called for a disabled command")
		return nil, errors.New("unreachable")
	}))

	_, err := f.exec(t, "triage")
	if !apperr.IsPrecondition(err) || apperr.Message(err) != "log in first" {
		t.Fatalf("expected log in first, got %v", err)
	}

	f.loginAs(t, "hospital")
	f.calls.Reset()

	_, err = f.exec(t, "upload notes.txt")
	if !apperr.IsPrecondition(err) || apperr.Message(err) != "patientOps is not available for the hospital role" {
		t.Errorf("unexpected error %v", err)
	}
	_, err = f.exec(t, "coach")
	if !apperr.IsPrecondition(err) {
		t.Errorf("expected coach to be refused, got %v", err)
	}
	if len(f.calls.Paths()) != 0 {
		t.Errorf("expected no backend calls, got %v", f.calls.Paths())
	}
}

func TestExec_LocalValidationMakesNoCall(t *testing.T) {
	f := newFixture(t)
	f.loginPatient(t)
	f.calls.Reset()

	for _, line := range []string{
		"adherence zero",
		"adherence -3",
		"feedback only-trace",
		"answer not json",
		"answer [1,2]",
		"profile rebuild",
		"docs everything",
		`upload "a.txt" "b.txt"`,
		"login doctor",
		"login nurse +1 pw",
	} {
		if _, err := f.exec(t, line); !apperr.IsValidation(err) {
			t.Errorf("%q: expected validation error, got %v", line, err)
		}
	}
	if len(f.calls.Paths()) != 0 {
		t.Errorf("expected no backend calls, got %v", f.calls.Paths())
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func TestHelp_ListsOnlyAvailableCommands(t *testing.T) {
	tests := []struct {
		role    string
		present []string
		absent  []string
	}{
		{"", []string{"login", "signup", "help"}, []string{"triage", "hospitals", "coach", "select"}},
		{"doctor", []string{"select", "patients", "create", "hospitals", "triage"}, []string{"coach"}},
		{"patient", []string{"triage", "coach", "upload"}, []string{"hospitals", "create", "patients"}},
		{"hospital", []string{"select", "hospitals"}, []string{"triage", "upload", "coach", "create"}},
	}
	for _, tt := range tests {
		t.Run("role "+tt.role, func(t *testing.T) {
			f := newFixture(t)
			switch tt.role {
			case "":
			case "patient":
				f.loginPatient(t)
			default:
				f.loginAs(t, tt.role)
			}
			out := f.mustExec(t, "help")
			for _, name := range tt.present {
				if !strings.Contains(out, "\n  "+name+" ") {
					t.Errorf("expected %s in help:\n%s", name, out)
				}
			}
			for _, name := range tt.absent {
				if strings.Contains(out, "\n  "+name+" ") {
					t.Errorf("did not expect %s in help:\n%s", name, out)
				}
			}
		})
	}
}

func TestHelp_SingleCommand(t *testing.T) {
	f := newFixture(t)
	out := f.mustExec(t, "help hospitals")
	if !strings.Contains(out, "hospitals [radius-km]") || !strings.Contains(out, "unavailable: log in first") {
		t.Errorf("unexpected help:\n%s", out)
	}
}

func TestPatients_Paging(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, "doctor")
	f.addPatients(t, 23)

	if _, err := f.exec(t, "patients next"); !apperr.IsPrecondition(err) {
		t.Errorf("expected precondition before listing, got %v", err)
	}

	f.calls.Reset()
	steps := []struct {
		line string
		want string
	}{
		{"patients", "Showing 1-10 of 23 (patients next for more)"},
		{"patients next", "Showing 11-20 of 23 (patients next for more)"},
		{"patients next", "Showing 21-23 of 23\n"},
		{"patients next", "Showing 21-23 of 23\n"},
		{"patients prev", "Showing 11-20 of 23"},
		{"roster", "Showing 1-10 of 23"},
	}
	for _, s := range steps {
		out := f.mustExec(t, s.line)
		if !strings.Contains(out, s.want) {
			t.Errorf("%s: expected %q in:\n%s", s.line, s.want, out)
		}
	}
	if got := f.calls.Paths(); len(got) != 2 {
		t.Errorf("expected one roster fetch per full listing, got %v", got)
	}
}

func TestCreate_WithOptions(t *testing.T) {
	f := newFixture(t)
	f.loginAs(t, "doctor")

	out := f.mustExec(t, `create "Lena Okafor" age=52 sex=female contact="call 555 0100"`)
	if !strings.Contains(out, "Patient created: Lena Okafor (#1)") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "Patient #1  Lena Okafor  age 52  sex female") {
		t.Errorf("expected patient line, got:\n%s", out)
	}
	if !strings.HasPrefix(f.sh.Prompt(), "copilot doctor #1") {
		t.Errorf("unexpected prompt %q", f.sh.Prompt())
	}

	f.calls.Reset()
	for _, line := range []string{"create Bob height=2", "create Bob age=old", "create"} {
		if _, err := f.exec(t, line); !apperr.IsValidation(err) {
			t.Errorf("%q: expected validation error, got %v", line, err)
		}
	}
	if len(f.calls.Paths()) != 0 {
		t.Errorf("expected no backend calls, got %v", f.calls.Paths())
	}
}

func TestUpload_OpensFileAndBuildsProfile(t *testing.T) {
	var opened []string
	f := newFixture(t, WithOpener(func(path string) (io.ReadCloser, error) {
		opened = append(opened, path)
		if strings.HasSuffix(path, "missing.txt") {
			return nil, errors.New("no such file")
		}
		return io.NopCloser(strings.NewReader("Diagnosis: hypertension. Allergy: penicillin.")), nil
	}))
	id := f.loginPatient(t)

	out := f.mustExec(t, "upload notes/visit.txt")
	if !strings.Contains(out, "Document uploaded.") {
		t.Errorf("unexpected output:\n%s", out)
	}
	docs := f.store.Documents(id)
	if len(docs) != 1 || docs[0].FileName != "visit.txt" {
		t.Fatalf("expected visit.txt stored, got %+v", docs)
	}

	out = f.mustExec(t, "profile build")
	if !strings.Contains(out, "Profile built from latest uploads.") || !strings.Contains(out, "  - hypertension") {
		t.Errorf("unexpected profile output:\n%s", out)
	}

	out = f.mustExec(t, "docs")
	if !strings.Contains(out, "Loaded 1 documents.") {
		t.Errorf("unexpected docs output:\n%s", out)
	}

	_, err := f.exec(t, "upload missing.txt")
	if !apperr.IsValidation(err) || !strings.Contains(err.Error(), "no such file") {
		t.Errorf("expected validation error for unreadable file, got %v", err)
	}
	if len(opened) != 2 {
		t.Errorf("expected two opens, got %v", opened)
	}
}

func TestAnswer_PassesRawJSON(t *testing.T) {
	f := newFixture(t)
	id := f.loginPatient(t)

	out := f.mustExec(t, `answer {"Any Allergies?": "Penicillin  rash"}`)
	if !strings.Contains(out, "Answers submitted.") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if got := f.store.Answers(id)["Any Allergies?"]; got != "Penicillin  rash" {
		t.Errorf("expected answer preserved verbatim, got %v", got)
	}
}

func TestTriageAndShow(t *testing.T) {
	f := newFixture(t, WithOpener(func(string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("Severe chest pain since this morning.")), nil
	}))
	f.loginPatient(t)
	f.mustExec(t, "upload note.txt")

	out := f.mustExec(t, "triage")
	if !strings.Contains(out, "Triage level: RED") || !strings.Contains(out, "Specialty: cardiology") {
		t.Errorf("unexpected triage output:\n%s", out)
	}

	out = f.mustExec(t, "show")
	if !strings.Contains(out, "Ada Obi") || !strings.Contains(out, "== Triage ==") {
		t.Errorf("unexpected show output:\n%s", out)
	}

	f.mustExec(t, "logout")
	if out := f.mustExec(t, "show"); !strings.Contains(out, "No active patient.") {
		t.Errorf("expected empty context after logout, got:\n%s", out)
	}
}

func TestBase_ShowsAndSets(t *testing.T) {
	f := newFixture(t)
	out := f.mustExec(t, "base http://other.test:9000")
	if out != "API base: http://other.test:9000\n" || f.sh.Workspace().APIBase() != "http://other.test:9000" {
		t.Errorf("unexpected base %q / %q", out, f.sh.Workspace().APIBase())
	}
}

// ---------------------------------------------------------------------------
// Run loop
// ---------------------------------------------------------------------------

func TestRun_PrintsErrorsAndStopsOnQuit(t *testing.T) {
	f := newFixture(t)
	in := strings.NewReader("bogus\nwhoami\nquit\nwhoami\n")
	var out bytes.Buffer

	if err := f.sh.Run(context.Background(), in, &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, `error: unknown command "bogus"`) {
		t.Errorf("expected error line, got:\n%s", got)
	}
	if n := strings.Count(got, "Not logged in."); n != 1 {
		t.Errorf("expected whoami to run once before quit, ran %d times:\n%s", n, got)
	}
	if !strings.Contains(got, "copilot> ") {
		t.Errorf("expected prompt, got:\n%s", got)
	}
}

func TestRun_EOF(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	if err := f.sh.Run(context.Background(), strings.NewReader("help\n"), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Log in to see patient commands.") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}

func TestRun_LastLineWithoutNewline(t *testing.T) {
	f := newFixture(t)
	var out bytes.Buffer
	if err := f.sh.Run(context.Background(), strings.NewReader(`help "tri`+"\nwhoami"), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "error: unterminated quote") {
		t.Errorf("expected quoting error, got:\n%s", got)
	}
	if !strings.Contains(got, "Not logged in.") {
		t.Errorf("expected the final line to run, got:\n%s", got)
	}
}
