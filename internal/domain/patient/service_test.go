package patient

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/ehr/copilot/internal/platform/apperr"
	"github.com/ehr/copilot/internal/platform/auth"
)

// -- Mock Backend --

type mockBackend struct {
	mu    sync.Mutex
	calls []string

	records     map[int64]*Record
	roster      []Record
	profiles    map[int64]*StoredProfile
	summaries   map[int64]*StoredSummary
	triage      map[int64]*Triage
	documents   map[int64][]Document
	coach       map[int64]*Coach
	lastRadius  float64
	lastAnswers map[string]any
	lastDays    int
	lastFB      Feedback
	failWith    error

	// hold, when set, blocks the named call until released.
	hold map[string]chan struct{}
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		records: map[int64]*Record{
			7:  {ID: 7, Name: "Asha"},
			9:  {ID: 9, Name: "Ravi"},
			42: {ID: 42, Name: "Meera"},
		},
		profiles:  map[int64]*StoredProfile{},
		summaries: map[int64]*StoredSummary{},
		triage:    map[int64]*Triage{},
		documents: map[int64][]Document{},
		coach:     map[int64]*Coach{},
		hold:      map[string]chan struct{}{},
	}
}

func (m *mockBackend) record(name string) error {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	ch := m.hold[name]
	err := m.failWith
	m.mu.Unlock()
	if ch != nil {
		<-ch
	}
	return err
}

func (m *mockBackend) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var errNotFound = errors.New("Patient not found")

func (m *mockBackend) Get(_ context.Context, id int64) (*Record, error) {
	if err := m.record("get"); err != nil {
		return nil, err
	}
	r, ok := m.records[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockBackend) List(_ context.Context) ([]Record, error) {
	if err := m.record("list"); err != nil {
		return nil, err
	}
	return m.roster, nil
}

func (m *mockBackend) Create(_ context.Context, p NewPatient) (*Record, error) {
	if err := m.record("create"); err != nil {
		return nil, err
	}
	r := &Record{ID: 100, Name: p.Name}
	m.mu.Lock()
	m.records[100] = r
	m.mu.Unlock()
	return r, nil
}

func (m *mockBackend) BuildProfile(_ context.Context, id int64) (*StoredProfile, error) {
	if err := m.record("build_profile"); err != nil {
		return nil, err
	}
	return &StoredProfile{PatientID: id, Version: 1, Profile: Profile{Conditions: []string{"asthma"}}}, nil
}

func (m *mockBackend) LatestProfile(_ context.Context, id int64) (*StoredProfile, error) {
	if err := m.record("latest_profile"); err != nil {
		return nil, err
	}
	p, ok := m.profiles[id]
	if !ok {
		return nil, errNotFound
	}
	return p, nil
}

func (m *mockBackend) Triage(_ context.Context, id int64) (*Triage, error) {
	if err := m.record("triage"); err != nil {
		return nil, err
	}
	if t, ok := m.triage[id]; ok {
		return t, nil
	}
	return &Triage{RawLevel: "GREEN"}, nil
}

func (m *mockBackend) Summary(_ context.Context, id int64) (*Summary, error) {
	if err := m.record("summary"); err != nil {
		return nil, err
	}
	return &Summary{Situation: "patient " + m.records[id].Name}, nil
}

func (m *mockBackend) LatestSummary(_ context.Context, id int64) (*StoredSummary, error) {
	if err := m.record("latest_summary"); err != nil {
		return nil, err
	}
	s, ok := m.summaries[id]
	if !ok {
		return nil, errNotFound
	}
	return s, nil
}

func (m *mockBackend) PreIntelligence(_ context.Context, _ int64) (*PreIntelligence, error) {
	if err := m.record("preintelligence"); err != nil {
		return nil, err
	}
	return &PreIntelligence{Risks: []string{"fall risk"}}, nil
}

func (m *mockBackend) HospitalMatches(_ context.Context, _ int64, radiusKm float64) ([]HospitalMatch, error) {
	if err := m.record("hospitals"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.lastRadius = radiusKm
	m.mu.Unlock()
	return []HospitalMatch{{HospitalID: "h1", Name: "City", Score: 0.9}}, nil
}

func (m *mockBackend) NextQuestions(_ context.Context, _ int64) (*Questionnaire, error) {
	if err := m.record("next_questions"); err != nil {
		return nil, err
	}
	return &Questionnaire{Questions: []string{"Any allergies?"}}, nil
}

func (m *mockBackend) SubmitAnswers(_ context.Context, _ int64, answers map[string]any) error {
	if err := m.record("answers"); err != nil {
		return err
	}
	m.lastAnswers = answers
	return nil
}

func (m *mockBackend) UploadDocument(_ context.Context, _ int64, _ File) (*Document, error) {
	if err := m.record("upload"); err != nil {
		return nil, err
	}
	return &Document{DocumentID: 1}, nil
}

func (m *mockBackend) UploadAudio(_ context.Context, _ int64, _ File) (*Transcript, error) {
	if err := m.record("audio"); err != nil {
		return nil, err
	}
	return &Transcript{TranscriptID: 1, Text: "hello"}, nil
}

func (m *mockBackend) Documents(_ context.Context, id int64) ([]Document, error) {
	if err := m.record("documents"); err != nil {
		return nil, err
	}
	return m.documents[id], nil
}

func (m *mockBackend) DocumentDetails(_ context.Context, _ int64) ([]DocumentDetail, error) {
	if err := m.record("document_details"); err != nil {
		return nil, err
	}
	return []DocumentDetail{{DocumentID: 1, MimeType: "text/plain", HasText: true}}, nil
}

func (m *mockBackend) ReprocessDocuments(_ context.Context, id int64) ([]Document, error) {
	if err := m.record("reprocess"); err != nil {
		return nil, err
	}
	return m.documents[id], nil
}

func (m *mockBackend) LatestCoach(_ context.Context, id int64) (*Coach, error) {
	if err := m.record("latest_coach"); err != nil {
		return nil, err
	}
	if c, ok := m.coach[id]; ok {
		return c, nil
	}
	return &Coach{}, nil
}

func (m *mockBackend) GenerateCoach(_ context.Context, _ int64) (*Coach, error) {
	if err := m.record("generate_coach"); err != nil {
		return nil, err
	}
	return &Coach{ScriptText: "keep going", AudioPath: "./media/coach/1.wav"}, nil
}

func (m *mockBackend) Adherence(_ context.Context, _ int64, days int) (*Adherence, error) {
	if err := m.record("adherence"); err != nil {
		return nil, err
	}
	m.lastDays = days
	return &Adherence{Taken: 5, Missed: 1}, nil
}

func (m *mockBackend) SubmitFeedback(_ context.Context, _ int64, fb Feedback) error {
	if err := m.record("feedback"); err != nil {
		return err
	}
	m.lastFB = fb
	return nil
}

type fixedRole auth.Role

func (r fixedRole) Role() auth.Role { return auth.Role(r) }

func TestParseID(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"7", 7, true},
		{" 42 ", 42, true},
		{"", 0, false},
		{"0", 0, false},
		{"-3", 0, false},
		{"1.5", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseID(tt.in)
			if tt.ok {
				if err != nil || got != tt.want {
					t.Errorf("ParseID(%q) = %d, %v; want %d", tt.in, got, err, tt.want)
				}
				return
			}
			if !apperr.IsValidation(err) {
				t.Errorf("ParseID(%q): expected validation error, got %v", tt.in, err)
			}
		})
	}
}

func TestNormalizeRadius(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 20},
		{"   ", 20},
		{"abc", 20},
		{"Inf", 20},
		{"NaN", 20},
		{"5", 5},
		{"2.5", 2.5},
		{"0", 0},
		{"-10", -10},
		{"500", 500},
	}
	for _, tt := range tests {
		if got := NormalizeRadius(tt.in); got != tt.want {
			t.Errorf("NormalizeRadius(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseAnswers(t *testing.T) {
	for _, in := range []string{"", `{}`, `{"pain": 3}`} {
		if _, err := ParseAnswers(in); err != nil {
			t.Errorf("ParseAnswers(%q): unexpected error %v", in, err)
		}
	}
	for _, in := range []string{"not json", `[1,2]`, `"text"`, `null`, `{"a":`} {
		if _, err := ParseAnswers(in); !apperr.IsValidation(err) {
			t.Errorf("ParseAnswers(%q): expected validation error, got %v", in, err)
		}
	}
}

func TestManager_Select_InvalidID(t *testing.T) {
	b := newMockBackend()
	m := NewManager(b, fixedRole(auth.RoleDoctor))
	for _, id := range []int64{0, -1} {
		if _, err := m.Select(context.Background(), id); !apperr.IsValidation(err) {
			t.Errorf("Select(%d): expected validation error, got %v", id, err)
		}
	}
	if b.callCount() != 0 {
		t.Errorf("expected no backend calls, got %v", b.calls)
	}
}

func TestManager_Select_ClearsInsights(t *testing.T) {
	b := newMockBackend()
	m := NewManager(b, fixedRole(auth.RolePatient))
	ctx := context.Background()

	if _, err := m.Select(ctx, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.RunTriage(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.HospitalMatches(ctx, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Snapshot().Insights.Triage == nil {
		t.Fatal("expected triage slot populated")
	}

	if _, err := m.Select(ctx, 9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := m.Snapshot()
	if !snap.Insights.Empty() {
		t.Errorf("expected every slot cleared, got %+v", snap.Insights)
	}
	if snap.SelectedID == nil || *snap.SelectedID != 9 || snap.Patient.ID != 9 {
		t.Errorf("expected patient 9 selected, got %+v", snap)
	}
}

func TestManager_Select_FailureKeepsPreviousContext(t *testing.T) {
	b := newMockBackend()
	b.triage[7] = &Triage{RawLevel: "AMBER"}
	m := NewManager(b, fixedRole(auth.RoleDoctor))
	ctx := context.Background()

	if _, err := m.Select(ctx, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.RunTriage(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	before := m.Snapshot()

	if _, err := m.Select(ctx, 404); !errors.Is(err, errNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	snap := m.Snapshot()
	if snap.SelectedID == nil || *snap.SelectedID != 7 || snap.Patient == nil || snap.Patient.Name != "Asha" {
		t.Errorf("expected patient 7 to stay selected, got %+v", snap)
	}
	if snap.Insights.Triage == nil || snap.Insights.Triage.RawLevel != "AMBER" {
		t.Errorf("expected triage to survive, got %+v", snap.Insights.Triage)
	}
	if snap.Epoch != before.Epoch {
		t.Errorf("epoch moved from %d to %d on a failed select", before.Epoch, snap.Epoch)
	}
	if _, err := m.RunTriage(ctx); err != nil {
		t.Errorf("patient-scoped calls must keep working, got %v", err)
	}
}

func TestManager_Select_LaterSelectionWins(t *testing.T) {
	b := newMockBackend()
	release := make(chan struct{})
	b.hold["get"] = release
	m := NewManager(b, fixedRole(auth.RolePatient))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := m.Select(ctx, 7)
		done <- err
	}()
	for b.callCount() == 0 {
		runtime.Gosched()
	}
	b.mu.Lock()
	delete(b.hold, "get")
	b.mu.Unlock()

	if _, err := m.Select(ctx, 9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	snap := m.Snapshot()
	if *snap.SelectedID != 9 || snap.Patient.ID != 9 {
		t.Errorf("expected patient 9 selected, got %+v", snap)
	}
}

func TestManager_Select_DoctorHydration(t *testing.T) {
	b := newMockBackend()
	b.profiles[7] = &StoredProfile{PatientID: 7, Version: 3, Profile: Profile{Allergies: []string{"penicillin"}}}
	m := NewManager(b, fixedRole(auth.RoleDoctor))

	if _, err := m.Select(context.Background(), 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := m.Snapshot()
	if snap.Insights.ProfileMeta == nil || snap.Insights.ProfileMeta.Version != 3 {
		t.Errorf("expected stored profile hydrated, got %+v", snap.Insights.ProfileMeta)
	}
	if snap.Insights.Summary != nil || snap.Insights.SummaryMeta != nil {
		t.Error("missing summary must leave the slot absent")
	}
}

func TestManager_Select_NoHydrationForPatients(t *testing.T) {
	b := newMockBackend()
	b.profiles[7] = &StoredProfile{PatientID: 7}
	m := NewManager(b, fixedRole(auth.RolePatient))

	if _, err := m.Select(context.Background(), 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, c := range b.calls {
		if c == "latest_profile" || c == "latest_summary" {
			t.Errorf("unexpected hydration call %q for patient role", c)
		}
	}
}

func TestManager_PatientScopedRequiresSelection(t *testing.T) {
	b := newMockBackend()
	m := NewManager(b, fixedRole(auth.RoleDoctor))
	ctx := context.Background()

	ops := map[string]func() error{
		"build_profile": func() error { _, err := m.BuildProfile(ctx); return err },
		"triage":        func() error { _, err := m.RunTriage(ctx); return err },
		"summary":       func() error { _, err := m.Summary(ctx); return err },
		"preintel":      func() error { _, err := m.PreIntelligence(ctx); return err },
		"hospitals":     func() error { _, err := m.HospitalMatches(ctx, "5"); return err },
		"questions":     func() error { _, err := m.NextQuestions(ctx); return err },
		"answers":       func() error { return m.SubmitAnswers(ctx, "not json") },
		"upload":        func() error { _, err := m.UploadDocument(ctx, File{}); return err },
		"audio":         func() error { _, err := m.UploadAudio(ctx, File{}); return err },
		"documents":     func() error { _, err := m.ListDocuments(ctx); return err },
		"details":       func() error { _, err := m.DocumentDetails(ctx); return err },
		"reprocess":     func() error { _, err := m.ReprocessDocuments(ctx); return err },
		"coach":         func() error { _, err := m.LatestCoach(ctx); return err },
		"generate":      func() error { _, err := m.GenerateCoach(ctx); return err },
		"adherence":     func() error { _, err := m.Adherence(ctx, -1); return err },
		"feedback":      func() error { return m.SubmitFeedback(ctx, Feedback{}) },
		"record":        func() error { _, err := m.LoadRecord(ctx); return err },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			if err := op(); !apperr.IsPrecondition(err) {
				t.Errorf("expected precondition error, got %v", err)
			}
		})
	}
	if b.callCount() != 0 {
		t.Errorf("expected no backend calls, got %v", b.calls)
	}
}

func TestManager_SubmitAnswers(t *testing.T) {
	b := newMockBackend()
	m := NewManager(b, fixedRole(auth.RolePatient))
	ctx := context.Background()
	m.Bind(7)

	if err := m.SubmitAnswers(ctx, "{not json"); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if b.callCount() != 0 {
		t.Fatalf("expected no backend calls, got %v", b.calls)
	}

	if err := m.SubmitAnswers(ctx, `{"pain_score": 4}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.lastAnswers["pain_score"] != float64(4) {
		t.Errorf("unexpected answers sent: %v", b.lastAnswers)
	}
	if err := m.SubmitAnswers(ctx, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.lastAnswers == nil || len(b.lastAnswers) != 0 {
		t.Errorf("expected empty object for blank input, got %v", b.lastAnswers)
	}
}

func TestManager_HospitalMatchesRadius(t *testing.T) {
	b := newMockBackend()
	m := NewManager(b, fixedRole(auth.RoleHospital))
	m.Bind(7)

	if _, err := m.HospitalMatches(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.lastRadius != 20 {
		t.Errorf("expected default radius 20, got %v", b.lastRadius)
	}
	if _, err := m.HospitalMatches(context.Background(), "5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.lastRadius != 5 {
		t.Errorf("expected radius 5, got %v", b.lastRadius)
	}
	if len(m.Snapshot().Insights.HospitalMatches) != 1 {
		t.Error("expected hospital matches slot populated")
	}
}

func TestManager_Uploads(t *testing.T) {
	b := newMockBackend()
	m := NewManager(b, fixedRole(auth.RolePatient))
	ctx := context.Background()
	m.Bind(7)

	if _, err := m.UploadDocument(ctx, File{}); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for missing file, got %v", err)
	}
	if _, err := m.UploadAudio(ctx, File{Name: "a.wav"}); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for missing content, got %v", err)
	}
	if b.callCount() != 0 {
		t.Fatalf("expected no backend calls, got %v", b.calls)
	}

	if _, err := m.UploadDocument(ctx, File{Name: "labs.txt", Content: strings.NewReader("hb 9")}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Snapshot().Insights.Empty() {
		t.Error("uploads must not populate any slot")
	}
}

func TestManager_Adherence(t *testing.T) {
	b := newMockBackend()
	m := NewManager(b, fixedRole(auth.RolePatient))
	m.Bind(7)

	a, err := m.Adherence(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.lastDays != DefaultAdherenceDays || a.Taken != 5 {
		t.Errorf("unexpected adherence call: days=%d, got %+v", b.lastDays, a)
	}
	if _, err := m.Adherence(context.Background(), -2); !apperr.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestManager_SubmitFeedback(t *testing.T) {
	b := newMockBackend()
	m := NewManager(b, fixedRole(auth.RoleDoctor))
	m.Bind(7)
	ctx := context.Background()

	if err := m.SubmitFeedback(ctx, Feedback{TraceID: "t1", Rating: "great"}); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for rating, got %v", err)
	}
	if err := m.SubmitFeedback(ctx, Feedback{Rating: "useful"}); !apperr.IsValidation(err) {
		t.Errorf("expected validation error for trace id, got %v", err)
	}
	if err := m.SubmitFeedback(ctx, Feedback{TraceID: " t1 ", Rating: "Unsafe"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.lastFB.TraceID != "t1" || b.lastFB.Rating != "unsafe" {
		t.Errorf("unexpected feedback sent: %+v", b.lastFB)
	}
}

func TestManager_StaleResultDiscarded(t *testing.T) {
	b := newMockBackend()
	b.triage[7] = &Triage{RawLevel: "RED"}
	release := make(chan struct{})
	b.hold["triage"] = release
	m := NewManager(b, fixedRole(auth.RolePatient))
	ctx := context.Background()
	m.Bind(7)

	done := make(chan error, 1)
	go func() {
		_, err := m.RunTriage(ctx)
		done <- err
	}()

	// Wait until the triage call is in flight before switching patients.
	for b.callCount() == 0 {
		runtime.Gosched()
	}
	b.mu.Lock()
	delete(b.hold, "triage")
	b.mu.Unlock()
	if _, err := m.Select(ctx, 9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	close(release)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	snap := m.Snapshot()
	if snap.Insights.Triage != nil {
		t.Errorf("stale triage leaked into patient 9: %+v", snap.Insights.Triage)
	}
	if *snap.SelectedID != 9 {
		t.Errorf("expected patient 9 selected, got %d", *snap.SelectedID)
	}
}

func TestManager_ListPatients(t *testing.T) {
	b := newMockBackend()
	b.roster = []Record{{ID: 7, Name: "Asha"}, {ID: 9, Name: "Ravi"}}
	ctx := context.Background()

	hospital := NewManager(b, fixedRole(auth.RoleHospital))
	if _, err := hospital.ListPatients(ctx); !apperr.IsPrecondition(err) {
		t.Fatalf("expected precondition error for hospital, got %v", err)
	}

	m := NewManager(b, fixedRole(auth.RoleDoctor))
	if _, err := m.Select(ctx, 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	list, err := m.ListPatients(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap := m.Snapshot()
	if len(list) != 2 || len(snap.Roster) != 2 {
		t.Errorf("expected roster of 2, got %d / %d", len(list), len(snap.Roster))
	}
	if *snap.SelectedID != 42 {
		t.Error("listing patients must not touch the active patient")
	}

	m.Reset()
	snap = m.Snapshot()
	if snap.Roster != nil || snap.SelectedID != nil || snap.Patient != nil {
		t.Errorf("expected reset to clear everything, got %+v", snap)
	}
}

func TestManager_Create(t *testing.T) {
	b := newMockBackend()
	ctx := context.Background()

	if _, err := NewManager(b, fixedRole(auth.RolePatient)).Create(ctx, NewPatient{Name: "X"}); !apperr.IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	m := NewManager(b, fixedRole(auth.RoleDoctor))
	if _, err := m.Create(ctx, NewPatient{Name: "  "}); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	rec, err := m.Create(ctx, NewPatient{Name: "Nila"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id, ok := m.SelectedID(); !ok || id != rec.ID {
		t.Errorf("expected new patient selected, got %d", id)
	}
}

func TestManager_BackendErrorKeepsSlot(t *testing.T) {
	b := newMockBackend()
	m := NewManager(b, fixedRole(auth.RoleDoctor))
	ctx := context.Background()
	m.Bind(7)

	if _, err := m.PreIntelligence(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.failWith = errors.New("boom")
	if _, err := m.PreIntelligence(ctx); err == nil {
		t.Fatal("expected error")
	}
	if m.Snapshot().Insights.PreIntelligence == nil {
		t.Error("a failed refresh must not clear the previous result")
	}
}
