package patient

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/copilot/internal/platform/apperr"
	"github.com/ehr/copilot/internal/platform/auth"
	"github.com/ehr/copilot/internal/platform/gateway"
	"github.com/ehr/copilot/pkg/clinical"
)

// DefaultRadiusKm is used when the caller supplies no usable radius.
const DefaultRadiusKm = 20.0

// DefaultAdherenceDays is the adherence window used when none is given.
const DefaultAdherenceDays = 7

// ErrSuperseded is returned when the patient context changed while a call was
// in flight. The result has been discarded.
var ErrSuperseded = errors.New("patient context changed before the result arrived")

var (
	errNoPatient  = apperr.Precondition("no active patient")
	errInvalidID  = apperr.Validation("no valid patient selected")
	errBadAnswers = apperr.Validation("answers must be valid structured data")
	errNoDocument = apperr.Validation("choose a document file")
	errNoAudio    = apperr.Validation("choose an audio file")
	errBadRating  = apperr.Validation("rating must be useful, not_useful, or unsafe")
	errNoTraceID  = apperr.Validation("feedback needs a trace id")
	errNoName     = apperr.Validation("patient name is required")
	errBadDays    = apperr.Validation("days must be a positive number")
)

var validRatings = map[string]bool{
	clinical.RatingUseful:    true,
	clinical.RatingNotUseful: true,
	clinical.RatingUnsafe:    true,
}

// RoleSource reports the role of the current session.
type RoleSource interface {
	Role() auth.Role
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for swallowed best-effort failures.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager owns the selected patient and every insight derived for it.
// All state changes go through its methods.
type Manager struct {
	backend Backend
	roles   RoleSource
	logger  zerolog.Logger

	mu       sync.RWMutex
	epoch    uint64
	gen      uint64
	ticket   uint64
	selected *int64
	record   *Record
	insights Insights
	roster   []Record
}

func NewManager(backend Backend, roles RoleSource, opts ...Option) *Manager {
	m := &Manager{backend: backend, roles: roles, logger: zerolog.Nop()}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ParseID parses a patient id typed by the user.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, errInvalidID
	}
	return id, nil
}

// NormalizeRadius turns the user's radius input into kilometres. Empty,
// non-numeric and non-finite input falls back to DefaultRadiusKm; any other
// number is used as given.
func NormalizeRadius(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultRadiusKm
	}
	r, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(r) || math.IsInf(r, 0) {
		return DefaultRadiusKm
	}
	return r
}

// ParseAnswers decodes questionnaire answers. Blank input is an empty object.
func ParseAnswers(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var answers map[string]any
	if err := json.Unmarshal([]byte(raw), &answers); err != nil || answers == nil {
		return nil, errBadAnswers
	}
	return answers, nil
}

// Select makes id the active patient. The record is fetched first; the
// previous context stays in place until it arrives, and a failed fetch leaves
// it untouched. On success the selection, the record and a cleared set of
// insight slots are swapped in at once under a new epoch. A Select started
// later, or a Reset, supersedes one still in flight. For doctors the latest
// stored profile and summary are then loaded on a best-effort basis.
func (m *Manager) Select(ctx context.Context, id int64) (*Record, error) {
	if id <= 0 {
		return nil, errInvalidID
	}
	m.mu.Lock()
	m.ticket++
	ticket, start := m.ticket, m.epoch
	m.mu.Unlock()

	rec, err := m.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.ticket != ticket || m.epoch != start {
		m.mu.Unlock()
		return nil, ErrSuperseded
	}
	m.epoch++
	epoch := m.epoch
	m.selected = &id
	m.record = rec
	m.insights = Insights{}
	m.mu.Unlock()

	if m.roles.Role() == auth.RoleDoctor {
		m.hydrate(ctx, epoch, id)
	}
	return rec, nil
}

// Bind makes id the active patient without fetching anything. It is used
// after a patient login, where the session already names the patient.
func (m *Manager) Bind(id int64) error {
	if id <= 0 {
		return errInvalidID
	}
	epoch := m.clear()
	m.commit(epoch, func() { m.selected = &id })
	return nil
}

// LoadRecord fetches the record of the active patient.
func (m *Manager) LoadRecord(ctx context.Context) (*Record, error) {
	return scoped(ctx, m, m.backend.Get, func(_ *Insights, r *Record) { m.record = r })
}

// Create registers a new patient on behalf of a doctor and selects it.
func (m *Manager) Create(ctx context.Context, p NewPatient) (*Record, error) {
	if err := auth.Require(m.roles.Role(), auth.CapPatientIntake); err != nil {
		return nil, err
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return nil, errNoName
	}
	rec, err := m.backend.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	return m.Select(ctx, rec.ID)
}

// ListPatients replaces the doctor's roster. The active patient is untouched.
func (m *Manager) ListPatients(ctx context.Context) ([]Record, error) {
	if err := auth.Require(m.roles.Role(), auth.CapPatientIntake); err != nil {
		return nil, err
	}
	m.mu.RLock()
	gen := m.gen
	m.mu.RUnlock()

	list, err := m.backend.List(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return nil, ErrSuperseded
	}
	m.roster = list
	return append([]Record(nil), list...), nil
}

// Reset clears the selection, every insight slot and the roster.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.gen++
	m.selected = nil
	m.record = nil
	m.insights = Insights{}
	m.roster = nil
}

// SelectedID returns the active patient id, if any.
func (m *Manager) SelectedID() (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.selected == nil {
		return 0, false
	}
	return *m.selected, true
}

// Snapshot copies the current context for rendering.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{Epoch: m.epoch, Insights: m.insights}
	if m.selected != nil {
		id := *m.selected
		s.SelectedID = &id
	}
	if m.record != nil {
		r := *m.record
		s.Patient = &r
	}
	if m.roster != nil {
		s.Roster = append([]Record{}, m.roster...)
	}
	if m.insights.HospitalMatches != nil {
		s.Insights.HospitalMatches = append([]HospitalMatch{}, m.insights.HospitalMatches...)
	}
	if m.insights.Documents != nil {
		s.Insights.Documents = append([]Document{}, m.insights.Documents...)
	}
	if m.insights.DocumentDetails != nil {
		s.Insights.DocumentDetails = append([]DocumentDetail{}, m.insights.DocumentDetails...)
	}
	return s
}

func (m *Manager) BuildProfile(ctx context.Context) (*Profile, error) {
	p, err := scoped(ctx, m, m.backend.BuildProfile, func(in *Insights, p *StoredProfile) {
		in.Profile = &p.Profile
	})
	if err != nil {
		return nil, err
	}
	return &p.Profile, nil
}

// LatestProfile loads the most recently stored profile version.
func (m *Manager) LatestProfile(ctx context.Context) (*StoredProfile, error) {
	return scoped(ctx, m, m.backend.LatestProfile, func(in *Insights, p *StoredProfile) {
		in.Profile = &p.Profile
		in.ProfileMeta = p
	})
}

func (m *Manager) RunTriage(ctx context.Context) (*Triage, error) {
	return scoped(ctx, m, m.backend.Triage, func(in *Insights, t *Triage) { in.Triage = t })
}

func (m *Manager) Summary(ctx context.Context) (*Summary, error) {
	return scoped(ctx, m, m.backend.Summary, func(in *Insights, s *Summary) { in.Summary = s })
}

// LatestSummary loads the most recently stored SBAR summary.
func (m *Manager) LatestSummary(ctx context.Context) (*StoredSummary, error) {
	return scoped(ctx, m, m.backend.LatestSummary, func(in *Insights, s *StoredSummary) {
		in.Summary = &s.SBAR
		in.SummaryMeta = s
	})
}

func (m *Manager) PreIntelligence(ctx context.Context) (*PreIntelligence, error) {
	return scoped(ctx, m, m.backend.PreIntelligence, func(in *Insights, p *PreIntelligence) { in.PreIntelligence = p })
}

// HospitalMatches ranks hospitals within radius, see NormalizeRadius.
func (m *Manager) HospitalMatches(ctx context.Context, radius string) ([]HospitalMatch, error) {
	km := NormalizeRadius(radius)
	fetch := func(ctx context.Context, id int64) ([]HospitalMatch, error) {
		return m.backend.HospitalMatches(ctx, id, km)
	}
	return scoped(ctx, m, fetch, func(in *Insights, h []HospitalMatch) { in.HospitalMatches = h })
}

func (m *Manager) NextQuestions(ctx context.Context) (*Questionnaire, error) {
	return scoped(ctx, m, m.backend.NextQuestions, func(in *Insights, q *Questionnaire) { in.Questionnaire = q })
}

// SubmitAnswers sends questionnaire answers given as a JSON object.
func (m *Manager) SubmitAnswers(ctx context.Context, raw string) error {
	id, _, err := m.active()
	if err != nil {
		return err
	}
	answers, err := ParseAnswers(raw)
	if err != nil {
		return err
	}
	return m.backend.SubmitAnswers(ctx, id, answers)
}

func (m *Manager) UploadDocument(ctx context.Context, f File) (*Document, error) {
	id, _, err := m.active()
	if err != nil {
		return nil, err
	}
	if f.Content == nil || strings.TrimSpace(f.Name) == "" {
		return nil, errNoDocument
	}
	return m.backend.UploadDocument(ctx, id, f)
}

func (m *Manager) UploadAudio(ctx context.Context, f File) (*Transcript, error) {
	id, _, err := m.active()
	if err != nil {
		return nil, err
	}
	if f.Content == nil || strings.TrimSpace(f.Name) == "" {
		return nil, errNoAudio
	}
	return m.backend.UploadAudio(ctx, id, f)
}

func (m *Manager) ListDocuments(ctx context.Context) ([]Document, error) {
	return scoped(ctx, m, m.backend.Documents, func(in *Insights, d []Document) { in.Documents = d })
}

func (m *Manager) DocumentDetails(ctx context.Context) ([]DocumentDetail, error) {
	return scoped(ctx, m, m.backend.DocumentDetails, func(in *Insights, d []DocumentDetail) { in.DocumentDetails = d })
}

// ReprocessDocuments re-runs extraction on the patient's uploads and stores
// the refreshed document list.
func (m *Manager) ReprocessDocuments(ctx context.Context) ([]Document, error) {
	return scoped(ctx, m, m.backend.ReprocessDocuments, func(in *Insights, d []Document) { in.Documents = d })
}

func (m *Manager) LatestCoach(ctx context.Context) (*Coach, error) {
	return scoped(ctx, m, m.backend.LatestCoach, func(in *Insights, c *Coach) { in.Coach = c })
}

func (m *Manager) GenerateCoach(ctx context.Context) (*Coach, error) {
	return scoped(ctx, m, m.backend.GenerateCoach, func(in *Insights, c *Coach) { in.Coach = c })
}

// Adherence summarizes medication doses over the last days; zero selects
// DefaultAdherenceDays.
func (m *Manager) Adherence(ctx context.Context, days int) (*Adherence, error) {
	if _, _, err := m.active(); err != nil {
		return nil, err
	}
	if days == 0 {
		days = DefaultAdherenceDays
	}
	if days < 0 {
		return nil, errBadDays
	}
	fetch := func(ctx context.Context, id int64) (*Adherence, error) {
		return m.backend.Adherence(ctx, id, days)
	}
	return scoped(ctx, m, fetch, func(in *Insights, a *Adherence) { in.Adherence = a })
}

func (m *Manager) SubmitFeedback(ctx context.Context, fb Feedback) error {
	id, _, err := m.active()
	if err != nil {
		return err
	}
	fb.TraceID = strings.TrimSpace(fb.TraceID)
	fb.Rating = strings.ToLower(strings.TrimSpace(fb.Rating))
	if fb.TraceID == "" {
		return errNoTraceID
	}
	if !validRatings[fb.Rating] {
		return errBadRating
	}
	return m.backend.SubmitFeedback(ctx, id, fb)
}

// hydrate loads the latest stored profile and summary concurrently. Missing
// data is normal, so failures are only logged.
func (m *Manager) hydrate(ctx context.Context, epoch uint64, id int64) {
	var g errgroup.Group
	g.Go(func() error {
		p, err := m.backend.LatestProfile(ctx, id)
		res := gateway.Try(p, err)
		if !res.OK() {
			m.logger.Debug().Err(res.Err).Int64("patient_id", id).Msg("no stored profile")
			return nil
		}
		m.commit(epoch, func() {
			m.insights.Profile = &res.Value.Profile
			m.insights.ProfileMeta = res.Value
		})
		return nil
	})
	g.Go(func() error {
		s, err := m.backend.LatestSummary(ctx, id)
		res := gateway.Try(s, err)
		if !res.OK() {
			m.logger.Debug().Err(res.Err).Int64("patient_id", id).Msg("no stored summary")
			return nil
		}
		m.commit(epoch, func() {
			m.insights.Summary = &res.Value.SBAR
			m.insights.SummaryMeta = res.Value
		})
		return nil
	})
	_ = g.Wait()
}

// clear drops the selection and every insight slot and starts a new epoch.
func (m *Manager) clear() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.selected = nil
	m.record = nil
	m.insights = Insights{}
	return m.epoch
}

// active returns the selected patient and the epoch it was selected in.
func (m *Manager) active() (int64, uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.selected == nil {
		return 0, 0, errNoPatient
	}
	return *m.selected, m.epoch, nil
}

// commit applies fn if the context is still in epoch.
func (m *Manager) commit(epoch uint64, fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return false
	}
	fn()
	return true
}

// scoped fetches a value for the active patient and stores it with set,
// unless the selection changed in the meantime.
func scoped[T any](ctx context.Context, m *Manager, fetch func(context.Context, int64) (T, error), set func(*Insights, T)) (T, error) {
	var zero T
	id, epoch, err := m.active()
	if err != nil {
		return zero, err
	}
	v, err := fetch(ctx, id)
	if err != nil {
		return zero, err
	}
	if !m.commit(epoch, func() { set(&m.insights, v) }) {
		m.logger.Debug().Int64("patient_id", id).Msg("discarding result for previous patient")
		return zero, ErrSuperseded
	}
	return v, nil
}
