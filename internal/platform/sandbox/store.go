package sandbox

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("Invalid credentials")
	ErrMobileTaken        = errors.New("Mobile already registered")
	ErrMobilePassword     = errors.New("Mobile and password must be provided together")
	ErrPatientNotFound    = errors.New("Patient not found")
)

// Sandbox credentials are throwaway; keep hashing cheap.
const passwordCost = bcrypt.MinCost

type Account struct {
	ID        int64
	Role      string
	Mobile    string
	PatientID *int64
	hash      []byte
}

type Patient struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Age           *int    `json:"age"`
	Sex           *string `json:"sex"`
	ContactMasked *string `json:"contact_masked"`
}

// PatientInput is the intake payload shared by POST /patients and patient
// signup.
type PatientInput struct {
	Name     string  `json:"name"`
	Age      *int    `json:"age"`
	Sex      *string `json:"sex"`
	Contact  *string `json:"contact"`
	Mobile   *string `json:"mobile"`
	Password *string `json:"password"`
}

type Document struct {
	ID        int64
	PatientID int64
	FileName  string
	MimeType  string
	Content   []byte
	Text      *string
	CreatedAt time.Time
}

type Transcript struct {
	ID        int64
	PatientID int64
	Text      string
}

type ProfileRecord struct {
	Profile   Profile
	Version   int
	CreatedAt time.Time
}

type SummaryRecord struct {
	SBAR      SBAR
	CreatedAt time.Time
}

type CoachRecord struct {
	ID        int64
	Script    string
	AudioPath string
	Audio     []byte
	CreatedAt time.Time
}

type DoseLog struct {
	Action string
	At     time.Time
}

type FeedbackRecord struct {
	TraceID string
	Rating  string
	Comment *string
}

// Store is the sandbox's in-memory database. Everything is lost on restart.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time
	seq map[string]int64

	accounts    []*Account
	patients    map[int64]*Patient
	documents   map[int64][]*Document
	transcripts map[int64][]Transcript
	profiles    map[int64][]ProfileRecord
	triage      map[int64]Triage
	summaries   map[int64][]SummaryRecord
	coach       map[int64][]CoachRecord
	answers     map[int64]map[string]any
	doses       map[int64][]DoseLog
	feedback    map[int64][]FeedbackRecord
}

func NewStore() *Store {
	s := &Store{now: time.Now}
	s.reset()
	return s
}

// Reset drops every record.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset()
}

func (s *Store) reset() {
	s.seq = map[string]int64{}
	s.accounts = nil
	s.patients = map[int64]*Patient{}
	s.documents = map[int64][]*Document{}
	s.transcripts = map[int64][]Transcript{}
	s.profiles = map[int64][]ProfileRecord{}
	s.triage = map[int64]Triage{}
	s.summaries = map[int64][]SummaryRecord{}
	s.coach = map[int64][]CoachRecord{}
	s.answers = map[int64]map[string]any{}
	s.doses = map[int64][]DoseLog{}
	s.feedback = map[int64][]FeedbackRecord{}
}

func (s *Store) nextID(kind string) int64 {
	s.seq[kind]++
	return s.seq[kind]
}

var mobileChars = regexp.MustCompile(`[^0-9+]`)

// NormalizeMobile keeps only digits and '+'.
func NormalizeMobile(mobile string) string {
	return mobileChars.ReplaceAllString(mobile, "")
}

var (
	emailPattern = regexp.MustCompile(`[\w.-]+@[\w.-]+`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\-\s]{7,}\d`)
)

// MaskPHI replaces email addresses and phone numbers in text.
func MaskPHI(text string) string {
	text = emailPattern.ReplaceAllString(text, "[email]")
	return phonePattern.ReplaceAllString(text, "[phone]")
}

// CreateAccount registers credentials for role. patientID binds a patient
// account to its record.
func (s *Store) CreateAccount(role, mobile, password string, patientID *int64) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createAccount(role, NormalizeMobile(mobile), hash, patientID)
}

func (s *Store) createAccount(role, mobile string, hash []byte, patientID *int64) (*Account, error) {
	if s.findAccount(role, mobile) != nil {
		return nil, ErrMobileTaken
	}
	a := &Account{ID: s.nextID("account"), Role: role, Mobile: mobile, PatientID: patientID, hash: hash}
	s.accounts = append(s.accounts, a)
	cp := *a
	return &cp, nil
}

func (s *Store) findAccount(role, mobile string) *Account {
	for _, a := range s.accounts {
		if a.Role == role && a.Mobile == mobile {
			return a
		}
	}
	return nil
}

// Authenticate checks credentials for role.
func (s *Store) Authenticate(role, mobile, password string) (*Account, error) {
	s.mu.RLock()
	a := s.findAccount(role, NormalizeMobile(mobile))
	s.mu.RUnlock()
	if a == nil || bcrypt.CompareHashAndPassword(a.hash, []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	cp := *a
	return &cp, nil
}

// CreatePatient stores a patient record, masking its contact, and registers
// a patient account when mobile and password are both supplied. The account
// id is 0 when none was created.
func (s *Store) CreatePatient(in PatientInput) (*Patient, int64, error) {
	mobile, password := strings.TrimSpace(deref(in.Mobile)), deref(in.Password)
	if (mobile == "") != (password == "") {
		return nil, 0, ErrMobilePassword
	}
	var hash []byte
	if mobile != "" {
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(password), passwordCost); err != nil {
			return nil, 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	mobile = NormalizeMobile(mobile)
	if mobile != "" && s.findAccount("patient", mobile) != nil {
		return nil, 0, ErrMobileTaken
	}
	p := &Patient{ID: s.nextID("patient"), Name: in.Name, Age: in.Age, Sex: in.Sex}
	if c := strings.TrimSpace(deref(in.Contact)); c != "" {
		masked := MaskPHI(c)
		p.ContactMasked = &masked
	}
	s.patients[p.ID] = p

	var accountID int64
	if mobile != "" {
		id := p.ID
		a, err := s.createAccount("patient", mobile, hash, &id)
		if err != nil {
			return nil, 0, err
		}
		accountID = a.ID
	}
	cp := *p
	return &cp, accountID, nil
}

func (s *Store) Patients() []Patient {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Patient, 0, len(s.patients))
	for _, p := range s.patients {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Patient(id int64) (Patient, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return Patient{}, false
	}
	return *p, true
}

func (s *Store) AddDocument(patientID int64, name, mimeType string, content []byte) Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := &Document{
		ID:        s.nextID("document"),
		PatientID: patientID,
		FileName:  name,
		MimeType:  mimeType,
		Content:   content,
		Text:      extractText(name, mimeType, content),
		CreatedAt: s.now(),
	}
	s.documents[patientID] = append(s.documents[patientID], d)
	return *d
}

func (s *Store) Documents(patientID int64) []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.documents[patientID]))
	for _, d := range s.documents[patientID] {
		out = append(out, *d)
	}
	return out
}

// Reprocess re-runs extraction for documents that have no text yet.
func (s *Store) Reprocess(patientID int64) []Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Document, 0, len(s.documents[patientID]))
	for _, d := range s.documents[patientID] {
		if d.Text == nil || strings.TrimSpace(*d.Text) == "" {
			if t := extractText(d.FileName, d.MimeType, d.Content); t != nil && strings.TrimSpace(*t) != "" {
				d.Text = t
			}
		}
		out = append(out, *d)
	}
	return out
}

func (s *Store) AddTranscript(patientID int64, text string) Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Transcript{ID: s.nextID("transcript"), PatientID: patientID, Text: text}
	s.transcripts[patientID] = append(s.transcripts[patientID], t)
	return t
}

// Texts returns the non-empty extracted text of every document followed by
// every transcript.
func (s *Store) Texts(patientID int64) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, d := range s.documents[patientID] {
		if d.Text != nil && strings.TrimSpace(*d.Text) != "" {
			out = append(out, *d.Text)
		}
	}
	for _, t := range s.transcripts[patientID] {
		if strings.TrimSpace(t.Text) != "" {
			out = append(out, t.Text)
		}
	}
	return out
}

func (s *Store) SaveProfile(patientID int64, p Profile) ProfileRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := ProfileRecord{Profile: p, Version: len(s.profiles[patientID]) + 1, CreatedAt: s.now()}
	s.profiles[patientID] = append(s.profiles[patientID], r)
	return r
}

func (s *Store) LatestProfile(patientID int64) (ProfileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.profiles[patientID]
	if len(list) == 0 {
		return ProfileRecord{}, false
	}
	return list[len(list)-1], true
}

func (s *Store) SaveTriage(patientID int64, t Triage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.triage[patientID] = t
}

func (s *Store) LatestTriage(patientID int64) (Triage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.triage[patientID]
	return t, ok
}

func (s *Store) SaveSummary(patientID int64, sbar SBAR) SummaryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := SummaryRecord{SBAR: sbar, CreatedAt: s.now()}
	s.summaries[patientID] = append(s.summaries[patientID], r)
	return r
}

func (s *Store) LatestSummary(patientID int64) (SummaryRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.summaries[patientID]
	if len(list) == 0 {
		return SummaryRecord{}, false
	}
	return list[len(list)-1], true
}

// SaveCoach stores a coach message and assigns its audio path.
func (s *Store) SaveCoach(patientID int64, script string, audio []byte) CoachRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := CoachRecord{ID: s.nextID("coach"), Script: script, Audio: audio, CreatedAt: s.now()}
	r.AudioPath = coachAudioPath(r.ID)
	s.coach[patientID] = append(s.coach[patientID], r)
	return r
}

func (s *Store) LatestCoach(patientID int64) (CoachRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.coach[patientID]
	if len(list) == 0 {
		return CoachRecord{}, false
	}
	return list[len(list)-1], true
}

// CoachAudio finds a coach message's audio by message id.
func (s *Store) CoachAudio(id int64) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, list := range s.coach {
		for _, r := range list {
			if r.ID == id {
				return r.Audio, true
			}
		}
	}
	return nil, false
}

// SaveAnswers merges questionnaire answers into what the patient already gave.
func (s *Store) SaveAnswers(patientID int64, answers map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := s.answers[patientID]
	if merged == nil {
		merged = map[string]any{}
		s.answers[patientID] = merged
	}
	for k, v := range answers {
		merged[k] = v
	}
}

func (s *Store) Answers(patientID int64) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.answers[patientID]))
	for k, v := range s.answers[patientID] {
		out[k] = v
	}
	return out
}

func (s *Store) LogDose(patientID int64, action string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doses[patientID] = append(s.doses[patientID], DoseLog{Action: action, At: at})
}

// Adherence counts dose actions logged within the last days.
func (s *Store) Adherence(patientID int64, days int) Adherence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	since := s.now().AddDate(0, 0, -days)
	var a Adherence
	for _, d := range s.doses[patientID] {
		if d.At.Before(since) {
			continue
		}
		switch d.Action {
		case doseTaken:
			a.Taken++
		case doseMissed:
			a.Missed++
		case doseSkipped:
			a.Skipped++
		}
	}
	return a
}

func (s *Store) SaveFeedback(patientID int64, fb FeedbackRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[patientID] = append(s.feedback[patientID], fb)
}

func (s *Store) Feedback(patientID int64) []FeedbackRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]FeedbackRecord(nil), s.feedback[patientID]...)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
