package patient

import (
	"io"
	"time"

	"github.com/ehr/copilot/pkg/clinical"
)

// Record is the backend's patient record. The workspace holds a read-only
// copy until the next reset.
type Record struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Age           *int    `json:"age,omitempty"`
	Sex           *string `json:"sex,omitempty"`
	MaskedContact *string `json:"contact_masked,omitempty"`
}

// NewPatient is the doctor intake payload.
type NewPatient struct {
	Name     string  `json:"name"`
	Age      *int    `json:"age"`
	Sex      *string `json:"sex"`
	Contact  *string `json:"contact"`
	Mobile   *string `json:"mobile"`
	Password *string `json:"password"`
}

// Profile is the structured clinical profile built from uploads.
type Profile struct {
	Conditions    []string         `json:"conditions"`
	Allergies     []string         `json:"allergies"`
	Medications   []map[string]any `json:"medications"`
	Vitals        map[string]any   `json:"vitals"`
	Timeline      []string         `json:"timeline"`
	MissingFields []string         `json:"missing_fields"`
}

// StoredProfile wraps a persisted profile version.
type StoredProfile struct {
	PatientID int64   `json:"patient_id"`
	Profile   Profile `json:"profile"`
	Version   int     `json:"version"`
	CreatedAt *string `json:"created_at,omitempty"`
}

// Created parses CreatedAt.
func (p StoredProfile) Created() (time.Time, bool) { return parseTimestamp(p.CreatedAt) }

// Triage is the triage gate's outcome.
type Triage struct {
	RawLevel        string   `json:"level"`
	RedFlags        []string `json:"red_flags"`
	SpecialtyNeeded *string  `json:"specialty_needed,omitempty"`
	SafetyNotes     []string `json:"safety"`
}

// Level is the normalized triage band.
func (t Triage) Level() clinical.TriageLevel { return clinical.ParseTriageLevel(t.RawLevel) }

// Summary is an SBAR handoff summary.
type Summary struct {
	Situation      string   `json:"situation"`
	Background     string   `json:"background"`
	Assessment     string   `json:"assessment"`
	Recommendation string   `json:"recommendation"`
	SafetyNotes    []string `json:"safety"`
}

// StoredSummary wraps the latest persisted SBAR summary.
type StoredSummary struct {
	PatientID int64   `json:"patient_id"`
	SBAR      Summary `json:"sbar"`
	CreatedAt *string `json:"created_at,omitempty"`
}

// Created parses CreatedAt.
func (s StoredSummary) Created() (time.Time, bool) { return parseTimestamp(s.CreatedAt) }

type PreIntelligence struct {
	Risks             []string `json:"risks"`
	Interactions      []string `json:"interactions"`
	SuggestedTests    []string `json:"suggested_tests"`
	DifferentialHints []string `json:"differential_hints"`
	Safety            []string `json:"safety"`
}

type HospitalMatch struct {
	HospitalID string   `json:"hospital_id"`
	Name       string   `json:"name"`
	Score      float64  `json:"score"`
	Reasons    []string `json:"why"`
}

type Questionnaire struct {
	Questions []string `json:"questions"`
}

type Document struct {
	DocumentID    int64   `json:"document_id"`
	ExtractedText *string `json:"extracted_text,omitempty"`
}

type DocumentDetail struct {
	DocumentID  int64   `json:"document_id"`
	MimeType    string  `json:"mime_type"`
	HasText     bool    `json:"has_text"`
	TextPreview *string `json:"text_preview,omitempty"`
}

// Transcript is returned by an audio upload.
type Transcript struct {
	TranscriptID int64  `json:"transcript_id"`
	Text         string `json:"text"`
}

// Coach is a recovery coach message with its synthesized audio.
type Coach struct {
	ScriptText string `json:"script_text"`
	AudioPath  string `json:"audio_path"`
}

// Empty reports whether the backend had no stored message.
func (c Coach) Empty() bool { return c.ScriptText == "" && c.AudioPath == "" }

type Adherence struct {
	Taken   int `json:"taken"`
	Missed  int `json:"missed"`
	Skipped int `json:"skipped"`
}

// Feedback is clinician feedback on a generated artifact.
type Feedback struct {
	TraceID string  `json:"trace_id"`
	Rating  string  `json:"rating"`
	Comment *string `json:"comment"`
}

// File is a local file handed to an upload operation.
type File struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// Insights holds every derived slot attached to the active patient. A nil
// field means the slot is absent.
type Insights struct {
	Profile         *Profile
	ProfileMeta     *StoredProfile
	Triage          *Triage
	Summary         *Summary
	SummaryMeta     *StoredSummary
	PreIntelligence *PreIntelligence
	HospitalMatches []HospitalMatch
	Questionnaire   *Questionnaire
	Documents       []Document
	DocumentDetails []DocumentDetail
	Coach           *Coach
	Adherence       *Adherence
}

// Empty reports whether every slot is absent.
func (in Insights) Empty() bool {
	return in.Profile == nil && in.ProfileMeta == nil && in.Triage == nil &&
		in.Summary == nil && in.SummaryMeta == nil && in.PreIntelligence == nil &&
		in.HospitalMatches == nil && in.Questionnaire == nil && in.Documents == nil &&
		in.DocumentDetails == nil && in.Coach == nil && in.Adherence == nil
}

// Snapshot is a point-in-time copy of the patient context for rendering.
type Snapshot struct {
	SelectedID *int64
	Patient    *Record
	Insights   Insights
	// Roster is the doctor's patient list; nil when not loaded.
	Roster []Record
	// Epoch changes whenever the selection changes or the context resets.
	Epoch uint64
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(s *string) (time.Time, bool) {
	if s == nil || *s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, *s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
