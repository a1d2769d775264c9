package clinical

import "strings"

// Common value sets shared by the workspace and the sandbox backend.

// TriageLevel is the urgency band returned by the triage endpoint.
type TriageLevel string

// Triage levels.
const (
	TriageRed     TriageLevel = "red"
	TriageAmber   TriageLevel = "amber"
	TriageGreen   TriageLevel = "green"
	TriageUnknown TriageLevel = "unknown"
)

// ParseTriageLevel normalizes a backend level ("GREEN", " Amber ") onto the
// known set. Anything unrecognized is TriageUnknown.
func ParseTriageLevel(s string) TriageLevel {
	switch TriageLevel(strings.ToLower(strings.TrimSpace(s))) {
	case TriageRed:
		return TriageRed
	case TriageAmber:
		return TriageAmber
	case TriageGreen:
		return TriageGreen
	}
	return TriageUnknown
}

// Urgent reports whether the level needs immediate escalation.
func (l TriageLevel) Urgent() bool { return l == TriageRed }

// AdministrativeSex codes accepted on patient intake.
const (
	SexMale    = "male"
	SexFemale  = "female"
	SexOther   = "other"
	SexUnknown = "unknown"
)

// Dose log actions counted by the adherence endpoint.
const (
	DoseTaken   = "taken"
	DoseMissed  = "missed"
	DoseSkipped = "skipped"
)

// Feedback ratings accepted by the feedback endpoint.
const (
	RatingUseful    = "useful"
	RatingNotUseful = "not_useful"
	RatingUnsafe    = "unsafe"
)

// SafetyFooter is appended by the backend to generated patient-facing text.
const SafetyFooter = "This is not medical advice. Contact your clinician or emergency services if symptoms worsen."
