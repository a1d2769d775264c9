package patient

import (
	"context"
)

// Backend is the patient-scoped backend surface the manager depends on.
type Backend interface {
	Get(ctx context.Context, id int64) (*Record, error)
	List(ctx context.Context) ([]Record, error)
	Create(ctx context.Context, p NewPatient) (*Record, error)

	BuildProfile(ctx context.Context, id int64) (*StoredProfile, error)
	LatestProfile(ctx context.Context, id int64) (*StoredProfile, error)
	Triage(ctx context.Context, id int64) (*Triage, error)
	Summary(ctx context.Context, id int64) (*Summary, error)
	LatestSummary(ctx context.Context, id int64) (*StoredSummary, error)
	PreIntelligence(ctx context.Context, id int64) (*PreIntelligence, error)
	HospitalMatches(ctx context.Context, id int64, radiusKm float64) ([]HospitalMatch, error)
	NextQuestions(ctx context.Context, id int64) (*Questionnaire, error)
	SubmitAnswers(ctx context.Context, id int64, answers map[string]any) error

	UploadDocument(ctx context.Context, id int64, f File) (*Document, error)
	UploadAudio(ctx context.Context, id int64, f File) (*Transcript, error)
	Documents(ctx context.Context, id int64) ([]Document, error)
	DocumentDetails(ctx context.Context, id int64) ([]DocumentDetail, error)
	ReprocessDocuments(ctx context.Context, id int64) ([]Document, error)

	LatestCoach(ctx context.Context, id int64) (*Coach, error)
	GenerateCoach(ctx context.Context, id int64) (*Coach, error)
	Adherence(ctx context.Context, id int64, days int) (*Adherence, error)
	SubmitFeedback(ctx context.Context, id int64, fb Feedback) error
}
