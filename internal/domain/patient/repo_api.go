package patient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ehr/copilot/internal/platform/gateway"
)

const patientsPath = "/api/v1/patients"

// APIBackend implements Backend over the request gateway.
type APIBackend struct {
	gw *gateway.Client
}

func NewAPIBackend(gw *gateway.Client) *APIBackend {
	return &APIBackend{gw: gw}
}

func scopedPath(id int64, suffix string) string {
	return fmt.Sprintf("%s/%d%s", patientsPath, id, suffix)
}

// FormatRadius renders a radius the way it is sent on the query string.
func FormatRadius(km float64) string {
	return strconv.FormatFloat(km, 'f', -1, 64)
}

func (b *APIBackend) get(ctx context.Context, path string, query url.Values, out any) error {
	return b.gw.Do(ctx, gateway.Request{Method: http.MethodGet, Path: path, Query: query}, out)
}

func (b *APIBackend) post(ctx context.Context, path string, body any, out any) error {
	return b.gw.Do(ctx, gateway.Request{Method: http.MethodPost, Path: path, JSON: body}, out)
}

func (b *APIBackend) upload(ctx context.Context, path string, f File, out any) error {
	return b.gw.Do(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   path,
		File: &gateway.Upload{
			FileName:    f.Name,
			ContentType: f.ContentType,
			Content:     f.Content,
		},
	}, out)
}

func (b *APIBackend) Get(ctx context.Context, id int64) (*Record, error) {
	var r Record
	if err := b.get(ctx, scopedPath(id, ""), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (b *APIBackend) List(ctx context.Context) ([]Record, error) {
	out := []Record{}
	if err := b.get(ctx, patientsPath, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *APIBackend) Create(ctx context.Context, p NewPatient) (*Record, error) {
	var r Record
	if err := b.post(ctx, patientsPath, p, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (b *APIBackend) BuildProfile(ctx context.Context, id int64) (*StoredProfile, error) {
	var p StoredProfile
	if err := b.post(ctx, scopedPath(id, "/profile/build"), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *APIBackend) LatestProfile(ctx context.Context, id int64) (*StoredProfile, error) {
	var p StoredProfile
	if err := b.get(ctx, scopedPath(id, "/profile/latest"), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *APIBackend) Triage(ctx context.Context, id int64) (*Triage, error) {
	var t Triage
	if err := b.post(ctx, scopedPath(id, "/triage"), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *APIBackend) Summary(ctx context.Context, id int64) (*Summary, error) {
	var s Summary
	if err := b.get(ctx, scopedPath(id, "/summary"), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *APIBackend) LatestSummary(ctx context.Context, id int64) (*StoredSummary, error) {
	var s StoredSummary
	if err := b.get(ctx, scopedPath(id, "/summary/latest"), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *APIBackend) PreIntelligence(ctx context.Context, id int64) (*PreIntelligence, error) {
	var p PreIntelligence
	if err := b.get(ctx, scopedPath(id, "/preintelligence"), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (b *APIBackend) HospitalMatches(ctx context.Context, id int64, radiusKm float64) ([]HospitalMatch, error) {
	out := []HospitalMatch{}
	q := url.Values{"radius_km": {FormatRadius(radiusKm)}}
	if err := b.get(ctx, scopedPath(id, "/hospitals/recommendations"), q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *APIBackend) NextQuestions(ctx context.Context, id int64) (*Questionnaire, error) {
	var q Questionnaire
	if err := b.post(ctx, scopedPath(id, "/questionnaire/next"), nil, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

func (b *APIBackend) SubmitAnswers(ctx context.Context, id int64, answers map[string]any) error {
	body := map[string]any{"answers": answers}
	return b.post(ctx, scopedPath(id, "/questionnaire/answer"), body, nil)
}

func (b *APIBackend) UploadDocument(ctx context.Context, id int64, f File) (*Document, error) {
	var d Document
	if err := b.upload(ctx, scopedPath(id, "/uploads"), f, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (b *APIBackend) UploadAudio(ctx context.Context, id int64, f File) (*Transcript, error) {
	var t Transcript
	if err := b.upload(ctx, scopedPath(id, "/audio"), f, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *APIBackend) Documents(ctx context.Context, id int64) ([]Document, error) {
	out := []Document{}
	if err := b.get(ctx, scopedPath(id, "/uploads"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *APIBackend) DocumentDetails(ctx context.Context, id int64) ([]DocumentDetail, error) {
	out := []DocumentDetail{}
	if err := b.get(ctx, scopedPath(id, "/uploads/detail"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *APIBackend) ReprocessDocuments(ctx context.Context, id int64) ([]Document, error) {
	out := []Document{}
	if err := b.post(ctx, scopedPath(id, "/uploads/reprocess"), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *APIBackend) LatestCoach(ctx context.Context, id int64) (*Coach, error) {
	var c Coach
	if err := b.get(ctx, scopedPath(id, "/recovery-coach/latest"), nil, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (b *APIBackend) GenerateCoach(ctx context.Context, id int64) (*Coach, error) {
	var c Coach
	if err := b.post(ctx, scopedPath(id, "/recovery-coach/generate"), nil, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (b *APIBackend) Adherence(ctx context.Context, id int64, days int) (*Adherence, error) {
	var a Adherence
	q := url.Values{"days": {strconv.Itoa(days)}}
	if err := b.get(ctx, scopedPath(id, "/adherence"), q, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (b *APIBackend) SubmitFeedback(ctx context.Context, id int64, fb Feedback) error {
	return b.post(ctx, scopedPath(id, "/feedback"), fb, nil)
}
