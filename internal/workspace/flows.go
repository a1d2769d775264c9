package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/ehr/copilot/internal/domain/patient"
	"github.com/ehr/copilot/internal/domain/session"
	"github.com/ehr/copilot/internal/platform/apperr"
	"github.com/ehr/copilot/internal/platform/auth"
	"github.com/ehr/copilot/internal/platform/gateway"
)

// -- Access --

func (w *Workspace) Login(ctx context.Context, role auth.Role, mobile, password string) error {
	return w.run(ctx, "login", func(ctx context.Context) (string, error) {
		sess, err := w.sessions.Login(ctx, role, mobile, password)
		if err != nil {
			return "", err
		}
		return w.hydrate(ctx, sess, fmt.Sprintf("Logged in as %s.", sess.Role)), nil
	})
}

func (w *Workspace) SignupPatient(ctx context.Context, p session.PatientSignup) error {
	return w.run(ctx, "signup", func(ctx context.Context) (string, error) {
		sess, err := w.sessions.SignupPatient(ctx, p)
		if err != nil {
			return "", err
		}
		return w.hydrate(ctx, sess, "Patient account created."), nil
	})
}

func (w *Workspace) SignupNonPatient(ctx context.Context, role auth.Role, mobile, password string) error {
	return w.run(ctx, "signup", func(ctx context.Context) (string, error) {
		sess, err := w.sessions.SignupNonPatient(ctx, role, mobile, password)
		if err != nil {
			return "", err
		}
		return w.hydrate(ctx, sess, fmt.Sprintf("Created %s account.", sess.Role)), nil
	})
}

// Logout clears the session and, through the session listener, the whole
// patient context.
func (w *Workspace) Logout(ctx context.Context) error {
	return w.run(ctx, "logout", func(context.Context) (string, error) {
		w.sessions.Logout()
		return "Logged out.", nil
	})
}

// hydrate loads the patient bound to a fresh session. The record, documents
// and latest coach message are each best-effort: the session stays
// established and failures are appended to the confirmation.
func (w *Workspace) hydrate(ctx context.Context, sess *session.Session, confirm string) string {
	if !sess.HasPatient() {
		return confirm
	}
	id := *sess.PatientID
	if err := w.patients.Bind(id); err != nil {
		return confirm
	}

	rec, err := w.patients.LoadRecord(ctx)
	record := gateway.Try(rec, err)
	docs, err := w.patients.ListDocuments(ctx)
	documents := gateway.Try(docs, err)
	c, err := w.patients.LatestCoach(ctx)
	coach := gateway.Try(c, err)

	var issues []string
	note := func(what string, err error) {
		w.logger.Warn().Err(err).Int64("patient_id", id).Msgf("post-login %s fetch failed", what)
		issues = append(issues, fmt.Sprintf("%s (%s)", what, apperr.Message(err)))
	}
	if !record.OK() {
		note("record", record.Err)
	}
	if !documents.OK() {
		note("documents", documents.Err)
	}
	if !coach.OK() {
		note("coach message", coach.Err)
	}

	msg := fmt.Sprintf("%s Loaded patient #%d", confirm, id)
	if documents.OK() {
		msg += fmt.Sprintf(" with %d documents", len(documents.Value))
	}
	msg += "."
	if len(issues) > 0 {
		msg += " Could not load: " + strings.Join(issues, "; ") + "."
	}
	return msg
}

// -- Patient context --

// SelectPatient parses raw as a patient id and loads that patient.
func (w *Workspace) SelectPatient(ctx context.Context, raw string) error {
	return w.run(ctx, "select_patient", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientContext); err != nil {
			return "", err
		}
		id, err := patient.ParseID(raw)
		if err != nil {
			return "", err
		}
		if err := w.ownRecordOnly(id); err != nil {
			return "", err
		}
		rec, err := w.patients.Select(ctx, id)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Loaded patient #%d", rec.ID), nil
	})
}

// ownRecordOnly keeps a patient session on the record its login named.
func (w *Workspace) ownRecordOnly(id int64) error {
	sess := w.sessions.Current()
	if sess == nil || sess.Role != auth.RolePatient {
		return nil
	}
	if sess.PatientID == nil || *sess.PatientID != id {
		return apperr.Precondition("patients can only open their own record")
	}
	return nil
}

func (w *Workspace) CreatePatient(ctx context.Context, p patient.NewPatient) error {
	return w.run(ctx, "create_patient", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientIntake); err != nil {
			return "", err
		}
		rec, err := w.patients.Create(ctx, p)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Patient created: %s (#%d)", rec.Name, rec.ID), nil
	})
}

func (w *Workspace) ListPatients(ctx context.Context) error {
	return w.run(ctx, "list_patients", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientIntake); err != nil {
			return "", err
		}
		list, err := w.patients.ListPatients(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Loaded %d patients.", len(list)), nil
	})
}

// -- Patient operations --

func (w *Workspace) UploadDocument(ctx context.Context, f patient.File) error {
	return w.run(ctx, "upload_document", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		if _, err := w.patients.UploadDocument(ctx, f); err != nil {
			return "", err
		}
		return "Document uploaded. Refresh documents to review.", nil
	})
}

func (w *Workspace) UploadAudio(ctx context.Context, f patient.File) error {
	return w.run(ctx, "upload_audio", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		if _, err := w.patients.UploadAudio(ctx, f); err != nil {
			return "", err
		}
		return "Audio uploaded and transcribed. Build profile when ready.", nil
	})
}

func (w *Workspace) BuildProfile(ctx context.Context) error {
	return w.run(ctx, "build_profile", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		if _, err := w.patients.BuildProfile(ctx); err != nil {
			return "", err
		}
		return "Profile built from latest uploads.", nil
	})
}

// RefreshProfile loads the latest stored profile version.
func (w *Workspace) RefreshProfile(ctx context.Context) error {
	return w.run(ctx, "refresh_profile", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		p, err := w.patients.LatestProfile(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Loaded profile version %d.", p.Version), nil
	})
}

func (w *Workspace) RunTriage(ctx context.Context) error {
	return w.run(ctx, "triage", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		t, err := w.patients.RunTriage(ctx)
		if err != nil {
			return "", err
		}
		return "Triage level: " + strings.ToUpper(string(t.Level())), nil
	})
}

func (w *Workspace) Summary(ctx context.Context) error {
	return w.run(ctx, "summary", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		if _, err := w.patients.Summary(ctx); err != nil {
			return "", err
		}
		return "SBAR summary generated.", nil
	})
}

// LatestSummary loads the most recently stored SBAR summary.
func (w *Workspace) LatestSummary(ctx context.Context) error {
	return w.run(ctx, "latest_summary", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		s, err := w.patients.LatestSummary(ctx)
		if err != nil {
			return "", err
		}
		if at, ok := s.Created(); ok {
			return "Loaded SBAR summary from " + at.Local().Format("2 Jan 2006 15:04") + ".", nil
		}
		return "Loaded stored SBAR summary.", nil
	})
}

func (w *Workspace) PreIntelligence(ctx context.Context) error {
	return w.run(ctx, "preintelligence", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		if _, err := w.patients.PreIntelligence(ctx); err != nil {
			return "", err
		}
		return "Pre-intelligence ready.", nil
	})
}

// HospitalMatches ranks hospitals for the active patient. radius is the
// user's raw input; see patient.NormalizeRadius.
func (w *Workspace) HospitalMatches(ctx context.Context, radius string) error {
	return w.run(ctx, "hospital_matches", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapHospitalOps); err != nil {
			return "", err
		}
		list, err := w.patients.HospitalMatches(ctx, radius)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Found %d hospital matches.", len(list)), nil
	})
}

func (w *Workspace) NextQuestions(ctx context.Context) error {
	return w.run(ctx, "next_questions", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		if _, err := w.patients.NextQuestions(ctx); err != nil {
			return "", err
		}
		return "Fetched adaptive questions.", nil
	})
}

// SubmitAnswers sends raw, a JSON object of answers.
func (w *Workspace) SubmitAnswers(ctx context.Context, raw string) error {
	return w.run(ctx, "submit_answers", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		if err := w.patients.SubmitAnswers(ctx, raw); err != nil {
			return "", err
		}
		return "Answers submitted. Refresh profile when ready.", nil
	})
}

func (w *Workspace) ListDocuments(ctx context.Context) error {
	return w.run(ctx, "list_documents", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		docs, err := w.patients.ListDocuments(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Loaded %d documents.", len(docs)), nil
	})
}

func (w *Workspace) DocumentDetails(ctx context.Context) error {
	return w.run(ctx, "document_details", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		details, err := w.patients.DocumentDetails(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Loaded details for %d documents.", len(details)), nil
	})
}

func (w *Workspace) ReprocessDocuments(ctx context.Context) error {
	return w.run(ctx, "reprocess_documents", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		docs, err := w.patients.ReprocessDocuments(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Reprocessed %d documents.", len(docs)), nil
	})
}

func (w *Workspace) LatestCoach(ctx context.Context) error {
	return w.run(ctx, "latest_coach", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapCoach); err != nil {
			return "", err
		}
		c, err := w.patients.LatestCoach(ctx)
		if err != nil {
			return "", err
		}
		if c.Empty() {
			return "No recovery coach message yet.", nil
		}
		return "Loaded the latest recovery coach message.", nil
	})
}

func (w *Workspace) GenerateCoach(ctx context.Context) error {
	return w.run(ctx, "generate_coach", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapCoach); err != nil {
			return "", err
		}
		if _, err := w.patients.GenerateCoach(ctx); err != nil {
			return "", err
		}
		return "Generated a new recovery coach message.", nil
	})
}

// Adherence summarizes dose logs over days; zero means the default window.
func (w *Workspace) Adherence(ctx context.Context, days int) error {
	return w.run(ctx, "adherence", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		a, err := w.patients.Adherence(ctx, days)
		if err != nil {
			return "", err
		}
		if days == 0 {
			days = patient.DefaultAdherenceDays
		}
		return fmt.Sprintf("Adherence over %d days: %d taken, %d missed, %d skipped.",
			days, a.Taken, a.Missed, a.Skipped), nil
	})
}

func (w *Workspace) SubmitFeedback(ctx context.Context, fb patient.Feedback) error {
	return w.run(ctx, "feedback", func(ctx context.Context) (string, error) {
		if err := w.gate(auth.CapPatientOps); err != nil {
			return "", err
		}
		if err := w.patients.SubmitFeedback(ctx, fb); err != nil {
			return "", err
		}
		return "Feedback received.", nil
	})
}
