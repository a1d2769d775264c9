// Package workspace runs the user-facing flows of the clinical workspace.
// Each flow checks the session's capabilities, drives the session store and
// patient context manager, and reports a single outcome to the Reporter.
package workspace

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/copilot/internal/domain/patient"
	"github.com/ehr/copilot/internal/domain/session"
	"github.com/ehr/copilot/internal/platform/apperr"
	"github.com/ehr/copilot/internal/platform/auth"
	"github.com/ehr/copilot/internal/platform/gateway"
)

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger sets the workspace logger. It is also handed to the patient
// context manager.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

// Workspace owns the session, the patient context and the status line.
type Workspace struct {
	gw       *gateway.Client
	sessions *session.Store
	patients *patient.Manager
	reporter *Reporter
	logger   zerolog.Logger
}

// New wires a workspace against the backend reachable through gw.
func New(gw *gateway.Client, opts ...Option) *Workspace {
	w := &Workspace{
		gw:       gw,
		reporter: NewReporter(),
		logger:   zerolog.Nop(),
	}
	for _, o := range opts {
		o(w)
	}
	w.sessions = session.NewStore(session.NewAPIAuthenticator(gw))
	w.patients = patient.NewManager(patient.NewAPIBackend(gw), w.sessions,
		patient.WithLogger(w.logger.With().Str("component", "patient").Logger()))

	// Any session change, including a second login, starts from an empty
	// patient context.
	w.sessions.OnChange(func(*session.Session) { w.patients.Reset() })
	return w
}

// Session returns the current session, or nil when logged out.
func (w *Workspace) Session() *session.Session { return w.sessions.Current() }

// Capabilities returns the workflow groups visible to the current session.
func (w *Workspace) Capabilities() auth.Capabilities {
	return auth.Resolve(w.sessions.Role())
}

// Snapshot returns the patient context for rendering.
func (w *Workspace) Snapshot() patient.Snapshot { return w.patients.Snapshot() }

// Status returns the busy flag and status line.
func (w *Workspace) Status() Status { return w.reporter.Status() }

// APIBase returns the backend origin in use.
func (w *Workspace) APIBase() string { return w.gw.BaseURL() }

// SetAPIBase points subsequent calls at another backend origin.
func (w *Workspace) SetAPIBase(base string) { w.gw.SetBaseURL(base) }

// CoachAudioURL resolves the audio of the current coach message, or returns
// "" when there is none.
func (w *Workspace) CoachAudioURL() string {
	c := w.patients.Snapshot().Insights.Coach
	if c == nil || c.AudioPath == "" {
		return ""
	}
	return w.gw.AssetURL(c.AudioPath)
}

// run executes fn as the active flow and reports its outcome.
func (w *Workspace) run(ctx context.Context, name string, fn func(context.Context) (string, error)) error {
	op := w.reporter.Begin(name)
	start := time.Now()
	log := w.logger.With().Str("flow", name).Str("op_id", op.String()).Logger()
	log.Debug().Msg("flow started")

	msg, err := fn(ctx)
	failed := err != nil
	if failed {
		msg = apperr.Message(err)
	}

	if !w.reporter.Finish(op, msg, failed) {
		log.Info().Err(err).Str("status", msg).Msg("flow superseded, outcome dropped")
		return err
	}

	level := zerolog.InfoLevel
	switch {
	case apperr.IsValidation(err), apperr.IsPrecondition(err):
		level = zerolog.DebugLevel
	case failed && !errors.Is(err, patient.ErrSuperseded):
		level = zerolog.WarnLevel
	}
	log.WithLevel(level).Err(err).Dur("latency", time.Since(start)).Str("status", msg).Msg("flow finished")
	return err
}

// gate refuses a flow whose capability the current role lacks.
func (w *Workspace) gate(capability auth.Capability) error {
	return auth.Require(w.sessions.Role(), capability)
}
