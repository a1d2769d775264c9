package shell

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/ehr/copilot/internal/domain/patient"
	"github.com/ehr/copilot/internal/domain/session"
	"github.com/ehr/copilot/internal/platform/apperr"
	"github.com/ehr/copilot/internal/platform/auth"
	"github.com/ehr/copilot/pkg/pagination"
)

// Builtins returns the standard command set.
func Builtins() []Command {
	return []Command{
		// -- Access --
		{
			Name:        "login",
			Usage:       "login <role> <mobile> <password>",
			Description: "Log in as a patient, doctor or hospital",
			Category:    CategoryAccess,
			Run:         runLogin,
		},
		{
			Name:        "signup",
			Usage:       "signup <doctor|hospital> <mobile> <password> | signup patient <mobile> <password> <name> [age=N] [sex=S] [contact=C]",
			Description: "Create an account and log in",
			Category:    CategoryAccess,
			Run:         runSignup,
		},
		{
			Name:        "logout",
			Usage:       "logout",
			Description: "End the session and clear the patient context",
			Category:    CategoryAccess,
			Run: func(ctx context.Context, s *Shell, w io.Writer, _ []string) error {
				return s.flow(w, s.ws.Logout(ctx), nil)
			},
		},
		{
			Name:        "whoami",
			Aliases:     []string{"status"},
			Usage:       "whoami",
			Description: "Show the session, capabilities and status line",
			Category:    CategoryAccess,
			Run:         runWhoami,
		},

		// -- Patients --
		{
			Name:        "select",
			Aliases:     []string{"use"},
			Usage:       "select <patient-id>",
			Description: "Make a patient the active context",
			Category:    CategoryPatients,
			Capability:  auth.CapPatientContext,
			Run: func(ctx context.Context, s *Shell, w io.Writer, args []string) error {
				return s.flow(w, s.ws.SelectPatient(ctx, arg(args)), func() {
					renderPatient(w, s.ws.Snapshot().Patient)
				})
			},
		},
		{
			Name:        "patients",
			Aliases:     []string{"roster"},
			Usage:       "patients [next|prev]",
			Description: "List your patients, a page at a time",
			Category:    CategoryPatients,
			Capability:  auth.CapPatientIntake,
			Run:         runPatients,
		},
		{
			Name:        "create",
			Usage:       `create "<name>" [age=N] [sex=S] [contact=C] [mobile=M password=P]`,
			Description: "Register a new patient and select it",
			Category:    CategoryPatients,
			Capability:  auth.CapPatientIntake,
			Run:         runCreate,
		},
		{
			Name:        "show",
			Usage:       "show",
			Description: "Print everything loaded for the active patient",
			Category:    CategoryPatients,
			Run: func(_ context.Context, s *Shell, w io.Writer, _ []string) error {
				renderContext(w, s.ws.Snapshot(), s.ws.CoachAudioURL())
				return nil
			},
		},

		// -- Clinical --
		{
			Name:        "profile",
			Usage:       "profile [build]",
			Description: "Show the latest profile, or rebuild it from uploads",
			Category:    CategoryClinical,
			Capability:  auth.CapPatientOps,
			Run: func(ctx context.Context, s *Shell, w io.Writer, args []string) error {
				var err error
				switch sub(args) {
				case "":
					err = s.ws.RefreshProfile(ctx)
				case "build":
					err = s.ws.BuildProfile(ctx)
				default:
					return apperr.Validation("usage: profile [build]")
				}
				return s.flow(w, err, func() {
					in := s.ws.Snapshot().Insights
					renderProfile(w, in.Profile, in.ProfileMeta)
				})
			},
		},
		{
			Name:        "triage",
			Usage:       "triage",
			Description: "Run the triage gate",
			Category:    CategoryClinical,
			Capability:  auth.CapPatientOps,
			Run: func(ctx context.Context, s *Shell, w io.Writer, _ []string) error {
				return s.flow(w, s.ws.RunTriage(ctx), func() {
					renderTriage(w, s.ws.Snapshot().Insights.Triage)
				})
			},
		},
		{
			Name:        "summary",
			Aliases:     []string{"sbar"},
			Usage:       "summary [latest]",
			Description: "Generate an SBAR handoff summary, or show the stored one",
			Category:    CategoryClinical,
			Capability:  auth.CapPatientOps,
			Run: func(ctx context.Context, s *Shell, w io.Writer, args []string) error {
				var err error
				switch sub(args) {
				case "":
					err = s.ws.Summary(ctx)
				case "latest":
					err = s.ws.LatestSummary(ctx)
				default:
					return apperr.Validation("usage: summary [latest]")
				}
				return s.flow(w, err, func() {
					in := s.ws.Snapshot().Insights
					renderSummary(w, in.Summary, in.SummaryMeta)
				})
			},
		},
		{
			Name:        "preintel",
			Usage:       "preintel",
			Description: "Show pre-visit risks, interactions and suggested tests",
			Category:    CategoryClinical,
			Capability:  auth.CapPatientOps,
			Run: func(ctx context.Context, s *Shell, w io.Writer, _ []string) error {
				return s.flow(w, s.ws.PreIntelligence(ctx), func() {
					renderPreIntelligence(w, s.ws.Snapshot().Insights.PreIntelligence)
				})
			},
		},
		{
			Name:        "hospitals",
			Usage:       "hospitals [radius-km]",
			Description: "Rank nearby hospitals for the active patient",
			Category:    CategoryClinical,
			Capability:  auth.CapHospitalOps,
			Run: func(ctx context.Context, s *Shell, w io.Writer, args []string) error {
				return s.flow(w, s.ws.HospitalMatches(ctx, arg(args)), func() {
					renderHospitals(w, s.ws.Snapshot().Insights.HospitalMatches)
				})
			},
		},
		{
			Name:        "questions",
			Usage:       "questions",
			Description: "Ask which intake questions remain open",
			Category:    CategoryClinical,
			Capability:  auth.CapPatientOps,
			Run: func(ctx context.Context, s *Shell, w io.Writer, _ []string) error {
				return s.flow(w, s.ws.NextQuestions(ctx), func() {
					renderQuestions(w, s.ws.Snapshot().Insights.Questionnaire)
				})
			},
		},
		{
			Name:        "answer",
			Usage:       `answer {"question": "answer", ...}`,
			Description: "Submit questionnaire answers as a JSON object",
			Category:    CategoryClinical,
			Capability:  auth.CapPatientOps,
			RawArgs:     true,
			Run: func(ctx context.Context, s *Shell, w io.Writer, args []string) error {
				return s.flow(w, s.ws.SubmitAnswers(ctx, arg(args)), nil)
			},
		},

		// -- Records --
		{
			Name:        "upload",
			Usage:       "upload <path>",
			Description: "Upload a clinical document",
			Category:    CategoryRecords,
			Capability:  auth.CapPatientOps,
			Run: func(ctx context.Context, s *Shell, w io.Writer, args []string) error {
				return s.upload(ctx, w, args, s.ws.UploadDocument)
			},
		},
		{
			Name:        "audio",
			Usage:       "audio <path>",
			Description: "Upload a voice note for transcription",
			Category:    CategoryRecords,
			Capability:  auth.CapPatientOps,
			Run: func(ctx context.Context, s *Shell, w io.Writer, args []string) error {
				return s.upload(ctx, w, args, s.ws.UploadAudio)
			},
		},
		{
			Name:        "docs",
			Aliases:     []string{"documents"},
			Usage:       "docs [detail|reprocess]",
			Description: "List uploaded documents, their details, or re-run extraction",
			Category:    CategoryRecords,
			Capability:  auth.CapPatientOps,
			Run:         runDocs,
		},

		// -- Care --
		{
			Name:        "coach",
			Usage:       "coach [generate]",
			Description: "Show the latest recovery coach message, or generate one",
			Category:    CategoryCare,
			Capability:  auth.CapCoach,
			Run: func(ctx context.Context, s *Shell, w io.Writer, args []string) error {
				var err error
				switch sub(args) {
				case "":
					err = s.ws.LatestCoach(ctx)
				case "generate", "new":
					err = s.ws.GenerateCoach(ctx)
				default:
					return apperr.Validation("usage: coach [generate]")
				}
				return s.flow(w, err, func() {
					renderCoach(w, s.ws.Snapshot().Insights.Coach, s.ws.CoachAudioURL())
				})
			},
		},
		{
			Name:        "adherence",
			Usage:       "adherence [days]",
			Description: "Summarize medication doses over recent days",
			Category:    CategoryCare,
			Capability:  auth.CapPatientOps,
			Run: func(ctx context.Context, s *Shell, w io.Writer, args []string) error {
				days := 0
				if raw := arg(args); raw != "" {
					n, err := strconv.Atoi(raw)
					if err != nil || n <= 0 {
						return apperr.Validation("days must be a positive number")
					}
					days = n
				}
				return s.flow(w, s.ws.Adherence(ctx, days), nil)
			},
		},
		{
			Name:        "feedback",
			Usage:       "feedback <trace-id> <useful|not_useful|unsafe> [comment...]",
			Description: "Rate a generated artifact",
			Category:    CategoryCare,
			Capability:  auth.CapPatientOps,
			Run: func(ctx context.Context, s *Shell, w io.Writer, args []string) error {
				if len(args) < 2 {
					return apperr.Validation("usage: feedback <trace-id> <useful|not_useful|unsafe> [comment...]")
				}
				fb := patient.Feedback{TraceID: args[0], Rating: args[1]}
				if len(args) > 2 {
					comment := strings.Join(args[2:], " ")
					fb.Comment = &comment
				}
				return s.flow(w, s.ws.SubmitFeedback(ctx, fb), nil)
			},
		},

		// -- General --
		{
			Name:        "base",
			Usage:       "base [url]",
			Description: "Show or change the backend address",
			Category:    CategoryGeneral,
			Run: func(_ context.Context, s *Shell, w io.Writer, args []string) error {
				if url := arg(args); url != "" {
					s.ws.SetAPIBase(url)
				}
				fmt.Fprintf(w, "API base: %s\n", s.ws.APIBase())
				return nil
			},
		},
		{
			Name:        "help",
			Aliases:     []string{"?"},
			Usage:       "help [command]",
			Description: "List the commands available to you",
			Category:    CategoryGeneral,
			Run:         runHelp,
		},
		{
			Name:        "quit",
			Aliases:     []string{"exit", "q"},
			Usage:       "quit",
			Description: "Leave the shell",
			Category:    CategoryGeneral,
			Run: func(context.Context, *Shell, io.Writer, []string) error {
				return ErrQuit
			},
		},
	}
}

func (s *Shell) role() auth.Role {
	if sess := s.ws.Session(); sess != nil {
		return sess.Role
	}
	return auth.RoleNone
}

// arg returns the first argument, or "".
func arg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return strings.TrimSpace(args[0])
}

// sub returns the first argument as a lower-case subcommand.
func sub(args []string) string {
	return strings.ToLower(arg(args))
}

// -- Access --

func runLogin(ctx context.Context, s *Shell, w io.Writer, args []string) error {
	if len(args) != 3 {
		return apperr.Validation("usage: login <role> <mobile> <password>")
	}
	role, err := auth.ParseRole(args[0])
	if err != nil {
		return err
	}
	return s.flow(w, s.ws.Login(ctx, role, args[1], args[2]), func() {
		renderPatient(w, s.ws.Snapshot().Patient)
	})
}

func runSignup(ctx context.Context, s *Shell, w io.Writer, args []string) error {
	if len(args) < 3 {
		return apperr.Validation("usage: signup <role> <mobile> <password> ...")
	}
	role, err := auth.ParseRole(args[0])
	if err != nil {
		return err
	}
	if role != auth.RolePatient {
		if len(args) != 3 {
			return apperr.Validation("usage: signup <doctor|hospital> <mobile> <password>")
		}
		return s.flow(w, s.ws.SignupNonPatient(ctx, role, args[1], args[2]), nil)
	}

	if len(args) < 4 {
		return apperr.Validation("usage: signup patient <mobile> <password> <name> [age=N] [sex=S] [contact=C]")
	}
	opts, err := parseOptions(args[4:], "age", "sex", "contact")
	if err != nil {
		return err
	}
	p := session.PatientSignup{Name: args[3], Mobile: args[1], Password: args[2]}
	if p.Age, err = optionalInt(opts, "age"); err != nil {
		return err
	}
	p.Sex = optionalString(opts, "sex")
	p.Contact = optionalString(opts, "contact")
	return s.flow(w, s.ws.SignupPatient(ctx, p), func() {
		renderPatient(w, s.ws.Snapshot().Patient)
	})
}

func runWhoami(_ context.Context, s *Shell, w io.Writer, _ []string) error {
	fmt.Fprintf(w, "API base: %s\n", s.ws.APIBase())
	sess := s.ws.Session()
	if sess == nil {
		fmt.Fprintln(w, "Not logged in.")
	} else {
		fmt.Fprintf(w, "Role: %s (account #%d, %s)\n", sess.Role, sess.AccountID, sess.IdentityHandle)
		caps := s.ws.Capabilities().List()
		names := make([]string, len(caps))
		for i, c := range caps {
			names[i] = string(c)
		}
		fmt.Fprintf(w, "Capabilities: %s\n", strings.Join(names, ", "))
	}
	if id := s.ws.Snapshot().SelectedID; id != nil {
		fmt.Fprintf(w, "Active patient: #%d\n", *id)
	}
	if st := s.ws.Status(); st.Message != "" {
		state := "ok"
		if st.Failed {
			state = "failed"
		}
		fmt.Fprintf(w, "Last %s: %s (%s)\n", st.Flow, st.Message, state)
	}
	return nil
}

// -- Patients --

func runPatients(ctx context.Context, s *Shell, w io.Writer, args []string) error {
	p := s.rosterPage()
	step := sub(args)
	switch step {
	case "":
		if err := s.ws.ListPatients(ctx); err != nil {
			return err
		}
		fmt.Fprintln(w, s.ws.Status().Message)
		s.setRosterOffset(0)
	case "next", "prev", "previous":
	default:
		return apperr.Validation("usage: patients [next|prev]")
	}

	roster := s.ws.Snapshot().Roster
	if roster == nil {
		return apperr.Precondition("no patient list loaded; run patients first")
	}
	switch step {
	case "next":
		s.setRosterOffset(p.NextOffset())
	case "prev", "previous":
		s.setRosterOffset(p.PreviousOffset())
	}
	page := pagination.Slice(roster, s.rosterPage())
	if len(page.Items) == 0 && page.Total > 0 {
		// Walked past the end; stay on the last page.
		last := ((page.Total - 1) / page.Limit) * page.Limit
		s.setRosterOffset(last)
		page = pagination.Slice(roster, s.rosterPage())
	}
	renderRoster(w, page)
	return nil
}

func runCreate(ctx context.Context, s *Shell, w io.Writer, args []string) error {
	if len(args) == 0 {
		return apperr.Validation(`usage: create "<name>" [age=N] [sex=S] [contact=C] [mobile=M password=P]`)
	}
	opts, err := parseOptions(args[1:], "age", "sex", "contact", "mobile", "password")
	if err != nil {
		return err
	}
	p := patient.NewPatient{Name: args[0]}
	if p.Age, err = optionalInt(opts, "age"); err != nil {
		return err
	}
	p.Sex = optionalString(opts, "sex")
	p.Contact = optionalString(opts, "contact")
	p.Mobile = optionalString(opts, "mobile")
	p.Password = optionalString(opts, "password")
	return s.flow(w, s.ws.CreatePatient(ctx, p), func() {
		renderPatient(w, s.ws.Snapshot().Patient)
	})
}

// -- Records --

func (s *Shell) upload(ctx context.Context, w io.Writer, args []string, send func(context.Context, patient.File) error) error {
	if len(args) != 1 {
		return apperr.Validation("choose a file to upload")
	}
	path := args[0]
	f, err := s.open(path)
	if err != nil {
		return apperr.Validation(fmt.Sprintf("cannot open %s: %v", path, err))
	}
	defer f.Close()
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return s.flow(w, send(ctx, patient.File{Name: filepath.Base(path), ContentType: ct, Content: f}), nil)
}

func runDocs(ctx context.Context, s *Shell, w io.Writer, args []string) error {
	switch sub(args) {
	case "":
		return s.flow(w, s.ws.ListDocuments(ctx), func() {
			renderDocuments(w, s.ws.Snapshot().Insights.Documents)
		})
	case "detail", "details":
		return s.flow(w, s.ws.DocumentDetails(ctx), func() {
			renderDocumentDetails(w, s.ws.Snapshot().Insights.DocumentDetails)
		})
	case "reprocess":
		return s.flow(w, s.ws.ReprocessDocuments(ctx), func() {
			renderDocuments(w, s.ws.Snapshot().Insights.Documents)
		})
	}
	return apperr.Validation("usage: docs [detail|reprocess]")
}

// -- General --

func runHelp(_ context.Context, s *Shell, w io.Writer, args []string) error {
	role := s.role()
	if len(args) > 0 {
		c, ok := s.registry.Lookup(args[0])
		if !ok {
			return apperr.Validation(fmt.Sprintf("no help for %q", args[0]))
		}
		fmt.Fprintf(w, "%s\n  %s\n", c.Usage, c.Description)
		if len(c.Aliases) > 0 {
			fmt.Fprintf(w, "  aliases: %s\n", strings.Join(c.Aliases, ", "))
		}
		if ok, reason := c.Enabled(role); !ok {
			fmt.Fprintf(w, "  unavailable: %s\n", reason)
		}
		return nil
	}

	category := ""
	for _, c := range s.registry.Available(role) {
		if c.Category != category {
			category = c.Category
			fmt.Fprintf(w, "%s:\n", category)
		}
		fmt.Fprintf(w, "  %-10s %s\n", c.Name, c.Description)
	}
	if role == auth.RoleNone {
		fmt.Fprintln(w, "Log in to see patient commands.")
	}
	return nil
}

// -- Arguments --

// parseOptions reads key=value words. Only the named keys are accepted.
func parseOptions(words []string, allowed ...string) (map[string]string, error) {
	opts := make(map[string]string, len(words))
	for _, word := range words {
		k, v, ok := strings.Cut(word, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if !ok || !slices.Contains(allowed, k) {
			return nil, apperr.Validation(fmt.Sprintf("unexpected argument %q; expected one of %s=...", word, strings.Join(allowed, "=..., ")))
		}
		opts[k] = strings.TrimSpace(v)
	}
	return opts, nil
}

func optionalString(opts map[string]string, key string) *string {
	v, ok := opts[key]
	if !ok || v == "" {
		return nil
	}
	return &v
}

func optionalInt(opts map[string]string, key string) (*int, error) {
	v, ok := opts[key]
	if !ok || v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return nil, apperr.Validation(fmt.Sprintf("%s must be a whole number", key))
	}
	return &n, nil
}
