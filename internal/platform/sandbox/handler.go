package sandbox

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/copilot/pkg/pagination"
)

// Handler serves the clinical API from a Store.
type Handler struct {
	store  *Store
	logger zerolog.Logger
}

func NewHandler(store *Store, logger zerolog.Logger) *Handler {
	return &Handler{store: store, logger: logger}
}

var roles = []string{"patient", "doctor", "hospital"}

// RegisterAuthRoutes registers login and signup for every role on g
// (mounted at /api/v1/auth).
func (h *Handler) RegisterAuthRoutes(g *echo.Group) {
	for _, role := range roles {
		g.POST("/"+role+"s/login", h.login(role))
	}
	g.POST("/patients/signup", h.signupPatient)
	g.POST("/doctors/signup", h.signup("doctor"))
	g.POST("/hospitals/signup", h.signup("hospital"))
}

// RegisterRoutes registers the patient API on g (mounted at /api/v1).
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/patients", h.listPatients)
	g.POST("/patients", h.createPatient)

	p := g.Group("/patients/:id", h.loadPatient)
	p.GET("", h.getPatient)
	p.POST("/profile/build", h.buildProfile)
	p.GET("/profile/latest", h.latestProfile)
	p.POST("/triage", h.runTriage)
	p.GET("/summary", h.summary)
	p.GET("/summary/latest", h.latestSummary)
	p.GET("/preintelligence", h.preIntelligence)
	p.GET("/hospitals/recommendations", h.hospitalRecommendations)
	p.POST("/questionnaire/next", h.nextQuestions)
	p.POST("/questionnaire/answer", h.submitAnswers)
	p.POST("/uploads", h.uploadDocument)
	p.GET("/uploads", h.listDocuments)
	p.GET("/uploads/detail", h.documentDetails)
	p.POST("/uploads/reprocess", h.reprocessDocuments)
	p.POST("/audio", h.uploadAudio)
	p.GET("/recovery-coach/latest", h.latestCoach)
	p.POST("/recovery-coach/generate", h.generateCoach)
	p.GET("/adherence", h.adherence)
	p.POST("/doses/log", h.logDose)
	p.POST("/feedback", h.feedback)
}

// RegisterMediaRoutes serves generated coach audio on g (mounted at /media).
func (h *Handler) RegisterMediaRoutes(g *echo.Group) {
	g.GET("/coach/:file", h.coachAudio)
}

// -- errors ------------------------------------------------------------------

func detail(msg string) map[string]string {
	return map[string]string{"detail": msg}
}

// issue is one entry of a 422 validation error list.
type issue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

func invalid(loc []string, msg, typ string) error {
	return echo.NewHTTPError(http.StatusUnprocessableEntity, []issue{{Loc: loc, Msg: msg, Type: typ}})
}

func missing(loc ...string) error {
	return invalid(loc, "Field required", "missing")
}

func notInteger(loc ...string) error {
	return invalid(loc, "Input should be a valid integer, unable to parse string as an integer", "int_parsing")
}

func badBody() error {
	return invalid([]string{"body"}, "JSON decode error", "json_invalid")
}

// -- auth --------------------------------------------------------------------

type credentialsIn struct {
	Mobile   *string `json:"mobile"`
	Password *string `json:"password"`
}

func (in credentialsIn) validate() error {
	if in.Mobile == nil {
		return missing("body", "mobile")
	}
	if in.Password == nil {
		return missing("body", "password")
	}
	return nil
}

type authOut struct {
	Status    string `json:"status"`
	Role      string `json:"role"`
	AccountID int64  `json:"account_id"`
	PatientID *int64 `json:"patient_id"`
}

func newAuthOut(a *Account) authOut {
	return authOut{Status: "ok", Role: a.Role, AccountID: a.ID, PatientID: a.PatientID}
}

func (h *Handler) login(role string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in credentialsIn
		if err := c.Bind(&in); err != nil {
			return badBody()
		}
		if err := in.validate(); err != nil {
			return err
		}
		a, err := h.store.Authenticate(role, *in.Mobile, *in.Password)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
		return c.JSON(http.StatusOK, newAuthOut(a))
	}
}

func (h *Handler) signup(role string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in credentialsIn
		if err := c.Bind(&in); err != nil {
			return badBody()
		}
		if err := in.validate(); err != nil {
			return err
		}
		a, err := h.store.CreateAccount(role, *in.Mobile, *in.Password, nil)
		if err != nil {
			return storeError(err)
		}
		h.logger.Info().Str("role", role).Int64("account_id", a.ID).Msg("account created")
		return c.JSON(http.StatusOK, newAuthOut(a))
	}
}

func (h *Handler) signupPatient(c echo.Context) error {
	in, err := bindPatient(c)
	if err != nil {
		return err
	}
	if strings.TrimSpace(deref(in.Mobile)) == "" || deref(in.Password) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Mobile and password are required")
	}
	p, accountID, err := h.store.CreatePatient(in)
	if err != nil {
		return storeError(err)
	}
	if accountID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "Unable to create patient account")
	}
	id := p.ID
	h.logger.Info().Int64("patient_id", id).Int64("account_id", accountID).Msg("patient signed up")
	return c.JSON(http.StatusOK, authOut{Status: "ok", Role: "patient", AccountID: accountID, PatientID: &id})
}

func storeError(err error) error {
	switch {
	case errors.Is(err, ErrMobileTaken), errors.Is(err, ErrMobilePassword):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrPatientNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return err
}

// -- patients ----------------------------------------------------------------

type patientIn struct {
	Name     *string `json:"name"`
	Age      *int    `json:"age"`
	Sex      *string `json:"sex"`
	Contact  *string `json:"contact"`
	Mobile   *string `json:"mobile"`
	Password *string `json:"password"`
}

func bindPatient(c echo.Context) (PatientInput, error) {
	var in patientIn
	if err := c.Bind(&in); err != nil {
		return PatientInput{}, badBody()
	}
	if in.Name == nil {
		return PatientInput{}, missing("body", "name")
	}
	return PatientInput{
		Name:     *in.Name,
		Age:      in.Age,
		Sex:      in.Sex,
		Contact:  in.Contact,
		Mobile:   in.Mobile,
		Password: in.Password,
	}, nil
}

// listPatients returns every patient, or one page of them when the request
// carries limit or offset.
func (h *Handler) listPatients(c echo.Context) error {
	all := h.store.Patients()
	params, ok := pagination.FromContext(c)
	if !ok {
		return c.JSON(http.StatusOK, all)
	}
	page := pagination.Slice(all, params)
	c.Response().Header().Set("X-Total-Count", strconv.Itoa(page.Total))
	c.Response().Header().Set("Link", pagination.LinkHeader(page.Params().Links(c.Request().URL.Path, page.Total)))
	return c.JSON(http.StatusOK, page.Items)
}

func (h *Handler) createPatient(c echo.Context) error {
	in, err := bindPatient(c)
	if err != nil {
		return err
	}
	p, _, err := h.store.CreatePatient(in)
	if err != nil {
		return storeError(err)
	}
	h.logger.Info().Int64("patient_id", p.ID).Msg("patient created")
	return c.JSON(http.StatusOK, p)
}

// loadPatient resolves :id for every patient-scoped route.
func (h *Handler) loadPatient(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			return notInteger("path", "patient_id")
		}
		p, ok := h.store.Patient(id)
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, ErrPatientNotFound.Error())
		}
		c.Set("patient", p)
		return next(c)
	}
}

func currentPatient(c echo.Context) Patient {
	p, _ := c.Get("patient").(Patient)
	return p
}

func (h *Handler) getPatient(c echo.Context) error {
	return c.JSON(http.StatusOK, currentPatient(c))
}

// -- profile, triage, summary ------------------------------------------------

type profileOut struct {
	PatientID int64   `json:"patient_id"`
	Profile   Profile `json:"profile"`
	Version   int     `json:"version"`
	CreatedAt *string `json:"created_at"`
}

type summaryStoredOut struct {
	PatientID int64   `json:"patient_id"`
	SBAR      SBAR    `json:"sbar"`
	CreatedAt *string `json:"created_at"`
}

const timestampLayout = "2006-01-02T15:04:05.000000"

func timestamp(t time.Time) *string {
	s := t.UTC().Format(timestampLayout)
	return &s
}

func (h *Handler) buildProfile(c echo.Context) error {
	p := currentPatient(c)
	texts := h.store.Texts(p.ID)
	if len(texts) == 0 {
		return c.JSON(http.StatusOK, profileOut{
			PatientID: p.ID,
			Profile:   emptyProfile("no_extracted_text"),
			Version:   1,
		})
	}

	rec := h.store.SaveProfile(p.ID, buildProfile(texts, h.store.Answers(p.ID)))
	h.store.SaveTriage(p.ID, assessTriage(texts))
	h.logger.Debug().Int64("patient_id", p.ID).Int("chunks", len(texts)).Int("version", rec.Version).Msg("profile built")
	return c.JSON(http.StatusOK, profileOut{
		PatientID: p.ID,
		Profile:   rec.Profile,
		Version:   rec.Version,
		CreatedAt: timestamp(rec.CreatedAt),
	})
}

func (h *Handler) latestProfile(c echo.Context) error {
	p := currentPatient(c)
	rec, ok := h.store.LatestProfile(p.ID)
	if !ok {
		return c.JSON(http.StatusOK, profileOut{PatientID: p.ID, Profile: emptyProfile("no_profile")})
	}
	return c.JSON(http.StatusOK, profileOut{
		PatientID: p.ID,
		Profile:   rec.Profile,
		Version:   rec.Version,
		CreatedAt: timestamp(rec.CreatedAt),
	})
}

func (h *Handler) runTriage(c echo.Context) error {
	p := currentPatient(c)
	t := assessTriage(h.store.Texts(p.ID))
	h.store.SaveTriage(p.ID, t)
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) summary(c echo.Context) error {
	p := currentPatient(c)
	rec, hasProfile := h.store.LatestProfile(p.ID)
	tri, hasTriage := h.store.LatestTriage(p.ID)
	sbar := summarize(p, rec.Profile, hasProfile, tri, hasTriage)
	h.store.SaveSummary(p.ID, sbar)
	return c.JSON(http.StatusOK, sbar)
}

func (h *Handler) latestSummary(c echo.Context) error {
	p := currentPatient(c)
	rec, ok := h.store.LatestSummary(p.ID)
	if !ok {
		return c.JSON(http.StatusOK, summaryStoredOut{
			PatientID: p.ID,
			SBAR:      SBAR{Safety: withSafety(nil)},
		})
	}
	return c.JSON(http.StatusOK, summaryStoredOut{
		PatientID: p.ID,
		SBAR:      rec.SBAR,
		CreatedAt: timestamp(rec.CreatedAt),
	})
}

func (h *Handler) preIntelligence(c echo.Context) error {
	p := currentPatient(c)
	prof := emptyProfile()
	if rec, ok := h.store.LatestProfile(p.ID); ok {
		prof = rec.Profile
	}
	return c.JSON(http.StatusOK, preIntelligence(prof, h.store.Texts(p.ID)))
}

func (h *Handler) hospitalRecommendations(c echo.Context) error {
	p := currentPatient(c)
	radius := 20
	if raw := c.QueryParam("radius_km"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return notInteger("query", "radius_km")
		}
		radius = n
	}

	urgency := "AMBER"
	var specialty *string
	if t, ok := h.store.LatestTriage(p.ID); ok {
		urgency, specialty = t.Level, t.SpecialtyNeeded
	}
	return c.JSON(http.StatusOK, rankHospitals(radius, specialty, urgency))
}

// -- questionnaire -----------------------------------------------------------

func (h *Handler) nextQuestions(c echo.Context) error {
	p := currentPatient(c)
	rec, ok := h.store.LatestProfile(p.ID)
	questions := nextQuestions(rec.Profile, ok, h.store.Answers(p.ID))
	return c.JSON(http.StatusOK, map[string][]string{"questions": questions})
}

func (h *Handler) submitAnswers(c echo.Context) error {
	p := currentPatient(c)
	var in struct {
		Answers map[string]any `json:"answers"`
	}
	if err := c.Bind(&in); err != nil {
		return invalid([]string{"body", "answers"}, "Input should be a valid dictionary", "dict_type")
	}
	if in.Answers == nil {
		return missing("body", "answers")
	}
	h.store.SaveAnswers(p.ID, in.Answers)
	return c.JSON(http.StatusOK, map[string]any{"status": "received", "answers": in.Answers})
}

// -- uploads -----------------------------------------------------------------

type documentOut struct {
	DocumentID    int64   `json:"document_id"`
	ExtractedText *string `json:"extracted_text"`
}

type documentDetailOut struct {
	DocumentID  int64   `json:"document_id"`
	MimeType    string  `json:"mime_type"`
	HasText     bool    `json:"has_text"`
	TextPreview *string `json:"text_preview"`
}

type transcriptOut struct {
	TranscriptID int64  `json:"transcript_id"`
	Text         string `json:"text"`
}

const previewRunes = 300

func toDocumentOut(docs []Document) []documentOut {
	out := make([]documentOut, 0, len(docs))
	for _, d := range docs {
		out = append(out, documentOut{DocumentID: d.ID, ExtractedText: d.Text})
	}
	return out
}

// readUpload returns the "file" part of a multipart request.
func readUpload(c echo.Context) (name, mimeType string, content []byte, err error) {
	fh, err := c.FormFile("file")
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return "", "", nil, he
		}
		return "", "", nil, missing("body", "file")
	}
	f, err := fh.Open()
	if err != nil {
		return "", "", nil, err
	}
	defer f.Close()
	content, err = io.ReadAll(f)
	if err != nil {
		return "", "", nil, err
	}
	mimeType = fh.Header.Get(echo.HeaderContentType)
	if mimeType == "" {
		mimeType = echo.MIMEOctetStream
	}
	return fh.Filename, mimeType, content, nil
}

func (h *Handler) uploadDocument(c echo.Context) error {
	p := currentPatient(c)
	name, mimeType, content, err := readUpload(c)
	if err != nil {
		return err
	}
	d := h.store.AddDocument(p.ID, name, mimeType, content)
	h.logger.Info().Int64("patient_id", p.ID).Int64("document_id", d.ID).
		Str("mime_type", mimeType).Bool("has_text", d.Text != nil).Msg("document stored")
	return c.JSON(http.StatusOK, documentOut{DocumentID: d.ID, ExtractedText: d.Text})
}

func (h *Handler) listDocuments(c echo.Context) error {
	return c.JSON(http.StatusOK, toDocumentOut(h.store.Documents(currentPatient(c).ID)))
}

func (h *Handler) documentDetails(c echo.Context) error {
	docs := h.store.Documents(currentPatient(c).ID)
	out := make([]documentDetailOut, 0, len(docs))
	for _, d := range docs {
		item := documentDetailOut{DocumentID: d.ID, MimeType: d.MimeType}
		if text := deref(d.Text); text != "" {
			item.HasText = strings.TrimSpace(text) != ""
			preview := []rune(text)
			if len(preview) > previewRunes {
				preview = preview[:previewRunes]
			}
			s := string(preview)
			item.TextPreview = &s
		}
		out = append(out, item)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) reprocessDocuments(c echo.Context) error {
	return c.JSON(http.StatusOK, toDocumentOut(h.store.Reprocess(currentPatient(c).ID)))
}

func (h *Handler) uploadAudio(c echo.Context) error {
	p := currentPatient(c)
	_, _, content, err := readUpload(c)
	if err != nil {
		return err
	}
	t := h.store.AddTranscript(p.ID, transcribe(content))
	return c.JSON(http.StatusOK, transcriptOut{TranscriptID: t.ID, Text: t.Text})
}

// -- coach, adherence, feedback ---------------------------------------------

type coachOut struct {
	ScriptText string `json:"script_text"`
	AudioPath  string `json:"audio_path"`
}

// coachWindowDays is the adherence window the coach comments on.
const coachWindowDays = 7

func (h *Handler) latestCoach(c echo.Context) error {
	rec, ok := h.store.LatestCoach(currentPatient(c).ID)
	if !ok {
		return c.JSON(http.StatusOK, coachOut{})
	}
	return c.JSON(http.StatusOK, coachOut{ScriptText: rec.Script, AudioPath: rec.AudioPath})
}

func (h *Handler) generateCoach(c echo.Context) error {
	p := currentPatient(c)
	rec, hasProfile := h.store.LatestProfile(p.ID)
	script := coachScript(p, rec.Profile, hasProfile, h.store.Adherence(p.ID, coachWindowDays))
	msg := h.store.SaveCoach(p.ID, script, silentWAV(1))
	return c.JSON(http.StatusOK, coachOut{ScriptText: msg.Script, AudioPath: msg.AudioPath})
}

func (h *Handler) coachAudio(c echo.Context) error {
	name := c.Param("file")
	id, err := strconv.ParseInt(strings.TrimSuffix(name, ".wav"), 10, 64)
	if err != nil || !strings.HasSuffix(name, ".wav") {
		return echo.ErrNotFound
	}
	audio, ok := h.store.CoachAudio(id)
	if !ok {
		return echo.ErrNotFound
	}
	return c.Blob(http.StatusOK, "audio/wav", audio)
}

func (h *Handler) adherence(c echo.Context) error {
	days := 7
	if raw := c.QueryParam("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return notInteger("query", "days")
		}
		days = n
	}
	return c.JSON(http.StatusOK, h.store.Adherence(currentPatient(c).ID, days))
}

func (h *Handler) logDose(c echo.Context) error {
	var in struct {
		Action    *string `json:"action"`
		Timestamp *string `json:"timestamp"`
	}
	if err := c.Bind(&in); err != nil {
		return badBody()
	}
	if in.Action == nil {
		return missing("body", "action")
	}
	switch *in.Action {
	case doseTaken, doseMissed, doseSkipped:
	default:
		return invalid([]string{"body", "action"}, "Input should be 'taken', 'missed' or 'skipped'", "enum")
	}
	at := h.store.now()
	if ts := deref(in.Timestamp); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return invalid([]string{"body", "timestamp"}, "Input should be a valid datetime", "datetime_from_date_parsing")
		}
		at = t
	}
	h.store.LogDose(currentPatient(c).ID, *in.Action, at)
	return c.JSON(http.StatusOK, map[string]string{"status": "logged"})
}

func (h *Handler) feedback(c echo.Context) error {
	var in struct {
		TraceID *string `json:"trace_id"`
		Rating  *string `json:"rating"`
		Comment *string `json:"comment"`
	}
	if err := c.Bind(&in); err != nil {
		return badBody()
	}
	if in.TraceID == nil {
		return missing("body", "trace_id")
	}
	if in.Rating == nil {
		return missing("body", "rating")
	}
	h.store.SaveFeedback(currentPatient(c).ID, FeedbackRecord{
		TraceID: *in.TraceID,
		Rating:  *in.Rating,
		Comment: in.Comment,
	})
	return c.JSON(http.StatusOK, map[string]string{"status": "received"})
}
