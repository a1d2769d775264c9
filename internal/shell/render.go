package shell

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/ehr/copilot/internal/domain/patient"
	"github.com/ehr/copilot/pkg/pagination"
)

var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(_, _ int) lipgloss.Style { return cellStyle }).
		Headers(headers...)
}

func bullets(w io.Writer, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, it := range items {
		fmt.Fprintf(w, "  - %s\n", it)
	}
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

func stamp(t time.Time, ok bool) string {
	if !ok {
		return "unknown time"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func renderPatient(w io.Writer, p *patient.Record) {
	if p == nil {
		return
	}
	age := "-"
	if p.Age != nil {
		age = strconv.Itoa(*p.Age)
	}
	fmt.Fprintf(w, "Patient #%d  %s  age %s  sex %s  contact %s\n", p.ID, p.Name, age, orDash(p.Sex), orDash(p.MaskedContact))
}

func renderRoster(w io.Writer, page pagination.Page[patient.Record]) {
	if page.Total == 0 {
		fmt.Fprintln(w, "No patients yet.")
		return
	}
	t := newTable("ID", "Name", "Age", "Sex", "Contact")
	for _, p := range page.Items {
		age := "-"
		if p.Age != nil {
			age = strconv.Itoa(*p.Age)
		}
		t.Row(strconv.FormatInt(p.ID, 10), p.Name, age, orDash(p.Sex), orDash(p.MaskedContact))
	}
	fmt.Fprintln(w, t.String())
	hint := ""
	if page.HasMore {
		hint = " (patients next for more)"
	}
	fmt.Fprintf(w, "Showing %s%s\n", page.Range(), hint)
}

func renderProfile(w io.Writer, p *patient.Profile, meta *patient.StoredProfile) {
	if p == nil {
		fmt.Fprintln(w, "No profile yet. Upload documents and run profile build.")
		return
	}
	if meta != nil {
		fmt.Fprintf(w, "Profile v%d, %s\n", meta.Version, stamp(meta.Created()))
	}
	bullets(w, "Conditions", p.Conditions)
	bullets(w, "Allergies", p.Allergies)
	if len(p.Medications) > 0 {
		meds := make([]string, 0, len(p.Medications))
		for _, m := range p.Medications {
			meds = append(meds, describeMedication(m))
		}
		bullets(w, "Medications", meds)
	}
	if len(p.Vitals) > 0 {
		keys := make([]string, 0, len(p.Vitals))
		for k := range p.Vitals {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		vitals := make([]string, len(keys))
		for i, k := range keys {
			vitals[i] = fmt.Sprintf("%s %v", k, p.Vitals[k])
		}
		fmt.Fprintf(w, "Vitals: %s\n", strings.Join(vitals, ", "))
	}
	bullets(w, "Timeline", p.Timeline)
	if len(p.MissingFields) > 0 {
		fmt.Fprintf(w, "Missing: %s\n", strings.Join(p.MissingFields, ", "))
	}
}

func describeMedication(m map[string]any) string {
	name, _ := m["name"].(string)
	if name == "" {
		name = fmt.Sprint(m)
	}
	if dose, ok := m["dose"].(string); ok && dose != "" {
		return name + " " + dose
	}
	return name
}

func renderTriage(w io.Writer, t *patient.Triage) {
	if t == nil {
		return
	}
	fmt.Fprintf(w, "Level: %s\n", strings.ToUpper(string(t.Level())))
	if t.SpecialtyNeeded != nil && *t.SpecialtyNeeded != "" {
		fmt.Fprintf(w, "Specialty: %s\n", *t.SpecialtyNeeded)
	}
	bullets(w, "Red flags", t.RedFlags)
	bullets(w, "Safety", t.SafetyNotes)
}

func renderSummary(w io.Writer, s *patient.Summary, meta *patient.StoredSummary) {
	if s == nil {
		return
	}
	if meta != nil {
		fmt.Fprintf(w, "Stored summary, %s\n", stamp(meta.Created()))
	}
	fmt.Fprintf(w, "S: %s\nB: %s\nA: %s\nR: %s\n", s.Situation, s.Background, s.Assessment, s.Recommendation)
	bullets(w, "Safety", s.SafetyNotes)
}

func renderPreIntelligence(w io.Writer, p *patient.PreIntelligence) {
	if p == nil {
		return
	}
	bullets(w, "Risks", p.Risks)
	bullets(w, "Interactions", p.Interactions)
	bullets(w, "Suggested tests", p.SuggestedTests)
	bullets(w, "Differential hints", p.DifferentialHints)
	bullets(w, "Safety", p.Safety)
}

func renderHospitals(w io.Writer, matches []patient.HospitalMatch) {
	if len(matches) == 0 {
		return
	}
	t := newTable("#", "Hospital", "Score", "Why")
	for i, m := range matches {
		t.Row(strconv.Itoa(i+1), m.Name, strconv.FormatFloat(m.Score, 'f', 2, 64), strings.Join(m.Reasons, "; "))
	}
	fmt.Fprintln(w, t.String())
}

func renderQuestions(w io.Writer, q *patient.Questionnaire) {
	if q == nil || len(q.Questions) == 0 {
		fmt.Fprintln(w, "No open questions.")
		return
	}
	for i, question := range q.Questions {
		fmt.Fprintf(w, "%d. %s\n", i+1, question)
	}
}

func renderDocuments(w io.Writer, docs []patient.Document) {
	if len(docs) == 0 {
		return
	}
	t := newTable("Document", "Extracted text")
	for _, d := range docs {
		t.Row(strconv.FormatInt(d.DocumentID, 10), truncate(orDash(d.ExtractedText), 60))
	}
	fmt.Fprintln(w, t.String())
}

func renderDocumentDetails(w io.Writer, details []patient.DocumentDetail) {
	if len(details) == 0 {
		return
	}
	t := newTable("Document", "Type", "Text", "Preview")
	for _, d := range details {
		hasText := "no"
		if d.HasText {
			hasText = "yes"
		}
		t.Row(strconv.FormatInt(d.DocumentID, 10), d.MimeType, hasText, truncate(orDash(d.TextPreview), 60))
	}
	fmt.Fprintln(w, t.String())
}

func renderCoach(w io.Writer, c *patient.Coach, audioURL string) {
	if c == nil || c.Empty() {
		fmt.Fprintln(w, "No coach message yet.")
		return
	}
	fmt.Fprintln(w, c.ScriptText)
	if audioURL != "" {
		fmt.Fprintf(w, "Audio: %s\n", audioURL)
	}
}

func renderAdherence(w io.Writer, a *patient.Adherence) {
	if a == nil {
		return
	}
	fmt.Fprintf(w, "Doses: %d taken, %d missed, %d skipped\n", a.Taken, a.Missed, a.Skipped)
}

// renderContext prints every slot currently held for the active patient.
func renderContext(w io.Writer, snap patient.Snapshot, audioURL string) {
	if snap.SelectedID == nil {
		fmt.Fprintln(w, "No active patient.")
		return
	}
	if snap.Patient != nil {
		renderPatient(w, snap.Patient)
	} else {
		fmt.Fprintf(w, "Patient #%d\n", *snap.SelectedID)
	}
	in := snap.Insights
	if in.Empty() {
		fmt.Fprintln(w, "Nothing loaded yet.")
		return
	}
	section := func(title string, render func()) {
		fmt.Fprintf(w, "\n== %s ==\n", title)
		render()
	}
	if in.Profile != nil {
		section("Profile", func() { renderProfile(w, in.Profile, in.ProfileMeta) })
	}
	if in.Triage != nil {
		section("Triage", func() { renderTriage(w, in.Triage) })
	}
	if in.Summary != nil {
		section("Summary", func() { renderSummary(w, in.Summary, in.SummaryMeta) })
	}
	if in.PreIntelligence != nil {
		section("Pre-visit intelligence", func() { renderPreIntelligence(w, in.PreIntelligence) })
	}
	if in.HospitalMatches != nil {
		section("Hospital matches", func() { renderHospitals(w, in.HospitalMatches) })
	}
	if in.Questionnaire != nil {
		section("Open questions", func() { renderQuestions(w, in.Questionnaire) })
	}
	if in.Documents != nil {
		section("Documents", func() { renderDocuments(w, in.Documents) })
	}
	if in.DocumentDetails != nil {
		section("Document details", func() { renderDocumentDetails(w, in.DocumentDetails) })
	}
	if in.Coach != nil {
		section("Coach", func() { renderCoach(w, in.Coach, audioURL) })
	}
	if in.Adherence != nil {
		section("Adherence", func() { renderAdherence(w, in.Adherence) })
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
