package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ehr/copilot/internal/domain/patient"
	"github.com/ehr/copilot/internal/platform/auth"
)

const (
	defaultWidth = 100
	sideWidth    = 34
)

func (m Model) View() string {
	width := m.width
	if width == 0 {
		width = defaultWidth
	}
	mainWidth := max(20, width-sideWidth-4)

	side := lipgloss.JoinVertical(lipgloss.Left,
		panelStyle.Width(sideWidth).Render(m.sessionPanel()),
		panelStyle.Width(sideWidth).Render(m.patientPanel()),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, side, panelStyle.Width(mainWidth).Render(m.outputPanel()))

	footer := m.help.View(m.keys)
	if m.typing {
		footer = m.input.View()
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		body,
		m.statusLine(),
		footer,
	)
}

func (m Model) header() string {
	return titleStyle.Render("Clinical Copilot") + " " + headerStyle.Render(m.ws.APIBase())
}

func (m Model) sessionPanel() string {
	var b strings.Builder
	b.WriteString(panelTitleStyle.Render("Session") + "\n")
	sess := m.ws.Session()
	if sess == nil {
		b.WriteString(labelStyle.Render("Not logged in."))
		return b.String()
	}
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("role"), textStyle.Render(string(sess.Role)))
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("account"), textStyle.Render("#"+strconv.FormatInt(sess.AccountID, 10)))

	caps := m.ws.Capabilities()
	var parts []string
	for _, c := range []auth.Capability{auth.CapPatientContext, auth.CapPatientOps, auth.CapHospitalOps, auth.CapPatientIntake, auth.CapCoach} {
		if caps.Has(c) {
			parts = append(parts, capOnStyle.Render(string(c)))
		} else {
			parts = append(parts, capOffStyle.Render(string(c)))
		}
	}
	b.WriteString(strings.Join(parts, "\n"))
	return b.String()
}

func (m Model) patientPanel() string {
	var b strings.Builder
	b.WriteString(panelTitleStyle.Render("Patient") + "\n")
	snap := m.ws.Snapshot()
	if snap.SelectedID == nil {
		b.WriteString(labelStyle.Render("No active patient."))
		return b.String()
	}
	name := "loading…"
	if snap.Patient != nil {
		name = snap.Patient.Name
	}
	fmt.Fprintf(&b, "%s %s\n", textStyle.Bold(true).Render("#"+strconv.FormatInt(*snap.SelectedID, 10)), textStyle.Render(name))
	if p := snap.Patient; p != nil && (p.Age != nil || p.Sex != nil) {
		var demo []string
		if p.Age != nil {
			demo = append(demo, strconv.Itoa(*p.Age)+" y")
		}
		if p.Sex != nil {
			demo = append(demo, *p.Sex)
		}
		b.WriteString(labelStyle.Render(strings.Join(demo, ", ")) + "\n")
	}

	in := snap.Insights
	if in.Triage != nil {
		level := in.Triage.Level()
		b.WriteString(labelStyle.Render("triage ") + triageStyle(level).Render(strings.ToUpper(string(level))) + "\n")
	}
	for _, line := range slotLines(in) {
		b.WriteString(labelStyle.Render(line) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// slotLines lists the loaded insight slots in a word or two each.
func slotLines(in patient.Insights) []string {
	var out []string
	if in.ProfileMeta != nil {
		out = append(out, fmt.Sprintf("profile v%d", in.ProfileMeta.Version))
	} else if in.Profile != nil {
		out = append(out, "profile built")
	}
	if in.Summary != nil {
		out = append(out, "SBAR summary")
	}
	if in.PreIntelligence != nil {
		out = append(out, "pre-visit intelligence")
	}
	if in.HospitalMatches != nil {
		out = append(out, fmt.Sprintf("%d hospital matches", len(in.HospitalMatches)))
	}
	if in.Questionnaire != nil {
		out = append(out, fmt.Sprintf("%d open questions", len(in.Questionnaire.Questions)))
	}
	if in.Documents != nil {
		out = append(out, fmt.Sprintf("%d documents", len(in.Documents)))
	}
	if in.Coach != nil && !in.Coach.Empty() {
		out = append(out, "coach message")
	}
	if a := in.Adherence; a != nil {
		out = append(out, fmt.Sprintf("doses %d/%d/%d", a.Taken, a.Missed, a.Skipped))
	}
	return out
}

func (m Model) outputPanel() string {
	title := "Output"
	if m.last != "" {
		title = m.last
	}
	out := m.output
	if limit := m.outputLines(); limit > 0 {
		lines := strings.Split(out, "\n")
		if len(lines) > limit {
			more := len(lines) - limit + 1
			out = strings.Join(lines[:limit-1], "\n") + "\n" + labelStyle.Render(fmt.Sprintf("… %d more lines", more))
		}
	}
	return panelTitleStyle.Render(title) + "\n" + out
}

func (m Model) outputLines() int {
	if m.height == 0 {
		return 0
	}
	return max(4, m.height-8)
}

// statusLine shows the flow in flight, a local error, or the workspace
// status, in that order.
func (m Model) statusLine() string {
	st := m.ws.Status()
	switch {
	case m.running != "":
		return statusBusyStyle.Render("Working: " + m.runningName() + " …")
	case st.Busy:
		return statusBusyStyle.Render("Working: " + st.Flow + " …")
	case m.note != "":
		return statusErrStyle.Render(m.note)
	case st.Message == "":
		return statusNoteStyle.Render("Ready.")
	case st.Failed:
		return statusErrStyle.Render(st.Message)
	}
	return statusOKStyle.Render(st.Message)
}
