package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ehr/copilot/pkg/clinical"
)

// ---------------------------------------------------------------------------
// Catppuccin Mocha palette
// ---------------------------------------------------------------------------

const (
	colorMauve    lipgloss.Color = "#cba6f7"
	colorRed      lipgloss.Color = "#f38ba8"
	colorPeach    lipgloss.Color = "#fab387"
	colorYellow   lipgloss.Color = "#f9e2af"
	colorGreen    lipgloss.Color = "#a6e3a1"
	colorTeal     lipgloss.Color = "#94e2d5"
	colorBlue     lipgloss.Color = "#89b4fa"
	colorLavender lipgloss.Color = "#b4befe"

	colorText     lipgloss.Color = "#cdd6f4"
	colorSubtext0 lipgloss.Color = "#a6adc8"
	colorOverlay1 lipgloss.Color = "#7f849c"
	colorSurface1 lipgloss.Color = "#45475a"
	colorBase     lipgloss.Color = "#1e1e2e"
)

// Semantic aliases.
const (
	colorBrand   = colorMauve
	colorFocus   = colorLavender
	colorSuccess = colorGreen
	colorError   = colorRed
	colorWarning = colorYellow
	colorInfo    = colorTeal
	colorMuted   = colorOverlay1
)

// ---------------------------------------------------------------------------
// Styles
// ---------------------------------------------------------------------------

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorBase).Background(colorBrand).Padding(0, 1)

	headerStyle = lipgloss.NewStyle().Foreground(colorSubtext0)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSurface1).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)

	labelStyle = lipgloss.NewStyle().Foreground(colorMuted)
	textStyle  = lipgloss.NewStyle().Foreground(colorText)

	capOnStyle  = lipgloss.NewStyle().Foreground(colorSuccess)
	capOffStyle = lipgloss.NewStyle().Foreground(colorMuted).Strikethrough(true)

	statusOKStyle   = lipgloss.NewStyle().Foreground(colorSuccess)
	statusErrStyle  = lipgloss.NewStyle().Foreground(colorError)
	statusBusyStyle = lipgloss.NewStyle().Foreground(colorWarning).Italic(true)
	statusNoteStyle = lipgloss.NewStyle().Foreground(colorInfo)

	inputStyle = lipgloss.NewStyle().Foreground(colorFocus)
)

// triageStyle colors a triage band: red escalates, amber warns.
func triageStyle(level clinical.TriageLevel) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(colorBase)
	switch level {
	case clinical.TriageRed:
		return base.Background(colorRed)
	case clinical.TriageAmber:
		return base.Background(colorPeach)
	case clinical.TriageGreen:
		return base.Background(colorGreen)
	}
	return base.Background(colorSurface1).Foreground(colorText)
}
