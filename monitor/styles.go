package monitor

import (
	"github.com/charmbracelet/lipgloss"

	"telemetry-relay/domain"
)

var (
	colorPrimary = lipgloss.Color("#5DADE2")
	colorInfo    = lipgloss.Color("#82E0AA")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#7F8C8D")
	colorDarkBg  = lipgloss.Color("#2C3E50")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Background(colorDarkBg).
			Padding(0, 1)

	logInfoStyle   = lipgloss.NewStyle().Foreground(colorInfo)
	logErrorStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorError)
	telemetryStyle = lipgloss.NewStyle().Foreground(colorPrimary)
	unknownStyle   = lipgloss.NewStyle().Foreground(colorMuted)
)

func styleFor(f Frame) lipgloss.Style {
	switch f.Kind {
	case FrameLog:
		if f.Log.Level == domain.LevelError {
			return logErrorStyle
		}
		return logInfoStyle
	case FrameTelemetry:
		return telemetryStyle
	default:
		return unknownStyle
	}
}
