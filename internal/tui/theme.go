package tui

import "github.com/charmbracelet/lipgloss"

// Theme defines the color palette of the TUI. Colors are ANSI 256-color
// codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color
	Accent     lipgloss.Color

	SelectedBackground lipgloss.Color
	SelectedForeground lipgloss.Color

	BorderColor  lipgloss.Color
	FocusBorder  lipgloss.Color
	SuccessColor lipgloss.Color
	ErrorColor   lipgloss.Color
	PendingColor lipgloss.Color
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText:         lipgloss.Color("252"),
	FaintText:          lipgloss.Color("243"),
	Accent:             lipgloss.Color("141"),
	SelectedBackground: lipgloss.Color("62"),
	SelectedForeground: lipgloss.Color("230"),
	BorderColor:        lipgloss.Color("238"),
	FocusBorder:        lipgloss.Color("141"),
	SuccessColor:       lipgloss.Color("78"),
	ErrorColor:         lipgloss.Color("203"),
	PendingColor:       lipgloss.Color("214"),
}

type styles struct {
	title    lipgloss.Style
	faint    lipgloss.Style
	normal   lipgloss.Style
	accent   lipgloss.Style
	success  lipgloss.Style
	err      lipgloss.Style
	pending  lipgloss.Style
	card     lipgloss.Style
	focused  lipgloss.Style
	button   lipgloss.Style
	selected lipgloss.Style
	disabled lipgloss.Style
}

func newStyles(theme Theme) styles {
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.BorderColor).
		Padding(0, 1).
		Width(cardWidth)

	return styles{
		title:    lipgloss.NewStyle().Foreground(theme.Accent).Bold(true),
		faint:    lipgloss.NewStyle().Foreground(theme.FaintText),
		normal:   lipgloss.NewStyle().Foreground(theme.NormalText),
		accent:   lipgloss.NewStyle().Foreground(theme.Accent),
		success:  lipgloss.NewStyle().Foreground(theme.SuccessColor),
		err:      lipgloss.NewStyle().Foreground(theme.ErrorColor),
		pending:  lipgloss.NewStyle().Foreground(theme.PendingColor),
		card:     card,
		focused:  card.BorderForeground(theme.FocusBorder),
		button:   lipgloss.NewStyle().Foreground(theme.NormalText).Padding(0, 1),
		selected: lipgloss.NewStyle().Foreground(theme.SelectedForeground).Background(theme.SelectedBackground).Padding(0, 1),
		disabled: lipgloss.NewStyle().Foreground(theme.FaintText).Padding(0, 1),
	}
}
