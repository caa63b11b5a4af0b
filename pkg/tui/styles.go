package tui

import "github.com/charmbracelet/lipgloss"

// --- Styles ---
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle  = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			Bold(true)
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	boxStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")).
			Padding(0, 1)
	focusedBoxStyle = boxStyle.BorderForeground(lipgloss.Color("#04B575"))

	boldStyle    = lipgloss.NewStyle().Bold(true)
	chainStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	productStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#5F87FF")).Bold(true)
	freshStyle   = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#000000")).
			Background(lipgloss.Color("#87D7FF"))
	menuItemStyle     = lipgloss.NewStyle()
	menuSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#000000"))
	menuActiveStyle   = menuSelectedStyle.Background(lipgloss.Color("#FFFF87"))
)
