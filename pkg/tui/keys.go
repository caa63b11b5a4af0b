package tui

import "github.com/charmbracelet/bubbles/key"

// keyMap defines the dashboard key bindings.
type keyMap struct {
	Quit         key.Binding
	Help         key.Binding
	FocusMenu    key.Binding
	FocusContent key.Binding
	Up           key.Binding
	Down         key.Binding
	CopyTip      key.Binding
}

// DefaultKeyMap returns the default key bindings.
func DefaultKeyMap() keyMap {
	return keyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "Quit"),
		),
		Help: key.NewBinding(
			key.WithKeys("?"),
			key.WithHelp("?", "Toggle help"),
		),
		FocusMenu: key.NewBinding(
			key.WithKeys("left", "h"),
			key.WithHelp("←/h", "Focus menu"),
		),
		FocusContent: key.NewBinding(
			key.WithKeys("right", "l"),
			key.WithHelp("→/l", "Focus content"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "Previous tab / scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "Next tab / scroll down"),
		),
		CopyTip: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "Copy tip hash"),
		),
	}
}

// ShortHelp returns key bindings for the short help view.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Help, k.Quit}
}

// FullHelp returns key bindings for the full help view.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.FocusMenu, k.FocusContent, k.Up, k.Down},
		{k.CopyTip, k.Help, k.Quit},
	}
}
