package tui

import (
	"log/slog"
	"time"

	"nodetop/pkg/watcher"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

func writeClipboard(s string) error { return clipboard.WriteAll(s) }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		m.refresh()

	case redrawTickMsg:
		if m.quitting {
			return m, nil
		}
		m.refresh()
		cmds = append(cmds, redrawTick(m.opts.RedrawTick))

	case watcher.Event:
		if m.quitting {
			return m, nil
		}
		if msg.Type == watcher.EventSnapshotUpdated {
			m.refresh()
		}
		cmds = append(cmds, listenForWatcher(m.sub))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case clearStatusMsg:
		m.statusMessage = ""

	case tea.KeyMsg:
		if m.quitting {
			return m, nil
		}
		return m.handleKey(msg)
	}

	return m, tea.Batch(cmds...)
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		m.statusMessage = "Stopping..."
		return m, stopAndQuit(m.watcher, m.opts.QuitGrace, m.logger)

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		m.help.ShowAll = m.showHelp

	case key.Matches(msg, m.keys.FocusMenu):
		m.nav.menuFocus = true

	case key.Matches(msg, m.keys.FocusContent):
		m.nav.menuFocus = false

	case key.Matches(msg, m.keys.Down):
		if m.nav.menuFocus {
			m.nav.next()
			m.refresh()
			m.viewport.GotoTop()
		} else {
			m.viewport.LineDown(1)
		}

	case key.Matches(msg, m.keys.Up):
		if m.nav.menuFocus {
			m.nav.prev()
			m.refresh()
			m.viewport.GotoTop()
		} else {
			m.viewport.LineUp(1)
		}

	case key.Matches(msg, m.keys.CopyTip):
		tip, ok := m.snap.Tip()
		if !ok {
			m.statusMessage = "No tip block yet"
		} else if err := m.copyTip(tip.Hash.Hex()); err != nil {
			m.statusMessage = "Failed to copy to clipboard"
		} else {
			m.statusMessage = "Tip hash copied to clipboard!"
		}
		return m, tea.Tick(time.Second*2, func(t time.Time) tea.Msg {
			return clearStatusMsg{}
		})
	}
	return m, nil
}

// stopAndQuit joins the poller for at most grace before ending the program.
func stopAndQuit(w *watcher.Watcher, grace time.Duration, logger *slog.Logger) tea.Cmd {
	return func() tea.Msg {
		if !w.Stop(grace) {
			logger.Warn("poller did not stop within grace period", "grace", grace)
		}
		return tea.Quit()
	}
}
