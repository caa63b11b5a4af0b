package tui

import (
	"time"

	"nodetop/pkg/models"
	"nodetop/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
)

// Tab identifies a content panel.
type Tab int

const (
	TabSummary Tab = iota
	TabBlocks
	TabPeers
	TabTopCapacity
	tabCount
)

var tabTitles = [...]string{
	TabSummary:     "Summary",
	TabBlocks:      "Recent Blocks",
	TabPeers:       "Peers",
	TabTopCapacity: "Top Capacity",
}

// Title returns the menu label, or "" for an unknown tab.
func (t Tab) Title() string {
	if t < 0 || t >= tabCount {
		return ""
	}
	return tabTitles[t]
}

// navigation is the user-controlled view state.
type navigation struct {
	tab       Tab
	menuFocus bool
}

func (n *navigation) next() {
	n.tab = (n.tab + 1) % tabCount
}

func (n *navigation) prev() {
	if n.tab <= 0 {
		n.tab = tabCount - 1
		return
	}
	n.tab--
}

// isFresh reports whether at lies within window before now. Exactly window
// old is stale.
func isFresh(now, at time.Time, window time.Duration) bool {
	if at.IsZero() {
		return false
	}
	return now.Sub(at) < window
}

// blockIntervals returns the per-block spacing in seconds between known
// blocks, oldest first. Gaps in the ring are averaged over.
func blockIntervals(blocks []models.BlockSummary, limit int) []float64 {
	if len(blocks) > limit+1 {
		blocks = blocks[len(blocks)-limit-1:]
	}
	out := make([]float64, 0, len(blocks))
	for i := 1; i < len(blocks); i++ {
		prev, cur := blocks[i-1], blocks[i]
		span := cur.Number - prev.Number
		if span == 0 {
			continue
		}
		out = append(out, cur.Timestamp.Sub(prev.Timestamp).Seconds()/float64(span))
	}
	return out
}

func listenForWatcher(sub watcher.Subscriber) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil
		}
		return event
	}
}
