package tui

import (
	"fmt"
	"strings"
	"time"

	"nodetop/pkg/index"
	"nodetop/pkg/state"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
)

func (m model) View() string {
	if m.showHelp {
		return m.viewHelp()
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top, m.viewMenu(), m.viewContent())
	return lipgloss.JoinVertical(lipgloss.Left, m.viewBanner(), body, m.viewFooter())
}

func (m model) viewBanner() string {
	chain, version := placeholder, placeholder
	if m.snap.Chain != nil {
		chain = m.snap.Chain.Name
	}
	if m.snap.LocalNode != nil {
		version = m.snap.LocalNode.Version
	}
	text := "<" + chainStyle.Render(chain) + "> " + productStyle.Render("CKB") + " " + version
	if m.snap.Chain == nil && m.snap.LocalNode == nil {
		text += " " + m.spinner.View()
	}
	return boxStyle.Width(m.width - 2).Render(text)
}

func (m model) viewMenu() string {
	items := make([]string, 0, tabCount+1)
	items = append(items, boldStyle.Render("Menu"))
	for t := Tab(0); t < tabCount; t++ {
		style := menuItemStyle
		if t == m.nav.tab {
			style = menuSelectedStyle
			if m.nav.menuFocus {
				style = menuActiveStyle
			}
		}
		items = append(items, style.Render(t.Title()))
	}

	menuBox := boxStyle
	if m.nav.menuFocus {
		menuBox = focusedBoxStyle
	}
	menuBox = menuBox.Width(menuWidth - 2)
	if h := m.height - bannerHeight - 1 - 5 - 2; h > 0 {
		menuBox = menuBox.Height(h)
	}

	helpBox := boxStyle.Width(menuWidth - 2).Align(lipgloss.Center).Render(lipgloss.JoinVertical(lipgloss.Center,
		boldStyle.Render("Help"),
		boldStyle.Render("Quit ")+": Q",
		boldStyle.Render("Help ")+": ?",
	))
	return lipgloss.JoinVertical(lipgloss.Left, menuBox.Render(strings.Join(items, "\n")), helpBox)
}

func (m model) viewContent() string {
	title := m.nav.tab.Title()
	if m.nav.tab == TabTopCapacity && m.ranker != nil {
		st := m.ranker.State()
		title = fmt.Sprintf("%s (%s)", title, st)
		if st.Phase == index.PhaseProcessing {
			title += " " + m.spinner.View()
		}
	}

	box := boxStyle
	header := subtleStyle.Render(title)
	if !m.nav.menuFocus {
		box = focusedBoxStyle
		header = boldStyle.Render(title)
	}
	return box.
		Width(m.width - menuWidth - 2).
		Height(m.viewport.Height + 1).
		Render(header + "\n" + m.viewport.View())
}

func (m model) viewFooter() string {
	footer := m.help.View(m.keys)
	if m.statusMessage != "" {
		footer += "  " + infoStyle.Render(m.statusMessage)
	}
	return footer
}

func (m model) viewHelp() string {
	header := titleStyle.Render("Help")
	content := boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "\n", m.help.View(m.keys)))
	footer := subtleStyle.Render("Press '?' to close")

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, content, "\n", footer),
	)
}

// renderPanel renders the active tab. Unknown tabs render nothing.
func (m model) renderPanel(now time.Time) string {
	switch m.nav.tab {
	case TabSummary:
		return renderSummary(m.snap, m.url, now, m.opts, m.viewport.Width, m.viewport.Height >= plotMinRows)
	case TabBlocks:
		return renderBlocks(m.snap)
	case TabPeers:
		return renderPeers(m.snap)
	case TabTopCapacity:
		return renderTopCapacity(m.ranker, m.opts.TopN)
	default:
		return ""
	}
}

// summaryField is one "label : value" row of the Summary tab.
type summaryField struct {
	label string
	value *string // nil renders the placeholder
	fresh bool
}

func summaryFields(snap state.Snapshot, url string, now time.Time, opts Options) []summaryField {
	var chain, epoch, difficulty, ibd, tip, pool, peers *string
	if c := snap.Chain; c != nil {
		chain = some(c.Name)
		epoch = uintStr(c.Epoch)
		if c.Difficulty != nil {
			difficulty = some(c.Difficulty.String())
		}
		ibd = some(fmt.Sprintf("%t", c.InitialSync))
	}
	if b, ok := snap.Tip(); ok {
		tip = some(fmt.Sprintf("%d => %s", b.Number, b.Hash.Hex()))
	}
	if p := snap.TxPool; p != nil {
		pool = some(fmt.Sprintf("pending=%d, proposed=%d, orphan=%d", p.Pending, p.Proposed, p.Orphan))
	}
	if snap.PeersKnown {
		peers = some(fmt.Sprintf("%d", len(snap.Peers)))
	}

	window := opts.Freshness
	return []summaryField{
		{"API URL", some(url), false},
		{"Chain", chain, false},
		{"Epoch", epoch, false},
		{"Difficulty", difficulty, false},
		{"IBD", ibd, false},
		{"Tip Block", tip, tip != nil && isFresh(now, snap.TipUpdatedAt, window)},
		{"TxPool", pool, pool != nil && opts.HighlightAllFresh && isFresh(now, snap.TxPoolAt, window)},
		{"Peers", peers, peers != nil && opts.HighlightAllFresh && isFresh(now, snap.PeersAt, window)},
	}
}

func renderSummary(snap state.Snapshot, url string, now time.Time, opts Options, width int, roomy bool) string {
	fields := summaryFields(snap, url, now, opts)
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		v := valueOr(f.value)
		if f.fresh {
			v = freshStyle.Render(v)
		}
		lines = append(lines, boldStyle.Render(fmt.Sprintf("%-10s", f.label))+" : "+v)
	}

	out := strings.Join(lines, "\n")
	if roomy && len(snap.Blocks) >= 3 {
		if plot := blockIntervalPlot(snap, width); plot != "" {
			out += "\n\n" + plot
		}
	}
	return out
}

func blockIntervalPlot(snap state.Snapshot, width int) string {
	plotWidth := width - 12
	if plotWidth > 60 {
		plotWidth = 60
	}
	if plotWidth < 10 {
		return ""
	}
	data := blockIntervals(snap.Blocks, plotWidth)
	if len(data) < 2 {
		return ""
	}
	return asciigraph.Plot(data,
		asciigraph.Height(6),
		asciigraph.Width(plotWidth),
		asciigraph.Caption("Block interval (s)"),
	)
}

func renderBlocks(snap state.Snapshot) string {
	blocks := snap.RecentFirst()
	if len(blocks) == 0 {
		return subtleStyle.Render("Waiting for blocks...")
	}
	lines := make([]string, 0, 2*len(blocks))
	for _, b := range blocks {
		lines = append(lines,
			boldStyle.Render(fmt.Sprintf("%d => %s", b.Number, b.Hash.Hex())),
			fmt.Sprintf("  commited=%d, proposed=%d, uncles=%d, inputs=%d, outputs=%d, cellbase=%d",
				b.CommitTxCount, b.ProposalTxCount, b.UncleCount, b.InputCount, b.OutputCount, b.Reward),
		)
	}
	return strings.Join(lines, "\n")
}

func renderPeers(snap state.Snapshot) string {
	if !snap.PeersKnown {
		return placeholder
	}
	width := 0
	for _, p := range snap.Peers {
		if len(p.Address) > width {
			width = len(p.Address)
		}
	}
	if width == 0 {
		width = fallbackAddrWidth
	}
	lines := make([]string, 0, len(snap.Peers))
	for _, p := range snap.Peers {
		addr := p.Address
		if addr == "" {
			addr = "unknown"
		}
		lines = append(lines, fmt.Sprintf("%-*s %-8s version(%s)", width, addr, p.Direction(), p.Version))
	}
	return strings.Join(lines, "\n")
}

func renderTopCapacity(ranker index.Ranker, n int) string {
	if ranker == nil {
		return subtleStyle.Render("Index disabled")
	}
	st := ranker.State()
	if !st.Ready() {
		return st.String()
	}
	entries, err := ranker.TopN(n)
	if err != nil {
		return errStyle.Render("Index query error: " + err.Error())
	}
	if len(entries) == 0 {
		return subtleStyle.Render("No live cells indexed")
	}
	lines := make([]string, 0, 3*len(entries))
	for _, e := range entries {
		display := "null"
		if e.Display != nil {
			display = *e.Display
		}
		lines = append(lines,
			boldStyle.Render(e.Key.Hex()),
			"  [address ]: "+display,
			"  [capacity]: "+capacityText(e.Value),
		)
	}
	return strings.Join(lines, "\n")
}
