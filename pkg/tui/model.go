package tui

import (
	"log/slog"
	"time"

	"nodetop/pkg/index"
	"nodetop/pkg/state"
	"nodetop/pkg/watcher"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	menuWidth     = 17
	bannerHeight  = 3
	defaultWidth  = 100
	defaultHeight = 30
	plotMinRows   = 18
)

// --- Messages ---

type clearStatusMsg struct{}
type redrawTickMsg time.Time

// --- Model ---

type model struct {
	watcher *watcher.Watcher
	sub     watcher.Subscriber
	ranker  index.Ranker
	url     string
	opts    Options
	logger  *slog.Logger
	now     func() time.Time

	nav           navigation
	keys          keyMap
	help          help.Model
	showHelp      bool
	spinner       spinner.Model
	viewport      viewport.Model
	width         int
	height        int
	snap          state.Snapshot
	statusMessage string
	quitting      bool
	copyTip       func(string) error
}

func initialModel(w *watcher.Watcher, ranker index.Ranker, url string, opts Options) model {
	opts = opts.withDefaults()
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	m := model{
		watcher:  w,
		ranker:   ranker,
		url:      url,
		opts:     opts,
		logger:   opts.Logger,
		now:      time.Now,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		spinner:  s,
		viewport: viewport.New(0, 0),
		copyTip:  writeClipboard,
		nav:      navigation{menuFocus: true},
	}
	m.resize(defaultWidth, defaultHeight)
	m.refresh()
	return m
}

func (m model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, redrawTick(m.opts.RedrawTick)}
	if m.sub != nil {
		cmds = append(cmds, listenForWatcher(m.sub))
	}
	return tea.Batch(cmds...)
}

func redrawTick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return redrawTickMsg(t) })
}

// resize fits the content viewport into the space left by banner, menu and footer.
func (m *model) resize(width, height int) {
	m.width, m.height = width, height
	// borders and padding of the content box, plus the panel title line
	w := width - menuWidth - 4
	h := height - bannerHeight - 4
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	m.viewport.Width = w
	m.viewport.Height = h
	m.help.Width = width
}

// refresh takes a fresh snapshot and re-renders the active panel.
func (m *model) refresh() {
	m.snap = m.watcher.Store().Snapshot()
	m.viewport.SetContent(m.renderPanel(m.now()))
}
