package tui

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"nodetop/pkg/index"
	"nodetop/pkg/rpc"
	"nodetop/pkg/state"
	"nodetop/pkg/watcher"

	tea "github.com/charmbracelet/bubbletea"
)

const (
	DefaultRedrawTick = 250 * time.Millisecond
	DefaultFreshness  = 2 * time.Second
	DefaultQuitGrace  = 2 * time.Second
	DefaultTopN       = 50
)

// Options tunes the dashboard. Zero values take defaults.
type Options struct {
	Logger            *slog.Logger
	PollInterval      time.Duration
	CallTimeout       time.Duration
	RedrawTick        time.Duration
	Freshness         time.Duration
	QuitGrace         time.Duration
	RecentBlocks      int
	TopN              int
	HighlightAllFresh bool

	// ProgramOptions are passed to tea.NewProgram after the defaults.
	ProgramOptions []tea.ProgramOption
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.RedrawTick <= 0 {
		o.RedrawTick = DefaultRedrawTick
	}
	if o.Freshness <= 0 {
		o.Freshness = DefaultFreshness
	}
	if o.QuitGrace <= 0 {
		o.QuitGrace = DefaultQuitGrace
	}
	if o.RecentBlocks <= 0 {
		o.RecentBlocks = state.DefaultBlockCapacity
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
	return o
}

const urlHint = "[Hint]: you can use `nodetop --url <URL>` to override the API url"

// Start runs the dashboard against remoteURL until the user quits. Failing
// to reach the node or to open the index at indexDir is returned before
// anything is drawn. controller may be nil to run without the ranking.
func Start(remoteURL, indexDir string, controller *index.Controller, opts Options) error {
	opts = opts.withDefaults()
	logger := opts.Logger
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := rpc.Dial(ctx, remoteURL)
	if err != nil {
		return fmt.Errorf("connect to %s failed: %w\n%s", remoteURL, err, urlHint)
	}
	defer client.Close()

	genesisCtx, genesisCancel := context.WithTimeout(ctx, rpc.DialTimeout)
	genesis, err := client.BlockByNumber(genesisCtx, 0)
	genesisCancel()
	if err != nil {
		return fmt.Errorf("get genesis block from %s failed: %w\n%s", remoteURL, err, urlHint)
	}
	logger.Info("connected", "url", remoteURL, "genesis", genesis.Header.Hash.Hex())

	var ranker index.Ranker
	if controller != nil {
		infoCtx, infoCancel := context.WithTimeout(ctx, rpc.DialTimeout)
		info, err := client.BlockchainInfo(infoCtx)
		infoCancel()
		if err != nil {
			return fmt.Errorf("get blockchain info from %s failed: %w\n%s", remoteURL, err, urlHint)
		}
		if err := controller.Start(ctx, indexDir, genesis.Header.Hash, info.Chain, client); err != nil {
			return fmt.Errorf("open index at %s: %w", indexDir, err)
		}
		defer func() {
			if err := controller.Stop(); err != nil {
				logger.Warn("index shutdown failed", "err", err)
			}
		}()
		ranker = index.NewCachedRanker(controller, index.DefaultCacheTTL)
	}

	store := state.NewStore(opts.RecentBlocks)
	w := watcher.NewWatcher(store, client, logger, watcher.Options{
		Interval:    opts.PollInterval,
		CallTimeout: opts.CallTimeout,
	})

	m := initialModel(w, ranker, remoteURL, opts)
	m.sub = w.Subscribe()
	w.Start(ctx)

	programOpts := append([]tea.ProgramOption{tea.WithAltScreen()}, opts.ProgramOptions...)
	final, err := tea.NewProgram(m, programOpts...).Run()
	quitting := false
	if fm, ok := final.(model); ok {
		quitting = fm.quitting
	}
	if !quitting {
		w.Stop(opts.QuitGrace)
	}
	if err != nil {
		if quitting {
			logger.Warn("terminal teardown failed", "err", err)
			return nil
		}
		return fmt.Errorf("run terminal ui: %w", err)
	}
	return nil
}
