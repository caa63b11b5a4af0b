package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nodetop/pkg/models"
	"nodetop/pkg/rpc"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultConfirmations = 12
	DefaultSyncInterval  = 2 * time.Second
	DefaultCallTimeout   = 5 * time.Second
)

// ErrNotReady is returned by queries issued before the first full sync.
var ErrNotReady = errors.New("index: not ready")

// BlockSource is the subset of the node API the builder consumes.
type BlockSource interface {
	TipHeader(ctx context.Context) (*rpc.HeaderView, error)
	BlockByNumber(ctx context.Context, number uint64) (*rpc.BlockView, error)
}

// Phase is the coarse builder state.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseProcessing
	PhaseReady
	PhaseError
)

// State is a point-in-time view of the builder.
type State struct {
	Phase      Phase
	Indexed    uint64 // last indexed block, valid when HasIndexed
	HasIndexed bool
	Target     uint64
	Synced     bool // target reached at least once
	Err        string
}

// Ready reports whether queries are answered.
func (s State) Ready() bool { return s.Synced }

func (s State) String() string {
	switch s.Phase {
	case PhaseWaiting:
		return "Waiting"
	case PhaseProcessing:
		done := uint64(0)
		if s.HasIndexed {
			done = s.Indexed + 1
		}
		pct := float64(done) * 100 / float64(s.Target+1)
		return fmt.Sprintf("Processing: %d/%d (%.2f%%)", done, s.Target+1, pct)
	case PhaseReady:
		return fmt.Sprintf("Ready (indexed to #%d)", s.Indexed)
	case PhaseError:
		return "Error: " + s.Err
	default:
		return "Unknown"
	}
}

// ControllerOptions tunes the builder.
type ControllerOptions struct {
	Confirmations uint64
	SyncInterval  time.Duration
	CallTimeout   time.Duration
}

// Controller owns the index store and the background builder feeding it.
type Controller struct {
	logger *slog.Logger
	opts   ControllerOptions

	mu    sync.RWMutex
	state State
	store *Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewController returns an idle controller in the Waiting phase.
func NewController(logger *slog.Logger, opts ControllerOptions) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = DefaultSyncInterval
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	return &Controller{
		logger: logger.With("component", "index"),
		opts:   opts,
		state:  State{Phase: PhaseWaiting},
	}
}

// Start opens the store for genesis under root and launches the builder.
// chain is the node's chain name and selects the address network. An error
// here means the index location is unusable.
func (c *Controller) Start(ctx context.Context, root string, genesis common.Hash, chain string, src BlockSource) error {
	store, err := Open(root, genesis, NetworkForChain(chain), c.logger)
	if err != nil {
		return err
	}
	tip, ok, err := store.Tip()
	if err != nil {
		_ = store.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.store = store
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state.Indexed, c.state.HasIndexed = tip, ok
	done := c.done
	c.mu.Unlock()

	c.logger.Info("index opened", "path", store.Path(), "indexed", tip, "has_indexed", ok)
	go func() {
		defer close(done)
		c.run(ctx, src)
	}()
	return nil
}

// Stop halts the builder and closes the store.
func (c *Controller) Stop() error {
	c.mu.RLock()
	cancel, done := c.cancel, c.done
	c.mu.RUnlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	c.mu.Lock()
	defer c.mu.Unlock()
	store := c.store
	c.store = nil
	c.cancel = nil
	return store.Close()
}

// State returns the current builder state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// TopN returns the n owners with the most live capacity.
func (c *Controller) TopN(n int) ([]models.RankedEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.state.Synced || c.store == nil {
		return nil, ErrNotReady
	}
	return c.store.TopN(n)
}

func (c *Controller) run(ctx context.Context, src BlockSource) {
	ticker := time.NewTicker(c.opts.SyncInterval)
	defer ticker.Stop()
	for {
		if err := c.syncOnce(ctx, src); err != nil && ctx.Err() == nil {
			c.logger.Warn("index sync failed", "err", err)
			c.update(func(s *State) {
				s.Phase = PhaseError
				s.Err = err.Error()
			})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// syncOnce indexes every confirmed block not yet applied.
func (c *Controller) syncOnce(ctx context.Context, src BlockSource) error {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	header, err := src.TipHeader(callCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("tip header: %w", err)
	}
	tip := uint64(header.Number)
	target := uint64(0)
	if tip > c.opts.Confirmations {
		target = tip - c.opts.Confirmations
	}

	st := c.State()
	next := uint64(0)
	if st.HasIndexed {
		next = st.Indexed + 1
	}
	c.update(func(s *State) {
		s.Target = target
		if !s.Synced && next <= target {
			s.Phase = PhaseProcessing
		}
	})

	for n := next; n <= target; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		block, err := src.BlockByNumber(callCtx, n)
		cancel()
		if err != nil {
			return fmt.Errorf("block %d: %w", n, err)
		}
		if err := c.apply(block); err != nil {
			return fmt.Errorf("apply block %d: %w", n, err)
		}
		number := n
		c.update(func(s *State) {
			s.Indexed, s.HasIndexed = number, true
			if s.Phase == PhaseError {
				s.Phase, s.Err = PhaseProcessing, ""
			}
			if s.Synced {
				s.Phase = PhaseReady
			}
		})
	}

	c.update(func(s *State) {
		if !s.Synced {
			c.logger.Info("index ready", "indexed", s.Indexed, "target", target)
		}
		s.Synced = true
		s.Phase = PhaseReady
		s.Err = ""
	})
	return nil
}

func (c *Controller) apply(block *rpc.BlockView) error {
	c.mu.RLock()
	store := c.store
	c.mu.RUnlock()
	if store == nil {
		return ErrClosed
	}
	return store.ApplyBlock(block)
}

func (c *Controller) update(fn func(*State)) {
	c.mu.Lock()
	fn(&c.state)
	c.mu.Unlock()
}
