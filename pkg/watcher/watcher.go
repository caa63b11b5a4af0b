package watcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nodetop/pkg/models"
	"nodetop/pkg/rpc"
	"nodetop/pkg/state"

	"github.com/ethereum/go-ethereum/common"
)

const (
	DefaultInterval    = time.Second
	DefaultCallTimeout = 900 * time.Millisecond
)

// DataSource is the status surface the watcher polls. *rpc.Client implements it.
type DataSource interface {
	TipHeader(ctx context.Context) (*rpc.HeaderView, error)
	BlockByHash(ctx context.Context, hash common.Hash) (*rpc.BlockView, error)
	BlockchainInfo(ctx context.Context) (*rpc.ChainInfo, error)
	LocalNodeInfo(ctx context.Context) (*rpc.Node, error)
	TxPoolInfo(ctx context.Context) (*rpc.TxPoolInfo, error)
	Peers(ctx context.Context) ([]rpc.Node, error)
}

// Options tune the polling cadence.
type Options struct {
	Interval    time.Duration
	CallTimeout time.Duration
}

// Watcher polls the node on a fixed cadence and is the only writer of its
// state.Store.
type Watcher struct {
	store       *state.Store
	dataSource  DataSource
	logger      *slog.Logger
	interval    time.Duration
	callTimeout time.Duration

	tipMu   sync.Mutex
	lastTip common.Hash

	subscribers []Subscriber
	mu          sync.RWMutex
	writeMu     sync.Mutex // held by store writes and by Stop
	stopChan    chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
	started     atomic.Bool
}

// NewWatcher creates a Watcher writing into store.
func NewWatcher(store *state.Store, ds DataSource, logger *slog.Logger, opts Options) *Watcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := opts.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	if timeout > interval {
		timeout = interval
	}
	return &Watcher{
		store:       store,
		dataSource:  ds,
		logger:      logger,
		interval:    interval,
		callTimeout: timeout,
		stopChan:    make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Store returns the store this watcher writes to.
func (w *Watcher) Store() *state.Store { return w.store }

// Subscribe adds a new subscriber and returns a channel to receive events.
func (w *Watcher) Subscribe() Subscriber {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(Subscriber, 100)
	w.subscribers = append(w.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber.
func (w *Watcher) Unsubscribe(ch Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, sub := range w.subscribers {
		if sub == ch {
			w.subscribers = append(w.subscribers[:i], w.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

func (w *Watcher) notify(event Event) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, sub := range w.subscribers {
		select {
		case sub <- event:
		default:
			// slow subscriber, drop
		}
	}
}

// Start begins the polling loop on its own goroutine.
func (w *Watcher) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.pollingLoop(ctx)
}

// Stop signals the polling loop and waits up to grace for it to exit.
// In-flight calls are left to finish or time out on their own, but none of
// their results reach the store once Stop has returned. It reports whether
// the loop exited within grace.
func (w *Watcher) Stop(grace time.Duration) bool {
	w.writeMu.Lock()
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.writeMu.Unlock()
	if !w.started.Load() {
		return true
	}
	select {
	case <-w.done:
		return true
	case <-time.After(grace):
		return false
	}
}

// Done is closed once the polling loop has exited.
func (w *Watcher) Done() <-chan struct{} { return w.done }

func (w *Watcher) stopping() bool {
	select {
	case <-w.stopChan:
		return true
	default:
		return false
	}
}

// commit applies write to the store unless a stop was signalled.
func (w *Watcher) commit(write func()) bool {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.stopping() {
		return false
	}
	write()
	return true
}

func (w *Watcher) pollingLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if !w.fetchAll(ctx) {
			return
		}
		select {
		case <-ticker.C:
		case <-w.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// fetchAll runs one poll cycle. The calls are independent; a failed or slow
// call never holds back the others. It returns false when the cycle was
// abandoned because of a stop signal.
func (w *Watcher) fetchAll(ctx context.Context) bool {
	ds := w.dataSource

	// Calls outlive a stop signal and end on their own timeout.
	base := context.WithoutCancel(ctx)
	var changed atomic.Bool
	var wg sync.WaitGroup

	run := func(name string, call func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			callCtx, cancel := context.WithTimeout(base, w.callTimeout)
			defer cancel()
			if err := call(callCtx); err != nil {
				if w.stopping() {
					return
				}
				w.logger.Debug("poll failed", "call", name, "err", err)
				w.notify(Event{Type: EventPollFailed, Data: PollError{Call: name, Error: err.Error()}})
				return
			}
			changed.Store(true)
		}()
	}

	run("get_tip_header", func(ctx context.Context) error {
		header, err := ds.TipHeader(ctx)
		if err != nil {
			return err
		}
		w.tipMu.Lock()
		same := w.lastTip == header.Hash
		w.tipMu.Unlock()
		if same {
			return nil
		}
		block, err := ds.BlockByHash(ctx, header.Hash)
		if err != nil {
			return err
		}
		w.commit(func() {
			w.store.UpsertBlock(block.Summary(time.Now()))
			w.tipMu.Lock()
			w.lastTip = header.Hash
			w.tipMu.Unlock()
		})
		return nil
	})
	run("get_blockchain_info", func(ctx context.Context) error {
		info, err := ds.BlockchainInfo(ctx)
		if err != nil {
			return err
		}
		w.commit(func() { w.store.SetChain(info.Model()) })
		return nil
	})
	run("local_node_info", func(ctx context.Context) error {
		node, err := ds.LocalNodeInfo(ctx)
		if err != nil {
			return err
		}
		w.commit(func() { w.store.SetLocalNode(node.LocalModel()) })
		return nil
	})
	run("tx_pool_info", func(ctx context.Context) error {
		info, err := ds.TxPoolInfo(ctx)
		if err != nil {
			return err
		}
		w.commit(func() { w.store.SetTxPool(info.Model()) })
		return nil
	})
	run("get_peers", func(ctx context.Context) error {
		nodes, err := ds.Peers(ctx)
		if err != nil {
			return err
		}
		peers := make([]models.Peer, 0, len(nodes))
		for i := range nodes {
			peers = append(peers, nodes[i].PeerModel())
		}
		w.commit(func() { w.store.SetPeers(peers) })
		return nil
	})

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-w.stopChan:
		return false
	}
	if changed.Load() {
		w.notify(Event{Type: EventSnapshotUpdated, Data: w.store.Snapshot()})
	}
	return true
}
