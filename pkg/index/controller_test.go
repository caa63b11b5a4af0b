package index

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nodetop/pkg/models"
	"nodetop/pkg/rpc"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chainSource struct {
	mu     sync.Mutex
	blocks []*rpc.BlockView
	tipErr error
}

func (c *chainSource) TipHeader(ctx context.Context) (*rpc.HeaderView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tipErr != nil {
		return nil, c.tipErr
	}
	return &rpc.HeaderView{Number: hexutil.Uint64(len(c.blocks) - 1)}, nil
}

func (c *chainSource) BlockByNumber(ctx context.Context, number uint64) (*rpc.BlockView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if number >= uint64(len(c.blocks)) {
		return nil, rpc.ErrBlockNotFound
	}
	return c.blocks[number], nil
}

func (c *chainSource) push(b *rpc.BlockView) {
	c.mu.Lock()
	c.blocks = append(c.blocks, b)
	c.mu.Unlock()
}

func newTestChain(n int) *chainSource {
	src := &chainSource{}
	for i := 0; i < n; i++ {
		src.push(testBlock(uint64(i), cellbase(uint64(i), output(100, lockScript(byte(i%3), 20)))))
	}
	return src
}

func startController(t *testing.T, src BlockSource, confirmations uint64) *Controller {
	t.Helper()
	c := NewController(nil, ControllerOptions{
		Confirmations: confirmations,
		SyncInterval:  10 * time.Millisecond,
		CallTimeout:   time.Second,
	})
	require.NoError(t, c.Start(context.Background(), t.TempDir(), testGenesis, "ckb_dev", src))
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func TestController_NotReadyBeforeStart(t *testing.T) {
	c := NewController(nil, ControllerOptions{})
	assert.Equal(t, "Waiting", c.State().String())
	_, err := c.TopN(10)
	assert.ErrorIs(t, err, ErrNotReady)
	assert.NoError(t, c.Stop())
}

func TestController_BecomesReady(t *testing.T) {
	src := newTestChain(6)
	c := startController(t, src, 2)

	require.Eventually(t, func() bool { return c.State().Ready() }, 2*time.Second, 5*time.Millisecond)
	st := c.State()
	assert.Equal(t, PhaseReady, st.Phase)
	assert.Equal(t, uint64(3), st.Indexed, "tip 5 minus 2 confirmations")
	assert.Equal(t, "Ready (indexed to #3)", st.String())

	entries, err := c.TopN(50)
	require.NoError(t, err)
	var total uint64
	for _, e := range entries {
		total += e.Value
	}
	assert.Equal(t, uint64(400), total)

	src.push(testBlock(6, cellbase(6, output(100, lockScript(9, 20)))))
	require.Eventually(t, func() bool { return c.State().Indexed == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, PhaseReady, c.State().Phase)
}

func TestController_ErrorStateKeepsRetrying(t *testing.T) {
	src := newTestChain(3)
	src.tipErr = errors.New("connection refused")
	c := startController(t, src, 0)

	require.Eventually(t, func() bool { return c.State().Phase == PhaseError }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, c.State().String(), "connection refused")
	_, err := c.TopN(1)
	assert.ErrorIs(t, err, ErrNotReady)

	src.mu.Lock()
	src.tipErr = nil
	src.mu.Unlock()
	require.Eventually(t, func() bool { return c.State().Ready() }, 2*time.Second, 5*time.Millisecond)
}

func TestController_ResumesFromStoredTip(t *testing.T) {
	root := t.TempDir()
	src := newTestChain(4)

	first := NewController(nil, ControllerOptions{SyncInterval: 10 * time.Millisecond})
	require.NoError(t, first.Start(context.Background(), root, testGenesis, "ckb_dev", src))
	require.Eventually(t, func() bool { return first.State().Ready() }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, first.Stop())

	second := NewController(nil, ControllerOptions{SyncInterval: 10 * time.Millisecond})
	require.NoError(t, second.Start(context.Background(), root, testGenesis, "ckb_dev", src))
	defer second.Stop()
	st := second.State()
	assert.True(t, st.HasIndexed)
	assert.Equal(t, uint64(3), st.Indexed)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Processing: 0/10 (0.00%)", State{Phase: PhaseProcessing, Target: 9}.String())
	assert.Equal(t, "Processing: 5/10 (50.00%)", State{Phase: PhaseProcessing, Target: 9, Indexed: 4, HasIndexed: true}.String())
	assert.Equal(t, "Error: boom", State{Phase: PhaseError, Err: "boom"}.String())
}

type countingRanker struct {
	calls int
	err   error
}

func (r *countingRanker) State() State { return State{Phase: PhaseReady, Synced: true} }

func (r *countingRanker) TopN(n int) ([]models.RankedEntry, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return make([]models.RankedEntry, n), nil
}

func TestCachedRanker(t *testing.T) {
	inner := &countingRanker{}
	cache := NewCachedRanker(inner, time.Second)
	now := time.Unix(100, 0)
	cache.now = func() time.Time { return now }

	_, _ = cache.TopN(5)
	_, _ = cache.TopN(5)
	assert.Equal(t, 1, inner.calls)

	_, _ = cache.TopN(3)
	assert.Equal(t, 2, inner.calls, "different n misses")

	now = now.Add(time.Second)
	_, _ = cache.TopN(3)
	assert.Equal(t, 3, inner.calls, "expired entry misses")

	inner.err = ErrNotReady
	now = now.Add(time.Second)
	_, err := cache.TopN(3)
	assert.ErrorIs(t, err, ErrNotReady)
	_, _ = cache.TopN(3)
	assert.Equal(t, 5, inner.calls, "not-ready is not cached")
	assert.True(t, cache.State().Ready())
}
