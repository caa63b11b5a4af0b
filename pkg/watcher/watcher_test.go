package watcher

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"nodetop/pkg/rpc"
	"nodetop/pkg/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDataSource struct {
	mock.Mock
}

func (m *MockDataSource) TipHeader(ctx context.Context) (*rpc.HeaderView, error) {
	args := m.Called(ctx)
	h, _ := args.Get(0).(*rpc.HeaderView)
	return h, args.Error(1)
}

func (m *MockDataSource) BlockByHash(ctx context.Context, hash common.Hash) (*rpc.BlockView, error) {
	args := m.Called(ctx, hash)
	b, _ := args.Get(0).(*rpc.BlockView)
	return b, args.Error(1)
}

func (m *MockDataSource) BlockchainInfo(ctx context.Context) (*rpc.ChainInfo, error) {
	args := m.Called(ctx)
	c, _ := args.Get(0).(*rpc.ChainInfo)
	return c, args.Error(1)
}

func (m *MockDataSource) LocalNodeInfo(ctx context.Context) (*rpc.Node, error) {
	args := m.Called(ctx)
	n, _ := args.Get(0).(*rpc.Node)
	return n, args.Error(1)
}

func (m *MockDataSource) TxPoolInfo(ctx context.Context) (*rpc.TxPoolInfo, error) {
	args := m.Called(ctx)
	p, _ := args.Get(0).(*rpc.TxPoolInfo)
	return p, args.Error(1)
}

func (m *MockDataSource) Peers(ctx context.Context) ([]rpc.Node, error) {
	args := m.Called(ctx)
	p, _ := args.Get(0).([]rpc.Node)
	return p, args.Error(1)
}

var (
	tipHash = common.HexToHash("0x0abc")
	errDown = errors.New("connection refused")
)

func tipHeader() *rpc.HeaderView {
	return &rpc.HeaderView{Number: 42, Hash: tipHash}
}

func tipBlock() *rpc.BlockView {
	return &rpc.BlockView{
		Header:       rpc.HeaderView{Number: 42, Hash: tipHash},
		Transactions: []rpc.TransactionView{{Inputs: []rpc.CellInput{{}}, Outputs: []rpc.CellOutput{{Capacity: 1000}}}},
	}
}

func threePeers() []rpc.Node {
	return []rpc.Node{
		{Version: "0.25.0", Addresses: []rpc.NodeAddress{{Address: "/ip4/10.0.0.1/tcp/8115"}}},
		{Version: "0.25.0"},
		{Version: "0.24.1"},
	}
}

func expectAllOK(m *MockDataSource) {
	m.On("TipHeader", mock.Anything).Return(tipHeader(), nil)
	m.On("BlockByHash", mock.Anything, tipHash).Return(tipBlock(), nil)
	m.On("BlockchainInfo", mock.Anything).Return(&rpc.ChainInfo{Chain: "dev", Epoch: 1, Difficulty: (*hexutil.Big)(big.NewInt(1))}, nil)
	m.On("LocalNodeInfo", mock.Anything).Return(&rpc.Node{Version: "0.25.0"}, nil)
	m.On("TxPoolInfo", mock.Anything).Return(&rpc.TxPoolInfo{Pending: 5, Proposed: 2}, nil)
	m.On("Peers", mock.Anything).Return(threePeers(), nil)
}

func TestFetchAll(t *testing.T) {
	mockDS := new(MockDataSource)
	expectAllOK(mockDS)

	w := NewWatcher(state.NewStore(10), mockDS, nil, Options{})
	sub := w.Subscribe()

	require.True(t, w.fetchAll(context.Background()))
	mockDS.AssertExpectations(t)

	snap := w.Store().Snapshot()
	require.NotNil(t, snap.Chain)
	assert.Equal(t, "dev", snap.Chain.Name)
	assert.Equal(t, uint64(1), snap.Chain.Epoch)
	assert.Equal(t, "0.25.0", snap.LocalNode.Version)
	assert.Equal(t, uint64(5), snap.TxPool.Pending)
	assert.Len(t, snap.Peers, 3)
	tip, ok := snap.Tip()
	require.True(t, ok)
	assert.Equal(t, uint64(42), tip.Number)
	assert.Equal(t, uint64(1000), tip.Reward)

	select {
	case ev := <-sub:
		assert.Equal(t, EventSnapshotUpdated, ev.Type)
		_, isSnap := ev.Data.(state.Snapshot)
		assert.True(t, isSnap)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot event")
	}
}

func TestFetchAll_UnchangedTipSkipsBlockFetch(t *testing.T) {
	mockDS := new(MockDataSource)
	expectAllOK(mockDS)

	w := NewWatcher(state.NewStore(10), mockDS, nil, Options{})
	w.fetchAll(context.Background())
	w.fetchAll(context.Background())

	mockDS.AssertNumberOfCalls(t, "TipHeader", 2)
	mockDS.AssertNumberOfCalls(t, "BlockByHash", 1)
}

func TestFetchAll_FailedCycleKeepsPreviousValues(t *testing.T) {
	mockDS := new(MockDataSource)
	mockDS.On("TipHeader", mock.Anything).Return(tipHeader(), nil).Once()
	mockDS.On("BlockByHash", mock.Anything, tipHash).Return(tipBlock(), nil).Once()
	mockDS.On("BlockchainInfo", mock.Anything).Return(&rpc.ChainInfo{Chain: "dev"}, nil).Once()
	mockDS.On("LocalNodeInfo", mock.Anything).Return(&rpc.Node{Version: "0.25.0"}, nil).Once()
	mockDS.On("TxPoolInfo", mock.Anything).Return(&rpc.TxPoolInfo{Pending: 5}, nil).Once()
	mockDS.On("Peers", mock.Anything).Return(threePeers(), nil).Once()

	mockDS.On("TipHeader", mock.Anything).Return(nil, errDown)
	mockDS.On("BlockchainInfo", mock.Anything).Return(nil, errDown)
	mockDS.On("LocalNodeInfo", mock.Anything).Return(nil, errDown)
	mockDS.On("TxPoolInfo", mock.Anything).Return(nil, errDown)
	mockDS.On("Peers", mock.Anything).Return(nil, errDown)

	w := NewWatcher(state.NewStore(10), mockDS, nil, Options{})
	sub := w.Subscribe()
	w.fetchAll(context.Background())
	before := w.Store().Snapshot()

	w.fetchAll(context.Background())
	after := w.Store().Snapshot()

	assert.Equal(t, before.Chain, after.Chain)
	assert.Equal(t, before.LocalNode, after.LocalNode)
	assert.Equal(t, before.TxPool, after.TxPool)
	assert.Equal(t, before.Peers, after.Peers)
	assert.Equal(t, before.Blocks, after.Blocks)

	failures := 0
	for len(sub) > 0 {
		if ev := <-sub; ev.Type == EventPollFailed {
			failures++
		}
	}
	assert.Equal(t, 5, failures)
}

// flakySource fails calls at random and can hang until its context ends.
type flakySource struct {
	rng   *rand.Rand
	fails atomic.Bool
	hang  atomic.Bool
}

func (f *flakySource) result(ctx context.Context) error {
	if f.hang.Load() {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.fails.Load() {
		return errDown
	}
	return nil
}

func (f *flakySource) TipHeader(ctx context.Context) (*rpc.HeaderView, error) {
	if err := f.result(ctx); err != nil {
		return nil, err
	}
	return tipHeader(), nil
}

func (f *flakySource) BlockByHash(ctx context.Context, _ common.Hash) (*rpc.BlockView, error) {
	if err := f.result(ctx); err != nil {
		return nil, err
	}
	return tipBlock(), nil
}

func (f *flakySource) BlockchainInfo(ctx context.Context) (*rpc.ChainInfo, error) {
	if err := f.result(ctx); err != nil {
		return nil, err
	}
	return &rpc.ChainInfo{Chain: "dev"}, nil
}

func (f *flakySource) LocalNodeInfo(ctx context.Context) (*rpc.Node, error) {
	if err := f.result(ctx); err != nil {
		return nil, err
	}
	return &rpc.Node{Version: "1"}, nil
}

func (f *flakySource) TxPoolInfo(ctx context.Context) (*rpc.TxPoolInfo, error) {
	if err := f.result(ctx); err != nil {
		return nil, err
	}
	return &rpc.TxPoolInfo{}, nil
}

func (f *flakySource) Peers(ctx context.Context) ([]rpc.Node, error) {
	if err := f.result(ctx); err != nil {
		return nil, err
	}
	return threePeers(), nil
}

func TestFetchAll_InterleavedFailuresNeverResetFields(t *testing.T) {
	src := &flakySource{rng: rand.New(rand.NewSource(7))}
	w := NewWatcher(state.NewStore(10), src, nil, Options{CallTimeout: 50 * time.Millisecond})

	populated := false
	for cycle := 0; cycle < 40; cycle++ {
		src.fails.Store(src.rng.Intn(3) != 0)
		w.fetchAll(context.Background())
		snap := w.Store().Snapshot()
		if snap.Chain != nil {
			populated = true
		}
		if populated {
			require.NotNil(t, snap.Chain, "cycle %d", cycle)
			require.NotNil(t, snap.LocalNode, "cycle %d", cycle)
			require.NotNil(t, snap.TxPool, "cycle %d", cycle)
			require.True(t, snap.PeersKnown, "cycle %d", cycle)
			require.Len(t, snap.Blocks, 1, "cycle %d", cycle)
		}
	}
	assert.True(t, populated)
}

func TestFetchAll_HungCallTimesOut(t *testing.T) {
	src := &flakySource{}
	src.hang.Store(true)
	w := NewWatcher(state.NewStore(10), src, nil, Options{Interval: time.Second, CallTimeout: 30 * time.Millisecond})

	start := time.Now()
	assert.True(t, w.fetchAll(context.Background()))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Nil(t, w.Store().Snapshot().Chain)
}

func TestStopDuringCycle(t *testing.T) {
	src := &flakySource{}
	src.hang.Store(true)
	w := NewWatcher(state.NewStore(10), src, nil, Options{Interval: 5 * time.Second, CallTimeout: 5 * time.Second})
	w.Start(context.Background())
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	assert.True(t, w.Stop(time.Second), "watcher should exit within the grace period")
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	// Stop is idempotent.
	assert.True(t, w.Stop(time.Second))
}

func TestPollingLoop(t *testing.T) {
	mockDS := new(MockDataSource)
	expectAllOK(mockDS)
	w := NewWatcher(state.NewStore(10), mockDS, nil, Options{Interval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	require.Eventually(t, func() bool {
		return w.Store().Snapshot().PeersKnown
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("polling loop did not exit after cancel")
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	w := NewWatcher(state.NewStore(1), nil, nil, Options{})
	sub := w.Subscribe()
	assert.NotNil(t, sub)

	w.mu.RLock()
	assert.Equal(t, 1, len(w.subscribers))
	w.mu.RUnlock()

	w.Unsubscribe(sub)
	w.mu.RLock()
	assert.Equal(t, 0, len(w.subscribers))
	w.mu.RUnlock()
}

func TestNewWatcherClampsTimeout(t *testing.T) {
	w := NewWatcher(state.NewStore(1), nil, nil, Options{Interval: 100 * time.Millisecond, CallTimeout: time.Second})
	assert.Equal(t, 100*time.Millisecond, w.callTimeout)

	w = NewWatcher(state.NewStore(1), nil, nil, Options{})
	assert.Equal(t, DefaultInterval, w.interval)
	assert.Equal(t, DefaultCallTimeout, w.callTimeout)
}

// gatedSource blocks the tx pool call until released.
type gatedSource struct {
	flakySource
	entered chan struct{}
	release chan struct{}
}

func (g *gatedSource) TxPoolInfo(ctx context.Context) (*rpc.TxPoolInfo, error) {
	g.entered <- struct{}{}
	<-g.release
	return &rpc.TxPoolInfo{Pending: 7}, nil
}

func TestStop_LateResultsAreNotWritten(t *testing.T) {
	src := &gatedSource{entered: make(chan struct{}, 1), release: make(chan struct{})}
	w := NewWatcher(state.NewStore(10), src, nil, Options{Interval: time.Second, CallTimeout: time.Second})
	w.Start(context.Background())

	select {
	case <-src.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("tx pool call was never issued")
	}
	require.True(t, w.Stop(time.Second))
	close(src.release)

	assert.Never(t, func() bool { return w.Store().Snapshot().TxPool != nil },
		200*time.Millisecond, 10*time.Millisecond)
}

func TestStop_WaitsForInFlightWrite(t *testing.T) {
	w := NewWatcher(state.NewStore(10), nil, nil, Options{})
	inWrite := make(chan struct{})
	finish := make(chan struct{})
	var wrote atomic.Bool
	go w.commit(func() {
		close(inWrite)
		<-finish
		wrote.Store(true)
	})
	<-inWrite

	stopped := make(chan struct{})
	go func() {
		w.Stop(time.Second)
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a store write was in progress")
	case <-time.After(50 * time.Millisecond):
	}
	close(finish)
	<-stopped
	assert.True(t, wrote.Load())
	assert.False(t, w.commit(func() { t.Error("write landed after Stop") }))
}
