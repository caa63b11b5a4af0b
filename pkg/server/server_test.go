package server

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nodetop/pkg/index"
	"nodetop/pkg/models"
	"nodetop/pkg/state"
	"nodetop/pkg/watcher"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRanker struct{ st index.State }

func (r stubRanker) State() index.State { return r.st }
func (r stubRanker) TopN(int) ([]models.RankedEntry, error) { return nil, index.ErrNotReady }

func newTestServer(t *testing.T) (*Server, *state.Store) {
	t.Helper()
	store := state.NewStore(10)
	w := watcher.NewWatcher(store, nil, nil, watcher.Options{})
	return NewServer(w, stubRanker{st: index.State{Phase: index.PhaseWaiting}}, "http://node:8114", nil), store
}

func TestHandleStatus_Empty(t *testing.T) {
	s, _ := newTestServer(t)

	req, _ := http.NewRequest("GET", "/api/status", nil)
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "http://node:8114", resp["url"])
	assert.Nil(t, resp["chain"])
	assert.Nil(t, resp["peers"], "peers stay null until first poll")
	assert.Nil(t, resp["tip"])
	assert.Equal(t, "Waiting", resp["index"])
}

func TestHandleStatus_Populated(t *testing.T) {
	s, store := newTestServer(t)
	store.SetChain(models.ChainInfo{Name: "ckb_testnet", Epoch: 9, Difficulty: big.NewInt(256)})
	store.SetPeers(nil)
	store.UpsertBlock(models.BlockSummary{Number: 42, Hash: common.HexToHash("0x2a"), ObservedAt: time.Now()})

	req, _ := http.NewRequest("GET", "/api/status", nil)
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)

	var resp Status
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotNil(t, resp.Chain)
	assert.Equal(t, "ckb_testnet", resp.Chain.Name)
	assert.Equal(t, int64(256), resp.Chain.Difficulty.Int64())
	assert.NotNil(t, resp.Peers)
	assert.Empty(t, resp.Peers)
	require.NotNil(t, resp.Tip)
	assert.Equal(t, uint64(42), resp.Tip.Number)
	assert.Equal(t, 1, resp.RecentBlocks)
	assert.NotNil(t, resp.TipUpdatedAt)
}

func TestHandleWS(t *testing.T) {
	s, _ := newTestServer(t)
	server := httptest.NewServer(s.mux)
	defer server.Close()

	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"

	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()

	// Read initial state
	var msg map[string]interface{}
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, "initial", msg["type"])

	s.broadcast(watcher.Event{Type: watcher.EventPollFailed, Data: watcher.PollError{Call: "get_peers", Error: "timeout"}})
	var event map[string]interface{}
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, ws.ReadJSON(&event))
	assert.Equal(t, string(watcher.EventPollFailed), event["type"])
}
