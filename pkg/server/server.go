package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nodetop/pkg/index"
	"nodetop/pkg/models"
	"nodetop/pkg/state"
	"nodetop/pkg/watcher"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Status is the JSON view of the node snapshot.
type Status struct {
	URL          string               `json:"url"`
	Chain        *models.ChainInfo    `json:"chain"`
	LocalNode    *models.LocalNode    `json:"local_node"`
	TxPool       *models.TxPoolInfo   `json:"tx_pool"`
	Peers        []models.Peer        `json:"peers"` // null until the first successful poll
	Tip          *models.BlockSummary `json:"tip"`
	TipUpdatedAt *time.Time           `json:"tip_updated_at,omitempty"`
	RecentBlocks int                  `json:"recent_blocks"`
	Index        string               `json:"index,omitempty"`
}

type Server struct {
	watcher *watcher.Watcher
	ranker  index.Ranker
	url     string
	logger  *slog.Logger

	clients map[*websocket.Conn]bool
	mu      sync.Mutex
	mux     *http.ServeMux
	http    *http.Server
}

// NewServer serves the snapshot held by w. ranker may be nil.
func NewServer(w *watcher.Watcher, ranker index.Ranker, url string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		watcher: w,
		ranker:  ranker,
		url:     url,
		logger:  logger.With("component", "server"),
		clients: make(map[*websocket.Conn]bool),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/ws", s.handleWS)
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	go s.listenToWatcher()

	s.mu.Lock()
	s.http = &http.Server{Addr: addr, Handler: s.mux, ReadHeaderTimeout: 5 * time.Second}
	srv := s.http
	s.mu.Unlock()

	s.logger.Info("API server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the listener and closes websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.http
	for client := range s.clients {
		_ = client.Close()
		delete(s.clients, client)
	}
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) status(snap state.Snapshot) Status {
	st := Status{
		URL:          s.url,
		Chain:        snap.Chain,
		LocalNode:    snap.LocalNode,
		TxPool:       snap.TxPool,
		RecentBlocks: len(snap.Blocks),
	}
	if snap.PeersKnown {
		st.Peers = snap.Peers
		if st.Peers == nil {
			st.Peers = []models.Peer{}
		}
	}
	if tip, ok := snap.Tip(); ok {
		st.Tip = &tip
		at := snap.TipUpdatedAt
		st.TipUpdatedAt = &at
	}
	if s.ranker != nil {
		st.Index = s.ranker.State().String()
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.status(s.watcher.Store().Snapshot()))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer func() { _ = conn.Close() }()

	s.mu.Lock()
	s.clients[conn] = true
	// Send initial state before any broadcast can reach this client.
	initialData := map[string]interface{}{
		"type": "initial",
		"data": s.status(s.watcher.Store().Snapshot()),
	}
	err = conn.WriteJSON(initialData)
	s.mu.Unlock()
	if err != nil {
		return
	}

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) listenToWatcher() {
	sub := s.watcher.Subscribe()
	defer s.watcher.Unsubscribe(sub)

	for event := range sub {
		if snap, ok := event.Data.(state.Snapshot); ok {
			event.Data = s.status(snap)
		}
		s.broadcast(event)
	}
}

func (s *Server) broadcast(event watcher.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		if err := client.WriteJSON(event); err != nil {
			_ = client.Close()
			delete(s.clients, client)
		}
	}
}
