// Package state holds the latest node observations shared between the
// poller (single writer) and the dashboard readers.
package state

import (
	"math/big"
	"sort"
	"sync"
	"time"

	"nodetop/pkg/models"
)

// DefaultBlockCapacity is the number of recent blocks retained.
const DefaultBlockCapacity = 1000

// Snapshot is a point-in-time copy of the store. Nil pointers and
// PeersKnown == false mean the field has never been populated.
type Snapshot struct {
	Chain        *models.ChainInfo
	LocalNode    *models.LocalNode
	TxPool       *models.TxPoolInfo
	Peers        []models.Peer
	PeersKnown   bool
	Blocks       []models.BlockSummary // ascending by number
	TipUpdatedAt time.Time
	ChainAt      time.Time
	TxPoolAt     time.Time
	PeersAt      time.Time
}

// Tip returns the highest known block.
func (s Snapshot) Tip() (models.BlockSummary, bool) {
	if len(s.Blocks) == 0 {
		return models.BlockSummary{}, false
	}
	return s.Blocks[len(s.Blocks)-1], true
}

// RecentFirst returns the blocks ordered from highest to lowest number.
func (s Snapshot) RecentFirst() []models.BlockSummary {
	out := make([]models.BlockSummary, len(s.Blocks))
	for i, b := range s.Blocks {
		out[len(s.Blocks)-1-i] = b
	}
	return out
}

// Store coordinates concurrent access to the observations. Only the poller
// calls the Set/Upsert mutators.
type Store struct {
	mu       sync.RWMutex
	capacity int

	chain     *models.ChainInfo
	localNode *models.LocalNode
	txPool    *models.TxPoolInfo
	peers     []models.Peer
	peersOK   bool
	blocks    map[uint64]models.BlockSummary
	tipAt     time.Time
	chainAt   time.Time
	txPoolAt  time.Time
	peersAt   time.Time
}

// NewStore returns an empty store keeping at most capacity recent blocks.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultBlockCapacity
	}
	return &Store{
		capacity: capacity,
		blocks:   make(map[uint64]models.BlockSummary, capacity+1),
	}
}

// SetChain records the chain descriptor.
func (s *Store) SetChain(info models.ChainInfo) {
	info.Difficulty = cloneBig(info.Difficulty)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain = &info
	s.chainAt = time.Now()
}

// SetLocalNode records the local node identity.
func (s *Store) SetLocalNode(node models.LocalNode) {
	node.Addresses = append([]string(nil), node.Addresses...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localNode = &node
}

// SetTxPool records the tx-pool counters.
func (s *Store) SetTxPool(info models.TxPoolInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txPool = &info
	s.txPoolAt = time.Now()
}

// SetPeers replaces the peer list wholesale.
func (s *Store) SetPeers(peers []models.Peer) {
	dup := append([]models.Peer(nil), peers...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = dup
	s.peersOK = true
	s.peersAt = time.Now()
}

// UpsertBlock inserts or overwrites a block by number, evicting the lowest
// numbered block when the capacity is exceeded.
func (s *Store) UpsertBlock(block models.BlockSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[block.Number] = block
	if top, ok := s.maxNumberLocked(); ok && block.Number == top {
		s.tipAt = block.ObservedAt
	}
	for len(s.blocks) > s.capacity {
		var lowest uint64
		first := true
		for n := range s.blocks {
			if first || n < lowest {
				lowest, first = n, false
			}
		}
		delete(s.blocks, lowest)
	}
}

func (s *Store) maxNumberLocked() (uint64, bool) {
	var top uint64
	found := false
	for n := range s.blocks {
		if !found || n > top {
			top, found = n, true
		}
	}
	return top, found
}

// Snapshot returns a deep copy of the current observations.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		PeersKnown:   s.peersOK,
		TipUpdatedAt: s.tipAt,
		ChainAt:      s.chainAt,
		TxPoolAt:     s.txPoolAt,
		PeersAt:      s.peersAt,
	}
	if s.chain != nil {
		c := *s.chain
		c.Difficulty = cloneBig(c.Difficulty)
		snap.Chain = &c
	}
	if s.localNode != nil {
		n := *s.localNode
		n.Addresses = append([]string(nil), n.Addresses...)
		snap.LocalNode = &n
	}
	if s.txPool != nil {
		p := *s.txPool
		snap.TxPool = &p
	}
	if s.peersOK {
		snap.Peers = append([]models.Peer{}, s.peers...)
	}
	if len(s.blocks) > 0 {
		snap.Blocks = make([]models.BlockSummary, 0, len(s.blocks))
		for _, b := range s.blocks {
			snap.Blocks = append(snap.Blocks, b)
		}
		sort.Slice(snap.Blocks, func(i, j int) bool { return snap.Blocks[i].Number < snap.Blocks[j].Number })
	}
	return snap
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
