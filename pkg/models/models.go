package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ShannonsPerCKB is the number of base units in one CKB.
const ShannonsPerCKB = 100_000_000

// ChainInfo describes the chain the node follows.
type ChainInfo struct {
	Name        string   `json:"name"`
	Epoch       uint64   `json:"epoch"`
	Difficulty  *big.Int `json:"difficulty"`
	InitialSync bool     `json:"initial_sync"`
}

// LocalNode holds the identity of the polled node.
type LocalNode struct {
	Version   string   `json:"version"`
	NodeID    string   `json:"node_id"`
	Addresses []string `json:"addresses"`
}

// TxPoolInfo holds transaction pool counters.
type TxPoolInfo struct {
	Pending  uint64 `json:"pending"`
	Proposed uint64 `json:"proposed"`
	Orphan   uint64 `json:"orphan"`
}

// Peer is one connected peer.
type Peer struct {
	Address  string `json:"address"` // empty when the peer advertises none
	Outbound bool   `json:"outbound"`
	Version  string `json:"version"`
	NodeID   string `json:"node_id"`
}

// Direction returns "outbound" or "inbound".
func (p Peer) Direction() string {
	if p.Outbound {
		return "outbound"
	}
	return "inbound"
}

// BlockSummary holds the per-block counters shown in the dashboard.
type BlockSummary struct {
	Number          uint64      `json:"number"`
	Hash            common.Hash `json:"hash"`
	CommitTxCount   int         `json:"commit_tx_count"`
	ProposalTxCount int         `json:"proposal_tx_count"`
	UncleCount      int         `json:"uncle_count"`
	InputCount      int         `json:"input_count"`
	OutputCount     int         `json:"output_count"`
	Reward          uint64      `json:"reward"` // cellbase output capacity in shannons
	Timestamp       time.Time   `json:"timestamp"`
	ObservedAt      time.Time   `json:"observed_at"`
}

// RankedEntry is one row of the top capacity ranking.
type RankedEntry struct {
	Key     common.Hash
	Display *string
	Value   uint64
}

// RPCLatencyData contains the result of a latency check.
type RPCLatencyData struct {
	RPCURL  string
	Latency time.Duration
	Err     error
}

// EndpointResult holds one checked call of the connectivity test.
type EndpointResult struct {
	Method  string `json:"method"`
	Status  string `json:"status"` // "ok" or "error"
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TestReport holds the results of the connectivity test.
type TestReport struct {
	ConfigPath  string           `json:"config_path"`
	URL         string           `json:"url"`
	Reachable   bool             `json:"reachable"`
	RoundTrip   string           `json:"round_trip,omitempty"`
	Chain       string           `json:"chain,omitempty"`
	GenesisHash string           `json:"genesis_hash,omitempty"`
	TipNumber   uint64           `json:"tip_number,omitempty"`
	Endpoints   []EndpointResult `json:"endpoints"`
	IndexDir    string           `json:"index_dir"`
	ConfigSaved bool             `json:"config_saved"`
	SaveError   string           `json:"save_error,omitempty"`
}
