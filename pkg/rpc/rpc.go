package rpc

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"nodetop/pkg/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// DialTimeout bounds the initial connection attempt.
var DialTimeout = 10 * time.Second

// ErrBlockNotFound is returned when the node answers null for a block query.
var ErrBlockNotFound = errors.New("block not found")

// Client is a typed wrapper over the node's JSON-RPC status surface.
type Client struct {
	c *gethrpc.Client
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url string) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	c, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Client{c: c}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() { c.c.Close() }

// TipHeader returns the header of the highest block.
func (c *Client) TipHeader(ctx context.Context) (*HeaderView, error) {
	var header HeaderView
	if err := c.c.CallContext(ctx, &header, "get_tip_header"); err != nil {
		return nil, err
	}
	return &header, nil
}

// BlockByHash returns the block with the given hash.
func (c *Client) BlockByHash(ctx context.Context, hash common.Hash) (*BlockView, error) {
	var block *BlockView
	if err := c.c.CallContext(ctx, &block, "get_block", hash); err != nil {
		return nil, err
	}
	if block == nil {
		return nil, ErrBlockNotFound
	}
	return block, nil
}

// BlockByNumber returns the main-chain block at number.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*BlockView, error) {
	var block *BlockView
	if err := c.c.CallContext(ctx, &block, "get_block_by_number", hexutil.Uint64(number)); err != nil {
		return nil, err
	}
	if block == nil {
		return nil, ErrBlockNotFound
	}
	return block, nil
}

// BlockchainInfo returns the chain descriptor.
func (c *Client) BlockchainInfo(ctx context.Context) (*ChainInfo, error) {
	var info ChainInfo
	if err := c.c.CallContext(ctx, &info, "get_blockchain_info"); err != nil {
		return nil, err
	}
	return &info, nil
}

// LocalNodeInfo returns the identity of the node.
func (c *Client) LocalNodeInfo(ctx context.Context) (*Node, error) {
	var node Node
	if err := c.c.CallContext(ctx, &node, "local_node_info"); err != nil {
		return nil, err
	}
	return &node, nil
}

// TxPoolInfo returns the transaction pool counters.
func (c *Client) TxPoolInfo(ctx context.Context) (*TxPoolInfo, error) {
	var info TxPoolInfo
	if err := c.c.CallContext(ctx, &info, "tx_pool_info"); err != nil {
		return nil, err
	}
	return &info, nil
}

// Peers returns the connected peers.
func (c *Client) Peers(ctx context.Context) ([]Node, error) {
	var nodes []Node
	if err := c.c.CallContext(ctx, &nodes, "get_peers"); err != nil {
		return nil, err
	}
	return nodes, nil
}

// FetchRPCLatency measures one tip header round trip against rpcURL.
func FetchRPCLatency(rpcURL string) (models.RPCLatencyData, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, rpcURL)
	if err != nil {
		return models.RPCLatencyData{RPCURL: rpcURL, Err: err}, err
	}
	defer client.Close()

	if _, err := client.TipHeader(ctx); err != nil {
		return models.RPCLatencyData{RPCURL: rpcURL, Err: err}, err
	}
	return models.RPCLatencyData{RPCURL: rpcURL, Latency: time.Since(start)}, nil
}

// --- conversions ---

// Summary condenses a block into the counters the dashboard displays.
func (b *BlockView) Summary(observedAt time.Time) models.BlockSummary {
	s := models.BlockSummary{
		Number:          uint64(b.Header.Number),
		Hash:            b.Header.Hash,
		CommitTxCount:   len(b.Transactions),
		ProposalTxCount: len(b.Proposals),
		UncleCount:      len(b.Uncles),
		Timestamp:       time.UnixMilli(int64(b.Header.Timestamp)),
		ObservedAt:      observedAt,
	}
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		s.OutputCount += len(tx.Outputs)
		if tx.IsCellbase() {
			for _, out := range tx.Outputs {
				s.Reward += uint64(out.Capacity)
			}
			continue
		}
		s.InputCount += len(tx.Inputs)
	}
	return s
}

// Model converts the wire chain descriptor.
func (ci *ChainInfo) Model() models.ChainInfo {
	var difficulty *big.Int
	if ci.Difficulty != nil {
		difficulty = new(big.Int).Set(ci.Difficulty.ToInt())
	}
	return models.ChainInfo{
		Name:        ci.Chain,
		Epoch:       uint64(ci.Epoch),
		Difficulty:  difficulty,
		InitialSync: ci.IsInitialBlockDownload,
	}
}

// LocalModel converts local_node_info.
func (n *Node) LocalModel() models.LocalNode {
	addrs := make([]string, 0, len(n.Addresses))
	for _, a := range n.Addresses {
		addrs = append(addrs, a.Address)
	}
	return models.LocalNode{Version: n.Version, NodeID: n.NodeID, Addresses: addrs}
}

// PeerModel converts one get_peers entry. The primary address is the first one.
func (n *Node) PeerModel() models.Peer {
	p := models.Peer{Version: n.Version, NodeID: n.NodeID}
	if len(n.Addresses) > 0 {
		p.Address = n.Addresses[0].Address
	}
	if n.IsOutbound != nil {
		p.Outbound = *n.IsOutbound
	}
	return p
}

// Model converts tx_pool_info.
func (t *TxPoolInfo) Model() models.TxPoolInfo {
	return models.TxPoolInfo{
		Pending:  uint64(t.Pending),
		Proposed: uint64(t.Proposed),
		Orphan:   uint64(t.Orphan),
	}
}
