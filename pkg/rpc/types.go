package rpc

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// HeaderView is the JSON form of a block header.
type HeaderView struct {
	Number     hexutil.Uint64 `json:"number"`
	Hash       common.Hash    `json:"hash"`
	ParentHash common.Hash    `json:"parent_hash"`
	Timestamp  hexutil.Uint64 `json:"timestamp"` // unix millis
	Epoch      hexutil.Uint64 `json:"epoch"`
}

// Script is a lock or type script.
type Script struct {
	CodeHash common.Hash   `json:"code_hash"`
	HashType string        `json:"hash_type"`
	Args     hexutil.Bytes `json:"args"`
}

// CellOutput is a transaction output.
type CellOutput struct {
	Capacity hexutil.Uint64 `json:"capacity"`
	Lock     Script         `json:"lock"`
	Type     *Script        `json:"type,omitempty"`
}

// OutPoint references a previous output.
type OutPoint struct {
	TxHash common.Hash    `json:"tx_hash"`
	Index  hexutil.Uint64 `json:"index"`
}

// CellInput spends a previous output.
type CellInput struct {
	PreviousOutput OutPoint       `json:"previous_output"`
	Since          hexutil.Uint64 `json:"since"`
}

// TransactionView is a transaction as returned inside a block.
type TransactionView struct {
	Hash    common.Hash  `json:"hash"`
	Inputs  []CellInput  `json:"inputs"`
	Outputs []CellOutput `json:"outputs"`
}

// IsCellbase reports whether the transaction is the block reward transaction.
func (tx *TransactionView) IsCellbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].PreviousOutput.TxHash == (common.Hash{})
}

// UncleBlockView is an uncle header with its proposals.
type UncleBlockView struct {
	Header    HeaderView `json:"header"`
	Proposals []string   `json:"proposals"`
}

// BlockView is a full block.
type BlockView struct {
	Header       HeaderView        `json:"header"`
	Uncles       []UncleBlockView  `json:"uncles"`
	Transactions []TransactionView `json:"transactions"`
	Proposals    []string          `json:"proposals"`
}

// ChainInfo is the result of get_blockchain_info.
type ChainInfo struct {
	Chain                  string         `json:"chain"`
	Epoch                  hexutil.Uint64 `json:"epoch"`
	Difficulty             *hexutil.Big   `json:"difficulty"`
	IsInitialBlockDownload bool           `json:"is_initial_block_download"`
}

// NodeAddress is an advertised address and its score.
type NodeAddress struct {
	Address string         `json:"address"`
	Score   hexutil.Uint64 `json:"score"`
}

// Node is the result of local_node_info and one entry of get_peers.
type Node struct {
	Version    string        `json:"version"`
	NodeID     string        `json:"node_id"`
	Addresses  []NodeAddress `json:"addresses"`
	IsOutbound *bool         `json:"is_outbound,omitempty"`
}

// TxPoolInfo is the result of tx_pool_info.
type TxPoolInfo struct {
	Pending  hexutil.Uint64 `json:"pending"`
	Proposed hexutil.Uint64 `json:"proposed"`
	Orphan   hexutil.Uint64 `json:"orphan"`
}
