package index

import (
	"errors"
	"fmt"

	"nodetop/pkg/rpc"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nervosnetwork/ckb-sdk-go/v2/address"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
)

// MainnetChain is the chain name reported by mainnet nodes. Every other
// chain encodes addresses with the testnet prefix.
const MainnetChain = "ckb"

var errUnknownHashType = errors.New("index: unknown script hash type")

// NetworkForChain maps a blockchain info chain name to an address network.
func NetworkForChain(chain string) types.Network {
	if chain == MainnetChain {
		return types.NetworkMain
	}
	return types.NetworkTest
}

var hashTypes = []struct {
	name string
	b    byte
}{
	{"data", 0},
	{"type", 1},
	{"data1", 2},
	{"data2", 4},
}

func hashTypeByte(name string) (byte, bool) {
	for _, h := range hashTypes {
		if h.name == name {
			return h.b, true
		}
	}
	return 0, false
}

func hashTypeName(b byte) (string, bool) {
	for _, h := range hashTypes {
		if h.b == b {
			return h.name, true
		}
	}
	return "", false
}

func toScript(lock rpc.Script) (*types.Script, error) {
	if _, ok := hashTypeByte(lock.HashType); !ok {
		return nil, fmt.Errorf("%w: %q", errUnknownHashType, lock.HashType)
	}
	return &types.Script{
		CodeHash: types.Hash(lock.CodeHash),
		HashType: types.ScriptHashType(lock.HashType),
		Args:     append([]byte(nil), lock.Args...),
	}, nil
}

// LockHash returns the chain's hash of a lock script, the key explorers and
// wallets use for it.
func LockHash(lock rpc.Script) (common.Hash, error) {
	script, err := toScript(lock)
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(script.Hash()), nil
}

// Address encodes lock as a full-format address for network.
func Address(lock rpc.Script, network types.Network) (string, error) {
	script, err := toScript(lock)
	if err != nil {
		return "", err
	}
	a := &address.Address{Script: script, Network: network}
	return a.Encode()
}

// encodeLock packs code hash, hash type and args for the owner record.
func encodeLock(lock rpc.Script) []byte {
	b, _ := hashTypeByte(lock.HashType)
	v := make([]byte, 0, common.HashLength+1+len(lock.Args))
	v = append(v, lock.CodeHash.Bytes()...)
	v = append(v, b)
	return append(v, lock.Args...)
}

func decodeLock(v []byte) (rpc.Script, error) {
	if len(v) < common.HashLength+1 {
		return rpc.Script{}, errInvalidRecord
	}
	name, ok := hashTypeName(v[common.HashLength])
	if !ok {
		return rpc.Script{}, errInvalidRecord
	}
	return rpc.Script{
		CodeHash: common.BytesToHash(v[:common.HashLength]),
		HashType: name,
		Args:     append([]byte(nil), v[common.HashLength+1:]...),
	}, nil
}
