// Package index maintains a ranking of aggregate live capacity per lock
// owner in a Pebble database, one database per chain genesis.
package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"nodetop/pkg/models"
	"nodetop/pkg/rpc"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/nervosnetwork/ckb-sdk-go/v2/types"
)

const storeVersion = 2

const (
	cellPrefix  = byte('c')
	ownerPrefix = byte('o')
	rankPrefix  = byte('r')
)

var (
	metaVersion = []byte("meta|version")
	metaGenesis = []byte("meta|genesis")
	metaTip     = []byte("meta|tip")

	rankLower = []byte{rankPrefix}
	rankUpper = []byte{rankPrefix + 1}
)

var (
	ErrClosed          = errors.New("index: store is closed")
	ErrGenesisMismatch = errors.New("index: genesis hash mismatch")
	errInvalidRecord   = errors.New("index: invalid record encoding")
)

// Store is a Pebble-backed ranking of live capacity per lock hash.
//
// Layout:
//
//	c|<tx hash><index u32>      -> lock hash, capacity u64
//	o|<lock hash>               -> capacity u64, code hash, hash type, args
//	r|<^capacity u64><lock hash> -> empty
//
// Iterating the r| range in key order yields owners by capacity descending,
// ties by lock hash ascending.
type Store struct {
	db      *pebble.DB
	path    string
	genesis common.Hash
	network types.Network
}

// Open opens (creating if needed) the index for the chain identified by
// genesis under root. Addresses in the ranking are encoded for network.
// Pebble's own messages go to logger.
func Open(root string, genesis common.Hash, network types.Network, logger *slog.Logger) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("index: root path is empty")
	}
	path := filepath.Join(root, strings.TrimPrefix(genesis.Hex(), "0x"))
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("index: create dir: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := pebble.Open(path, &pebble.Options{Logger: pebbleLogger{logger: logger.With("component", "pebble")}})
	if err != nil {
		return nil, fmt.Errorf("index: pebble open: %w", err)
	}
	s := &Store{db: db, path: path, genesis: genesis, network: network}

	stored, err := s.get(metaGenesis)
	switch {
	case err != nil:
		_ = db.Close()
		return nil, err
	case stored == nil:
		batch := db.NewBatch()
		_ = batch.Set(metaGenesis, genesis.Bytes(), nil)
		_ = batch.Set(metaVersion, encodeUint64(storeVersion), nil)
		if err := batch.Commit(pebble.Sync); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("index: write meta: %w", err)
		}
	case common.BytesToHash(stored) != genesis:
		_ = db.Close()
		return nil, ErrGenesisMismatch
	}
	if v, err := s.get(metaVersion); err == nil && v != nil && decodeUint64(v) != storeVersion {
		_ = db.Close()
		return nil, fmt.Errorf("index: store version %d unsupported (expected %d)", decodeUint64(v), storeVersion)
	}
	return s, nil
}

// Path returns the database directory.
func (s *Store) Path() string { return s.path }

// Close releases Pebble resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) get(key []byte) ([]byte, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	v, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// Tip returns the number of the last indexed block.
func (s *Store) Tip() (uint64, bool, error) {
	v, err := s.get(metaTip)
	if err != nil || v == nil {
		return 0, false, err
	}
	return decodeUint64(v), true, nil
}

// ApplyBlock indexes the outputs created and the cells spent by block and
// records it as the index tip.
func (s *Store) ApplyBlock(block *rpc.BlockView) error {
	if s.db == nil {
		return ErrClosed
	}
	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	deltas := make(map[common.Hash]int64)
	locks := make(map[common.Hash]rpc.Script)

	for i := range block.Transactions {
		tx := &block.Transactions[i]
		if !tx.IsCellbase() {
			for _, in := range tx.Inputs {
				key := cellKey(in.PreviousOutput.TxHash, uint32(in.PreviousOutput.Index))
				owner, capacity, found, err := readCell(batch, key)
				if err != nil {
					return err
				}
				if !found {
					continue
				}
				deltas[owner] -= int64(capacity)
				if err := batch.Delete(key, nil); err != nil {
					return err
				}
			}
		}
		for idx, out := range tx.Outputs {
			owner, err := LockHash(out.Lock)
			if err != nil {
				continue // unknown hash type
			}
			if err := batch.Set(cellKey(tx.Hash, uint32(idx)), encodeCell(owner, uint64(out.Capacity)), nil); err != nil {
				return err
			}
			deltas[owner] += int64(out.Capacity)
			locks[owner] = out.Lock
		}
	}

	for owner, delta := range deltas {
		if delta == 0 {
			continue
		}
		current, lockRecord, err := readOwner(batch, owner)
		if err != nil {
			return err
		}
		if lock, ok := locks[owner]; ok {
			lockRecord = encodeLock(lock)
		}
		if current > 0 {
			if err := batch.Delete(rankKey(current, owner), nil); err != nil {
				return err
			}
		}
		total := int64(current) + delta
		if total <= 0 {
			if err := batch.Delete(ownerKey(owner), nil); err != nil {
				return err
			}
			continue
		}
		if err := batch.Set(ownerKey(owner), encodeOwner(uint64(total), lockRecord), nil); err != nil {
			return err
		}
		if err := batch.Set(rankKey(uint64(total), owner), nil, nil); err != nil {
			return err
		}
	}

	if err := batch.Set(metaTip, encodeUint64(uint64(block.Header.Number)), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.NoSync)
}

// TopN returns at most n owners ordered by capacity descending, ties by
// lock hash ascending.
func (s *Store) TopN(n int) ([]models.RankedEntry, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}
	snap := s.db.NewSnapshot()
	defer snap.Close()

	iter, err := snap.NewIter(&pebble.IterOptions{LowerBound: rankLower, UpperBound: rankUpper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	entries := make([]models.RankedEntry, 0, n)
	for valid := iter.First(); valid && len(entries) < n; valid = iter.Next() {
		key := iter.Key()
		if len(key) != 1+8+common.HashLength {
			return nil, errInvalidRecord
		}
		owner := common.BytesToHash(key[9:])
		entry := models.RankedEntry{
			Key:   owner,
			Value: ^binary.BigEndian.Uint64(key[1:9]),
		}
		if _, lockRecord, err := readOwner(snap, owner); err == nil {
			entry.Display = s.displayAddress(lockRecord)
		}
		entries = append(entries, entry)
	}
	return entries, iter.Error()
}

// displayAddress encodes a stored lock as an address, nil when it has none.
func (s *Store) displayAddress(lockRecord []byte) *string {
	lock, err := decodeLock(lockRecord)
	if err != nil {
		return nil
	}
	addr, err := Address(lock, s.network)
	if err != nil {
		return nil
	}
	return &addr
}

// --- encoding ---

// getter is satisfied by *pebble.DB, *pebble.Batch and *pebble.Snapshot.
type getter interface {
	Get(key []byte) ([]byte, io.Closer, error)
}

func readCell(g getter, key []byte) (owner common.Hash, capacity uint64, found bool, err error) {
	v, closer, err := g.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return common.Hash{}, 0, false, nil
	}
	if err != nil {
		return common.Hash{}, 0, false, err
	}
	defer closer.Close()
	if len(v) != common.HashLength+8 {
		return common.Hash{}, 0, false, errInvalidRecord
	}
	return common.BytesToHash(v[:common.HashLength]), binary.BigEndian.Uint64(v[common.HashLength:]), true, nil
}

func readOwner(g getter, owner common.Hash) (capacity uint64, lockRecord []byte, err error) {
	v, closer, err := g.Get(ownerKey(owner))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	defer closer.Close()
	if len(v) < 8 {
		return 0, nil, errInvalidRecord
	}
	return binary.BigEndian.Uint64(v[:8]), append([]byte(nil), v[8:]...), nil
}

func cellKey(txHash common.Hash, index uint32) []byte {
	key := make([]byte, 1+common.HashLength+4)
	key[0] = cellPrefix
	copy(key[1:], txHash.Bytes())
	binary.BigEndian.PutUint32(key[1+common.HashLength:], index)
	return key
}

func ownerKey(owner common.Hash) []byte {
	key := make([]byte, 1+common.HashLength)
	key[0] = ownerPrefix
	copy(key[1:], owner.Bytes())
	return key
}

func rankKey(capacity uint64, owner common.Hash) []byte {
	key := make([]byte, 1+8+common.HashLength)
	key[0] = rankPrefix
	binary.BigEndian.PutUint64(key[1:9], ^capacity)
	copy(key[9:], owner.Bytes())
	return key
}

func encodeCell(owner common.Hash, capacity uint64) []byte {
	v := make([]byte, common.HashLength+8)
	copy(v, owner.Bytes())
	binary.BigEndian.PutUint64(v[common.HashLength:], capacity)
	return v
}

func encodeOwner(capacity uint64, lockRecord []byte) []byte {
	v := make([]byte, 8, 8+len(lockRecord))
	binary.BigEndian.PutUint64(v, capacity)
	return append(v, lockRecord...)
}

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func decodeUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
