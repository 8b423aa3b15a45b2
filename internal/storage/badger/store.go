package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"

	"eventsMonitor/internal/model"
)

// ErrNotFound is returned by Get for an unknown record.
var ErrNotFound = errors.New("record not found")

const eventPrefix = "event/"

// Store is an embedded key/value mirror of decoded records keyed by chain
// and content hash.
type Store struct {
	db *badger.DB
}

// Open opens a store at path. An empty path keeps everything in memory.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func eventKey(chainID uint64, contentHash common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%d/%s", eventPrefix, chainID, contentHash.Hex()))
}

// MirrorEvent stores the record as JSON. Rewriting the same key is harmless.
func (s *Store) MirrorEvent(_ context.Context, record *model.EventRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(eventKey(record.ChainID, record.ContentHash), data)
	})
}

// Get loads a mirrored record.
func (s *Store) Get(chainID uint64, contentHash common.Hash) (*model.EventRecord, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(chainID, contentHash))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	var record model.EventRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &record, nil
}

// Count returns the number of mirrored records for a chain.
func (s *Store) Count(chainID uint64) (int, error) {
	prefix := []byte(fmt.Sprintf("%s%d/", eventPrefix, chainID))
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
