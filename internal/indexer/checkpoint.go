package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Checkpointer persists the next block the historical lane should read.
type Checkpointer interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, nextBlock uint64) error
}

// Checkpoint is the on-disk form of a file checkpoint.
type Checkpoint struct {
	ChainID   uint64 `json:"chain_id"`
	NextBlock uint64 `json:"next_block"`
	UpdatedAt string `json:"updated_at"`
}

// FileCheckpoint persists checkpoints to a JSON file, replaced atomically.
type FileCheckpoint struct {
	path    string
	chainID uint64
}

func NewFileCheckpoint(path string, chainID uint64) *FileCheckpoint {
	return &FileCheckpoint{path: path, chainID: chainID}
}

func (c *FileCheckpoint) Load(_ context.Context) (uint64, bool, error) {
	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return 0, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return 0, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.ChainID != 0 && cp.ChainID != c.chainID {
		return 0, false, fmt.Errorf("checkpoint %s belongs to chain %d, not %d", c.path, cp.ChainID, c.chainID)
	}

	return cp.NextBlock, true, nil
}

func (c *FileCheckpoint) Save(_ context.Context, nextBlock uint64) error {
	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	cp := Checkpoint{
		ChainID:   c.chainID,
		NextBlock: nextBlock,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}

// StateStore is a named cursor table, such as the primary store's indexer_state.
type StateStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, value uint64) error
}

// StateCheckpoint keeps the checkpoint as a named row in a StateStore.
type StateCheckpoint struct {
	store StateStore
	name  string
}

func NewStateCheckpoint(store StateStore, name string) *StateCheckpoint {
	return &StateCheckpoint{store: store, name: name}
}

func (c *StateCheckpoint) Load(ctx context.Context) (uint64, bool, error) {
	return c.store.LoadState(ctx, c.name)
}

func (c *StateCheckpoint) Save(ctx context.Context, nextBlock uint64) error {
	return c.store.SaveState(ctx, c.name, nextBlock)
}
