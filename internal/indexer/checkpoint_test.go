package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoint.json")
	cp := NewFileCheckpoint(path, 1)
	ctx := context.Background()

	if _, ok, err := cp.Load(ctx); err != nil || ok {
		t.Fatalf("fresh checkpoint: ok=%v err=%v", ok, err)
	}
	if err := cp.Save(ctx, 4200); err != nil {
		t.Fatalf("save: %v", err)
	}
	next, ok, err := cp.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if next != 4200 {
		t.Fatalf("next block mismatch: %d", next)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}
}

func TestFileCheckpointRejectsOtherChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := NewFileCheckpoint(path, 1).Save(context.Background(), 10); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, _, err := NewFileCheckpoint(path, 137).Load(context.Background()); err == nil {
		t.Fatalf("expected chain mismatch error")
	}
}

type mapState map[string]uint64

func (m mapState) LoadState(_ context.Context, name string) (uint64, bool, error) {
	v, ok := m[name]
	return v, ok, nil
}

func (m mapState) SaveState(_ context.Context, name string, value uint64) error {
	m[name] = value
	return nil
}

func TestStateCheckpoint(t *testing.T) {
	state := mapState{}
	cp := NewStateCheckpoint(state, "events:demo")
	if err := cp.Save(context.Background(), 77); err != nil {
		t.Fatalf("save: %v", err)
	}
	if state["events:demo"] != 77 {
		t.Fatalf("state not written: %v", state)
	}
	next, ok, _ := cp.Load(context.Background())
	if !ok || next != 77 {
		t.Fatalf("load mismatch: %d %v", next, ok)
	}
}
