package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"eventsMonitor/internal/metrics"
	"eventsMonitor/internal/model"
)

type memPrimary struct {
	mu   sync.Mutex
	rows map[common.Hash]*model.EventRecord
	err  error
}

func newMemPrimary() *memPrimary {
	return &memPrimary{rows: map[common.Hash]*model.EventRecord{}}
}

func (m *memPrimary) InsertEvent(_ context.Context, r *model.EventRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.rows[r.ContentHash]; ok {
		return false, nil
	}
	m.rows[r.ContentHash] = r
	return true, nil
}

type memReplica struct {
	calls int
	err   error
}

func (m *memReplica) MirrorEvent(context.Context, *model.EventRecord) error {
	m.calls++
	return m.err
}

type memArchive struct {
	calls int
	err   error
}

func (m *memArchive) Archive(context.Context, *model.EventRecord) error {
	m.calls++
	return m.err
}

func record(block uint64) *model.EventRecord {
	raw := model.RawLog{
		Address:         common.HexToAddress("0x11"),
		Topics:          []common.Hash{common.HexToHash("0x01")},
		BlockNumber:     block,
		TransactionHash: common.HexToHash("0x7a"),
	}
	return &model.EventRecord{RawLog: raw, ChainID: 1, EventName: "Ping", ContentHash: raw.ContentHash()}
}

func TestFanoutIsIdempotent(t *testing.T) {
	primary := newMemPrimary()
	replica := &memReplica{}
	archive := &memArchive{}
	f, err := NewFanout(primary, replica, archive, nil, nil)
	require.NoError(t, err)

	rec := record(10)
	require.NoError(t, f.Write(context.Background(), rec))
	require.NoError(t, f.Write(context.Background(), record(10)))

	assert.Len(t, primary.rows, 1)
	assert.Equal(t, 2, replica.calls)
	assert.Equal(t, 2, archive.calls)
}

func TestFanoutPrimaryFailureIsReturned(t *testing.T) {
	primary := newMemPrimary()
	primary.err = errors.New("connection refused")
	replica := &memReplica{}
	m := metrics.New(nil)
	f, err := NewFanout(primary, replica, nil, m, nil)
	require.NoError(t, err)

	err = f.Write(context.Background(), record(10))
	require.ErrorIs(t, err, ErrPrimaryStore)
	assert.Equal(t, 0, replica.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("primary")))
}

func TestFanoutSwallowsReplicaAndArchiveFailures(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	primary := newMemPrimary()
	replica := &memReplica{err: errors.New("replica down")}
	archive := &memArchive{err: errors.New("bucket gone")}
	m := metrics.New(nil)
	f, err := NewFanout(primary, replica, archive, m, zap.New(core))
	require.NoError(t, err)

	require.NoError(t, f.Write(context.Background(), record(10)))
	assert.Len(t, primary.rows, 1)
	assert.Equal(t, 1, archive.calls)

	entries := logs.FilterMessage("store write failed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, true, entries[0].ContextMap()["non_critical"])
	assert.Equal(t, "replica", entries[0].ContextMap()["store"])
	assert.Equal(t, "archive", entries[1].ContextMap()["store"])
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("replica")))
}

func TestNewFanoutRequiresPrimary(t *testing.T) {
	_, err := NewFanout(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestJSONLArchiveAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive", "events.jsonl")
	a := NewJSONLArchive(path)

	require.NoError(t, a.Archive(context.Background(), record(10)))
	require.NoError(t, a.Archive(context.Background(), record(11)))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var keys []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry struct {
			Key    string            `json:"key"`
			Record model.EventRecord `json:"record"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		keys = append(keys, entry.Key)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, keys, 2)
	assert.Equal(t, ObjectKey(record(10)), keys[0])
}

func TestJSONLFileEmptyAppendIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.jsonl")
	require.NoError(t, NewJSONLFile(path).Append())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
