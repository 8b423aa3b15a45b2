package storage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"eventsMonitor/internal/metrics"
	"eventsMonitor/internal/model"
)

// ErrPrimaryStore marks a record the primary store did not accept.
var ErrPrimaryStore = errors.New("primary store write failed")

// PrimaryStore is the durable record of ingested events. InsertEvent reports
// false when a record with the same content hash already exists.
type PrimaryStore interface {
	InsertEvent(ctx context.Context, record *model.EventRecord) (bool, error)
}

// ReplicaStore is a best-effort mirror of the primary store.
type ReplicaStore interface {
	MirrorEvent(ctx context.Context, record *model.EventRecord) error
}

// ArchiveSink publishes records as keyed blobs for replay and audit.
type ArchiveSink interface {
	Archive(ctx context.Context, record *model.EventRecord) error
}

// Fanout writes each record to the primary store, then to the optional
// replica and archive.
type Fanout struct {
	primary PrimaryStore
	replica ReplicaStore
	archive ArchiveSink
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewFanout builds a Fanout. replica and archive may be nil.
func NewFanout(primary PrimaryStore, replica ReplicaStore, archive ArchiveSink, m *metrics.Metrics, logger *zap.Logger) (*Fanout, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{
		primary: primary,
		replica: replica,
		archive: archive,
		metrics: m,
		logger:  logger.Named("fanout"),
	}, nil
}

// Write returns an error only when the primary store fails. Replica and
// archive failures are logged and counted.
func (f *Fanout) Write(ctx context.Context, record *model.EventRecord) error {
	inserted, err := f.primary.InsertEvent(ctx, record)
	if err != nil {
		f.metrics.StoreFailed("primary")
		return fmt.Errorf("%w: %v", ErrPrimaryStore, err)
	}
	if !inserted {
		f.logger.Debug("duplicate record", zap.String("content_hash", record.ContentHash.Hex()))
	}

	if f.replica != nil {
		if err := f.replica.MirrorEvent(ctx, record); err != nil {
			f.nonCritical("replica", record, err)
		}
	}
	if f.archive != nil {
		if err := f.archive.Archive(ctx, record); err != nil {
			f.nonCritical("archive", record, err)
		}
	}
	return nil
}

func (f *Fanout) nonCritical(store string, record *model.EventRecord, err error) {
	f.metrics.StoreFailed(store)
	f.logger.Error("store write failed",
		zap.String("store", store),
		zap.Bool("non_critical", true),
		zap.String("content_hash", record.ContentHash.Hex()),
		zap.Uint64("block_number", record.BlockNumber),
		zap.Error(err),
	)
}

// ObjectKey is the archive key of a record: chainId/address/block/contentHash.json.
func ObjectKey(record *model.EventRecord) string {
	return fmt.Sprintf("%d/%s/%d/%s.json",
		record.ChainID,
		record.Address.Hex(),
		record.BlockNumber,
		record.ContentHash.Hex(),
	)
}
