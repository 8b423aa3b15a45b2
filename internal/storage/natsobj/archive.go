package natsobj

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"eventsMonitor/internal/model"
	"eventsMonitor/internal/storage"
)

// objectPutter is the part of jetstream.ObjectStore the archive uses.
type objectPutter interface {
	PutBytes(ctx context.Context, name string, data []byte) (*jetstream.ObjectInfo, error)
}

// Archive publishes records to a JetStream object store bucket.
type Archive struct {
	nc    *nats.Conn
	store objectPutter
}

// Connect dials NATS and opens the bucket, creating it when missing.
func Connect(ctx context.Context, url, bucket string, logger *zap.Logger) (*Archive, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if url == "" {
		url = nats.DefaultURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("archive")

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected from nats", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to nats", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	store, err := js.ObjectStore(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		store, err = js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
			Bucket:      bucket,
			Description: "decoded contract events",
			Storage:     jetstream.FileStorage,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open object store %s: %w", bucket, err)
	}

	return &Archive{nc: nc, store: store}, nil
}

// Archive writes the record under storage.ObjectKey. Re-publishing the same
// key replaces the object with identical content.
func (a *Archive) Archive(ctx context.Context, record *model.EventRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := a.store.PutBytes(ctx, storage.ObjectKey(record), data); err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

func (a *Archive) Close() {
	if a.nc != nil {
		a.nc.Close()
	}
}
