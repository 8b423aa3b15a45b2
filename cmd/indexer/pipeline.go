package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"eventsMonitor/internal/chain"
	"eventsMonitor/internal/config"
	"eventsMonitor/internal/decoder"
	"eventsMonitor/internal/indexer"
	"eventsMonitor/internal/metrics"
	"eventsMonitor/internal/registry"
	"eventsMonitor/internal/storage"
	"eventsMonitor/internal/storage/badger"
	"eventsMonitor/internal/storage/natsobj"
	"eventsMonitor/internal/storage/postgres"
	"eventsMonitor/internal/supervisor"
)

// pipeline is one wired engine plus the resources it owns.
type pipeline struct {
	engine  *indexer.Engine
	closers []func() error
}

func (p *pipeline) Run(ctx context.Context) error {
	return p.engine.Run(ctx)
}

// Close releases resources in reverse order of acquisition.
func (p *pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func (p *pipeline) onClose(fn func() error) {
	p.closers = append(p.closers, fn)
}

// buildPipeline wires registry, decoders, chain clients, stores and the
// engine for one validated config.
func buildPipeline(ctx context.Context, name string, cfg config.Config, m *metrics.Metrics, logger *zap.Logger) (_ *pipeline, err error) {
	p := &pipeline{}
	defer func() {
		if err != nil {
			_ = p.Close()
		}
	}()

	reg, err := registry.ResolveProxyTree(
		cfg.Contracts,
		cfg.Indexing.MaxImplementationDepth,
		cfg.Indexing.MaxImplementationsPerContract,
		logger,
	)
	if err != nil {
		return nil, err
	}
	decoders := decoder.NewSet(reg, logger)

	transports, err := dialTransports(ctx, cfg.Chain, p)
	if err != nil {
		return nil, err
	}

	primary, err := postgres.NewStore(ctx, cfg.Stores.Primary.DSN, cfg.Stores.Primary.Schema)
	if err != nil {
		return nil, fmt.Errorf("open primary store: %w", err)
	}
	p.onClose(func() error { primary.Close(); return nil })
	if err := primary.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	replica, err := openReplica(ctx, cfg.Stores.Replica, p)
	if err != nil {
		return nil, err
	}
	archive, err := openArchive(ctx, cfg.Stores.Archive, p, logger)
	if err != nil {
		return nil, err
	}

	fanout, err := storage.NewFanout(primary, replica, archive, m, logger)
	if err != nil {
		return nil, err
	}

	var checkpoint indexer.Checkpointer
	if cfg.Indexing.CheckpointPath != "" {
		checkpoint = indexer.NewFileCheckpoint(cfg.Indexing.CheckpointPath, cfg.Chain.ChainID)
	} else {
		checkpoint = indexer.NewStateCheckpoint(primary, "events:"+name+":"+strconv.FormatUint(cfg.Chain.ChainID, 10))
	}

	engineCfg, err := indexer.NewEngineConfig(name, cfg)
	if err != nil {
		return nil, err
	}
	engineCfg.Addresses = reg.Addresses()

	engine, err := indexer.NewEngine(engineCfg, indexer.Deps{
		Transports: transports,
		Decoder:    decoders,
		Sink:       fanout,
		Checkpoint: checkpoint,
		Metrics:    m,
	}, logger)
	if err != nil {
		return nil, err
	}
	p.engine = engine

	return p, nil
}

func dialTransports(ctx context.Context, cfg config.ChainConfig, p *pipeline) (indexer.Transports, error) {
	var t indexer.Transports
	if cfg.HTTPRPCURL != "" {
		c, err := chain.NewClient(ctx, cfg.HTTPRPCURL, cfg.RequestsPerSecond)
		if err != nil {
			return t, fmt.Errorf("connect http rpc: %w", err)
		}
		p.onClose(func() error { c.Close(); return nil })
		t.HTTP = c
	}
	if cfg.WSRPCURL != "" {
		c, err := chain.NewClient(ctx, cfg.WSRPCURL, cfg.RequestsPerSecond)
		if err != nil {
			return t, fmt.Errorf("connect ws rpc: %w", err)
		}
		p.onClose(func() error { c.Close(); return nil })
		t.WS = c
	}
	return t, nil
}

func openReplica(ctx context.Context, cfg config.ReplicaConfig, p *pipeline) (storage.ReplicaStore, error) {
	switch cfg.Kind {
	case "":
		return nil, nil
	case config.StoreKindPostgres:
		store, err := postgres.NewStore(ctx, cfg.DSN, cfg.Schema)
		if err != nil {
			return nil, fmt.Errorf("open replica store: %w", err)
		}
		p.onClose(func() error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.StoreKindBadger:
		store, err := badger.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open replica store: %w", err)
		}
		p.onClose(store.Close)
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown replica kind %q", config.ErrConfig, cfg.Kind)
	}
}

func openArchive(ctx context.Context, cfg config.ArchiveConfig, p *pipeline, logger *zap.Logger) (storage.ArchiveSink, error) {
	switch cfg.Kind {
	case "":
		return nil, nil
	case config.StoreKindNATS:
		archive, err := natsobj.Connect(ctx, cfg.URL, cfg.Bucket, logger)
		if err != nil {
			return nil, fmt.Errorf("open archive: %w", err)
		}
		p.onClose(func() error { archive.Close(); return nil })
		return archive, nil
	case config.StoreKindJSONL:
		return storage.NewJSONLArchive(cfg.Path), nil
	default:
		return nil, fmt.Errorf("%w: unknown archive kind %q", config.ErrConfig, cfg.Kind)
	}
}

// pipelineFactory adapts buildPipeline to the supervisor.
func pipelineFactory(m *metrics.Metrics, logger *zap.Logger) supervisor.Factory {
	return func(ctx context.Context, name string, cfg config.Config) (supervisor.Runner, error) {
		return buildPipeline(ctx, name, cfg, m, logger)
	}
}
