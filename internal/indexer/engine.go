package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"eventsMonitor/internal/config"
	"eventsMonitor/internal/decoder"
	"eventsMonitor/internal/metrics"
	"eventsMonitor/internal/model"
)

// ErrChainIDMismatch means the RPC endpoint serves a different network than configured.
var ErrChainIDMismatch = errors.New("chain id mismatch")

const (
	laneHistorical = "historical"
	laneLive       = "live"
)

// Cursor selects the block span and transport of each lane.
type Cursor struct {
	FromBlock uint64
	// ToBlock is exclusive; nil means the head observed at start.
	ToBlock   *uint64
	ChunkSize uint64

	HistoricalEnabled  bool
	HistoricalProtocol config.Protocol

	LiveEnabled  bool
	LiveProtocol config.Protocol
	PollInterval time.Duration
}

// EngineConfig holds runtime settings for one ingestion pipeline.
type EngineConfig struct {
	Name      string
	ChainID   uint64
	Addresses []common.Address
	Cursor    Cursor
	Filter    FilterSpec

	ParticipantCacheSize   int
	ParticipantConcurrency int

	MaxRetries   int
	RetryBackoff time.Duration
}

// NewEngineConfig maps a pipeline config onto engine settings. Addresses are
// filled in from the registry by the caller.
func NewEngineConfig(name string, cfg config.Config) (EngineConfig, error) {
	senders, err := ParseAddresses(cfg.Indexing.FilterSenders)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("%w: filterSenders: %v", config.ErrConfig, err)
	}
	receivers, err := ParseAddresses(cfg.Indexing.FilterReceivers)
	if err != nil {
		return EngineConfig{}, fmt.Errorf("%w: filterReceivers: %v", config.ErrConfig, err)
	}

	idx := cfg.Indexing
	cursor := Cursor{
		FromBlock:          idx.FromBlock,
		ChunkSize:          idx.HistoricalChunkSize,
		HistoricalEnabled:  idx.HistoricalEnabled,
		HistoricalProtocol: idx.HistoricalProtocol,
		LiveEnabled:        idx.LiveEnabled,
		LiveProtocol:       idx.LiveProtocol,
		PollInterval:       idx.PollInterval(),
	}
	if idx.ToBlock != 0 {
		to := idx.ToBlock
		cursor.ToBlock = &to
	}

	return EngineConfig{
		Name:                   name,
		ChainID:                cfg.Chain.ChainID,
		Cursor:                 cursor,
		Filter:                 NewFilterSpec(senders, receivers),
		ParticipantCacheSize:   idx.ParticipantCacheSize,
		ParticipantConcurrency: idx.ParticipantConcurrency,
		MaxRetries:             idx.MaxRetries,
		RetryBackoff:           idx.RetryBackoff,
	}, nil
}

// LogDecoder turns a raw log into a record.
type LogDecoder interface {
	Decode(log model.RawLog) (*model.EventRecord, error)
}

// RecordSink persists decoded records.
type RecordSink interface {
	Write(ctx context.Context, record *model.EventRecord) error
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	Transports Transports
	Decoder    LogDecoder
	Sink       RecordSink
	// Checkpoint is optional.
	Checkpoint Checkpointer
	Metrics    *metrics.Metrics
}

// Engine runs the historical and live lanes of one pipeline.
type Engine struct {
	cfg          EngineConfig
	deps         Deps
	addresses    map[common.Address]struct{}
	participants *participantResolver
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewEngine builds an Engine with its dependencies.
func NewEngine(cfg EngineConfig, deps Deps, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Transports.Primary() == nil {
		return nil, fmt.Errorf("chain client is nil")
	}
	if deps.Decoder == nil {
		return nil, fmt.Errorf("decoder is nil")
	}
	if deps.Sink == nil {
		return nil, fmt.Errorf("sink is nil")
	}
	if len(cfg.Addresses) == 0 {
		return nil, fmt.Errorf("%w: at least one address is required", config.ErrConfig)
	}
	if !cfg.Cursor.HistoricalEnabled && !cfg.Cursor.LiveEnabled {
		return nil, fmt.Errorf("%w: no lane enabled", config.ErrConfig)
	}
	if cfg.Cursor.HistoricalEnabled && cfg.Cursor.ChunkSize == 0 {
		return nil, fmt.Errorf("%w: chunk size must be greater than zero", config.ErrConfig)
	}

	logger = logger.Named("engine")
	if cfg.Name != "" {
		logger = logger.With(zap.String("task", cfg.Name))
	}

	addresses := make(map[common.Address]struct{}, len(cfg.Addresses))
	for _, a := range cfg.Addresses {
		addresses[a] = struct{}{}
	}

	return &Engine{
		cfg:       cfg,
		deps:      deps,
		addresses: addresses,
		participants: newParticipantResolver(
			deps.Transports.Primary(),
			cfg.ParticipantCacheSize,
			cfg.ParticipantConcurrency,
			cfg.MaxRetries,
			cfg.RetryBackoff,
			logger,
		),
		metrics: deps.Metrics,
		logger:  logger,
	}, nil
}

// Run verifies the network, then runs every enabled lane concurrently. It
// returns when all lanes complete, or with the first fatal lane error.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.checkChainID(ctx); err != nil {
		return err
	}

	head, err := e.latestBlock(ctx, e.deps.Transports.Primary())
	if err != nil {
		return fmt.Errorf("get latest block: %w", err)
	}

	e.logger.Info("engine start",
		zap.Uint64("chain_id", e.cfg.ChainID),
		zap.Uint64("head", head),
		zap.Int("addresses", len(e.cfg.Addresses)),
		zap.Bool("historical", e.cfg.Cursor.HistoricalEnabled),
		zap.Bool("live", e.cfg.Cursor.LiveEnabled),
		zap.Bool("participant_filter", e.cfg.Filter.Active()),
	)

	g, gctx := errgroup.WithContext(ctx)
	if e.cfg.Cursor.HistoricalEnabled {
		g.Go(func() error {
			return e.lane(gctx, laneHistorical, func(ctx context.Context) error {
				return e.runHistorical(ctx, head)
			})
		})
	}
	if e.cfg.Cursor.LiveEnabled {
		g.Go(func() error {
			return e.lane(gctx, laneLive, func(ctx context.Context) error {
				return e.runLive(ctx, head)
			})
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	e.logger.Info("engine complete")
	return nil
}

func (e *Engine) lane(ctx context.Context, name string, run func(context.Context) error) error {
	err := run(ctx)
	if err == nil {
		e.logger.Info("lane complete", zap.String("lane", name))
		return nil
	}
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}

	e.metrics.LaneFailed(name)
	e.logger.Error("lane failed", zap.String("lane", name), zap.Error(err))
	return fmt.Errorf("%s lane: %w", name, err)
}

func (e *Engine) checkChainID(ctx context.Context) error {
	for _, client := range e.deps.Transports.all() {
		err := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, func(ctx context.Context) error {
			id, err := client.ChainID(ctx)
			if err != nil {
				e.logger.Warn("get chain id failed", zap.Error(err))
				return err
			}
			if id != e.cfg.ChainID {
				return permanent(fmt.Errorf("%w: configured %d, endpoint reports %d", ErrChainIDMismatch, e.cfg.ChainID, id))
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, ErrChainIDMismatch) {
				return err
			}
			return fmt.Errorf("get chain id: %w", err)
		}
	}
	return nil
}

func (e *Engine) latestBlock(ctx context.Context, client ChainClient) (uint64, error) {
	var head uint64
	err := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		head, err = client.LatestBlockNumber(ctx)
		if err != nil {
			e.logger.Warn("get latest block failed", zap.Error(err))
		}
		return err
	})
	return head, err
}

func (e *Engine) blockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	var ts uint64
	err := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		ts, err = e.deps.Transports.Primary().BlockTimestamp(ctx, number)
		return err
	})
	return ts, err
}

// processBatch handles logs in delivery order after warming the participant
// cache and resolving block timestamps. A timestamp that cannot be resolved
// fails the whole batch before anything is written, so the caller can refetch it.
func (e *Engine) processBatch(ctx context.Context, lane string, logs []types.Log) error {
	if len(logs) == 0 {
		return nil
	}

	hashes := make([]common.Hash, 0, len(logs))
	timestamps := make(map[uint64]uint64)
	for _, log := range logs {
		if log.Removed {
			continue
		}
		if _, ok := e.addresses[log.Address]; !ok {
			continue
		}
		hashes = append(hashes, log.TxHash)
		if _, ok := timestamps[log.BlockNumber]; ok {
			continue
		}
		ts, err := e.blockTimestamp(ctx, log.BlockNumber)
		if err != nil {
			return fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}
		timestamps[log.BlockNumber] = ts
	}
	if err := e.participants.prefetch(ctx, hashes); err != nil {
		return err
	}

	for _, log := range logs {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.processLog(ctx, lane, log, timestamps[log.BlockNumber])
	}
	return nil
}

// processLog filters, decodes and persists one log. Failures are logged and
// the log is dropped; nothing here fails the lane.
func (e *Engine) processLog(ctx context.Context, lane string, log types.Log, ts uint64) {
	e.metrics.LogReceived(lane)

	fields := []zap.Field{
		zap.String("lane", lane),
		zap.Uint64("block_number", log.BlockNumber),
		zap.String("tx_hash", log.TxHash.Hex()),
		zap.Uint("log_index", log.Index),
	}

	if log.Removed {
		e.metrics.LogFiltered("removed")
		e.logger.Debug("skip removed log", fields...)
		return
	}
	if _, ok := e.addresses[log.Address]; !ok {
		e.metrics.LogFiltered("address")
		return
	}

	var resolved *model.Participants
	participants, err := e.participants.resolve(ctx, log.TxHash)
	switch {
	case err != nil && e.cfg.Filter.Active():
		e.metrics.LogFiltered("lookup_failed")
		e.logger.Warn("participant lookup failed, dropping log", append(fields, zap.Error(err))...)
		return
	case err != nil:
		e.logger.Warn("participant lookup failed", append(fields, zap.Error(err))...)
	default:
		if reason := e.cfg.Filter.Allows(participants); reason != "" {
			e.metrics.LogFiltered(reason)
			e.logger.Debug("log filtered", append(fields, zap.String("reason", reason))...)
			return
		}
		resolved = &participants
	}

	record, err := e.deps.Decoder.Decode(model.FromEthLog(log, ts))
	if err != nil {
		e.metrics.DecodeFailed(decoder.KindOf(err))
		e.logger.Warn("decode failed", append(fields, zap.String("address", log.Address.Hex()), zap.Error(err))...)
		return
	}
	record.ChainID = e.cfg.ChainID
	record.SetParticipants(resolved)

	if err := e.deps.Sink.Write(ctx, record); err != nil {
		e.logger.Error("persist failed", append(fields, zap.String("content_hash", record.ContentHash.Hex()), zap.Error(err))...)
		return
	}
	e.metrics.RecordPersisted()
}
