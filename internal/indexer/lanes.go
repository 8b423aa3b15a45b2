package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"eventsMonitor/internal/config"
)

// ErrSubscriptionClosed means a live subscription ended without the lane being cancelled.
var ErrSubscriptionClosed = errors.New("subscription closed")

// runHistorical reads [from, end) in chunks, saving the checkpoint after each.
func (e *Engine) runHistorical(ctx context.Context, head uint64) error {
	client, err := e.deps.Transports.For(e.cfg.Cursor.HistoricalProtocol)
	if err != nil {
		return err
	}

	end := head
	if e.cfg.Cursor.ToBlock != nil {
		end = *e.cfg.Cursor.ToBlock
	}

	from := e.cfg.Cursor.FromBlock
	if e.deps.Checkpoint != nil {
		next, ok, err := e.deps.Checkpoint.Load(ctx)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if ok && next > from {
			e.logger.Info("resume from checkpoint", zap.Uint64("next_block", next))
			from = next
		}
	}

	if from >= end {
		e.logger.Info("nothing to sync",
			zap.Uint64("from_block", from),
			zap.Uint64("to_block", end),
		)
		return nil
	}

	ranges, err := SplitRange(from, end, e.cfg.Cursor.ChunkSize)
	if err != nil {
		return fmt.Errorf("%w: %v", config.ErrConfig, err)
	}

	e.logger.Info("historical start",
		zap.String("protocol", string(e.cfg.Cursor.HistoricalProtocol)),
		zap.Uint64("from_block", from),
		zap.Uint64("to_block", end),
		zap.Int("chunks", len(ranges)),
	)

	for _, r := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}

		logs, err := e.fetchRange(ctx, client, e.cfg.Cursor.HistoricalProtocol, r)
		if err != nil {
			return fmt.Errorf("fetch logs [%d,%d): %w", r.From, r.To, err)
		}

		if err := e.processBatch(ctx, laneHistorical, logs); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("process logs [%d,%d): %w", r.From, r.To, err)
		}

		if e.deps.Checkpoint != nil {
			if err := e.deps.Checkpoint.Save(ctx, r.To); err != nil {
				return fmt.Errorf("save checkpoint: %w", err)
			}
		}
		e.metrics.SetWatermark(e.cfg.Name, laneHistorical, r.To)

		e.logger.Debug("chunk done",
			zap.Uint64("from_block", r.From),
			zap.Uint64("to_block", r.To),
			zap.Int("logs", len(logs)),
		)
	}

	return nil
}

func (e *Engine) fetchRange(ctx context.Context, client ChainClient, protocol config.Protocol, r BlockRange) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, e.cfg.MaxRetries, e.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		if protocol == config.ProtocolHTTPWatcher {
			logs, err = client.FilterLogsWithWatcher(ctx, r.From, r.Last(), e.cfg.Addresses)
		} else {
			logs, err = client.FilterLogs(ctx, r.From, r.Last(), e.cfg.Addresses)
		}
		if err != nil {
			e.logger.Warn("fetch logs failed",
				zap.Uint64("from_block", r.From),
				zap.Uint64("to_block", r.To),
				zap.Error(err),
			)
		}
		return err
	})
	return logs, err
}

// runLive follows the chain from head until ctx is cancelled.
func (e *Engine) runLive(ctx context.Context, head uint64) error {
	client, err := e.deps.Transports.For(e.cfg.Cursor.LiveProtocol)
	if err != nil {
		return err
	}

	e.logger.Info("live start",
		zap.String("protocol", string(e.cfg.Cursor.LiveProtocol)),
		zap.Uint64("from_block", head),
	)

	switch e.cfg.Cursor.LiveProtocol {
	case config.ProtocolWS:
		return e.runSubscription(ctx, client)
	case config.ProtocolHTTPWatcher:
		return e.runWatcher(ctx, client, head)
	default:
		return e.runPolling(ctx, client, head)
	}
}

func (e *Engine) runSubscription(ctx context.Context, client ChainClient) error {
	ch := make(chan types.Log, 128)
	sub, err := client.SubscribeLogs(ctx, e.cfg.Addresses, ch)
	if err != nil {
		return fmt.Errorf("subscribe logs: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-sub.Err():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !ok || err == nil {
				return ErrSubscriptionClosed
			}
			return fmt.Errorf("subscription: %w", err)
		case log := <-ch:
			e.processPushed(ctx, log)
		}
	}
}

func (e *Engine) runPolling(ctx context.Context, client ChainClient, head uint64) error {
	interval := e.cfg.Cursor.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	next := head
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		advanced, err := e.pollOnce(ctx, client, next)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("poll failed", zap.Uint64("next_block", next), zap.Error(err))
		}
		next = advanced
	}
}

// pollOnce indexes [next, latest] and returns the new next block. On error the
// returned block reflects the chunks completed before the failure.
func (e *Engine) pollOnce(ctx context.Context, client ChainClient, next uint64) (uint64, error) {
	latest, err := client.LatestBlockNumber(ctx)
	if err != nil {
		return next, fmt.Errorf("get latest block: %w", err)
	}
	if latest < next {
		return next, nil
	}

	chunk := e.cfg.Cursor.ChunkSize
	if chunk == 0 {
		chunk = latest + 1 - next
	}
	ranges, err := SplitRange(next, latest+1, chunk)
	if err != nil {
		return next, err
	}

	for _, r := range ranges {
		logs, err := client.FilterLogs(ctx, r.From, r.Last(), e.cfg.Addresses)
		if err != nil {
			return next, fmt.Errorf("fetch logs [%d,%d): %w", r.From, r.To, err)
		}
		if err := e.processBatch(ctx, laneLive, logs); err != nil {
			return next, fmt.Errorf("process logs [%d,%d): %w", r.From, r.To, err)
		}
		next = r.To
		e.metrics.SetWatermark(e.cfg.Name, laneLive, next)
	}
	return next, nil
}

func (e *Engine) runWatcher(ctx context.Context, client ChainClient, head uint64) error {
	stream, err := client.WatchLogs(ctx, head, e.cfg.Addresses, e.cfg.Cursor.PollInterval, e.cfg.MaxRetries+1)
	if err != nil {
		return fmt.Errorf("install filter: %w", err)
	}
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-stream.Err():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !ok || err == nil {
				return ErrSubscriptionClosed
			}
			return fmt.Errorf("filter watcher: %w", err)
		case log, ok := <-stream.Logs():
			if !ok {
				return ErrSubscriptionClosed
			}
			e.processPushed(ctx, log)
		}
	}
}

// processPushed handles one log from a push stream. A pushed log cannot be
// refetched, so a failed batch drops it.
func (e *Engine) processPushed(ctx context.Context, log types.Log) {
	if err := e.processBatch(ctx, laneLive, []types.Log{log}); err != nil {
		if ctx.Err() != nil {
			return
		}
		e.metrics.LogFiltered("timestamp_failed")
		e.logger.Error("dropping pushed log",
			zap.Uint64("block_number", log.BlockNumber),
			zap.String("tx_hash", log.TxHash.Hex()),
			zap.Uint("log_index", log.Index),
			zap.Error(err),
		)
		return
	}
	e.metrics.SetWatermark(e.cfg.Name, laneLive, log.BlockNumber+1)
}
