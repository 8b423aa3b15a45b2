package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"eventsMonitor/internal/chain"
	"eventsMonitor/internal/config"
	"eventsMonitor/internal/model"
)

// ChainClient is the chain capability the engine drives. Block ranges are inclusive.
type ChainClient interface {
	ChainID(ctx context.Context) (uint64, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address) ([]types.Log, error)
	FilterLogsWithWatcher(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, addresses []common.Address, ch chan<- types.Log) (ethereum.Subscription, error)
	WatchLogs(ctx context.Context, fromBlock uint64, addresses []common.Address, interval time.Duration, reinstallAfter int) (chain.LogStream, error)
	TransactionParticipants(ctx context.Context, txHash common.Hash) (model.Participants, error)
}

var _ ChainClient = (*chain.Client)(nil)

// Transports holds one client per wire protocol. http and http_watcher share HTTP.
type Transports struct {
	HTTP ChainClient
	WS   ChainClient
}

// For returns the client serving a protocol.
func (t Transports) For(p config.Protocol) (ChainClient, error) {
	var c ChainClient
	switch p {
	case config.ProtocolHTTP, config.ProtocolHTTPWatcher:
		c = t.HTTP
	case config.ProtocolWS:
		c = t.WS
	default:
		return nil, fmt.Errorf("%w: unknown protocol %q", config.ErrConfig, p)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: no %s client configured", config.ErrConfig, p)
	}
	return c, nil
}

// Primary returns the client used for head, timestamp and transaction lookups.
func (t Transports) Primary() ChainClient {
	if t.HTTP != nil {
		return t.HTTP
	}
	return t.WS
}

func (t Transports) all() []ChainClient {
	out := make([]ChainClient, 0, 2)
	if t.HTTP != nil {
		out = append(out, t.HTTP)
	}
	if t.WS != nil && t.WS != t.HTTP {
		out = append(out, t.WS)
	}
	return out
}
