package indexer

import (
	"context"
	"errors"
	"time"

	cacheimpl "github.com/Code-Hex/go-generics-cache"
	"github.com/Code-Hex/go-generics-cache/policy/lru"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"eventsMonitor/internal/model"
)

// FilterSpec restricts indexing to transactions from or to listed parties.
// An empty list leaves that side unfiltered.
type FilterSpec struct {
	Senders   map[common.Address]struct{}
	Receivers map[common.Address]struct{}
}

// NewFilterSpec builds a FilterSpec from address lists.
func NewFilterSpec(senders, receivers []common.Address) FilterSpec {
	return FilterSpec{Senders: addressSet(senders), Receivers: addressSet(receivers)}
}

func addressSet(addrs []common.Address) map[common.Address]struct{} {
	if len(addrs) == 0 {
		return nil
	}
	set := make(map[common.Address]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	return set
}

// Active reports whether any side is filtered.
func (f FilterSpec) Active() bool {
	return len(f.Senders) > 0 || len(f.Receivers) > 0
}

// Allows returns "" when the participants pass, or the rejecting side.
func (f FilterSpec) Allows(p model.Participants) string {
	if len(f.Senders) > 0 {
		if _, ok := f.Senders[p.Sender]; !ok {
			return "sender"
		}
	}
	if len(f.Receivers) > 0 {
		if p.Receiver == nil {
			return "receiver"
		}
		if _, ok := f.Receivers[*p.Receiver]; !ok {
			return "receiver"
		}
	}
	return ""
}

// participantResolver looks up transaction participants behind an LRU keyed
// by transaction hash. Participants of a mined transaction never change.
type participantResolver struct {
	client       ChainClient
	cache        *cacheimpl.Cache[common.Hash, model.Participants]
	sem          *semaphore.Weighted
	maxRetries   int
	retryBackoff time.Duration
	logger       *zap.Logger
}

func newParticipantResolver(client ChainClient, cacheSize, concurrency, maxRetries int, retryBackoff time.Duration, logger *zap.Logger) *participantResolver {
	if cacheSize <= 0 {
		cacheSize = 1
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &participantResolver{
		client: client,
		cache: cacheimpl.New[common.Hash, model.Participants](cacheimpl.AsLRU[common.Hash, model.Participants](
			lru.WithCapacity(cacheSize),
		)),
		sem:          semaphore.NewWeighted(int64(concurrency)),
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		logger:       logger,
	}
}

func (r *participantResolver) resolve(ctx context.Context, txHash common.Hash) (model.Participants, error) {
	if p, ok := r.cache.Get(txHash); ok {
		return p, nil
	}

	var p model.Participants
	err := withRetry(ctx, r.maxRetries, r.retryBackoff, func(ctx context.Context) error {
		var err error
		p, err = r.client.TransactionParticipants(ctx, txHash)
		if errors.Is(err, ethereum.NotFound) {
			return permanent(err)
		}
		if err != nil {
			r.logger.Warn("transaction lookup failed", zap.Error(err), zap.String("tx_hash", txHash.Hex()))
		}
		return err
	})
	if err != nil {
		return model.Participants{}, err
	}

	r.cache.Set(txHash, p)
	return p, nil
}

// prefetch warms the cache for distinct transactions concurrently, bounded by
// the semaphore. Lookup failures are left for resolve to report per log.
func (r *participantResolver) prefetch(ctx context.Context, hashes []common.Hash) error {
	seen := make(map[common.Hash]struct{}, len(hashes))
	g, gctx := errgroup.WithContext(ctx)
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		if _, ok := r.cache.Get(h); ok {
			continue
		}

		if err := r.sem.Acquire(gctx, 1); err != nil {
			break
		}
		hash := h
		g.Go(func() error {
			defer r.sem.Release(1)
			_, _ = r.resolve(gctx, hash)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
