package chain

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogStream is a continuous feed of logs from a server-side filter.
type LogStream interface {
	Logs() <-chan types.Log
	// Err is closed once the stream has stopped.
	Err() <-chan error
	Close()
}

func (c *Client) newFilter(ctx context.Context, fromBlock uint64, toBlock *uint64, addresses []common.Address) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	var id string
	err := c.rpcClient.CallContext(ctx, &id, "eth_newFilter", filterArg(fromBlock, toBlock, addresses))
	return id, err
}

func (c *Client) uninstallFilter(ctx context.Context, id string) error {
	var ok bool
	return c.rpcClient.CallContext(ctx, &ok, "eth_uninstallFilter", id)
}

func (c *Client) filterCall(ctx context.Context, method, id string) ([]types.Log, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	var logs []types.Log
	if err := c.rpcClient.CallContext(ctx, &logs, method, id); err != nil {
		return nil, err
	}
	return logs, nil
}

// FilterLogsWithWatcher fetches the inclusive range through an installed
// server-side filter instead of eth_getLogs.
func (c *Client) FilterLogsWithWatcher(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address) ([]types.Log, error) {
	id, err := c.newFilter(ctx, fromBlock, &toBlock, addresses)
	if err != nil {
		return nil, err
	}
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.uninstallFilter(cleanupCtx, id)
	}()

	return c.filterCall(ctx, "eth_getFilterLogs", id)
}

// WatchLogs installs a filter starting at fromBlock and polls
// eth_getFilterChanges every interval. Polling errors back off exponentially
// and never end the stream. After reinstallAfter consecutive errors, or as
// soon as the node reports the filter gone, the filter is reinstalled from
// the block after the last delivered log.
func (c *Client) WatchLogs(ctx context.Context, fromBlock uint64, addresses []common.Address, interval time.Duration, reinstallAfter int) (LogStream, error) {
	id, err := c.newFilter(ctx, fromBlock, nil, addresses)
	if err != nil {
		return nil, err
	}

	if reinstallAfter < 1 {
		reinstallAfter = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &watcher{
		client:         c,
		addresses:      addresses,
		interval:       interval,
		reinstallAfter: reinstallAfter,
		id:             id,
		next:           fromBlock,
		logs:           make(chan types.Log),
		errs:           make(chan error),
		cancel:         cancel,
		done:           make(chan struct{}),
	}
	go w.loop(ctx)
	return w, nil
}

// maxWatchBackoff caps the delay between failing polls.
const maxWatchBackoff = time.Minute

type watcher struct {
	client         *Client
	addresses      []common.Address
	interval       time.Duration
	reinstallAfter int

	id   string
	next uint64

	logs   chan types.Log
	errs   chan error
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (w *watcher) Logs() <-chan types.Log { return w.logs }
func (w *watcher) Err() <-chan error      { return w.errs }

func (w *watcher) Close() {
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

func (w *watcher) loop(ctx context.Context) {
	defer close(w.done)
	defer close(w.errs)
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.client.uninstallFilter(cleanupCtx, w.id)
	}()

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		logs, err := w.client.filterCall(ctx, "eth_getFilterChanges", w.id)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			if isFilterNotFound(err) || failures >= w.reinstallAfter {
				if w.reinstall(ctx) == nil {
					failures = 0
				}
			}
			timer.Reset(w.backoff(failures))
			continue
		}
		failures = 0

		for _, log := range logs {
			select {
			case w.logs <- log:
			case <-ctx.Done():
				return
			}
			if log.BlockNumber+1 > w.next {
				w.next = log.BlockNumber + 1
			}
		}
		timer.Reset(w.interval)
	}
}

func (w *watcher) reinstall(ctx context.Context) error {
	id, err := w.client.newFilter(ctx, w.next, nil, w.addresses)
	if err != nil {
		return err
	}
	_ = w.client.uninstallFilter(ctx, w.id)
	w.id = id
	return nil
}

func (w *watcher) backoff(failures int) time.Duration {
	delay := w.interval
	for i := 0; i < failures && delay < maxWatchBackoff; i++ {
		delay *= 2
	}
	if delay > maxWatchBackoff {
		delay = maxWatchBackoff
	}
	return delay
}

func isFilterNotFound(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "filter not found")
}
