package chain

import (
	"context"
	"fmt"
	"math"
	"math/big"

	cacheimpl "github.com/Code-Hex/go-generics-cache"
	"github.com/Code-Hex/go-generics-cache/policy/lru"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"eventsMonitor/internal/model"
)

const timestampCacheSize = 4096

// Client wraps go-ethereum RPC and provides helper methods.
type Client struct {
	rpcClient *rpc.Client
	ethClient *ethclient.Client
	limiter   *rate.Limiter

	tsCache *cacheimpl.Cache[uint64, uint64]
}

// NewClient dials the RPC URL (http(s) or ws(s)). A requestsPerSecond of zero
// disables rate limiting.
func NewClient(ctx context.Context, rpcURL string, requestsPerSecond float64) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return newClient(rpcClient, requestsPerSecond), nil
}

func newClient(rpcClient *rpc.Client, requestsPerSecond float64) *Client {
	c := &Client{
		rpcClient: rpcClient,
		ethClient: ethclient.NewClient(rpcClient),
		tsCache: cacheimpl.New[uint64, uint64](cacheimpl.AsLRU[uint64, uint64](
			lru.WithCapacity(timestampCacheSize),
		)),
	}
	if requestsPerSecond > 0 {
		burst := int(math.Ceil(requestsPerSecond))
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return c
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// ChainID returns the chain ID.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	id, err := c.ethClient.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	if !id.IsUint64() {
		return 0, fmt.Errorf("chain id does not fit in uint64: %s", id)
	}
	return id.Uint64(), nil
}

// LatestBlockNumber returns the latest block number.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.ethClient.BlockNumber(ctx)
}

// BlockTimestamp returns the block timestamp, using an in-memory LRU cache.
func (c *Client) BlockTimestamp(ctx context.Context, number uint64) (uint64, error) {
	if ts, ok := c.tsCache.Get(number); ok {
		return ts, nil
	}

	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	header, err := c.ethClient.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return 0, err
	}

	c.tsCache.Set(number, header.Time)
	return header.Time, nil
}

// FilterLogs returns logs emitted by addresses in the inclusive block range.
func (c *Client) FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address) ([]types.Log, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.FilterLogs(ctx, filterQuery(fromBlock, &toBlock, addresses))
}

// SubscribeLogs opens a push subscription for new logs. Requires a ws client.
func (c *Client) SubscribeLogs(ctx context.Context, addresses []common.Address, ch chan<- types.Log) (ethereum.Subscription, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ethClient.SubscribeFilterLogs(ctx, ethereum.FilterQuery{Addresses: addresses}, ch)
}

type rpcTransaction struct {
	From common.Address  `json:"from"`
	To   *common.Address `json:"to"`
}

// TransactionParticipants returns the sender and receiver of a transaction.
// The sender comes from the node's "from" field, so no signer is needed.
func (c *Client) TransactionParticipants(ctx context.Context, txHash common.Hash) (model.Participants, error) {
	if err := c.wait(ctx); err != nil {
		return model.Participants{}, err
	}

	var tx *rpcTransaction
	if err := c.rpcClient.CallContext(ctx, &tx, "eth_getTransactionByHash", txHash); err != nil {
		return model.Participants{}, err
	}
	if tx == nil {
		return model.Participants{}, ethereum.NotFound
	}
	return model.Participants{Sender: tx.From, Receiver: tx.To}, nil
}

func filterQuery(fromBlock uint64, toBlock *uint64, addresses []common.Address) ethereum.FilterQuery {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		Addresses: addresses,
	}
	if toBlock != nil {
		query.ToBlock = new(big.Int).SetUint64(*toBlock)
	}
	return query
}

// filterArg renders a query in the shape eth_newFilter expects.
func filterArg(fromBlock uint64, toBlock *uint64, addresses []common.Address) map[string]interface{} {
	arg := map[string]interface{}{
		"address":   addresses,
		"fromBlock": hexutil.EncodeUint64(fromBlock),
	}
	if toBlock != nil {
		arg["toBlock"] = hexutil.EncodeUint64(*toBlock)
	} else {
		arg["toBlock"] = "latest"
	}
	return arg
}
