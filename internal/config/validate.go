package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Validate reports the first configuration problem found, wrapped with ErrConfig.
func (c Config) Validate() error {
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("%w: chain.chainId is required", ErrConfig)
	}
	if c.Chain.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: chain.requestsPerSecond must not be negative", ErrConfig)
	}

	idx := c.Indexing
	if !idx.HistoricalEnabled && !idx.LiveEnabled {
		return fmt.Errorf("%w: at least one of historical or live indexing must be enabled", ErrConfig)
	}
	if idx.HistoricalEnabled {
		if err := c.checkProtocol("indexing.historicalProtocol", idx.HistoricalProtocol); err != nil {
			return err
		}
		if idx.HistoricalChunkSize == 0 {
			return fmt.Errorf("%w: indexing.historicalChunkSize must be greater than zero", ErrConfig)
		}
		if idx.ToBlock != 0 && idx.ToBlock < idx.FromBlock {
			return fmt.Errorf("%w: indexing.toBlock %d is before fromBlock %d", ErrConfig, idx.ToBlock, idx.FromBlock)
		}
	}
	if idx.LiveEnabled {
		if err := c.checkProtocol("indexing.liveProtocol", idx.LiveProtocol); err != nil {
			return err
		}
		if idx.LiveProtocol != ProtocolWS && idx.PollIntervalSeconds == 0 {
			return fmt.Errorf("%w: indexing.pollIntervalSeconds must be greater than zero", ErrConfig)
		}
	}
	if err := checkAddresses("indexing.filterSenders", idx.FilterSenders); err != nil {
		return err
	}
	if err := checkAddresses("indexing.filterReceivers", idx.FilterReceivers); err != nil {
		return err
	}
	if idx.MaxImplementationDepth < 0 || idx.MaxImplementationsPerContract < 0 {
		return fmt.Errorf("%w: implementation limits must not be negative", ErrConfig)
	}
	if idx.MaxRetries < 0 {
		return fmt.Errorf("%w: indexing.maxRetries must not be negative", ErrConfig)
	}

	if len(c.Contracts) == 0 {
		return fmt.Errorf("%w: at least one contract is required", ErrConfig)
	}
	for i, contract := range c.Contracts {
		if err := checkContract(fmt.Sprintf("contracts[%d]", i), contract); err != nil {
			return err
		}
	}

	return c.Stores.validate()
}

func (c Config) checkProtocol(key string, p Protocol) error {
	switch p {
	case ProtocolHTTP, ProtocolHTTPWatcher:
		if c.Chain.HTTPRPCURL == "" {
			return fmt.Errorf("%w: %s %q requires chain.httpRpcUrl", ErrConfig, key, p)
		}
	case ProtocolWS:
		if c.Chain.WSRPCURL == "" {
			return fmt.Errorf("%w: %s %q requires chain.wsRpcUrl", ErrConfig, key, p)
		}
	default:
		return fmt.Errorf("%w: %s: unknown protocol %q", ErrConfig, key, p)
	}
	return nil
}

func checkContract(path string, c ContractConfig) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: %s.name is required", ErrConfig, path)
	}
	if strings.TrimSpace(c.AbiPath) == "" {
		return fmt.Errorf("%w: %s.abiPath is required", ErrConfig, path)
	}
	if !common.IsHexAddress(c.Address) {
		return fmt.Errorf("%w: %s.address %q is not a hex address", ErrConfig, path, c.Address)
	}
	for i, impl := range c.Implementations {
		if err := checkContract(fmt.Sprintf("%s.implementations[%d]", path, i), impl); err != nil {
			return err
		}
	}
	return nil
}

func checkAddresses(key string, items []string) error {
	for _, item := range items {
		if !common.IsHexAddress(item) {
			return fmt.Errorf("%w: %s: invalid address %q", ErrConfig, key, item)
		}
	}
	return nil
}

func (s StoresConfig) validate() error {
	if s.Primary.DSN == "" {
		return fmt.Errorf("%w: stores.primary.dsn is required", ErrConfig)
	}

	switch s.Replica.Kind {
	case "":
	case StoreKindPostgres:
		if s.Replica.DSN == "" {
			return fmt.Errorf("%w: stores.replica.dsn is required for postgres", ErrConfig)
		}
	case StoreKindBadger:
		if s.Replica.Path == "" {
			return fmt.Errorf("%w: stores.replica.path is required for badger", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: stores.replica.kind: unknown store %q", ErrConfig, s.Replica.Kind)
	}

	switch s.Archive.Kind {
	case "":
	case StoreKindNATS:
		if s.Archive.URL == "" || s.Archive.Bucket == "" {
			return fmt.Errorf("%w: stores.archive url and bucket are required for nats", ErrConfig)
		}
	case StoreKindJSONL:
		if s.Archive.Path == "" {
			return fmt.Errorf("%w: stores.archive.path is required for jsonl", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: stores.archive.kind: unknown store %q", ErrConfig, s.Archive.Kind)
	}

	return nil
}
