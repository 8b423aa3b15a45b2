package config

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrConfig marks a configuration problem that prevents a pipeline from starting.
var ErrConfig = errors.New("config error")

// Protocol selects the transport a lane uses.
type Protocol string

const (
	ProtocolHTTP        Protocol = "http"
	ProtocolWS          Protocol = "ws"
	ProtocolHTTPWatcher Protocol = "http_watcher"
)

// Config is the full pipeline configuration.
type Config struct {
	Chain         ChainConfig      `mapstructure:"chain" json:"chain"`
	Indexing      IndexingConfig   `mapstructure:"indexing" json:"indexing"`
	Contracts     []ContractConfig `mapstructure:"contracts" json:"contracts"`
	Stores        StoresConfig     `mapstructure:"stores" json:"stores"`
	LogLevel      string           `mapstructure:"logLevel" json:"logLevel"`
	ListenAddress string           `mapstructure:"listenAddress" json:"listenAddress"`
}

type ChainConfig struct {
	HTTPRPCURL        string  `mapstructure:"httpRpcUrl" json:"httpRpcUrl"`
	WSRPCURL          string  `mapstructure:"wsRpcUrl" json:"wsRpcUrl"`
	ChainID           uint64  `mapstructure:"chainId" json:"chainId"`
	RequestsPerSecond float64 `mapstructure:"requestsPerSecond" json:"requestsPerSecond"`
}

type IndexingConfig struct {
	FromBlock uint64 `mapstructure:"fromBlock" json:"fromBlock"`
	// ToBlock is exclusive. Zero means the chain head at lane start.
	ToBlock uint64 `mapstructure:"toBlock" json:"toBlock"`

	HistoricalEnabled   bool     `mapstructure:"historicalEnabled" json:"historicalEnabled"`
	HistoricalProtocol  Protocol `mapstructure:"historicalProtocol" json:"historicalProtocol"`
	HistoricalChunkSize uint64   `mapstructure:"historicalChunkSize" json:"historicalChunkSize"`
	CheckpointPath      string   `mapstructure:"checkpointPath" json:"checkpointPath"`

	LiveEnabled         bool     `mapstructure:"liveEnabled" json:"liveEnabled"`
	LiveProtocol        Protocol `mapstructure:"liveProtocol" json:"liveProtocol"`
	PollIntervalSeconds uint64   `mapstructure:"pollIntervalSeconds" json:"pollIntervalSeconds"`

	FilterSenders   []string `mapstructure:"filterSenders" json:"filterSenders"`
	FilterReceivers []string `mapstructure:"filterReceivers" json:"filterReceivers"`

	MaxImplementationDepth        int `mapstructure:"maxImplementationDepth" json:"maxImplementationDepth"`
	MaxImplementationsPerContract int `mapstructure:"maxImplementationsPerContract" json:"maxImplementationsPerContract"`

	ParticipantCacheSize   int `mapstructure:"participantCacheSize" json:"participantCacheSize"`
	ParticipantConcurrency int `mapstructure:"participantConcurrency" json:"participantConcurrency"`

	MaxRetries   int           `mapstructure:"maxRetries" json:"maxRetries"`
	RetryBackoff time.Duration `mapstructure:"retryBackoff" json:"retryBackoff"`
}

// PollInterval returns the polling tick as a duration.
func (c IndexingConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ContractConfig describes a contract and, for proxies, the implementations it delegates to.
type ContractConfig struct {
	Name            string           `mapstructure:"name" json:"name"`
	Address         string           `mapstructure:"address" json:"address"`
	AbiPath         string           `mapstructure:"abiPath" json:"abiPath"`
	Implementations []ContractConfig `mapstructure:"implementations" json:"implementations,omitempty"`
}

type StoresConfig struct {
	Primary PrimaryConfig `mapstructure:"primary" json:"primary"`
	Replica ReplicaConfig `mapstructure:"replica" json:"replica"`
	Archive ArchiveConfig `mapstructure:"archive" json:"archive"`
}

type PrimaryConfig struct {
	DSN    string `mapstructure:"dsn" json:"dsn"`
	Schema string `mapstructure:"schema" json:"schema"`
}

// ReplicaConfig is disabled when Kind is empty.
type ReplicaConfig struct {
	Kind   string `mapstructure:"kind" json:"kind"`
	DSN    string `mapstructure:"dsn" json:"dsn"`
	Schema string `mapstructure:"schema" json:"schema"`
	Path   string `mapstructure:"path" json:"path"`
}

// ArchiveConfig is disabled when Kind is empty.
type ArchiveConfig struct {
	Kind   string `mapstructure:"kind" json:"kind"`
	URL    string `mapstructure:"url" json:"url"`
	Bucket string `mapstructure:"bucket" json:"bucket"`
	Path   string `mapstructure:"path" json:"path"`
}

const (
	StoreKindPostgres = "postgres"
	StoreKindBadger   = "badger"
	StoreKindNATS     = "nats"
	StoreKindJSONL    = "jsonl"
)

// flagKeys maps CLI flag names onto nested config keys.
var flagKeys = map[string]string{
	"log-level":        "logLevel",
	"listen":           "listenAddress",
	"http-rpc":         "chain.httpRpcUrl",
	"ws-rpc":           "chain.wsRpcUrl",
	"chain-id":         "chain.chainId",
	"rps":              "chain.requestsPerSecond",
	"from":             "indexing.fromBlock",
	"to":               "indexing.toBlock",
	"historical":       "indexing.historicalEnabled",
	"historical-proto": "indexing.historicalProtocol",
	"chunk-size":       "indexing.historicalChunkSize",
	"checkpoint":       "indexing.checkpointPath",
	"live":             "indexing.liveEnabled",
	"live-proto":       "indexing.liveProtocol",
	"poll-interval":    "indexing.pollIntervalSeconds",
	"filter-senders":   "indexing.filterSenders",
	"filter-receivers": "indexing.filterReceivers",
	"max-retries":      "indexing.maxRetries",
	"retry-backoff":    "indexing.retryBackoff",
	"primary-dsn":      "stores.primary.dsn",
	"primary-schema":   "stores.primary.schema",
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("logLevel", "info")
	v.SetDefault("listenAddress", ":8080")

	v.SetDefault("chain.httpRpcUrl", "")
	v.SetDefault("chain.wsRpcUrl", "")
	v.SetDefault("chain.chainId", uint64(0))
	v.SetDefault("chain.requestsPerSecond", float64(0))

	v.SetDefault("indexing.fromBlock", uint64(0))
	v.SetDefault("indexing.toBlock", uint64(0))
	v.SetDefault("indexing.historicalEnabled", true)
	v.SetDefault("indexing.historicalProtocol", string(ProtocolHTTP))
	v.SetDefault("indexing.historicalChunkSize", uint64(2000))
	v.SetDefault("indexing.checkpointPath", "")
	v.SetDefault("indexing.liveEnabled", false)
	v.SetDefault("indexing.liveProtocol", string(ProtocolWS))
	v.SetDefault("indexing.pollIntervalSeconds", uint64(5))
	v.SetDefault("indexing.filterSenders", []string{})
	v.SetDefault("indexing.filterReceivers", []string{})
	v.SetDefault("indexing.maxImplementationDepth", 4)
	v.SetDefault("indexing.maxImplementationsPerContract", 8)
	v.SetDefault("indexing.participantCacheSize", 10000)
	v.SetDefault("indexing.participantConcurrency", 8)
	v.SetDefault("indexing.maxRetries", 5)
	v.SetDefault("indexing.retryBackoff", 500*time.Millisecond)

	v.SetDefault("stores.primary.dsn", "")
	v.SetDefault("stores.primary.schema", "public")
	v.SetDefault("stores.replica.kind", "")
	v.SetDefault("stores.archive.kind", "")

	return v
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := newViper()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return decode(v)
}

// Parse reads a serialized pipeline config (json, yaml or toml) over the defaults.
func Parse(data []byte, format string) (Config, error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrConfig, format, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: decode: %v", ErrConfig, err)
	}

	cfg.Indexing.FilterSenders = splitAndClean(cfg.Indexing.FilterSenders)
	cfg.Indexing.FilterReceivers = splitAndClean(cfg.Indexing.FilterReceivers)

	return cfg, nil
}

// splitAndClean accepts both list values and comma-joined strings from env or flags.
func splitAndClean(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
	}
	return out
}
