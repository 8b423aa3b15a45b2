package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"eventsMonitor/internal/model"
)

const (
	eventsTable = "contract_events"
	stateTable  = "indexer_state"
)

// Store provides Postgres persistence for decoded events and named cursors.
type Store struct {
	pool   *pgxpool.Pool
	schema string
}

func NewStore(ctx context.Context, dsn, schema string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if schema == "" {
		schema = "public"
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: pool, schema: schema}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) table(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

// EnsureSchema creates the schema and tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(s.schema) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap schema: %w", err)
		}
	}
	return nil
}

func schemaStatements(schema string) []string {
	events := pgx.Identifier{schema, eventsTable}.Sanitize()
	state := pgx.Identifier{schema, stateTable}.Sanitize()
	return []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + events + ` (
			id BIGSERIAL PRIMARY KEY,
			chain_id BIGINT NOT NULL,
			contract_name TEXT NOT NULL,
			contract_address TEXT NOT NULL,
			implementation_name TEXT,
			implementation_address TEXT,
			event_name TEXT NOT NULL,
			event_signature TEXT,
			block_number BIGINT NOT NULL,
			block_hash TEXT NOT NULL,
			block_timestamp BIGINT NOT NULL,
			transaction_hash TEXT NOT NULL,
			transaction_index INTEGER NOT NULL,
			log_index INTEGER NOT NULL,
			transaction_sender TEXT,
			transaction_receiver TEXT,
			topics TEXT[] NOT NULL,
			data TEXT NOT NULL,
			event_data JSONB NOT NULL,
			content_hash TEXT NOT NULL UNIQUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS ` + pgx.Identifier{eventsTable + "_address_block_idx"}.Sanitize() +
			` ON ` + events + ` (chain_id, contract_address, block_number)`,
		`CREATE TABLE IF NOT EXISTS ` + state + ` (
			name TEXT PRIMARY KEY,
			value BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
}

var eventColumns = []string{
	"chain_id", "contract_name", "contract_address", "implementation_name", "implementation_address",
	"event_name", "event_signature", "block_number", "block_hash", "block_timestamp",
	"transaction_hash", "transaction_index", "log_index", "transaction_sender", "transaction_receiver",
	"topics", "data", "event_data", "content_hash",
}

func (s *Store) insertSQL() string {
	placeholders := make([]string, len(eventColumns))
	for i := range eventColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return `INSERT INTO ` + s.table(eventsTable) + ` (` + strings.Join(eventColumns, ", ") + `)
		VALUES (` + strings.Join(placeholders, ", ") + `)
		ON CONFLICT (content_hash) DO NOTHING`
}

// eventRow maps a record onto eventColumns.
func eventRow(r *model.EventRecord) ([]any, error) {
	params := r.Params
	if params == nil {
		params = []model.Param{}
	}
	eventData, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}

	topics := make([]string, len(r.Topics))
	for i, t := range r.Topics {
		topics[i] = t.Hex()
	}

	var signature *string
	if r.Signature != nil {
		v := r.Signature.Hex()
		signature = &v
	}
	var implName *string
	if r.ImplementationName != "" {
		v := r.ImplementationName
		implName = &v
	}

	return []any{
		int64(r.ChainID),
		r.ContractName,
		r.Address.Hex(),
		implName,
		optionalAddress(r.ImplementationAddress),
		r.EventName,
		signature,
		int64(r.BlockNumber),
		r.BlockHash.Hex(),
		int64(r.BlockTimestamp),
		r.TransactionHash.Hex(),
		int32(r.TransactionIndex),
		int32(r.LogIndex),
		optionalAddress(r.TransactionSender),
		optionalAddress(r.TransactionReceiver),
		topics,
		r.Data.String(),
		eventData,
		r.ContentHash.Hex(),
	}, nil
}

func optionalAddress(a *common.Address) *string {
	if a == nil {
		return nil
	}
	v := a.Hex()
	return &v
}

// InsertEvent inserts a record; a duplicate content hash is a no-op and reports false.
func (s *Store) InsertEvent(ctx context.Context, record *model.EventRecord) (bool, error) {
	args, err := eventRow(record)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, s.insertSQL(), args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MirrorEvent lets a second Store serve as a replica.
func (s *Store) MirrorEvent(ctx context.Context, record *model.EventRecord) error {
	_, err := s.InsertEvent(ctx, record)
	return err
}

// LoadState returns the stored value for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var value int64
	row := s.pool.QueryRow(ctx, `SELECT value FROM `+s.table(stateTable)+` WHERE name=$1`, name)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(value), true, nil
}

// SaveState upserts the value for a name.
func (s *Store) SaveState(ctx context.Context, name string, value uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table(stateTable)+` (name, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET value = EXCLUDED.value, updated_at = now()
	`, name, int64(value))
	return err
}
