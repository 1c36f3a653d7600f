package store

import (
	"context"

	"github.com/rotisserie/eris"
)

// Persisted cache layout. Leads are stored per segment as a JSON array, with
// the fetch time kept separately as epoch milliseconds.
const (
	leadsKeyPrefix     = "leads_cache_v2_"
	timestampKeyPrefix = "leads_cache_timestamp_"

	// LoanTypesKey holds the segment-independent list of loan types.
	LoanTypesKey = "loan_types_cache_v1"

	// PendingCreatedKey holds record-created events persisted for delivery on
	// the next load.
	PendingCreatedKey = "leads_pending_created_v1"
)

// LeadsKey returns the key holding a segment's serialized leads.
func LeadsKey(segment string) string {
	return leadsKeyPrefix + segment
}

// TimestampKey returns the key holding a segment's fetch time.
func TimestampKey(segment string) string {
	return timestampKeyPrefix + segment
}

// LeadsKeyPrefix is the common prefix of every LeadsKey.
func LeadsKeyPrefix() string {
	return leadsKeyPrefix
}

// KV defines the durable key-value store behind the lead cache.
type KV interface {
	// Get returns the stored value, or nil with no error when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists stored keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a KV backend.
type Config struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	Pool        *PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open creates the configured backend and runs its migration.
func Open(ctx context.Context, cfg Config) (KV, error) {
	var (
		kv  KV
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "leadengine.db"
		}
		kv, err = NewSQLite(dsn)
	case "postgres":
		kv, err = NewPostgres(ctx, cfg.DatabaseURL, cfg.Pool)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := kv.Migrate(ctx); err != nil {
		kv.Close() //nolint:errcheck
		return nil, err
	}
	return kv, nil
}
