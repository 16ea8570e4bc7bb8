package store

import (
	"context"
	"fmt"
	"strings"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Config selects and addresses a backend.
type Config struct {
	Backend string
	Redis   RedisConfig
	// SQLitePath is a file path or a sqlite DSN such as "file::memory:?cache=shared".
	SQLitePath string
}

func DefaultConfig() Config {
	return Config{Backend: BackendMemory}
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		return OpenRedis(ctx, cfg.Redis)
	case BackendSQLite, backendSQL:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, fmt.Errorf("%w: sqlite requires a path", ErrUnknownBackend)
		}
		return OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
