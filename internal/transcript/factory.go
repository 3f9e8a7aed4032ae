package transcript

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Options selects and configures a Store backend.
type Options struct {
	Backend     string
	DatabaseURL string
	RedisURL    string
	RedisTTL    time.Duration
}

// NewStore opens the configured backend. An empty backend means memory.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if strings.TrimSpace(opts.DatabaseURL) == "" {
			return nil, fmt.Errorf("transcript store postgres: DATABASE_URL is required")
		}
		return NewPostgresStore(ctx, opts.DatabaseURL)
	case "redis":
		if strings.TrimSpace(opts.RedisURL) == "" {
			return nil, fmt.Errorf("transcript store redis: REDIS_URL is required")
		}
		return NewRedisStore(ctx, opts.RedisURL, opts.RedisTTL)
	default:
		return nil, fmt.Errorf("unknown transcript store %q", opts.Backend)
	}
}
