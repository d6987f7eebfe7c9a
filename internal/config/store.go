package config

import (
	"context"
	"log/slog"

	"github.com/F-Prime-Capital/mcp-server/storage"
	"github.com/F-Prime-Capital/mcp-server/storage/memory"
	"github.com/F-Prime-Capital/mcp-server/storage/redis"
)

// NewStore selects the session backend. Redis is used only when REDIS_URL
// is set and the process runs in production; every other combination gets
// the in-memory store.
func (s *Settings) NewStore(ctx context.Context, log *slog.Logger) (storage.Store, error) {
	if s.RedisURL != "" && s.IsProduction() {
		st, err := redis.NewFromURL(ctx, s.RedisURL)
		if err != nil {
			return nil, err
		}
		log.InfoContext(ctx, "config.store", slog.String("backend", "redis"))
		return st, nil
	}
	if s.RedisURL != "" {
		log.InfoContext(ctx, "config.store.redis_ignored", slog.String("env", s.Env))
	}
	log.WarnContext(ctx, "config.store",
		slog.String("backend", "memory"),
		slog.String("note", "in-memory sessions are unsuitable for multi-instance deployments"),
	)
	return memory.New(), nil
}
