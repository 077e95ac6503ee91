package app

import (
	"canvas-gateway/internal/config"
	"canvas-gateway/internal/logger"
	"canvas-gateway/internal/redis"
	"canvas-gateway/internal/session"
)

type infra struct {
	Store session.Store
	// Memory is non-nil when the in-memory store is active, so wiring
	// can attach its destroy hook.
	Memory *session.MemoryStore
	Redis  *redis.Client
}

// setupInfra selects the session backend: Redis when configured,
// otherwise the in-memory table.
func setupInfra(cfg config.Config) (*infra, error) {
	if cfg.RedisAddr == "" {
		memory := session.NewMemoryStore(cfg.IdleTimeout, cfg.SessionCap)
		logger.Info("session store ready", map[string]any{"backend": "memory"})
		return &infra{Store: memory, Memory: memory}, nil
	}

	redisClient, err := redis.New(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		return nil, err
	}

	logger.Info("session store ready", map[string]any{"backend": "redis"})

	return &infra{
		Store: session.NewRedisStore(redisClient.Client, cfg.IdleTimeout, cfg.SessionCap),
		Redis: redisClient,
	}, nil
}
