package memory

import (
	"log"

	"github.com/socialpilot-ai/socialpilot/internal/agent/config"
	"github.com/socialpilot-ai/socialpilot/internal/agent/core"
)

// NewStore builds the persistence layer from configuration. Redis is
// preferred when reachable; otherwise state falls back to local files so a
// dev setup needs no services.
func NewStore(cfg config.StorageConfig, logger *log.Logger) (core.Store, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[MEMORY] ", log.LstdFlags)
	}

	if cfg.Redis.Host != "" {
		store, err := NewRedisStore(cfg.Redis, logger)
		if err == nil {
			logger.Printf("using redis store at %s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return store, nil
		}
		logger.Printf("redis unavailable (%v), falling back to file store", err)
	}

	dir := cfg.File.DataDir
	if dir == "" {
		dir = "agent_memory"
	}
	store, err := NewFileStore(dir, logger)
	if err != nil {
		return nil, err
	}
	logger.Printf("using file store at %s", dir)
	return store, nil
}
