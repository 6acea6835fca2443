package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/benwis/bmail/internal/bmail"
	"github.com/benwis/bmail/internal/config"
)

// NewKeyCacheFromConfig creates a KeyCache based on the cache config type.
func NewKeyCacheFromConfig(cfg config.CacheConfig) (bmail.KeyCache, error) {
	switch cfg.Type {
	case "sqlite", "":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite cache")
		}
		if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
		return NewSQLiteCache(filepath.Join(cfg.DataDir, "keys.db"))
	case "memory":
		return NewMemoryCache(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %q", cfg.Type)
	}
}
