package tokens

import (
	"fmt"
	"strings"
)

// StoreType selects a credential store backend.
type StoreType string

const (
	// StoreTypeFile persists tokens as files under a directory.
	StoreTypeFile StoreType = "file"
	// StoreTypeMemory keeps tokens in process memory only.
	StoreTypeMemory StoreType = "memory"
	// StoreTypeRedis persists tokens in Redis.
	StoreTypeRedis StoreType = "redis"
)

// StoreConfig contains configuration for creating a store.
type StoreConfig struct {
	Type StoreType
	// Dir is the storage directory for the file backend. Empty means the
	// default under the user's home directory.
	Dir string
	// Redis contains Redis-specific configuration.
	Redis RedisOptions
}

// NewStore creates a store instance for the configured backend.
func NewStore(cfg StoreConfig) (Store, error) {
	switch cfg.Type {
	case StoreTypeFile:
		return NewFileStore(cfg.Dir)
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		return NewRedisStoreFromOptions(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
	}
}

// ParseStoreType parses a string into a StoreType, defaulting to the file
// backend for unknown inputs.
func ParseStoreType(s string) StoreType {
	switch strings.ToLower(s) {
	case "memory":
		return StoreTypeMemory
	case "redis":
		return StoreTypeRedis
	default:
		return StoreTypeFile
	}
}

// String returns the string representation of the store type.
func (t StoreType) String() string {
	return string(t)
}
