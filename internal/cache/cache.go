package cache

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cache defines the interface for caching
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Key builds a namespaced cache key, e.g. Key("source", "42") -> "evidencegate:v1:source:42"
func Key(namespace string, parts ...string) string {
	return "evidencegate:v1:" + namespace + ":" + strings.Join(parts, ":")
}

// GetJSON decodes a cached JSON value into out. A decode failure is a miss.
func GetJSON(c Cache, key string, out any) bool {
	data, ok := c.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		_ = c.Delete(key)
		return false
	}
	return true
}

// SetJSON encodes value as JSON and caches it
func SetJSON(c Cache, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return c.Set(key, data, ttl)
}
