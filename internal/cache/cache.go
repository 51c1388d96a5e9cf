// Package cache stores analysis results in redis keyed by the content hash of
// the analysed file, so re-uploading the same audio skips the DSP work.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/schollz/logger"
)

const keyPrefix = "analysis"

// ResultCache is safe to use as a nil pointer, which disables caching.
type ResultCache struct {
	redis *redis.Client
	ttl   time.Duration
}

func New(redisClient *redis.Client, ttl time.Duration) *ResultCache {
	if redisClient == nil {
		return nil
	}
	return &ResultCache{redis: redisClient, ttl: ttl}
}

// Digest returns the hex sha256 of the file at path.
func Digest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func key(kind, digest string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, kind, digest)
}

// Get decodes a cached result into dst. It reports false on a miss, when the
// cache is disabled, or when redis is unreachable.
func (c *ResultCache) Get(ctx context.Context, kind, digest string, dst interface{}) bool {
	if c == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key(kind, digest)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debugf("cache get %s: %v", kind, err)
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		log.Debugf("cache entry %s is corrupt: %v", kind, err)
		return false
	}
	return true
}

// Set stores v for the given analysis and file digest.
func (c *ResultCache) Set(ctx context.Context, kind, digest string, v interface{}) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, key(kind, digest), data, c.ttl).Err()
}
