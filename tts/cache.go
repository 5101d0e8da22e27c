package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/korjavin/voicenary/logger"
)

// AudioStore is a byte cache for synthesized audio.
type AudioStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, audio []byte) error
}

// CachedSynthesizer serves repeated requests from an AudioStore. Store
// failures are logged and bypassed.
type CachedSynthesizer struct {
	next  Synthesizer
	store AudioStore
	log   *logger.Logger
}

func NewCachedSynthesizer(next Synthesizer, store AudioStore, log *logger.Logger) *CachedSynthesizer {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedSynthesizer{next: next, store: store, log: log.With("service", "CachedSynthesizer")}
}

// CacheKey identifies one voice/text/teach combination.
func CacheKey(text, voiceID string, teach bool) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%t|%s", voiceID, teach, text)))
	return "tts:" + hex.EncodeToString(h[:16])
}

func (c *CachedSynthesizer) Synthesize(ctx context.Context, text, voiceID string, teach bool) ([]byte, error) {
	key := CacheKey(text, voiceID, teach)
	if audio, ok, err := c.store.Get(ctx, key); err != nil {
		c.log.Warn("Audio cache lookup failed", "error", err)
	} else if ok {
		return audio, nil
	}

	audio, err := c.next.Synthesize(ctx, text, voiceID, teach)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, audio); err != nil {
		c.log.Warn("Audio cache store failed", "error", err)
	}
	return audio, nil
}

// RedisStore keeps audio in Redis with a TTL.
type RedisStore struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{rdb: rdb, ttl: ttl}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	audio, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return audio, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, audio []byte) error {
	return s.rdb.Set(ctx, key, audio, s.ttl).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
