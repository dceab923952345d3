package chat

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"health-assistant/internal/retrieval"
)

const redisKeyPrefix = "answer:"

type redisCache struct {
	rdb      *goredis.Client
	versions retrieval.VersionSource
	ttl      time.Duration
}

// NewRedisCache connects to the server at url (redis://...) and keeps each
// answer in a hash holding the answer and its index version. A positive ttl
// also expires entries on the server.
func NewRedisCache(ctx context.Context, url string, versions retrieval.VersionSource, ttl time.Duration) (Cache, *goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisCache{rdb: rdb, versions: versions, ttl: ttl}, rdb, nil
}

func (c *redisCache) Get(ctx context.Context, question string) (string, bool, error) {
	fields, err := c.rdb.HGetAll(ctx, redisKeyPrefix+question).Result()
	if err != nil {
		return "", false, fmt.Errorf("cache lookup: %w", err)
	}
	answer, ok := fields["answer"]
	if !ok {
		return "", false, nil
	}
	v, err := strconv.ParseFloat(fields["version"], 64)
	if err != nil || !sameVersion(v, c.versions.Version()) {
		return "", false, nil
	}
	return answer, true, nil
}

func (c *redisCache) Version() float64 { return c.versions.Version() }

func (c *redisCache) Put(ctx context.Context, question, answer string, version float64) error {
	key := redisKeyPrefix + question

	_, err := c.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, key, "answer", answer, "version", strconv.FormatFloat(version, 'f', -1, 64))
		if c.ttl > 0 {
			p.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}
