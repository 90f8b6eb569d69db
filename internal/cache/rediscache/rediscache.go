package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/FleetBox/internal/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultLastRunKey = "fleetbox:ingestion:last_run"

// RedisCache keeps the latest ingestion result for readers outside the worker.
type RedisCache struct {
	c          *redis.Client
	lastRunKey string
	ttl        time.Duration
}

func New(addr, lastRunKey string, ttl time.Duration) *RedisCache {
	if lastRunKey == "" {
		lastRunKey = DefaultLastRunKey
	}
	return &RedisCache{
		c: redis.NewClient(&redis.Options{
			Addr: addr,
		}),
		lastRunKey: lastRunKey,
		ttl:        ttl,
	}
}

func (r *RedisCache) Close() error {
	return r.c.Close()
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.c.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return val, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.c.Set(ctx, key, value, ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

// PublishRun overwrites the stored last run.
func (r *RedisCache) PublishRun(ctx context.Context, res models.IngestionRunResult) error {
	b, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "marshal run result")
	}
	return r.Set(ctx, r.lastRunKey, b, r.ttl)
}

func (r *RedisCache) LastRun(ctx context.Context) (models.IngestionRunResult, bool, error) {
	var res models.IngestionRunResult
	b, ok, err := r.Get(ctx, r.lastRunKey)
	if err != nil || !ok {
		return res, false, err
	}
	if err := json.Unmarshal(b, &res); err != nil {
		return res, false, errors.Wrap(err, "unmarshal run result")
	}
	return res, true, nil
}
