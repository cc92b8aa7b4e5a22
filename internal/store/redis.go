package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the primary Store backend, grounded on the connection-pool
// and Get/Set-with-TTL idioms used by wisbric-nightowl's platform/redis.go
// and pkg/alert/dedup.go.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore parses redisURL and opens a connection pool capped at 20
// connections, then verifies connectivity with a PING.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	opts.PoolSize = 20
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrUnavailable, err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: hget %s/%s: %w", key, field, err)
	}
	return v, true, nil
}

func (s *RedisStore) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	v, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: hgetall %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) HashSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	if err := s.client.HSet(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("store: hset %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) HashDelete(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("store: hdel %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SAdd(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("store: sadd %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := s.client.SRem(ctx, key, args...).Err(); err != nil {
		return fmt.Errorf("store: srem %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	v, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: smembers %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) SetCardinality(ctx context.Context, key string) (int64, error) {
	v, err := s.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("store: scard %s: %w", key, err)
	}
	return v, nil
}

func (s *RedisStore) OrderedAppend(ctx context.Context, key string, score float64, payload string) error {
	err := s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: payload}).Err()
	if err != nil {
		return fmt.Errorf("store: zadd %s: %w", key, err)
	}
	return s.client.Expire(ctx, key, TTLRateLimit).Err()
}

func (s *RedisStore) RangeByRank(ctx context.Context, key string, minScore, maxScore float64) ([]Element, error) {
	zs, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", minScore),
		Max: fmt.Sprintf("%f", maxScore),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("store: zrangebyscore %s: %w", key, err)
	}
	out := make([]Element, len(zs))
	for i, z := range zs {
		payload, _ := z.Member.(string)
		out[i] = Element{Score: z.Score, Payload: payload}
	}
	return out, nil
}

func (s *RedisStore) RemoveByScoreRange(ctx context.Context, key string, minScore, maxScore float64) (int64, error) {
	n, err := s.client.ZRemRangeByScore(ctx, key,
		fmt.Sprintf("%f", minScore), fmt.Sprintf("%f", maxScore)).Result()
	if err != nil {
		return 0, fmt.Errorf("store: zremrangebyscore %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) ScanByPrefix(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store: scan %s*: %w", prefix, err)
	}
	return out, nil
}

// Batch pipelines fn's writes into a single round trip. Reads issued
// through the pipelined sub-store are not meaningful (results queue rather
// than return immediately) — Batch is intended for write fan-out only.
func (s *RedisStore) Batch(ctx context.Context, fn func(b Store) error) error {
	pipe := s.client.Pipeline()
	b := &pipelinedStore{pipe: pipe}
	if err := fn(b); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: batch exec: %w", err)
	}
	return nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// pipelinedStore implements Store's write operations against a
// redis.Pipeliner, queuing commands instead of issuing them immediately.
// Read operations are not supported inside a batch and return an error.
type pipelinedStore struct {
	pipe redis.Pipeliner
}

var errBatchReadUnsupported = errors.New("store: read operations are not supported inside Batch")

func (p *pipelinedStore) HashGet(context.Context, string, string) (string, bool, error) {
	return "", false, errBatchReadUnsupported
}

func (p *pipelinedStore) HashGetAll(context.Context, string) (map[string]string, error) {
	return nil, errBatchReadUnsupported
}

func (p *pipelinedStore) HashSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return p.pipe.HSet(ctx, key, args...).Err()
}

func (p *pipelinedStore) HashDelete(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return p.pipe.HDel(ctx, key, fields...).Err()
}

func (p *pipelinedStore) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return p.pipe.SAdd(ctx, key, args...).Err()
}

func (p *pipelinedStore) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return p.pipe.SRem(ctx, key, args...).Err()
}

func (p *pipelinedStore) SetMembers(context.Context, string) ([]string, error) {
	return nil, errBatchReadUnsupported
}

func (p *pipelinedStore) SetCardinality(context.Context, string) (int64, error) {
	return 0, errBatchReadUnsupported
}

func (p *pipelinedStore) OrderedAppend(ctx context.Context, key string, score float64, payload string) error {
	if err := p.pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: payload}).Err(); err != nil {
		return err
	}
	return p.pipe.Expire(ctx, key, TTLRateLimit).Err()
}

func (p *pipelinedStore) RangeByRank(context.Context, string, float64, float64) ([]Element, error) {
	return nil, errBatchReadUnsupported
}

func (p *pipelinedStore) RemoveByScoreRange(ctx context.Context, key string, minScore, maxScore float64) (int64, error) {
	return 0, p.pipe.ZRemRangeByScore(ctx, key, fmt.Sprintf("%f", minScore), fmt.Sprintf("%f", maxScore)).Err()
}

func (p *pipelinedStore) ScanByPrefix(context.Context, string) ([]string, error) {
	return nil, errBatchReadUnsupported
}

func (p *pipelinedStore) Batch(context.Context, func(b Store) error) error {
	return errors.New("store: Batch cannot be nested")
}

func (p *pipelinedStore) HealthCheck(context.Context) error { return nil }
func (p *pipelinedStore) Close() error                      { return nil }
