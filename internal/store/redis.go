package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store implementation, backed by
// redis/go-redis/v9. It is the concrete analogue of the original Python
// system's inettopology_popmap.connection.Redis singleton, but threaded
// explicitly through the call graph instead of constructed as a
// process-wide singleton (spec.md §9).
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore connects to Redis using the given options and verifies
// connectivity with a Ping, mirroring the teacher's db.NewPool.
func NewRedisStore(ctx context.Context, opts *redis.Options) (*RedisStore, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client, used by
// tests that point at a miniredis instance.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return s.client.Incr(ctx, key).Result()
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("hget %s.%s: %w", key, field, err)
	}
	return v, true, nil
}

func (s *RedisStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return s.client.HSet(ctx, key, args...).Err()
}

func (s *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return s.client.HDel(ctx, key, fields...).Err()
}

func (s *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *RedisStore) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, key, args...).Err()
}

func (s *RedisStore) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SRem(ctx, key, args...).Err()
}

func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

func (s *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return s.client.SIsMember(ctx, key, member).Result()
}

func (s *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	return s.client.SCard(ctx, key).Result()
}

func (s *RedisStore) SMove(ctx context.Context, src, dst, member string) error {
	return s.client.SMove(ctx, src, dst, member).Err()
}

func (s *RedisStore) SPop(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.SPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("spop %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) SUnionStore(ctx context.Context, dst string, keys ...string) error {
	return s.client.SUnionStore(ctx, dst, keys...).Err()
}

func (s *RedisStore) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.client.LPush(ctx, key, args...).Err()
}

func (s *RedisStore) RPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return s.client.RPush(ctx, key, args...).Err()
}

func (s *RedisStore) RPop(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.RPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rpop %s: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisStore) RPopLPush(ctx context.Context, src, dst string) (string, bool, error) {
	v, err := s.client.RPopLPush(ctx, src, dst).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("rpoplpush %s->%s: %w", src, dst, err)
	}
	return v, true, nil
}

func (s *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	return out, iter.Err()
}

func (s *RedisStore) Pipeline() Pipeline {
	return &redisPipeline{cmdable: s.client, pipe: s.client.Pipeline()}
}

func (s *RedisStore) Watch(ctx context.Context, fn func(tx Pipeline) error, keys ...string) error {
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			return fn(&redisPipeline{cmdable: tx, pipe: p})
		})
		return err
	}, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrWatchConflict
	}
	return err
}

// pushIfAbsentScript is the Lua implementation of spec.md §4.1's "push-if-absent"
// primitive: if KEYS[1] (the sample set for a link) does not yet exist, the
// link key is pushed onto the unassigned-link queue before the sample is
// added, so the queue and the sample-set universe move together atomically.
var pushIfAbsentScript = redis.NewScript(`
local exists = redis.call("EXISTS", KEYS[1])
if exists == 0 then
  redis.call("LPUSH", KEYS[2], KEYS[1])
end
redis.call("SADD", KEYS[1], ARGV[1])
return exists
`)

func (s *RedisStore) EvalPushIfAbsent(ctx context.Context, queueKey, key, member string) error {
	return pushIfAbsentScript.Run(ctx, s.client, []string{key, queueKey}, member).Err()
}

func (s *RedisStore) Mutex(name string) Mutex {
	return newRedisMutex(s.client, name)
}

var (
	cursorAdvance = redis.NewScript(cursorAdvanceScript)
	cursorAck     = redis.NewScript(cursorAckScript)
)

func (s *RedisStore) CursorAdvance(ctx context.Context, workKey, markerKey string) (string, bool, error) {
	v, err := cursorAdvance.Run(ctx, s.client, []string{workKey, markerKey}).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cursor advance %s: %w", workKey, err)
	}
	str, ok := v.(string)
	if !ok {
		return "", false, nil
	}
	return str, true, nil
}

func (s *RedisStore) CursorAck(ctx context.Context, markerKey, value string) error {
	return cursorAck.Run(ctx, s.client, []string{markerKey}, value).Err()
}

type redisPipeline struct {
	cmdable redis.Cmdable
	pipe    redis.Pipeliner
}

func (p *redisPipeline) Set(key, value string) { p.pipe.Set(context.Background(), key, value, 0) }
func (p *redisPipeline) Delete(keys ...string) {
	if len(keys) > 0 {
		p.pipe.Del(context.Background(), keys...)
	}
}
func (p *redisPipeline) Incr(key string) { p.pipe.Incr(context.Background(), key) }
func (p *redisPipeline) HSet(key string, fields map[string]string) {
	if len(fields) == 0 {
		return
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	p.pipe.HSet(context.Background(), key, args...)
}
func (p *redisPipeline) HDel(key string, fields ...string) {
	if len(fields) > 0 {
		p.pipe.HDel(context.Background(), key, fields...)
	}
}
func (p *redisPipeline) SAdd(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.SAdd(context.Background(), key, args...)
}
func (p *redisPipeline) SRem(key string, members ...string) {
	if len(members) == 0 {
		return
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	p.pipe.SRem(context.Background(), key, args...)
}
func (p *redisPipeline) SMove(src, dst, member string) {
	p.pipe.SMove(context.Background(), src, dst, member)
}
func (p *redisPipeline) LPush(key string, values ...string) {
	if len(values) == 0 {
		return
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	p.pipe.LPush(context.Background(), key, args...)
}
func (p *redisPipeline) RPush(key string, values ...string) {
	if len(values) == 0 {
		return
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	p.pipe.RPush(context.Background(), key, args...)
}

func (p *redisPipeline) Exec(ctx context.Context) error {
	_, err := p.pipe.Exec(ctx)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrWatchConflict
	}
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

// dialTimeoutOr returns d if positive, else def, so a zero-value dial
// timeout does not silently mean "no timeout" in some redis.Options fields.
func dialTimeoutOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
