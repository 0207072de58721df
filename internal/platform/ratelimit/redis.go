package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter shared by every API replica. Redis errors
// allow the request.
type Redis struct {
	client  *redis.Client
	log     *slog.Logger
	prefix  string
	limit   int
	window  time.Duration
	timeout time.Duration
}

var _ Limiter = (*Redis)(nil)

// RedisOptions locates the Redis server.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, opts RedisOptions, limit int, window time.Duration, log *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	return NewRedisFromClient(client, limit, window, log), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, limit int, window time.Duration, log *slog.Logger) *Redis {
	if window <= 0 {
		window = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Redis{
		client:  client,
		log:     log,
		prefix:  "riverly:ratelimit:",
		limit:   limit,
		window:  window,
		timeout: 250 * time.Millisecond,
	}
}

func (r *Redis) Allow(ctx context.Context, key string) Decision {
	if r.limit <= 0 {
		return Decision{Allowed: true}
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	redisKey := r.prefix + key
	var incr *redis.IntCmd
	var ttlCmd *redis.DurationCmd
	// EXPIRE NX also repairs a counter that was left without an expiry.
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.ExpireNX(ctx, redisKey, r.window)
		ttlCmd = pipe.TTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		r.log.Error("redis rate limiter error", "op", "incr", "error", err)
		return Decision{Allowed: true}
	}
	counter := incr.Val()
	ttl := ttlCmd.Val()
	if ttl <= 0 {
		ttl = r.window
	}
	return Decision{
		Allowed: int(counter) <= r.limit,
		Count:   int(counter),
		ResetAt: time.Now().Add(ttl),
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}
