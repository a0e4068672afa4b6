package datamapper

import (
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const metricsOperationOther = "other"
const metricsOperationKey = "key"
const metricsOperationHash = "hash"
const metricsOperationSet = "set"
const metricsOperationLock = "lock"
const metricsOperationPipeline = "pipeline"

type RedisCache interface {
	Get(ctx Context, key string) (value string, has bool, err error)
	Set(ctx Context, key string, value any, expiration time.Duration) error
	Del(ctx Context, keys ...string) error
	Exists(ctx Context, keys ...string) (int64, error)
	Incr(ctx Context, key string) (int64, error)
	HSet(ctx Context, key string, values ...any) error
	HDel(ctx Context, key string, fields ...string) error
	HGetAll(ctx Context, key string) (map[string]string, error)
	SAdd(ctx Context, key string, members ...any) (int64, error)
	SRem(ctx Context, key string, members ...any) (int64, error)
	SMembers(ctx Context, key string) ([]string, error)
	SCard(ctx Context, key string) (int64, error)
	FlushDB(ctx Context) error
	PipeLine(ctx Context) *RedisPipeLine
	GetLocker() *Locker
	GetConfig() RedisPoolConfig
	GetCode() string
	Client() *redis.Client
}

type redisCache struct {
	client *redis.Client
	locker *Locker
	config RedisPoolConfig
}

func (r *redisCache) GetConfig() RedisPoolConfig {
	return r.config
}

func (r *redisCache) Get(ctx Context, key string) (value string, has bool, err error) {
	hasLogger, _ := ctx.getRedisLoggers()
	start := time.Now()
	req := r.client.Get(ctx.Context(), key)
	val, err := req.Result()
	end := time.Since(start)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			err = nil
		}
		if hasLogger {
			r.fillLogFields(ctx, req, end, true, err)
		}
		r.fillMetrics(ctx, end, metricsOperationKey)
		return "", false, err
	}
	if hasLogger {
		r.fillLogFields(ctx, req, end, false, nil)
	}
	r.fillMetrics(ctx, end, metricsOperationKey)
	return val, true, nil
}

func (r *redisCache) Set(ctx Context, key string, value any, expiration time.Duration) error {
	hasLogger, _ := ctx.getRedisLoggers()
	start := time.Now()
	req := r.client.Set(ctx.Context(), key, value, expiration)
	_, err := req.Result()
	end := time.Since(start)
	if hasLogger {
		r.fillLogFields(ctx, req, end, false, err)
	}
	r.fillMetrics(ctx, end, metricsOperationKey)
	return err
}

func (r *redisCache) Del(ctx Context, keys ...string) error {
	hasLogger, _ := ctx.getRedisLoggers()
	start := time.Now()
	req := r.client.Del(ctx.Context(), keys...)
	_, err := req.Result()
	end := time.Since(start)
	if hasLogger {
		r.fillLogFields(ctx, req, end, false, err)
	}
	r.fillMetrics(ctx, end, metricsOperationKey)
	return err
}

func (r *redisCache) Exists(ctx Context, keys ...string) (int64, error) {
	hasLogger, _ := ctx.getRedisLoggers()
	start := time.Now()
	req := r.client.Exists(ctx.Context(), keys...)
	val, err := req.Result()
	end := time.Since(start)
	if hasLogger {
		r.fillLogFields(ctx, req, end, false, err)
	}
	r.fillMetrics(ctx, end, metricsOperationKey)
	return val, err
}

func (r *redisCache) Incr(ctx Context, key string) (int64, error) {
	hasLogger, _ := ctx.getRedisLoggers()
	start := time.Now()
	req := r.client.Incr(ctx.Context(), key)
	val, err := req.Result()
	end := time.Since(start)
	if hasLogger {
		r.fillLogFields(ctx, req, end, false, err)
	}
	r.fillMetrics(ctx, end, metricsOperationKey)
	return val, err
}

func (r *redisCache) HSet(ctx Context, key string, values ...any) error {
	hasLogger, _ := ctx.getRedisLoggers()
	start := time.Now()
	req := r.client.HSet(ctx.Context(), key, values...)
	_, err := req.Result()
	end := time.Since(start)
	if hasLogger {
		r.fillLogFields(ctx, req, end, false, err)
	}
	r.fillMetrics(ctx, end, metricsOperationHash)
	return err
}

func (r *redisCache) HDel(ctx Context, key string, fields ...string) error {
	hasLogger, _ := ctx.getRedisLoggers()
	start := time.Now()
	req := r.client.HDel(ctx.Context(), key, fields...)
	_, err := req.Result()
	end := time.Since(start)
	if hasLogger {
		r.fillLogFields(ctx, req, end, false, err)
	}
	r.fillMetrics(ctx, end, metricsOperationHash)
	return err
}

func (r *redisCache) HGetAll(ctx Context, key string) (map[string]string, error) {
	hasLogger, _ := ctx.getRedisLoggers()
	start := time.Now()
	req := r.client.HGetAll(ctx.Context(), key)
	val, err := req.Result()
	end := time.Since(start)
	if hasLogger {
		r.fillLogFields(ctx, req, end, err == nil && len(val) == 0, err)
	}
	r.fillMetrics(ctx, end, metricsOperationHash)
	return val, err
}

func (r *redisCache) SAdd(ctx Context, key string, members ...any) (int64, error) {
	hasLogger, _ := ctx.getRedisLoggers()
	start := time.Now()
	req := r.client.SAdd(ctx.Context(), key, members...)
	val, err := req.Result()
	end := time.Since(start)
	if hasLogger {
		r.fillLogFields(ctx, req, end, false, err)
	}
	r.fillMetrics(ctx, end, metricsOperationSet)
	return val, err
}

func (r *redisCache) SRem(ctx Context, key string, members ...any) (int64, error) {
	hasLogger, _ := ctx.getRedisLoggers()
	start := time.Now()
	req := r.client.SRem(ctx.Context(), key, members...)
	val, err := req.Result()
	end := time.Since(start)
	if hasLogger {
		r.fillLogFields(ctx, req, end, false, err)
	}
	r.fillMetrics(ctx, end, metricsOperationSet)
	return val, err
}

func (r *redisCache) SMembers(ctx Context, key string) ([]string, error) {
	hasLogger, _ := ctx.getRedisLoggers()
	start := time.Now()
	req := r.client.SMembers(ctx.Context(), key)
	val, err := req.Result()
	end := time.Since(start)
	if hasLogger {
		r.fillLogFields(ctx, req, end, false, err)
	}
	r.fillMetrics(ctx, end, metricsOperationSet)
	return val, err
}

func (r *redisCache) SCard(ctx Context, key string) (int64, error) {
	hasLogger, _ := ctx.getRedisLoggers()
	start := time.Now()
	req := r.client.SCard(ctx.Context(), key)
	val, err := req.Result()
	end := time.Since(start)
	if hasLogger {
		r.fillLogFields(ctx, req, end, false, err)
	}
	r.fillMetrics(ctx, end, metricsOperationSet)
	return val, err
}

func (r *redisCache) FlushDB(ctx Context) error {
	hasLogger, _ := ctx.getRedisLoggers()
	start := time.Now()
	req := r.client.FlushDB(ctx.Context())
	_, err := req.Result()
	end := time.Since(start)
	if hasLogger {
		r.fillLogFields(ctx, req, end, false, err)
	}
	r.fillMetrics(ctx, end, metricsOperationOther)
	return err
}

func (r *redisCache) PipeLine(ctx Context) *RedisPipeLine {
	return &RedisPipeLine{ctx: ctx, pool: r.config.GetCode(), r: r, pipeLine: r.client.Pipeline()}
}

func (r *redisCache) GetCode() string {
	return r.config.GetCode()
}

func (r *redisCache) Client() *redis.Client {
	return r.client
}

func (r *redisCache) fillLogFields(ctx Context, req redis.Cmder, duration time.Duration, cacheMiss bool, err error) {
	_, loggers := ctx.getRedisLoggers()
	fillLogFields(ctx, loggers, r.config.GetCode(), sourceRedis, req.Name(), formatRedisCommandLog(req), &duration, cacheMiss, err)
}

func (r *redisCache) fillMetrics(ctx Context, end time.Duration, operation string) {
	metrics, hasMetrics := ctx.Engine().Registry().getMetricsRegistry()
	if hasMetrics {
		metrics.queriesRedis.WithLabelValues(operation, r.config.GetCode()).Observe(end.Seconds())
	}
}

func formatRedisCommandLog(req redis.Cmder) string {
	s := req.String()
	if pos := strings.LastIndex(s, ":"); pos > 0 {
		return s[:pos]
	}
	return s
}
