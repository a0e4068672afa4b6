package datamapper

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisPipeLine struct {
	ctx      Context
	r        *redisCache
	pool     string
	pipeLine redis.Pipeliner
	commands int
}

func (rp *RedisPipeLine) Del(key ...string) {
	rp.commands++
	rp.pipeLine.Del(rp.ctx.Context(), key...)
}

func (rp *RedisPipeLine) SAdd(key string, members ...any) {
	rp.commands++
	rp.pipeLine.SAdd(rp.ctx.Context(), key, members...)
}

func (rp *RedisPipeLine) SRem(key string, members ...any) *PipeLineInt {
	rp.commands++
	return &PipeLineInt{p: rp, cmd: rp.pipeLine.SRem(rp.ctx.Context(), key, members...)}
}

func (rp *RedisPipeLine) HSet(key string, values ...any) {
	rp.commands++
	rp.pipeLine.HSet(rp.ctx.Context(), key, values...)
}

func (rp *RedisPipeLine) HDel(key string, fields ...string) {
	rp.commands++
	rp.pipeLine.HDel(rp.ctx.Context(), key, fields...)
}

func (rp *RedisPipeLine) HGetAll(key string) *PipeLineHash {
	rp.commands++
	return &PipeLineHash{p: rp, cmd: rp.pipeLine.HGetAll(rp.ctx.Context(), key)}
}

func (rp *RedisPipeLine) Exec(ctx Context) (response []redis.Cmder, err error) {
	if rp.commands == 0 {
		return make([]redis.Cmder, 0), nil
	}
	hasLog, loggers := ctx.getRedisLoggers()
	start := time.Now()
	res, err := rp.pipeLine.Exec(ctx.Context())
	end := time.Since(start)
	rp.pipeLine = rp.r.client.Pipeline()
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	if hasLog {
		query := make([]string, len(res))
		for i, v := range res {
			query[i] = v.String()
			if v.Err() != nil && !errors.Is(v.Err(), redis.Nil) {
				query[i] += fmt.Sprintf(" [%s]", v.Err())
			}
		}
		fillLogFields(ctx, loggers, rp.pool, sourceRedis, "PIPELINE EXEC", strings.Join(query, "\n"), &end, false, err)
	}
	rp.r.fillMetrics(ctx, end, metricsOperationPipeline)
	rp.commands = 0
	return res, err
}

type PipeLineInt struct {
	p   *RedisPipeLine
	cmd *redis.IntCmd
}

func (c *PipeLineInt) Result() (int64, error) {
	return c.cmd.Result()
}

type PipeLineHash struct {
	p   *RedisPipeLine
	cmd *redis.MapStringStringCmd
}

func (c *PipeLineHash) Result() (map[string]string, error) {
	return c.cmd.Result()
}
