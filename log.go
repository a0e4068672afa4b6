package datamapper

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	sourceDB         = "db"
	sourceRedis      = "redis"
	sourceKV         = "kv"
	sourceUnitOfWork = "unit_of_work"
)

type LogHandler interface {
	Handle(ctx Context, log map[string]any)
}

// NewLogger builds the zap logger used by the default query logger.
// Mode "prod" or "production" selects JSON output.
func NewLogger(mode string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	return cfg.Build()
}

type zapLogHandler struct {
	logger *zap.SugaredLogger
}

func NewZapLogHandler(logger *zap.Logger) LogHandler {
	return &zapLogHandler{logger: logger.Sugar()}
}

func (h *zapLogHandler) Handle(_ Context, log map[string]any) {
	keysAndValues := make([]any, 0, len(log)*2)
	for _, key := range []string{"source", "pool", "operation", "query", "microseconds", "miss", "meta", "error"} {
		if value, has := log[key]; has {
			keysAndValues = append(keysAndValues, key, value)
		}
	}
	if _, failed := log["error"]; failed {
		h.logger.Errorw("datamapper", keysAndValues...)
		return
	}
	h.logger.Debugw("datamapper", keysAndValues...)
}

func fillLogFields(ctx Context, handlers []LogHandler, pool, source, operation, query string, duration *time.Duration, miss bool, err error) {
	log := map[string]any{
		"operation": operation,
		"query":     query,
		"pool":      pool,
		"source":    source,
	}
	if duration != nil {
		log["microseconds"] = duration.Microseconds()
	}
	if miss {
		log["miss"] = "TRUE"
	}
	if meta := ctx.GetMetaData(); len(meta) > 0 {
		log["meta"] = meta
	}
	if err != nil {
		log["error"] = err.Error()
	}
	for _, handler := range handlers {
		handler.Handle(ctx, log)
	}
}
