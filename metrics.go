package datamapper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsMetaKey = "metrics_source"

type metricsRegistry struct {
	queriesDB    *prometheus.HistogramVec
	queriesRedis *prometheus.HistogramVec
	queriesKV    *prometheus.HistogramVec
	persist      *prometheus.HistogramVec
	rollbacks    *prometheus.CounterVec
}

func initMetricsRegistry(factory promauto.Factory) *metricsRegistry {
	reg := &metricsRegistry{}
	reg.queriesDB = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name: "datamapper_db_queries",
		Help: "Total number of DB queries executed",
	}, []string{"operation", "pool"})
	reg.queriesRedis = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name: "datamapper_redis_queries",
		Help: "Total number of Redis queries executed",
	}, []string{"operation", "pool"})
	reg.queriesKV = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name: "datamapper_kv_queries",
		Help: "Total number of key-value store queries executed",
	}, []string{"operation", "pool"})
	reg.persist = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name: "datamapper_persist",
		Help: "Duration of unit of work commits",
	}, []string{"status", "source"})
	reg.rollbacks = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "datamapper_rollbacks",
		Help: "Total number of entity manager rollbacks",
	}, []string{"source"})
	return reg
}
