package datamapper

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

const DefaultPoolCode = "default"

type EngineRegistry interface {
	EntitySchema(name string) EntitySchema
	DBPools() map[string]DB
	RedisPools() map[string]RedisCache
	KVPools() map[string]KVStore
	Entities() []EntitySchema
	Option(key string) any
	getDefaultQueryLogger() LogHandler
	getMetricsRegistry() (*metricsRegistry, bool)
}

type EngineSetter interface {
	SetOption(key string, value any)
}

type Engine interface {
	NewEntityManager(parent context.Context) *EntityManager
	EntityManager() (*EntityManager, error)
	DB(code string) DB
	Redis(code string) RedisCache
	KV(code string) KVStore
	Registry() EngineRegistry
	Option(key string) any
	Close() error
}

type engineRegistryImplementation struct {
	engine             *engineImplementation
	entitySchemaList   []EntitySchema
	entitySchemas      map[string]*entitySchema
	defaultQueryLogger LogHandler
	options            map[string]any
	hasMetrics         bool
	metricsRegistry    *metricsRegistry
}

type engineImplementation struct {
	registry      *engineRegistryImplementation
	dbServers     map[string]DB
	redisServers  map[string]RedisCache
	kvServers     map[string]KVStore
	options       map[string]any
	mappers       *mappersMap
	entityManager atomic.Pointer[EntityManager]
}

// NewEntityManager creates a manager bound to parent and makes it the one
// returned by EntityManager.
func (e *engineImplementation) NewEntityManager(parent context.Context) *EntityManager {
	m := newEntityManager(parent, e)
	e.entityManager.Store(m)
	return m
}

// EntityManager returns the most recently created manager.
func (e *engineImplementation) EntityManager() (*EntityManager, error) {
	m := e.entityManager.Load()
	if m == nil {
		return nil, ErrNotInitialized
	}
	return m, nil
}

func (e *engineImplementation) Registry() EngineRegistry {
	return e.registry
}

func (e *engineRegistryImplementation) getMetricsRegistry() (*metricsRegistry, bool) {
	return e.metricsRegistry, e.hasMetrics
}

// Option returns a value set on the engine, falling back to registry options.
func (e *engineImplementation) Option(key string) any {
	if value, has := e.options[key]; has {
		return value
	}
	return e.registry.Option(key)
}

func (e *engineImplementation) SetOption(key string, value any) {
	e.options[key] = value
}

func (e *engineImplementation) DB(code string) DB {
	return e.dbServers[code]
}

func (e *engineImplementation) Redis(code string) RedisCache {
	return e.redisServers[code]
}

func (e *engineImplementation) KV(code string) KVStore {
	return e.kvServers[code]
}

// Close releases every pool. The first error is returned.
func (e *engineImplementation) Close() error {
	var result error
	keep := func(err error) {
		if err != nil && result == nil {
			result = err
		}
	}
	for code, db := range e.dbServers {
		keep(errors.Wrapf(db.Close(), "sql pool '%s'", code))
	}
	for code, r := range e.redisServers {
		keep(errors.Wrapf(r.Client().Close(), "redis pool '%s'", code))
	}
	for code, store := range e.kvServers {
		keep(errors.Wrapf(store.Close(), "kv pool '%s'", code))
	}
	return result
}

func (er *engineRegistryImplementation) RedisPools() map[string]RedisCache {
	return er.engine.redisServers
}

func (er *engineRegistryImplementation) DBPools() map[string]DB {
	return er.engine.dbServers
}

func (er *engineRegistryImplementation) KVPools() map[string]KVStore {
	return er.engine.kvServers
}

// EntitySchema returns nil when name is not registered.
func (er *engineRegistryImplementation) EntitySchema(name string) EntitySchema {
	schema, has := er.entitySchemas[name]
	if !has {
		return nil
	}
	return schema
}

func (er *engineRegistryImplementation) getEntitySchema(name string) (*entitySchema, error) {
	schema, has := er.entitySchemas[name]
	if !has {
		return nil, errors.Errorf("entity '%s' is not registered", name)
	}
	return schema, nil
}

func (er *engineRegistryImplementation) Entities() []EntitySchema {
	return er.entitySchemaList
}

func (er *engineRegistryImplementation) Option(key string) any {
	return er.options[key]
}

func (er *engineRegistryImplementation) getDefaultQueryLogger() LogHandler {
	return er.defaultQueryLogger
}
