package datamapper

import (
	"context"
)

type Meta map[string]string

func (m Meta) Get(key string) string {
	return m[key]
}

// Context is passed to every pool and mapper call. It carries the request
// context, query loggers and metadata, and decides which SQL handle a
// mapper writes through.
type Context interface {
	Context() context.Context
	Engine() Engine
	RegisterQueryLogger(handler LogHandler, db, redis, kv, unitOfWork bool)
	EnableQueryDebug()
	EnableQueryDebugCustom(db, redis, kv, unitOfWork bool)
	SetMetaData(key, value string)
	GetMetaData() Meta
	getDBLoggers() (bool, []LogHandler)
	getRedisLoggers() (bool, []LogHandler)
	getKVLoggers() (bool, []LogHandler)
	getUnitOfWorkLoggers() (bool, []LogHandler)
	getMetricsSourceTag() string
	dbFor(pool string) (DBBase, error)
}

func (m *EntityManager) Context() context.Context {
	return m.context
}

func (m *EntityManager) Engine() Engine {
	return m.engine
}

func (m *EntityManager) RegisterQueryLogger(handler LogHandler, db, redis, kv, unitOfWork bool) {
	m.mutexData.Lock()
	defer m.mutexData.Unlock()
	if db {
		m.queryLoggersDB = append(m.queryLoggersDB, handler)
		m.hasDBLogger = true
	}
	if redis {
		m.queryLoggersRedis = append(m.queryLoggersRedis, handler)
		m.hasRedisLogger = true
	}
	if kv {
		m.queryLoggersKV = append(m.queryLoggersKV, handler)
		m.hasKVLogger = true
	}
	if unitOfWork {
		m.queryLoggersUnitOfWork = append(m.queryLoggersUnitOfWork, handler)
		m.hasUnitOfWorkLogger = true
	}
}

// EnableQueryDebug sends every source to the engine's zap logger.
func (m *EntityManager) EnableQueryDebug() {
	m.EnableQueryDebugCustom(true, true, true, true)
}

func (m *EntityManager) EnableQueryDebugCustom(db, redis, kv, unitOfWork bool) {
	m.RegisterQueryLogger(m.engine.registry.getDefaultQueryLogger(), db, redis, kv, unitOfWork)
}

func (m *EntityManager) SetMetaData(key, value string) {
	m.mutexData.Lock()
	defer m.mutexData.Unlock()
	if m.meta == nil {
		m.meta = Meta{key: value}
		return
	}
	m.meta[key] = value
}

func (m *EntityManager) GetMetaData() Meta {
	return m.meta
}

func (m *EntityManager) getDBLoggers() (bool, []LogHandler) {
	if m.hasDBLogger {
		return true, m.queryLoggersDB
	}
	return false, nil
}

func (m *EntityManager) getRedisLoggers() (bool, []LogHandler) {
	if m.hasRedisLogger {
		return true, m.queryLoggersRedis
	}
	return false, nil
}

func (m *EntityManager) getKVLoggers() (bool, []LogHandler) {
	if m.hasKVLogger {
		return true, m.queryLoggersKV
	}
	return false, nil
}

func (m *EntityManager) getUnitOfWorkLoggers() (bool, []LogHandler) {
	if m.hasUnitOfWorkLogger {
		return true, m.queryLoggersUnitOfWork
	}
	return false, nil
}

func (m *EntityManager) getMetricsSourceTag() string {
	userTag, has := m.meta[MetricsMetaKey]
	if has {
		return userTag
	}
	return "default"
}
