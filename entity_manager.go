package datamapper

import (
	"context"
	"hash/maphash"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v2"
)

type snapshot struct {
	entity  *Entity
	memento *Memento
}

type stagedChange struct {
	entity    *Entity
	operation uowOperation
}

// EntityManager coordinates lookups, change tracking and the write-back of
// one unit of work. It observes every entity it returns or queues.
type EntityManager struct {
	context                context.Context
	engine                 *engineImplementation
	identityMap            *IdentityMap
	unitOfWork             *UnitOfWork
	snapshots              *xsync.MapOf[uint64, *snapshot]
	staged                 []stagedChange
	transactions           map[string]DBTransaction
	persisting             bool
	silent                 atomic.Bool
	autoPersistence        atomic.Bool
	queryLoggersDB         []LogHandler
	queryLoggersRedis      []LogHandler
	queryLoggersKV         []LogHandler
	queryLoggersUnitOfWork []LogHandler
	hasDBLogger            bool
	hasRedisLogger         bool
	hasKVLogger            bool
	hasUnitOfWorkLogger    bool
	meta                   Meta
	mutexFlush             sync.Mutex
	mutexData              sync.Mutex
}

func newEntityManager(parent context.Context, engine *engineImplementation) *EntityManager {
	m := &EntityManager{
		context:     parent,
		engine:      engine,
		identityMap: NewIdentityMap(),
		unitOfWork:  NewUnitOfWork(),
		snapshots: xsync.NewTypedMapOf[uint64, *snapshot](func(seed maphash.Seed, u uint64) uint64 {
			return u
		}),
	}
	autoPersistence := true
	if value, is := engine.Option(OptionAutoPersistence).(bool); is {
		autoPersistence = value
	}
	m.autoPersistence.Store(autoPersistence)
	return m
}

func (m *EntityManager) IdentityMap() *IdentityMap {
	return m.identityMap
}

func (m *EntityManager) UnitOfWork() *UnitOfWork {
	return m.unitOfWork
}

func (m *EntityManager) SetAutoPersistence(enabled bool) {
	m.autoPersistence.Store(enabled)
}

// Snapshot returns the state e is restored to on rollback.
func (m *EntityManager) Snapshot(e *Entity) (*Memento, bool) {
	s, has := m.snapshots.Load(e.token)
	if !has {
		return nil, false
	}
	return s.memento, true
}

func (m *EntityManager) mapperOf(entityType string) (Mapper, error) {
	schema, err := m.engine.registry.getEntitySchema(entityType)
	if err != nil {
		return nil, err
	}
	return schema.GetMapper()
}

func (m *EntityManager) sqlMapperOf(entityType string) (SQLMapper, error) {
	mapper, err := m.mapperOf(entityType)
	if err != nil {
		return nil, err
	}
	sqlMapper, is := mapper.(SQLMapper)
	if !is {
		return nil, errors.Wrapf(ErrInterfaceMismatch, "mapper of entity '%s' does not run SQL queries", entityType)
	}
	return sqlMapper, nil
}

// attach returns the canonical instance of e and starts observing it.
func (m *EntityManager) attach(e *Entity) (*Entity, error) {
	canonical, err := m.identityMap.Get(e)
	if err != nil {
		return nil, err
	}
	m.track(canonical)
	return canonical, nil
}

func (m *EntityManager) attachAll(collection *Collection) (*Collection, error) {
	result, err := NewCollection(collection.Type())
	if err != nil {
		return nil, err
	}
	for _, e := range collection.Entities() {
		canonical, err := m.attach(e)
		if err != nil {
			return nil, err
		}
		if result, err = result.WithEntity(canonical); err != nil {
			return nil, err
		}
	}
	return result.WithMeta(collection.Meta()), nil
}

func (m *EntityManager) track(e *Entity) {
	m.snapshots.LoadOrCompute(e.token, func() *snapshot {
		return &snapshot{entity: e, memento: e.lastState}
	})
	e.manager = m
	e.Attach(m)
}

func (m *EntityManager) FindByID(entityType, id string) (*Entity, error) {
	mapper, err := m.mapperOf(entityType)
	if err != nil {
		return nil, err
	}
	e, err := mapper.FindByID(m, id)
	if err != nil || e == nil {
		return nil, err
	}
	return m.attach(e)
}

func (m *EntityManager) FindOne(entityType string, criteria *Criteria) (*Entity, error) {
	mapper, err := m.mapperOf(entityType)
	if err != nil {
		return nil, err
	}
	e, err := mapper.FindOne(m, criteria)
	if err != nil || e == nil {
		return nil, err
	}
	return m.attach(e)
}

// FindAll returns canonical instances; a record matched twice appears once.
func (m *EntityManager) FindAll(entityType string, criteria *Criteria) (*Collection, error) {
	mapper, err := m.mapperOf(entityType)
	if err != nil {
		return nil, err
	}
	collection, err := mapper.FindAll(m, criteria)
	if err != nil {
		return nil, err
	}
	return m.attachAll(collection)
}

func (m *EntityManager) FindOneBySQL(entityType, query string, args ...any) (*Entity, error) {
	mapper, err := m.sqlMapperOf(entityType)
	if err != nil {
		return nil, err
	}
	e, err := mapper.FindOneBySQL(m, query, args...)
	if err != nil || e == nil {
		return nil, err
	}
	return m.attach(e)
}

func (m *EntityManager) FindAllBySQL(entityType, query string, args ...any) (*Collection, error) {
	mapper, err := m.sqlMapperOf(entityType)
	if err != nil {
		return nil, err
	}
	collection, err := mapper.FindAllBySQL(m, query, args...)
	if err != nil {
		return nil, err
	}
	return m.attachAll(collection)
}

func (m *EntityManager) Count(entityType string, criteria *Criteria) (int, error) {
	mapper, err := m.mapperOf(entityType)
	if err != nil {
		return 0, err
	}
	return mapper.Count(m, criteria)
}

// NewEntity builds an entity of entityType populated with data and observed
// by this manager. Data carrying an id yields the canonical CLEAN instance.
func (m *EntityManager) NewEntity(entityType string, data map[string]any) (*Entity, error) {
	schema, err := m.engine.registry.getEntitySchema(entityType)
	if err != nil {
		return nil, err
	}
	e := schema.NewEntity()
	if len(data) > 0 {
		if e, err = e.WithData(data); err != nil {
			return nil, err
		}
	}
	if e.ID() != "" {
		return m.attach(e)
	}
	e.manager = m
	e.Attach(m)
	return e, nil
}

// Save queues e for writing on the next Persist. The returned chain already
// holds the write and the bookkeeping steps; callers may append more.
func (m *EntityManager) Save(e *Entity) (*Thenable[*Entity], error) {
	mapper, err := m.mapperOf(e.Type())
	if err != nil {
		return nil, err
	}
	thenable, err := m.unitOfWork.Save(e)
	if err != nil {
		return nil, err
	}
	m.track(e)
	m.logUnitOfWork("SAVE", e, nil, nil)
	thenable.Then(func(e *Entity) (*Entity, error) {
		saved, err := mapper.Save(m, e)
		if err != nil || !saved {
			return e, &PersistenceError{Operation: string(uowSave), Entity: e.Type(), ID: e.ID(), Err: err}
		}
		return e, nil
	}).Then(func(e *Entity) (*Entity, error) {
		if e.Flag() != FlagClean {
			if err := e.markClean(); err != nil {
				return e, err
			}
		}
		m.stage(e, uowSave)
		return e, nil
	})
	return thenable, nil
}

// Remove queues e for removal on the next Persist.
func (m *EntityManager) Remove(e *Entity) (*Thenable[*Entity], error) {
	mapper, err := m.mapperOf(e.Type())
	if err != nil {
		return nil, err
	}
	thenable, err := m.unitOfWork.Remove(e)
	if err != nil {
		return nil, err
	}
	m.track(e)
	m.logUnitOfWork("REMOVE", e, nil, nil)
	thenable.Then(func(e *Entity) (*Entity, error) {
		removed, err := mapper.Remove(m, e)
		if err != nil || !removed {
			return e, &PersistenceError{Operation: string(uowRemove), Entity: e.Type(), ID: e.ID(), Err: err}
		}
		return e, nil
	}).Then(func(e *Entity) (*Entity, error) {
		m.stage(e, uowRemove)
		return e, nil
	})
	return thenable, nil
}

func (m *EntityManager) stage(e *Entity, operation uowOperation) {
	m.mutexData.Lock()
	defer m.mutexData.Unlock()
	m.staged = append(m.staged, stagedChange{entity: e, operation: operation})
}

func (m *EntityManager) takeStaged() []stagedChange {
	m.mutexData.Lock()
	defer m.mutexData.Unlock()
	staged := m.staged
	m.staged = nil
	return staged
}

// Persist runs every queued write. SQL writes of one pool share a
// transaction committed only when all writes succeeded. On failure every
// tracked entity is restored from its snapshot and the first error is
// returned.
func (m *EntityManager) Persist() error {
	m.mutexFlush.Lock()
	defer m.mutexFlush.Unlock()
	start := time.Now()
	m.setPersisting(true)
	err := m.unitOfWork.Commit()
	if err == nil {
		err = m.commitTransactions()
	}
	m.setPersisting(false)
	if err != nil {
		m.rollbackTransactions()
		m.takeStaged()
		end := time.Since(start)
		m.logUnitOfWork("PERSIST", nil, &end, err)
		m.fillPersistMetrics(end, "error")
		if rollbackErr := m.rollBack(); rollbackErr != nil {
			m.logUnitOfWork("ROLLBACK", nil, nil, rollbackErr)
		}
		return err
	}
	for _, change := range m.takeStaged() {
		e := change.entity
		switch change.operation {
		case uowSave:
			m.snapshots.Store(e.token, &snapshot{entity: e, memento: e.CreateMemento()})
			if e.ID() != "" {
				_, _ = m.identityMap.Get(e)
			}
		case uowRemove:
			m.snapshots.Delete(e.token)
			m.identityMap.Remove(e)
			e.Detach(m)
			e.manager = nil
		}
	}
	end := time.Since(start)
	m.logUnitOfWork("PERSIST", nil, &end, nil)
	m.fillPersistMetrics(end, "success")
	return nil
}

func (m *EntityManager) setPersisting(persisting bool) {
	m.mutexData.Lock()
	defer m.mutexData.Unlock()
	m.persisting = persisting
}

func (m *EntityManager) sortedTransactions() []DBTransaction {
	m.mutexData.Lock()
	defer m.mutexData.Unlock()
	pools := make([]string, 0, len(m.transactions))
	for pool := range m.transactions {
		pools = append(pools, pool)
	}
	sort.Strings(pools)
	result := make([]DBTransaction, len(pools))
	for i, pool := range pools {
		result[i] = m.transactions[pool]
	}
	return result
}

func (m *EntityManager) commitTransactions() error {
	for _, tx := range m.sortedTransactions() {
		if err := tx.Commit(m); err != nil {
			return err
		}
	}
	m.mutexData.Lock()
	m.transactions = nil
	m.mutexData.Unlock()
	return nil
}

// rollbackTransactions ignores errors: the original failure is reported.
func (m *EntityManager) rollbackTransactions() {
	for _, tx := range m.sortedTransactions() {
		_ = tx.Rollback(m)
	}
	m.mutexData.Lock()
	m.transactions = nil
	m.mutexData.Unlock()
}

// dbFor returns the pool itself, or during Persist the transaction opened
// on it for this batch.
func (m *EntityManager) dbFor(pool string) (DBBase, error) {
	db := m.engine.DB(pool)
	if db == nil {
		return nil, errors.Errorf("sql pool '%s' is not registered", pool)
	}
	m.mutexData.Lock()
	defer m.mutexData.Unlock()
	if !m.persisting {
		return db, nil
	}
	if tx, has := m.transactions[pool]; has {
		return tx, nil
	}
	tx, err := db.Begin(m)
	if err != nil {
		return nil, err
	}
	if m.transactions == nil {
		m.transactions = make(map[string]DBTransaction)
	}
	m.transactions[pool] = tx
	return tx, nil
}

// RollBack restores every tracked entity to its snapshot and empties the
// unit of work.
func (m *EntityManager) RollBack() error {
	m.mutexFlush.Lock()
	defer m.mutexFlush.Unlock()
	return m.rollBack()
}

func (m *EntityManager) rollBack() error {
	m.silent.Store(true)
	defer m.silent.Store(false)
	metrics, hasMetrics := m.engine.registry.getMetricsRegistry()
	if hasMetrics {
		metrics.rollbacks.WithLabelValues(m.getMetricsSourceTag()).Inc()
	}
	var err error
	m.snapshots.Range(func(_ uint64, s *snapshot) bool {
		if restoreErr := s.entity.SetMemento(s.memento); restoreErr != nil {
			if err == nil {
				err = restoreErr
			}
			return true
		}
		s.entity.saveState()
		return true
	})
	if queueErr := m.unitOfWork.RollBack(); err == nil {
		err = queueErr
	}
	m.logUnitOfWork("ROLLBACK", nil, nil, err)
	return err
}

// Update queues a NEW or DIRTY entity for save when auto-persistence is on.
func (m *EntityManager) Update(subject Subject) error {
	if m.silent.Load() {
		return nil
	}
	e, is := subject.(*Entity)
	if !is {
		return errors.Wrapf(ErrInterfaceMismatch, "entity manager can't observe %T", subject)
	}
	if !m.autoPersistence.Load() || m.unitOfWork.Contains(e) {
		return nil
	}
	if flag := e.Flag(); flag == FlagNew || flag == FlagDirty {
		_, err := m.Save(e)
		return err
	}
	return nil
}

// Detach stops tracking e. Queued entities can't be detached.
func (m *EntityManager) Detach(e *Entity) error {
	if m.unitOfWork.Contains(e) {
		return ErrAlreadyQueued
	}
	m.snapshots.Delete(e.token)
	m.identityMap.Remove(e)
	e.Detach(m)
	if e.manager == m {
		e.manager = nil
	}
	return nil
}

func (m *EntityManager) logUnitOfWork(operation string, e *Entity, duration *time.Duration, err error) {
	hasLogger, loggers := m.getUnitOfWorkLoggers()
	if !hasLogger {
		return
	}
	query := operation
	if e != nil {
		query += " " + e.Type()
		if e.ID() != "" {
			query += " [" + e.ID() + "]"
		}
	}
	fillLogFields(m, loggers, "", sourceUnitOfWork, operation, query, duration, false, err)
}

func (m *EntityManager) fillPersistMetrics(end time.Duration, status string) {
	metrics, hasMetrics := m.engine.registry.getMetricsRegistry()
	if hasMetrics {
		metrics.persist.WithLabelValues(status, m.getMetricsSourceTag()).Observe(end.Seconds())
	}
}
