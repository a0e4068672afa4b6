package datamapper

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type failingMapper struct {
	Mapper
	saveErr   func(e *Entity) error
	removeErr error
}

func (f *failingMapper) Save(ctx Context, e *Entity) (bool, error) {
	if f.saveErr != nil {
		if err := f.saveErr(e); err != nil {
			return false, err
		}
	}
	return f.Mapper.Save(ctx, e)
}

func (f *failingMapper) Remove(ctx Context, e *Entity) (bool, error) {
	if f.removeErr != nil {
		return false, f.removeErr
	}
	return f.Mapper.Remove(ctx, e)
}

func bindFailingMapper(t *testing.T, registry Registry, entity string) *failingMapper {
	f := &failingMapper{}
	err := registry.BindMapper(entity, func(schema EntitySchema, engine Engine) (Mapper, error) {
		inner, err := NewMemoryMapper(schema, engine)
		f.Mapper = inner
		return f, err
	})
	assert.NoError(t, err)
	return f
}

func memoryUser() *EntityDefinition {
	return &EntityDefinition{Name: "user", Storage: StorageMemory}
}

func prepareMemory(t *testing.T, registry Registry, definitions ...*EntityDefinition) *EntityManager {
	registry.SetLogger(zap.NewNop())
	registry.RegisterEntity(definitions...)
	engine, err := registry.Validate()
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	t.Cleanup(func() {
		_ = engine.Close()
	})
	return engine.NewEntityManager(context.Background())
}

func seedMemory(t *testing.T, m *EntityManager, entityType, id string, row map[string]any) {
	mapper, err := m.mapperOf(entityType)
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	if f, is := mapper.(*failingMapper); is {
		mapper = f.Mapper
	}
	memory := mapper.(*memoryMapper)
	memory.mutex.Lock()
	defer memory.mutex.Unlock()
	memory.rows.Store(id, row)
	memory.order = append(memory.order, id)
}

func TestEntityManagerSaveNewEntity(t *testing.T) {
	m := prepareMemory(t, NewRegistry(), memoryUser())
	e, err := m.NewEntity("user", map[string]any{"name": "Alice"})
	assert.NoError(t, err)
	assert.Equal(t, FlagNew, e.Flag())
	assert.Equal(t, 0, m.UnitOfWork().Len())
	manager, err := e.Manager()
	assert.NoError(t, err)
	assert.Same(t, m, manager)

	thenable, err := m.Save(e)
	assert.NoError(t, err)
	seenID := ""
	thenable.Then(func(e *Entity) (*Entity, error) {
		seenID = e.ID()
		return e, nil
	})
	_, err = m.Save(e)
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Equal(t, 1, m.UnitOfWork().Len())

	assert.NoError(t, m.Persist())
	assert.NotEmpty(t, e.ID())
	assert.Equal(t, e.ID(), seenID)
	assert.Equal(t, FlagClean, e.Flag())
	assert.Equal(t, 0, m.UnitOfWork().Len())
	snapshot, has := m.Snapshot(e)
	assert.True(t, has)
	assert.Equal(t, FlagClean, snapshot.Flag())
	assert.True(t, m.IdentityMap().Has("user", e.ID()))

	found, err := m.FindByID("user", e.ID())
	assert.NoError(t, err)
	assert.Same(t, e, found)
	total, err := m.Count("user", nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, total)

	_, err = m.Save(e)
	assert.ErrorIs(t, err, ErrCleanEntity)
}

func TestEntityManagerRollBackOnFailedPersist(t *testing.T) {
	registry := NewRegistry()
	failing := bindFailingMapper(t, registry, "user")
	m := prepareMemory(t, registry, memoryUser())
	seedMemory(t, m, "user", "42", map[string]any{"name": "Alice"})

	e, err := m.FindByID("user", "42")
	assert.NoError(t, err)
	assert.Equal(t, FlagClean, e.Flag())

	storageErr := errors.New("storage unavailable")
	failing.saveErr = func(*Entity) error {
		return storageErr
	}
	assert.NoError(t, e.Set("name", "Bob"))
	assert.Equal(t, FlagDirty, e.Flag())
	assert.True(t, m.UnitOfWork().Contains(e))

	err = m.Persist()
	assert.ErrorIs(t, err, storageErr)
	var persistErr *PersistenceError
	if assert.ErrorAs(t, err, &persistErr) {
		assert.Equal(t, "save", persistErr.Operation)
		assert.Equal(t, "user", persistErr.Entity)
		assert.Equal(t, "42", persistErr.ID)
	}
	assert.EqualError(t, err, "save of entity 'user' [42] failed: storage unavailable")

	assert.Equal(t, FlagClean, e.Flag())
	assert.Equal(t, "Alice", e.MustGet("name"))
	assert.Empty(t, e.DirtyAttributes())
	assert.Equal(t, 0, m.UnitOfWork().Len())

	stored, err := failing.Mapper.FindByID(m, "42")
	assert.NoError(t, err)
	assert.Equal(t, "Alice", stored.MustGet("name"))

	failing.saveErr = nil
	assert.NoError(t, e.Set("name", "Carol"))
	assert.NoError(t, m.Persist())
	stored, err = failing.Mapper.FindByID(m, "42")
	assert.NoError(t, err)
	assert.Equal(t, "Carol", stored.MustGet("name"))
}

func TestEntityManagerRollBackRestoresEveryTrackedEntity(t *testing.T) {
	registry := NewRegistry()
	failing := bindFailingMapper(t, registry, "user")
	m := prepareMemory(t, registry, memoryUser())
	seedMemory(t, m, "user", "1", map[string]any{"name": "Alice"})
	seedMemory(t, m, "user", "2", map[string]any{"name": "Bob"})

	alice, err := m.FindByID("user", "1")
	assert.NoError(t, err)
	bob, err := m.FindByID("user", "2")
	assert.NoError(t, err)
	created, err := m.NewEntity("user", map[string]any{"name": "Carol"})
	assert.NoError(t, err)
	_, err = m.Save(created)
	assert.NoError(t, err)

	failing.saveErr = func(e *Entity) error {
		if e.ID() == "2" {
			return errors.New("conflict")
		}
		return nil
	}
	assert.NoError(t, alice.Set("name", "Alice 2"))
	assert.NoError(t, bob.Set("name", "Bob 2"))
	assert.Equal(t, 3, m.UnitOfWork().Len())

	assert.Error(t, m.Persist())
	assert.Equal(t, "Alice", alice.MustGet("name"))
	assert.Equal(t, FlagClean, alice.Flag())
	assert.Equal(t, "Bob", bob.MustGet("name"))
	assert.Equal(t, FlagClean, bob.Flag())
	assert.Equal(t, FlagNew, created.Flag())
	assert.Equal(t, "", created.ID())
	assert.Equal(t, "Carol", created.MustGet("name"))
	assert.Equal(t, 0, m.UnitOfWork().Len())
}

func TestEntityManagerRollBackContinuesAfterRestoreError(t *testing.T) {
	m := prepareMemory(t, NewRegistry(), memoryUser())
	m.SetAutoPersistence(false)
	seedMemory(t, m, "user", "1", map[string]any{"name": "Alice"})
	seedMemory(t, m, "user", "2", map[string]any{"name": "Bob"})
	alice, err := m.FindByID("user", "1")
	assert.NoError(t, err)
	bob, err := m.FindByID("user", "2")
	assert.NoError(t, err)
	assert.NoError(t, alice.Set("name", "Alice 2"))
	assert.NoError(t, bob.Set("name", "Bob 2"))
	var calls []string
	alice.Attach(&recordingObserver{name: "alice", calls: &calls, err: errors.New("observer failed")})

	assert.EqualError(t, m.RollBack(), "observer failed")
	assert.Equal(t, "Alice", alice.MustGet("name"))
	assert.Equal(t, FlagClean, alice.Flag())
	assert.Equal(t, "Bob", bob.MustGet("name"))
	assert.Equal(t, FlagClean, bob.Flag())
}

func TestEntityManagerFindAllReturnsCanonicalInstances(t *testing.T) {
	m := prepareMemory(t, NewRegistry(), memoryUser())
	seedMemory(t, m, "user", "1", map[string]any{"name": "Alice", "age": 30})
	seedMemory(t, m, "user", "2", map[string]any{"name": "Bob", "age": 17})

	alice, err := m.FindByID("user", "1")
	assert.NoError(t, err)
	all, err := m.FindAll("user", nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, all.Len())
	first, _ := all.At(0)
	assert.Same(t, alice, first)

	again, err := m.FindAll("user", nil)
	assert.NoError(t, err)
	second, _ := all.At(1)
	secondAgain, _ := again.At(1)
	assert.Same(t, second, secondAgain)

	adults, err := m.FindAll("user", NewCriteria(map[string]any{"age[>=]": 18}))
	assert.NoError(t, err)
	assert.Equal(t, 1, adults.Len())
	one, err := m.FindOne("user", NewCriteria(map[string]any{"name[~]": "b%"}))
	assert.NoError(t, err)
	assert.Same(t, second, one)
	none, err := m.FindOne("user", NewCriteria(map[string]any{"name": "Dave"}))
	assert.NoError(t, err)
	assert.Nil(t, none)
	missing, err := m.FindByID("user", "3")
	assert.NoError(t, err)
	assert.Nil(t, missing)
	total, err := m.Count("user", NewCriteria(map[string]any{"age[<]": 18}))
	assert.NoError(t, err)
	assert.Equal(t, 1, total)

	byID, err := m.NewEntity("user", map[string]any{"id": "1", "name": "ignored"})
	assert.NoError(t, err)
	assert.Same(t, alice, byID)
}

func TestEntityManagerRemove(t *testing.T) {
	registry := NewRegistry()
	failing := bindFailingMapper(t, registry, "user")
	m := prepareMemory(t, registry, memoryUser())
	seedMemory(t, m, "user", "1", map[string]any{"name": "Alice"})
	seedMemory(t, m, "user", "2", map[string]any{"name": "Bob"})

	alice, err := m.FindByID("user", "1")
	assert.NoError(t, err)
	failing.removeErr = errors.New("locked")
	_, err = m.Remove(alice)
	assert.NoError(t, err)
	assert.EqualError(t, m.Persist(), "remove of entity 'user' [1] failed: locked")
	assert.True(t, m.IdentityMap().Has("user", "1"))
	_, has := m.Snapshot(alice)
	assert.True(t, has)

	failing.removeErr = nil
	_, err = m.Remove(alice)
	assert.NoError(t, err)
	assert.NoError(t, m.Persist())
	assert.False(t, m.IdentityMap().Has("user", "1"))
	_, has = m.Snapshot(alice)
	assert.False(t, has)
	_, err = alice.Manager()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.NoError(t, alice.Set("name", "ghost"))
	assert.Equal(t, 0, m.UnitOfWork().Len())

	found, err := m.FindByID("user", "1")
	assert.NoError(t, err)
	assert.Nil(t, found)
	total, err := m.Count("user", nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, total)

	_, err = m.Remove(schemaOf(t, m, "user").NewEntity())
	assert.NoError(t, err)
	err = m.Persist()
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func schemaOf(t *testing.T, m *EntityManager, entityType string) EntitySchema {
	schema := m.Engine().Registry().EntitySchema(entityType)
	if !assert.NotNil(t, schema) {
		t.FailNow()
	}
	return schema
}

func TestEntityManagerRollBackAndDetach(t *testing.T) {
	m := prepareMemory(t, NewRegistry(), memoryUser())
	seedMemory(t, m, "user", "1", map[string]any{"name": "Alice"})
	e, err := m.FindByID("user", "1")
	assert.NoError(t, err)

	assert.NoError(t, e.Set("name", "Bob"))
	assert.ErrorIs(t, m.Detach(e), ErrAlreadyQueued)
	assert.NoError(t, m.RollBack())
	assert.Equal(t, "Alice", e.MustGet("name"))
	assert.Equal(t, FlagClean, e.Flag())
	assert.Equal(t, 0, m.UnitOfWork().Len())

	assert.NoError(t, m.Detach(e))
	assert.False(t, m.IdentityMap().Has("user", "1"))
	_, err = e.Manager()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.NoError(t, e.Set("name", "Carol"))
	assert.Equal(t, 0, m.UnitOfWork().Len())

	reloaded, err := m.FindByID("user", "1")
	assert.NoError(t, err)
	assert.NotSame(t, e, reloaded)
	assert.Equal(t, "Alice", reloaded.MustGet("name"))
}

func TestEntityManagerAutoPersistence(t *testing.T) {
	registry := NewRegistry()
	registry.SetOption(OptionAutoPersistence, false)
	m := prepareMemory(t, registry, memoryUser())
	seedMemory(t, m, "user", "1", map[string]any{"name": "Alice"})
	e, err := m.FindByID("user", "1")
	assert.NoError(t, err)

	assert.NoError(t, e.Set("name", "Bob"))
	assert.Equal(t, FlagDirty, e.Flag())
	assert.Equal(t, 0, m.UnitOfWork().Len())

	m.SetAutoPersistence(true)
	assert.NoError(t, e.Set("name", "Carol"))
	assert.True(t, m.UnitOfWork().Contains(e))

	created, err := m.NewEntity("user", map[string]any{"name": "Dave"})
	assert.NoError(t, err)
	assert.False(t, m.UnitOfWork().Contains(created))
	assert.NoError(t, created.Set("age", 20))
	assert.True(t, m.UnitOfWork().Contains(created))

	assert.NoError(t, m.Persist())
	total, err := m.Count("user", NewCriteria(map[string]any{"name": []string{"Carol", "Dave"}}))
	assert.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestEntityManagerErrors(t *testing.T) {
	registry := NewRegistry()
	registry.SetLogger(zap.NewNop())
	registry.RegisterEntity(memoryUser())
	engine, err := registry.Validate()
	assert.NoError(t, err)
	defer engine.Close()

	_, err = engine.EntityManager()
	assert.ErrorIs(t, err, ErrNotInitialized)
	m := engine.NewEntityManager(context.Background())
	current, err := engine.EntityManager()
	assert.NoError(t, err)
	assert.Same(t, m, current)

	_, err = m.FindAllBySQL("user", "SELECT * FROM user")
	assert.ErrorIs(t, err, ErrInterfaceMismatch)
	_, err = m.FindOneBySQL("user", "SELECT * FROM user")
	assert.ErrorIs(t, err, ErrInterfaceMismatch)
	_, err = m.FindByID("order", "1")
	assert.Error(t, err)
	_, err = m.NewEntity("order", nil)
	assert.Error(t, err)
	_, err = m.FindAll("user", &Criteria{Joins: []Join{{Type: JoinLeft, Table: "order", On: map[string]string{"id": "user_id"}}}})
	assert.ErrorIs(t, err, ErrUnsupportedCriteria)

	model := NewModel(m, nil)
	assert.ErrorIs(t, m.Update(model), ErrInterfaceMismatch)
}

func TestEntityManagerLogsUnitOfWork(t *testing.T) {
	registry := NewRegistry()
	failing := bindFailingMapper(t, registry, "user")
	m := prepareMemory(t, registry, memoryUser())
	logger := &MockLogHandler{}
	m.RegisterQueryLogger(logger, false, false, false, true)
	m.SetMetaData("request", "abc")
	assert.Equal(t, "abc", m.GetMetaData().Get("request"))

	e, err := m.NewEntity("user", map[string]any{"name": "Alice"})
	assert.NoError(t, err)
	_, err = m.Save(e)
	assert.NoError(t, err)
	assert.NoError(t, m.Persist())
	if assert.Len(t, logger.Logs, 2) {
		assert.Equal(t, "SAVE", logger.Logs[0]["operation"])
		assert.Equal(t, "SAVE user", logger.Logs[0]["query"])
		assert.Equal(t, "unit_of_work", logger.Logs[0]["source"])
		assert.Equal(t, Meta{"request": "abc"}, logger.Logs[0]["meta"])
		assert.Equal(t, "PERSIST", logger.Logs[1]["operation"])
		assert.Contains(t, logger.Logs[1], "microseconds")
		assert.NotContains(t, logger.Logs[1], "error")
	}

	logger.Clear()
	failing.saveErr = func(*Entity) error {
		return errors.New("down")
	}
	assert.NoError(t, e.Set("name", "Bob"))
	assert.Error(t, m.Persist())
	if assert.Len(t, logger.Logs, 3) {
		assert.Equal(t, "SAVE user ["+e.ID()+"]", logger.Logs[0]["query"])
		assert.Equal(t, "PERSIST", logger.Logs[1]["operation"])
		assert.Equal(t, "save of entity 'user' ["+e.ID()+"] failed: down", logger.Logs[1]["error"])
		assert.Equal(t, "ROLLBACK", logger.Logs[2]["operation"])
	}
}
