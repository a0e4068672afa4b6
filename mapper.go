package datamapper

import (
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v2"
)

// Mapper executes lookups and writes of one entity type against its storage.
// Lookups return nil without error when nothing matches.
type Mapper interface {
	FindByID(ctx Context, id string) (*Entity, error)
	FindOne(ctx Context, criteria *Criteria) (*Entity, error)
	FindAll(ctx Context, criteria *Criteria) (*Collection, error)
	Save(ctx Context, e *Entity) (bool, error)
	Remove(ctx Context, e *Entity) (bool, error)
	Count(ctx Context, criteria *Criteria) (int, error)
}

// SQLMapper is implemented by mappers able to run raw queries.
type SQLMapper interface {
	Mapper
	FindOneBySQL(ctx Context, query string, args ...any) (*Entity, error)
	FindAllBySQL(ctx Context, query string, args ...any) (*Collection, error)
}

type truncater interface {
	Truncate(ctx Context) error
}

// MapperFactory builds the mapper of an entity type. It is called once, on
// first use.
type MapperFactory func(schema EntitySchema, engine Engine) (Mapper, error)

type mappersMap struct {
	engine    *engineImplementation
	factories map[string]MapperFactory
	mappers   *xsync.MapOf[string, Mapper]
}

func newMappersMap(engine *engineImplementation, factories map[string]MapperFactory) *mappersMap {
	return &mappersMap{engine: engine, factories: factories, mappers: xsync.NewMapOf[Mapper]()}
}

func (m *mappersMap) load(schema *entitySchema) (Mapper, error) {
	if mapper, has := m.mappers.Load(schema.name); has {
		return mapper, nil
	}
	factory, has := m.factories[schema.name]
	if !has {
		factory = defaultMapperFactory(schema.storage)
	}
	if factory == nil {
		return nil, errors.Wrapf(ErrMapperNotBound, "entity '%s'", schema.name)
	}
	var err error
	mapper, _ := m.mappers.LoadOrCompute(schema.name, func() Mapper {
		var built Mapper
		built, err = factory(schema, m.engine)
		return built
	})
	if err != nil || mapper == nil {
		m.mappers.Delete(schema.name)
		if err == nil {
			err = errors.Wrapf(ErrMapperNotBound, "entity '%s'", schema.name)
		}
		return nil, err
	}
	return mapper, nil
}

func defaultMapperFactory(storage StorageType) MapperFactory {
	switch storage {
	case StorageSQL:
		return NewSQLMapper
	case StorageRedis:
		return NewRedisMapper
	case StorageBadger:
		return NewBadgerMapper
	case StorageMemory:
		return NewMemoryMapper
	}
	return nil
}

// rowsToCollection materialises rows into a collection of fresh entities.
func rowsToCollection(schema *entitySchema, rows []map[string]any) (*Collection, error) {
	entities := make([]*Entity, 0, len(rows))
	for _, row := range rows {
		e, err := schema.buildEntity(row)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return NewCollection(schema.name, entities...)
}

// persistedData returns the attributes written by an insert.
func persistedData(e *Entity) map[string]any {
	data := e.Attributes()
	delete(data, e.schema.primaryKey)
	return data
}

func first(collection *Collection) *Entity {
	e, _ := collection.At(0)
	return e
}

func limitOne(criteria *Criteria) *Criteria {
	limited := Criteria{Limit: 1}
	if criteria != nil {
		limited = *criteria
		limited.Limit = 1
	}
	return &limited
}

func countMatching(criteria *Criteria, primaryKey string, load func() ([]map[string]any, error)) (int, error) {
	counted := Criteria{}
	if criteria != nil {
		counted.Conditions = criteria.Conditions
		counted.Joins = criteria.Joins
	}
	matcher, err := newRowMatcher(&counted)
	if err != nil {
		return 0, err
	}
	rows, err := load()
	if err != nil {
		return 0, err
	}
	return len(matcher.apply(rows, primaryKey)), nil
}
