package datamapper

import (
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v2"
)

// memoryMapper keeps records in process memory. Ids are random UUIDs and
// records are returned in insertion order.
type memoryMapper struct {
	schema *entitySchema
	mutex  sync.Mutex
	order  []string
	rows   *xsync.MapOf[string, map[string]any]
}

func NewMemoryMapper(schema EntitySchema, _ Engine) (Mapper, error) {
	m := &memoryMapper{
		schema: schema.(*entitySchema),
		rows:   xsync.NewMapOf[map[string]any](),
	}
	return m, nil
}

func (m *memoryMapper) FindByID(_ Context, id string) (*Entity, error) {
	row, has := m.rows.Load(id)
	if !has {
		return nil, nil
	}
	return m.schema.buildEntity(m.withID(id, row))
}

func (m *memoryMapper) withID(id string, row map[string]any) map[string]any {
	result := copyMap(row)
	result[m.schema.primaryKey] = id
	return result
}

func (m *memoryMapper) all() []map[string]any {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	rows := make([]map[string]any, 0, len(m.order))
	for _, id := range m.order {
		if row, has := m.rows.Load(id); has {
			rows = append(rows, m.withID(id, row))
		}
	}
	return rows
}

func (m *memoryMapper) FindOne(ctx Context, criteria *Criteria) (*Entity, error) {
	collection, err := m.FindAll(ctx, limitOne(criteria))
	if err != nil {
		return nil, err
	}
	return first(collection), nil
}

func (m *memoryMapper) FindAll(_ Context, criteria *Criteria) (*Collection, error) {
	matcher, err := newRowMatcher(criteria)
	if err != nil {
		return nil, err
	}
	return rowsToCollection(m.schema, matcher.apply(m.all(), m.schema.primaryKey))
}

func (m *memoryMapper) Count(_ Context, criteria *Criteria) (int, error) {
	if criteria == nil || len(criteria.Conditions) == 0 {
		return m.rows.Size(), nil
	}
	return countMatching(criteria, m.schema.primaryKey, func() ([]map[string]any, error) {
		return m.all(), nil
	})
}

func (m *memoryMapper) Save(_ Context, e *Entity) (bool, error) {
	switch e.Flag() {
	case FlagNew:
		id := uuid.NewString()
		m.mutex.Lock()
		m.rows.Store(id, persistedData(e))
		m.order = append(m.order, id)
		m.mutex.Unlock()
		return true, e.AssignID(id)
	case FlagDirty:
		dirty := e.DirtyAttributes()
		_, updated := m.rows.Compute(e.ID(), func(row map[string]any, loaded bool) (map[string]any, bool) {
			if !loaded {
				return nil, true
			}
			row = copyMap(row)
			for k, v := range dirty {
				row[k] = v
			}
			return row, false
		})
		return updated, nil
	}
	return false, nil
}

func (m *memoryMapper) Remove(_ Context, e *Entity) (bool, error) {
	if e.ID() == "" {
		return false, ErrMissingIdentity
	}
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, removed := m.rows.LoadAndDelete(e.ID())
	if removed {
		for i, id := range m.order {
			if id == e.ID() {
				m.order = append(m.order[:i:i], m.order[i+1:]...)
				break
			}
		}
	}
	return removed, nil
}

func (m *memoryMapper) Truncate(_ Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rows.Clear()
	m.order = nil
	return nil
}
