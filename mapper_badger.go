package datamapper

import (
	"bytes"
	"sort"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// badgerMapper stores every record as a JSON document under
// "<table>:r:<id>" and allocates ids from the sequence "<table>:seq".
type badgerMapper struct {
	schema *entitySchema
	pool   string
}

func NewBadgerMapper(schema EntitySchema, engine Engine) (Mapper, error) {
	if engine.KV(schema.GetPool()) == nil {
		return nil, errors.Errorf("kv pool '%s' for entity '%s' is not registered", schema.GetPool(), schema.GetName())
	}
	return &badgerMapper{schema: schema.(*entitySchema), pool: schema.GetPool()}, nil
}

func (m *badgerMapper) store(ctx Context) KVStore {
	return ctx.Engine().KV(m.pool)
}

func (m *badgerMapper) recordPrefix() []byte {
	return []byte(m.schema.tableName + ":r:")
}

func (m *badgerMapper) recordKey(id string) []byte {
	return append(m.recordPrefix(), id...)
}

func (m *badgerMapper) sequenceKey() []byte {
	return []byte(m.schema.tableName + ":seq")
}

func (m *badgerMapper) decode(id string, value []byte) (map[string]any, error) {
	row := make(map[string]any)
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(value, &row); err != nil {
		return nil, errors.Wrapf(err, "can't decode '%s' [%s]", m.schema.name, id)
	}
	row[m.schema.primaryKey] = id
	return row, nil
}

func (m *badgerMapper) load(ctx Context, id string) (map[string]any, error) {
	value, has, err := m.store(ctx).Get(ctx, m.recordKey(id))
	if err != nil || !has {
		return nil, err
	}
	return m.decode(id, value)
}

func (m *badgerMapper) FindByID(ctx Context, id string) (*Entity, error) {
	row, err := m.load(ctx, id)
	if err != nil || row == nil {
		return nil, err
	}
	return m.schema.buildEntity(row)
}

func (m *badgerMapper) rows(ctx Context) ([]map[string]any, error) {
	prefix := m.recordPrefix()
	var rows []map[string]any
	err := m.store(ctx).Iterate(ctx, prefix, func(key, value []byte) error {
		row, err := m.decode(string(bytes.TrimPrefix(key, prefix)), value)
		if err != nil {
			return err
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	pk := m.schema.primaryKey
	sort.SliceStable(rows, func(i, j int) bool {
		a, _ := strconv.ParseUint(toString(rows[i][pk]), 10, 64)
		b, _ := strconv.ParseUint(toString(rows[j][pk]), 10, 64)
		return a < b
	})
	return rows, nil
}

func (m *badgerMapper) FindOne(ctx Context, criteria *Criteria) (*Entity, error) {
	collection, err := m.FindAll(ctx, limitOne(criteria))
	if err != nil {
		return nil, err
	}
	return first(collection), nil
}

func (m *badgerMapper) FindAll(ctx Context, criteria *Criteria) (*Collection, error) {
	matcher, err := newRowMatcher(criteria)
	if err != nil {
		return nil, err
	}
	rows, err := m.rows(ctx)
	if err != nil {
		return nil, err
	}
	return rowsToCollection(m.schema, matcher.apply(rows, m.schema.primaryKey))
}

func (m *badgerMapper) Count(ctx Context, criteria *Criteria) (int, error) {
	return countMatching(criteria, m.schema.primaryKey, func() ([]map[string]any, error) {
		return m.rows(ctx)
	})
}

func (m *badgerMapper) write(ctx Context, id string, row map[string]any) error {
	encoded, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(row)
	if err != nil {
		return errors.Wrapf(err, "can't encode '%s' [%s]", m.schema.name, id)
	}
	return m.store(ctx).Set(ctx, m.recordKey(id), encoded)
}

func (m *badgerMapper) Save(ctx Context, e *Entity) (bool, error) {
	switch e.Flag() {
	case FlagNew:
		next, err := m.store(ctx).NextSequence(ctx, m.sequenceKey())
		if err != nil {
			return false, err
		}
		id := strconv.FormatUint(next, 10)
		if err = m.write(ctx, id, persistedData(e)); err != nil {
			return false, err
		}
		return true, e.AssignID(id)
	case FlagDirty:
		dirty := e.DirtyAttributes()
		if len(dirty) == 0 {
			return true, nil
		}
		row, err := m.load(ctx, e.ID())
		if err != nil || row == nil {
			return false, err
		}
		delete(row, m.schema.primaryKey)
		for k, v := range dirty {
			row[k] = v
		}
		return true, m.write(ctx, e.ID(), row)
	}
	return false, nil
}

func (m *badgerMapper) Remove(ctx Context, e *Entity) (bool, error) {
	if e.ID() == "" {
		return false, ErrMissingIdentity
	}
	return m.store(ctx).Delete(ctx, m.recordKey(e.ID()))
}

func (m *badgerMapper) Truncate(ctx Context) error {
	return m.store(ctx).DropPrefix(ctx, []byte(m.schema.tableName+":"))
}
