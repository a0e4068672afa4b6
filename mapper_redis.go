package datamapper

import (
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/shamaton/msgpack"
)

const redisRecordLockTTL = 5 * time.Second
const redisRecordLockWait = time.Second

// redisMapper keeps each record in a hash "<table>:<id>" with msgpack encoded
// values, ids in the set "<table>:ids" and the id counter in "<table>:seq".
type redisMapper struct {
	schema *entitySchema
	pool   string
}

func NewRedisMapper(schema EntitySchema, engine Engine) (Mapper, error) {
	if engine.Redis(schema.GetPool()) == nil {
		return nil, errors.Errorf("redis pool '%s' for entity '%s' is not registered", schema.GetPool(), schema.GetName())
	}
	return &redisMapper{schema: schema.(*entitySchema), pool: schema.GetPool()}, nil
}

func (m *redisMapper) redis(ctx Context) RedisCache {
	return ctx.Engine().Redis(m.pool)
}

func (m *redisMapper) recordKey(id string) string {
	return m.schema.tableName + ":" + id
}

func (m *redisMapper) idsKey() string {
	return m.schema.tableName + ":ids"
}

func (m *redisMapper) sequenceKey() string {
	return m.schema.tableName + ":seq"
}

func (m *redisMapper) lockKey(id string) string {
	return m.schema.tableName + ":lock:" + id
}

func encodeRedisValues(data map[string]any) ([]any, error) {
	values := make([]any, 0, len(data)*2)
	for _, key := range sortedKeys(data) {
		encoded, err := msgpack.Marshal(data[key])
		if err != nil {
			return nil, errors.Wrapf(err, "can't encode attribute '%s'", key)
		}
		values = append(values, key, string(encoded))
	}
	return values, nil
}

func (m *redisMapper) decodeRow(id string, hash map[string]string) (map[string]any, error) {
	row := make(map[string]any, len(hash)+1)
	for field, encoded := range hash {
		var value any
		if err := msgpack.Unmarshal([]byte(encoded), &value); err != nil {
			return nil, errors.Wrapf(err, "can't decode attribute '%s'", field)
		}
		row[field] = value
	}
	row[m.schema.primaryKey] = id
	return row, nil
}

func (m *redisMapper) FindByID(ctx Context, id string) (*Entity, error) {
	hash, err := m.redis(ctx).HGetAll(ctx, m.recordKey(id))
	if err != nil || len(hash) == 0 {
		return nil, err
	}
	row, err := m.decodeRow(id, hash)
	if err != nil {
		return nil, err
	}
	return m.schema.buildEntity(row)
}

func (m *redisMapper) rows(ctx Context) ([]map[string]any, error) {
	r := m.redis(ctx)
	ids, err := r.SMembers(ctx, m.idsKey())
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.ParseInt(ids[i], 10, 64)
		b, _ := strconv.ParseInt(ids[j], 10, 64)
		return a < b
	})
	pipeline := r.PipeLine(ctx)
	results := make([]*PipeLineHash, len(ids))
	for i, id := range ids {
		results[i] = pipeline.HGetAll(m.recordKey(id))
	}
	if _, err = pipeline.Exec(ctx); err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(ids))
	for i, id := range ids {
		hash, err := results[i].Result()
		if err != nil {
			return nil, err
		}
		if len(hash) == 0 {
			continue
		}
		row, err := m.decodeRow(id, hash)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (m *redisMapper) FindOne(ctx Context, criteria *Criteria) (*Entity, error) {
	collection, err := m.FindAll(ctx, limitOne(criteria))
	if err != nil {
		return nil, err
	}
	return first(collection), nil
}

func (m *redisMapper) FindAll(ctx Context, criteria *Criteria) (*Collection, error) {
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

func (m *redisMapper) Count(ctx Context, criteria *Criteria) (int, error) {
	if criteria == nil || len(criteria.Conditions) == 0 {
		total, err := m.redis(ctx).SCard(ctx, m.idsKey())
		return int(total), err
	}
	return countMatching(criteria, m.schema.primaryKey, func() ([]map[string]any, error) {
		return m.rows(ctx)
	})
}

func (m *redisMapper) Save(ctx Context, e *Entity) (bool, error) {
	r := m.redis(ctx)
	switch e.Flag() {
	case FlagNew:
		values, err := encodeRedisValues(persistedData(e))
		if err != nil {
			return false, err
		}
		next, err := r.Incr(ctx, m.sequenceKey())
		if err != nil {
			return false, err
		}
		id := strconv.FormatInt(next, 10)
		if len(values) == 0 {
			values, _ = encodeRedisValues(map[string]any{m.schema.primaryKey: id})
		}
		pipeline := r.PipeLine(ctx)
		pipeline.HSet(m.recordKey(id), values...)
		pipeline.SAdd(m.idsKey(), id)
		if _, err = pipeline.Exec(ctx); err != nil {
			return false, err
		}
		return true, e.AssignID(id)
	case FlagDirty:
		dirty := e.DirtyAttributes()
		if len(dirty) == 0 {
			return true, nil
		}
		values, err := encodeRedisValues(dirty)
		if err != nil {
			return false, err
		}
		lock, obtained, err := r.GetLocker().Obtain(ctx, m.lockKey(e.ID()), redisRecordLockTTL, redisRecordLockWait)
		if err != nil || !obtained {
			return false, err
		}
		defer func() {
			_ = lock.Release(ctx)
		}()
		exists, err := r.Exists(ctx, m.recordKey(e.ID()))
		if err != nil || exists == 0 {
			return false, err
		}
		return true, r.HSet(ctx, m.recordKey(e.ID()), values...)
	}
	return false, nil
}

func (m *redisMapper) Remove(ctx Context, e *Entity) (bool, error) {
	if e.ID() == "" {
		return false, ErrMissingIdentity
	}
	pipeline := m.redis(ctx).PipeLine(ctx)
	removed := pipeline.SRem(m.idsKey(), e.ID())
	pipeline.Del(m.recordKey(e.ID()))
	if _, err := pipeline.Exec(ctx); err != nil {
		return false, err
	}
	total, err := removed.Result()
	return total > 0, err
}

func (m *redisMapper) Truncate(ctx Context) error {
	r := m.redis(ctx)
	ids, err := r.SMembers(ctx, m.idsKey())
	if err != nil {
		return err
	}
	keys := []string{m.idsKey(), m.sequenceKey()}
	for _, id := range ids {
		keys = append(keys, m.recordKey(id))
	}
	return r.Del(ctx, keys...)
}
