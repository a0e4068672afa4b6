package datamapper

import (
	"strconv"

	"github.com/pkg/errors"
)

type sqlMapper struct {
	schema  *entitySchema
	pool    string
	adapter *sqlAdapter
}

// NewSQLMapper maps an entity type onto a table of its SQL pool.
func NewSQLMapper(schema EntitySchema, engine Engine) (Mapper, error) {
	db := engine.DB(schema.GetPool())
	if db == nil {
		return nil, errors.Errorf("sql pool '%s' for entity '%s' is not registered", schema.GetPool(), schema.GetName())
	}
	s := schema.(*entitySchema)
	return &sqlMapper{
		schema:  s,
		pool:    schema.GetPool(),
		adapter: newSQLAdapter(db.GetConfig().GetDialect(), s.tableName, s.primaryKey),
	}, nil
}

func (m *sqlMapper) FindByID(ctx Context, id string) (*Entity, error) {
	return m.FindOne(ctx, &Criteria{Conditions: map[string]any{m.schema.tableName + "." + m.schema.primaryKey: id}, Limit: 1})
}

func (m *sqlMapper) FindOne(ctx Context, criteria *Criteria) (*Entity, error) {
	collection, err := m.FindAll(ctx, limitOne(criteria))
	if err != nil {
		return nil, err
	}
	return first(collection), nil
}

func (m *sqlMapper) FindAll(ctx Context, criteria *Criteria) (*Collection, error) {
	query, err := m.adapter.Select(criteria)
	if err != nil {
		return nil, err
	}
	return m.FindAllBySQL(ctx, query.String(), query.GetParameters()...)
}

func (m *sqlMapper) FindOneBySQL(ctx Context, query string, args ...any) (*Entity, error) {
	collection, err := m.FindAllBySQL(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return first(collection), nil
}

func (m *sqlMapper) FindAllBySQL(ctx Context, query string, args ...any) (*Collection, error) {
	db, err := ctx.dbFor(m.pool)
	if err != nil {
		return nil, err
	}
	rows, closeRows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeRows()
	result, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return rowsToCollection(m.schema, result)
}

func (m *sqlMapper) Count(ctx Context, criteria *Criteria) (int, error) {
	query, err := m.adapter.Count(criteria)
	if err != nil {
		return 0, err
	}
	db, err := ctx.dbFor(m.pool)
	if err != nil {
		return 0, err
	}
	total := 0
	_, err = db.QueryRow(ctx, query, &total)
	return total, err
}

// Save inserts a NEW entity and assigns the generated id, or writes the dirty
// attributes of a DIRTY one. It reports false when no row was written.
func (m *sqlMapper) Save(ctx Context, e *Entity) (bool, error) {
	db, err := ctx.dbFor(m.pool)
	if err != nil {
		return false, err
	}
	switch e.Flag() {
	case FlagNew:
		query, returning := m.adapter.Insert(persistedData(e))
		var id string
		if returning {
			found, err := db.QueryRow(ctx, query, &id)
			if err != nil || !found {
				return false, err
			}
		} else {
			res, err := db.Exec(ctx, query.String(), query.GetParameters()...)
			if err != nil {
				return false, err
			}
			lastID, err := res.LastInsertId()
			if err != nil {
				return false, err
			}
			id = strconv.FormatUint(lastID, 10)
		}
		return true, e.AssignID(id)
	case FlagDirty:
		dirty := e.DirtyAttributes()
		if len(dirty) == 0 {
			return true, nil
		}
		query := m.adapter.Update(dirty, e.ID())
		res, err := db.Exec(ctx, query.String(), query.GetParameters()...)
		if err != nil {
			return false, err
		}
		affected, err := res.RowsAffected()
		return affected > 0, err
	}
	return false, nil
}

func (m *sqlMapper) Remove(ctx Context, e *Entity) (bool, error) {
	if e.ID() == "" {
		return false, ErrMissingIdentity
	}
	db, err := ctx.dbFor(m.pool)
	if err != nil {
		return false, err
	}
	query := m.adapter.Delete(e.ID())
	res, err := db.Exec(ctx, query.String(), query.GetParameters()...)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

func (m *sqlMapper) Truncate(ctx Context) error {
	db, err := ctx.dbFor(m.pool)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, m.adapter.Truncate())
	return err
}

func scanRows(rows Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err = rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, column := range columns {
			if b, is := values[i].([]byte); is {
				row[column] = string(b)
				continue
			}
			row[column] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
