package datamapper

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func sqlUser() *EntityDefinition {
	return &EntityDefinition{Name: "user", Fields: []string{"name", "age"}}
}

func TestSQLMapper(t *testing.T) {
	m := PrepareSQLite(t, NewRegistry(), sqlUser())
	alice, err := m.NewEntity("user", map[string]any{"name": "Alice", "age": 30})
	assert.NoError(t, err)
	bob, err := m.NewEntity("user", map[string]any{"name": "Bob", "age": 17})
	assert.NoError(t, err)
	_, err = m.Save(alice)
	assert.NoError(t, err)
	_, err = m.Save(bob)
	assert.NoError(t, err)
	assert.NoError(t, m.Persist())
	assert.Equal(t, "1", alice.ID())
	assert.Equal(t, "2", bob.ID())

	found, err := m.FindByID("user", "1")
	assert.NoError(t, err)
	assert.Same(t, alice, found)
	adults, err := m.FindAll("user", NewCriteria(map[string]any{"age[>=]": 18}))
	assert.NoError(t, err)
	assert.Equal(t, 1, adults.Len())
	young, err := m.FindAllBySQL("user", `SELECT * FROM "user" WHERE "age" < ?`, 18)
	assert.NoError(t, err)
	first, _ := young.At(0)
	assert.Same(t, bob, first)
	one, err := m.FindOneBySQL("user", `SELECT * FROM "user" WHERE "name" = ?`, "Alice")
	assert.NoError(t, err)
	assert.Same(t, alice, one)
	none, err := m.FindOneBySQL("user", `SELECT * FROM "user" WHERE "name" = ?`, "Dave")
	assert.NoError(t, err)
	assert.Nil(t, none)
	total, err := m.Count("user", nil)
	assert.NoError(t, err)
	assert.Equal(t, 2, total)

	ordered, err := m.FindAll("user", (&Criteria{Limit: 1, Offset: 1}).OrderBy("name", true))
	assert.NoError(t, err)
	first, _ = ordered.At(0)
	assert.Same(t, alice, first)

	assert.NoError(t, alice.Set("age", 31))
	assert.NoError(t, m.Persist())
	age := 0
	has, err := m.Engine().DB(DefaultPoolCode).QueryRow(m, NewWhere(`SELECT "age" FROM "user" WHERE "id" = ?`, 1), &age)
	assert.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, 31, age)

	_, err = m.Remove(bob)
	assert.NoError(t, err)
	assert.NoError(t, m.Persist())
	total, err = m.Count("user", nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, total)

	assert.NoError(t, m.Engine().Registry().EntitySchema("user").Truncate(m))
	total, err = m.Count("user", nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestSQLMapperTransactionRollBack(t *testing.T) {
	m := PrepareSQLite(t, NewRegistry(), sqlUser(), &EntityDefinition{Name: "account", Fields: []string{"balance"}})
	db := m.Engine().DB(DefaultPoolCode)
	_, err := db.Exec(m, `DROP TABLE "account"`)
	assert.NoError(t, err)

	carol, err := m.NewEntity("user", map[string]any{"name": "Carol"})
	assert.NoError(t, err)
	account, err := m.NewEntity("account", map[string]any{"balance": 10})
	assert.NoError(t, err)
	_, err = m.Save(carol)
	assert.NoError(t, err)
	_, err = m.Save(account)
	assert.NoError(t, err)

	logger := &MockLogHandler{}
	m.RegisterQueryLogger(logger, true, false, false, false)
	err = m.Persist()
	var persistErr *PersistenceError
	assert.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "account", persistErr.Entity)

	assert.Equal(t, FlagNew, carol.Flag())
	assert.Equal(t, "", carol.ID())
	total, err := m.Count("user", nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, total)

	if assert.Len(t, logger.Logs, 5) {
		assert.Equal(t, "START TRANSACTION", logger.Logs[0]["query"])
		assert.Equal(t, "EXEC", logger.Logs[1]["operation"])
		assert.Contains(t, logger.Logs[2], "error")
		assert.Equal(t, "ROLLBACK", logger.Logs[3]["query"])
		assert.Equal(t, "SELECT", logger.Logs[4]["operation"])
	}

	_, err = m.Save(carol)
	assert.NoError(t, err)
	assert.NoError(t, m.Persist())
	assert.Equal(t, FlagClean, carol.Flag())
	assert.NotEmpty(t, carol.ID())
}

func TestSQLMapperMockClient(t *testing.T) {
	m := PrepareSQLite(t, NewRegistry(), sqlUser())
	db := m.Engine().DB(DefaultPoolCode)
	original := db.GetDBClient()
	db.SetMockDBClient(&MockDBClient{
		OriginDB: original,
		BeginTxMock: func(context.Context, *sql.TxOptions) (*sql.Tx, error) {
			return nil, errors.New("no connection")
		},
		ExecContextMock: func(context.Context, string, ...any) (sql.Result, error) {
			return nil, errors.New("read only")
		},
	})
	_, err := db.Exec(m, `DELETE FROM "user"`)
	assert.EqualError(t, err, "read only")

	e, err := m.NewEntity("user", map[string]any{"name": "Alice"})
	assert.NoError(t, err)
	_, err = m.Save(e)
	assert.NoError(t, err)
	assert.EqualError(t, m.Persist(), "save of entity 'user' failed: no connection")
	assert.Equal(t, FlagNew, e.Flag())

	db.SetMockDBClient(original)
	assert.NoError(t, e.Set("age", 3))
	assert.NoError(t, m.Persist())
	assert.Equal(t, "1", e.ID())
}

func TestSQLMapperRequiresPool(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterEntity(&EntityDefinition{Name: "user", Pool: "other"})
	_, err := registry.Validate()
	assert.EqualError(t, err, "sql pool 'other' for entity 'user' is not registered")
}
