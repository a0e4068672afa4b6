package datamapper

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type MockLogHandler struct {
	Logs []map[string]any
}

func (h *MockLogHandler) Handle(_ Context, log map[string]any) {
	h.Logs = append(h.Logs, log)
}

func (h *MockLogHandler) Clear() {
	h.Logs = nil
}

// PrepareSQLite registers an in-memory SQLite pool and an in-memory Badger
// pool under DefaultPoolCode, creates one table per SQL entity and returns a
// fresh entity manager.
func PrepareSQLite(t *testing.T, registry Registry, definitions ...*EntityDefinition) *EntityManager {
	registry.RegisterSQLite(":memory:", DefaultPoolCode, nil)
	registry.RegisterBadger("", true, DefaultPoolCode)
	registry.RegisterEntity(definitions...)
	engine, err := registry.Validate()
	if !assert.NoError(t, err) {
		t.FailNow()
	}
	t.Cleanup(func() {
		_ = engine.Close()
	})
	m := engine.NewEntityManager(context.Background())
	for _, definition := range definitions {
		schema := engine.Registry().EntitySchema(definition.Name)
		if !assert.NotNil(t, schema) {
			t.FailNow()
		}
		if schema.GetStorage() == StorageSQL && schema.GetPool() == DefaultPoolCode {
			_, err = engine.DB(DefaultPoolCode).Exec(m, createTableSQLite(schema))
			assert.NoError(t, err)
		}
	}
	return m
}

func createTableSQLite(schema EntitySchema) string {
	columns := []string{`"` + schema.GetPrimaryKey() + `" INTEGER PRIMARY KEY AUTOINCREMENT`}
	for _, field := range schema.GetFields() {
		columns = append(columns, `"`+field+`"`)
	}
	return `CREATE TABLE IF NOT EXISTS "` + schema.GetTableName() + `" (` + strings.Join(columns, ", ") + `)`
}

type MockDBClient struct {
	OriginDB            DBClient
	ExecContextMock     func(context context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContextMock func(context context.Context, query string, args ...any) *sql.Row
	QueryContextMock    func(context context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTxMock         func(context context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

func (m *MockDBClient) ExecContext(context context.Context, query string, args ...any) (sql.Result, error) {
	if m.ExecContextMock != nil {
		return m.ExecContextMock(context, query, args...)
	}
	return m.OriginDB.ExecContext(context, query, args...)
}

func (m *MockDBClient) QueryRowContext(context context.Context, query string, args ...any) *sql.Row {
	if m.QueryRowContextMock != nil {
		return m.QueryRowContextMock(context, query, args...)
	}
	return m.OriginDB.QueryRowContext(context, query, args...)
}

func (m *MockDBClient) QueryContext(context context.Context, query string, args ...any) (*sql.Rows, error) {
	if m.QueryContextMock != nil {
		return m.QueryContextMock(context, query, args...)
	}
	return m.OriginDB.QueryContext(context, query, args...)
}

func (m *MockDBClient) BeginTx(context context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if m.BeginTxMock != nil {
		return m.BeginTxMock(context, opts)
	}
	return m.OriginDB.(DBClientNoTX).BeginTx(context, opts)
}
