package datamapper

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const metricsOperationTransaction = "transaction"
const metricsOperationExec = "exec"
const metricsOperationSelect = "select"

type DBConfig interface {
	GetCode() string
	GetDialect() Dialect
	GetDatabaseName() string
	GetDataSourceURI() string
	GetOptions() *DBOptions
	getClient() *sql.DB
}

type dbConfig struct {
	dataSourceName string
	code           string
	dialect        Dialect
	databaseName   string
	client         *sql.DB
	options        *DBOptions
}

func (p *dbConfig) GetCode() string {
	return p.code
}

func (p *dbConfig) GetDialect() Dialect {
	return p.dialect
}

func (p *dbConfig) GetDatabaseName() string {
	return p.databaseName
}

func (p *dbConfig) GetDataSourceURI() string {
	return p.dataSourceName
}

func (p *dbConfig) getClient() *sql.DB {
	return p.client
}

func (p *dbConfig) GetOptions() *DBOptions {
	return p.options
}

type ExecResult interface {
	LastInsertId() (uint64, error)
	RowsAffected() (uint64, error)
}

type execResult struct {
	r sql.Result
}

func (e *execResult) LastInsertId() (uint64, error) {
	id, err := e.r.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (e *execResult) RowsAffected() (uint64, error) {
	id, err := e.r.RowsAffected()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

type sqlClientBase interface {
	ExecContext(context context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(context context.Context, query string, args ...any) SQLRow
	QueryContext(context context.Context, query string, args ...any) (SQLRows, error)
}

type sqlClient interface {
	sqlClientBase
	BeginTx(context context.Context) (*sql.Tx, error)
}

type txClient interface {
	sqlClientBase
	Commit() error
	Rollback() error
}

type DBClient interface {
	ExecContext(context context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(context context.Context, query string, args ...any) *sql.Row
	QueryContext(context context.Context, query string, args ...any) (*sql.Rows, error)
}

type DBClientNoTX interface {
	DBClient
	BeginTx(context context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

type standardSQLClient struct {
	db DBClient
}

type txSQLClient struct {
	standardSQLClient
	tx *sql.Tx
}

func (tx *txSQLClient) Commit() error {
	return tx.tx.Commit()
}

func (tx *txSQLClient) Rollback() error {
	return tx.tx.Rollback()
}

func (db *standardSQLClient) BeginTx(context context.Context) (*sql.Tx, error) {
	client, is := db.db.(DBClientNoTX)
	if !is {
		return nil, errors.New("db client does not support transactions")
	}
	return client.BeginTx(context, nil)
}

func (db *standardSQLClient) ExecContext(context context.Context, query string, args ...any) (sql.Result, error) {
	return db.db.ExecContext(context, query, args...)
}

func (db *standardSQLClient) QueryRowContext(context context.Context, query string, args ...any) SQLRow {
	return db.db.QueryRowContext(context, query, args...)
}

func (db *standardSQLClient) QueryContext(context context.Context, query string, args ...any) (SQLRows, error) {
	rows, err := db.db.QueryContext(context, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

type SQLRows interface {
	Next() bool
	Err() error
	Close() error
	Scan(dest ...any) error
	Columns() ([]string, error)
}

type Rows interface {
	Next() bool
	Err() error
	Scan(dest ...any) error
	Columns() ([]string, error)
}

type rowsStruct struct {
	sqlRows SQLRows
}

func (r *rowsStruct) Next() bool {
	has := r.sqlRows.Next()
	if !has {
		_ = r.sqlRows.Close()
	}
	return has
}

func (r *rowsStruct) Err() error {
	return r.sqlRows.Err()
}

func (r *rowsStruct) Columns() ([]string, error) {
	return r.sqlRows.Columns()
}

func (r *rowsStruct) Scan(dest ...any) error {
	return r.sqlRows.Scan(dest...)
}

type SQLRow interface {
	Scan(dest ...any) error
	Err() error
}

type DBBase interface {
	GetConfig() DBConfig
	GetDBClient() DBClient
	SetMockDBClient(mock DBClient)
	Exec(ctx Context, query string, args ...any) (ExecResult, error)
	QueryRow(ctx Context, query *Where, toFill ...any) (found bool, err error)
	Query(ctx Context, query string, args ...any) (rows Rows, close func(), err error)
}

type DB interface {
	DBBase
	Begin(ctx Context) (DBTransaction, error)
	Close() error
}

type DBTransaction interface {
	DBBase
	Commit(ctx Context) error
	Rollback(ctx Context) error
}

type dbImplementation struct {
	client      sqlClient
	config      DBConfig
	transaction bool
}

func (db *dbImplementation) GetConfig() DBConfig {
	return db.config
}

func (db *dbImplementation) Close() error {
	if client := db.config.getClient(); client != nil {
		return client.Close()
	}
	return nil
}

func (db *dbImplementation) Commit(ctx Context) error {
	if !db.transaction {
		return nil
	}
	hasLogger, _ := ctx.getDBLoggers()
	start := time.Now()
	err := db.client.(txClient).Commit()
	end := time.Since(start)
	db.transaction = false
	if hasLogger {
		db.fillLogFields(ctx, "TRANSACTION", "COMMIT", end, err)
	}
	db.fillMetrics(ctx, end, metricsOperationTransaction)
	return err
}

func (db *dbImplementation) Rollback(ctx Context) error {
	if !db.transaction {
		return nil
	}
	hasLogger, _ := ctx.getDBLoggers()
	start := time.Now()
	err := db.client.(txClient).Rollback()
	end := time.Since(start)
	db.transaction = false
	if hasLogger {
		db.fillLogFields(ctx, "TRANSACTION", "ROLLBACK", end, err)
	}
	db.fillMetrics(ctx, end, metricsOperationTransaction)
	return err
}

func (db *dbImplementation) Begin(ctx Context) (DBTransaction, error) {
	hasLogger, _ := ctx.getDBLoggers()
	start := time.Now()
	tx, err := db.client.BeginTx(ctx.Context())
	end := time.Since(start)
	if hasLogger {
		db.fillLogFields(ctx, "TRANSACTION", "START TRANSACTION", end, err)
	}
	db.fillMetrics(ctx, end, metricsOperationTransaction)
	if err != nil {
		return nil, err
	}
	dbTX := &dbImplementation{config: db.config, client: &txSQLClient{standardSQLClient{db: tx}, tx}, transaction: true}
	return dbTX, nil
}

func (db *dbImplementation) GetDBClient() DBClient {
	return db.client.(*standardSQLClient).db
}

func (db *dbImplementation) SetMockDBClient(mock DBClient) {
	db.client.(*standardSQLClient).db = mock
}

func (db *dbImplementation) Exec(ctx Context, query string, args ...any) (ExecResult, error) {
	hasLogger, _ := ctx.getDBLoggers()
	start := time.Now()
	res, err := db.client.ExecContext(ctx.Context(), query, args...)
	end := time.Since(start)
	if hasLogger {
		db.fillLogFields(ctx, "EXEC", formatQueryLog(query, args), end, err)
	}
	db.fillMetrics(ctx, end, metricsOperationExec)
	if err != nil {
		return nil, err
	}
	return &execResult{r: res}, nil
}

func (db *dbImplementation) fillMetrics(ctx Context, end time.Duration, name string) {
	metrics, hasMetrics := ctx.Engine().Registry().getMetricsRegistry()
	if hasMetrics {
		metrics.queriesDB.WithLabelValues(name, db.GetConfig().GetCode()).Observe(end.Seconds())
	}
}

func (db *dbImplementation) QueryRow(ctx Context, query *Where, toFill ...any) (found bool, err error) {
	hasLogger, _ := ctx.getDBLoggers()
	start := time.Now()
	row := db.client.QueryRowContext(ctx.Context(), query.String(), query.GetParameters()...)
	err = row.Err()
	if err == nil {
		err = row.Scan(toFill...)
	}
	end := time.Since(start)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	} else if err == nil {
		found = true
	}
	if hasLogger {
		db.fillLogFields(ctx, "SELECT", formatQueryLog(query.String(), query.GetParameters()), end, err)
	}
	db.fillMetrics(ctx, end, metricsOperationSelect)
	return found, err
}

func (db *dbImplementation) Query(ctx Context, query string, args ...any) (rows Rows, close func(), err error) {
	hasLogger, _ := ctx.getDBLoggers()
	start := time.Now()
	result, err := db.client.QueryContext(ctx.Context(), query, args...)
	end := time.Since(start)
	if hasLogger {
		db.fillLogFields(ctx, "SELECT", formatQueryLog(query, args), end, err)
	}
	db.fillMetrics(ctx, end, metricsOperationSelect)
	if err != nil {
		return nil, nil, err
	}
	return &rowsStruct{result}, func() {
		if result != nil {
			_ = result.Close()
		}
	}, nil
}

func (db *dbImplementation) fillLogFields(ctx Context, operation, query string, duration time.Duration, err error) {
	query = strings.ReplaceAll(query, "\n", " ")
	_, loggers := ctx.getDBLoggers()
	fillLogFields(ctx, loggers, db.GetConfig().GetCode(), sourceDB, operation, query, &duration, false, err)
}

func formatQueryLog(query string, args []any) string {
	if len(args) > 0 {
		return query + " " + fmt.Sprintf("%v", args)
	}
	return query
}
