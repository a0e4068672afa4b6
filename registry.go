package datamapper

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql" // force this mysql driver
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// OptionAutoPersistence controls whether entity managers queue mutated
// entities for save on their own. Enabled unless set to false.
const OptionAutoPersistence = "auto_persistence"

type Registry interface {
	Validate() (Engine, error)
	RegisterEntity(definitions ...*EntityDefinition)
	BindMapper(entity string, factory MapperFactory) error
	RegisterMySQL(dataSourceName string, poolCode string, poolOptions *DBOptions)
	RegisterPostgres(dataSourceName string, poolCode string, poolOptions *DBOptions)
	RegisterSQLite(dataSourceName string, poolCode string, poolOptions *DBOptions)
	RegisterRedis(address string, db int, poolCode string, options *RedisOptions)
	RegisterBadger(path string, inMemory bool, poolCode string)
	InitByYaml(yaml []byte) error
	InitByConfig(config *Config) error
	SetOption(key string, value any)
	SetLogger(logger *zap.Logger)
	EnableMetrics(factory promauto.Factory)
}

type registry struct {
	dbPools        map[string]DBConfig
	redisPools     map[string]RedisPoolConfig
	kvPools        map[string]KVConfig
	entities       []*EntityDefinition
	mappers        map[string]MapperFactory
	options        map[string]any
	logger         *zap.Logger
	metricsFactory *promauto.Factory
}

func NewRegistry() Registry {
	return &registry{}
}

func (r *registry) Validate() (Engine, error) {
	e := &engineImplementation{}
	e.registry = &engineRegistryImplementation{engine: e}
	e.registry.hasMetrics = r.metricsFactory != nil
	e.registry.options = map[string]any{OptionAutoPersistence: true}
	e.registry.entitySchemas = make(map[string]*entitySchema, len(r.entities))
	e.options = make(map[string]any)
	e.dbServers = make(map[string]DB)
	e.redisServers = make(map[string]RedisCache)
	e.kvServers = make(map[string]KVStore)
	for k, v := range r.dbPools {
		db, err := openDB(v)
		if err != nil {
			_ = e.Close()
			return nil, errors.Wrapf(err, "can't open sql pool '%s'", k)
		}
		v.(*dbConfig).client = db
		e.dbServers[k] = &dbImplementation{config: v, client: &standardSQLClient{db: v.getClient()}}
	}
	for k, v := range r.redisPools {
		e.redisServers[k] = &redisCache{config: v, client: v.getClient()}
	}
	for k, v := range r.kvPools {
		store, err := openKVStore(v)
		if err != nil {
			_ = e.Close()
			return nil, errors.Wrapf(err, "can't open kv pool '%s'", k)
		}
		e.kvServers[k] = store
	}
	for _, definition := range r.entities {
		schema, err := newEntitySchema(definition)
		if err != nil {
			_ = e.Close()
			return nil, err
		}
		if _, has := e.registry.entitySchemas[schema.name]; has {
			_ = e.Close()
			return nil, fmt.Errorf("entity '%s' is registered more than once", schema.name)
		}
		if _, custom := r.mappers[schema.name]; !custom {
			if err = checkStoragePool(e, schema); err != nil {
				_ = e.Close()
				return nil, err
			}
		}
		schema.engine = e
		e.registry.entitySchemas[schema.name] = schema
		e.registry.entitySchemaList = append(e.registry.entitySchemaList, schema)
	}
	for name := range r.mappers {
		if _, has := e.registry.entitySchemas[name]; !has {
			_ = e.Close()
			return nil, fmt.Errorf("mapper bound to unregistered entity '%s'", name)
		}
	}
	e.mappers = newMappersMap(e, r.mappers)
	logger := r.logger
	if logger == nil {
		var err error
		logger, err = NewLogger("")
		if err != nil {
			_ = e.Close()
			return nil, err
		}
	}
	e.registry.defaultQueryLogger = NewZapLogHandler(logger)
	for key, value := range r.options {
		e.registry.options[key] = value
	}
	if e.registry.hasMetrics {
		e.registry.metricsRegistry = initMetricsRegistry(*r.metricsFactory)
	}
	return e, nil
}

func checkStoragePool(e *engineImplementation, schema *entitySchema) error {
	missing := false
	switch schema.storage {
	case StorageSQL:
		missing = e.dbServers[schema.pool] == nil
	case StorageRedis:
		missing = e.redisServers[schema.pool] == nil
	case StorageBadger:
		missing = e.kvServers[schema.pool] == nil
	}
	if missing {
		return fmt.Errorf("%s pool '%s' for entity '%s' is not registered", schema.storage, schema.pool, schema.name)
	}
	return nil
}

func openDB(config DBConfig) (*sql.DB, error) {
	sourceURI := config.GetDataSourceURI()
	if config.GetDialect() == DialectMySQL && !strings.Contains(sourceURI, "clientFoundRows") {
		separator := "?"
		if strings.Contains(sourceURI, "?") {
			separator = "&"
		}
		sourceURI += separator + "clientFoundRows=true"
	}
	db, err := sql.Open(config.GetDialect().driverName(), sourceURI)
	if err != nil {
		return nil, err
	}
	options := config.GetOptions()
	maxLimit := 100
	if options.MaxOpenConnections > 0 {
		maxLimit = options.MaxOpenConnections
	}
	if config.GetDialect() == DialectSQLite {
		maxLimit = 1
	}
	maxIdle := maxLimit
	if options.MaxIdleConnections > 0 && options.MaxIdleConnections < maxLimit {
		maxIdle = options.MaxIdleConnections
	}
	maxDuration := 5 * time.Minute
	if options.ConnMaxLifetime > 0 {
		maxDuration = options.ConnMaxLifetime
	}
	db.SetMaxOpenConns(maxLimit)
	db.SetMaxIdleConns(maxIdle)
	if config.GetDialect() != DialectSQLite {
		db.SetConnMaxLifetime(maxDuration)
	}
	return db, nil
}

func (r *registry) EnableMetrics(factory promauto.Factory) {
	r.metricsFactory = &factory
}

func (r *registry) SetOption(key string, value any) {
	if r.options == nil {
		r.options = map[string]any{key: value}
		return
	}
	r.options[key] = value
}

// SetLogger replaces the zap logger behind EnableQueryDebug.
func (r *registry) SetLogger(logger *zap.Logger) {
	r.logger = logger
}

func (r *registry) RegisterEntity(definitions ...*EntityDefinition) {
	r.entities = append(r.entities, definitions...)
}

// BindMapper replaces the storage mapper of one entity type.
func (r *registry) BindMapper(entity string, factory MapperFactory) error {
	if r.mappers == nil {
		r.mappers = make(map[string]MapperFactory)
	}
	if _, has := r.mappers[entity]; has {
		return errors.Wrapf(ErrMapperAlreadyBound, "entity '%s'", entity)
	}
	r.mappers[entity] = factory
	return nil
}

type DBOptions struct {
	ConnMaxLifetime    time.Duration
	MaxOpenConnections int
	MaxIdleConnections int
}

func (r *registry) RegisterMySQL(dataSourceName string, poolCode string, poolOptions *DBOptions) {
	parts := strings.Split(dataSourceName, "/")
	r.registerDB(DialectMySQL, dataSourceName, strings.Split(parts[len(parts)-1], "?")[0], poolCode, poolOptions)
}

func (r *registry) RegisterPostgres(dataSourceName string, poolCode string, poolOptions *DBOptions) {
	dbName := dataSourceName
	if pos := strings.Index(dbName, "://"); pos >= 0 {
		parts := strings.Split(dbName[pos+3:], "/")
		dbName = ""
		if len(parts) > 1 {
			dbName = strings.Split(parts[len(parts)-1], "?")[0]
		}
	} else {
		for _, part := range strings.Fields(dataSourceName) {
			if strings.HasPrefix(part, "dbname=") {
				dbName = strings.TrimPrefix(part, "dbname=")
				break
			}
		}
	}
	r.registerDB(DialectPostgres, dataSourceName, dbName, poolCode, poolOptions)
}

func (r *registry) RegisterSQLite(dataSourceName string, poolCode string, poolOptions *DBOptions) {
	dbName := strings.TrimPrefix(strings.Split(dataSourceName, "?")[0], "file:")
	r.registerDB(DialectSQLite, dataSourceName, dbName, poolCode, poolOptions)
}

func (r *registry) registerDB(dialect Dialect, dataSourceName, dbName, poolCode string, poolOptions *DBOptions) {
	if poolOptions == nil {
		poolOptions = &DBOptions{}
	}
	db := &dbConfig{code: poolCode, dialect: dialect, dataSourceName: dataSourceName, databaseName: dbName, options: poolOptions}
	if r.dbPools == nil {
		r.dbPools = make(map[string]DBConfig)
	}
	r.dbPools[poolCode] = db
}

type RedisOptions struct {
	User            string
	Password        string
	Master          string
	Sentinels       []string
	SentinelOptions *redis.FailoverOptions
}

func (r *registry) RegisterRedis(address string, db int, poolCode string, options *RedisOptions) {
	if options != nil && len(options.Sentinels) > 0 {
		sentinelOptions := options.SentinelOptions
		if sentinelOptions == nil {
			sentinelOptions = &redis.FailoverOptions{
				MasterName:      options.Master,
				SentinelAddrs:   options.Sentinels,
				DB:              db,
				ConnMaxIdleTime: time.Minute * 2,
				Username:        options.User,
				Password:        options.Password,
			}
		}
		client := redis.NewFailoverClient(sentinelOptions)
		r.registerRedis(client, poolCode, fmt.Sprintf("%v", options.Sentinels), db)
		return
	}
	redisOptions := &redis.Options{
		Addr:            address,
		DB:              db,
		ConnMaxIdleTime: time.Minute * 2,
	}
	if options != nil {
		redisOptions.Username = options.User
		redisOptions.Password = options.Password
	}
	if strings.HasSuffix(address, ".sock") {
		redisOptions.Network = "unix"
	}
	client := redis.NewClient(redisOptions)
	r.registerRedis(client, poolCode, address, db)
}

func (r *registry) registerRedis(client *redis.Client, code string, address string, db int) {
	redisPool := &redisCacheConfig{code: code, client: client, address: address, db: db}
	if r.redisPools == nil {
		r.redisPools = make(map[string]RedisPoolConfig)
	}
	r.redisPools[code] = redisPool
}

// RegisterBadger registers an embedded key-value pool stored under path, or
// kept in memory only when inMemory is set.
func (r *registry) RegisterBadger(path string, inMemory bool, poolCode string) {
	if r.kvPools == nil {
		r.kvPools = make(map[string]KVConfig)
	}
	r.kvPools[poolCode] = &kvConfig{code: poolCode, path: path, inMemory: inMemory}
}

type RedisPoolConfig interface {
	GetCode() string
	GetDatabaseNumber() int
	GetAddress() string
	getClient() *redis.Client
}

type redisCacheConfig struct {
	code    string
	client  *redis.Client
	db      int
	address string
}

func (p *redisCacheConfig) GetCode() string {
	return p.code
}

func (p *redisCacheConfig) GetDatabaseNumber() int {
	return p.db
}

func (p *redisCacheConfig) GetAddress() string {
	return p.address
}

func (p *redisCacheConfig) getClient() *redis.Client {
	return p.client
}
