package datamapper

import (
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type ConfigDB struct {
	Code               string `yaml:"code" validate:"required"`
	URI                string `yaml:"uri" validate:"required"`
	ConnMaxLifetime    int    `yaml:"connMaxLifetime"`
	MaxOpenConnections int    `yaml:"maxOpenConnections"`
	MaxIdleConnections int    `yaml:"maxIdleConnections"`
}

type ConfigRedis struct {
	Code     string `yaml:"code" validate:"required"`
	URI      string `yaml:"uri" validate:"required"`
	Database int    `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type ConfigRedisSentinel struct {
	Code       string   `yaml:"code" validate:"required"`
	MasterName string   `yaml:"masterName" validate:"required"`
	Database   int      `yaml:"database"`
	Sentinels  []string `yaml:"sentinels"`
	User       string   `yaml:"user"`
	Password   string   `yaml:"password"`
}

type ConfigBadger struct {
	Code     string `yaml:"code" validate:"required"`
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
}

type ConfigEntity struct {
	Name       string   `yaml:"name" validate:"required"`
	Table      string   `yaml:"table"`
	PrimaryKey string   `yaml:"primaryKey"`
	Storage    string   `yaml:"storage"`
	Pool       string   `yaml:"pool"`
	Fields     []string `yaml:"fields"`
}

type Config struct {
	MySQlPools         []ConfigDB            `yaml:"mysqlPools"`
	PostgresPools      []ConfigDB            `yaml:"postgresPools"`
	SQLitePools        []ConfigDB            `yaml:"sqlitePools"`
	RedisPools         []ConfigRedis         `yaml:"redisPools"`
	RedisSentinelPools []ConfigRedisSentinel `yaml:"redisSentinelPools"`
	BadgerPools        []ConfigBadger        `yaml:"badgerPools"`
	Entities           []ConfigEntity        `yaml:"entities"`
	AutoPersistence    *bool                 `yaml:"autoPersistence"`
}

func (c ConfigDB) options() *DBOptions {
	return &DBOptions{
		ConnMaxLifetime:    time.Duration(c.ConnMaxLifetime) * time.Second,
		MaxOpenConnections: c.MaxOpenConnections,
		MaxIdleConnections: c.MaxIdleConnections,
	}
}

func (r *registry) InitByConfig(config *Config) error {
	for _, pool := range config.MySQlPools {
		r.RegisterMySQL(pool.URI, pool.Code, pool.options())
	}
	for _, pool := range config.PostgresPools {
		r.RegisterPostgres(pool.URI, pool.Code, pool.options())
	}
	for _, pool := range config.SQLitePools {
		r.RegisterSQLite(pool.URI, pool.Code, pool.options())
	}
	for _, pool := range config.RedisPools {
		options := &RedisOptions{}
		if pool.User != "" {
			options.User = pool.User
		}
		if pool.Password != "" {
			options.Password = pool.Password
		}
		r.RegisterRedis(pool.URI, pool.Database, pool.Code, options)
	}
	for _, pool := range config.RedisSentinelPools {
		options := &RedisOptions{Master: pool.MasterName, Sentinels: pool.Sentinels}
		if pool.User != "" {
			options.User = pool.User
		}
		if pool.Password != "" {
			options.Password = pool.Password
		}
		r.RegisterRedis("", pool.Database, pool.Code, options)
	}
	for _, pool := range config.BadgerPools {
		if pool.Path == "" && !pool.InMemory {
			return errors.Errorf("badger pool '%s' needs a path or inMemory", pool.Code)
		}
		r.RegisterBadger(pool.Path, pool.InMemory, pool.Code)
	}
	for _, entity := range config.Entities {
		r.RegisterEntity(&EntityDefinition{
			Name:       entity.Name,
			Table:      entity.Table,
			PrimaryKey: entity.PrimaryKey,
			Storage:    StorageType(entity.Storage),
			Pool:       entity.Pool,
			Fields:     entity.Fields,
		})
	}
	if config.AutoPersistence != nil {
		r.SetOption(OptionAutoPersistence, *config.AutoPersistence)
	}
	return nil
}

// InitByYaml registers pools and entities described by a YAML document with
// the layout of Config.
func (r *registry) InitByYaml(data []byte) error {
	config := &Config{}
	if err := yaml.UnmarshalStrict(data, config); err != nil {
		return errors.Wrap(err, "invalid yaml config")
	}
	return r.InitByConfig(config)
}
