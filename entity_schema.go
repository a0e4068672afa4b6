package datamapper

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type StorageType string

const (
	StorageSQL    StorageType = "sql"
	StorageRedis  StorageType = "redis"
	StorageBadger StorageType = "badger"
	StorageMemory StorageType = "memory"
)

const defaultPrimaryKey = "id"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EntityDefinition describes one entity type. Declaring Fields makes the
// schema strict: attributes outside the list are rejected.
type EntityDefinition struct {
	Name       string
	Table      string
	PrimaryKey string
	Storage    StorageType
	Pool       string
	Fields     []string
	Properties Properties
}

type EntitySchema interface {
	GetName() string
	GetTableName() string
	GetPrimaryKey() string
	GetStorage() StorageType
	GetPool() string
	GetFields() []string
	IsStrict() bool
	NewEntity() *Entity
	GetMapper() (Mapper, error)
	Truncate(ctx Context) error
}

type entitySchema struct {
	name       string
	tableName  string
	primaryKey string
	storage    StorageType
	pool       string
	fields     []string
	fieldsMap  map[string]bool
	strict     bool
	properties Properties
	engine     *engineImplementation
}

func newEntitySchema(definition *EntityDefinition) (*entitySchema, error) {
	if definition.Name == "" {
		return nil, errors.New("entity name is empty")
	}
	schema := &entitySchema{
		name:       definition.Name,
		tableName:  definition.Table,
		primaryKey: definition.PrimaryKey,
		storage:    definition.Storage,
		pool:       definition.Pool,
		properties: definition.Properties,
		fieldsMap:  make(map[string]bool),
	}
	if schema.tableName == "" {
		schema.tableName = strings.ToLower(definition.Name)
	}
	if !identifierPattern.MatchString(schema.tableName) {
		return nil, fmt.Errorf("invalid table name '%s' in entity '%s'", schema.tableName, definition.Name)
	}
	if schema.primaryKey == "" {
		schema.primaryKey = defaultPrimaryKey
	}
	if schema.storage == "" {
		schema.storage = StorageSQL
	}
	switch schema.storage {
	case StorageSQL, StorageRedis, StorageBadger, StorageMemory:
	default:
		return nil, fmt.Errorf("unsupported storage '%s' in entity '%s'", schema.storage, definition.Name)
	}
	if schema.pool == "" {
		schema.pool = DefaultPoolCode
	}
	for _, field := range definition.Fields {
		if field == schema.primaryKey {
			continue
		}
		if !identifierPattern.MatchString(field) {
			return nil, fmt.Errorf("invalid field '%s' in entity '%s'", field, definition.Name)
		}
		if schema.fieldsMap[field] {
			return nil, fmt.Errorf("duplicated field '%s' in entity '%s'", field, definition.Name)
		}
		schema.fieldsMap[field] = true
		schema.fields = append(schema.fields, field)
	}
	sort.Strings(schema.fields)
	schema.strict = len(schema.fields) > 0
	return schema, nil
}

func (e *entitySchema) GetName() string {
	return e.name
}

func (e *entitySchema) GetTableName() string {
	return e.tableName
}

func (e *entitySchema) GetPrimaryKey() string {
	return e.primaryKey
}

func (e *entitySchema) GetStorage() StorageType {
	return e.storage
}

func (e *entitySchema) GetPool() string {
	return e.pool
}

func (e *entitySchema) GetFields() []string {
	return e.fields
}

func (e *entitySchema) IsStrict() bool {
	return e.strict
}

// NewEntity returns an EMPTY entity of this type.
func (e *entitySchema) NewEntity() *Entity {
	return newEntity(e)
}

func (e *entitySchema) GetMapper() (Mapper, error) {
	return e.engine.mappers.load(e)
}

func (e *entitySchema) Truncate(ctx Context) error {
	mapper, err := e.GetMapper()
	if err != nil {
		return err
	}
	t, is := mapper.(truncater)
	if !is {
		return errors.Wrapf(ErrInterfaceMismatch, "mapper of entity '%s' can't be truncated", e.name)
	}
	return t.Truncate(ctx)
}

// filterRow keeps only declared fields when the schema is strict.
func (e *entitySchema) filterRow(row map[string]any) map[string]any {
	if !e.strict {
		return row
	}
	filtered := make(map[string]any, len(row))
	for k, v := range row {
		if k == e.primaryKey || e.fieldsMap[k] {
			filtered[k] = v
		}
	}
	return filtered
}

// buildEntity materialises a stored row into an entity of this schema.
func (e *entitySchema) buildEntity(row map[string]any) (*Entity, error) {
	return e.NewEntity().WithData(e.filterRow(row))
}
