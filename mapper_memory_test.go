package datamapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryMapper(t *testing.T) {
	m := prepareMemory(t, NewRegistry(), &EntityDefinition{Name: "tag", Storage: StorageMemory, Fields: []string{"label"}})
	mapper, err := m.mapperOf("tag")
	assert.NoError(t, err)

	e, err := m.NewEntity("tag", map[string]any{"label": "go"})
	assert.NoError(t, err)
	saved, err := mapper.Save(m, e)
	assert.NoError(t, err)
	assert.True(t, saved)
	assert.Len(t, e.ID(), 36)
	assert.Equal(t, FlagClean, e.Flag())

	saved, err = mapper.Save(m, e)
	assert.NoError(t, err)
	assert.False(t, saved)

	ghost := m.Engine().Registry().EntitySchema("tag").NewEntity().WithID("missing")
	assert.NoError(t, ghost.Set("label", "x"))
	saved, err = mapper.Save(m, ghost)
	assert.NoError(t, err)
	assert.False(t, saved)
	removed, err := mapper.Remove(m, ghost)
	assert.NoError(t, err)
	assert.False(t, removed)

	projected, err := mapper.FindAll(m, &Criteria{Columns: []string{"label"}})
	assert.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": e.ID(), "label": "go"}}, projected.ToArray())

	total, err := mapper.Count(m, nil)
	assert.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.NoError(t, m.Engine().Registry().EntitySchema("tag").Truncate(m))
	total, err = mapper.Count(m, nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestMapperFactoryCalledOnce(t *testing.T) {
	registry := NewRegistry()
	calls := 0
	assert.NoError(t, registry.BindMapper("tag", func(schema EntitySchema, engine Engine) (Mapper, error) {
		calls++
		return NewMemoryMapper(schema, engine)
	}))
	assert.ErrorIs(t, registry.BindMapper("tag", NewMemoryMapper), ErrMapperAlreadyBound)
	m := prepareMemory(t, registry, &EntityDefinition{Name: "tag", Storage: StorageRedis})
	for i := 0; i < 3; i++ {
		_, err := m.Count("tag", nil)
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, calls)

	unbound := NewRegistry()
	assert.NoError(t, unbound.BindMapper("missing", NewMemoryMapper))
	unbound.RegisterEntity(&EntityDefinition{Name: "tag", Storage: StorageMemory})
	_, err := unbound.Validate()
	assert.EqualError(t, err, "mapper bound to unregistered entity 'missing'")
}
