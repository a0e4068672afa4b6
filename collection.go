package datamapper

import (
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

type CollectionMeta map[string]any

// Collection is an immutable ordered list of entities of one type. Every
// modifying method returns a new collection.
type Collection struct {
	entityType string
	entities   []*Entity
	meta       CollectionMeta
}

func NewCollection(entityType string, entities ...*Entity) (*Collection, error) {
	c := &Collection{entityType: entityType}
	for _, e := range entities {
		var err error
		if c, err = c.WithEntity(e); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collection) Type() string {
	return c.entityType
}

func (c *Collection) checkType(e *Entity) error {
	if e == nil {
		return errors.Wrapf(ErrInterfaceMismatch, "collection of '%s' can't hold nil", c.entityType)
	}
	if e.Type() != c.entityType {
		return errors.Wrapf(ErrInterfaceMismatch, "collection of '%s' can't hold '%s'", c.entityType, e.Type())
	}
	return nil
}

func (c *Collection) copyWith(entities []*Entity) *Collection {
	return &Collection{entityType: c.entityType, entities: entities, meta: c.meta}
}

func (c *Collection) indexOf(e *Entity) int {
	for i, current := range c.entities {
		if current == e {
			return i
		}
	}
	return -1
}

// WithEntity returns c itself when e is already present.
func (c *Collection) WithEntity(e *Entity) (*Collection, error) {
	if err := c.checkType(e); err != nil {
		return nil, err
	}
	if c.indexOf(e) >= 0 {
		return c, nil
	}
	entities := make([]*Entity, len(c.entities), len(c.entities)+1)
	copy(entities, c.entities)
	return c.copyWith(append(entities, e)), nil
}

func (c *Collection) WithoutEntity(e *Entity) (*Collection, error) {
	if err := c.checkType(e); err != nil {
		return nil, err
	}
	i := c.indexOf(e)
	if i < 0 {
		return c, nil
	}
	entities := make([]*Entity, 0, len(c.entities)-1)
	entities = append(entities, c.entities[:i]...)
	entities = append(entities, c.entities[i+1:]...)
	return c.copyWith(entities), nil
}

func (c *Collection) WithMeta(meta CollectionMeta) *Collection {
	instance := c.copyWith(c.entities)
	instance.meta = meta
	return instance
}

func (c *Collection) Meta() CollectionMeta {
	return c.meta
}

func (c *Collection) Len() int {
	return len(c.entities)
}

func (c *Collection) At(i int) (*Entity, bool) {
	if i < 0 || i >= len(c.entities) {
		return nil, false
	}
	return c.entities[i], true
}

func (c *Collection) Entities() []*Entity {
	result := make([]*Entity, len(c.entities))
	copy(result, c.entities)
	return result
}

func (c *Collection) Filter(keep func(e *Entity) bool) *Collection {
	entities := make([]*Entity, 0, len(c.entities))
	for _, e := range c.entities {
		if keep(e) {
			entities = append(entities, e)
		}
	}
	return c.copyWith(entities)
}

func (c *Collection) Map(fn func(e *Entity) *Entity) (*Collection, error) {
	entities := make([]*Entity, 0, len(c.entities))
	for _, e := range c.entities {
		mapped := fn(e)
		if err := c.checkType(mapped); err != nil {
			return nil, err
		}
		entities = append(entities, mapped)
	}
	return c.copyWith(entities), nil
}

func (c *Collection) Reduce(fn func(carry any, e *Entity) any, initial any) any {
	carry := initial
	for _, e := range c.entities {
		carry = fn(carry, e)
	}
	return carry
}

// SortByField compares numbers numerically and everything else as
// case-insensitive strings. Direction is "asc" or "desc".
func (c *Collection) SortByField(field, direction string) (*Collection, error) {
	direction = strings.ToLower(direction)
	if direction != "asc" && direction != "desc" {
		return nil, errors.Errorf("unknown sort direction '%s'", direction)
	}
	entities := c.Entities()
	sort.SliceStable(entities, func(i, j int) bool {
		a, _ := entities[i].Get(field)
		b, _ := entities[j].Get(field)
		if direction == "desc" {
			return compareValues(a, b) > 0
		}
		return compareValues(a, b) < 0
	})
	return c.copyWith(entities), nil
}

// Search returns the first entity whose field equals value.
func (c *Collection) Search(field string, value any) (*Entity, bool) {
	for _, e := range c.entities {
		v, err := e.Get(field)
		if err != nil {
			continue
		}
		if valuesEqual(v, value) {
			return e, true
		}
	}
	return nil, false
}

func (c *Collection) ToArray() []map[string]any {
	return c.toArray(make(map[*Entity]bool))
}

func (c *Collection) toArray(visited map[*Entity]bool) []map[string]any {
	result := make([]map[string]any, len(c.entities))
	for i, e := range c.entities {
		result[i] = e.toMap(visited)
	}
	return result
}

func (c *Collection) MarshalJSON() ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(c.ToArray())
}
