package datamapper

import (
	"sort"

	jsoniter "github.com/json-iterator/go"
)

const idProperty = "id"

// LazyFunc is evaluated on first read of the attribute it is stored under.
type LazyFunc func(e *Entity) any

// Entity is the in-memory representative of one persisted record.
type Entity struct {
	SubjectBase
	schema     *entitySchema
	token      uint64
	id         string
	attributes map[string]any
	dirty      map[string]any
	relations  map[string]any
	functions  map[string]LazyFunc
	computed   map[string]any
	lastState  *Memento
	manager    *EntityManager
}

func newEntity(schema *entitySchema) *Entity {
	e := &Entity{
		schema:     schema,
		token:      nextToken(),
		attributes: make(map[string]any),
		dirty:      make(map[string]any),
		relations:  make(map[string]any),
		functions:  make(map[string]LazyFunc),
		computed:   make(map[string]any),
	}
	e.bind(FlagEmpty)
	e.saveState()
	return e
}

func (e *Entity) bind(flag Flag) {
	e.SubjectBase.init(e, e.schema.properties)
	e.SubjectBase.flag = flag
	e.SubjectBase.resolver = e.resolveProperty
	e.SubjectBase.mutated = func(flag Flag) Flag {
		return flag
	}
}

func (e *Entity) resolveProperty(name string) (Property, bool) {
	if name == idProperty || name == e.schema.primaryKey {
		return Property{Get: func(_ Subject) (any, error) {
			return e.id, nil
		}}, true
	}
	return Property{
		Get: func(_ Subject) (any, error) {
			return e.getAttribute(name)
		},
		Set: func(_ Subject, value any) error {
			return e.setAttribute(name, value)
		},
	}, true
}

func (e *Entity) getAttribute(name string) (any, error) {
	if v, has := e.attributes[name]; has {
		return v, nil
	}
	if v, has := e.relations[name]; has {
		return v, nil
	}
	if v, has := e.computed[name]; has {
		return v, nil
	}
	if f, has := e.functions[name]; has {
		v := f(e)
		e.computed[name] = v
		return v, nil
	}
	if e.schema.strict && !e.schema.fieldsMap[name] {
		return nil, &PropertyAccessError{Property: name, Reason: propertyNotAvailable}
	}
	return nil, nil
}

func (e *Entity) setAttribute(name string, value any) error {
	switch v := value.(type) {
	case *Entity:
		if v == nil {
			delete(e.relations, name)
			return nil
		}
		e.relations[name] = v
		return nil
	case *Collection:
		if v == nil {
			delete(e.relations, name)
			return nil
		}
		e.relations[name] = v
		return nil
	case LazyFunc:
		e.functions[name] = v
		delete(e.computed, name)
		return nil
	case func(e *Entity) any:
		e.functions[name] = v
		delete(e.computed, name)
		return nil
	}
	if _, isRelation := e.relations[name]; isRelation && value == nil {
		delete(e.relations, name)
		return nil
	}
	if e.schema.strict && !e.schema.fieldsMap[name] {
		return &PropertyAccessError{Property: name, Reason: propertyNotAvailable}
	}
	e.attributes[name] = value
	delete(e.computed, name)
	if e.flag == FlagClean {
		e.flag = FlagDirty
	}
	if e.flag == FlagDirty {
		e.dirty[name] = value
	}
	return nil
}

func (e *Entity) ID() string {
	return e.id
}

func (e *Entity) Type() string {
	return e.schema.name
}

func (e *Entity) Schema() EntitySchema {
	return e.schema
}

func (e *Entity) MustGet(name string) any {
	v, err := e.Get(name)
	if err != nil {
		panic(err)
	}
	return v
}

func (e *Entity) Attributes() map[string]any {
	return copyMap(e.attributes)
}

func (e *Entity) DirtyAttributes() map[string]any {
	return copyMap(e.dirty)
}

func (e *Entity) Relations() map[string]any {
	return copyMap(e.relations)
}

func (e *Entity) Relation(name string) (any, bool) {
	v, has := e.relations[name]
	return v, has
}

// Manager returns the entity manager this entity is attached to.
func (e *Entity) Manager() (*EntityManager, error) {
	if e.manager == nil {
		return nil, ErrNotInitialized
	}
	return e.manager, nil
}

// Clone returns an independent copy with no observers and no manager.
func (e *Entity) Clone() *Entity {
	c := &Entity{
		schema:     e.schema,
		token:      nextToken(),
		id:         e.id,
		attributes: copyMap(e.attributes),
		dirty:      copyMap(e.dirty),
		relations:  copyMap(e.relations),
		functions:  make(map[string]LazyFunc, len(e.functions)),
		computed:   copyMap(e.computed),
		lastState:  e.lastState,
	}
	for k, f := range e.functions {
		c.functions[k] = f
	}
	c.SubjectBase = e.SubjectBase.clone(c)
	c.bind(e.flag)
	return c
}

// WithData returns a copy populated through the property setters. The copy is
// CLEAN when it carries an id and NEW otherwise.
func (e *Entity) WithData(data map[string]any) (*Entity, error) {
	instance := e.Clone()
	names := make([]string, 0, len(data))
	for name := range data {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		value := data[name]
		if name == e.schema.primaryKey {
			if value != nil {
				instance.id = toString(value)
			}
			continue
		}
		if err := instance.Set(name, value); err != nil {
			return nil, err
		}
	}
	flag := FlagNew
	if instance.id != "" {
		flag = FlagClean
	}
	instance.dirty = make(map[string]any)
	instance.flag = flag
	instance.saveState()
	if err := instance.Notify(); err != nil {
		return nil, err
	}
	return instance, nil
}

// WithID returns a CLEAN copy carrying id, or the entity itself when it
// already has it.
func (e *Entity) WithID(id string) *Entity {
	if e.id == id {
		return e
	}
	instance := e.Clone()
	instance.id = id
	instance.flag = FlagClean
	instance.dirty = make(map[string]any)
	instance.saveState()
	return instance
}

// AssignID sets the id in place after the record was written and moves the
// entity to CLEAN.
func (e *Entity) AssignID(id string) error {
	e.id = id
	return e.markClean()
}

func (e *Entity) markClean() error {
	if e.id == "" {
		return nil
	}
	e.dirty = make(map[string]any)
	e.flag = FlagClean
	e.saveState()
	return e.Notify()
}

func (e *Entity) saveState() {
	e.lastState = e.CreateMemento()
}

// CreateMemento snapshots id, attributes, dirty attributes and flag. Relations
// and lazy functions are not part of it.
func (e *Entity) CreateMemento() *Memento {
	return newMemento(e.id, e.attributes, e.dirty, e.flag)
}

func (e *Entity) SetMemento(m *Memento) error {
	if m == nil {
		return nil
	}
	id, attributes, dirty, flag := m.state()
	e.id = id
	e.attributes = attributes
	e.dirty = dirty
	e.computed = make(map[string]any)
	return e.SetFlag(flag)
}

// RollBack restores the last state the entity was loaded, created or written with.
func (e *Entity) RollBack() error {
	return e.SetMemento(e.lastState)
}

// ToMap exports the entity with its relations. A relation pointing back to an
// entity already being exported is written as its id only.
func (e *Entity) ToMap() map[string]any {
	return e.toMap(make(map[*Entity]bool))
}

func (e *Entity) toMap(visited map[*Entity]bool) map[string]any {
	result := make(map[string]any, len(e.attributes)+len(e.relations)+1)
	if e.id != "" {
		result[e.schema.primaryKey] = e.id
	}
	if visited[e] {
		return result
	}
	visited[e] = true
	defer delete(visited, e)
	for k, v := range e.computed {
		result[k] = v
	}
	for k, v := range e.attributes {
		result[k] = v
	}
	for k, v := range e.relations {
		switch r := v.(type) {
		case *Entity:
			if r != nil {
				result[k] = r.toMap(visited)
			}
		case *Collection:
			if r != nil {
				result[k] = r.toArray(visited)
			}
		}
	}
	return result
}

func (e *Entity) MarshalJSON() ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(e.ToMap())
}
