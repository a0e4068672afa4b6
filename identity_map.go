package datamapper

import (
	"github.com/puzpuzpuz/xsync/v2"
)

// IdentityMap keeps one canonical instance per entity type and id.
type IdentityMap struct {
	entities *xsync.MapOf[string, *Entity]
}

func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entities: xsync.NewMapOf[*Entity]()}
}

func identityKey(entityType, id string) string {
	return entityType + ":" + id
}

// Get returns the canonical instance for e. The first instance seen for a
// type and id becomes canonical; later ones are returned untouched.
func (m *IdentityMap) Get(e *Entity) (*Entity, error) {
	if e == nil || e.id == "" {
		return nil, ErrMissingIdentity
	}
	canonical, _ := m.entities.LoadOrStore(identityKey(e.Type(), e.id), e)
	return canonical, nil
}

func (m *IdentityMap) Has(entityType, id string) bool {
	_, has := m.entities.Load(identityKey(entityType, id))
	return has
}

func (m *IdentityMap) Load(entityType, id string) (*Entity, bool) {
	return m.entities.Load(identityKey(entityType, id))
}

// Remove drops e only when it is the registered instance.
func (m *IdentityMap) Remove(e *Entity) {
	if e == nil || e.id == "" {
		return
	}
	key := identityKey(e.Type(), e.id)
	m.entities.Compute(key, func(current *Entity, loaded bool) (*Entity, bool) {
		return current, !loaded || current == e
	})
}

func (m *IdentityMap) Len() int {
	return m.entities.Size()
}

func (m *IdentityMap) Clear() {
	m.entities.Clear()
}
