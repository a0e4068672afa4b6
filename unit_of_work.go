package datamapper

import (
	"sync"
)

type uowOperation string

const (
	uowSave   uowOperation = "save"
	uowRemove uowOperation = "remove"
)

type pendingEntity struct {
	entity    *Entity
	operation uowOperation
	thenable  *Thenable[*Entity]
}

// UnitOfWork holds entities pending a save or removal. An entity instance can
// be queued only once until the next Commit or RollBack.
type UnitOfWork struct {
	mutex   sync.Mutex
	pending []*pendingEntity
	index   map[uint64]*pendingEntity
}

func NewUnitOfWork() *UnitOfWork {
	return &UnitOfWork{index: make(map[uint64]*pendingEntity)}
}

func (u *UnitOfWork) Save(e *Entity) (*Thenable[*Entity], error) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	if _, has := u.index[e.token]; has {
		return nil, ErrAlreadyQueued
	}
	switch e.Flag() {
	case FlagEmpty:
		return nil, ErrEmptyEntity
	case FlagClean:
		return nil, ErrCleanEntity
	}
	return u.push(e, uowSave), nil
}

func (u *UnitOfWork) Remove(e *Entity) (*Thenable[*Entity], error) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	if _, has := u.index[e.token]; has {
		return nil, ErrAlreadyQueued
	}
	return u.push(e, uowRemove), nil
}

func (u *UnitOfWork) push(e *Entity, operation uowOperation) *Thenable[*Entity] {
	entry := &pendingEntity{entity: e, operation: operation, thenable: Resolved(e)}
	u.pending = append(u.pending, entry)
	u.index[e.token] = entry
	return entry.thenable
}

func (u *UnitOfWork) Contains(e *Entity) bool {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	_, has := u.index[e.token]
	return has
}

func (u *UnitOfWork) Len() int {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	return len(u.pending)
}

// Commit runs every queued chain in insertion order and stops at the first
// failure. The entries taken by this commit are dropped whatever the outcome;
// entities queued by the chains themselves stay for the next commit.
func (u *UnitOfWork) Commit() error {
	u.mutex.Lock()
	batch := make([]*pendingEntity, len(u.pending))
	copy(batch, u.pending)
	u.mutex.Unlock()

	var err error
	for _, entry := range batch {
		if _, err = entry.thenable.Invoke(); err != nil {
			break
		}
	}
	u.drop(batch)
	return err
}

// RollBack restores every queued entity to its last known good state and
// empties the queue. All entities are restored even when one fails; the first
// error is returned.
func (u *UnitOfWork) RollBack() error {
	u.mutex.Lock()
	batch := u.pending
	u.pending = nil
	u.index = make(map[uint64]*pendingEntity)
	u.mutex.Unlock()
	var first error
	for _, entry := range batch {
		if err := entry.entity.RollBack(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (u *UnitOfWork) drop(batch []*pendingEntity) {
	u.mutex.Lock()
	defer u.mutex.Unlock()
	done := make(map[*pendingEntity]bool, len(batch))
	for _, entry := range batch {
		done[entry] = true
		if u.index[entry.entity.token] == entry {
			delete(u.index, entry.entity.token)
		}
	}
	rest := u.pending[:0:0]
	for _, entry := range u.pending {
		if !done[entry] {
			rest = append(rest, entry)
		}
	}
	u.pending = rest
}
