package datamapper

import (
	"github.com/pkg/errors"
)

// Aggregate is a subject grouping entities changed together by a command.
type Aggregate interface {
	Subject
	Manager() *EntityManager
	MetaData() *MetaData
	SetCompleted() error
	SetHasError() error
}

// AggregateBase implements Aggregate for types embedding it. It starts CLEAN.
type AggregateBase struct {
	SubjectBase
	manager *EntityManager
	meta    *MetaData
}

func NewAggregateBase(owner Subject, manager *EntityManager, properties Properties, meta *MetaData) AggregateBase {
	a := AggregateBase{manager: manager, meta: meta}
	a.SubjectBase.init(owner, properties)
	a.SubjectBase.flag = FlagClean
	if a.meta == nil {
		a.meta = NewMetaData(nil)
	}
	return a
}

func (a *AggregateBase) Manager() *EntityManager {
	return a.manager
}

func (a *AggregateBase) MetaData() *MetaData {
	return a.meta
}

func (a *AggregateBase) SetCompleted() error {
	return a.SetFlag(FlagComplete)
}

func (a *AggregateBase) SetHasError() error {
	return a.SetFlag(FlagHasError)
}

type AggregateFactory func(manager *EntityManager) (Subject, error)

// CreateAggregate builds a subject with factory and checks it is an Aggregate.
func CreateAggregate(manager *EntityManager, factory AggregateFactory) (Aggregate, error) {
	if manager == nil {
		return nil, ErrNotInitialized
	}
	s, err := factory(manager)
	if err != nil {
		return nil, err
	}
	a, is := s.(Aggregate)
	if !is {
		return nil, errors.Wrapf(ErrInterfaceMismatch, "aggregate %T does not implement Aggregate", s)
	}
	return a, nil
}

// Command runs one operation on its aggregate.
type Command interface {
	Aggregate() Aggregate
	Execute() (bool, error)
}

type CommandBase struct {
	aggregate Aggregate
}

func NewCommandBase(aggregate Aggregate) CommandBase {
	return CommandBase{aggregate: aggregate}
}

func (c *CommandBase) Aggregate() Aggregate {
	return c.aggregate
}

// ExecuteCommand runs command and flags its aggregate COMPLETE on success or
// HAS_ERROR when Execute failed or reported false. The Execute error wins over
// a flag notification error.
func ExecuteCommand(command Command) (bool, error) {
	ok, err := command.Execute()
	aggregate := command.Aggregate()
	if err != nil || !ok {
		flagErr := aggregate.SetHasError()
		if err == nil {
			err = flagErr
		}
		return false, err
	}
	return true, aggregate.SetCompleted()
}
