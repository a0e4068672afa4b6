package datamapper

type Flag int

const (
	FlagEmpty Flag = iota
	FlagClean
	FlagNew
	FlagDirty
	FlagLog
	FlagHasError
	FlagComplete
)

func (f Flag) String() string {
	switch f {
	case FlagEmpty:
		return "EMPTY"
	case FlagClean:
		return "CLEAN"
	case FlagNew:
		return "NEW"
	case FlagDirty:
		return "DIRTY"
	case FlagLog:
		return "LOG"
	case FlagHasError:
		return "HAS_ERROR"
	case FlagComplete:
		return "COMPLETE"
	}
	return "UNKNOWN"
}

// Observer receives synchronous notifications from every subject it is
// attached to. Implementations must be comparable (pointer receivers).
type Observer interface {
	Update(subject Subject) error
}

type Subject interface {
	Flag() Flag
	Attach(observer Observer)
	Detach(observer Observer)
	Notify() error
	Get(name string) (any, error)
	Set(name string, value any) error
	Unset(name string) error
}

// Property is one entry of the accessor/mutator table of a subject.
// A nil Set makes the property read only, a nil Get write only.
type Property struct {
	Get func(subject Subject) (any, error)
	Set func(subject Subject, value any) error
}

type Properties map[string]Property

// SubjectBase carries the state flag, observers and property dispatch shared
// by every subject. Types embedding it must call init with themselves.
type SubjectBase struct {
	flag       Flag
	observers  []Observer
	owner      Subject
	properties Properties
	resolver   func(name string) (Property, bool)
	mutated    func(flag Flag) Flag
}

func (s *SubjectBase) init(owner Subject, properties Properties) {
	s.owner = owner
	s.properties = properties
	s.flag = FlagEmpty
}

// NewSubjectBase prepares a base for a custom subject type.
func NewSubjectBase(owner Subject, properties Properties) SubjectBase {
	s := SubjectBase{}
	s.init(owner, properties)
	return s
}

func (s *SubjectBase) Flag() Flag {
	return s.flag
}

func (s *SubjectBase) SetFlag(flag Flag) error {
	s.flag = flag
	return s.Notify()
}

func (s *SubjectBase) Attach(observer Observer) {
	for _, o := range s.observers {
		if o == observer {
			return
		}
	}
	s.observers = append(s.observers, observer)
}

func (s *SubjectBase) Detach(observer Observer) {
	for i, o := range s.observers {
		if o == observer {
			s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
			return
		}
	}
}

func (s *SubjectBase) Observers() int {
	return len(s.observers)
}

// Notify stops at the first observer error.
func (s *SubjectBase) Notify() error {
	if len(s.observers) == 0 {
		return nil
	}
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	for _, observer := range observers {
		if err := observer.Update(s.owner); err != nil {
			return err
		}
	}
	return nil
}

func (s *SubjectBase) property(name string) (Property, bool) {
	if p, has := s.properties[name]; has {
		return p, true
	}
	if s.resolver != nil {
		return s.resolver(name)
	}
	return Property{}, false
}

func (s *SubjectBase) Get(name string) (any, error) {
	p, has := s.property(name)
	if !has {
		return nil, &PropertyAccessError{Property: name, Reason: propertyNotAvailable}
	}
	if p.Get == nil {
		return nil, &PropertyAccessError{Property: name, Reason: propertyWriteOnly}
	}
	return p.Get(s.owner)
}

func (s *SubjectBase) Set(name string, value any) error {
	p, has := s.property(name)
	if !has {
		return &PropertyAccessError{Property: name, Reason: propertyNotAvailable}
	}
	if p.Set == nil {
		return &PropertyAccessError{Property: name, Reason: propertyReadOnly}
	}
	if err := p.Set(s.owner, value); err != nil {
		return err
	}
	return s.changed()
}

func (s *SubjectBase) Unset(name string) error {
	return s.Set(name, nil)
}

func (s *SubjectBase) changed() error {
	if s.mutated != nil {
		return s.SetFlag(s.mutated(s.flag))
	}
	return s.SetFlag(FlagDirty)
}

// clone returns a copy without observers.
func (s *SubjectBase) clone(owner Subject) SubjectBase {
	return SubjectBase{
		flag:       s.flag,
		owner:      owner,
		properties: s.properties,
		mutated:    s.mutated,
	}
}
