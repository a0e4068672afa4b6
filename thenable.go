package datamapper

// Thenable is a synchronous continuation chain. Invoke runs the initial step
// and feeds each result into the next registered step.
type Thenable[T any] struct {
	start func() (T, error)
	steps []func(value T) (T, error)
}

func NewThenable[T any](start func() (T, error)) *Thenable[T] {
	return &Thenable[T]{start: start}
}

// Resolved returns a chain starting with value.
func Resolved[T any](value T) *Thenable[T] {
	return NewThenable(func() (T, error) {
		return value, nil
	})
}

func (t *Thenable[T]) Then(step func(value T) (T, error)) *Thenable[T] {
	t.steps = append(t.steps, step)
	return t
}

func (t *Thenable[T]) Len() int {
	return len(t.steps)
}

// Invoke stops at the first failing step and returns its error.
func (t *Thenable[T]) Invoke() (T, error) {
	value, err := t.start()
	if err != nil {
		return value, err
	}
	for _, step := range t.steps {
		value, err = step(value)
		if err != nil {
			return value, err
		}
	}
	return value, nil
}
