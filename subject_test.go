package datamapper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type counter struct {
	SubjectBase
	value  int
	secret string
}

func newCounter() *counter {
	c := &counter{}
	c.SubjectBase = NewSubjectBase(c, Properties{
		"value": {
			Get: func(s Subject) (any, error) {
				return s.(*counter).value, nil
			},
			Set: func(s Subject, value any) error {
				s.(*counter).value = value.(int)
				return nil
			},
		},
		"double": {
			Get: func(s Subject) (any, error) {
				return s.(*counter).value * 2, nil
			},
		},
		"secret": {
			Set: func(s Subject, value any) error {
				s.(*counter).secret = value.(string)
				return nil
			},
		},
	})
	return c
}

type recordingObserver struct {
	name  string
	calls *[]string
	err   error
}

func (o *recordingObserver) Update(s Subject) error {
	*o.calls = append(*o.calls, o.name+":"+s.Flag().String())
	return o.err
}

func TestSubjectProperties(t *testing.T) {
	c := newCounter()
	assert.Equal(t, FlagEmpty, c.Flag())

	assert.NoError(t, c.Set("value", 3))
	assert.Equal(t, FlagDirty, c.Flag())
	v, err := c.Get("value")
	assert.NoError(t, err)
	assert.Equal(t, 3, v)
	v, err = c.Get("double")
	assert.NoError(t, err)
	assert.Equal(t, 6, v)

	err = c.Set("double", 4)
	var accessErr *PropertyAccessError
	assert.ErrorAs(t, err, &accessErr)
	assert.Equal(t, "double", accessErr.Property)
	assert.EqualError(t, err, "property 'double' is read only")

	assert.NoError(t, c.Set("secret", "abc"))
	assert.Equal(t, "abc", c.secret)
	_, err = c.Get("secret")
	assert.EqualError(t, err, "property 'secret' is write only")

	_, err = c.Get("missing")
	assert.EqualError(t, err, "property 'missing' is not available")
	assert.EqualError(t, c.Set("missing", 1), "property 'missing' is not available")
}

func TestSubjectObservers(t *testing.T) {
	c := newCounter()
	var calls []string
	first := &recordingObserver{name: "first", calls: &calls}
	second := &recordingObserver{name: "second", calls: &calls}
	c.Attach(first)
	c.Attach(second)
	c.Attach(first)
	assert.Equal(t, 2, c.Observers())

	assert.NoError(t, c.Set("value", 1))
	assert.Equal(t, []string{"first:DIRTY", "second:DIRTY"}, calls)

	calls = nil
	c.Detach(first)
	c.Detach(first)
	assert.NoError(t, c.SetFlag(FlagClean))
	assert.Equal(t, []string{"second:CLEAN"}, calls)
}

func TestSubjectNotifyStopsAtFirstError(t *testing.T) {
	c := newCounter()
	var calls []string
	failing := &recordingObserver{name: "failing", calls: &calls, err: errors.New("observer failed")}
	last := &recordingObserver{name: "last", calls: &calls}
	c.Attach(failing)
	c.Attach(last)

	err := c.Set("value", 5)
	assert.EqualError(t, err, "observer failed")
	assert.Equal(t, []string{"failing:DIRTY"}, calls)
	assert.Equal(t, 5, c.value)
}

func TestSubjectUnset(t *testing.T) {
	var calls []string
	e := newEntity(mustSchema(t, &EntityDefinition{Name: "user", Storage: StorageMemory}))
	e.Attach(&recordingObserver{name: "o", calls: &calls})
	assert.NoError(t, e.Set("name", "Alice"))
	assert.NoError(t, e.Unset("name"))
	v, err := e.Get("name")
	assert.NoError(t, err)
	assert.Nil(t, v)
	assert.Len(t, calls, 2)
}

func TestFlagString(t *testing.T) {
	assert.Equal(t, "EMPTY", FlagEmpty.String())
	assert.Equal(t, "CLEAN", FlagClean.String())
	assert.Equal(t, "NEW", FlagNew.String())
	assert.Equal(t, "DIRTY", FlagDirty.String())
	assert.Equal(t, "LOG", FlagLog.String())
	assert.Equal(t, "HAS_ERROR", FlagHasError.String())
	assert.Equal(t, "COMPLETE", FlagComplete.String())
	assert.Equal(t, "UNKNOWN", Flag(42).String())
}
