package datamapper

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrNotInitialized      = errors.New("entity manager is not initialized")
	ErrMissingIdentity     = errors.New("entity has no identifier")
	ErrAlreadyQueued       = errors.New("entity is already queued in unit of work")
	ErrEmptyEntity         = errors.New("empty entity can't be saved")
	ErrCleanEntity         = errors.New("entity has no changes to save")
	ErrInterfaceMismatch   = errors.New("object does not implement required interface")
	ErrUnsupportedCriteria = errors.New("criteria not supported by mapper")
	ErrMapperNotBound      = errors.New("mapper is not bound")
	ErrMapperAlreadyBound  = errors.New("mapper is already bound")
)

// PropertyAccessError is returned when a property is unknown or can't be used
// in the requested direction.
type PropertyAccessError struct {
	Property string
	Reason   string
}

func (e *PropertyAccessError) Error() string {
	return fmt.Sprintf("property '%s' %s", e.Property, e.Reason)
}

const (
	propertyNotAvailable = "is not available"
	propertyReadOnly     = "is read only"
	propertyWriteOnly    = "is write only"
	propertyImmutable    = "can't be changed, object is immutable"
)

// PersistenceError reports that a mapper failed to write an entity.
type PersistenceError struct {
	Operation string
	Entity    string
	ID        string
	Err       error
}

func (e *PersistenceError) Error() string {
	message := fmt.Sprintf("%s of entity '%s'", e.Operation, e.Entity)
	if e.ID != "" {
		message += " [" + e.ID + "]"
	}
	message += " failed"
	if e.Err != nil {
		message += ": " + e.Err.Error()
	}
	return message
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
