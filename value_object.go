package datamapper

import (
	jsoniter "github.com/json-iterator/go"
)

// ValueObject is an immutable object. Its properties can be read through the
// getter table; Set and Unset always fail.
type ValueObject struct {
	properties Properties
}

func NewValueObject(properties Properties) *ValueObject {
	return &ValueObject{properties: properties}
}

func (v *ValueObject) Get(name string) (any, error) {
	p, has := v.properties[name]
	if !has {
		return nil, &PropertyAccessError{Property: name, Reason: propertyNotAvailable}
	}
	if p.Get == nil {
		return nil, &PropertyAccessError{Property: name, Reason: propertyWriteOnly}
	}
	return p.Get(nil)
}

func (v *ValueObject) Set(name string, _ any) error {
	return &PropertyAccessError{Property: name, Reason: propertyImmutable}
}

func (v *ValueObject) Unset(name string) error {
	return &PropertyAccessError{Property: name, Reason: propertyImmutable}
}

// MetaData is a read only bag of attributes. Missing names read as nil.
type MetaData struct {
	ValueObject
	attributes map[string]any
}

func NewMetaData(data map[string]any) *MetaData {
	return &MetaData{attributes: copyMap(data)}
}

func (m *MetaData) Get(name string) (any, error) {
	return m.attributes[name], nil
}

func (m *MetaData) Has(name string) bool {
	v, has := m.attributes[name]
	return has && v != nil
}

func (m *MetaData) Values() map[string]any {
	return copyMap(m.attributes)
}

func (m *MetaData) MarshalJSON() ([]byte, error) {
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(m.attributes)
}
