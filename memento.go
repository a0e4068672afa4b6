package datamapper

// Memento is an immutable snapshot of an entity state.
type Memento struct {
	id         string
	attributes map[string]any
	dirty      map[string]any
	flag       Flag
}

func newMemento(id string, attributes, dirty map[string]any, flag Flag) *Memento {
	return &Memento{id: id, attributes: copyMap(attributes), dirty: copyMap(dirty), flag: flag}
}

func (m *Memento) Flag() Flag {
	return m.flag
}

func (m *Memento) state() (id string, attributes, dirty map[string]any, flag Flag) {
	return m.id, copyMap(m.attributes), copyMap(m.dirty), m.flag
}

func copyMap(source map[string]any) map[string]any {
	result := make(map[string]any, len(source))
	for k, v := range source {
		result[k] = v
	}
	return result
}
