package datamapper

import (
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Model is a non-entity subject for service objects. Log raises FlagLog so
// observers such as ModelLogger can pick the record up.
type Model struct {
	SubjectBase
	manager *EntityManager
	level   zapcore.Level
	message string
	fields  map[string]any
}

func NewModel(manager *EntityManager, properties Properties) *Model {
	m := &Model{manager: manager}
	m.SubjectBase.init(m, properties)
	m.SubjectBase.flag = FlagClean
	return m
}

func (m *Model) Manager() *EntityManager {
	return m.manager
}

func (m *Model) LogLevel() zapcore.Level {
	return m.level
}

func (m *Model) LogMessage() string {
	return m.message
}

func (m *Model) LogFields() map[string]any {
	return m.fields
}

// Log notifies observers with the record, then clears it and restores the
// previous flag.
func (m *Model) Log(level zapcore.Level, message string, fields map[string]any) error {
	previous := m.flag
	m.level = level
	m.message = message
	m.fields = fields
	err := m.SetFlag(FlagLog)
	m.level = zapcore.InfoLevel
	m.message = ""
	m.fields = nil
	m.flag = previous
	return err
}

// ModelLogger writes the records of observed models to zap.
type ModelLogger struct {
	logger *zap.SugaredLogger
}

func NewModelLogger(logger *zap.Logger) *ModelLogger {
	return &ModelLogger{logger: logger.Sugar()}
}

func (l *ModelLogger) Update(subject Subject) error {
	m, is := subject.(*Model)
	if !is || m.Flag() != FlagLog {
		return nil
	}
	keys := make([]string, 0, len(m.fields))
	for key := range m.fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	keysAndValues := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		keysAndValues = append(keysAndValues, key, m.fields[key])
	}
	l.logger.Logw(m.level, m.message, keysAndValues...)
	return nil
}
