package datamapper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	for _, mode := range []string{"", "dev", "prod", "Production"} {
		logger, err := NewLogger(mode)
		assert.NoError(t, err)
		assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	}
}

func TestZapLogHandler(t *testing.T) {
	m := prepareMemory(t, NewRegistry())
	core, logs := observer.New(zap.DebugLevel)
	handler := NewZapLogHandler(zap.New(core))

	handler.Handle(m, map[string]any{"source": sourceDB, "pool": "default", "operation": "SELECT", "query": "SELECT 1"})
	fillLogFields(m, []LogHandler{handler}, "default", sourceKV, "GET", "k", nil, true, errors.New("gone"))

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
		assert.Equal(t, "datamapper", entries[0].Message)
		assert.Equal(t, "SELECT 1", entries[0].ContextMap()["query"])
		assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
		fields := entries[1].ContextMap()
		assert.Equal(t, "kv", fields["source"])
		assert.Equal(t, "TRUE", fields["miss"])
		assert.Equal(t, "gone", fields["error"])
	}
}

func TestEnableQueryDebug(t *testing.T) {
	registry := NewRegistry()
	core, logs := observer.New(zap.DebugLevel)
	registry.SetLogger(zap.New(core))
	m := PrepareSQLite(t, registry, sqlUser())
	m.EnableQueryDebug()
	m.SetMetaData("request", "r1")

	total, err := m.Count("user", nil)
	assert.NoError(t, err)
	assert.Equal(t, 0, total)

	found := logs.FilterMessage("datamapper").FilterField(zap.String("source", sourceDB)).All()
	if assert.NotEmpty(t, found) {
		assert.Equal(t, "SELECT", found[0].ContextMap()["operation"])
		assert.Equal(t, DefaultPoolCode, found[0].ContextMap()["pool"])
	}
}
