package core

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerWritesRotatedJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crosscheck.log")
	logger := NewLogger(LogConfig{
		Level:    "warn",
		Format:   "json",
		Output:   "file",
		FilePath: path,
		MaxSize:  1,
	})

	ctx := WithSessionID(WithRequestID(context.Background(), "rid-1"), "run-1")
	logger.Info("dropped below warn")
	logger.WithContext(ctx).WithFields(map[string]interface{}{"agent": "a"}).Warnf("agent %s slow", "a")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "agent a slow", entry["msg"])
	assert.Equal(t, "rid-1", entry["request_id"])
	assert.Equal(t, "run-1", entry["session_id"])
	assert.Equal(t, "a", entry["agent"])
}

func TestWithContextWithoutIDs(t *testing.T) {
	obs, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(obs))

	logger.WithContext(context.Background()).Debug("plain")
	var none context.Context
	logger.WithContext(none).Debugf("also %s", "plain")

	require.Equal(t, 2, logs.Len())
	for _, e := range logs.All() {
		assert.Empty(t, e.ContextMap())
	}
	assert.Equal(t, "also plain", logs.All()[1].Message)
}

func TestWithFieldsDoesNotMutateParent(t *testing.T) {
	obs, logs := observer.New(zapcore.InfoLevel)
	parent := NewZapLogger(zap.New(obs))

	parent.WithFields(map[string]interface{}{"run_id": "r1"}).Info("child")
	parent.Info("parent")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "r1", entries[0].ContextMap()["run_id"])
	assert.NotContains(t, entries[1].ContextMap(), "run_id")
}

func TestNopAndNilZapLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		NewNopLogger().WithFields(map[string]interface{}{"k": "v"}).Error("discarded")
		NewZapLogger(nil).Info("discarded")
	})
}
