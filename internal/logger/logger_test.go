package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}

func TestReplace(t *testing.T) {
	prev := L()
	t.Cleanup(func() { logger = prev })

	core, logs := observer.New(zapcore.InfoLevel)
	Replace(zap.New(core))

	L().Infow("run finished", "id", "abc")
	L().Debug("dropped")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "run finished", entries[0].Message)
	assert.Equal(t, "abc", entries[0].ContextMap()["id"])
}
