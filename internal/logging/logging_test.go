package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSplitsByLevel(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger, err := NewWithWriters("info", &stdout, &stderr)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("trained", zap.Int("added", 2))
	logger.Error("failed")
	require.NoError(t, logger.Sync())

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &line))
	assert.Equal(t, "trained", line["msg"])
	assert.Equal(t, float64(2), line["added"])
	assert.Contains(t, line, "caller")
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T`, line["ts"])

	assert.Contains(t, stderr.String(), `"msg":"failed"`)
	assert.NotContains(t, stdout.String(), "failed")
	assert.NotContains(t, stdout.String(), "hidden")
}

func TestErrorLevelSuppressesInfo(t *testing.T) {
	var stdout, stderr bytes.Buffer
	logger, err := NewWithWriters("error", &stdout, &stderr)
	require.NoError(t, err)

	logger.Warn("quiet")
	logger.Error("loud")
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "loud")
}

func TestInvalidLevel(t *testing.T) {
	_, err := New("chatty")
	assert.Error(t, err)
}
