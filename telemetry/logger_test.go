package telemetry

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rgeissen/turnengine/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProductionLoggerJSONFormat(t *testing.T) {
	logger := NewProductionLogger(core.LoggingConfig{Level: "info", Format: "json"}, "turnengine-test")
	pl := logger.(*ProductionLogger)
	var buf bytes.Buffer
	pl.output = &buf

	logger.Info("plan generated", map[string]interface{}{"phase_count": 3})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "plan generated", entry["message"])
	assert.Equal(t, float64(3), entry["phase_count"])
}

func TestProductionLoggerRespectsLevel(t *testing.T) {
	logger := NewProductionLogger(core.LoggingConfig{Level: "warn", Format: "json"}, "turnengine-test")
	pl := logger.(*ProductionLogger)
	var buf bytes.Buffer
	pl.output = &buf

	logger.Debug("should be dropped", nil)
	logger.Info("should be dropped too", nil)
	assert.Empty(t, buf.String())

	logger.Warn("kept", nil)
	assert.True(t, strings.Contains(buf.String(), "kept"))
}

func TestProductionLoggerWithComponent(t *testing.T) {
	logger := NewProductionLogger(core.LoggingConfig{Level: "info", Format: "text"}, "turnengine-test")
	child := logger.WithComponent("planning")
	pl := logger.(*ProductionLogger)
	var buf bytes.Buffer
	pl.output = &buf
	childPl := child.(*ProductionLogger)
	childPl.output = &buf

	child.Info("hello", nil)
	assert.True(t, strings.Contains(buf.String(), "turnengine-test:planning"))
}

func TestRateLimiterZeroIntervalAllowsEveryCall(t *testing.T) {
	rl := NewRateLimiter(0)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
}
