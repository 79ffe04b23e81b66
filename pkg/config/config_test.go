package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "pettrack/tags/+/observations", cfg.MQTTTopicObservations)
	assert.Empty(t, cfg.MQTTTopicPositions)
	assert.Empty(t, cfg.ClickHouseAddr)
	assert.Equal(t, "push", cfg.EstimationMode)
	assert.Equal(t, 30*time.Second, cfg.StaleThreshold)
	assert.Equal(t, 10*time.Second, cfg.MaxObservationAge)
	assert.Equal(t, 2*time.Second, cfg.MaxClockSkew)
	assert.Equal(t, 0.35, cfg.SingleAnchorConfidence)
	assert.Equal(t, 16, cfg.WindowCapacity)
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("ESTIMATION_MODE", "pull")
	t.Setenv("STALE_THRESHOLD", "2m")
	t.Setenv("MQTT_TOPIC_POSITIONS", "pettrack/positions/{tag_id}")

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "pull", cfg.EstimationMode)
	assert.Equal(t, 2*time.Minute, cfg.StaleThreshold)
	assert.Equal(t, "pettrack/positions/{tag_id}", cfg.MQTTTopicPositions)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad duration", "SWEEP_INTERVAL", "often"},
		{"unknown mode", "ESTIMATION_MODE", "batch"},
		{"confidence out of range", "SINGLE_ANCHOR_CONFIDENCE", "1.5"},
		{"zero capacity", "WINDOW_CAPACITY", "0"},
		{"bad log level", "LOG_LEVEL", "loud"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}
