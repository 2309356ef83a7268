package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTriggerAllowed(t *testing.T) {
	event := NewTriggerAllowed("chaos-k6-load-test", "manual__2025-06-12T10:00:00")

	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())
	assert.Equal(t, TriggerAllowedEvent, event.GetType())
	assert.Equal(t, "chaos-k6-load-test", event.DagID)
	assert.Equal(t, "manual__2025-06-12T10:00:00", event.RunID)
}

func TestTriggerDenied_JSONSerialization(t *testing.T) {
	original := NewTriggerDenied("chaos-k6-load-test", "cooldown_active", "manual__1", 540)

	jsonData, err := json.Marshal(original)
	require.NoError(t, err)
	assert.Contains(t, string(jsonData), `"reason":"cooldown_active"`)
	assert.Contains(t, string(jsonData), `"cooldown_remaining_seconds":540`)

	var deserialized TriggerDenied

	err = json.Unmarshal(jsonData, &deserialized)
	require.NoError(t, err)

	assert.Equal(t, original.Reason, deserialized.Reason)
	assert.Equal(t, original.BlockingRunID, deserialized.BlockingRunID)
	assert.Equal(t, original.CooldownRemainingSeconds, deserialized.CooldownRemainingSeconds)
	assert.Equal(t, TriggerDeniedEvent, deserialized.GetType())
}

func TestTriggerDenied_OmitsEmptyOptionalFields(t *testing.T) {
	event := NewTriggerDenied("pod-restart", "active_run_exists", "", 0)

	jsonData, err := json.Marshal(event)
	require.NoError(t, err)

	assert.NotContains(t, string(jsonData), "blocking_run_id")
	assert.NotContains(t, string(jsonData), "cooldown_remaining_seconds")
}

func TestNewGateFallback(t *testing.T) {
	event := NewGateFallback("chaos-k6-load-test", "open", "airflow unreachable")

	assert.Equal(t, GateFallbackEvent, event.GetType())
	assert.Equal(t, "open", event.FailMode)
	assert.Equal(t, "airflow unreachable", event.Error)
}

func TestNewTriggerFailed(t *testing.T) {
	event := NewTriggerFailed("pod-restart", 500, "upstream returned 500")

	assert.Equal(t, TriggerFailedEvent, event.GetType())
	assert.Equal(t, 500, event.Status)
	assert.Equal(t, "upstream returned 500", event.Error)
}
