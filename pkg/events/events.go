// Package events defines the admission decision events the gateway publishes.
// Polling GET /status/running remains the UI contract; the event stream is
// additive, for operators who want to watch decisions without polling.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const Topic = "airlock.decisions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TriggerAllowedEvent EventType = "trigger.allowed"
	TriggerDeniedEvent  EventType = "trigger.denied"
	TriggerFailedEvent  EventType = "trigger.failed"

	// GateFallbackEvent marks a trigger admitted (or denied) because the
	// gate itself could not be evaluated. Operators must be able to tell
	// this apart from a policy decision.
	GateFallbackEvent EventType = "gate.fallback"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	DagID     string    `json:"dag_id,omitempty"`
}

func newBaseEvent(eventType EventType, dagID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		DagID:     dagID,
	}
}

// TriggerAllowed is published after the upstream trigger call succeeds.
type TriggerAllowed struct {
	BaseEvent

	RunID string `json:"run_id"`
}

func (e TriggerAllowed) GetType() EventType { return TriggerAllowedEvent }

func NewTriggerAllowed(dagID, runID string) TriggerAllowed {
	return TriggerAllowed{
		BaseEvent: newBaseEvent(TriggerAllowedEvent, dagID),
		RunID:     runID,
	}
}

// TriggerDenied is published when the gate blocks a trigger request.
type TriggerDenied struct {
	BaseEvent

	Reason                   string `json:"reason"`
	BlockingRunID            string `json:"blocking_run_id,omitempty"`
	CooldownRemainingSeconds int64  `json:"cooldown_remaining_seconds,omitempty"`
}

func (e TriggerDenied) GetType() EventType { return TriggerDeniedEvent }

func NewTriggerDenied(dagID, reason, blockingRunID string, cooldownRemainingSeconds int64) TriggerDenied {
	return TriggerDenied{
		BaseEvent:                newBaseEvent(TriggerDeniedEvent, dagID),
		Reason:                   reason,
		BlockingRunID:            blockingRunID,
		CooldownRemainingSeconds: cooldownRemainingSeconds,
	}
}

// TriggerFailed is published when the gate admitted the request but the
// upstream trigger call failed.
type TriggerFailed struct {
	BaseEvent

	Status int    `json:"status,omitempty"`
	Error  string `json:"error"`
}

func (e TriggerFailed) GetType() EventType { return TriggerFailedEvent }

func NewTriggerFailed(dagID string, status int, errMsg string) TriggerFailed {
	return TriggerFailed{
		BaseEvent: newBaseEvent(TriggerFailedEvent, dagID),
		Status:    status,
		Error:     errMsg,
	}
}

// GateFallback records that the admission check could not be evaluated and
// the configured fail mode decided instead.
type GateFallback struct {
	BaseEvent

	FailMode string `json:"fail_mode"`
	Error    string `json:"error"`
}

func (e GateFallback) GetType() EventType { return GateFallbackEvent }

func NewGateFallback(dagID, failMode, errMsg string) GateFallback {
	return GateFallback{
		BaseEvent: newBaseEvent(GateFallbackEvent, dagID),
		FailMode:  failMode,
		Error:     errMsg,
	}
}
