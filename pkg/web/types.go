// Package web provides the gateway's HTTP handlers and request/response
// types.
package web

import (
	"math"

	"github.com/vspedr/airlock/pkg/airflow"
	"github.com/vspedr/airlock/pkg/gate"
	"github.com/vspedr/airlock/pkg/services"
)

// TriggerRequest is the body for triggering a DAG run. Conf is forwarded to
// Airflow as the run configuration.
type TriggerRequest struct {
	Conf map[string]any `json:"conf,omitempty"`
}

// PauseRequest is the body for pausing or unpausing a DAG.
type PauseRequest struct {
	IsPaused *bool `json:"is_paused" validate:"required"`
}

// StatusResponse is the gate state the UI polls. Durations are rounded up
// to whole seconds for display only; the gate compares unrounded.
type StatusResponse struct {
	Allowed                  bool            `json:"allowed"`
	Reason                   gate.Reason     `json:"reason"`
	BlockingRun              *airflow.DagRun `json:"blocking_run,omitempty"`
	CooldownRemainingSeconds *int64          `json:"cooldown_remaining_seconds,omitempty"`
	Degraded                 bool            `json:"degraded,omitempty"`
}

// NewStatusResponse converts a gate evaluation into the wire shape.
func NewStatusResponse(status *services.GateStatus) StatusResponse {
	resp := StatusResponse{
		Allowed:     status.Decision.Allowed,
		Reason:      status.Decision.Reason,
		BlockingRun: status.Decision.BlockingRun,
		Degraded:    status.Degraded,
	}

	if status.Decision.Reason == gate.ReasonCooldown {
		seconds := cooldownSeconds(status.Decision)
		resp.CooldownRemainingSeconds = &seconds
	}

	return resp
}

// cooldownSeconds rounds up so the UI never shows a zero wait while the
// gate still denies.
func cooldownSeconds(decision gate.Decision) int64 {
	return int64(math.Ceil(decision.CooldownRemaining.Seconds()))
}
