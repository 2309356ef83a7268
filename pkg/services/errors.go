// Package services implements the gateway's application layer: the
// admission-checked trigger flow and the read-only gate status.
package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/vspedr/airlock/pkg/gate"
)

var (
	// ErrConfInvalid is returned when a trigger configuration fails the
	// configured JSON schema (400 Bad Request).
	ErrConfInvalid = errors.New("trigger configuration is invalid")

	// ErrGateUnavailable is returned when the admission check cannot be
	// evaluated and the gateway is configured to fail closed (503).
	ErrGateUnavailable = errors.New("admission gate could not be evaluated")
)

// GateRejection is the structured "no" the gate returns: not a failure, but
// a policy decision the UI renders with the blocking run or the remaining
// wait time.
type GateRejection struct {
	Decision gate.Decision
}

func (e *GateRejection) Error() string {
	switch e.Decision.Reason {
	case gate.ReasonActiveRun:
		runID := ""
		if e.Decision.BlockingRun != nil {
			runID = e.Decision.BlockingRun.RunID
		}

		return fmt.Sprintf("trigger denied: run %s is still in flight", runID)
	case gate.ReasonCooldown:
		return fmt.Sprintf("trigger denied: cooldown active for another %s",
			e.Decision.CooldownRemaining.Round(time.Second))
	default:
		return "trigger denied"
	}
}

// IsValidationError checks if an error should map to HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrConfInvalid)
}
