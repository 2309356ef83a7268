// Package gate implements the execution admission policy: at most one DAG
// run in flight across the whole Airflow instance, plus a fixed cooldown
// window after the previous run completes. The chaos experiments these DAGs
// run interfere with each other, so the instance is treated as one
// mutually-exclusive resource.
//
// Evaluate is a pure function of the run snapshot and the clock; nothing in
// this package holds state.
package gate

import (
	"time"

	"github.com/vspedr/airlock/pkg/airflow"
)

// Reason explains why the gate denied admission.
type Reason string

const (
	ReasonNone      Reason = "none"
	ReasonActiveRun Reason = "active_run_exists"
	ReasonCooldown  Reason = "cooldown_active"
)

// Decision is the outcome of one admission check. Allowed is false exactly
// when Reason is not ReasonNone; CooldownRemaining is set exactly when
// Reason is ReasonCooldown.
type Decision struct {
	Allowed           bool
	Reason            Reason
	BlockingRun       *airflow.DagRun
	CooldownRemaining time.Duration
}

// Evaluate computes the admission decision for the given run snapshot.
//
// An active run always wins over a cooldown concern: the two are different
// failure modes with different operator remediation (wait for completion vs
// wait out a timer), and the UI renders them differently. When several runs
// are active the most recently started one is reported as blocking; steady
// state has at most one, but the policy must not assume it.
//
// The cooldown comparison uses unrounded durations. Rounding for display
// happens at the HTTP layer, so the decision never flaps near the boundary.
func Evaluate(runs []airflow.DagRun, now time.Time, cooldown time.Duration) Decision {
	var active *airflow.DagRun

	for i := range runs {
		run := &runs[i]
		if !run.State.Active() {
			continue
		}

		if active == nil || startedAfter(run, active) {
			active = run
		}
	}

	if active != nil {
		return Decision{
			Allowed:     false,
			Reason:      ReasonActiveRun,
			BlockingRun: active,
		}
	}

	var latest *airflow.DagRun

	for i := range runs {
		run := &runs[i]
		if !run.State.Terminal() || run.EndDate == nil {
			continue
		}

		if latest == nil || run.EndDate.After(*latest.EndDate) {
			latest = run
		}
	}

	if latest == nil {
		return Decision{Allowed: true, Reason: ReasonNone}
	}

	elapsed := now.Sub(*latest.EndDate)
	if elapsed < cooldown {
		return Decision{
			Allowed:           false,
			Reason:            ReasonCooldown,
			BlockingRun:       latest,
			CooldownRemaining: cooldown - elapsed,
		}
	}

	return Decision{Allowed: true, Reason: ReasonNone}
}

func startedAfter(a, b *airflow.DagRun) bool {
	if a.StartDate == nil {
		return false
	}

	if b.StartDate == nil {
		return true
	}

	return a.StartDate.After(*b.StartDate)
}
