// Package airflow is a typed client for the Apache Airflow REST API. It
// covers the operations the gateway needs: listing DAGs, reading recent DAG
// runs, triggering runs and pausing DAGs. Authentication is handled by a
// TokenManager that exchanges service credentials for short-lived bearer
// tokens and refreshes them transparently.
package airflow

import "time"

// RunState is the state Airflow reports for a DAG run.
type RunState string

const (
	RunStateQueued         RunState = "queued"
	RunStateRunning        RunState = "running"
	RunStateSuccess        RunState = "success"
	RunStateFailed         RunState = "failed"
	RunStateSkipped        RunState = "skipped"
	RunStateUpstreamFailed RunState = "upstream_failed"
)

// Active reports whether the run is still occupying the instance.
func (s RunState) Active() bool {
	return s == RunStateQueued || s == RunStateRunning
}

// Terminal reports whether the run has reached a final state. States that
// are neither Active nor Terminal (Airflow adds sub-states between
// versions) are ignored by the admission gate.
func (s RunState) Terminal() bool {
	switch s {
	case RunStateSuccess, RunStateFailed, RunStateSkipped, RunStateUpstreamFailed:
		return true
	default:
		return false
	}
}

// DagRun is a single execution of a DAG as reported by Airflow.
type DagRun struct {
	DagID     string         `json:"dag_id"`
	RunID     string         `json:"dag_run_id"`
	State     RunState       `json:"state"`
	StartDate *time.Time     `json:"start_date,omitempty"`
	EndDate   *time.Time     `json:"end_date,omitempty"`
	Conf      map[string]any `json:"conf,omitempty"`
}

// Dag is the subset of Airflow's DAG resource the gateway forwards to the UI.
type Dag struct {
	DagID       string `json:"dag_id"`
	Description string `json:"description,omitempty"`
	IsPaused    bool   `json:"is_paused"`
	Tags        []Tag  `json:"tags,omitempty"`
}

// Tag is a DAG tag; Airflow reports tags as objects, not bare strings.
type Tag struct {
	Name string `json:"name"`
}
