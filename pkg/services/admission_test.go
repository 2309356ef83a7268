package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vspedr/airlock/pkg/airflow"
	"github.com/vspedr/airlock/pkg/audit"
	"github.com/vspedr/airlock/pkg/gate"
	"github.com/vspedr/airlock/pkg/otelhelper"
	"github.com/xeipuuv/gojsonschema"
)

// fakeAirflow is an in-memory AirflowAPI. When markActiveOnTrigger is set,
// a triggered run shows up as running in subsequent RecentRuns calls, which
// is what the concurrency test needs.
type fakeAirflow struct {
	mu                  sync.Mutex
	runs                []airflow.DagRun
	recentErr           error
	triggerErr          error
	triggered           []string
	markActiveOnTrigger bool
}

func (f *fakeAirflow) ListDags(_ context.Context) ([]airflow.Dag, error) {
	return []airflow.Dag{{DagID: "chaos-k6-load-test"}}, nil
}

func (f *fakeAirflow) RecentRuns(_ context.Context, _ int) ([]airflow.DagRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.recentErr != nil {
		return nil, f.recentErr
	}

	out := make([]airflow.DagRun, len(f.runs))
	copy(out, f.runs)

	return out, nil
}

func (f *fakeAirflow) TriggerRun(_ context.Context, dagID string, _ map[string]any) (*airflow.DagRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.triggerErr != nil {
		return nil, f.triggerErr
	}

	f.triggered = append(f.triggered, dagID)

	now := time.Now().UTC()
	run := airflow.DagRun{
		DagID:     dagID,
		RunID:     fmt.Sprintf("manual__%d", len(f.triggered)),
		State:     airflow.RunStateRunning,
		StartDate: &now,
	}

	if f.markActiveOnTrigger {
		f.runs = append(f.runs, run)
	}

	return &run, nil
}

func (f *fakeAirflow) SetPaused(_ context.Context, dagID string, paused bool) (*airflow.Dag, error) {
	return &airflow.Dag{DagID: dagID, IsPaused: paused}, nil
}

func newTestAdmission(t *testing.T, client AirflowAPI, opts Options) *Admission {
	t.Helper()

	store, err := audit.NewFileStore(t.TempDir())
	require.NoError(t, err)

	return NewAdmission(client, store, nil, otelhelper.NoopTracer(), slog.Default(), opts)
}

func TestAdmission_StatusAllowed(t *testing.T) {
	service := newTestAdmission(t, &fakeAirflow{}, Options{})

	status, err := service.Status(t.Context())
	require.NoError(t, err)
	assert.True(t, status.Decision.Allowed)
	assert.False(t, status.Degraded)
}

func TestAdmission_StatusCooldown(t *testing.T) {
	now := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	ended := now.Add(-5 * time.Minute)
	started := now.Add(-20 * time.Minute)

	client := &fakeAirflow{runs: []airflow.DagRun{{
		DagID:     "chaos-k6-load-test",
		RunID:     "r1",
		State:     airflow.RunStateSuccess,
		StartDate: &started,
		EndDate:   &ended,
	}}}

	service := newTestAdmission(t, client, Options{Cooldown: 15 * time.Minute})
	service.now = func() time.Time { return now }

	status, err := service.Status(t.Context())
	require.NoError(t, err)
	assert.False(t, status.Decision.Allowed)
	assert.Equal(t, gate.ReasonCooldown, status.Decision.Reason)
	assert.Equal(t, 10*time.Minute, status.Decision.CooldownRemaining)
}

func TestAdmission_TriggerAllowed(t *testing.T) {
	client := &fakeAirflow{}
	service := newTestAdmission(t, client, Options{})

	run, err := service.Trigger(t.Context(), "chaos-k6-load-test", map[string]any{"target": "mongodb"})
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, []string{"chaos-k6-load-test"}, client.triggered)

	records, err := service.RecentAudit(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, audit.OutcomeTriggered, records[0].Outcome)
	assert.Equal(t, run.RunID, records[0].RunID)
}

func TestAdmission_TriggerDeniedActiveRun(t *testing.T) {
	now := time.Now().UTC()

	client := &fakeAirflow{runs: []airflow.DagRun{{
		DagID:     "pod-restart",
		RunID:     "r1",
		State:     airflow.RunStateRunning,
		StartDate: &now,
	}}}

	service := newTestAdmission(t, client, Options{})

	_, err := service.Trigger(t.Context(), "chaos-k6-load-test", nil)
	require.Error(t, err)

	var rejection *GateRejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, gate.ReasonActiveRun, rejection.Decision.Reason)
	require.NotNil(t, rejection.Decision.BlockingRun)
	assert.Equal(t, "r1", rejection.Decision.BlockingRun.RunID)

	// The upstream trigger call never happened.
	assert.Empty(t, client.triggered)

	records, err := service.RecentAudit(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, audit.OutcomeDenied, records[0].Outcome)
	assert.Equal(t, string(gate.ReasonActiveRun), records[0].Reason)
}

func TestAdmission_TriggerDeniedCooldown(t *testing.T) {
	now := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	ended := now.Add(-5 * time.Minute)
	started := now.Add(-20 * time.Minute)

	client := &fakeAirflow{runs: []airflow.DagRun{{
		DagID:     "chaos-k6-load-test",
		RunID:     "r1",
		State:     airflow.RunStateFailed,
		StartDate: &started,
		EndDate:   &ended,
	}}}

	service := newTestAdmission(t, client, Options{Cooldown: 15 * time.Minute})
	service.now = func() time.Time { return now }

	_, err := service.Trigger(t.Context(), "chaos-k6-load-test", nil)

	var rejection *GateRejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, gate.ReasonCooldown, rejection.Decision.Reason)
	assert.Equal(t, 10*time.Minute, rejection.Decision.CooldownRemaining)
}

func TestAdmission_FailOpen(t *testing.T) {
	client := &fakeAirflow{recentErr: errors.New("connection refused")}
	service := newTestAdmission(t, client, Options{FailMode: FailOpen})

	run, err := service.Trigger(t.Context(), "chaos-k6-load-test", nil)
	require.NoError(t, err)
	require.NotNil(t, run)

	records, err := service.RecentAudit(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, audit.OutcomeTriggered, records[0].Outcome)
	assert.True(t, records[0].GateFallback)
}

func TestAdmission_FailClosed(t *testing.T) {
	client := &fakeAirflow{recentErr: errors.New("connection refused")}
	service := newTestAdmission(t, client, Options{FailMode: FailClosed})

	_, err := service.Trigger(t.Context(), "chaos-k6-load-test", nil)
	require.ErrorIs(t, err, ErrGateUnavailable)

	assert.Empty(t, client.triggered)

	records, err := service.RecentAudit(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, audit.OutcomeDenied, records[0].Outcome)
	assert.Equal(t, "gate_unavailable", records[0].Reason)
}

func TestAdmission_TriggerUpstreamFailure(t *testing.T) {
	client := &fakeAirflow{triggerErr: &airflow.UpstreamError{Status: 500, Body: `{"detail":"scheduler down"}`}}
	service := newTestAdmission(t, client, Options{})

	_, err := service.Trigger(t.Context(), "chaos-k6-load-test", nil)
	require.Error(t, err)

	var upstream *airflow.UpstreamError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, 500, upstream.Status)

	records, err := service.RecentAudit(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, audit.OutcomeFailed, records[0].Outcome)
}

func TestAdmission_ConfSchemaValidation(t *testing.T) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(`{
		"type": "object",
		"required": ["target"],
		"properties": {
			"target": {"type": "string"}
		}
	}`))
	require.NoError(t, err)

	client := &fakeAirflow{}
	service := newTestAdmission(t, client, Options{ConfSchema: schema})

	_, err = service.Trigger(t.Context(), "chaos-k6-load-test", map[string]any{"intensity": 3})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))
	assert.Empty(t, client.triggered)

	_, err = service.Trigger(t.Context(), "chaos-k6-load-test", map[string]any{"target": "redis"})
	require.NoError(t, err)
	assert.Equal(t, []string{"chaos-k6-load-test"}, client.triggered)
}

// Two concurrent triggers racing an idle instance: the trigger mutex means
// the second evaluation must observe the run the first one started.
func TestAdmission_ConcurrentTriggersOnlyOneSucceeds(t *testing.T) {
	client := &fakeAirflow{markActiveOnTrigger: true}
	service := newTestAdmission(t, client, Options{})

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		rejections int
	)

	for _, dagID := range []string{"chaos-k6-load-test", "pod-restart"} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := service.Trigger(t.Context(), dagID, nil)

			mu.Lock()
			defer mu.Unlock()

			var rejection *GateRejection

			switch {
			case err == nil:
				successes++
			case errors.As(err, &rejection):
				assert.Equal(t, gate.ReasonActiveRun, rejection.Decision.Reason)

				rejections++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, rejections)
	assert.Len(t, client.triggered, 1)
}

func TestAdmission_HealthCheck(t *testing.T) {
	service := newTestAdmission(t, &fakeAirflow{}, Options{})

	detail, ok := service.HealthCheck(t.Context())
	assert.True(t, ok)
	assert.Contains(t, detail, "healthy")
}
