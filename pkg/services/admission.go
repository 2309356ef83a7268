package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vspedr/airlock/pkg/airflow"
	"github.com/vspedr/airlock/pkg/audit"
	"github.com/vspedr/airlock/pkg/eventbus"
	"github.com/vspedr/airlock/pkg/events"
	"github.com/vspedr/airlock/pkg/gate"
	"github.com/vspedr/airlock/pkg/otelhelper"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultCooldown      = 15 * time.Minute
	DefaultLookbackLimit = 25
)

// FailMode decides what happens when the admission check itself cannot be
// evaluated because Airflow is unreachable.
type FailMode string

const (
	// FailOpen admits the trigger anyway: availability over strict
	// exclusion. This is the reference behavior and the default.
	FailOpen FailMode = "open"
	// FailClosed denies the trigger with ErrGateUnavailable.
	FailClosed FailMode = "closed"
)

// AirflowAPI is the slice of the Airflow client the admission service needs.
type AirflowAPI interface {
	ListDags(ctx context.Context) ([]airflow.Dag, error)
	RecentRuns(ctx context.Context, limit int) ([]airflow.DagRun, error)
	TriggerRun(ctx context.Context, dagID string, conf map[string]any) (*airflow.DagRun, error)
	SetPaused(ctx context.Context, dagID string, paused bool) (*airflow.Dag, error)
}

// Options tunes the admission policy.
type Options struct {
	Cooldown      time.Duration
	LookbackLimit int
	FailMode      FailMode
	ConfSchema    *gojsonschema.Schema
}

// GateStatus is a fresh gate evaluation. Degraded marks a decision that came
// from the fail mode rather than a real evaluation.
type GateStatus struct {
	Decision gate.Decision
	Degraded bool
}

// Admission composes the Airflow client, the execution gate, the audit
// trail and the event bus into the gateway's trigger flow.
type Admission struct {
	client AirflowAPI
	store  audit.Store
	bus    eventbus.EventPublisher
	tracer trace.Tracer
	logger *slog.Logger

	cooldown   time.Duration
	lookback   int
	failMode   FailMode
	confSchema *gojsonschema.Schema

	now func() time.Time

	// triggerMu serializes the evaluate-then-trigger critical section, so
	// two concurrent trigger requests cannot both observe an idle
	// instance before either trigger lands upstream.
	triggerMu sync.Mutex
}

// NewAdmission creates the admission service. The event bus may be nil when
// no decision stream is wanted.
func NewAdmission(
	client AirflowAPI,
	store audit.Store,
	bus eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
	opts Options,
) *Admission {
	if opts.Cooldown <= 0 {
		opts.Cooldown = DefaultCooldown
	}

	if opts.LookbackLimit <= 0 {
		opts.LookbackLimit = DefaultLookbackLimit
	}

	if opts.FailMode == "" {
		opts.FailMode = FailOpen
	}

	return &Admission{
		client:     client,
		store:      store,
		bus:        bus,
		tracer:     tracer,
		logger:     logger,
		cooldown:   opts.Cooldown,
		lookback:   opts.LookbackLimit,
		failMode:   opts.FailMode,
		confSchema: opts.ConfSchema,
		now:        time.Now,
	}
}

// Status evaluates the gate for UI polling. The decision is always computed
// fresh; nothing is cached between calls.
func (a *Admission) Status(ctx context.Context) (*GateStatus, error) {
	decision, degraded, err := a.evaluate(ctx, "")
	if err != nil {
		return nil, err
	}

	return &GateStatus{Decision: decision, Degraded: degraded}, nil
}

// Trigger re-evaluates the gate under the trigger mutex and, if admitted,
// starts a new run of the DAG. A blocked request returns *GateRejection;
// upstream failures propagate as *airflow.UpstreamError.
func (a *Admission) Trigger(ctx context.Context, dagID string, conf map[string]any) (*airflow.DagRun, error) {
	err := a.validateConf(conf)
	if err != nil {
		return nil, err
	}

	ctx, span := otelhelper.StartSpan(ctx, a.tracer, "admission.trigger",
		attribute.String(otelhelper.DagIDKey, dagID),
	)
	defer span.End()

	a.triggerMu.Lock()
	defer a.triggerMu.Unlock()

	decision, degraded, err := a.evaluate(ctx, dagID)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.FailModeKey, string(a.failMode)))

		a.record(ctx, &audit.Record{
			DagID:        dagID,
			Outcome:      audit.OutcomeDenied,
			Reason:       "gate_unavailable",
			GateFallback: true,
		})

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.GateReasonKey, string(decision.Reason)))

	if !decision.Allowed {
		a.logger.InfoContext(ctx, "Gate denied trigger",
			"dag_id", dagID,
			"reason", decision.Reason,
			"blocking_run", blockingRunID(decision),
		)

		a.record(ctx, &audit.Record{
			DagID:   dagID,
			Outcome: audit.OutcomeDenied,
			Reason:  string(decision.Reason),
		})

		a.publish(ctx, dagID, events.NewTriggerDenied(
			dagID,
			string(decision.Reason),
			blockingRunID(decision),
			int64(decision.CooldownRemaining.Seconds()),
		))

		return nil, &GateRejection{Decision: decision}
	}

	run, err := a.client.TriggerRun(ctx, dagID, conf)
	if err != nil {
		otelhelper.SetError(span, err, attribute.String(otelhelper.DagIDKey, dagID))

		status := 0

		var upstream *airflow.UpstreamError
		if errors.As(err, &upstream) {
			status = upstream.Status
		}

		a.logger.ErrorContext(ctx, "Trigger call failed after gate admitted it",
			"dag_id", dagID, "status", status, "error", err)

		a.record(ctx, &audit.Record{
			DagID:        dagID,
			Outcome:      audit.OutcomeFailed,
			Detail:       err.Error(),
			GateFallback: degraded,
		})

		a.publish(ctx, dagID, events.NewTriggerFailed(dagID, status, err.Error()))

		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.RunIDKey, run.RunID))

	a.logger.InfoContext(ctx, "Triggered DAG run",
		"dag_id", dagID, "run_id", run.RunID, "gate_fallback", degraded)

	a.record(ctx, &audit.Record{
		DagID:        dagID,
		RunID:        run.RunID,
		Outcome:      audit.OutcomeTriggered,
		GateFallback: degraded,
	})

	a.publish(ctx, dagID, events.NewTriggerAllowed(dagID, run.RunID))

	return run, nil
}

// Dags forwards the upstream DAG list.
func (a *Admission) Dags(ctx context.Context) ([]airflow.Dag, error) {
	return a.client.ListDags(ctx)
}

// Pause forwards a pause/unpause request upstream.
func (a *Admission) Pause(ctx context.Context, dagID string, paused bool) (*airflow.Dag, error) {
	return a.client.SetPaused(ctx, dagID, paused)
}

// RecentAudit returns the newest audit records for operator inspection.
func (a *Admission) RecentAudit(ctx context.Context, limit int) ([]*audit.Record, error) {
	return a.store.Recent(ctx, limit)
}

// HealthCheck checks the audit store.
func (a *Admission) HealthCheck(ctx context.Context) (string, bool) {
	if a.store == nil {
		return "Audit store not initialized", false
	}

	err := a.store.HealthCheck(ctx)
	if err != nil {
		return "Audit store is unhealthy: " + err.Error(), false
	}

	return "Audit store is healthy", true
}

// evaluate fetches the recent-run window and runs the gate. When the window
// cannot be fetched the configured fail mode decides, and the fallback is
// logged and published distinctly from a policy denial.
func (a *Admission) evaluate(ctx context.Context, dagID string) (gate.Decision, bool, error) {
	runs, err := a.client.RecentRuns(ctx, a.lookback)
	if err != nil {
		if a.failMode == FailClosed {
			a.logger.ErrorContext(ctx, "Admission gate could not be evaluated, failing closed",
				"dag_id", dagID, "error", err)
			a.publish(ctx, dagID, events.NewGateFallback(dagID, string(FailClosed), err.Error()))

			return gate.Decision{}, true, fmt.Errorf("%w: %v", ErrGateUnavailable, err)
		}

		a.logger.WarnContext(ctx, "Admission gate could not be evaluated, failing open",
			"dag_id", dagID, "error", err)
		a.publish(ctx, dagID, events.NewGateFallback(dagID, string(FailOpen), err.Error()))

		return gate.Decision{Allowed: true, Reason: gate.ReasonNone}, true, nil
	}

	for i := range runs {
		state := runs[i].State
		if !state.Active() && !state.Terminal() {
			a.logger.DebugContext(ctx, "Ignoring run in unmapped state",
				"run_id", runs[i].RunID, "state", state)
		}
	}

	return gate.Evaluate(runs, a.now(), a.cooldown), false, nil
}

func (a *Admission) validateConf(conf map[string]any) error {
	if a.confSchema == nil {
		return nil
	}

	if conf == nil {
		conf = map[string]any{}
	}

	result, err := a.confSchema.Validate(gojsonschema.NewGoLoader(conf))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfInvalid, err)
	}

	if !result.Valid() {
		issues := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			issues = append(issues, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrConfInvalid, strings.Join(issues, "; "))
	}

	return nil
}

// record appends to the audit trail; a failed write is logged but never
// fails the request it describes.
func (a *Admission) record(ctx context.Context, rec *audit.Record) {
	if a.store == nil {
		return
	}

	err := a.store.Append(ctx, rec)
	if err != nil {
		a.logger.ErrorContext(ctx, "Failed to write audit record",
			"dag_id", rec.DagID, "outcome", rec.Outcome, "error", err)
	}
}

func (a *Admission) publish(ctx context.Context, key string, event eventbus.Event) {
	if a.bus == nil {
		return
	}

	err := a.bus.Publish(ctx, key, event)
	if err != nil {
		a.logger.WarnContext(ctx, "Failed to publish decision event",
			"event_type", event.GetType(), "error", err)
	}
}

func blockingRunID(decision gate.Decision) string {
	if decision.BlockingRun == nil {
		return ""
	}

	return decision.BlockingRun.RunID
}
