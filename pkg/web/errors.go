package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/vspedr/airlock/pkg/airflow"
	"github.com/vspedr/airlock/pkg/gate"
	"github.com/vspedr/airlock/pkg/services"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// rejectionProblem extends the RFC-7807 body with the gate decision, so the
// UI renders the same messaging from a 409 as from GET /status/running.
type rejectionProblem struct {
	*problems.Problem

	Reason                   gate.Reason     `json:"reason"`
	BlockingRun              *airflow.DagRun `json:"blocking_run,omitempty"`
	CooldownRemainingSeconds *int64          `json:"cooldown_remaining_seconds,omitempty"`
}

func gateRejected(c fiber.Ctx, rejection *services.GateRejection) error {
	problem := rejectionProblem{
		Problem: problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("gate_rejection").
			WithDetail(rejection.Error()),
		Reason:      rejection.Decision.Reason,
		BlockingRun: rejection.Decision.BlockingRun,
	}

	if rejection.Decision.Reason == gate.ReasonCooldown {
		seconds := cooldownSeconds(rejection.Decision)
		problem.CooldownRemainingSeconds = &seconds
	}

	return c.Status(fiber.StatusConflict).JSON(problem)
}

// handleGatewayError maps service errors onto HTTP responses. The three
// shapes the UI must distinguish are: policy denial (409 with the decision),
// upstream failure (the upstream status and raw payload, passed through),
// and gateway-internal problems.
func handleGatewayError(c fiber.Ctx, err error) error {
	var rejection *services.GateRejection
	if errors.As(err, &rejection) {
		return gateRejected(c, rejection)
	}

	if services.IsValidationError(err) {
		return badRequest(c, err.Error())
	}

	if errors.Is(err, services.ErrGateUnavailable) {
		problem := problems.NewStatusProblem(503).
			WithInstance(c.Path()).
			WithType("gate_unavailable").
			WithDetail(err.Error())

		return c.Status(fiber.StatusServiceUnavailable).JSON(problem)
	}

	var authErr *airflow.AuthError
	if errors.As(err, &authErr) {
		problem := problems.NewStatusProblem(502).
			WithInstance(c.Path()).
			WithType("upstream_auth_error").
			WithDetail(authErr.Error())

		return c.Status(fiber.StatusBadGateway).JSON(problem)
	}

	var upstream *airflow.UpstreamError
	if errors.As(err, &upstream) {
		// Pass the upstream payload through verbatim for display.
		if upstream.Body != "" {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

			return c.Status(upstream.Status).SendString(upstream.Body)
		}

		problem := problems.NewStatusProblem(upstream.Status).
			WithInstance(c.Path()).
			WithType("upstream_error")

		return c.Status(upstream.Status).JSON(problem)
	}

	return internalError(c, err)
}
