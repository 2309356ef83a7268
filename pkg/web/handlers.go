package web

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/vspedr/airlock/pkg/services"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

type APIHandlers struct {
	admission *services.Admission
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAPIHandlers(admission *services.Admission, validator *validator.Validate, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		admission: admission,
		validator: validator,
		logger:    logger,
	}
}

// GetStatus returns a fresh gate evaluation for UI polling.
func (h *APIHandlers) GetStatus(c fiber.Ctx) error {
	status, err := h.admission.Status(c.Context())
	if err != nil {
		return handleGatewayError(c, err)
	}

	return c.JSON(NewStatusResponse(status))
}

// TriggerDagRun runs the gate-checked trigger. The gate is re-evaluated
// here rather than trusting the last polled status.
func (h *APIHandlers) TriggerDagRun(c fiber.Ctx) error {
	dagID := c.Params("id")
	if dagID == "" {
		return badRequest(c, "DAG id is required")
	}

	var req TriggerRequest

	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	run, err := h.admission.Trigger(c.Context(), dagID, req.Conf)
	if err != nil {
		return handleGatewayError(c, err)
	}

	return c.JSON(run)
}

// SetDagPaused forwards a pause/unpause request to Airflow.
func (h *APIHandlers) SetDagPaused(c fiber.Ctx) error {
	dagID := c.Params("id")
	if dagID == "" {
		return badRequest(c, "DAG id is required")
	}

	var req PauseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	dag, err := h.admission.Pause(c.Context(), dagID, *req.IsPaused)
	if err != nil {
		return handleGatewayError(c, err)
	}

	return c.JSON(dag)
}

// GetDags forwards the upstream DAG list.
func (h *APIHandlers) GetDags(c fiber.Ctx) error {
	dags, err := h.admission.Dags(c.Context())
	if err != nil {
		return handleGatewayError(c, err)
	}

	return c.JSON(fiber.Map{
		"dags":          dags,
		"total_entries": len(dags),
	})
}

// GetAuditRecords returns the newest trigger-attempt records.
func (h *APIHandlers) GetAuditRecords(c fiber.Ctx) error {
	limit := defaultAuditLimit

	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			return badRequest(c, "Invalid limit parameter")
		}

		limit = parsed
	}

	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	records, err := h.admission.RecentAudit(c.Context(), limit)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(fiber.Map{
		"records": records,
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	auditCheck, auditOk := h.admission.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Airlock gateway is unhealthy"
	httpStatus := http.StatusInternalServerError

	if auditOk {
		status = "healthy"
		message = "Airlock gateway is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"audit": auditCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
