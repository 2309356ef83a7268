// Package main provides the Airlock gateway server: the admission-checked
// trigger API the workflow UI talks to.
package main

import (
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/vspedr/airlock/pkg/audit"
	"github.com/vspedr/airlock/pkg/eventbus"
	"github.com/vspedr/airlock/pkg/services"
	"github.com/vspedr/airlock/pkg/web"
	"go.opentelemetry.io/otel/trace"
)

type API struct {
	logger   *slog.Logger
	client   services.AirflowAPI
	store    audit.Store
	bus      eventbus.EventBus
	tracer   trace.Tracer
	validate *validator.Validate
	opts     services.Options
}

func NewAPI(
	logger *slog.Logger,
	client services.AirflowAPI,
	store audit.Store,
	bus eventbus.EventBus,
	tracer trace.Tracer,
	opts services.Options,
) *API {
	return &API{
		logger:   logger,
		client:   client,
		store:    store,
		bus:      bus,
		tracer:   tracer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
	}
}

func (a *API) App() *fiber.App {
	admission := services.NewAdmission(a.client, a.store, a.bus, a.tracer, a.logger, a.opts)

	handlers := web.NewAPIHandlers(admission, a.validate, a.logger)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Airlock Gateway")
	})

	app.Get("/status/running", handlers.GetStatus)

	d := app.Group("/dags")
	d.Get("/", handlers.GetDags)
	d.Post("/:id/dagRuns", handlers.TriggerDagRun)
	d.Patch("/:id", handlers.SetDagPaused)

	app.Get("/audit", handlers.GetAuditRecords)
	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(port int) error {
	app := a.App()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}
