package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/vspedr/airlock/pkg/airflow"
	pkgcmd "github.com/vspedr/airlock/pkg/cmd"
	"github.com/vspedr/airlock/pkg/config"
	"github.com/vspedr/airlock/pkg/log"
	"github.com/vspedr/airlock/pkg/otelhelper"
	"github.com/vspedr/airlock/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func main() {
	logger := log.WithModule("gateway")

	cmd := &cli.Command{
		Name:                  "airlock-gateway",
		Usage:                 "Admission-checked trigger gateway for Airflow chaos workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to an optional YAML configuration file",
				Sources: cli.EnvVars("CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "airflow-base-url",
				Usage:   "Base URL of the Airflow instance",
				Sources: cli.EnvVars("AIRFLOW_BASE_URL"),
			},
			&cli.StringFlag{
				Name:    "airflow-username",
				Usage:   "Service account username for the Airflow API",
				Sources: cli.EnvVars("AIRFLOW_USERNAME"),
			},
			&cli.StringFlag{
				Name:    "airflow-password",
				Usage:   "Service account password for the Airflow API",
				Sources: cli.EnvVars("AIRFLOW_PASSWORD"),
			},
			&cli.DurationFlag{
				Name:    "cooldown",
				Usage:   "Cooldown window after the previous run completes",
				Value:   15 * time.Minute,
				Sources: cli.EnvVars("COOLDOWN"),
			},
			&cli.IntFlag{
				Name:    "lookback-limit",
				Usage:   "Number of recent DAG runs inspected per admission check",
				Value:   25,
				Sources: cli.EnvVars("LOOKBACK_LIMIT"),
			},
			&cli.StringFlag{
				Name:    "fail-mode",
				Usage:   "Gate behavior when Airflow is unreachable (open or closed)",
				Value:   "open",
				Sources: cli.EnvVars("FAIL_MODE"),
			},
			&cli.DurationFlag{
				Name:    "request-timeout",
				Usage:   "Timeout for each upstream Airflow call",
				Value:   15 * time.Second,
				Sources: cli.EnvVars("REQUEST_TIMEOUT"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the gateway on",
				Value:   8686,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Decision event bus backend (memory or kafka)",
				Value:   "memory",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "audit-url",
				Usage:   "Audit store URL (postgres://, redis://, or a local directory)",
				Value:   "file://./data/audit",
				Sources: cli.EnvVars("AUDIT_URL"),
			},
			&cli.StringFlag{
				Name:    "conf-schema",
				Usage:   "Path to a JSON schema validating trigger configurations",
				Sources: cli.EnvVars("CONF_SCHEMA_PATH"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OTLP trace export",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Airlock gateway")

			cfg, err := config.FromCommand(command)
			if err != nil {
				return err
			}

			tracer := otelhelper.NoopTracer()

			if cfg.Tracing {
				provider, err := otelhelper.InitTracer(ctx, "airlock-gateway")
				if err != nil {
					return err
				}

				defer func() {
					if err := provider.Shutdown(ctx); err != nil {
						logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
					}
				}()

				tracer = provider.Tracer("airlock-gateway")
			}

			store, err := pkgcmd.NewAuditStore(ctx, logger, cfg.AuditURL)
			if err != nil {
				return err
			}

			defer func() {
				if err := store.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close audit store", "error", err)
				}
			}()

			bus, err := pkgcmd.NewEventBus(cfg.EventBus, logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			confSchema, err := config.CompileConfSchema(cfg.ConfSchemaPath)
			if err != nil {
				return err
			}

			tokens := airflow.NewTokenManager(
				cfg.AirflowBaseURL,
				cfg.AirflowUsername,
				cfg.AirflowPassword,
				newHTTPClient(cfg.RequestTimeout),
				logger,
			)
			client := airflow.NewClient(cfg.AirflowBaseURL, tokens, cfg.RequestTimeout, logger)

			api := NewAPI(logger, client, store, bus, tracer, services.Options{
				Cooldown:      cfg.Cooldown,
				LookbackLimit: cfg.LookbackLimit,
				FailMode:      services.FailMode(cfg.FailMode),
				ConfSchema:    confSchema,
			})

			err = api.Start(cfg.Port)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start gateway", "error", err)
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
