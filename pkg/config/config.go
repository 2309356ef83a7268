// Package config holds the gateway configuration: everything is provided at
// process start, optionally from a YAML file with flag/env overrides. There
// is no runtime reconfiguration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AirflowBaseURL  string `yaml:"airflow_base_url"  validate:"required,url"`
	AirflowUsername string `yaml:"airflow_username"  validate:"required"`
	AirflowPassword string `yaml:"airflow_password"  validate:"required"`

	Cooldown       time.Duration `yaml:"cooldown"`
	LookbackLimit  int           `yaml:"lookback_limit"  validate:"min=1,max=100"`
	FailMode       string        `yaml:"fail_mode"       validate:"oneof=open closed"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	Port     int    `yaml:"port"      validate:"min=1,max=65535"`
	LogLevel string `yaml:"log_level"`
	EventBus string `yaml:"event_bus" validate:"oneof=memory kafka"`
	AuditURL string `yaml:"audit_url"`

	ConfSchemaPath string `yaml:"conf_schema_path"`
	Tracing        bool   `yaml:"tracing"`
}

// Default returns the configuration before any file or flag is applied.
func Default() Config {
	return Config{
		Cooldown:       15 * time.Minute,
		LookbackLimit:  25,
		FailMode:       "open",
		RequestTimeout: 15 * time.Second,
		Port:           8686,
		LogLevel:       "info",
		EventBus:       "memory",
		AuditURL:       "file://./data/audit",
	}
}

// FromCommand builds the configuration: defaults, then the YAML file named
// by --config (if any), then every flag that was explicitly set.
func FromCommand(cmd *cli.Command) (Config, error) {
	cfg := Default()

	if path := cmd.String("config"); path != "" {
		err := loadFile(path, &cfg)
		if err != nil {
			return Config{}, err
		}
	}

	applyFlags(cmd, &cfg)

	err := cfg.Validate()
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

func applyFlags(cmd *cli.Command, cfg *Config) {
	if cmd.IsSet("airflow-base-url") {
		cfg.AirflowBaseURL = cmd.String("airflow-base-url")
	}

	if cmd.IsSet("airflow-username") {
		cfg.AirflowUsername = cmd.String("airflow-username")
	}

	if cmd.IsSet("airflow-password") {
		cfg.AirflowPassword = cmd.String("airflow-password")
	}

	if cmd.IsSet("cooldown") {
		cfg.Cooldown = cmd.Duration("cooldown")
	}

	if cmd.IsSet("lookback-limit") {
		cfg.LookbackLimit = int(cmd.Int("lookback-limit"))
	}

	if cmd.IsSet("fail-mode") {
		cfg.FailMode = cmd.String("fail-mode")
	}

	if cmd.IsSet("request-timeout") {
		cfg.RequestTimeout = cmd.Duration("request-timeout")
	}

	if cmd.IsSet("port") {
		cfg.Port = int(cmd.Int("port"))
	}

	if cmd.IsSet("log-level") {
		cfg.LogLevel = cmd.String("log-level")
	}

	if cmd.IsSet("event-bus") {
		cfg.EventBus = cmd.String("event-bus")
	}

	if cmd.IsSet("audit-url") {
		cfg.AuditURL = cmd.String("audit-url")
	}

	if cmd.IsSet("conf-schema") {
		cfg.ConfSchemaPath = cmd.String("conf-schema")
	}

	if cmd.IsSet("tracing") {
		cfg.Tracing = cmd.Bool("tracing")
	}
}

// Validate checks struct tags plus the duration fields the validator cannot
// express.
func (c Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Cooldown < 0 {
		return fmt.Errorf("invalid configuration: cooldown must not be negative")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid configuration: request_timeout must be positive")
	}

	return nil
}

// CompileConfSchema loads the optional trigger-conf JSON schema. An empty
// path means no schema validation.
func CompileConfSchema(path string) (*gojsonschema.Schema, error) {
	if path == "" {
		return nil, nil
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve schema path %s: %w", path, err)
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + abs))
	if err != nil {
		return nil, fmt.Errorf("failed to compile conf schema %s: %w", path, err)
	}

	return schema, nil
}
