package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type Config struct {
	// HTTP Server
	Port            int           `validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `validate:"min=1000000000"`

	// Storage
	DataBackend  string `validate:"oneof=file sqlite"`
	DataFile     string `validate:"required_if=DataBackend file"`
	SQLiteDBPath string `validate:"required_if=DataBackend sqlite"`

	// AMQP, empty URL disables events
	AMQPURL      string `validate:"omitempty,url"`
	AMQPExchange string `validate:"required_with=AMQPURL"`
	AMQPQueue    string `validate:"required_with=AMQPURL"`

	// Worker
	AuditLogPath string `validate:"required"`

	// Observability
	MetricsAddr string `validate:"omitempty,hostname_port"`
	LogLevel    string `validate:"oneof=debug info warn error"`
	LogFormat   string `validate:"oneof=text json"`

	// Rate limiting of mutating requests, 0 disables
	RateLimitRPM   int `validate:"min=0"`
	RateLimitBurst int `validate:"min=0"`
}

func Load() *Config {
	return &Config{
		Port:            getEnvInt("PORT", 8000),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DataBackend:  getEnv("DATA_BACKEND", "file"),
		DataFile:     getEnv("DATA_FILE", "records.json"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/records.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "kakeibo"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "record_events"),

		AuditLogPath: getEnv("AUDIT_LOG_PATH", "./data/audit.jsonl"),

		MetricsAddr: getEnv("METRICS_ADDR", ""),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(getEnv("LOG_FORMAT", "text")),

		RateLimitRPM:   getEnvInt("RATE_LIMIT_RPM", 120),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),
	}
}

// Addr is the listen address of the API server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate configuration: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, describe(fe))
		}
	}

	// The url tag accepts any scheme.
	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err == nil && u.Scheme != "amqp" && u.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", u.Scheme))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Field() {
	case "Port":
		return fmt.Sprintf("invalid port %v: must be between 1 and 65535", fe.Value())
	case "ShutdownTimeout":
		return fmt.Sprintf("invalid shutdown timeout %v: must be at least 1s", fe.Value())
	case "DataBackend":
		return fmt.Sprintf("invalid data backend '%v': must be one of [%s]", fe.Value(), fe.Param())
	case "DataFile":
		return "data file path cannot be empty when using file backend"
	case "SQLiteDBPath":
		return "SQLite database path cannot be empty when using sqlite backend"
	case "AMQPURL":
		return fmt.Sprintf("invalid AMQP URL '%v'", fe.Value())
	case "AMQPExchange":
		return "AMQP exchange name cannot be empty when AMQP URL is provided"
	case "AMQPQueue":
		return "AMQP queue name cannot be empty when AMQP URL is provided"
	case "MetricsAddr":
		return fmt.Sprintf("invalid metrics address '%v': must be host:port", fe.Value())
	case "LogLevel":
		return fmt.Sprintf("invalid log level '%v': must be one of [%s]", fe.Value(), fe.Param())
	case "LogFormat":
		return fmt.Sprintf("invalid log format '%v': must be one of [%s]", fe.Value(), fe.Param())
	case "AuditLogPath":
		return "audit log path cannot be empty"
	case "RateLimitRPM", "RateLimitBurst":
		return fmt.Sprintf("invalid %s %v: must not be negative", fe.Field(), fe.Value())
	}
	return fmt.Sprintf("invalid %s %v: failed '%s' check", fe.Field(), fe.Value(), fe.Tag())
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
