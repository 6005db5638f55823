// Package config centralises configuration parsing for the ergonomic assessment service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config captures runtime configuration values shared by every binary.
type Config struct {
	HTTPAddress        string        `validate:"required"`
	MetricsAddress     string        // Listener for /metrics in the worker binaries.
	PostgresURL        string        // Empty selects the in-memory repository.
	MigrationsAuto     bool          // Apply embedded migrations on API start.
	KafkaBrokers       []string      `validate:"required,min=1,dive,required"`
	SchemaRegistryURL  string        `validate:"required,url"`
	OutboxPollInterval time.Duration `validate:"gt=0"`
	OutboxBatchSize    int           `validate:"min=1"`
	JWTSecret          string        `validate:"required"`
	JWTIssuer          string        `validate:"required"`
	DLQPollInterval    time.Duration `validate:"gt=0"`
	DLQMaxRetries      int           `validate:"min=1"`
	DLQBaseDelay       time.Duration `validate:"gt=0"`
	ConsumerGroupID    string        `validate:"required"`
	ConsumerTopics     []string      `validate:"required,min=1,dive,required"`
	MaxFrames          int           `validate:"min=1"`
	WristMode          string        `validate:"oneof=literal hand"`
	HighRiskThreshold  int           `validate:"min=1,max=7"`
}

// Load reads environment variables into Config, applying sensible defaults for local dev.
func Load() Config {
	cfg := Config{
		HTTPAddress:        getEnv("HTTP_ADDRESS", ":8080"),
		MetricsAddress:     getEnv("METRICS_ADDRESS", ":9102"),
		PostgresURL:        getEnv("POSTGRES_URL", ""),
		MigrationsAuto:     getBoolEnv("MIGRATIONS_AUTO", false),
		SchemaRegistryURL:  getEnv("SCHEMA_REGISTRY_URL", "http://schema-registry:8081"),
		OutboxPollInterval: getDurationEnv("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getIntEnv("OUTBOX_BATCH_SIZE", 25),
		JWTSecret:          getEnv("JWT_SECRET", "dev-secret-change-me"),
		JWTIssuer:          getEnv("JWT_ISSUER", "ergorisk.identity"),
		DLQPollInterval:    getDurationEnv("DLQ_POLL_INTERVAL", 30*time.Second),
		DLQMaxRetries:      getIntEnv("DLQ_MAX_RETRIES", 5),
		DLQBaseDelay:       getDurationEnv("DLQ_BASE_DELAY", time.Minute),
		ConsumerGroupID:    getEnv("CONSUMER_GROUP_ID", "ergorisk-audit"),
		MaxFrames:          getIntEnv("MAX_FRAMES", 300),
		WristMode:          strings.ToLower(getEnv("WRIST_MODE", "literal")),
		HighRiskThreshold:  getIntEnv("HIGH_RISK_THRESHOLD", 5),
	}

	cfg.KafkaBrokers = splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092"))
	cfg.ConsumerTopics = splitAndTrim(getEnv("CONSUMER_TOPICS", "ergonomic_assessments,ergonomic_alerts"))
	return cfg
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every invalid field in one error.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	problems := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		problems = append(problems, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
}

// env returns the parsed value of key, or fallback when it is unset, empty or unparsable.
func env[T any](key string, fallback T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getEnv(key, fallback string) string {
	return env(key, fallback, func(s string) (string, error) { return s, nil })
}

func getDurationEnv(key string, fallback time.Duration) time.Duration {
	return env(key, fallback, time.ParseDuration)
}

func getIntEnv(key string, fallback int) int { return env(key, fallback, strconv.Atoi) }

func getBoolEnv(key string, fallback bool) bool { return env(key, fallback, strconv.ParseBool) }

func splitAndTrim(value string) []string {
	var out []string
	for part := range strings.SplitSeq(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
