// Package config loads the coordinator settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Config holds the server settings. Every field has a default so an empty
// environment yields a runnable local configuration.
type Config struct {
	Port              string        `env:"PORT,default=8083"`
	AllowedOrigins    string        `env:"ALLOWED_ORIGINS,default=*"`
	MaxMessageSize    int64         `env:"MAX_MESSAGE_SIZE,default=4096"`
	SendBufferSize    int           `env:"SEND_BUFFER_SIZE,default=256"`
	EventQueueSize    int           `env:"EVENT_QUEUE_SIZE,default=1024"`
	RateLimitBurst    int           `env:"RATE_LIMIT_BURST,default=10"`
	RateLimitInterval time.Duration `env:"RATE_LIMIT_INTERVAL,default=1s"`
	LogLevel          string        `env:"LOG_LEVEL,default=INFO"`
	AMQPURL           string        `env:"AMQP_URL"`
	AMQPExchange      string        `env:"AMQP_EXCHANGE,default=chat.events"`
	AuditRoutingKey   string        `env:"AUDIT_ROUTING_KEY,default=audit.chat"`
	AuditBufferSize   int           `env:"AUDIT_BUFFER_SIZE,default=512"`
	OTLPEndpoint      string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName       string        `env:"SERVICE_NAME,default=chat-coordinator"`
	Environment       string        `env:"ENVIRONMENT,default=local"`
	DebugRoutes       bool          `env:"DEBUG_ROUTES,default=false"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize))
	}
	if c.SendBufferSize <= 0 {
		errs = append(errs, fmt.Errorf("SEND_BUFFER_SIZE must be positive, got %d", c.SendBufferSize))
	}
	if c.EventQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_QUEUE_SIZE must be positive, got %d", c.EventQueueSize))
	}
	if c.RateLimitBurst <= 0 || c.RateLimitInterval <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_BURST and RATE_LIMIT_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// Origins splits ALLOWED_ORIGINS on commas, dropping blanks.
func (c Config) Origins() []string {
	var origins []string
	for _, origin := range strings.Split(c.AllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
