// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wehubfusion/datamanager/pkg/concurrency"
)

// Environment variable names.
const (
	EnvLogLevel       = "DATAMANAGER_LOG_LEVEL"
	EnvLogFormat      = "DATAMANAGER_LOG_FORMAT"
	EnvNATSURL        = "DATAMANAGER_NATS_URL"
	EnvNATSSubject    = "DATAMANAGER_NATS_SUBJECT"
	EnvNATSQueue      = "DATAMANAGER_NATS_QUEUE"
	EnvBlobConnection = "DATAMANAGER_BLOB_CONNECTION_STRING"
	EnvBlobContainer  = "DATAMANAGER_BLOB_CONTAINER"
	EnvOTLPEndpoint   = "DATAMANAGER_OTLP_ENDPOINT"
	EnvSentryDSN      = "DATAMANAGER_SENTRY_DSN"
	EnvScriptTimeout  = "DATAMANAGER_SCRIPT_TIMEOUT"
	EnvScriptDir      = "DATAMANAGER_SCRIPT_DIR"
	EnvEnvironment    = "DATAMANAGER_ENVIRONMENT"
	EnvDatabaseURL    = "DATAMANAGER_DATABASE_URL"
	EnvMaxConcurrent  = "DATAMANAGER_MAX_CONCURRENT"
	EnvResultSubject  = "DATAMANAGER_RESULT_SUBJECT"
)

const (
	defaultNATSURL       = "nats://127.0.0.1:4222"
	defaultNATSSubject   = "datamanager.execute"
	defaultNATSQueue     = "datamanager"
	defaultContainer     = "datamanager-results"
	defaultScriptTimeout = 5 * time.Second
)

// Log formats.
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
)

// Config holds the service configuration.
type Config struct {
	LogLevel  string
	LogFormat string

	NATSURL     string
	NATSSubject string
	NATSQueue   string
	// ResultSubject receives every execution outcome when set.
	ResultSubject string

	BlobConnectionString string
	BlobContainer        string

	OTLPEndpoint string
	SentryDSN    string
	Environment  string

	ScriptDir     string
	ScriptTimeout time.Duration

	DatabaseURL string

	// MaxConcurrent bounds the requests the service executes at once.
	MaxConcurrent int
}

// Load reads the configuration with priority env vars > defaults. Values
// that cannot be parsed are reported by Validate rather than replaced.
func Load() (*Config, error) {
	c := &Config{
		LogLevel:             strings.ToLower(getEnv(EnvLogLevel, "info")),
		LogFormat:            strings.ToLower(getEnv(EnvLogFormat, LogFormatJSON)),
		NATSURL:              getEnv(EnvNATSURL, defaultNATSURL),
		NATSSubject:          getEnv(EnvNATSSubject, defaultNATSSubject),
		NATSQueue:            getEnv(EnvNATSQueue, defaultNATSQueue),
		ResultSubject:        getEnv(EnvResultSubject, ""),
		BlobConnectionString: getEnv(EnvBlobConnection, ""),
		BlobContainer:        getEnv(EnvBlobContainer, defaultContainer),
		OTLPEndpoint:         getEnv(EnvOTLPEndpoint, ""),
		SentryDSN:            getEnv(EnvSentryDSN, ""),
		Environment:          getEnv(EnvEnvironment, "development"),
		ScriptDir:            getEnv(EnvScriptDir, ""),
		ScriptTimeout:        defaultScriptTimeout,
		DatabaseURL:          getEnv(EnvDatabaseURL, ""),
		MaxConcurrent:        concurrency.DefaultMaxConcurrent(),
	}

	if v := os.Getenv(EnvScriptTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvScriptTimeout, err)
		}
		c.ScriptTimeout = d
	}
	if v := os.Getenv(EnvMaxConcurrent); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvMaxConcurrent, err)
		}
		c.MaxConcurrent = n
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	if c.LogFormat != LogFormatJSON && c.LogFormat != LogFormatConsole {
		return fmt.Errorf("invalid log format %q: want %s or %s", c.LogFormat, LogFormatJSON, LogFormatConsole)
	}
	if c.NATSURL == "" {
		return fmt.Errorf("NATS URL is required")
	}
	if c.NATSSubject == "" {
		return fmt.Errorf("NATS subject is required")
	}
	if c.ResultSubject != "" && c.ResultSubject == c.NATSSubject {
		return fmt.Errorf("result subject must differ from the request subject %q", c.NATSSubject)
	}
	if c.ScriptTimeout <= 0 {
		return fmt.Errorf("script timeout must be positive, got %s", c.ScriptTimeout)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.BlobConnectionString != "" && c.BlobContainer == "" {
		return fmt.Errorf("blob container is required when a blob connection string is set")
	}
	return nil
}

// ArchiveEnabled reports whether results are archived to blob storage.
func (c *Config) ArchiveEnabled() bool { return c.BlobConnectionString != "" }

// NewLogger builds the service logger.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if c.LogFormat == LogFormatConsole {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build(zap.Fields(zap.String("service", "datamanager")))
}

// String returns a loggable summary without secrets.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{LogLevel: %s, LogFormat: %s, NATS: %s, Subject: %s, Queue: %s, Results: %q, Archive: %t, Tracing: %t, Sentry: %t, ScriptDir: %q, ScriptTimeout: %s, MaxConcurrent: %d}",
		c.LogLevel,
		c.LogFormat,
		c.NATSURL,
		c.NATSSubject,
		c.NATSQueue,
		c.ResultSubject,
		c.ArchiveEnabled(),
		c.OTLPEndpoint != "",
		c.SentryDSN != "",
		c.ScriptDir,
		c.ScriptTimeout,
		c.MaxConcurrent,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
