package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		EnvLogLevel, EnvLogFormat, EnvNATSURL, EnvNATSSubject, EnvNATSQueue,
		EnvBlobConnection, EnvBlobContainer, EnvOTLPEndpoint, EnvSentryDSN,
		EnvScriptTimeout, EnvScriptDir, EnvEnvironment, EnvDatabaseURL,
	} {
		t.Setenv(key, "")
	}

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, LogFormatJSON, c.LogFormat)
	assert.Equal(t, "nats://127.0.0.1:4222", c.NATSURL)
	assert.Equal(t, "datamanager.execute", c.NATSSubject)
	assert.Equal(t, "datamanager", c.NATSQueue)
	assert.Equal(t, 5*time.Second, c.ScriptTimeout)
	assert.False(t, c.ArchiveEnabled())
	assert.Positive(t, c.MaxConcurrent)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv(EnvLogLevel, "DEBUG")
	t.Setenv(EnvLogFormat, "console")
	t.Setenv(EnvNATSURL, "nats://broker:4222")
	t.Setenv(EnvNATSSubject, "dm.run")
	t.Setenv(EnvBlobConnection, "AccountName=a;AccountKey=b")
	t.Setenv(EnvBlobContainer, "runs")
	t.Setenv(EnvScriptTimeout, "250ms")
	t.Setenv(EnvSentryDSN, "https://key@sentry.example.com/1")
	t.Setenv(EnvMaxConcurrent, "3")
	t.Setenv(EnvResultSubject, "dm.results")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, LogFormatConsole, c.LogFormat)
	assert.Equal(t, "nats://broker:4222", c.NATSURL)
	assert.Equal(t, "dm.run", c.NATSSubject)
	assert.Equal(t, 250*time.Millisecond, c.ScriptTimeout)
	assert.Equal(t, 3, c.MaxConcurrent)
	assert.Equal(t, "dm.results", c.ResultSubject)
	assert.True(t, c.ArchiveEnabled())
	assert.NotContains(t, c.String(), "AccountKey")
	assert.NotContains(t, c.String(), "sentry.example.com")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "log level", key: EnvLogLevel, value: "loud"},
		{name: "log format", key: EnvLogFormat, value: "xml"},
		{name: "timeout syntax", key: EnvScriptTimeout, value: "soon"},
		{name: "timeout sign", key: EnvScriptTimeout, value: "-1s"},
		{name: "max concurrent syntax", key: EnvMaxConcurrent, value: "many"},
		{name: "max concurrent zero", key: EnvMaxConcurrent, value: "0"},
		{name: "result subject loops", key: EnvResultSubject, value: "datamanager.execute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{LogFormatJSON, LogFormatConsole} {
		c := &Config{LogLevel: "warn", LogFormat: format}
		logger, err := c.NewLogger()
		require.NoError(t, err)
		assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
		assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
	}
}
