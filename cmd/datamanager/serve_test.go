package main

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/datamanager/pkg/callback"
	"github.com/wehubfusion/datamanager/pkg/config"
	"github.com/wehubfusion/datamanager/pkg/service"
)

type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
	events   []callback.Event
}

func (p *capturePublisher) Publish(subject string, data []byte) error {
	var ev callback.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.events = append(p.events, ev)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		LogLevel:      "error",
		LogFormat:     config.LogFormatJSON,
		NATSURL:       "nats://127.0.0.1:4222",
		NATSSubject:   "datamanager.execute",
		ResultSubject: "datamanager.results",
		Environment:   "test",
		ScriptTimeout: time.Second,
		MaxConcurrent: 2,
	}
}

func TestNewService(t *testing.T) {
	pub := &capturePublisher{}
	svc, shutdown, err := newService(context.Background(), testConfig(), zap.NewNop(), pub)
	require.NoError(t, err)
	defer shutdown()

	resp := svc.Execute(context.Background(), service.ExecutionRequest{
		ProcessID:     "text.upper",
		FactoryID:     "text",
		CorrelationID: "c-1",
		Inputs:        map[string]any{"s": "ok"},
	})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "OK", resp.Results["text"])

	require.Len(t, pub.events, 1)
	assert.Equal(t, []string{"datamanager.results"}, pub.subjects)
	assert.Equal(t, "c-1", pub.events[0].CorrelationID)
}

func TestNewService_WithoutResultSubject(t *testing.T) {
	cfg := testConfig()
	cfg.ResultSubject = ""
	pub := &capturePublisher{}
	svc, shutdown, err := newService(context.Background(), cfg, zap.NewNop(), pub)
	require.NoError(t, err)
	defer shutdown()

	resp := svc.Execute(context.Background(), service.ExecutionRequest{ProcessID: "schema.validate", FactoryID: "schema",
		Inputs: map[string]any{"data": "x", "schema": `{"type":"STRING"}`}})
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, true, resp.Results["valid"])
	assert.Empty(t, pub.events)
}

func TestNewService_InvalidArchive(t *testing.T) {
	cfg := testConfig()
	cfg.BlobConnectionString = "not a connection string"
	cfg.BlobContainer = "runs"
	_, shutdown, err := newService(context.Background(), cfg, zap.NewNop(), nil)
	shutdown()
	assert.Error(t, err)
}
