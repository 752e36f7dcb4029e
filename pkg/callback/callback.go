// Package callback publishes the outcome of executions to a result
// subject so that requesters which did not wait for a reply can collect
// them.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Type classifies a published event.
type Type string

const (
	TypeSuccess Type = "success"
	TypeError   Type = "error"
)

// Publisher sends raw data to a subject. *nats.Conn satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Event is the payload published for one execution.
type Event struct {
	Type          Type           `json:"type"`
	ProcessID     string         `json:"process_id"`
	InstanceID    string         `json:"instance_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Results       map[string]any `json:"results,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ArchiveRef    string         `json:"archive_ref,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Config configures a Handler.
type Config struct {
	// Subject receives every event.
	Subject string
	// MaxRetries is the number of attempts after the first failed one.
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// DefaultConfig returns a configuration publishing to subject with three
// retries one second apart.
func DefaultConfig(subject string) Config {
	return Config{
		Subject:    subject,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// Handler publishes events with retries.
type Handler struct {
	pub    Publisher
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a handler over pub.
func New(pub Publisher, config Config) (*Handler, error) {
	if pub == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	if config.Subject == "" {
		return nil, errors.New("result subject cannot be empty")
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pub: pub, config: config, logger: logger, now: time.Now}, nil
}

// Subject returns the subject events are published to.
func (h *Handler) Subject() string { return h.config.Subject }

// Report publishes ev, stamping it when it has no timestamp. It gives up
// after the configured retries or when ctx is done.
func (h *Handler) Report(ctx context.Context, ev Event) error {
	if ev.ProcessID == "" {
		return errors.New("event has no process id")
	}
	if ev.Type == "" {
		ev.Type = TypeSuccess
		if ev.Error != "" {
			ev.Type = TypeError
		}
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	if err := h.publish(ctx, data); err != nil {
		h.logger.Error("Failed to publish result",
			zap.String("subject", h.config.Subject),
			zap.String("process_id", ev.ProcessID),
			zap.String("correlation_id", ev.CorrelationID),
			zap.Error(err))
		return err
	}
	h.logger.Debug("Published result",
		zap.String("subject", h.config.Subject),
		zap.String("process_id", ev.ProcessID),
		zap.String("type", string(ev.Type)))
	return nil
}

func (h *Handler) publish(ctx context.Context, data []byte) error {
	var lastErr error
	attempts := h.config.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled during retry: %w", ctx.Err())
			case <-time.After(h.config.RetryDelay):
			}
		}

		err := h.pub.Publish(h.config.Subject, data)
		if err == nil {
			return nil
		}
		lastErr = err
		h.logger.Warn("Publish attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.String("subject", h.config.Subject),
			zap.Error(err))
	}
	return fmt.Errorf("publish failed after %d attempts: %w", attempts, lastErr)
}
