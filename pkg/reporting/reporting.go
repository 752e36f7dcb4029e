// Package reporting forwards process failures to Sentry.
package reporting

import (
	"context"
	"fmt"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
	"github.com/wehubfusion/datamanager/pkg/mapper"
	"github.com/wehubfusion/datamanager/pkg/process"
)

// Options configures a Reporter.
type Options struct {
	DSN         string
	Environment string
	Release     string
	// BeforeSend may modify or drop events before they are sent.
	BeforeSend func(*sentry.Event) *sentry.Event
	Logger     *zap.Logger
}

// Reporter sends failures to its own Sentry hub; it never touches the
// global hub.
type Reporter struct {
	hub    *sentry.Hub
	logger *zap.Logger
}

// New creates a reporter. An empty DSN yields a reporter that drops every
// event.
func New(opts Options) (*Reporter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var beforeSend func(*sentry.Event, *sentry.EventHint) *sentry.Event
	if opts.BeforeSend != nil {
		beforeSend = func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return opts.BeforeSend(event)
		}
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		AttachStacktrace: true,
		BeforeSend:       beforeSend,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}

	return &Reporter{
		hub:    sentry.NewHub(client, sentry.NewScope()),
		logger: logger,
	}, nil
}

// Capture reports err with the given tags.
func (r *Reporter) Capture(err error, tags map[string]string) {
	if err == nil {
		return
	}
	r.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if code := dmerrors.CodeOf(err); code != "" {
			scope.SetTag("error_code", code)
		}
		if id := r.hub.CaptureException(err); id != nil {
			r.logger.Debug("Reported failure", zap.String("event_id", string(*id)))
		}
	})
}

// FailureHook returns a mapper hook that reports every failed process.
func (r *Reporter) FailureHook() mapper.FailureHook {
	return func(_ context.Context, p *process.Process, err error) {
		r.Capture(err, map[string]string{
			"process_id":    p.Identifier(),
			"process_title": p.Title(),
		})
	}
}

// Flush waits until buffered events are sent or timeout elapses.
func (r *Reporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}
