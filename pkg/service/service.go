// Package service exposes registered processes over NATS request/reply.
//
// A request names a process by identifier and carries its input values:
//
//	{"process_id": "sum", "inputs": {"a": 1, "b": 2}}
//
// The reply reports the results of the run or the reason it failed. Each
// request executes a fresh instance obtained from the registry, so
// concurrent requests never share process state.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/datamanager/pkg/callback"
	"github.com/wehubfusion/datamanager/pkg/concurrency"
	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
	"github.com/wehubfusion/datamanager/pkg/iteration"
	"github.com/wehubfusion/datamanager/pkg/mapper"
	"github.com/wehubfusion/datamanager/pkg/process"
	"github.com/wehubfusion/datamanager/pkg/registry"
	"github.com/wehubfusion/datamanager/pkg/storage"
)

const tracerName = "github.com/wehubfusion/datamanager/pkg/service"

// ExecutionRequest asks the service to run one registered process.
//
// With Iterate set to "sequential" or "parallel" the process runs once per
// element of the "items" input and the reply carries the list "results".
type ExecutionRequest struct {
	ProcessID string         `json:"process_id"`
	FactoryID string         `json:"factory_id,omitempty"`
	Inputs    map[string]any `json:"inputs,omitempty"`
	Iterate   string         `json:"iterate,omitempty"`
	// CorrelationID is echoed in the response and the published result.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// ExecutionResponse is the reply to an ExecutionRequest.
type ExecutionResponse struct {
	Success       bool           `json:"success"`
	ProcessID     string         `json:"process_id,omitempty"`
	InstanceID    string         `json:"instance_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Results       map[string]any `json:"results,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorCode     string         `json:"error_code,omitempty"`
	ArchiveRef    string         `json:"archive_ref,omitempty"`
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithArchiver archives the outcome of every executed request.
func WithArchiver(a *storage.Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// WithFailureHook is called for every failed execution.
func WithFailureHook(hook mapper.FailureHook) Option {
	return func(s *Service) { s.hook = hook }
}

// WithCallback publishes the outcome of every execution through h.
func WithCallback(h *callback.Handler) Option {
	return func(s *Service) { s.callback = h }
}

// WithMiddleware wraps the handling of subscription messages. The first
// middleware is outermost.
func WithMiddleware(middlewares ...Middleware) Option {
	return func(s *Service) { s.middlewares = append(s.middlewares, middlewares...) }
}

// WithLimiter bounds concurrent executions. Without a limiter requests
// are executed one at a time in subscription order.
func WithLimiter(l *concurrency.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithTracerProvider sets the provider used for request spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		if tp != nil {
			s.tracer = tp.Tracer(tracerName)
		}
	}
}

// Service executes processes from a registry on behalf of NATS requesters.
type Service struct {
	manager  *registry.Manager
	archiver *storage.Archiver
	hook     mapper.FailureHook
	limiter  *concurrency.Limiter
	callback *callback.Handler
	logger   *zap.Logger
	tracer   trace.Tracer

	middlewares []Middleware
	handler     HandlerFunc

	mu  sync.Mutex
	sub *nats.Subscription
}

// New creates a service over manager.
func New(manager *registry.Manager, opts ...Option) *Service {
	s := &Service{
		manager: manager,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = Chain(s.middlewares...)(s.handle)
	return s
}

// Start subscribes to subject in queue group queue. Replies are sent to the
// reply subject of each request; requests without one are executed and
// their outcome only logged.
func (s *Service) Start(conn *nats.Conn, subject, queue string) error {
	if conn == nil {
		return fmt.Errorf("NATS connection cannot be nil")
	}
	if subject == "" {
		return fmt.Errorf("subject cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return fmt.Errorf("service already started on %s", s.sub.Subject)
	}

	sub, err := conn.QueueSubscribe(subject, queue, s.dispatch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	s.sub = sub

	s.logger.Info("Execution service started",
		zap.String("subject", subject),
		zap.String("queue", queue))
	return nil
}

// Stop drains the subscription, letting in-flight requests finish.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	err := s.sub.Drain()
	s.sub = nil
	if err != nil {
		return fmt.Errorf("failed to drain subscription: %w", err)
	}
	s.logger.Info("Execution service stopped")
	return nil
}

// dispatch handles one subscription message, through the limiter when
// one is configured. A request the limiter turns away is answered with an
// error response straight away.
func (s *Service) dispatch(msg *nats.Msg) {
	ctx := context.Background()
	if s.limiter == nil {
		resp := s.handler(ctx, msg.Data)
		s.respond(msg, resp)
		return
	}

	err := s.limiter.Go(ctx, func() error {
		resp := s.handler(ctx, msg.Data)
		s.respond(msg, resp)
		if resp.ErrorCode == dmerrors.CodeExecution {
			return errors.New(resp.Error)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("Rejected request", zap.String("subject", msg.Subject), zap.Error(err))
		s.respond(msg, &ExecutionResponse{Error: fmt.Sprintf("service unavailable: %v", err)})
	}
}

func (s *Service) respond(msg *nats.Msg, resp *ExecutionResponse) {
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(s.encode(resp)); err != nil {
		s.logger.Error("Failed to send reply",
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}

// Handle decodes a request, executes it and returns the encoded response.
// It never fails; decoding problems are reported in the response.
func (s *Service) Handle(ctx context.Context, data []byte) []byte {
	return s.encode(s.handler(ctx, data))
}

func (s *Service) handle(ctx context.Context, data []byte) *ExecutionResponse {
	var req ExecutionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Warn("Rejected malformed request", zap.Error(err))
		return &ExecutionResponse{Error: fmt.Sprintf("invalid request: %v", err)}
	}
	return s.Execute(ctx, req)
}

func (s *Service) encode(resp *ExecutionResponse) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to encode response",
			zap.String("process_id", resp.ProcessID),
			zap.Error(err))
		out, _ = json.Marshal(&ExecutionResponse{
			ProcessID: resp.ProcessID,
			Error:     fmt.Sprintf("results cannot be encoded: %v", err),
		})
	}
	return out
}

// Execute runs the requested process on a fresh instance.
func (s *Service) Execute(ctx context.Context, req ExecutionRequest) *ExecutionResponse {
	ctx, span := s.tracer.Start(ctx, "service.execute",
		trace.WithAttributes(
			attribute.String("process.id", req.ProcessID),
			attribute.String("factory.id", req.FactoryID),
		))
	defer span.End()

	resp := &ExecutionResponse{ProcessID: req.ProcessID, CorrelationID: req.CorrelationID}
	if req.ProcessID == "" {
		resp.Error = "process_id is required"
		span.SetStatus(codes.Error, resp.Error)
		return resp
	}

	p, err := s.lookup(req)
	if err != nil {
		s.logger.Warn("Requested process not available",
			zap.String("process_id", req.ProcessID),
			zap.String("factory_id", req.FactoryID),
			zap.Error(err))
		s.fail(span, resp, err)
		return resp
	}
	if req.Iterate != "" {
		if p, err = s.iterate(p, req.Iterate); err != nil {
			s.fail(span, resp, err)
			return resp
		}
	}
	resp.InstanceID = p.Identifier()

	inputs := req.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}

	execErr := p.Execute(ctx, inputs)
	if execErr != nil {
		s.fail(span, resp, execErr)
		if s.hook != nil {
			s.hook(ctx, p, execErr)
		}
	} else {
		resp.Success = true
		resp.Results = p.Results()
	}

	if s.archiver != nil {
		var failures map[string]error
		if execErr != nil {
			failures = map[string]error{p.Identifier(): execErr}
		}
		if _, ref, err := s.archiver.Archive(ctx, p.Title(), resp.Results, failures); err != nil {
			s.logger.Error("Failed to archive execution",
				zap.String("process_id", req.ProcessID),
				zap.Error(err))
		} else {
			resp.ArchiveRef = ref
		}
	}

	s.logger.Info("Executed process",
		zap.String("process_id", req.ProcessID),
		zap.String("instance_id", resp.InstanceID),
		zap.Bool("success", resp.Success))
	s.report(ctx, resp)
	return resp
}

// report publishes resp when a callback is configured. Failures are
// logged by the callback and do not change the response.
func (s *Service) report(ctx context.Context, resp *ExecutionResponse) {
	if s.callback == nil {
		return
	}
	_ = s.callback.Report(ctx, callback.Event{
		ProcessID:     resp.ProcessID,
		InstanceID:    resp.InstanceID,
		CorrelationID: resp.CorrelationID,
		Results:       resp.Results,
		Error:         resp.Error,
		ErrorCode:     resp.ErrorCode,
		ArchiveRef:    resp.ArchiveRef,
	})
}

func (s *Service) iterate(p *process.Process, strategy string) (*process.Process, error) {
	switch iteration.Strategy(strategy) {
	case iteration.StrategySequential, iteration.StrategyParallel:
	default:
		return nil, dmerrors.Construction(fmt.Sprintf("unknown iteration strategy %q", strategy), nil)
	}
	workers := 0
	if s.limiter != nil {
		workers = s.limiter.Capacity()
	}
	return iteration.Each(p, iteration.Config{
		Strategy:      iteration.Strategy(strategy),
		MaxConcurrent: workers,
	})
}

// lookup never creates factories: request identifiers are untrusted.
func (s *Service) lookup(req ExecutionRequest) (*process.Process, error) {
	return s.manager.ProcessFrom(req.FactoryID, req.ProcessID)
}

func (s *Service) fail(span trace.Span, resp *ExecutionResponse, err error) {
	resp.Error = err.Error()
	resp.ErrorCode = dmerrors.CodeOf(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
