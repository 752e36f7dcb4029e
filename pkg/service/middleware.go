package service

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// HandlerFunc turns an encoded request into a response.
type HandlerFunc func(ctx context.Context, data []byte) *ExecutionResponse

// Middleware wraps a HandlerFunc.
type Middleware func(HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(h HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// Recovery answers a request whose handling panicked with an error
// response instead of crashing the subscriber.
func Recovery(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, data []byte) (resp *ExecutionResponse) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Recovered panic while handling request",
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()))
					resp = &ExecutionResponse{Error: fmt.Sprintf("panic recovered: %v", r)}
				}
			}()
			return next(ctx, data)
		}
	}
}

// Logging logs every handled request with its duration.
func Logging(logger *zap.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, data []byte) *ExecutionResponse {
			start := time.Now()
			resp := next(ctx, data)
			fields := []zap.Field{
				zap.String("process_id", resp.ProcessID),
				zap.String("correlation_id", resp.CorrelationID),
				zap.Bool("success", resp.Success),
				zap.Duration("duration", time.Since(start)),
			}
			if resp.Error != "" {
				logger.Warn("Request failed", append(fields, zap.String("error", resp.Error))...)
				return resp
			}
			logger.Debug("Request handled", fields...)
			return resp
		}
	}
}
