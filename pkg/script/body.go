package script

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/wehubfusion/datamanager/pkg/process"
)

// Body is a process body whose code is the body of a JavaScript function
// taking one parameter per process input, in declaration order. Every call
// runs in a fresh sandboxed runtime, so a Body is safe for concurrent use.
//
// Example source for params ["a", "b"]:
//
//	return { sum: a + b, product: a * b };
type Body struct {
	name    string
	params  []string
	program *goja.Program
	config  Config
}

var _ process.Body = (*Body)(nil)

// New compiles source as the body of a function of params.
func New(name, source string, params []string, cfg Config) (*Body, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	wrapped := fmt.Sprintf("(function(%s) {\n%s\n})", strings.Join(params, ", "), source)
	program, err := goja.Compile(name, wrapped, true)
	if err != nil {
		return nil, &JSError{Type: ErrorTypeSyntax, Message: err.Error()}
	}
	return &Body{
		name:    name,
		params:  append([]string(nil), params...),
		program: program,
		config:  cfg,
	}, nil
}

// Arity returns the number of parameters.
func (b *Body) Arity() int { return len(b.params) }

// Params returns the parameter names.
func (b *Body) Params() []string { return append([]string(nil), b.params...) }

// Call runs the script with args bound to the parameters. The call is
// interrupted when the context ends or the configured timeout elapses.
func (b *Body) Call(ctx context.Context, args []any) (any, error) {
	if len(args) != len(b.params) {
		return nil, NewInternalError(fmt.Sprintf("%s takes %d arguments, got %d", b.name, len(b.params), len(args)))
	}

	vm := goja.New()
	sb := &sandbox{level: b.config.SecurityLevel, logger: b.config.Logger.With(zap.String("script", b.name))}
	if err := sb.apply(vm); err != nil {
		return nil, NewInternalError(err.Error())
	}

	fnValue, err := vm.RunProgram(b.program)
	if err != nil {
		return nil, fromRunError(err)
	}
	fn, ok := goja.AssertFunction(fnValue)
	if !ok {
		return nil, NewInternalError("compiled script is not a function")
	}

	timer := time.AfterFunc(b.config.Timeout, func() {
		vm.Interrupt(fmt.Sprintf("execution timeout after %s", b.config.Timeout))
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt(fmt.Sprintf("execution interrupted: %v", ctx.Err()))
	})
	defer stop()

	values := make([]goja.Value, len(args))
	for i, a := range args {
		values[i] = vm.ToValue(a)
	}

	ret, err := fn(goja.Undefined(), values...)
	if err != nil {
		return nil, fromRunError(err)
	}
	if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
		return nil, nil
	}
	return ret.Export(), nil
}
