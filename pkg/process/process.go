// Package process provides the unit of computation of the engine: a named,
// versioned body with ordered typed inputs and outputs.
//
// A Process is not safe for concurrent use. Callers that need to run the
// same logical process concurrently obtain independent copies with
// NewInstance (registry factories always hand out such copies).
package process

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
)

const tracerName = "datamanager/process"

// ResultKey is the key under which the body result is stored when a
// process declares no outputs.
const ResultKey = "result"

// Process is a named unit of computation.
type Process struct {
	id          string
	title       string
	description string
	version     string
	keywords    []string

	inputs  []*Input
	outputs []*Output
	body    Body

	results map[string]any
	logger  *zap.Logger
}

// Identifier returns the unique identifier of the process.
func (p *Process) Identifier() string { return p.id }

// Title returns the human-readable name of the process.
func (p *Process) Title() string { return p.title }

// Description returns the process description.
func (p *Process) Description() string { return p.description }

// Version returns the optional version string.
func (p *Process) Version() string { return p.version }

// Keywords returns a copy of the process keywords.
func (p *Process) Keywords() []string {
	return append([]string(nil), p.keywords...)
}

// HasKeyword reports whether the process carries keyword k, compared
// case-insensitively with Unicode case folding.
func (p *Process) HasKeyword(k string) bool {
	fold := cases.Fold()
	want := fold.String(k)
	for _, kw := range p.keywords {
		if fold.String(kw) == want {
			return true
		}
	}
	return false
}

// Inputs returns the inputs in declaration order.
func (p *Process) Inputs() []*Input {
	return append([]*Input(nil), p.inputs...)
}

// Outputs returns the outputs in declaration order.
func (p *Process) Outputs() []*Output {
	return append([]*Output(nil), p.outputs...)
}

// Input returns the input with the given name, or nil.
func (p *Process) Input(name string) *Input {
	for _, in := range p.inputs {
		if in.name == name {
			return in
		}
	}
	return nil
}

// Output returns the output with the given name, or nil.
func (p *Process) Output(name string) *Output {
	for _, out := range p.outputs {
		if out.name == name {
			return out
		}
	}
	return nil
}

// MustInput is like Input but panics when the input does not exist.
func (p *Process) MustInput(name string) *Input {
	in := p.Input(name)
	if in == nil {
		panic(fmt.Sprintf("process %s has no input %q", p.title, name))
	}
	return in
}

// MustOutput is like Output but panics when the output does not exist.
func (p *Process) MustOutput(name string) *Output {
	out := p.Output(name)
	if out == nil {
		panic(fmt.Sprintf("process %s has no output %q", p.title, name))
	}
	return out
}

// DefaultValues returns the defaults of the optional inputs.
func (p *Process) DefaultValues() map[string]any {
	defaults := make(map[string]any)
	for _, in := range p.inputs {
		if in.optional {
			defaults[in.name] = in.defaultValue
		}
	}
	return defaults
}

// Results returns a copy of the results of the last successful execution.
func (p *Process) Results() map[string]any {
	return copyMap(p.results)
}

// Result returns a single value from the last successful execution.
func (p *Process) Result(name string) (any, bool) {
	v, ok := p.results[name]
	return v, ok
}

// Execute resolves the provided values against the declared inputs, runs
// the body and stores its results. On error the previous results are kept.
//
// The number of provided values must lie between the number of required
// inputs and the number of declared inputs. Missing optional inputs take
// their default value.
func (p *Process) Execute(ctx context.Context, values map[string]any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	tracer := trace.SpanFromContext(ctx).TracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "process.execute",
		trace.WithAttributes(
			attribute.String("process.id", p.id),
			attribute.String("process.title", p.title),
			attribute.Int("process.inputs", len(values)),
		))
	defer span.End()

	if err := p.execute(ctx, values); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("Process execution failed",
			zap.String("process", p.title),
			zap.String("process_id", p.id),
			zap.Error(err))
		return err
	}

	p.logger.Debug("Process executed",
		zap.String("process", p.title),
		zap.Int("results", len(p.results)))
	return nil
}

func (p *Process) execute(ctx context.Context, values map[string]any) error {
	optional := 0
	for _, in := range p.inputs {
		if in.optional {
			optional++
		}
	}
	if n := len(values); n < len(p.inputs)-optional || n > len(p.inputs) {
		return dmerrors.Execution(
			fmt.Sprintf("process %s: %d values for %d inputs (%d optional)", p.title, n, len(p.inputs), optional),
			dmerrors.ErrInputCount)
	}

	args := make([]any, len(p.inputs))
	for i, in := range p.inputs {
		v, ok := values[in.name]
		if !ok {
			if !in.optional {
				return dmerrors.Execution(fmt.Sprintf("process %s: input %q", p.title, in.name), dmerrors.ErrMissingInput)
			}
			args[i] = in.defaultValue
			continue
		}
		cv, ok := coerce(v, in.typ)
		if !ok {
			return dmerrors.Execution(
				fmt.Sprintf("process %s: input %q: %T is not assignable to %s", p.title, in.name, v, in.typ),
				dmerrors.ErrInputType)
		}
		args[i] = cv
	}

	ret, err := p.call(ctx, args)
	if err != nil {
		return dmerrors.Execution(fmt.Sprintf("process %s", p.title), fmt.Errorf("%w: %w", dmerrors.ErrBodyFailed, err))
	}

	results, err := p.interpret(ret)
	if err != nil {
		return err
	}
	p.results = results
	return nil
}

// call invokes the body, converting a panic into an error.
func (p *Process) call(ctx context.Context, args []any) (ret any, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Debug("Recovered panic in process body",
				zap.String("process", p.title),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return p.body.Call(ctx, args)
}

// interpret maps a body return value onto the declared outputs.
func (p *Process) interpret(ret any) (map[string]any, error) {
	switch len(p.outputs) {
	case 0:
		return map[string]any{ResultKey: ret}, nil
	case 1:
		if m, ok := ret.(map[string]any); ok {
			return copyMap(m), nil
		}
		return map[string]any{p.outputs[0].name: ret}, nil
	}

	m, ok := stringMap(ret)
	if !ok {
		return nil, dmerrors.Execution(
			fmt.Sprintf("process %s: %d outputs declared but body returned %T", p.title, len(p.outputs), ret),
			dmerrors.ErrOutputContract)
	}
	for _, out := range p.outputs {
		if _, ok := m[out.name]; !ok {
			return nil, dmerrors.Execution(
				fmt.Sprintf("process %s: output %q missing from result", p.title, out.name),
				dmerrors.ErrOutputContract)
		}
	}
	return m, nil
}

// NewInstance returns an independent copy of the process with a new
// identifier, fresh slots and no results.
func (p *Process) NewInstance() *Process {
	return p.clone(uuid.NewString())
}

// Copy returns an independent copy of the process that keeps its identifier.
func (p *Process) Copy() *Process {
	return p.clone(p.id)
}

func (p *Process) clone(id string) *Process {
	c := &Process{
		id:          id,
		title:       p.title,
		description: p.description,
		version:     p.version,
		keywords:    append([]string(nil), p.keywords...),
		body:        p.body,
		results:     make(map[string]any),
		logger:      p.logger,
	}
	for _, in := range p.inputs {
		c.inputs = append(c.inputs, &Input{
			name:         in.name,
			typ:          in.typ,
			owner:        c,
			optional:     in.optional,
			defaultValue: in.defaultValue,
		})
	}
	for _, out := range p.outputs {
		c.outputs = append(c.outputs, &Output{name: out.name, typ: out.typ, owner: c})
	}
	return c
}

func (p *Process) String() string {
	return fmt.Sprintf("%s(%s)", p.title, p.id)
}
