// Package mapper composes processes into a dependency graph and runs it.
//
// Processes are wired with Link: an input linked to an output receives the
// value that output's process produced, and slots linked to an alias are fed
// from (or reported under) that alias name. Execute links the graph, groups
// the processes into layers in which every process only depends on earlier
// layers, and runs the layers in order.
//
// A Mapper is not safe for concurrent use.
package mapper

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
	"github.com/wehubfusion/datamanager/pkg/process"
)

const tracerName = "datamanager/mapper"

// FailureHook receives every process failure of a run.
type FailureHook func(ctx context.Context, p *process.Process, err error)

// Option configures a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTracerProvider sets the tracer provider used for run and process spans.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Mapper) {
		if tp != nil {
			m.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithFailureHook registers a hook called for each failed process.
func WithFailureHook(hook FailureHook) Option {
	return func(m *Mapper) {
		if hook != nil {
			m.hooks = append(m.hooks, hook)
		}
	}
}

// Mapper owns the wiring between processes and runs them in dependency order.
type Mapper struct {
	title  string
	logger *zap.Logger
	tracer trace.Tracer
	hooks  []FailureHook

	// registration state
	edges      map[*process.Input]*process.Output
	edgeOrder  []*process.Input
	aliases    map[string][]process.Slot
	aliasOrder []string
	aliasOf    map[process.Slot]string
	added      []*process.Process
	before     map[*process.Process][]check
	after      map[*process.Process][]check

	// derived by Link, stale after any registration
	graph *graph

	results  map[string]any
	failures map[string]error

	// serializes runs of the process built by AsProcess
	exclusive sync.Mutex
}

// New creates an empty mapper.
func New(title string, opts ...Option) *Mapper {
	m := &Mapper{
		title:    title,
		logger:   zap.NewNop(),
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
		edges:    make(map[*process.Input]*process.Output),
		aliases:  make(map[string][]process.Slot),
		aliasOf:  make(map[process.Slot]string),
		before:   make(map[*process.Process][]check),
		after:    make(map[*process.Process][]check),
		results:  make(map[string]any),
		failures: make(map[string]error),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Title returns the mapper title.
func (m *Mapper) Title() string { return m.title }

// Link starts wiring the given slots, which must be all inputs or all
// outputs of processes.
func (m *Mapper) Link(slots ...process.Slot) *Linker {
	return newLinker(m, slots)
}

// Add places processes in the mapper without wiring them.
func (m *Mapper) Add(ps ...*process.Process) {
	for _, p := range ps {
		if p != nil {
			m.added = append(m.added, p)
		}
	}
	m.graph = nil
}

func (m *Mapper) addEdges(inputs []*process.Input, outputs []*process.Output) {
	for _, in := range inputs {
		for _, out := range outputs {
			if prev, ok := m.edges[in]; ok && prev != out {
				m.logger.Warn("Input rebound to another output",
					zap.String("mapper", m.title),
					zap.Stringer("input", in),
					zap.Stringer("previous", prev),
					zap.Stringer("output", out))
			}
			if _, ok := m.edges[in]; !ok {
				m.edgeOrder = append(m.edgeOrder, in)
			}
			m.edges[in] = out
			m.logger.Debug("Linked", zap.Stringer("input", in), zap.Stringer("output", out))
		}
	}
	m.graph = nil
}

func (m *Mapper) addAlias(alias string, slots []process.Slot) {
	if _, ok := m.aliases[alias]; !ok {
		m.aliasOrder = append(m.aliasOrder, alias)
	}
	for _, s := range slots {
		if prev, ok := m.aliasOf[s]; ok {
			if prev == alias {
				continue
			}
			m.removeFromAlias(prev, s)
		}
		m.aliases[alias] = append(m.aliases[alias], s)
		m.aliasOf[s] = alias
	}
	m.graph = nil
}

func (m *Mapper) removeFromAlias(alias string, s process.Slot) {
	slots := m.aliases[alias]
	for i, cur := range slots {
		if cur == s {
			m.aliases[alias] = append(slots[:i:i], slots[i+1:]...)
			return
		}
	}
}

// Resolve builds the dependency graph from the registered wiring. It fails
// when some process can never have all its inputs resolved. Execute calls
// it on every run, so Resolve is only needed to inspect the graph upfront.
func (m *Mapper) Resolve() error {
	_, err := m.link()
	return err
}

func (m *Mapper) link() (*graph, error) {
	g, err := buildGraph(m)
	if err != nil {
		m.graph = nil
		m.logger.Error("Failed to link processes",
			zap.String("mapper", m.title),
			zap.Strings("stranded", g.strandedTitles()),
			zap.Error(err))
		return nil, err
	}
	m.graph = g
	m.logger.Debug("Processes linked",
		zap.String("mapper", m.title),
		zap.Int("processes", len(g.processes)),
		zap.Int("layers", len(g.layers)))
	return g, nil
}

// Processes returns the processes of the last successful link.
func (m *Mapper) Processes() []*process.Process {
	if m.graph == nil {
		return nil
	}
	return append([]*process.Process(nil), m.graph.processes...)
}

// Inputs returns the exposed inputs of the last successful link: inputs not
// fed by a link, with aliased inputs represented once under their alias.
func (m *Mapper) Inputs() []*process.Input {
	if m.graph == nil {
		return nil
	}
	return append([]*process.Input(nil), m.graph.inputs...)
}

// Outputs returns the exposed outputs of the last successful link: outputs
// not consumed by a link, with aliased outputs represented under their alias.
func (m *Mapper) Outputs() []*process.Output {
	if m.graph == nil {
		return nil
	}
	return append([]*process.Output(nil), m.graph.outputs...)
}

// ExecutionTree returns the layers of the last successful link. It is nil
// when the wiring changed since.
func (m *Mapper) ExecutionTree() [][]*process.Process {
	if m.graph == nil {
		return nil
	}
	tree := make([][]*process.Process, len(m.graph.layers))
	for i, layer := range m.graph.layers {
		tree[i] = append([]*process.Process(nil), layer...)
	}
	return tree
}

// Results returns the exposed results of the last run.
func (m *Mapper) Results() map[string]any {
	out := make(map[string]any, len(m.results))
	for k, v := range m.results {
		out[k] = v
	}
	return out
}

// Failures returns the errors of the processes that failed in the last run,
// keyed by process identifier.
func (m *Mapper) Failures() map[string]error {
	out := make(map[string]error, len(m.failures))
	for k, v := range m.failures {
		out[k] = v
	}
	return out
}

// Execute links the graph and runs every layer in order, feeding each
// process from the initial values, aliases and the results of its
// producers. The initial map is not modified.
//
// Execute fails only when linking fails; in that case no process runs and
// the results are empty. A failing process does not stop the run: it is
// logged and recorded in Failures. Processes linked to it, directly or
// transitively, are skipped and recorded with ErrUpstreamFailed.
func (m *Mapper) Execute(ctx context.Context, initial map[string]any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := m.tracer.Start(ctx, "mapper.execute",
		trace.WithAttributes(attribute.String("mapper.title", m.title)))
	defer span.End()

	m.results = make(map[string]any)
	m.failures = make(map[string]error)

	g, err := m.link()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(
		attribute.Int("mapper.processes", len(g.processes)),
		attribute.Int("mapper.layers", len(g.layers)))

	data := make(map[string]any, len(initial))
	for k, v := range initial {
		data[k] = v
	}

	done := make(map[*process.Process]bool, len(g.processes))
	for i, layer := range g.layers {
		m.logger.Debug("Executing layer",
			zap.String("mapper", m.title),
			zap.Int("layer", i),
			zap.Int("processes", len(layer)))
		for _, p := range layer {
			if m.run(ctx, g, p, data, done) {
				done[p] = true
			}
		}
	}

	if len(m.failures) > 0 {
		span.SetAttributes(attribute.Int("mapper.failures", len(m.failures)))
		m.logger.Warn("Run finished with failed processes",
			zap.String("mapper", m.title),
			zap.Int("failures", len(m.failures)))
	}
	return nil
}

// run executes p and reports whether it succeeded. done holds the
// processes that succeeded earlier in the same run; p is skipped when one
// of its links depends on a producer outside done.
func (m *Mapper) run(ctx context.Context, g *graph, p *process.Process, data map[string]any, done map[*process.Process]bool) bool {
	values, blocked := m.resolveInputs(p, data, done)
	if blocked != nil {
		m.fail(ctx, p, dmerrors.Execution(
			fmt.Sprintf("process %s: input %q: producer %s", p.Title(), blocked.Name(), m.edges[blocked].Owner().Title()),
			dmerrors.ErrUpstreamFailed))
		return false
	}

	m.runChecks(ctx, p, "before", m.before[p], values)

	if err := p.Execute(ctx, values); err != nil {
		m.fail(ctx, p, err)
		return false
	}
	m.publish(g, p, data)

	m.runChecks(ctx, p, "after", m.after[p], p.Results())
	return true
}

func (m *Mapper) fail(ctx context.Context, p *process.Process, err error) {
	m.failures[p.Identifier()] = err
	m.logger.Error("Process failed, continuing run",
		zap.String("mapper", m.title),
		zap.String("process", p.Title()),
		zap.Error(err))
	for _, hook := range m.hooks {
		hook(ctx, p, err)
	}
}

// resolveInputs builds the value map for p. An input is resolved from its
// alias, then its own name, then the results of its producer, then its
// default. Producer results are only read when the producer succeeded in
// this run; otherwise the input is returned as blocked. Other unresolved
// inputs are left out and fail in process execution.
func (m *Mapper) resolveInputs(p *process.Process, data map[string]any, done map[*process.Process]bool) (map[string]any, *process.Input) {
	values := make(map[string]any, len(p.Inputs()))
	for _, in := range p.Inputs() {
		if alias, ok := m.aliasOf[in]; ok {
			if v, ok := data[alias]; ok {
				values[in.Name()] = v
				continue
			}
		}
		if v, ok := data[in.Name()]; ok {
			values[in.Name()] = v
			continue
		}
		if out, ok := m.edges[in]; ok {
			if !done[out.Owner()] {
				return nil, in
			}
			if v, ok := out.Owner().Result(out.Name()); ok {
				values[in.Name()] = v
				continue
			}
		}
		if in.Optional() {
			values[in.Name()] = in.Default()
		}
	}
	return values, nil
}

// publish copies the exposed results of p into the run results and the
// data map. Outputs consumed by a link stay internal; aliased outputs are
// stored under their alias.
func (m *Mapper) publish(g *graph, p *process.Process, data map[string]any) {
	for k, v := range p.Results() {
		key := k
		if out := p.Output(k); out != nil {
			if g.consumed[out] {
				continue
			}
			if alias, ok := m.aliasOf[out]; ok {
				key = alias
			}
		}
		m.results[key] = v
		data[key] = v
	}
}

func (m *Mapper) String() string {
	return fmt.Sprintf("mapper(%s)", m.title)
}
