package mapper

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/wehubfusion/datamanager/pkg/process"
)

// CompositeKeyword tags processes built by AsProcess.
const CompositeKeyword = "pipeline"

// AsProcess links the mapper and wraps it in a process with the given
// identifier, so it can be registered in a factory or linked into another
// mapper. The process inputs and outputs are the exposed slots of the
// linked graph, deduplicated by name; the boundary is fixed at this call.
//
// An exposed input is optional when every inner input behind it is
// optional. A missing or nil optional value is not passed on, so the inner
// processes apply their own defaults. Executing the process runs the
// mapper and returns its results; the execution fails when any inner
// process failed. Executions of the process and of its instances share
// the mapper and are serialized.
func (m *Mapper) AsProcess(id string) (*process.Process, error) {
	g, err := m.link()
	if err != nil {
		return nil, err
	}

	var (
		names    []string
		required = make(map[string]bool)
		types    = make(map[string]process.Slot)
	)
	for _, in := range g.inputs {
		name := in.Name()
		if _, ok := types[name]; !ok {
			names = append(names, name)
			types[name] = in
		}
		if !in.Optional() {
			required[name] = true
		}
	}

	b := process.New(m.title).
		ID(id).
		Description(fmt.Sprintf("Runs %d linked processes", len(g.processes))).
		Keywords(CompositeKeyword).
		Logger(m.logger)
	for _, name := range names {
		if required[name] {
			b.Input(name, types[name].Type())
		} else {
			b.OptionalInput(name, nil)
		}
	}
	seen := make(map[string]bool, len(g.outputs))
	for _, out := range g.outputs {
		if !seen[out.Name()] {
			seen[out.Name()] = true
			b.Output(out.Name(), out.Type())
		}
	}

	run := func(ctx context.Context, args []any) (any, error) {
		m.exclusive.Lock()
		defer m.exclusive.Unlock()

		initial := make(map[string]any, len(args))
		for i, name := range names {
			if args[i] == nil && !required[name] {
				continue
			}
			initial[name] = args[i]
		}
		if err := m.Execute(ctx, initial); err != nil {
			return nil, err
		}
		if failures := m.Failures(); len(failures) > 0 {
			return nil, joinFailures(failures)
		}
		return m.Results(), nil
	}

	return b.Body(process.Dynamic(len(names), run)).Build()
}

// joinFailures combines run failures in identifier order.
func joinFailures(failures map[string]error) error {
	ids := make([]string, 0, len(failures))
	for id := range failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	errs := make([]error, len(ids))
	for i, id := range ids {
		errs[i] = failures[id]
	}
	return fmt.Errorf("%d processes failed: %w", len(errs), errors.Join(errs...))
}
