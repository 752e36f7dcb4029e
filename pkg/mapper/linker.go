package mapper

import (
	"fmt"

	"go.uber.org/zap"

	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
	"github.com/wehubfusion/datamanager/pkg/process"
)

// Linker wires a set of inputs to a set of outputs, or exposes a set of
// slots under an alias. A Linker is seeded with only inputs or only outputs;
// a Linker seeded with an invalid set is inert and every call returns the
// seeding error.
type Linker struct {
	mapper  *Mapper
	inputs  []*process.Input
	outputs []*process.Output
	err     error
}

func newLinker(m *Mapper, slots []process.Slot) *Linker {
	l := &Linker{mapper: m}
	inputs, outputs, err := classify(slots)
	if err != nil {
		l.err = err
		m.logger.Error("Invalid linker",
			zap.String("mapper", m.title),
			zap.Strings("slots", slotNames(slots)),
			zap.Error(err))
		return l
	}
	l.inputs, l.outputs = inputs, outputs
	return l
}

// Err returns the seeding error of an inert linker.
func (l *Linker) Err() error { return l.err }

// To links every held slot to every target. Targets must have the opposite
// role of the held slots: inputs link to outputs and outputs to inputs.
func (l *Linker) To(targets ...process.Slot) error {
	if l.err != nil {
		return l.err
	}
	inputs, outputs, err := classify(targets)
	if err != nil {
		l.mapper.logger.Error("Invalid link targets",
			zap.String("mapper", l.mapper.title),
			zap.Strings("targets", slotNames(targets)),
			zap.Error(err))
		return err
	}

	switch {
	case len(l.inputs) > 0 && len(outputs) > 0:
		l.mapper.addEdges(l.inputs, outputs)
	case len(l.outputs) > 0 && len(inputs) > 0:
		l.mapper.addEdges(inputs, l.outputs)
	default:
		err = dmerrors.Link(
			fmt.Sprintf("cannot link %v to %v: both sides have the same role", slotNames(l.slots()), slotNames(targets)),
			dmerrors.ErrInvalidLink)
		l.mapper.logger.Error("Invalid link", zap.String("mapper", l.mapper.title), zap.Error(err))
		return err
	}
	return nil
}

// ToAlias exposes every held slot under alias. Inputs under the same alias
// are all fed from the value provided for alias; outputs under an alias are
// reported under the alias name.
func (l *Linker) ToAlias(alias string) error {
	if l.err != nil {
		return l.err
	}
	if alias == "" {
		err := dmerrors.Link(fmt.Sprintf("empty alias for %v", slotNames(l.slots())), dmerrors.ErrInvalidLink)
		l.mapper.logger.Error("Invalid alias", zap.String("mapper", l.mapper.title), zap.Error(err))
		return err
	}
	l.mapper.addAlias(alias, l.slots())
	return nil
}

func (l *Linker) slots() []process.Slot {
	slots := make([]process.Slot, 0, len(l.inputs)+len(l.outputs))
	for _, in := range l.inputs {
		slots = append(slots, in)
	}
	for _, out := range l.outputs {
		slots = append(slots, out)
	}
	return slots
}

// classify splits slots into inputs and outputs, failing on an empty set,
// a mixed set, or a slot that its owner does not declare.
func classify(slots []process.Slot) ([]*process.Input, []*process.Output, error) {
	if len(slots) == 0 {
		return nil, nil, dmerrors.Link("no slots given", dmerrors.ErrEmptyLinker)
	}

	var (
		inputs  []*process.Input
		outputs []*process.Output
	)
	for _, s := range slots {
		if s == nil || !process.Owns(s) {
			return nil, nil, dmerrors.Link(fmt.Sprintf("slot %v is not declared by a process", s), dmerrors.ErrInvalidLink)
		}
		if s.IsInput() {
			inputs = append(inputs, s.(*process.Input))
		} else {
			outputs = append(outputs, s.(*process.Output))
		}
	}
	if len(inputs) > 0 && len(outputs) > 0 {
		return nil, nil, dmerrors.Link(fmt.Sprintf("slots %v", slotNames(slots)), dmerrors.ErrMixedLinker)
	}
	return inputs, outputs, nil
}

func slotNames(slots []process.Slot) []string {
	names := make([]string, 0, len(slots))
	for _, s := range slots {
		if s == nil {
			names = append(names, "<nil>")
			continue
		}
		names = append(names, fmt.Sprint(s))
	}
	return names
}
