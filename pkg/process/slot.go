package process

import "reflect"

// Slot is a named, typed input or output of a process.
// Identity is the pointer: two slots are the same slot only if they are the
// same *Input or *Output value.
type Slot interface {
	// Name returns the slot name, unique among the owner's inputs (or outputs).
	Name() string
	// Type returns the declared type, or nil when any value is accepted.
	Type() reflect.Type
	// Owner returns the owning process. Boundary slots synthesized for
	// aliases have no owner.
	Owner() *Process
	// IsInput reports whether the slot consumes a value.
	IsInput() bool
}

// Input is a slot whose value is provided to the process body.
type Input struct {
	name         string
	typ          reflect.Type
	owner        *Process
	optional     bool
	defaultValue any
}

// NewInput creates an ownerless input, used for composite boundaries.
func NewInput(name string, typ reflect.Type) *Input {
	return &Input{name: name, typ: typ}
}

func (in *Input) Name() string       { return in.name }
func (in *Input) Type() reflect.Type { return in.typ }
func (in *Input) Owner() *Process {
	if in == nil {
		return nil
	}
	return in.owner
}
func (in *Input) IsInput() bool { return true }

// Optional reports whether the input falls back to its default when absent.
func (in *Input) Optional() bool { return in.optional }

// Default returns the default value of an optional input.
func (in *Input) Default() any { return in.defaultValue }

func (in *Input) String() string { return slotString(in) }

// Output is a slot populated from the process body result.
type Output struct {
	name  string
	typ   reflect.Type
	owner *Process
}

// NewOutput creates an ownerless output, used for composite boundaries.
func NewOutput(name string, typ reflect.Type) *Output {
	return &Output{name: name, typ: typ}
}

func (out *Output) Name() string       { return out.name }
func (out *Output) Type() reflect.Type { return out.typ }
func (out *Output) Owner() *Process {
	if out == nil {
		return nil
	}
	return out.owner
}
func (out *Output) IsInput() bool { return false }

func (out *Output) String() string { return slotString(out) }

// Owns reports whether s is one of the declared slots of its owner.
// Slots copied from a template or synthesized for a boundary are not owned.
func Owns(s Slot) bool {
	p := s.Owner()
	if p == nil {
		return false
	}
	if s.IsInput() {
		in, ok := s.(*Input)
		return ok && p.Input(s.Name()) == in
	}
	out, ok := s.(*Output)
	return ok && p.Output(s.Name()) == out
}

// TypeOf returns the reflect.Type of T, for declaring slot types.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

func slotString(s Slot) string {
	if p := s.Owner(); p != nil {
		return p.Title() + "." + s.Name()
	}
	return s.Name()
}
