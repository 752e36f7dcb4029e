package process

import (
	"context"
	"fmt"
	"reflect"

	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
)

// Body is the executable part of a process. Arguments are passed
// positionally in input declaration order.
type Body interface {
	// Arity returns the number of positional arguments the body expects.
	Arity() int
	// Call runs the body. The returned value is interpreted against the
	// process outputs.
	Call(ctx context.Context, args []any) (any, error)
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// funcBody adapts an arbitrary Go function through reflection.
type funcBody struct {
	fn       reflect.Value
	withCtx  bool
	params   []reflect.Type
	hasValue bool
	hasErr   bool
}

// Func wraps a Go function as a Body. The function may take a leading
// context.Context, which does not count towards the arity, and may return
// nothing, a value, an error, or a value and an error.
func Func(fn any) (Body, error) {
	if fn == nil {
		return nil, dmerrors.Construction("nil function", dmerrors.ErrInvalidBody)
	}
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func {
		return nil, dmerrors.Construction(fmt.Sprintf("%s is not a function", t), dmerrors.ErrInvalidBody)
	}
	if t.IsVariadic() {
		return nil, dmerrors.Construction("variadic functions have no fixed arity", dmerrors.ErrInvalidBody)
	}

	b := &funcBody{fn: v}
	start := 0
	if t.NumIn() > 0 && t.In(0) == contextType {
		b.withCtx = true
		start = 1
	}
	for i := start; i < t.NumIn(); i++ {
		b.params = append(b.params, t.In(i))
	}

	switch t.NumOut() {
	case 0:
	case 1:
		if t.Out(0) == errorType {
			b.hasErr = true
		} else {
			b.hasValue = true
		}
	case 2:
		if t.Out(1) != errorType {
			return nil, dmerrors.Construction("second return value must be an error", dmerrors.ErrInvalidBody)
		}
		b.hasValue = true
		b.hasErr = true
	default:
		return nil, dmerrors.Construction("functions may return at most a value and an error", dmerrors.ErrInvalidBody)
	}
	return b, nil
}

// MustFunc is like Func but panics on error.
func MustFunc(fn any) Body {
	b, err := Func(fn)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *funcBody) Arity() int { return len(b.params) }

func (b *funcBody) Call(ctx context.Context, args []any) (any, error) {
	if len(args) != len(b.params) {
		return nil, fmt.Errorf("%w: got %d arguments, want %d", dmerrors.ErrArityMismatch, len(args), len(b.params))
	}

	in := make([]reflect.Value, 0, len(args)+1)
	if b.withCtx {
		in = append(in, reflect.ValueOf(ctx))
	}
	for i, arg := range args {
		v, err := argValue(arg, b.params[i])
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		in = append(in, v)
	}

	out := b.fn.Call(in)

	var (
		value any
		err   error
	)
	if b.hasValue {
		value = out[0].Interface()
	}
	if b.hasErr {
		if e := out[len(out)-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
	}
	return value, err
}

func argValue(arg any, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	v, ok := coerce(arg, t)
	if !ok {
		return reflect.Value{}, fmt.Errorf("%w: %T is not assignable to %s", dmerrors.ErrInputType, arg, t)
	}
	return reflect.ValueOf(v), nil
}

// dynamicBody is a reflection-free body over positional arguments.
type dynamicBody struct {
	arity int
	fn    func(ctx context.Context, args []any) (any, error)
}

// Dynamic builds a Body of the given arity from a function over the
// positional argument slice.
func Dynamic(arity int, fn func(ctx context.Context, args []any) (any, error)) Body {
	return &dynamicBody{arity: arity, fn: fn}
}

func (b *dynamicBody) Arity() int { return b.arity }

func (b *dynamicBody) Call(ctx context.Context, args []any) (any, error) {
	if b.fn == nil {
		return nil, dmerrors.ErrInvalidBody
	}
	return b.fn(ctx, args)
}
