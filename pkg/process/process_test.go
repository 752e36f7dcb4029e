package process

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
)

func newAddOne(t *testing.T) *Process {
	t.Helper()
	p, err := New("addOne").
		Input("n", TypeOf[int]()).
		Output("r", TypeOf[int]()).
		Func(func(n int) int { return n + 1 }).
		Build()
	require.NoError(t, err)
	return p
}

func TestProcess_ExecuteAddOne(t *testing.T) {
	p := newAddOne(t)

	require.NoError(t, p.Execute(context.Background(), map[string]any{"n": 5}))
	assert.Equal(t, map[string]any{"r": 6}, p.Results())
}

func TestBuilder_Arity(t *testing.T) {
	tests := []struct {
		name    string
		inputs  []string
		fn      any
		wantErr bool
	}{
		{name: "zero inputs zero params", fn: func() int { return 1 }},
		{name: "two inputs two params", inputs: []string{"a", "b"}, fn: func(a, b int) int { return a + b }},
		{name: "context is not counted", inputs: []string{"a"}, fn: func(ctx context.Context, a int) int { return a }},
		{name: "too few params", inputs: []string{"a", "b"}, fn: func(a int) int { return a }, wantErr: true},
		{name: "too many params", inputs: []string{"a"}, fn: func(a, b int) int { return a }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New(tt.name)
			for _, in := range tt.inputs {
				b.Input(in, nil)
			}
			p, err := b.Func(tt.fn).Build()
			if tt.wantErr {
				assert.ErrorIs(t, err, dmerrors.ErrArityMismatch)
				assert.Nil(t, p)
				assert.Equal(t, dmerrors.CodeConstruction, dmerrors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Len(t, p.Inputs(), len(tt.inputs))
		})
	}
}

func TestBuilder_Invalid(t *testing.T) {
	t.Run("no body", func(t *testing.T) {
		_, err := New("x").Build()
		assert.ErrorIs(t, err, dmerrors.ErrInvalidBody)
	})

	t.Run("not a function", func(t *testing.T) {
		_, err := New("x").Func(42).Build()
		assert.ErrorIs(t, err, dmerrors.ErrInvalidBody)
	})

	t.Run("duplicate input", func(t *testing.T) {
		_, err := New("x").Input("a", nil).Input("a", nil).
			Func(func(a, b any) any { return nil }).Build()
		assert.ErrorIs(t, err, dmerrors.ErrDuplicateSlot)
	})

	t.Run("bad second return", func(t *testing.T) {
		_, err := New("x").Func(func() (int, int) { return 1, 2 }).Build()
		assert.ErrorIs(t, err, dmerrors.ErrInvalidBody)
	})
}

func TestBuilder_GeneratesIdentifier(t *testing.T) {
	a := newAddOne(t)
	b := newAddOne(t)
	assert.NotEmpty(t, a.Identifier())
	assert.NotEqual(t, a.Identifier(), b.Identifier())

	c, err := New("named").ID("proc-1").Func(func() {}).Build()
	require.NoError(t, err)
	assert.Equal(t, "proc-1", c.Identifier())
}

func TestProcess_OptionalDefault(t *testing.T) {
	var got []any
	p, err := New("greet").
		OptionalInput("name", "world").
		OptionalInput("times", 2).
		Output("msg", nil).
		Func(func(name string, times int) string {
			got = []any{name, times}
			return name
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background(), map[string]any{}))
	assert.Equal(t, []any{"world", 2}, got)
	assert.Equal(t, map[string]any{"msg": "world"}, p.Results())

	require.NoError(t, p.Execute(context.Background(), map[string]any{"times": 3}))
	assert.Equal(t, []any{"world", 3}, got)

	assert.Equal(t, map[string]any{"name": "world", "times": 2}, p.DefaultValues())
}

func TestProcess_MissingRequiredInput(t *testing.T) {
	called := false
	p, err := New("sum").
		Input("a", TypeOf[int]()).
		Input("b", TypeOf[int]()).
		Output("s", nil).
		Func(func(a, b int) int {
			called = true
			return a + b
		}).
		Build()
	require.NoError(t, err)

	err = p.Execute(context.Background(), map[string]any{"a": 1})
	assert.ErrorIs(t, err, dmerrors.ErrInputCount)
	assert.False(t, called)
	assert.Empty(t, p.Results())

	err = p.Execute(context.Background(), map[string]any{"a": 1, "c": 2})
	assert.ErrorIs(t, err, dmerrors.ErrMissingInput)
	assert.False(t, called)
	assert.Empty(t, p.Results())

	err = p.Execute(context.Background(), map[string]any{"a": 1, "b": 2, "c": 3})
	assert.ErrorIs(t, err, dmerrors.ErrInputCount)
}

func TestProcess_OutputContract(t *testing.T) {
	build := func(t *testing.T, fn any) *Process {
		t.Helper()
		p, err := New("split").
			Input("v", nil).
			Output("lo", nil).
			Output("hi", nil).
			Func(fn).
			Build()
		require.NoError(t, err)
		return p
	}

	t.Run("all outputs present", func(t *testing.T) {
		p := build(t, func(v any) map[string]any { return map[string]any{"lo": 1, "hi": 2} })
		require.NoError(t, p.Execute(context.Background(), map[string]any{"v": 0}))
		assert.Equal(t, map[string]any{"lo": 1, "hi": 2}, p.Results())
	})

	t.Run("missing output", func(t *testing.T) {
		p := build(t, func(v any) map[string]any { return map[string]any{"lo": 1} })
		err := p.Execute(context.Background(), map[string]any{"v": 0})
		assert.ErrorIs(t, err, dmerrors.ErrOutputContract)
		assert.Empty(t, p.Results())
	})

	t.Run("typed map", func(t *testing.T) {
		p := build(t, func(v any) map[string]int { return map[string]int{"lo": 1, "hi": 2} })
		require.NoError(t, p.Execute(context.Background(), map[string]any{"v": 0}))
		assert.Equal(t, map[string]any{"lo": 1, "hi": 2}, p.Results())
	})

	t.Run("named key type", func(t *testing.T) {
		type bound string
		p := build(t, func(v any) map[bound]float64 { return map[bound]float64{"lo": 0.5, "hi": 1.5} })
		require.NoError(t, p.Execute(context.Background(), map[string]any{"v": 0}))
		assert.Equal(t, map[string]any{"lo": 0.5, "hi": 1.5}, p.Results())
	})

	t.Run("typed map missing output", func(t *testing.T) {
		p := build(t, func(v any) map[string]int { return map[string]int{"lo": 1} })
		assert.ErrorIs(t, p.Execute(context.Background(), map[string]any{"v": 0}), dmerrors.ErrOutputContract)
	})

	t.Run("non-string keys", func(t *testing.T) {
		p := build(t, func(v any) map[int]any { return map[int]any{1: "lo", 2: "hi"} })
		assert.ErrorIs(t, p.Execute(context.Background(), map[string]any{"v": 0}), dmerrors.ErrOutputContract)
	})

	t.Run("not a map", func(t *testing.T) {
		p := build(t, func(v any) int { return 1 })
		assert.ErrorIs(t, p.Execute(context.Background(), map[string]any{"v": 0}), dmerrors.ErrOutputContract)
	})

	t.Run("nil result", func(t *testing.T) {
		p := build(t, func(v any) any { return nil })
		assert.ErrorIs(t, p.Execute(context.Background(), map[string]any{"v": 0}), dmerrors.ErrOutputContract)
	})
}

func TestProcess_ResultShapes(t *testing.T) {
	t.Run("no outputs wraps under result", func(t *testing.T) {
		p, err := New("noop").Func(func() string { return "done" }).Build()
		require.NoError(t, err)
		require.NoError(t, p.Execute(context.Background(), nil))
		assert.Equal(t, map[string]any{ResultKey: "done"}, p.Results())
	})

	t.Run("single output merges a map", func(t *testing.T) {
		p, err := New("bag").Output("out", nil).
			Func(func() map[string]any { return map[string]any{"x": 1, "y": 2} }).
			Build()
		require.NoError(t, err)
		require.NoError(t, p.Execute(context.Background(), nil))
		assert.Equal(t, map[string]any{"x": 1, "y": 2}, p.Results())
	})
}

func TestProcess_BodyFailureKeepsResults(t *testing.T) {
	fail := false
	p, err := New("flaky").
		Input("n", TypeOf[int]()).
		Output("r", nil).
		Func(func(n int) (int, error) {
			if fail {
				return 0, errors.New("boom")
			}
			return n * 10, nil
		}).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background(), map[string]any{"n": 1}))
	assert.Equal(t, map[string]any{"r": 10}, p.Results())

	fail = true
	err = p.Execute(context.Background(), map[string]any{"n": 2})
	assert.ErrorIs(t, err, dmerrors.ErrBodyFailed)
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, map[string]any{"r": 10}, p.Results())
}

func TestProcess_PanicIsRecovered(t *testing.T) {
	p, err := New("panics").Input("n", nil).
		Func(func(n any) any { panic("bad input") }).
		Build()
	require.NoError(t, err)

	err = p.Execute(context.Background(), map[string]any{"n": 1})
	assert.ErrorIs(t, err, dmerrors.ErrBodyFailed)
	assert.ErrorContains(t, err, "bad input")
}

func TestProcess_InputCoercion(t *testing.T) {
	p := newAddOne(t)

	require.NoError(t, p.Execute(context.Background(), map[string]any{"n": float64(41)}))
	assert.Equal(t, map[string]any{"r": 42}, p.Results())

	err := p.Execute(context.Background(), map[string]any{"n": 1.5})
	assert.ErrorIs(t, err, dmerrors.ErrInputType)

	err = p.Execute(context.Background(), map[string]any{"n": "five"})
	assert.ErrorIs(t, err, dmerrors.ErrInputType)
}

func TestProcess_ContextIsForwarded(t *testing.T) {
	type key struct{}
	p, err := New("ctx").Output("v", nil).
		Func(func(ctx context.Context) any { return ctx.Value(key{}) }).
		Build()
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), key{}, "carried")
	require.NoError(t, p.Execute(ctx, nil))
	assert.Equal(t, map[string]any{"v": "carried"}, p.Results())
}

func TestProcess_Clones(t *testing.T) {
	p, err := New("addOne").ID("add-one").
		Description("adds one").
		Version("1.0.0").
		Keywords("Math").
		Input("n", TypeOf[int]()).
		OptionalInput("step", 1).
		Output("r", nil).
		Func(func(n, step int) int { return n + step }).
		Build()
	require.NoError(t, err)
	require.NoError(t, p.Execute(context.Background(), map[string]any{"n": 1}))

	inst := p.NewInstance()
	cp := p.Copy()

	assert.NotEqual(t, p.Identifier(), inst.Identifier())
	assert.Equal(t, p.Identifier(), cp.Identifier())

	for _, c := range []*Process{inst, cp} {
		assert.Equal(t, "addOne", c.Title())
		assert.Equal(t, "adds one", c.Description())
		assert.Equal(t, "1.0.0", c.Version())
		assert.Empty(t, c.Results())
		assert.Same(t, c, c.Input("n").Owner())
		assert.NotSame(t, p.Input("n"), c.Input("n"))
		assert.True(t, c.Input("step").Optional())
		assert.Equal(t, 1, c.Input("step").Default())
		assert.True(t, Owns(c.Output("r")))
	}

	require.NoError(t, inst.Execute(context.Background(), map[string]any{"n": 10}))
	assert.Equal(t, map[string]any{"r": 11}, inst.Results())
	assert.Equal(t, map[string]any{"r": 2}, p.Results())
}

func TestProcess_Slots(t *testing.T) {
	p := newAddOne(t)

	assert.Nil(t, p.Input("missing"))
	assert.Nil(t, p.Output("n"))
	assert.Panics(t, func() { p.MustInput("missing") })
	assert.NotPanics(t, func() { p.MustOutput("r") })

	in := p.MustInput("n")
	assert.True(t, in.IsInput())
	assert.Equal(t, TypeOf[int](), in.Type())
	assert.Equal(t, "addOne.n", in.String())
	assert.True(t, Owns(in))

	boundary := NewInput("start", nil)
	assert.False(t, Owns(boundary))
	assert.Equal(t, "start", boundary.String())
}

func TestProcess_HasKeyword(t *testing.T) {
	p, err := New("k").Keywords("Spatial", "GIS").Func(func() {}).Build()
	require.NoError(t, err)

	assert.True(t, p.HasKeyword("gis"))
	assert.True(t, p.HasKeyword("SPATIAL"))
	assert.False(t, p.HasKeyword("sql"))
}
