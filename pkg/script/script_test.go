package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
	"github.com/wehubfusion/datamanager/pkg/mapper"
	"github.com/wehubfusion/datamanager/pkg/process"
	"github.com/wehubfusion/datamanager/pkg/registry"
)

func TestBody_Call(t *testing.T) {
	b, err := New("sum", "return { sum: a + b, product: a * b };", []string{"a", "b"}, Config{})
	require.NoError(t, err)
	assert.Equal(t, 2, b.Arity())

	ret, err := b.Call(context.Background(), []any{2, 3})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sum": int64(5), "product": int64(6)}, ret)
}

func TestBody_UndefinedReturnsNil(t *testing.T) {
	b, err := New("noop", "var x = 1;", nil, Config{})
	require.NoError(t, err)
	ret, err := b.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, ret)
}

func TestBody_SyntaxError(t *testing.T) {
	_, err := New("broken", "return {", nil, Config{})
	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeSyntax))
}

func TestBody_RuntimeError(t *testing.T) {
	b, err := New("throws", "throw new Error('bad value: ' + v);", []string{"v"}, Config{})
	require.NoError(t, err)

	_, err = b.Call(context.Background(), []any{7})
	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeRuntime))
	assert.Contains(t, err.Error(), "bad value: 7")
}

func TestBody_Timeout(t *testing.T) {
	b, err := New("spin", "while (true) {}", nil, Config{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	_, err = b.Call(context.Background(), nil)
	require.Error(t, err)
	assert.True(t, IsType(err, ErrorTypeTimeout))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestBody_ContextCancel(t *testing.T) {
	b, err := New("spin", "while (true) {}", nil, Config{Timeout: time.Minute})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = b.Call(ctx, nil)
	assert.True(t, IsType(err, ErrorTypeTimeout))
}

func TestBody_Sandbox(t *testing.T) {
	t.Run("host globals are removed", func(t *testing.T) {
		b, err := New("globals", "return typeof require + ',' + typeof process;", nil, Config{})
		require.NoError(t, err)
		ret, err := b.Call(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, "undefined,undefined", ret)
	})

	t.Run("builtins are frozen", func(t *testing.T) {
		b, err := New("tamper", "Math.max = function() { return 0; }; return Math.max(1, 2);", nil, Config{})
		require.NoError(t, err)
		_, err = b.Call(context.Background(), nil)
		assert.Error(t, err)
	})

	t.Run("permissive keeps builtins writable", func(t *testing.T) {
		b, err := New("tamper", "Math.answer = 42; return Math.answer;", nil,
			Config{SecurityLevel: SecurityLevelPermissive})
		require.NoError(t, err)
		ret, err := b.Call(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(42), ret)
	})

	t.Run("strict forbids eval", func(t *testing.T) {
		b, err := New("evil", "return eval('1 + 1');", nil, Config{SecurityLevel: SecurityLevelStrict})
		require.NoError(t, err)
		_, err = b.Call(context.Background(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
	})
}

func TestBody_ConsoleUsesLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	b, err := New("chatty", "console.log('hello', n); return n;", []string{"n"},
		Config{Logger: zap.New(core)})
	require.NoError(t, err)

	_, err = b.Call(context.Background(), []any{1})
	require.NoError(t, err)
	entries := logs.FilterMessage("Script console").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "chatty", entries[0].ContextMap()["script"])
}

func TestConfig_Validate(t *testing.T) {
	_, err := New("x", "return 1;", nil, Config{SecurityLevel: "lax"})
	assert.True(t, IsType(err, ErrorTypeConfig))

	_, err = New("x", "return 1;", nil, Config{Timeout: -time.Second})
	assert.True(t, IsType(err, ErrorTypeConfig))
}

func TestBody_AsProcess(t *testing.T) {
	b, err := New("split", "return { lo: Math.min(a, b), hi: Math.max(a, b) };", []string{"a", "b"}, Config{})
	require.NoError(t, err)

	p, err := process.New("split").
		Input("a", nil).
		Input("b", nil).
		Output("lo", nil).
		Output("hi", nil).
		Body(b).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background(), map[string]any{"a": 9, "b": 4}))
	assert.Equal(t, map[string]any{"lo": int64(4), "hi": int64(9)}, p.Results())

	// a failing script is a body failure of the process
	bad, err := New("bad", "throw new Error('x');", nil, Config{})
	require.NoError(t, err)
	q, err := process.New("bad").Body(bad).Build()
	require.NoError(t, err)
	assert.ErrorIs(t, q.Execute(context.Background(), nil), dmerrors.ErrBodyFailed)
}

func TestManifest_Build(t *testing.T) {
	m, err := Parse([]byte(`{
		"id": "scale",
		"title": "scale",
		"keywords": ["math"],
		"inputs": [
			{"name": "v", "type": "integer"},
			{"name": "factor", "type": "integer", "default": 10}
		],
		"outputs": [{"name": "out", "type": "integer"}],
		"script": "return v * factor;",
		"timeout": "1s"
	}`))
	require.NoError(t, err)

	p, err := m.Build(Config{})
	require.NoError(t, err)
	assert.Equal(t, "scale", p.Identifier())
	assert.True(t, p.HasKeyword("MATH"))
	assert.True(t, p.MustInput("factor").Optional())
	assert.Equal(t, int64(10), p.MustInput("factor").Default())

	require.NoError(t, p.Execute(context.Background(), map[string]any{"v": float64(3)}))
	assert.Equal(t, map[string]any{"out": int64(30)}, p.Results())
}

func TestManifest_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
	}{
		{name: "not json", manifest: `{`},
		{name: "no title", manifest: `{"script": "return 1;"}`},
		{name: "bad timeout", manifest: `{"title": "t", "script": "return 1;", "timeout": "soon"}`},
		{name: "unknown type", manifest: `{"title": "t", "inputs": [{"name": "a", "type": "decimal"}], "script": "return a;"}`},
		{name: "syntax", manifest: `{"title": "t", "script": "return (;"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Parse([]byte(tt.manifest))
			if err == nil {
				_, err = m.Build(Config{})
			}
			assert.Error(t, err)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	write("01-add-one.json", `{"id": "add-one", "title": "addOne",
		"inputs": [{"name": "n", "type": "integer"}],
		"outputs": [{"name": "r", "type": "integer"}],
		"script": "return n + 1;"}`)
	write("02-double.json", `{"id": "double", "title": "double",
		"inputs": [{"name": "r", "type": "integer"}],
		"outputs": [{"name": "d", "type": "integer"}],
		"script": "return r * 2;"}`)
	write("README.md", "ignored")

	f := registry.NewFactory("scripts", nil)
	loaded, err := LoadDir(dir, f, Config{})
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 2, f.Count())

	addOne, err := f.Process("add-one")
	require.NoError(t, err)
	double, err := f.Process("double")
	require.NoError(t, err)

	m := mapper.New("scripted")
	require.NoError(t, m.Link(addOne.MustOutput("r")).To(double.MustInput("r")))
	require.NoError(t, m.Link(addOne.MustInput("n")).ToAlias("start"))
	require.NoError(t, m.Execute(context.Background(), map[string]any{"start": float64(3)}))
	assert.Equal(t, map[string]any{"d": int64(8)}, m.Results())
}

func TestLoadDir_MissingDirectory(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "missing"), registry.NewFactory("x", nil), Config{})
	assert.Error(t, err)
}
