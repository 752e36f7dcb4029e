package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wehubfusion/datamanager/pkg/callback"
	"github.com/wehubfusion/datamanager/pkg/concurrency"
	dmerrors "github.com/wehubfusion/datamanager/pkg/errors"
	"github.com/wehubfusion/datamanager/pkg/process"
	"github.com/wehubfusion/datamanager/pkg/registry"
	"github.com/wehubfusion/datamanager/pkg/storage"
)

type memoryBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memoryBlobs) Upload(_ context.Context, path string, data []byte, _ map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blobs == nil {
		m.blobs = map[string][]byte{}
	}
	m.blobs[path] = data
	return "mem://" + path, nil
}

func (m *memoryBlobs) Download(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[ref[len("mem://"):]]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

func newManager(t *testing.T) *registry.Manager {
	t.Helper()
	m := registry.NewManager(nil)

	addOne, err := process.New("addOne").ID("add-one").
		Input("n", process.TypeOf[int]()).
		Output("r", nil).
		Func(func(n int) int { return n + 1 }).
		Build()
	require.NoError(t, err)
	require.NoError(t, m.Register(addOne))

	broken, err := process.New("broken").ID("broken").
		Input("n", nil).
		Output("r", nil).
		Func(func(any) (any, error) { return nil, errors.New("disk on fire") }).
		Build()
	require.NoError(t, err)
	require.NoError(t, m.Register(broken))

	upper, err := process.New("upper").ID("upper").
		Input("s", process.TypeOf[string]()).
		Output("u", nil).
		Func(func(s string) string { return s + "!" }).
		Build()
	require.NoError(t, err)
	require.NoError(t, m.Factory("text").Register(upper))

	return m
}

func decode(t *testing.T, data []byte) ExecutionResponse {
	t.Helper()
	var resp ExecutionResponse
	require.NoError(t, json.Unmarshal(data, &resp))
	return resp
}

func TestHandle_Success(t *testing.T) {
	s := New(newManager(t))

	resp := decode(t, s.Handle(context.Background(), []byte(`{"process_id":"add-one","inputs":{"n":2}}`)))
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "add-one", resp.ProcessID)
	assert.NotEmpty(t, resp.InstanceID)
	assert.NotEqual(t, "add-one", resp.InstanceID)
	assert.Equal(t, float64(3), resp.Results["r"])
	assert.Empty(t, resp.Error)
}

func TestHandle_NamedFactory(t *testing.T) {
	s := New(newManager(t))

	resp := decode(t, s.Handle(context.Background(), []byte(`{"process_id":"upper","factory_id":"text","inputs":{"s":"hi"}}`)))
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, "hi!", resp.Results["u"])

	resp = decode(t, s.Handle(context.Background(), []byte(`{"process_id":"upper","inputs":{"s":"hi"}}`)))
	assert.False(t, resp.Success)
	assert.Equal(t, dmerrors.CodeRegistry, resp.ErrorCode)
}

func TestExecute_UnknownFactoryIsNotCreated(t *testing.T) {
	m := newManager(t)
	before := m.Factories()
	s := New(m)

	for i := 0; i < 1000; i++ {
		resp := s.Execute(context.Background(), ExecutionRequest{
			ProcessID: "add-one",
			FactoryID: fmt.Sprintf("f%d", i),
			Inputs:    map[string]any{"n": 1},
		})
		require.False(t, resp.Success)
		assert.Equal(t, dmerrors.CodeRegistry, resp.ErrorCode)
		assert.Contains(t, resp.Error, "factory not found")
	}
	assert.Equal(t, before, m.Factories())
}

func TestExecute_Pipeline(t *testing.T) {
	m := newManager(t)
	first, err := m.Process("add-one")
	require.NoError(t, err)
	second, err := m.Process("add-one")
	require.NoError(t, err)
	mp := m.Mapper("addTwo")
	require.NoError(t, mp.Link(first.MustOutput("r")).To(second.MustInput("n")))
	_, err = m.RegisterMapper("pipelines", "add-two", mp)
	require.NoError(t, err)

	s := New(m)
	resp := decode(t, s.Handle(context.Background(),
		[]byte(`{"process_id":"add-two","factory_id":"pipelines","inputs":{"n":1}}`)))
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, float64(3), resp.Results["r"])

	resp = decode(t, s.Handle(context.Background(),
		[]byte(`{"process_id":"add-two","factory_id":"pipelines","iterate":"sequential","inputs":{"items":[1,5]}}`)))
	require.True(t, resp.Success, resp.Error)
	assert.Equal(t, []any{float64(3), float64(7)}, resp.Results["results"])
}

func TestHandle_Errors(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		code     string
		contains string
	}{
		{name: "malformed json", request: `{"process_id":`, contains: "invalid request"},
		{name: "missing id", request: `{"inputs":{}}`, contains: "process_id is required"},
		{name: "unknown process", request: `{"process_id":"nope"}`, code: dmerrors.CodeRegistry},
		{name: "missing input", request: `{"process_id":"add-one","inputs":{}}`, code: dmerrors.CodeExecution},
		{name: "wrong type", request: `{"process_id":"add-one","inputs":{"n":"two"}}`, code: dmerrors.CodeExecution},
		{name: "body error", request: `{"process_id":"broken","inputs":{"n":1}}`, code: dmerrors.CodeExecution, contains: "disk on fire"},
	}

	s := New(newManager(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decode(t, s.Handle(context.Background(), []byte(tt.request)))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
			assert.Nil(t, resp.Results)
			if tt.code != "" {
				assert.Equal(t, tt.code, resp.ErrorCode)
			}
			if tt.contains != "" {
				assert.Contains(t, resp.Error, tt.contains)
			}
		})
	}
}

func TestExecute_FailureHook(t *testing.T) {
	var got []string
	s := New(newManager(t), WithFailureHook(func(_ context.Context, p *process.Process, err error) {
		got = append(got, p.Title())
		assert.ErrorIs(t, err, dmerrors.ErrBodyFailed)
	}))

	resp := s.Execute(context.Background(), ExecutionRequest{ProcessID: "broken", Inputs: map[string]any{"n": 1}})
	assert.False(t, resp.Success)
	assert.Equal(t, []string{"broken"}, got)

	resp = s.Execute(context.Background(), ExecutionRequest{ProcessID: "add-one", Inputs: map[string]any{"n": 1}})
	assert.True(t, resp.Success)
	assert.Len(t, got, 1)
}

func TestExecute_Archives(t *testing.T) {
	blobs := &memoryBlobs{}
	archiver := storage.NewArchiver(blobs, "", nil)
	s := New(newManager(t), WithArchiver(archiver))

	resp := s.Execute(context.Background(), ExecutionRequest{ProcessID: "add-one", Inputs: map[string]any{"n": 41}})
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.ArchiveRef)

	record, err := archiver.Load(context.Background(), resp.ArchiveRef)
	require.NoError(t, err)
	assert.Equal(t, "addOne", record.Title)
	assert.True(t, record.Succeeded())
	assert.Equal(t, float64(42), record.Results["r"])

	resp = s.Execute(context.Background(), ExecutionRequest{ProcessID: "broken", Inputs: map[string]any{"n": 1}})
	require.NotEmpty(t, resp.ArchiveRef)
	record, err = archiver.Load(context.Background(), resp.ArchiveRef)
	require.NoError(t, err)
	assert.False(t, record.Succeeded())
	assert.Len(t, record.Failures, 1)
}

func TestExecute_ConcurrentRequestsAreIsolated(t *testing.T) {
	s := New(newManager(t))

	var wg sync.WaitGroup
	results := make([]any, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := s.Execute(context.Background(), ExecutionRequest{ProcessID: "add-one", Inputs: map[string]any{"n": i}})
			results[i] = resp.Results["r"]
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, i+1, r)
	}
}

func TestExecute_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	s := New(newManager(t), WithTracerProvider(tp))

	s.Execute(context.Background(), ExecutionRequest{ProcessID: "add-one", Inputs: map[string]any{"n": 1}})

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.ElementsMatch(t, []string{"service.execute", "process.execute"}, names)
}

func TestStart_Validation(t *testing.T) {
	s := New(newManager(t))
	assert.Error(t, s.Start(nil, "datamanager.execute", "q"))
	assert.NoError(t, s.Stop())
}

func TestDispatch_LimiterShedsLoadWhileFailing(t *testing.T) {
	breaker := concurrency.NewCircuitBreaker(1, time.Hour)
	limiter := concurrency.NewLimiter(2, breaker)
	s := New(newManager(t), WithLimiter(limiter))

	s.dispatch(&nats.Msg{Data: []byte(`{"process_id":"broken","inputs":{"n":1}}`)})
	assert.Eventually(t, func() bool {
		return breaker.State() == concurrency.StateOpen
	}, time.Second, 5*time.Millisecond)

	s.dispatch(&nats.Msg{Data: []byte(`{"process_id":"add-one","inputs":{"n":1}}`)})
	stats := limiter.Stats()
	assert.Equal(t, int64(1), stats.Acquired)
	assert.Equal(t, int64(1), stats.Rejected)
}

func TestDispatch_UserErrorsDoNotTripBreaker(t *testing.T) {
	breaker := concurrency.NewCircuitBreaker(1, time.Hour)
	limiter := concurrency.NewLimiter(1, breaker)
	s := New(newManager(t), WithLimiter(limiter))

	s.dispatch(&nats.Msg{Data: []byte(`{"process_id":"nope"}`)})
	assert.Eventually(t, func() bool {
		return limiter.Stats().Active == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, concurrency.StateClosed, breaker.State())
}

func TestHandle_Iterate(t *testing.T) {
	s := New(newManager(t))

	for _, strategy := range []string{"sequential", "parallel"} {
		resp := decode(t, s.Handle(context.Background(),
			[]byte(`{"process_id":"add-one","iterate":"`+strategy+`","inputs":{"items":[1,2,3]}}`)))
		require.True(t, resp.Success, resp.Error)
		assert.Equal(t, []any{float64(2), float64(3), float64(4)}, resp.Results["results"])
	}

	resp := decode(t, s.Handle(context.Background(), []byte(`{"process_id":"add-one","iterate":"sideways","inputs":{"items":[]}}`)))
	assert.False(t, resp.Success)
	assert.Equal(t, dmerrors.CodeConstruction, resp.ErrorCode)

	resp = decode(t, s.Handle(context.Background(), []byte(`{"process_id":"add-one","iterate":"sequential","inputs":{"items":[1,"x"]}}`)))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "item 1")
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []callback.Event
}

func (p *recordingPublisher) Publish(_ string, data []byte) error {
	var ev callback.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func TestExecute_PublishesResults(t *testing.T) {
	pub := &recordingPublisher{}
	h, err := callback.New(pub, callback.DefaultConfig("datamanager.results"))
	require.NoError(t, err)
	s := New(newManager(t), WithCallback(h))

	resp := s.Execute(context.Background(), ExecutionRequest{ProcessID: "add-one", CorrelationID: "job-1", Inputs: map[string]any{"n": 1}})
	require.True(t, resp.Success)
	assert.Equal(t, "job-1", resp.CorrelationID)
	s.Execute(context.Background(), ExecutionRequest{ProcessID: "broken", CorrelationID: "job-2", Inputs: map[string]any{"n": 1}})

	require.Len(t, pub.events, 2)
	assert.Equal(t, callback.TypeSuccess, pub.events[0].Type)
	assert.Equal(t, "job-1", pub.events[0].CorrelationID)
	assert.Equal(t, resp.InstanceID, pub.events[0].InstanceID)
	assert.Equal(t, float64(2), pub.events[0].Results["r"])
	assert.Equal(t, callback.TypeError, pub.events[1].Type)
	assert.Equal(t, dmerrors.CodeExecution, pub.events[1].ErrorCode)
}

func TestMiddleware(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, data []byte) *ExecutionResponse {
				order = append(order, name)
				return next(ctx, data)
			}
		}
	}
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	s := New(newManager(t), WithMiddleware(Recovery(logger), mark("outer"), mark("inner"), Logging(logger)))

	resp := decode(t, s.Handle(context.Background(), []byte(`{"process_id":"add-one","inputs":{"n":1}}`)))
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"outer", "inner"}, order)
	assert.Equal(t, 1, logs.FilterMessage("Request handled").Len())

	decode(t, s.Handle(context.Background(), []byte(`{"process_id":"nope"}`)))
	assert.Equal(t, 1, logs.FilterMessage("Request failed").Len())
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := New(newManager(t),
		WithMiddleware(Recovery(zap.New(core))),
		WithFailureHook(func(context.Context, *process.Process, error) { panic("hook exploded") }))

	resp := decode(t, s.Handle(context.Background(), []byte(`{"process_id":"broken","inputs":{"n":1}}`)))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "hook exploded")
	assert.Equal(t, 1, logs.Len())
}
