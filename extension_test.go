package atomo

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type traceExtension struct {
	BaseExtension
	label string
	mu    *sync.Mutex
	trace *[]string

	initCalls    int
	disposeErr   error
	handleClean  bool
	cleanupsSeen *[]string
}

func (e *traceExtension) record(s string) {
	e.mu.Lock()
	*e.trace = append(*e.trace, s)
	e.mu.Unlock()
}

func (e *traceExtension) Init(_ *Scope) error {
	e.initCalls++
	return nil
}

func (e *traceExtension) WrapResolve(next func() (any, error), info *ResolveInfo) (any, error) {
	e.record(e.label + ":resolve-enter")
	v, err := next()
	e.record(e.label + ":resolve-exit")
	return v, err
}

func (e *traceExtension) WrapExec(next func() (any, error), flow AnyFlow, _ *ExecCtx) (any, error) {
	e.record(e.label + ":exec-enter:" + flow.Name())
	v, err := next()
	e.record(e.label + ":exec-exit:" + flow.Name())
	return v, err
}

func (e *traceExtension) OnCleanupError(cerr *CleanupError) bool {
	if e.cleanupsSeen != nil {
		e.mu.Lock()
		*e.cleanupsSeen = append(*e.cleanupsSeen, e.label+":"+cerr.Context)
		e.mu.Unlock()
	}
	return e.handleClean
}

func (e *traceExtension) Dispose(_ *Scope) error {
	e.record(e.label + ":dispose")
	return e.disposeErr
}

func newTraceExtension(label string, mu *sync.Mutex, trace *[]string) *traceExtension {
	return &traceExtension{
		BaseExtension: NewBaseExtension(label),
		label:         label,
		mu:            mu,
		trace:         trace,
	}
}

func TestExtension_WrapResolveOrder(t *testing.T) {
	var mu sync.Mutex
	var trace []string
	first := newTraceExtension("first", &mu, &trace)
	second := newTraceExtension("second", &mu, &trace)

	scope := NewScope(WithExtension(first), WithExtension(second))
	defer scope.Dispose()

	assert.Equal(t, 1, first.initCalls)
	assert.Equal(t, 1, second.initCalls)

	exec := Provide(func(rc *ResolveCtx) (int, error) {
		mu.Lock()
		trace = append(trace, "factory")
		mu.Unlock()
		return 1, nil
	})

	_, err := Resolve(scope, exec)
	require.NoError(t, err)

	// First registered is outermost; last registered is nearest the factory.
	assert.Equal(t, []string{
		"first:resolve-enter",
		"second:resolve-enter",
		"factory",
		"second:resolve-exit",
		"first:resolve-exit",
	}, trace)
}

func TestExtension_WrapExecOrder(t *testing.T) {
	var mu sync.Mutex
	var trace []string
	first := newTraceExtension("first", &mu, &trace)
	second := newTraceExtension("second", &mu, &trace)

	scope := NewScope(WithExtension(first), WithExtension(second))
	defer scope.Dispose()

	flow := NewFlow("work", func(e *ExecCtx, _ struct{}) (struct{}, error) {
		mu.Lock()
		trace = append(trace, "body")
		mu.Unlock()
		return struct{}{}, nil
	})

	_, err := Exec(scope, context.Background(), flow, struct{}{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"first:exec-enter:work",
		"second:exec-enter:work",
		"body",
		"second:exec-exit:work",
		"first:exec-exit:work",
	}, trace)
}

func TestExtension_WrapResolveTranslatesError(t *testing.T) {
	var mu sync.Mutex
	var trace []string
	shortCircuit := &traceExtension{
		BaseExtension: NewBaseExtension("stub"),
		label:         "stub",
		mu:            &mu,
		trace:         &trace,
	}

	scope := NewScope(WithExtension(shortCircuit))
	defer scope.Dispose()

	boom := errors.New("boom")
	failing := Provide(func(rc *ResolveCtx) (int, error) {
		return 0, boom
	})

	_, err := Resolve(scope, failing)
	assert.ErrorIs(t, err, boom)
}

func TestExtension_DisposeReverseOrderAggregatesErrors(t *testing.T) {
	var mu sync.Mutex
	var trace []string
	first := newTraceExtension("first", &mu, &trace)
	second := newTraceExtension("second", &mu, &trace)
	first.disposeErr = errors.New("first failed")
	second.disposeErr = errors.New("second failed")

	scope := NewScope(WithExtension(first), WithExtension(second))

	err := scope.Dispose()
	require.Error(t, err)
	assert.ErrorIs(t, err, first.disposeErr)
	assert.ErrorIs(t, err, second.disposeErr)
	assert.Equal(t, []string{"second:dispose", "first:dispose"}, trace)
}

func TestExtension_CleanupErrorPropagationStopsWhenHandled(t *testing.T) {
	var mu sync.Mutex
	var trace []string
	var seen []string
	first := newTraceExtension("first", &mu, &trace)
	second := newTraceExtension("second", &mu, &trace)
	first.cleanupsSeen = &seen
	second.cleanupsSeen = &seen
	first.handleClean = true

	scope := NewScope(WithExtension(first), WithExtension(second))
	defer scope.Dispose()

	exec := Provide(func(rc *ResolveCtx) (int, error) {
		rc.OnCleanup(func() error {
			return errors.New("cleanup boom")
		})
		return 1, nil
	})

	_, err := Resolve(scope, exec)
	require.NoError(t, err)

	Invalidate(scope, exec)
	scope.Settle()

	// The first extension handled the failure; the second never saw it.
	assert.Equal(t, []string{"first:invalidate"}, seen)
}

func TestExtension_UseExtensionAfterConstruction(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	var mu sync.Mutex
	var trace []string
	ext := newTraceExtension("late", &mu, &trace)
	require.NoError(t, scope.UseExtension(ext))
	assert.Equal(t, 1, ext.initCalls)

	exec := Provide(func(rc *ResolveCtx) (int, error) {
		return 1, nil
	})
	_, err := Resolve(scope, exec)
	require.NoError(t, err)

	assert.Contains(t, trace, "late:resolve-enter")
}
