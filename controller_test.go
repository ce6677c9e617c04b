package atomo

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_GetBeforeResolve(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	exec := Provide(func(rc *ResolveCtx) (int, error) {
		return 1, nil
	}, WithName("lazy"))

	ctrl := Accessor(scope, exec)
	assert.Equal(t, StateIdle, ctrl.State())

	_, err := ctrl.Get()
	var nre *NotResolvedError
	require.ErrorAs(t, err, &nre)
	assert.Equal(t, "lazy", nre.Atom)
}

func TestController_GetStaleWhileRevalidating(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	release := make(chan struct{})
	var calls int32
	exec := Provide(func(rc *ResolveCtx) (int, error) {
		n := atomic.AddInt32(&calls, 1)
		if n > 1 {
			<-release
		}
		return int(n) * 10, nil
	})

	ctrl := Accessor(scope, exec)
	v, err := ctrl.Resolve()
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	ctrl.Invalidate()
	require.Eventually(t, func() bool {
		return ctrl.State() == StateResolving
	}, time.Second, time.Millisecond)

	// The previous value stays readable while the re-derivation is in
	// flight.
	v, err = ctrl.Get()
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	close(release)
	scope.Settle()

	v, err = ctrl.Get()
	require.NoError(t, err)
	assert.Equal(t, 20, v)
}

func TestController_SetUpdateRoundTrip(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	exec := Provide(func(rc *ResolveCtx) (int, error) {
		return 0, nil
	})
	ctrl := Accessor(scope, exec)

	ctrl.Set(41)
	scope.Settle()
	ctrl.Update(func(n int) int { return n + 1 })
	scope.Settle()

	v, err := ctrl.Get()
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestController_ReleaseRefusedWithDependents(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	base := Provide(func(rc *ResolveCtx) (int, error) {
		return 1, nil
	}, WithName("base"))
	dependent := Derive1(base, func(rc *ResolveCtx, b *Controller[int]) (int, error) {
		v, err := b.Get()
		return v, err
	}, WithName("dependent"))

	_, err := Resolve(scope, dependent)
	require.NoError(t, err)

	err = Accessor(scope, base).Release()
	var hde *HasDependentsError
	require.ErrorAs(t, err, &hde)
	assert.Equal(t, "base", hde.Atom)
	assert.Equal(t, []string{"dependent"}, hde.Dependents)

	// Releasing the dependent first unblocks the base.
	require.NoError(t, Accessor(scope, dependent).Release())
	require.NoError(t, Accessor(scope, base).Release())
	assert.Equal(t, StateIdle, Accessor(scope, base).State())
}

func TestController_ReleaseRunsCleanupsAndResets(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	var cleaned int32
	var calls int32
	exec := Provide(func(rc *ResolveCtx) (int, error) {
		atomic.AddInt32(&calls, 1)
		rc.OnCleanup(func() error {
			atomic.AddInt32(&cleaned, 1)
			return nil
		})
		return 1, nil
	})

	ctrl := Accessor(scope, exec)
	_, err := ctrl.Resolve()
	require.NoError(t, err)

	require.NoError(t, ctrl.Release())
	assert.Equal(t, int32(1), atomic.LoadInt32(&cleaned))
	assert.Equal(t, StateIdle, ctrl.State())

	// Releasing an idle atom is a no-op.
	require.NoError(t, ctrl.Release())

	_, err = ctrl.Resolve()
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

type eventRecorder struct {
	mu    sync.Mutex
	kinds []EventKind
}

func (r *eventRecorder) listen(ev Event) {
	r.mu.Lock()
	r.kinds = append(r.kinds, ev.Kind)
	r.mu.Unlock()
}

func (r *eventRecorder) snapshot() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventKind(nil), r.kinds...)
}

func TestController_NotificationsExactlyOncePerTransition(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	exec := Provide(func(rc *ResolveCtx) (int, error) {
		return 1, nil
	})
	ctrl := Accessor(scope, exec)

	rec := &eventRecorder{}
	off := ctrl.On(EventAny, rec.listen)
	defer off()

	_, err := ctrl.Resolve()
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventResolving, EventResolved}, rec.snapshot())

	// A coalesced invalidate+set still yields one pair.
	gate := make(chan struct{})
	scope.sched.enqueue(func() { <-gate })
	ctrl.Invalidate()
	ctrl.Set(5)
	close(gate)
	scope.Settle()

	assert.Equal(t,
		[]EventKind{EventResolving, EventResolved, EventResolving, EventResolved},
		rec.snapshot())
}

func TestController_FailureNotifiesCatchAllOnly(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	failing := Provide(func(rc *ResolveCtx) (int, error) {
		return 0, errors.New("boom")
	})
	ctrl := Accessor(scope, failing)

	all := &eventRecorder{}
	resolved := &eventRecorder{}
	offAll := ctrl.On(EventAny, all.listen)
	defer offAll()
	offResolved := ctrl.On(EventResolved, resolved.listen)
	defer offResolved()

	_, err := ctrl.Resolve()
	require.Error(t, err)

	assert.Equal(t, []EventKind{EventResolving, EventFailed}, all.snapshot())
	assert.Empty(t, resolved.snapshot())
}

func TestController_UnsubscribeStopsDelivery(t *testing.T) {
	scope := NewScope()
	defer scope.Dispose()

	exec := Provide(func(rc *ResolveCtx) (int, error) {
		return 1, nil
	})
	ctrl := Accessor(scope, exec)

	rec := &eventRecorder{}
	off := ctrl.On(EventResolved, rec.listen)

	_, err := ctrl.Resolve()
	require.NoError(t, err)
	require.Len(t, rec.snapshot(), 1)

	off()
	ctrl.Invalidate()
	scope.Settle()

	assert.Len(t, rec.snapshot(), 1)
}
