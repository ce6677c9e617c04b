package atomo

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGC_ReleasesAfterLastUnsubscribe(t *testing.T) {
	scope := NewScope(WithGracePeriod(10 * time.Millisecond))
	defer scope.Dispose()

	var cleaned int32
	exec := Provide(func(rc *ResolveCtx) (int, error) {
		rc.OnCleanup(func() error {
			atomic.AddInt32(&cleaned, 1)
			return nil
		})
		return 1, nil
	})

	ctrl := Accessor(scope, exec)
	off := ctrl.On(EventAny, func(Event) {})
	_, err := ctrl.Resolve()
	require.NoError(t, err)

	off()
	require.Eventually(t, func() bool {
		return ctrl.State() == StateIdle
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&cleaned))
}

func TestGC_ResubscribeWithinGraceCancelsRelease(t *testing.T) {
	scope := NewScope(WithGracePeriod(50 * time.Millisecond))
	defer scope.Dispose()

	exec := Provide(func(rc *ResolveCtx) (int, error) {
		return 1, nil
	})

	ctrl := Accessor(scope, exec)
	off := ctrl.On(EventAny, func(Event) {})
	_, err := ctrl.Resolve()
	require.NoError(t, err)

	off()
	off2 := ctrl.On(EventAny, func(Event) {})
	defer off2()

	time.Sleep(150 * time.Millisecond)
	scope.Settle()
	assert.Equal(t, StateResolved, ctrl.State())
}

func TestGC_KeepAliveNeverReleased(t *testing.T) {
	scope := NewScope(WithGracePeriod(10 * time.Millisecond))
	defer scope.Dispose()

	exec := Provide(func(rc *ResolveCtx) (int, error) {
		return 1, nil
	}, WithKeepAlive())

	ctrl := Accessor(scope, exec)
	off := ctrl.On(EventAny, func(Event) {})
	_, err := ctrl.Resolve()
	require.NoError(t, err)
	off()

	time.Sleep(50 * time.Millisecond)
	scope.Settle()
	assert.Equal(t, StateResolved, ctrl.State())
}

func TestGC_LiveDependentBlocksRelease(t *testing.T) {
	scope := NewScope(WithGracePeriod(10 * time.Millisecond))
	defer scope.Dispose()

	base := Provide(func(rc *ResolveCtx) (int, error) {
		return 1, nil
	})
	dependent := Derive1(base, func(rc *ResolveCtx, b *Controller[int]) (int, error) {
		v, err := b.Get()
		return v, err
	})

	baseCtrl := Accessor(scope, base)
	off := baseCtrl.On(EventAny, func(Event) {})

	_, err := Resolve(scope, dependent)
	require.NoError(t, err)

	off()
	time.Sleep(50 * time.Millisecond)
	scope.Settle()

	// The dependent's edge keeps the base alive regardless of subscribers.
	assert.Equal(t, StateResolved, baseCtrl.State())
}

func TestGC_CascadesThroughDependencyChain(t *testing.T) {
	scope := NewScope(WithGracePeriod(10 * time.Millisecond))
	defer scope.Dispose()

	var baseCleaned, depCleaned int32
	base := Provide(func(rc *ResolveCtx) (int, error) {
		rc.OnCleanup(func() error {
			atomic.AddInt32(&baseCleaned, 1)
			return nil
		})
		return 1, nil
	})
	dependent := Derive1(base, func(rc *ResolveCtx, b *Controller[int]) (int, error) {
		rc.OnCleanup(func() error {
			atomic.AddInt32(&depCleaned, 1)
			return nil
		})
		v, err := b.Get()
		return v, err
	})

	ctrl := Accessor(scope, dependent)
	off := ctrl.On(EventAny, func(Event) {})
	_, err := ctrl.Resolve()
	require.NoError(t, err)

	off()
	require.Eventually(t, func() bool {
		return ctrl.State() == StateIdle && Accessor(scope, base).State() == StateIdle
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&depCleaned))
	assert.Equal(t, int32(1), atomic.LoadInt32(&baseCleaned))
}

func TestGC_TimerDuringResolutionRearms(t *testing.T) {
	scope := NewScope(WithGracePeriod(10 * time.Millisecond))
	defer scope.Dispose()

	started := make(chan struct{})
	gate := make(chan struct{})
	slow := Provide(func(rc *ResolveCtx) (int, error) {
		close(started)
		<-gate
		return 1, nil
	})

	ctrl := Accessor(scope, slow)
	off := ctrl.On(EventAny, func(Event) {})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = Resolve(scope, slow)
	}()
	<-started

	// Eligibility begins mid-resolution; the grace timer fires while the
	// factory is still running and must try again once it settles.
	off()
	time.Sleep(50 * time.Millisecond)

	close(gate)
	<-done

	require.Eventually(t, func() bool {
		return ctrl.State() == StateIdle
	}, time.Second, 5*time.Millisecond)
}

func TestGC_PlainResolveIsNotCollected(t *testing.T) {
	scope := NewScope(WithGracePeriod(10 * time.Millisecond))
	defer scope.Dispose()

	exec := Provide(func(rc *ResolveCtx) (int, error) {
		return 1, nil
	})

	// Resolving without ever subscribing keeps the cache entry: collection
	// is triggered by observation ending, not by resolution itself.
	_, err := Resolve(scope, exec)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	scope.Settle()
	assert.Equal(t, StateResolved, Accessor(scope, exec).State())
}
