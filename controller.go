package atomo

// Controller is a handle over one atom within one scope: state inspection,
// resolution, invalidation, and event subscription. It holds no state of its
// own; the scope's cache entry is the single source of truth.
type Controller[T any] struct {
	atom  *Atom[T]
	scope *Scope
}

// Accessor creates a controller for an atom.
func Accessor[T any](s *Scope, a *Atom[T]) *Controller[T] {
	return &Controller[T]{atom: a, scope: s}
}

// Atom returns the controlled atom.
func (c *Controller[T]) Atom() *Atom[T] {
	return c.atom
}

// State returns the atom's current lifecycle state.
func (c *Controller[T]) State() State {
	e := c.scope.peekEntry(c.atom)
	if e == nil {
		return StateIdle
	}
	c.scope.mu.Lock()
	st := e.state
	c.scope.mu.Unlock()
	return st
}

// Get returns the atom's value without resolving or suspending. While a
// re-derivation is in flight it returns the previous resolved value
// (stale-while-revalidate); it returns the stored error when failed, and a
// NotResolvedError when there is nothing to observe yet.
func (c *Controller[T]) Get() (T, error) {
	var zero T
	s := c.scope
	s.mu.Lock()
	e := s.entries[c.atom]
	if e == nil {
		s.mu.Unlock()
		return zero, &NotResolvedError{Atom: c.atom.Name(), State: StateIdle}
	}
	defer s.mu.Unlock()

	switch e.state {
	case StateResolved:
		return e.value.(T), nil
	case StateResolving:
		if e.hasPrev {
			return e.prev.(T), nil
		}
		return zero, &NotResolvedError{Atom: c.atom.Name(), State: StateResolving}
	case StateFailed:
		return zero, e.err
	default:
		return zero, &NotResolvedError{Atom: c.atom.Name(), State: StateIdle}
	}
}

// Resolve resolves the atom, sharing any in-flight resolution.
func (c *Controller[T]) Resolve() (T, error) {
	return Resolve(c.scope, c.atom)
}

// Invalidate schedules a re-derivation on the next deferred pass.
func (c *Controller[T]) Invalidate() {
	c.scope.scheduleInvalidate(c.atom)
}

// Set schedules a value replacement on the next deferred pass.
func (c *Controller[T]) Set(v T) {
	Set(c.scope, c.atom, v)
}

// Update schedules a functional update on the next deferred pass.
func (c *Controller[T]) Update(fn func(T) T) {
	Update(c.scope, c.atom, fn)
}

// Release synchronously releases the atom: cleanups run, the cached value
// and private data are dropped, and the entry returns to idle. It fails
// with a HasDependentsError while other resolved atoms still depend on it.
// It must not be called from a factory or listener running on a deferred
// pass: the release executes on that same worker, and waiting for it there
// deadlocks.
func (c *Controller[T]) Release() error {
	return c.scope.releaseNow(c.atom)
}

// On subscribes a listener to one event channel and returns its unsubscribe
// function. Subscribing cancels any release scheduled for the atom;
// unsubscribing the last subscriber makes it GC-eligible again.
func (c *Controller[T]) On(kind EventKind, fn Listener) func() {
	s := c.scope
	s.mu.Lock()
	e := s.entryLocked(c.atom)
	id := e.addListener(kind, fn)
	s.cancelScheduledRelease(e)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		if e.removeListener(kind, id) {
			s.maybeScheduleRelease(e)
		}
		s.mu.Unlock()
	}
}
