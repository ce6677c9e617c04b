package atomo

// Invalidate schedules a re-derivation of the atom. The call returns
// immediately; existing cleanups run and the factory re-runs on the scope's
// next deferred pass. Multiple requests within one pass coalesce.
func Invalidate[T any](s *Scope, a *Atom[T]) {
	s.scheduleInvalidate(a)
}

// Set schedules replacement of the atom's value without re-running the
// factory. A set queued after an invalidate in the same pass cancels the
// factory re-run in favor of the pushed value; the last set wins.
func Set[T any](s *Scope, a *Atom[T], v T) {
	s.scheduleWrite(a, &pendingWrite{value: v})
}

// Update schedules a functional update applied to the last resolved value
// (the zero value when the atom never resolved) on the next deferred pass.
func Update[T any](s *Scope, a *Atom[T], fn func(T) T) {
	s.scheduleWrite(a, &pendingWrite{apply: func(cur any) any {
		var c T
		if cur != nil {
			c = cur.(T)
		}
		return fn(c)
	}})
}

func (s *Scope) scheduleInvalidate(atom AnyAtom) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	e := s.entryLocked(atom)
	e.pendingInvalidate = true
	s.enqueueProcess(e)
	s.mu.Unlock()
}

func (s *Scope) scheduleWrite(atom AnyAtom, pw *pendingWrite) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	e := s.entryLocked(atom)
	e.pendingSet = pw
	s.enqueueProcess(e)
	s.mu.Unlock()
}

// enqueueProcess queues one processing pass for the entry, coalescing with a
// pass already queued. Must be called with s.mu held.
func (s *Scope) enqueueProcess(e *entry) {
	if e.processing {
		e.reentered = true
	}
	if e.queued {
		return
	}
	e.queued = true
	s.sched.enqueue(func() {
		s.processEntry(e)
	})
}

// processEntry is the scheduler's processing step, the only place entry
// state transitions on invalidation and set paths happen. Ordering per pass:
// transition to resolving (notifying once, unless already resolving), run
// existing cleanups in reverse, then either install the pending write or
// re-run the factory, then install and notify the terminal state once.
func (s *Scope) processEntry(e *entry) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	e.queued = false
	pi, pw := e.pendingInvalidate, e.pendingSet
	e.pendingInvalidate, e.pendingSet = false, nil
	if !pi && pw == nil {
		s.mu.Unlock()
		return
	}

	if e.reentered {
		e.loopDepth++
	} else {
		e.loopDepth = 0
	}
	e.reentered = false
	if e.loopDepth >= maxInvalidationDepth {
		s.failLoop(e)
		return
	}

	// Invalidating an atom that never resolved re-derives nothing.
	if e.state == StateIdle && pw == nil {
		s.mu.Unlock()
		return
	}

	e.processing = true
	wasResolving := e.state == StateResolving
	if e.state == StateResolved {
		e.prev, e.hasPrev = e.value, true
	}
	e.generation++
	gen := e.generation
	e.state = StateResolving
	if e.inflight == nil {
		e.inflight = make(chan struct{})
	}
	cleanups := e.cleanups
	e.cleanups = nil
	var resolving []Listener
	if !wasResolving {
		resolving = e.snapshotListeners(EventResolving)
	}
	prev := e.prev
	hasPrev := e.hasPrev
	s.mu.Unlock()

	if !wasResolving {
		notifyAll(resolving, Event{Kind: EventResolving, Atom: e.atom, State: StateResolving})
	}

	s.runCleanups(e.atom, cleanups, "invalidate")

	installed := false
	if pw != nil {
		newVal := pw.value
		if pw.apply != nil {
			var cur any
			if hasPrev {
				cur = prev
			}
			newVal = pw.apply(cur)
		}
		installed = s.install(e, gen, newVal, nil, nil)
	} else {
		v, fc, err := s.runFactory(e.atom, nil, true)
		installed = s.install(e, gen, v, err, fc)
	}

	s.mu.Lock()
	e.processing = false
	var cascade []AnyAtom
	if installed && e.state == StateResolved {
		for r := range e.reactive {
			cascade = append(cascade, r)
		}
	}
	s.mu.Unlock()

	for _, dep := range cascade {
		s.scheduleInvalidate(dep)
	}
}

// failLoop fails an entry that kept re-invalidating itself. Called with
// s.mu held; releases it.
func (s *Scope) failLoop(e *entry) {
	err := &LoopError{Atom: e.atom.Name(), Depth: e.loopDepth}
	e.state = StateFailed
	e.err = err
	e.value = nil
	e.generation++
	e.loopDepth = 0
	e.processing = false
	if e.inflight != nil {
		close(e.inflight)
		e.inflight = nil
	}
	listeners := e.snapshotListeners(EventAny)
	s.mu.Unlock()

	notifyAll(listeners, Event{Kind: EventFailed, Atom: e.atom, State: StateFailed, Err: err})
}
