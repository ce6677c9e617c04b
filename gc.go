package atomo

import "time"

// The subscription GC releases atoms nobody observes anymore. An atom is
// eligible when it has zero subscribers, zero live dependents, and no
// keep-alive flag; eligibility starts a grace timer, and the release is
// re-validated when the timer fires. Releases cascade: dropping an atom
// removes its dependency edges and re-checks each dependency in turn.

// maybeScheduleRelease arms the grace timer when the entry just became
// eligible. Must be called with s.mu held.
func (s *Scope) maybeScheduleRelease(e *entry) {
	if s.disposed || e.releaseTimer != nil {
		return
	}
	if e.atom.KeepAlive() || e.subscribers > 0 || len(e.dependents) > 0 {
		return
	}
	if e.state == StateIdle {
		return
	}
	e.releaseTimer = time.AfterFunc(s.grace, func() {
		s.sched.enqueue(func() {
			s.mu.Lock()
			e.releaseTimer = nil
			s.mu.Unlock()
			s.performRelease(e, true)
		})
	})
}

// cancelScheduledRelease stops a pending release, if any. Must be called
// with s.mu held.
func (s *Scope) cancelScheduledRelease(e *entry) {
	if e.releaseTimer != nil {
		e.releaseTimer.Stop()
		e.releaseTimer = nil
	}
}

// releaseNow is the explicit release path. It refuses while dependents are
// alive and otherwise runs the release on the scheduler turn, waiting for it.
// Callers already on the scheduler worker would wait on themselves.
func (s *Scope) releaseNow(atom AnyAtom) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrScopeDisposed
	}
	e := s.entries[atom]
	if e == nil || e.state == StateIdle {
		s.mu.Unlock()
		return nil
	}
	if len(e.dependents) > 0 {
		names := make([]string, 0, len(e.dependents))
		for d := range e.dependents {
			names = append(names, d.Name())
		}
		s.mu.Unlock()
		return &HasDependentsError{Atom: atom.Name(), Dependents: names}
	}
	s.cancelScheduledRelease(e)
	s.mu.Unlock()

	done := make(chan struct{})
	if !s.sched.enqueue(func() {
		s.performRelease(e, false)
		close(done)
	}) {
		return ErrScopeDisposed
	}
	<-done
	return nil
}

// performRelease runs on the scheduler turn. For GC-triggered releases it
// re-checks eligibility first; a dependent that appeared during the grace
// window always wins. Cleanups run, the value and private data are dropped,
// and each dependency loses its edge and is re-checked, cascading the
// release down the chain.
func (s *Scope) performRelease(e *entry, fromGC bool) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	if len(e.dependents) > 0 {
		s.mu.Unlock()
		return
	}
	if fromGC && (e.subscribers > 0 || e.atom.KeepAlive()) {
		s.mu.Unlock()
		return
	}
	if e.state == StateIdle || e.state == StateResolving {
		// A GC timer that fires mid-resolution must try again once the
		// resolution settles; the entry is still unobserved.
		if fromGC && e.state == StateResolving {
			s.maybeScheduleRelease(e)
		}
		s.mu.Unlock()
		return
	}

	cleanups := e.cleanups
	e.cleanups = nil
	deps := e.dependencies
	e.dependencies = make(map[AnyAtom]struct{})
	e.state = StateIdle
	e.value = nil
	e.err = nil
	e.prev = nil
	e.hasPrev = false
	e.data = nil
	e.generation++
	s.mu.Unlock()

	s.runCleanups(e.atom, cleanups, "release")

	s.mu.Lock()
	for dep := range deps {
		de := s.entries[dep]
		if de == nil {
			continue
		}
		delete(de.dependents, e.atom)
		delete(de.reactive, e.atom)
		s.maybeScheduleRelease(de)
	}
	s.mu.Unlock()
}
