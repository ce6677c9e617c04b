package atomo

// ResolveCtx is handed to atom factories. It carries the scope, the identity
// of the atom being resolved, and the cleanup list for this resolution.
type ResolveCtx struct {
	scope       *Scope
	atom        AnyAtom
	chain       []AnyAtom
	invalidated bool
	cleanups    []func() error
}

// Scope returns the resolving scope.
func (rc *ResolveCtx) Scope() *Scope {
	return rc.scope
}

// Invalidated reports whether this resolution was triggered by an
// invalidation rather than a first resolve.
func (rc *ResolveCtx) Invalidated() bool {
	return rc.invalidated
}

// OnCleanup registers a cleanup for this resolution. Cleanups run in reverse
// registration order before the next re-derivation, on release, and on scope
// dispose.
func (rc *ResolveCtx) OnCleanup(fn func() error) {
	rc.cleanups = append(rc.cleanups, fn)
}

// Data returns the atom's private data store. It survives invalidation, so
// factories can keep state across re-derivations (previous-value polling and
// similar patterns), and is dropped when the atom is released.
func (rc *ResolveCtx) Data() *DataStore {
	rc.scope.mu.Lock()
	e := rc.scope.entryLocked(rc.atom)
	if e.data == nil {
		e.data = newDataStore()
	}
	d := e.data
	rc.scope.mu.Unlock()
	return d
}
