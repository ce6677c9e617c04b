package atomo

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultGracePeriod is the delay between an atom becoming release-eligible
// and its actual release, absorbing rapid resubscribe patterns.
const DefaultGracePeriod = time.Second

type preset struct {
	value   any
	atom    AnyAtom
	isValue bool
}

// Scope is the resolution cache: the sole owner of every atom cache entry
// and its lifecycle. Controllers and execution contexts are thin handles
// over it.
type Scope struct {
	mu         sync.Mutex
	entries    map[AnyAtom]*entry
	extensions []Extension
	tags       map[*tagKey]any
	presets    map[AnyAtom]preset
	sched      *scheduler
	grace      time.Duration
	root       *ExecCtx
	disposed   bool
}

// ScopeOption is a modifier for scopes.
type ScopeOption func(*Scope)

// WithGracePeriod overrides the GC grace window.
func WithGracePeriod(d time.Duration) ScopeOption {
	return func(s *Scope) {
		s.grace = d
	}
}

// WithExtension registers an extension during construction.
func WithExtension(ext Extension) ScopeOption {
	return func(s *Scope) {
		if err := s.UseExtension(ext); err != nil {
			panic(err)
		}
	}
}

// WithScopeTag sets a tag value on the scope.
func WithScopeTag[T any](tag Tag[T], val T) ScopeOption {
	return func(s *Scope) {
		if err := tag.SetOnScope(s, val); err != nil {
			panic(err)
		}
	}
}

// WithPreset replaces an atom with a fixed value or a substitute atom,
// typically a test double.
func WithPreset[T any](original *Atom[T], replacement any) ScopeOption {
	return func(s *Scope) {
		switch r := replacement.(type) {
		case T:
			s.presets[original] = preset{value: r, isValue: true}
		case *Atom[T]:
			s.presets[original] = preset{atom: r}
		default:
			panic(fmt.Sprintf("preset must be a value of type %T or *Atom[%T]", *new(T), *new(T)))
		}
	}
}

// NewScope creates a scope with optional configuration. The scope owns a
// root execution context, closed on Dispose.
func NewScope(opts ...ScopeOption) *Scope {
	s := &Scope{
		entries: make(map[AnyAtom]*entry),
		tags:    make(map[*tagKey]any),
		presets: make(map[AnyAtom]preset),
		grace:   DefaultGracePeriod,
		sched:   newScheduler(),
	}
	s.root = newExecCtx(s, nil, "root", nil, nil, nil)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Root returns the scope's root execution context. It has no parent and no
// input, and is closed only when the scope is disposed.
func (s *Scope) Root() *ExecCtx {
	return s.root
}

// Settle blocks until every deferred pass scheduled so far (invalidations,
// sets, cascades, fired release timers) has been processed. It must not be
// called from a factory or listener running on a deferred pass: those execute
// on the worker Settle waits for, and the call would deadlock.
func (s *Scope) Settle() {
	s.sched.settle()
}

// UseExtension appends an extension and runs its Init hook. Extensions wrap
// work in registration order, the last registered being closest to the
// actual factory invocation.
func (s *Scope) UseExtension(ext Extension) error {
	s.mu.Lock()
	s.extensions = append(s.extensions, ext)
	s.mu.Unlock()

	return ext.Init(s)
}

func (s *Scope) entryLocked(atom AnyAtom) *entry {
	e, ok := s.entries[atom]
	if !ok {
		e = newEntry(atom)
		s.entries[atom] = e
	}
	return e
}

func (s *Scope) peekEntry(atom AnyAtom) *entry {
	s.mu.Lock()
	e := s.entries[atom]
	s.mu.Unlock()
	return e
}

func (s *Scope) snapshotExtensions() []Extension {
	s.mu.Lock()
	exts := make([]Extension, len(s.extensions))
	copy(exts, s.extensions)
	s.mu.Unlock()
	return exts
}

// Resolve resolves an atom's value, lazily and with caching. Concurrent
// calls for the same atom share a single in-flight resolution.
func Resolve[T any](s *Scope, a *Atom[T]) (T, error) {
	v, err := s.resolve(a, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (s *Scope) resolve(atom AnyAtom, chain []AnyAtom) (any, error) {
	for _, seen := range chain {
		if seen == atom {
			return nil, cycleError(chain, atom)
		}
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, ErrScopeDisposed
	}
	e := s.entryLocked(atom)

	for {
		switch e.state {
		case StateResolved:
			v := e.value
			s.mu.Unlock()
			return v, nil
		case StateFailed:
			err := e.err
			s.mu.Unlock()
			return nil, err
		case StateResolving:
			ch := e.inflight
			s.mu.Unlock()
			if ch != nil {
				<-ch
			}
			s.mu.Lock()
			if s.disposed {
				s.mu.Unlock()
				return nil, ErrScopeDisposed
			}
			continue
		}
		break
	}

	if p, ok := s.presets[atom]; ok {
		return s.resolvePreset(e, p, chain)
	}

	e.state = StateResolving
	e.generation++
	gen := e.generation
	e.inflight = make(chan struct{})
	resolving := e.snapshotListeners(EventResolving)
	s.mu.Unlock()

	notifyAll(resolving, Event{Kind: EventResolving, Atom: atom, State: StateResolving})

	v, cleanups, err := s.runFactory(atom, chain, false)
	if !s.install(e, gen, v, err, cleanups) {
		// A set superseded this resolution; hand back whatever won.
		return s.awaitSettled(e)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// resolvePreset installs a preset in place of the original factory. Called
// with s.mu held on an idle entry; releases the lock.
func (s *Scope) resolvePreset(e *entry, p preset, chain []AnyAtom) (any, error) {
	if p.isValue {
		e.state = StateResolved
		e.value = p.value
		e.prev, e.hasPrev = p.value, true
		s.mu.Unlock()
		return p.value, nil
	}

	s.mu.Unlock()
	v, err := s.resolve(p.atom, chain)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if e.state == StateIdle {
		e.state = StateResolved
		e.value = v
		e.prev, e.hasPrev = v, true
		// The substitution is a real dependency edge: the substitute is
		// pinned while the original holds its value, and releasing the
		// original cascades to it.
		de := s.entryLocked(p.atom)
		de.dependents[e.atom] = struct{}{}
		e.dependencies[p.atom] = struct{}{}
		s.cancelScheduledRelease(de)
	}
	v = e.value
	s.mu.Unlock()
	return v, nil
}

// runFactory resolves the atom's declared dependencies, registers dependency
// edges, and invokes the factory through the extension pipeline. It returns
// the raw result plus the cleanups the factory registered.
func (s *Scope) runFactory(atom AnyAtom, chain []AnyAtom, invalidated bool) (any, []func() error, error) {
	chain = append(chain[:len(chain):len(chain)], atom)

	for _, d := range atom.Dependencies() {
		switch d.depKindOf() {
		case depValue, depReactive, depAccessorEager:
			if _, err := s.resolve(d.depAtom(), chain); err != nil {
				return nil, nil, &ResolveError{Atom: atom.Name(), Cause: err}
			}
		case depAccessor:
			// Controller handed to the factory; resolved on demand.
		case depTag:
			if d.depTagMode() == TagRequired && !s.tagSatisfiedForAtom(atom, d.depTagKey()) {
				return nil, nil, &ResolveError{
					Atom:  atom.Name(),
					Cause: &MissingDependencyError{Target: atom.Name(), Tag: d.depTagKey().name},
				}
			}
		}
	}

	s.mu.Lock()
	e := s.entryLocked(atom)
	for _, d := range atom.Dependencies() {
		dep := d.depAtom()
		if dep == nil || d.depKindOf() == depAccessor {
			continue
		}
		de := s.entryLocked(dep)
		de.dependents[atom] = struct{}{}
		e.dependencies[dep] = struct{}{}
		if d.depKindOf() == depReactive {
			de.reactive[atom] = struct{}{}
		}
		s.cancelScheduledRelease(de)
	}
	if e.data == nil {
		e.data = newDataStore()
	}
	data := e.data
	exts := make([]Extension, len(s.extensions))
	copy(exts, s.extensions)
	s.mu.Unlock()

	rc := &ResolveCtx{scope: s, atom: atom, chain: chain, invalidated: invalidated}
	info := &ResolveInfo{Atom: atom, Scope: s, Invalidated: invalidated, Data: data}

	next := func() (any, error) {
		return atom.invoke(rc)
	}
	for i := len(exts) - 1; i >= 0; i-- {
		ext := exts[i]
		inner := next
		next = func() (any, error) {
			return ext.WrapResolve(inner, info)
		}
	}

	v, err := next()
	if err != nil {
		return nil, rc.cleanups, &ResolveError{Atom: atom.Name(), Cause: err}
	}
	return v, rc.cleanups, nil
}

// install commits a finished resolution, unless the scope was disposed or a
// set or a newer invalidation superseded it in the meantime, in which case
// the stale result is discarded and its cleanups run immediately.
func (s *Scope) install(e *entry, gen uint64, v any, err error, cleanups []func() error) bool {
	s.mu.Lock()
	if s.disposed || e.generation != gen {
		s.mu.Unlock()
		s.runCleanups(e.atom, cleanups, "superseded")
		return false
	}

	var ev Event
	var listeners []Listener
	if err != nil {
		e.state = StateFailed
		e.err = err
		e.value = nil
		listeners = e.snapshotListeners(EventAny)
		ev = Event{Kind: EventFailed, Atom: e.atom, State: StateFailed, Err: err}
	} else {
		e.state = StateResolved
		e.value = v
		e.err = nil
		e.prev, e.hasPrev = v, true
		e.cleanups = cleanups
		listeners = e.snapshotListeners(EventResolved)
		ev = Event{Kind: EventResolved, Atom: e.atom, State: StateResolved, Value: v}
	}
	if e.inflight != nil {
		close(e.inflight)
		e.inflight = nil
	}
	s.mu.Unlock()

	notifyAll(listeners, ev)
	if err != nil {
		// A failing factory may have registered resources before erroring.
		s.runCleanups(e.atom, cleanups, "failed")
	}
	return true
}

// awaitSettled waits out an in-flight resolution and returns the entry's
// settled outcome.
func (s *Scope) awaitSettled(e *entry) (any, error) {
	s.mu.Lock()
	for {
		switch e.state {
		case StateResolved:
			v := e.value
			s.mu.Unlock()
			return v, nil
		case StateFailed:
			err := e.err
			s.mu.Unlock()
			return nil, err
		case StateIdle:
			s.mu.Unlock()
			return nil, &NotResolvedError{Atom: e.atom.Name(), State: StateIdle}
		case StateResolving:
			ch := e.inflight
			s.mu.Unlock()
			if ch != nil {
				<-ch
			}
			s.mu.Lock()
		}
	}
}

// runCleanups runs cleanups in reverse registration order. Failures are
// offered to extensions; one failing cleanup never stops the rest.
func (s *Scope) runCleanups(atom AnyAtom, cleanups []func() error, context string) {
	if len(cleanups) == 0 {
		return
	}
	exts := s.snapshotExtensions()
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			cerr := &CleanupError{Atom: atom.Name(), Err: err, Context: context}
			for _, ext := range exts {
				if ext.OnCleanupError(cerr) {
					break
				}
			}
		}
	}
}

func (s *Scope) tagSatisfiedForAtom(atom AnyAtom, key *tagKey) bool {
	if _, ok := findTagged(atom.Tags(), key); ok {
		return true
	}
	s.mu.Lock()
	_, ok := s.tags[key]
	s.mu.Unlock()
	if ok {
		return true
	}
	return key.hasDefault
}

func cycleError(chain []AnyAtom, atom AnyAtom) error {
	names := make([]string, 0, len(chain)+1)
	start := 0
	for i, a := range chain {
		if a == atom {
			start = i
			break
		}
	}
	for _, a := range chain[start:] {
		names = append(names, a.Name())
	}
	names = append(names, atom.Name())
	return &CycleError{Chain: names}
}

// Dispose tears the scope down: pending releases are cancelled, the root
// context and every entry's cleanups run, then extensions dispose in reverse
// registration order. One extension's failure never prevents the others;
// failures are surfaced in aggregate.
func (s *Scope) Dispose() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.disposed = true
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.releaseTimer != nil {
			e.releaseTimer.Stop()
			e.releaseTimer = nil
		}
		entries = append(entries, e)
	}
	exts := make([]Extension, len(s.extensions))
	copy(exts, s.extensions)
	root := s.root
	s.mu.Unlock()

	s.sched.close()

	var errs []error
	if root != nil {
		if err := root.close(); err != nil {
			errs = append(errs, err)
		}
	}

	for _, e := range entries {
		s.mu.Lock()
		cleanups := e.cleanups
		e.cleanups = nil
		if e.inflight != nil {
			close(e.inflight)
			e.inflight = nil
		}
		// Invalidates any resolution still in flight so it cannot
		// reinstall onto the disposed scope.
		e.generation++
		e.state = StateIdle
		e.value = nil
		e.err = nil
		e.data = nil
		s.mu.Unlock()
		s.runCleanups(e.atom, cleanups, "dispose")
	}

	for i := len(exts) - 1; i >= 0; i-- {
		if err := exts[i].Dispose(s); err != nil {
			errs = append(errs, fmt.Errorf("disposing extension %s: %w", exts[i].Name(), err))
		}
	}

	return errors.Join(errs...)
}
