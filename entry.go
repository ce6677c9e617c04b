package atomo

import (
	"sync"
	"time"
)

// State is the lifecycle state of an atom within one scope.
type State int

const (
	StateIdle State = iota
	StateResolving
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// EventKind selects a notification channel on Controller.On.
type EventKind string

const (
	// EventResolving fires once when an atom enters the resolving state.
	EventResolving EventKind = "resolving"
	// EventResolved fires once when a resolution installs a value.
	EventResolved EventKind = "resolved"
	// EventAny is the catch-all channel. Failures notify it exclusively,
	// carrying EventFailed as the event kind.
	EventAny EventKind = "*"

	// EventFailed appears as Event.Kind on catch-all deliveries after a
	// failed resolution; it is not a subscribable channel.
	EventFailed EventKind = "failed"
)

// Event describes one observed state transition.
type Event struct {
	Kind  EventKind
	Atom  AnyAtom
	State State
	Value any
	Err   error
}

// Listener receives transition events for one atom.
type Listener func(Event)

type listenerRec struct {
	id int
	fn Listener
}

// pendingWrite is a queued set or update. apply is non-nil for updates and
// receives the last resolved value (nil when there is none).
type pendingWrite struct {
	value any
	apply func(any) any
}

// entry is the per-(scope, atom) cache record. The scope owns every entry;
// controllers and contexts are thin handles over it. Fields are guarded by
// the scope mutex.
type entry struct {
	atom AnyAtom

	state State
	value any
	err   error

	// prev holds the last resolved value for stale reads while resolving.
	prev    any
	hasPrev bool

	// generation increments on every transition into resolving and on
	// release. A resolution installs its result only if the generation it
	// started under is still current; superseded results are discarded.
	generation uint64

	// inflight is closed when the current resolution settles, waking
	// resolvers that coalesced onto it.
	inflight chan struct{}

	cleanups []func() error

	listeners      map[EventKind][]listenerRec
	nextListenerID int
	subscribers    int

	// dependents holds atoms whose resolution consumed this one; a live
	// dependent always blocks release. reactive is the subset re-derived
	// when this atom changes.
	dependents   map[AnyAtom]struct{}
	dependencies map[AnyAtom]struct{}
	reactive     map[AnyAtom]struct{}

	// data survives invalidation and is cleared on release.
	data *DataStore

	pendingInvalidate bool
	pendingSet        *pendingWrite
	queued            bool
	processing        bool
	reentered         bool
	loopDepth         int

	releaseTimer *time.Timer
}

func newEntry(atom AnyAtom) *entry {
	return &entry{
		atom:         atom,
		listeners:    make(map[EventKind][]listenerRec),
		dependents:   make(map[AnyAtom]struct{}),
		dependencies: make(map[AnyAtom]struct{}),
		reactive:     make(map[AnyAtom]struct{}),
	}
}

func (e *entry) addListener(kind EventKind, fn Listener) int {
	e.nextListenerID++
	id := e.nextListenerID
	e.listeners[kind] = append(e.listeners[kind], listenerRec{id: id, fn: fn})
	e.subscribers++
	return id
}

func (e *entry) removeListener(kind EventKind, id int) bool {
	recs := e.listeners[kind]
	for i, rec := range recs {
		if rec.id == id {
			e.listeners[kind] = append(recs[:i:i], recs[i+1:]...)
			e.subscribers--
			return true
		}
	}
	return false
}

// snapshotListeners copies the delivery list for one event: the kind channel
// in registration order, then the catch-all channel. Failure events pass
// kind == EventAny to skip the dedicated channel entirely.
func (e *entry) snapshotListeners(kind EventKind) []Listener {
	var out []Listener
	if kind != EventAny {
		for _, rec := range e.listeners[kind] {
			out = append(out, rec.fn)
		}
	}
	for _, rec := range e.listeners[EventAny] {
		out = append(out, rec.fn)
	}
	return out
}

func notifyAll(listeners []Listener, ev Event) {
	for _, fn := range listeners {
		fn(ev)
	}
}

// DataStore is an identity-keyed key/value store scoped to one atom. It
// survives invalidation so factories can carry state across re-derivations,
// and is dropped when the atom is released.
type DataStore struct {
	mu sync.Mutex
	m  map[*tagKey]any
}

func newDataStore() *DataStore {
	return &DataStore{m: make(map[*tagKey]any)}
}

// DataGet reads a typed value from a data store.
func DataGet[T any](d *DataStore, tag Tag[T]) (T, bool) {
	d.mu.Lock()
	v, ok := d.m[tag.key]
	d.mu.Unlock()
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// DataSet writes a typed value into a data store.
func DataSet[T any](d *DataStore, tag Tag[T], v T) {
	d.mu.Lock()
	d.m[tag.key] = v
	d.mu.Unlock()
}

// DataDelete removes a key from a data store.
func DataDelete[T any](d *DataStore, tag Tag[T]) {
	d.mu.Lock()
	delete(d.m, tag.key)
	d.mu.Unlock()
}
