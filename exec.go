package atomo

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
)

// ExecCtx is a per-invocation execution context. Every flow execution
// creates a child context linked to its caller's; the child owns its own
// private data and cleanup list and is auto-closed when the invocation
// finishes, including abnormal completion. References only point upward:
// a context knows its parent, never its children.
type ExecCtx struct {
	id     string
	name   string
	parent *ExecCtx
	scope  *Scope
	input  any
	goCtx  context.Context

	// execTags are per-invocation tags, defTags the flow's definition tags.
	execTags []Tagged
	defTags  []Tagged

	mu       sync.Mutex
	data     map[*tagKey]any
	cleanups []func() error
	closed   bool
}

func newExecCtx(scope *Scope, parent *ExecCtx, name string, input any, goCtx context.Context, execTags []Tagged) *ExecCtx {
	return &ExecCtx{
		id:       uuid.NewString(),
		name:     name,
		parent:   parent,
		scope:    scope,
		input:    input,
		goCtx:    goCtx,
		execTags: execTags,
		data:     make(map[*tagKey]any),
	}
}

// ID returns the context's unique identifier.
func (e *ExecCtx) ID() string { return e.id }

// Name returns the invoked flow's name ("root" for the scope root).
func (e *ExecCtx) Name() string { return e.name }

// Parent returns the caller's context, nil for the root.
func (e *ExecCtx) Parent() *ExecCtx { return e.parent }

// Scope returns the owning scope.
func (e *ExecCtx) Scope() *Scope { return e.scope }

// Input returns the untyped invocation input; the flow body receives it
// typed.
func (e *ExecCtx) Input() any { return e.input }

// Context returns the Go context this invocation runs under.
func (e *ExecCtx) Context() context.Context {
	if e.goCtx == nil {
		return context.Background()
	}
	return e.goCtx
}

// Closed reports whether this context has been auto-closed.
func (e *ExecCtx) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// OnCleanup registers a cleanup run when this context closes, in reverse
// registration order.
func (e *ExecCtx) OnCleanup(fn func() error) {
	e.mu.Lock()
	e.cleanups = append(e.cleanups, fn)
	e.mu.Unlock()
}

// close runs the context's cleanups and marks it closed. Idempotent.
func (e *ExecCtx) close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	cleanups := e.cleanups
	e.cleanups = nil
	e.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// getLocal reads this context's own store only.
func (e *ExecCtx) getLocal(key *tagKey) (any, bool) {
	e.mu.Lock()
	v, ok := e.data[key]
	e.mu.Unlock()
	return v, ok
}

// seek walks the private-data chain from this context to the root. It never
// consults siblings and never substitutes tag defaults.
func (e *ExecCtx) seek(key *tagKey) (any, bool) {
	for cur := e; cur != nil; cur = cur.parent {
		if v, ok := cur.getLocal(key); ok {
			return v, true
		}
	}
	return nil, false
}

// lookupTag resolves a tag against this invocation: the private-data chain
// first, then execution-time tags, then the flow's definition tags, then the
// scope's tags. Defaults are the caller's concern.
func (e *ExecCtx) lookupTag(key *tagKey) (any, bool) {
	if v, ok := e.seek(key); ok {
		return v, true
	}
	if v, ok := findTagged(e.execTags, key); ok {
		return v, true
	}
	if v, ok := findTagged(e.defTags, key); ok {
		return v, true
	}
	e.scope.mu.Lock()
	v, ok := e.scope.tags[key]
	e.scope.mu.Unlock()
	return v, ok
}

// collectTag gathers every value for a tag, nearest-first: one per context
// level, then execution-time tags, definition tags, and the scope tag.
func (e *ExecCtx) collectTag(key *tagKey) []any {
	var out []any
	for cur := e; cur != nil; cur = cur.parent {
		if v, ok := cur.getLocal(key); ok {
			out = append(out, v)
		}
	}
	out = collectTagged(out, e.execTags, key)
	out = collectTagged(out, e.defTags, key)
	e.scope.mu.Lock()
	if v, ok := e.scope.tags[key]; ok {
		out = append(out, v)
	}
	e.scope.mu.Unlock()
	return out
}

// AnyFlow is the type-erased view of a Flow used by extension hooks.
type AnyFlow interface {
	Name() string
	Dependencies() []Dependency
	Tags() []Tagged
}

// Flow is a short-span executable operation with typed input and output,
// declared dependencies, and definition tags. Configure it with the builder
// methods before first execution.
type Flow[In, Out any] struct {
	label    string
	deps     []Dependency
	body     func(*ExecCtx, In) (Out, error)
	tags     []Tagged
	checkIn  func(In) error
	checkOut func(Out) error
}

// NewFlow creates a flow from a name and a body.
func NewFlow[In, Out any](name string, body func(*ExecCtx, In) (Out, error)) *Flow[In, Out] {
	return &Flow[In, Out]{label: name, body: body}
}

// Deps declares dependencies resolved before the body runs.
func (f *Flow[In, Out]) Deps(deps ...Dependency) *Flow[In, Out] {
	f.deps = append(f.deps, deps...)
	return f
}

// WithTags attaches definition-time tags.
func (f *Flow[In, Out]) WithTags(tvs ...Tagged) *Flow[In, Out] {
	f.tags = append(f.tags, tvs...)
	return f
}

// CheckInput sets an input validator, run before anything else.
func (f *Flow[In, Out]) CheckInput(fn func(In) error) *Flow[In, Out] {
	f.checkIn = fn
	return f
}

// CheckOutput sets an output validator, run after a successful body.
func (f *Flow[In, Out]) CheckOutput(fn func(Out) error) *Flow[In, Out] {
	f.checkOut = fn
	return f
}

func (f *Flow[In, Out]) Name() string               { return f.label }
func (f *Flow[In, Out]) Dependencies() []Dependency { return f.deps }
func (f *Flow[In, Out]) Tags() []Tagged             { return f.tags }

// Exec runs a flow as a child of the scope's root context.
func Exec[In, Out any](s *Scope, ctx context.Context, f *Flow[In, Out], in In, execTags ...Tagged) (Out, error) {
	return execFlow(s.Root(), ctx, f, in, execTags)
}

// ExecIn runs a flow as a child of the given context, inheriting its Go
// context. Executing against a closed context fails.
func ExecIn[In, Out any](parent *ExecCtx, f *Flow[In, Out], in In, execTags ...Tagged) (Out, error) {
	return execFlow(parent, parent.goCtx, f, in, execTags)
}

func execFlow[In, Out any](parent *ExecCtx, goCtx context.Context, f *Flow[In, Out], in In, execTags []Tagged) (Out, error) {
	var zero Out

	s := parent.scope
	s.mu.Lock()
	disposed := s.disposed
	s.mu.Unlock()
	if disposed {
		return zero, ErrScopeDisposed
	}
	if parent.Closed() {
		return zero, &ClosedContextError{Ctx: parent.name}
	}
	if goCtx != nil {
		select {
		case <-goCtx.Done():
			return zero, goCtx.Err()
		default:
		}
	}

	if f.checkIn != nil {
		if err := f.checkIn(in); err != nil {
			return zero, &ParseError{Phase: PhaseInput, Target: f.label, Cause: err}
		}
	}

	for _, d := range f.deps {
		switch d.depKindOf() {
		case depValue, depReactive, depAccessorEager:
			if _, err := s.resolve(d.depAtom(), nil); err != nil {
				return zero, &ResolveError{Atom: "flow " + f.label, Cause: err}
			}
		}
	}

	child := newExecCtx(s, parent, f.label, in, goCtx, execTags)
	child.defTags = f.tags

	for _, d := range f.deps {
		if d.depKindOf() != depTag || d.depTagMode() != TagRequired {
			continue
		}
		key := d.depTagKey()
		if _, ok := child.lookupTag(key); !ok && !key.hasDefault {
			cerr := child.close()
			err := error(&MissingDependencyError{Target: "flow " + f.label, Tag: key.name})
			if cerr != nil {
				err = errors.Join(err, cerr)
			}
			return zero, err
		}
	}

	exts := s.snapshotExtensions()
	next := func() (any, error) {
		return runFlowBody(child, f, in)
	}
	for i := len(exts) - 1; i >= 0; i-- {
		ext := exts[i]
		inner := next
		next = func() (any, error) {
			return ext.WrapExec(inner, f, child)
		}
	}

	outAny, err := next()

	if cerr := child.close(); cerr != nil {
		if err == nil {
			err = cerr
		} else {
			err = errors.Join(err, cerr)
		}
	}
	if err != nil {
		return zero, err
	}

	out := outAny.(Out)
	if f.checkOut != nil {
		if err := f.checkOut(out); err != nil {
			return zero, &ParseError{Phase: PhaseOutput, Target: f.label, Cause: err}
		}
	}
	return out, nil
}

func runFlowBody[In, Out any](child *ExecCtx, f *Flow[In, Out], in In) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in flow %s: %v\n%s", f.label, r, debug.Stack())
		}
	}()

	if ctx := child.goCtx; ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	v, err := f.body(child, in)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Use resolves an atom from within a flow body.
func Use[T any](e *ExecCtx, a *Atom[T]) (T, error) {
	return Resolve(e.scope, a)
}

// UseCtrl returns a controller for an atom from within a flow body.
func UseCtrl[T any](e *ExecCtx, a *Atom[T]) *Controller[T] {
	return Accessor(e.scope, a)
}
