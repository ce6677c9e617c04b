package atomo

import "fmt"

// depKind discriminates the dependency descriptor sum type.
type depKind int

const (
	// depValue resolves the dependency and hands its value to the factory.
	depValue depKind = iota
	// depReactive is depValue plus re-derivation of the dependent whenever
	// the dependency is invalidated or set.
	depReactive
	// depAccessor hands the factory a controller without resolving.
	depAccessor
	// depAccessorEager hands the factory a controller, resolved up front.
	depAccessorEager
	// depTag satisfies the dependency from tag lookups instead of an atom.
	depTag
)

// Dependency describes how one declared input of an atom or flow is
// satisfied: by another atom's value, by a controller over another atom, or
// by a tag lookup. Descriptors are constructed through Atom and Tag methods;
// the interface is closed.
type Dependency interface {
	depAtom() AnyAtom
	depKindOf() depKind
	depTagKey() *tagKey
	depTagMode() TagMode
}

// dependencyWrapper attaches a non-default kind to an atom reference.
type dependencyWrapper struct {
	atom AnyAtom
	kind depKind
}

func (d *dependencyWrapper) depAtom() AnyAtom    { return d.atom }
func (d *dependencyWrapper) depKindOf() depKind  { return d.kind }
func (d *dependencyWrapper) depTagKey() *tagKey  { return nil }
func (d *dependencyWrapper) depTagMode() TagMode { return TagRequired }

// tagDep is a tag lookup dependency.
type tagDep struct {
	key  *tagKey
	mode TagMode
}

func (d *tagDep) depAtom() AnyAtom    { return nil }
func (d *tagDep) depKindOf() depKind  { return depTag }
func (d *tagDep) depTagKey() *tagKey  { return d.key }
func (d *tagDep) depTagMode() TagMode { return d.mode }

// AnyAtom is the type-erased view of an Atom used for identity, dependency
// tracking, and extension hooks.
type AnyAtom interface {
	Dependency

	// Name returns the atom's diagnostic name.
	Name() string
	// Dependencies returns the declared dependency descriptors.
	Dependencies() []Dependency
	// Tags returns the definition-time tagged values.
	Tags() []Tagged
	// KeepAlive reports whether the atom is exempt from subscription GC.
	KeepAlive() bool

	invoke(rc *ResolveCtx) (any, error)
}

// Atom is an immutable unit-of-work descriptor: a factory plus declared
// dependencies, definition tags, and a keep-alive flag. Identity is by
// reference; atoms are never mutated after creation.
type Atom[T any] struct {
	factory   func(*ResolveCtx) (T, error)
	deps      []Dependency
	tags      []Tagged
	keepAlive bool
	label     string
}

// AtomOption configures an atom at creation time.
type AtomOption func(*atomMeta)

type atomMeta struct {
	tags      []Tagged
	extraDeps []Dependency
	keepAlive bool
	label     string
}

// WithName sets a diagnostic name used in errors and logs.
func WithName(name string) AtomOption {
	return func(m *atomMeta) {
		m.label = name
	}
}

// WithAtomTag attaches definition-time tagged values.
func WithAtomTag(tvs ...Tagged) AtomOption {
	return func(m *atomMeta) {
		m.tags = append(m.tags, tvs...)
	}
}

// WithKeepAlive exempts the atom from subscription garbage collection.
func WithKeepAlive() AtomOption {
	return func(m *atomMeta) {
		m.keepAlive = true
	}
}

// WithTagDep declares a tag dependency, validated before the factory runs.
// The factory reads the value through Tag.GetFromResolve.
func WithTagDep(deps ...Dependency) AtomOption {
	return func(m *atomMeta) {
		m.extraDeps = append(m.extraDeps, deps...)
	}
}

// Provide creates an atom with no dependencies.
func Provide[T any](factory func(*ResolveCtx) (T, error), opts ...AtomOption) *Atom[T] {
	return newAtom(factory, nil, opts)
}

func newAtom[T any](factory func(*ResolveCtx) (T, error), deps []Dependency, opts []AtomOption) *Atom[T] {
	var m atomMeta
	for _, opt := range opts {
		opt(&m)
	}
	return &Atom[T]{
		factory:   factory,
		deps:      append(deps, m.extraDeps...),
		tags:      m.tags,
		keepAlive: m.keepAlive,
		label:     m.label,
	}
}

func (a *Atom[T]) Name() string {
	if a.label != "" {
		return a.label
	}
	return fmt.Sprintf("atom(%p)", a)
}

func (a *Atom[T]) Dependencies() []Dependency { return a.deps }
func (a *Atom[T]) Tags() []Tagged             { return a.tags }
func (a *Atom[T]) KeepAlive() bool            { return a.keepAlive }

func (a *Atom[T]) invoke(rc *ResolveCtx) (any, error) {
	return a.factory(rc)
}

// Atom implements Dependency directly in value mode.
func (a *Atom[T]) depAtom() AnyAtom    { return a }
func (a *Atom[T]) depKindOf() depKind  { return depValue }
func (a *Atom[T]) depTagKey() *tagKey  { return nil }
func (a *Atom[T]) depTagMode() TagMode { return TagRequired }

// Reactive returns a dependency variant that re-derives the dependent
// whenever this atom is invalidated or set.
func (a *Atom[T]) Reactive() Dependency {
	return &dependencyWrapper{atom: a, kind: depReactive}
}

// Accessor returns a dependency variant resolved to a controller without
// eagerly resolving the value.
func (a *Atom[T]) Accessor() Dependency {
	return &dependencyWrapper{atom: a, kind: depAccessor}
}

// AccessorEager returns a controller dependency whose value is resolved
// before the dependent's factory runs.
func (a *Atom[T]) AccessorEager() Dependency {
	return &dependencyWrapper{atom: a, kind: depAccessorEager}
}
