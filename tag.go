package atomo

// tagKey is the identity token behind a Tag. Two tags are the same key only
// when they share the same *tagKey, so name collisions are impossible.
type tagKey struct {
	name       string
	def        any
	hasDefault bool
	parse      func(any) (any, error)
}

// Tag is a typed, uniquely-keyed metadata descriptor. It is used both as a
// dependency key for flows and atoms and as a key into private data stores.
type Tag[T any] struct {
	key *tagKey
}

// TagOption configures a Tag at creation time.
type TagOption[T any] func(*tagKey)

// WithDefault sets the value returned when a lookup falls through every
// other source.
func WithDefault[T any](v T) TagOption[T] {
	return func(k *tagKey) {
		k.def = v
		k.hasDefault = true
	}
}

// WithParse sets a validation function applied whenever a value is attached
// under this tag.
func WithParse[T any](fn func(T) (T, error)) TagOption[T] {
	return func(k *tagKey) {
		k.parse = func(v any) (any, error) {
			return fn(v.(T))
		}
	}
}

// NewTag creates a tag. The name is diagnostic only; identity is the
// returned key itself.
func NewTag[T any](name string, opts ...TagOption[T]) Tag[T] {
	k := &tagKey{name: name}
	for _, opt := range opts {
		opt(k)
	}
	return Tag[T]{key: k}
}

// Name returns the tag's diagnostic name.
func (t Tag[T]) Name() string {
	return t.key.name
}

// Default returns the tag's fallback value, if one was declared.
func (t Tag[T]) Default() (T, bool) {
	if !t.key.hasDefault {
		var zero T
		return zero, false
	}
	return t.key.def.(T), true
}

// Of attaches a value under this tag, running the parse function if one was
// declared. Failures are wrapped as tag-phase parse errors.
func (t Tag[T]) Of(v T) (Tagged, error) {
	val := any(v)
	if t.key.parse != nil {
		parsed, err := t.key.parse(val)
		if err != nil {
			return Tagged{}, &ParseError{Phase: PhaseTag, Target: t.key.name, Cause: err}
		}
		val = parsed
	}
	return Tagged{key: t.key, value: val}, nil
}

// MustOf is Of, panicking on validation failure. Intended for static
// definition-time tags.
func (t Tag[T]) MustOf(v T) Tagged {
	tv, err := t.Of(v)
	if err != nil {
		panic(err)
	}
	return tv
}

// Tagged is a (key, validated value) pair produced by Tag.Of.
type Tagged struct {
	key   *tagKey
	value any
}

// TagName returns the diagnostic name of the owning tag.
func (tv Tagged) TagName() string {
	return tv.key.name
}

// Value returns the attached value.
func (tv Tagged) Value() any {
	return tv.value
}

// findTagged returns the first value under key in a flat Tagged list.
func findTagged(list []Tagged, key *tagKey) (any, bool) {
	for _, tv := range list {
		if tv.key == key {
			return tv.value, true
		}
	}
	return nil, false
}

// collectTagged appends every value under key in a flat Tagged list.
func collectTagged(dst []any, list []Tagged, key *tagKey) []any {
	for _, tv := range list {
		if tv.key == key {
			dst = append(dst, tv.value)
		}
	}
	return dst
}

// TagMode selects how a tag dependency is satisfied.
type TagMode int

const (
	// TagRequired fails resolution when no value is found anywhere.
	TagRequired TagMode = iota
	// TagOptional tolerates absence.
	TagOptional
	// TagCollectAll gathers every match, nearest-first.
	TagCollectAll
)

func (m TagMode) String() string {
	switch m {
	case TagRequired:
		return "required"
	case TagOptional:
		return "optional"
	case TagCollectAll:
		return "collect-all"
	}
	return "unknown"
}

// Required returns a dependency descriptor that must find a value for this
// tag before the target runs.
func (t Tag[T]) Required() Dependency {
	return &tagDep{key: t.key, mode: TagRequired}
}

// Optional returns a dependency descriptor that resolves to the tag's value
// when present and is otherwise ignored.
func (t Tag[T]) Optional() Dependency {
	return &tagDep{key: t.key, mode: TagOptional}
}

// CollectAll returns a dependency descriptor gathering every value attached
// under this tag across the context chain and flat tag lists.
func (t Tag[T]) CollectAll() Dependency {
	return &tagDep{key: t.key, mode: TagCollectAll}
}

// GetFromScope retrieves the tag value from a scope's tag store.
func (t Tag[T]) GetFromScope(s *Scope) (T, bool) {
	s.mu.Lock()
	v, ok := s.tags[t.key]
	s.mu.Unlock()
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// SetOnScope stores a value on the scope's tag store, running the parse
// function first.
func (t Tag[T]) SetOnScope(s *Scope, v T) error {
	tv, err := t.Of(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tags[t.key] = tv.value
	s.mu.Unlock()
	return nil
}

// GetFromResolve looks a tag up during atom resolution: the atom's
// definition tags first, then the scope's tags, then the tag default.
func (t Tag[T]) GetFromResolve(rc *ResolveCtx) (T, bool) {
	if v, ok := findTagged(rc.atom.Tags(), t.key); ok {
		return v.(T), true
	}
	if v, ok := t.GetFromScope(rc.scope); ok {
		return v, true
	}
	return t.Default()
}

// SetOnCtx stores a value in the context's own store, running the parse
// function first. Descendants see it through Seek; the parent never does.
func (t Tag[T]) SetOnCtx(e *ExecCtx, v T) error {
	tv, err := t.Of(v)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.data[t.key] = tv.value
	e.mu.Unlock()
	return nil
}

// GetFromCtx reads the context's own store only. A value set by an ancestor
// is not visible here; use SeekIn for that.
func (t Tag[T]) GetFromCtx(e *ExecCtx) (T, bool) {
	v, ok := e.getLocal(t.key)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// SeekIn walks the context chain upward and returns the nearest value. It
// never substitutes the tag default; absence along the whole chain is
// reported as a miss.
func (t Tag[T]) SeekIn(e *ExecCtx) (T, bool) {
	v, ok := e.seek(t.key)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

// ResolveIn resolves the tag the way a flow dependency does: context chain,
// execution-time tags, definition tags, scope tags, then the tag default.
func (t Tag[T]) ResolveIn(e *ExecCtx) (T, bool) {
	if v, ok := e.lookupTag(t.key); ok {
		return v.(T), true
	}
	return t.Default()
}

// CollectIn gathers every value attached under this tag for the invocation,
// nearest-first.
func (t Tag[T]) CollectIn(e *ExecCtx) []T {
	raw := e.collectTag(t.key)
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		out = append(out, v.(T))
	}
	return out
}
