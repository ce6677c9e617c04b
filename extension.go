package atomo

// ResolveInfo describes one resolution to WrapResolve hooks.
type ResolveInfo struct {
	Atom  AnyAtom
	Scope *Scope
	// Invalidated is true when the resolution replaces a previous value.
	Invalidated bool
	// Data is the atom's private data store.
	Data *DataStore
}

// Extension hooks into the scope's lifecycle. Hooks are optional; embed
// BaseExtension and override what you need. Extensions wrap resolution and
// execution in registration order, the last registered being the innermost
// wrapper, nearest the actual work.
type Extension interface {
	// Name returns the extension's name, used in dispose errors.
	Name() string

	// Init runs once when the extension is registered, before the scope is
	// used for resolution through it.
	Init(scope *Scope) error

	// WrapResolve intercepts atom resolution. It must forward the result or
	// propagate the error unchanged unless intentionally translating it.
	WrapResolve(next func() (any, error), info *ResolveInfo) (any, error)

	// WrapExec intercepts flow execution within its child context.
	WrapExec(next func() (any, error), flow AnyFlow, e *ExecCtx) (any, error)

	// OnCleanupError handles a cleanup failure. Returning true marks the
	// error handled and stops propagation to later extensions.
	OnCleanupError(err *CleanupError) bool

	// Dispose runs once on scope teardown, in reverse registration order.
	// A failure here never prevents other extensions from disposing.
	Dispose(scope *Scope) error
}

// CleanupError carries a cleanup failure to extension handlers.
type CleanupError struct {
	Atom    string
	Err     error
	Context string // "invalidate", "release", "dispose", "failed" or "superseded"
}

func (e *CleanupError) Error() string {
	return "cleanup of " + e.Atom + " during " + e.Context + ": " + e.Err.Error()
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// BaseExtension provides pass-through implementations of every hook.
type BaseExtension struct {
	name string
}

// NewBaseExtension creates a base extension with the given name.
func NewBaseExtension(name string) BaseExtension {
	return BaseExtension{name: name}
}

func (e *BaseExtension) Name() string {
	return e.name
}

func (e *BaseExtension) Init(scope *Scope) error {
	return nil
}

func (e *BaseExtension) WrapResolve(next func() (any, error), info *ResolveInfo) (any, error) {
	return next()
}

func (e *BaseExtension) WrapExec(next func() (any, error), flow AnyFlow, ctx *ExecCtx) (any, error) {
	return next()
}

func (e *BaseExtension) OnCleanupError(err *CleanupError) bool {
	return false
}

func (e *BaseExtension) Dispose(scope *Scope) error {
	return nil
}
