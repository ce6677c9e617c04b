package atomo

import (
	"errors"
	"fmt"
	"strings"
)

// ErrScopeDisposed is returned by any operation on a disposed scope.
var ErrScopeDisposed = errors.New("atomo: scope is disposed")

// NotResolvedError is returned by Controller.Get when the atom has no
// observable value yet (idle, or resolving for the first time).
type NotResolvedError struct {
	Atom  string
	State State
}

func (e *NotResolvedError) Error() string {
	return fmt.Sprintf("atom %s is not resolved (state %s)", e.Atom, e.State)
}

// CycleError reports a dependency cycle detected during resolution.
// Chain holds the full path, ending with the atom that closed the cycle.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Chain, " -> ")
}

// LoopError reports an invalidation that kept re-triggering itself beyond
// the bounded depth within a single processing frame.
type LoopError struct {
	Atom  string
	Depth int
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("invalidation loop detected on atom %s after %d passes", e.Atom, e.Depth)
}

// ClosedContextError is returned when executing a flow against a context
// that has already been closed.
type ClosedContextError struct {
	Ctx string
}

func (e *ClosedContextError) Error() string {
	return fmt.Sprintf("execution context %s is closed", e.Ctx)
}

// HasDependentsError is returned by an explicit release while other resolved
// atoms still depend on the target.
type HasDependentsError struct {
	Atom       string
	Dependents []string
}

func (e *HasDependentsError) Error() string {
	return fmt.Sprintf("atom %s still has live dependents: %s", e.Atom, strings.Join(e.Dependents, ", "))
}

// ResolveError wraps a failure that occurred while resolving an atom,
// either in its own factory or in one of its dependencies.
type ResolveError struct {
	Atom  string
	Cause error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving atom %s: %v", e.Atom, e.Cause)
}

func (e *ResolveError) Unwrap() error {
	return e.Cause
}

// MissingDependencyError reports a required tag dependency that could not be
// satisfied from any source.
type MissingDependencyError struct {
	Target string
	Tag    string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("%s: required tag %q not found", e.Target, e.Tag)
}

// ParsePhase identifies which validation slot produced a ParseError.
type ParsePhase string

const (
	PhaseInput  ParsePhase = "input"
	PhaseOutput ParsePhase = "output"
	PhaseTag    ParsePhase = "tag"
)

// ParseError wraps a validation failure from a flow's input/output check or
// a tag's parse function.
type ParseError struct {
	Phase  ParsePhase
	Target string
	Cause  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s validation failed for %s: %v", e.Phase, e.Target, e.Cause)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
