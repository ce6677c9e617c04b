// Package atomo provides a lazy, reactive dependency-injection runtime for Go.
//
// # Overview
//
// Atomo organizes code around three core concepts:
//
//  1. Atoms: units of computation with explicit dependencies
//  2. Scopes: lifecycle managers that resolve, cache, and release atom values
//  3. Flows: short-span operations with hierarchical execution contexts
//
// # Basic Usage
//
// Define atoms, then resolve them through a scope:
//
//	scope := atomo.NewScope()
//	defer scope.Dispose()
//
//	config := atomo.Provide(func(rc *atomo.ResolveCtx) (*Config, error) {
//	    return &Config{Port: 8080}, nil
//	})
//
//	server := atomo.Derive1(
//	    config,
//	    func(rc *atomo.ResolveCtx, cfg *atomo.Controller[*Config]) (*Server, error) {
//	        c, _ := cfg.Get()
//	        return NewServer(c.Port), nil
//	    },
//	)
//
//	srv, err := atomo.Resolve(scope, server)
//
// Values are computed on first demand and cached; concurrent resolutions of
// the same atom share a single factory invocation.
//
// # Dependency Modes
//
//	// Value (default): resolved before the factory runs, cached after.
//	svc := atomo.Derive1(config, ...)
//
//	// Reactive: the dependent re-derives whenever the dependency is
//	// invalidated or set.
//	doubled := atomo.Derive1(counter.Reactive(), ...)
//
//	// Accessor: the factory receives a controller without forcing
//	// resolution; AccessorEager resolves up front as well.
//	lazy := atomo.Derive1(config.Accessor(), ...)
//
// # Controllers
//
// A Controller is a typed handle over one atom within one scope:
//
//	ctrl := atomo.Accessor(scope, counter)
//
//	v, err := ctrl.Get()      // cached value, never suspends
//	v, err = ctrl.Resolve()   // resolve if needed
//	ctrl.Set(5)               // schedule a value replacement
//	ctrl.Update(func(n int) int { return n + 1 })
//	ctrl.Invalidate()         // schedule a re-derivation
//	off := ctrl.On(atomo.EventResolved, func(ev atomo.Event) { ... })
//
// Invalidate, Set, and Update are deferred: they return immediately and are
// applied on the scope's next processing pass, coalescing with other requests
// for the same atom. Scope.Settle waits the pending passes out.
//
// # Flows
//
// Flows carry typed input and output and run inside an execution context
// tree:
//
//	fetchUser := atomo.NewFlow("fetchUser",
//	    func(e *atomo.ExecCtx, id int) (*User, error) {
//	        db, err := atomo.Use(e, database)
//	        if err != nil {
//	            return nil, err
//	        }
//	        return db.Find(id)
//	    },
//	).Deps(database)
//
//	user, err := atomo.Exec(scope, ctx, fetchUser, 123)
//
// A flow executed with ExecIn becomes a child of the caller's context. Each
// context holds private data; lookups walk the chain upward only:
//
//	reqID := atomo.NewTag[string]("request.id")
//	reqID.SetOnCtx(e, "r-42")     // visible to descendants
//	v, ok := reqID.GetFromCtx(e)  // this context only
//	v, ok = reqID.SeekIn(e)       // nearest ancestor value, no defaults
//
// # Tags
//
// Tags are typed, identity-keyed metadata usable on atoms, flows, scopes, and
// contexts, and as declared dependencies:
//
//	timeout := atomo.NewTag[time.Duration]("timeout", atomo.WithDefault(5*time.Second))
//
//	flow := atomo.NewFlow("call", body).Deps(timeout.Required())
//
// Required tag dependencies fail the invocation when no value is found along
// the context chain, the invocation tags, the definition tags, the scope, or
// the tag default.
//
// # Extensions
//
// Extensions observe and wrap resolution and execution. Embed BaseExtension
// and override the hooks you need:
//
//	type Tracing struct {
//	    atomo.BaseExtension
//	}
//
//	func (t *Tracing) WrapResolve(next func() (any, error), info *atomo.ResolveInfo) (any, error) {
//	    defer trace(info.Atom.Name())()
//	    return next()
//	}
//
//	scope := atomo.NewScope(atomo.WithExtension(&Tracing{
//	    BaseExtension: atomo.NewBaseExtension("tracing"),
//	}))
//
// # Lifecycle
//
// Factories register cleanups through ResolveCtx.OnCleanup; cleanups run in
// reverse order before re-derivation, on release, and on scope dispose.
// Unobserved atoms are released after a grace period once their last
// subscriber or dependent goes away; WithKeepAlive exempts an atom from this
// collection.
package atomo
