package atomo

// DeriveN constructors create atoms from positional dependencies. Each
// dependency is handed to the factory as a controller; value and eager
// dependencies are resolved before the factory runs, accessor dependencies
// on demand. Tag dependencies are declared through WithTagDep and read via
// Tag.GetFromResolve.

func Derive1[T, D1 any](
	d1 Dependency,
	factory func(*ResolveCtx, *Controller[D1]) (T, error),
	opts ...AtomOption,
) *Atom[T] {
	a1 := d1.depAtom().(*Atom[D1])
	return newAtom(func(rc *ResolveCtx) (T, error) {
		return factory(rc, &Controller[D1]{atom: a1, scope: rc.scope})
	}, []Dependency{d1}, opts)
}

func Derive2[T, D1, D2 any](
	d1, d2 Dependency,
	factory func(*ResolveCtx, *Controller[D1], *Controller[D2]) (T, error),
	opts ...AtomOption,
) *Atom[T] {
	a1 := d1.depAtom().(*Atom[D1])
	a2 := d2.depAtom().(*Atom[D2])
	return newAtom(func(rc *ResolveCtx) (T, error) {
		return factory(rc,
			&Controller[D1]{atom: a1, scope: rc.scope},
			&Controller[D2]{atom: a2, scope: rc.scope},
		)
	}, []Dependency{d1, d2}, opts)
}

func Derive3[T, D1, D2, D3 any](
	d1, d2, d3 Dependency,
	factory func(*ResolveCtx, *Controller[D1], *Controller[D2], *Controller[D3]) (T, error),
	opts ...AtomOption,
) *Atom[T] {
	a1 := d1.depAtom().(*Atom[D1])
	a2 := d2.depAtom().(*Atom[D2])
	a3 := d3.depAtom().(*Atom[D3])
	return newAtom(func(rc *ResolveCtx) (T, error) {
		return factory(rc,
			&Controller[D1]{atom: a1, scope: rc.scope},
			&Controller[D2]{atom: a2, scope: rc.scope},
			&Controller[D3]{atom: a3, scope: rc.scope},
		)
	}, []Dependency{d1, d2, d3}, opts)
}

func Derive4[T, D1, D2, D3, D4 any](
	d1, d2, d3, d4 Dependency,
	factory func(*ResolveCtx, *Controller[D1], *Controller[D2], *Controller[D3], *Controller[D4]) (T, error),
	opts ...AtomOption,
) *Atom[T] {
	a1 := d1.depAtom().(*Atom[D1])
	a2 := d2.depAtom().(*Atom[D2])
	a3 := d3.depAtom().(*Atom[D3])
	a4 := d4.depAtom().(*Atom[D4])
	return newAtom(func(rc *ResolveCtx) (T, error) {
		return factory(rc,
			&Controller[D1]{atom: a1, scope: rc.scope},
			&Controller[D2]{atom: a2, scope: rc.scope},
			&Controller[D3]{atom: a3, scope: rc.scope},
			&Controller[D4]{atom: a4, scope: rc.scope},
		)
	}, []Dependency{d1, d2, d3, d4}, opts)
}
