package vm

// Function is the engine-side view of a CompiledFunction: its identifiers
// interned in the engine's pool and the name table used for O(1) call-frame
// resolution. One Function exists per CompiledFunction per engine.
type Function struct {
	compiled *CompiledFunction

	name    *String
	formals []*String // declaration order
	locals  []*String // declaration order

	// names lists the formals in reverse declaration order followed by the
	// locals, so that position p < len(formals) addresses
	// args[len(formals)-p-1].
	names    []*String
	nameSlot map[*String]int

	strings []*String // interned operand strings
	nested  []*Function
	strict  bool
}

func (e *Engine) newFunction(cf *CompiledFunction) *Function {
	if fn, ok := e.functions[cf]; ok {
		return fn
	}
	fn := &Function{
		compiled: cf,
		name:     e.Identifier(cf.Name),
		strict:   cf.Strict || e.config.Strict,
		nameSlot: make(map[*String]int, len(cf.Formals)+len(cf.Locals)),
	}
	for _, f := range cf.Formals {
		fn.formals = append(fn.formals, e.Identifier(f))
	}
	for _, l := range cf.Locals {
		fn.locals = append(fn.locals, e.Identifier(l))
	}
	for i := len(fn.formals) - 1; i >= 0; i-- {
		fn.names = append(fn.names, fn.formals[i])
	}
	fn.names = append(fn.names, fn.locals...)
	// First entry wins: the last of duplicate formals, and a formal over a
	// local of the same name.
	for i, n := range fn.names {
		if _, dup := fn.nameSlot[n]; dup {
			continue
		}
		fn.nameSlot[n] = i
	}
	fn.strings = make([]*String, len(cf.Strings))
	for i, s := range cf.Strings {
		fn.strings[i] = e.Identifier(s)
	}
	fn.nested = make([]*Function, len(cf.Functions))
	for i, nested := range cf.Functions {
		fn.nested[i] = e.newFunction(nested)
	}
	e.functions[cf] = fn
	return fn
}

// Unload forgets the engine-side records of cf and its nested functions so
// a long-lived engine does not hold on to units its callers have dropped.
// Closures already created keep working. It returns the number of records
// removed.
func (e *Engine) Unload(cf *CompiledFunction) int {
	if _, ok := e.functions[cf]; !ok {
		return 0
	}
	delete(e.functions, cf)
	n := 1
	for _, nested := range cf.Functions {
		n += e.Unload(nested)
	}
	return n
}

// LoadedFunctions returns the number of compiled functions the engine holds
// records for.
func (e *Engine) LoadedFunctions() int { return len(e.functions) }

// Compiled returns the compiled form.
func (f *Function) Compiled() *CompiledFunction { return f.compiled }

// Name returns the function's own name.
func (f *Function) Name() *String { return f.name }

// Strict reports whether calls run under strict rules.
func (f *Function) Strict() bool { return f.strict }

// NFormals returns the declared formal count.
func (f *Function) NFormals() int { return len(f.formals) }

// NLocals returns the declared local count.
func (f *Function) NLocals() int { return len(f.locals) }

// Formals returns the formal names in declaration order.
func (f *Function) Formals() []*String { return f.formals }

// Locals returns the local names in declaration order.
func (f *Function) Locals() []*String { return f.locals }

// NameTable returns the resolution table: reversed formals, then locals.
func (f *Function) NameTable() []*String { return f.names }

// slot returns the name-table position of name.
func (f *Function) slot(name *String) (int, bool) {
	i, ok := f.nameSlot[name]
	return i, ok
}
