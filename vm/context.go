package vm

import "fmt"

// ---------------------------------------------------------------------------
// Context: one link of the scope chain
// ---------------------------------------------------------------------------

// ContextType discriminates the context variants.
type ContextType uint8

const (
	// GlobalContext wraps the engine's global object. Exactly one exists per
	// engine and it is the root of every chain.
	GlobalContext ContextType = iota
	// CallContext holds one invocation's arguments and locals.
	CallContext
	// SimpleCallContext is a pooled call context for functions flagged as
	// never capturing their scope.
	SimpleCallContext
	// CatchContext binds a single exception variable.
	CatchContext
	// WithContext delegates lookups to an object.
	WithContext
	// BindingContext routes new bindings and lookups to an external object.
	BindingContext
)

var contextTypeNames = [...]string{
	GlobalContext:     "global",
	CallContext:       "call",
	SimpleCallContext: "simple-call",
	CatchContext:      "catch",
	WithContext:       "with",
	BindingContext:    "binding",
}

func (t ContextType) String() string {
	if int(t) < len(contextTypeNames) {
		return contextTypeNames[t]
	}
	return fmt.Sprintf("context(%d)", int(t))
}

// Context is a lexical environment. Which fields are meaningful depends on
// Type. The outer link is fixed at construction and may be shared by many
// inner contexts and closures.
type Context struct {
	Type   ContextType
	engine *Engine
	outer  *Context
	strict bool

	// Call and simple call contexts. locals and args are views into one
	// allocation: storage[:nLocals] and storage[nLocals:].
	function   *Function
	callee     *Object
	this       Value
	storage    []Value
	locals     []Value
	args       []Value
	argc       int
	activation *Object

	// Catch contexts
	exceptionVarName *String
	exceptionValue   Value

	// Global, with and binding contexts
	object *Object
}

func (c *Context) Engine() *Engine     { return c.engine }
func (c *Context) Outer() *Context     { return c.outer }
func (c *Context) IsStrict() bool      { return c.strict }
func (c *Context) Function() *Function { return c.function }
func (c *Context) Callee() *Object     { return c.callee }
func (c *Context) This() Value         { return c.this }

// Object returns the object of a global, with or binding context.
func (c *Context) Object() *Object { return c.object }

// Activation returns the activation object, creating none.
func (c *Context) Activation() *Object {
	if c.Type == GlobalContext {
		return c.object
	}
	return c.activation
}

// ---------------------------------------------------------------------------
// Call data
// ---------------------------------------------------------------------------

// Argc returns the number of arguments actually supplied.
func (c *Context) Argc() int { return c.argc }

// Argument returns argument i, or undefined past the end.
func (c *Context) Argument(i int) Value {
	if i < 0 || i >= len(c.args) {
		return Undefined
	}
	return c.args[i]
}

// Arguments returns the supplied arguments.
func (c *Context) Arguments() []Value {
	return c.args[:c.argc]
}

// ExtraArguments returns the supplied arguments beyond the declared formals.
func (c *Context) ExtraArguments() []Value {
	n := c.function.NFormals()
	if c.argc <= n {
		return nil
	}
	return c.args[n:c.argc]
}

// Formal returns formal i in declaration order.
func (c *Context) Formal(i int) Value {
	return c.args[i]
}

// Local returns local i in declaration order.
func (c *Context) Local(i int) Value {
	return c.locals[i]
}

// slotValue reads name-table position i.
func (c *Context) slotValue(i int) Value {
	n := c.function.NFormals()
	if i < n {
		return c.args[n-i-1]
	}
	return c.locals[i-n]
}

func (c *Context) setSlot(i int, v Value) {
	n := c.function.NFormals()
	if i < n {
		c.args[n-i-1] = v
		return
	}
	c.locals[i-n] = v
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// NewCallContext creates the context for a call of fn whose outer scope is
// c. Locals and arguments share one allocation of
// nLocals + max(argc, nFormals) slots; locals start undefined, missing
// formals are padded with undefined and extra arguments are kept.
func (c *Context) NewCallContext(fn *Function, this Value, args []Value, callee *Object) *Context {
	ctx := &Context{Type: CallContext}
	c.initCall(ctx, fn, this, args, callee, nil)
	return ctx
}

// NewSimpleCallContext is NewCallContext for functions whose SimpleCall
// flag is set. The record comes from the engine's simple-context stack and
// must be released with Engine.FreeSimpleCallContext in reverse order of
// allocation.
func (c *Context) NewSimpleCallContext(fn *Function, this Value, args []Value, callee *Object) *Context {
	e := c.engine
	var ctx *Context
	if e.simpleTop < len(e.simplePool) {
		ctx = e.simplePool[e.simpleTop]
	} else {
		ctx = &Context{}
		e.simplePool = append(e.simplePool, ctx)
	}
	e.simpleTop++
	reuse := ctx.storage
	*ctx = Context{Type: SimpleCallContext}
	c.initCall(ctx, fn, this, args, callee, reuse)
	return ctx
}

func (c *Context) initCall(ctx *Context, fn *Function, this Value, args []Value, callee *Object, reuse []Value) {
	nLocals := fn.NLocals()
	size := nLocals + max(len(args), fn.NFormals())

	storage := reuse
	if cap(storage) < size {
		storage = make([]Value, size)
	} else {
		storage = storage[:size]
		clear(storage)
	}
	copy(storage[nLocals:], args)

	ctx.engine = c.engine
	ctx.outer = c
	ctx.strict = fn.strict
	ctx.function = fn
	ctx.callee = callee
	ctx.this = this
	ctx.storage = storage
	ctx.locals = storage[:nLocals:nLocals]
	ctx.args = storage[nLocals:]
	ctx.argc = len(args)
}

// NewCatchContext binds name to value in a new context inside c.
func (c *Context) NewCatchContext(name *String, value Value) *Context {
	return &Context{
		Type:             CatchContext,
		engine:           c.engine,
		outer:            c,
		strict:           c.strict,
		exceptionVarName: name,
		exceptionValue:   value,
	}
}

// NewWithContext scopes lookups through obj.
func (c *Context) NewWithContext(obj *Object) *Context {
	return &Context{
		Type:   WithContext,
		engine: c.engine,
		outer:  c,
		strict: c.strict,
		object: obj,
	}
}

// NewBindingContext makes obj the target for new bindings created by any
// context inside the returned one.
func (c *Context) NewBindingContext(obj *Object) *Context {
	return &Context{
		Type:   BindingContext,
		engine: c.engine,
		outer:  c,
		strict: c.strict,
		object: obj,
	}
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// ThisObject returns the receiver of the nearest call, or the global object.
func (c *Context) ThisObject() Value {
	for ctx := c; ctx != nil; ctx = ctx.outer {
		switch ctx.Type {
		case CallContext, SimpleCallContext:
			return ctx.this
		case GlobalContext:
			return ObjectValue(ctx.object)
		}
	}
	return Undefined
}

// GetFunction returns the function of the nearest call context, looking
// through catch and with contexts only.
func (c *Context) GetFunction() *Function {
	for ctx := c; ctx != nil; ctx = ctx.outer {
		switch ctx.Type {
		case CallContext, SimpleCallContext:
			return ctx.function
		case CatchContext, WithContext:
			continue
		}
		break
	}
	return nil
}

// GetProperty resolves an identifier read.
func (c *Context) GetProperty(name *String) (Value, error) {
	v, _, err := c.GetPropertyAndBase(name)
	return v, err
}

// GetPropertyAndBase resolves an identifier read and also returns the
// object that supplied it when that object should act as the receiver of a
// call (with and binding contexts); otherwise base is nil.
func (c *Context) GetPropertyAndBase(name *String) (Value, *Object, error) {
	e := c.engine
	if name == e.ids.this {
		return c.ThisObject(), nil, nil
	}

	for ctx := c; ctx != nil; ctx = ctx.outer {
		switch ctx.Type {
		case CatchContext:
			if ctx.exceptionVarName == name {
				return ctx.exceptionValue, nil, nil
			}

		case WithContext:
			if v, ok := ctx.object.Get(name); ok {
				return v, ctx.object, nil
			}

		case GlobalContext:
			if v, ok := ctx.object.Get(name); ok {
				return v, nil, nil
			}

		case CallContext, SimpleCallContext:
			if i, ok := ctx.function.slot(name); ok {
				return ctx.slotValue(i), nil, nil
			}
			if ctx.function.compiled.NamedExpression && ctx.callee != nil && name == ctx.function.name {
				return ObjectValue(ctx.callee), nil, nil
			}
			if ctx.activation != nil {
				if v, ok := ctx.activation.Get(name); ok {
					return v, nil, nil
				}
			}

		case BindingContext:
			if v, ok := ctx.object.Get(name); ok {
				return v, ctx.object, nil
			}
		}
	}
	return Undefined, nil, e.referenceError(name)
}

// SetProperty resolves an identifier write. An unresolved name becomes a
// property of the global object unless the context is strict.
func (c *Context) SetProperty(name *String, v Value) error {
	e := c.engine
	for ctx := c; ctx != nil; ctx = ctx.outer {
		var activation *Object
		switch ctx.Type {
		case CatchContext:
			if ctx.exceptionVarName == name {
				ctx.exceptionValue = v
				return nil
			}

		case WithContext:
			if ctx.object.HasProperty(name) {
				return c.put(ctx.object, name, v)
			}

		case GlobalContext:
			activation = ctx.object

		case CallContext, SimpleCallContext:
			if i, ok := ctx.function.slot(name); ok {
				ctx.setSlot(i, v)
				return nil
			}
			activation = ctx.activation

		case BindingContext:
			return c.put(ctx.object, name, v)
		}

		if activation != nil && activation.HasOwnProperty(name) {
			return c.put(activation, name, v)
		}
	}

	if c.strict || name == e.ids.this {
		return e.referenceError(name)
	}
	e.global.Put(name, v)
	return nil
}

func (c *Context) put(obj *Object, name *String, v Value) error {
	if !obj.Put(name, v) && c.strict {
		return c.engine.typeError("Cannot assign to read only property '%s'", name.Text())
	}
	return nil
}

// DeleteProperty deletes an identifier binding. Catch and call-frame
// bindings are never deleted. An unresolved name succeeds unless the
// context is strict.
func (c *Context) DeleteProperty(name *String) (bool, error) {
	e := c.engine
	for ctx := c; ctx != nil; ctx = ctx.outer {
		switch ctx.Type {
		case CatchContext:
			if ctx.exceptionVarName == name {
				return false, nil
			}

		case WithContext, GlobalContext:
			if ctx.object.HasProperty(name) {
				return ctx.object.Delete(name), nil
			}

		case CallContext, SimpleCallContext:
			if _, ok := ctx.function.slot(name); ok {
				return false, nil
			}
			if ctx.activation != nil && ctx.activation.HasProperty(name) {
				return ctx.activation.Delete(name), nil
			}

		case BindingContext:
			// properties of external binding objects cannot be deleted
		}
	}

	if c.strict {
		return false, e.newError(SyntaxError, name.Text(), "Can't delete property %s", name.Text())
	}
	return true, nil
}

// CreateMutableBinding declares name on the nearest activation: the
// innermost call context's activation object, created on demand, or the
// global object. A binding context anywhere on the chain takes precedence.
// Existing properties are left untouched.
func (c *Context) CreateMutableBinding(name *String, deletable bool) {
	var activation *Object
	for ctx := c; ctx != nil; ctx = ctx.outer {
		switch ctx.Type {
		case CallContext, SimpleCallContext:
			if activation == nil {
				if ctx.activation == nil {
					ctx.activation = NewObject(c.engine.ObjectPrototype)
				}
				activation = ctx.activation
			}
		case BindingContext:
			activation = ctx.object
		case GlobalContext:
			if activation == nil {
				activation = ctx.object
			}
		}
	}

	if activation.HasOwnProperty(name) {
		return
	}
	attrs := AttrWritable | AttrEnumerable
	if deletable {
		attrs |= AttrConfigurable
	}
	activation.DefineOwnProperty(name, Undefined, attrs)
}
