package vm

import (
	"math"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Engine: one isolated execution environment
// ---------------------------------------------------------------------------

// Config holds engine-wide settings.
type Config struct {
	// Strict makes every function strict regardless of its own flag.
	Strict bool
	// MaxCallDepth bounds nested calls; exceeding it raises a RangeError.
	MaxCallDepth int
	// Trace logs every executed instruction at debug level.
	Trace bool
}

// DefaultConfig returns the settings used when no configuration is given.
func DefaultConfig() Config {
	return Config{MaxCallDepth: 1000}
}

// Engine owns a string pool, a global object and the root of every scope
// chain. It is single-threaded: callers from other goroutines go through a
// worker that owns the engine.
type Engine struct {
	ID uuid.UUID

	config Config
	log    commonlog.Logger
	pool   *StringPool

	// Pre-interned identifiers
	ids struct {
		this, length, prototype, constructor *String
		arguments, caller, callee            *String
		undefined, nan, infinity             *String
		name, message                        *String
	}

	ObjectPrototype   *Object
	FunctionPrototype *Object
	ErrorPrototype    *Object

	global      *Object
	rootContext *Context
	current     *Context

	functions map[*CompiledFunction]*Function

	// Simple call contexts, released in stack order
	simplePool []*Context
	simpleTop  int

	callDepth int
}

// NewEngine creates an engine with a fresh global environment.
func NewEngine(cfg Config) *Engine {
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultConfig().MaxCallDepth
	}
	e := &Engine{
		ID:        uuid.New(),
		config:    cfg,
		log:       commonlog.GetLogger("moth.vm"),
		pool:      NewStringPool(),
		functions: make(map[*CompiledFunction]*Function),
	}
	e.bootstrap()
	e.log.Debugf("engine %s created (strict=%t, max-call-depth=%d)", e.ID, cfg.Strict, cfg.MaxCallDepth)
	return e
}

func (e *Engine) bootstrap() {
	e.ids.this = e.Identifier("this")
	e.ids.length = e.Identifier("length")
	e.ids.prototype = e.Identifier("prototype")
	e.ids.constructor = e.Identifier("constructor")
	e.ids.arguments = e.Identifier("arguments")
	e.ids.caller = e.Identifier("caller")
	e.ids.callee = e.Identifier("callee")
	e.ids.undefined = e.Identifier("undefined")
	e.ids.nan = e.Identifier("NaN")
	e.ids.infinity = e.Identifier("Infinity")
	e.ids.name = e.Identifier("name")
	e.ids.message = e.Identifier("message")

	e.ObjectPrototype = NewObject(nil)
	e.FunctionPrototype = NewObject(e.ObjectPrototype)
	e.FunctionPrototype.class = "Function"
	e.ErrorPrototype = NewObject(e.ObjectPrototype)
	e.ErrorPrototype.class = "Error"

	e.global = NewObject(e.ObjectPrototype)
	e.global.class = "global"
	e.global.DefineOwnProperty(e.ids.undefined, Undefined, AttrReadOnly)
	e.global.DefineOwnProperty(e.ids.nan, NaN, AttrReadOnly)
	e.global.DefineOwnProperty(e.ids.infinity, NumberValue(math.Inf(1)), AttrReadOnly)

	e.rootContext = &Context{Type: GlobalContext, engine: e, object: e.global}
	e.current = e.rootContext

	object := e.DefineNative("Object", func(ctx *Context, this Value, args []Value) (Value, error) {
		if len(args) > 0 && args[0].IsObject() {
			return args[0], nil
		}
		if this.IsObject() && this.Object().Prototype() == e.ObjectPrototype && this.Object() != e.global {
			return this, nil
		}
		return ObjectValue(NewObject(e.ObjectPrototype)), nil
	})
	e.linkPrototype(object, e.ObjectPrototype)

	errorCtor := e.DefineNative("Error", func(ctx *Context, this Value, args []Value) (Value, error) {
		obj := this.Object()
		if obj == nil || obj == e.global || !obj.InstanceOf(e.ErrorPrototype) {
			obj = NewObject(e.ErrorPrototype)
		}
		obj.class = "Error"
		if len(args) > 0 && !args[0].IsUndefined() {
			obj.DefineOwnProperty(e.ids.message, StringValue(newString(ToString(args[0]))), AttrWritable|AttrConfigurable)
		}
		return ObjectValue(obj), nil
	})
	e.linkPrototype(errorCtor, e.ErrorPrototype)
	e.ErrorPrototype.DefineOwnProperty(e.ids.name, StringValue(e.Identifier("Error")), AttrWritable|AttrConfigurable)
	e.ErrorPrototype.DefineOwnProperty(e.ids.message, StringValue(e.Identifier("")), AttrWritable|AttrConfigurable)
}

func (e *Engine) linkPrototype(ctor, proto *Object) {
	ctor.DefineOwnProperty(e.ids.prototype, ObjectValue(proto), AttrReadOnly)
	proto.DefineOwnProperty(e.ids.constructor, ObjectValue(ctor), AttrWritable|AttrConfigurable)
}

// Close releases the string pool. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.pool.Release()
	e.functions = nil
	e.simplePool = nil
	e.simpleTop = 0
	e.log.Debugf("engine %s closed", e.ID)
}

// Reset abandons any calls in progress and makes the root context current
// again. Globals are kept.
func (e *Engine) Reset() {
	for e.simpleTop > 0 {
		e.simpleTop--
		ctx := e.simplePool[e.simpleTop]
		clear(ctx.storage)
		ctx.outer, ctx.function, ctx.callee, ctx.activation = nil, nil, nil, nil
	}
	e.current = e.rootContext
	e.callDepth = 0
}

// Config returns the engine settings.
func (e *Engine) Config() Config { return e.config }

// Identifier interns text in the engine's pool.
func (e *Engine) Identifier(text string) *String {
	return e.pool.Intern(text)
}

// NewString creates an uninterned string value.
func (e *Engine) NewString(text string) Value {
	return StringValue(newString(text))
}

// Strings returns the engine's string pool.
func (e *Engine) Strings() *StringPool { return e.pool }

// Global returns the global object.
func (e *Engine) Global() *Object { return e.global }

// RootContext returns the global context, the root of every chain.
func (e *Engine) RootContext() *Context { return e.rootContext }

// Current returns the context of the innermost running call.
func (e *Engine) Current() *Context { return e.current }

// NewNativeFunction wraps a Go function as a callable object.
func (e *Engine) NewNativeFunction(name string, fn NativeFunc) *Object {
	obj := NewObject(e.FunctionPrototype)
	obj.class = "Function"
	obj.native = fn
	obj.name = name
	return obj
}

// DefineNative installs a native function as a global.
func (e *Engine) DefineNative(name string, fn NativeFunc) *Object {
	obj := e.NewNativeFunction(name, fn)
	e.global.DefineOwnProperty(e.Identifier(name), ObjectValue(obj), AttrWritable|AttrConfigurable)
	return obj
}

// newScriptFunction creates a closure of fn over scope. Each closure gets a
// fresh prototype object whose constructor points back at it.
func (e *Engine) newScriptFunction(fn *Function, scope *Context) *Object {
	obj := NewObject(e.FunctionPrototype)
	obj.class = "Function"
	obj.script = fn
	obj.scope = scope
	obj.name = fn.name.Text()

	proto := NewObject(e.ObjectPrototype)
	proto.DefineOwnProperty(e.ids.constructor, ObjectValue(obj), AttrWritable|AttrConfigurable)
	obj.DefineOwnProperty(e.ids.prototype, ObjectValue(proto), AttrWritable)
	obj.DefineOwnProperty(e.ids.length, NumberValue(float64(fn.NFormals())), AttrReadOnly)
	return obj
}

// Load instantiates a compiled top-level function as a closure over the
// global context.
func (e *Engine) Load(cf *CompiledFunction) *Object {
	return e.newScriptFunction(e.newFunction(cf), e.rootContext)
}

// Run loads cf and calls it with no arguments.
func (e *Engine) Run(cf *CompiledFunction) (Value, error) {
	return e.Call(ObjectValue(e.Load(cf)), Undefined, nil)
}

// ---------------------------------------------------------------------------
// Invocation
// ---------------------------------------------------------------------------

// Call invokes callee with the given receiver and arguments.
func (e *Engine) Call(callee, this Value, args []Value) (Value, error) {
	if !callee.IsCallable() {
		return Undefined, e.typeError("%s is not a function", ToString(callee))
	}
	if e.callDepth >= e.config.MaxCallDepth {
		return Undefined, e.newError(RangeError, "", "Maximum call stack size exceeded")
	}
	e.callDepth++
	defer func() { e.callDepth-- }()

	obj := callee.Object()
	if obj.native != nil {
		return obj.native(e.current, this, append([]Value(nil), args...))
	}

	fn := obj.script
	if !fn.strict && this.IsNullish() {
		this = ObjectValue(e.global)
	}
	if e.config.Trace {
		e.log.Debugf("call %s argc=%d depth=%d", fn.name.Text(), len(args), e.callDepth)
	}

	var ctx *Context
	if fn.compiled.SimpleCall {
		ctx = obj.scope.NewSimpleCallContext(fn, this, args, obj)
		defer e.FreeSimpleCallContext(ctx)
	} else {
		ctx = obj.scope.NewCallContext(fn, this, args, obj)
	}

	prev := e.pushContext(ctx)
	defer e.popContext(prev)
	return e.run(ctx)
}

// Construct invokes callee as a constructor. The new object inherits from
// the callee's prototype property; an object result replaces it.
func (e *Engine) Construct(callee Value, args []Value) (Value, error) {
	if !callee.IsCallable() {
		return Undefined, e.typeError("%s is not a constructor", ToString(callee))
	}
	proto := e.ObjectPrototype
	if p, ok := callee.Object().Get(e.ids.prototype); ok && p.IsObject() {
		proto = p.Object()
	}
	obj := NewObject(proto)
	result, err := e.Call(callee, ObjectValue(obj), args)
	if err != nil {
		return Undefined, err
	}
	if result.IsObject() {
		return result, nil
	}
	return ObjectValue(obj), nil
}

// FreeSimpleCallContext releases a context obtained from
// NewSimpleCallContext. Releasing anything but the most recent allocation
// is a fatal error.
func (e *Engine) FreeSimpleCallContext(ctx *Context) {
	if e.simpleTop == 0 || e.simplePool[e.simpleTop-1] != ctx {
		panic("vm: simple call context released out of order")
	}
	e.simpleTop--
	clear(ctx.storage)
	ctx.outer = nil
	ctx.function = nil
	ctx.callee = nil
	ctx.activation = nil
}

func (e *Engine) pushContext(ctx *Context) *Context {
	prev := e.current
	e.current = ctx
	return prev
}

func (e *Engine) popContext(prev *Context) {
	e.current = prev
}
