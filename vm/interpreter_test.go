package vm

import (
	"errors"
	"testing"
)

// assemble builds a function whose body is written directly in bytecode.
func assemble(name string, frame int, body func(fb *FunctionBuilder, b *BytecodeBuilder)) *CompiledFunction {
	fb := NewFunctionBuilder(name, nil, nil).SetFrameSize(frame)
	b := fb.Bytecode()
	b.Emit(OpPush, int64(frame))
	body(fb, b)
	return fb.Build()
}

func TestInterpreterReturnsTemp(t *testing.T) {
	e := newTestEngine(t)
	cf := assemble("main", 1, func(fb *FunctionBuilder, b *BytecodeBuilder) {
		b.EmitNumber(42)
		b.Emit(OpStoreTemp, 0)
		b.Emit(OpRet, 0)
	})

	v, err := e.Run(cf)
	if err != nil {
		t.Fatal(err)
	}
	if !StrictEquals(v, num(42)) {
		t.Errorf("result = %v, want 42", v)
	}
}

func TestInterpreterFallsOffEndWithUndefined(t *testing.T) {
	e := newTestEngine(t)
	cf := assemble("main", 0, func(fb *FunctionBuilder, b *BytecodeBuilder) {
		b.Emit(OpNop)
	})
	v, err := e.Run(cf)
	if err != nil || !v.IsUndefined() {
		t.Errorf("result = %v, %v; want undefined", v, err)
	}
}

func TestInterpreterExceptionHandler(t *testing.T) {
	e := newTestEngine(t)
	cf := assemble("main", 2, func(fb *FunctionBuilder, b *BytecodeBuilder) {
		b.Emit(OpCallBuiltin, int64(BuiltinCreateExceptionHandler), 0, 0)
		b.Emit(OpStoreTemp, 0)
		b.Emit(OpLoadTemp, 0)
		toCatch := b.EmitJump(OpCJump)

		b.EmitNumber(42)
		b.Emit(OpStoreTemp, 1)
		b.Emit(OpCallBuiltin, int64(BuiltinThrow), 1, 1)
		b.Emit(OpRet, 0)

		b.Patch(toCatch, b.Len())
		b.Emit(OpCallBuiltin, int64(BuiltinDeleteExceptionHandler), 0, 0)
		b.Emit(OpCallBuiltin, int64(BuiltinGetException), 0, 0)
		b.Emit(OpStoreTemp, 1)
		b.Emit(OpRet, 1)
	})

	v, err := e.Run(cf)
	if err != nil {
		t.Fatal(err)
	}
	if !StrictEquals(v, num(42)) {
		t.Errorf("caught = %v, want 42", v)
	}
}

func TestInterpreterUncaughtThrow(t *testing.T) {
	e := newTestEngine(t)
	cf := assemble("main", 1, func(fb *FunctionBuilder, b *BytecodeBuilder) {
		b.Emit(OpLoadString, int64(fb.AddString("boom")))
		b.Emit(OpStoreTemp, 0)
		b.Emit(OpCallBuiltin, int64(BuiltinThrow), 1, 0)
		b.Emit(OpRet, 0)
	})

	_, err := e.Run(cf)
	if !errors.Is(err, ErrThrown) {
		t.Fatalf("error = %v, want a thrown value", err)
	}
	if exc, _ := AsException(err); ToString(exc.Value) != "boom" {
		t.Errorf("thrown value = %v, want boom", exc.Value)
	}
	if e.Current() != e.RootContext() {
		t.Error("current context was not restored after the throw")
	}
}

func TestInterpreterCallValueUsesWithObjectAsReceiver(t *testing.T) {
	e := newTestEngine(t)
	obj := NewObject(e.ObjectPrototype)
	obj.Put(e.Identifier("m"), ObjectValue(e.NewNativeFunction("m", func(ctx *Context, this Value, args []Value) (Value, error) {
		return this, nil
	})))

	cf := assemble("inner", 1, func(fb *FunctionBuilder, b *BytecodeBuilder) {
		b.Emit(OpLoadName, int64(fb.AddString("m")))
		b.Emit(OpCallValue, 0, 0)
		b.Emit(OpStoreTemp, 0)
		b.Emit(OpRet, 0)
	})
	closure := e.newScriptFunction(e.newFunction(cf), e.RootContext().NewWithContext(obj))

	v, err := e.Call(ObjectValue(closure), Undefined, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v.Object() != obj {
		t.Errorf("receiver = %v, want the with object", v)
	}
}

func TestInterpreterCallDepthLimit(t *testing.T) {
	e := NewEngine(Config{MaxCallDepth: 10})
	defer e.Close()

	cf := assemble("rec", 1, func(fb *FunctionBuilder, b *BytecodeBuilder) {
		b.Emit(OpLoadName, int64(fb.AddString("rec")))
		b.Emit(OpCallValue, 0, 0)
		b.Emit(OpStoreTemp, 0)
		b.Emit(OpRet, 0)
	})
	e.Global().Put(e.Identifier("rec"), ObjectValue(e.Load(cf)))

	_, err := e.Run(cf)
	if !errors.Is(err, ErrRange) {
		t.Fatalf("error = %v, want RangeError", err)
	}
	if e.callDepth != 0 {
		t.Errorf("call depth = %d after unwinding, want 0", e.callDepth)
	}
}

func TestInterpreterReleasesSimpleContextsOnError(t *testing.T) {
	e := newTestEngine(t)
	cf := assemble("simple", 1, func(fb *FunctionBuilder, b *BytecodeBuilder) {
		b.Emit(OpLoadName, int64(fb.AddString("missing")))
		b.Emit(OpStoreTemp, 0)
		b.Emit(OpRet, 0)
	})
	cf.SimpleCall = true

	if _, err := e.Run(cf); !errors.Is(err, ErrReference) {
		t.Fatalf("error = %v, want ReferenceError", err)
	}
	if e.simpleTop != 0 {
		t.Errorf("simple context stack depth = %d, want 0", e.simpleTop)
	}
}

func TestInterpreterNonStrictThisDefaultsToGlobal(t *testing.T) {
	e := newTestEngine(t)
	cf := assemble("main", 1, func(fb *FunctionBuilder, b *BytecodeBuilder) {
		b.Emit(OpLoadThis)
		b.Emit(OpStoreTemp, 0)
		b.Emit(OpRet, 0)
	})

	v, err := e.Run(cf)
	if err != nil || v.Object() != e.Global() {
		t.Errorf("this = %v, %v; want the global object", v, err)
	}

	cf.Strict = true
	strict := NewEngine(DefaultConfig())
	defer strict.Close()
	v, err = strict.Run(cf)
	if err != nil || !v.IsUndefined() {
		t.Errorf("strict this = %v, %v; want undefined", v, err)
	}
}

func TestUnloadForgetsFunctionRecords(t *testing.T) {
	e := newTestEngine(t)
	inner := assemble("inner", 1, func(fb *FunctionBuilder, b *BytecodeBuilder) {
		b.Emit(OpRet, 0)
	})
	cf := assemble("main", 1, func(fb *FunctionBuilder, b *BytecodeBuilder) {
		b.Emit(OpLoadClosure, int64(fb.AddFunction("inner", inner)))
		b.Emit(OpStoreTemp, 0)
		b.Emit(OpRet, 0)
	})

	closure, err := e.Run(cf)
	if err != nil {
		t.Fatal(err)
	}
	if n := e.LoadedFunctions(); n != 2 {
		t.Fatalf("Expected 2 loaded functions, got %d", n)
	}
	if n := e.Unload(cf); n != 2 {
		t.Errorf("Expected Unload to remove 2 records, got %d", n)
	}
	if n := e.LoadedFunctions(); n != 0 {
		t.Errorf("Expected no loaded functions after Unload, got %d", n)
	}
	if n := e.Unload(cf); n != 0 {
		t.Errorf("Expected a second Unload to remove nothing, got %d", n)
	}

	// closures created before the unload still run
	if _, err := e.Call(closure, Undefined, nil); err != nil {
		t.Errorf("Expected the old closure to run, got %v", err)
	}
}
