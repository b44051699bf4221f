package vm

import (
	"fmt"
)

// ---------------------------------------------------------------------------
// Frame: execution state of one activation of the interpreter loop
// ---------------------------------------------------------------------------

// frame holds the accumulator, the temps reserved by the leading PUSH and
// the exception handlers installed by create_exception_handler.
type frame struct {
	fn    *Function
	ctx   *Context
	r     *BytecodeReader
	temps []Value

	acc Value
	// accBase is the object a LOAD_NAME resolved through (with or binding
	// scope). It becomes the receiver of an immediately following
	// CALL_VALUE and is cleared whenever acc is overwritten.
	accBase *Object

	handlers  []int
	exception Value
}

func (f *frame) setAcc(v Value) {
	f.acc = v
	f.accBase = nil
}

// args returns count argument values starting at temp base.
func (f *frame) args(count, base int) []Value {
	if count == 0 {
		return nil
	}
	return f.temps[base : base+count]
}

func (f *frame) name() *String {
	return f.fn.strings[f.r.ReadIndex()]
}

func (f *frame) temp() Value {
	return f.temps[f.r.ReadIndex()]
}

// ---------------------------------------------------------------------------
// Interpreter loop
// ---------------------------------------------------------------------------

// run executes the function bound to ctx. Any *Exception raised while a
// handler is installed resumes at that handler with acc = true; other
// errors and unhandled exceptions propagate to the caller.
func (e *Engine) run(ctx *Context) (Value, error) {
	fn := ctx.function
	code := fn.compiled.Code
	f := &frame{fn: fn, ctx: ctx, r: NewBytecodeReader(code)}
	f.r.Seek(fn.compiled.Entry)

	for f.r.HasMore() {
		if e.config.Trace {
			tr := NewBytecodeReader(code)
			tr.Seek(f.r.Position())
			e.log.Debugf("%s: %s", fn.name.Text(), DisassembleInstruction(tr, fn.compiled.Strings))
		}

		result, done, err := e.step(f)
		if err != nil {
			exc, ok := AsException(err)
			if !ok || len(f.handlers) == 0 {
				return Undefined, err
			}
			f.exception = exc.Value
			f.setAcc(True)
			f.r.Seek(f.handlers[len(f.handlers)-1])
			continue
		}
		if done {
			return result, nil
		}
	}
	return Undefined, nil
}

// step executes one instruction. done is set by RET.
func (e *Engine) step(f *frame) (result Value, done bool, err error) {
	r := f.r
	op := r.ReadOpcode()

	switch op {
	case OpNop:

	case OpPush:
		f.temps = make([]Value, r.ReadIndex())

	// --- Loads and stores ---
	case OpLoadUndefined:
		f.setAcc(Undefined)
	case OpLoadNull:
		f.setAcc(Null)
	case OpLoadTrue:
		f.setAcc(True)
	case OpLoadFalse:
		f.setAcc(False)
	case OpLoadNumber:
		f.setAcc(NumberValue(r.ReadFloat64()))
	case OpLoadString:
		f.setAcc(StringValue(f.name()))
	case OpLoadClosure:
		nested := f.fn.nested[r.ReadIndex()]
		f.setAcc(ObjectValue(e.newScriptFunction(nested, f.ctx)))
	case OpLoadThis:
		f.setAcc(f.ctx.ThisObject())

	case OpLoadName:
		v, base, err := f.ctx.GetPropertyAndBase(f.name())
		if err != nil {
			return Undefined, false, err
		}
		f.acc = v
		f.accBase = base

	case OpStoreName:
		if err := f.ctx.SetProperty(f.name(), f.acc); err != nil {
			return Undefined, false, err
		}

	case OpLoadTemp:
		f.setAcc(f.temp())
	case OpStoreTemp:
		f.temps[r.ReadIndex()] = f.acc
	case OpMoveTemp:
		from, to := r.ReadIndex(), r.ReadIndex()
		f.temps[to] = f.temps[from]

	// --- Properties ---
	case OpLoadProperty:
		base := f.temp()
		v, err := e.GetMember(base, f.name())
		if err != nil {
			return Undefined, false, err
		}
		f.setAcc(v)

	case OpStoreProperty:
		base := f.temp()
		if err := e.PutMember(f.ctx, base, f.name(), f.acc); err != nil {
			return Undefined, false, err
		}

	case OpLoadElement:
		base, index := f.temp(), f.temp()
		v, err := e.GetMember(base, e.propertyKey(index))
		if err != nil {
			return Undefined, false, err
		}
		f.setAcc(v)

	case OpStoreElement:
		base, index := f.temp(), f.temp()
		if err := e.PutMember(f.ctx, base, e.propertyKey(index), f.acc); err != nil {
			return Undefined, false, err
		}

	case OpInplaceElementOp:
		alu := ALU(r.ReadByte())
		base, index, source := f.temp(), f.temp(), f.temp()
		if err := e.InplaceElement(f.ctx, alu, base, index, source); err != nil {
			return Undefined, false, err
		}

	case OpInplaceMemberOp:
		alu := ALU(r.ReadByte())
		base, name, source := f.temp(), f.name(), f.temp()
		if err := e.InplaceMember(f.ctx, alu, base, name, source); err != nil {
			return Undefined, false, err
		}

	case OpDeleteName:
		ok, err := f.ctx.DeleteProperty(f.name())
		if err != nil {
			return Undefined, false, err
		}
		f.setAcc(BoolValue(ok))

	case OpDeleteMember:
		base := f.temp()
		ok, err := e.DeleteMember(f.ctx, base, f.name())
		if err != nil {
			return Undefined, false, err
		}
		f.setAcc(BoolValue(ok))

	case OpDeleteElement:
		base, index := f.temp(), f.temp()
		ok, err := e.DeleteMember(f.ctx, base, e.propertyKey(index))
		if err != nil {
			return Undefined, false, err
		}
		f.setAcc(BoolValue(ok))

	// --- Calls ---
	case OpCallValue:
		count, argv := r.ReadIndex(), r.ReadIndex()
		this := Undefined
		if f.accBase != nil {
			this = ObjectValue(f.accBase)
		}
		if !f.acc.IsCallable() {
			return Undefined, false, e.typeError("%s is not a function", ToString(f.acc))
		}
		v, err := e.Call(f.acc, this, f.args(count, argv))
		if err != nil {
			return Undefined, false, err
		}
		f.setAcc(v)

	case OpCallProperty:
		name, count, argv := f.name(), r.ReadIndex(), r.ReadIndex()
		base := f.acc
		callee, err := e.GetMember(base, name)
		if err != nil {
			return Undefined, false, err
		}
		if !callee.IsCallable() {
			return Undefined, false, e.typeError("Property '%s' of %s is not a function", name.Text(), ToString(base))
		}
		v, err := e.Call(callee, base, f.args(count, argv))
		if err != nil {
			return Undefined, false, err
		}
		f.setAcc(v)

	case OpCallBuiltin:
		b, count, argv := Builtin(r.ReadByte()), r.ReadIndex(), r.ReadIndex()
		if err := e.callBuiltin(f, b, f.args(count, argv)); err != nil {
			return Undefined, false, err
		}

	case OpCreateValue:
		callee, count, argv := f.temp(), r.ReadIndex(), r.ReadIndex()
		v, err := e.Construct(callee, f.args(count, argv))
		if err != nil {
			return Undefined, false, err
		}
		f.setAcc(v)

	case OpCreateProperty:
		base, name, count, argv := f.temp(), f.name(), r.ReadIndex(), r.ReadIndex()
		callee, err := e.GetMember(base, name)
		if err != nil {
			return Undefined, false, err
		}
		v, err := e.Construct(callee, f.args(count, argv))
		if err != nil {
			return Undefined, false, err
		}
		f.setAcc(v)

	case OpCreateActivationProperty:
		name, count, argv := f.name(), r.ReadIndex(), r.ReadIndex()
		callee, err := f.ctx.GetProperty(name)
		if err != nil {
			return Undefined, false, err
		}
		v, err := e.Construct(callee, f.args(count, argv))
		if err != nil {
			return Undefined, false, err
		}
		f.setAcc(v)

	// --- Native operations ---
	case OpUnop:
		alu := ALU(r.ReadByte())
		v, err := e.Unary(alu, f.temp())
		if err != nil {
			return Undefined, false, err
		}
		f.setAcc(v)

	case OpBinop:
		alu := ALU(r.ReadByte())
		lhs, rhs := f.temp(), f.temp()
		v, err := e.Binary(alu, lhs, rhs)
		if err != nil {
			return Undefined, false, err
		}
		f.setAcc(v)

	// --- Control flow ---
	case OpJump:
		site := r.Position()
		r.Seek(site + int(r.ReadInt32()))

	case OpCJump:
		site := r.Position()
		offset := int(r.ReadInt32())
		if ToBoolean(f.acc) {
			r.Seek(site + offset)
		}

	case OpRet:
		return f.temp(), true, nil

	default:
		panic(fmt.Sprintf("vm: unknown opcode 0x%02X at %d in %s", byte(op), r.Position()-1, f.fn.name.Text()))
	}
	return Undefined, false, nil
}

func (e *Engine) callBuiltin(f *frame, b Builtin, args []Value) error {
	arg := func(i int) Value {
		if i < len(args) {
			return args[i]
		}
		return Undefined
	}

	switch b {
	case BuiltinTypeof:
		f.setAcc(StringValue(e.Identifier(TypeOf(arg(0)))))
	case BuiltinThrow:
		return Throw(arg(0))
	case BuiltinCreateExceptionHandler:
		f.handlers = append(f.handlers, f.r.Position())
		f.setAcc(False)
	case BuiltinDeleteExceptionHandler:
		if len(f.handlers) == 0 {
			return fmt.Errorf("vm: %s: delete_exception_handler without a handler", f.fn.name.Text())
		}
		f.handlers = f.handlers[:len(f.handlers)-1]
		f.setAcc(Undefined)
	case BuiltinGetException:
		f.setAcc(f.exception)
	default:
		return fmt.Errorf("vm: %s: unknown builtin %s", f.fn.name.Text(), b)
	}
	return nil
}
