package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// ALU: native operations referenced by UNOP, BINOP and the in-place ops
// ---------------------------------------------------------------------------

// ALU identifies a native operation. It is encoded as a single operand byte.
type ALU uint8

const (
	ALUInvalid ALU = iota

	ALUNot
	ALUUMinus
	ALUUPlus
	ALUCompl

	ALUBitAnd
	ALUBitOr
	ALUBitXor
	ALUAdd
	ALUSub
	ALUMul
	ALUDiv
	ALUMod
	ALUShl
	ALUShr
	ALUUShr

	ALUGt
	ALULt
	ALUGe
	ALULe
	ALUEq
	ALUNe
	ALUSe
	ALUSne
	ALUInstanceof
	ALUIn

	aluCount
)

var aluNames = [aluCount]string{
	ALUInvalid:    "invalid",
	ALUNot:        "not",
	ALUUMinus:     "uminus",
	ALUUPlus:      "uplus",
	ALUCompl:      "compl",
	ALUBitAnd:     "bitand",
	ALUBitOr:      "bitor",
	ALUBitXor:     "bitxor",
	ALUAdd:        "add",
	ALUSub:        "sub",
	ALUMul:        "mul",
	ALUDiv:        "div",
	ALUMod:        "mod",
	ALUShl:        "shl",
	ALUShr:        "shr",
	ALUUShr:       "ushr",
	ALUGt:         "gt",
	ALULt:         "lt",
	ALUGe:         "ge",
	ALULe:         "le",
	ALUEq:         "eq",
	ALUNe:         "ne",
	ALUSe:         "se",
	ALUSne:        "sne",
	ALUInstanceof: "instanceof",
	ALUIn:         "in",
}

func (a ALU) String() string {
	if a < aluCount {
		return aluNames[a]
	}
	return fmt.Sprintf("alu(%d)", uint8(a))
}

// IsUnary reports whether a takes one operand.
func (a ALU) IsUnary() bool {
	return a >= ALUNot && a <= ALUCompl
}

// IsBinary reports whether a takes two operands.
func (a ALU) IsBinary() bool {
	return a >= ALUBitAnd && a < aluCount
}

// IsInplace reports whether a has a compound-assignment form.
func (a ALU) IsInplace() bool {
	return a >= ALUBitAnd && a <= ALUUShr
}

type unaryFunc func(e *Engine, v Value) (Value, error)
type binaryFunc func(e *Engine, a, b Value) (Value, error)

var unaryTable = [aluCount]unaryFunc{
	ALUNot: func(_ *Engine, v Value) (Value, error) {
		return BoolValue(!ToBoolean(v)), nil
	},
	ALUUMinus: func(_ *Engine, v Value) (Value, error) {
		return NumberValue(-ToNumber(v)), nil
	},
	ALUUPlus: func(_ *Engine, v Value) (Value, error) {
		return NumberValue(ToNumber(v)), nil
	},
	ALUCompl: func(_ *Engine, v Value) (Value, error) {
		return NumberValue(float64(^ToInt32(v))), nil
	},
}

var binaryTable [aluCount]binaryFunc

func init() {
	binaryTable = [aluCount]binaryFunc{
		ALUBitAnd: int32Op(func(a, b int32) int32 { return a & b }),
		ALUBitOr:  int32Op(func(a, b int32) int32 { return a | b }),
		ALUBitXor: int32Op(func(a, b int32) int32 { return a ^ b }),
		ALUAdd:    add,
		ALUSub:    numberOp(func(a, b float64) float64 { return a - b }),
		ALUMul:    numberOp(func(a, b float64) float64 { return a * b }),
		ALUDiv:    numberOp(func(a, b float64) float64 { return a / b }),
		ALUMod:    numberOp(math.Mod),
		ALUShl: func(_ *Engine, a, b Value) (Value, error) {
			return NumberValue(float64(ToInt32(a) << (ToUint32(b) & 31))), nil
		},
		ALUShr: func(_ *Engine, a, b Value) (Value, error) {
			return NumberValue(float64(ToInt32(a) >> (ToUint32(b) & 31))), nil
		},
		ALUUShr: func(_ *Engine, a, b Value) (Value, error) {
			return NumberValue(float64(ToUint32(a) >> (ToUint32(b) & 31))), nil
		},
		ALUGt: compareOp(func(c int) bool { return c > 0 }),
		ALULt: compareOp(func(c int) bool { return c < 0 }),
		ALUGe: compareOp(func(c int) bool { return c >= 0 }),
		ALULe: compareOp(func(c int) bool { return c <= 0 }),
		ALUEq: func(_ *Engine, a, b Value) (Value, error) {
			return BoolValue(LooseEquals(a, b)), nil
		},
		ALUNe: func(_ *Engine, a, b Value) (Value, error) {
			return BoolValue(!LooseEquals(a, b)), nil
		},
		ALUSe: func(_ *Engine, a, b Value) (Value, error) {
			return BoolValue(StrictEquals(a, b)), nil
		},
		ALUSne: func(_ *Engine, a, b Value) (Value, error) {
			return BoolValue(!StrictEquals(a, b)), nil
		},
		ALUInstanceof: instanceOf,
		ALUIn:         in,
	}
}

// Unary applies a unary ALU operation.
func (e *Engine) Unary(op ALU, v Value) (Value, error) {
	if op >= aluCount || unaryTable[op] == nil {
		return Undefined, fmt.Errorf("%s is not a unary operation", op)
	}
	return unaryTable[op](e, v)
}

// Binary applies a binary ALU operation.
func (e *Engine) Binary(op ALU, a, b Value) (Value, error) {
	if op >= aluCount || binaryTable[op] == nil {
		return Undefined, fmt.Errorf("%s is not a binary operation", op)
	}
	return binaryTable[op](e, a, b)
}

func numberOp(f func(a, b float64) float64) binaryFunc {
	return func(_ *Engine, a, b Value) (Value, error) {
		return NumberValue(f(ToNumber(a), ToNumber(b))), nil
	}
}

func int32Op(f func(a, b int32) int32) binaryFunc {
	return func(_ *Engine, a, b Value) (Value, error) {
		return NumberValue(float64(f(ToInt32(a), ToInt32(b)))), nil
	}
}

// add concatenates when either side is a string or an object, and adds
// numerically otherwise.
func add(e *Engine, a, b Value) (Value, error) {
	if a.IsString() || b.IsString() || a.IsObject() || b.IsObject() {
		return StringValue(newString(ToString(a) + ToString(b))), nil
	}
	return NumberValue(ToNumber(a) + ToNumber(b)), nil
}

// compareOp builds a relational operator. Two strings compare by code
// units; anything else compares numerically and NaN is never ordered.
func compareOp(pred func(int) bool) binaryFunc {
	return func(_ *Engine, a, b Value) (Value, error) {
		if a.IsString() && b.IsString() {
			as, bs := a.Str().Text(), b.Str().Text()
			switch {
			case as < bs:
				return BoolValue(pred(-1)), nil
			case as > bs:
				return BoolValue(pred(1)), nil
			}
			return BoolValue(pred(0)), nil
		}
		x, y := ToNumber(a), ToNumber(b)
		switch {
		case math.IsNaN(x) || math.IsNaN(y):
			return False, nil
		case x < y:
			return BoolValue(pred(-1)), nil
		case x > y:
			return BoolValue(pred(1)), nil
		}
		return BoolValue(pred(0)), nil
	}
}

func instanceOf(e *Engine, a, b Value) (Value, error) {
	if !b.IsCallable() {
		return Undefined, e.typeError("Right-hand side of 'instanceof' is not callable")
	}
	if !a.IsObject() {
		return False, nil
	}
	proto, _ := b.Object().Get(e.ids.prototype)
	if !proto.IsObject() {
		return Undefined, e.typeError("Function has non-object prototype in instanceof check")
	}
	return BoolValue(a.Object().InstanceOf(proto.Object())), nil
}

func in(e *Engine, a, b Value) (Value, error) {
	if !b.IsObject() {
		return Undefined, e.typeError("Cannot use 'in' operator to search for '%s' in %s", ToString(a), ToString(b))
	}
	return BoolValue(b.Object().HasProperty(e.propertyKey(a))), nil
}

// ---------------------------------------------------------------------------
// In-place operations
// ---------------------------------------------------------------------------

// InplaceElement performs base[index] op= source.
func (e *Engine) InplaceElement(ctx *Context, op ALU, base, index, source Value) error {
	if !op.IsInplace() {
		return fmt.Errorf("%s has no in-place form", op)
	}
	key := e.propertyKey(index)
	old, err := e.GetMember(base, key)
	if err != nil {
		return err
	}
	v, err := e.Binary(op, old, source)
	if err != nil {
		return err
	}
	return e.PutMember(ctx, base, key, v)
}

// InplaceMember performs base.name op= source.
func (e *Engine) InplaceMember(ctx *Context, op ALU, base Value, name *String, source Value) error {
	if !op.IsInplace() {
		return fmt.Errorf("%s has no in-place form", op)
	}
	old, err := e.GetMember(base, name)
	if err != nil {
		return err
	}
	v, err := e.Binary(op, old, source)
	if err != nil {
		return err
	}
	return e.PutMember(ctx, base, name, v)
}

// ---------------------------------------------------------------------------
// Builtins reachable through CALL_BUILTIN
// ---------------------------------------------------------------------------

// Builtin identifies an intrinsic. It is encoded as a single operand byte.
type Builtin uint8

const (
	BuiltinInvalid Builtin = iota
	BuiltinTypeof
	BuiltinThrow
	BuiltinCreateExceptionHandler
	BuiltinDeleteExceptionHandler
	BuiltinGetException
)

var builtinNames = map[Builtin]string{
	BuiltinInvalid:                "invalid",
	BuiltinTypeof:                 "typeof",
	BuiltinThrow:                  "throw",
	BuiltinCreateExceptionHandler: "create_exception_handler",
	BuiltinDeleteExceptionHandler: "delete_exception_handler",
	BuiltinGetException:           "get_exception",
}

func (b Builtin) String() string {
	if name, ok := builtinNames[b]; ok {
		return name
	}
	return fmt.Sprintf("builtin(%d)", uint8(b))
}
