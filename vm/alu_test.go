package vm

import (
	"errors"
	"testing"
)

func TestBinaryOperations(t *testing.T) {
	e := newTestEngine(t)
	s := e.NewString

	tests := []struct {
		op   ALU
		a, b Value
		want Value
	}{
		{ALUAdd, num(1), num(2), num(3)},
		{ALUAdd, s("a"), num(1), s("a1")},
		{ALUAdd, num(1), Undefined, NaN},
		{ALUSub, num(5), s("2"), num(3)},
		{ALUMul, num(4), num(2.5), num(10)},
		{ALUDiv, num(1), num(4), num(0.25)},
		{ALUMod, num(-7), num(3), num(-1)},
		{ALUBitAnd, num(6), num(3), num(2)},
		{ALUBitOr, num(6), num(3), num(7)},
		{ALUBitXor, num(6), num(3), num(5)},
		{ALUShl, num(1), num(33), num(2)},
		{ALUShr, num(-8), num(1), num(-4)},
		{ALUUShr, num(-1), num(28), num(15)},
		{ALULt, num(1), num(2), True},
		{ALULt, s("b"), s("a"), False},
		{ALUGe, NaN, num(1), False},
		{ALULe, num(2), num(2), True},
		{ALUGt, s("10"), num(9), True},
		{ALUEq, Null, Undefined, True},
		{ALUNe, num(1), s("1"), False},
		{ALUSe, num(1), s("1"), False},
		{ALUSne, num(1), s("1"), True},
	}
	for _, tt := range tests {
		got, err := e.Binary(tt.op, tt.a, tt.b)
		if err != nil {
			t.Errorf("%v %s %v: %v", tt.a, tt.op, tt.b, err)
			continue
		}
		if tt.want.IsNumber() && ToString(tt.want) == "NaN" {
			if ToString(got) != "NaN" {
				t.Errorf("%v %s %v = %v, want NaN", tt.a, tt.op, tt.b, got)
			}
			continue
		}
		if !StrictEquals(got, tt.want) {
			t.Errorf("%v %s %v = %v, want %v", tt.a, tt.op, tt.b, got, tt.want)
		}
	}
}

func TestUnaryOperations(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		op   ALU
		v    Value
		want Value
	}{
		{ALUNot, num(0), True},
		{ALUNot, e.NewString("x"), False},
		{ALUUMinus, e.NewString("3"), num(-3)},
		{ALUUPlus, True, num(1)},
		{ALUCompl, num(5), num(-6)},
	}
	for _, tt := range tests {
		got, err := e.Unary(tt.op, tt.v)
		if err != nil {
			t.Fatal(err)
		}
		if !StrictEquals(got, tt.want) {
			t.Errorf("%s %v = %v, want %v", tt.op, tt.v, got, tt.want)
		}
	}

	if _, err := e.Unary(ALUAdd, num(1)); err == nil {
		t.Error("add is not unary and should be rejected")
	}
}

func TestInstanceofAndIn(t *testing.T) {
	e := newTestEngine(t)
	errorCtor, _ := e.Global().Get(e.Identifier("Error"))
	obj, err := e.Construct(errorCtor, []Value{e.NewString("bad")})
	if err != nil {
		t.Fatal(err)
	}

	if got, _ := e.Binary(ALUInstanceof, obj, errorCtor); !StrictEquals(got, True) {
		t.Errorf("new Error() instanceof Error = %v, want true", got)
	}
	if got, _ := e.Binary(ALUInstanceof, num(1), errorCtor); !StrictEquals(got, False) {
		t.Errorf("1 instanceof Error = %v, want false", got)
	}
	if _, err := e.Binary(ALUInstanceof, obj, num(1)); !errors.Is(err, ErrType) {
		t.Errorf("instanceof a number error = %v, want TypeError", err)
	}

	if got, _ := e.Binary(ALUIn, e.NewString("message"), obj); !StrictEquals(got, True) {
		t.Errorf("'message' in error = %v, want true", got)
	}
	if _, err := e.Binary(ALUIn, e.NewString("x"), num(1)); !errors.Is(err, ErrType) {
		t.Errorf("in a number error = %v, want TypeError", err)
	}
}

func TestInplaceOperations(t *testing.T) {
	e := newTestEngine(t)
	ctx := e.RootContext()
	obj := NewObject(e.ObjectPrototype)
	base := ObjectValue(obj)
	count := e.Identifier("count")
	obj.Put(count, num(1))

	if err := e.InplaceMember(ctx, ALUAdd, base, count, num(4)); err != nil {
		t.Fatal(err)
	}
	if got, _ := obj.Get(count); !StrictEquals(got, num(5)) {
		t.Errorf("count = %v, want 5", got)
	}

	if err := e.InplaceElement(ctx, ALUShl, base, e.NewString("count"), num(2)); err != nil {
		t.Fatal(err)
	}
	if got, _ := obj.Get(count); !StrictEquals(got, num(20)) {
		t.Errorf("count = %v, want 20", got)
	}

	if err := e.InplaceElement(ctx, ALUSub, base, num(0), num(1)); err != nil {
		t.Fatal(err)
	}
	if got, _ := obj.Get(e.Identifier("0")); ToString(got) != "NaN" {
		t.Errorf("obj[0] = %v, want NaN", got)
	}

	if err := e.InplaceMember(ctx, ALULt, base, count, num(1)); err == nil {
		t.Error("lt has no in-place form and should be rejected")
	}
	if err := e.InplaceMember(ctx, ALUAdd, Undefined, count, num(1)); !errors.Is(err, ErrType) {
		t.Errorf("in-place op on undefined error = %v, want TypeError", err)
	}
}

func TestALUClassification(t *testing.T) {
	inplace := 0
	for op := ALUInvalid; op < aluCount; op++ {
		if op.IsUnary() && op.IsBinary() {
			t.Errorf("%s is both unary and binary", op)
		}
		if op.IsInplace() {
			inplace++
		}
	}
	if inplace != 11 {
		t.Errorf("%d in-place operations, want 11", inplace)
	}
}
