package vm

import (
	"math"
	"testing"
)

func TestToString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{Undefined, "undefined"},
		{Null, "null"},
		{True, "true"},
		{False, "false"},
		{num(0), "0"},
		{num(-0.0), "0"},
		{num(42), "42"},
		{num(-1.5), "-1.5"},
		{num(1e21), "1e+21"},
		{num(1.5e-7), "1.5e-7"},
		{num(123456789012), "123456789012"},
		{NaN, "NaN"},
		{num(math.Inf(-1)), "-Infinity"},
		{StringValue(newString("hi")), "hi"},
	}
	for _, tt := range tests {
		if got := ToString(tt.v); got != tt.want {
			t.Errorf("ToString(%#v) = %q, want %q", tt.v, got, tt.want)
		}
	}
}

func TestToNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"", 0},
		{"  12 ", 12},
		{"0x1F", 31},
		{"1e3", 1000},
		{"-Infinity", math.Inf(-1)},
		{"12px", math.NaN()},
	}
	for _, tt := range tests {
		got := ToNumber(StringValue(newString(tt.in)))
		if math.IsNaN(tt.want) {
			if !math.IsNaN(got) {
				t.Errorf("ToNumber(%q) = %v, want NaN", tt.in, got)
			}
			continue
		}
		if got != tt.want {
			t.Errorf("ToNumber(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if !math.IsNaN(ToNumber(Undefined)) || ToNumber(Null) != 0 || ToNumber(True) != 1 {
		t.Error("ToNumber of undefined, null, true should be NaN, 0, 1")
	}
}

func TestToBoolean(t *testing.T) {
	falsy := []Value{Undefined, Null, False, num(0), NaN, StringValue(newString(""))}
	for _, v := range falsy {
		if ToBoolean(v) {
			t.Errorf("ToBoolean(%v) = true, want false", v)
		}
	}
	truthy := []Value{True, num(-1), StringValue(newString("0")), ObjectValue(NewObject(nil))}
	for _, v := range truthy {
		if !ToBoolean(v) {
			t.Errorf("ToBoolean(%v) = false, want true", v)
		}
	}
}

func TestToInt32Wraps(t *testing.T) {
	tests := []struct {
		in   float64
		want int32
	}{
		{1.9, 1},
		{-1.9, -1},
		{4294967296, 0},
		{2147483648, -2147483648},
		{math.Inf(1), 0},
	}
	for _, tt := range tests {
		if got := ToInt32(num(tt.in)); got != tt.want {
			t.Errorf("ToInt32(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEquality(t *testing.T) {
	s := func(x string) Value { return StringValue(newString(x)) }
	obj := ObjectValue(NewObject(nil))
	tests := []struct {
		a, b          Value
		loose, strict bool
	}{
		{Undefined, Null, true, false},
		{num(1), s("1"), true, false},
		{True, num(1), true, false},
		{s("a"), s("a"), true, true},
		{NaN, NaN, false, false},
		{obj, obj, true, true},
		{obj, ObjectValue(NewObject(nil)), false, false},
		{Null, num(0), false, false},
	}
	for _, tt := range tests {
		if got := LooseEquals(tt.a, tt.b); got != tt.loose {
			t.Errorf("%v == %v: got %t, want %t", tt.a, tt.b, got, tt.loose)
		}
		if got := StrictEquals(tt.a, tt.b); got != tt.strict {
			t.Errorf("%v === %v: got %t, want %t", tt.a, tt.b, got, tt.strict)
		}
	}
}

func TestTypeOf(t *testing.T) {
	e := newTestEngine(t)
	tests := []struct {
		v    Value
		want string
	}{
		{Undefined, "undefined"},
		{Null, "object"},
		{True, "boolean"},
		{num(1), "number"},
		{e.NewString("x"), "string"},
		{ObjectValue(NewObject(nil)), "object"},
		{ObjectValue(e.NewNativeFunction("g", func(*Context, Value, []Value) (Value, error) { return Undefined, nil })), "function"},
	}
	for _, tt := range tests {
		if got := TypeOf(tt.v); got != tt.want {
			t.Errorf("typeof %v = %q, want %q", tt.v, got, tt.want)
		}
	}
}
