package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value: tagged dynamic value
// ---------------------------------------------------------------------------

// ValueKind discriminates the variants of Value.
type ValueKind uint8

const (
	KindUndefined ValueKind = iota
	KindNull
	KindBoolean
	KindNumber
	KindString
	KindObject
)

var kindNames = [...]string{
	KindUndefined: "undefined",
	KindNull:      "null",
	KindBoolean:   "boolean",
	KindNumber:    "number",
	KindString:    "string",
	KindObject:    "object",
}

func (k ValueKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Value is a dynamically typed value. The zero Value is undefined.
// Booleans are stored in num as 0 or 1.
type Value struct {
	kind ValueKind
	num  float64
	str  *String
	obj  *Object
}

// Special values
var (
	Undefined = Value{}
	Null      = Value{kind: KindNull}
	True      = Value{kind: KindBoolean, num: 1}
	False     = Value{kind: KindBoolean}
	NaN       = Value{kind: KindNumber, num: math.NaN()}
)

// NumberValue wraps a float64.
func NumberValue(f float64) Value {
	return Value{kind: KindNumber, num: f}
}

// BoolValue wraps a bool.
func BoolValue(b bool) Value {
	if b {
		return True
	}
	return False
}

// StringValue wraps a string handle.
func StringValue(s *String) Value {
	return Value{kind: KindString, str: s}
}

// ObjectValue wraps an object. A nil object yields null.
func ObjectValue(o *Object) Value {
	if o == nil {
		return Null
	}
	return Value{kind: KindObject, obj: o}
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsNull() bool      { return v.kind == KindNull }
func (v Value) IsNullish() bool   { return v.kind <= KindNull }
func (v Value) IsBoolean() bool   { return v.kind == KindBoolean }
func (v Value) IsNumber() bool    { return v.kind == KindNumber }
func (v Value) IsString() bool    { return v.kind == KindString }
func (v Value) IsObject() bool    { return v.kind == KindObject }

// Bool returns the boolean payload. Only meaningful for booleans.
func (v Value) Bool() bool { return v.num != 0 }

// Number returns the numeric payload. Only meaningful for numbers.
func (v Value) Number() float64 { return v.num }

// Str returns the string handle, or nil for non-strings.
func (v Value) Str() *String { return v.str }

// Object returns the object, or nil for non-objects.
func (v Value) Object() *Object { return v.obj }

// IsCallable reports whether v is a function object.
func (v Value) IsCallable() bool {
	return v.kind == KindObject && v.obj.IsCallable()
}

// String renders the value for debugging and CLI output.
func (v Value) String() string {
	if v.kind == KindString {
		return strconv.Quote(v.str.Text())
	}
	return ToString(v)
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// ToBoolean converts v following the language's truthiness rules.
func ToBoolean(v Value) bool {
	switch v.kind {
	case KindBoolean:
		return v.num != 0
	case KindNumber:
		return v.num != 0 && !math.IsNaN(v.num)
	case KindString:
		return v.str.Text() != ""
	case KindObject:
		return true
	}
	return false
}

// ToNumber converts v to a number. Objects convert to NaN.
func ToNumber(v Value) float64 {
	switch v.kind {
	case KindUndefined:
		return math.NaN()
	case KindNull:
		return 0
	case KindBoolean, KindNumber:
		return v.num
	case KindString:
		return stringToNumber(v.str.Text())
	}
	return math.NaN()
}

func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return math.NaN()
		}
		return float64(n)
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r == '.' || r == 'e' || r == 'E' || r == '+' || r == '-') {
			return math.NaN()
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// ToString converts v to its string form.
func ToString(v Value) string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBoolean:
		if v.num != 0 {
			return "true"
		}
		return "false"
	case KindNumber:
		return NumberToString(v.num)
	case KindString:
		return v.str.Text()
	case KindObject:
		if v.obj.IsCallable() {
			return "function " + v.obj.FunctionName() + "() { [code] }"
		}
		return "[object " + v.obj.Class() + "]"
	}
	return ""
}

// NumberToString formats f the way the language prints numbers: integers
// without a fraction, exponent form outside [1e-6, 1e21).
func NumberToString(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	mant, exp, _ := strings.Cut(s, "e")
	sign := exp[0]
	digits := strings.TrimLeft(exp[1:], "0")
	return mant + "e" + string(sign) + digits
}

// ToInt32 converts v to a signed 32-bit integer.
func ToInt32(v Value) int32 {
	return int32(ToUint32(v))
}

// ToUint32 converts v to an unsigned 32-bit integer.
func ToUint32(v Value) uint32 {
	f := ToNumber(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Trunc(f)
	f = math.Mod(f, 4294967296)
	if f < 0 {
		f += 4294967296
	}
	return uint32(f)
}

// TypeOf returns the typeof string for v.
func TypeOf(v Value) string {
	switch v.kind {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "object"
	case KindBoolean:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	}
	if v.obj.IsCallable() {
		return "function"
	}
	return "object"
}

// StrictEquals compares without conversion.
func StrictEquals(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindUndefined, KindNull:
		return true
	case KindBoolean, KindNumber:
		return a.num == b.num
	case KindString:
		return a.str == b.str || a.str.Text() == b.str.Text()
	}
	return a.obj == b.obj
}

// LooseEquals compares with the language's abstract equality conversions.
// Objects compare to primitives through their string form.
func LooseEquals(a, b Value) bool {
	if a.kind == b.kind {
		return StrictEquals(a, b)
	}
	switch {
	case a.IsNullish() && b.IsNullish():
		return true
	case a.IsNullish() || b.IsNullish():
		return false
	case a.kind == KindBoolean:
		return LooseEquals(NumberValue(a.num), b)
	case b.kind == KindBoolean:
		return LooseEquals(a, NumberValue(b.num))
	case a.kind == KindNumber && b.kind == KindString:
		return a.num == ToNumber(b)
	case a.kind == KindString && b.kind == KindNumber:
		return ToNumber(a) == b.num
	case a.kind == KindObject:
		return ToString(a) == ToString(b)
	case b.kind == KindObject:
		return ToString(a) == ToString(b)
	}
	return false
}
