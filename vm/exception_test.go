package vm

import (
	"errors"
	"fmt"
	"testing"
)

// ---------------------------------------------------------------------------
// Exception kinds and sentinels
// ---------------------------------------------------------------------------

func TestExceptionMatchesKindSentinel(t *testing.T) {
	e := NewEngine(DefaultConfig())
	defer e.Close()

	tests := []struct {
		name string
		exc  *Exception
		want error
	}{
		{"reference", e.referenceError(e.Identifier("x")), ErrReference},
		{"type", e.typeError("not callable"), ErrType},
		{"range", e.newError(RangeError, "", "too deep"), ErrRange},
		{"thrown", Throw(NumberValue(1)), ErrThrown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("calling: %w", tt.exc)
			if !errors.Is(wrapped, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.want)
			}
			if errors.Is(wrapped, ErrSyntax) {
				t.Errorf("%v matched the wrong sentinel", wrapped)
			}
			got, ok := AsException(wrapped)
			if !ok || got != tt.exc {
				t.Errorf("AsException = %v, %t", got, ok)
			}
		})
	}
}

func TestExceptionMessages(t *testing.T) {
	e := NewEngine(DefaultConfig())
	defer e.Close()

	if got := e.referenceError(e.Identifier("missing")).Error(); got != "ReferenceError: missing is not defined" {
		t.Errorf("reference error = %q", got)
	}
	if got := Throw(e.NewString("oops")).Error(); got != "Uncaught oops" {
		t.Errorf("thrown error = %q", got)
	}
	if got := ErrorKind(42).String(); got != "ErrorKind(42)" {
		t.Errorf("unknown kind = %q", got)
	}
}

func TestErrorObjectCarriesNameAndMessage(t *testing.T) {
	e := NewEngine(DefaultConfig())
	defer e.Close()

	exc := e.typeError("%s is not a function", "f")
	if !exc.Value.IsObject() {
		t.Fatalf("error value is %v, want an object", exc.Value)
	}
	obj := exc.Value.Object()
	if !obj.InstanceOf(e.ErrorPrototype) {
		t.Error("error object does not inherit from the error prototype")
	}
	name, _ := obj.Get(e.Identifier("name"))
	msg, _ := obj.Get(e.Identifier("message"))
	if ToString(name) != "TypeError" || ToString(msg) != "f is not a function" {
		t.Errorf("name, message = %q, %q", ToString(name), ToString(msg))
	}
}
