package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Language-level exceptions
// ---------------------------------------------------------------------------

// ErrorKind classifies an Exception.
type ErrorKind int

const (
	// ThrownValue is an arbitrary value raised by a throw.
	ThrownValue ErrorKind = iota
	ReferenceError
	SyntaxError
	TypeError
	RangeError
)

var errorKindNames = map[ErrorKind]string{
	ThrownValue:    "Uncaught",
	ReferenceError: "ReferenceError",
	SyntaxError:    "SyntaxError",
	TypeError:      "TypeError",
	RangeError:     "RangeError",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Sentinels matched by errors.Is against an *Exception of the same kind.
var (
	ErrReference = errors.New("ReferenceError")
	ErrSyntax    = errors.New("SyntaxError")
	ErrType      = errors.New("TypeError")
	ErrRange     = errors.New("RangeError")
	ErrThrown    = errors.New("uncaught exception")
)

var kindSentinels = map[ErrorKind]error{
	ThrownValue:    ErrThrown,
	ReferenceError: ErrReference,
	SyntaxError:    ErrSyntax,
	TypeError:      ErrType,
	RangeError:     ErrRange,
}

// Exception is a catchable language-level error. It travels up the Go call
// stack as an error; the interpreter's handler protocol turns it back into
// control flow. Value is what a catch block observes.
type Exception struct {
	Kind    ErrorKind
	Name    string // offending identifier, when there is one
	Message string
	Value   Value
}

func (e *Exception) Error() string {
	if e.Kind == ThrownValue {
		return "Uncaught " + ToString(e.Value)
	}
	return e.Kind.String() + ": " + e.Message
}

// Is matches the kind sentinels.
func (e *Exception) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// AsException extracts an *Exception from err.
func AsException(err error) (*Exception, bool) {
	var exc *Exception
	if errors.As(err, &exc) {
		return exc, true
	}
	return nil, false
}

// newError builds an exception of the given kind together with the error
// object a catch block will see.
func (e *Engine) newError(kind ErrorKind, name, format string, args ...any) *Exception {
	msg := fmt.Sprintf(format, args...)
	obj := NewObject(e.ErrorPrototype)
	obj.class = "Error"
	obj.DefineOwnProperty(e.ids.name, StringValue(e.Identifier(kind.String())), AttrWritable|AttrConfigurable)
	obj.DefineOwnProperty(e.ids.message, StringValue(newString(msg)), AttrWritable|AttrConfigurable)
	return &Exception{Kind: kind, Name: name, Message: msg, Value: ObjectValue(obj)}
}

func (e *Engine) referenceError(name *String) *Exception {
	return e.newError(ReferenceError, name.Text(), "%s is not defined", name.Text())
}

func (e *Engine) typeError(format string, args ...any) *Exception {
	return e.newError(TypeError, "", format, args...)
}

// Throw wraps an arbitrary value as an exception.
func Throw(v Value) *Exception {
	return &Exception{Kind: ThrownValue, Message: ToString(v), Value: v}
}
