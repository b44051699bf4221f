package isel

import (
	"errors"
	"testing"

	"github.com/chazu/moth/ir"
	"github.com/chazu/moth/vm"
)

// run decodes a YAML IR document, selects its entry function and runs it on
// a fresh engine.
func run(t *testing.T, doc string) (vm.Value, *vm.Engine, error) {
	t.Helper()
	mod, err := ir.Decode([]byte(doc))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	cf, err := SelectModule(mod)
	if err != nil {
		t.Fatalf("SelectModule failed: %v", err)
	}
	if err := vm.Verify(cf); err != nil {
		t.Fatalf("Verify failed: %v\n%s", err, cf.Disassemble())
	}
	e := vm.NewEngine(vm.DefaultConfig())
	t.Cleanup(e.Close)
	v, err := e.Run(cf)
	return v, e, err
}

func TestRunLoop(t *testing.T) {
	v, _, err := run(t, `
functions:
  - name: main
    locals: [i, sum]
    blocks:
      - - move: {to: "%0", from: {const: 0}}
        - move: {to: i, from: "%0"}
        - move: {to: sum, from: "%0"}
        - jump: 1
      - - move: {to: "%1", from: i}
        - move: {to: "%2", from: {const: 5}}
        - cjump: {cond: {binop: {op: lt, left: "%1", right: "%2"}}, true: 2, false: 3}
      - - move: {to: "%3", from: sum}
        - move: {to: "%3", from: {binop: {op: add, left: "%3", right: "%1"}}}
        - move: {to: sum, from: "%3"}
        - move: {to: "%4", from: {const: 1}}
        - move: {to: "%1", from: {binop: {op: add, left: "%1", right: "%4"}}}
        - move: {to: i, from: "%1"}
        - jump: 1
      - - move: {to: "%5", from: sum}
        - ret: "%5"
`)
	if err != nil {
		t.Fatal(err)
	}
	if !vm.StrictEquals(v, vm.NumberValue(10)) {
		t.Errorf("sum = %v, want 10", v)
	}
}

func TestRunClosureCallWithStagedArguments(t *testing.T) {
	v, _, err := run(t, `
functions:
  - name: main
    blocks:
      - - move: {to: "%0", from: {closure: mul}}
        - move: {to: "%1", from: {const: 2}}
        - move: {to: "%2", from: {const: 3}}
        - move: {to: "%3", from: {call: {base: "%0", args: ["%1", "%2"]}}}
        - ret: "%3"
  - name: mul
    formals: [a, b]
    blocks:
      - - move: {to: "%0", from: a}
        - move: {to: "%1", from: b}
        - move: {to: "%0", from: {binop: {op: mul, left: "%0", right: "%1"}}}
        - ret: "%0"
`)
	if err != nil {
		t.Fatal(err)
	}
	if !vm.StrictEquals(v, vm.NumberValue(6)) {
		t.Errorf("mul(2, 3) = %v, want 6", v)
	}
}

func TestRunExceptionHandler(t *testing.T) {
	v, e, err := run(t, `
functions:
  - name: main
    blocks:
      - - move: {to: "%0", from: {call: {base: {builtin: create_exception_handler}}}}
        - cjump: {cond: "%0", true: 2, false: 1}
      - - move: {to: "%1", from: {string: oops}}
        - exp: {call: {base: {builtin: throw}, args: ["%1"]}}
        - move: {to: "%2", from: {const: 0}}
        - ret: "%2"
      - - exp: {call: {base: {builtin: delete_exception_handler}}}
        - move: {to: "%2", from: {call: {base: {builtin: get_exception}}}}
        - ret: "%2"
`)
	if err != nil {
		t.Fatal(err)
	}
	if vm.ToString(v) != "oops" {
		t.Errorf("caught %v, want oops", v)
	}
	if e.Current() != e.RootContext() {
		t.Error("current context not restored")
	}
}

func TestRunConstructorAndInplaceMember(t *testing.T) {
	v, _, err := run(t, `
functions:
  - name: main
    blocks:
      - - move: {to: "%4", from: {closure: Point}}
        - move: {to: Point, from: "%4"}
        - move: {to: "%0", from: {const: 7}}
        - move: {to: "%1", from: {new: {base: Point, args: ["%0"]}}}
        - move: {to: "%2", from: {const: 3}}
        - move: {to: {member: {base: "%1", name: x}}, from: "%2", op: add}
        - move: {to: "%3", from: {member: {base: "%1", name: x}}}
        - ret: "%3"
  - name: Point
    formals: [x]
    blocks:
      - - move: {to: "%0", from: this}
        - move: {to: "%1", from: x}
        - move: {to: {member: {base: "%0", name: x}}, from: "%1"}
        - move: {to: "%2", from: {const: undefined}}
        - ret: "%2"
`)
	if err != nil {
		t.Fatal(err)
	}
	if !vm.StrictEquals(v, vm.NumberValue(10)) {
		t.Errorf("p.x = %v, want 10", v)
	}
}

func TestRunPropertyCallReceiver(t *testing.T) {
	v, _, err := run(t, `
functions:
  - name: main
    blocks:
      - - move: {to: "%0", from: {new: {base: Object}}}
        - move: {to: "%1", from: {closure: getX}}
        - move: {to: {member: {base: "%0", name: get}}, from: "%1"}
        - move: {to: "%2", from: {const: 9}}
        - move: {to: {member: {base: "%0", name: x}}, from: "%2"}
        - move: {to: "%3", from: {call: {base: {member: {base: "%0", name: get}}}}}
        - ret: "%3"
  - name: getX
    blocks:
      - - move: {to: "%0", from: this}
        - move: {to: "%1", from: {member: {base: "%0", name: x}}}
        - ret: "%1"
`)
	if err != nil {
		t.Fatal(err)
	}
	if !vm.StrictEquals(v, vm.NumberValue(9)) {
		t.Errorf("o.get() = %v, want 9", v)
	}
}

func TestRunDeleteImplicitGlobal(t *testing.T) {
	v, e, err := run(t, `
functions:
  - name: main
    blocks:
      - - move: {to: "%0", from: {const: 1}}
        - move: {to: g, from: "%0"}
        - move: {to: "%1", from: {call: {base: {builtin: delete}, args: [g]}}}
        - move: {to: "%2", from: {call: {base: {builtin: typeof}, args: ["%1"]}}}
        - ret: "%2"
`)
	if err != nil {
		t.Fatal(err)
	}
	if vm.ToString(v) != "boolean" {
		t.Errorf("typeof (delete g) = %v, want boolean", v)
	}
	if e.Global().HasProperty(e.Identifier("g")) {
		t.Error("g survived delete")
	}
}

func TestRunStrictAssignmentToUndeclared(t *testing.T) {
	_, e, err := run(t, `
functions:
  - name: main
    strict: true
    blocks:
      - - move: {to: "%0", from: {const: 1}}
        - move: {to: undeclared, from: "%0"}
        - ret: "%0"
`)
	if !errors.Is(err, vm.ErrReference) {
		t.Fatalf("error = %v, want ReferenceError", err)
	}
	if e.Global().HasProperty(e.Identifier("undeclared")) {
		t.Error("strict assignment created a global")
	}
}

func TestRunSimpleCallFunctions(t *testing.T) {
	v, _, err := run(t, `
functions:
  - name: main
    blocks:
      - - move: {to: "%0", from: {closure: twice}}
        - move: {to: "%1", from: {const: 4}}
        - move: {to: "%2", from: {call: {base: "%0", args: ["%1"]}}}
        - move: {to: "%2", from: {call: {base: "%0", args: ["%2"]}}}
        - ret: "%2"
  - name: twice
    formals: [n]
    simple-call: true
    blocks:
      - - move: {to: "%0", from: n}
        - move: {to: "%0", from: {binop: {op: add, left: "%0", right: "%0"}}}
        - ret: "%0"
`)
	if err != nil {
		t.Fatal(err)
	}
	if !vm.StrictEquals(v, vm.NumberValue(16)) {
		t.Errorf("twice(twice(4)) = %v, want 16", v)
	}
}
