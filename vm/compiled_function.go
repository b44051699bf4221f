package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// CompiledFunction: Bytecode plus static metadata
// ---------------------------------------------------------------------------

// CompiledFunction is the output of instruction selection for one function
// literal. It is immutable once built and shared by every call of the
// function.
type CompiledFunction struct {
	// Identity and signature
	Name    string   `cbor:"1,keyasint"`
	Formals []string `cbor:"2,keyasint"` // declaration order
	Locals  []string `cbor:"3,keyasint"` // declaration order

	Strict          bool `cbor:"4,keyasint"`
	NamedExpression bool `cbor:"5,keyasint"`
	SimpleCall      bool `cbor:"6,keyasint"`

	// Compiled code
	FrameSize int    `cbor:"7,keyasint"` // operand of the leading PUSH
	Entry     int    `cbor:"8,keyasint"` // offset of the first instruction
	Code      []byte `cbor:"9,keyasint"`

	Strings   []string            `cbor:"10,keyasint"` // string and identifier operands
	Functions []*CompiledFunction `cbor:"11,keyasint"` // closures referenced by LOAD_CLOSURE
}

// StringAt returns the string operand at index.
func (f *CompiledFunction) StringAt(index int) string {
	if index < 0 || index >= len(f.Strings) {
		panic(fmt.Sprintf("%s: string index %d out of range", f.Name, index))
	}
	return f.Strings[index]
}

// FunctionAt returns the nested function at index.
func (f *CompiledFunction) FunctionAt(index int) *CompiledFunction {
	if index < 0 || index >= len(f.Functions) {
		panic(fmt.Sprintf("%s: function index %d out of range", f.Name, index))
	}
	return f.Functions[index]
}

// Disassemble renders the function and its nested functions.
func (f *CompiledFunction) Disassemble() string {
	var sb strings.Builder
	f.disassembleInto(&sb, "")
	return sb.String()
}

func (f *CompiledFunction) disassembleInto(sb *strings.Builder, path string) {
	name := f.Name
	if name == "" {
		name = "<anonymous>"
	}
	fmt.Fprintf(sb, "function %s%s(%s)", path, name, strings.Join(f.Formals, ", "))
	if len(f.Locals) > 0 {
		fmt.Fprintf(sb, " locals [%s]", strings.Join(f.Locals, ", "))
	}
	fmt.Fprintf(sb, " frame %d", f.FrameSize)
	if f.Strict {
		sb.WriteString(" strict")
	}
	if f.SimpleCall {
		sb.WriteString(" simple")
	}
	sb.WriteByte('\n')
	if len(f.Code) > 0 {
		sb.WriteString(Disassemble(f.Code, f.Strings))
		sb.WriteByte('\n')
	}
	for i, nested := range f.Functions {
		sb.WriteByte('\n')
		nested.disassembleInto(sb, fmt.Sprintf("%sfn%d:", path, i))
	}
}

// ---------------------------------------------------------------------------
// FunctionBuilder
// ---------------------------------------------------------------------------

// FunctionBuilder assembles a CompiledFunction: the bytecode buffer plus the
// deduplicated string table and the nested function table.
type FunctionBuilder struct {
	fn        *CompiledFunction
	code      *BytecodeBuilder
	stringIdx map[string]int
	funcIdx   map[any]int
}

// NewFunctionBuilder starts a function with the given metadata.
func NewFunctionBuilder(name string, formals, locals []string) *FunctionBuilder {
	return &FunctionBuilder{
		fn: &CompiledFunction{
			Name:    name,
			Formals: append([]string(nil), formals...),
			Locals:  append([]string(nil), locals...),
		},
		code:      NewBytecodeBuilder(),
		stringIdx: make(map[string]int),
		funcIdx:   make(map[any]int),
	}
}

// SetFlags records the strict, named-expression and simple-call flags.
func (b *FunctionBuilder) SetFlags(strict, named, simple bool) *FunctionBuilder {
	b.fn.Strict = strict
	b.fn.NamedExpression = named
	b.fn.SimpleCall = simple
	return b
}

// SetFrameSize records the frame size carried by the leading PUSH.
func (b *FunctionBuilder) SetFrameSize(n int) *FunctionBuilder {
	b.fn.FrameSize = n
	return b
}

// Bytecode returns the underlying bytecode builder.
func (b *FunctionBuilder) Bytecode() *BytecodeBuilder {
	return b.code
}

// AddString interns s in the string table and returns its index.
func (b *FunctionBuilder) AddString(s string) int {
	if idx, ok := b.stringIdx[s]; ok {
		return idx
	}
	idx := len(b.fn.Strings)
	b.fn.Strings = append(b.fn.Strings, s)
	b.stringIdx[s] = idx
	return idx
}

// FunctionIndex returns the index previously registered for key.
func (b *FunctionBuilder) FunctionIndex(key any) (int, bool) {
	idx, ok := b.funcIdx[key]
	return idx, ok
}

// AddFunction appends a nested function, remembered under key so repeated
// closures over the same literal share one entry.
func (b *FunctionBuilder) AddFunction(key any, f *CompiledFunction) int {
	if idx, ok := b.funcIdx[key]; ok {
		return idx
	}
	idx := len(b.fn.Functions)
	b.fn.Functions = append(b.fn.Functions, f)
	b.funcIdx[key] = idx
	return idx
}

// Build returns the finished function.
func (b *FunctionBuilder) Build() *CompiledFunction {
	b.fn.Code = b.code.Bytes()
	return b.fn
}
