package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
//
// Most instructions read or write the accumulator, the implicit top of
// evaluation. Temp operands index the current frame.
type Opcode byte

// Frame
const (
	OpNop  Opcode = 0x00 // no operation
	OpPush Opcode = 0x01 // reserve frame slots (u32 count)
)

// Loads and stores
const (
	OpLoadUndefined Opcode = 0x10 // acc = undefined
	OpLoadNull      Opcode = 0x11 // acc = null
	OpLoadTrue      Opcode = 0x12 // acc = true
	OpLoadFalse     Opcode = 0x13 // acc = false
	OpLoadNumber    Opcode = 0x14 // acc = f64
	OpLoadString    Opcode = 0x15 // acc = strings[u32]
	OpLoadClosure   Opcode = 0x16 // acc = new closure over functions[u32]
	OpLoadThis      Opcode = 0x17 // acc = this
	OpLoadName      Opcode = 0x18 // acc = resolve(strings[u32])
	OpStoreName     Opcode = 0x19 // assign(strings[u32], acc)
	OpLoadTemp      Opcode = 0x1A // acc = frame[u32]
	OpStoreTemp     Opcode = 0x1B // frame[u32] = acc
	OpMoveTemp      Opcode = 0x1C // frame[u32 to] = frame[u32 from]
)

// Properties
const (
	OpLoadProperty     Opcode = 0x20 // acc = frame[base].name
	OpStoreProperty    Opcode = 0x21 // frame[base].name = acc
	OpLoadElement      Opcode = 0x22 // acc = frame[base][frame[index]]
	OpStoreElement     Opcode = 0x23 // frame[base][frame[index]] = acc
	OpInplaceElementOp Opcode = 0x24 // frame[base][frame[index]] op= frame[source]
	OpInplaceMemberOp  Opcode = 0x25 // frame[base].name op= frame[source]
	OpDeleteName       Opcode = 0x26 // acc = delete name
	OpDeleteMember     Opcode = 0x27 // acc = delete frame[base].name
	OpDeleteElement    Opcode = 0x28 // acc = delete frame[base][frame[index]]
)

// Calls
const (
	OpCallValue                Opcode = 0x30 // acc = acc(args...)
	OpCallProperty             Opcode = 0x31 // acc = acc.name(args...)
	OpCallBuiltin              Opcode = 0x32 // acc = builtin(args...)
	OpCreateValue              Opcode = 0x33 // acc = new frame[func](args...)
	OpCreateProperty           Opcode = 0x34 // acc = new frame[base].name(args...)
	OpCreateActivationProperty Opcode = 0x35 // acc = new name(args...)
)

// Native operations
const (
	OpUnop  Opcode = 0x40 // acc = alu(frame[e])
	OpBinop Opcode = 0x41 // acc = alu(frame[lhs], frame[rhs])
)

// Control flow
const (
	OpJump  Opcode = 0x50 // pc = site + i32
	OpCJump Opcode = 0x51 // if ToBoolean(acc) pc = site + i32
	OpRet   Opcode = 0x52 // return frame[u32]
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// Operand is the kind of a single operand field.
type Operand byte

const (
	OperandTemp     Operand = iota // u32 frame index
	OperandCount                   // u32
	OperandString                  // u32 index into the string table
	OperandFunction                // u32 index into the nested function table
	OperandNumber                  // f64
	OperandALU                     // u8 native operation
	OperandBuiltin                 // u8 intrinsic
	OperandOffset                  // i32 relative displacement
)

// Size returns the encoded size of the operand in bytes.
func (o Operand) Size() int {
	switch o {
	case OperandNumber:
		return 8
	case OperandALU, OperandBuiltin:
		return 1
	}
	return 4
}

// Fits reports whether v can be encoded in an operand of kind o without
// wrapping. Numbers carry float64 bits and always fit.
func (o Operand) Fits(v int64) bool {
	switch o {
	case OperandNumber:
		return true
	case OperandALU, OperandBuiltin:
		return v >= 0 && v <= math.MaxUint8
	case OperandOffset:
		return v >= math.MinInt32 && v <= math.MaxInt32
	}
	return v >= 0 && v <= math.MaxUint32
}

var operandNames = map[Operand]string{
	OperandTemp:     "temp",
	OperandCount:    "count",
	OperandString:   "string",
	OperandFunction: "function",
	OperandNumber:   "number",
	OperandALU:      "alu",
	OperandBuiltin:  "builtin",
	OperandOffset:   "offset",
}

func (o Operand) String() string {
	if name, ok := operandNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Operand(%d)", byte(o))
}

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string    // human-readable name
	Operands []Operand // operand fields in encoding order
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:  {"NOP", nil},
	OpPush: {"PUSH", []Operand{OperandCount}},

	OpLoadUndefined: {"LOAD_UNDEFINED", nil},
	OpLoadNull:      {"LOAD_NULL", nil},
	OpLoadTrue:      {"LOAD_TRUE", nil},
	OpLoadFalse:     {"LOAD_FALSE", nil},
	OpLoadNumber:    {"LOAD_NUMBER", []Operand{OperandNumber}},
	OpLoadString:    {"LOAD_STRING", []Operand{OperandString}},
	OpLoadClosure:   {"LOAD_CLOSURE", []Operand{OperandFunction}},
	OpLoadThis:      {"LOAD_THIS", nil},
	OpLoadName:      {"LOAD_NAME", []Operand{OperandString}},
	OpStoreName:     {"STORE_NAME", []Operand{OperandString}},
	OpLoadTemp:      {"LOAD_TEMP", []Operand{OperandTemp}},
	OpStoreTemp:     {"STORE_TEMP", []Operand{OperandTemp}},
	OpMoveTemp:      {"MOVE_TEMP", []Operand{OperandTemp, OperandTemp}},

	OpLoadProperty:     {"LOAD_PROPERTY", []Operand{OperandTemp, OperandString}},
	OpStoreProperty:    {"STORE_PROPERTY", []Operand{OperandTemp, OperandString}},
	OpLoadElement:      {"LOAD_ELEMENT", []Operand{OperandTemp, OperandTemp}},
	OpStoreElement:     {"STORE_ELEMENT", []Operand{OperandTemp, OperandTemp}},
	OpInplaceElementOp: {"INPLACE_ELEMENT_OP", []Operand{OperandALU, OperandTemp, OperandTemp, OperandTemp}},
	OpInplaceMemberOp:  {"INPLACE_MEMBER_OP", []Operand{OperandALU, OperandTemp, OperandString, OperandTemp}},
	OpDeleteName:       {"DELETE_NAME", []Operand{OperandString}},
	OpDeleteMember:     {"DELETE_MEMBER", []Operand{OperandTemp, OperandString}},
	OpDeleteElement:    {"DELETE_ELEMENT", []Operand{OperandTemp, OperandTemp}},

	OpCallValue:                {"CALL_VALUE", []Operand{OperandCount, OperandTemp}},
	OpCallProperty:             {"CALL_PROPERTY", []Operand{OperandString, OperandCount, OperandTemp}},
	OpCallBuiltin:              {"CALL_BUILTIN", []Operand{OperandBuiltin, OperandCount, OperandTemp}},
	OpCreateValue:              {"CREATE_VALUE", []Operand{OperandTemp, OperandCount, OperandTemp}},
	OpCreateProperty:           {"CREATE_PROPERTY", []Operand{OperandTemp, OperandString, OperandCount, OperandTemp}},
	OpCreateActivationProperty: {"CREATE_ACTIVATION_PROPERTY", []Operand{OperandString, OperandCount, OperandTemp}},

	OpUnop:  {"UNOP", []Operand{OperandALU, OperandTemp}},
	OpBinop: {"BINOP", []Operand{OperandALU, OperandTemp, OperandTemp}},

	OpJump:  {"JUMP", []Operand{OperandOffset}},
	OpCJump: {"CJUMP", []Operand{OperandOffset}},
	OpRet:   {"RET", []Operand{OperandTemp}},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// OperandBytes returns the number of operand bytes for an opcode.
func (op Opcode) OperandBytes() int {
	n := 0
	for _, o := range op.Info().Operands {
		n += o.Size()
	}
	return n
}

// Size returns the encoded size of a whole instruction.
func (op Opcode) Size() int {
	return 1 + op.OperandBytes()
}

// IsJump reports whether the instruction carries a branch displacement.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpCJump
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// AllOpcodes returns every defined opcode in ascending order.
func AllOpcodes() []Opcode {
	var ops []Opcode
	for i := 0; i < 256; i++ {
		if Opcode(i).Valid() {
			ops = append(ops, Opcode(i))
		}
	}
	return ops
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder appends encoded instructions to a growing buffer.
// Operands are little-endian.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode followed by its operands. The operand count and
// kinds must match the opcode's table entry. It returns the offset of the
// instruction.
func (b *BytecodeBuilder) Emit(op Opcode, operands ...int64) int {
	info, ok := opcodeTable[op]
	if !ok {
		panic(fmt.Sprintf("emit: unknown opcode 0x%02X", byte(op)))
	}
	if len(operands) != len(info.Operands) {
		panic(fmt.Sprintf("emit %s: want %d operands, got %d", info.Name, len(info.Operands), len(operands)))
	}
	pos := len(b.bytes)
	b.bytes = append(b.bytes, byte(op))
	for i, kind := range info.Operands {
		b.appendOperand(kind, operands[i])
	}
	return pos
}

// appendOperand panics when v does not fit the operand field; the builder
// never truncates.
func (b *BytecodeBuilder) appendOperand(kind Operand, v int64) {
	if !kind.Fits(v) {
		panic(fmt.Sprintf("emit: operand %d out of range for %s", v, kind))
	}
	switch kind.Size() {
	case 1:
		b.bytes = append(b.bytes, byte(v))
	case 4:
		b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(v))
	case 8:
		b.bytes = binary.LittleEndian.AppendUint64(b.bytes, uint64(v))
	}
}

// EmitNumber appends LOAD_NUMBER with an inline float64.
func (b *BytecodeBuilder) EmitNumber(v float64) int {
	return b.Emit(OpLoadNumber, int64(math.Float64bits(v)))
}

// EmitJump appends a jump with a zero placeholder displacement and returns
// the offset of the displacement field, the site a later Patch writes to.
func (b *BytecodeBuilder) EmitJump(op Opcode) int {
	if !op.IsJump() {
		panic(fmt.Sprintf("emit jump: %s is not a jump", op))
	}
	b.Emit(op, 0)
	return len(b.bytes) - OperandOffset.Size()
}

// Patch writes target-site into the displacement field at site.
func (b *BytecodeBuilder) Patch(site, target int) {
	if site < 0 || site+4 > len(b.bytes) {
		panic(fmt.Sprintf("patch site %d outside code of length %d", site, len(b.bytes)))
	}
	disp := int64(target - site)
	if !OperandOffset.Fits(disp) {
		panic(fmt.Sprintf("patch site %d: displacement %d out of range", site, disp))
	}
	binary.LittleEndian.PutUint32(b.bytes[site:], uint32(int32(disp)))
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// BytecodeReader reads bytecode for interpretation or disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc, pos: 0}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// ReadOpcode reads and returns the next opcode.
func (r *BytecodeReader) ReadOpcode() Opcode {
	return Opcode(r.ReadByte())
}

// ReadByte reads a single byte operand.
func (r *BytecodeReader) ReadByte() byte {
	if r.pos >= len(r.bytes) {
		panic("bytecode underflow")
	}
	b := r.bytes[r.pos]
	r.pos++
	return b
}

// ReadUint32 reads a 32-bit operand.
func (r *BytecodeReader) ReadUint32() uint32 {
	if r.pos+4 > len(r.bytes) {
		panic("bytecode underflow")
	}
	v := binary.LittleEndian.Uint32(r.bytes[r.pos:])
	r.pos += 4
	return v
}

// ReadInt32 reads a signed 32-bit operand.
func (r *BytecodeReader) ReadInt32() int32 {
	return int32(r.ReadUint32())
}

// ReadIndex reads a u32 operand as an int.
func (r *BytecodeReader) ReadIndex() int {
	return int(r.ReadUint32())
}

// ReadFloat64 reads a 64-bit float operand.
func (r *BytecodeReader) ReadFloat64() float64 {
	if r.pos+8 > len(r.bytes) {
		panic("bytecode underflow")
	}
	bits := binary.LittleEndian.Uint64(r.bytes[r.pos:])
	r.pos += 8
	return math.Float64frombits(bits)
}

// Skip advances the position by n bytes.
func (r *BytecodeReader) Skip(n int) {
	r.pos += n
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles a single instruction at the reader's
// position. strings resolves string operands; it may be nil.
func DisassembleInstruction(r *BytecodeReader, strs []string) string {
	pos := r.Position()
	op := r.ReadOpcode()
	info := op.Info()

	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d  %s", pos, info.Name)
	for _, kind := range info.Operands {
		switch kind {
		case OperandTemp:
			fmt.Fprintf(&sb, " %%%d", r.ReadUint32())
		case OperandCount:
			fmt.Fprintf(&sb, " %d", r.ReadUint32())
		case OperandString:
			idx := r.ReadIndex()
			if idx < len(strs) {
				fmt.Fprintf(&sb, " %q", strs[idx])
			} else {
				fmt.Fprintf(&sb, " s%d", idx)
			}
		case OperandFunction:
			fmt.Fprintf(&sb, " fn%d", r.ReadUint32())
		case OperandNumber:
			fmt.Fprintf(&sb, " %g", r.ReadFloat64())
		case OperandALU:
			fmt.Fprintf(&sb, " %s", ALU(r.ReadByte()))
		case OperandBuiltin:
			fmt.Fprintf(&sb, " %s", Builtin(r.ReadByte()))
		case OperandOffset:
			site := r.Position()
			offset := r.ReadInt32()
			fmt.Fprintf(&sb, " %d (-> %04d)", offset, site+int(offset))
		}
	}
	return sb.String()
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte, strs []string) string {
	r := NewBytecodeReader(bc)
	var lines []string
	for r.HasMore() {
		lines = append(lines, DisassembleInstruction(r, strs))
	}
	return strings.Join(lines, "\n")
}
