package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// unitEncMode uses canonical CBOR so equal units encode to equal bytes.
var unitEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	unitEncMode = em
}

// MarshalUnit serializes a compiled function tree to CBOR bytes.
func MarshalUnit(f *CompiledFunction) ([]byte, error) {
	return unitEncMode.Marshal(f)
}

// UnmarshalUnit deserializes and verifies a compiled function tree.
func UnmarshalUnit(data []byte) (*CompiledFunction, error) {
	var f CompiledFunction
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("vm: unmarshal unit: %w", err)
	}
	if err := Verify(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// Verify checks that the code of f and its nested functions decodes into
// whole instructions, that it starts with PUSH of the frame size, that
// every operand index is in range, and that every branch lands on an
// instruction boundary.
func Verify(f *CompiledFunction) error {
	if len(f.Code) == 0 {
		return fmt.Errorf("vm: verify %s: empty code", f.Name)
	}

	starts := make(map[int]bool)
	var targets []int
	pos := 0
	for pos < len(f.Code) {
		op := Opcode(f.Code[pos])
		if !op.Valid() {
			return fmt.Errorf("vm: verify %s: invalid opcode 0x%02X at %d", f.Name, byte(op), pos)
		}
		if pos+op.Size() > len(f.Code) {
			return fmt.Errorf("vm: verify %s: truncated %s at %d", f.Name, op, pos)
		}
		starts[pos] = true

		r := NewBytecodeReader(f.Code)
		r.Seek(pos + 1)
		push, argc := -1, -1
		for _, kind := range op.Info().Operands {
			switch kind {
			case OperandCount:
				argc = r.ReadIndex()
				if op == OpPush {
					push, argc = argc, -1
				}
			case OperandTemp:
				t, n := r.ReadIndex(), 1
				if argc >= 0 {
					// argument base: the next argc temps must fit
					n, argc = argc, -1
				}
				if n > 0 && t+n > f.FrameSize {
					return fmt.Errorf("vm: verify %s: temp %%%d outside frame of %d at %d", f.Name, t, f.FrameSize, pos)
				}
			case OperandString:
				if i := r.ReadIndex(); i >= len(f.Strings) {
					return fmt.Errorf("vm: verify %s: string index %d out of range at %d", f.Name, i, pos)
				}
			case OperandFunction:
				if i := r.ReadIndex(); i >= len(f.Functions) {
					return fmt.Errorf("vm: verify %s: function index %d out of range at %d", f.Name, i, pos)
				}
			case OperandOffset:
				site := r.Position()
				targets = append(targets, site+int(r.ReadInt32()))
			default:
				r.Skip(kind.Size())
			}
		}
		if pos == f.Entry && push != f.FrameSize {
			return fmt.Errorf("vm: verify %s: entry is not PUSH %d", f.Name, f.FrameSize)
		}
		pos += op.Size()
	}

	if !starts[f.Entry] {
		return fmt.Errorf("vm: verify %s: entry %d is not an instruction", f.Name, f.Entry)
	}
	for _, t := range targets {
		if !starts[t] {
			return fmt.Errorf("vm: verify %s: branch to %d is not an instruction", f.Name, t)
		}
	}
	for _, nested := range f.Functions {
		if err := Verify(nested); err != nil {
			return err
		}
	}
	return nil
}
