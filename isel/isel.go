// Package isel lowers IR functions into bytecode for the accumulator
// interpreter in package vm.
//
// Blocks are emitted in layout order. Branches are emitted with a zero
// displacement and recorded in a patch table keyed by target block; once
// every block has an address the table is resolved in one pass.
package isel

import (
	"errors"
	"fmt"
	"math"

	"github.com/tliron/commonlog"

	"github.com/chazu/moth/ir"
	"github.com/chazu/moth/vm"
)

var log = commonlog.GetLogger("moth.isel")

// ErrInternal matches every *InternalError.
var ErrInternal = errors.New("internal compiler error")

// InternalError reports IR the selector cannot lower. It is never a
// recoverable runtime condition: the IR producer violated a contract.
type InternalError struct {
	Function  string
	Construct string
}

func (e *InternalError) Error() string {
	name := e.Function
	if name == "" {
		name = "<anonymous>"
	}
	return fmt.Sprintf("isel: %s: %s", name, e.Construct)
}

func (e *InternalError) Unwrap() error { return ErrInternal }

// ---------------------------------------------------------------------------
// Operator tables
// ---------------------------------------------------------------------------

var unaryOps = map[ir.AluOp]vm.ALU{
	ir.OpNot:    vm.ALUNot,
	ir.OpUMinus: vm.ALUUMinus,
	ir.OpUPlus:  vm.ALUUPlus,
	ir.OpCompl:  vm.ALUCompl,
}

var binaryOps = map[ir.AluOp]vm.ALU{
	ir.OpBitAnd:         vm.ALUBitAnd,
	ir.OpBitOr:          vm.ALUBitOr,
	ir.OpBitXor:         vm.ALUBitXor,
	ir.OpAdd:            vm.ALUAdd,
	ir.OpSub:            vm.ALUSub,
	ir.OpMul:            vm.ALUMul,
	ir.OpDiv:            vm.ALUDiv,
	ir.OpMod:            vm.ALUMod,
	ir.OpLShift:         vm.ALUShl,
	ir.OpRShift:         vm.ALUShr,
	ir.OpURShift:        vm.ALUUShr,
	ir.OpGt:             vm.ALUGt,
	ir.OpLt:             vm.ALULt,
	ir.OpGe:             vm.ALUGe,
	ir.OpLe:             vm.ALULe,
	ir.OpEqual:          vm.ALUEq,
	ir.OpNotEqual:       vm.ALUNe,
	ir.OpStrictEqual:    vm.ALUSe,
	ir.OpStrictNotEqual: vm.ALUSne,
	ir.OpInstanceof:     vm.ALUInstanceof,
	ir.OpIn:             vm.ALUIn,
}

// inplaceOps are the operators with a compound-assignment form on members
// and elements.
var inplaceOps = map[ir.AluOp]vm.ALU{
	ir.OpBitAnd:  vm.ALUBitAnd,
	ir.OpBitOr:   vm.ALUBitOr,
	ir.OpBitXor:  vm.ALUBitXor,
	ir.OpAdd:     vm.ALUAdd,
	ir.OpSub:     vm.ALUSub,
	ir.OpMul:     vm.ALUMul,
	ir.OpDiv:     vm.ALUDiv,
	ir.OpMod:     vm.ALUMod,
	ir.OpLShift:  vm.ALUShl,
	ir.OpRShift:  vm.ALUShr,
	ir.OpURShift: vm.ALUUShr,
}

var builtins = map[ir.Builtin]vm.Builtin{
	ir.BuiltinTypeof:                 vm.BuiltinTypeof,
	ir.BuiltinThrow:                  vm.BuiltinThrow,
	ir.BuiltinCreateExceptionHandler: vm.BuiltinCreateExceptionHandler,
	ir.BuiltinDeleteExceptionHandler: vm.BuiltinDeleteExceptionHandler,
	ir.BuiltinGetException:           vm.BuiltinGetException,
}

// ---------------------------------------------------------------------------
// Selector
// ---------------------------------------------------------------------------

// Select compiles fn and every closure it instantiates. On error no
// CompiledFunction is returned.
func Select(fn *ir.Function) (*vm.CompiledFunction, error) {
	return newSelector(make(map[*ir.Function]bool)).selectFunction(fn)
}

// SelectModule compiles the entry function of m.
func SelectModule(m *ir.Module) (*vm.CompiledFunction, error) {
	entry := m.Entry()
	if entry == nil {
		return nil, &InternalError{Construct: "module has no functions"}
	}
	return Select(entry)
}

type selector struct {
	active map[*ir.Function]bool // functions being compiled, for cycle detection

	fn        *ir.Function
	b         *vm.FunctionBuilder
	code      *vm.BytecodeBuilder
	frameSize int

	addrs   map[*ir.BasicBlock]int
	patches map[*ir.BasicBlock][]int
}

func newSelector(active map[*ir.Function]bool) *selector {
	return &selector{active: active}
}

func (s *selector) fail(format string, args ...any) error {
	return &InternalError{Function: s.fn.Name, Construct: fmt.Sprintf(format, args...)}
}

func (s *selector) selectFunction(fn *ir.Function) (*vm.CompiledFunction, error) {
	if s.active[fn] {
		return nil, &InternalError{Function: fn.Name, Construct: "function instantiates itself as a closure"}
	}
	s.active[fn] = true
	defer delete(s.active, fn)

	s.fn = fn
	s.b = vm.NewFunctionBuilder(fn.Name, fn.Formals, fn.Locals).
		SetFlags(fn.Strict, fn.IsNamedExpression, fn.SimpleCall)
	s.code = s.b.Bytecode()
	s.addrs = make(map[*ir.BasicBlock]int, len(fn.BasicBlocks))
	s.patches = make(map[*ir.BasicBlock][]int)

	s.frameSize = fn.TempCount - len(fn.Locals) + fn.MaxNumberOfArguments
	if s.frameSize < 0 {
		return nil, s.fail("negative frame size %d (temps %d, locals %d, args %d)",
			s.frameSize, fn.TempCount, len(fn.Locals), fn.MaxNumberOfArguments)
	}
	if int64(s.frameSize) > math.MaxUint32 {
		return nil, s.fail("frame size %d does not fit a u32 operand", s.frameSize)
	}
	s.b.SetFrameSize(s.frameSize)
	s.code.Emit(vm.OpPush, int64(s.frameSize))

	for pos, block := range fn.BasicBlocks {
		s.addrs[block] = s.code.Len()
		var next *ir.BasicBlock
		if pos+1 < len(fn.BasicBlocks) {
			next = fn.BasicBlocks[pos+1]
		}
		for _, stmt := range block.Statements {
			if err := s.visitStmt(stmt, next); err != nil {
				return nil, err
			}
		}
	}

	if err := s.resolvePatches(); err != nil {
		return nil, err
	}

	cf := s.b.Build()
	log.Debugf("selected %s: %d blocks, frame %d, %d bytes, %d closures",
		displayName(fn), len(fn.BasicBlocks), cf.FrameSize, len(cf.Code), len(cf.Functions))
	return cf, nil
}

func (s *selector) resolvePatches() error {
	for target, sites := range s.patches {
		addr, ok := s.addrs[target]
		if !ok {
			return s.fail("branch to block L%d outside the function", target.Index)
		}
		for _, site := range sites {
			s.code.Patch(site, addr)
		}
	}
	return nil
}

func displayName(fn *ir.Function) string {
	if fn.Name == "" {
		return "<anonymous>"
	}
	return fn.Name
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (s *selector) visitStmt(stmt ir.Stmt, next *ir.BasicBlock) error {
	switch stmt := stmt.(type) {
	case *ir.Exp:
		call, ok := stmt.Expr.(*ir.Call)
		if !ok {
			return s.fail("expression statement %s is not a call", stmt.Expr)
		}
		return s.call(call)

	case *ir.Move:
		return s.visitMove(stmt)

	case *ir.Jump:
		s.jump(vm.OpJump, stmt.Target)
		return nil

	case *ir.CJump:
		return s.visitCJump(stmt, next)

	case *ir.Ret:
		if stmt.Value == nil {
			return s.fail("return without a temp")
		}
		t, err := s.temp(stmt.Value)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpRet, t)
		return nil

	case *ir.Enter:
		return s.fail("unsupported statement %s", stmt)

	case *ir.Leave:
		return s.fail("unsupported statement %s", stmt)
	}
	return s.fail("unknown statement %T", stmt)
}

func (s *selector) jump(op vm.Opcode, target *ir.BasicBlock) {
	site := s.code.EmitJump(op)
	s.patches[target] = append(s.patches[target], site)
}

func (s *selector) visitCJump(stmt *ir.CJump, next *ir.BasicBlock) error {
	switch cond := stmt.Cond.(type) {
	case *ir.Temp:
		t, err := s.temp(cond)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpLoadTemp, t)
	case *ir.Binop:
		if err := s.binop(cond); err != nil {
			return err
		}
	default:
		return s.fail("unsupported branch condition %s", stmt.Cond)
	}

	s.jump(vm.OpCJump, stmt.IfTrue)
	if stmt.IfFalse != next {
		s.jump(vm.OpJump, stmt.IfFalse)
	}
	return nil
}

func (s *selector) visitMove(m *ir.Move) error {
	switch target := m.Target.(type) {
	case *ir.Temp:
		return s.moveToTemp(target, m)

	case *ir.Name:
		if m.Op != ir.OpInvalid {
			return s.fail("compound assignment to name %s", target)
		}
		if target.Builtin != ir.BuiltinInvalid {
			return s.fail("assignment to builtin %s", target)
		}
		src, ok := m.Source.(*ir.Temp)
		if !ok {
			return s.fail("assignment to name %s from non-temp %s", target, m.Source)
		}
		t, err := s.temp(src)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpLoadTemp, t)
		s.code.Emit(vm.OpStoreName, s.str(target.ID))
		return nil

	case *ir.Subscript:
		return s.moveToSubscript(target, m)

	case *ir.Member:
		return s.moveToMember(target, m)
	}
	return s.fail("unsupported move target %s", m.Target)
}

// moveToTemp evaluates the source into the accumulator and stores it.
func (s *selector) moveToTemp(target *ir.Temp, m *ir.Move) error {
	if m.Op != ir.OpInvalid {
		return s.fail("compound assignment to temp %s", target)
	}
	dst, err := s.temp(target)
	if err != nil {
		return err
	}

	switch src := m.Source.(type) {
	case *ir.Name:
		if src.Builtin != ir.BuiltinInvalid {
			return s.fail("builtin %s used as a value", src)
		}
		if src.ID == "this" {
			s.code.Emit(vm.OpLoadThis)
		} else {
			s.code.Emit(vm.OpLoadName, s.str(src.ID))
		}

	case *ir.Const:
		switch src.Type {
		case ir.UndefinedType:
			s.code.Emit(vm.OpLoadUndefined)
		case ir.NullType:
			s.code.Emit(vm.OpLoadNull)
		case ir.BoolType:
			if src.Value != 0 {
				s.code.Emit(vm.OpLoadTrue)
			} else {
				s.code.Emit(vm.OpLoadFalse)
			}
		case ir.NumberType:
			s.code.EmitNumber(src.Value)
		default:
			return s.fail("constant of invalid type")
		}

	case *ir.Temp:
		t, err := s.temp(src)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpLoadTemp, t)

	case *ir.String:
		s.code.Emit(vm.OpLoadString, s.str(src.Value))

	case *ir.Closure:
		idx, err := s.closure(src)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpLoadClosure, idx)

	case *ir.New:
		if err := s.construct(src); err != nil {
			return err
		}

	case *ir.Member:
		base, err := s.tempExpr(src.Base)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpLoadProperty, base, s.str(src.Name))

	case *ir.Subscript:
		base, index, err := s.subscript(src)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpLoadElement, base, index)

	case *ir.Unop:
		alu, ok := unaryOps[src.Op]
		if !ok {
			return s.fail("unary operator %s has no native form", src.Op)
		}
		e, err := s.tempExpr(src.Expr)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpUnop, int64(alu), e)

	case *ir.Binop:
		if err := s.binop(src); err != nil {
			return err
		}

	case *ir.Call:
		if err := s.call(src); err != nil {
			return err
		}

	default:
		return s.fail("unsupported move source %s", m.Source)
	}

	s.code.Emit(vm.OpStoreTemp, dst)
	return nil
}

func (s *selector) moveToSubscript(target *ir.Subscript, m *ir.Move) error {
	src, ok := m.Source.(*ir.Temp)
	if !ok {
		return s.fail("element store from non-temp %s", m.Source)
	}
	base, index, err := s.subscript(target)
	if err != nil {
		return err
	}
	source, err := s.temp(src)
	if err != nil {
		return err
	}

	if m.Op == ir.OpInvalid {
		s.code.Emit(vm.OpLoadTemp, source)
		s.code.Emit(vm.OpStoreElement, base, index)
		return nil
	}
	alu, ok := inplaceOps[m.Op]
	if !ok {
		return s.fail("operator %s has no in-place element form", m.Op)
	}
	s.code.Emit(vm.OpInplaceElementOp, int64(alu), base, index, source)
	return nil
}

func (s *selector) moveToMember(target *ir.Member, m *ir.Move) error {
	src, ok := m.Source.(*ir.Temp)
	if !ok {
		return s.fail("member store from non-temp %s", m.Source)
	}
	base, err := s.tempExpr(target.Base)
	if err != nil {
		return err
	}
	source, err := s.temp(src)
	if err != nil {
		return err
	}

	if m.Op == ir.OpInvalid {
		s.code.Emit(vm.OpLoadTemp, source)
		s.code.Emit(vm.OpStoreProperty, base, s.str(target.Name))
		return nil
	}
	alu, ok := inplaceOps[m.Op]
	if !ok {
		return s.fail("operator %s has no in-place member form", m.Op)
	}
	s.code.Emit(vm.OpInplaceMemberOp, int64(alu), base, s.str(target.Name), source)
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (s *selector) binop(b *ir.Binop) error {
	alu, ok := binaryOps[b.Op]
	if !ok {
		return s.fail("binary operator %s has no native form", b.Op)
	}
	if b.Left == nil || b.Right == nil {
		return s.fail("binary operator %s with a missing operand", b.Op)
	}
	lhs, err := s.temp(b.Left)
	if err != nil {
		return err
	}
	rhs, err := s.temp(b.Right)
	if err != nil {
		return err
	}
	s.code.Emit(vm.OpBinop, int64(alu), lhs, rhs)
	return nil
}

// call lowers a call into the accumulator, dispatching on the callee shape.
func (s *selector) call(c *ir.Call) error {
	switch base := c.Base.(type) {
	case *ir.Name:
		if base.Builtin != ir.BuiltinInvalid {
			return s.callBuiltin(base.Builtin, c.Args)
		}
		s.code.Emit(vm.OpLoadName, s.str(base.ID))
		argc, argv, err := s.prepareCallArgs(c.Args)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpCallValue, argc, argv)

	case *ir.Temp:
		t, err := s.temp(base)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpLoadTemp, t)
		argc, argv, err := s.prepareCallArgs(c.Args)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpCallValue, argc, argv)

	case *ir.Member:
		t, err := s.tempExpr(base.Base)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpLoadTemp, t)
		argc, argv, err := s.prepareCallArgs(c.Args)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpCallProperty, s.str(base.Name), argc, argv)

	default:
		return s.fail("unsupported callee %s", c.Base)
	}
	return nil
}

func (s *selector) callBuiltin(b ir.Builtin, args []ir.Expr) error {
	if b == ir.BuiltinDelete {
		return s.deleteBuiltin(args)
	}
	vb, ok := builtins[b]
	if !ok {
		return s.fail("unknown builtin %s", b)
	}

	switch b {
	case ir.BuiltinTypeof, ir.BuiltinThrow:
		if len(args) != 1 {
			return s.fail("builtin %s takes one argument, got %d", b, len(args))
		}
		argc, argv, err := s.prepareCallArgs(args)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpCallBuiltin, int64(vb), argc, argv)
	default:
		if len(args) != 0 {
			return s.fail("builtin %s takes no arguments", b)
		}
		s.code.Emit(vm.OpCallBuiltin, int64(vb), 0, 0)
	}
	return nil
}

// deleteBuiltin lowers delete by the shape of its operand. Deleting
// anything but a reference yields true.
func (s *selector) deleteBuiltin(args []ir.Expr) error {
	if len(args) != 1 {
		return s.fail("builtin delete takes one argument, got %d", len(args))
	}
	switch arg := args[0].(type) {
	case *ir.Name:
		s.code.Emit(vm.OpDeleteName, s.str(arg.ID))
	case *ir.Member:
		base, err := s.tempExpr(arg.Base)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpDeleteMember, base, s.str(arg.Name))
	case *ir.Subscript:
		base, index, err := s.subscript(arg)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpDeleteElement, base, index)
	case *ir.Temp:
		if _, err := s.temp(arg); err != nil {
			return err
		}
		s.code.Emit(vm.OpLoadTrue)
	default:
		return s.fail("unsupported delete operand %s", args[0])
	}
	return nil
}

func (s *selector) construct(n *ir.New) error {
	switch base := n.Base.(type) {
	case *ir.Name:
		if base.Builtin != ir.BuiltinInvalid {
			return s.fail("builtin %s used as a constructor", base)
		}
		argc, argv, err := s.prepareCallArgs(n.Args)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpCreateActivationProperty, s.str(base.ID), argc, argv)

	case *ir.Member:
		t, err := s.tempExpr(base.Base)
		if err != nil {
			return err
		}
		argc, argv, err := s.prepareCallArgs(n.Args)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpCreateProperty, t, s.str(base.Name), argc, argv)

	case *ir.Temp:
		t, err := s.temp(base)
		if err != nil {
			return err
		}
		argc, argv, err := s.prepareCallArgs(n.Args)
		if err != nil {
			return err
		}
		s.code.Emit(vm.OpCreateValue, t, argc, argv)

	default:
		return s.fail("unsupported constructor %s", n.Base)
	}
	return nil
}

// prepareCallArgs returns the (argc, base temp) pair for a call. A single
// argument already inside the frame is passed in place; otherwise each
// argument is moved, left to right, into the staging slots that start at
// TempCount - len(Locals).
func (s *selector) prepareCallArgs(args []ir.Expr) (argc, argv int64, err error) {
	if len(args) == 0 {
		return 0, 0, nil
	}

	temps := make([]int64, len(args))
	for i, a := range args {
		if temps[i], err = s.tempExpr(a); err != nil {
			return 0, 0, err
		}
	}

	if len(temps) == 1 && temps[0] < int64(s.frameSize) {
		return 1, temps[0], nil
	}

	if len(args) > s.fn.MaxNumberOfArguments {
		return 0, 0, s.fail("call with %d arguments exceeds declared maximum %d", len(args), s.fn.MaxNumberOfArguments)
	}
	base := int64(s.fn.StagingBase())
	if base < 0 {
		return 0, 0, s.fail("negative staging base %d", base)
	}
	for i, t := range temps {
		s.code.Emit(vm.OpMoveTemp, t, base+int64(i))
	}
	return int64(len(temps)), base, nil
}

func (s *selector) closure(c *ir.Closure) (int64, error) {
	if c.Value == nil {
		return 0, s.fail("closure without a function")
	}
	if s.fn.SimpleCall {
		// a simple call context is recycled on return and cannot be captured
		return 0, s.fail("closure %s inside a simple-call function", displayName(c.Value))
	}
	if idx, ok := s.b.FunctionIndex(c.Value); ok {
		return int64(idx), nil
	}
	nested, err := newSelector(s.active).selectFunction(c.Value)
	if err != nil {
		return 0, err
	}
	return int64(s.b.AddFunction(c.Value, nested)), nil
}

func (s *selector) subscript(ss *ir.Subscript) (base, index int64, err error) {
	if base, err = s.tempExpr(ss.Base); err != nil {
		return 0, 0, err
	}
	if index, err = s.tempExpr(ss.Index); err != nil {
		return 0, 0, err
	}
	return base, index, nil
}

// tempExpr requires e to be a temp and returns its index.
func (s *selector) tempExpr(e ir.Expr) (int64, error) {
	t, ok := e.(*ir.Temp)
	if !ok {
		return 0, s.fail("expected a temp, got %s", e)
	}
	return s.temp(t)
}

// temp checks t against both the declared temp count and the frame the
// function pushes. Temps past the frame would index outside it at run time.
func (s *selector) temp(t *ir.Temp) (int64, error) {
	if t.Index < 0 || t.Index >= s.fn.TempCount {
		return 0, s.fail("temp %s outside [0, %d)", t, s.fn.TempCount)
	}
	if t.Index >= s.frameSize {
		return 0, s.fail("temp %s outside frame of %d slots", t, s.frameSize)
	}
	return int64(t.Index), nil
}

func (s *selector) str(text string) int64 {
	return int64(s.b.AddString(text))
}
