// Package ir defines the three-address intermediate representation consumed
// by the instruction selector.
//
// A Function is an ordered list of basic blocks. Each block holds statements
// over temps (virtual registers), names, constants, and member, subscript and
// call expressions. Blocks are indexed consecutively from zero in layout order.
package ir

import "fmt"

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// AluOp identifies a unary, binary or compound-assignment operator.
type AluOp int

const (
	OpInvalid AluOp = iota

	OpIfTrue
	OpNot
	OpUMinus
	OpUPlus
	OpCompl

	OpBitAnd
	OpBitOr
	OpBitXor

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod

	OpLShift
	OpRShift
	OpURShift

	OpGt
	OpLt
	OpGe
	OpLe
	OpEqual
	OpNotEqual
	OpStrictEqual
	OpStrictNotEqual

	OpInstanceof
	OpIn

	OpAnd
	OpOr
)

var aluOpNames = map[AluOp]string{
	OpInvalid:        "invalid",
	OpIfTrue:         "iftrue",
	OpNot:            "not",
	OpUMinus:         "uminus",
	OpUPlus:          "uplus",
	OpCompl:          "compl",
	OpBitAnd:         "bitand",
	OpBitOr:          "bitor",
	OpBitXor:         "bitxor",
	OpAdd:            "add",
	OpSub:            "sub",
	OpMul:            "mul",
	OpDiv:            "div",
	OpMod:            "mod",
	OpLShift:         "shl",
	OpRShift:         "shr",
	OpURShift:        "ushr",
	OpGt:             "gt",
	OpLt:             "lt",
	OpGe:             "ge",
	OpLe:             "le",
	OpEqual:          "eq",
	OpNotEqual:       "ne",
	OpStrictEqual:    "se",
	OpStrictNotEqual: "sne",
	OpInstanceof:     "instanceof",
	OpIn:             "in",
	OpAnd:            "and",
	OpOr:             "or",
}

var aluOpsByName = func() map[string]AluOp {
	m := make(map[string]AluOp, len(aluOpNames))
	for op, name := range aluOpNames {
		m[name] = op
	}
	return m
}()

func (op AluOp) String() string {
	if name, ok := aluOpNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// ParseAluOp returns the operator with the given name.
func ParseAluOp(name string) (AluOp, bool) {
	op, ok := aluOpsByName[name]
	return op, ok
}

// Builtin identifies compiler intrinsics reachable through a Name callee.
type Builtin int

const (
	BuiltinInvalid Builtin = iota
	BuiltinTypeof
	BuiltinDelete
	BuiltinThrow
	BuiltinCreateExceptionHandler
	BuiltinDeleteExceptionHandler
	BuiltinGetException
)

var builtinNames = map[Builtin]string{
	BuiltinTypeof:                 "typeof",
	BuiltinDelete:                 "delete",
	BuiltinThrow:                  "throw",
	BuiltinCreateExceptionHandler: "create_exception_handler",
	BuiltinDeleteExceptionHandler: "delete_exception_handler",
	BuiltinGetException:           "get_exception",
}

func (b Builtin) String() string {
	if name, ok := builtinNames[b]; ok {
		return name
	}
	return "builtin_invalid"
}

// ParseBuiltin returns the intrinsic with the given name.
func ParseBuiltin(name string) (Builtin, bool) {
	for b, n := range builtinNames {
		if n == name {
			return b, true
		}
	}
	return BuiltinInvalid, false
}

// ConstType is the primitive kind carried by a Const.
type ConstType int

const (
	InvalidType ConstType = iota
	UndefinedType
	NullType
	BoolType
	NumberType
)

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// Expr is any IR expression.
type Expr interface {
	fmt.Stringer
	isExpr()
}

// Temp is a virtual register: an index into the function's frame.
type Temp struct {
	Index int
}

// Name is a free identifier, or a compiler intrinsic when Builtin is set.
type Name struct {
	ID      string
	Builtin Builtin
}

// Const is a primitive literal. Bool values are stored as 0 or 1.
type Const struct {
	Type  ConstType
	Value float64
}

// String is a string literal.
type String struct {
	Value string
}

// Closure instantiates a nested function.
type Closure struct {
	Value *Function
}

// New constructs an object using Base as the constructor.
type New struct {
	Base Expr
	Args []Expr
}

// Call invokes Base.
type Call struct {
	Base Expr
	Args []Expr
}

// Member is a named property access on a temp.
type Member struct {
	Base Expr
	Name string
}

// Subscript is an indexed property access.
type Subscript struct {
	Base  Expr
	Index Expr
}

// Unop applies a unary operator.
type Unop struct {
	Op   AluOp
	Expr Expr
}

// Binop applies a binary operator to two temps.
type Binop struct {
	Op    AluOp
	Left  *Temp
	Right *Temp
}

func (*Temp) isExpr()      {}
func (*Name) isExpr()      {}
func (*Const) isExpr()     {}
func (*String) isExpr()    {}
func (*Closure) isExpr()   {}
func (*New) isExpr()       {}
func (*Call) isExpr()      {}
func (*Member) isExpr()    {}
func (*Subscript) isExpr() {}
func (*Unop) isExpr()      {}
func (*Binop) isExpr()     {}

// Number returns a numeric constant.
func Number(v float64) *Const { return &Const{Type: NumberType, Value: v} }

// Bool returns a boolean constant.
func Bool(v bool) *Const {
	if v {
		return &Const{Type: BoolType, Value: 1}
	}
	return &Const{Type: BoolType}
}

// Undefined returns the undefined constant.
func Undefined() *Const { return &Const{Type: UndefinedType} }

// Null returns the null constant.
func Null() *Const { return &Const{Type: NullType} }

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// Stmt is any IR statement.
type Stmt interface {
	fmt.Stringer
	isStmt()
}

// Exp evaluates an expression for its side effects.
type Exp struct {
	Expr Expr
}

// Move assigns Source to Target. A non-invalid Op makes it a compound
// assignment (target op= source).
type Move struct {
	Target Expr
	Source Expr
	Op     AluOp
}

// Jump transfers control unconditionally.
type Jump struct {
	Target *BasicBlock
}

// CJump branches on Cond.
type CJump struct {
	Cond    Expr
	IfTrue  *BasicBlock
	IfFalse *BasicBlock
}

// Ret returns the value of a temp.
type Ret struct {
	Value *Temp
}

// Enter opens a lexical scope.
type Enter struct {
	Expr Expr
}

// Leave closes the innermost lexical scope opened by Enter.
type Leave struct{}

func (*Exp) isStmt()   {}
func (*Move) isStmt()  {}
func (*Jump) isStmt()  {}
func (*CJump) isStmt() {}
func (*Ret) isStmt()   {}
func (*Enter) isStmt() {}
func (*Leave) isStmt() {}

// ---------------------------------------------------------------------------
// Blocks and functions
// ---------------------------------------------------------------------------

// BasicBlock is a straight-line statement sequence ending in a control
// transfer.
type BasicBlock struct {
	Index      int
	Statements []Stmt
}

// Terminated reports whether the block already ends in a jump or return.
func (b *BasicBlock) Terminated() bool {
	if len(b.Statements) == 0 {
		return false
	}
	switch b.Statements[len(b.Statements)-1].(type) {
	case *Jump, *CJump, *Ret:
		return true
	}
	return false
}

func (b *BasicBlock) append(s Stmt) Stmt {
	if b.Terminated() {
		panic(fmt.Sprintf("ir: statement appended to terminated block L%d", b.Index))
	}
	b.Statements = append(b.Statements, s)
	return s
}

// Exp appends an expression statement.
func (b *BasicBlock) Exp(e Expr) {
	b.append(&Exp{Expr: e})
}

// Move appends a plain assignment.
func (b *BasicBlock) Move(target, source Expr) {
	b.append(&Move{Target: target, Source: source})
}

// MoveOp appends a compound assignment.
func (b *BasicBlock) MoveOp(target, source Expr, op AluOp) {
	b.append(&Move{Target: target, Source: source, Op: op})
}

// Jump terminates the block with an unconditional jump.
func (b *BasicBlock) Jump(target *BasicBlock) {
	b.append(&Jump{Target: target})
}

// CJump terminates the block with a conditional jump.
func (b *BasicBlock) CJump(cond Expr, iftrue, iffalse *BasicBlock) {
	b.append(&CJump{Cond: cond, IfTrue: iftrue, IfFalse: iffalse})
}

// Ret terminates the block with a return.
func (b *BasicBlock) Ret(t *Temp) {
	b.append(&Ret{Value: t})
}

// Function is the IR for one function literal.
//
// TempCount covers every temp the body uses plus one slot per declared local;
// the top len(Locals) slots are the outgoing argument staging area.
type Function struct {
	Name                 string
	Formals              []string
	Locals               []string
	TempCount            int
	MaxNumberOfArguments int
	Strict               bool

	// IsNamedExpression marks a named function expression, whose own name
	// resolves to the function value inside its body.
	IsNamedExpression bool

	// SimpleCall is supplied by an external analysis. When set, the function
	// never captures its scope, reads arguments or calls eval, and may run in
	// a pooled call context.
	SimpleCall bool

	BasicBlocks []*BasicBlock
}

// NewFunction creates an empty function.
func NewFunction(name string) *Function {
	return &Function{Name: name}
}

// NewBasicBlock appends a block and returns it.
func (f *Function) NewBasicBlock() *BasicBlock {
	b := &BasicBlock{Index: len(f.BasicBlocks)}
	f.BasicBlocks = append(f.BasicBlocks, b)
	return b
}

// NewTemp allocates a fresh temp.
func (f *Function) NewTemp() *Temp {
	t := &Temp{Index: f.TempCount}
	f.TempCount++
	return t
}

// StagingBase returns the first temp of the argument staging range.
func (f *Function) StagingBase() int {
	return f.TempCount - len(f.Locals)
}

// Closures returns the functions instantiated by Closure expressions in the
// body, in first-use order.
func (f *Function) Closures() []*Function {
	var out []*Function
	seen := make(map[*Function]bool)
	var visit func(e Expr)
	visit = func(e Expr) {
		switch e := e.(type) {
		case *Closure:
			if e.Value != nil && !seen[e.Value] {
				seen[e.Value] = true
				out = append(out, e.Value)
			}
		case *New:
			visit(e.Base)
			for _, a := range e.Args {
				visit(a)
			}
		case *Call:
			visit(e.Base)
			for _, a := range e.Args {
				visit(a)
			}
		case *Member:
			visit(e.Base)
		case *Subscript:
			visit(e.Base)
			visit(e.Index)
		case *Unop:
			visit(e.Expr)
		}
	}
	for _, b := range f.BasicBlocks {
		for _, s := range b.Statements {
			switch s := s.(type) {
			case *Exp:
				visit(s.Expr)
			case *Move:
				visit(s.Target)
				visit(s.Source)
			case *CJump:
				visit(s.Cond)
			case *Enter:
				visit(s.Expr)
			}
		}
	}
	return out
}
