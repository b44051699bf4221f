package ir

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrDecode is wrapped by every error returned from Decode.
var ErrDecode = errors.New("ir: decode")

// DecodeError reports a malformed IR document. Line is 1-based, or 0 when the
// position is unknown.
type DecodeError struct {
	Line int
	Msg  string
}

func (e *DecodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

func (e *DecodeError) Unwrap() error { return ErrDecode }

func decodeErrorf(line int, format string, args ...any) error {
	return &DecodeError{Line: line, Msg: fmt.Sprintf(format, args...)}
}

// Module is a decoded IR document. The first function is the entry point.
type Module struct {
	Functions []*Function
}

// Entry returns the first function, or nil for an empty module.
func (m *Module) Entry() *Function {
	if len(m.Functions) == 0 {
		return nil
	}
	return m.Functions[0]
}

// Lookup finds a function by name.
func (m *Module) Lookup(name string) *Function {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Document shape
// ---------------------------------------------------------------------------

type document struct {
	Functions []functionDoc `yaml:"functions"`
}

type functionDoc struct {
	Name    string      `yaml:"name"`
	Formals []string    `yaml:"formals"`
	Locals  []string    `yaml:"locals"`
	Temps   *int        `yaml:"temps"`
	MaxArgs *int        `yaml:"max-args"`
	Strict  bool        `yaml:"strict"`
	Named   bool        `yaml:"named-expression"`
	Simple  bool        `yaml:"simple-call"`
	Blocks  [][]stmtDoc `yaml:"blocks"`
	Line    int         `yaml:"-"`
}

type stmtFields struct {
	Exp   *exprDoc  `yaml:"exp"`
	Move  *moveDoc  `yaml:"move"`
	Jump  *int      `yaml:"jump"`
	CJump *cjumpDoc `yaml:"cjump"`
	Ret   *exprDoc  `yaml:"ret"`
	Enter *exprDoc  `yaml:"enter"`
	Leave bool      `yaml:"leave"`
}

type stmtDoc struct {
	stmtFields
	line int
}

func (s *stmtDoc) UnmarshalYAML(n *yaml.Node) error {
	s.line = n.Line
	if n.Kind == yaml.ScalarNode && n.Value == "leave" {
		s.Leave = true
		return nil
	}
	return n.Decode(&s.stmtFields)
}

type moveDoc struct {
	To   exprDoc `yaml:"to"`
	From exprDoc `yaml:"from"`
	Op   string  `yaml:"op"`
}

type cjumpDoc struct {
	Cond  exprDoc `yaml:"cond"`
	True  int     `yaml:"true"`
	False int     `yaml:"false"`
}

type callDoc struct {
	Base exprDoc   `yaml:"base"`
	Args []exprDoc `yaml:"args"`
}

type memberDoc struct {
	Base exprDoc `yaml:"base"`
	Name string  `yaml:"name"`
}

type subscriptDoc struct {
	Base  exprDoc `yaml:"base"`
	Index exprDoc `yaml:"index"`
}

type unopDoc struct {
	Op   string  `yaml:"op"`
	Expr exprDoc `yaml:"expr"`
}

type binopDoc struct {
	Op    string  `yaml:"op"`
	Left  exprDoc `yaml:"left"`
	Right exprDoc `yaml:"right"`
}

type exprFields struct {
	Temp      *int          `yaml:"temp"`
	Name      *string       `yaml:"name"`
	Builtin   *string       `yaml:"builtin"`
	String    *string       `yaml:"string"`
	Closure   *string       `yaml:"closure"`
	New       *callDoc      `yaml:"new"`
	Call      *callDoc      `yaml:"call"`
	Member    *memberDoc    `yaml:"member"`
	Subscript *subscriptDoc `yaml:"subscript"`
	Unop      *unopDoc      `yaml:"unop"`
	Binop     *binopDoc     `yaml:"binop"`
}

// exprDoc accepts either a mapping or a scalar shorthand: "%3" is temp 3 and
// any other scalar is a name.
type exprDoc struct {
	exprFields
	scalar   string
	constant *string
	line     int
	set      bool
}

func (e *exprDoc) UnmarshalYAML(n *yaml.Node) error {
	e.line = n.Line
	e.set = true
	if n.Kind == yaml.ScalarNode {
		e.scalar = n.Value
		return nil
	}
	// const is read from the node directly; decoding a null scalar into a
	// pointer field would drop it.
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == "const" {
			text := n.Content[i+1].Value
			if text == "~" || text == "" {
				text = "null"
			}
			e.constant = &text
		}
	}
	return n.Decode(&e.exprFields)
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

// Decode parses a YAML IR document.
//
// Temps and max-args may be omitted; they are then computed from the body.
// Closures refer to other functions of the document by name.
func Decode(data []byte) (*Module, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, decodeErrorf(yamlErrorLine(err), "%v", err)
	}
	var doc document
	if err := root.Decode(&doc); err != nil {
		return nil, decodeErrorf(yamlErrorLine(err), "%v", err)
	}
	if len(doc.Functions) == 0 {
		return nil, decodeErrorf(0, "document declares no functions")
	}
	recordFunctionLines(&root, doc.Functions)

	d := &decoder{byName: make(map[string]*Function)}
	mod := &Module{}
	for i := range doc.Functions {
		fd := &doc.Functions[i]
		if fd.Name == "" {
			return nil, decodeErrorf(fd.Line, "function %d has no name", i)
		}
		if _, dup := d.byName[fd.Name]; dup {
			return nil, decodeErrorf(fd.Line, "duplicate function %q", fd.Name)
		}
		f := &Function{
			Name:              fd.Name,
			Formals:           fd.Formals,
			Locals:            fd.Locals,
			Strict:            fd.Strict,
			IsNamedExpression: fd.Named,
			SimpleCall:        fd.Simple,
		}
		for range fd.Blocks {
			f.NewBasicBlock()
		}
		d.byName[fd.Name] = f
		mod.Functions = append(mod.Functions, f)
	}
	for i := range doc.Functions {
		if err := d.function(&doc.Functions[i], mod.Functions[i]); err != nil {
			return nil, err
		}
	}
	return mod, nil
}

// recordFunctionLines copies source lines of each function mapping onto the
// decoded docs so that errors about a whole function can point at it.
func recordFunctionLines(root *yaml.Node, fns []functionDoc) {
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return
	}
	top := root.Content[0]
	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value != "functions" {
			continue
		}
		seq := top.Content[i+1]
		for j, n := range seq.Content {
			if j < len(fns) {
				fns[j].Line = n.Line
			}
		}
	}
}

func yamlErrorLine(err error) int {
	msg := err.Error()
	idx := strings.Index(msg, "line ")
	if idx < 0 {
		return 0
	}
	rest := msg[idx+len("line "):]
	end := strings.IndexFunc(rest, func(r rune) bool { return r < '0' || r > '9' })
	if end > 0 {
		rest = rest[:end]
	}
	n, _ := strconv.Atoi(rest)
	return n
}

type decoder struct {
	byName  map[string]*Function
	fn      *Function
	maxTemp int
	maxArgs int
}

func (d *decoder) function(fd *functionDoc, f *Function) error {
	d.fn = f
	d.maxTemp = -1
	d.maxArgs = 0
	for bi, stmts := range fd.Blocks {
		block := f.BasicBlocks[bi]
		for _, sd := range stmts {
			s, err := d.stmt(sd)
			if err != nil {
				return err
			}
			if block.Terminated() {
				return decodeErrorf(sd.line, "statement after terminator in block %d of %s", bi, f.Name)
			}
			block.Statements = append(block.Statements, s)
		}
	}
	if fd.MaxArgs != nil {
		f.MaxNumberOfArguments = *fd.MaxArgs
	} else {
		f.MaxNumberOfArguments = d.maxArgs
	}
	if fd.Temps != nil {
		f.TempCount = *fd.Temps
		if f.TempCount <= d.maxTemp {
			return decodeErrorf(fd.Line, "function %s uses temp %%%d but declares %d temps", f.Name, d.maxTemp, f.TempCount)
		}
	} else {
		f.TempCount = d.maxTemp + 1 + len(f.Locals)
	}
	return nil
}

func (d *decoder) block(line, index int) (*BasicBlock, error) {
	if index < 0 || index >= len(d.fn.BasicBlocks) {
		return nil, decodeErrorf(line, "block %d out of range in %s", index, d.fn.Name)
	}
	return d.fn.BasicBlocks[index], nil
}

func (d *decoder) stmt(sd stmtDoc) (Stmt, error) {
	switch {
	case sd.Exp != nil:
		e, err := d.expr(*sd.Exp)
		if err != nil {
			return nil, err
		}
		return &Exp{Expr: e}, nil

	case sd.Move != nil:
		target, err := d.expr(sd.Move.To)
		if err != nil {
			return nil, err
		}
		source, err := d.expr(sd.Move.From)
		if err != nil {
			return nil, err
		}
		m := &Move{Target: target, Source: source}
		if sd.Move.Op != "" {
			op, ok := ParseAluOp(sd.Move.Op)
			if !ok {
				return nil, decodeErrorf(sd.line, "unknown operator %q", sd.Move.Op)
			}
			m.Op = op
		}
		return m, nil

	case sd.Jump != nil:
		target, err := d.block(sd.line, *sd.Jump)
		if err != nil {
			return nil, err
		}
		return &Jump{Target: target}, nil

	case sd.CJump != nil:
		cond, err := d.expr(sd.CJump.Cond)
		if err != nil {
			return nil, err
		}
		t, err := d.block(sd.line, sd.CJump.True)
		if err != nil {
			return nil, err
		}
		f, err := d.block(sd.line, sd.CJump.False)
		if err != nil {
			return nil, err
		}
		return &CJump{Cond: cond, IfTrue: t, IfFalse: f}, nil

	case sd.Ret != nil:
		e, err := d.expr(*sd.Ret)
		if err != nil {
			return nil, err
		}
		t, ok := e.(*Temp)
		if !ok {
			return nil, decodeErrorf(sd.line, "return operand must be a temp, got %s", e)
		}
		return &Ret{Value: t}, nil

	case sd.Enter != nil:
		e, err := d.expr(*sd.Enter)
		if err != nil {
			return nil, err
		}
		return &Enter{Expr: e}, nil

	case sd.Leave:
		return &Leave{}, nil
	}
	return nil, decodeErrorf(sd.line, "empty or unknown statement")
}

func (d *decoder) temp(line, index int) (*Temp, error) {
	if index < 0 {
		return nil, decodeErrorf(line, "negative temp %d", index)
	}
	if index > d.maxTemp {
		d.maxTemp = index
	}
	return &Temp{Index: index}, nil
}

func (d *decoder) args(docs []exprDoc) ([]Expr, error) {
	if len(docs) > d.maxArgs {
		d.maxArgs = len(docs)
	}
	args := make([]Expr, 0, len(docs))
	for _, ad := range docs {
		a, err := d.expr(ad)
		if err != nil {
			return nil, err
		}
		args = append(args, a)
	}
	return args, nil
}

func (d *decoder) expr(ed exprDoc) (Expr, error) {
	if !ed.set {
		return nil, decodeErrorf(ed.line, "missing expression")
	}
	if ed.scalar != "" {
		if strings.HasPrefix(ed.scalar, "%") {
			n, err := strconv.Atoi(ed.scalar[1:])
			if err != nil {
				return nil, decodeErrorf(ed.line, "bad temp %q", ed.scalar)
			}
			return d.temp(ed.line, n)
		}
		return &Name{ID: ed.scalar}, nil
	}

	f := ed.exprFields
	switch {
	case f.Temp != nil:
		return d.temp(ed.line, *f.Temp)

	case f.Name != nil:
		return &Name{ID: *f.Name}, nil

	case f.Builtin != nil:
		b, ok := ParseBuiltin(*f.Builtin)
		if !ok {
			return nil, decodeErrorf(ed.line, "unknown builtin %q", *f.Builtin)
		}
		return &Name{ID: *f.Builtin, Builtin: b}, nil

	case ed.constant != nil:
		return constant(ed.line, *ed.constant)

	case f.String != nil:
		return &String{Value: *f.String}, nil

	case f.Closure != nil:
		target, ok := d.byName[*f.Closure]
		if !ok {
			return nil, decodeErrorf(ed.line, "closure refers to unknown function %q", *f.Closure)
		}
		return &Closure{Value: target}, nil

	case f.New != nil, f.Call != nil:
		cd := f.Call
		if f.New != nil {
			cd = f.New
		}
		base, err := d.expr(cd.Base)
		if err != nil {
			return nil, err
		}
		args, err := d.args(cd.Args)
		if err != nil {
			return nil, err
		}
		if f.New != nil {
			return &New{Base: base, Args: args}, nil
		}
		return &Call{Base: base, Args: args}, nil

	case f.Member != nil:
		base, err := d.expr(f.Member.Base)
		if err != nil {
			return nil, err
		}
		return &Member{Base: base, Name: f.Member.Name}, nil

	case f.Subscript != nil:
		base, err := d.expr(f.Subscript.Base)
		if err != nil {
			return nil, err
		}
		index, err := d.expr(f.Subscript.Index)
		if err != nil {
			return nil, err
		}
		return &Subscript{Base: base, Index: index}, nil

	case f.Unop != nil:
		op, ok := ParseAluOp(f.Unop.Op)
		if !ok {
			return nil, decodeErrorf(ed.line, "unknown operator %q", f.Unop.Op)
		}
		e, err := d.expr(f.Unop.Expr)
		if err != nil {
			return nil, err
		}
		return &Unop{Op: op, Expr: e}, nil

	case f.Binop != nil:
		op, ok := ParseAluOp(f.Binop.Op)
		if !ok {
			return nil, decodeErrorf(ed.line, "unknown operator %q", f.Binop.Op)
		}
		l, err := d.expr(f.Binop.Left)
		if err != nil {
			return nil, err
		}
		r, err := d.expr(f.Binop.Right)
		if err != nil {
			return nil, err
		}
		lt, lok := l.(*Temp)
		rt, rok := r.(*Temp)
		if !lok || !rok {
			return nil, decodeErrorf(ed.line, "binop operands must be temps")
		}
		return &Binop{Op: op, Left: lt, Right: rt}, nil
	}
	return nil, decodeErrorf(ed.line, "empty or unknown expression")
}

func constant(line int, text string) (*Const, error) {
	switch text {
	case "undefined":
		return Undefined(), nil
	case "null":
		return Null(), nil
	case "true":
		return Bool(true), nil
	case "false":
		return Bool(false), nil
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, decodeErrorf(line, "bad constant %q", text)
	}
	return Number(v), nil
}
