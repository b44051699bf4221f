package ir

import (
	"fmt"
	"strconv"
	"strings"
)

func (t *Temp) String() string { return "%" + strconv.Itoa(t.Index) }

func (n *Name) String() string {
	if n.Builtin != BuiltinInvalid {
		return "builtin_" + n.Builtin.String()
	}
	return n.ID
}

func (c *Const) String() string {
	switch c.Type {
	case UndefinedType:
		return "undefined"
	case NullType:
		return "null"
	case BoolType:
		if c.Value != 0 {
			return "true"
		}
		return "false"
	case NumberType:
		return strconv.FormatFloat(c.Value, 'g', -1, 64)
	}
	return "const?"
}

func (s *String) String() string { return strconv.Quote(s.Value) }

func (c *Closure) String() string {
	if c.Value == nil {
		return "closure(nil)"
	}
	return "closure(" + c.Value.Name + ")"
}

func argList(args []Expr) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

func (n *New) String() string  { return fmt.Sprintf("new %s(%s)", n.Base, argList(n.Args)) }
func (c *Call) String() string { return fmt.Sprintf("%s(%s)", c.Base, argList(c.Args)) }

func (m *Member) String() string    { return m.Base.String() + "." + m.Name }
func (s *Subscript) String() string { return fmt.Sprintf("%s[%s]", s.Base, s.Index) }
func (u *Unop) String() string      { return fmt.Sprintf("%s %s", u.Op, u.Expr) }
func (b *Binop) String() string     { return fmt.Sprintf("%s %s %s", b.Left, b.Op, b.Right) }

func (s *Exp) String() string { return s.Expr.String() }

func (s *Move) String() string {
	if s.Op != OpInvalid {
		return fmt.Sprintf("%s %s= %s", s.Target, s.Op, s.Source)
	}
	return fmt.Sprintf("%s = %s", s.Target, s.Source)
}

func (s *Jump) String() string { return fmt.Sprintf("goto L%d", s.Target.Index) }

func (s *CJump) String() string {
	return fmt.Sprintf("if %s goto L%d else L%d", s.Cond, s.IfTrue.Index, s.IfFalse.Index)
}

func (s *Ret) String() string   { return "return " + s.Value.String() }
func (s *Enter) String() string { return "enter " + s.Expr.String() }
func (s *Leave) String() string { return "leave" }

// Dump renders the function in a readable listing.
func (f *Function) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "function %s(%s)", f.Name, strings.Join(f.Formals, ", "))
	if len(f.Locals) > 0 {
		fmt.Fprintf(&sb, " locals [%s]", strings.Join(f.Locals, ", "))
	}
	fmt.Fprintf(&sb, " temps %d args %d", f.TempCount, f.MaxNumberOfArguments)
	if f.Strict {
		sb.WriteString(" strict")
	}
	sb.WriteByte('\n')
	for _, b := range f.BasicBlocks {
		fmt.Fprintf(&sb, "L%d:\n", b.Index)
		for _, s := range b.Statements {
			sb.WriteString("    ")
			sb.WriteString(s.String())
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}
