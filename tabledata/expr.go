package tabledata

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// Op identifies the operator of a Binary or Unary node.
type Op int

const (
	OpInvalid Op = iota
	OpAnd
	OpOr
	OpNot
	OpEq
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpModulo
	OpXor
	OpNegate
)

var opNames = map[Op]string{
	OpInvalid:  "Invalid",
	OpAnd:      "AndAlso",
	OpOr:       "OrElse",
	OpNot:      "Not",
	OpEq:       "Equal",
	OpNe:       "NotEqual",
	OpGt:       "GreaterThan",
	OpGe:       "GreaterThanOrEqual",
	OpLt:       "LessThan",
	OpLe:       "LessThanOrEqual",
	OpAdd:      "Add",
	OpSubtract: "Subtract",
	OpMultiply: "Multiply",
	OpDivide:   "Divide",
	OpModulo:   "Modulo",
	OpXor:      "ExclusiveOr",
	OpNegate:   "Negate",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// IsLogical reports whether o combines boolean operands.
func (o Op) IsLogical() bool {
	return o == OpAnd || o == OpOr || o == OpNot
}

// IsComparison reports whether o compares a field with a value.
func (o Op) IsComparison() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe:
		return true
	default:
		return false
	}
}

// Kind is the semantic type of a Constant value.
type Kind string

const (
	KindNull        Kind = "null"
	KindText        Kind = "text"
	KindBoolean     Kind = "boolean"
	KindInt32       Kind = "int32"
	KindInt64       Kind = "int64"
	KindFloat32     Kind = "float32"
	KindFloat64     Kind = "float64"
	KindDateTime    Kind = "datetime"
	KindGuid        Kind = "guid"
	KindBinary      Kind = "binary"
	KindUnsupported Kind = "unsupported"
)

// Expr is a node of a predicate expression tree.
type Expr interface {
	isExpr()
}

// Binary is a logical (and/or) or comparison node.
type Binary struct {
	Op    Op
	Left  Expr
	Right Expr
}

func (Binary) isExpr() {}

// Unary applies Op to a single operand.
type Unary struct {
	Op      Op
	Operand Expr
}

func (Unary) isExpr() {}

// Param is the implicit query parameter, the record being filtered.
type Param struct{}

func (Param) isExpr() {}

// Member reads field Name of Of.
type Member struct {
	Name string
	Of   Expr
}

func (Member) isExpr() {}

// Field returns a nested member read of m.
func (m Member) Field(name string) Member {
	return Member{Name: name, Of: m}
}

// Call is a method invocation on Target.
type Call struct {
	Method string
	Target Expr
	Args   []Expr
}

func (Call) isExpr() {}

// Constant holds a literal value tagged with its semantic kind.
type Constant struct {
	Kind  Kind
	Value any
}

func (Constant) isExpr() {}

// Group is an explicit parenthesised sub-expression.
type Group struct {
	Inner Expr
}

func (Group) isExpr() {}

// Field references a field of the current record.
func Field(name string) Member {
	return Member{Name: name, Of: Param{}}
}

// Null constructs a null constant.
func Null() Constant { return Constant{Kind: KindNull} }

// Text constructs a text constant.
func Text(v string) Constant { return Constant{Kind: KindText, Value: v} }

// Bool constructs a boolean constant.
func Bool(v bool) Constant { return Constant{Kind: KindBoolean, Value: v} }

// Int32 constructs a 32-bit integer constant.
func Int32(v int32) Constant { return Constant{Kind: KindInt32, Value: v} }

// Int64 constructs a 64-bit integer constant.
func Int64(v int64) Constant { return Constant{Kind: KindInt64, Value: v} }

// Float32 constructs a single-precision constant.
func Float32(v float32) Constant { return Constant{Kind: KindFloat32, Value: v} }

// Float64 constructs a double-precision constant.
func Float64(v float64) Constant { return Constant{Kind: KindFloat64, Value: v} }

// DateTime constructs a date-time constant.
func DateTime(v time.Time) Constant { return Constant{Kind: KindDateTime, Value: v} }

// Guid constructs a Guid constant.
func Guid(v uuid.UUID) Constant { return Constant{Kind: KindGuid, Value: v} }

// Bytes constructs a binary constant holding a copy of v.
func Bytes(v []byte) Constant {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Constant{Kind: KindBinary, Value: cp}
}

// Value builds a Constant and infers its kind from the Go type of v.
// Go int and uint32 are treated as Int64; narrower integers are Int32.
func Value(v any) Constant {
	switch typed := v.(type) {
	case nil:
		return Null()
	case Constant:
		return typed
	case string:
		return Text(typed)
	case bool:
		return Bool(typed)
	case int:
		return Int64(int64(typed))
	case int64:
		return Int64(typed)
	case int8, int16, int32, uint8, uint16:
		return Constant{Kind: KindInt32, Value: typed}
	case uint32:
		return Int64(int64(typed))
	case uint:
		return unsignedConstant(uint64(typed))
	case uint64:
		return unsignedConstant(typed)
	case float32:
		return Float32(typed)
	case float64:
		return Float64(typed)
	case time.Time:
		return DateTime(typed)
	case uuid.UUID:
		return Guid(typed)
	case []byte:
		return Bytes(typed)
	default:
		return Constant{Kind: KindUnsupported, Value: v}
	}
}

func unsignedConstant(v uint64) Constant {
	if v > math.MaxInt64 {
		return Constant{Kind: KindUnsupported, Value: v}
	}
	return Int64(int64(v))
}

// Compare builds a comparison node between a field and a value.
func Compare(op Op, field string, value any) Expr {
	return Binary{Op: op, Left: Field(field), Right: Value(value)}
}

// Eq constructs an equality comparison.
func Eq(field string, value any) Expr { return Compare(OpEq, field, value) }

// Ne constructs an inequality comparison.
func Ne(field string, value any) Expr { return Compare(OpNe, field, value) }

// Gt constructs a greater-than comparison.
func Gt(field string, value any) Expr { return Compare(OpGt, field, value) }

// Ge constructs a greater-than-or-equal comparison.
func Ge(field string, value any) Expr { return Compare(OpGe, field, value) }

// Lt constructs a less-than comparison.
func Lt(field string, value any) Expr { return Compare(OpLt, field, value) }

// Le constructs a less-than-or-equal comparison.
func Le(field string, value any) Expr { return Compare(OpLe, field, value) }

// And joins operands left to right: And(a, b, c) is (a and b) and c.
func And(left, right Expr, more ...Expr) Expr {
	return fold(OpAnd, left, right, more)
}

// Or joins operands left to right: Or(a, b, c) is (a or b) or c.
func Or(left, right Expr, more ...Expr) Expr {
	return fold(OpOr, left, right, more)
}

// Not negates e.
func Not(e Expr) Expr {
	return Unary{Op: OpNot, Operand: e}
}

// Paren wraps e in an explicit group.
func Paren(e Expr) Expr {
	return Group{Inner: e}
}

func fold(op Op, left, right Expr, more []Expr) Expr {
	out := Expr(Binary{Op: op, Left: left, Right: right})
	for _, next := range more {
		out = Binary{Op: op, Left: out, Right: next}
	}
	return out
}
