package tabledata

import (
	"fmt"
	"unicode"
)

// Shape rules shared by the filter translator, the SQL compilers and the
// in-memory evaluator, so every backend accepts exactly the same trees.

// Comparison is a validated field-versus-constant comparison.
type Comparison struct {
	Field string
	Op    Op
	Value Constant
}

// Unwrap strips Group layers from e.
func Unwrap(e Expr) Expr {
	for {
		g, ok := e.(Group)
		if !ok {
			return e
		}
		e = g.Inner
	}
}

// SplitComparison validates that b compares a direct member of the query
// parameter (left) with a constant (right).
func SplitComparison(b Binary) (Comparison, error) {
	if !b.Op.IsComparison() {
		return Comparison{}, unsupportedConstruct("the binary operator %s is not a comparison", b.Op)
	}
	member, ok := Unwrap(b.Left).(Member)
	if !ok {
		return Comparison{}, unsupportedConstruct("left operand of %s must be a member of the query parameter, got %s", b.Op, describe(b.Left))
	}
	name, err := MemberName(member)
	if err != nil {
		return Comparison{}, err
	}
	constant, ok := Unwrap(b.Right).(Constant)
	if !ok {
		return Comparison{}, unsupportedConstruct("right operand of %s must be a constant, got %s", b.Op, describe(b.Right))
	}
	return Comparison{Field: name, Op: b.Op, Value: constant}, nil
}

// MemberName returns the field name of m when it is a direct read of the
// query parameter.
func MemberName(m Member) (string, error) {
	if _, ok := Unwrap(m.Of).(Param); !ok {
		return "", unsupportedConstruct("the member %q is not supported", m.Name)
	}
	if !isIdentifier(m.Name) {
		return "", unsupportedConstruct("the member name %q is not a valid property name", m.Name)
	}
	return m.Name, nil
}

func isLogicalNode(e Expr) bool {
	switch node := Unwrap(e).(type) {
	case Binary:
		return node.Op == OpAnd || node.Op == OpOr
	case Unary:
		return node.Op == OpNot
	default:
		return false
	}
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', unicode.IsLetter(r):
		case unicode.IsDigit(r) && i > 0:
		default:
			return false
		}
	}
	return true
}

func describe(e Expr) string {
	switch node := Unwrap(e).(type) {
	case nil:
		return "<nil>"
	case Binary:
		return "binary " + node.Op.String()
	case Unary:
		return "unary " + node.Op.String()
	case Member:
		return "member " + node.Name
	case Call:
		return "call " + node.Method
	case Constant:
		return "constant of kind " + string(node.Kind)
	case Param:
		return "parameter"
	default:
		return "node"
	}
}

// IsSystemField reports whether name is one of the system members.
func IsSystemField(name string) bool {
	switch name {
	case PartitionKeyField, RowKeyField, TimestampField:
		return true
	default:
		return false
	}
}

// CheckSystemComparison validates the constant kind used against a system
// member: keys compare with text and Timestamp with datetime values.
func CheckSystemComparison(c Comparison) error {
	switch c.Field {
	case TimestampField:
		if c.Value.Kind != KindDateTime {
			return fmt.Errorf("%w: %s compares with datetime values only", ErrInvalidFilter, c.Field)
		}
	case PartitionKeyField, RowKeyField:
		if c.Value.Kind != KindText {
			return fmt.Errorf("%w: %s compares with text values only", ErrInvalidFilter, c.Field)
		}
	}
	return nil
}
