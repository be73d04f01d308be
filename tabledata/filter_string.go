package tabledata

import (
	"fmt"
	"strings"
)

// filterTokens maps operators to the tokens of the table service filter grammar.
var filterTokens = map[Op]string{
	OpAnd: "and",
	OpOr:  "or",
	OpNot: "not",
	OpEq:  "eq",
	OpNe:  "ne",
	OpGt:  "gt",
	OpGe:  "ge",
	OpLt:  "lt",
	OpLe:  "le",
}

// TranslateFilter renders a predicate tree into a table service filter
// string, for example:
//
//	Formed gt datetime'1800-01-01T00:00:00Z' and (PresidentsCount lt 10L or IsExists eq true)
//
// Only comparisons of a parameter member against a constant, combined with
// and/or/not, are accepted. Anything else fails with an error matching
// ErrUnsupportedConstruct or ErrUnsupportedConstant; no partial filter is
// ever returned.
func TranslateFilter(root Expr) (string, error) {
	if root == nil {
		return "", fmt.Errorf("%w: predicate is nil", ErrInvalidExpression)
	}

	var t filterTranslator
	if err := t.visit(root, false); err != nil {
		return "", err
	}
	return unwrapParentheses(t.b.String())
}

type filterTranslator struct {
	b strings.Builder
}

func (t *filterTranslator) visit(e Expr, grouped bool) error {
	switch node := e.(type) {
	case Group:
		return t.visit(node.Inner, grouped)
	case Binary:
		return t.visitBinary(node, grouped)
	case Unary:
		return t.visitUnary(node)
	case Member:
		return t.visitMember(node)
	case Constant:
		return t.visitConstant(node)
	case Param:
		return unsupportedConstruct("the query parameter cannot be used as a value")
	case Call:
		return unsupportedConstruct("the method %q is not supported", node.Method)
	case nil:
		return fmt.Errorf("%w: missing operand", ErrInvalidExpression)
	default:
		return unsupportedConstruct("the node type %T is not supported", e)
	}
}

// visitBinary wraps a logical node in parentheses when one of its operands
// is logical too, or when the parent asks for it.
func (t *filterTranslator) visitBinary(node Binary, grouped bool) error {
	token, ok := filterTokens[node.Op]
	if !ok || node.Op == OpNot {
		return unsupportedConstruct("the binary operator %s is not supported", node.Op)
	}

	if node.Op.IsComparison() {
		comparison, err := SplitComparison(node)
		if err != nil {
			return err
		}
		literal, err := FormatLiteral(comparison.Value)
		if err != nil {
			return err
		}
		t.b.WriteString(comparison.Field)
		t.b.WriteString(" " + token + " ")
		t.b.WriteString(literal)
		return nil
	}

	wrap := grouped || isLogicalNode(node.Left) || isLogicalNode(node.Right)
	if wrap {
		t.b.WriteByte('(')
	}
	if err := t.visit(node.Left, childNeedsGroup(node.Op, node.Left, false)); err != nil {
		return err
	}
	t.b.WriteString(" " + token + " ")
	if err := t.visit(node.Right, childNeedsGroup(node.Op, node.Right, true)); err != nil {
		return err
	}
	if wrap {
		t.b.WriteByte(')')
	}
	return nil
}

// childNeedsGroup reports whether a logical operand must keep its own
// parentheses. and/or are parsed left to right, so a right operand or an
// operand with a different operator changes meaning when left bare.
func childNeedsGroup(parent Op, child Expr, right bool) bool {
	node, ok := Unwrap(child).(Binary)
	if !ok || (node.Op != OpAnd && node.Op != OpOr) {
		return false
	}
	return right || node.Op != parent
}

func (t *filterTranslator) visitUnary(node Unary) error {
	token, ok := filterTokens[node.Op]
	if !ok || node.Op != OpNot {
		return unsupportedConstruct("the unary operator %s is not supported", node.Op)
	}

	t.b.WriteString(token + " ")
	switch operand := Unwrap(node.Operand).(type) {
	case Member:
		return t.visitMember(operand)
	case Binary:
		if operand.Op == OpAnd || operand.Op == OpOr {
			return t.visit(operand, true)
		}
	}

	t.b.WriteByte('(')
	if err := t.visit(node.Operand, false); err != nil {
		return err
	}
	t.b.WriteByte(')')
	return nil
}

func (t *filterTranslator) visitMember(node Member) error {
	name, err := MemberName(node)
	if err != nil {
		return err
	}
	t.b.WriteString(name)
	return nil
}

func (t *filterTranslator) visitConstant(node Constant) error {
	literal, err := FormatLiteral(node)
	if err != nil {
		return err
	}
	t.b.WriteString(literal)
	return nil
}

// unwrapParentheses strips enclosing parentheses while they match each other.
func unwrapParentheses(filter string) (string, error) {
	for enclosedByParentheses(filter) {
		filter = filter[1 : len(filter)-1]
	}
	if len(filter) < 2 {
		return "", fmt.Errorf("%w: filter %q is too short", ErrInvalidExpression, filter)
	}
	return filter, nil
}

// enclosedByParentheses reports whether the opening parenthesis at index 0
// is closed by the last byte. Quoted literals are skipped; quotes inside
// them are doubled, so toggling on every quote keeps track correctly.
func enclosedByParentheses(filter string) bool {
	if len(filter) < 2 || filter[0] != '(' || filter[len(filter)-1] != ')' {
		return false
	}
	depth := 0
	quoted := false
	for i := 0; i < len(filter); i++ {
		switch c := filter[i]; {
		case c == '\'':
			quoted = !quoted
		case quoted:
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i == len(filter)-1
			}
		}
	}
	return false
}
