package tabledata

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTranslateFilter_Scenarios(t *testing.T) {
	cases := []struct {
		name  string
		where Expr
		want  string
	}{
		{
			name: "nested scopes",
			where: And(
				Gt("Formed", time.Date(1800, 1, 1, 0, 0, 0, 0, time.UTC)),
				Paren(Or(
					Lt("PresidentsCount", 10),
					Paren(And(Lt("Population", 10000000), Gt("PresidentsCount", 10), Eq("IsExists", true))),
				)),
			),
			want: "Formed gt datetime'1800-01-01T00:00:00Z' and (PresidentsCount lt 10L or (Population lt 10000000L and PresidentsCount gt 10L and IsExists eq true))",
		},
		{name: "text equality", where: Eq("Name", "Germany"), want: "Name eq 'Germany'"},
		{name: "float", where: Gt("Area", 100000.5), want: "Area gt 100000.5"},
		{name: "not member", where: Not(Field("IsExists")), want: "not IsExists"},
		{name: "not comparison", where: Not(Eq("Name", "Germany")), want: "not (Name eq 'Germany')"},
		{name: "not logical", where: Not(And(Field("A"), Field("B"))), want: "not (A and B)"},
		{name: "left nested same operator", where: Or(Or(Field("A"), Field("B")), Field("C")), want: "A or B or C"},
		{name: "right nested operand", where: And(Field("A"), Or(Field("B"), Field("C"))), want: "A and (B or C)"},
		{name: "left nested other operator", where: Or(And(Field("A"), Field("B")), Field("C")), want: "(A and B) or C"},
		{name: "constant operand", where: Or(Bool(false), Eq("Name", "x")), want: "false or Name eq 'x'"},
		{name: "unicode member", where: Eq("Größe", 1), want: "Größe eq 1L"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TranslateFilter(tc.where)
			if err != nil {
				t.Fatalf("TranslateFilter: %v", err)
			}
			if got != tc.want {
				t.Fatalf("unexpected filter\nwant: %s\n got: %s", tc.want, got)
			}
		})
	}
}

func TestTranslateFilter_LiteralEncoding(t *testing.T) {
	cases := []struct {
		name  string
		value Constant
		want  string
	}{
		{name: "null", value: Null(), want: "null"},
		{name: "text", value: Text("Germany"), want: "'Germany'"},
		{name: "text with quote", value: Text("O'Brien"), want: "'O''Brien'"},
		{name: "datetime utc", value: DateTime(time.Date(1800, 1, 1, 0, 0, 0, 0, time.UTC)), want: "datetime'1800-01-01T00:00:00Z'"},
		{name: "datetime offset", value: DateTime(time.Date(2024, 1, 2, 3, 4, 5, 600000000, time.FixedZone("", 2*3600))), want: "datetime'2024-01-02T03:04:05.6+02:00'"},
		{name: "float whole", value: Float64(3), want: "3.0"},
		{name: "float rounded", value: Float64(1.234), want: "1.23"},
		{name: "float leading zero", value: Float64(0.5), want: "0.5"},
		{name: "float negative", value: Float64(-2.75), want: "-2.75"},
		{name: "float negative zero", value: Float64(-0.001), want: "0.0"},
		{name: "float32", value: Float32(2.25), want: "2.25"},
		{name: "float half rounds up", value: Float64(0.125), want: "0.13"},
		{name: "float half rounds up odd", value: Float64(0.625), want: "0.63"},
		{name: "float negative half", value: Float64(-0.125), want: "-0.13"},
		{name: "float carries into integer", value: Float64(9.995), want: "10.0"},
		{name: "float32 shortest form", value: Float32(0.1), want: "0.1"},
		{name: "int64", value: Int64(8), want: "8L"},
		{name: "int inferred", value: Value(8), want: "8L"},
		{name: "uint32 inferred", value: Value(uint32(math.MaxUint32)), want: "4294967295L"},
		{name: "int32", value: Int32(42), want: "42"},
		{name: "int8 inferred", value: Value(int8(-3)), want: "-3"},
		{name: "uint16 inferred", value: Value(uint16(7)), want: "7"},
		{name: "boolean", value: Bool(true), want: "true"},
		{name: "guid", value: Guid(uuid.MustParse("00000000-0000-0000-0000-000000000001")), want: "guid'00000000-0000-0000-0000-000000000001'"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TranslateFilter(Binary{Op: OpEq, Left: Field("Value"), Right: tc.value})
			if err != nil {
				t.Fatalf("TranslateFilter: %v", err)
			}
			if want := "Value eq " + tc.want; got != want {
				t.Fatalf("unexpected filter\nwant: %s\n got: %s", want, got)
			}
		})
	}
}

func TestTranslateFilter_StripsWrappingGroups(t *testing.T) {
	inner := Or(Eq("A", 1), And(Eq("B", 2), Eq("C", 3)))

	plain, err := TranslateFilter(inner)
	if err != nil {
		t.Fatalf("TranslateFilter: %v", err)
	}
	wrapped, err := TranslateFilter(Paren(Paren(Paren(inner))))
	if err != nil {
		t.Fatalf("TranslateFilter wrapped: %v", err)
	}
	if plain != wrapped {
		t.Fatalf("wrapping changed the filter: %q vs %q", plain, wrapped)
	}
}

func TestTranslateFilter_KeepsSiblingGroups(t *testing.T) {
	// Both sides are grouped; the outer parentheses do not match each other.
	where := And(Or(Field("A"), Field("B")), Or(Field("C"), Field("D")))

	got, err := TranslateFilter(where)
	if err != nil {
		t.Fatalf("TranslateFilter: %v", err)
	}
	if got != "(A or B) and (C or D)" {
		t.Fatalf("unexpected filter: %s", got)
	}
}

func TestTranslateFilter_QuotedParentheses(t *testing.T) {
	where := And(Or(Eq("A", "("), Field("B")), Eq("C", ")"))

	got, err := TranslateFilter(where)
	if err != nil {
		t.Fatalf("TranslateFilter: %v", err)
	}
	if got != "(A eq '(' or B) and C eq ')'" {
		t.Fatalf("unexpected filter: %s", got)
	}
}

func TestTranslateFilter_IsReferentiallyTransparent(t *testing.T) {
	where := And(Not(Field("IsExists")), Or(Ge("Population", 1.5), Ne("Code", uuid.Nil)))

	first, err := TranslateFilter(where)
	if err != nil {
		t.Fatalf("TranslateFilter: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := TranslateFilter(where)
		if err != nil {
			t.Fatalf("TranslateFilter: %v", err)
		}
		if again != first {
			t.Fatalf("translation %d differs: %q vs %q", i, again, first)
		}
	}
}

func TestTranslateFilter_RoundTripsThroughGrammar(t *testing.T) {
	a, b, c, d := Eq("A", 1), Lt("B", 2.5), Field("C"), Ne("D", "x")
	trees := []Expr{
		And(a, Or(b, c)),
		Or(a, And(b, c)),
		Or(And(a, b), c),
		And(Or(a, b), c),
		And(a, b, c, d),
		Or(a, b, And(c, d)),
		Not(And(a, Or(b, c))),
		And(Not(a), Or(b, Not(c))),
		Or(Not(Or(a, b)), And(c, Or(d, a))),
		And(Or(a, And(b, Or(c, d))), Not(c)),
		Paren(Or(Paren(And(a, b)), Paren(And(c, d)))),
	}

	for _, tree := range trees {
		want := shapeOf(tree)
		t.Run(want, func(t *testing.T) {
			filter, err := TranslateFilter(tree)
			if err != nil {
				t.Fatalf("TranslateFilter: %v", err)
			}
			got, err := parseFilterShape(filter)
			if err != nil {
				t.Fatalf("parse %q: %v", filter, err)
			}
			if got != want {
				t.Fatalf("filter %q parses as %s, want %s", filter, got, want)
			}
		})
	}
}

func TestTranslateFilter_UnsupportedShapes(t *testing.T) {
	cases := []struct {
		name   string
		where  Expr
		target error
	}{
		{name: "reversed comparison", where: Binary{Op: OpEq, Left: Value(1), Right: Field("A")}, target: ErrUnsupportedConstruct},
		{name: "member against member", where: Binary{Op: OpGt, Left: Field("A"), Right: Field("B")}, target: ErrUnsupportedConstruct},
		{name: "nested member", where: Binary{Op: OpEq, Left: Field("Address").Field("City"), Right: Text("Riga")}, target: ErrUnsupportedConstruct},
		{name: "method call", where: Call{Method: "StartsWith", Target: Field("Name"), Args: []Expr{Text("G")}}, target: ErrUnsupportedConstruct},
		{name: "arithmetic", where: Binary{Op: OpAdd, Left: Field("A"), Right: Int32(1)}, target: ErrUnsupportedConstruct},
		{name: "negation", where: Unary{Op: OpNegate, Operand: Field("A")}, target: ErrUnsupportedConstruct},
		{name: "parameter", where: Param{}, target: ErrUnsupportedConstruct},
		{name: "invalid member name", where: Eq("bad name", 1), target: ErrUnsupportedConstruct},
		{name: "byte array", where: Eq("Blob", []byte{1, 2, 3}), target: ErrUnsupportedConstant},
		{name: "object", where: Eq("Tags", struct{ X int }{1}), target: ErrUnsupportedConstant},
		{name: "uint64 overflow", where: Eq("Size", uint64(math.MaxUint64)), target: ErrUnsupportedConstant},
		{name: "mismatched kind", where: Binary{Op: OpEq, Left: Field("A"), Right: Constant{Kind: KindText, Value: 5}}, target: ErrUnsupportedConstant},
		{name: "nan", where: Gt("A", math.NaN()), target: ErrUnsupportedConstant},
		{name: "nil root", where: nil, target: ErrInvalidExpression},
		{name: "missing operand", where: Binary{Op: OpAnd, Left: Field("A")}, target: ErrInvalidExpression},
		{name: "too short", where: Field("A"), target: ErrInvalidExpression},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TranslateFilter(tc.where)
			if !errors.Is(err, tc.target) {
				t.Fatalf("expected %v, got %v", tc.target, err)
			}
			if got != "" {
				t.Fatalf("expected no partial filter, got %q", got)
			}
		})
	}
}

func TestTranslateFilter_TypedErrors(t *testing.T) {
	_, err := TranslateFilter(Eq("Blob", []byte{1}))
	var constant *UnsupportedConstantError
	if !errors.As(err, &constant) {
		t.Fatalf("expected UnsupportedConstantError, got %T", err)
	}
	if constant.Kind != KindBinary {
		t.Fatalf("unexpected kind: %q", constant.Kind)
	}

	_, err = TranslateFilter(Binary{Op: OpXor, Left: Field("A"), Right: Field("B")})
	var construct *UnsupportedConstructError
	if !errors.As(err, &construct) {
		t.Fatalf("expected UnsupportedConstructError, got %T", err)
	}
	if !strings.Contains(construct.Construct, "ExclusiveOr") {
		t.Fatalf("expected construct to name the operator, got %q", construct.Construct)
	}
}

// shapeOf renders the boolean structure of a tree in prefix form.
func shapeOf(e Expr) string {
	switch node := Unwrap(e).(type) {
	case Binary:
		if node.Op == OpAnd || node.Op == OpOr {
			return filterTokens[node.Op] + "(" + shapeOf(node.Left) + "," + shapeOf(node.Right) + ")"
		}
		comparison, err := SplitComparison(node)
		if err != nil {
			return "?"
		}
		literal, _ := FormatLiteral(comparison.Value)
		return comparison.Field + " " + filterTokens[node.Op] + " " + literal
	case Unary:
		return "not(" + shapeOf(node.Operand) + ")"
	case Member:
		return node.Name
	default:
		return "?"
	}
}

// parseFilterShape parses a filter string with and/or at equal precedence,
// associating left, and renders it like shapeOf.
func parseFilterShape(filter string) (string, error) {
	p := &shapeParser{tokens: tokenizeFilter(filter)}
	out, err := p.parseExpr()
	if err != nil {
		return "", err
	}
	if p.pos != len(p.tokens) {
		return "", errors.New("trailing tokens")
	}
	return out, nil
}

type shapeParser struct {
	tokens []string
	pos    int
}

func (p *shapeParser) next() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	tok := p.tokens[p.pos]
	p.pos++
	return tok
}

func (p *shapeParser) peek() string {
	if p.pos >= len(p.tokens) {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *shapeParser) parseExpr() (string, error) {
	left, err := p.parseUnary()
	if err != nil {
		return "", err
	}
	for p.peek() == "and" || p.peek() == "or" {
		op := p.next()
		right, err := p.parseUnary()
		if err != nil {
			return "", err
		}
		left = op + "(" + left + "," + right + ")"
	}
	return left, nil
}

func (p *shapeParser) parseUnary() (string, error) {
	switch tok := p.next(); tok {
	case "not":
		operand, err := p.parseUnary()
		if err != nil {
			return "", err
		}
		return "not(" + operand + ")", nil
	case "(":
		inner, err := p.parseExpr()
		if err != nil {
			return "", err
		}
		if p.next() != ")" {
			return "", errors.New("unbalanced parentheses")
		}
		return inner, nil
	case "", ")":
		return "", errors.New("unexpected end of operand")
	default:
		switch p.peek() {
		case "eq", "ne", "gt", "ge", "lt", "le":
			op := p.next()
			return tok + " " + op + " " + p.next(), nil
		}
		return tok, nil
	}
}

func tokenizeFilter(filter string) []string {
	var tokens []string
	var current strings.Builder
	quoted := false
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range filter {
		switch {
		case r == '\'':
			quoted = !quoted
			current.WriteRune(r)
		case quoted:
			current.WriteRune(r)
		case r == ' ':
			flush()
		case r == '(' || r == ')':
			flush()
			tokens = append(tokens, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}
