package tabledata

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FilterSQLConfig configures predicate compilation into PostgreSQL expressions.
type FilterSQLConfig struct {
	// ColumnExpr maps system members (PartitionKey, RowKey, Timestamp) to
	// pre-quoted SQL expressions.
	ColumnExpr map[string]string
	// PropertiesExpr is the SQL expression of the properties JSONB column.
	PropertiesExpr string
}

// guidPattern matches the text IsGuidText accepts.
const guidPattern = `^[0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12}$`

var sqlOperators = map[Op]string{
	OpEq: "=",
	OpNe: "<>",
	OpGt: ">",
	OpGe: ">=",
	OpLt: "<",
	OpLe: "<=",
}

// CompileFilterSQL compiles a predicate tree into a PostgreSQL WHERE fragment
// and args. Returned SQL does not include the WHERE keyword.
func CompileFilterSQL(where Expr, cfg FilterSQLConfig, startArg int) (sql string, args []any, nextArg int, err error) {
	if startArg < 1 {
		startArg = 1
	}
	if where == nil {
		return "", nil, startArg, nil
	}

	c := filterCompiler{
		cfg:     cfg,
		nextArg: startArg,
	}
	out, err := c.compile(where)
	if err != nil {
		return "", nil, startArg, err
	}
	return out, c.args, c.nextArg, nil
}

type filterCompiler struct {
	cfg     FilterSQLConfig
	args    []any
	nextArg int
}

func (c *filterCompiler) compile(e Expr) (string, error) {
	switch node := e.(type) {
	case Group:
		return c.compile(node.Inner)
	case Binary:
		switch {
		case node.Op == OpAnd:
			return c.compileLogical("AND", node)
		case node.Op == OpOr:
			return c.compileLogical("OR", node)
		case node.Op.IsComparison():
			comparison, err := SplitComparison(node)
			if err != nil {
				return "", err
			}
			return c.compileComparison(comparison)
		default:
			return "", unsupportedConstruct("the binary operator %s is not supported", node.Op)
		}
	case Unary:
		if node.Op != OpNot {
			return "", unsupportedConstruct("the unary operator %s is not supported", node.Op)
		}
		childSQL, err := c.compile(node.Operand)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(NOT %s)", childSQL), nil
	case Member:
		return c.compileFlag(node)
	case Constant:
		return compileBoolConstant(node)
	case Param:
		return "", unsupportedConstruct("the query parameter cannot be used as a value")
	case Call:
		return "", unsupportedConstruct("the method %q is not supported", node.Method)
	case nil:
		return "", fmt.Errorf("%w: missing operand", ErrInvalidExpression)
	default:
		return "", unsupportedConstruct("the node type %T is not supported", e)
	}
}

func (c *filterCompiler) compileLogical(op string, node Binary) (string, error) {
	left, err := c.compile(node.Left)
	if err != nil {
		return "", err
	}
	right, err := c.compile(node.Right)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s %s %s)", left, op, right), nil
}

func (c *filterCompiler) compileFlag(node Member) (string, error) {
	name, err := MemberName(node)
	if err != nil {
		return "", err
	}
	if _, ok := c.cfg.ColumnExpr[name]; ok {
		return "", fmt.Errorf("%w: system member %q is not a boolean", ErrInvalidFilter, name)
	}
	props, err := c.propertiesExpr()
	if err != nil {
		return "", err
	}
	return definite(fmt.Sprintf("%s = 'true'::jsonb", propertyJSONBExpr(props, name))), nil
}

func (c *filterCompiler) compileComparison(comparison Comparison) (string, error) {
	if _, err := FormatLiteral(comparison.Value); err != nil {
		return "", err
	}
	op := sqlOperators[comparison.Op]

	if column, ok := c.cfg.ColumnExpr[comparison.Field]; ok {
		return c.compileColumnComparison(column, op, comparison)
	}

	props, err := c.propertiesExpr()
	if err != nil {
		return "", err
	}
	jsonExpr := propertyJSONBExpr(props, comparison.Field)
	textExpr := propertyTextExpr(props, comparison.Field)

	switch comparison.Value.Kind {
	case KindNull:
		return compileNullComparison(fmt.Sprintf("COALESCE(jsonb_typeof(%s), 'null') = 'null'", jsonExpr), comparison.Op), nil
	case KindText:
		return definite(fmt.Sprintf("%s %s %s COLLATE \"C\"",
			typedCase(jsonExpr, "string", textExpr), op, c.bind(comparison.Value.Value))), nil
	case KindBoolean:
		return definite(fmt.Sprintf("%s %s %s",
			typedCase(jsonExpr, "boolean", textExpr+"::boolean"), op, c.bind(comparison.Value.Value))), nil
	case KindInt32, KindInt64, KindFloat32, KindFloat64:
		return definite(fmt.Sprintf("%s %s %s::numeric",
			typedCase(jsonExpr, "number", textExpr+"::numeric"), op, c.bind(numericArg(comparison.Value.Value)))), nil
	case KindDateTime:
		// pg_input_is_valid (PostgreSQL 16+) keeps the cast from raising on
		// text such as "2024-02-30T00:00:00Z".
		guard := fmt.Sprintf("jsonb_typeof(%s) = 'string' AND %s ~ '%s' AND pg_input_is_valid(%s, 'timestamptz')",
			jsonExpr, textExpr, dateTimePattern, textExpr)
		return definite(fmt.Sprintf("(CASE WHEN %s THEN %s::timestamptz END) %s %s",
			guard, textExpr, op, c.bind(comparison.Value.Value.(time.Time)))), nil
	case KindGuid:
		id := comparison.Value.Value.(uuid.UUID)
		guard := fmt.Sprintf("jsonb_typeof(%s) = 'string' AND %s ~ '%s'", jsonExpr, textExpr, guidPattern)
		return definite(fmt.Sprintf("(CASE WHEN %s THEN lower(%s) END) %s %s COLLATE \"C\"",
			guard, textExpr, op, c.bind(id.String()))), nil
	default:
		return "", unsupportedConstant(comparison.Value)
	}
}

func (c *filterCompiler) compileColumnComparison(column, op string, comparison Comparison) (string, error) {
	if err := CheckSystemComparison(comparison); err != nil {
		return "", err
	}
	if comparison.Field == TimestampField {
		return fmt.Sprintf("(%s %s %s)", column, op, c.bind(comparison.Value.Value)), nil
	}
	return fmt.Sprintf("(%s %s %s COLLATE \"C\")", column, op, c.bind(comparison.Value.Value)), nil
}

func (c *filterCompiler) propertiesExpr() (string, error) {
	if c.cfg.PropertiesExpr == "" {
		return "", fmt.Errorf("%w: properties expression not configured", ErrInvalidFilter)
	}
	return c.cfg.PropertiesExpr, nil
}

func (c *filterCompiler) bind(v any) string {
	ph := fmt.Sprintf("$%d", c.nextArg)
	c.nextArg++
	c.args = append(c.args, v)
	return ph
}

func compileNullComparison(isNullSQL string, op Op) string {
	switch op {
	case OpEq:
		return "(" + isNullSQL + ")"
	case OpNe:
		return "(NOT (" + isNullSQL + "))"
	default:
		return "(FALSE)"
	}
}

func compileBoolConstant(node Constant) (string, error) {
	if _, err := FormatLiteral(node); err != nil {
		return "", err
	}
	flag, ok := node.Value.(bool)
	if node.Kind != KindBoolean || !ok {
		return "", fmt.Errorf("%w: constant of kind %q used as a condition", ErrInvalidFilter, node.Kind)
	}
	if flag {
		return "(TRUE)", nil
	}
	return "(FALSE)", nil
}

// definite turns an unknown (NULL) comparison result into false, so that
// NOT over a missing or mismatched property matches like MatchEntity does.
func definite(predicate string) string {
	return "COALESCE((" + predicate + "), FALSE)"
}

// typedCase yields valueExpr only when the JSON value has the given type,
// so mismatched types compare as NULL instead of failing a cast.
func typedCase(jsonExpr, jsonType, valueExpr string) string {
	return fmt.Sprintf("(CASE WHEN jsonb_typeof(%s) = '%s' THEN %s END)", jsonExpr, jsonType, valueExpr)
}

func propertyJSONBExpr(propsExpr, name string) string {
	return fmt.Sprintf("(%s -> %s)", propsExpr, singleQuoted(name))
}

func propertyTextExpr(propsExpr, name string) string {
	return fmt.Sprintf("(%s ->> %s)", propsExpr, singleQuoted(name))
}

// numericArg widens integer constants to int64 so drivers bind them as one type.
func numericArg(v any) any {
	if n, ok := toInt64(v); ok {
		return n
	}
	if f, ok := toFloat64(v); ok {
		return f
	}
	return v
}

func singleQuoted(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}
