package mssql

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabisonia/go-tablestore/tabledata"
	"github.com/google/uuid"
)

var errFilterPushdownUnsupported = errors.New("mssql filter pushdown unsupported")

// Integers above this magnitude are not exact once converted to float.
const maxExactFloatInteger = 1 << 53

// OPENJSON [type] values.
const (
	jsonTypeNull   = 0
	jsonTypeString = 1
	jsonTypeNumber = 2
	jsonTypeBool   = 3
)

// guidLikePattern matches the hyphenated 8-4-4-4-12 hex form of a Guid.
var guidLikePattern = strings.Repeat("[0-9A-Fa-f]", 8) + "-" +
	strings.Repeat("[0-9A-Fa-f]", 4) + "-" +
	strings.Repeat("[0-9A-Fa-f]", 4) + "-" +
	strings.Repeat("[0-9A-Fa-f]", 4) + "-" +
	strings.Repeat("[0-9A-Fa-f]", 12)

var mssqlOperators = map[tabledata.Op]string{
	tabledata.OpEq: "=",
	tabledata.OpNe: "<>",
	tabledata.OpGt: ">",
	tabledata.OpGe: ">=",
	tabledata.OpLt: "<",
	tabledata.OpLe: "<=",
}

func compileMSSQLFilterSQL(where tabledata.Expr, startArg int) (sql string, args []any, nextArg int, err error) {
	if startArg < 1 {
		startArg = 1
	}
	if where == nil {
		return "", nil, startArg, nil
	}

	c := &mssqlFilterCompiler{
		nextArg: startArg,
	}
	out, err := c.compile(where)
	if err != nil {
		return "", nil, startArg, err
	}
	return out, c.args, c.nextArg, nil
}

type mssqlFilterCompiler struct {
	args    []any
	nextArg int
}

func (c *mssqlFilterCompiler) compile(e tabledata.Expr) (string, error) {
	switch node := e.(type) {
	case tabledata.Group:
		return c.compile(node.Inner)
	case tabledata.Binary:
		switch {
		case node.Op == tabledata.OpAnd:
			return c.compileLogical("AND", node)
		case node.Op == tabledata.OpOr:
			return c.compileLogical("OR", node)
		case node.Op.IsComparison():
			comparison, err := tabledata.SplitComparison(node)
			if err != nil {
				return "", err
			}
			return c.compileComparison(comparison)
		default:
			return "", unsupportedConstruct("the binary operator %s is not supported", node.Op)
		}
	case tabledata.Unary:
		if node.Op != tabledata.OpNot {
			return "", unsupportedConstruct("the unary operator %s is not supported", node.Op)
		}
		childSQL, err := c.compile(node.Operand)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(NOT %s)", childSQL), nil
	case tabledata.Member:
		return c.compileFlag(node)
	case tabledata.Constant:
		if _, err := tabledata.FormatLiteral(node); err != nil {
			return "", err
		}
		flag, ok := node.Value.(bool)
		if node.Kind != tabledata.KindBoolean || !ok {
			return "", fmt.Errorf("%w: constant of kind %q used as a condition", tabledata.ErrInvalidFilter, node.Kind)
		}
		if flag {
			return "(1 = 1)", nil
		}
		return "(1 = 0)", nil
	case tabledata.Param:
		return "", unsupportedConstruct("the query parameter cannot be used as a value")
	case tabledata.Call:
		return "", unsupportedConstruct("the method %q is not supported", node.Method)
	case nil:
		return "", fmt.Errorf("%w: missing operand", tabledata.ErrInvalidExpression)
	default:
		return "", unsupportedConstruct("the node type %T is not supported", e)
	}
}

func (c *mssqlFilterCompiler) compileLogical(op string, node tabledata.Binary) (string, error) {
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

func (c *mssqlFilterCompiler) compileFlag(node tabledata.Member) (string, error) {
	name, err := tabledata.MemberName(node)
	if err != nil {
		return "", err
	}
	if tabledata.IsSystemField(name) {
		return "", fmt.Errorf("%w: system member %q is not a boolean", tabledata.ErrInvalidFilter, name)
	}
	flag := fmt.Sprintf("(SELECT TOP 1 CASE WHEN [type] = %d AND [value] = 'true' THEN 1 END FROM OPENJSON(%s) WHERE [key] = %s)",
		jsonTypeBool, quoteIdent(propertiesColumn), c.bind(name))
	return fmt.Sprintf("(COALESCE(%s, 0) = 1)", flag), nil
}

func (c *mssqlFilterCompiler) compileComparison(comparison tabledata.Comparison) (string, error) {
	if _, err := tabledata.FormatLiteral(comparison.Value); err != nil {
		return "", err
	}
	op := mssqlOperators[comparison.Op]

	if tabledata.IsSystemField(comparison.Field) {
		if err := tabledata.CheckSystemComparison(comparison); err != nil {
			return "", err
		}
		column := timestampColumn
		value := comparison.Value.Value
		switch comparison.Field {
		case tabledata.PartitionKeyField:
			column = partitionKeyColumn
		case tabledata.RowKeyField:
			column = rowKeyColumn
		default:
			value = comparison.Value.Value.(time.Time).UTC()
		}
		return fmt.Sprintf("(%s %s %s)", quoteIdent(column), op, c.bind(value)), nil
	}

	value := comparison.Value
	switch value.Kind {
	case tabledata.KindNull:
		switch comparison.Op {
		case tabledata.OpEq:
			return "(" + c.isNull(comparison.Field) + ")", nil
		case tabledata.OpNe:
			return "(NOT (" + c.isNull(comparison.Field) + "))", nil
		default:
			return "(1 = 0)", nil
		}
	case tabledata.KindText:
		typed := c.typedValue(comparison.Field, jsonTypeString, "[value]")
		return definite(fmt.Sprintf("%s COLLATE %s %s %s", typed, ordinalCollation, op, c.bind(value.Value))), nil
	case tabledata.KindBoolean:
		flag := 0
		if value.Value.(bool) {
			flag = 1
		}
		typed := c.typedValue(comparison.Field, jsonTypeBool, "CASE [value] WHEN 'true' THEN 1 ELSE 0 END")
		return definite(fmt.Sprintf("%s %s %s", typed, op, c.bind(flag))), nil
	case tabledata.KindInt32, tabledata.KindInt64:
		n, ok := integerValue(value.Value)
		if !ok || n > maxExactFloatInteger || n < -maxExactFloatInteger {
			return "", unsupportedPushdown("integer %v is outside the exact float range", value.Value)
		}
		typed := c.typedValue(comparison.Field, jsonTypeNumber, "TRY_CONVERT(float, [value])")
		return definite(fmt.Sprintf("%s %s %s", typed, op, c.bind(float64(n)))), nil
	case tabledata.KindFloat32, tabledata.KindFloat64:
		f := floatValue(value.Value)
		typed := c.typedValue(comparison.Field, jsonTypeNumber, "TRY_CONVERT(float, [value])")
		return definite(fmt.Sprintf("%s %s %s", typed, op, c.bind(f))), nil
	case tabledata.KindDateTime:
		// Stored times are UTC RFC 3339 strings; fractions beyond 100ns are cut.
		converted := "CASE WHEN [value] LIKE '[0-9][0-9][0-9][0-9]-[0-9][0-9]-[0-9][0-9]T%' " +
			"THEN TRY_CONVERT(datetime2(7), LEFT(REPLACE([value], 'Z', ''), 27), 126) END"
		typed := c.typedValue(comparison.Field, jsonTypeString, converted)
		return definite(fmt.Sprintf("%s %s %s", typed, op, c.bind(value.Value.(time.Time).UTC()))), nil
	case tabledata.KindGuid:
		typed := c.typedValue(comparison.Field, jsonTypeString, "CASE WHEN [value] LIKE '"+guidLikePattern+"' THEN LOWER([value]) END")
		id := value.Value.(uuid.UUID)
		return definite(fmt.Sprintf("%s COLLATE %s %s %s", typed, ordinalCollation, op, c.bind(id.String()))), nil
	default:
		return "", unsupportedPushdown("constant kind %q", value.Kind)
	}
}

// typedValue selects valueExpr for property name only when its JSON type
// matches, and NULL otherwise.
func (c *mssqlFilterCompiler) typedValue(name string, jsonType int, valueExpr string) string {
	return fmt.Sprintf("(SELECT TOP 1 CASE WHEN [type] = %d THEN %s END FROM OPENJSON(%s) WHERE [key] = %s)",
		jsonType, valueExpr, quoteIdent(propertiesColumn), c.bind(name))
}

func (c *mssqlFilterCompiler) isNull(name string) string {
	typeExpr := fmt.Sprintf("(SELECT TOP 1 [type] FROM OPENJSON(%s) WHERE [key] = %s)",
		quoteIdent(propertiesColumn), c.bind(name))
	return fmt.Sprintf("COALESCE(%s, %d) = %d", typeExpr, jsonTypeNull, jsonTypeNull)
}

func (c *mssqlFilterCompiler) bind(value any) string {
	placeholder := fmt.Sprintf("@p%d", c.nextArg)
	c.nextArg++
	c.args = append(c.args, value)
	return placeholder
}

// definite maps an unknown comparison result to false.
func definite(predicate string) string {
	return fmt.Sprintf("(CASE WHEN %s THEN 1 ELSE 0 END = 1)", predicate)
}

func integerValue(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	default:
		return 0, false
	}
}

func floatValue(v any) float64 {
	if f, ok := v.(float32); ok {
		return float64(f)
	}
	return v.(float64)
}

func unsupportedConstruct(format string, args ...any) error {
	return &tabledata.UnsupportedConstructError{Construct: fmt.Sprintf(format, args...)}
}

func unsupportedPushdown(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errFilterPushdownUnsupported, fmt.Sprintf(format, args...))
}
