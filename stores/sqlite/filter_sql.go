package sqlite

import (
	"fmt"
	"strings"
	"time"

	"github.com/gabisonia/go-tablestore/tabledata"
	"github.com/google/uuid"
)

// guidGlob matches the hyphenated 8-4-4-4-12 hex form of a Guid.
var guidGlob = guidShape("[0-9A-Fa-f]")

func guidShape(hex string) string {
	var b strings.Builder
	for i := 0; i < 36; i++ {
		switch i {
		case 8, 13, 18, 23:
			b.WriteByte('-')
		default:
			b.WriteString(hex)
		}
	}
	return b.String()
}

var sqliteOperators = map[tabledata.Op]string{
	tabledata.OpEq: "=",
	tabledata.OpNe: "<>",
	tabledata.OpGt: ">",
	tabledata.OpGe: ">=",
	tabledata.OpLt: "<",
	tabledata.OpLe: "<=",
}

// compileFilterSQL compiles a predicate into a SQLite WHERE fragment with
// positional "?" args. Property values are read with json_type and
// json_extract; a value of another JSON type never compares true.
func compileFilterSQL(where tabledata.Expr) (string, []any, error) {
	if where == nil {
		return "", nil, nil
	}
	var c filterCompiler
	out, err := c.compile(where)
	if err != nil {
		return "", nil, err
	}
	return out, c.args, nil
}

type filterCompiler struct {
	args []any
}

func (c *filterCompiler) compile(e tabledata.Expr) (string, error) {
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
		name, err := tabledata.MemberName(node)
		if err != nil {
			return "", err
		}
		if tabledata.IsSystemField(name) {
			return "", fmt.Errorf("%w: system member %q is not a boolean", tabledata.ErrInvalidFilter, name)
		}
		return fmt.Sprintf("(COALESCE(%s, '') = 'true')", c.jsonType(name)), nil
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

func (c *filterCompiler) compileLogical(op string, node tabledata.Binary) (string, error) {
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

func (c *filterCompiler) compileComparison(comparison tabledata.Comparison) (string, error) {
	if _, err := tabledata.FormatLiteral(comparison.Value); err != nil {
		return "", err
	}
	op := sqliteOperators[comparison.Op]
	value := comparison.Value

	if tabledata.IsSystemField(comparison.Field) {
		if err := tabledata.CheckSystemComparison(comparison); err != nil {
			return "", err
		}
		switch comparison.Field {
		case tabledata.PartitionKeyField:
			return fmt.Sprintf("(%s %s %s)", quoteIdent(partitionKeyColumn), op, c.bind(value.Value)), nil
		case tabledata.RowKeyField:
			return fmt.Sprintf("(%s %s %s)", quoteIdent(rowKeyColumn), op, c.bind(value.Value)), nil
		default:
			return fmt.Sprintf("(%s %s %s)", quoteIdent(timestampColumn), op, c.bind(canonicalTime(value.Value.(time.Time)))), nil
		}
	}

	name := comparison.Field
	switch value.Kind {
	case tabledata.KindNull:
		// Ordering against null binds nothing; placeholders are positional.
		switch comparison.Op {
		case tabledata.OpEq:
			return "(" + c.isNull(name) + ")", nil
		case tabledata.OpNe:
			return "(NOT (" + c.isNull(name) + "))", nil
		default:
			return "(1 = 0)", nil
		}
	case tabledata.KindText:
		typed := c.typedValue(name, "= 'text'", c.jsonExtract(name))
		return definite(fmt.Sprintf("%s %s %s", typed, op, c.bind(value.Value))), nil
	case tabledata.KindBoolean:
		flag := 0
		if value.Value.(bool) {
			flag = 1
		}
		typed := c.typedValue(name, "IN ('true', 'false')", c.jsonExtract(name))
		return definite(fmt.Sprintf("%s %s %s", typed, op, c.bind(flag))), nil
	case tabledata.KindInt32, tabledata.KindInt64, tabledata.KindFloat32, tabledata.KindFloat64:
		typed := c.typedValue(name, "IN ('integer', 'real')", c.jsonExtract(name))
		return definite(fmt.Sprintf("%s %s %s", typed, op, c.bind(numericArg(value.Value)))), nil
	case tabledata.KindDateTime:
		typed := c.typedValue(name, "= 'text'", canonicalTimeFunc+"("+c.jsonExtract(name)+")")
		return definite(fmt.Sprintf("%s %s %s", typed, op, c.bind(canonicalTime(value.Value.(time.Time))))), nil
	case tabledata.KindGuid:
		// Bound in text order: type path, shape check, value path.
		jsonType := c.jsonType(name)
		shape := c.jsonExtract(name) + " GLOB " + c.bind(guidGlob)
		typed := fmt.Sprintf("(CASE WHEN %s = 'text' AND %s THEN lower(%s) END)", jsonType, shape, c.jsonExtract(name))
		return definite(fmt.Sprintf("%s %s %s", typed, op, c.bind(value.Value.(uuid.UUID).String()))), nil
	default:
		return "", fmt.Errorf("%w: constant kind %q", tabledata.ErrUnsupportedConstant, value.Kind)
	}
}

// typedValue yields valueExpr when json_type of the property satisfies
// typeCond, and NULL otherwise.
func (c *filterCompiler) typedValue(name, typeCond, valueExpr string) string {
	return fmt.Sprintf("(CASE WHEN %s %s THEN %s END)", c.jsonType(name), typeCond, valueExpr)
}

func (c *filterCompiler) isNull(name string) string {
	return fmt.Sprintf("COALESCE(%s, 'null') = 'null'", c.jsonType(name))
}

func (c *filterCompiler) jsonType(name string) string {
	return fmt.Sprintf("json_type(%s, %s)", quoteIdent(propertiesColumn), c.bind(jsonPath(name)))
}

func (c *filterCompiler) jsonExtract(name string) string {
	return fmt.Sprintf("json_extract(%s, %s)", quoteIdent(propertiesColumn), c.bind(jsonPath(name)))
}

func (c *filterCompiler) bind(value any) string {
	c.args = append(c.args, value)
	return "?"
}

// definite maps an unknown comparison result to false.
func definite(predicate string) string {
	return "COALESCE((" + predicate + "), 0)"
}

// numericArg binds integer kinds as int64 so SQLite compares them exactly.
func numericArg(v any) any {
	switch n := v.(type) {
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}

func unsupportedConstruct(format string, args ...any) error {
	return &tabledata.UnsupportedConstructError{Construct: fmt.Sprintf(format, args...)}
}
