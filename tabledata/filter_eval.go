package tabledata

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MatchEntity evaluates a predicate against an entity in memory. It accepts
// the same trees as TranslateFilter. A comparison between values of
// different types never matches; a missing property only matches "eq null".
func MatchEntity(where Expr, entity Entity) (bool, error) {
	if where == nil {
		return true, nil
	}
	return matchExpr(where, entity)
}

func matchExpr(e Expr, entity Entity) (bool, error) {
	switch node := e.(type) {
	case Group:
		return matchExpr(node.Inner, entity)
	case Binary:
		switch {
		case node.Op == OpAnd || node.Op == OpOr:
			left, err := matchExpr(node.Left, entity)
			if err != nil {
				return false, err
			}
			right, err := matchExpr(node.Right, entity)
			if err != nil {
				return false, err
			}
			if node.Op == OpAnd {
				return left && right, nil
			}
			return left || right, nil
		case node.Op.IsComparison():
			comparison, err := SplitComparison(node)
			if err != nil {
				return false, err
			}
			return matchComparison(comparison, entity)
		default:
			return false, unsupportedConstruct("the binary operator %s is not supported", node.Op)
		}
	case Unary:
		if node.Op != OpNot {
			return false, unsupportedConstruct("the unary operator %s is not supported", node.Op)
		}
		ok, err := matchExpr(node.Operand, entity)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case Member:
		name, err := MemberName(node)
		if err != nil {
			return false, err
		}
		if IsSystemField(name) {
			return false, fmt.Errorf("%w: system member %q is not a boolean", ErrInvalidFilter, name)
		}
		value, exists := entityValue(entity, name)
		if !exists {
			return false, nil
		}
		flag, ok := value.(bool)
		return ok && flag, nil
	case Constant:
		if _, err := FormatLiteral(node); err != nil {
			return false, err
		}
		flag, ok := node.Value.(bool)
		if node.Kind != KindBoolean || !ok {
			return false, fmt.Errorf("%w: constant of kind %q used as a condition", ErrInvalidFilter, node.Kind)
		}
		return flag, nil
	case Param:
		return false, unsupportedConstruct("the query parameter cannot be used as a value")
	case Call:
		return false, unsupportedConstruct("the method %q is not supported", node.Method)
	case nil:
		return false, fmt.Errorf("%w: missing operand", ErrInvalidExpression)
	default:
		return false, unsupportedConstruct("the node type %T is not supported", e)
	}
}

func matchComparison(c Comparison, entity Entity) (bool, error) {
	if _, err := FormatLiteral(c.Value); err != nil {
		return false, err
	}
	if err := CheckSystemComparison(c); err != nil {
		return false, err
	}

	value, exists := entityValue(entity, c.Field)
	if c.Value.Kind == KindNull {
		isNull := !exists || value == nil
		switch c.Op {
		case OpEq:
			return isNull, nil
		case OpNe:
			return !isNull, nil
		default:
			return false, nil
		}
	}
	if !exists || value == nil {
		return false, nil
	}

	order, comparable := compareValue(value, c.Value)
	if !comparable {
		return false, nil
	}
	return applyOrder(c.Op, order), nil
}

func applyOrder(op Op, order int) bool {
	switch op {
	case OpEq:
		return order == 0
	case OpNe:
		return order != 0
	case OpGt:
		return order > 0
	case OpGe:
		return order >= 0
	case OpLt:
		return order < 0
	case OpLe:
		return order <= 0
	default:
		return false
	}
}

func entityValue(entity Entity, name string) (any, bool) {
	switch name {
	case PartitionKeyField:
		return entity.PartitionKey, true
	case RowKeyField:
		return entity.RowKey, true
	case TimestampField:
		return entity.Timestamp, true
	}
	value, ok := entity.Properties[name]
	return value, ok
}

// compareValue orders a stored value against a constant of a known kind.
func compareValue(stored any, c Constant) (int, bool) {
	switch c.Kind {
	case KindText:
		s, ok := stored.(string)
		if !ok {
			return 0, false
		}
		return cmp.Compare(s, c.Value.(string)), true
	case KindBoolean:
		b, ok := stored.(bool)
		if !ok {
			return 0, false
		}
		return compareBool(b, c.Value.(bool)), true
	case KindInt32, KindInt64, KindFloat32, KindFloat64:
		return compareNumber(stored, c.Value)
	case KindDateTime:
		t, ok := toTime(stored)
		if !ok {
			return 0, false
		}
		return t.Compare(c.Value.(time.Time)), true
	case KindGuid:
		text, ok := guidText(stored)
		if !ok {
			return 0, false
		}
		return cmp.Compare(text, c.Value.(uuid.UUID).String()), true
	default:
		return 0, false
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

func compareNumber(stored, want any) (int, bool) {
	if left, ok := toInt64(stored); ok {
		if right, ok := toInt64(want); ok {
			return cmp.Compare(left, right), true
		}
	}
	left, ok := toFloat64(stored)
	if !ok {
		return 0, false
	}
	right, ok := toFloat64(want)
	if !ok {
		return 0, false
	}
	return cmp.Compare(left, right), true
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), uint64(n) <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return ParseDateTime(t)
	default:
		return time.Time{}, false
	}
}

// dateTimePattern is the RFC 3339 shape a stored string must have to compare
// as a DateTime. Every store applies the same pattern.
const dateTimePattern = `^\d{4}-\d{2}-\d{2}T([01]\d|2[0-3]):[0-5]\d:[0-5]\d(\.\d+)?(Z|[+-](0\d|1[0-5]):[0-5]\d)$`

var dateTimeRegexp = regexp.MustCompile(dateTimePattern)

// ParseDateTime parses a stored DateTime string. It reports false for text
// that is not a valid RFC 3339 instant.
func ParseDateTime(s string) (time.Time, bool) {
	if !dateTimeRegexp.MatchString(s) {
		return time.Time{}, false
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	return parsed, err == nil
}

// guidText returns the lower-cased text of a stored Guid: a uuid.UUID or a
// string in the hyphenated 8-4-4-4-12 hex form. Other strings never match.
func guidText(v any) (string, bool) {
	switch id := v.(type) {
	case uuid.UUID:
		return id.String(), true
	case string:
		if !IsGuidText(id) {
			return "", false
		}
		return strings.ToLower(id), true
	default:
		return "", false
	}
}

// IsGuidText reports whether s is a Guid in the hyphenated 8-4-4-4-12 hex
// form, in either case.
func IsGuidText(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch i {
		case 8, 13, 18, 23:
			if c != '-' {
				return false
			}
		default:
			isHex := (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
			if !isHex {
				return false
			}
		}
	}
	return true
}
