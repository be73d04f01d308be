package tabledata

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FormatLiteral renders c in the literal syntax of the filter grammar.
func FormatLiteral(c Constant) (string, error) {
	switch c.Kind {
	case KindNull:
		return "null", nil
	case KindText:
		s, ok := c.Value.(string)
		if !ok {
			return "", unsupportedConstant(c)
		}
		return "'" + strings.ReplaceAll(s, "'", "''") + "'", nil
	case KindDateTime:
		t, ok := c.Value.(time.Time)
		if !ok {
			return "", unsupportedConstant(c)
		}
		return "datetime'" + t.Format(time.RFC3339Nano) + "'", nil
	case KindFloat32:
		f, ok := c.Value.(float32)
		if !ok {
			return "", unsupportedConstant(c)
		}
		return formatFloat(c, float64(f), 32)
	case KindFloat64:
		f, ok := c.Value.(float64)
		if !ok {
			return "", unsupportedConstant(c)
		}
		return formatFloat(c, f, 64)
	case KindInt64:
		n, ok := c.Value.(int64)
		if !ok {
			return "", unsupportedConstant(c)
		}
		return strconv.FormatInt(n, 10) + "L", nil
	case KindInt32:
		s, ok := integerText(c.Value)
		if !ok {
			return "", unsupportedConstant(c)
		}
		return s, nil
	case KindBoolean:
		b, ok := c.Value.(bool)
		if !ok {
			return "", unsupportedConstant(c)
		}
		return strconv.FormatBool(b), nil
	case KindGuid:
		id, ok := c.Value.(uuid.UUID)
		if !ok {
			return "", unsupportedConstant(c)
		}
		return "guid'" + id.String() + "'", nil
	default:
		return "", unsupportedConstant(c)
	}
}

// formatFloat always prints the integer part and one or two fractional
// digits: 3 -> "3.0", 100000.5 -> "100000.5", 1.234 -> "1.23". The shortest
// decimal form of f is rounded half away from zero, so 0.125 -> "0.13".
func formatFloat(c Constant, f float64, bitSize int) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", unsupportedConstant(c)
	}
	s := strconv.FormatFloat(f, 'f', -1, bitSize)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 2 {
		roundUp := frac[2] >= '5'
		frac = frac[:2]
		if roundUp {
			digits := incrementDecimal(whole + frac)
			whole, frac = digits[:len(digits)-2], digits[len(digits)-2:]
		}
	}
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		frac = "0"
	}
	if whole == "0" && frac == "0" {
		return "0.0", nil
	}
	return sign + whole + "." + frac, nil
}

// incrementDecimal adds one to a string of decimal digits.
func incrementDecimal(digits string) string {
	b := []byte(digits)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != '9' {
			b[i]++
			return string(b)
		}
		b[i] = '0'
	}
	return "1" + string(b)
}

func integerText(v any) (string, bool) {
	switch n := v.(type) {
	case int:
		return strconv.FormatInt(int64(n), 10), true
	case int8:
		return strconv.FormatInt(int64(n), 10), true
	case int16:
		return strconv.FormatInt(int64(n), 10), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case uint:
		return strconv.FormatUint(uint64(n), 10), true
	case uint8:
		return strconv.FormatUint(uint64(n), 10), true
	case uint16:
		return strconv.FormatUint(uint64(n), 10), true
	case uint32:
		return strconv.FormatUint(uint64(n), 10), true
	case uint64:
		return strconv.FormatUint(n, 10), true
	default:
		return "", false
	}
}
