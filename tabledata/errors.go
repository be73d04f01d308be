package tabledata

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedConstruct = errors.New("tabledata: unsupported construct")
	ErrUnsupportedConstant  = errors.New("tabledata: unsupported constant")
	ErrInvalidExpression    = errors.New("tabledata: invalid expression")

	ErrNotFound       = errors.New("tabledata: entity not found")
	ErrSchemaMismatch = errors.New("tabledata: schema mismatch")
	ErrInvalidFilter  = errors.New("tabledata: invalid filter")
	ErrInvalidEntity  = errors.New("tabledata: invalid entity")
)

// UnsupportedConstructError reports a node, operator or member shape that
// has no translation.
type UnsupportedConstructError struct {
	Construct string
}

func (e *UnsupportedConstructError) Error() string {
	return fmt.Sprintf("%s: %s", ErrUnsupportedConstruct, e.Construct)
}

func (e *UnsupportedConstructError) Is(target error) bool {
	return target == ErrUnsupportedConstruct
}

// UnsupportedConstantError reports a constant whose kind has no literal encoding.
type UnsupportedConstantError struct {
	Kind  Kind
	Value any
}

func (e *UnsupportedConstantError) Error() string {
	return fmt.Sprintf("%s: the constant for %q (%T) is not supported", ErrUnsupportedConstant, e.Kind, e.Value)
}

func (e *UnsupportedConstantError) Is(target error) bool {
	return target == ErrUnsupportedConstant
}

func unsupportedConstruct(format string, args ...any) error {
	return &UnsupportedConstructError{Construct: fmt.Sprintf(format, args...)}
}

func unsupportedConstant(c Constant) error {
	return &UnsupportedConstantError{Kind: c.Kind, Value: c.Value}
}
