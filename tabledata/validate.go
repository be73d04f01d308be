package tabledata

import (
	"fmt"
	"strings"
)

func (m EnsureMode) Validate() error {
	switch m {
	case EnsureStrict, EnsureAutoMigrate:
		return nil
	default:
		return fmt.Errorf("%w: unsupported ensure mode %q", ErrSchemaMismatch, m)
	}
}

// ValidateTableName checks the table service naming rules: 3 to 63
// alphanumeric characters, starting with a letter.
func ValidateTableName(name string) error {
	if len(name) < 3 || len(name) > 63 {
		return fmt.Errorf("%w: table name %q must be 3-63 characters long", ErrSchemaMismatch, name)
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		if i == 0 && !isLetter {
			return fmt.Errorf("%w: table name %q must start with a letter", ErrSchemaMismatch, name)
		}
		if !isLetter && (c < '0' || c > '9') {
			return fmt.Errorf("%w: table name %q must be alphanumeric", ErrSchemaMismatch, name)
		}
	}
	return nil
}

// ValidateEntity checks keys and property names before a write.
func ValidateEntity(e Entity) error {
	if strings.TrimSpace(e.PartitionKey) == "" {
		return fmt.Errorf("%w: partition key is empty", ErrInvalidEntity)
	}
	if strings.TrimSpace(e.RowKey) == "" {
		return fmt.Errorf("%w: row key is empty", ErrInvalidEntity)
	}
	for _, key := range []string{e.PartitionKey, e.RowKey} {
		if strings.ContainsAny(key, `/\#?`) {
			return fmt.Errorf("%w: key %q contains a forbidden character", ErrInvalidEntity, key)
		}
	}
	for name := range e.Properties {
		if !isIdentifier(name) {
			return fmt.Errorf("%w: property name %q is not valid", ErrInvalidEntity, name)
		}
		switch name {
		case PartitionKeyField, RowKeyField, TimestampField:
			return fmt.Errorf("%w: property name %q is reserved", ErrInvalidEntity, name)
		}
	}
	return nil
}

func normalizeMode(mode EnsureMode) EnsureMode {
	if mode == "" {
		return EnsureStrict
	}
	return mode
}

// NormalizeTableSpec trims the name, applies the default mode and validates both.
func NormalizeTableSpec(spec TableSpec, strictByDefault bool) (TableSpec, error) {
	spec.Name = strings.TrimSpace(spec.Name)
	if err := ValidateTableName(spec.Name); err != nil {
		return TableSpec{}, err
	}
	if spec.Mode == "" && !strictByDefault {
		spec.Mode = EnsureAutoMigrate
	}
	spec.Mode = normalizeMode(spec.Mode)
	if err := spec.Mode.Validate(); err != nil {
		return TableSpec{}, err
	}
	return spec, nil
}
