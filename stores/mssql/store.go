package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gabisonia/go-tablestore/tabledata"
)

// StoreOptions configures MSSQLTableStore behavior.
type StoreOptions struct {
	Schema          string
	StrictByDefault bool
	// Now stamps written entities. Defaults to time.Now.
	Now func() time.Time
}

// DefaultStoreOptions returns production-safe defaults.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		Schema:          "dbo",
		StrictByDefault: true,
	}
}

// MSSQLTableStore implements tabledata.TableStore using database/sql.
type MSSQLTableStore struct {
	db   *sql.DB
	opts StoreOptions
}

// NewTableStore creates a SQL Server-backed table store.
func NewTableStore(db *sql.DB, opts StoreOptions) (*MSSQLTableStore, error) {
	if db == nil {
		return nil, fmt.Errorf("nil sql db")
	}

	normalized := opts.withDefaults()
	if err := normalized.validate(); err != nil {
		return nil, err
	}

	return &MSSQLTableStore{db: db, opts: normalized}, nil
}

// Table returns a handle to a table without schema checks.
func (s *MSSQLTableStore) Table(name string) tabledata.Table {
	return s.newTableHandle(name)
}

// EnsureTable creates or validates a table schema and returns its handle.
func (s *MSSQLTableStore) EnsureTable(ctx context.Context, spec tabledata.TableSpec) (tabledata.Table, error) {
	normalizedSpec, err := tabledata.NormalizeTableSpec(spec, s.opts.StrictByDefault)
	if err != nil {
		return nil, err
	}

	if err := s.ensureBaseSchema(ctx); err != nil {
		return nil, err
	}
	if err := s.ensureTableWithValidation(ctx, normalizedSpec.Name, normalizedSpec.Mode); err != nil {
		return nil, err
	}

	return s.newTableHandle(normalizedSpec.Name), nil
}

func (s *MSSQLTableStore) newTableHandle(name string) tabledata.Table {
	return &MSSQLTable{
		store: s,
		name:  strings.TrimSpace(name),
	}
}

func (s StoreOptions) withDefaults() StoreOptions {
	if strings.TrimSpace(s.Schema) == "" {
		s.Schema = "dbo"
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

func (s StoreOptions) validate() error {
	if strings.TrimSpace(s.Schema) == "" {
		return fmt.Errorf("%w: schema is empty", tabledata.ErrSchemaMismatch)
	}
	return nil
}
