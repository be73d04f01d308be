package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gabisonia/go-tablestore/tabledata"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StoreOptions configures PostgresTableStore behavior.
type StoreOptions struct {
	Schema          string
	StrictByDefault bool
	// Now stamps written entities. Defaults to time.Now.
	Now func() time.Time
}

// DefaultStoreOptions returns production-safe defaults.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		Schema:          "public",
		StrictByDefault: true,
	}
}

// PostgresTableStore implements tabledata.TableStore using pgxpool.
type PostgresTableStore struct {
	pool *pgxpool.Pool
	opts StoreOptions
}

// NewTableStore creates a Postgres-backed table store.
func NewTableStore(pool *pgxpool.Pool, opts StoreOptions) (*PostgresTableStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("nil pgx pool")
	}
	normalized := opts.withDefaults()
	if err := normalized.validate(); err != nil {
		return nil, err
	}
	return &PostgresTableStore{pool: pool, opts: normalized}, nil
}

// Table returns a handle to a table without schema checks.
func (s *PostgresTableStore) Table(name string) tabledata.Table {
	return s.newTableHandle(strings.TrimSpace(name))
}

// EnsureTable creates or validates a table schema and returns its handle.
func (s *PostgresTableStore) EnsureTable(ctx context.Context, spec tabledata.TableSpec) (tabledata.Table, error) {
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

func (s *PostgresTableStore) ensureTableWithValidation(ctx context.Context, tableName string, mode tabledata.EnsureMode) error {
	exists, err := s.tableExists(ctx, tableName)
	if err != nil {
		return err
	}
	if !exists {
		return s.createEntityTable(ctx, tableName)
	}
	return s.validateTableSchema(ctx, tableName, mode)
}

func (s *PostgresTableStore) newTableHandle(name string) tabledata.Table {
	return &PostgresTable{
		store: s,
		name:  name,
	}
}

func (o StoreOptions) withDefaults() StoreOptions {
	if strings.TrimSpace(o.Schema) == "" {
		o.Schema = "public"
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o StoreOptions) validate() error {
	if strings.TrimSpace(o.Schema) == "" {
		return fmt.Errorf("%w: schema is empty", tabledata.ErrSchemaMismatch)
	}
	return nil
}
