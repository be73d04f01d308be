package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gabisonia/go-tablestore/tabledata"
)

// StoreOptions configures SQLiteTableStore behavior.
type StoreOptions struct {
	StrictByDefault bool
	// Now stamps written entities. Defaults to time.Now.
	Now func() time.Time
}

// DefaultStoreOptions returns production-safe defaults.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{StrictByDefault: true}
}

// SQLiteTableStore implements tabledata.TableStore on an embedded SQLite
// database.
type SQLiteTableStore struct {
	db   *sql.DB
	opts StoreOptions
}

// Open opens a SQLite database with the pure-Go driver. Each connection to
// ":memory:" gets its own database, so the pool is capped at one connection.
func Open(dsn string) (*sql.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn is empty")
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewTableStore creates a SQLite-backed table store.
func NewTableStore(db *sql.DB, opts StoreOptions) (*SQLiteTableStore, error) {
	if db == nil {
		return nil, fmt.Errorf("nil sql db")
	}
	return &SQLiteTableStore{db: db, opts: opts.withDefaults()}, nil
}

// Table returns a handle to a table without schema checks.
func (s *SQLiteTableStore) Table(name string) tabledata.Table {
	return &SQLiteTable{store: s, name: strings.TrimSpace(name)}
}

// EnsureTable creates or validates a table schema and returns its handle.
func (s *SQLiteTableStore) EnsureTable(ctx context.Context, spec tabledata.TableSpec) (tabledata.Table, error) {
	normalizedSpec, err := tabledata.NormalizeTableSpec(spec, s.opts.StrictByDefault)
	if err != nil {
		return nil, err
	}

	exists, err := s.tableExists(ctx, normalizedSpec.Name)
	if err != nil {
		return nil, err
	}
	if !exists {
		err = s.createEntityTable(ctx, normalizedSpec.Name)
	} else {
		err = s.validateTableSchema(ctx, normalizedSpec.Name, normalizedSpec.Mode)
	}
	if err != nil {
		return nil, err
	}

	return s.Table(normalizedSpec.Name), nil
}

func (o StoreOptions) withDefaults() StoreOptions {
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
