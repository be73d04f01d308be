package postgres

import (
	"context"
	"fmt"

	"github.com/gabisonia/go-tablestore/tabledata"
)

func (s *PostgresTableStore) ensureBaseSchema(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, quoteIdent(s.opts.Schema))
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema %q: %w", s.opts.Schema, err)
	}
	return nil
}

func (s *PostgresTableStore) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`,
		s.opts.Schema,
		table,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table exists: %w", err)
	}
	return exists, nil
}

func (s *PostgresTableStore) createEntityTable(ctx context.Context, table string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			%s text NOT NULL,
			%s text NOT NULL,
			%s timestamptz NOT NULL DEFAULT now(),
			%s jsonb NOT NULL DEFAULT '{}'::jsonb,
			PRIMARY KEY (%s, %s)
		)
	`,
		qualifiedTable(s.opts.Schema, table),
		quoteIdent(partitionKeyColumn),
		quoteIdent(rowKeyColumn),
		quoteIdent(timestampColumn),
		quoteIdent(propertiesColumn),
		quoteIdent(partitionKeyColumn),
		quoteIdent(rowKeyColumn),
	)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create entity table %q: %w", table, err)
	}
	return nil
}

func (s *PostgresTableStore) validateTableSchema(ctx context.Context, table string, mode tabledata.EnsureMode) error {
	type columnInfo struct {
		dataType string
		udtName  string
	}

	rows, err := s.pool.Query(ctx,
		`SELECT column_name, data_type, udt_name
		 FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2`,
		s.opts.Schema,
		table,
	)
	if err != nil {
		return fmt.Errorf("read schema columns: %w", err)
	}
	defer rows.Close()

	cols := map[string]columnInfo{}
	for rows.Next() {
		var name string
		var info columnInfo
		if err := rows.Scan(&name, &info.dataType, &info.udtName); err != nil {
			return fmt.Errorf("scan schema columns: %w", err)
		}
		cols[name] = info
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate schema columns: %w", err)
	}

	for _, key := range []string{partitionKeyColumn, rowKeyColumn} {
		info, ok := cols[key]
		if !ok {
			return fmt.Errorf("%w: missing column %q", tabledata.ErrSchemaMismatch, key)
		}
		if info.dataType != "text" {
			return fmt.Errorf("%w: expected %q data type text, got %q", tabledata.ErrSchemaMismatch, key, info.dataType)
		}
	}

	if err := s.ensurePrimaryKey(ctx, table); err != nil {
		return err
	}

	if _, ok := cols[timestampColumn]; !ok {
		if mode == tabledata.EnsureStrict {
			return fmt.Errorf("%w: missing column %q", tabledata.ErrSchemaMismatch, timestampColumn)
		}
		if err := s.addColumn(ctx, table, timestampColumn, "timestamptz NOT NULL DEFAULT now()"); err != nil {
			return err
		}
	} else if cols[timestampColumn].udtName != "timestamptz" {
		return fmt.Errorf("%w: expected %q type timestamptz, got %q", tabledata.ErrSchemaMismatch, timestampColumn, cols[timestampColumn].udtName)
	}

	if _, ok := cols[propertiesColumn]; !ok {
		if mode == tabledata.EnsureStrict {
			return fmt.Errorf("%w: missing column %q", tabledata.ErrSchemaMismatch, propertiesColumn)
		}
		if err := s.addColumn(ctx, table, propertiesColumn, "jsonb NOT NULL DEFAULT '{}'::jsonb"); err != nil {
			return err
		}
	} else if cols[propertiesColumn].udtName != "jsonb" {
		return fmt.Errorf("%w: expected %q type jsonb, got %q", tabledata.ErrSchemaMismatch, propertiesColumn, cols[propertiesColumn].udtName)
	}

	return nil
}

func (s *PostgresTableStore) ensurePrimaryKey(ctx context.Context, table string) error {
	var keyColumns int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.table_schema = $1
			AND tc.table_name = $2
			AND tc.constraint_type = 'PRIMARY KEY'
			AND kcu.column_name IN ($3, $4)
	`, s.opts.Schema, table, partitionKeyColumn, rowKeyColumn).Scan(&keyColumns)
	if err != nil {
		return fmt.Errorf("check primary key: %w", err)
	}
	if keyColumns != 2 {
		return fmt.Errorf("%w: primary key on (%q, %q) is required", tabledata.ErrSchemaMismatch, partitionKeyColumn, rowKeyColumn)
	}
	return nil
}

func (s *PostgresTableStore) addColumn(ctx context.Context, table, column, definition string) error {
	query := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s`,
		qualifiedTable(s.opts.Schema, table),
		quoteIdent(column),
		definition,
	)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("auto-migrate %s column: %w", column, err)
	}
	return nil
}
