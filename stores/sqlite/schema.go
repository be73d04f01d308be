package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/gabisonia/go-tablestore/tabledata"
)

func (s *SQLiteTableStore) tableExists(ctx context.Context, table string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		table,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table exists: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteTableStore) createEntityTable(ctx context.Context, table string) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			%s TEXT NOT NULL,
			%s TEXT NOT NULL,
			%s TEXT NOT NULL,
			%s TEXT NOT NULL DEFAULT '{}',
			PRIMARY KEY (%s, %s)
		) WITHOUT ROWID
	`,
		quoteIdent(table),
		quoteIdent(partitionKeyColumn),
		quoteIdent(rowKeyColumn),
		quoteIdent(timestampColumn),
		quoteIdent(propertiesColumn),
		quoteIdent(partitionKeyColumn),
		quoteIdent(rowKeyColumn),
	)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create entity table %q: %w", table, err)
	}
	return nil
}

func (s *SQLiteTableStore) validateTableSchema(ctx context.Context, table string, mode tabledata.EnsureMode) error {
	type columnInfo struct {
		dataType string
		pk       int
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, type, pk FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("read schema columns: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]columnInfo)
	for rows.Next() {
		var name string
		var info columnInfo
		if err := rows.Scan(&name, &info.dataType, &info.pk); err != nil {
			return fmt.Errorf("scan schema columns: %w", err)
		}
		info.dataType = strings.ToUpper(strings.TrimSpace(info.dataType))
		columns[name] = info
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate schema columns: %w", err)
	}

	for position, key := range []string{partitionKeyColumn, rowKeyColumn} {
		info, ok := columns[key]
		if !ok {
			return fmt.Errorf("%w: missing column %q", tabledata.ErrSchemaMismatch, key)
		}
		if info.dataType != "TEXT" {
			return fmt.Errorf("%w: expected %q type TEXT, got %q", tabledata.ErrSchemaMismatch, key, info.dataType)
		}
		if info.pk != position+1 {
			return fmt.Errorf("%w: primary key on (%q, %q) is required", tabledata.ErrSchemaMismatch, partitionKeyColumn, rowKeyColumn)
		}
	}

	missing := map[string]string{
		timestampColumn:  "TEXT NOT NULL DEFAULT '0001-01-01T00:00:00.000000000Z'",
		propertiesColumn: "TEXT NOT NULL DEFAULT '{}'",
	}
	for _, column := range []string{timestampColumn, propertiesColumn} {
		info, ok := columns[column]
		if ok {
			if info.dataType != "TEXT" {
				return fmt.Errorf("%w: expected %q type TEXT, got %q", tabledata.ErrSchemaMismatch, column, info.dataType)
			}
			continue
		}
		if mode == tabledata.EnsureStrict {
			return fmt.Errorf("%w: missing column %q", tabledata.ErrSchemaMismatch, column)
		}
		query := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, quoteIdent(table), quoteIdent(column), missing[column])
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("auto-migrate %s column: %w", column, err)
		}
	}

	return nil
}
