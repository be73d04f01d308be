package mssql

import (
	"context"
	"fmt"

	"github.com/gabisonia/go-tablestore/tabledata"
)

func (s *MSSQLTableStore) ensureBaseSchema(ctx context.Context) error {
	schemaLiteral := escapeSQLString(s.opts.Schema)
	query := fmt.Sprintf("IF SCHEMA_ID(N'%s') IS NULL EXEC(N'CREATE SCHEMA %s')", schemaLiteral, escapeSQLString(quoteIdent(s.opts.Schema)))
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure schema %q: %w", s.opts.Schema, err)
	}
	return nil
}

func (s *MSSQLTableStore) ensureTableWithValidation(ctx context.Context, table string, mode tabledata.EnsureMode) error {
	exists, err := s.tableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return s.createEntityTable(ctx, table)
	}
	return s.validateTableSchema(ctx, table, mode)
}

func (s *MSSQLTableStore) tableExists(ctx context.Context, table string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1)
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
	`, s.opts.Schema, table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table exists: %w", err)
	}
	return count > 0, nil
}

func (s *MSSQLTableStore) createEntityTable(ctx context.Context, table string) error {
	query := fmt.Sprintf(`
		IF OBJECT_ID(N'%s', N'U') IS NULL
		BEGIN
			CREATE TABLE %s (
				%s NVARCHAR(255) COLLATE %s NOT NULL,
				%s NVARCHAR(255) COLLATE %s NOT NULL,
				%s DATETIME2(7) NOT NULL DEFAULT SYSUTCDATETIME(),
				%s NVARCHAR(MAX) NOT NULL DEFAULT N'{}',
				PRIMARY KEY (%s, %s)
			)
		END
	`,
		escapeSQLString(objectIDName(s.opts.Schema, table)),
		qualifiedTable(s.opts.Schema, table),
		quoteIdent(partitionKeyColumn), ordinalCollation,
		quoteIdent(rowKeyColumn), ordinalCollation,
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

func (s *MSSQLTableStore) validateTableSchema(ctx context.Context, table string, mode tabledata.EnsureMode) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
	`, s.opts.Schema, table)
	if err != nil {
		return fmt.Errorf("read schema columns: %w", err)
	}
	defer rows.Close()

	columns := make(map[string]string)
	for rows.Next() {
		var columnName string
		var dataType string
		if err := rows.Scan(&columnName, &dataType); err != nil {
			return fmt.Errorf("scan schema columns: %w", err)
		}
		columns[columnName] = dataType
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate schema columns: %w", err)
	}

	for _, key := range []string{partitionKeyColumn, rowKeyColumn} {
		dataType, ok := columns[key]
		if !ok {
			return fmt.Errorf("%w: missing column %q", tabledata.ErrSchemaMismatch, key)
		}
		if !isStringType(dataType) {
			return fmt.Errorf("%w: expected %q to be string-compatible type, got %q", tabledata.ErrSchemaMismatch, key, dataType)
		}
	}

	if err := s.ensurePrimaryKey(ctx, table); err != nil {
		return err
	}

	timestampType, hasTimestamp := columns[timestampColumn]
	if !hasTimestamp {
		if mode == tabledata.EnsureStrict {
			return fmt.Errorf("%w: missing column %q", tabledata.ErrSchemaMismatch, timestampColumn)
		}
		if err := s.addColumn(ctx, table, timestampColumn, "DATETIME2(7) NOT NULL DEFAULT SYSUTCDATETIME()"); err != nil {
			return err
		}
	} else if !isDateTimeType(timestampType) {
		return fmt.Errorf("%w: expected %q to be a datetime type, got %q", tabledata.ErrSchemaMismatch, timestampColumn, timestampType)
	}

	propertiesType, hasProperties := columns[propertiesColumn]
	if !hasProperties {
		if mode == tabledata.EnsureStrict {
			return fmt.Errorf("%w: missing column %q", tabledata.ErrSchemaMismatch, propertiesColumn)
		}
		if err := s.addColumn(ctx, table, propertiesColumn, "NVARCHAR(MAX) NOT NULL DEFAULT N'{}'"); err != nil {
			return err
		}
	} else if !isStringType(propertiesType) {
		return fmt.Errorf("%w: expected %q to be string-compatible type, got %q", tabledata.ErrSchemaMismatch, propertiesColumn, propertiesType)
	}

	return nil
}

func (s *MSSQLTableStore) ensurePrimaryKey(ctx context.Context, table string) error {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1)
		FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
		INNER JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			ON tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
			AND tc.TABLE_SCHEMA = kcu.TABLE_SCHEMA
			AND tc.TABLE_NAME = kcu.TABLE_NAME
		WHERE tc.TABLE_SCHEMA = @p1
			AND tc.TABLE_NAME = @p2
			AND tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
			AND kcu.COLUMN_NAME IN (@p3, @p4)
	`, s.opts.Schema, table, partitionKeyColumn, rowKeyColumn).Scan(&count)
	if err != nil {
		return fmt.Errorf("check primary key: %w", err)
	}
	if count != 2 {
		return fmt.Errorf("%w: primary key on (%q, %q) is required", tabledata.ErrSchemaMismatch, partitionKeyColumn, rowKeyColumn)
	}
	return nil
}

func (s *MSSQLTableStore) addColumn(ctx context.Context, table, column, definition string) error {
	query := fmt.Sprintf("ALTER TABLE %s ADD %s %s", qualifiedTable(s.opts.Schema, table), quoteIdent(column), definition)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("auto-migrate %s column: %w", column, err)
	}
	return nil
}
