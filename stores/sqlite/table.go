package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabisonia/go-tablestore/tabledata"
)

// SQLiteTable is a SQLite-backed entity table.
type SQLiteTable struct {
	store *SQLiteTableStore
	name  string
}

func (t *SQLiteTable) Name() string {
	return t.name
}

func (t *SQLiteTable) Insert(ctx context.Context, entities []tabledata.Entity) error {
	return t.writeEntities(ctx, entities, false)
}

func (t *SQLiteTable) Upsert(ctx context.Context, entities []tabledata.Entity) error {
	return t.writeEntities(ctx, entities, true)
}

func (t *SQLiteTable) Get(ctx context.Context, partitionKey, rowKey string) (tabledata.Entity, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? AND %s = ?",
		selectColumns(),
		quoteIdent(t.name),
		quoteIdent(partitionKeyColumn),
		quoteIdent(rowKeyColumn),
	)
	entity, err := scanEntity(t.store.db.QueryRowContext(ctx, query, partitionKey, rowKey))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tabledata.Entity{}, tabledata.ErrNotFound
		}
		return tabledata.Entity{}, err
	}
	return entity, nil
}

func (t *SQLiteTable) Delete(ctx context.Context, keys []tabledata.EntityKey) (int64, error) {
	var total int64
	for start := 0; start < len(keys); start += maxRowsPerStatement {
		end := min(start+maxRowsPerStatement, len(keys))
		batch := keys[start:end]

		tuples := make([]string, 0, len(batch))
		args := make([]any, 0, len(batch)*2)
		for _, key := range batch {
			tuples = append(tuples, "(?, ?)")
			args = append(args, key.PartitionKey, key.RowKey)
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE (%s, %s) IN (VALUES %s)",
			quoteIdent(t.name),
			quoteIdent(partitionKeyColumn),
			quoteIdent(rowKeyColumn),
			strings.Join(tuples, ", "),
		)

		result, err := t.store.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += affected
	}
	return total, nil
}

func (t *SQLiteTable) Count(ctx context.Context, where tabledata.Expr) (int64, error) {
	whereSQL, args, err := compileFilterSQL(where)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(t.name))
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	var count int64
	if err := t.store.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (t *SQLiteTable) Query(ctx context.Context, opts tabledata.QueryOptions) ([]tabledata.Entity, error) {
	if opts.Top < 0 {
		return nil, fmt.Errorf("%w: top must be >= 0", tabledata.ErrInvalidFilter)
	}
	whereSQL, args, err := compileFilterSQL(opts.Where)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", selectColumns(), quoteIdent(t.name))
	if whereSQL != "" {
		b.WriteString(" WHERE " + whereSQL)
	}
	fmt.Fprintf(&b, " ORDER BY %s, %s", quoteIdent(partitionKeyColumn), quoteIdent(rowKeyColumn))
	if opts.Top > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, opts.Top)
	}

	rows, err := t.store.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entities := make([]tabledata.Entity, 0)
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		if opts.Select != nil {
			entity = tabledata.ProjectEntity(entity, opts.Select)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entities, nil
}

func (t *SQLiteTable) writeEntities(ctx context.Context, entities []tabledata.Entity, upsert bool) error {
	if len(entities) == 0 {
		return nil
	}

	stamp := canonicalTime(t.store.opts.Now())
	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for start := 0; start < len(entities); start += maxRowsPerStatement {
		end := min(start+maxRowsPerStatement, len(entities))
		query, args, err := t.buildWriteBatch(entities[start:end], upsert, stamp)
		if err == nil {
			_, err = tx.ExecContext(ctx, query, args...)
		}
		if err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (t *SQLiteTable) buildWriteBatch(entities []tabledata.Entity, upsert bool, stamp string) (string, []any, error) {
	values := make([]string, 0, len(entities))
	args := make([]any, 0, len(entities)*4)
	for _, entity := range entities {
		if err := tabledata.ValidateEntity(entity); err != nil {
			return "", nil, err
		}
		payload, err := tabledata.EncodeProperties(entity.Properties)
		if err != nil {
			return "", nil, fmt.Errorf("encode properties for entity (%q, %q): %w", entity.PartitionKey, entity.RowKey, err)
		}
		values = append(values, "(?, ?, ?, ?)")
		args = append(args, entity.PartitionKey, entity.RowKey, stamp, string(payload))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", quoteIdent(t.name), selectColumns(), strings.Join(values, ", "))
	if upsert {
		query += fmt.Sprintf(" ON CONFLICT (%s, %s) DO UPDATE SET %s = excluded.%s, %s = excluded.%s",
			quoteIdent(partitionKeyColumn), quoteIdent(rowKeyColumn),
			quoteIdent(timestampColumn), quoteIdent(timestampColumn),
			quoteIdent(propertiesColumn), quoteIdent(propertiesColumn),
		)
	}
	return query, args, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (tabledata.Entity, error) {
	var out tabledata.Entity
	var stamp, propertiesRaw string
	if err := row.Scan(&out.PartitionKey, &out.RowKey, &stamp, &propertiesRaw); err != nil {
		return tabledata.Entity{}, err
	}
	timestamp, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return tabledata.Entity{}, fmt.Errorf("decode timestamp: %w", err)
	}
	properties, err := tabledata.DecodeProperties([]byte(propertiesRaw))
	if err != nil {
		return tabledata.Entity{}, fmt.Errorf("decode properties: %w", err)
	}
	out.Timestamp = timestamp
	out.Properties = properties
	return out, nil
}
