package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabisonia/go-tablestore/tabledata"
)

type writeMode int

const (
	writeModeInsert writeMode = iota
	writeModeUpsert
)

type queryPlan struct {
	query  string
	args   []any
	fields []string
}

// MSSQLTable is a SQL Server-backed entity table.
//
// Predicates are compiled to T-SQL when possible. Shapes the compiler
// cannot express exactly are evaluated in memory over the loaded rows.
type MSSQLTable struct {
	store *MSSQLTableStore
	name  string
}

func (t *MSSQLTable) Name() string {
	return t.name
}

func (t *MSSQLTable) Insert(ctx context.Context, entities []tabledata.Entity) error {
	return t.writeEntities(ctx, entities, writeModeInsert)
}

func (t *MSSQLTable) Upsert(ctx context.Context, entities []tabledata.Entity) error {
	return t.writeEntities(ctx, entities, writeModeUpsert)
}

func (t *MSSQLTable) Get(ctx context.Context, partitionKey, rowKey string) (tabledata.Entity, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = @p1 AND %s = @p2",
		selectColumns(),
		t.tableName(),
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

func (t *MSSQLTable) Delete(ctx context.Context, keys []tabledata.EntityKey) (int64, error) {
	var total int64
	for start := 0; start < len(keys); start += maxRowsPerStatement {
		end := start + maxRowsPerStatement
		if end > len(keys) {
			end = len(keys)
		}

		query, args := t.buildDeleteQuery(keys[start:end])
		result, err := t.store.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += rowsAffected
	}
	return total, nil
}

func (t *MSSQLTable) Count(ctx context.Context, where tabledata.Expr) (int64, error) {
	whereSQL, args, _, err := compileMSSQLFilterSQL(where, 1)
	if errors.Is(err, errFilterPushdownUnsupported) {
		entities, err := t.queryInMemory(ctx, where)
		if err != nil {
			return 0, err
		}
		return int64(len(entities)), nil
	}
	if err != nil {
		return 0, err
	}

	query := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s", t.tableName())
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}
	var count int64
	if err := t.store.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (t *MSSQLTable) Query(ctx context.Context, opts tabledata.QueryOptions) ([]tabledata.Entity, error) {
	if opts.Top < 0 {
		return nil, fmt.Errorf("%w: top must be >= 0", tabledata.ErrInvalidFilter)
	}

	plan, err := t.buildQueryPlan(opts)
	if errors.Is(err, errFilterPushdownUnsupported) {
		return t.queryWithFallback(ctx, opts)
	}
	if err != nil {
		return nil, err
	}

	entities, err := t.loadEntities(ctx, plan.query, plan.args...)
	if err != nil {
		return nil, err
	}
	return project(entities, plan.fields), nil
}

func (t *MSSQLTable) buildQueryPlan(opts tabledata.QueryOptions) (queryPlan, error) {
	whereSQL, args, nextArg, err := compileMSSQLFilterSQL(opts.Where, 1)
	if err != nil {
		return queryPlan{}, err
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectColumns())
	b.WriteString(" FROM ")
	b.WriteString(t.tableName())
	if whereSQL != "" {
		b.WriteString(" WHERE ")
		b.WriteString(whereSQL)
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(quoteIdent(partitionKeyColumn) + ", " + quoteIdent(rowKeyColumn))
	if opts.Top > 0 {
		b.WriteString(fmt.Sprintf(" OFFSET 0 ROWS FETCH NEXT @p%d ROWS ONLY", nextArg))
		args = append(args, opts.Top)
	}

	return queryPlan{query: b.String(), args: args, fields: opts.Select}, nil
}

func (t *MSSQLTable) queryWithFallback(ctx context.Context, opts tabledata.QueryOptions) ([]tabledata.Entity, error) {
	entities, err := t.queryInMemory(ctx, opts.Where)
	if err != nil {
		return nil, err
	}
	if opts.Top > 0 && len(entities) > opts.Top {
		entities = entities[:opts.Top]
	}
	return project(entities, opts.Select), nil
}

// queryInMemory loads every row in key order and keeps those matching where.
func (t *MSSQLTable) queryInMemory(ctx context.Context, where tabledata.Expr) ([]tabledata.Entity, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s, %s",
		selectColumns(),
		t.tableName(),
		quoteIdent(partitionKeyColumn),
		quoteIdent(rowKeyColumn),
	)
	entities, err := t.loadEntities(ctx, query)
	if err != nil {
		return nil, err
	}

	matched := entities[:0]
	for _, entity := range entities {
		ok, err := tabledata.MatchEntity(where, entity)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, entity)
		}
	}
	return matched, nil
}

func (t *MSSQLTable) loadEntities(ctx context.Context, query string, args ...any) ([]tabledata.Entity, error) {
	rows, err := t.store.db.QueryContext(ctx, query, args...)
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
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entities, nil
}

func (t *MSSQLTable) writeEntities(ctx context.Context, entities []tabledata.Entity, mode writeMode) error {
	if len(entities) == 0 {
		return nil
	}

	insertQuery := buildInsertQuery(t.tableName())
	upsertQuery := buildUpsertQuery(t.tableName())
	now := t.store.opts.Now().UTC()

	for start := 0; start < len(entities); start += maxRowsPerStatement {
		end := start + maxRowsPerStatement
		if end > len(entities) {
			end = len(entities)
		}

		tx, err := t.store.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		query := insertQuery
		if mode == writeModeUpsert {
			query = upsertQuery
		}
		if err := writeBatch(ctx, tx, entities[start:end], query, now); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return nil
}

func writeBatch(ctx context.Context, tx *sql.Tx, entities []tabledata.Entity, query string, now time.Time) error {
	for _, entity := range entities {
		if err := tabledata.ValidateEntity(entity); err != nil {
			return err
		}
		payload, err := tabledata.EncodeProperties(entity.Properties)
		if err != nil {
			return fmt.Errorf("encode properties for entity (%q, %q): %w", entity.PartitionKey, entity.RowKey, err)
		}
		if _, err := tx.ExecContext(ctx, query, entity.PartitionKey, entity.RowKey, now, string(payload)); err != nil {
			return err
		}
	}
	return nil
}

func buildInsertQuery(table string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (@p1, @p2, @p3, @p4)", table, selectColumns())
}

// buildUpsertQuery updates under a key-range lock and inserts on miss, so
// concurrent upserts of the same key cannot both take the insert branch.
func buildUpsertQuery(table string) string {
	return fmt.Sprintf(`
		UPDATE %s WITH (UPDLOCK, SERIALIZABLE)
		SET %s = @p3, %s = @p4
		WHERE %s = @p1 AND %s = @p2;
		IF @@ROWCOUNT = 0
		BEGIN
			INSERT INTO %s (%s) VALUES (@p1, @p2, @p3, @p4);
		END
	`,
		table,
		quoteIdent(timestampColumn),
		quoteIdent(propertiesColumn),
		quoteIdent(partitionKeyColumn),
		quoteIdent(rowKeyColumn),
		table,
		selectColumns(),
	)
}

func (t *MSSQLTable) buildDeleteQuery(keys []tabledata.EntityKey) (string, []any) {
	conditions := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*2)
	for i, key := range keys {
		conditions = append(conditions, fmt.Sprintf("(%s = @p%d AND %s = @p%d)",
			quoteIdent(partitionKeyColumn), i*2+1,
			quoteIdent(rowKeyColumn), i*2+2,
		))
		args = append(args, key.PartitionKey, key.RowKey)
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", t.tableName(), strings.Join(conditions, " OR "))
	return query, args
}

func (t *MSSQLTable) tableName() string {
	return qualifiedTable(t.store.opts.Schema, t.name)
}

func project(entities []tabledata.Entity, fields []string) []tabledata.Entity {
	if fields == nil {
		return entities
	}
	for i := range entities {
		entities[i] = tabledata.ProjectEntity(entities[i], fields)
	}
	return entities
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (tabledata.Entity, error) {
	var out tabledata.Entity
	var propertiesRaw string
	if err := row.Scan(&out.PartitionKey, &out.RowKey, &out.Timestamp, &propertiesRaw); err != nil {
		return tabledata.Entity{}, err
	}
	properties, err := tabledata.DecodeProperties([]byte(propertiesRaw))
	if err != nil {
		return tabledata.Entity{}, fmt.Errorf("decode properties: %w", err)
	}
	out.Properties = properties
	out.Timestamp = out.Timestamp.UTC()
	return out, nil
}
