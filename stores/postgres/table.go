package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabisonia/go-tablestore/tabledata"
	"github.com/jackc/pgx/v5"
)

const maxRowsPerStatement = 500

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

// PostgresTable is a PostgreSQL-backed entity table.
type PostgresTable struct {
	store *PostgresTableStore
	name  string
}

func (t *PostgresTable) Name() string {
	return t.name
}

func (t *PostgresTable) Insert(ctx context.Context, entities []tabledata.Entity) error {
	return t.writeEntities(ctx, entities, writeModeInsert)
}

func (t *PostgresTable) Upsert(ctx context.Context, entities []tabledata.Entity) error {
	return t.writeEntities(ctx, entities, writeModeUpsert)
}

func (t *PostgresTable) Get(ctx context.Context, partitionKey, rowKey string) (tabledata.Entity, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE %s = $1 AND %s = $2
	`,
		selectColumns(),
		t.tableName(),
		quoteIdent(partitionKeyColumn),
		quoteIdent(rowKeyColumn),
	)

	entity, err := scanEntity(t.store.pool.QueryRow(ctx, query, partitionKey, rowKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tabledata.Entity{}, tabledata.ErrNotFound
		}
		return tabledata.Entity{}, err
	}
	return entity, nil
}

func (t *PostgresTable) Delete(ctx context.Context, keys []tabledata.EntityKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	tuples := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)*2)
	for i, key := range keys {
		tuples = append(tuples, fmt.Sprintf("($%d, $%d)", i*2+1, i*2+2))
		args = append(args, key.PartitionKey, key.RowKey)
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE (%s, %s) IN (%s)`,
		t.tableName(),
		quoteIdent(partitionKeyColumn),
		quoteIdent(rowKeyColumn),
		strings.Join(tuples, ", "),
	)
	cmd, err := t.store.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (t *PostgresTable) Count(ctx context.Context, where tabledata.Expr) (int64, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.tableName())
	whereSQL, args, _, err := tabledata.CompileFilterSQL(where, filterConfig(), 1)
	if err != nil {
		return 0, err
	}
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	var count int64
	if err := t.store.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (t *PostgresTable) Query(ctx context.Context, opts tabledata.QueryOptions) ([]tabledata.Entity, error) {
	plan, err := t.buildQueryPlan(opts)
	if err != nil {
		return nil, err
	}

	rows, err := t.store.pool.Query(ctx, plan.query, plan.args...)
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
		if plan.fields != nil {
			entity = tabledata.ProjectEntity(entity, plan.fields)
		}
		entities = append(entities, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entities, nil
}

func (t *PostgresTable) buildQueryPlan(opts tabledata.QueryOptions) (queryPlan, error) {
	if opts.Top < 0 {
		return queryPlan{}, fmt.Errorf("%w: top must be >= 0", tabledata.ErrInvalidFilter)
	}

	whereSQL, args, nextArg, err := tabledata.CompileFilterSQL(opts.Where, filterConfig(), 1)
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
		b.WriteString(fmt.Sprintf(" LIMIT $%d", nextArg))
		args = append(args, opts.Top)
	}

	return queryPlan{
		query:  b.String(),
		args:   args,
		fields: opts.Select,
	}, nil
}

func (t *PostgresTable) writeEntities(ctx context.Context, entities []tabledata.Entity, mode writeMode) error {
	if len(entities) == 0 {
		return nil
	}

	now := t.store.opts.Now().UTC()
	for start := 0; start < len(entities); start += maxRowsPerStatement {
		end := start + maxRowsPerStatement
		if end > len(entities) {
			end = len(entities)
		}

		query, args, err := t.buildWriteBatch(entities[start:end], mode, now)
		if err != nil {
			return err
		}
		if _, err := t.store.pool.Exec(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func (t *PostgresTable) buildWriteBatch(entities []tabledata.Entity, mode writeMode, now time.Time) (string, []any, error) {
	args := make([]any, 0, len(entities)*4)
	values := make([]string, 0, len(entities))

	for i, entity := range entities {
		if err := tabledata.ValidateEntity(entity); err != nil {
			return "", nil, err
		}

		payload, err := tabledata.EncodeProperties(entity.Properties)
		if err != nil {
			return "", nil, fmt.Errorf("encode properties for entity (%q, %q): %w", entity.PartitionKey, entity.RowKey, err)
		}

		base := i*4 + 1
		values = append(values, fmt.Sprintf("($%d, $%d, $%d, $%d::jsonb)", base, base+1, base+2, base+3))
		args = append(args, entity.PartitionKey, entity.RowKey, now, string(payload))
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.tableName())
	b.WriteString(" (")
	b.WriteString(selectColumns())
	b.WriteString(") VALUES ")
	b.WriteString(strings.Join(values, ", "))

	if mode == writeModeUpsert {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(quoteIdent(partitionKeyColumn) + ", " + quoteIdent(rowKeyColumn))
		b.WriteString(") DO UPDATE SET ")
		b.WriteString(quoteIdent(timestampColumn) + " = EXCLUDED." + quoteIdent(timestampColumn) + ", ")
		b.WriteString(quoteIdent(propertiesColumn) + " = EXCLUDED." + quoteIdent(propertiesColumn))
	}

	return b.String(), args, nil
}

func (t *PostgresTable) tableName() string {
	return qualifiedTable(t.store.opts.Schema, t.name)
}

func scanEntity(row pgx.Row) (tabledata.Entity, error) {
	var out tabledata.Entity
	var propertiesRaw []byte
	if err := row.Scan(&out.PartitionKey, &out.RowKey, &out.Timestamp, &propertiesRaw); err != nil {
		return tabledata.Entity{}, err
	}
	properties, err := tabledata.DecodeProperties(propertiesRaw)
	if err != nil {
		return tabledata.Entity{}, fmt.Errorf("decode properties: %w", err)
	}
	out.Properties = properties
	return out, nil
}
