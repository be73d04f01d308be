package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/gabisonia/go-tablestore/tabledata"
	"github.com/google/uuid"
)

var franceCode = uuid.MustParse("4a1c6d8e-0000-4000-8000-000000000001")

func openTestStore(t *testing.T) (*SQLiteTableStore, *sql.DB) {
	t.Helper()

	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store, err := NewTableStore(db, StoreOptions{
		StrictByDefault: true,
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	if err != nil {
		t.Fatalf("NewTableStore: %v", err)
	}
	return store, db
}

func seedCountries(t *testing.T, ctx context.Context, store *SQLiteTableStore) tabledata.Table {
	t.Helper()

	table, err := store.EnsureTable(ctx, tabledata.TableSpec{Name: "Countries"})
	if err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	err = table.Upsert(ctx, []tabledata.Entity{
		{PartitionKey: "Europe", RowKey: "France", Properties: map[string]any{
			"Formed": time.Date(843, 8, 10, 0, 0, 0, 0, time.UTC), "PresidentsCount": int64(25),
			"Population": 67.75, "IsExists": true, "Code": franceCode, "Big": int64(1) << 60,
			"Founded": "1958-10-04T00:00:00+01:00",
		}},
		{PartitionKey: "Europe", RowKey: "Latvia", Properties: map[string]any{
			"Formed": time.Date(1918, 11, 18, 0, 0, 0, 0, time.UTC), "PresidentsCount": int64(9),
			"Population": 1.88, "IsExists": true, "Code": "not-a-guid", "Founded": "1918-11-18T party",
		}},
		{PartitionKey: "Europe", RowKey: "Prussia", Properties: map[string]any{
			"Formed": time.Date(1701, 1, 18, 0, 0, 0, 0, time.FixedZone("CET", 3600)), "PresidentsCount": int64(0),
			"IsExists": false, "Motto": nil, "Größe": int64(3),
		}},
		{PartitionKey: "America", RowKey: "Chile", Properties: map[string]any{
			"Formed": time.Date(1818, 2, 12, 0, 0, 0, 0, time.UTC), "PresidentsCount": int64(35),
			"Population": 19.6, "IsExists": true, "Motto": "Por la razón o la fuerza",
			"Code": "4A1C6D8E-0000-4000-8000-000000000002", "Founded": "2024-02-30T00:00:00Z",
		}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return table
}

func rowKeys(entities []tabledata.Entity) string {
	keys := make([]string, 0, len(entities))
	for _, e := range entities {
		keys = append(keys, e.RowKey)
	}
	return strings.Join(keys, ",")
}

func TestEnsureTableCreatesAndValidates(t *testing.T) {
	// Arrange
	store, _ := openTestStore(t)
	ctx := context.Background()

	// Act
	_, createErr := store.EnsureTable(ctx, tabledata.TableSpec{Name: "Countries"})
	_, validateErr := store.EnsureTable(ctx, tabledata.TableSpec{Name: "Countries", Mode: tabledata.EnsureStrict})
	_, nameErr := store.EnsureTable(ctx, tabledata.TableSpec{Name: "1bad"})

	// Assert
	if createErr != nil {
		t.Fatalf("EnsureTable create: %v", createErr)
	}
	if validateErr != nil {
		t.Fatalf("EnsureTable validate: %v", validateErr)
	}
	if !errors.Is(nameErr, tabledata.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch for invalid name, got %v", nameErr)
	}
}

func TestEnsureTableSchemaModes(t *testing.T) {
	// Arrange
	store, db := openTestStore(t)
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `CREATE TABLE "Partial" (partition_key TEXT NOT NULL, row_key TEXT NOT NULL, PRIMARY KEY (partition_key, row_key))`); err != nil {
		t.Fatalf("create partial table: %v", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE "Legacy" (partition_key INTEGER, row_key TEXT)`); err != nil {
		t.Fatalf("create legacy table: %v", err)
	}

	// Act
	_, strictErr := store.EnsureTable(ctx, tabledata.TableSpec{Name: "Partial", Mode: tabledata.EnsureStrict})
	table, migrateErr := store.EnsureTable(ctx, tabledata.TableSpec{Name: "Partial", Mode: tabledata.EnsureAutoMigrate})
	_, legacyErr := store.EnsureTable(ctx, tabledata.TableSpec{Name: "Legacy", Mode: tabledata.EnsureAutoMigrate})

	// Assert
	if !errors.Is(strictErr, tabledata.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch in strict mode, got %v", strictErr)
	}
	if migrateErr != nil {
		t.Fatalf("EnsureTable auto-migrate: %v", migrateErr)
	}
	if err := table.Insert(ctx, []tabledata.Entity{{PartitionKey: "p", RowKey: "r"}}); err != nil {
		t.Fatalf("Insert after migrate: %v", err)
	}
	if !errors.Is(legacyErr, tabledata.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch for legacy table, got %v", legacyErr)
	}
}

func TestInsertGetUpsert(t *testing.T) {
	// Arrange
	store, _ := openTestStore(t)
	ctx := context.Background()
	table := seedCountries(t, ctx, store)

	// Act
	latvia, getErr := table.Get(ctx, "Europe", "Latvia")
	_, missingErr := table.Get(ctx, "europe", "Latvia")
	duplicateErr := table.Insert(ctx, []tabledata.Entity{{PartitionKey: "Europe", RowKey: "Latvia"}})
	upsertErr := table.Upsert(ctx, []tabledata.Entity{{PartitionKey: "Europe", RowKey: "Latvia",
		Properties: map[string]any{"PresidentsCount": int64(10)}}})
	updated, updatedErr := table.Get(ctx, "Europe", "Latvia")

	// Assert
	if getErr != nil {
		t.Fatalf("Get: %v", getErr)
	}
	if latvia.Properties["Formed"] != "1918-11-18T00:00:00Z" || latvia.Properties["IsExists"] != true {
		t.Fatalf("unexpected properties: %#v", latvia.Properties)
	}
	if !errors.Is(missingErr, tabledata.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for case-mismatched key, got %v", missingErr)
	}
	if duplicateErr == nil {
		t.Fatal("expected duplicate insert to fail")
	}
	if upsertErr != nil {
		t.Fatalf("Upsert: %v", upsertErr)
	}
	if updatedErr != nil {
		t.Fatalf("Get after upsert: %v", updatedErr)
	}
	if !updated.Timestamp.After(latvia.Timestamp) {
		t.Fatalf("expected newer timestamp, got %v then %v", latvia.Timestamp, updated.Timestamp)
	}
	if fmt.Sprint(updated.Properties["PresidentsCount"]) != "10" || len(updated.Properties) != 1 {
		t.Fatalf("expected replaced properties, got %#v", updated.Properties)
	}
}

func TestQueryFiltersMatchInMemoryEvaluation(t *testing.T) {
	formed := time.Date(1800, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		where tabledata.Expr
		want  string
	}{
		{
			name: "combined predicate",
			where: tabledata.And(
				tabledata.Gt("Formed", formed),
				tabledata.Paren(tabledata.Or(tabledata.Lt("PresidentsCount", int64(10)), tabledata.Eq("IsExists", true))),
			),
			want: "Chile,Latvia",
		},
		{name: "partition key", where: tabledata.Eq(tabledata.PartitionKeyField, "America"), want: "Chile"},
		{name: "row key range", where: tabledata.Lt(tabledata.RowKeyField, "Latvia"), want: "Chile,France"},
		{name: "offset datetime", where: tabledata.Lt("Formed", time.Date(1701, 1, 18, 0, 0, 0, 0, time.UTC)), want: "France,Prussia"},
		{name: "int32 comparison", where: tabledata.Ge("PresidentsCount", int32(25)), want: "Chile,France"},
		{name: "float comparison", where: tabledata.Le("Population", 19.6), want: "Chile,Latvia"},
		{name: "wide integer", where: tabledata.Eq("Big", int64(1)<<60), want: "France"},
		{name: "wide integer neighbour", where: tabledata.Eq("Big", int64(1)<<60+1), want: ""},
		{name: "flag", where: tabledata.Field("IsExists"), want: "Chile,France,Latvia"},
		{name: "not flag", where: tabledata.Not(tabledata.Field("IsExists")), want: "Prussia"},
		{name: "not over missing property", where: tabledata.Not(tabledata.Gt("Population", 10.0)), want: "Latvia,Prussia"},
		{name: "eq null", where: tabledata.Eq("Motto", nil), want: "France,Latvia,Prussia"},
		{name: "ne null", where: tabledata.Ne("Motto", nil), want: "Chile"},
		{name: "ordering against null", where: tabledata.Gt("Motto", nil), want: ""},
		{name: "text ordering is ordinal", where: tabledata.Gt("Motto", "Por"), want: "Chile"},
		{name: "guid", where: tabledata.Eq("Code", franceCode), want: "France"},
		{name: "guid text ignores case", where: tabledata.Eq("Code", uuid.MustParse("4a1c6d8e-0000-4000-8000-000000000002")), want: "Chile"},
		{name: "guid ordering skips other text", where: tabledata.Le("Code", uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff")), want: "Chile,France"},
		{name: "guid inequality skips other text", where: tabledata.Ne("Code", franceCode), want: "Chile"},
		{
			name:  "ordering against null before a comparison",
			where: tabledata.Or(tabledata.Le("Motto", nil), tabledata.Eq("Motto", "Por la razón o la fuerza")),
			want:  "Chile",
		},
		{name: "invalid datetime text", where: tabledata.Gt("Founded", formed), want: "France"},
		{name: "unicode property", where: tabledata.Gt("Größe", int64(1)), want: "Prussia"},
		{name: "type mismatch", where: tabledata.Eq("PresidentsCount", "9"), want: ""},
		{name: "boolean ordering", where: tabledata.Gt("IsExists", false), want: "Chile,France,Latvia"},
		{name: "constant", where: tabledata.Or(tabledata.Bool(false), tabledata.Eq(tabledata.RowKeyField, "Chile")), want: "Chile"},
	}

	store, _ := openTestStore(t)
	ctx := context.Background()
	table := seedCountries(t, ctx, store)
	all, err := table.Query(ctx, tabledata.QueryOptions{})
	if err != nil {
		t.Fatalf("Query all: %v", err)
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Act
			entities, err := table.Query(ctx, tabledata.QueryOptions{Where: tc.where})
			count, countErr := table.Count(ctx, tc.where)

			// Assert
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if countErr != nil {
				t.Fatalf("Count: %v", countErr)
			}
			if got := rowKeys(entities); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
			if count != int64(len(entities)) {
				t.Fatalf("count %d does not match %d entities", count, len(entities))
			}

			var evaluated []tabledata.Entity
			for _, e := range all {
				ok, err := tabledata.MatchEntity(tc.where, e)
				if err != nil {
					t.Fatalf("MatchEntity: %v", err)
				}
				if ok {
					evaluated = append(evaluated, e)
				}
			}
			if got := rowKeys(evaluated); got != tc.want {
				t.Fatalf("in-memory evaluation disagrees: expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestQueryTopSelectAndDelete(t *testing.T) {
	// Arrange
	store, _ := openTestStore(t)
	ctx := context.Background()
	table := seedCountries(t, ctx, store)

	// Act
	entities, queryErr := table.Query(ctx, tabledata.QueryOptions{
		Where:  tabledata.Eq("IsExists", true),
		Top:    2,
		Select: []string{"Population", "Unknown"},
	})
	_, topErr := table.Query(ctx, tabledata.QueryOptions{Top: -1})
	deleted, deleteErr := table.Delete(ctx, []tabledata.EntityKey{
		{PartitionKey: "Europe", RowKey: "Prussia"},
		{PartitionKey: "Europe", RowKey: "Atlantis"},
	})
	remaining, countErr := table.Count(ctx, nil)

	// Assert
	if queryErr != nil {
		t.Fatalf("Query: %v", queryErr)
	}
	if rowKeys(entities) != "Chile,France" {
		t.Fatalf("unexpected entities: %s", rowKeys(entities))
	}
	if len(entities[0].Properties) != 1 {
		t.Fatalf("expected projected properties, got %#v", entities[0].Properties)
	}
	if !errors.Is(topErr, tabledata.ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter for negative top, got %v", topErr)
	}
	if deleteErr != nil {
		t.Fatalf("Delete: %v", deleteErr)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted row, got %d", deleted)
	}
	if countErr != nil {
		t.Fatalf("Count: %v", countErr)
	}
	if remaining != 3 {
		t.Fatalf("expected 3 remaining rows, got %d", remaining)
	}
}

func TestQueryRejectsUntranslatableTrees(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	table := seedCountries(t, ctx, store)

	_, err := table.Query(ctx, tabledata.QueryOptions{Where: tabledata.Eq("Blob", []byte{1})})
	if !errors.Is(err, tabledata.ErrUnsupportedConstant) {
		t.Fatalf("expected ErrUnsupportedConstant, got %v", err)
	}

	_, err = table.Count(ctx, tabledata.Call{Method: "Contains", Target: tabledata.Field("Motto")})
	var construct *tabledata.UnsupportedConstructError
	if !errors.As(err, &construct) {
		t.Fatalf("expected UnsupportedConstructError, got %v", err)
	}
}

func TestTimestampFilter(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	table := seedCountries(t, ctx, store)

	if err := table.Upsert(ctx, []tabledata.Entity{{PartitionKey: "Asia", RowKey: "Japan"}}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	japan, err := table.Get(ctx, "Asia", "Japan")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	entities, err := table.Query(ctx, tabledata.QueryOptions{Where: tabledata.Ge(tabledata.TimestampField, japan.Timestamp)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if rowKeys(entities) != "Japan" {
		t.Fatalf("unexpected entities: %s", rowKeys(entities))
	}
}
