package mssql

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/gabisonia/go-tablestore/tabledata"
)

func newPlanTable() *MSSQLTable {
	return &MSSQLTable{
		store: &MSSQLTableStore{opts: DefaultStoreOptions().withDefaults()},
		name:  "Countries",
	}
}

func TestBuildUpsertQueryUsesLockingPattern(t *testing.T) {
	query := buildUpsertQuery("[dbo].[Countries]")

	if !strings.Contains(query, "WITH (UPDLOCK, SERIALIZABLE)") {
		t.Fatalf("expected upsert query to use locking hint, got: %s", query)
	}
	if !strings.Contains(query, "IF @@ROWCOUNT = 0") {
		t.Fatalf("expected upsert query to insert on miss, got: %s", query)
	}
	if !strings.Contains(query, "INSERT INTO [dbo].[Countries]") {
		t.Fatalf("expected upsert query to target provided table, got: %s", query)
	}
}

func TestBuildQueryPlan(t *testing.T) {
	table := newPlanTable()

	plan, err := table.buildQueryPlan(tabledata.QueryOptions{
		Where:  tabledata.Eq(tabledata.PartitionKeyField, "Europe"),
		Top:    2,
		Select: []string{"Population"},
	})
	if err != nil {
		t.Fatalf("buildQueryPlan: %v", err)
	}

	expected := `SELECT [partition_key], [row_key], [timestamp], [properties] FROM [dbo].[Countries] WHERE ([partition_key] = @p1) ORDER BY [partition_key], [row_key] OFFSET 0 ROWS FETCH NEXT @p2 ROWS ONLY`
	if plan.query != expected {
		t.Fatalf("unexpected query:\nwant: %s\n got: %s", expected, plan.query)
	}
	if !reflect.DeepEqual(plan.args, []any{"Europe", 2}) {
		t.Fatalf("unexpected args: %#v", plan.args)
	}
	if !reflect.DeepEqual(plan.fields, []string{"Population"}) {
		t.Fatalf("unexpected fields: %#v", plan.fields)
	}
}

func TestBuildQueryPlanSignalsFallback(t *testing.T) {
	table := newPlanTable()

	_, err := table.buildQueryPlan(tabledata.QueryOptions{Where: tabledata.Gt("Big", int64(-1)<<62)})
	if !errors.Is(err, errFilterPushdownUnsupported) {
		t.Fatalf("expected errFilterPushdownUnsupported, got %v", err)
	}
}

func TestBuildDeleteQuery(t *testing.T) {
	table := newPlanTable()

	query, args := table.buildDeleteQuery([]tabledata.EntityKey{
		{PartitionKey: "Europe", RowKey: "Latvia"},
		{PartitionKey: "America", RowKey: "Chile"},
	})

	expected := `DELETE FROM [dbo].[Countries] WHERE ([partition_key] = @p1 AND [row_key] = @p2) OR ([partition_key] = @p3 AND [row_key] = @p4)`
	if query != expected {
		t.Fatalf("unexpected query:\nwant: %s\n got: %s", expected, query)
	}
	if !reflect.DeepEqual(args, []any{"Europe", "Latvia", "America", "Chile"}) {
		t.Fatalf("unexpected args: %#v", args)
	}
}

func TestProjectKeepsSystemMembers(t *testing.T) {
	entities := []tabledata.Entity{{
		PartitionKey: "Europe",
		RowKey:       "Latvia",
		Properties:   map[string]any{"Population": 1.88, "IsExists": true},
	}}

	projected := project(entities, []string{"Population", "Missing"})

	if projected[0].PartitionKey != "Europe" || projected[0].RowKey != "Latvia" {
		t.Fatalf("system members dropped: %#v", projected[0])
	}
	if !reflect.DeepEqual(projected[0].Properties, map[string]any{"Population": 1.88}) {
		t.Fatalf("unexpected properties: %#v", projected[0].Properties)
	}
}

func TestNewTableStoreDefaults(t *testing.T) {
	if _, err := NewTableStore(nil, StoreOptions{}); err == nil {
		t.Fatal("expected error for nil db")
	}

	opts := StoreOptions{Schema: "  "}.withDefaults()
	if opts.Schema != "dbo" {
		t.Fatalf("expected default schema dbo, got %q", opts.Schema)
	}
	if opts.Now == nil {
		t.Fatal("expected default clock")
	}
}
