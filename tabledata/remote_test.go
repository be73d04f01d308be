package tabledata

import (
	"context"
	"errors"
	"testing"
)

type recordingQuerier struct {
	table    string
	filter   string
	top      int
	calls    int
	entities []Entity
	err      error
}

func (q *recordingQuerier) QueryEntities(_ context.Context, table string, filter string, top int) ([]Entity, error) {
	q.calls++
	q.table = table
	q.filter = filter
	q.top = top
	return q.entities, q.err
}

func TestRemoteTableQuery(t *testing.T) {
	// Arrange
	querier := &recordingQuerier{entities: []Entity{
		{PartitionKey: "Europe", RowKey: "Latvia", Properties: map[string]any{"Population": 1.88, "IsExists": true}},
	}}
	table, err := NewRemoteTable(" Countries ", querier)
	if err != nil {
		t.Fatalf("NewRemoteTable: %v", err)
	}

	// Act
	entities, err := table.Query(context.Background(), QueryOptions{
		Where:  And(Eq(PartitionKeyField, "Europe"), Field("IsExists")),
		Top:    5,
		Select: []string{"Population"},
	})

	// Assert
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if querier.table != "Countries" {
		t.Fatalf("unexpected table: %q", querier.table)
	}
	if querier.filter != "PartitionKey eq 'Europe' and IsExists" {
		t.Fatalf("unexpected filter: %q", querier.filter)
	}
	if querier.top != 5 {
		t.Fatalf("unexpected top: %d", querier.top)
	}
	if len(entities) != 1 || len(entities[0].Properties) != 1 || entities[0].Properties["Population"] != 1.88 {
		t.Fatalf("unexpected entities: %#v", entities)
	}
}

func TestRemoteTableQueryWithoutFilter(t *testing.T) {
	querier := &recordingQuerier{}
	table, err := NewRemoteTable("Countries", querier)
	if err != nil {
		t.Fatalf("NewRemoteTable: %v", err)
	}

	if _, err := table.Query(context.Background(), QueryOptions{}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if querier.filter != "" || querier.calls != 1 {
		t.Fatalf("expected one unfiltered call, got filter %q calls %d", querier.filter, querier.calls)
	}
}

func TestRemoteTableDoesNotSendUntranslatableFilters(t *testing.T) {
	querier := &recordingQuerier{}
	table, err := NewRemoteTable("Countries", querier)
	if err != nil {
		t.Fatalf("NewRemoteTable: %v", err)
	}

	_, err = table.Query(context.Background(), QueryOptions{Where: Eq("Blob", []byte{1})})
	if !errors.Is(err, ErrUnsupportedConstant) {
		t.Fatalf("expected ErrUnsupportedConstant, got %v", err)
	}
	_, err = table.Query(context.Background(), QueryOptions{Top: -1})
	if !errors.Is(err, ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
	if querier.calls != 0 {
		t.Fatalf("querier must not be called, got %d calls", querier.calls)
	}
}

func TestRemoteTableWrapsQuerierErrors(t *testing.T) {
	boom := errors.New("boom")
	table, err := NewRemoteTable("Countries", &recordingQuerier{err: boom})
	if err != nil {
		t.Fatalf("NewRemoteTable: %v", err)
	}

	_, err = table.Query(context.Background(), QueryOptions{Where: Eq("Name", "Germany")})
	if !errors.Is(err, boom) {
		t.Fatalf("expected querier error, got %v", err)
	}
}

func TestNewRemoteTableValidates(t *testing.T) {
	if _, err := NewRemoteTable("x", &recordingQuerier{}); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
	if _, err := NewRemoteTable("Countries", nil); err == nil {
		t.Fatal("expected error for nil querier")
	}
}
