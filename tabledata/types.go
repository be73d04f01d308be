package tabledata

import (
	"context"
	"time"
)

// System members every entity carries. They can be referenced in predicates
// like any other property.
const (
	PartitionKeyField = "PartitionKey"
	RowKeyField       = "RowKey"
	TimestampField    = "Timestamp"
)

// EnsureMode controls how schema checks are enforced when ensuring tables.
type EnsureMode string

const (
	// EnsureStrict fails when the existing schema does not match TableSpec.
	EnsureStrict EnsureMode = "strict"
	// EnsureAutoMigrate creates missing columns where possible.
	EnsureAutoMigrate EnsureMode = "auto_migrate"
)

// TableSpec defines physical table requirements.
type TableSpec struct {
	Name string
	Mode EnsureMode
}

// EntityKey identifies an entity within a table.
type EntityKey struct {
	PartitionKey string
	RowKey       string
}

// Entity is the base storage model of a table row.
type Entity struct {
	PartitionKey string
	RowKey       string
	Timestamp    time.Time
	Properties   map[string]any
}

// Key returns the entity's key.
func (e Entity) Key() EntityKey {
	return EntityKey{PartitionKey: e.PartitionKey, RowKey: e.RowKey}
}

// QueryOptions configures Table.Query.
type QueryOptions struct {
	// Where filters entities; nil matches everything.
	Where Expr
	// Top limits the number of returned entities when > 0.
	Top int
	// Select limits returned properties; nil returns all of them.
	// System members are always returned.
	Select []string
}

// TableStore creates and resolves tables.
type TableStore interface {
	EnsureTable(ctx context.Context, spec TableSpec) (Table, error)
	Table(name string) Table
}

// Table represents an operational entity table.
type Table interface {
	Name() string

	Insert(ctx context.Context, entities []Entity) error
	Upsert(ctx context.Context, entities []Entity) error
	Get(ctx context.Context, partitionKey, rowKey string) (Entity, error)
	Delete(ctx context.Context, keys []EntityKey) (int64, error)
	Count(ctx context.Context, where Expr) (int64, error)

	Query(ctx context.Context, opts QueryOptions) ([]Entity, error)
}

// ProjectEntity returns a copy of e holding only the selected properties.
func ProjectEntity(e Entity, selectProps []string) Entity {
	projected := Entity{
		PartitionKey: e.PartitionKey,
		RowKey:       e.RowKey,
		Timestamp:    e.Timestamp,
	}
	if selectProps == nil {
		projected.Properties = make(map[string]any, len(e.Properties))
		for key, value := range e.Properties {
			projected.Properties[key] = value
		}
		return projected
	}
	projected.Properties = make(map[string]any, len(selectProps))
	for _, key := range selectProps {
		if value, ok := e.Properties[key]; ok {
			projected.Properties[key] = value
		}
	}
	return projected
}
