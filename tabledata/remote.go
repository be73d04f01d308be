package tabledata

import (
	"context"
	"fmt"
	"strings"
)

// FilterQuerier executes a filter string against a remote table endpoint.
// Paging, retries and credentials belong to the implementation.
type FilterQuerier interface {
	QueryEntities(ctx context.Context, table string, filter string, top int) ([]Entity, error)
}

// RemoteTable queries a table service that only accepts flat filter strings.
type RemoteTable struct {
	name    string
	querier FilterQuerier
}

// NewRemoteTable binds a table name to a querier.
func NewRemoteTable(name string, querier FilterQuerier) (*RemoteTable, error) {
	name = strings.TrimSpace(name)
	if err := ValidateTableName(name); err != nil {
		return nil, err
	}
	if querier == nil {
		return nil, fmt.Errorf("nil filter querier")
	}
	return &RemoteTable{name: name, querier: querier}, nil
}

func (t *RemoteTable) Name() string {
	return t.name
}

// Filter returns the filter string sent for opts. An empty string means no filter.
func (t *RemoteTable) Filter(opts QueryOptions) (string, error) {
	if opts.Where == nil {
		return "", nil
	}
	return TranslateFilter(opts.Where)
}

func (t *RemoteTable) Query(ctx context.Context, opts QueryOptions) ([]Entity, error) {
	if opts.Top < 0 {
		return nil, fmt.Errorf("%w: top must be >= 0", ErrInvalidFilter)
	}
	filter, err := t.Filter(opts)
	if err != nil {
		return nil, err
	}
	entities, err := t.querier.QueryEntities(ctx, t.name, filter, opts.Top)
	if err != nil {
		return nil, fmt.Errorf("query table %q: %w", t.name, err)
	}
	if opts.Select == nil {
		return entities, nil
	}
	out := make([]Entity, 0, len(entities))
	for _, entity := range entities {
		out = append(out, ProjectEntity(entity, opts.Select))
	}
	return out, nil
}
