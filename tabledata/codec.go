package tabledata

import "context"

// Codec maps between an application type and the Entity model.
type Codec[T any] interface {
	Encode(value T) (Entity, error)
	Decode(entity Entity) (T, error)
}

// TypedTable adds type-safe helpers over an Entity-based Table.
type TypedTable[T any] struct {
	base  Table
	codec Codec[T]
}

// NewTypedTable wraps an entity table with a codec.
func NewTypedTable[T any](base Table, codec Codec[T]) *TypedTable[T] {
	return &TypedTable[T]{base: base, codec: codec}
}

func (t *TypedTable[T]) Insert(ctx context.Context, values []T) error {
	entities, err := t.encodeMany(values)
	if err != nil {
		return err
	}
	return t.base.Insert(ctx, entities)
}

func (t *TypedTable[T]) Upsert(ctx context.Context, values []T) error {
	entities, err := t.encodeMany(values)
	if err != nil {
		return err
	}
	return t.base.Upsert(ctx, entities)
}

func (t *TypedTable[T]) Get(ctx context.Context, partitionKey, rowKey string) (T, error) {
	entity, err := t.base.Get(ctx, partitionKey, rowKey)
	if err != nil {
		var zero T
		return zero, err
	}
	return t.codec.Decode(entity)
}

// Where returns every value matching the predicate.
func (t *TypedTable[T]) Where(ctx context.Context, where Expr) ([]T, error) {
	return t.Query(ctx, QueryOptions{Where: where})
}

func (t *TypedTable[T]) Query(ctx context.Context, opts QueryOptions) ([]T, error) {
	entities, err := t.base.Query(ctx, opts)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(entities))
	for _, entity := range entities {
		decoded, err := t.codec.Decode(entity)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded)
	}
	return out, nil
}

func (t *TypedTable[T]) encodeMany(values []T) ([]Entity, error) {
	entities := make([]Entity, 0, len(values))
	for _, value := range values {
		entity, err := t.codec.Encode(value)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}
