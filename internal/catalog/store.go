package catalog

import "context"

// Store is the persistence boundary for the catalog. Not-found is reported
// through the boolean return, never as an error; ErrDuplicateSKU and
// *ValidationError are the only errors callers are expected to inspect.
type Store interface {
	Ping(ctx context.Context) error

	// Create persists a draft and returns it with its assigned id.
	Create(ctx context.Context, draft Product) (Product, error)

	Get(ctx context.Context, id string) (Product, bool, error)

	// List returns every product in insertion order. Unbounded.
	List(ctx context.Context) ([]Product, error)

	// Search matches term as a case-insensitive substring of name or
	// description. No ranking; store-native order.
	Search(ctx context.Context, term string) ([]Product, error)

	// Update merges the fields present in u into the stored product.
	// Concurrent updates are last-write-wins per field.
	Update(ctx context.Context, id string, u ProductUpdate) (Product, bool, error)

	Delete(ctx context.Context, id string) (bool, error)
}
