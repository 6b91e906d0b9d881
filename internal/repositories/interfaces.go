package repositories

import (
	"context"

	domain "finitefield.org/usermapping/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Fields() FieldRepository
	Options() OptionRepository
	FieldMappings() FieldMappingRepository
	OptionMappings() OptionMappingRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
// Repositories called with the ctx handed to fn join the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	// RunInReadTx runs fn against a consistent snapshot without taking write locks where the engine allows it.
	RunInReadTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ListFilter narrows keyset-paginated list queries. Equals keys are column names the
// repository allows filtering on; unknown keys are rejected with an error.
type ListFilter struct {
	PageSize int
	AfterID  int64
	Equals   map[string]string
}

// FieldRepository persists the field registry of both sides.
type FieldRepository interface {
	// Insert stores a new field and returns it with its id. A duplicate key on the side is a conflict.
	Insert(ctx context.Context, field domain.Field) (domain.Field, error)
	// InsertIgnore stores the field unless its key already exists on the side.
	InsertIgnore(ctx context.Context, field domain.Field) (bool, error)
	Get(ctx context.Context, side domain.Side, id int64) (domain.Field, error)
	List(ctx context.Context, side domain.Side, filter ListFilter) (domain.CursorPage[domain.Field], error)
	ListAll(ctx context.Context, side domain.Side) ([]domain.Field, error)
	Update(ctx context.Context, field domain.Field) (domain.Field, error)
	Delete(ctx context.Context, side domain.Side, id int64) error
	// FieldExists reports whether key names a field on side.
	FieldExists(ctx context.Context, side domain.Side, key string) (bool, error)
}

// OptionRepository persists enumerated option values of both sides.
type OptionRepository interface {
	Insert(ctx context.Context, option domain.FieldOption) (domain.FieldOption, error)
	InsertIgnore(ctx context.Context, option domain.FieldOption) (bool, error)
	Get(ctx context.Context, side domain.Side, id int64) (domain.FieldOption, error)
	List(ctx context.Context, side domain.Side, filter ListFilter) (domain.CursorPage[domain.FieldOption], error)
	Update(ctx context.Context, option domain.FieldOption) (domain.FieldOption, error)
	Delete(ctx context.Context, side domain.Side, id int64) error
}

// FieldMappingRepository persists source-to-target field links.
type FieldMappingRepository interface {
	Insert(ctx context.Context, mapping domain.FieldMapping) (domain.FieldMapping, error)
	Get(ctx context.Context, id int64) (domain.FieldMapping, error)
	List(ctx context.Context, filter ListFilter) (domain.CursorPage[domain.FieldMapping], error)
	// ListAll returns every row in id order, which is the order the compiler folds them in.
	ListAll(ctx context.Context) ([]domain.FieldMapping, error)
	Update(ctx context.Context, mapping domain.FieldMapping) (domain.FieldMapping, error)
	Delete(ctx context.Context, id int64) error
	// SheetRows joins each mapping with both registries; mappings missing either side are skipped.
	SheetRows(ctx context.Context) ([]domain.MappingSheetRow, error)
}

// OptionMappingRepository persists option value links scoped to a parent field pair.
type OptionMappingRepository interface {
	Insert(ctx context.Context, mapping domain.OptionMapping) (domain.OptionMapping, error)
	Get(ctx context.Context, id int64) (domain.OptionMapping, error)
	List(ctx context.Context, filter ListFilter) (domain.CursorPage[domain.OptionMapping], error)
	ListAll(ctx context.Context) ([]domain.OptionMapping, error)
	Update(ctx context.Context, mapping domain.OptionMapping) (domain.OptionMapping, error)
	Delete(ctx context.Context, id int64) error
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// IsNotFound reports whether err is a RepositoryError for a missing record.
func IsNotFound(err error) bool {
	repoErr, ok := asRepositoryError(err)
	return ok && repoErr.IsNotFound()
}

// IsConflict reports whether err is a RepositoryError for a unique key collision.
func IsConflict(err error) bool {
	repoErr, ok := asRepositoryError(err)
	return ok && repoErr.IsConflict()
}

// IsUnavailable reports whether err is a RepositoryError for a backend outage.
func IsUnavailable(err error) bool {
	repoErr, ok := asRepositoryError(err)
	return ok && repoErr.IsUnavailable()
}
