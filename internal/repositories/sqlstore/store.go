// Package sqlstore implements the repositories on database/sql through the sqldb dialect registry.
package sqlstore

import (
	"context"
	"errors"
	"sort"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/platform/sqldb"
	"finitefield.org/usermapping/internal/repositories"
)

// Store is the SQL-backed repository registry.
type Store struct {
	db             *sqldb.DB
	fields         *FieldRepository
	options        *OptionRepository
	fieldMappings  *FieldMappingRepository
	optionMappings *OptionMappingRepository
}

var _ repositories.Registry = (*Store)(nil)

// New wires every repository onto db.
func New(db *sqldb.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: database is required")
	}
	return &Store{
		db:             db,
		fields:         &FieldRepository{base: baseRepository[domain.Field]{db: db}},
		options:        &OptionRepository{base: baseRepository[domain.FieldOption]{db: db}},
		fieldMappings:  &FieldMappingRepository{base: baseRepository[domain.FieldMapping]{db: db}},
		optionMappings: &OptionMappingRepository{base: baseRepository[domain.OptionMapping]{db: db}},
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// Fields implements repositories.Registry.
func (s *Store) Fields() repositories.FieldRepository { return s.fields }

// Options implements repositories.Registry.
func (s *Store) Options() repositories.OptionRepository { return s.options }

// FieldMappings implements repositories.Registry.
func (s *Store) FieldMappings() repositories.FieldMappingRepository { return s.fieldMappings }

// OptionMappings implements repositories.Registry.
func (s *Store) OptionMappings() repositories.OptionMappingRepository { return s.optionMappings }

// RunInTx runs fn in a write transaction at the dialect's check-and-write isolation level.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.RunInTx(ctx, fn, sqldb.WithWriteIsolation())
}

// RunInReadTx runs fn in a read-only snapshot transaction.
func (s *Store) RunInReadTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.db.RunInTx(ctx, fn, sqldb.WithReadOnly())
}

// Ping verifies the database is reachable; used by readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
