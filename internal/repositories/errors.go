package repositories

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFilter is returned when a list filter names a column the repository does not index.
var ErrUnsupportedFilter = errors.New("repository: unsupported filter")

// UnsupportedFilterError wraps ErrUnsupportedFilter with the offending key.
func UnsupportedFilterError(key string) error {
	return fmt.Errorf("%w: %q", ErrUnsupportedFilter, key)
}

func asRepositoryError(err error) (RepositoryError, bool) {
	if err == nil {
		return nil, false
	}
	var repoErr RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr, true
	}
	return nil, false
}
