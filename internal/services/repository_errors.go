package services

import (
	"context"
	"errors"
	"fmt"

	"finitefield.org/usermapping/internal/repositories"
)

// repoErrorMapping converts repository failures into a service's sentinel errors.
type repoErrorMapping struct {
	invalid     error
	notFound    error
	conflict    error
	unavailable error
}

func (m repoErrorMapping) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownParent),
		errors.Is(err, m.invalid),
		errors.Is(err, m.notFound),
		errors.Is(err, m.conflict),
		errors.Is(err, m.unavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, repositories.ErrUnsupportedFilter):
		return fmt.Errorf("%w: %v", m.invalid, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", m.notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", m.conflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", m.unavailable, err)
		}
	}
	return err
}

func runInTx(ctx context.Context, uow repositories.UnitOfWork, fn func(ctx context.Context) error) error {
	if uow == nil {
		return fn(ctx)
	}
	return uow.RunInTx(ctx, fn)
}

func runInReadTx(ctx context.Context, uow repositories.UnitOfWork, fn func(ctx context.Context) error) error {
	if uow == nil {
		return fn(ctx)
	}
	return uow.RunInReadTx(ctx, fn)
}

func noopLogger(context.Context, string, map[string]any) {}
