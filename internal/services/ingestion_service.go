package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/repositories"
)

var (
	// ErrIngestionInvalidInput indicates an unknown side was requested.
	ErrIngestionInvalidInput = errors.New("ingestion: invalid input")
	// ErrIngestionUnavailable indicates no profile source is configured for the requested sides.
	ErrIngestionUnavailable = errors.New("ingestion: source not configured")
	// ErrIngestionFailed indicates every requested side failed.
	ErrIngestionFailed = errors.New("ingestion: failed")
)

const ingestionRunPrefix = "ing_"

// IngestionServiceDeps wires the remote sources and registry repositories.
type IngestionServiceDeps struct {
	Sources     []ProfileSource
	Fields      repositories.FieldRepository
	Options     repositories.OptionRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(context.Context, string, map[string]any)
}

type ingestionService struct {
	sources map[domain.Side]ProfileSource
	fields  repositories.FieldRepository
	options repositories.OptionRepository
	uow     repositories.UnitOfWork
	now     func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
}

var _ IngestionService = (*ingestionService)(nil)

// NewIngestionService constructs the ingestion service. Sources may be empty; Ingest then reports
// ErrIngestionUnavailable.
func NewIngestionService(deps IngestionServiceDeps) (IngestionService, error) {
	if deps.Fields == nil || deps.Options == nil {
		return nil, errors.New("ingestion service: registry repositories are required")
	}
	sources := make(map[domain.Side]ProfileSource, len(deps.Sources))
	for _, source := range deps.Sources {
		if source == nil {
			continue
		}
		side := source.Side()
		if !side.Valid() {
			return nil, fmt.Errorf("ingestion service: source has invalid side %q", side)
		}
		if _, dup := sources[side]; dup {
			return nil, fmt.Errorf("ingestion service: duplicate source for side %s", side)
		}
		sources[side] = source
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &ingestionService{
		sources: sources,
		fields:  deps.Fields,
		options: deps.Options,
		uow:     deps.UnitOfWork,
		now:     func() time.Time { return clock().UTC() },
		newID:   func() string { return ingestionRunPrefix + strings.ToLower(idGen()) },
		logger:  logger,
	}, nil
}

// Ingest pulls each requested side and writes its fields and options with insert-or-ignore.
// A failing side is recorded in its report and does not stop the others.
func (s *ingestionService) Ingest(ctx context.Context, cmd IngestCommand) (IngestionRun, error) {
	sides, err := s.resolveSides(cmd.Sides)
	if err != nil {
		return IngestionRun{}, err
	}

	run := IngestionRun{ID: s.newID(), StartedAt: s.now()}
	s.logger(ctx, "ingestion.started", map[string]any{"runId": run.ID, "sides": sides})

	var failures []error
	for _, side := range sides {
		report, err := s.ingestSide(ctx, s.sources[side])
		if err != nil {
			report.Error = err.Error()
			failures = append(failures, fmt.Errorf("%s: %w", side, err))
			s.logger(ctx, "ingestion.side_failed", map[string]any{"runId": run.ID, "side": string(side), "error": err.Error()})
		} else {
			s.logger(ctx, "ingestion.side_completed", map[string]any{
				"runId":           run.ID,
				"side":            string(side),
				"pages":           report.Pages,
				"fieldsSeen":      report.FieldsSeen,
				"fieldsInserted":  report.FieldsInserted,
				"optionsSeen":     report.OptionsSeen,
				"optionsInserted": report.OptionsInserted,
			})
		}
		run.Sides = append(run.Sides, report)
	}
	run.CompletedAt = s.now()

	if len(failures) == len(sides) {
		return run, fmt.Errorf("%w: %w", ErrIngestionFailed, errors.Join(failures...))
	}
	return run, nil
}

func (s *ingestionService) resolveSides(requested []domain.Side) ([]domain.Side, error) {
	if len(requested) == 0 {
		var sides []domain.Side
		for _, side := range []domain.Side{domain.SideSource, domain.SideTarget} {
			if _, ok := s.sources[side]; ok {
				sides = append(sides, side)
			}
		}
		if len(sides) == 0 {
			return nil, ErrIngestionUnavailable
		}
		return sides, nil
	}

	seen := make(map[domain.Side]struct{}, len(requested))
	sides := make([]domain.Side, 0, len(requested))
	for _, side := range requested {
		if !side.Valid() {
			return nil, fmt.Errorf("%w: side %q", ErrIngestionInvalidInput, side)
		}
		if _, ok := s.sources[side]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrIngestionUnavailable, side)
		}
		if _, dup := seen[side]; dup {
			continue
		}
		seen[side] = struct{}{}
		sides = append(sides, side)
	}
	return sides, nil
}

func (s *ingestionService) ingestSide(ctx context.Context, source ProfileSource) (domain.IngestionSideReport, error) {
	report := domain.IngestionSideReport{Side: source.Side()}

	listing, err := source.ListUserFields(ctx)
	report.Pages = listing.Pages
	if err != nil {
		return report, err
	}
	report.FieldsSeen = len(listing.Fields)
	report.OptionsSeen = len(listing.Options)

	err = runInTx(ctx, s.uow, func(ctx context.Context) error {
		fieldsInserted, optionsInserted := 0, 0
		for _, field := range listing.Fields {
			field.Side = report.Side
			inserted, err := s.fields.InsertIgnore(ctx, field)
			if err != nil {
				return fmt.Errorf("field %q: %w", field.Key, err)
			}
			if inserted {
				fieldsInserted++
			}
		}
		for _, option := range listing.Options {
			option.Side = report.Side
			inserted, err := s.options.InsertIgnore(ctx, option)
			if err != nil {
				return fmt.Errorf("option %q: %w", option.Key, err)
			}
			if inserted {
				optionsInserted++
			}
		}
		// Counts are assigned last so a retried transaction does not double count.
		report.FieldsInserted = fieldsInserted
		report.OptionsInserted = optionsInserted
		return nil
	})
	return report, err
}
