package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"finitefield.org/usermapping/internal/platform/config"
	"finitefield.org/usermapping/internal/platform/observability"
	"finitefield.org/usermapping/internal/repositories"
	"finitefield.org/usermapping/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Registry  services.FieldRegistryService
	Mappings  services.MappingService
	Exports   services.ExportService
	Ingestion services.IngestionService
	System    services.SystemService
}

// Infrastructure carries the optional outbound adapters built by the caller. Nil members
// leave the corresponding capability unconfigured.
type Infrastructure struct {
	Sources      []services.ProfileSource
	Renderer     services.SheetRenderer
	Archive      services.ExportArchiver
	Publisher    services.ExportPublisher
	HealthChecks []repositories.DependencyCheck
	Build        services.BuildInfo
	Logger       *zap.Logger
	Clock        func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring supplies the SQL store,
// while tests can pass an in-memory sqlite registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	registrySvc, err := services.NewFieldRegistryService(services.FieldRegistryServiceDeps{
		Fields:     reg.Fields(),
		Options:    reg.Options(),
		UnitOfWork: reg,
		Logger:     observability.EventLogger(logger.Named("registry"), "registry event"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build field registry service: %w", err)
	}
	svc.Registry = registrySvc

	mappingSvc, err := services.NewMappingService(services.MappingServiceDeps{
		Fields:         reg.Fields(),
		FieldMappings:  reg.FieldMappings(),
		OptionMappings: reg.OptionMappings(),
		UnitOfWork:     reg,
		Logger:         observability.EventLogger(logger.Named("mappings"), "mapping event"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build mapping service: %w", err)
	}
	svc.Mappings = mappingSvc

	if infra.Renderer != nil {
		exportSvc, err := services.NewExportService(services.ExportServiceDeps{
			Mappings:  mappingSvc,
			Renderer:  infra.Renderer,
			Archive:   infra.Archive,
			Publisher: infra.Publisher,
			Clock:     clock,
			Logger:    observability.EventLogger(logger.Named("exports"), "export event"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build export service: %w", err)
		}
		svc.Exports = exportSvc
	}

	ingestionSvc, err := services.NewIngestionService(services.IngestionServiceDeps{
		Sources:    infra.Sources,
		Fields:     reg.Fields(),
		Options:    reg.Options(),
		UnitOfWork: reg,
		Clock:      clock,
		Logger:     observability.EventLogger(logger.Named("ingestion"), "ingestion event"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build ingestion service: %w", err)
	}
	svc.Ingestion = ingestionSvc

	if len(infra.HealthChecks) > 0 {
		healthRepo, err := repositories.NewDependencyHealthRepository(infra.HealthChecks)
		if err != nil {
			return Services{}, fmt.Errorf("build health repository: %w", err)
		}
		build := infra.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Fields:           reg.Fields(),
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
