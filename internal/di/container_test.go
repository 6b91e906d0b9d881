package di

import (
	"context"
	"errors"
	"testing"

	"finitefield.org/usermapping/internal/platform/config"
	"finitefield.org/usermapping/internal/platform/spreadsheet"
	"finitefield.org/usermapping/internal/platform/sqldb"
	"finitefield.org/usermapping/internal/repositories"
	"finitefield.org/usermapping/internal/repositories/sqlstore"
	"finitefield.org/usermapping/internal/services"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()
	db, err := sqldb.Open(ctx, config.DatabaseConfig{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := sqlstore.New(db)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(ctx) })
	return store
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), config.Config{}, nil, Infrastructure{}); err == nil {
		t.Fatalf("expected error without registry")
	}
}

func TestNewContainerWiresOptionalServices(t *testing.T) {
	ctx := context.Background()

	bare, err := NewContainer(ctx, config.Config{}, newStore(t), Infrastructure{})
	if err != nil {
		t.Fatalf("container: %v", err)
	}
	if bare.Services.Registry == nil || bare.Services.Mappings == nil || bare.Services.Ingestion == nil {
		t.Fatalf("core services must always be wired: %+v", bare.Services)
	}
	if bare.Services.Exports != nil || bare.Services.System != nil {
		t.Fatalf("optional services should stay nil without infrastructure")
	}
	if _, err := bare.Services.Ingestion.Ingest(ctx, services.IngestCommand{}); !errors.Is(err, services.ErrIngestionUnavailable) {
		t.Fatalf("expected ingestion to be unavailable, got %v", err)
	}

	full, err := NewContainer(ctx, config.Config{Security: config.SecurityConfig{Environment: "test"}}, newStore(t), Infrastructure{
		Renderer: spreadsheet.NewRenderer(),
		HealthChecks: []repositories.DependencyCheck{{
			Name:     "database",
			Critical: true,
			Check:    func(context.Context) error { return nil },
		}},
	})
	if err != nil {
		t.Fatalf("container: %v", err)
	}
	if full.Services.Exports == nil || full.Services.System == nil {
		t.Fatalf("expected export and system services: %+v", full.Services)
	}
	report, err := full.Services.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("health report: %v", err)
	}
	if report.Environment != "test" {
		t.Fatalf("expected environment from config, got %q", report.Environment)
	}
	if err := full.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
}
