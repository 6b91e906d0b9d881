package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"finitefield.org/usermapping/internal/platform/config"
	"finitefield.org/usermapping/internal/platform/spreadsheet"
	"finitefield.org/usermapping/internal/platform/sqldb"
	"finitefield.org/usermapping/internal/repositories/sqlstore"
	"finitefield.org/usermapping/internal/services"
)

// newTestAPI wires the real services over an in-memory sqlite store.
func newTestAPI(t *testing.T) chi.Router {
	t.Helper()
	ctx := context.Background()
	db, err := sqldb.Open(ctx, config.DatabaseConfig{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := sqlstore.New(db)
	if err != nil {
		t.Fatalf("sqlstore.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(ctx) })

	registry, err := services.NewFieldRegistryService(services.FieldRegistryServiceDeps{
		Fields:     store.Fields(),
		Options:    store.Options(),
		UnitOfWork: store,
	})
	if err != nil {
		t.Fatalf("NewFieldRegistryService: %v", err)
	}
	mappings, err := services.NewMappingService(services.MappingServiceDeps{
		Fields:         store.Fields(),
		FieldMappings:  store.FieldMappings(),
		OptionMappings: store.OptionMappings(),
		UnitOfWork:     store,
	})
	if err != nil {
		t.Fatalf("NewMappingService: %v", err)
	}
	exports, err := services.NewExportService(services.ExportServiceDeps{
		Mappings: mappings,
		Renderer: spreadsheet.NewRenderer(),
	})
	if err != nil {
		t.Fatalf("NewExportService: %v", err)
	}

	return NewRouter(
		WithRegistryRoutes(NewRegistryHandlers(registry).Routes),
		WithMappingRoutes(NewMappingHandlers(mappings).Routes),
		WithExportRoutes(NewExportHandlers(mappings, exports).Routes),
	)
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSON[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return out
}

func requireStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func requireErrorCode(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	body := decodeJSON[map[string]any](t, rr)
	if body["error"] != want {
		t.Fatalf("expected error %q, got %v", want, body["error"])
	}
}
