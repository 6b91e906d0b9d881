package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"finitefield.org/usermapping/internal/services"
)

func TestExportWorkbookErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "render failed", err: fmt.Errorf("%w: workbook: zip writer closed", services.ErrExportRender), status: http.StatusInternalServerError, code: "render_failed"},
		{name: "delivery failed", err: fmt.Errorf("%w: archive: bucket gone", services.ErrExportFailed), status: http.StatusBadGateway, code: "export_failed"},
		{name: "no sinks", err: services.ErrExportUnavailable, status: http.StatusServiceUnavailable, code: "service_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := NewRouter(WithExportRoutes(NewExportHandlers(nil, &stubExportService{err: tc.err}).Routes))
			for _, path := range []string{"/api/v1/export/xlsx", "/export/xlsx"} {
				rr := doRequest(t, router, http.MethodGet, path, nil)
				requireStatus(t, rr, tc.status)
				requireErrorCode(t, rr, tc.code)
			}
		})
	}
}

func TestUnversionedExportsRequireRegistrar(t *testing.T) {
	rr := doRequest(t, NewRouter(), http.MethodGet, "/export/json", nil)
	requireStatus(t, rr, http.StatusNotFound)
	requireErrorCode(t, rr, "route_not_found")
}
