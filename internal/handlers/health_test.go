package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/services"
)

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func TestHealthHandlersHealthz(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start.Add(30 * time.Second)
	handlers := NewHealthHandlers(
		WithHealthBuildInfo(services.BuildInfo{
			Version:     "1.0.0",
			CommitSHA:   "abc123",
			Environment: "prod",
			StartedAt:   start,
		}),
		WithHealthClock(func() time.Time { return now }),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()

	handlers.Healthz(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body["status"] != domain.HealthStatusOK {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
	if body["version"] != "1.0.0" || body["commitSha"] != "abc123" || body["environment"] != "prod" {
		t.Fatalf("unexpected build info %v", body)
	}
	if body["uptime"] != "30s" {
		t.Fatalf("expected uptime 30s, got %v", body["uptime"])
	}
}

func TestHealthHandlersReadyzSuccess(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC)
	svc := &stubSystemService{
		report: services.SystemHealthReport{
			Status:      domain.HealthStatusOK,
			Version:     "1.0.0",
			Uptime:      time.Minute,
			GeneratedAt: now,
			Checks: map[string]domain.SystemHealthCheck{
				"database": {Status: domain.HealthStatusOK, Latency: 10 * time.Millisecond, CheckedAt: now},
			},
			Registry: map[domain.Side]int{domain.SideSource: 12, domain.SideTarget: 9},
		},
	}

	handlers := NewHealthHandlers(WithHealthSystemService(svc), WithHealthClock(func() time.Time { return now }))

	rr := httptest.NewRecorder()
	handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var body struct {
		Status string `json:"status"`
		Checks map[string]struct {
			Status    string `json:"status"`
			LatencyMS int64  `json:"latencyMs"`
		} `json:"checks"`
		Registry map[string]int `json:"registry"`
		Details  []string       `json:"details"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != domain.HealthStatusOK || len(body.Details) != 0 {
		t.Fatalf("unexpected body %+v", body)
	}
	if body.Checks["database"].Status != domain.HealthStatusOK || body.Checks["database"].LatencyMS != 10 {
		t.Fatalf("unexpected database check %+v", body.Checks["database"])
	}
	if body.Registry["src"] != 12 || body.Registry["trg"] != 9 {
		t.Fatalf("unexpected registry counts %v", body.Registry)
	}
}

func TestHealthHandlersReadyzStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		svc        *stubSystemService
		wantStatus int
		wantDetail string
	}{
		{
			name: "degraded stays ready",
			svc: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"pubsub": {Status: domain.HealthStatusDegraded, Error: "topic missing"},
				},
			}},
			wantStatus: http.StatusOK,
			wantDetail: "pubsub: topic missing",
		},
		{
			name: "error is not ready",
			svc: &stubSystemService{report: services.SystemHealthReport{
				Status: domain.HealthStatusError,
				Checks: map[string]domain.SystemHealthCheck{
					"database": {Status: domain.HealthStatusError, Error: "ping failed"},
				},
			}},
			wantStatus: http.StatusServiceUnavailable,
			wantDetail: "database: ping failed",
		},
		{
			name:       "report failure",
			svc:        &stubSystemService{err: errors.New("collect failed")},
			wantStatus: http.StatusServiceUnavailable,
			wantDetail: "collect failed",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handlers := NewHealthHandlers(WithHealthSystemService(tc.svc))
			rr := httptest.NewRecorder()
			handlers.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tc.wantStatus {
				t.Fatalf("expected status %d, got %d", tc.wantStatus, rr.Code)
			}
			var body struct {
				Details []string `json:"details"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if len(body.Details) != 1 || body.Details[0] != tc.wantDetail {
				t.Fatalf("expected detail %q, got %v", tc.wantDetail, body.Details)
			}
		})
	}
}

var _ services.SystemService = (*stubSystemService)(nil)
