package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "finitefield.org/usermapping/internal/domain"
	"finitefield.org/usermapping/internal/repositories"
)

const registryCheckName = "registry"

// BuildInfo is the release metadata reported by the probes.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
// Fields is optional; when set, readiness also reports the registry size per side.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Fields           repositories.FieldRepository
	Clock            func() time.Time
	Build            BuildInfo
}

type systemService struct {
	health repositories.HealthRepository
	fields repositories.FieldRepository
	now    func() time.Time
	build  BuildInfo
}

var _ SystemService = (*systemService)(nil)

func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc := &systemService{
		health: deps.HealthRepository,
		fields: deps.Fields,
		now:    func() time.Time { return clock().UTC() },
		build:  deps.Build,
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	return svc, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}
	report, err := s.health.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.now()
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	if report.Version == "" {
		report.Version = s.build.Version
	}
	if report.CommitSHA == "" {
		report.CommitSHA = s.build.CommitSHA
	}
	if report.Environment == "" {
		report.Environment = s.build.Environment
	}
	if report.Uptime <= 0 {
		report.Uptime = now.Sub(s.build.StartedAt)
	}
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}

	if s.fields != nil {
		counts, check := s.registrySize(ctx, now)
		report.Registry = counts
		report.Checks[registryCheckName] = check
	}
	if strings.TrimSpace(report.Status) == "" {
		report.Status = overallStatus(report.Checks)
	}
	return report, nil
}

// registrySize counts fields on both sides. A failure degrades readiness but never fails it:
// the database check already decides whether the store is down.
func (s *systemService) registrySize(ctx context.Context, now time.Time) (map[domain.Side]int, domain.SystemHealthCheck) {
	start := time.Now()
	counts := make(map[domain.Side]int, 2)
	for _, side := range []domain.Side{domain.SideSource, domain.SideTarget} {
		fields, err := s.fields.ListAll(ctx, side)
		if err != nil {
			return nil, domain.SystemHealthCheck{
				Status:    domain.HealthStatusDegraded,
				Error:     fmt.Sprintf("count %s fields: %v", side, err),
				Latency:   time.Since(start),
				CheckedAt: now,
			}
		}
		counts[side] = len(fields)
	}
	check := domain.SystemHealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    fmt.Sprintf("src=%d trg=%d", counts[domain.SideSource], counts[domain.SideTarget]),
		Latency:   time.Since(start),
		CheckedAt: now,
	}
	if counts[domain.SideSource] == 0 && counts[domain.SideTarget] == 0 {
		check.Detail = "registry is empty; run an ingestion"
	}
	return counts, check
}

// overallStatus is error if any check errored, degraded if any check is not ok, else ok.
func overallStatus(checks map[string]domain.SystemHealthCheck) string {
	status := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusOK, "":
		case domain.HealthStatusError:
			return domain.HealthStatusError
		default:
			status = domain.HealthStatusDegraded
		}
	}
	return status
}
