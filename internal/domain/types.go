package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

const (
	// HealthStatusOK indicates all dependencies are healthy.
	HealthStatusOK = "ok"
	// HealthStatusDegraded indicates at least one dependency is degraded but service remains running.
	HealthStatusDegraded = "degraded"
	// HealthStatusError indicates the service or a critical dependency is unavailable.
	HealthStatusError = "error"
)

// SystemHealthCheck describes the outcome of an individual dependency probe.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency status for health endpoints.
type SystemHealthReport struct {
	Status      string
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
	// Registry holds the number of registered fields per side, when known.
	Registry map[Side]int
}

// IngestionSideReport summarises a single side's ingestion pass.
type IngestionSideReport struct {
	Side            Side
	FieldsSeen      int
	FieldsInserted  int
	OptionsSeen     int
	OptionsInserted int
	Pages           int
	Error           string
}

// IngestionRun records the outcome of pulling field definitions from the remote profile systems.
type IngestionRun struct {
	ID          string
	StartedAt   time.Time
	CompletedAt time.Time
	Sides       []IngestionSideReport
}

// ExportObject is one archived export file.
type ExportObject struct {
	Path         string
	DownloadURL  string
	URLExpiresAt time.Time
}

// ExportReceipt describes where a compiled document was delivered.
type ExportReceipt struct {
	ExportID       string
	GeneratedAt    time.Time
	FieldMappings  int
	OptionMappings int
	MessageID      string
	Objects        []ExportObject
}
