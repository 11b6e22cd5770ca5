package stores

import (
	"context"
	"encoding/json"
	"time"
)

// RunStatus represents the status of an archived run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one archived pipeline run
type Run struct {
	ID          string     `json:"id"`
	Fingerprint string     `json:"fingerprint"`
	Recipe      string     `json:"recipe,omitempty"`
	Seed        int64      `json:"seed"`
	StepCount   int        `json:"step_count"`
	Status      RunStatus  `json:"status"`
	Error       *string    `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// EventRecord is one archived trace event. Data holds the event payload as
// JSON, nil when the event had none.
type EventRecord struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	Seq        uint64          `json:"seq"`
	Kind       string          `json:"kind"`
	StepID     string          `json:"step_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// EventFilter narrows ListEvents. Zero fields match everything.
type EventFilter struct {
	Kind   string
	StepID string
	Limit  int
}

// Store defines the persistence operations of the trace archive
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string, at time.Time) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	ListRunsByFingerprint(ctx context.Context, fingerprint string) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Event operations
	AppendEvents(ctx context.Context, events []EventRecord) error
	ListEvents(ctx context.Context, runID string, filter EventFilter) ([]*EventRecord, error)
}
