package store

import "time"

type ExperimentState string

const (
	StateRunning   ExperimentState = "running"
	StatePaused    ExperimentState = "paused"
	StateCompleted ExperimentState = "completed"
)

type Experiment struct {
	ID            int64
	Name          string
	Variants      []string // Decoded from JSON, configured order preserved
	State         ExperimentState
	WinnerVariant *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Event struct {
	ID        int64
	TestName  string
	Variant   string
	EventType string // "view" or "convert"
	VisitorID string
	CreatedAt time.Time
}

type VariantStats struct {
	Variant     string
	Views       int
	Conversions int
}
