package store

import "context"

// Store defines the interface for experiment, assignment and event storage
type Store interface {
	// Experiment operations
	CreateExperiment(ctx context.Context, name string, variants []string) (*Experiment, error)
	GetOrCreateExperiment(ctx context.Context, name string, variants []string) (*Experiment, bool, error)
	GetExperiment(ctx context.Context, name string) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)
	UpdateExperimentState(ctx context.Context, name string, state ExperimentState, winnerVariant *string) error
	DeleteExperiment(ctx context.Context, name string) error

	// Assignment operations (durable per-visitor variant choices).
	// Last write wins; GetAssignment returns ErrNotFound when no choice
	// has been persisted for the key.
	GetAssignment(ctx context.Context, visitorID, key string) (string, error)
	PutAssignment(ctx context.Context, visitorID, key, variant string) error
	RemoveAssignment(ctx context.Context, visitorID, key string) error

	// Event operations
	RecordEvent(ctx context.Context, testName, variant, eventType, visitorID string) error
	GetVariantStats(ctx context.Context, testName string) ([]VariantStats, error)
	GetEvents(ctx context.Context, testName string) ([]*Event, error)

	// Lifecycle
	Close() error
}
