package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    variants TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'running',
    winner_variant TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_experiments_name ON experiments(name);
CREATE INDEX IF NOT EXISTS idx_experiments_state ON experiments(state);

CREATE TABLE IF NOT EXISTS assignments (
    visitor_id TEXT NOT NULL,
    key TEXT NOT NULL,
    variant TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    PRIMARY KEY (visitor_id, key)
);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    test_name TEXT NOT NULL,
    variant TEXT NOT NULL,
    event_type TEXT NOT NULL,
    visitor_id TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_events_test ON events(test_name);
CREATE INDEX IF NOT EXISTS idx_events_test_event ON events(test_name, event_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_events_dedup ON events(test_name, visitor_id, event_type);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateExperiment(ctx context.Context, name string, variants []string) (*Experiment, error) {
	variantsJSON, err := json.Marshal(variants)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal variants: %w", err)
	}

	now := time.Now().Unix()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO experiments (name, variants, state, created_at, updated_at)
		 VALUES (?, ?, 'running', ?, ?)`,
		name, string(variantsJSON), now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert experiment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &Experiment{
		ID:        id,
		Name:      name,
		Variants:  variants,
		State:     StateRunning,
		CreatedAt: time.Unix(now, 0),
		UpdatedAt: time.Unix(now, 0),
	}, nil
}

// GetOrCreateExperiment returns the existing experiment or creates it with
// the given variants. The second return value reports whether a new row was
// created. Used to sync configured experiments into the database at startup.
func (s *SQLiteStore) GetOrCreateExperiment(ctx context.Context, name string, variants []string) (*Experiment, bool, error) {
	exp, err := s.GetExperiment(ctx, name)
	if err == nil {
		return exp, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	exp, err = s.CreateExperiment(ctx, name, variants)
	if err != nil {
		// Another process may have created it in between
		if existing, getErr := s.GetExperiment(ctx, name); getErr == nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return exp, true, nil
}

func (s *SQLiteStore) GetExperiment(ctx context.Context, name string) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, variants, state, winner_variant, created_at, updated_at
		 FROM experiments WHERE name = ?`, name,
	)
	exp, err := scanExperiment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return exp, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, variants, state, winner_variant, created_at, updated_at
		 FROM experiments ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*Experiment
	for rows.Next() {
		exp, err := scanExperiment(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, exp)
	}

	return experiments, rows.Err()
}

func scanExperiment(scan func(dest ...any) error) (*Experiment, error) {
	var exp Experiment
	var variantsJSON string
	var winnerVariant sql.NullString
	var createdAt, updatedAt int64

	err := scan(&exp.ID, &exp.Name, &variantsJSON, &exp.State, &winnerVariant, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(variantsJSON), &exp.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
	}

	if winnerVariant.Valid {
		w := winnerVariant.String
		exp.WinnerVariant = &w
	}

	exp.CreatedAt = time.Unix(createdAt, 0)
	exp.UpdatedAt = time.Unix(updatedAt, 0)

	return &exp, nil
}

func (s *SQLiteStore) UpdateExperimentState(ctx context.Context, name string, state ExperimentState, winnerVariant *string) error {
	now := time.Now().Unix()

	var result sql.Result
	var err error

	if winnerVariant != nil {
		result, err = s.db.ExecContext(ctx,
			`UPDATE experiments SET state = ?, winner_variant = ?, updated_at = ? WHERE name = ?`,
			string(state), *winnerVariant, now, name,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE experiments SET state = ?, updated_at = ? WHERE name = ?`,
			string(state), now, name,
		)
	}

	if err != nil {
		return fmt.Errorf("failed to update experiment state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *SQLiteStore) DeleteExperiment(ctx context.Context, name string) error {
	// First delete related events
	_, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE test_name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete events: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM experiments WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *SQLiteStore) GetAssignment(ctx context.Context, visitorID, key string) (string, error) {
	var variant string
	err := s.db.QueryRowContext(ctx,
		`SELECT variant FROM assignments WHERE visitor_id = ? AND key = ?`,
		visitorID, key,
	).Scan(&variant)

	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get assignment: %w", err)
	}

	return variant, nil
}

func (s *SQLiteStore) PutAssignment(ctx context.Context, visitorID, key, variant string) error {
	// Last write wins: concurrent tabs racing on first assignment is
	// tolerated, the visitor simply keeps whichever write landed last.
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO assignments (visitor_id, key, variant, created_at)
		 VALUES (?, ?, ?, ?)`,
		visitorID, key, variant, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to put assignment: %w", err)
	}

	return nil
}

func (s *SQLiteStore) RemoveAssignment(ctx context.Context, visitorID, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM assignments WHERE visitor_id = ? AND key = ?`,
		visitorID, key,
	)
	if err != nil {
		return fmt.Errorf("failed to remove assignment: %w", err)
	}

	return nil
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, testName, variant, eventType, visitorID string) error {
	// Use INSERT OR IGNORE for deduplication via unique index
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (test_name, variant, event_type, visitor_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		testName, variant, eventType, visitorID, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}

func (s *SQLiteStore) GetVariantStats(ctx context.Context, testName string) ([]VariantStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			variant,
			COUNT(DISTINCT CASE WHEN event_type = 'view' THEN visitor_id END) as views,
			COUNT(DISTINCT CASE WHEN event_type = 'convert' THEN visitor_id END) as conversions
		FROM events
		WHERE test_name = ?
		GROUP BY variant
		ORDER BY variant
	`, testName)
	if err != nil {
		return nil, fmt.Errorf("failed to get variant stats: %w", err)
	}
	defer rows.Close()

	var stats []VariantStats
	for rows.Next() {
		var vs VariantStats
		if err := rows.Scan(&vs.Variant, &vs.Views, &vs.Conversions); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats = append(stats, vs)
	}

	return stats, rows.Err()
}

func (s *SQLiteStore) GetEvents(ctx context.Context, testName string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_name, variant, event_type, visitor_id, created_at
		 FROM events WHERE test_name = ? ORDER BY created_at DESC`,
		testName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.TestName, &e.Variant, &e.EventType, &e.VisitorID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}

	return events, rows.Err()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}
