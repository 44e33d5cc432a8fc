package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openfroyo/gatewaysetup/pkg/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// JournalFile is the journal database inside the run directory.
const JournalFile = "journal.db"

// JournalEntry is one recorded progress event.
type JournalEntry struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	StepID    string    `json:"step_id,omitempty"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Category  string    `json:"category,omitempty"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal is the append-only SQLite record of every progress event.
type Journal struct {
	db     *sql.DB
	path   string
	logger *telemetry.Logger
}

// OpenJournal opens (creating if needed) the journal in dir and applies
// pending migrations.
func OpenJournal(ctx context.Context, dir string, logger *telemetry.Logger) (*Journal, error) {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	path := filepath.Join(dir, JournalFile)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping journal: %w", err)
	}

	j := &Journal{db: db, path: path, logger: logger.NewComponentLogger("journal")}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(j.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Path returns the database file.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

// Append records one event.
func (j *Journal) Append(ctx context.Context, event telemetry.Event) error {
	category := event.Category
	if category == "" {
		if c, ok := event.Data["category"].(string); ok {
			category = c
		}
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := `
		INSERT INTO events (event_id, run_id, type, step_id, from_status, to_status, attempt, category, level, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		event.ID,
		event.RunID,
		event.Type,
		event.StepID,
		event.From,
		event.To,
		event.Attempt,
		category,
		event.Level,
		event.Message,
		ts.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// Subscriber returns an event subscriber that appends every event. Write
// failures are logged; a broken journal never fails a run.
func (j *Journal) Subscriber() telemetry.EventSubscriber {
	return func(event telemetry.Event) {
		if err := j.Append(context.Background(), event); err != nil {
			j.logger.WithError(err).WithField("event", event.Type).Warn("journal write failed")
		}
	}
}

// ListEvents returns recorded events oldest first. An empty stepID lists
// every event.
func (j *Journal) ListEvents(ctx context.Context, stepID string) ([]JournalEntry, error) {
	query := `
		SELECT id, event_id, run_id, type, step_id, from_status, to_status, attempt, category, level, message, created_at
		FROM events
	`
	var args []interface{}
	if stepID != "" {
		query += " WHERE step_id = ?"
		args = append(args, stepID)
	}
	query += " ORDER BY id"

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(
			&e.ID,
			&e.EventID,
			&e.RunID,
			&e.Type,
			&e.StepID,
			&e.From,
			&e.To,
			&e.Attempt,
			&e.Category,
			&e.Level,
			&e.Message,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return entries, nil
}

// Runs returns the IDs of recorded runs, most recent first.
func (j *Journal) Runs(ctx context.Context) ([]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id FROM events
		GROUP BY run_id
		ORDER BY MAX(id) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, id)
	}
	return runs, rows.Err()
}
