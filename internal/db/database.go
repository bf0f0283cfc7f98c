package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryDSN keeps the archive in process memory.
const MemoryDSN = ":memory:"

type Database struct {
	db *sql.DB
}

// A judged compile or submit request
type Submission struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	RoomCode   string    `json:"roomCode,omitempty"`
	ProblemID  int       `json:"problemId"`
	Outcome    string    `json:"outcome"`
	Passed     int       `json:"passed"`
	Total      int       `json:"total"`
	DurationMS int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

func New(dbPath string, logger *slog.Logger) (*Database, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dbPath == "" {
		dbPath = MemoryDSN
	}

	memory := dbPath == MemoryDSN
	if !memory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	if memory {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	logger.Info("submission archive ready", "path", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS submissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL DEFAULT '',
		room_code TEXT NOT NULL DEFAULT '',
		problem_id INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		passed INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_submissions_username ON submissions(username, id DESC);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Record appends a submission and returns it with its id set.
func (d *Database) Record(ctx context.Context, s Submission) (Submission, error) {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	result, err := d.db.ExecContext(ctx, `
		INSERT INTO submissions (username, room_code, problem_id, outcome, passed, total, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, s.Username, s.RoomCode, s.ProblemID, s.Outcome, s.Passed, s.Total, s.DurationMS, s.CreatedAt)
	if err != nil {
		return Submission{}, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return Submission{}, err
	}
	s.ID = id
	return s, nil
}

// Get returns nil when the id is unknown.
func (d *Database) Get(ctx context.Context, id int64) (*Submission, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT id, username, room_code, problem_id, outcome, passed, total, duration_ms, created_at
		FROM submissions WHERE id = ?
	`, id)

	var s Submission
	err := row.Scan(&s.ID, &s.Username, &s.RoomCode, &s.ProblemID, &s.Outcome, &s.Passed, &s.Total, &s.DurationMS, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListRecent returns the newest submissions first. An empty username lists
// everyone's.
func (d *Database) ListRecent(ctx context.Context, username string, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, username, room_code, problem_id, outcome, passed, total, duration_ms, created_at
		FROM submissions`
	args := []any{}
	if username != "" {
		query += ` WHERE username = ?`
		args = append(args, username)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []Submission{}
	for rows.Next() {
		var s Submission
		if err := rows.Scan(&s.ID, &s.Username, &s.RoomCode, &s.ProblemID, &s.Outcome, &s.Passed, &s.Total, &s.DurationMS, &s.CreatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (d *Database) Count(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM submissions").Scan(&count)
	return count, err
}

// PruneKeepRecent deletes all but the newest keep rows and reports how many
// were removed.
func (d *Database) PruneKeepRecent(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	result, err := d.db.ExecContext(ctx, `
		DELETE FROM submissions
		WHERE id NOT IN (
			SELECT id FROM submissions
			ORDER BY id DESC
			LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// OutcomeCounts tallies submissions per outcome.
func (d *Database) OutcomeCounts(ctx context.Context) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT outcome, COUNT(*) FROM submissions GROUP BY outcome")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, err
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}
