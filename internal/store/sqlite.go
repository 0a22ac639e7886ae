package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flowline-dev/flowline/pkg/models"
)

// SQLite is the default durable Store, backed by a single database file.
// WAL mode is enabled for concurrent reads.
type SQLite struct {
	conn *sql.DB
	path string
}

// DefaultSQLitePath returns the default database location, honoring
// XDG_DATA_HOME.
func DefaultSQLitePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "flowline", "flowline.db")
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending schema migrations.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	s := &SQLite{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string { return s.path }

// Close closes the database connection.
func (s *SQLite) Close() error { return s.conn.Close() }

func (s *SQLite) migrate() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		stmts   []string
	}{
		{
			version: 1,
			stmts: []string{
				`CREATE TABLE IF NOT EXISTS pipelines (
					project_id          TEXT    NOT NULL,
					issue_number        INTEGER NOT NULL,
					status              TEXT    NOT NULL,
					agents              TEXT    NOT NULL,
					current_agent_index INTEGER NOT NULL,
					completed_agents    TEXT    NOT NULL,
					is_complete         INTEGER NOT NULL DEFAULT 0,
					started_at          TEXT    NOT NULL,
					error               TEXT    NOT NULL DEFAULT '',
					version             INTEGER NOT NULL,
					updated_at          TEXT    NOT NULL,
					PRIMARY KEY (project_id, issue_number)
				)`,
				`CREATE INDEX IF NOT EXISTS idx_pipelines_active
					ON pipelines(is_complete, error)`,
			},
		},
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		for _, stmt := range m.stmts {
			if _, err := s.conn.Exec(stmt); err != nil {
				return fmt.Errorf("apply migration %d: %w", m.version, err)
			}
		}
		if _, err := s.conn.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// Create inserts a new record with version 1.
func (s *SQLite) Create(ctx context.Context, state *models.PipelineState) (*Record, error) {
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}

	agents, completed, err := encodeAgents(state)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO pipelines
			(project_id, issue_number, status, agents, current_agent_index,
			 completed_agents, is_complete, started_at, error, version, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
	`, state.ProjectID, state.IssueNumber, string(state.Status), agents,
		state.CurrentAgentIndex, completed, boolToInt(state.IsComplete),
		formatTime(state.StartedAt), state.Error, formatTime(now))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, fmt.Errorf("create %s: %w", state.Key(), ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create %s: %w", state.Key(), err)
	}

	return &Record{State: *state.Clone(), Version: 1, UpdatedAt: now}, nil
}

// Get returns the record for a key.
func (s *SQLite) Get(ctx context.Context, key models.PipelineKey) (*Record, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT project_id, issue_number, status, agents, current_agent_index,
		       completed_agents, is_complete, started_at, error, version, updated_at
		FROM pipelines WHERE project_id = ? AND issue_number = ?
	`, key.ProjectID, key.IssueNumber)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return rec, nil
}

// Update overwrites the record under the optimistic-version guard.
func (s *SQLite) Update(ctx context.Context, state *models.PipelineState, expectedVersion int64) (*Record, error) {
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}

	agents, completed, err := encodeAgents(state)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.conn.ExecContext(ctx, `
		UPDATE pipelines
		SET status = ?, agents = ?, current_agent_index = ?, completed_agents = ?,
		    is_complete = ?, error = ?, version = version + 1, updated_at = ?
		WHERE project_id = ? AND issue_number = ? AND version = ?
	`, string(state.Status), agents, state.CurrentAgentIndex, completed,
		boolToInt(state.IsComplete), state.Error, formatTime(now),
		state.ProjectID, state.IssueNumber, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", state.Key(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update %s: rows affected: %w", state.Key(), err)
	}
	if n == 0 {
		// Distinguish a moved version from a vanished row.
		if _, getErr := s.Get(ctx, state.Key()); errors.Is(getErr, ErrNotFound) {
			return nil, fmt.Errorf("update %s: %w", state.Key(), ErrNotFound)
		}
		return nil, fmt.Errorf("update %s: expected version %d: %w", state.Key(), expectedVersion, ErrVersionConflict)
	}

	return &Record{State: *state.Clone(), Version: expectedVersion + 1, UpdatedAt: now}, nil
}

// ListActive returns all non-complete, non-errored records.
func (s *SQLite) ListActive(ctx context.Context) ([]Record, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT project_id, issue_number, status, agents, current_agent_index,
		       completed_agents, is_complete, started_at, error, version, updated_at
		FROM pipelines WHERE is_complete = 0 AND error = ''
		ORDER BY project_id, issue_number
	`)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list active: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec        Record
		status     string
		agents     string
		completed  string
		isComplete int
		startedAt  string
		updatedAt  string
	)
	err := row.Scan(&rec.State.ProjectID, &rec.State.IssueNumber, &status,
		&agents, &rec.State.CurrentAgentIndex, &completed, &isComplete,
		&startedAt, &rec.State.Error, &rec.Version, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.State.Status = models.Phase(status)
	rec.State.IsComplete = isComplete != 0
	if err := json.Unmarshal([]byte(agents), &rec.State.Agents); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	if err := json.Unmarshal([]byte(completed), &rec.State.CompletedAgents); err != nil {
		return nil, fmt.Errorf("decode completed agents: %w", err)
	}
	rec.State.StartedAt, _ = parseTime(startedAt)
	rec.UpdatedAt, _ = parseTime(updatedAt)
	return &rec, nil
}

func encodeAgents(state *models.PipelineState) (agents, completed string, err error) {
	a, err := json.Marshal(state.Agents)
	if err != nil {
		return "", "", fmt.Errorf("encode agents: %w", err)
	}
	c, err := json.Marshal(state.CompletedAgents)
	if err != nil {
		return "", "", fmt.Errorf("encode completed agents: %w", err)
	}
	return string(a), string(c), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ Store = (*SQLite)(nil)
