package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowline-dev/flowline/pkg/models"
)

// Postgres is a Store backed by PostgreSQL. It exists so several poller
// instances can share one durable store; the optimistic-version guard in
// Update is what keeps them from double-applying a transition.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to the database at dsn and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pipelines (
			project_id          TEXT        NOT NULL,
			issue_number        INTEGER     NOT NULL,
			status              TEXT        NOT NULL,
			agents              JSONB       NOT NULL,
			current_agent_index INTEGER     NOT NULL,
			completed_agents    JSONB       NOT NULL,
			is_complete         BOOLEAN     NOT NULL DEFAULT FALSE,
			started_at          TIMESTAMPTZ NOT NULL,
			error               TEXT        NOT NULL DEFAULT '',
			version             BIGINT      NOT NULL,
			updated_at          TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (project_id, issue_number)
		)
	`)
	if err != nil {
		return fmt.Errorf("create pipelines table: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_pipelines_active
			ON pipelines(is_complete) WHERE NOT is_complete AND error = ''
	`)
	if err != nil {
		return fmt.Errorf("create active index: %w", err)
	}
	return nil
}

// Create inserts a new record with version 1.
func (p *Postgres) Create(ctx context.Context, state *models.PipelineState) (*Record, error) {
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}

	now := time.Now().UTC()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO pipelines
			(project_id, issue_number, status, agents, current_agent_index,
			 completed_agents, is_complete, started_at, error, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10)
	`, state.ProjectID, state.IssueNumber, string(state.Status),
		agentsOrEmpty(state.Agents), state.CurrentAgentIndex,
		agentsOrEmpty(state.CompletedAgents), state.IsComplete,
		state.StartedAt.UTC(), state.Error, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, fmt.Errorf("create %s: %w", state.Key(), ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create %s: %w", state.Key(), err)
	}

	return &Record{State: *state.Clone(), Version: 1, UpdatedAt: now}, nil
}

// Get returns the record for a key.
func (p *Postgres) Get(ctx context.Context, key models.PipelineKey) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT project_id, issue_number, status, agents, current_agent_index,
		       completed_agents, is_complete, started_at, error, version, updated_at
		FROM pipelines WHERE project_id = $1 AND issue_number = $2
	`, key.ProjectID, key.IssueNumber)

	rec, err := scanPgRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return rec, nil
}

// Update overwrites the record under the optimistic-version guard.
func (p *Postgres) Update(ctx context.Context, state *models.PipelineState, expectedVersion int64) (*Record, error) {
	if err := state.Validate(); err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}

	now := time.Now().UTC()
	tag, err := p.pool.Exec(ctx, `
		UPDATE pipelines
		SET status = $1, agents = $2, current_agent_index = $3, completed_agents = $4,
		    is_complete = $5, error = $6, version = version + 1, updated_at = $7
		WHERE project_id = $8 AND issue_number = $9 AND version = $10
	`, string(state.Status), agentsOrEmpty(state.Agents), state.CurrentAgentIndex,
		agentsOrEmpty(state.CompletedAgents), state.IsComplete, state.Error, now,
		state.ProjectID, state.IssueNumber, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", state.Key(), err)
	}

	if tag.RowsAffected() == 0 {
		if _, getErr := p.Get(ctx, state.Key()); errors.Is(getErr, ErrNotFound) {
			return nil, fmt.Errorf("update %s: %w", state.Key(), ErrNotFound)
		}
		return nil, fmt.Errorf("update %s: expected version %d: %w", state.Key(), expectedVersion, ErrVersionConflict)
	}

	return &Record{State: *state.Clone(), Version: expectedVersion + 1, UpdatedAt: now}, nil
}

// ListActive returns all non-complete, non-errored records.
func (p *Postgres) ListActive(ctx context.Context) ([]Record, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT project_id, issue_number, status, agents, current_agent_index,
		       completed_agents, is_complete, started_at, error, version, updated_at
		FROM pipelines WHERE NOT is_complete AND error = ''
		ORDER BY project_id, issue_number
	`)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanPgRecord(rows)
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

func scanPgRecord(row pgx.Row) (*Record, error) {
	var (
		rec    Record
		status string
	)
	err := row.Scan(&rec.State.ProjectID, &rec.State.IssueNumber, &status,
		&rec.State.Agents, &rec.State.CurrentAgentIndex, &rec.State.CompletedAgents,
		&rec.State.IsComplete, &rec.State.StartedAt, &rec.State.Error,
		&rec.Version, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.State.Status = models.Phase(status)
	return &rec, nil
}

// agentsOrEmpty keeps JSONB columns as [] rather than null for nil slices.
func agentsOrEmpty(agents []string) []string {
	if agents == nil {
		return []string{}
	}
	return agents
}

var _ Store = (*Postgres)(nil)
