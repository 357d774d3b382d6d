// internal/storage/postgres/client.go
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/astercc518/outreachd/internal/config"
	"github.com/astercc518/outreachd/internal/models"
	"github.com/lib/pq"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Client struct {
	db *sql.DB
}

func NewClient(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

// Task related functions

func (c *Client) CreateTask(ctx context.Context, t *models.Task) error {
	filter, err := json.Marshal(t.Filter)
	if err != nil {
		return fmt.Errorf("failed to marshal filter: %w", err)
	}
	policy, err := json.Marshal(t.Policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	query := `
		INSERT INTO tasks
		(id, name, destination_group, delegates, delegate_group, filter, policy,
		 status, total, success, failed, privacy_restricted, flood_waits, pending,
		 last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = c.db.ExecContext(ctx, query,
		t.ID, t.Name, t.DestinationGroup, pq.Array(t.Delegates), t.DelegateGroup,
		filter, policy, t.Status,
		t.Counters.Total, t.Counters.Success, t.Counters.Failed,
		t.Counters.PrivacyRestricted, t.Counters.FloodWaits, t.Counters.Pending,
		t.LastError, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

const taskColumns = `
	id, name, destination_group, delegates, delegate_group, filter, policy,
	status, total, success, failed, privacy_restricted, flood_waits, pending,
	last_error, created_at, started_at, completed_at, updated_at`

func (c *Client) scanTask(row interface{ Scan(...interface{}) error }) (*models.Task, error) {
	var t models.Task
	var filterJSON, policyJSON []byte
	var delegates pq.StringArray
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&t.ID, &t.Name, &t.DestinationGroup, &delegates, &t.DelegateGroup,
		&filterJSON, &policyJSON, &t.Status,
		&t.Counters.Total, &t.Counters.Success, &t.Counters.Failed,
		&t.Counters.PrivacyRestricted, &t.Counters.FloodWaits, &t.Counters.Pending,
		&t.LastError, &t.CreatedAt, &startedAt, &completedAt, &t.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	t.Delegates = []string(delegates)
	if startedAt.Valid {
		t.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal(filterJSON, &t.Filter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal filter: %w", err)
	}
	if err := json.Unmarshal(policyJSON, &t.Policy); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	return &t, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`
	return c.scanTask(c.db.QueryRowContext(ctx, query, id))
}

func (c *Client) ListTasks(ctx context.Context) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY created_at DESC`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := c.scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTask persists a task snapshot: status, counters, error text and
// timestamps. Policy and filter are immutable after creation.
func (c *Client) UpdateTask(ctx context.Context, t *models.Task) error {
	query := `
		UPDATE tasks
		SET status = $1, total = $2, success = $3, failed = $4,
			privacy_restricted = $5, flood_waits = $6, pending = $7,
			last_error = $8, started_at = $9, completed_at = $10, updated_at = NOW()
		WHERE id = $11`

	result, err := c.db.ExecContext(ctx, query,
		t.Status, t.Counters.Total, t.Counters.Success, t.Counters.Failed,
		t.Counters.PrivacyRestricted, t.Counters.FloodWaits, t.Counters.Pending,
		t.LastError, t.StartedAt, t.CompletedAt, t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask removes a task and its logs. The handler refuses running
// tasks before calling this; the status guard here is the backstop.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	result, err := c.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND status <> $2`, id, models.TaskStatusRunning)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	_, err = c.db.ExecContext(ctx, `DELETE FROM execution_logs WHERE task_id = $1`, id)
	return err
}

// DemoteRunningTasks marks tasks left RUNNING by a previous session as
// PAUSED so an operator resumes them deliberately after a restart.
func (c *Client) DemoteRunningTasks(ctx context.Context) (int64, error) {
	result, err := c.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, updated_at = NOW() WHERE status = $2`,
		models.TaskStatusPaused, models.TaskStatusRunning)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (c *Client) GetSystemState(ctx context.Context) (*models.SystemState, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2),
			COUNT(*)
		FROM tasks`

	var state models.SystemState
	err := c.db.QueryRowContext(ctx, query,
		models.TaskStatusRunning, models.TaskStatusPaused,
	).Scan(&state.RunningTasks, &state.PausedTasks, &state.TotalTasks)
	if err != nil {
		return nil, err
	}
	state.UpdatedAt = time.Now()
	return &state, nil
}

// Execution log related functions

func (c *Client) InsertExecutionLog(ctx context.Context, l *models.ExecutionLog) error {
	query := `
		INSERT INTO execution_logs
		(id, task_id, delegate_id, target_id, outcome, error_code, error_message,
		 duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := c.db.ExecContext(ctx, query,
		l.ID, l.TaskID, l.DelegateID, l.TargetID, l.Outcome,
		l.ErrorCode, l.ErrorMessage, l.Duration.Milliseconds(), l.CreatedAt,
	)
	return err
}

func (c *Client) ListExecutionLogs(ctx context.Context, taskID string, limit, offset int) ([]*models.ExecutionLog, error) {
	query := `
		SELECT id, task_id, delegate_id, target_id, outcome, error_code,
		       error_message, duration_ms, created_at
		FROM execution_logs
		WHERE task_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3`

	rows, err := c.db.QueryContext(ctx, query, taskID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.ExecutionLog
	for rows.Next() {
		var l models.ExecutionLog
		var durationMs int64
		if err := rows.Scan(
			&l.ID, &l.TaskID, &l.DelegateID, &l.TargetID, &l.Outcome,
			&l.ErrorCode, &l.ErrorMessage, &durationMs, &l.CreatedAt,
		); err != nil {
			return nil, err
		}
		l.Duration = time.Duration(durationMs) * time.Millisecond
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}

func (c *Client) CountExecutionLogs(ctx context.Context, taskID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM execution_logs WHERE task_id = $1`, taskID).Scan(&n)
	return n, err
}

// Candidate store

// LoadCandidates returns the candidate snapshot, each row annotated with
// its invite history so the pure filter can apply the exclusion rules.
// Ordering is fixed (score descending, id ascending) so previews are
// reproducible against an unchanged store.
func (c *Client) LoadCandidates(ctx context.Context) ([]models.TargetCandidate, error) {
	query := `
		SELECT c.id, c.tags, c.score, c.funnel_stage, c.source_group,
			COALESCE(array_agg(DISTINCT t.destination_group)
				FILTER (WHERE l.outcome = 'success'), '{}'),
			MAX(l.created_at) FILTER (WHERE l.outcome IN ('other_error', 'flood_wait'))
		FROM target_candidates c
		LEFT JOIN execution_logs l ON l.target_id = c.id
		LEFT JOIN tasks t ON t.id = l.task_id
		GROUP BY c.id, c.tags, c.score, c.funnel_stage, c.source_group
		ORDER BY c.score DESC, c.id ASC`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []models.TargetCandidate
	for rows.Next() {
		var cand models.TargetCandidate
		var tags, invited pq.StringArray
		var lastFailed sql.NullTime
		if err := rows.Scan(&cand.ID, &tags, &cand.Score, &cand.FunnelStage,
			&cand.SourceGroup, &invited, &lastFailed); err != nil {
			return nil, err
		}
		cand.Tags = []string(tags)
		cand.InvitedGroups = []string(invited)
		if lastFailed.Valid {
			cand.LastFailedAt = &lastFailed.Time
		}
		candidates = append(candidates, cand)
	}
	return candidates, rows.Err()
}

// Delegate registry

func (c *Client) ListByGroup(ctx context.Context, name string) ([]string, error) {
	query := `
		SELECT id FROM delegate_accounts
		WHERE group_name = $1 AND NOT banned
		ORDER BY id`

	rows, err := c.db.QueryContext(ctx, query, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *Client) UsageToday(ctx context.Context, id string) (int, error) {
	var used int
	err := c.db.QueryRowContext(ctx, `
		SELECT used FROM delegate_usage
		WHERE delegate_id = $1 AND day = CURRENT_DATE`, id).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return used, err
}

func (c *Client) RecordUse(ctx context.Context, id string, day string) error {
	query := `
		INSERT INTO delegate_usage (delegate_id, day, used)
		VALUES ($1, $2, 1)
		ON CONFLICT (delegate_id, day) DO UPDATE
		SET used = delegate_usage.used + 1`

	_, err := c.db.ExecContext(ctx, query, id, day)
	return err
}

func (c *Client) ReleaseUse(ctx context.Context, id string, day string) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE delegate_usage
		SET used = used - 1
		WHERE delegate_id = $1 AND day = $2 AND used > 0`, id, day)
	return err
}

func (c *Client) MarkBanned(ctx context.Context, id string) error {
	result, err := c.db.ExecContext(ctx,
		`UPDATE delegate_accounts SET banned = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) Unban(ctx context.Context, id string) error {
	result, err := c.db.ExecContext(ctx,
		`UPDATE delegate_accounts SET banned = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (c *Client) ListDelegates(ctx context.Context) ([]models.DelegateAccount, error) {
	query := `
		SELECT a.id, a.group_name, a.banned, COALESCE(u.used, 0)
		FROM delegate_accounts a
		LEFT JOIN delegate_usage u ON u.delegate_id = a.id AND u.day = CURRENT_DATE
		ORDER BY a.id`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.DelegateAccount
	for rows.Next() {
		var a models.DelegateAccount
		if err := rows.Scan(&a.ID, &a.Group, &a.Banned, &a.UsedToday); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
