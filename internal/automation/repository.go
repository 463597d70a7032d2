package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for plan and run persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// Plan CRUD
	GetByID(ctx context.Context, id string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
	Create(ctx context.Context, plan *Plan) error
	Update(ctx context.Context, plan *Plan) error
	Delete(ctx context.Context, id string) error

	// Run log
	CreateRun(ctx context.Context, run *Run) error
	UpdateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, planID string, limit int) ([]Run, error)
}

// planColumns is the SELECT column list for plan queries.
const planColumns = `id, name, description, version, sequences,
			repeat_count, repeat_interval, created_at, updated_at`

// runColumns is the SELECT column list for run queries.
const runColumns = `id, plan_id, plan_name, status, trigger_source, started_at, completed_at,
			rounds_completed, sequences_completed,
			actions_dispatched, actions_failed, actions_skipped,
			failures, duration_ms`

// Run history limits for ListRuns.
const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a plan by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans WHERE id = ?`

	plan, err := scanPlanRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("querying plan by id: %w", err)
	}
	return plan, nil
}

// List retrieves all plans ordered by name.
func (r *SQLiteRepository) List(ctx context.Context) ([]Plan, error) {
	query := `SELECT ` + planColumns + ` FROM plans ORDER BY name, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying plans: %w", err)
	}
	defer rows.Close()

	var plans []Plan
	for rows.Next() {
		plan, scanErr := scanPlanRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning plan: %w", scanErr)
		}
		plans = append(plans, *plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating plans: %w", err)
	}
	return plans, nil
}

// Create inserts a new plan.
func (r *SQLiteRepository) Create(ctx context.Context, plan *Plan) error {
	sequencesJSON, err := marshalSequences(plan.Sequences)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now

	query := `
		INSERT INTO plans (
			id, name, description, version, sequences,
			repeat_count, repeat_interval, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		plan.ID,
		plan.Name,
		plan.Description,
		plan.Version,
		sequencesJSON,
		plan.RepeatCount,
		plan.RepeatInterval,
		plan.CreatedAt.Format(time.RFC3339),
		plan.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrPlanExists
		}
		return fmt.Errorf("inserting plan: %w", err)
	}
	return nil
}

// Update modifies an existing plan. created_at is never rewritten.
func (r *SQLiteRepository) Update(ctx context.Context, plan *Plan) error {
	sequencesJSON, err := marshalSequences(plan.Sequences)
	if err != nil {
		return err
	}

	plan.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE plans SET
			name = ?, description = ?, version = ?, sequences = ?,
			repeat_count = ?, repeat_interval = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		plan.Name,
		plan.Description,
		plan.Version,
		sequencesJSON,
		plan.RepeatCount,
		plan.RepeatInterval,
		plan.UpdatedAt.Format(time.RFC3339),
		plan.ID,
	)
	if err != nil {
		return fmt.Errorf("updating plan: %w", err)
	}
	return expectOneRow(result, ErrPlanNotFound)
}

// Delete removes a plan by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM plans WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting plan: %w", err)
	}
	return expectOneRow(result, ErrPlanNotFound)
}

// CreateRun inserts a new run record.
func (r *SQLiteRepository) CreateRun(ctx context.Context, run *Run) error {
	failuresJSON, err := marshalFailures(run.Failures)
	if err != nil {
		return fmt.Errorf("marshalling failures: %w", err)
	}

	query := `
		INSERT INTO runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.PlanID,
		run.PlanName,
		string(run.Status),
		run.TriggerSource,
		formatTime(run.StartedAt),
		nullableTime(run.CompletedAt),
		run.RoundsCompleted,
		run.SequencesCompleted,
		run.ActionsDispatched,
		run.ActionsFailed,
		run.ActionsSkipped,
		failuresJSON,
		run.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateRun updates the mutable fields of a run record.
func (r *SQLiteRepository) UpdateRun(ctx context.Context, run *Run) error {
	failuresJSON, err := marshalFailures(run.Failures)
	if err != nil {
		return fmt.Errorf("marshalling failures: %w", err)
	}

	query := `
		UPDATE runs SET
			status = ?, completed_at = ?,
			rounds_completed = ?, sequences_completed = ?,
			actions_dispatched = ?, actions_failed = ?, actions_skipped = ?,
			failures = ?, duration_ms = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		string(run.Status),
		nullableTime(run.CompletedAt),
		run.RoundsCompleted,
		run.SequencesCompleted,
		run.ActionsDispatched,
		run.ActionsFailed,
		run.ActionsSkipped,
		failuresJSON,
		run.DurationMS,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return expectOneRow(result, ErrRunNotFound)
}

// GetRun retrieves a run by ID.
func (r *SQLiteRepository) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE id = ?`

	run, err := scanRunRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("querying run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves the most recent runs, newest first. An empty planID
// lists runs of every plan.
func (r *SQLiteRepository) ListRuns(ctx context.Context, planID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	args := []any{}
	if planID != "" {
		query += ` WHERE plan_id = ?`
		args = append(args, planID)
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, scanErr := scanRunRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning run: %w", scanErr)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlanRow(scanner rowScanner) (*Plan, error) {
	var p Plan
	var sequencesJSON, createdAt, updatedAt string

	err := scanner.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Version,
		&sequencesJSON,
		&p.RepeatCount,
		&p.RepeatInterval,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)

	if sequencesJSON != "" {
		if jsonErr := json.Unmarshal([]byte(sequencesJSON), &p.Sequences); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling sequences: %w", jsonErr)
		}
	}
	if p.Sequences == nil {
		p.Sequences = []Sequence{}
	}

	return &p, nil
}

func scanRunRow(scanner rowScanner) (*Run, error) {
	var run Run
	var status, startedAt, failuresJSON string
	var completedAt sql.NullString

	err := scanner.Scan(
		&run.ID,
		&run.PlanID,
		&run.PlanName,
		&status,
		&run.TriggerSource,
		&startedAt,
		&completedAt,
		&run.RoundsCompleted,
		&run.SequencesCompleted,
		&run.ActionsDispatched,
		&run.ActionsFailed,
		&run.ActionsSkipped,
		&failuresJSON,
		&run.DurationMS,
	)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	run.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		run.CompletedAt = &t
	}

	if failuresJSON != "" && failuresJSON != "[]" {
		if jsonErr := json.Unmarshal([]byte(failuresJSON), &run.Failures); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling failures: %w", jsonErr)
		}
	}

	return &run, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

// runTimeLayout is fixed-width so that text ordering matches time ordering
// for runs started within the same second.
const runTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(runTimeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func marshalSequences(sequences []Sequence) (string, error) {
	if sequences == nil {
		sequences = []Sequence{}
	}
	data, err := json.Marshal(sequences)
	if err != nil {
		return "", fmt.Errorf("marshalling sequences: %w", err)
	}
	return string(data), nil
}

func marshalFailures(failures []ActionFailure) (string, error) {
	if len(failures) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func expectOneRow(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
