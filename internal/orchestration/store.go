package orchestration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/draftforge/revit-design-orchestrator/internal/models"
)

// RunStore persists design runs across their lifecycle.
type RunStore interface {
	CreateRun(ctx context.Context, run *models.RunResult, userID uuid.UUID) error
	MarkProcessing(ctx context.Context, runID string) error
	FinishRun(ctx context.Context, run *models.RunResult) error
	GetRun(ctx context.Context, runID string) (*models.RunResult, error)
	ListRuns(ctx context.Context, limit int) ([]*models.RunResult, error)
}

// PostgresRunStore stores runs in the design_runs table.
type PostgresRunStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRunStore creates a store backed by pool.
func NewPostgresRunStore(pool *pgxpool.Pool) *PostgresRunStore {
	return &PostgresRunStore{pool: pool}
}

// CreateRun inserts a new run in pending status.
func (s *PostgresRunStore) CreateRun(ctx context.Context, run *models.RunResult, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO design_runs (id, prompt, status, created_by_user_id, started_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		run.RunID, run.Prompt, string(run.Status), userID, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create design run: %w", err)
	}
	return nil
}

// MarkProcessing transitions a pending run to processing.
func (s *PostgresRunStore) MarkProcessing(ctx context.Context, runID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	currentStatus, err := s.lockRunForUpdate(ctx, tx, runID)
	if err != nil {
		return err
	}
	if err := validateRunTransition(currentStatus, models.RunStatusProcessing); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE design_runs SET status = $1 WHERE id = $2`,
		string(models.RunStatusProcessing), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FinishRun records the terminal status and the run artifacts.
func (s *PostgresRunStore) FinishRun(ctx context.Context, run *models.RunResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	currentStatus, err := s.lockRunForUpdate(ctx, tx, run.RunID)
	if err != nil {
		return err
	}
	if err := validateRunTransition(currentStatus, run.Status); err != nil {
		return err
	}

	brief, err := jsonbOrNull(run.Brief)
	if err != nil {
		return err
	}
	plan, err := jsonbOrNull(run.Plan)
	if err != nil {
		return err
	}
	compliance, err := jsonbOrNull(run.Compliance)
	if err != nil {
		return err
	}
	report, err := jsonbOrNull(run.Report)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE design_runs
		SET status = $1, brief = $2, plan = $3, compliance = $4, report = $5,
		    error_message = $6, finished_at = $7
		WHERE id = $8
	`, string(run.Status), brief, plan, compliance, report, run.Error, run.FinishedAt, run.RunID)
	if err != nil {
		return fmt.Errorf("failed to finish design run: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRun retrieves one run by ID.
func (s *PostgresRunStore) GetRun(ctx context.Context, runID string) (*models.RunResult, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, prompt, status, brief, plan, compliance, report,
		       COALESCE(error_message, ''), started_at, finished_at
		FROM design_runs
		WHERE id = $1
	`, runID)

	run, err := scanRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("design run not found")
		}
		return nil, fmt.Errorf("failed to get design run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *PostgresRunStore) ListRuns(ctx context.Context, limit int) ([]*models.RunResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, prompt, status, brief, plan, compliance, report,
		       COALESCE(error_message, ''), started_at, finished_at
		FROM design_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query design runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.RunResult
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan design run: %w", err)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating design runs: %w", err)
	}
	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.RunResult, error) {
	var run models.RunResult
	var status string
	var brief, plan, compliance, report []byte

	err := row.Scan(
		&run.RunID, &run.Prompt, &status,
		&brief, &plan, &compliance, &report,
		&run.Error, &run.StartedAt, &run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = models.RunStatus(status)

	if err := unmarshalInto(brief, &run.Brief); err != nil {
		return nil, err
	}
	if err := unmarshalInto(plan, &run.Plan); err != nil {
		return nil, err
	}
	if err := unmarshalInto(compliance, &run.Compliance); err != nil {
		return nil, err
	}
	if err := unmarshalInto(report, &run.Report); err != nil {
		return nil, err
	}
	return &run, nil
}

func jsonbOrNull(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case *models.DesignBrief:
		if t == nil {
			return nil, nil
		}
	case *models.DesignPlan:
		if t == nil {
			return nil, nil
		}
	case *models.ComplianceResult:
		if t == nil {
			return nil, nil
		}
	case *models.RunReport:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run artifact: %w", err)
	}
	return data, nil
}

func unmarshalInto(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal run artifact: %w", err)
	}
	return nil
}

// lockRunForUpdate locks a run row to prevent concurrent status changes.
func (s *PostgresRunStore) lockRunForUpdate(ctx context.Context, tx pgx.Tx, runID string) (models.RunStatus, error) {
	var status string
	err := tx.QueryRow(ctx, `
		SELECT status FROM design_runs
		WHERE id = $1
		FOR UPDATE
	`, runID).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("design run not found or locked")
	}
	return models.RunStatus(status), nil
}

// validateRunTransition checks a status change against the run
// lifecycle. Terminal statuses admit no further transitions.
func validateRunTransition(currentStatus, newStatus models.RunStatus) error {
	validTransitions := map[models.RunStatus][]models.RunStatus{
		models.RunStatusPending:              {models.RunStatusProcessing, models.RunStatusError},
		models.RunStatusProcessing:           {models.RunStatusCompleted, models.RunStatusRequiresModification, models.RunStatusError, models.RunStatusErrorRevit},
		models.RunStatusCompleted:            {},
		models.RunStatusRequiresModification: {},
		models.RunStatusError:                {},
		models.RunStatusErrorRevit:           {},
	}

	allowedNext, exists := validTransitions[currentStatus]
	if !exists {
		return fmt.Errorf("invalid current status: %s", currentStatus)
	}
	for _, allowed := range allowedNext {
		if allowed == newStatus {
			return nil
		}
	}
	return fmt.Errorf("invalid status transition from %s to %s", currentStatus, newStatus)
}
