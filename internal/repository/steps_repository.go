package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/scribeworks/be-doc-approvals/internal/approval"
	"github.com/scribeworks/be-doc-approvals/internal/database"
	"github.com/scribeworks/be-doc-approvals/internal/errors"
)

const stepColumns = `id, workflow_id, step_number, principal_kind, principal_id, step_type, status, note, created_at, updated_at`

// StepsRepository persists individual approval steps. Status mutations on
// live workflows always go through the advancement algorithm; only
// supersession (WorkflowRepository.CancelSupersededTx) bypasses it.
type StepsRepository struct {
	db *database.DB
}

// NewStepsRepository creates a new StepsRepository.
func NewStepsRepository(db *database.DB) *StepsRepository {
	return &StepsRepository{db: db}
}

// GetByID retrieves a step by its primary key.
func (r *StepsRepository) GetByID(ctx context.Context, id string) (*approval.Step, error) {
	query := `SELECT ` + stepColumns + ` FROM approval_steps WHERE id = $1`

	step, err := scanStep(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_step", id)
	}
	return step, err
}

// GetByWorkflowID returns all steps of a workflow ordered by step number.
func (r *StepsRepository) GetByWorkflowID(ctx context.Context, workflowID string) ([]*approval.Step, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM approval_steps
		WHERE workflow_id = $1
		ORDER BY step_number ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	return scanStepRows(rows)
}

// LockByWorkflowIDTx loads all steps of a workflow under FOR UPDATE, in
// ascending step order. Combined with the workflow row lock this makes the
// read-then-bulk-update of the advancement algorithm race-free.
func (r *StepsRepository) LockByWorkflowIDTx(ctx context.Context, tx pgx.Tx, workflowID string) ([]*approval.Step, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM approval_steps
		WHERE workflow_id = $1
		ORDER BY step_number ASC, id ASC
		FOR UPDATE
	`

	rows, err := tx.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock approval steps")
	}
	defer rows.Close()

	return scanStepRows(rows)
}

// CreateTx inserts a step.
func (r *StepsRepository) CreateTx(ctx context.Context, tx pgx.Tx, step *approval.Step) error {
	query := `
		INSERT INTO approval_steps
		    (workflow_id, step_number, principal_kind, principal_id, step_type, status, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		step.WorkflowID,
		step.Number,
		string(step.Principal.Kind),
		step.Principal.ID,
		int(step.Type),
		int(step.Status),
		step.Note,
	).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.New(errors.ErrCodeConflict, "principal already holds a step in this workflow")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
	}
	return nil
}

// DeleteTx removes steps by id. Used when an editor resubmits step-group
// membership before any approval occurs.
func (r *StepsRepository) DeleteTx(ctx context.Context, tx pgx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := tx.Exec(ctx, `DELETE FROM approval_steps WHERE id = ANY($1)`, ids)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete approval steps")
	}
	return nil
}

// UpdateStatusTx sets a single step's status.
func (r *StepsRepository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id string, status approval.StepStatus) error {
	query := `
		UPDATE approval_steps
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, int(status)).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_step", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update step status")
	}
	return nil
}

// UpdateResolutionTx records an approve/reject action: status plus note.
func (r *StepsRepository) UpdateResolutionTx(ctx context.Context, tx pgx.Tx, id string, status approval.StepStatus, note *string) error {
	query := `
		UPDATE approval_steps
		SET status = $2, note = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, int(status), note).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_step", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record step resolution")
	}
	return nil
}

// UpdatePlanTx applies a planned edit: status and gating type.
func (r *StepsRepository) UpdatePlanTx(ctx context.Context, tx pgx.Tx, id string, status approval.StepStatus, stepType approval.StepType) error {
	query := `
		UPDATE approval_steps
		SET status = $2, step_type = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, int(status), int(stepType)).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_step", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update step plan")
	}
	return nil
}

// ReassignTx forwards a step to another principal, keeping status and step
// number unchanged.
func (r *StepsRepository) ReassignTx(ctx context.Context, tx pgx.Tx, id string, p approval.Principal, note *string) error {
	query := `
		UPDATE approval_steps
		SET principal_kind = $2, principal_id = $3, note = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, string(p.Kind), p.ID, note).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_step", id)
	}
	if isUniqueViolation(err) {
		return errors.New(errors.ErrCodeConflict, "principal already holds a step in this workflow")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to reassign step")
	}
	return nil
}

// ExistsForPrincipal reports whether a principal already holds a step in the
// workflow. Enforces the one-assignment-per-identity invariant on forwards.
func (r *StepsRepository) ExistsForPrincipal(ctx context.Context, workflowID string, p approval.Principal) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM approval_steps
			WHERE workflow_id = $1 AND principal_kind = $2 AND principal_id = $3
		)
	`

	var exists bool
	err := r.db.QueryRow(ctx, query, workflowID, string(p.Kind), p.ID).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeInternal, "failed to check step assignment")
	}
	return exists, nil
}

// FirstPendingForActor returns the first actionable pending step for an
// actor: steps assigned to the user directly win, then steps assigned to any
// of the user's groups, both lowest step number first. Returns nil when
// nothing is actionable. stepID optionally narrows the search.
func (r *StepsRepository) FirstPendingForActor(ctx context.Context, workflowID, userID string, groupIDs []string, stepID *string) (*approval.Step, error) {
	direct := `
		SELECT ` + stepColumns + `
		FROM approval_steps
		WHERE workflow_id = $1
		  AND status = $2
		  AND principal_kind = 'user'
		  AND principal_id = $3
		  AND ($4::uuid IS NULL OR id = $4)
		ORDER BY step_number ASC, id ASC
		LIMIT 1
	`

	step, err := scanStep(r.db.QueryRow(ctx, direct, workflowID, int(approval.StepPending), userID, stepID))
	if err == nil {
		return step, nil
	}
	if err != pgx.ErrNoRows {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to query actionable step")
	}

	if len(groupIDs) == 0 {
		return nil, nil
	}

	viaGroups := `
		SELECT ` + stepColumns + `
		FROM approval_steps
		WHERE workflow_id = $1
		  AND status = $2
		  AND principal_kind = 'group'
		  AND principal_id = ANY($3)
		  AND ($4::uuid IS NULL OR id = $4)
		ORDER BY step_number ASC, id ASC
		LIMIT 1
	`

	step, err = scanStep(r.db.QueryRow(ctx, viaGroups, workflowID, int(approval.StepPending), groupIDs, stepID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to query actionable step")
	}
	return step, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanStep(row rowScanner) (*approval.Step, error) {
	s := &approval.Step{}
	var kind string
	var stepType, status int
	err := row.Scan(
		&s.ID,
		&s.WorkflowID,
		&s.Number,
		&kind,
		&s.Principal.ID,
		&stepType,
		&status,
		&s.Note,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Principal.Kind = approval.PrincipalKind(kind)
	s.Type = approval.StepType(stepType)
	s.Status = approval.StepStatus(status)
	return s, nil
}

func scanStepRows(rows pgx.Rows) ([]*approval.Step, error) {
	var steps []*approval.Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read approval steps")
	}
	return steps, nil
}
