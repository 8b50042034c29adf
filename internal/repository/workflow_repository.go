package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/scribeworks/be-doc-approvals/internal/approval"
	"github.com/scribeworks/be-doc-approvals/internal/database"
	"github.com/scribeworks/be-doc-approvals/internal/errors"
)

const workflowColumns = `id, document_id, version_id, author_id, status, note, created_at, updated_at`

// WorkflowRepository persists approval workflows. All mutations that must be
// observed together run through the Tx variants inside one transaction.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// CreateTx inserts a workflow. Uniqueness of (document_id, version_id) is
// enforced by the storage layer.
func (r *WorkflowRepository) CreateTx(ctx context.Context, tx pgx.Tx, wf *approval.Workflow) error {
	query := `
		INSERT INTO approval_workflows (document_id, version_id, author_id, status, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := tx.QueryRow(ctx, query,
		wf.DocumentID,
		wf.VersionID,
		wf.AuthorID,
		int(wf.Status),
		wf.Note,
	).Scan(&wf.ID, &wf.CreatedAt, &wf.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.Newf(errors.ErrCodeConflict, "workflow already exists for document %s version %d", wf.DocumentID, wf.VersionID)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval workflow")
	}
	return nil
}

// GetByID retrieves a workflow by its primary key.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*approval.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE id = $1`

	wf, err := scanWorkflow(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_workflow", id)
	}
	return wf, err
}

// GetByDocumentVersion returns the workflow for one document version, or nil
// when none exists yet.
func (r *WorkflowRepository) GetByDocumentVersion(ctx context.Context, documentID string, versionID int64) (*approval.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM approval_workflows
		WHERE document_id = $1 AND version_id = $2
	`

	wf, err := scanWorkflow(r.db.QueryRow(ctx, query, documentID, versionID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

// LockByID loads a workflow under FOR UPDATE. The workflow row lock is the
// serialization point for everything touching its steps.
func (r *WorkflowRepository) LockByID(ctx context.Context, tx pgx.Tx, id string) (*approval.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM approval_workflows WHERE id = $1 FOR UPDATE`

	wf, err := scanWorkflow(tx.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_workflow", id)
	}
	return wf, err
}

// LockByDocumentVersion loads the workflow for a document version under
// FOR UPDATE, or nil when none exists.
func (r *WorkflowRepository) LockByDocumentVersion(ctx context.Context, tx pgx.Tx, documentID string, versionID int64) (*approval.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM approval_workflows
		WHERE document_id = $1 AND version_id = $2
		FOR UPDATE
	`

	wf, err := scanWorkflow(tx.QueryRow(ctx, query, documentID, versionID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

// UpdateStatusTx sets the workflow status.
func (r *WorkflowRepository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id string, status approval.WorkflowStatus) error {
	query := `
		UPDATE approval_workflows
		SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, int(status)).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_workflow", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update workflow status")
	}
	return nil
}

// UpdateNoteTx sets the workflow note and author.
func (r *WorkflowRepository) UpdateNoteTx(ctx context.Context, tx pgx.Tx, id string, note *string, authorID string) error {
	query := `
		UPDATE approval_workflows
		SET note = $2, author_id = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := tx.QueryRow(ctx, query, id, note, authorID).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("approval_workflow", id)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update workflow note")
	}
	return nil
}

// CancelSupersededTx cancels all in-flight (draft or pending) workflows for
// the document at versions below the given one, together with their pending
// steps. Direct bulk updates on purpose: superseded rows must not re-enter
// the advancement algorithm.
func (r *WorkflowRepository) CancelSupersededTx(ctx context.Context, tx pgx.Tx, documentID string, versionID int64) ([]string, error) {
	query := `
		UPDATE approval_workflows
		SET status = $3, updated_at = NOW()
		WHERE document_id = $1
		  AND version_id < $2
		  AND status IN ($4, $5)
		RETURNING id
	`

	rows, err := tx.Query(ctx, query,
		documentID,
		versionID,
		int(approval.WorkflowCanceled),
		int(approval.WorkflowDraft),
		int(approval.WorkflowPending),
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to cancel superseded workflows")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan superseded workflow id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to cancel superseded workflows")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	stepQuery := `
		UPDATE approval_steps
		SET status = $2, updated_at = NOW()
		WHERE workflow_id = ANY($1)
		  AND status = $3
	`

	_, err = tx.Exec(ctx, stepQuery, ids, int(approval.StepCanceled), int(approval.StepPending))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to cancel superseded steps")
	}
	return ids, nil
}

// LatestReleasedByDocument returns the most recent released workflow for a
// document, or nil. Used as the step-group template for new versions.
func (r *WorkflowRepository) LatestReleasedByDocument(ctx context.Context, documentID string) (*approval.Workflow, error) {
	query := `
		SELECT ` + workflowColumns + `
		FROM approval_workflows
		WHERE document_id = $1 AND status = $2
		ORDER BY version_id DESC
		LIMIT 1
	`

	wf, err := scanWorkflow(r.db.QueryRow(ctx, query, documentID, int(approval.WorkflowReleased)))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return wf, err
}

// ── scan helper ───────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505). Concurrent writers racing past an
// application-level check land here; callers map it to a conflict.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func scanWorkflow(row rowScanner) (*approval.Workflow, error) {
	wf := &approval.Workflow{}
	var status int
	err := row.Scan(
		&wf.ID,
		&wf.DocumentID,
		&wf.VersionID,
		&wf.AuthorID,
		&status,
		&wf.Note,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	wf.Status = approval.WorkflowStatus(status)
	return wf, nil
}
