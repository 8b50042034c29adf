package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/scribeworks/be-doc-approvals/internal/approval"
	"github.com/scribeworks/be-doc-approvals/internal/database"
	"github.com/scribeworks/be-doc-approvals/internal/errors"
)

// StatusHistoryRepository appends and reads the append-only workflow status
// trail. It is an audit surface only; the advancement algorithm never reads
// it.
type StatusHistoryRepository struct {
	db *database.DB
}

// NewStatusHistoryRepository creates a new StatusHistoryRepository.
func NewStatusHistoryRepository(db *database.DB) *StatusHistoryRepository {
	return &StatusHistoryRepository{db: db}
}

// AppendTx inserts one history entry inside the caller's transaction.
func (r *StatusHistoryRepository) AppendTx(ctx context.Context, tx pgx.Tx, entry *approval.StatusEntry) error {
	query := `
		INSERT INTO approval_status_history (workflow_id, status, author_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	err := tx.QueryRow(ctx, query,
		entry.WorkflowID,
		int(entry.Status),
		entry.AuthorID,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append status history")
	}
	return nil
}

// GetByWorkflowID returns the full status trail for a workflow, oldest first.
func (r *StatusHistoryRepository) GetByWorkflowID(ctx context.Context, workflowID string) ([]*approval.StatusEntry, error) {
	query := `
		SELECT id, workflow_id, status, author_id, created_at
		FROM approval_status_history
		WHERE workflow_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get status history")
	}
	defer rows.Close()

	var entries []*approval.StatusEntry
	for rows.Next() {
		entry := &approval.StatusEntry{}
		var status int
		err := rows.Scan(&entry.ID, &entry.WorkflowID, &status, &entry.AuthorID, &entry.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan status history entry")
		}
		entry.Status = approval.WorkflowStatus(status)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read status history")
	}
	return entries, nil
}
