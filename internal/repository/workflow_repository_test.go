package repository

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/be-doc-approvals/internal/approval"
	"github.com/scribeworks/be-doc-approvals/internal/database"
	"github.com/scribeworks/be-doc-approvals/internal/errors"
)

// These tests run against a real database when TEST_DATABASE_URL is set,
// e.g. postgres://postgres@localhost:5432/doc_approvals_test?sslmode=disable.
// The schema is applied on connect; migrations/001_init.sql is idempotent.
func testDB(t *testing.T) *database.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := database.NewFromDSN(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(db.Close)

	schema, err := os.ReadFile("../../migrations/001_init.sql")
	require.NoError(t, err)
	_, err = db.Exec(ctx, string(schema))
	require.NoError(t, err)

	return db
}

func seedWorkflow(t *testing.T, db *database.DB, documentID string, versionID int64, status approval.WorkflowStatus) *approval.Workflow {
	t.Helper()
	wf := &approval.Workflow{
		DocumentID: documentID,
		VersionID:  versionID,
		Status:     status,
		AuthorID:   "author",
	}
	err := db.InTransaction(context.Background(), func(tx pgx.Tx) error {
		return NewWorkflowRepository(db).CreateTx(context.Background(), tx, wf)
	})
	require.NoError(t, err)
	return wf
}

func seedStep(t *testing.T, db *database.DB, wf *approval.Workflow, number int, status approval.StepStatus, p approval.Principal) *approval.Step {
	t.Helper()
	step := &approval.Step{
		WorkflowID: wf.ID,
		Number:     number,
		Principal:  p,
		Type:       approval.StepTypeOr,
		Status:     status,
	}
	err := db.InTransaction(context.Background(), func(tx pgx.Tx) error {
		return NewStepsRepository(db).CreateTx(context.Background(), tx, step)
	})
	require.NoError(t, err)
	return step
}

func TestCancelSupersededTx(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	workflows := NewWorkflowRepository(db)
	steps := NewStepsRepository(db)
	documentID := uuid.NewString()

	pendingWf := seedWorkflow(t, db, documentID, 1, approval.WorkflowPending)
	pendingStep := seedStep(t, db, pendingWf, 1, approval.StepPending, approval.Principal{Kind: approval.PrincipalUser, ID: "alice"})
	approvedStep := seedStep(t, db, pendingWf, 1, approval.StepApproved, approval.Principal{Kind: approval.PrincipalUser, ID: "bob"})
	unstartedStep := seedStep(t, db, pendingWf, 2, approval.StepUnstarted, approval.Principal{Kind: approval.PrincipalUser, ID: "carol"})

	draftWf := seedWorkflow(t, db, documentID, 2, approval.WorkflowDraft)
	releasedWf := seedWorkflow(t, db, documentID, 3, approval.WorkflowReleased)
	newerWf := seedWorkflow(t, db, documentID, 5, approval.WorkflowPending)

	var canceled []string
	err := db.InTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		canceled, err = workflows.CancelSupersededTx(ctx, tx, documentID, 4)
		return err
	})
	require.NoError(t, err)

	// In-flight workflows below the new version are canceled.
	assert.ElementsMatch(t, []string{pendingWf.ID, draftWf.ID}, canceled)

	for id, want := range map[string]approval.WorkflowStatus{
		pendingWf.ID:  approval.WorkflowCanceled,
		draftWf.ID:    approval.WorkflowCanceled,
		releasedWf.ID: approval.WorkflowReleased,
		newerWf.ID:    approval.WorkflowPending,
	} {
		got, err := workflows.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, "workflow %s", id)
	}

	// Only pending steps of the canceled workflows are touched.
	for id, want := range map[string]approval.StepStatus{
		pendingStep.ID:   approval.StepCanceled,
		approvedStep.ID:  approval.StepApproved,
		unstartedStep.ID: approval.StepUnstarted,
	} {
		got, err := steps.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, "step %s", id)
	}
}

func TestCancelSupersededTxNothingToCancel(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	workflows := NewWorkflowRepository(db)
	documentID := uuid.NewString()

	seedWorkflow(t, db, documentID, 3, approval.WorkflowReleased)

	var canceled []string
	err := db.InTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		canceled, err = workflows.CancelSupersededTx(ctx, tx, documentID, 4)
		return err
	})
	require.NoError(t, err)
	assert.Empty(t, canceled)
}

func TestCreateTxDuplicateDocumentVersionIsConflict(t *testing.T) {
	db := testDB(t)
	workflows := NewWorkflowRepository(db)
	documentID := uuid.NewString()

	seedWorkflow(t, db, documentID, 1, approval.WorkflowPending)

	dup := &approval.Workflow{
		DocumentID: documentID,
		VersionID:  1,
		Status:     approval.WorkflowPending,
		AuthorID:   "author",
	}
	err := db.InTransaction(context.Background(), func(tx pgx.Tx) error {
		return workflows.CreateTx(context.Background(), tx, dup)
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestStepWritesDuplicatePrincipalIsConflict(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	steps := NewStepsRepository(db)

	wf := seedWorkflow(t, db, uuid.NewString(), 1, approval.WorkflowPending)
	alice := approval.Principal{Kind: approval.PrincipalUser, ID: "alice"}
	seedStep(t, db, wf, 1, approval.StepPending, alice)
	bobStep := seedStep(t, db, wf, 2, approval.StepPending, approval.Principal{Kind: approval.PrincipalUser, ID: "bob"})

	dup := &approval.Step{
		WorkflowID: wf.ID,
		Number:     3,
		Principal:  alice,
		Type:       approval.StepTypeOr,
		Status:     approval.StepUnstarted,
	}
	err := db.InTransaction(ctx, func(tx pgx.Tx) error {
		return steps.CreateTx(ctx, tx, dup)
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))

	note := "take over"
	err = db.InTransaction(ctx, func(tx pgx.Tx) error {
		return steps.ReassignTx(ctx, tx, bobStep.ID, alice, &note)
	})
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeConflict, errors.Code(err))
}

func TestFirstPendingForActor(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	steps := NewStepsRepository(db)

	wf := seedWorkflow(t, db, uuid.NewString(), 1, approval.WorkflowPending)
	groupA := seedStep(t, db, wf, 1, approval.StepPending, approval.Principal{Kind: approval.PrincipalGroup, ID: "team-a"})
	groupB := seedStep(t, db, wf, 2, approval.StepPending, approval.Principal{Kind: approval.PrincipalGroup, ID: "team-b"})
	direct := seedStep(t, db, wf, 3, approval.StepPending, approval.Principal{Kind: approval.PrincipalUser, ID: "alice"})

	// Direct assignments win even over lower-numbered group steps.
	got, err := steps.FirstPendingForActor(ctx, wf.ID, "alice", []string{"team-a", "team-b"}, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, direct.ID, got.ID)

	// Group-held steps come back lowest step number first.
	got, err = steps.FirstPendingForActor(ctx, wf.ID, "bob", []string{"team-b", "team-a"}, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, groupA.ID, got.ID)

	// The optional step filter narrows the search.
	got, err = steps.FirstPendingForActor(ctx, wf.ID, "bob", []string{"team-b", "team-a"}, &groupB.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, groupB.ID, got.ID)

	// Nothing actionable.
	got, err = steps.FirstPendingForActor(ctx, wf.ID, "carol", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}
