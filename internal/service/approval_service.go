package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/scribeworks/be-doc-approvals/internal/approval"
	"github.com/scribeworks/be-doc-approvals/internal/database"
	"github.com/scribeworks/be-doc-approvals/internal/errors"
	"github.com/scribeworks/be-doc-approvals/internal/logger"
	"github.com/scribeworks/be-doc-approvals/internal/repository"
)

// Event types published to the notification service.
const (
	EventStateChanged  = "approval_state_changed"
	EventStepActivated = "approval_step_activated"
)

// DirectoryClientInterface resolves principals via the platform directory.
type DirectoryClientInterface interface {
	// ExpandPrincipal resolves a principal to concrete user IDs.
	ExpandPrincipal(ctx context.Context, p approval.Principal) ([]string, error)
	// GetUserGroups returns the group IDs a user belongs to.
	GetUserGroups(ctx context.Context, userID string) ([]string, error)
	// PrincipalExists reports whether the directory knows the principal.
	PrincipalExists(ctx context.Context, p approval.Principal) (bool, error)
}

// NotificationSink delivers approval events. Implementations must be
// fire-and-forget: the service never blocks on delivery and never receives
// a delivery result.
type NotificationSink interface {
	PublishApprovalEvent(ctx context.Context, eventType string, wf *approval.Workflow, actorID string, recipients []string, payload map[string]any)
}

// ApprovalService orchestrates the approval workflow engine. Every mutation
// of a workflow and its steps runs inside one transaction holding the
// workflow's row locks; notification intents collected during the
// transaction are dispatched only after it commits.
type ApprovalService struct {
	db           *database.DB
	workflowRepo *repository.WorkflowRepository
	stepsRepo    *repository.StepsRepository
	historyRepo  *repository.StatusHistoryRepository
	directory    DirectoryClientInterface
	notifier     NotificationSink
	log          *logger.Logger
}

// NewApprovalService creates a new ApprovalService.
func NewApprovalService(
	db *database.DB,
	workflowRepo *repository.WorkflowRepository,
	stepsRepo *repository.StepsRepository,
	historyRepo *repository.StatusHistoryRepository,
	directory DirectoryClientInterface,
	notifier NotificationSink,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		db:           db,
		workflowRepo: workflowRepo,
		stepsRepo:    stepsRepo,
		historyRepo:  historyRepo,
		directory:    directory,
		notifier:     notifier,
		log:          log,
	}
}

// ── Start / define workflow ───────────────────────────────────────────────────

// StartWorkflowRequest defines (or redefines) the step groups of a document
// version's workflow.
type StartWorkflowRequest struct {
	DocumentID string
	VersionID  int64
	ActorID    string
	Note       string
	Groups     []approval.GroupSubmission
}

// StartWorkflow creates the workflow for a document version on first use —
// superseding older in-flight workflows of the same document — and applies
// the submitted step groups. Resubmitting while the workflow is not yet
// released edits the un-approved step groups in place.
func (s *ApprovalService) StartWorkflow(ctx context.Context, req *StartWorkflowRequest) (*approval.Workflow, []*approval.Step, error) {
	if req.DocumentID == "" || req.VersionID < 1 {
		return nil, nil, errors.InvalidInput("document", "document id and a positive version id are required")
	}
	if req.ActorID == "" {
		return nil, nil, errors.InvalidInput("actor_id", "acting principal is required")
	}
	if err := approval.ValidateNote(req.Note); err != nil {
		return nil, nil, errors.InvalidInput("note", err.Error())
	}
	if err := approval.ValidateSubmission(req.Groups); err != nil {
		return nil, nil, errors.InvalidInput("steps", err.Error())
	}
	for _, g := range req.Groups {
		for _, p := range g.Principals {
			known, err := s.directory.PrincipalExists(ctx, p)
			if err != nil {
				return nil, nil, err
			}
			if !known {
				return nil, nil, errors.InvalidInput("steps", fmt.Sprintf("unknown principal %s", p))
			}
		}
	}

	var note *string
	if req.Note != "" {
		note = &req.Note
	}

	ob := newOutbox(req.ActorID)
	var (
		wf    *approval.Workflow
		steps []*approval.Step
	)

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		wf, err = s.workflowRepo.LockByDocumentVersion(ctx, tx, req.DocumentID, req.VersionID)
		if err != nil {
			return err
		}

		created := false
		statusBefore := approval.WorkflowStatus(0)
		if wf == nil {
			wf = &approval.Workflow{
				DocumentID: req.DocumentID,
				VersionID:  req.VersionID,
				Status:     approval.WorkflowPending,
				Note:       note,
				AuthorID:   req.ActorID,
			}
			if err := s.workflowRepo.CreateTx(ctx, tx, wf); err != nil {
				return err
			}
			created = true

			// Only the newest version's workflow may keep progressing.
			superseded, err := s.workflowRepo.CancelSupersededTx(ctx, tx, req.DocumentID, req.VersionID)
			if err != nil {
				return err
			}
			if len(superseded) > 0 {
				s.log.Info().
					Str("document_id", req.DocumentID).
					Int64("version_id", req.VersionID).
					Int("count", len(superseded)).
					Msg("Superseded older workflows canceled")
			}
		} else {
			if wf.Status == approval.WorkflowReleased {
				return errors.Newf(errors.ErrCodeConflict, "workflow is already %s", wf.Status)
			}
			statusBefore = wf.Status
			if err := s.workflowRepo.UpdateNoteTx(ctx, tx, wf.ID, note, req.ActorID); err != nil {
				return err
			}
			wf.Note = note
			wf.AuthorID = req.ActorID
		}

		steps, err = s.stepsRepo.LockByWorkflowIDTx(ctx, tx, wf.ID)
		if err != nil {
			return err
		}

		plan, err := approval.PlanSteps(steps, req.Groups)
		if err != nil {
			return errors.InvalidInput("steps", err.Error())
		}

		if err := s.stepsRepo.DeleteTx(ctx, tx, plan.DeleteIDs); err != nil {
			return err
		}
		steps = dropSteps(steps, plan.DeleteIDs)

		mutated := make([]*approval.Step, 0, len(plan.Updates)+len(plan.Creates))
		for _, u := range plan.Updates {
			if err := s.stepsRepo.UpdatePlanTx(ctx, tx, u.Step.ID, u.Status, u.Type); err != nil {
				return err
			}
			u.Step.Status = u.Status
			u.Step.Type = u.Type
			if u.Status == approval.StepUnstarted {
				mutated = append(mutated, u.Step)
			}
		}
		for _, c := range plan.Creates {
			c.WorkflowID = wf.ID
			if err := s.stepsRepo.CreateTx(ctx, tx, c); err != nil {
				return err
			}
			steps = append(steps, c)
			mutated = append(mutated, c)
		}
		sortSteps(steps)
		sortSteps(mutated)

		// One advancement pass per mutated step, in ascending step order,
		// exactly as if each row change had been committed on its own.
		for _, m := range mutated {
			if err := s.applyOutcome(ctx, tx, wf, approval.Advance(wf, steps, m), ob); err != nil {
				return err
			}
		}

		// Editing can settle a workflow without any approved transition,
		// e.g. when the last open step is removed from its group.
		if wf.Status != approval.WorkflowReleased && wf.Status != approval.WorkflowRejected && approval.Settled(steps) {
			released := approval.WorkflowReleased
			wf.Status = released
			if err := s.applyOutcome(ctx, tx, wf, approval.Outcome{
				WorkflowStatus: &released,
				Notifications:  []approval.Notification{{Kind: approval.NotificationStateChanged}},
			}, ob); err != nil {
				return err
			}
		}

		if created || statusBefore != wf.Status {
			if err := s.appendHistory(ctx, tx, wf, req.ActorID); err != nil {
				return err
			}
		}

		ob.arm(wf, steps)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.flushOutbox(ctx, ob)

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("document_id", wf.DocumentID).
		Int64("version_id", wf.VersionID).
		Str("status", wf.Status.String()).
		Int("steps", len(steps)).
		Msg("Approval workflow defined")

	return wf, steps, nil
}

// ── Resolve step ──────────────────────────────────────────────────────────────

// ResolveStepRequest records an approver's decision on one step.
type ResolveStepRequest struct {
	StepID  string
	Status  approval.StepStatus // StepApproved or StepRejected
	Note    string
	ActorID string
}

// ResolveStep approves or rejects a pending step and runs the advancement
// algorithm inside the same transaction.
func (s *ApprovalService) ResolveStep(ctx context.Context, req *ResolveStepRequest) (*approval.Step, error) {
	if req.StepID == "" {
		return nil, errors.InvalidInput("step_id", "step id is required")
	}
	if req.ActorID == "" {
		return nil, errors.InvalidInput("actor_id", "acting principal is required")
	}
	if req.Status != approval.StepApproved && req.Status != approval.StepRejected {
		return nil, errors.InvalidInput("status", "must be approved or rejected")
	}
	if req.Status == approval.StepRejected && strings.TrimSpace(req.Note) == "" {
		return nil, errors.InvalidInput("note", "a note is required when rejecting")
	}
	if err := approval.ValidateNote(req.Note); err != nil {
		return nil, errors.InvalidInput("note", err.Error())
	}

	// Fast-fail on obvious capability misses; the authoritative check runs
	// again inside the transaction against the locked row.
	step, err := s.stepsRepo.GetByID(ctx, req.StepID)
	if err != nil {
		return nil, err
	}
	if err := s.assertCanAct(ctx, step, req.ActorID); err != nil {
		return nil, err
	}

	var note *string
	if req.Note != "" {
		note = &req.Note
	}

	ob := newOutbox(req.ActorID)
	var resolved *approval.Step

	err = s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		wf, err := s.workflowRepo.LockByID(ctx, tx, step.WorkflowID)
		if err != nil {
			return err
		}
		if wf.Status == approval.WorkflowReleased {
			return errors.Newf(errors.ErrCodeConflict, "workflow is already %s", wf.Status)
		}

		steps, err := s.stepsRepo.LockByWorkflowIDTx(ctx, tx, wf.ID)
		if err != nil {
			return err
		}
		changed := findStep(steps, req.StepID)
		if changed == nil {
			return errors.NotFound("approval_step", req.StepID)
		}
		if changed.Status != approval.StepPending {
			return errors.Newf(errors.ErrCodeConflict, "step %d is not pending (status: %s)", changed.Number, changed.Status)
		}
		// A concurrent forward may have moved the step between the
		// pre-transaction check and the row lock.
		if err := s.assertCanAct(ctx, changed, req.ActorID); err != nil {
			return err
		}

		if err := s.stepsRepo.UpdateResolutionTx(ctx, tx, changed.ID, req.Status, note); err != nil {
			return err
		}
		changed.Status = req.Status
		changed.Note = note

		statusBefore := wf.Status
		if err := s.applyOutcome(ctx, tx, wf, approval.Advance(wf, steps, changed), ob); err != nil {
			return err
		}
		if wf.Status != statusBefore {
			if err := s.appendHistory(ctx, tx, wf, req.ActorID); err != nil {
				return err
			}
		}

		ob.arm(wf, steps)
		resolved = changed
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.flushOutbox(ctx, ob)

	s.log.Info().
		Str("step_id", resolved.ID).
		Str("workflow_id", resolved.WorkflowID).
		Int("step_number", resolved.Number).
		Str("status", resolved.Status.String()).
		Str("actor_id", req.ActorID).
		Msg("Approval step resolved")

	return resolved, nil
}

// ── Reassign step ─────────────────────────────────────────────────────────────

// ReassignStepRequest forwards a pending step to another principal.
type ReassignStepRequest struct {
	StepID    string
	Principal approval.Principal
	Note      string
	ActorID   string
}

// ReassignStep hands a pending step to a different principal, keeping its
// status and step number unchanged.
func (s *ApprovalService) ReassignStep(ctx context.Context, req *ReassignStepRequest) (*approval.Step, error) {
	if req.StepID == "" {
		return nil, errors.InvalidInput("step_id", "step id is required")
	}
	if req.ActorID == "" {
		return nil, errors.InvalidInput("actor_id", "acting principal is required")
	}
	if strings.TrimSpace(req.Note) == "" {
		return nil, errors.InvalidInput("note", "a note is required when forwarding")
	}
	if err := approval.ValidateNote(req.Note); err != nil {
		return nil, errors.InvalidInput("note", err.Error())
	}
	if !req.Principal.Valid() {
		return nil, errors.InvalidInput("principal", "a valid target principal is required")
	}
	known, err := s.directory.PrincipalExists(ctx, req.Principal)
	if err != nil {
		return nil, err
	}
	if !known {
		return nil, errors.InvalidInput("principal", fmt.Sprintf("unknown principal %s", req.Principal))
	}

	// Fast-fail checks; both are re-evaluated against the locked rows
	// inside the transaction.
	step, err := s.stepsRepo.GetByID(ctx, req.StepID)
	if err != nil {
		return nil, err
	}
	if err := s.assertCanAct(ctx, step, req.ActorID); err != nil {
		return nil, err
	}
	held, err := s.stepsRepo.ExistsForPrincipal(ctx, step.WorkflowID, req.Principal)
	if err != nil {
		return nil, err
	}
	if held {
		return nil, errors.InvalidInput("principal", "principal already holds a step in this workflow")
	}

	note := req.Note
	var reassigned *approval.Step

	err = s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		wf, err := s.workflowRepo.LockByID(ctx, tx, step.WorkflowID)
		if err != nil {
			return err
		}

		steps, err := s.stepsRepo.LockByWorkflowIDTx(ctx, tx, wf.ID)
		if err != nil {
			return err
		}
		changed := findStep(steps, req.StepID)
		if changed == nil {
			return errors.NotFound("approval_step", req.StepID)
		}
		if changed.Status != approval.StepPending {
			return errors.Newf(errors.ErrCodeConflict, "step %d is not pending (status: %s)", changed.Number, changed.Status)
		}
		// A concurrent forward may have moved the step or claimed the
		// target principal since the pre-transaction checks. The unique
		// constraint on (workflow, principal) remains the final arbiter.
		if err := s.assertCanAct(ctx, changed, req.ActorID); err != nil {
			return err
		}
		// One step assignment per identity per workflow.
		if principalHeld(steps, req.Principal) {
			return errors.InvalidInput("principal", "principal already holds a step in this workflow")
		}

		if err := s.stepsRepo.ReassignTx(ctx, tx, changed.ID, req.Principal, &note); err != nil {
			return err
		}
		changed.Principal = req.Principal
		changed.Note = &note
		reassigned = changed
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("step_id", reassigned.ID).
		Str("workflow_id", reassigned.WorkflowID).
		Str("principal", reassigned.Principal.String()).
		Str("actor_id", req.ActorID).
		Msg("Approval step forwarded")

	return reassigned, nil
}

// ── Implicit draft/publish path ───────────────────────────────────────────────

// SetVersionStatusRequest marks a document version as draft or published,
// creating its workflow implicitly when none exists.
type SetVersionStatusRequest struct {
	DocumentID string
	VersionID  int64
	Status     approval.WorkflowStatus // WorkflowDraft or WorkflowPublished
	ActorID    string
}

// SetVersionStatus records a draft/publish action on a document version.
// Creation runs the supersession rule like any other workflow creation.
func (s *ApprovalService) SetVersionStatus(ctx context.Context, req *SetVersionStatusRequest) (*approval.Workflow, error) {
	if req.DocumentID == "" || req.VersionID < 1 {
		return nil, errors.InvalidInput("document", "document id and a positive version id are required")
	}
	if req.ActorID == "" {
		return nil, errors.InvalidInput("actor_id", "acting principal is required")
	}
	if req.Status != approval.WorkflowDraft && req.Status != approval.WorkflowPublished {
		return nil, errors.InvalidInput("status", "must be draft or published")
	}

	ob := newOutbox(req.ActorID)
	var wf *approval.Workflow

	err := s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var err error
		wf, err = s.workflowRepo.LockByDocumentVersion(ctx, tx, req.DocumentID, req.VersionID)
		if err != nil {
			return err
		}

		created := false
		statusBefore := approval.WorkflowStatus(0)
		if wf == nil {
			wf = &approval.Workflow{
				DocumentID: req.DocumentID,
				VersionID:  req.VersionID,
				Status:     req.Status,
				AuthorID:   req.ActorID,
			}
			if err := s.workflowRepo.CreateTx(ctx, tx, wf); err != nil {
				return err
			}
			created = true
			if _, err := s.workflowRepo.CancelSupersededTx(ctx, tx, req.DocumentID, req.VersionID); err != nil {
				return err
			}
		} else {
			if wf.Status == approval.WorkflowReleased {
				return errors.Newf(errors.ErrCodeConflict, "workflow is already %s", wf.Status)
			}
			statusBefore = wf.Status
			if err := s.workflowRepo.UpdateStatusTx(ctx, tx, wf.ID, req.Status); err != nil {
				return err
			}
			wf.Status = req.Status
		}

		if created || statusBefore != wf.Status {
			if err := s.appendHistory(ctx, tx, wf, req.ActorID); err != nil {
				return err
			}
			if wf.Status.AtLeast(approval.WorkflowPending) {
				ob.intents = append(ob.intents, approval.Notification{Kind: approval.NotificationStateChanged})
			}
		}

		steps, err := s.stepsRepo.LockByWorkflowIDTx(ctx, tx, wf.ID)
		if err != nil {
			return err
		}
		ob.arm(wf, steps)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.flushOutbox(ctx, ob)
	return wf, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetWorkflow returns the workflow and steps for a document version.
func (s *ApprovalService) GetWorkflow(ctx context.Context, documentID string, versionID int64) (*approval.Workflow, []*approval.Step, error) {
	wf, err := s.workflowRepo.GetByDocumentVersion(ctx, documentID, versionID)
	if err != nil {
		return nil, nil, err
	}
	if wf == nil {
		return nil, nil, errors.NotFound("approval_workflow", fmt.Sprintf("%s#%d", documentID, versionID))
	}
	steps, err := s.stepsRepo.GetByWorkflowID(ctx, wf.ID)
	if err != nil {
		return nil, nil, err
	}
	return wf, steps, nil
}

// FirstActionableStep returns the first pending step the actor can act on:
// directly assigned steps win, then steps assigned to the actor's groups.
// Returns nil when nothing is actionable.
func (s *ApprovalService) FirstActionableStep(ctx context.Context, workflowID, actorID string, stepID *string) (*approval.Step, error) {
	groups, err := s.directory.GetUserGroups(ctx, actorID)
	if err != nil {
		// A directory outage must not hide directly-assigned steps.
		s.log.Warn().Err(err).Str("actor_id", actorID).Msg("Could not resolve actor groups")
		groups = nil
	}
	return s.stepsRepo.FirstPendingForActor(ctx, workflowID, actorID, groups, stepID)
}

// GroupedSteps returns the workflow's steps grouped by step number. A
// workflow without steps falls back to the latest released workflow of the
// same document as a template, and group 1 is synthesized when absent.
func (s *ApprovalService) GroupedSteps(ctx context.Context, documentID string, versionID int64) (map[int][]*approval.Step, error) {
	var steps []*approval.Step

	wf, err := s.workflowRepo.GetByDocumentVersion(ctx, documentID, versionID)
	if err != nil {
		return nil, err
	}
	if wf != nil {
		steps, err = s.stepsRepo.GetByWorkflowID(ctx, wf.ID)
		if err != nil {
			return nil, err
		}
	}

	var template []*approval.Step
	if len(steps) == 0 {
		released, err := s.workflowRepo.LatestReleasedByDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		if released != nil {
			template, err = s.stepsRepo.GetByWorkflowID(ctx, released.ID)
			if err != nil {
				return nil, err
			}
		}
	}

	return approval.GroupedWithDefault(steps, template), nil
}

// History returns the status trail of a workflow, oldest first.
func (s *ApprovalService) History(ctx context.Context, workflowID string) ([]*approval.StatusEntry, error) {
	if _, err := s.workflowRepo.GetByID(ctx, workflowID); err != nil {
		return nil, err
	}
	return s.historyRepo.GetByWorkflowID(ctx, workflowID)
}

// ── internals ─────────────────────────────────────────────────────────────────

// assertCanAct checks that the actor holds the step: either directly or via
// membership in the step's group principal.
func (s *ApprovalService) assertCanAct(ctx context.Context, step *approval.Step, actorID string) error {
	if step.Principal.Kind == approval.PrincipalUser {
		if step.Principal.ID == actorID {
			return nil
		}
		return errors.Forbidden("actor does not hold this approval step")
	}

	members, err := s.directory.ExpandPrincipal(ctx, step.Principal)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m == actorID {
			return nil
		}
	}
	return errors.Forbidden("actor is not a member of the step's group")
}

// applyOutcome persists an Advance delta and queues its notification intents.
func (s *ApprovalService) applyOutcome(ctx context.Context, tx pgx.Tx, wf *approval.Workflow, out approval.Outcome, ob *outbox) error {
	for _, ch := range out.StepChanges {
		if err := s.stepsRepo.UpdateStatusTx(ctx, tx, ch.StepID, ch.Status); err != nil {
			return err
		}
	}
	if out.WorkflowStatus != nil {
		if err := s.workflowRepo.UpdateStatusTx(ctx, tx, wf.ID, *out.WorkflowStatus); err != nil {
			return err
		}
	}
	ob.intents = append(ob.intents, out.Notifications...)
	return nil
}

func (s *ApprovalService) appendHistory(ctx context.Context, tx pgx.Tx, wf *approval.Workflow, actorID string) error {
	return s.historyRepo.AppendTx(ctx, tx, &approval.StatusEntry{
		WorkflowID: wf.ID,
		Status:     wf.Status,
		AuthorID:   actorID,
	})
}

// principalHeld reports whether any of the steps is assigned to p. The step
// being forwarded is included on purpose: forwarding to its current holder
// is the same duplicate.
func principalHeld(steps []*approval.Step, p approval.Principal) bool {
	for _, s := range steps {
		if s.Principal == p {
			return true
		}
	}
	return false
}

func findStep(steps []*approval.Step, id string) *approval.Step {
	for _, s := range steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func dropSteps(steps []*approval.Step, ids []string) []*approval.Step {
	if len(ids) == 0 {
		return steps
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := steps[:0]
	for _, s := range steps {
		if !drop[s.ID] {
			kept = append(kept, s)
		}
	}
	return kept
}

func sortSteps(steps []*approval.Step) {
	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Number != steps[j].Number {
			return steps[i].Number < steps[j].Number
		}
		return steps[i].ID < steps[j].ID
	})
}
