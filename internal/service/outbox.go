package service

import (
	"context"
	"sort"

	"github.com/scribeworks/be-doc-approvals/internal/approval"
)

// outbox collects notification intents during a transaction. Nothing is
// published until the transaction commits and flushOutbox runs, so a
// rollback discards the intents with the rest of the unit of work.
type outbox struct {
	actorID string
	wf      *approval.Workflow
	steps   []*approval.Step
	intents []approval.Notification
}

func newOutbox(actorID string) *outbox {
	return &outbox{actorID: actorID}
}

// arm snapshots the post-transaction workflow state the intents refer to.
// An outbox that was never armed (rolled-back transaction) flushes nothing.
func (ob *outbox) arm(wf *approval.Workflow, steps []*approval.Step) {
	ob.wf = wf
	ob.steps = steps
}

// flushOutbox publishes the collected intents. State-change intents collapse
// into a single event carrying the final workflow status; step-activation
// intents publish one event per activated group.
func (s *ApprovalService) flushOutbox(ctx context.Context, ob *outbox) {
	if s.notifier == nil || ob.wf == nil || len(ob.intents) == 0 {
		return
	}

	stateChanged := false
	for _, n := range ob.intents {
		switch n.Kind {
		case approval.NotificationStateChanged:
			if stateChanged {
				continue
			}
			stateChanged = true
			s.notifier.PublishApprovalEvent(ctx, EventStateChanged, ob.wf, ob.actorID,
				s.stateChangeRecipients(ctx, ob.wf, ob.steps),
				map[string]any{
					"document_id": ob.wf.DocumentID,
					"version_id":  ob.wf.VersionID,
					"status":      ob.wf.Status.String(),
				})

		case approval.NotificationStepActivated:
			s.notifier.PublishApprovalEvent(ctx, EventStepActivated, ob.wf, ob.actorID,
				s.activatedStepRecipients(ctx, ob.steps, n.StepNumber),
				map[string]any{
					"document_id": ob.wf.DocumentID,
					"version_id":  ob.wf.VersionID,
					"status":      ob.wf.Status.String(),
					"step_number": n.StepNumber,
				})
		}
	}
}

// stateChangeRecipients is the workflow author plus every principal whose
// step has left the unstarted state. Directory failures degrade to a partial
// recipient list rather than dropping the event.
func (s *ApprovalService) stateChangeRecipients(ctx context.Context, wf *approval.Workflow, steps []*approval.Step) []string {
	seen := map[string]bool{wf.AuthorID: true}
	for _, st := range steps {
		if st.Status == approval.StepUnstarted {
			continue
		}
		s.expandInto(ctx, st.Principal, seen)
	}
	return sortedKeys(seen)
}

// activatedStepRecipients is every principal holding a pending step in the
// activated group.
func (s *ApprovalService) activatedStepRecipients(ctx context.Context, steps []*approval.Step, number int) []string {
	seen := map[string]bool{}
	for _, st := range steps {
		if st.Number != number || st.Status != approval.StepPending {
			continue
		}
		s.expandInto(ctx, st.Principal, seen)
	}
	return sortedKeys(seen)
}

func (s *ApprovalService) expandInto(ctx context.Context, p approval.Principal, seen map[string]bool) {
	users, err := s.directory.ExpandPrincipal(ctx, p)
	if err != nil {
		s.log.Warn().Err(err).Str("principal", p.String()).Msg("Could not expand principal for notification")
		return
	}
	for _, u := range users {
		seen[u] = true
	}
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
