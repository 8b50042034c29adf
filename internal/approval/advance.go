package approval

// StepChange is one step status mutation decided by Advance.
type StepChange struct {
	StepID string
	Status StepStatus
}

// Outcome is the delta produced by one Advance invocation. Advance also
// applies the delta to the in-memory rows it was given, so sequential
// invocations within one unit of work compose.
type Outcome struct {
	// WorkflowStatus is non-nil when the workflow status changed.
	WorkflowStatus *WorkflowStatus
	StepChanges    []StepChange
	Notifications  []Notification
}

// Empty reports whether the invocation decided nothing.
func (o Outcome) Empty() bool {
	return o.WorkflowStatus == nil && len(o.StepChanges) == 0 && len(o.Notifications) == 0
}

// Advance runs the step-advancement algorithm after a single step's status
// has been changed. It is a pure decision over the already-fetched rows:
// the caller persists the returned delta inside the same unit of work and
// dispatches the notification intents only after commit.
//
// changed must be an element of steps with its new status already set.
func Advance(wf *Workflow, steps []*Step, changed *Step) Outcome {
	a := advancer{wf: wf, steps: steps, touched: make(map[string]bool)}

	// A released workflow is inert; re-running the algorithm is a no-op.
	if wf.Status == WorkflowReleased {
		return a.out
	}

	switch changed.Status {
	case StepUnstarted:
		// Activation propagates strictly in increasing step-number order: a
		// step becomes pending only when no earlier group member is still open.
		if changed.Number == a.firstOpenNumberAtOrBelow(changed.Number) {
			a.setStep(changed, StepPending)
		}
		a.resolveOrGroup(changed)
		a.raiseWorkflow(WorkflowPending)

	case StepPending:
		a.raiseWorkflow(WorkflowPending)

	case StepRejected:
		// Rejection is terminal for the workflow: every pending sibling is
		// canceled and nothing activates afterwards.
		for _, s := range steps {
			if s.Status == StepPending {
				a.setStep(s, StepCanceled)
			}
		}
		a.setWorkflow(WorkflowRejected)

	case StepApproved:
		a.resolveOrGroup(changed)

		if a.groupComplete(changed.Number) {
			if next, ok := a.nextGroupNumber(changed.Number); ok {
				activated := 0
				for _, s := range steps {
					if s.Number == next && s.Status == StepUnstarted {
						a.setStep(s, StepPending)
						activated++
					}
				}
				if activated > 0 {
					a.out.Notifications = append(a.out.Notifications,
						Notification{Kind: NotificationStepActivated, StepNumber: next})
				}
			}
		}

		if a.settled() {
			a.setWorkflow(WorkflowReleased)
		}
	}

	return a.out
}

// Settled reports whether no step ranks below approved (canceled steps count
// as settled). A workflow whose steps are all settled is released.
func Settled(steps []*Step) bool {
	if len(steps) == 0 {
		return false
	}
	for _, s := range steps {
		if s.Status.BlocksCompletion() {
			return false
		}
	}
	return true
}

// ── internals ─────────────────────────────────────────────────────────────────

type advancer struct {
	wf      *Workflow
	steps   []*Step
	touched map[string]bool
	out     Outcome
}

func (a *advancer) setStep(s *Step, status StepStatus) {
	if s.Status == status {
		return
	}
	s.Status = status
	if a.touched[s.ID] {
		// Overwrite the earlier change for this step (activate-then-cancel).
		for i := range a.out.StepChanges {
			if a.out.StepChanges[i].StepID == s.ID {
				a.out.StepChanges[i].Status = status
			}
		}
		return
	}
	a.touched[s.ID] = true
	a.out.StepChanges = append(a.out.StepChanges, StepChange{StepID: s.ID, Status: status})
}

func (a *advancer) setWorkflow(status WorkflowStatus) {
	if a.wf.Status == status {
		return
	}
	a.wf.Status = status
	a.out.WorkflowStatus = &status
	// Only movements at or above pending are worth announcing.
	if status.AtLeast(WorkflowPending) {
		a.out.Notifications = append(a.out.Notifications,
			Notification{Kind: NotificationStateChanged})
	}
}

func (a *advancer) raiseWorkflow(min WorkflowStatus) {
	if a.wf.Status < min {
		a.setWorkflow(min)
	}
}

// firstOpenNumberAtOrBelow returns the smallest step number not above limit
// whose group still has an open (unstarted or pending) member.
func (a *advancer) firstOpenNumberAtOrBelow(limit int) int {
	first := 0
	for _, s := range a.steps {
		if s.Number > limit || !s.Status.Open() {
			continue
		}
		if first == 0 || s.Number < first {
			first = s.Number
		}
	}
	return first
}

// resolveOrGroup applies OR semantics to the changed step's group: once any
// member is approved, every still-open member of the group is canceled.
func (a *advancer) resolveOrGroup(changed *Step) {
	if changed.Type != StepTypeOr {
		return
	}
	anyApproved := false
	for _, s := range a.steps {
		if s.Number == changed.Number && s.Status == StepApproved {
			anyApproved = true
			break
		}
	}
	if !anyApproved {
		return
	}
	for _, s := range a.steps {
		if s.Number == changed.Number && s.Status.Open() {
			a.setStep(s, StepCanceled)
		}
	}
}

// groupComplete reports whether every member of the group is approved or
// canceled. AND groups need every member approved; OR groups reach this via
// resolveOrGroup leaving only approved and canceled members.
func (a *advancer) groupComplete(number int) bool {
	for _, s := range a.steps {
		if s.Number == number && s.Status != StepApproved && s.Status != StepCanceled {
			return false
		}
	}
	return true
}

// nextGroupNumber returns the lowest step number above the given one. Step
// numbers need not be contiguous.
func (a *advancer) nextGroupNumber(after int) (int, bool) {
	next := 0
	for _, s := range a.steps {
		if s.Number <= after {
			continue
		}
		if next == 0 || s.Number < next {
			next = s.Number
		}
	}
	return next, next != 0
}

func (a *advancer) settled() bool {
	return Settled(a.steps)
}
