package approval

import (
	"fmt"
	"time"
)

// ── Status enums ──────────────────────────────────────────────────────────────

// WorkflowStatus is an ordered integer status. The numeric values carry
// severity ordering, so "is at least pending" is a plain comparison.
type WorkflowStatus int

const (
	WorkflowCanceled  WorkflowStatus = 5
	WorkflowDraft     WorkflowStatus = 10
	WorkflowPending   WorkflowStatus = 20
	WorkflowRejected  WorkflowStatus = 40
	WorkflowPublished WorkflowStatus = 60
	WorkflowReleased  WorkflowStatus = 70
)

// AtLeast reports whether s ranks at or above other.
func (s WorkflowStatus) AtLeast(other WorkflowStatus) bool {
	return s >= other
}

func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowCanceled, WorkflowDraft, WorkflowPending, WorkflowRejected, WorkflowPublished, WorkflowReleased:
		return true
	}
	return false
}

func (s WorkflowStatus) String() string {
	switch s {
	case WorkflowCanceled:
		return "canceled"
	case WorkflowDraft:
		return "draft"
	case WorkflowPending:
		return "pending"
	case WorkflowRejected:
		return "rejected"
	case WorkflowPublished:
		return "published"
	case WorkflowReleased:
		return "released"
	default:
		return fmt.Sprintf("workflow_status(%d)", int(s))
	}
}

// ParseWorkflowStatus maps a status name to its value.
func ParseWorkflowStatus(name string) (WorkflowStatus, bool) {
	switch name {
	case "canceled":
		return WorkflowCanceled, true
	case "draft":
		return WorkflowDraft, true
	case "pending":
		return WorkflowPending, true
	case "rejected":
		return WorkflowRejected, true
	case "published":
		return WorkflowPublished, true
	case "released":
		return WorkflowReleased, true
	}
	return 0, false
}

// StepStatus is an ordered integer status for one approval step.
// StepCanceled is terminal and sits outside the blocking order: a canceled
// step neither blocks activation of later groups nor workflow completion.
type StepStatus int

const (
	StepCanceled  StepStatus = 5
	StepUnstarted StepStatus = 15
	StepPending   StepStatus = 20
	StepRejected  StepStatus = 40
	StepApproved  StepStatus = 70
)

// Open reports whether the step still awaits resolution.
func (s StepStatus) Open() bool {
	return s == StepUnstarted || s == StepPending
}

// BlocksCompletion reports whether the step keeps the workflow from being
// released. Canceled steps count as settled.
func (s StepStatus) BlocksCompletion() bool {
	return s != StepCanceled && s < StepApproved
}

func (s StepStatus) Valid() bool {
	switch s {
	case StepCanceled, StepUnstarted, StepPending, StepRejected, StepApproved:
		return true
	}
	return false
}

func (s StepStatus) String() string {
	switch s {
	case StepCanceled:
		return "canceled"
	case StepUnstarted:
		return "unstarted"
	case StepPending:
		return "pending"
	case StepRejected:
		return "rejected"
	case StepApproved:
		return "approved"
	default:
		return fmt.Sprintf("step_status(%d)", int(s))
	}
}

// ParseStepStatus maps a status name to its value.
func ParseStepStatus(name string) (StepStatus, bool) {
	switch name {
	case "canceled":
		return StepCanceled, true
	case "unstarted":
		return StepUnstarted, true
	case "pending":
		return StepPending, true
	case "rejected":
		return StepRejected, true
	case "approved":
		return StepApproved, true
	}
	return 0, false
}

// StepType is the gating rule of a step group. It is a group property,
// stored redundantly per row.
type StepType int

const (
	StepTypeOr  StepType = 0 // one approval settles the group
	StepTypeAnd StepType = 1 // every member must approve
)

func (t StepType) String() string {
	if t == StepTypeAnd {
		return "and"
	}
	return "or"
}

// ParseStepType maps "or"/"and" to a StepType, defaulting to OR.
func ParseStepType(name string) StepType {
	if name == "and" {
		return StepTypeAnd
	}
	return StepTypeOr
}

// ── Principals ────────────────────────────────────────────────────────────────

// PrincipalKind discriminates the principal union.
type PrincipalKind string

const (
	PrincipalUser  PrincipalKind = "user"
	PrincipalGroup PrincipalKind = "group"
)

// Principal is an individual user or a group that can hold a step.
type Principal struct {
	Kind PrincipalKind `json:"kind"`
	ID   string        `json:"id"`
}

func (p Principal) IsZero() bool {
	return p.ID == ""
}

func (p Principal) Valid() bool {
	return p.ID != "" && (p.Kind == PrincipalUser || p.Kind == PrincipalGroup)
}

func (p Principal) String() string {
	return string(p.Kind) + ":" + p.ID
}

// ── Records ───────────────────────────────────────────────────────────────────

// Workflow is one approval process bound to a single document version.
type Workflow struct {
	ID         string
	DocumentID string
	VersionID  int64
	Status     WorkflowStatus
	Note       *string
	AuthorID   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Step is one (workflow, step number, principal) approval obligation.
type Step struct {
	ID         string
	WorkflowID string
	Number     int
	Principal  Principal
	Type       StepType
	Status     StepStatus
	Note       *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StatusEntry is one append-only audit record of a workflow status change.
type StatusEntry struct {
	ID         string
	WorkflowID string
	Status     WorkflowStatus
	AuthorID   string
	CreatedAt  time.Time
}

// ── Notification intents ──────────────────────────────────────────────────────

// NotificationKind classifies a notification intent emitted by Advance.
type NotificationKind string

const (
	// NotificationStateChanged fires when the workflow status changed to a
	// value at or above pending.
	NotificationStateChanged NotificationKind = "state_changed"
	// NotificationStepActivated fires when a step group was bulk-activated.
	NotificationStepActivated NotificationKind = "step_activated"
)

// Notification is an intent collected during a unit of work and dispatched
// only after it commits.
type Notification struct {
	Kind       NotificationKind
	StepNumber int // set for NotificationStepActivated
}
