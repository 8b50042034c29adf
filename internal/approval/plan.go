package approval

import (
	"errors"
	"fmt"
	"sort"
)

// MaxNoteLength bounds free-text notes on workflows and steps.
const MaxNoteLength = 1000

var (
	// ErrDuplicatePrincipal is returned when one principal appears more than
	// once across all step groups of a submission. An identity holds at most
	// one step assignment per workflow.
	ErrDuplicatePrincipal = errors.New("principal assigned to more than one step")
	// ErrEmptySubmission is returned when a submission defines no steps.
	ErrEmptySubmission = errors.New("submission contains no step assignments")
	// ErrNoteTooLong is returned when a note exceeds MaxNoteLength.
	ErrNoteTooLong = fmt.Errorf("note exceeds %d characters", MaxNoteLength)
)

// GroupSubmission is the caller-provided definition of one step group.
type GroupSubmission struct {
	Number     int
	Type       StepType
	Principals []Principal
}

// PlannedUpdate is an existing step whose stored fields must change.
type PlannedUpdate struct {
	Step   *Step
	Status StepStatus
	Type   StepType
}

// StepPlan is the delta between the existing step rows and a submission.
// Creates and Updates carry the steps in ascending group order so the caller
// can feed them to Advance one by one.
type StepPlan struct {
	DeleteIDs []string
	Creates   []*Step
	Updates   []PlannedUpdate
}

// ValidateSubmission rejects submissions with no assignments, invalid
// principals, non-positive step numbers, or one principal appearing in more
// than one place.
func ValidateSubmission(groups []GroupSubmission) error {
	seen := make(map[Principal]bool)
	total := 0
	for _, g := range groups {
		if g.Number < 1 {
			return fmt.Errorf("step number %d is not positive", g.Number)
		}
		for _, p := range g.Principals {
			if !p.Valid() {
				return fmt.Errorf("invalid principal %q", p)
			}
			if seen[p] {
				return ErrDuplicatePrincipal
			}
			seen[p] = true
			total++
		}
	}
	if total == 0 {
		return ErrEmptySubmission
	}
	return nil
}

// ValidateNote enforces the note length bound.
func ValidateNote(note string) error {
	if len(note) > MaxNoteLength {
		return ErrNoteTooLong
	}
	return nil
}

// PlanSteps computes the step edits a submission implies. Per submitted
// group, steps whose principal left the submitted set are deleted and each
// submitted principal is found or created at that number. New and previously
// non-approved steps default to unstarted; approved steps never regress.
// Groups absent from the submission are left untouched.
func PlanSteps(existing []*Step, groups []GroupSubmission) (StepPlan, error) {
	if err := ValidateSubmission(groups); err != nil {
		return StepPlan{}, err
	}

	byGroup := GroupByNumber(existing)

	var plan StepPlan
	ordered := make([]GroupSubmission, len(groups))
	copy(ordered, groups)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Number < ordered[j].Number })

	for _, g := range ordered {
		submitted := make(map[Principal]bool, len(g.Principals))
		for _, p := range g.Principals {
			submitted[p] = true
		}

		current := make(map[Principal]*Step)
		for _, s := range byGroup[g.Number] {
			if !submitted[s.Principal] {
				plan.DeleteIDs = append(plan.DeleteIDs, s.ID)
				continue
			}
			current[s.Principal] = s
		}

		for _, p := range g.Principals {
			if s, ok := current[p]; ok {
				status := s.Status
				if status != StepApproved {
					status = StepUnstarted
				}
				if status != s.Status || g.Type != s.Type {
					plan.Updates = append(plan.Updates, PlannedUpdate{Step: s, Status: status, Type: g.Type})
				}
				continue
			}
			plan.Creates = append(plan.Creates, &Step{
				Number:    g.Number,
				Principal: p,
				Type:      g.Type,
				Status:    StepUnstarted,
			})
		}
	}

	return plan, nil
}
