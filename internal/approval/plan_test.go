package approval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSubmission(t *testing.T) {
	tests := []struct {
		name    string
		groups  []GroupSubmission
		wantErr error
	}{
		{
			name: "valid two groups",
			groups: []GroupSubmission{
				{Number: 1, Type: StepTypeOr, Principals: []Principal{user("alice"), group("qa")}},
				{Number: 2, Type: StepTypeAnd, Principals: []Principal{user("bob")}},
			},
		},
		{
			name: "duplicate principal across groups",
			groups: []GroupSubmission{
				{Number: 1, Type: StepTypeOr, Principals: []Principal{user("alice")}},
				{Number: 2, Type: StepTypeAnd, Principals: []Principal{user("alice")}},
			},
			wantErr: ErrDuplicatePrincipal,
		},
		{
			name: "duplicate principal within a group",
			groups: []GroupSubmission{
				{Number: 1, Type: StepTypeOr, Principals: []Principal{user("alice"), user("alice")}},
			},
			wantErr: ErrDuplicatePrincipal,
		},
		{
			name: "same id as user and group is distinct",
			groups: []GroupSubmission{
				{Number: 1, Type: StepTypeOr, Principals: []Principal{user("x"), group("x")}},
			},
		},
		{
			name:    "no assignments",
			groups:  []GroupSubmission{{Number: 1, Type: StepTypeOr}},
			wantErr: ErrEmptySubmission,
		},
		{
			name:    "empty submission",
			groups:  nil,
			wantErr: ErrEmptySubmission,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSubmission(tt.groups)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidateSubmission_BadInputs(t *testing.T) {
	assert.Error(t, ValidateSubmission([]GroupSubmission{
		{Number: 0, Type: StepTypeOr, Principals: []Principal{user("alice")}},
	}))
	assert.Error(t, ValidateSubmission([]GroupSubmission{
		{Number: 1, Type: StepTypeOr, Principals: []Principal{{Kind: "team", ID: "x"}}},
	}))
	assert.Error(t, ValidateSubmission([]GroupSubmission{
		{Number: 1, Type: StepTypeOr, Principals: []Principal{{Kind: PrincipalUser}}},
	}))
}

func TestPlanSteps_CreatesNewSteps(t *testing.T) {
	plan, err := PlanSteps(nil, []GroupSubmission{
		{Number: 2, Type: StepTypeAnd, Principals: []Principal{user("carol")}},
		{Number: 1, Type: StepTypeOr, Principals: []Principal{user("alice"), user("bob")}},
	})
	require.NoError(t, err)

	assert.Empty(t, plan.DeleteIDs)
	assert.Empty(t, plan.Updates)
	require.Len(t, plan.Creates, 3)
	// Ascending group order regardless of submission order.
	assert.Equal(t, 1, plan.Creates[0].Number)
	assert.Equal(t, 1, plan.Creates[1].Number)
	assert.Equal(t, 2, plan.Creates[2].Number)
	for _, s := range plan.Creates {
		assert.Equal(t, StepUnstarted, s.Status)
	}
}

func TestPlanSteps_DeletesRemovedPrincipals(t *testing.T) {
	existing := []*Step{
		step("a", 1, StepTypeOr, StepUnstarted, user("alice")),
		step("b", 1, StepTypeOr, StepUnstarted, user("bob")),
	}

	plan, err := PlanSteps(existing, []GroupSubmission{
		{Number: 1, Type: StepTypeOr, Principals: []Principal{user("alice")}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, plan.DeleteIDs)
	assert.Empty(t, plan.Creates)
	assert.Empty(t, plan.Updates)
}

func TestPlanSteps_ResetsNonApprovedKeepsApproved(t *testing.T) {
	existing := []*Step{
		step("a", 1, StepTypeOr, StepApproved, user("alice")),
		step("b", 1, StepTypeOr, StepRejected, user("bob")),
	}

	plan, err := PlanSteps(existing, []GroupSubmission{
		{Number: 1, Type: StepTypeOr, Principals: []Principal{user("alice"), user("bob")}},
	})
	require.NoError(t, err)

	// Approved step untouched, rejected one reset to unstarted.
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, "b", plan.Updates[0].Step.ID)
	assert.Equal(t, StepUnstarted, plan.Updates[0].Status)
}

func TestPlanSteps_ChangesGatingType(t *testing.T) {
	existing := []*Step{
		step("a", 1, StepTypeOr, StepApproved, user("alice")),
	}

	plan, err := PlanSteps(existing, []GroupSubmission{
		{Number: 1, Type: StepTypeAnd, Principals: []Principal{user("alice")}},
	})
	require.NoError(t, err)

	require.Len(t, plan.Updates, 1)
	assert.Equal(t, StepTypeAnd, plan.Updates[0].Type)
	assert.Equal(t, StepApproved, plan.Updates[0].Status, "type change must not regress approval")
}

func TestPlanSteps_LeavesUnsubmittedGroupsAlone(t *testing.T) {
	existing := []*Step{
		step("a", 1, StepTypeOr, StepApproved, user("alice")),
		step("b", 2, StepTypeAnd, StepPending, user("bob")),
	}

	plan, err := PlanSteps(existing, []GroupSubmission{
		{Number: 2, Type: StepTypeAnd, Principals: []Principal{user("bob"), user("carol")}},
	})
	require.NoError(t, err)

	assert.Empty(t, plan.DeleteIDs, "group 1 was not part of the submission")
	require.Len(t, plan.Creates, 1)
	assert.Equal(t, user("carol"), plan.Creates[0].Principal)
	// bob's pending step is reset to unstarted by resubmission.
	require.Len(t, plan.Updates, 1)
	assert.Equal(t, "b", plan.Updates[0].Step.ID)
	assert.Equal(t, StepUnstarted, plan.Updates[0].Status)
}

func TestGroupedWithDefault(t *testing.T) {
	t.Run("synthesizes default group one", func(t *testing.T) {
		grouped := GroupedWithDefault(nil, nil)
		require.Len(t, grouped[1], 1)
		assert.Equal(t, StepTypeOr, grouped[1][0].Type)
		assert.Equal(t, StepUnstarted, grouped[1][0].Status)
	})

	t.Run("falls back to template", func(t *testing.T) {
		template := []*Step{
			step("t1", 1, StepTypeAnd, StepApproved, user("alice")),
			step("t2", 2, StepTypeOr, StepApproved, user("bob")),
		}
		grouped := GroupedWithDefault(nil, template)
		assert.Equal(t, []int{1, 2}, GroupNumbers(grouped))
		assert.Equal(t, "t1", grouped[1][0].ID)
	})

	t.Run("own steps win over template", func(t *testing.T) {
		own := []*Step{step("s1", 1, StepTypeOr, StepPending, user("carol"))}
		template := []*Step{step("t1", 1, StepTypeAnd, StepApproved, user("alice"))}
		grouped := GroupedWithDefault(own, template)
		require.Len(t, grouped[1], 1)
		assert.Equal(t, "s1", grouped[1][0].ID)
	})

	t.Run("missing group one is filled", func(t *testing.T) {
		own := []*Step{step("s1", 2, StepTypeAnd, StepUnstarted, user("carol"))}
		grouped := GroupedWithDefault(own, nil)
		assert.Equal(t, []int{1, 2}, GroupNumbers(grouped))
	})
}

func TestStatusOrdering(t *testing.T) {
	assert.True(t, WorkflowPending.AtLeast(WorkflowDraft))
	assert.True(t, WorkflowReleased.AtLeast(WorkflowPending))
	assert.False(t, WorkflowCanceled.AtLeast(WorkflowDraft))

	assert.True(t, StepUnstarted.Open())
	assert.True(t, StepPending.Open())
	assert.False(t, StepCanceled.Open())
	assert.False(t, StepApproved.Open())

	assert.False(t, StepCanceled.BlocksCompletion())
	assert.False(t, StepApproved.BlocksCompletion())
	assert.True(t, StepRejected.BlocksCompletion())
	assert.True(t, StepPending.BlocksCompletion())
}
