package atomizer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"devmatrix.dev/core/internal/atomizer"
	"devmatrix.dev/core/internal/planner"
)

func samplePlan() planner.Masterplan {
	return planner.Masterplan{
		Modules: []planner.ContractModule{{Name: "user_service", Kind: "services"}},
		PlannedTasks: []planner.PlannedTask{
			{ID: "t1", Module: "user_service", Purpose: "Create user", Outputs: []string{"user_id"}},
			{ID: "t2", Module: "user_service", Purpose: "Get user by id", Inputs: []string{"user_id"}, Outputs: []string{"user"}, Predecessors: []string{"t1"}},
		},
	}
}

func TestAtomize_Deterministic(t *testing.T) {
	a := atomizer.Atomizer{}
	tasks1, sigs1, err := a.Atomize(context.Background(), samplePlan())
	require.NoError(t, err)
	tasks2, sigs2, err := a.Atomize(context.Background(), samplePlan())
	require.NoError(t, err)

	require.Equal(t, tasks1, tasks2)
	require.Equal(t, sigs1, sigs2)
	require.Len(t, tasks1, 2)
	require.NotZero(t, tasks1[0].Hash)
}

func TestAtomize_LineBudgetByModuleKind(t *testing.T) {
	require.Equal(t, 80, atomizer.LineBudget("services"))
	require.Equal(t, 10, atomizer.LineBudget("routes"))
}

func TestSimilar_RequiresSameDomainAndThreshold(t *testing.T) {
	a := atomizer.Atomizer{}
	tasks, sigs, err := a.Atomize(context.Background(), samplePlan())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	// No embeddings configured: both signatures have nil embeddings and the
	// same domain, so cosine similarity of two empty vectors is 0 (below
	// threshold) -- confirms Similar does not falsely match on domain alone.
	require.False(t, atomizer.Similar(sigs[0], sigs[1]))
}
