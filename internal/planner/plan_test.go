package planner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/llmtest"
	"devmatrix.dev/core/internal/planner"
)

// validPlan satisfies validateInvariants for every pass: declared
// inputs/outputs, a predecessor that exists, and no cycle.
var validPlan = planner.Masterplan{
	Modules: []planner.ContractModule{{Name: "widgets", Kind: "services", Methods: []string{"Create"}}},
	PlannedTasks: []planner.PlannedTask{
		{ID: "t1", Module: "widgets", Purpose: "define Widget type", Outputs: []string{"Widget"}},
		{ID: "t2", Module: "widgets", Purpose: "create handler", Inputs: []string{"Widget"}, Outputs: []string{"CreateHandler"}, Predecessors: []string{"t1"}},
	},
}

func registerValidPlanForEveryPass(client *llmtest.Client) {
	for _, pass := range []planner.PassName{
		planner.PassRequirementsAnalysis,
		planner.PassArchitectureDesign,
		planner.PassContractDefinition,
		planner.PassIntegrationPoints,
		planner.PassAtomicBreakdown,
		planner.PassValidationOptimize,
	} {
		client.Record(string(pass), validPlan)
	}
}

func TestPlan_RunsAllSixPassesAndReturnsMasterplan(t *testing.T) {
	client := llmtest.NewClient("plan-test")
	registerValidPlanForEveryPass(client)

	p := planner.Planner{Client: client}
	reqs := []domain.Requirement{{ID: "r1", Text: "Widgets can be created", Domain: "crud", Kind: domain.RequirementFunctional}}

	plan, err := p.Plan(context.Background(), domain.RunContext{RunID: "run-1"}, reqs)
	require.NoError(t, err)
	require.Equal(t, validPlan.PlannedTasks, plan.PlannedTasks)
	require.Len(t, client.Calls(), 6)
}

func TestPlan_ReissuesPassOnInvariantViolationThenSucceeds(t *testing.T) {
	client := llmtest.NewClient("plan-test")

	brokenPlan := planner.Masterplan{
		PlannedTasks: []planner.PlannedTask{
			{ID: "t1", Outputs: []string{"x"}},
			{ID: "t2", Inputs: []string{"x"}, Predecessors: []string{"ghost"}},
		},
	}

	for _, pass := range []planner.PassName{
		planner.PassRequirementsAnalysis,
		planner.PassArchitectureDesign,
		planner.PassContractDefinition,
		planner.PassIntegrationPoints,
	} {
		client.Record(string(pass), validPlan)
	}
	// The atomic-breakdown pass violates the invariant once, then the
	// reissued attempt (fed the violation as a constraint) succeeds.
	client.RecordSequence(string(planner.PassAtomicBreakdown),
		llmtest.Fixture{Payload: brokenPlan},
		llmtest.Fixture{Payload: validPlan},
	)
	client.Record(string(planner.PassValidationOptimize), validPlan)

	p := planner.Planner{Client: client}
	plan, err := p.Plan(context.Background(), domain.RunContext{RunID: "run-2"}, nil)
	require.NoError(t, err)
	require.Equal(t, validPlan.PlannedTasks, plan.PlannedTasks)
}

func TestPlan_FailsAfterExhaustingRetries(t *testing.T) {
	client := llmtest.NewClient("plan-test")

	brokenPlan := planner.Masterplan{
		PlannedTasks: []planner.PlannedTask{
			{ID: "t1", Inputs: []string{"x"}, Predecessors: []string{"ghost"}},
		},
	}

	for _, pass := range []planner.PassName{
		planner.PassRequirementsAnalysis,
		planner.PassArchitectureDesign,
		planner.PassContractDefinition,
		planner.PassIntegrationPoints,
	} {
		client.Record(string(pass), validPlan)
	}
	client.Record(string(planner.PassAtomicBreakdown), brokenPlan)

	p := planner.Planner{Client: client}
	_, err := p.Plan(context.Background(), domain.RunContext{RunID: "run-3"}, nil)
	require.Error(t, err)
	require.ErrorIs(t, err, domain.ErrPlanningFailed)
}
