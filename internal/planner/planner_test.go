package planner

import "testing"

func TestValidateInvariants_UndeclaredPredecessor(t *testing.T) {
	plan := Masterplan{PlannedTasks: []PlannedTask{
		{ID: "t1", Outputs: []string{"x"}},
		{ID: "t2", Inputs: []string{"x"}, Predecessors: []string{"ghost"}},
	}}
	v := validateInvariants(PassAtomicBreakdown, plan)
	if v == "" {
		t.Fatal("expected a violation for an undeclared predecessor")
	}
}

func TestValidateInvariants_ValidPlanHasNoViolation(t *testing.T) {
	plan := Masterplan{PlannedTasks: []PlannedTask{
		{ID: "t1", Outputs: []string{"x"}},
		{ID: "t2", Inputs: []string{"x"}, Outputs: []string{"y"}, Predecessors: []string{"t1"}},
	}}
	if v := validateInvariants(PassAtomicBreakdown, plan); v != "" {
		t.Fatalf("expected no violation, got %q", v)
	}
}

func TestHasCycle(t *testing.T) {
	tasks := []PlannedTask{
		{ID: "a", Predecessors: []string{"c"}},
		{ID: "b", Predecessors: []string{"a"}},
		{ID: "c", Predecessors: []string{"b"}},
	}
	cyclic, _ := hasCycle(tasks)
	if !cyclic {
		t.Fatal("expected cycle to be detected")
	}
}
