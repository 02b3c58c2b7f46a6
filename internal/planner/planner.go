// Package planner implements the Multi-Pass Planner (C4): six sequential
// LLM refinement passes producing a masterplan. Grounded on the teacher's
// internal/brain/orchestrator.go runPlannerCycle (maxValidationRetries = 2,
// violation fed back as an explicit constraint) and on
// other_examples/.../decomposer.go's atomicity/dependency-ordering prompt
// design.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"devmatrix.dev/core/common/llm"
	"devmatrix.dev/core/common/retry"
	"devmatrix.dev/core/internal/domain"
)

// PassName enumerates the six sequential refinement passes (spec §4.4).
type PassName string

const (
	PassRequirementsAnalysis PassName = "requirements_analysis"
	PassArchitectureDesign   PassName = "architecture_design"
	PassContractDefinition   PassName = "contract_definition"
	PassIntegrationPoints    PassName = "integration_points"
	PassAtomicBreakdown      PassName = "atomic_breakdown"
	PassValidationOptimize   PassName = "validation_and_optimization"
)

var passOrder = []PassName{
	PassRequirementsAnalysis,
	PassArchitectureDesign,
	PassContractDefinition,
	PassIntegrationPoints,
	PassAtomicBreakdown,
	PassValidationOptimize,
}

// maxPassRetries is the number of times a pass is reissued with a
// violation as an explicit constraint before PlanningFailed is raised
// (spec §4.4: "up to two retries").
const maxPassRetries = 2

// ContractModule is one module of the architecture skeleton (core, models,
// services, routes, middleware, migrations, tests).
type ContractModule struct {
	Name    string   `json:"name"`
	Kind    string   `json:"kind"` // core, models, services, routes, middleware, migrations, tests
	Methods []string `json:"methods"`
}

// Masterplan is the structured output of the six passes: a flattened set
// of planned tasks (pre-atomization) plus the architecture skeleton.
type Masterplan struct {
	Modules      []ContractModule     `json:"modules"`
	PlannedTasks []PlannedTask        `json:"planned_tasks"`
	Ambiguities  []string             `json:"ambiguities,omitempty"`
}

// PlannedTask is the planner's pre-atomization task shape: it is refined
// further by the Atomizer into bounded AtomicTasks.
type PlannedTask struct {
	ID           string   `json:"id"`
	Module       string   `json:"module"`
	Purpose      string   `json:"purpose"`
	Inputs       []string `json:"inputs"`
	Outputs      []string `json:"outputs"`
	Predecessors []string `json:"predecessors"`
}

// Planner is the Multi-Pass Planner contract.
type Planner struct {
	Client llm.Client
}

// Plan runs the six passes sequentially, enforcing §4.4's invariant: every
// task has declared inputs/outputs, declared predecessors exist, no task
// is unreachable, no cycles.
func (p Planner) Plan(ctx context.Context, run domain.RunContext, reqs []domain.Requirement) (Masterplan, error) {
	var plan Masterplan
	var prevOutput string

	for _, pass := range passOrder {
		var violation string
		var err error
		for attempt := 0; attempt <= maxPassRetries; attempt++ {
			plan, err = p.runPass(ctx, pass, run, reqs, prevOutput, violation)
			if err == nil {
				if v := validateInvariants(pass, plan); v != "" {
					violation = v
					slog.Warn("planner pass violated invariant, reissuing with constraint", "pass", pass, "attempt", attempt, "violation", v)
					continue
				}
				break
			}
			violation = err.Error()
		}
		if err != nil || validateInvariants(pass, plan) != "" {
			return Masterplan{}, domain.NewFatalError(domain.ErrorInvariant, fmt.Errorf("%w: pass %s: %s", domain.ErrPlanningFailed, pass, violation))
		}
		b, _ := json.Marshal(plan)
		prevOutput = string(b)
	}

	return plan, nil
}

func (p Planner) runPass(ctx context.Context, pass PassName, run domain.RunContext, reqs []domain.Requirement, prevOutput, violation string) (Masterplan, error) {
	if p.Client == nil {
		return Masterplan{}, fmt.Errorf("no LLM client configured for planner")
	}

	userPrompt := buildUserPrompt(pass, reqs, prevOutput, violation)
	resp, err := retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context, attempt int) (Masterplan, error) {
		var out Masterplan
		_, callErr := p.Client.Chat(ctx, llm.Request{
			SystemPrompt: systemPromptFor(pass),
			UserPrompt:   userPrompt,
			SchemaName:   string(pass),
			Schema:       llm.GenerateSchema[Masterplan](),
			Temperature:  llm.Temp(0),
		}, &out)
		if callErr != nil {
			if llm.IsRetryable(ctx, callErr) {
				return Masterplan{}, callErr
			}
			return Masterplan{}, retry.Permanent(callErr)
		}
		return out, nil
	})
	if err != nil {
		return Masterplan{}, fmt.Errorf("pass %s: %w", pass, err)
	}
	return resp, nil
}

func buildUserPrompt(pass PassName, reqs []domain.Requirement, prevOutput, violation string) string {
	reqsJSON, _ := json.Marshal(reqs)
	prompt := fmt.Sprintf("Requirements:\n%s\n\nPrevious pass output:\n%s\n", reqsJSON, prevOutput)
	if violation != "" {
		prompt += fmt.Sprintf("\nThe previous attempt at pass %s violated an invariant: %s\nYou MUST fix this violation in your response.\n", pass, violation)
	}
	return prompt
}

func systemPromptFor(pass PassName) string {
	switch pass {
	case PassRequirementsAnalysis:
		return "Normalize requirements and tag ambiguities. Do not invent requirements absent from the input."
	case PassArchitectureDesign:
		return "Choose the module skeleton: core, models, services, routes, middleware, migrations, tests."
	case PassContractDefinition:
		return "Fix each module's public interface: types and method signatures."
	case PassIntegrationPoints:
		return "Resolve inter-module dependencies and shared entities."
	case PassAtomicBreakdown:
		return `Split every contract into planned tasks, each bounded by a small line budget.
Each task MUST declare its inputs and outputs explicitly. Each task's
predecessors MUST reference only tasks that exist. Never emit an
open-ended or ambiguous task ("decide whether to...", "research...").`
	case PassValidationOptimize:
		return `Enforce invariants: every task has declared inputs/outputs, declared
predecessors exist, no task is unreachable, no cycles. Fix any violation
found rather than merely reporting it.`
	default:
		return ""
	}
}

// validateInvariants checks the atomic-breakdown/validation passes'
// invariants and returns a non-empty violation description if one is
// found (spec §4.4 step 6 and the reissue-with-constraint retry rule).
func validateInvariants(pass PassName, plan Masterplan) string {
	if pass != PassAtomicBreakdown && pass != PassValidationOptimize {
		return ""
	}
	ids := map[string]bool{}
	for _, t := range plan.PlannedTasks {
		ids[t.ID] = true
	}
	for _, t := range plan.PlannedTasks {
		if len(t.Inputs) == 0 && len(t.Outputs) == 0 {
			return fmt.Sprintf("task %s declares neither inputs nor outputs", t.ID)
		}
		for _, pred := range t.Predecessors {
			if !ids[pred] {
				return fmt.Sprintf("task %s has undeclared predecessor %s", t.ID, pred)
			}
		}
	}
	if cyclic, chain := hasCycle(plan.PlannedTasks); cyclic {
		return fmt.Sprintf("cycle detected: %v", chain)
	}
	if unreachable := findUnreachable(plan.PlannedTasks); len(unreachable) > 0 {
		return fmt.Sprintf("unreachable tasks: %v", unreachable)
	}
	return ""
}

func hasCycle(tasks []PlannedTask) (bool, []string) {
	adj := map[string][]string{}
	for _, t := range tasks {
		for _, pred := range t.Predecessors {
			adj[pred] = append(adj[pred], t.ID)
		}
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := map[string]int{}
	var path []string
	var dfs func(string) []string
	dfs = func(n string) []string {
		color[n] = gray
		path = append(path, n)
		for _, next := range adj[n] {
			if color[next] == gray {
				return append(append([]string{}, path...), next)
			}
			if color[next] == white {
				if chain := dfs(next); chain != nil {
					return chain
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
		return nil
	}
	for _, t := range tasks {
		if color[t.ID] == white {
			if chain := dfs(t.ID); chain != nil {
				return true, chain
			}
		}
	}
	return false, nil
}

func findUnreachable(tasks []PlannedTask) []string {
	hasSuccessorOrIsRoot := map[string]bool{}
	var roots []string
	for _, t := range tasks {
		if len(t.Predecessors) == 0 {
			roots = append(roots, t.ID)
		}
	}
	adj := map[string][]string{}
	for _, t := range tasks {
		for _, pred := range t.Predecessors {
			adj[pred] = append(adj[pred], t.ID)
		}
	}
	var visit func(string)
	visited := map[string]bool{}
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		hasSuccessorOrIsRoot[id] = true
		for _, next := range adj[id] {
			visit(next)
		}
	}
	for _, r := range roots {
		visit(r)
	}
	var unreachable []string
	for _, t := range tasks {
		if !visited[t.ID] {
			unreachable = append(unreachable, t.ID)
		}
	}
	return unreachable
}
