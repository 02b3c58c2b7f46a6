// Package inference implements the Cognitive Inference Engine (C8): given
// an AtomicTask and the RunContext, produces source text realizing the
// task via a co-reasoning handshake between a strategy role and an
// implementation role sharing the same underlying LLM service (spec
// §4.8/§9). Grounded on the teacher's bounded-retry tool-invocation shape
// and common/llm's dual Client/AgentClient contract.
package inference

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker"

	"devmatrix.dev/core/common/llm"
	"devmatrix.dev/core/common/retry"
	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/patternstore"
)

// maxCoReasoningAttempts bounds the strategy/implementation round before
// the task is marked synthesis_failed (spec §4.8: "retry up to three
// times with exponential backoff").
const maxCoReasoningAttempts = 3

// similarityThreshold matches the Pattern Store's find_similar bar (spec
// §4.5/§4.8).
const similarityThreshold = 0.85

// Strategy is the structured plan the strategy role produces: an
// algorithm sketch broken into named steps (spec §4.8 step 3).
type Strategy struct {
	Summary string   `json:"summary"`
	Steps   []string `json:"steps"`
}

// Implementation is the structured output of the implementation role.
type Implementation struct {
	Source string `json:"source"`
}

// Refinement is the strategy role's pass over the implementation,
// checking output coverage and unreferenced-input absence (spec §4.8 step
// 5).
type Refinement struct {
	Source     string   `json:"source"`
	Violations []string `json:"violations,omitempty"`
}

// Cache is consulted before any LLM call: same (signature_hash,
// stack_descriptor) must hit the same artifact modulo LLM nondeterminism
// (spec §4.8's determinism note).
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key string, source string)
}

// Engine is the Cognitive Inference Engine.
type Engine struct {
	Client  llm.Client
	Store   *patternstore.Store
	Cache   Cache
	breaker *gobreaker.CircuitBreaker
}

// New builds an Engine with a circuit breaker guarding the co-reasoning
// LLM calls: a run of consecutive failures trips it open so a misbehaving
// provider fails fast instead of exhausting every task's retry budget.
func New(client llm.Client, store *patternstore.Store, cache Cache) *Engine {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inference-engine",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Engine{Client: client, Store: store, Cache: cache, breaker: breaker}
}

// Synthesize realizes task under run's stack, returning source text. On
// exhausted co-reasoning retries it returns a non-retryable
// domain.RunError of kind external_dependency wrapping the last failure,
// and the caller is expected to mark the task synthesis_failed.
func (e *Engine) Synthesize(ctx context.Context, run domain.RunContext, task domain.AtomicTask, sig domain.SemanticSignature) (string, error) {
	cacheKey := CacheKey(sig.Hash, run.Stack)
	if e.Cache != nil {
		if cached, ok := e.Cache.Get(ctx, cacheKey); ok {
			slog.DebugContext(ctx, "inference cache hit", "task_id", task.ID, "signature_hash", sig.Hash)
			return cached, nil
		}
	}

	domainTag := sig.Domain

	var similar []domain.PatternHit
	if e.Store != nil {
		hits, err := e.Store.FindSimilar(ctx, sig, domainTag, similarityThreshold, 1)
		if err != nil {
			slog.WarnContext(ctx, "pattern store lookup failed, proceeding from scratch", "task_id", task.ID, "error", err)
		} else {
			similar = hits
		}
	}

	var source string
	var lastErr error
	for attempt := 0; attempt < maxCoReasoningAttempts; attempt++ {
		source, lastErr = e.round(ctx, run, task, sig, similar)
		if lastErr == nil {
			break
		}
		slog.WarnContext(ctx, "co-reasoning round failed, retrying", "task_id", task.ID, "attempt", attempt, "error", lastErr)
	}
	if lastErr != nil {
		return "", domain.NewFatalError(domain.ErrorExternalDependency, fmt.Errorf("synthesis failed for task %s after %d attempts: %w", task.ID, maxCoReasoningAttempts, lastErr))
	}

	if e.Cache != nil {
		e.Cache.Set(ctx, cacheKey, source)
	}
	return source, nil
}

// round runs one full strategy -> implementation -> refinement handshake
// (spec §4.8 steps 3-6), guarded by the circuit breaker.
func (e *Engine) round(ctx context.Context, run domain.RunContext, task domain.AtomicTask, sig domain.SemanticSignature, similar []domain.PatternHit) (string, error) {
	result, err := e.breaker.Execute(func() (interface{}, error) {
		strategy, err := e.designStrategy(ctx, task, sig, similar)
		if err != nil {
			return nil, fmt.Errorf("strategy role: %w", err)
		}

		impl, err := e.realizeImplementation(ctx, run, task, strategy)
		if err != nil {
			return nil, fmt.Errorf("implementation role: %w", err)
		}

		refined, err := e.refineImplementation(ctx, task, sig, impl)
		if err != nil {
			return nil, fmt.Errorf("refinement role: %w", err)
		}
		if len(refined.Violations) > 0 {
			return nil, fmt.Errorf("refinement found unresolved violations: %v", refined.Violations)
		}
		return refined.Source, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (e *Engine) designStrategy(ctx context.Context, task domain.AtomicTask, sig domain.SemanticSignature, similar []domain.PatternHit) (Strategy, error) {
	var userPrompt string
	if len(similar) > 0 {
		userPrompt = fmt.Sprintf("Adapt this pattern to the exact I/O and constraints below:\nPattern artifact:\n%s\n\nTask:\n%s", similar[0].Pattern.Artifact, taskJSON(task))
	} else {
		userPrompt = fmt.Sprintf("Design a from-scratch strategy for this task:\n%s", taskJSON(task))
	}

	return retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context, attempt int) (Strategy, error) {
		var out Strategy
		_, callErr := e.Client.Chat(ctx, llm.Request{
			SystemPrompt: "You are the strategy role. Produce a short structured plan: a summary and named steps. Never emit source code here.",
			UserPrompt:   userPrompt,
			SchemaName:   "strategy",
			Schema:       llm.GenerateSchema[Strategy](),
			Temperature:  llm.Temp(0),
		}, &out)
		return classifyCallErr(ctx, out, callErr)
	})
}

func (e *Engine) realizeImplementation(ctx context.Context, run domain.RunContext, task domain.AtomicTask, strategy Strategy) (Implementation, error) {
	userPrompt := fmt.Sprintf(
		"Stack: %s\nLine budget: %d\nStrategy:\n%s\n\nTask:\n%s",
		stackDescriptorString(run.Stack), task.LineBudget, strategyJSON(strategy), taskJSON(task),
	)

	return retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context, attempt int) (Implementation, error) {
		var out Implementation
		_, callErr := e.Client.Chat(ctx, llm.Request{
			SystemPrompt: "You are the implementation role. Realize the given strategy as source code for the named stack, staying within the line budget. Emit only source text.",
			UserPrompt:   userPrompt,
			SchemaName:   "implementation",
			Schema:       llm.GenerateSchema[Implementation](),
			Temperature:  llm.Temp(0),
		}, &out)
		return classifyCallErr(ctx, out, callErr)
	})
}

func (e *Engine) refineImplementation(ctx context.Context, task domain.AtomicTask, sig domain.SemanticSignature, impl Implementation) (Refinement, error) {
	userPrompt := fmt.Sprintf(
		"Original signature:\n%s\n\nImplementation to check:\n%s\n\nVerify every declared output is produced and no undeclared input is referenced. Fix violations in place.",
		signatureJSON(sig), impl.Source,
	)

	return retry.Do(ctx, retry.DefaultPolicy(), func(ctx context.Context, attempt int) (Refinement, error) {
		var out Refinement
		_, callErr := e.Client.Chat(ctx, llm.Request{
			SystemPrompt: "You are the strategy role performing a refinement pass over the implementation role's output.",
			UserPrompt:   userPrompt,
			SchemaName:   "refinement",
			Schema:       llm.GenerateSchema[Refinement](),
			Temperature:  llm.Temp(0),
		}, &out)
		return classifyCallErr(ctx, out, callErr)
	})
}

func classifyCallErr[T any](ctx context.Context, out T, callErr error) (T, error) {
	if callErr != nil {
		if llm.IsRetryable(ctx, callErr) {
			return out, callErr
		}
		return out, retry.Permanent(callErr)
	}
	return out, nil
}

// CacheKey derives the co-reasoning cache key from a task's semantic
// signature hash and the run's stack descriptor (spec §4.8's determinism
// note: same (signature_hash, stack_descriptor) consults cache first).
func CacheKey(signatureHash uint64, stack domain.StackDescriptor) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s", signatureHash, stackDescriptorString(stack))))
	return hex.EncodeToString(sum[:16])
}

func stackDescriptorString(s domain.StackDescriptor) string {
	return fmt.Sprintf("%s/%s/%s", s.HTTPFramework, s.ORM, s.Serialization)
}

func taskJSON(t domain.AtomicTask) string {
	b, _ := json.Marshal(t)
	return string(b)
}

func strategyJSON(s Strategy) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func signatureJSON(s domain.SemanticSignature) string {
	b, _ := json.Marshal(s)
	return string(b)
}
