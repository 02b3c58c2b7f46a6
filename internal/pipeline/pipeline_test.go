package pipeline_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"devmatrix.dev/core/common/llm"
	"devmatrix.dev/core/internal/atomizer"
	"devmatrix.dev/core/internal/domain"
	"devmatrix.dev/core/internal/learning"
	"devmatrix.dev/core/internal/patternstore"
	"devmatrix.dev/core/internal/pipeline"
	"devmatrix.dev/core/internal/planner"
	"devmatrix.dev/core/internal/repair"
	"devmatrix.dev/core/internal/specparser"
	"devmatrix.dev/core/internal/validation"
)

// fakePlannerClient returns a single fixed, invariant-satisfying masterplan
// for every pass so Planner.Plan never retries or fails.
type fakePlannerClient struct {
	plan planner.Masterplan
}

func (f fakePlannerClient) Chat(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
	out := result.(*planner.Masterplan)
	*out = f.plan
	return &llm.Response{}, nil
}

func (f fakePlannerClient) Model() string { return "fake-planner" }

// fakeSynthesizer stands in for C8 (Cognitive Inference Engine); it never
// calls an LLM, it just emits deterministic placeholder source per task.
type fakeSynthesizer struct {
	calls int
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _ domain.RunContext, task domain.AtomicTask, _ domain.SemanticSignature) (string, error) {
	f.calls++
	return "package synthesized\n\nfunc " + task.ID + "() {}\n", nil
}

// cancelingSynthesizer synthesizes its first task normally, then cancels the
// run's own context before returning from every subsequent call, simulating
// a caller-initiated cancellation arriving mid-synthesis (spec §8 scenario F).
type cancelingSynthesizer struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	calls  int
}

func (f *cancelingSynthesizer) Synthesize(_ context.Context, _ domain.RunContext, task domain.AtomicTask, _ domain.SemanticSignature) (string, error) {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.mu.Unlock()
	if !first {
		f.cancel()
	}
	return "package synthesized\n\nfunc " + task.ID + "() {}\n", nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// fakeMetaStore is an in-memory patternstore.MetadataStore double, mirroring
// internal/patternstore's own test fake so this package doesn't need Postgres.
type fakeMetaStore struct {
	mu         sync.Mutex
	candidates map[uint64]domain.PatternCandidate
}

func newFakeMetaStore() *fakeMetaStore {
	return &fakeMetaStore{candidates: map[uint64]domain.PatternCandidate{}}
}

func (f *fakeMetaStore) UpsertCandidate(_ context.Context, c domain.PatternCandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates[c.SignatureHash] = c
	return nil
}

func (f *fakeMetaStore) IncrementUsage(_ context.Context, hash uint64, success bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.candidates[hash]
	c.UsageCount++
	if success {
		c.SuccessCount++
	}
	f.candidates[hash] = c
	return nil
}

func (f *fakeMetaStore) Candidate(_ context.Context, hash uint64) (domain.PatternCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.candidates[hash]
	if !ok {
		return domain.PatternCandidate{}, patternstore.ErrNotFound
	}
	return c, nil
}

func (f *fakeMetaStore) ListCandidates(_ context.Context) ([]domain.PatternCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PatternCandidate, 0, len(f.candidates))
	for _, c := range f.candidates {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeMetaStore) PromotePattern(_ context.Context, p domain.Pattern) error {
	return nil
}

func newSpec() domain.SpecDocument {
	schema := []byte(`{
		"entities": [{"entity": "Widget", "fields": [{"name": "Name", "type": "string", "required": true}]}],
		"endpoints": [{"method": "GET", "path": "/widgets", "operation_id": "listWidgets", "responses": {"200": "Widget"}}]
	}`)
	return domain.SpecDocument{
		Sections: []domain.SpecSection{
			{Heading: "Widgets", Prose: "Manage widgets.", Schema: schema},
		},
		RawText: "Manage widgets.",
	}
}

func newMasterplan() planner.Masterplan {
	return planner.Masterplan{
		Modules: []planner.ContractModule{{Name: "widgets", Kind: "services"}},
		PlannedTasks: []planner.PlannedTask{
			{ID: "t1", Module: "widgets", Purpose: "create widget record", Outputs: []string{"WidgetID"}},
			{ID: "t2", Module: "widgets", Purpose: "list widgets", Inputs: []string{"WidgetID"}, Predecessors: []string{"t1"}},
		},
	}
}

func newDeps(t *testing.T, synth pipeline.Synthesizer) pipeline.Deps {
	t.Helper()
	store := patternstore.New(patternstore.NewInMemoryIndex(), newFakeMetaStore(), fakeEmbedder{})
	return pipeline.Deps{
		SpecParser: specparser.New(),
		Validation: validation.NewExtractor(nil),
		Planner:    planner.Planner{Client: fakePlannerClient{plan: newMasterplan()}},
		Atomizer:   atomizer.Atomizer{},
		Inference:  synth,
		Repair:     repair.New(nil),
		Learning:   learning.New(store),
	}
}

func groundTruth() *domain.GroundTruth {
	return &domain.GroundTruth{
		EntityNames: []string{"Widget"},
		Endpoints:   []domain.EndpointKey{{Method: domain.MethodGET, Path: "/widgets"}},
		ValidationRules: []domain.ValidationRuleKey{
			{Entity: "Widget", Attribute: "Name", Kind: domain.ValidationPresence},
		},
	}
}

func TestPipeline_RunConvergesToSuccess(t *testing.T) {
	synth := &fakeSynthesizer{}
	p := pipeline.New(newDeps(t, synth))

	run := domain.RunContext{
		RunID:       "run-1",
		Spec:        newSpec(),
		GroundTruth: groundTruth(),
		CreatedAt:   time.Now(),
	}

	files, report := p.Run(context.Background(), run)

	require.Equal(t, domain.RunStatusSuccess, report.Status)
	require.Empty(t, report.FailingPhase)
	require.Len(t, report.Phases, 10)
	require.InDelta(t, 1.0, report.OverallCompliance, 0.0001)
	require.Positive(t, synth.calls, "synthesis phase should have invoked the inference engine for every atomic task")
	require.NotEmpty(t, files)
}

func TestPipeline_ContextCancelledBeforeStartSkipsAllPhases(t *testing.T) {
	synth := &fakeSynthesizer{}
	p := pipeline.New(newDeps(t, synth))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run := domain.RunContext{RunID: "run-2", Spec: newSpec(), GroundTruth: groundTruth()}
	files, report := p.Run(ctx, run)

	require.Equal(t, domain.RunStatusCancelled, report.Status)
	require.Len(t, report.Phases, 1)
	require.False(t, report.Phases[0].Succeeded)
	require.Zero(t, synth.calls)
	require.Empty(t, files, "a cancelled run must never carry partial synthesized files")
}

func TestPipeline_ContextCancelledMidSynthesisDiscardsPartialFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	synth := &cancelingSynthesizer{cancel: cancel}
	p := pipeline.New(newDeps(t, synth))

	run := domain.RunContext{
		RunID:       "run-cancel-mid",
		Spec:        newSpec(),
		GroundTruth: groundTruth(),
	}
	files, report := p.Run(ctx, run)

	require.Equal(t, domain.RunStatusCancelled, report.Status)
	require.Empty(t, files, "files synthesized before cancellation must not be persisted")
}

func TestPipeline_RunTimeoutFailsEarly(t *testing.T) {
	synth := &fakeSynthesizer{}
	p := pipeline.New(newDeps(t, synth))

	run := domain.RunContext{
		RunID:       "run-3",
		Spec:        newSpec(),
		GroundTruth: groundTruth(),
		RunTimeout:  time.Nanosecond,
	}
	time.Sleep(time.Millisecond)

	_, report := p.Run(context.Background(), run)

	// RunTimeout expiring is a context deadline, not a phase-level error,
	// so it resolves to cancelled rather than failed (spec §8 scenario F).
	require.Equal(t, domain.RunStatusCancelled, report.Status)
	require.NotEmpty(t, report.FailingPhase)
}

func TestPipeline_MalformedSpecFailsAtSpecParsing(t *testing.T) {
	synth := &fakeSynthesizer{}
	p := pipeline.New(newDeps(t, synth))

	run := domain.RunContext{RunID: "run-4", Spec: domain.SpecDocument{RawText: "nothing to see here"}}
	_, report := p.Run(context.Background(), run)

	require.Equal(t, domain.RunStatusFailed, report.Status)
	require.Equal(t, domain.PhaseSpecParsing, report.FailingPhase)
	require.Len(t, report.Phases, 1)
	require.Zero(t, synth.calls)
}
