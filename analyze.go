package cb

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/factharbor/cb/internal/collector"
	"github.com/factharbor/cb/internal/config"
	"github.com/factharbor/cb/internal/llmgw"
	"github.com/factharbor/cb/internal/model"
	"github.com/factharbor/cb/internal/searchgw"
	"github.com/factharbor/cb/internal/stage1"
	"github.com/factharbor/cb/internal/stage2"
	"github.com/factharbor/cb/internal/stage3"
	"github.com/factharbor/cb/internal/stage4"
	"github.com/factharbor/cb/internal/stage5"
	"github.com/factharbor/cb/internal/telemetry"
)

// debateProviderNames is every provider name Stage 4's built-in debate
// profiles reference, plus "default" (the global fallback every profile
// can fall back to). A caller-supplied debateProfile layer naming a
// provider outside this set still resolves correctly: resolveProvider
// falls back to Deps.LLM for any name with no WithProvider registration.
var debateProviderNames = []string{"default", "premium", "anthropic", "openai", "google"}

// countingLLMCall wraps an llmgw.LLMCall so every call through it is
// recorded against the job's collector and local tallies, without
// requiring internal/llmgw or the stages themselves to know about metrics.
type countingLLMCall struct {
	inner  llmgw.LLMCall
	label  string
	col    *collector.Collector
	calls  *atomic.Int64
	tokens *atomic.Int64
}

func (c countingLLMCall) Call(ctx context.Context, prompt string, maxTokens int) (string, int, error) {
	text, tokens, err := c.inner.Call(ctx, prompt, maxTokens)
	c.calls.Add(1)
	c.tokens.Add(int64(tokens))
	c.col.RecordLLMCall(ctx, c.label, tokens)
	return text, tokens, err
}

// countingSearch wraps a searchgw.Search the same way for per-job query
// counting (spec.md §6 AnalysisMetrics.SearchQueries).
type countingSearch struct {
	inner   searchgw.Search
	col     *collector.Collector
	queries *atomic.Int64
}

func (c countingSearch) Search(ctx context.Context, query string, opts searchgw.Options) ([]searchgw.Result, error) {
	c.queries.Add(1)
	c.col.RecordSearchQuery(ctx)
	return c.inner.Search(ctx, query, opts)
}

// resolveProvider returns the caller-registered provider for name, falling
// back to the single required Deps.LLM when none was registered via
// WithProvider (spec.md §6; see DESIGN.md for why Deps carries one LLMCall
// rather than a map).
func (p *Pipeline) resolveProvider(name string) llmgw.LLMCall {
	if call, ok := p.opts.providers[name]; ok {
		return call
	}
	return p.deps.LLM
}

// buildGateways constructs this job's two Gateway views over Deps.LLM: a
// task-tier-keyed gateway for Stages 1-3 and 5, and a provider-name-keyed
// gateway for Stage 4's DebateProfile routing (spec.md §4.C). Both wrap
// every provider in a countingLLMCall bound to col so token/call metrics
// are scoped to this job, even though the underlying providers persist
// across jobs.
func (p *Pipeline) buildGateways(col *collector.Collector, calls, tokens *atomic.Int64) (tierGW, providerGW *llmgw.Gateway) {
	wrap := func(label string) llmgw.LLMCall {
		return countingLLMCall{inner: p.resolveProvider(label), label: label, col: col, calls: calls, tokens: tokens}
	}

	tierProviders := map[string]llmgw.LLMCall{
		"understand": wrap("understand"),
		"extract":    wrap("extract"),
		"verdict":    wrap("verdict"),
	}
	tierGW = llmgw.NewGateway(tierProviders, "understand")
	tierGW.ModelNames = map[string]string{
		"understand": p.cfg.Tiering.ModelUnderstand,
		"extract":    p.cfg.Tiering.ModelExtractEvidence,
		"verdict":    p.cfg.Tiering.ModelVerdict,
	}
	tierGW.Recorder = col.RecordLLMOutcome

	names := append([]string(nil), debateProviderNames...)
	for role := range p.cfg.Debate.Providers {
		names = append(names, p.cfg.Debate.Providers[role])
	}
	seen := map[string]bool{}
	providerProviders := map[string]llmgw.LLMCall{}
	for _, name := range names {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		providerProviders[name] = wrap(name)
	}
	providerGW = llmgw.NewGateway(providerProviders, "default")
	providerGW.Recorder = col.RecordLLMOutcome

	return tierGW, providerGW
}

// Analyze runs one job through the five-stage pipeline against in,
// producing the terminal OverallAssessment (spec.md §6). Every stage's
// warnings accumulate in a per-job collector; a stage-fatal error aborts
// the job immediately (spec.md §7). Context cancellation between stages
// produces a best-effort partial assessment plus ErrCancelled rather than
// a bare context error.
func (p *Pipeline) Analyze(ctx context.Context, in model.Input) (model.OverallAssessment, error) {
	clock := p.deps.Clock
	in.SubmittedAt = clock()

	jobID := uuid.NewString()
	ctx, span := telemetry.Tracer("cb/pipeline").Start(ctx, "cb.analyze",
		trace.WithAttributes(attribute.String("factharbor.job_id", jobID)))
	defer span.End()

	logger := p.logger.With("job_id", jobID)
	logger.Info("analysis starting", "kind", string(in.Kind), "input_chars", len(in.Text))

	col := collector.New(p.opts.meter)
	col.PushAll(p.startupWarnings)
	p.warnUnregisteredDebateProviders(col)

	var llmCalls, llmTokens, searchQueries atomic.Int64
	tierGW, providerGW := p.buildGateways(col, &llmCalls, &llmTokens)

	search := countingSearch{inner: p.deps.Search, col: col, queries: &searchQueries}
	searchGW := searchgw.NewGateway(search, p.cfg.Search.QueryBudget,
		time.Duration(p.cfg.Search.TimeoutMS)*time.Millisecond,
		searchgw.Filters{
			DomainWhitelist: p.cfg.Search.DomainWhitelist,
			DomainBlacklist: p.cfg.Search.DomainBlacklist,
			DateRestrict:    p.cfg.Search.DateRestrict,
		})

	ids := p.opts.idSourceFactory()

	state := model.PipelineState{Input: in}
	var phaseTimings []model.PhaseTiming

	runPhase := func(name string, fn func() (model.PipelineState, []model.AnalysisWarning, error)) error {
		span.AddEvent("stage", trace.WithAttributes(attribute.String("factharbor.stage", name)))
		start := clock()
		next, warnings, err := fn()
		phaseTimings = append(phaseTimings, model.PhaseTiming{Phase: name, DurationMS: clock().Sub(start).Milliseconds()})
		col.RecordPhase(ctx, name, clock().Sub(start))
		col.PushAll(warnings)
		if err != nil {
			logger.Error("stage failed", "stage", name, "error", err)
			return err
		}
		logger.Debug("stage complete", "stage", name, "warnings", len(warnings))
		state = next
		return nil
	}

	stages := []struct {
		name string
		fn   func() (model.PipelineState, []model.AnalysisWarning, error)
	}{
		{"claim_boundary_extraction", func() (model.PipelineState, []model.AnalysisWarning, error) {
			return stage1.Run(ctx, state, stage1.Deps{Gateway: tierGW, Prompts: p.prompts, IDs: ids}, p.cfg)
		}},
		{"research", func() (model.PipelineState, []model.AnalysisWarning, error) {
			return stage2.Run(ctx, state, stage2.Deps{Gateway: tierGW, Search: searchGW, Prompts: p.prompts, IDs: ids, Logger: p.logger}, p.cfg)
		}},
		{"boundary_clustering", func() (model.PipelineState, []model.AnalysisWarning, error) {
			return stage3.Run(ctx, state, stage3.Deps{Gateway: tierGW, Prompts: p.prompts, IDs: ids}, p.cfg)
		}},
		{"verdict_debate", func() (model.PipelineState, []model.AnalysisWarning, error) {
			return stage4.Run(ctx, state, stage4.Deps{Gateway: providerGW, Prompts: p.prompts, GlobalProvider: "default", Logger: p.logger}, p.cfg)
		}},
	}

	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			logger.Warn("analysis cancelled", "before_stage", st.name)
			return p.partialAssessment(jobID, state, col, phaseTimings, err), fmt.Errorf("%w: %v", ErrCancelled, err)
		}
		if err := runPhase(st.name, st.fn); err != nil {
			return model.OverallAssessment{}, p.wrapStageError(st.name, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return p.partialAssessment(jobID, state, col, phaseTimings, err), fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	start := clock()
	assessment, aggWarnings, err := stage5.Run(ctx, state, stage5.Deps{Gateway: tierGW, Prompts: p.prompts, Reliability: p.reliable}, p.cfg)
	phaseTimings = append(phaseTimings, model.PhaseTiming{Phase: "aggregation", DurationMS: clock().Sub(start).Milliseconds()})
	col.RecordPhase(ctx, "aggregation", clock().Sub(start))
	col.PushAll(aggWarnings)
	if err != nil {
		return model.OverallAssessment{}, p.wrapStageError("aggregation", err)
	}

	assessment.JobID = jobID
	assessment.Warnings = col.All()
	assessment.Metrics = model.AnalysisMetrics{
		PhaseTimings:   phaseTimings,
		LLMCalls:       int(llmCalls.Load()),
		LLMCallRecords: col.LLMCallRecords(),
		SearchQueries:  int(searchQueries.Load()),
		Gate1Stats:     state.Gate1Stats,
		TotalTokens:    int(llmTokens.Load()),
		BaselessAdjustmentRate: meanBaselessRate(state.Verdicts),
		QueryBudgetUsage:       queryBudgetUsage(state.Claims, searchGW),
	}

	if p.opts.warningsSink != nil {
		p.opts.warningsSink(assessment.Warnings)
	}

	logger.Info("analysis complete",
		"gate", string(assessment.QualityGates.Overall),
		"verdicts", len(assessment.ClaimVerdicts),
		"warnings", len(assessment.Warnings),
		"tokens", assessment.Metrics.TotalTokens)

	return assessment, nil
}

// partialAssessment builds a best-effort OverallAssessment from whatever
// PipelineState a job reached before cancellation, without issuing any
// further LLM or search calls (spec.md §7: "finalize a partial assessment
// with a job_cancelled warning rather than propagating a bare context
// error").
func (p *Pipeline) partialAssessment(jobID string, state model.PipelineState, col *collector.Collector, phaseTimings []model.PhaseTiming, cause error) model.OverallAssessment {
	col.Push(model.AnalysisWarning{
		Type:    model.WarnJobCancelled,
		Message: "analysis cancelled: " + cause.Error(),
	})

	matrix := make(model.CoverageMatrix)
	for i := range state.Verdicts {
		v := state.Verdicts[i]
		if matrix[v.ClaimID] == nil {
			matrix[v.ClaimID] = make(map[string]model.CoverageEntry)
		}
		matrix[v.ClaimID][v.ContextID] = model.CoverageEntry{HasVerdict: true, Verdict: &state.Verdicts[i]}
	}

	return model.OverallAssessment{
		JobID:           jobID,
		Status:          model.StatusDegraded,
		FailureReason:   "cancelled",
		ClaimBoundaries: state.Contexts,
		ClaimVerdicts:   state.Verdicts,
		CoverageMatrix:  matrix,
		QualityGates:    model.QualityGates{Gate1: state.Gate1Stats, Overall: model.GateInsufficient},
		Warnings:        col.All(),
		Metrics:         model.AnalysisMetrics{PhaseTimings: phaseTimings, Gate1Stats: state.Gate1Stats},
	}
}

// warnUnregisteredDebateProviders emits debate_provider_fallback for every
// debate role whose configured provider has no WithProvider registration —
// the missing-credential case in spec.md §4.C.6: the role silently resolves
// to the global provider, and the warning records configured vs actual.
func (p *Pipeline) warnUnregisteredDebateProviders(col *collector.Collector) {
	for _, role := range []string{"advocate", "selfConsistency", "challenger", "reconciler", "validation"} {
		name := p.cfg.Debate.Providers[config.DebateRole(role)]
		if name == "" || name == "default" {
			continue
		}
		if _, ok := p.opts.providers[name]; ok {
			continue
		}
		col.Push(model.AnalysisWarning{
			Type:    model.WarnDebateProviderFallback,
			Message: fmt.Sprintf("debate role %q configured for provider %q, which has no registered backend; using the global provider", role, name),
			Details: map[string]any{
				"role":               role,
				"configuredProvider": name,
				"fallbackProvider":   "default",
			},
		})
	}
}

// wrapStageError classifies a stage-fatal error against the sentinel
// vocabulary (spec.md §7). An error whose text names a prompt render
// wraps ErrPromptRegistry; any other Stage 1 failure means the claim
// boundary extraction's two-pass LLM sequence could not produce a usable
// claim set and wraps ErrPass2Refusal; every other stage's failure wraps
// as a generic job-fatal error (stages besides Stage 1 export no granular
// sentinels of their own).
func (p *Pipeline) wrapStageError(stage string, err error) error {
	if strings.Contains(err.Error(), "render") && strings.Contains(err.Error(), "prompt") {
		return fmt.Errorf("%w: %s: %v", ErrPromptRegistry, stage, err)
	}
	if stage == "claim_boundary_extraction" {
		return fmt.Errorf("%w: %v", ErrPass2Refusal, err)
	}
	return fmt.Errorf("cb: %s stage failed: %w", stage, err)
}

func meanBaselessRate(verdicts []model.ClaimVerdict) float64 {
	if len(verdicts) == 0 {
		return 0
	}
	var sum float64
	for _, v := range verdicts {
		sum += v.BaselessAdjustmentRate
	}
	return sum / float64(len(verdicts))
}

func queryBudgetUsage(claims []model.AtomicClaim, gw *searchgw.Gateway) map[string]int {
	if len(claims) == 0 {
		return nil
	}
	usage := make(map[string]int, len(claims))
	for _, c := range claims {
		usage[c.ID] = gw.UsageForClaim(c.ID)
	}
	return usage
}
