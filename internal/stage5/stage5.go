// Package stage5 implements Aggregation: per-claim triangulation, weighted
// aggregation across contexts, grounded narrative generation, and the
// deterministic Gate 4 classification that produces the terminal
// OverallAssessment (spec.md §4.I).
//
// Weighted aggregation is grounded *directly* on internal/search/search.go's
// ReScore: multiplicative weight composition from named, documented
// sub-scores, each contributing a neutral 1.0 rather than a phantom boost
// when its signal is unavailable. Gate 4's deterministic threshold
// classification is grounded on internal/service/quality/quality.go's
// Score — an additive/threshold scoring function from a documented rubric,
// pure and side-effect-free.
package stage5

import (
	"context"
	"fmt"
	"strings"

	"github.com/factharbor/cb/internal/config"
	"github.com/factharbor/cb/internal/llmgw"
	"github.com/factharbor/cb/internal/model"
	"github.com/factharbor/cb/internal/prompts"
	"github.com/factharbor/cb/internal/reliability"
)

// Deps bundles stage5's collaborators. Gateway is the task-tier-keyed
// gateway shared with Stages 1-3 (narrative generation runs at the
// "verdict" tier per spec.md §4.I.3). Reliability is the externally
// supplied calibration capability (spec.md §6); it is advisory only and
// never gates a verdict.
type Deps struct {
	Gateway     *llmgw.Gateway
	Prompts     *prompts.Registry
	Reliability reliability.Evaluate
}

var narrativeFields = llmgw.Fields{
	{Key: "Summary", Required: true},
}

// Run produces the terminal OverallAssessment from a fully-debated
// PipelineState. The returned warnings are stage5's own (narrative
// generation failure); the caller merges them with every earlier stage's
// warnings before attaching the combined list to the assessment.
func Run(ctx context.Context, state model.PipelineState, deps Deps, cfg config.Resolved) (model.OverallAssessment, []model.AnalysisWarning, error) {
	var warnings []model.AnalysisWarning

	matrix := coverageMatrix(state)
	claimConfidence := aggregateClaims(state, cfg, deps.Reliability)
	overallConfidence := overallConfidence(state, claimConfidence, cfg)
	gate := classifyGate(overallConfidence)

	narrative, nWarn := generateNarrative(ctx, deps, cfg, state, overallConfidence)
	warnings = append(warnings, nWarn...)

	assessment := model.OverallAssessment{
		Status:           model.StatusOK,
		VerdictNarrative: narrative,
		ClaimBoundaries:  state.Contexts,
		ClaimVerdicts:    state.Verdicts,
		CoverageMatrix:   matrix,
		QualityGates: model.QualityGates{
			Gate1:   state.Gate1Stats,
			Overall: gate,
		},
	}

	return assessment, warnings, nil
}

// coverageMatrix builds the claim x context coverage grid from every
// finalized verdict (spec.md §4.I.5).
func coverageMatrix(state model.PipelineState) model.CoverageMatrix {
	matrix := make(model.CoverageMatrix)
	for i := range state.Verdicts {
		v := state.Verdicts[i]
		if matrix[v.ClaimID] == nil {
			matrix[v.ClaimID] = make(map[string]model.CoverageEntry)
		}
		matrix[v.ClaimID][v.ContextID] = model.CoverageEntry{HasVerdict: true, Verdict: &state.Verdicts[i]}
	}
	return matrix
}

// claimAggregate is one central claim's weighted rollup across every
// context it was debated in.
type claimAggregate struct {
	weightedAnswerSum     float64
	weightedConfidenceSum float64
	weightSum             float64
}

func (a claimAggregate) confidence() float64 {
	if a.weightSum == 0 {
		return 0
	}
	return a.weightedConfidenceSum / a.weightSum
}

// aggregateClaims computes the §4.I.2 weighted aggregation per claim
// across its contexts: base weight = centralityWeight x
// harmPotentialMultiplier x probativeValueWeight x sourceTypeCalibration,
// multiplied by contestationWeights[factualBasis] when isContested.
// Counter-claims flip polarity (answerPct -> 100-answerPct) without
// reducing weight. The reliability evaluator contributes an additional,
// purely advisory multiplier (spec.md §6: "never a gate").
func aggregateClaims(state model.PipelineState, cfg config.Resolved, evaluate reliability.Evaluate) map[string]claimAggregate {
	out := make(map[string]claimAggregate)
	for _, v := range state.Verdicts {
		claim, ok := state.ClaimByID(v.ClaimID)
		if !ok {
			continue
		}
		evidence := state.EvidenceForClaimContext(v.ClaimID, v.ContextID)
		weight := baseWeight(claim, v, evidence, cfg, evaluate)

		answer := v.AnswerPct
		if claim.IsCounterClaim {
			answer = 100 - answer
		}

		agg := out[v.ClaimID]
		agg.weightedAnswerSum += weight * answer
		agg.weightedConfidenceSum += weight * v.ConfidencePct
		agg.weightSum += weight
		out[v.ClaimID] = agg
	}
	return out
}

// baseWeight composes the §4.I.2 multiplicative weight for one verdict.
// Every factor defaults to the ReScore-style neutral 1.0 when its signal
// is unavailable, never a phantom boost.
func baseWeight(claim model.AtomicClaim, v model.ClaimVerdict, evidence []model.EvidenceItem, cfg config.Resolved, evaluate reliability.Evaluate) float64 {
	weight := 1.0

	if w, ok := cfg.Calculation.CentralityWeight[claim.Centrality]; ok {
		weight *= w
	}
	if m, ok := cfg.Calculation.HarmPotentialMultiplier[v.HarmPotential]; ok {
		weight *= m
	}
	weight *= avgProbativeWeight(evidence, cfg)
	weight *= avgSourceTypeCalibration(evidence, cfg)
	weight *= avgReliability(evidence, evaluate)

	if v.IsContested {
		if c, ok := cfg.Calculation.ContestationWeights[v.FactualBasis]; ok {
			weight *= c
		}
	}

	return weight
}

func avgProbativeWeight(evidence []model.EvidenceItem, cfg config.Resolved) float64 {
	if len(evidence) == 0 {
		return 1.0
	}
	var sum float64
	for _, e := range evidence {
		if w, ok := cfg.Calculation.ProbativeValueWeights[e.ProbativeValue]; ok {
			sum += w
		} else {
			sum += 1.0
		}
	}
	return sum / float64(len(evidence))
}

func avgSourceTypeCalibration(evidence []model.EvidenceItem, cfg config.Resolved) float64 {
	if len(evidence) == 0 {
		return 1.0
	}
	var sum float64
	for _, e := range evidence {
		if w, ok := cfg.Calculation.SourceTypeCalibration[e.SourceType]; ok {
			sum += w
		} else {
			sum += 1.0
		}
	}
	return sum / float64(len(evidence))
}

func avgReliability(evidence []model.EvidenceItem, evaluate reliability.Evaluate) float64 {
	if evaluate == nil || len(evidence) == 0 {
		return 1.0
	}
	var sum float64
	for _, e := range evidence {
		rating, err := evaluate(domainOf(e.SourceURL))
		sum += reliability.CalibrationMultiplier(rating, err)
	}
	return sum / float64(len(evidence))
}

func domainOf(rawURL string) string {
	u := rawURL
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexAny(u, "/?#"); i >= 0 {
		u = u[:i]
	}
	return u
}

// triangulationScore is the §4.I.1 formula: the fraction of a claim's full
// evidence set (across every context) drawn from at least two distinct
// source authorities AND at least two distinct source types. This full-claim
// figure feeds the overall confidence computation below; it is distinct
// from stage4's per-(claim,context) ClaimVerdict.TriangulationScore field
// (see DESIGN.md).
func triangulationScore(evidence []model.EvidenceItem) float64 {
	if len(evidence) == 0 {
		return 0
	}
	authorities := map[string]bool{}
	types := map[model.SourceType]bool{}
	for _, e := range evidence {
		authorities[e.SourceAuthority] = true
		types[e.SourceType] = true
	}
	if len(authorities) >= 2 && len(types) >= 2 {
		return 1
	}
	return 0
}

// overallConfidence rolls every central claim's aggregated confidence (each
// scaled by its own triangulation score, so well-corroborated claims count
// more toward the job-level Gate 4 classification) into a single number
// Gate 4 classifies deterministically. Falls back to every claim when no
// claim is central.
func overallConfidence(state model.PipelineState, claims map[string]claimAggregate, cfg config.Resolved) float64 {
	pool := state.CentralClaims()
	if len(pool) == 0 {
		pool = state.Claims
	}
	if len(pool) == 0 {
		return 0
	}

	var weightedSum, weightSum float64
	for _, claim := range pool {
		agg, ok := claims[claim.ID]
		if !ok {
			continue
		}
		tri := triangulationScore(state.EvidenceForClaim(claim.ID))
		triFactor := 0.7 + 0.3*tri // triangulated claims get a modest, capped boost
		w := cfg.Calculation.CentralityWeight[claim.Centrality]
		if w == 0 {
			w = 1
		}
		weightedSum += w * triFactor * agg.confidence()
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return model.Clamp01To100(weightedSum / weightSum)
}

// classifyGate implements Gate 4's deterministic threshold classification
// (spec.md §4.I.4, §8).
func classifyGate(confidence float64) model.QualityGate {
	switch {
	case confidence >= model.GateHighThreshold:
		return model.GateHigh
	case confidence >= model.GateMediumThreshold:
		return model.GateMedium
	case confidence > 0:
		return model.GateLow
	default:
		return model.GateInsufficient
	}
}

// generateNarrative produces a grounded paragraph per context plus an
// overall summary citing claim ids (spec.md §4.I.3). A render or gateway
// failure degrades to an empty narrative with an analysis_generation_failed
// warning rather than failing the job (stage-recoverable per spec.md §7).
func generateNarrative(ctx context.Context, deps Deps, cfg config.Resolved, state model.PipelineState, overallConfidence float64) (string, []model.AnalysisWarning) {
	if len(state.Verdicts) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, v := range state.Verdicts {
		claim, _ := state.ClaimByID(v.ClaimID)
		fmt.Fprintf(&sb, "Claim %s (%s) in context %s: answer=%.1f confidence=%.1f\n", v.ClaimID, claim.Text, v.ContextID, v.AnswerPct, v.ConfidencePct)
	}

	prompt, rolledBack, err := deps.Prompts.Render(cfg.Prompts.Names["stage5_narrative"], map[string]any{
		"Verdicts":          sb.String(),
		"OverallConfidence": fmt.Sprintf("%.1f", overallConfidence),
	})
	var warnings []model.AnalysisWarning
	if rolledBack {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnPromptRenderError, Message: "stage5 narrative prompt rolled back"})
	}
	if err != nil {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnAnalysisGenFailed, Message: "narrative prompt render failed: " + err.Error()})
		return "", warnings
	}

	resp, err := deps.Gateway.Call(ctx, "verdict", llmgw.LLMRequest{Prompt: prompt.Text, PromptHash: prompt.PromptHash, Fields: narrativeFields, MaxTokens: 1500})
	if err != nil {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnAnalysisGenFailed, Message: "narrative generation failed: " + err.Error()})
		return "", warnings
	}
	warnings = append(warnings, llmgw.RepairWarning(resp, "verdict narrative")...)

	return resp.Parsed["Summary"], warnings
}
