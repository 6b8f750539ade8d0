package stage5

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factharbor/cb/internal/config"
	"github.com/factharbor/cb/internal/llmgw"
	"github.com/factharbor/cb/internal/model"
	"github.com/factharbor/cb/internal/prompts"
	"github.com/factharbor/cb/internal/reliability"
)

type stubCall struct{ text string }

func (s stubCall) Call(_ context.Context, _ string, _ int) (string, int, error) {
	return s.text, len(s.text) / 4, nil
}

func newDeps(t *testing.T, narrativeText string) Deps {
	reg := prompts.NewRegistry()
	_, err := reg.Register("aggregation_narrative", "verdicts: {{.Verdicts}} confidence: {{.OverallConfidence}}")
	require.NoError(t, err)

	gw := llmgw.NewGateway(map[string]llmgw.LLMCall{"verdict": stubCall{text: narrativeText}}, "")
	return Deps{Gateway: gw, Prompts: reg}
}

func highConfidenceState() model.PipelineState {
	return model.PipelineState{
		Claims: []model.AtomicClaim{
			{ID: "c1", Text: "The sky is blue.", IsCentral: true, Centrality: model.CentralityHigh},
		},
		Evidence: []model.EvidenceItem{
			{ID: "e1", ClaimID: "c1", ContextID: "ctx1", SourceAuthority: "NASA", SourceType: model.SourceGovernmentReport, ProbativeValue: model.ProbativeHigh},
			{ID: "e2", ClaimID: "c1", ContextID: "ctx1", SourceAuthority: "MIT Press", SourceType: model.SourcePeerReviewedStudy, ProbativeValue: model.ProbativeHigh},
		},
		Verdicts: []model.ClaimVerdict{
			{ClaimID: "c1", ContextID: "ctx1", AnswerPct: 92, ConfidencePct: 90, HarmPotential: model.HarmLow, FactualBasis: model.BasisEstablished, State: model.StateFinalized},
		},
	}
}

func TestRun_HighConfidenceProducesHighGate(t *testing.T) {
	deps := newDeps(t, "Summary: The sky's blueness is well established by claim c1.")
	assessment, warnings, err := Run(context.Background(), highConfidenceState(), deps, config.Default())
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, model.GateHigh, assessment.QualityGates.Overall)
	assert.Equal(t, model.StatusOK, assessment.Status)
	assert.Contains(t, assessment.VerdictNarrative, "c1")
	require.Contains(t, assessment.CoverageMatrix, "c1")
	assert.True(t, assessment.CoverageMatrix["c1"]["ctx1"].HasVerdict)
}

func TestRun_NoVerdictsProducesInsufficientGate(t *testing.T) {
	deps := newDeps(t, "Summary: nothing to report.")
	state := model.PipelineState{Claims: []model.AtomicClaim{{ID: "c1", IsCentral: true, Centrality: model.CentralityHigh}}}

	assessment, _, err := Run(context.Background(), state, deps, config.Default())
	require.NoError(t, err)
	assert.Equal(t, model.GateInsufficient, assessment.QualityGates.Overall)
	assert.Empty(t, assessment.VerdictNarrative)
}

func TestClassifyGate_Thresholds(t *testing.T) {
	assert.Equal(t, model.GateHigh, classifyGate(70))
	assert.Equal(t, model.GateMedium, classifyGate(40))
	assert.Equal(t, model.GateLow, classifyGate(1))
	assert.Equal(t, model.GateInsufficient, classifyGate(0))
}

func TestAggregateClaims_ContestedClaimIsDownweighted(t *testing.T) {
	cfg := config.Default()
	state := model.PipelineState{
		Claims: []model.AtomicClaim{{ID: "c1", Centrality: model.CentralityHigh}},
		Verdicts: []model.ClaimVerdict{
			{ClaimID: "c1", ContextID: "ctx1", AnswerPct: 80, ConfidencePct: 80, IsContested: true, FactualBasis: model.BasisEstablished},
		},
	}
	contested := aggregateClaims(state, cfg, nil)

	state.Verdicts[0].IsContested = false
	uncontested := aggregateClaims(state, cfg, nil)

	assert.Less(t, contested["c1"].weightSum, uncontested["c1"].weightSum)
}

func TestAggregateClaims_CounterClaimFlipsPolarityNotWeight(t *testing.T) {
	cfg := config.Default()
	state := model.PipelineState{
		Claims:   []model.AtomicClaim{{ID: "c1", Centrality: model.CentralityHigh, IsCounterClaim: true}},
		Verdicts: []model.ClaimVerdict{{ClaimID: "c1", ContextID: "ctx1", AnswerPct: 80, ConfidencePct: 80, FactualBasis: model.BasisEstablished}},
	}
	agg := aggregateClaims(state, cfg, nil)
	require.Contains(t, agg, "c1")
	assert.InDelta(t, agg["c1"].weightSum*20, agg["c1"].weightedAnswerSum, 0.001)
}

func TestTriangulationScore_TwoAuthoritiesTwoTypes(t *testing.T) {
	evidence := []model.EvidenceItem{
		{SourceAuthority: "NASA", SourceType: model.SourceGovernmentReport},
		{SourceAuthority: "MIT Press", SourceType: model.SourcePeerReviewedStudy},
	}
	assert.Equal(t, 1.0, triangulationScore(evidence))
}

func TestTriangulationScore_SingleAuthorityIsZero(t *testing.T) {
	evidence := []model.EvidenceItem{
		{SourceAuthority: "NASA", SourceType: model.SourceGovernmentReport},
		{SourceAuthority: "NASA", SourceType: model.SourceGovernmentReport},
	}
	assert.Equal(t, 0.0, triangulationScore(evidence))
}

func TestAvgReliability_NilEvaluatorIsNeutral(t *testing.T) {
	assert.Equal(t, 1.0, avgReliability([]model.EvidenceItem{{SourceURL: "https://example.com/a"}}, nil))
}

func TestAvgReliability_UsesEvaluatorScore(t *testing.T) {
	score := 0.4
	evaluate := func(domain string) (reliability.Rating, error) {
		assert.Equal(t, "example.com", domain)
		return reliability.Rating{Score: &score}, nil
	}
	got := avgReliability([]model.EvidenceItem{{SourceURL: "https://example.com/a"}}, evaluate)
	assert.Equal(t, 0.4, got)
}

func TestGenerateNarrative_GatewayFailureEmitsWarning(t *testing.T) {
	reg := prompts.NewRegistry()
	_, err := reg.Register("aggregation_narrative", "verdicts: {{.Verdicts}} confidence: {{.OverallConfidence}}")
	require.NoError(t, err)
	deps := Deps{Gateway: llmgw.NewGateway(nil, ""), Prompts: reg}
	state := model.PipelineState{
		Verdicts: []model.ClaimVerdict{{ClaimID: "c1", ContextID: "ctx1"}},
	}

	narrative, warnings := generateNarrative(context.Background(), deps, config.Default(), state, 50)
	assert.Empty(t, narrative)
	require.Len(t, warnings, 1)
	assert.Equal(t, model.WarnAnalysisGenFailed, warnings[0].Type)
}
