package stage4

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factharbor/cb/internal/config"
	"github.com/factharbor/cb/internal/llmgw"
	"github.com/factharbor/cb/internal/model"
	"github.com/factharbor/cb/internal/prompts"
)

// routingCall dispatches a canned response by a distinguishing substring of
// the rendered prompt, mirroring the teacher's table-driven fake backends.
type routingCall struct {
	byMarker map[string]string
	fallback string
}

func (r routingCall) Call(_ context.Context, prompt string, _ int) (string, int, error) {
	for marker, text := range r.byMarker {
		if strings.Contains(prompt, marker) {
			return text, len(text) / 4, nil
		}
	}
	return r.fallback, len(r.fallback) / 4, nil
}

func newRegistry(t *testing.T) *prompts.Registry {
	reg := prompts.NewRegistry()
	templates := map[string]string{
		"debate_advocate":         "claim: {{.ClaimText}} evidence: {{.Evidence}}",
		"debate_self_consistency": "claim: {{.ClaimText}} evidence: {{.Evidence}}",
		"debate_challenge":        "claim: {{.ClaimText}} evidence: {{.Evidence}}",
		"debate_reconcile":        "claim: {{.ClaimText}} advocate: {{.AdvocateAnswer}} challenges: {{.SurvivingChallenges}}",
		"debate_validate":         "claim: {{.ClaimText}} reconciled: {{.ReconciledAnswer}}",
	}
	for name, body := range templates {
		_, err := reg.Register(name, body)
		require.NoError(t, err)
	}
	return reg
}

const advocateText = `AnswerPct: 80
ConfidencePct: 75
ShortAnswer: Largely supported by the evidence.
EvidenceID: e1
Factor: Primary government study
Explanation: Directly measures the claimed effect.
Supports: strongly_supports
Weight: high
`

const validateText = `HarmPotential: low
FactualBasis: established
IsInverted: false
IsContested: false
`

func claimFixture() model.AtomicClaim {
	return model.AtomicClaim{ID: "c1", Text: "The sky is blue.", IsCentral: true, Centrality: model.CentralityHigh}
}

func evidenceFixture() []model.EvidenceItem {
	return []model.EvidenceItem{
		{ID: "e1", ClaimID: "c1", ContextID: "ctx1", Statement: "Rayleigh scattering preferentially scatters blue light.",
			SourceAuthority: "NASA", SourceType: model.SourceGovernmentReport, ClaimDirection: model.DirectionSupports, ProbativeValue: model.ProbativeHigh},
		{ID: "e2", ClaimID: "c1", ContextID: "ctx1", Statement: "Atmospheric physics textbooks describe the same scattering effect.",
			SourceAuthority: "MIT Press", SourceType: model.SourcePeerReviewedStudy, ClaimDirection: model.DirectionSupports, ProbativeValue: model.ProbativeHigh},
	}
}

func TestDebateOne_FinalizesGroundedVerdict(t *testing.T) {
	call := routingCall{
		byMarker: map[string]string{
			"challenges:": "AnswerPct: 82\nConfidencePct: 78\nShortAnswer: Confirmed by physics.\n",
			"reconciled:": validateText,
		},
		fallback: advocateText,
	}
	deps := Deps{
		Gateway: llmgw.NewGateway(map[string]llmgw.LLMCall{"default": call}, ""),
		Prompts: newRegistry(t),
	}
	cfg := config.Default()

	claim := claimFixture()
	evidence := evidenceFixture()

	verdict, warnings := debateOne(context.Background(), deps, cfg, claim, "ctx1", evidence)

	assert.Equal(t, model.StateFinalized, verdict.State)
	assert.Equal(t, "c1", verdict.ClaimID)
	assert.Equal(t, "ctx1", verdict.ContextID)
	require.Len(t, verdict.KeyFactors, 1)
	assert.Equal(t, "e1", verdict.KeyFactors[0].EvidenceID)
	assert.Equal(t, 1.0, verdict.TriangulationScore)
	assert.Empty(t, warnings)
}

func TestGroundKeyFactors_DropsUngroundedFactor(t *testing.T) {
	factors := []model.KeyFactor{
		{EvidenceID: "e1", Factor: "real"},
		{EvidenceID: "fabricated", Factor: "fake"},
	}
	valid := map[string]bool{"e1": true}

	out := groundKeyFactors(factors, valid)
	require.Len(t, out, 1)
	assert.Equal(t, "e1", out[0].EvidenceID)
}

func TestEnforceBaselessChallengePolicy_DropsUncitedChallenge(t *testing.T) {
	valid := map[string]bool{"e1": true}
	assert.True(t, enforceBaselessChallengePolicy([]string{"e1"}, valid))
	assert.False(t, enforceBaselessChallengePolicy([]string{"fabricated"}, valid))
	assert.False(t, enforceBaselessChallengePolicy(nil, valid))
}

func TestRunChallenge_DropsBaselessChallengeAndReportsRate(t *testing.T) {
	resp := `ID: ch1
Text: This cites a real source.
CitedEvidenceIDs: e1
---
ID: ch2
Text: This cites nothing real.
CitedEvidenceIDs: fabricated
`
	deps := Deps{
		Gateway: llmgw.NewGateway(map[string]llmgw.LLMCall{"default": routingCall{fallback: resp}}, ""),
		Prompts: newRegistry(t),
	}
	validIDs := map[string]bool{"e1": true, "e2": true}

	challenges, rate, warnings, err := runChallenge(context.Background(), deps, config.Default(), claimFixture(), "evidence block", validIDs)
	require.NoError(t, err)
	require.Len(t, challenges, 1)
	assert.Equal(t, "ch1", challenges[0].ID)
	assert.Equal(t, 0.5, rate)
	require.Len(t, warnings, 1)
	assert.Equal(t, model.WarnBaselessChallenge, warnings[0].Type)
}

func TestConsistencyScore_IdenticalSamplesIsPerfect(t *testing.T) {
	assert.Equal(t, 1.0, consistencyScore([]float64{80, 80, 80}))
}

func TestConsistencyScore_WideSpreadIsLow(t *testing.T) {
	score := consistencyScore([]float64{10, 90})
	assert.Less(t, score, lowConsistencyThreshold)
}

func TestDebateOne_AdvocateFailureDegradesToFailedDebate(t *testing.T) {
	deps := Deps{
		Gateway: llmgw.NewGateway(map[string]llmgw.LLMCall{"default": routingCall{fallback: "garbage, no fields here"}}, ""),
		Prompts: newRegistry(t),
	}

	verdict, warnings := debateOne(context.Background(), deps, config.Default(), claimFixture(), "ctx1", evidenceFixture())
	assert.Equal(t, model.StateFailedDebate, verdict.State)
	assert.LessOrEqual(t, verdict.ConfidencePct, failedDebateConfidenceCap)
	require.NotEmpty(t, warnings)
	assert.Equal(t, model.WarnAnalysisGenFailed, warnings[0].Type)
}

func TestTriangulation_SingleSourceIsZero(t *testing.T) {
	evidence := []model.EvidenceItem{
		{SourceAuthority: "NASA", SourceType: model.SourceGovernmentReport},
		{SourceAuthority: "NASA", SourceType: model.SourceGovernmentReport},
	}
	assert.Equal(t, 0.0, triangulation(evidence))
}
