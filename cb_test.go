package cb

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factharbor/cb/internal/model"
	"github.com/factharbor/cb/internal/searchgw"
)

// fakeLLM routes on the marker word each fixture template begins with, so
// one backend can play every tier and debate role in an end-to-end run.
type fakeLLM struct {
	byMarker map[string]string
}

func (f fakeLLM) Call(_ context.Context, prompt string, _ int) (string, int, error) {
	for marker, text := range f.byMarker {
		if strings.HasPrefix(prompt, marker) {
			return text, len(text) / 4, nil
		}
	}
	return "", 0, nil
}

type fakeSearch struct{}

func (fakeSearch) Search(_ context.Context, _ string, _ searchgw.Options) ([]searchgw.Result, error) {
	return []searchgw.Result{
		{URL: "https://nasa.example.gov/scattering", Title: "Why is the sky blue?", Snippet: "Rayleigh scattering of sunlight."},
		{URL: "https://press.example.edu/optics", Title: "Atmospheric optics", Snippet: "Sky radiance measurements."},
	}, nil
}

type fakeStore struct{ templates map[string]string }

func (s fakeStore) Templates() map[string]string { return s.templates }

func fixtureStore() fakeStore {
	return fakeStore{templates: map[string]string{
		"claim_boundary_pass1":      "PASS1 {{.Text}} {{.Kind}} {{.Locale}}",
		"claim_boundary_pass2":      "PASS2 {{.ImpliedClaim}} {{.TopicStubs}}",
		"research_query_gen":        "QUERYGEN {{.ClaimText}} {{.Mode}}",
		"research_relevance":        "RELEVANCE {{.ClaimText}} {{.Hits}}",
		"research_evidence_extract": "EXTRACT {{.ClaimText}} {{.Hits}}",
		"boundary_cluster":          "CLUSTER {{.Evidence}}",
		"boundary_merge":            "MERGE {{.NameA}} {{.NameB}}",
		"boundary_assign":           "ASSIGN {{.Contexts}} {{.Evidence}}",
		"debate_advocate":           "ADVOCATE {{.ClaimText}} {{.Evidence}}",
		"debate_self_consistency":   "CONSISTENCY {{.ClaimText}} {{.Evidence}}",
		"debate_challenge":          "CHALLENGE {{.ClaimText}} {{.Evidence}}",
		"debate_reconcile":          "RECONCILE {{.ClaimText}} {{.AdvocateAnswer}} {{.AdvocateSummary}} {{.SurvivingChallenges}} {{.Evidence}}",
		"debate_validate":           "VALIDATE {{.ClaimText}} {{.ReconciledAnswer}} {{.ReconciledSummary}} {{.Evidence}}",
		"aggregation_narrative":     "NARRATIVE {{.Verdicts}} {{.OverallConfidence}}",
	}}
}

func fixtureResponses() map[string]string {
	return map[string]string{
		"PASS1": `Classification: single_atomic_claim
ImpliedClaim: The sky is blue
---
Text: The sky is blue.
`,
		"PASS2": `ClaimID: c1
ClaimRole: core
Centrality: high
IsCentral: true
CheckWorthiness: 0.95
KeyEntities: sky, Rayleigh scattering
PassedFidelity: true
`,
		"QUERYGEN": `Query: why is the sky blue
Label: supporting
---
Query: is the sky actually blue
Label: refuting
`,
		"RELEVANCE": `URL: https://nasa.example.gov/scattering
Relevance: 0.9
---
URL: https://press.example.edu/optics
Relevance: 0.8
`,
		"EXTRACT": `URL: https://nasa.example.gov/scattering
Statement: Rayleigh scattering causes shorter blue wavelengths to dominate the daytime sky.
SourceExcerpt: Sunlight scatters off air molecules, with blue light scattered far more than red.
SourceAuthority: NASA
SourceType: government_report
ProbativeValue: high
ClaimDirection: supports
---
URL: https://press.example.edu/optics
Statement: Atmospheric optics research confirms the sky appears blue under clear conditions.
SourceExcerpt: Peer-reviewed measurements of sky radiance peak in the blue portion of the spectrum.
SourceAuthority: MIT Press
SourceType: peer_reviewed_study
ProbativeValue: high
ClaimDirection: supports
`,
		"CLUSTER": `Name: General atmospheric optics
ShortName: Optics
Subject: sky color
`,
		"MERGE": `Similarity: 0.1`,
		"ASSIGN": `EvidenceID: e1
ContextID: ctx1
ScopeName: clear-sky daytime observation
---
EvidenceID: e2
ContextID: ctx1
`,
		"ADVOCATE": `AnswerPct: 92
ConfidencePct: 88
ShortAnswer: Strongly supported by the evidence.
EvidenceID: e1
Factor: Scattering physics
Explanation: Rayleigh scattering directly explains the observed color.
Supports: strongly_supports
Weight: high
`,
		"CONSISTENCY": `AnswerPct: 90
ConfidencePct: 85
ShortAnswer: Consistent across samples.
`,
		"CHALLENGE": `ID: ch1
Text: The sky appears red at sunset, not blue.
CitedEvidenceIDs: e2
`,
		"RECONCILE": `AnswerPct: 90
ConfidencePct: 86
ShortAnswer: Supported, with a daytime qualifier.
ChallengeID: ch1
Response: Sunset color does not refute the daytime claim.
Accepted: false
`,
		"VALIDATE": `HarmPotential: low
FactualBasis: established
IsInverted: false
IsContested: false
`,
		"NARRATIVE": `Summary: Claim c1 is well supported within the general atmospheric optics context.
`,
	}
}

func fixedClock() func() time.Time {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func newPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	deps := Deps{
		LLM:     fakeLLM{byMarker: fixtureResponses()},
		Search:  fakeSearch{},
		Prompts: fixtureStore(),
		Clock:   fixedClock(),
	}
	opts = append([]Option{
		WithProfileDefaults(map[string]any{"maxIterationsPerScope": 1}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	p, err := New(deps, opts...)
	require.NoError(t, err)
	return p
}

func warningTypes(ws []AnalysisWarning) map[model.WarningType]int {
	out := map[model.WarningType]int{}
	for _, w := range ws {
		out[w.Type]++
	}
	return out
}

func TestAnalyze_AtomicClaimEndToEnd(t *testing.T) {
	p := newPipeline(t)

	assessment, err := p.Analyze(context.Background(), Input{Text: "The sky is blue", Kind: KindClaim})
	require.NoError(t, err)

	assert.Equal(t, model.StatusOK, assessment.Status)
	assert.NotEmpty(t, assessment.JobID)
	assert.Equal(t, model.GateHigh, assessment.QualityGates.Overall)
	assert.Equal(t, 1, assessment.QualityGates.Gate1.TotalClaims)
	assert.Equal(t, 1, assessment.QualityGates.Gate1.PassedClaims)

	require.Len(t, assessment.ClaimVerdicts, 1)
	verdict := assessment.ClaimVerdicts[0]
	assert.Equal(t, "c1", verdict.ClaimID)
	assert.Equal(t, "ctx1", verdict.ContextID)
	assert.GreaterOrEqual(t, verdict.AnswerPct, 86.0)
	assert.Equal(t, model.StateFinalized, verdict.State)
	require.Len(t, verdict.KeyFactors, 1)
	assert.Equal(t, "e1", verdict.KeyFactors[0].EvidenceID)
	require.Len(t, verdict.ChallengeResponses, 1)
	assert.Equal(t, "ch1", verdict.ChallengeResponses[0].ChallengeID)

	require.Contains(t, assessment.CoverageMatrix, "c1")
	assert.True(t, assessment.CoverageMatrix["c1"]["ctx1"].HasVerdict)
	assert.Contains(t, assessment.VerdictNarrative, "c1")

	assert.Greater(t, assessment.Metrics.LLMCalls, 0)
	assert.Greater(t, assessment.Metrics.TotalTokens, 0)
	assert.Equal(t, 2, assessment.Metrics.QueryBudgetUsage["c1"])

	require.NotEmpty(t, assessment.Metrics.LLMCallRecords)
	for _, rec := range assessment.Metrics.LLMCallRecords {
		assert.NotEmpty(t, rec.PromptHash, "every call record carries the rendered prompt's hash")
		assert.NotEmpty(t, rec.Model)
		assert.False(t, rec.WasTotalRefusal)
	}

	types := warningTypes(assessment.Warnings)
	assert.Contains(t, types, model.WarnAllSameDebateTier, "baseline profile routes every role to one provider")
	assert.NotContains(t, types, model.WarnQueryBudgetExhausted)
	assert.NotContains(t, types, model.WarnBaselessChallenge)
}

func TestAnalyze_Idempotence(t *testing.T) {
	p := newPipeline(t)

	first, err := p.Analyze(context.Background(), Input{Text: "The sky is blue", Kind: KindClaim})
	require.NoError(t, err)
	second, err := p.Analyze(context.Background(), Input{Text: "The sky is blue", Kind: KindClaim})
	require.NoError(t, err)

	assert.Equal(t, first.ClaimVerdicts, second.ClaimVerdicts)
	assert.Equal(t, first.ClaimBoundaries, second.ClaimBoundaries)
	assert.Equal(t, first.QualityGates, second.QualityGates)
}

func TestAnalyze_QueryBudgetExhaustion(t *testing.T) {
	p := newPipeline(t, WithActiveConfig(map[string]any{"queryBudget": 1}))

	assessment, err := p.Analyze(context.Background(), Input{Text: "The sky is blue", Kind: KindClaim})
	require.NoError(t, err)

	var found *AnalysisWarning
	for i := range assessment.Warnings {
		if assessment.Warnings[i].Type == model.WarnQueryBudgetExhausted && assessment.Warnings[i].Details != nil {
			found = &assessment.Warnings[i]
		}
	}
	require.NotNil(t, found, "expected the research-stage budget exhaustion warning with a usage snapshot")
	assert.Equal(t, "research_budget", found.Details["failure_mode"])
	assert.NotNil(t, found.Details["query_budget_usage"])
	assert.Equal(t, 1, assessment.Metrics.QueryBudgetUsage["c1"])
}

func TestAnalyze_UnregisteredDebateProviderFallsBackWithWarning(t *testing.T) {
	p := newPipeline(t,
		WithActiveConfig(map[string]any{"debateProfile": "cross-provider"}),
		WithProvider("anthropic", fakeLLM{byMarker: fixtureResponses()}),
	)

	assessment, err := p.Analyze(context.Background(), Input{Text: "The sky is blue", Kind: KindClaim})
	require.NoError(t, err)
	require.Len(t, assessment.ClaimVerdicts, 1)
	assert.Equal(t, model.StateFinalized, assessment.ClaimVerdicts[0].State)

	var fallback *AnalysisWarning
	for i := range assessment.Warnings {
		w := assessment.Warnings[i]
		if w.Type == model.WarnDebateProviderFallback && w.Details["configuredProvider"] == "openai" {
			fallback = &assessment.Warnings[i]
		}
	}
	require.NotNil(t, fallback, "expected a fallback warning for the unregistered openai provider")
	assert.Equal(t, "default", fallback.Details["fallbackProvider"])
}

func TestAnalyze_CancelledContextReturnsPartialAssessment(t *testing.T) {
	p := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assessment, err := p.Analyze(ctx, Input{Text: "The sky is blue", Kind: KindClaim})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, model.StatusDegraded, assessment.Status)
	assert.Equal(t, "cancelled", assessment.FailureReason)

	types := warningTypes(assessment.Warnings)
	assert.Contains(t, types, model.WarnJobCancelled)
}

func TestNew_MissingRequiredDepsFails(t *testing.T) {
	_, err := New(Deps{Search: fakeSearch{}, Prompts: fixtureStore()})
	require.ErrorIs(t, err, ErrConfigLoad)

	_, err = New(Deps{LLM: fakeLLM{}, Prompts: fixtureStore()})
	require.ErrorIs(t, err, ErrConfigLoad)

	_, err = New(Deps{LLM: fakeLLM{}, Search: fakeSearch{}})
	require.ErrorIs(t, err, ErrConfigLoad)
}
