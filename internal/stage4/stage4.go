// Package stage4 implements the Verdict Debate protocol: for every
// (claim, context) pair with at least one evidence item, an Advocate ->
// Self-Consistency -> Adversarial Challenge -> Reconciliation -> Validation
// pipeline produces a grounded ClaimVerdict, followed by a deterministic
// enforcement layer outside the LLM (spec.md §4.H).
//
// Five-role response parsing is grounded on internal/conflicts/validator.go's
// ParseValidatorResponse (line-oriented, markdown-marker-tolerant LLM
// response parsing), generalized here from one structured shape to five —
// one per debate role — via llmgw.Parse/llmgw.ParseRecords. DebateProfile's
// role->provider map generalizes the teacher's single Validator interface
// to five concurrently-resolvable providers, routed through a Gateway keyed
// by provider name rather than task tier (see Deps doc comment).
package stage4

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/factharbor/cb/internal/config"
	"github.com/factharbor/cb/internal/llmgw"
	"github.com/factharbor/cb/internal/model"
	"github.com/factharbor/cb/internal/prompts"
)

// lowConsistencyThreshold is the Self-Consistency score floor below which
// a low_consistency warning and a confidence penalty apply (spec.md §4.H.2).
const lowConsistencyThreshold = 0.7

// consistencyPenalty is the multiplicative confidence penalty applied on
// low consistency (spec.md §4.H.2: "confidence penalty x0.9").
const consistencyPenalty = 0.9

// failedDebateConfidenceCap bounds the confidencePct attached to a
// degraded verdict produced when the debate state machine cannot complete
// (spec.md §4.H: "attaches a degraded ClaimVerdict with confidencePct <= 40").
const failedDebateConfidenceCap = 40.0

// Deps bundles stage4's collaborators. Gateway is keyed by provider name
// (e.g. "default", "anthropic", "openai", "google", "premium", "budget") —
// distinct from Stages 1-3's task-tier-keyed Gateway — so that
// DebateProfile.Provider(role) resolves directly to a Gateway key.
// GlobalProvider names the provider the Gateway falls back to on a
// missing-credential role provider, used only to annotate the
// debate_provider_fallback warning's "configured vs actual" detail.
// Logger may be nil; Run falls back to the default slog logger.
type Deps struct {
	Gateway        *llmgw.Gateway
	Prompts        *prompts.Registry
	GlobalProvider string
	Logger         *slog.Logger
}

var headerFields = llmgw.Fields{
	{Key: "AnswerPct", Required: true},
	{Key: "ConfidencePct", Required: true},
	{Key: "ShortAnswer", Required: true},
}

var keyFactorFields = llmgw.Fields{
	{Key: "EvidenceID", Required: true},
	{Key: "Factor", Required: true},
	{Key: "Explanation", Required: true},
	{Key: "Supports", Required: true, Allowed: []string{
		"strongly_supports", "supports", "neutral", "refutes", "strongly_refutes",
	}},
	{Key: "Weight", Required: true, Allowed: []string{"high", "medium", "low"}},
}

var challengeFields = llmgw.Fields{
	{Key: "ID", Required: true},
	{Key: "Text", Required: true},
	{Key: "CitedEvidenceIDs", Required: true},
}

var challengeResponseFields = llmgw.Fields{
	{Key: "ChallengeID", Required: true},
	{Key: "Response", Required: true},
	{Key: "Accepted", Required: true, Allowed: []string{"true", "false"}},
}

var validationFields = llmgw.Fields{
	{Key: "HarmPotential", Required: true, Allowed: []string{"low", "medium", "high"}},
	{Key: "FactualBasis", Required: true, Allowed: []string{"established", "disputed", "opinion", "alleged", "unknown"}},
	{Key: "IsInverted", Required: true, Allowed: []string{"true", "false"}},
	{Key: "IsContested", Required: true, Allowed: []string{"true", "false"}},
	{Key: "CorrectedAnswerPct", Required: false},
	{Key: "BoundaryFindings", Required: false},
}

// pair is one (claim, context) debate unit.
type pair struct {
	claim   model.AtomicClaim
	context string
}

// Run executes the debate protocol for every (claim, context) pair with
// evidence, concurrently bounded by cfg.Pipeline.Concurrency — each pair's
// own state machine still progresses advocate -> consistency -> challenge
// -> reconcile -> validate strictly in order (spec.md §5).
func Run(ctx context.Context, state model.PipelineState, deps Deps, cfg config.Resolved) (model.PipelineState, []model.AnalysisWarning, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	pairs := make([]pair, 0, len(state.ClaimContextPairs()))
	for _, p := range state.ClaimContextPairs() {
		claim, ok := state.ClaimByID(p[0])
		if !ok {
			continue
		}
		pairs = append(pairs, pair{claim: claim, context: p[1]})
	}

	verdicts := make([]model.ClaimVerdict, len(pairs))
	warningsPerPair := make([][]model.AnalysisWarning, len(pairs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(cfg.Pipeline.Concurrency, 1))

	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			evidence := state.EvidenceForClaimContext(p.claim.ID, p.context)
			verdict, warnings := debateOne(gCtx, deps, cfg, p.claim, p.context, evidence)
			verdicts[i] = verdict
			warningsPerPair[i] = warnings
			return nil
		})
	}
	_ = g.Wait() // debateOne never returns a fatal error; failures degrade to failed_debate

	var warnings []model.AnalysisWarning
	for _, w := range warningsPerPair {
		warnings = append(warnings, w...)
	}
	failed := 0
	for _, v := range verdicts {
		if v.State == model.StateFailedDebate {
			failed++
		}
	}
	if failed > 0 {
		deps.Logger.Warn("debate rounds degraded", "failed", failed, "pairs", len(pairs))
	}
	deps.Logger.Debug("verdict debate complete", "pairs", len(pairs))

	state.Verdicts = verdicts
	return state, warnings, nil
}

// debateOne runs one (claim, context) pair through the five-role debate and
// the deterministic enforcement layer. It never returns a Go error — any
// unrecoverable role failure degrades to a failed_debate verdict with a
// warning, matching spec.md §4.H's "any stage can transition to
// failed_debate" rather than failing the whole job.
func debateOne(ctx context.Context, deps Deps, cfg config.Resolved, claim model.AtomicClaim, contextID string, evidence []model.EvidenceItem) (model.ClaimVerdict, []model.AnalysisWarning) {
	var warnings []model.AnalysisWarning
	evidenceBlock := renderEvidence(evidence)
	validIDs := evidenceIDSet(evidence)

	advocate, aWarn, err := runAdvocate(ctx, deps, cfg, claim, evidenceBlock)
	warnings = append(warnings, aWarn...)
	if err != nil {
		return failedVerdict(claim.ID, contextID, "advocate role failed: "+err.Error()), append(warnings, genFailedWarning(claim.ID, contextID, err))
	}

	consistency, consistWarn, _ := runSelfConsistency(ctx, deps, cfg, claim, evidenceBlock, advocate)
	warnings = append(warnings, consistWarn...)

	challenges, baselessRate, cWarn, err := runChallenge(ctx, deps, cfg, claim, evidenceBlock, validIDs)
	warnings = append(warnings, cWarn...)
	if err != nil {
		// A failed challenger round degrades gracefully rather than failing
		// the job (spec.md §5: "skip one challenger round").
		challenges = nil
	}

	reconciled, responses, rWarn, err := runReconcile(ctx, deps, cfg, claim, evidenceBlock, advocate, challenges)
	warnings = append(warnings, rWarn...)
	if err != nil {
		return failedVerdict(claim.ID, contextID, "reconciliation role failed: "+err.Error()), append(warnings, genFailedWarning(claim.ID, contextID, err))
	}

	validated, vWarn, err := runValidate(ctx, deps, cfg, claim, evidenceBlock, reconciled)
	warnings = append(warnings, vWarn...)
	if err != nil {
		return failedVerdict(claim.ID, contextID, "validation role failed: "+err.Error()), append(warnings, genFailedWarning(claim.ID, contextID, err))
	}

	answerPct := reconciled.AnswerPct
	if validated.IsInverted && validated.CorrectedAnswerPct != nil {
		answerPct = *validated.CorrectedAnswerPct
	}
	answerPct = model.Clamp01To100(answerPct)

	confidencePct := model.Clamp01To100(reconciled.ConfidencePct)
	if consistency.Score < lowConsistencyThreshold {
		confidencePct *= consistencyPenalty
	}

	keyFactors := groundKeyFactors(advocate.KeyFactors, validIDs)

	verdict := model.ClaimVerdict{
		ClaimID:                claim.ID,
		ContextID:              contextID,
		AnswerPct:              answerPct,
		ConfidencePct:          confidencePct,
		ShortAnswer:            reconciled.ShortAnswer,
		KeyFactors:             keyFactors,
		BoundaryFindings:       validated.BoundaryFindings,
		ConsistencyResult:      consistency,
		ChallengeResponses:     responses,
		TriangulationScore:     triangulation(evidence),
		IsInverted:             validated.IsInverted,
		HarmPotential:          model.HarmPotential(validated.HarmPotential),
		IsContested:            validated.IsContested,
		FactualBasis:           model.FactualBasis(validated.FactualBasis),
		State:                  model.StateFinalized,
		BaselessAdjustmentRate: baselessRate,
	}
	return verdict, warnings
}

// --- Advocate ---

type advocateVerdict struct {
	AnswerPct     float64
	ConfidencePct float64
	ShortAnswer   string
	KeyFactors    []model.KeyFactor
}

func runAdvocate(ctx context.Context, deps Deps, cfg config.Resolved, claim model.AtomicClaim, evidenceBlock string) (advocateVerdict, []model.AnalysisWarning, error) {
	prompt, rolledBack, err := deps.Prompts.Render(cfg.Prompts.Names["stage4_advocate"], map[string]any{
		"ClaimText": claim.Text,
		"Evidence":  evidenceBlock,
	})
	var warnings []model.AnalysisWarning
	if rolledBack {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnPromptRenderError, Message: "stage4 advocate prompt rolled back"})
	}
	if err != nil {
		return advocateVerdict{}, warnings, err
	}

	provider := cfg.Debate.Provider(config.RoleAdvocate)
	resp, err := deps.Gateway.Call(ctx, provider, llmgw.LLMRequest{Prompt: prompt.Text, PromptHash: prompt.PromptHash, Fields: headerFields, MaxTokens: 2000})
	if err != nil {
		return advocateVerdict{}, warnings, err
	}
	warnings = append(warnings, providerFallbackWarning(deps, config.RoleAdvocate, provider, resp)...)
	warnings = append(warnings, llmgw.RepairWarning(resp, "advocate role")...)

	answer, _ := strconv.ParseFloat(resp.Parsed["AnswerPct"], 64)
	conf, _ := strconv.ParseFloat(resp.Parsed["ConfidencePct"], 64)

	var factors []model.KeyFactor
	for _, r := range llmgw.ParseRecords(resp.Text, keyFactorFields) {
		factors = append(factors, model.KeyFactor{
			EvidenceID:  r["EvidenceID"],
			Factor:      r["Factor"],
			Explanation: r["Explanation"],
			Supports:    model.Support(r["Supports"]),
			Weight:      model.Weight(r["Weight"]),
		})
	}

	return advocateVerdict{
		AnswerPct:     answer,
		ConfidencePct: conf,
		ShortAnswer:   resp.Parsed["ShortAnswer"],
		KeyFactors:    factors,
	}, warnings, nil
}

// --- Self-Consistency ---

func runSelfConsistency(ctx context.Context, deps Deps, cfg config.Resolved, claim model.AtomicClaim, evidenceBlock string, advocate advocateVerdict) (model.ConsistencyResult, []model.AnalysisWarning, model.DebateState) {
	var warnings []model.AnalysisWarning
	samples := []float64{advocate.AnswerPct}

	prompt, rolledBack, err := deps.Prompts.Render(cfg.Prompts.Names["stage4_consistency"], map[string]any{
		"ClaimText": claim.Text,
		"Evidence":  evidenceBlock,
	})
	if rolledBack {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnPromptRenderError, Message: "stage4 consistency prompt rolled back"})
	}
	if err == nil {
		provider := cfg.Debate.Provider(config.RoleSelfConsistency)
		for i := 0; i < 2; i++ {
			resp, cerr := deps.Gateway.Call(ctx, provider, llmgw.LLMRequest{Prompt: prompt.Text, PromptHash: prompt.PromptHash, Fields: headerFields, MaxTokens: 1000})
			if cerr != nil {
				continue
			}
			warnings = append(warnings, providerFallbackWarning(deps, config.RoleSelfConsistency, provider, resp)...)
			if v, perr := strconv.ParseFloat(resp.Parsed["AnswerPct"], 64); perr == nil {
				samples = append(samples, v)
			}
		}
	}

	score := consistencyScore(samples)
	consolidated := mean(samples)

	state := model.StateConsistent
	if score < lowConsistencyThreshold {
		state = model.StateLowConsist
		warnings = append(warnings, model.AnalysisWarning{
			Type:    model.WarnLowConsistency,
			Message: fmt.Sprintf("self-consistency score %.2f below threshold for claim %s", score, claim.ID),
			Details: map[string]any{"claim_id": claim.ID, "consistency_score": score},
		})
	}

	return model.ConsistencyResult{Score: score, ConsolidatedAnswer: consolidated}, warnings, state
}

func consistencyScore(samples []float64) float64 {
	if len(samples) < 2 {
		return 1
	}
	lo, hi := samples[0], samples[0]
	for _, s := range samples[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	score := 1 - (hi-lo)/50
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// --- Adversarial Challenge ---

func runChallenge(ctx context.Context, deps Deps, cfg config.Resolved, claim model.AtomicClaim, evidenceBlock string, validIDs map[string]bool) ([]model.ChallengePoint, float64, []model.AnalysisWarning, error) {
	var warnings []model.AnalysisWarning
	prompt, rolledBack, err := deps.Prompts.Render(cfg.Prompts.Names["stage4_challenge"], map[string]any{
		"ClaimText": claim.Text,
		"Evidence":  evidenceBlock,
	})
	if rolledBack {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnPromptRenderError, Message: "stage4 challenge prompt rolled back"})
	}
	if err != nil {
		return nil, 0, warnings, err
	}

	provider := cfg.Debate.Provider(config.RoleChallenger)
	resp, err := deps.Gateway.Call(ctx, provider, llmgw.LLMRequest{Prompt: prompt.Text, PromptHash: prompt.PromptHash, Fields: llmgw.Fields{}, MaxTokens: 1500})
	if err != nil {
		return nil, 0, warnings, err
	}
	warnings = append(warnings, providerFallbackWarning(deps, config.RoleChallenger, provider, resp)...)
	warnings = append(warnings, llmgw.RepairWarning(resp, "challenger role")...)

	records := llmgw.ParseRecords(resp.Text, challengeFields)
	proposed := len(records)
	var surviving []model.ChallengePoint
	dropped := 0
	for _, r := range records {
		cited := splitIDs(r["CitedEvidenceIDs"])
		if !enforceBaselessChallengePolicy(cited, validIDs) {
			dropped++
			continue
		}
		surviving = append(surviving, model.ChallengePoint{
			ID:               r["ID"],
			Text:             r["Text"],
			CitedEvidenceIDs: cited,
		})
	}

	var rate float64
	if proposed > 0 {
		rate = float64(dropped) / float64(proposed)
	}
	if dropped > 0 {
		warnings = append(warnings, model.AnalysisWarning{
			Type:    model.WarnBaselessChallenge,
			Message: fmt.Sprintf("dropped %d of %d adversarial challenges citing no real evidence id", dropped, proposed),
			Details: map[string]any{"claim_id": claim.ID, "dropped": dropped, "proposed": proposed},
		})
	}

	return surviving, rate, warnings, nil
}

// enforceBaselessChallengePolicy reports whether a challenge cites at
// least one evidence id that actually exists in the claim's evidence set
// (spec.md §4.H.3: "cites at least one evidence id" and §4.H's
// deterministic enforcement layer — drop, do not adjust the verdict, on
// failure).
func enforceBaselessChallengePolicy(citedIDs []string, validIDs map[string]bool) bool {
	for _, id := range citedIDs {
		if validIDs[id] {
			return true
		}
	}
	return false
}

func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// --- Reconciliation ---

func runReconcile(ctx context.Context, deps Deps, cfg config.Resolved, claim model.AtomicClaim, evidenceBlock string, advocate advocateVerdict, challenges []model.ChallengePoint) (advocateVerdict, []model.ChallengeResponse, []model.AnalysisWarning, error) {
	var warnings []model.AnalysisWarning
	var challengeBlock strings.Builder
	for _, c := range challenges {
		fmt.Fprintf(&challengeBlock, "ID: %s\nText: %s\nCitedEvidenceIDs: %s\n---\n", c.ID, c.Text, strings.Join(c.CitedEvidenceIDs, ","))
	}

	prompt, rolledBack, err := deps.Prompts.Render(cfg.Prompts.Names["stage4_reconcile"], map[string]any{
		"ClaimText":        claim.Text,
		"Evidence":         evidenceBlock,
		"AdvocateAnswer":   fmt.Sprintf("%.1f", advocate.AnswerPct),
		"AdvocateSummary":  advocate.ShortAnswer,
		"SurvivingChallenges": challengeBlock.String(),
	})
	if rolledBack {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnPromptRenderError, Message: "stage4 reconcile prompt rolled back"})
	}
	if err != nil {
		return advocateVerdict{}, nil, warnings, err
	}

	provider := cfg.Debate.Provider(config.RoleReconciler)
	resp, err := deps.Gateway.Call(ctx, provider, llmgw.LLMRequest{Prompt: prompt.Text, PromptHash: prompt.PromptHash, Fields: headerFields, MaxTokens: 2000})
	if err != nil {
		return advocateVerdict{}, nil, warnings, err
	}
	warnings = append(warnings, providerFallbackWarning(deps, config.RoleReconciler, provider, resp)...)
	warnings = append(warnings, llmgw.RepairWarning(resp, "reconciler role")...)

	answer, _ := strconv.ParseFloat(resp.Parsed["AnswerPct"], 64)
	conf, _ := strconv.ParseFloat(resp.Parsed["ConfidencePct"], 64)

	byID := map[string]model.ChallengePoint{}
	for _, c := range challenges {
		byID[c.ID] = c
	}
	var responses []model.ChallengeResponse
	for _, r := range llmgw.ParseRecords(resp.Text, challengeResponseFields) {
		if _, ok := byID[r["ChallengeID"]]; !ok {
			continue
		}
		responses = append(responses, model.ChallengeResponse{
			ChallengeID: r["ChallengeID"],
			Response:    r["Response"],
			Accepted:    r["Accepted"] == "true",
		})
	}

	reconciled := advocateVerdict{
		AnswerPct:     answer,
		ConfidencePct: conf,
		ShortAnswer:   resp.Parsed["ShortAnswer"],
		KeyFactors:    advocate.KeyFactors,
	}
	return reconciled, responses, warnings, nil
}

// --- Validation ---

type validation struct {
	HarmPotential      string
	FactualBasis       string
	IsInverted         bool
	IsContested        bool
	CorrectedAnswerPct *float64
	BoundaryFindings   string
}

func runValidate(ctx context.Context, deps Deps, cfg config.Resolved, claim model.AtomicClaim, evidenceBlock string, reconciled advocateVerdict) (validation, []model.AnalysisWarning, error) {
	var warnings []model.AnalysisWarning
	prompt, rolledBack, err := deps.Prompts.Render(cfg.Prompts.Names["stage4_validate"], map[string]any{
		"ClaimText":       claim.Text,
		"Evidence":        evidenceBlock,
		"ReconciledAnswer": fmt.Sprintf("%.1f", reconciled.AnswerPct),
		"ReconciledSummary": reconciled.ShortAnswer,
	})
	if rolledBack {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnPromptRenderError, Message: "stage4 validate prompt rolled back"})
	}
	if err != nil {
		return validation{}, warnings, err
	}

	provider := cfg.Debate.Provider(config.RoleValidation)
	resp, err := deps.Gateway.Call(ctx, provider, llmgw.LLMRequest{Prompt: prompt.Text, PromptHash: prompt.PromptHash, Fields: validationFields, MaxTokens: 1000})
	if err != nil {
		return validation{}, warnings, err
	}
	warnings = append(warnings, providerFallbackWarning(deps, config.RoleValidation, provider, resp)...)
	warnings = append(warnings, llmgw.RepairWarning(resp, "validation role")...)

	var corrected *float64
	if raw := resp.Parsed["CorrectedAnswerPct"]; raw != "" {
		if v, perr := strconv.ParseFloat(raw, 64); perr == nil {
			corrected = &v
		}
	}

	return validation{
		HarmPotential:      resp.Parsed["HarmPotential"],
		FactualBasis:       resp.Parsed["FactualBasis"],
		IsInverted:         resp.Parsed["IsInverted"] == "true",
		IsContested:        resp.Parsed["IsContested"] == "true",
		CorrectedAnswerPct: corrected,
		BoundaryFindings:   resp.Parsed["BoundaryFindings"],
	}, warnings, nil
}

// --- shared helpers ---

// groundKeyFactors filters advocate-produced key factors to those citing a
// real evidence id (spec.md §8: "its cited evidence id exists in the
// claim's evidence set"). This is the grounding-validation deterministic
// check; a factor citing no real id is dropped rather than failing the
// whole verdict.
func groundKeyFactors(factors []model.KeyFactor, validIDs map[string]bool) []model.KeyFactor {
	var out []model.KeyFactor
	for _, f := range factors {
		if validIDs[f.EvidenceID] {
			out = append(out, f)
		}
	}
	return out
}

// triangulation computes the fraction of evidence items that come from at
// least two distinct source authorities AND at least two distinct source
// types — the triangulationScore formula in spec.md §4.I.1, applied here
// to the (claim, context) evidence subset a single debate round reasons
// over (see DESIGN.md for the distinction from Stage 5's full-claim
// aggregation-weight triangulation).
func triangulation(evidence []model.EvidenceItem) float64 {
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

func evidenceIDSet(evidence []model.EvidenceItem) map[string]bool {
	out := make(map[string]bool, len(evidence))
	for _, e := range evidence {
		out[e.ID] = true
	}
	return out
}

func renderEvidence(evidence []model.EvidenceItem) string {
	var sb strings.Builder
	for _, e := range evidence {
		fmt.Fprintf(&sb, "ID: %s\nStatement: %s\nDirection: %s\nProbativeValue: %s\n---\n", e.ID, e.Statement, e.ClaimDirection, e.ProbativeValue)
	}
	return sb.String()
}

// providerFallbackWarning emits debate_provider_fallback when the Gateway
// fell back from a role's configured provider to the global one
// (spec.md §4.C.6: "records configured vs actual provider").
func providerFallbackWarning(deps Deps, role config.DebateRole, configuredProvider string, resp llmgw.LLMResponse) []model.AnalysisWarning {
	if !resp.FellBackTier {
		return nil
	}
	return []model.AnalysisWarning{{
		Type:    model.WarnDebateProviderFallback,
		Message: fmt.Sprintf("debate role %q fell back from provider %q to %q", role, configuredProvider, deps.GlobalProvider),
		Details: map[string]any{
			"role":               string(role),
			"configuredProvider": configuredProvider,
			"fallbackProvider":   deps.GlobalProvider,
		},
	}}
}

// failedVerdict builds the degraded ClaimVerdict attached when the debate
// state machine cannot complete (spec.md §4.H).
func failedVerdict(claimID, contextID, reason string) model.ClaimVerdict {
	return model.ClaimVerdict{
		ClaimID:       claimID,
		ContextID:     contextID,
		ConfidencePct: 0,
		ShortAnswer:   "analysis incomplete: " + reason,
		State:         model.StateFailedDebate,
		FactualBasis:  model.BasisUnknown,
		HarmPotential: model.HarmLow,
	}
}

func genFailedWarning(claimID, contextID string, err error) model.AnalysisWarning {
	return model.AnalysisWarning{
		Type:    model.WarnAnalysisGenFailed,
		Message: fmt.Sprintf("debate failed for claim %s in context %s: %v", claimID, contextID, err),
		Details: map[string]any{"claim_id": claimID, "context_id": contextID, "confidence_cap": failedDebateConfidenceCap},
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
