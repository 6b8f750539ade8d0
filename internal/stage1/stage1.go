// Package stage1 implements Claim Boundary Extraction: two LLM Gateway
// calls (understand-tier Pass 1, verdict-tier Pass 2) followed by Gate 1
// claim validation (spec.md §4.E).
package stage1

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/factharbor/cb/internal/config"
	"github.com/factharbor/cb/internal/gate1"
	"github.com/factharbor/cb/internal/idgen"
	"github.com/factharbor/cb/internal/llmgw"
	"github.com/factharbor/cb/internal/model"
	"github.com/factharbor/cb/internal/prompts"
)

// topicStubMaxLen bounds the per-claim topic stub Pass 2 receives, so it
// never sees more than a fragment of Pass 1's own output — not real
// evidence, since none has been gathered yet (spec.md §4.E: "topic signal
// ≤120 chars per evidence stub... never full preliminary evidence").
const topicStubMaxLen = 120

var errNoClaims = fmt.Errorf("stage1: claim_extraction_failed")

// Deps bundles stage1's collaborators.
type Deps struct {
	Gateway *llmgw.Gateway
	Prompts *prompts.Registry
	IDs     *idgen.Source
}

var pass1Fields = llmgw.Fields{
	{Key: "Classification", Required: true, Allowed: []string{"single_atomic_claim", "multi_assertion_input"}},
	{Key: "ImpliedClaim", Required: true},
}

var pass1ClaimFields = llmgw.Fields{
	{Key: "Text", Required: true},
}

var pass2ClaimFields = llmgw.Fields{
	{Key: "ClaimID", Required: true},
	{Key: "ClaimRole", Required: true, Allowed: []string{"attribution", "source", "timing", "core"}},
	{Key: "Centrality", Required: true, Allowed: []string{"high", "medium", "low"}},
	{Key: "IsCentral", Required: true, Allowed: []string{"true", "false"}},
	{Key: "CheckWorthiness", Required: true},
	{Key: "KeyEntities", Required: false},
	{Key: "PassedFidelity", Required: true, Allowed: []string{"true", "false"}},
	{Key: "IsCounterClaim", Required: false, Allowed: []string{"true", "false"}},
}

// Run executes Stage 1 against state.Input and returns state with Claims
// and ImpliedClaim populated, after Gate 1 filtering.
func Run(ctx context.Context, state model.PipelineState, deps Deps, cfg config.Resolved) (model.PipelineState, []model.AnalysisWarning, error) {
	var warnings []model.AnalysisWarning

	pass1Prompt, rolledBack, err := deps.Prompts.Render(cfg.Prompts.Names["stage1_pass1"], map[string]any{
		"Text":   state.Input.Text,
		"Kind":   string(state.Input.Kind),
		"Locale": state.Input.Locale,
	})
	if rolledBack {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnPromptRenderError, Message: "stage1 pass1 prompt rolled back to prior revision"})
	}
	if err != nil {
		return state, warnings, fmt.Errorf("stage1: render pass1 prompt: %w", err)
	}

	pass1Resp, err := deps.Gateway.Call(ctx, "understand", llmgw.LLMRequest{Prompt: pass1Prompt.Text, PromptHash: pass1Prompt.PromptHash, Fields: pass1Fields, MaxTokens: 2000})
	if err != nil {
		return state, warnings, fmt.Errorf("%w: pass1: %v", errNoClaims, err)
	}
	if pass1Resp.FellBackTier {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnDebateProviderFallback, Message: "stage1 pass1 fell back to a lower tier"})
	}
	warnings = append(warnings, llmgw.RepairWarning(pass1Resp, "claim extraction pass 1")...)

	impliedClaim := model.ImpliedClaim{Text: truncateWords(pass1Resp.Parsed["ImpliedClaim"], model.MaxImpliedClaimWords)}

	firstCutRecords := llmgw.ParseRecords(pass1Resp.Text, pass1ClaimFields)
	if len(firstCutRecords) == 0 {
		return state, warnings, errNoClaims
	}

	topicStubs := make([]string, 0, len(firstCutRecords))
	rawIDs := make([]string, 0, len(firstCutRecords))
	rawTexts := make(map[string]string, len(firstCutRecords))
	for _, rec := range firstCutRecords {
		id := deps.IDs.Next("c")
		rawIDs = append(rawIDs, id)
		rawTexts[id] = rec["Text"]
		topicStubs = append(topicStubs, fmt.Sprintf("%s: %s", id, truncateRunes(rec["Text"], topicStubMaxLen)))
	}

	pass2Prompt, rolledBack2, err := deps.Prompts.Render(cfg.Prompts.Names["stage1_pass2"], map[string]any{
		"ImpliedClaim": impliedClaim.Text,
		"TopicStubs":   strings.Join(topicStubs, "\n"),
	})
	if rolledBack2 {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnPromptRenderError, Message: "stage1 pass2 prompt rolled back to prior revision"})
	}
	if err != nil {
		return state, warnings, fmt.Errorf("stage1: render pass2 prompt: %w", err)
	}

	pass2Resp, err := deps.Gateway.Call(ctx, "verdict", llmgw.LLMRequest{Prompt: pass2Prompt.Text, PromptHash: pass2Prompt.PromptHash, Fields: pass2ClaimFields, MaxTokens: 3000})
	if err != nil {
		return state, warnings, fmt.Errorf("%w: pass2 refusal: %v", errNoClaims, err)
	}
	if pass2Resp.FellBackTier {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnDebateProviderFallback, Message: "stage1 pass2 fell back to a lower tier"})
	}
	warnings = append(warnings, llmgw.RepairWarning(pass2Resp, "claim extraction pass 2")...)

	refined := llmgw.ParseRecords(pass2Resp.Text, pass2ClaimFields)
	claims := make([]model.AtomicClaim, 0, len(refined))
	seen := map[string]bool{}
	for _, rec := range refined {
		id := rec["ClaimID"]
		text, ok := rawTexts[id]
		if !ok || seen[id] {
			continue
		}
		seen[id] = true

		worthiness, _ := strconv.ParseFloat(rec["CheckWorthiness"], 64)
		centrality := model.Centrality(rec["Centrality"])
		isCentral := rec["IsCentral"] == "true" && centrality == model.CentralityHigh

		claims = append(claims, model.AtomicClaim{
			ID:              id,
			Text:            text,
			ClaimRole:       model.ClaimRole(rec["ClaimRole"]),
			Centrality:      centrality,
			IsCentral:       isCentral,
			CheckWorthiness: worthiness,
			KeyEntities:     splitEntities(rec["KeyEntities"]),
			PassedFidelity:  rec["PassedFidelity"] == "true",
			IsCounterClaim:  rec["IsCounterClaim"] == "true",
		})
	}

	// Carry forward any first-cut claim Pass 2 dropped from its response so
	// Gate 1 still evaluates it (and can filter or rescue it) rather than
	// silently discarding claims Pass 2 failed to re-emit.
	for _, id := range rawIDs {
		if seen[id] {
			continue
		}
		claims = append(claims, model.AtomicClaim{ID: id, Text: rawTexts[id], Centrality: model.CentralityLow})
	}

	claims = enforceCentralityCap(claims)

	kept, stats, gateWarnings := gate1.Apply(claims)
	warnings = append(warnings, gateWarnings...)

	state.Claims = kept
	state.ImpliedClaim = impliedClaim
	state.Gate1Stats = stats

	return state, warnings, nil
}

// enforceCentralityCap keeps at most model.MaxHighCentralityClaims claims
// at centrality=high, demoting the lowest-checkWorthiness excess ones to
// medium centrality and IsCentral=false (spec.md §3.1: "At most 4 claims
// with centrality = high").
func enforceCentralityCap(claims []model.AtomicClaim) []model.AtomicClaim {
	var centralIdx []int
	for i, c := range claims {
		if c.Centrality == model.CentralityHigh {
			centralIdx = append(centralIdx, i)
		}
	}
	if len(centralIdx) <= model.MaxHighCentralityClaims {
		return claims
	}
	for len(centralIdx) > model.MaxHighCentralityClaims {
		lowest := centralIdx[0]
		for _, idx := range centralIdx[1:] {
			if claims[idx].CheckWorthiness < claims[lowest].CheckWorthiness {
				lowest = idx
			}
		}
		claims[lowest].IsCentral = false
		claims[lowest].Centrality = model.CentralityMedium
		for i, idx := range centralIdx {
			if idx == lowest {
				centralIdx = append(centralIdx[:i], centralIdx[i+1:]...)
				break
			}
		}
	}
	return claims
}

func splitEntities(raw string) []string {
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

func truncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ")
}

func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}
