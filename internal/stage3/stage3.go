// Package stage3 implements Boundary Clustering: candidate AnalysisContext
// derivation, pairwise semantic merge at similarity >= 0.85, and evidence
// assignment with remap-to-fallback verification (spec.md §4.G).
//
// Pairwise merge concurrency is grounded on internal/conflicts/scorer.go's
// errgroup-bounded fan-out over candidate pairs, generalized from decision
// pairs to context-candidate pairs.
package stage3

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/factharbor/cb/internal/config"
	"github.com/factharbor/cb/internal/idgen"
	"github.com/factharbor/cb/internal/llmgw"
	"github.com/factharbor/cb/internal/model"
	"github.com/factharbor/cb/internal/prompts"
)

// Deps bundles stage3's collaborators.
type Deps struct {
	Gateway *llmgw.Gateway
	Prompts *prompts.Registry
	IDs     *idgen.Source
}

var candidateFields = llmgw.Fields{
	{Key: "Name", Required: true},
	{Key: "ShortName", Required: true},
	{Key: "Subject", Required: false},
	{Key: "Methodology", Required: false},
	{Key: "Boundaries", Required: false},
	{Key: "Geographic", Required: false},
	{Key: "Temporal", Required: false},
}

var mergeFields = llmgw.Fields{
	{Key: "Similarity", Required: true},
}

var assignFields = llmgw.Fields{
	{Key: "EvidenceID", Required: true},
	{Key: "ContextID", Required: true},
	{Key: "ScopeName", Required: false},
}

// Run derives AnalysisContexts from surviving evidence, merges near-duplicate
// candidates, and assigns every evidence item to exactly one context.
func Run(ctx context.Context, state model.PipelineState, deps Deps, cfg config.Resolved) (model.PipelineState, []model.AnalysisWarning, error) {
	var warnings []model.AnalysisWarning

	if len(state.Evidence) == 0 {
		state.Contexts = nil
		return state, warnings, nil
	}

	candidates, err := deriveCandidates(ctx, deps, cfg, state.Evidence)
	if err != nil {
		return state, warnings, fmt.Errorf("stage3: derive candidates: %w", err)
	}

	merged, mWarnings, err := mergeCandidates(ctx, deps, cfg, candidates)
	warnings = append(warnings, mWarnings...)
	if err != nil {
		return state, warnings, fmt.Errorf("stage3: merge candidates: %w", err)
	}

	assigned, evidence, aWarnings, err := assignEvidence(ctx, deps, cfg, merged, state.Evidence)
	warnings = append(warnings, aWarnings...)
	if err != nil {
		return state, warnings, fmt.Errorf("stage3: assign evidence: %w", err)
	}

	state.Contexts = assigned
	state.Evidence = evidence
	return state, warnings, nil
}

func deriveCandidates(ctx context.Context, deps Deps, cfg config.Resolved, evidence []model.EvidenceItem) ([]model.AnalysisContext, error) {
	var sb strings.Builder
	for _, e := range evidence {
		fmt.Fprintf(&sb, "ID: %s\nStatement: %s\nSourceAuthority: %s\n---\n", e.ID, e.Statement, e.SourceAuthority)
	}

	prompt, _, err := deps.Prompts.Render(cfg.Prompts.Names["stage3_cluster"], map[string]any{"Evidence": sb.String()})
	if err != nil {
		return nil, err
	}

	resp, err := deps.Gateway.Call(ctx, "understand", llmgw.LLMRequest{Prompt: prompt.Text, PromptHash: prompt.PromptHash, Fields: candidateFields, MaxTokens: 2000})
	if err != nil {
		return nil, err
	}

	records := llmgw.ParseRecords(resp.Text, candidateFields)
	candidates := make([]model.AnalysisContext, 0, len(records))
	for _, r := range records {
		candidates = append(candidates, model.AnalysisContext{
			ID:          deps.IDs.Next("ctx"),
			Name:        r["Name"],
			ShortName:   r["ShortName"],
			Subject:     r["Subject"],
			Methodology: r["Methodology"],
			Boundaries:  r["Boundaries"],
			Geographic:  r["Geographic"],
			Temporal:    r["Temporal"],
			Status:      model.ContextStatusCandidate,
		})
	}
	return candidates, nil
}

// mergeCandidates pairwise-compares candidates concurrently (bounded by
// cfg.Pipeline.Concurrency) and merges any pair judged semantically
// similar at or above model.MergeSimilarityFloor, preferring the more
// specific (longer) name and recording the absorbed candidate's id in
// ConstituentScopes (spec.md §4.G.2).
func mergeCandidates(ctx context.Context, deps Deps, cfg config.Resolved, candidates []model.AnalysisContext) ([]model.AnalysisContext, []model.AnalysisWarning, error) {
	if len(candidates) < 2 {
		for i := range candidates {
			candidates[i].Status = model.ContextStatusActive
		}
		return candidates, nil, nil
	}

	type pairResult struct {
		i, j       int
		similarity float64
	}

	var pairs []pairResult
	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxInt(cfg.Pipeline.Concurrency, 1))

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			i, j := i, j
			g.Go(func() error {
				sim, err := judgeSimilarity(gCtx, deps, cfg, candidates[i], candidates[j])
				if err != nil {
					return nil // a failed similarity judgment just leaves the pair unmerged
				}
				mu.Lock()
				pairs = append(pairs, pairResult{i: i, j: j, similarity: sim})
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	parent := make([]int, len(candidates))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	for _, p := range pairs {
		if p.similarity >= model.MergeSimilarityFloor {
			ri, rj := find(p.i), find(p.j)
			if ri != rj {
				parent[rj] = ri
			}
		}
	}

	groups := map[int][]int{}
	for i := range candidates {
		root := find(i)
		groups[root] = append(groups[root], i)
	}

	merged := make([]model.AnalysisContext, 0, len(groups))
	for _, members := range groups {
		merged = append(merged, mergeGroup(candidates, members))
	}
	return merged, nil, nil
}

// mergeGroup collapses a set of candidate indices into one context,
// preferring the longest (most specific) name. A group that absorbed other
// candidates gets status merged; a single-member group stays active.
func mergeGroup(candidates []model.AnalysisContext, members []int) model.AnalysisContext {
	best := candidates[members[0]]
	for _, idx := range members[1:] {
		if len(candidates[idx].Name) > len(best.Name) {
			best = candidates[idx]
		}
	}
	if len(members) > 1 {
		var scopes []string
		for _, idx := range members {
			scopes = append(scopes, candidates[idx].ID)
		}
		best.ConstituentScopes = scopes
		best.Status = model.ContextStatusMerged
	} else {
		best.Status = model.ContextStatusActive
	}
	return best
}

func judgeSimilarity(ctx context.Context, deps Deps, cfg config.Resolved, a, b model.AnalysisContext) (float64, error) {
	prompt, _, err := deps.Prompts.Render(cfg.Prompts.Names["stage3_merge"], map[string]any{
		"NameA": a.Name, "NameB": b.Name,
	})
	if err != nil {
		return 0, err
	}
	resp, err := deps.Gateway.Call(ctx, "understand", llmgw.LLMRequest{Prompt: prompt.Text, PromptHash: prompt.PromptHash, Fields: mergeFields, MaxTokens: 200})
	if err != nil {
		return 0, err
	}
	parsed, err := llmgw.Parse(resp.Text, mergeFields)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(parsed["Similarity"], 64)
}

// assignEvidence assigns every evidence item to exactly one context id.
// Any id the LLM proposes that isn't in the final merged set is remapped
// to CTX_GENERAL with a context_remap warning (spec.md §4.G.3).
func assignEvidence(ctx context.Context, deps Deps, cfg config.Resolved, contexts []model.AnalysisContext, evidence []model.EvidenceItem) ([]model.AnalysisContext, []model.EvidenceItem, []model.AnalysisWarning, error) {
	var sb strings.Builder
	for _, e := range evidence {
		fmt.Fprintf(&sb, "ID: %s\nStatement: %s\n---\n", e.ID, e.Statement)
	}
	var ctxList strings.Builder
	for _, c := range contexts {
		fmt.Fprintf(&ctxList, "%s: %s\n", c.ID, c.Name)
	}

	prompt, _, err := deps.Prompts.Render(cfg.Prompts.Names["stage3_assign"], map[string]any{
		"Evidence": sb.String(),
		"Contexts": ctxList.String(),
	})
	if err != nil {
		return contexts, evidence, nil, err
	}

	resp, err := deps.Gateway.Call(ctx, "understand", llmgw.LLMRequest{Prompt: prompt.Text, PromptHash: prompt.PromptHash, Fields: assignFields, MaxTokens: 3000})
	if err != nil {
		return contexts, evidence, nil, err
	}
	var warnings []model.AnalysisWarning
	warnings = append(warnings, llmgw.RepairWarning(resp, "context assignment")...)

	valid := map[string]bool{model.CtxGeneral: true, model.CtxUnscoped: true}
	for _, c := range contexts {
		valid[c.ID] = true
	}

	assignments := map[string]string{}
	scopeNames := map[string]string{}
	for _, r := range llmgw.ParseRecords(resp.Text, assignFields) {
		assignments[r["EvidenceID"]] = r["ContextID"]
		if name := r["ScopeName"]; name != "" {
			scopeNames[r["EvidenceID"]] = name
		}
	}

	remapped := false
	out := make([]model.EvidenceItem, len(evidence))
	for i, e := range evidence {
		contextID, ok := assignments[e.ID]
		if !ok || !valid[contextID] {
			if ok && contextID != "" {
				remapped = true
			}
			contextID = model.CtxGeneral
		}
		e.ContextID = contextID
		// EvidenceScope stays per-evidence source metadata; it is never
		// promoted to an AnalysisContext here (spec.md §4.G.4).
		if name, ok := scopeNames[e.ID]; ok {
			e.EvidenceScope = &model.EvidenceScope{Name: name}
		}
		out[i] = e
	}
	if remapped {
		warnings = append(warnings, model.AnalysisWarning{
			Type:    model.WarnContextRemap,
			Message: "one or more evidence items referenced an unknown context id; remapped to CTX_GENERAL",
		})
	}

	return contexts, out, warnings, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
