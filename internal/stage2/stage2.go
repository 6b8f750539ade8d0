// Package stage2 implements Research: per-claim query generation, search,
// relevance classification, and evidence extraction, looped until
// iteration or query-budget limits are reached (spec.md §4.F).
//
// The per-claim iteration loop is grounded on internal/search/outbox.go's
// poll-until-budget-or-cancel loop shape, adapted from "poll a table" to
// "iterate per claim until budget/iteration caps." Evidence quality
// filtering is grounded on internal/conflicts/claims.go's claim-splitting
// style (length floors, fragment filtering) generalized to evidence
// statements.
package stage2

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/factharbor/cb/internal/config"
	"github.com/factharbor/cb/internal/idgen"
	"github.com/factharbor/cb/internal/llmgw"
	"github.com/factharbor/cb/internal/model"
	"github.com/factharbor/cb/internal/prompts"
	"github.com/factharbor/cb/internal/searchgw"
	"github.com/factharbor/cb/internal/service/quality"
)

// Deps bundles stage2's collaborators. Logger may be nil; Run falls back
// to the default slog logger.
type Deps struct {
	Gateway *llmgw.Gateway
	Search  *searchgw.Gateway
	Prompts *prompts.Registry
	IDs     *idgen.Source
	Logger  *slog.Logger
}

var queryFields = llmgw.Fields{
	{Key: "Query", Required: true},
	{Key: "Label", Required: false, Allowed: []string{"supporting", "refuting"}},
}

var relevanceFields = llmgw.Fields{
	{Key: "URL", Required: true},
	{Key: "Relevance", Required: true},
}

var evidenceFields = llmgw.Fields{
	{Key: "URL", Required: true},
	{Key: "Statement", Required: true},
	{Key: "SourceExcerpt", Required: true},
	{Key: "SourceAuthority", Required: false},
	{Key: "SourceType", Required: true, Allowed: []string{
		"peer_reviewed_study", "fact_check_report", "government_report", "legal_document",
		"news_primary", "news_secondary", "expert_statement", "organization_report", "other",
	}},
	{Key: "Category", Required: false},
	{Key: "ProbativeValue", Required: true, Allowed: []string{"high", "medium", "low"}},
	{Key: "ClaimDirection", Required: true, Allowed: []string{"supports", "refutes", "neutral"}},
	{Key: "DerivativeClaimUnverified", Required: false, Allowed: []string{"true", "false"}},
}

const relevanceThreshold = 0.5

// minCompletenessScore is the quality.Score floor below which an extracted
// evidence item is dropped: an item that clears the raw length floors but
// carries no authority, no probative rating, and no checkable provenance is
// too thin to debate over.
const minCompletenessScore = 0.2

// Run executes Stage 2 against state.Claims, populating state.Evidence.
func Run(ctx context.Context, state model.PipelineState, deps Deps, cfg config.Resolved) (model.PipelineState, []model.AnalysisWarning, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var warnings []model.AnalysisWarning
	var evidence []model.EvidenceItem
	seenStatements := map[string][]string{} // claimID -> normalized statements kept so far

	central := state.CentralClaims()
	totalIterations := 0

claimLoop:
	for _, claim := range central {
		for iter := 0; iter < cfg.Pipeline.MaxIterationsPerScope; iter++ {
			if totalIterations >= cfg.Pipeline.MaxTotalIterations {
				break claimLoop
			}
			totalIterations++

			queries, qWarnings, err := generateQueries(ctx, deps, cfg, claim)
			warnings = append(warnings, qWarnings...)
			if err != nil {
				continue
			}
			if len(queries) == 0 {
				break
			}

			var hits []searchgw.Result
			budgetExhausted := false
			for _, q := range queries {
				results, sWarnings, err := deps.Search.Query(ctx, claim.ID, q, 5)
				warnings = append(warnings, sWarnings...)
				for _, w := range sWarnings {
					if w.Type == model.WarnQueryBudgetExhausted {
						budgetExhausted = true
					}
				}
				if err != nil {
					continue
				}
				hits = append(hits, results...)
			}
			if len(hits) == 0 {
				if budgetExhausted {
					break
				}
				continue
			}

			relevant, rWarnings, err := classifyRelevance(ctx, deps, cfg, claim, hits)
			warnings = append(warnings, rWarnings...)
			if err != nil || len(relevant) == 0 {
				if budgetExhausted {
					break
				}
				continue
			}

			extracted, eWarnings, err := extractEvidence(ctx, deps, cfg, claim, relevant)
			warnings = append(warnings, eWarnings...)
			if err != nil {
				if budgetExhausted {
					break
				}
				continue
			}

			for _, item := range extracted {
				if !passesQualityFilter(item, cfg.Evidence) {
					continue
				}
				norm := normalizeStatement(item.Statement)
				if isDuplicate(norm, seenStatements[claim.ID], cfg.Evidence.DeduplicationThreshold) {
					continue
				}
				seenStatements[claim.ID] = append(seenStatements[claim.ID], norm)
				evidence = append(evidence, item)
			}

			if budgetExhausted {
				break
			}
		}
	}

	exhaustedAll := true
	usage := map[string]int{}
	for _, claim := range central {
		used := deps.Search.UsageForClaim(claim.ID)
		usage[claim.ID] = used
		if used < cfg.Search.QueryBudget {
			exhaustedAll = false
		}
	}
	if exhaustedAll && len(central) > 0 {
		logger.Warn("research query budget exhausted for all central claims",
			"claims", len(central), "budget_per_claim", cfg.Search.QueryBudget)
		warnings = append(warnings, model.AnalysisWarning{
			Type:    model.WarnQueryBudgetExhausted,
			Message: "research budget exhausted for all central claims",
			Details: map[string]any{"query_budget_usage": usage, "failure_mode": "research_budget"},
		})
	}
	logger.Debug("research complete",
		"central_claims", len(central), "iterations", totalIterations, "evidence_items", len(evidence))

	state.Evidence = evidence
	return state, warnings, nil
}

func generateQueries(ctx context.Context, deps Deps, cfg config.Resolved, claim model.AtomicClaim) ([]string, []model.AnalysisWarning, error) {
	var warnings []model.AnalysisWarning
	prompt, rolledBack, err := deps.Prompts.Render(cfg.Prompts.Names["stage2_query"], map[string]any{
		"ClaimText": claim.Text,
		"Mode":      string(cfg.Search.QueryStrategyMode),
	})
	if rolledBack {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnPromptRenderError, Message: "stage2 query prompt rolled back"})
	}
	if err != nil {
		return nil, warnings, fmt.Errorf("stage2: render query prompt: %w", err)
	}

	resp, err := deps.Gateway.Call(ctx, "understand", llmgw.LLMRequest{Prompt: prompt.Text, PromptHash: prompt.PromptHash, Fields: queryFields, MaxTokens: 500})
	if err != nil {
		return nil, warnings, err
	}
	warnings = append(warnings, llmgw.RepairWarning(resp, "query generation")...)

	records := llmgw.ParseRecords(resp.Text, queryFields)
	if cfg.Search.QueryStrategyMode != config.StrategyProCon {
		queries := make([]string, 0, len(records))
		for _, r := range records {
			queries = append(queries, r["Query"])
		}
		return queries, warnings, nil
	}

	// pro_con: pro/con pairs first, unlabeled queries interleaved after
	// (never dropped) — spec.md §4.F.
	var pro, con, unlabeled []string
	for _, r := range records {
		switch r["Label"] {
		case "supporting":
			pro = append(pro, r["Query"])
		case "refuting":
			con = append(con, r["Query"])
		default:
			unlabeled = append(unlabeled, r["Query"])
		}
	}
	ordered := make([]string, 0, len(records))
	n := len(pro)
	if len(con) > n {
		n = len(con)
	}
	for i := 0; i < n; i++ {
		if i < len(pro) {
			ordered = append(ordered, pro[i])
		}
		if i < len(con) {
			ordered = append(ordered, con[i])
		}
	}
	ordered = append(ordered, unlabeled...)
	return ordered, warnings, nil
}

func classifyRelevance(ctx context.Context, deps Deps, cfg config.Resolved, claim model.AtomicClaim, hits []searchgw.Result) ([]searchgw.Result, []model.AnalysisWarning, error) {
	var warnings []model.AnalysisWarning
	var sb strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&sb, "URL: %s\nTitle: %s\nSnippet: %s\n---\n", h.URL, h.Title, h.Snippet)
	}

	prompt, rolledBack, err := deps.Prompts.Render(cfg.Prompts.Names["stage2_relevance"], map[string]any{
		"ClaimText": claim.Text,
		"Hits":      sb.String(),
	})
	if rolledBack {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnPromptRenderError, Message: "stage2 relevance prompt rolled back"})
	}
	if err != nil {
		return nil, warnings, fmt.Errorf("stage2: render relevance prompt: %w", err)
	}

	resp, err := deps.Gateway.Call(ctx, "understand", llmgw.LLMRequest{Prompt: prompt.Text, PromptHash: prompt.PromptHash, Fields: relevanceFields, MaxTokens: 1000})
	if err != nil {
		return nil, warnings, err
	}
	warnings = append(warnings, llmgw.RepairWarning(resp, "relevance classification")...)

	byURL := map[string]searchgw.Result{}
	for _, h := range hits {
		byURL[h.URL] = h
	}

	records := llmgw.ParseRecords(resp.Text, relevanceFields)
	var kept []searchgw.Result
	for _, r := range records {
		score, err := strconv.ParseFloat(r["Relevance"], 64)
		if err != nil || score < relevanceThreshold {
			continue
		}
		if hit, ok := byURL[r["URL"]]; ok {
			kept = append(kept, hit)
		}
	}
	return kept, warnings, nil
}

func extractEvidence(ctx context.Context, deps Deps, cfg config.Resolved, claim model.AtomicClaim, hits []searchgw.Result) ([]model.EvidenceItem, []model.AnalysisWarning, error) {
	var warnings []model.AnalysisWarning
	var sb strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&sb, "URL: %s\nTitle: %s\nSnippet: %s\n---\n", h.URL, h.Title, h.Snippet)
	}

	prompt, rolledBack, err := deps.Prompts.Render(cfg.Prompts.Names["stage2_extract"], map[string]any{
		"ClaimText": claim.Text,
		"Hits":      sb.String(),
	})
	if rolledBack {
		warnings = append(warnings, model.AnalysisWarning{Type: model.WarnPromptRenderError, Message: "stage2 extract prompt rolled back"})
	}
	if err != nil {
		return nil, warnings, fmt.Errorf("stage2: render extract prompt: %w", err)
	}

	resp, err := deps.Gateway.Call(ctx, "extract", llmgw.LLMRequest{Prompt: prompt.Text, PromptHash: prompt.PromptHash, Fields: evidenceFields, MaxTokens: 3000})
	if err != nil {
		return nil, warnings, err
	}
	warnings = append(warnings, llmgw.RepairWarning(resp, "evidence extraction")...)

	records := llmgw.ParseRecords(resp.Text, evidenceFields)
	items := make([]model.EvidenceItem, 0, len(records))
	for _, r := range records {
		items = append(items, model.EvidenceItem{
			ID:                        deps.IDs.Next("e"),
			ClaimID:                   claim.ID,
			Statement:                 r["Statement"],
			SourceURL:                 r["URL"],
			SourceExcerpt:             r["SourceExcerpt"],
			SourceAuthority:           r["SourceAuthority"],
			SourceType:                model.SourceType(r["SourceType"]),
			Category:                  r["Category"],
			ProbativeValue:            model.ProbativeValue(r["ProbativeValue"]),
			ClaimDirection:            model.ClaimDirection(r["ClaimDirection"]),
			DerivativeClaimUnverified: r["DerivativeClaimUnverified"] == "true",
		})
	}
	return items, warnings, nil
}

// passesQualityFilter applies evidenceFilter rules, the banned vague-phrase
// lexicon (spec.md §4.F.5), and the completeness floor from
// internal/service/quality.
func passesQualityFilter(item model.EvidenceItem, filter config.EvidenceFilter) bool {
	if filter.RequireSourceExcerpt && item.SourceExcerpt == "" {
		return false
	}
	if len(item.Statement) < filter.MinStatementLength {
		return false
	}
	if len(item.SourceExcerpt) < filter.MinExcerptLength {
		return false
	}
	if quality.Score(item) < minCompletenessScore {
		return false
	}
	lower := strings.ToLower(item.Statement)
	vagueCount := 0
	for _, phrase := range filter.VaguePhrases {
		if strings.Contains(lower, phrase) {
			vagueCount++
		}
	}
	return vagueCount <= filter.MaxVaguePhraseCount
}

// normalizeStatement lowercases and collapses whitespace so near-identical
// statements compare equal under Jaccard similarity.
func normalizeStatement(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// isDuplicate reports whether norm's Jaccard token-set similarity against
// any already-kept statement meets or exceeds threshold (spec.md §4.F.6).
func isDuplicate(norm string, kept []string, threshold float64) bool {
	for _, k := range kept {
		if jaccardSimilarity(norm, k) >= threshold {
			return true
		}
	}
	return false
}

func jaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	intersection := 0
	for tok := range setA {
		if setB[tok] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range strings.Fields(s) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]")
		if tok == "" {
			continue
		}
		set[tok] = true
	}
	return set
}
