package model

// WarningType is the closed vocabulary of AnalysisWarning.Type values
// (spec.md §3.1, §6). No other value may be emitted.
//
// Two values extend spec.md §6's literal enumeration, each tied to a
// requirement stated elsewhere in spec.md that the §6 list omitted (see
// DESIGN.md): WarnSearchTimeout (spec.md §4.F: "on timeout returns the
// partial list and records search_timeout") and WarnAllSameDebateTier
// (spec.md §9's baseline-debate-profile open question, resolved here to
// emit a warning).
type WarningType string

const (
	WarnQueryBudgetExhausted   WarningType = "query_budget_exhausted"
	WarnDebateProviderFallback WarningType = "debate_provider_fallback"
	WarnBaselessChallenge      WarningType = "baseless_adversarial_challenge"
	WarnSchemaRepairApplied    WarningType = "schema_repair_applied"
	WarnLowConsistency         WarningType = "low_consistency"
	WarnGate1Rescue            WarningType = "gate1_rescue"
	WarnContextRemap           WarningType = "context_remap"
	WarnJobCancelled           WarningType = "job_cancelled"
	WarnConfigFallback         WarningType = "config_fallback"
	WarnPromptRenderError      WarningType = "prompt_render_error"
	WarnAnalysisGenFailed      WarningType = "analysis_generation_failed"
	WarnSearchTimeout          WarningType = "search_timeout"
	WarnAllSameDebateTier      WarningType = "all_same_debate_tier"
)

// AnalysisWarning is a typed, non-fatal condition surfaced in the output.
type AnalysisWarning struct {
	Type    WarningType    `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
