package model

// QualityGate is the deterministic Gate 4 classification bucket
// (spec.md §4.I, §8).
type QualityGate string

const (
	GateHigh         QualityGate = "HIGH"
	GateMedium       QualityGate = "MEDIUM"
	GateLow          QualityGate = "LOW"
	GateInsufficient QualityGate = "INSUFFICIENT"
)

// Gate 4 numeric thresholds (spec.md §4.I.4, §8).
const (
	GateHighThreshold   = 70.0
	GateMediumThreshold = 40.0
)

// Gate1Stats summarizes Stage 1's claim-validation pass.
type Gate1Stats struct {
	TotalClaims       int            `json:"total_claims"`
	PassedClaims      int            `json:"passed_claims"`
	FilteredClaims    int            `json:"filtered_claims"`
	FilteredReasons   map[string]int `json:"filtered_reasons,omitempty"`
	CentralClaimsKept int            `json:"central_claims_kept"`
	PassedFidelity    int            `json:"passed_fidelity"`
}

// QualityGates bundles every gate's pass/filter summary for the final
// assessment (spec.md §6, §7: "qualityGates conveys per-gate passes/filters").
type QualityGates struct {
	Gate1   Gate1Stats  `json:"gate1"`
	Overall QualityGate `json:"overall"`
}

// CoverageEntry is one cell of the claim x context coverage matrix.
type CoverageEntry struct {
	HasVerdict bool          `json:"has_verdict"`
	Verdict    *ClaimVerdict `json:"verdict,omitempty"`
}

// CoverageMatrix maps claim id -> context id -> coverage entry.
type CoverageMatrix map[string]map[string]CoverageEntry

// JobStatus indicates whether the job completed, degraded, or failed.
type JobStatus string

const (
	StatusOK       JobStatus = "ok"
	StatusDegraded JobStatus = "degraded"
	StatusFailed   JobStatus = "failed"
)

// OverallAssessment is the pipeline's terminal output.
type OverallAssessment struct {
	JobID            string            `json:"job_id,omitempty"`
	Status           JobStatus         `json:"status"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	VerdictNarrative string            `json:"verdict_narrative,omitempty"`
	ClaimBoundaries  []AnalysisContext `json:"claim_boundaries,omitempty"`
	ClaimVerdicts    []ClaimVerdict    `json:"claim_verdicts,omitempty"`
	CoverageMatrix   CoverageMatrix    `json:"coverage_matrix,omitempty"`
	QualityGates     QualityGates      `json:"quality_gates"`
	Warnings         []AnalysisWarning `json:"warnings,omitempty"`
	Metrics          AnalysisMetrics   `json:"metrics"`
}

// PhaseTiming records wall-clock duration for one named pipeline phase.
type PhaseTiming struct {
	Phase      string `json:"phase"`
	DurationMS int64  `json:"duration_ms"`
}

// LLMCallRecord is the per-call envelope every gateway call emits
// (spec.md §4.B "emit promptHash per call", §6: "{promptHash, provider,
// model, tokens, wasTotalRefusal}"), persisted with AnalysisMetrics.
type LLMCallRecord struct {
	TaskKey         string `json:"task_key"`
	PromptHash      string `json:"prompt_hash"`
	Provider        string `json:"provider"`
	Model           string `json:"model"`
	Tokens          int    `json:"tokens"`
	WasTotalRefusal bool   `json:"was_total_refusal"`
	Retried         bool   `json:"retried"`
}

// AnalysisMetrics is the persisted-on-success metrics bundle (spec.md §6).
type AnalysisMetrics struct {
	PhaseTimings           []PhaseTiming   `json:"phase_timings,omitempty"`
	LLMCalls               int             `json:"llm_calls"`
	LLMCallRecords         []LLMCallRecord `json:"llm_call_records,omitempty"`
	SearchQueries          int             `json:"search_queries"`
	Gate1Stats             Gate1Stats      `json:"gate1_stats"`
	TotalTokens            int             `json:"total_tokens"`
	BaselessAdjustmentRate float64         `json:"baseless_adjustment_rate"`
	QueryBudgetUsage       map[string]int  `json:"query_budget_usage,omitempty"`
}
