package model

// Support is the direction and strength a KeyFactor lends to a verdict.
type Support string

const (
	SupportStronglySupports Support = "strongly_supports"
	SupportSupports         Support = "supports"
	SupportNeutral          Support = "neutral"
	SupportRefutes          Support = "refutes"
	SupportStronglyRefutes  Support = "strongly_refutes"
)

// Weight is a coarse importance rating for a KeyFactor.
type Weight string

const (
	WeightHigh   Weight = "high"
	WeightMedium Weight = "medium"
	WeightLow    Weight = "low"
)

// KeyFactor is one grounded reasoning point behind a verdict. EvidenceID
// must reference a real EvidenceItem in the claim's evidence set — this is
// the grounding invariant checked in Stage 4 validation (spec.md §4.H, §8).
type KeyFactor struct {
	EvidenceID  string  `json:"evidence_id"`
	Factor      string  `json:"factor"`
	Explanation string  `json:"explanation"`
	Supports    Support `json:"supports"`
	Weight      Weight  `json:"weight"`
}

// HarmPotential is a coarse rating of how consequential an incorrect verdict
// would be, used as an aggregation weight multiplier (spec.md §4.I).
type HarmPotential string

const (
	HarmLow    HarmPotential = "low"
	HarmMedium HarmPotential = "medium"
	HarmHigh   HarmPotential = "high"
)

// FactualBasis distinguishes "doubted" (opinion-only criticism, full weight)
// from "contested" (documented counter-evidence, reduced weight) per the
// glossary's Doubted-vs-Contested rule.
type FactualBasis string

const (
	BasisEstablished FactualBasis = "established"
	BasisDisputed    FactualBasis = "disputed"
	BasisOpinion     FactualBasis = "opinion"
	BasisAlleged     FactualBasis = "alleged"
	BasisUnknown     FactualBasis = "unknown"
)

// ChallengePoint is one adversarial challenge raised against an advocate
// verdict during Stage 4. CitedEvidenceIDs must be non-empty and must
// resolve to real evidence ids or the challenge is dropped (baseless).
type ChallengePoint struct {
	ID               string   `json:"id"`
	Text             string   `json:"text"`
	CitedEvidenceIDs []string `json:"cited_evidence_ids"`
}

// ChallengeResponse is the reconciler's reply to one surviving challenge.
type ChallengeResponse struct {
	ChallengeID string `json:"challenge_id"`
	Response    string `json:"response"`
	Accepted    bool   `json:"accepted"`
}

// ConsistencyResult is the Self-Consistency role's output: a consistency
// score across repeated samples plus the consolidated verdict they converge on.
type ConsistencyResult struct {
	Score              float64 `json:"score"`
	ConsolidatedAnswer float64 `json:"consolidated_answer"`
}

// DebateState is the per-(claim,context) state machine stage (spec.md §4.H).
type DebateState string

const (
	StateAdvocated    DebateState = "advocated"
	StateConsistent   DebateState = "consistent"
	StateLowConsist   DebateState = "low_consistency"
	StateChallenged   DebateState = "challenged"
	StateReconciled   DebateState = "reconciled"
	StateValidated    DebateState = "validated"
	StateFinalized    DebateState = "finalized"
	StateFailedDebate DebateState = "failed_debate"
)

// ClaimVerdict is the output of the Stage 4 debate protocol for one
// (claim, context) pair.
type ClaimVerdict struct {
	ClaimID            string              `json:"claim_id"`
	ContextID          string              `json:"context_id"`
	AnswerPct          float64             `json:"answer_pct"`
	ConfidencePct      float64             `json:"confidence_pct"`
	ShortAnswer        string              `json:"short_answer"`
	KeyFactors         []KeyFactor         `json:"key_factors,omitempty"`
	BoundaryFindings   string              `json:"boundary_findings,omitempty"`
	ConsistencyResult  ConsistencyResult   `json:"consistency_result"`
	ChallengeResponses []ChallengeResponse `json:"challenge_responses,omitempty"`
	TriangulationScore float64             `json:"triangulation_score"`
	IsInverted         bool                `json:"is_inverted"`
	HarmPotential      HarmPotential       `json:"harm_potential"`
	IsContested        bool                `json:"is_contested"`
	FactualBasis       FactualBasis        `json:"factual_basis"`
	State              DebateState         `json:"state"`
	// BaselessAdjustmentRate is dropped/proposed over this verdict's
	// adversarial challenge round (spec.md §4.H, §8).
	BaselessAdjustmentRate float64 `json:"baseless_adjustment_rate"`
}

// Clamp01To100 clamps a percentage value into [0,100] (spec.md §4.H).
func Clamp01To100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
