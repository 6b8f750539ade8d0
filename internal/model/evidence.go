package model

// SourceType enumerates the provenance classes an EvidenceItem may have.
type SourceType string

const (
	SourcePeerReviewedStudy SourceType = "peer_reviewed_study"
	SourceFactCheckReport   SourceType = "fact_check_report"
	SourceGovernmentReport  SourceType = "government_report"
	SourceLegalDocument     SourceType = "legal_document"
	SourceNewsPrimary       SourceType = "news_primary"
	SourceNewsSecondary     SourceType = "news_secondary"
	SourceExpertStatement   SourceType = "expert_statement"
	SourceOrganizationReport SourceType = "organization_report"
	SourceOther             SourceType = "other"
)

// ProbativeValue is a coarse strength rating for an evidence item.
type ProbativeValue string

const (
	ProbativeHigh   ProbativeValue = "high"
	ProbativeMedium ProbativeValue = "medium"
	ProbativeLow    ProbativeValue = "low"
)

// ClaimDirection is the stance an evidence item takes toward its claim.
type ClaimDirection string

const (
	DirectionSupports ClaimDirection = "supports"
	DirectionRefutes  ClaimDirection = "refutes"
	DirectionNeutral  ClaimDirection = "neutral"
)

// MinStatementLength and MinExcerptLength are the default evidenceFilter
// floors (spec.md §3.1 invariant, §4.A defaults).
const (
	MinStatementLength = 20
	MinExcerptLength   = 30
)

// Unscoped / general fallback context ids (spec.md §4.G).
const (
	CtxGeneral  = "CTX_GENERAL"
	CtxUnscoped = "CTX_UNSCOPED"
)

// EvidenceScope is optional per-evidence source metadata. It is never
// promoted to a verdict space (spec.md §3.1).
type EvidenceScope struct {
	Name        string `json:"name,omitempty"`
	Methodology string `json:"methodology,omitempty"`
	Boundaries  string `json:"boundaries,omitempty"`
	Geographic  string `json:"geographic,omitempty"`
	Temporal    string `json:"temporal,omitempty"`
}

// EvidenceItem is one verifiable statement attached to a claim and, after
// Stage 3, a context.
type EvidenceItem struct {
	ID                        string         `json:"id"`
	ClaimID                   string         `json:"claim_id"`
	Statement                 string         `json:"statement"`
	SourceURL                 string         `json:"source_url,omitempty"`
	SourceExcerpt             string         `json:"source_excerpt"`
	SourceAuthority           string         `json:"source_authority,omitempty"`
	EvidenceBasis             string         `json:"evidence_basis,omitempty"`
	SourceType                SourceType     `json:"source_type"`
	Category                  string         `json:"category,omitempty"`
	ProbativeValue            ProbativeValue `json:"probative_value"`
	ClaimDirection            ClaimDirection `json:"claim_direction"`
	EvidenceScope             *EvidenceScope `json:"evidence_scope,omitempty"`
	DerivativeClaimUnverified bool           `json:"derivative_claim_unverified"`
	ContextID                 string         `json:"context_id,omitempty"`
}

// Valid reports whether the item satisfies the §3.1 filter invariants.
// It does not check ContextID membership — that can only be checked once
// the final context set exists (see model.PipelineState.ValidContextID).
func (e EvidenceItem) Valid() bool {
	return e.SourceExcerpt != "" &&
		len(e.Statement) >= MinStatementLength &&
		len(e.SourceExcerpt) >= MinExcerptLength
}
