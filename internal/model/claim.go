package model

// ClaimRole classifies the grammatical/evidentiary role a claim plays.
type ClaimRole string

const (
	RoleAttribution ClaimRole = "attribution"
	RoleSource      ClaimRole = "source"
	RoleTiming      ClaimRole = "timing"
	RoleCore        ClaimRole = "core"
)

// Centrality ranks how load-bearing a claim is to the input's overall thesis.
type Centrality string

const (
	CentralityHigh   Centrality = "high"
	CentralityMedium Centrality = "medium"
	CentralityLow    Centrality = "low"
)

// MaxHighCentralityClaims bounds the number of claims centrality=high in a
// single job (spec.md §3.1 invariant).
const MaxHighCentralityClaims = 4

// AtomicClaim is a minimally self-contained assertion extracted from Input.
type AtomicClaim struct {
	ID              string     `json:"id"`
	Text            string     `json:"text"`
	ClaimRole       ClaimRole  `json:"claim_role"`
	Centrality      Centrality `json:"centrality"`
	IsCentral       bool       `json:"is_central"`
	CheckWorthiness float64    `json:"check_worthiness"`
	KeyEntities     []string   `json:"key_entities,omitempty"`
	PassedFidelity  bool       `json:"passed_fidelity"`
	// IsCounterClaim marks a claim that tests the inverse of the implied
	// thesis (spec.md §9 open question — resolved: explicit field, set only
	// in Stage 1, read-only afterward; see SPEC_FULL.md §9).
	IsCounterClaim bool `json:"is_counter_claim"`
}

// ImpliedClaim is the thesis the pipeline holds Input to. Derived strictly
// from Input text, never from evidence.
type ImpliedClaim struct {
	Text string `json:"text"`
}

// MaxImpliedClaimWords bounds ImpliedClaim.Text length (spec.md §3.1).
const MaxImpliedClaimWords = 20
