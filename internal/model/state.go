package model

import "sync"

// PipelineState is the single-owner arena for one job. Only the stage
// driver mutates it; stages read/append but never mutate earlier stages'
// entities except for the ContextID annotation Stage 3 attaches to
// evidence items (spec.md §3.1 "Ownership", §9 "Cross-stage object
// identity").
type PipelineState struct {
	Input        Input
	Claims       []AtomicClaim
	ImpliedClaim ImpliedClaim
	Gate1Stats   Gate1Stats
	Evidence     []EvidenceItem
	Contexts     []AnalysisContext
	Verdicts     []ClaimVerdict
}

// ClaimByID looks up a claim by id. Stable across stages per the id
// invariant in spec.md §3.1.
func (s *PipelineState) ClaimByID(id string) (AtomicClaim, bool) {
	for _, c := range s.Claims {
		if c.ID == id {
			return c, true
		}
	}
	return AtomicClaim{}, false
}

// CentralClaims returns claims with IsCentral set.
func (s *PipelineState) CentralClaims() []AtomicClaim {
	var out []AtomicClaim
	for _, c := range s.Claims {
		if c.IsCentral {
			out = append(out, c)
		}
	}
	return out
}

// EvidenceForClaim returns all evidence items attached to a claim.
func (s *PipelineState) EvidenceForClaim(claimID string) []EvidenceItem {
	var out []EvidenceItem
	for _, e := range s.Evidence {
		if e.ClaimID == claimID {
			out = append(out, e)
		}
	}
	return out
}

// EvidenceForClaimContext returns evidence items for a (claim, context) pair
// — the debate protocol's input subset (spec.md §4.H).
func (s *PipelineState) EvidenceForClaimContext(claimID, contextID string) []EvidenceItem {
	var out []EvidenceItem
	for _, e := range s.Evidence {
		if e.ClaimID == claimID && e.ContextID == contextID {
			out = append(out, e)
		}
	}
	return out
}

// EvidenceByID looks up an evidence item by id.
func (s *PipelineState) EvidenceByID(id string) (EvidenceItem, bool) {
	for _, e := range s.Evidence {
		if e.ID == id {
			return e, true
		}
	}
	return EvidenceItem{}, false
}

// ValidContextID reports whether id names an existing context or one of the
// two fallback ids (spec.md §3.1, §4.G).
func (s *PipelineState) ValidContextID(id string) bool {
	if id == CtxGeneral || id == CtxUnscoped {
		return true
	}
	for _, c := range s.Contexts {
		if c.ID == id {
			return true
		}
	}
	return false
}

// ClaimContextPairs enumerates every (claim, context) pair with at least one
// evidence item — the unit of work for Stage 4 (spec.md §4.H).
func (s *PipelineState) ClaimContextPairs() [][2]string {
	seen := make(map[[2]string]bool)
	var pairs [][2]string
	for _, e := range s.Evidence {
		key := [2]string{e.ClaimID, e.ContextID}
		if !seen[key] {
			seen[key] = true
			pairs = append(pairs, key)
		}
	}
	return pairs
}

// WarningsCollector is an append-only, concurrency-safe sink for
// AnalysisWarnings, shared across a job by reference (spec.md §5: "Warnings
// collector is append-only and safe to share across parallel calls").
type WarningsCollector struct {
	mu       sync.Mutex
	warnings []AnalysisWarning
}

// Push appends a warning. Safe for concurrent use.
func (c *WarningsCollector) Push(w AnalysisWarning) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, w)
}

// All returns a copy of the accumulated warnings in push order.
func (c *WarningsCollector) All() []AnalysisWarning {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]AnalysisWarning, len(c.warnings))
	copy(out, c.warnings)
	return out
}

// Has reports whether any warning of the given type has been pushed.
func (c *WarningsCollector) Has(t WarningType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range c.warnings {
		if w.Type == t {
			return true
		}
	}
	return false
}
