// Package gate1 implements Stage 1's claim-validation gate as a pure
// function over already-extracted claims: no I/O, no LLM calls. Grounded
// on the teacher's quality.Score style (deterministic, rubric-driven,
// side-effect-free) generalized from a single additive score to a
// three-check pass/filter decision (spec.md §4.E).
package gate1

import "github.com/factharbor/cb/internal/model"

// MinSpecificityAnchors is the minimum number of KeyEntities (as reported
// by Stage 1 Pass 2) a claim must carry to pass passedSpecificity.
// A claim with none of these reads as unfalsifiable ("things are getting
// worse") rather than a checkable assertion.
const MinSpecificityAnchors = 1

// Checks holds the three boolean checks Gate 1 runs per claim
// (spec.md §4.E: "passedFidelity, passedOpinion, passedSpecificity").
type Checks struct {
	PassedFidelity    bool
	PassedOpinion     bool
	PassedSpecificity bool
}

// Pass reports whether a claim survives Gate 1 — all three checks pass.
func (c Checks) Pass() bool {
	return c.PassedFidelity && c.PassedOpinion && c.PassedSpecificity
}

// Evaluate runs Gate 1's three checks against one claim. PassedFidelity is
// carried over from Stage 1 Pass 2 (the LLM already assessed whether the
// claim derives from the input alone); PassedOpinion and PassedSpecificity
// are evaluated here from the claim's own fields so the gate stays a pure
// function independent of LLM output shape.
func Evaluate(c model.AtomicClaim) Checks {
	return Checks{
		PassedFidelity:    c.PassedFidelity,
		PassedOpinion:     c.CheckWorthiness > 0,
		PassedSpecificity: len(c.KeyEntities) >= MinSpecificityAnchors,
	}
}

// Apply filters claims through Gate 1 and rescues the single
// highest-checkWorthiness claim when every claim is filtered, so the
// pipeline never terminates
// Stage 1 with zero claims (spec.md §4.E "safety net").
func Apply(claims []model.AtomicClaim) (kept []model.AtomicClaim, stats model.Gate1Stats, warnings []model.AnalysisWarning) {
	stats.TotalClaims = len(claims)
	stats.FilteredReasons = map[string]int{}

	var all []model.AtomicClaim
	for _, c := range claims {
		checks := Evaluate(c)
		all = append(all, c)
		if checks.Pass() {
			kept = append(kept, c)
			continue
		}
		stats.FilteredClaims++
		switch {
		case !checks.PassedFidelity:
			stats.FilteredReasons["failed_fidelity"]++
		case !checks.PassedOpinion:
			stats.FilteredReasons["failed_opinion"]++
		case !checks.PassedSpecificity:
			stats.FilteredReasons["failed_specificity"]++
		}
	}

	if len(kept) == 0 && len(all) > 0 {
		rescued := rescueHighestScoring(all)
		kept = append(kept, rescued)
		warnings = append(warnings, model.AnalysisWarning{
			Type:    model.WarnGate1Rescue,
			Message: "all claims filtered; rescued highest check-worthiness claim",
			Details: map[string]any{"claim_id": rescued.ID},
		})
	}

	stats.PassedClaims = len(kept)
	for _, c := range kept {
		if c.PassedFidelity {
			stats.PassedFidelity++
		}
		if c.IsCentral {
			stats.CentralClaimsKept++
		}
	}

	return kept, stats, warnings
}

// rescueHighestScoring returns the claim with the highest checkWorthiness
// among all evaluated claims, regardless of which checks it failed.
func rescueHighestScoring(claims []model.AtomicClaim) model.AtomicClaim {
	best := claims[0]
	for _, c := range claims[1:] {
		if c.CheckWorthiness > best.CheckWorthiness {
			best = c
		}
	}
	return best
}
