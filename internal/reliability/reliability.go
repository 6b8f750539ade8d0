// Package reliability defines the source-reliability capability the
// pipeline consumes. Source-reliability evaluation itself is an external
// collaborator (spec.md §1 Non-goals: "Source-reliability evaluation
// service (a black box returning per-domain reliability scores)") — this
// package only names the contract and the pure calibration helper that
// turns its output into a multiplier.
package reliability

import "github.com/factharbor/cb/internal/model"

// Rating is one domain's reliability assessment. Score is nil when the
// evaluator has no opinion about the domain — callers must not treat nil
// as a score of zero (spec.md §4.I: never a gate, never a phantom
// neutral boost).
type Rating struct {
	Score         *float64
	SourceType    model.SourceType
	FactualRating string
}

// Evaluate is the externally-supplied reliability capability
// (spec.md §6: "reliability.evaluate(domain) -> {score, sourceType,
// factualRating}").
type Evaluate func(domain string) (Rating, error)

// CalibrationMultiplier turns a Rating into the [0,1] multiplier Stage 5
// applies alongside sourceTypeCalibration. A nil or unavailable score
// contributes the neutral multiplier 1.0 — the evaluator is advisory,
// never a gate (spec.md §4.I).
func CalibrationMultiplier(r Rating, err error) float64 {
	if err != nil || r.Score == nil {
		return 1.0
	}
	s := *r.Score
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
