// Package quality scores evidence-item completeness. Scores (0.0-1.0)
// measure how substantively an EvidenceItem documents its claim and feed
// Stage 2's evidence quality filter, which drops items below a
// completeness floor before they reach clustering or debate (spec.md §4.F.5).
package quality

import (
	"strings"

	"github.com/factharbor/cb/internal/model"
)

// standardSourceTypes are the source types with documented, checkable
// provenance. Evidence of any other type scores lower on Factor 5.
var standardSourceTypes = map[model.SourceType]bool{
	model.SourcePeerReviewedStudy:  true,
	model.SourceFactCheckReport:    true,
	model.SourceGovernmentReport:   true,
	model.SourceLegalDocument:      true,
	model.SourceOrganizationReport: true,
}

// Score computes a quality score (0.0-1.0) for one evidence item. Higher
// scores indicate a more complete, more checkable item.
//
// Scoring factors:
//   - Statement substantive (>100 chars): up to 0.20
//   - Source excerpt substantive (>100 chars): up to 0.20
//   - Source authority named: 0.15
//   - Probative value: high 0.20, medium 0.10
//   - Source type from the documented-provenance taxonomy: 0.15
//   - Claim direction is not neutral: 0.10
func Score(e model.EvidenceItem) float32 {
	var score float32

	switch stLen := len(strings.TrimSpace(e.Statement)); {
	case stLen > 100:
		score += 0.20
	case stLen > 50:
		score += 0.15
	case stLen > 20:
		score += 0.05
	}

	switch exLen := len(strings.TrimSpace(e.SourceExcerpt)); {
	case exLen > 100:
		score += 0.20
	case exLen > 50:
		score += 0.10
	}

	if strings.TrimSpace(e.SourceAuthority) != "" {
		score += 0.15
	}

	switch e.ProbativeValue {
	case model.ProbativeHigh:
		score += 0.20
	case model.ProbativeMedium:
		score += 0.10
	}

	if standardSourceTypes[e.SourceType] {
		score += 0.15
	}

	if e.ClaimDirection != "" && e.ClaimDirection != model.DirectionNeutral {
		score += 0.10
	}

	return score
}
