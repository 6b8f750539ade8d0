// Package config resolves the CB pipeline's layered configuration: an
// active UCM profile overrides profile defaults, which override built-in
// defaults (spec.md §4.A). The merge/validate/fallback shape follows the
// teacher's internal/config package (accumulated validation errors,
// fall back to last-known-good on schema violation), generalized from a
// single environment-variable layer to three ordered, caller-supplied
// layers.
package config

import (
	"fmt"

	"github.com/factharbor/cb/internal/model"
)

// Layer is one untyped configuration layer — the shape UCM profile payloads
// and profile-default documents arrive in (JSON-like, string keys).
type Layer map[string]any

// AnalysisMode controls iteration/source caps (spec.md §4.A).
type AnalysisMode string

const (
	ModeQuick    AnalysisMode = "quick"
	ModeStandard AnalysisMode = "standard"
	ModeDeep     AnalysisMode = "deep"
)

// QueryStrategyMode selects Stage 2's query-generation shape (spec.md §4.F).
type QueryStrategyMode string

const (
	StrategyLegacy QueryStrategyMode = "legacy"
	StrategyProCon QueryStrategyMode = "pro_con"
)

// DebateRole names one of the five Stage 4 debate roles.
type DebateRole string

const (
	RoleAdvocate        DebateRole = "advocate"
	RoleSelfConsistency DebateRole = "selfConsistency"
	RoleChallenger      DebateRole = "challenger"
	RoleReconciler      DebateRole = "reconciler"
	RoleValidation      DebateRole = "validation"
)

// DebateProfileName selects a named role->provider mapping (spec.md §4.A).
type DebateProfileName string

const (
	ProfileBaseline      DebateProfileName = "baseline"
	ProfileTierSplit     DebateProfileName = "tier-split"
	ProfileCrossProvider DebateProfileName = "cross-provider"
	ProfileMaxDiversity  DebateProfileName = "max-diversity"
)

// DebateProfile maps every one of the five debate roles to a provider name.
// All 5 roles must be present — "global provider is never silently
// inherited for profile semantics" (spec.md §4.A).
type DebateProfile struct {
	Name      DebateProfileName
	Providers map[DebateRole]string
}

// Provider returns the configured provider for role, or "" if the profile
// does not declare it.
func (p DebateProfile) Provider(role DebateRole) string {
	return p.Providers[role]
}

// AllSameProvider reports whether every role maps to the same provider —
// the condition that triggers the (informational) all_same_debate_tier
// warning for the baseline profile (spec.md §9 open question, resolved in
// SPEC_FULL.md §9: emit it).
func (p DebateProfile) AllSameProvider() bool {
	var first string
	for _, role := range []DebateRole{RoleAdvocate, RoleSelfConsistency, RoleChallenger, RoleReconciler, RoleValidation} {
		v := p.Providers[role]
		if first == "" {
			first = v
			continue
		}
		if v != first {
			return false
		}
	}
	return true
}

// PipelineConfig holds iteration/token/concurrency budgets.
type PipelineConfig struct {
	AnalysisMode          AnalysisMode
	MaxIterationsPerScope int
	MaxTotalIterations    int
	MaxTotalTokens        int
	EnforceBudgets        bool
	Concurrency           int
}

// SearchConfig holds Stage 2 query/search settings.
type SearchConfig struct {
	QueryStrategyMode QueryStrategyMode
	QueryBudget       int // per-claim query budget
	TimeoutMS         int
	DomainWhitelist   []string
	DomainBlacklist   []string
	DateRestrict      string
}

// EvidenceFilter holds Stage 2 quality-gate thresholds (spec.md §4.F).
type EvidenceFilter struct {
	MinStatementLength     int
	MaxVaguePhraseCount    int
	RequireSourceExcerpt   bool
	MinExcerptLength       int
	DeduplicationThreshold float64
	VaguePhrases           []string
}

// VerdictBand is one closed interval of the [0,100] answerPct partition
// (spec.md §4.A).
type VerdictBand struct {
	Name string
	Low  float64 // inclusive
	High float64 // inclusive
}

// CalculationConfig holds Stage 4/5 numeric weighting (spec.md §4.A, §4.I).
type CalculationConfig struct {
	VerdictBands             []VerdictBand
	MixedUnverifiedThreshold float64
	ProbativeValueWeights    map[model.ProbativeValue]float64
	SourceTypeCalibration    map[model.SourceType]float64
	ContestationWeights      map[model.FactualBasis]float64
	HarmPotentialMultiplier  map[model.HarmPotential]float64
	CentralityWeight         map[model.Centrality]float64
}

// PromptConfig names the prompt templates each stage/role loads.
type PromptConfig struct {
	Names map[string]string
}

// LLMTiering holds per-task model names and the tiering on/off switch
// (spec.md §4.A, §4.C).
type LLMTiering struct {
	Enabled              bool
	ModelUnderstand      string
	ModelExtractEvidence string
	ModelVerdict         string
}

// Resolved is the fully-merged, typed configuration view stages consume.
type Resolved struct {
	Pipeline    PipelineConfig
	Search      SearchConfig
	Evidence    EvidenceFilter
	Calculation CalculationConfig
	Prompts     PromptConfig
	Debate      DebateProfile
	Tiering     LLMTiering
}

// Default returns the built-in default configuration (spec.md §4.A
// built-in-defaults layer).
func Default() Resolved {
	return Resolved{
		Pipeline: PipelineConfig{
			AnalysisMode:          ModeStandard,
			MaxIterationsPerScope: 3,
			MaxTotalIterations:    20,
			MaxTotalTokens:        200000,
			EnforceBudgets:        true,
			Concurrency:           4,
		},
		Search: SearchConfig{
			QueryStrategyMode: StrategyProCon,
			QueryBudget:       6,
			TimeoutMS:         12000,
		},
		Evidence: EvidenceFilter{
			MinStatementLength:     model.MinStatementLength,
			MaxVaguePhraseCount:    2,
			RequireSourceExcerpt:   true,
			MinExcerptLength:       model.MinExcerptLength,
			DeduplicationThreshold: 0.85,
			VaguePhrases:           []string{"some say", "many believe", "it is said", "reportedly"},
		},
		Calculation: CalculationConfig{
			VerdictBands: []VerdictBand{
				{Name: "false", Low: 0, High: 14},
				{Name: "mostlyFalse", Low: 15, High: 29},
				{Name: "leaningFalse", Low: 30, High: 44},
				{Name: "mixed", Low: 45, High: 55},
				{Name: "leaningTrue", Low: 56, High: 70},
				{Name: "mostlyTrue", Low: 71, High: 85},
				{Name: "true", Low: 86, High: 100},
			},
			MixedUnverifiedThreshold: 40,
			ProbativeValueWeights: map[model.ProbativeValue]float64{
				model.ProbativeHigh:   1.0,
				model.ProbativeMedium: 0.8,
				model.ProbativeLow:    0.5,
			},
			SourceTypeCalibration: map[model.SourceType]float64{
				model.SourcePeerReviewedStudy:  1.0,
				model.SourceFactCheckReport:    0.95,
				model.SourceGovernmentReport:   0.9,
				model.SourceLegalDocument:      0.9,
				model.SourceNewsPrimary:        0.75,
				model.SourceExpertStatement:    0.7,
				model.SourceOrganizationReport: 0.65,
				model.SourceNewsSecondary:      0.55,
				model.SourceOther:              0.4,
			},
			ContestationWeights: map[model.FactualBasis]float64{
				model.BasisEstablished: 0.3,
				model.BasisDisputed:    0.5,
				model.BasisOpinion:     1.0,
				model.BasisAlleged:     1.0,
				model.BasisUnknown:     1.0,
			},
			HarmPotentialMultiplier: map[model.HarmPotential]float64{
				model.HarmLow:    1.0,
				model.HarmMedium: 1.15,
				model.HarmHigh:   1.3,
			},
			CentralityWeight: map[model.Centrality]float64{
				model.CentralityHigh:   1.0,
				model.CentralityMedium: 0.6,
				model.CentralityLow:    0.3,
			},
		},
		Prompts: PromptConfig{Names: map[string]string{
			"stage1_pass1":       "claim_boundary_pass1",
			"stage1_pass2":       "claim_boundary_pass2",
			"stage2_query":       "research_query_gen",
			"stage2_relevance":   "research_relevance",
			"stage2_extract":     "research_evidence_extract",
			"stage3_cluster":     "boundary_cluster",
			"stage3_merge":       "boundary_merge",
			"stage3_assign":      "boundary_assign",
			"stage4_advocate":    "debate_advocate",
			"stage4_consistency": "debate_self_consistency",
			"stage4_challenge":   "debate_challenge",
			"stage4_reconcile":   "debate_reconcile",
			"stage4_validate":    "debate_validate",
			"stage5_narrative":   "aggregation_narrative",
		}},
		Debate: DebateProfile{
			Name: ProfileBaseline,
			Providers: map[DebateRole]string{
				RoleAdvocate:        "default",
				RoleSelfConsistency: "default",
				RoleChallenger:      "default",
				RoleReconciler:      "default",
				RoleValidation:      "default",
			},
		},
		Tiering: LLMTiering{
			Enabled:              true,
			ModelUnderstand:      "budget",
			ModelExtractEvidence: "budget",
			ModelVerdict:         "premium",
		},
	}
}

// Resolve merges base (built-in defaults) <- profileDefault <- active, left
// losing to right ("active UCM profile -> profile defaults -> built-in
// defaults", spec.md §4.A: "Merge default + profile + UCM-active config").
// On a schema violation in either override layer, Resolve falls back to
// the last-known-good value for that layer and returns a config_fallback
// warning rather than failing the job (spec.md §4.A "Errors").
func Resolve(base Resolved, profileDefault, active Layer) (Resolved, []model.AnalysisWarning) {
	var warnings []model.AnalysisWarning
	resolved := base

	for _, layer := range []Layer{profileDefault, active} {
		if layer == nil {
			continue
		}
		next, err := applyLayer(resolved, layer)
		if err != nil {
			warnings = append(warnings, model.AnalysisWarning{
				Type:    model.WarnConfigFallback,
				Message: fmt.Sprintf("config layer rejected, falling back to last-known-good: %v", err),
			})
			continue
		}
		resolved = next
	}

	if resolved.Debate.Name == ProfileBaseline && resolved.Debate.AllSameProvider() {
		warnings = append(warnings, model.AnalysisWarning{
			Type:    model.WarnAllSameDebateTier,
			Message: "baseline debate profile routes every role to the same provider",
		})
	}

	return resolved, warnings
}

// applyLayer overlays one untyped Layer onto a Resolved config, validating
// every recognized key's shape. Unrecognized keys are ignored (forward
// compatibility); recognized keys with the wrong shape are a schema
// violation and the whole layer is rejected.
func applyLayer(r Resolved, layer Layer) (Resolved, error) {
	out := r

	if v, ok := layer["analysisMode"]; ok {
		s, ok := v.(string)
		if !ok {
			return r, fmt.Errorf("analysisMode: expected string, got %T", v)
		}
		mode := AnalysisMode(s)
		if mode != ModeQuick && mode != ModeStandard && mode != ModeDeep {
			return r, fmt.Errorf("analysisMode: unrecognized value %q", s)
		}
		out.Pipeline.AnalysisMode = mode
		switch mode {
		case ModeQuick:
			out.Pipeline.MaxTotalIterations = 8
			out.Pipeline.MaxIterationsPerScope = 1
		case ModeDeep:
			out.Pipeline.MaxTotalIterations = 40
			out.Pipeline.MaxIterationsPerScope = 6
		}
	}
	if v, ok := layer["maxIterationsPerScope"]; ok {
		n, err := asInt(v, "maxIterationsPerScope")
		if err != nil {
			return r, err
		}
		out.Pipeline.MaxIterationsPerScope = n
	}
	if v, ok := layer["maxTotalIterations"]; ok {
		n, err := asInt(v, "maxTotalIterations")
		if err != nil {
			return r, err
		}
		out.Pipeline.MaxTotalIterations = n
	}
	if v, ok := layer["maxTotalTokens"]; ok {
		n, err := asInt(v, "maxTotalTokens")
		if err != nil {
			return r, err
		}
		out.Pipeline.MaxTotalTokens = n
	}
	if v, ok := layer["enforceBudgets"]; ok {
		b, ok := v.(bool)
		if !ok {
			return r, fmt.Errorf("enforceBudgets: expected bool, got %T", v)
		}
		out.Pipeline.EnforceBudgets = b
	}
	if v, ok := layer["concurrency"]; ok {
		n, err := asInt(v, "concurrency")
		if err != nil {
			return r, err
		}
		out.Pipeline.Concurrency = n
	}
	if v, ok := layer["queryStrategyMode"]; ok {
		s, ok := v.(string)
		if !ok {
			return r, fmt.Errorf("queryStrategyMode: expected string, got %T", v)
		}
		mode := QueryStrategyMode(s)
		if mode != StrategyLegacy && mode != StrategyProCon {
			return r, fmt.Errorf("queryStrategyMode: unrecognized value %q", s)
		}
		out.Search.QueryStrategyMode = mode
	}
	if v, ok := layer["queryBudget"]; ok {
		n, err := asInt(v, "queryBudget")
		if err != nil {
			return r, err
		}
		out.Search.QueryBudget = n
	}
	if v, ok := layer["debateProfile"]; ok {
		profile, err := parseDebateProfile(v)
		if err != nil {
			return r, err
		}
		out.Debate = profile
	}
	if v, ok := layer["deduplicationThreshold"]; ok {
		f, ok := v.(float64)
		if !ok {
			return r, fmt.Errorf("deduplicationThreshold: expected float64, got %T", v)
		}
		out.Evidence.DeduplicationThreshold = f
	}

	return out, nil
}

func asInt(v any, field string) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s: expected number, got %T", field, v)
	}
}

// parseDebateProfile parses a debateProfile layer value. Accepted shapes:
// a bare profile name (string) resolving to a built-in Providers map, or a
// full {"name": ..., "providers": {...}} object overriding individual roles.
func parseDebateProfile(v any) (DebateProfile, error) {
	switch val := v.(type) {
	case string:
		name := DebateProfileName(val)
		if p, ok := builtinDebateProfiles[name]; ok {
			return p, nil
		}
		return DebateProfile{}, fmt.Errorf("debateProfile: unrecognized built-in name %q", val)
	case map[string]any:
		nameRaw, _ := val["name"].(string)
		name := DebateProfileName(nameRaw)
		base, ok := builtinDebateProfiles[name]
		if !ok {
			return DebateProfile{}, fmt.Errorf("debateProfile: unrecognized name %q", nameRaw)
		}
		providersRaw, _ := val["providers"].(map[string]any)
		providers := make(map[DebateRole]string, len(base.Providers))
		for k, v := range base.Providers {
			providers[k] = v
		}
		for k, v := range providersRaw {
			s, ok := v.(string)
			if !ok {
				return DebateProfile{}, fmt.Errorf("debateProfile.providers.%s: expected string, got %T", k, v)
			}
			providers[DebateRole(k)] = s
		}
		for _, role := range []DebateRole{RoleAdvocate, RoleSelfConsistency, RoleChallenger, RoleReconciler, RoleValidation} {
			if providers[role] == "" {
				return DebateProfile{}, fmt.Errorf("debateProfile: role %q has no provider (all 5 roles must be explicit)", role)
			}
		}
		return DebateProfile{Name: name, Providers: providers}, nil
	default:
		return DebateProfile{}, fmt.Errorf("debateProfile: expected string or object, got %T", v)
	}
}

var builtinDebateProfiles = map[DebateProfileName]DebateProfile{
	ProfileBaseline: {
		Name: ProfileBaseline,
		Providers: map[DebateRole]string{
			RoleAdvocate: "default", RoleSelfConsistency: "default",
			RoleChallenger: "default", RoleReconciler: "default", RoleValidation: "default",
		},
	},
	ProfileTierSplit: {
		Name: ProfileTierSplit,
		Providers: map[DebateRole]string{
			RoleAdvocate: "default", RoleSelfConsistency: "default",
			RoleChallenger: "premium", RoleReconciler: "premium", RoleValidation: "premium",
		},
	},
	ProfileCrossProvider: {
		Name: ProfileCrossProvider,
		Providers: map[DebateRole]string{
			RoleAdvocate: "anthropic", RoleSelfConsistency: "anthropic",
			RoleChallenger: "openai", RoleReconciler: "anthropic", RoleValidation: "openai",
		},
	},
	ProfileMaxDiversity: {
		Name: ProfileMaxDiversity,
		Providers: map[DebateRole]string{
			RoleAdvocate: "anthropic", RoleSelfConsistency: "openai",
			RoleChallenger: "google", RoleReconciler: "anthropic", RoleValidation: "openai",
		},
	},
}

// Band returns the VerdictBand containing pct. A pct below the first band
// or between two bands' bounds (e.g. 14.5 with integer bounds) maps to the
// next band above it, and a pct above every configured High maps to the
// last band.
func (c CalculationConfig) Band(pct float64) VerdictBand {
	for _, b := range c.VerdictBands {
		if pct >= b.Low && pct <= b.High {
			return b
		}
	}
	for _, b := range c.VerdictBands {
		if pct < b.Low {
			return b
		}
	}
	if len(c.VerdictBands) > 0 {
		return c.VerdictBands[len(c.VerdictBands)-1]
	}
	return VerdictBand{Name: "mixed", Low: 0, High: 100}
}
