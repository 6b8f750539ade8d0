// Package cb is the public API for embedding the ClaimAssessmentBoundary
// pipeline.
//
// Callers construct a Pipeline once per process (or per tenant config) and
// call Analyze per job:
//
//	p, err := cb.New(cb.Deps{
//	    LLM:         myDefaultProvider,
//	    Search:      myWebSearch,
//	    Reliability: myReliabilityService.Evaluate,
//	    Prompts:     myPromptStore,
//	}, cb.WithProvider("anthropic", myAnthropicProvider))
//	if err != nil { ... }
//	assessment, err := p.Analyze(ctx, cb.Input{Text: "...", Kind: cb.KindClaim})
//
// The import graph enforces a strict no-cycle rule: cb (root) imports
// internal/*, but internal/* never imports cb. Adapter types that count
// LLM calls, tokens, and search queries through to the per-job collector
// live in this package (analyze.go), not in internal/llmgw or
// internal/searchgw, because the root package is the only one that sees
// both the caller-supplied capability and the per-job metrics sink.
package cb

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/factharbor/cb/internal/config"
	"github.com/factharbor/cb/internal/llmgw"
	"github.com/factharbor/cb/internal/model"
	"github.com/factharbor/cb/internal/prompts"
	"github.com/factharbor/cb/internal/reliability"
	"github.com/factharbor/cb/internal/searchgw"
)

// Re-exported domain types so callers need only import this package for
// the common path (spec.md §6).
type (
	Input             = model.Input
	InputKind         = model.InputKind
	OverallAssessment = model.OverallAssessment
	AnalysisWarning   = model.AnalysisWarning
)

const (
	KindClaim   = model.KindClaim
	KindArticle = model.KindArticle
)

// Sentinel job-fatal errors (spec.md §7). Every non-nil error Analyze
// returns is job-fatal and, where the failure matches one of these known
// shapes, wraps it so callers can branch with errors.Is.
var (
	// ErrConfigLoad is returned by New when the supplied prompt templates
	// or configuration layers cannot be resolved into a usable Pipeline.
	ErrConfigLoad = errors.New("cb: configuration failed to load")

	// ErrPass2Refusal is returned when Stage 1's claim-boundary extraction
	// cannot produce a usable claim set — its understand-tier or
	// verdict-tier LLM call refused or failed outright, or Pass 1 yielded
	// no claims. Prompt render failures in Stage 1 wrap ErrPromptRegistry
	// instead.
	ErrPass2Refusal = errors.New("cb: claim boundary extraction refused")

	// ErrCancelled wraps a context cancellation observed between pipeline
	// stages. Analyze still returns a best-effort partial OverallAssessment
	// alongside this error rather than a bare context error.
	ErrCancelled = errors.New("cb: analysis cancelled")

	// ErrPromptRegistry is returned when a stage's prompt template cannot
	// be rendered at all (not merely rolled back to a prior revision).
	ErrPromptRegistry = errors.New("cb: prompt render failed")
)

// PromptStore supplies the named prompt template bodies the pipeline
// registers at construction time. Keys are the template names referenced
// by config.Resolved.Prompts.Names' values (spec.md §4.B).
type PromptStore interface {
	Templates() map[string]string
}

// Deps bundles the pipeline's externally-supplied capabilities
// (spec.md §6). LLM is the single required backend; additional named
// providers for specific task tiers or debate roles are supplied via
// WithProvider rather than a map field here — see DESIGN.md for why.
type Deps struct {
	LLM         llmgw.LLMCall
	Search      searchgw.Search
	Reliability reliability.Evaluate
	Prompts     PromptStore
	Clock       func() time.Time
}

// Pipeline is the constructed, ready-to-run ClaimAssessmentBoundary
// analyzer. Safe for concurrent Analyze calls.
type Pipeline struct {
	cfg             config.Resolved
	prompts         *prompts.Registry
	deps            Deps
	opts            resolvedOptions
	logger          *slog.Logger
	reliable        reliability.Evaluate
	startupWarnings []model.AnalysisWarning
}

// New builds a Pipeline. Every template name config.Default().Prompts.Names
// (as overridden by profile/active layers) resolves against must be present
// in deps.Prompts.Templates(), or the corresponding render call will fail at
// job time with ErrPromptRegistry.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	if deps.LLM == nil {
		return nil, fmt.Errorf("%w: Deps.LLM is required", ErrConfigLoad)
	}
	if deps.Prompts == nil {
		return nil, fmt.Errorf("%w: Deps.Prompts is required", ErrConfigLoad)
	}
	if deps.Search == nil {
		return nil, fmt.Errorf("%w: Deps.Search is required", ErrConfigLoad)
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	resolved := defaultOptions()
	for _, opt := range opts {
		opt(&resolved)
	}
	logger := resolved.logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg, cfgWarnings := config.Resolve(config.Default(), resolved.profileDefaults, resolved.activeConfig)
	if resolved.concurrency > 0 {
		cfg.Pipeline.Concurrency = resolved.concurrency
	}
	for _, w := range cfgWarnings {
		logger.Warn("config layer rejected", "type", string(w.Type), "message", w.Message)
	}

	registry := prompts.NewRegistry()
	for name, body := range deps.Prompts.Templates() {
		if _, err := registry.Register(name, body); err != nil {
			return nil, fmt.Errorf("%w: register prompt %q: %v", ErrConfigLoad, name, err)
		}
	}

	p := &Pipeline{
		cfg:             cfg,
		prompts:         registry,
		deps:            deps,
		opts:            resolved,
		logger:          logger,
		reliable:        deps.Reliability,
		startupWarnings: cfgWarnings,
	}
	return p, nil
}
