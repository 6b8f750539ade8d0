// Package llmgw is the LLM Gateway: tier-based provider routing, schema-aware
// structured output with a bounded retry, total-refusal detection with an
// in-tier reframed retry and a single tier-down fallback, and cancellation
// propagation (spec.md §4.C).
//
// Grounded on internal/conflicts/validator.go's Validator interface and its
// OllamaValidator/OpenAIValidator pair — two interchangeable backends behind
// one interface, each owning its own call-scoped timeout — generalized from
// a single relationship-classification call to a generic LLMCall capability.
package llmgw

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/factharbor/cb/internal/model"
)

// ErrNoProvider is returned when a tier has no provider configured. Callers
// treat this as "continue without," mirroring the teacher's
// internal/service/embedding ErrNoProvider convention.
var ErrNoProvider = errors.New("llmgw: no provider configured for tier")

// ErrTotalRefusal is returned when the primary and fallback providers both
// produced a refusal (or failed outright) for a request.
var ErrTotalRefusal = errors.New("llmgw: model refused to answer")

// maxSchemaRetries bounds the schema-aware retry loop (spec.md §4.C:
// "schema-aware retry ≤2").
const maxSchemaRetries = 2

// refusalMarkers are case-insensitive substrings that, taken alone (no
// parseable schema fields alongside them), indicate the model declined to
// answer rather than producing a malformed response.
var refusalMarkers = []string{
	"i cannot assist",
	"i can't assist",
	"i'm not able to help",
	"i am not able to help",
	"as an ai language model",
	"i must decline",
}

// LLMRequest is one structured call through the gateway. PromptHash is the
// content hash of the template revision that produced Prompt (spec.md §4.B:
// "emit promptHash per call"); it is carried through to the response and
// the call record unchanged.
type LLMRequest struct {
	Prompt     string
	PromptHash string
	Fields     Fields
	MaxTokens  int
}

// LLMResponse is a gateway call's parsed result plus the per-call envelope
// spec.md §6 requires ({promptHash, provider, model, tokens,
// wasTotalRefusal}).
type LLMResponse struct {
	Text            string
	Parsed          map[string]string
	PromptHash      string
	Provider        string
	Model           string
	Tokens          int
	Retried         bool
	WasTotalRefusal bool
	FellBackTier    bool
}

// LLMCall is the capability type every provider backend implements —
// generalized from internal/conflicts/validator.go's Validator interface.
type LLMCall interface {
	Call(ctx context.Context, prompt string, maxTokens int) (text string, tokens int, err error)
}

// Gateway routes requests to a named provider per tier and falls back to a
// single lower tier after the requested tier refuses even a reframed retry
// or fails outright.
type Gateway struct {
	providers map[string]LLMCall
	// fallbackTier names the tier Gateway.Call retries against once, after
	// the requested tier's provider fails or refuses outright.
	fallbackTier string

	// ModelNames maps a tier/provider key to the concrete model it routes
	// to, stamped on LLMResponse.Model and call records. Keys with no entry
	// report the key itself.
	ModelNames map[string]string

	// Recorder, when set, receives one LLMCallRecord per completed Call
	// (success or terminal failure). Set once before the gateway is shared.
	Recorder func(model.LLMCallRecord)
}

// NewGateway builds a Gateway over providers keyed by tier/provider name.
// fallbackTier may be "" to disable the fallback step.
func NewGateway(providers map[string]LLMCall, fallbackTier string) *Gateway {
	return &Gateway{providers: providers, fallbackTier: fallbackTier}
}

func (g *Gateway) modelFor(key string) string {
	if m, ok := g.ModelNames[key]; ok {
		return m
	}
	return key
}

// Call resolves tier to a provider, issues req, validates the response
// against req.Fields, and retries up to maxSchemaRetries times on parse
// failure. A total refusal is retried once in-tier with fact-checking
// framing added to the prompt; only after that final refusal (or a
// transport failure) does the gateway fall back to fallbackTier, once
// (spec.md §4.C.4).
func (g *Gateway) Call(ctx context.Context, tier string, req LLMRequest) (LLMResponse, error) {
	resp, err := g.callTier(ctx, tier, req)
	if err == nil {
		g.record(tier, req, resp)
		return resp, nil
	}
	if g.fallbackTier == "" || g.fallbackTier == tier {
		g.recordFailure(tier, req, err)
		return LLMResponse{}, err
	}

	fbResp, fbErr := g.callTier(ctx, g.fallbackTier, req)
	if fbErr != nil {
		err := fmt.Errorf("%w: tier %q and fallback %q both failed", ErrTotalRefusal, tier, g.fallbackTier)
		g.recordFailure(tier, req, err)
		return LLMResponse{}, err
	}
	fbResp.FellBackTier = true
	fbResp.WasTotalRefusal = errors.Is(err, ErrTotalRefusal)
	g.record(tier, req, fbResp)
	return fbResp, nil
}

// callTier resolves the provider for tier and runs the schema-aware retry
// loop against it, without touching the fallback tier. The first refusal
// spends one attempt on the reframed prompt; a second refusal ends the
// loop so Call can fall back a tier.
func (g *Gateway) callTier(ctx context.Context, tier string, req LLMRequest) (LLMResponse, error) {
	call, ok := g.providers[tier]
	if !ok {
		return LLMResponse{}, fmt.Errorf("%w: %q", ErrNoProvider, tier)
	}

	prompt := req.Prompt
	reframed := false
	nudged := false
	var totalTokens int
	var lastErr error
	for attempt := 0; attempt <= maxSchemaRetries; attempt++ {
		text, tokens, err := call.Call(ctx, prompt, req.MaxTokens)
		totalTokens += tokens
		if err != nil {
			lastErr = err
			continue
		}
		if detectTotalRefusal(text) {
			lastErr = fmt.Errorf("%w: %q", ErrTotalRefusal, tier)
			if reframed {
				break
			}
			reframed = true
			prompt = refusalReframe(req.Prompt)
			continue
		}
		parsed, perr := Parse(text, req.Fields)
		if perr == nil {
			return LLMResponse{
				Text: text, Parsed: parsed, PromptHash: req.PromptHash,
				Provider: tier, Model: g.modelFor(tier),
				Tokens: totalTokens, Retried: nudged,
				WasTotalRefusal: reframed,
			}, nil
		}
		lastErr = perr
		nudged = true
		prompt = reformatNudge(req.Prompt, req.Fields)
	}
	return LLMResponse{}, fmt.Errorf("llmgw: tier %q: %w", tier, lastErr)
}

// record hands a completed call's envelope to the Recorder. taskTier is the
// tier originally requested, which for a fallen-back response differs from
// resp.Provider.
func (g *Gateway) record(taskTier string, req LLMRequest, resp LLMResponse) {
	if g.Recorder == nil {
		return
	}
	g.Recorder(model.LLMCallRecord{
		TaskKey:         taskTier,
		PromptHash:      req.PromptHash,
		Provider:        resp.Provider,
		Model:           resp.Model,
		Tokens:          resp.Tokens,
		WasTotalRefusal: resp.WasTotalRefusal,
		Retried:         resp.Retried,
	})
}

func (g *Gateway) recordFailure(taskTier string, req LLMRequest, err error) {
	if g.Recorder == nil {
		return
	}
	g.Recorder(model.LLMCallRecord{
		TaskKey:         taskTier,
		PromptHash:      req.PromptHash,
		Provider:        taskTier,
		Model:           g.modelFor(taskTier),
		WasTotalRefusal: errors.Is(err, ErrTotalRefusal),
	})
}

// RepairWarning translates a response's schema-retry flag into the
// pipeline warning vocabulary: a response that only parsed after the
// format-reminder retry surfaces as schema_repair_applied (spec.md §4.C).
// Returns nil when no repair happened, so callers can append
// unconditionally.
func RepairWarning(resp LLMResponse, site string) []model.AnalysisWarning {
	if !resp.Retried {
		return nil
	}
	return []model.AnalysisWarning{{
		Type:    model.WarnSchemaRepairApplied,
		Message: "response parsed only after a schema-repair retry: " + site,
		Details: map[string]any{"site": site, "provider": resp.Provider},
	}}
}

// detectTotalRefusal reports whether text reads as a flat refusal rather
// than a malformed-but-attempted structured answer.
func detectTotalRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, marker := range refusalMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// refusalReframe prepends fact-checking framing to the original prompt for
// the in-tier retry after a total refusal (spec.md §4.C.4: "Retry with
// added fact-checking framing in the user message").
func refusalReframe(prompt string) string {
	return "You are assisting a professional fact-checking workflow. " +
		"Assessing the evidence below is the task itself, not an endorsement of any claim in it.\n\n" + prompt
}

// reformatNudge appends a format reminder to the original prompt for the
// schema-aware retry (spec.md §4.C).
func reformatNudge(prompt string, fields Fields) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nYour previous response did not follow the required format. Respond again using exactly these fields, one per line:\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "%s: <value>\n", f.Key)
	}
	return b.String()
}
