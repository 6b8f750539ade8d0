package cb

import (
	"log/slog"

	"github.com/factharbor/cb/internal/config"
	"github.com/factharbor/cb/internal/idgen"
	"github.com/factharbor/cb/internal/llmgw"
	"github.com/factharbor/cb/internal/model"
	"go.opentelemetry.io/otel/metric"
)

// Option configures a Pipeline. Follows the teacher's options.go shape:
// an unexported resolvedOptions struct, applied by closures, "last call
// wins" for singular fields.
type Option func(*resolvedOptions)

// resolvedOptions holds every extension point after defaults are applied.
type resolvedOptions struct {
	concurrency     int
	logger          *slog.Logger
	warningsSink    func([]model.AnalysisWarning)
	meter           metric.Meter
	profileDefaults config.Layer
	activeConfig    config.Layer
	providers       map[string]llmgw.LLMCall
	idSourceFactory func() *idgen.Source
}

func defaultOptions() resolvedOptions {
	return resolvedOptions{
		providers:       map[string]llmgw.LLMCall{},
		idSourceFactory: idgen.NewSource,
	}
}

// WithConcurrency overrides PipelineConfig.Concurrency (spec.md §6).
func WithConcurrency(n int) Option {
	return func(o *resolvedOptions) { o.concurrency = n }
}

// WithLogger sets the structured logger for the Pipeline.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithWarningsSink registers a callback invoked once per Analyze call with
// every warning the job accumulated, in addition to their attachment to
// the returned OverallAssessment (spec.md §6).
func WithWarningsSink(sink func([]model.AnalysisWarning)) Option {
	return func(o *resolvedOptions) { o.warningsSink = sink }
}

// WithMetricsMeter supplies the OpenTelemetry meter the pipeline's
// collector.Collector registers instruments against. Nil (the default)
// means the collector falls back to telemetry.Meter itself (spec.md §6).
func WithMetricsMeter(meter metric.Meter) Option {
	return func(o *resolvedOptions) { o.meter = meter }
}

// WithProfileDefaults supplies the profile-defaults configuration layer
// ("active UCM profile -> profile defaults -> built-in defaults",
// spec.md §4.A). Resolved once at New, not per job.
func WithProfileDefaults(layer config.Layer) Option {
	return func(o *resolvedOptions) { o.profileDefaults = layer }
}

// WithActiveConfig supplies the active UCM configuration layer, the
// highest-precedence layer in spec.md §4.A's resolution order.
func WithActiveConfig(layer config.Layer) Option {
	return func(o *resolvedOptions) { o.activeConfig = layer }
}

// WithProvider registers an additional named LLM backend, resolvable by
// Stage 4's DebateProfile provider names (e.g. "anthropic", "openai",
// "google", "premium") or by Stage 1-3's task tiers ("understand",
// "extract", "verdict"). Any tier or provider name not registered here
// falls back to Deps.LLM (spec.md §6 "Deps.LLM" is the single required
// capability; WithProvider is how a caller differentiates it per tier or
// debate role — see DESIGN.md for why Deps carries one LLMCall rather
// than a map literally, as §4.C's prose suggests).
func WithProvider(name string, call llmgw.LLMCall) Option {
	return func(o *resolvedOptions) { o.providers[name] = call }
}

// WithIDSource overrides the per-job id generator factory. A fresh
// *idgen.Source is built by calling factory once per Analyze call, so
// ids never leak or collide across concurrent jobs. spec.md §8 documents
// the injectable id source as a bare `func() string`; CB's ids are
// prefixed per entity kind (claim/evidence/context), so the injectable
// point here is one level up — a factory for the whole prefixed
// generator — see DESIGN.md.
func WithIDSource(factory func() *idgen.Source) Option {
	return func(o *resolvedOptions) { o.idSourceFactory = factory }
}

