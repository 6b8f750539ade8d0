// Package collector gathers the warnings and metrics a pipeline run
// produces. A Collector is created once per Analyze call and threaded
// through every stage.
package collector

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/factharbor/cb/internal/model"
	"github.com/factharbor/cb/internal/telemetry"
)

func phaseAttr(phase string) attribute.KeyValue { return attribute.String("phase", phase) }
func tierAttr(tier string) attribute.KeyValue   { return attribute.String("tier", tier) }

// Collector pairs the pipeline's model.WarningsCollector with the OTEL
// instruments the run emits metrics through. Embedding WarningsCollector
// rather than re-implementing its mutex-guarded append keeps one definition
// of "append-only, concurrency-safe" (spec.md §5) instead of two. Built the
// way internal/service/decisions/service.go builds its Service: a
// telemetry.Meter(...) call in the constructor, instruments stored as
// struct fields.
type Collector struct {
	*model.WarningsCollector

	mu          sync.Mutex
	callRecords []model.LLMCallRecord

	phaseDuration    metric.Float64Histogram
	llmCallCount     metric.Int64Counter
	searchQueryCount metric.Int64Counter
	tokenTotal       metric.Int64Counter
}

// New builds a Collector, registering its instruments against meter. meter
// may be nil, in which case the pipeline's own telemetry.Meter is used.
func New(meter metric.Meter) *Collector {
	if meter == nil {
		meter = telemetry.Meter("cb/pipeline")
	}

	phaseDur, _ := meter.Float64Histogram("cb.pipeline.phase_duration",
		metric.WithDescription("Wall-clock duration of each pipeline stage (ms)"),
		metric.WithUnit("ms"),
	)
	llmCalls, _ := meter.Int64Counter("cb.pipeline.llm_call_count",
		metric.WithDescription("Number of LLM gateway calls issued"),
	)
	searchQueries, _ := meter.Int64Counter("cb.pipeline.search_query_count",
		metric.WithDescription("Number of search gateway queries issued"),
	)
	tokens, _ := meter.Int64Counter("cb.pipeline.token_total",
		metric.WithDescription("Total LLM tokens consumed"),
	)

	return &Collector{
		WarningsCollector: &model.WarningsCollector{},
		phaseDuration:     phaseDur,
		llmCallCount:      llmCalls,
		searchQueryCount:  searchQueries,
		tokenTotal:        tokens,
	}
}

// PushAll appends a batch of warnings.
func (c *Collector) PushAll(ws []model.AnalysisWarning) {
	for _, w := range ws {
		c.Push(w)
	}
}

// RecordPhase records a stage's wall-clock duration.
func (c *Collector) RecordPhase(ctx context.Context, phase string, d time.Duration) {
	if c.phaseDuration == nil {
		return
	}
	c.phaseDuration.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(phaseAttr(phase)))
}

// RecordLLMCall increments the LLM call counter and token total for tier.
func (c *Collector) RecordLLMCall(ctx context.Context, tier string, tokens int) {
	if c.llmCallCount != nil {
		c.llmCallCount.Add(ctx, 1, metric.WithAttributes(tierAttr(tier)))
	}
	if c.tokenTotal != nil && tokens > 0 {
		c.tokenTotal.Add(ctx, int64(tokens), metric.WithAttributes(tierAttr(tier)))
	}
}

// RecordLLMOutcome appends one completed gateway call's envelope
// ({promptHash, provider, model, tokens, wasTotalRefusal}, spec.md §6).
// Safe for concurrent use.
func (c *Collector) RecordLLMOutcome(rec model.LLMCallRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callRecords = append(c.callRecords, rec)
}

// LLMCallRecords returns a copy of the accumulated call envelopes.
func (c *Collector) LLMCallRecords() []model.LLMCallRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.LLMCallRecord, len(c.callRecords))
	copy(out, c.callRecords)
	return out
}

// RecordSearchQuery increments the search query counter.
func (c *Collector) RecordSearchQuery(ctx context.Context) {
	if c.searchQueryCount != nil {
		c.searchQueryCount.Add(ctx, 1)
	}
}
