// Package searchgw is the Search Gateway: per-claim query budget
// enforcement, canonical-URL dedup, and per-query timeouts with partial
// results on expiry (spec.md §4.D, §4.F).
//
// Grounded on internal/search/search.go's Searcher/CandidateFinder
// interface split (user-facing query surface vs internal ANN lookup): the
// externally-supplied search.Search capability here plays the role of
// Searcher, and Gateway wraps it the way the teacher's package wraps
// Qdrant with budget/timeout/dedup concerns the raw index doesn't know
// about.
package searchgw

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/factharbor/cb/internal/model"
)

// Result is one search hit. Title/Snippet feed Stage 2's relevance and
// evidence-extraction prompts.
type Result struct {
	URL     string
	Title   string
	Snippet string
}

// Options carries the per-query knobs the underlying adapter understands
// (spec.md §6: "search.query(q, opts)").
type Options struct {
	Limit        int
	DateRestrict string
}

// Search is the externally-supplied search capability (spec.md §6).
type Search interface {
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Filters holds the optional domain allow/deny lists and date restriction
// applied to every query this gateway serves (spec.md §4.D).
type Filters struct {
	DomainWhitelist []string
	DomainBlacklist []string
	DateRestrict    string
}

// Gateway enforces the per-claim query budget ledger, dedups results by
// canonical URL within a job, applies domain filters, and bounds each call
// with a timeout.
type Gateway struct {
	search  Search
	budget  int
	timeout time.Duration
	filters Filters

	mu    sync.Mutex
	usage map[string]int // claimID -> queries consumed
	seen  map[string]bool
}

// NewGateway builds a Gateway. budget is the per-claim query cap
// (PipelineConfig.Search.QueryBudget); timeout bounds each individual
// Search call.
func NewGateway(search Search, budget int, timeout time.Duration, filters Filters) *Gateway {
	return &Gateway{
		search:  search,
		budget:  budget,
		timeout: timeout,
		filters: filters,
		usage:   make(map[string]int),
		seen:    make(map[string]bool),
	}
}

// ConsumeClaimQueryBudget reserves up to n queries against claimID's budget
// and reports how many were actually granted. Safe for concurrent use —
// the ledger is serialized behind a mutex exactly as spec.md §5 requires.
func (g *Gateway) ConsumeClaimQueryBudget(claimID string, n int) (granted int, exhausted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	used := g.usage[claimID]
	remaining := g.budget - used
	if remaining <= 0 {
		return 0, true
	}
	if n > remaining {
		n = remaining
	}
	g.usage[claimID] = used + n
	return n, g.usage[claimID] >= g.budget
}

// UsageForClaim reports queries consumed so far for claimID, for metrics.
func (g *Gateway) UsageForClaim(claimID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.usage[claimID]
}

// Query spends one unit of claimID's query budget and runs query. If the
// budget is already exhausted, it returns a query_budget_exhausted warning
// and no results rather than calling the underlying search capability. On
// timeout it returns whatever partial results the capability produced
// along with a search_timeout warning (spec.md §4.F).
func (g *Gateway) Query(ctx context.Context, claimID, query string, limit int) ([]Result, []model.AnalysisWarning, error) {
	granted, _ := g.ConsumeClaimQueryBudget(claimID, 1)
	if granted == 0 {
		return nil, []model.AnalysisWarning{{
			Type:    model.WarnQueryBudgetExhausted,
			Message: "query budget exhausted for claim " + claimID,
		}}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	results, err := g.search.Search(callCtx, query, Options{Limit: limit, DateRestrict: g.filters.DateRestrict})
	var warnings []model.AnalysisWarning
	if err != nil && callCtx.Err() != nil {
		warnings = append(warnings, model.AnalysisWarning{
			Type:    model.WarnSearchTimeout,
			Message: "search timed out for claim " + claimID,
		})
		return g.dedup(results), warnings, nil
	}
	if err != nil {
		return nil, warnings, err
	}

	return g.dedup(results), warnings, nil
}

// dedup drops results whose canonicalized URL has already been seen in
// this job, across every call the gateway has served so far, plus results
// whose host fails the domain allow/deny lists.
func (g *Gateway) dedup(results []Result) []Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Result, 0, len(results))
	for _, r := range results {
		key := canonicalize(r.URL)
		if key == "" || g.seen[key] {
			continue
		}
		g.seen[key] = true
		if !g.domainAllowed(hostOf(r.URL)) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// domainAllowed applies DomainWhitelist (when non-empty, the host must
// match an entry) then DomainBlacklist (a match always rejects).
func (g *Gateway) domainAllowed(host string) bool {
	if host == "" {
		return false
	}
	if len(g.filters.DomainWhitelist) > 0 && !matchesDomain(host, g.filters.DomainWhitelist) {
		return false
	}
	return !matchesDomain(host, g.filters.DomainBlacklist)
}

// matchesDomain reports whether host equals, or is a subdomain of, any
// listed domain.
func matchesDomain(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// canonicalize strips scheme, trailing slash, and query string so
// mirrored/tracked URLs dedup against each other.
func canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return strings.TrimSuffix(raw, "/")
	}
	host := u.Host
	path := strings.TrimSuffix(u.Path, "/")
	return host + path
}
