package searchgw

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factharbor/cb/internal/model"
)

type stubSearch struct {
	results []Result
	delay   time.Duration
	err     error
}

func (s *stubSearch) Search(ctx context.Context, _ string, _ Options) ([]Result, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return s.results, ctx.Err()
		}
	}
	return s.results, s.err
}

func TestConsumeClaimQueryBudget_GrantsUpToBudget(t *testing.T) {
	g := NewGateway(&stubSearch{}, 3, time.Second, Filters{})
	granted, exhausted := g.ConsumeClaimQueryBudget("c1", 2)
	assert.Equal(t, 2, granted)
	assert.False(t, exhausted)

	granted, exhausted = g.ConsumeClaimQueryBudget("c1", 2)
	assert.Equal(t, 1, granted)
	assert.True(t, exhausted)

	granted, exhausted = g.ConsumeClaimQueryBudget("c1", 1)
	assert.Equal(t, 0, granted)
	assert.True(t, exhausted)
}

func TestConsumeClaimQueryBudget_PerClaimIsolation(t *testing.T) {
	g := NewGateway(&stubSearch{}, 1, time.Second, Filters{})
	g.ConsumeClaimQueryBudget("c1", 1)
	granted, _ := g.ConsumeClaimQueryBudget("c2", 1)
	assert.Equal(t, 1, granted)
}

func TestQuery_ExhaustedBudgetReturnsWarningNoCall(t *testing.T) {
	g := NewGateway(&stubSearch{results: []Result{{URL: "https://a.example.com/x"}}}, 0, time.Second, Filters{})
	results, warnings, err := g.Query(context.Background(), "c1", "q", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	require.Len(t, warnings, 1)
	assert.Equal(t, model.WarnQueryBudgetExhausted, warnings[0].Type)
}

func TestQuery_DedupsCanonicalURLAcrossCalls(t *testing.T) {
	search := &stubSearch{results: []Result{
		{URL: "https://example.com/article/"},
		{URL: "http://example.com/article?utm_source=x"},
	}}
	g := NewGateway(search, 10, time.Second, Filters{})

	first, _, err := g.Query(context.Background(), "c1", "q1", 5)
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, _, err := g.Query(context.Background(), "c1", "q2", 5)
	require.NoError(t, err)
	assert.Empty(t, second, "second call's URL canonicalizes to the same key as the first")
}

func TestQuery_TimeoutReturnsPartialResultsAndWarning(t *testing.T) {
	search := &stubSearch{delay: 50 * time.Millisecond}
	g := NewGateway(search, 10, 5*time.Millisecond, Filters{})

	results, warnings, err := g.Query(context.Background(), "c1", "q", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	require.Len(t, warnings, 1)
	assert.Equal(t, model.WarnSearchTimeout, warnings[0].Type)
}

func TestQuery_DomainBlacklistDropsHit(t *testing.T) {
	search := &stubSearch{results: []Result{
		{URL: "https://spamfarm.example/a"},
		{URL: "https://news.example.org/b"},
	}}
	g := NewGateway(search, 10, time.Second, Filters{DomainBlacklist: []string{"spamfarm.example"}})

	results, _, err := g.Query(context.Background(), "c1", "q", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://news.example.org/b", results[0].URL)
}

func TestQuery_DomainWhitelistKeepsOnlyListedHosts(t *testing.T) {
	search := &stubSearch{results: []Result{
		{URL: "https://gov.example/a"},
		{URL: "https://sub.gov.example/b"},
		{URL: "https://elsewhere.example/c"},
	}}
	g := NewGateway(search, 10, time.Second, Filters{DomainWhitelist: []string{"gov.example"}})

	results, _, err := g.Query(context.Background(), "c1", "q", 5)
	require.NoError(t, err)
	assert.Len(t, results, 2, "whitelist matches the domain and its subdomains")
}

func TestQuery_PropagatesNonTimeoutError(t *testing.T) {
	search := &stubSearch{err: errors.New("upstream 500")}
	g := NewGateway(search, 10, time.Second, Filters{})
	_, _, err := g.Query(context.Background(), "c1", "q", 5)
	assert.Error(t, err)
}
