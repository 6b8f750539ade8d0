// Package idgen provides deterministic, job-local id generation.
//
// The CB pipeline's idempotence property (spec.md §8: "running the pipeline
// with the same (input, config, deterministic seed) twice yields identical
// ids") requires ids that don't depend on wall-clock time or process
// randomness. Source generates sequential, prefixed ids instead of
// uuid.NewRandom() for job-local entities (claims, evidence, contexts);
// durable cross-job identifiers, where needed, still use
// github.com/google/uuid per the teacher's convention.
package idgen

import (
	"fmt"
	"sync"
)

// Source hands out sequential ids scoped to one job. Safe for concurrent use.
type Source struct {
	mu      sync.Mutex
	counter map[string]int
}

// NewSource creates a fresh id source for one job.
func NewSource() *Source {
	return &Source{counter: make(map[string]int)}
}

// Next returns the next id for the given prefix, e.g. Next("c") -> "c1",
// "c2", ... Next("ctx") -> "ctx1", "ctx2", ...
func (s *Source) Next(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter[prefix]++
	return fmt.Sprintf("%s%d", prefix, s.counter[prefix])
}
