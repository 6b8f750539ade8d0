// Package prompts implements the versioned prompt registry: named,
// content-hashed templates for every LLM call the pipeline makes, with
// explicit rollback to the last-known-good version on render failure
// (spec.md §4.B). Hashing follows the teacher's content-hash identity
// scheme (internal/integrity/integrity.go), reused via internal/hashutil.
package prompts

import (
	"bytes"
	"fmt"
	"sync"
	"text/template"

	"github.com/factharbor/cb/internal/hashutil"
)

// Version is one immutable revision of a named prompt template.
type Version struct {
	Name        string
	Revision    int
	ContentHash string
	Body        string
	tmpl        *template.Template
}

// Registry holds every known revision of every named prompt and tracks
// the currently active revision per name. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	versions map[string][]*Version // append-only history, oldest first
	active   map[string]int        // name -> index into versions[name]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string][]*Version),
		active:   make(map[string]int),
	}
}

// Register adds a new revision of name and makes it active. Content is
// parsed eagerly so a malformed template is rejected at registration time
// rather than at first render.
func (r *Registry) Register(name, body string) (*Version, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("prompts: parse %q: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v := &Version{
		Name:        name,
		Revision:    len(r.versions[name]) + 1,
		ContentHash: hashutil.ComputeHash(body),
		Body:        body,
		tmpl:        tmpl,
	}
	r.versions[name] = append(r.versions[name], v)
	r.active[name] = len(r.versions[name]) - 1
	return v, nil
}

// Active returns the currently active revision of name.
func (r *Registry) Active(name string) (*Version, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.active[name]
	if !ok {
		return nil, false
	}
	return r.versions[name][idx], true
}

// Rollback moves the active pointer for name back one revision. It is a
// no-op (returns false) if name has only one registered revision — there
// is nothing to roll back to (spec.md §4.B "rollback to last-known-good").
func (r *Registry) Rollback(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.active[name]
	if !ok || idx == 0 {
		return false
	}
	r.active[name] = idx - 1
	return true
}

// Rendered is one expanded prompt plus the content hash of the template
// revision that produced it, stamped on every LLM call it feeds
// (spec.md §4.B: "emit promptHash per call").
type Rendered struct {
	Text       string
	PromptHash string
}

// Render expands the active revision of name against data. On template
// execution failure the registry rolls back to the prior revision and
// retries once; a caller that observes a rollback should surface a
// prompt_render_error warning (spec.md §4.B). The returned PromptHash is
// the hash of whichever revision actually rendered.
func (r *Registry) Render(name string, data any) (Rendered, bool, error) {
	v, ok := r.Active(name)
	if !ok {
		return Rendered{}, false, fmt.Errorf("prompts: unknown template %q", name)
	}

	out, err := renderVersion(v, data)
	if err == nil {
		return Rendered{Text: out, PromptHash: v.ContentHash}, false, nil
	}

	if !r.Rollback(name) {
		return Rendered{}, false, fmt.Errorf("prompts: render %q: %w", name, err)
	}

	fallback, ok := r.Active(name)
	if !ok {
		return Rendered{}, false, fmt.Errorf("prompts: render %q: %w", name, err)
	}
	out, rerr := renderVersion(fallback, data)
	if rerr != nil {
		return Rendered{}, false, fmt.Errorf("prompts: render %q (after rollback): %w", name, rerr)
	}
	return Rendered{Text: out, PromptHash: fallback.ContentHash}, true, nil
}

func renderVersion(v *Version, data any) (string, error) {
	var buf bytes.Buffer
	if err := v.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
