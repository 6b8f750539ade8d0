// Package model defines the CB pipeline's domain entities — the arena types
// that flow through PipelineState from Stage 1 through Stage 5.
package model

import "time"

// InputKind distinguishes a bare assertion from a longer article.
type InputKind string

const (
	KindClaim   InputKind = "claim"
	KindArticle InputKind = "article"
)

// Input is the immutable job input.
type Input struct {
	Text        string    `json:"text"`
	Kind        InputKind `json:"kind"`
	Locale      string    `json:"locale,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}
