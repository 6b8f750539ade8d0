package llmgw

import (
	"fmt"
	"strings"
)

// Field describes one expected "Key: value" line in a structured LLM
// response. Required fields missing from a response make parsing fail
// closed rather than silently proceed with a zero value (spec.md §4.C
// "schema-aware retry").
//
// No JSON-schema library from the example pack is wired against raw LLM
// text output anywhere in the corpus; the closest precedent is the
// teacher's own hand-rolled line-oriented parser
// (internal/conflicts/validator.go's ParseValidatorResponse), which this
// type generalizes from five fixed fields to an arbitrary caller-supplied
// set. See DESIGN.md for the stdlib-only justification.
type Field struct {
	Key      string
	Required bool
	// Allowed, if non-empty, restricts the field to a closed vocabulary.
	// A value outside Allowed is treated as absent, matching the
	// teacher's "ignore invalid values rather than failing" category
	// normalization.
	Allowed []string
}

// Fields is an ordered schema for a structured LLM response.
type Fields []Field

// Parse extracts every field in fields from response using the teacher's
// markdown-tolerant, line-oriented convention: a line of the form
// "Key: value", optionally wrapped in "**"/"*"/"_" markdown emphasis.
// Parse returns an error if any Required field is absent — fail-closed,
// mirroring ParseValidatorResponse's "ambiguous responses are treated as
// rejections."
func Parse(response string, fields Fields) (map[string]string, error) {
	lines := strings.Split(strings.TrimSpace(response), "\n")
	out := make(map[string]string, len(fields))

	prefixes := make(map[string]Field, len(fields))
	for _, f := range fields {
		prefixes[strings.ToLower(f.Key)+":"] = f
	}

	for _, line := range lines {
		trimmed := strings.TrimLeft(strings.TrimSpace(line), "*_")
		lower := strings.ToLower(trimmed)
		for prefix, f := range prefixes {
			if !strings.HasPrefix(lower, prefix) {
				continue
			}
			val := strings.Trim(strings.TrimSpace(trimmed[len(prefix):]), "*_[] ")
			if len(f.Allowed) > 0 && !containsFold(f.Allowed, val) {
				continue
			}
			if _, already := out[f.Key]; !already {
				out[f.Key] = val
			}
		}
	}

	var missing []string
	for _, f := range fields {
		if f.Required {
			if _, ok := out[f.Key]; !ok {
				missing = append(missing, f.Key)
			}
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("llmgw: missing required field(s) %s in response", strings.Join(missing, ", "))
	}

	return out, nil
}

func containsFold(vals []string, v string) bool {
	for _, x := range vals {
		if strings.EqualFold(x, v) {
			return true
		}
	}
	return false
}

// recordSeparator delimits repeated records in a single LLM response (one
// claim per block, one evidence item per block, one challenge point per
// block). Stages ask for this shape explicitly in their prompts.
const recordSeparator = "---"

// ParseRecords splits response into blocks on blank lines or lines
// consisting solely of "---", and parses each block independently with
// Parse. A block missing a required field is dropped rather than failing
// the whole batch — per-record fail-closed, not all-or-nothing, since one
// malformed claim or evidence item should not discard the rest of a
// multi-record response.
func ParseRecords(response string, fields Fields) []map[string]string {
	var blocks []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			blocks = append(blocks, strings.Join(cur, "\n"))
			cur = nil
		}
	}
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed == recordSeparator {
			flush()
			continue
		}
		cur = append(cur, line)
	}
	flush()

	out := make([]map[string]string, 0, len(blocks))
	for _, block := range blocks {
		parsed, err := Parse(block, fields)
		if err != nil {
			continue
		}
		out = append(out, parsed)
	}
	return out
}
