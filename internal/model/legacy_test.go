package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvidenceItem_UnmarshalAcceptsLegacyProceedingID(t *testing.T) {
	raw := `{"id":"e1","claim_id":"c1","statement":"long enough statement here","source_excerpt":"excerpt","proceedingId":"ctx1"}`
	var e EvidenceItem
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.Equal(t, "ctx1", e.ContextID)
}

func TestEvidenceItem_CanonicalContextIDWinsOverAlias(t *testing.T) {
	raw := `{"id":"e1","context_id":"ctx_new","proceedingId":"ctx_old"}`
	var e EvidenceItem
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.Equal(t, "ctx_new", e.ContextID)
}

func TestEvidenceItem_MarshalEmitsCanonicalNameOnly(t *testing.T) {
	e := EvidenceItem{ID: "e1", ContextID: "ctx1", SourceExcerpt: "x", Statement: "y"}
	out, err := json.Marshal(e)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"context_id":"ctx1"`)
	assert.NotContains(t, string(out), "proceedingId")
}

func TestOverallAssessment_UnmarshalAcceptsLegacyDistinctProceedings(t *testing.T) {
	raw := `{"status":"ok","distinctProceedings":[{"id":"ctx1","name":"WTW","short_name":"WTW","status":"active"}],"quality_gates":{"gate1":{},"overall":"HIGH"},"metrics":{}}`
	var a OverallAssessment
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	require.Len(t, a.ClaimBoundaries, 1)
	assert.Equal(t, "ctx1", a.ClaimBoundaries[0].ID)
}

func TestOverallAssessment_CanonicalBoundariesWinOverAlias(t *testing.T) {
	raw := `{"claim_boundaries":[{"id":"new"}],"distinctProceedings":[{"id":"old"}],"quality_gates":{"gate1":{},"overall":"LOW"},"metrics":{}}`
	var a OverallAssessment
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	require.Len(t, a.ClaimBoundaries, 1)
	assert.Equal(t, "new", a.ClaimBoundaries[0].ID)
}
