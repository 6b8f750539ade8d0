package gate1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factharbor/cb/internal/model"
)

func claim(id string, fidelity bool, worthiness float64, entities int) model.AtomicClaim {
	var ents []string
	for i := 0; i < entities; i++ {
		ents = append(ents, "entity")
	}
	return model.AtomicClaim{
		ID:              id,
		Text:            "claim " + id,
		PassedFidelity:  fidelity,
		CheckWorthiness: worthiness,
		KeyEntities:     ents,
	}
}

func TestApply_KeepsPassingClaims(t *testing.T) {
	claims := []model.AtomicClaim{
		claim("c1", true, 0.8, 2),
		claim("c2", true, 0.6, 1),
	}
	kept, stats, warnings := Apply(claims)

	require.Len(t, kept, 2)
	assert.Empty(t, warnings)
	assert.Equal(t, 2, stats.TotalClaims)
	assert.Equal(t, 2, stats.PassedClaims)
	assert.Equal(t, 0, stats.FilteredClaims)
}

func TestApply_FiltersFailingClaims(t *testing.T) {
	claims := []model.AtomicClaim{
		claim("c1", true, 0.8, 2),
		claim("c2", false, 0.6, 1), // fails fidelity
	}
	kept, stats, warnings := Apply(claims)

	require.Len(t, kept, 1)
	assert.Equal(t, "c1", kept[0].ID)
	assert.Empty(t, warnings)
	assert.Equal(t, 1, stats.FilteredClaims)
	assert.Equal(t, 1, stats.FilteredReasons["failed_fidelity"])
}

func TestApply_RescuesWhenAllFiltered(t *testing.T) {
	claims := []model.AtomicClaim{
		claim("c1", false, 0.3, 0),
		claim("c2", false, 0.9, 0),
	}
	kept, stats, warnings := Apply(claims)

	require.Len(t, kept, 1)
	assert.Equal(t, "c2", kept[0].ID, "rescues the highest check-worthiness claim")
	require.Len(t, warnings, 1)
	assert.Equal(t, model.WarnGate1Rescue, warnings[0].Type)
	assert.Equal(t, 1, stats.PassedClaims)
}

func TestApply_EmptyInput(t *testing.T) {
	kept, stats, warnings := Apply(nil)
	assert.Empty(t, kept)
	assert.Empty(t, warnings)
	assert.Equal(t, 0, stats.TotalClaims)
}

func TestApply_CountsCentralClaimsKept(t *testing.T) {
	c := claim("c1", true, 0.8, 2)
	c.IsCentral = true
	kept, stats, _ := Apply([]model.AtomicClaim{c})
	require.Len(t, kept, 1)
	assert.Equal(t, 1, stats.CentralClaimsKept)
}
