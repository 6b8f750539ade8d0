package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_ComputesStableHash(t *testing.T) {
	r := NewRegistry()
	v1, err := r.Register("greet", "Hello {{.Name}}")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Revision)
	assert.NotEmpty(t, v1.ContentHash)

	r2 := NewRegistry()
	v2, err := r2.Register("greet", "Hello {{.Name}}")
	require.NoError(t, err)
	assert.Equal(t, v1.ContentHash, v2.ContentHash, "identical content must hash identically")
}

func TestRegister_RejectsMalformedTemplate(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("bad", "{{.Unclosed")
	assert.Error(t, err)
}

func TestRender_UsesActiveRevision(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("greet", "Hello {{.Name}}")
	require.NoError(t, err)

	out, rolledBack, err := r.Render("greet", struct{ Name string }{Name: "Ada"})
	require.NoError(t, err)
	assert.False(t, rolledBack)
	assert.Equal(t, "Hello Ada", out.Text)

	v, ok := r.Active("greet")
	require.True(t, ok)
	assert.Equal(t, v.ContentHash, out.PromptHash, "render must stamp the active revision's hash")
}

func TestRender_UnknownTemplate(t *testing.T) {
	r := NewRegistry()
	_, _, err := r.Render("missing", nil)
	assert.Error(t, err)
}

func TestRegister_NewRevisionBecomesActive(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("greet", "Hi {{.Name}}")
	require.NoError(t, err)
	_, err = r.Register("greet", "Hey {{.Name}}")
	require.NoError(t, err)

	v, ok := r.Active("greet")
	require.True(t, ok)
	assert.Equal(t, 2, v.Revision)
	assert.Equal(t, "Hey {{.Name}}", v.Body)
}

func TestRender_FailureRollsBackToPriorRevision(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("greet", "Hi {{.Name}}")
	require.NoError(t, err)
	// missingkey=error makes a missing field at execution time an error,
	// even though the template itself parses fine.
	_, err = r.Register("greet", "Hi {{.Missing}}")
	require.NoError(t, err)

	out, rolledBack, err := r.Render("greet", struct{ Name string }{Name: "Ada"})
	require.NoError(t, err)
	assert.True(t, rolledBack)
	assert.Equal(t, "Hi Ada", out.Text)

	v, ok := r.Active("greet")
	require.True(t, ok)
	assert.Equal(t, 1, v.Revision)
	assert.Equal(t, v.ContentHash, out.PromptHash, "hash must follow the revision that actually rendered")
}

func TestRollback_NoopOnSingleRevision(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("greet", "Hi {{.Name}}")
	require.NoError(t, err)
	assert.False(t, r.Rollback("greet"))
}
