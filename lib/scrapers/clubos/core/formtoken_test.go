package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const loginPageFixture = `
<html><body>
<form method="post" action="/action/Login">
	<input type="hidden" name="_sourcePage" value="abc123">
	<input type="hidden" name="__fp" value="fp-token">
	<input type="text" name="username">
	<input type="password" name="password">
</form>
<script>
	window.csrfToken = "script-csrf";
</script>
</body></html>`

func TestExtractFormTokens(t *testing.T) {
	tokens, err := ExtractFormTokensHTML(strings.NewReader(loginPageFixture))
	require.NoError(t, err)

	require.Equal(t, "abc123", tokens["_sourcePage"])
	require.Equal(t, "fp-token", tokens["__fp"])
	require.Equal(t, "script-csrf", tokens["csrfToken"])

	// visible fields are the caller's responsibility
	_, hasUsername := tokens["username"]
	require.False(t, hasUsername)
	_, hasPassword := tokens["password"]
	require.False(t, hasPassword)
}

func TestExtractFormTokensMetaTag(t *testing.T) {
	page := `<html><head><meta name="csrf-token" content="meta-value"></head>
	<body><form><input type="password" name="password"></form></body></html>`

	tokens, err := ExtractFormTokensHTML(strings.NewReader(page))
	require.NoError(t, err)
	require.Equal(t, "meta-value", tokens["csrf-token"])
}

func TestExtractFormTokensNoLoginForm(t *testing.T) {
	page := `<html><body><form><input type="text" name="search"></form></body></html>`

	tokens, err := ExtractFormTokensHTML(strings.NewReader(page))
	require.ErrorIs(t, err, ErrLoginFormMissing)
	require.Empty(t, tokens)
}

func TestExtractFormTokensGarbageInput(t *testing.T) {
	// malformed markup must signal, never panic
	tokens, err := ExtractFormTokensHTML(strings.NewReader("<<<<>>>> not html at all"))
	require.ErrorIs(t, err, ErrLoginFormMissing)
	require.Empty(t, tokens)
}

func TestExtractFormTokensScriptPattern(t *testing.T) {
	page := `<html><body>
	<form><input type="password" name="password"></form>
	<script>var config = { csrf_token: "embedded-token", other: 1 };</script>
	</body></html>`

	tokens, err := ExtractFormTokensHTML(strings.NewReader(page))
	require.NoError(t, err)
	require.Equal(t, "embedded-token", tokens["csrf_token"])
}
