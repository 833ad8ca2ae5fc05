package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToHTML_Bold(t *testing.T) {
	t.Parallel()

	out := ToHTML("**x**")
	assert.Contains(t, out, "<b>x</b>")
	assert.NotContains(t, out, "**")
}

func TestToHTML_Link(t *testing.T) {
	t.Parallel()

	out := ToHTML("[a](https://b)")
	assert.Contains(t, out, `<a href="https://b" style="color:#1a73e8; text-decoration:underline;" target="_blank">a</a>`)

	out = ToHTML("see [docs](http://example.com/x?y=1) now")
	assert.Contains(t, out, `href="http://example.com/x?y=1"`)
	assert.Contains(t, out, ">docs</a> now")
}

func TestToHTML_NonHTTPSchemeUnconverted(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"[a](mailto:x@y.z)", "[a](ftp://host/file)", "[a](javascript:alert(1))"} {
		out := ToHTML(in)
		assert.NotContains(t, out, "<a ", in)
		assert.Contains(t, out, in)
	}
}

func TestToHTML_Whitespace(t *testing.T) {
	t.Parallel()

	out := ToHTML("line one\nline  two")
	assert.Contains(t, out, "line one<br>line&nbsp;&nbsp;two")
}

func TestToHTML_DocumentShell(t *testing.T) {
	t.Parallel()

	out := ToHTML("hi")
	trimmed := strings.TrimSpace(out)
	require.True(t, strings.HasPrefix(trimmed, "<html><body"))
	require.True(t, strings.HasSuffix(trimmed, "</body></html>"))
	assert.Contains(t, out, "font-family: Verdana, sans-serif; font-size: 14px; line-height: 1.6;")
}

func TestToHTML_Empty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", ToHTML(""))
}

func TestToHTML_Deterministic(t *testing.T) {
	t.Parallel()

	in := "Dear **Ada**,\n\nRead [this](https://example.com).  Thanks"
	assert.Equal(t, ToHTML(in), ToHTML(in))
}
