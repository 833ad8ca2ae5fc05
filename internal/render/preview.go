package render

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"

	"github.com/mailmerge/mailmerge/internal/model"
)

var (
	previewPolicy *bluemonday.Policy
	policyOnce    sync.Once
)

func initPolicy() {
	policyOnce.Do(func() {
		// Only what ToHTML can produce survives; substituted row values
		// are untrusted and end up inside the preview page.
		previewPolicy = bluemonday.NewPolicy()
		previewPolicy.AllowStandardURLs()
		previewPolicy.AllowElements("b", "br")
		previewPolicy.AllowAttrs("href", "target").OnElements("a")
		previewPolicy.AllowAttrs("style").OnElements("a", "div")
	})
}

// Preview is the rendering of a template pair against one row
type Preview struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Warning string `json:"warning,omitempty"`
}

// BuildPreview renders subject and body against row. When rendering fails
// the raw templates are returned with a warning instead of an error.
func BuildPreview(subject, body string, row model.Row) Preview {
	renderedSubject, err := Render(subject, row)
	if err != nil {
		return fallbackPreview(subject, body, err)
	}
	renderedBody, err := Render(body, row)
	if err != nil {
		return fallbackPreview(subject, body, err)
	}
	return Preview{
		Subject: renderedSubject,
		HTML:    Sanitize(ToHTML(renderedBody)),
	}
}

func fallbackPreview(subject, body string, err error) Preview {
	return Preview{
		Subject: subject,
		HTML:    Sanitize(body),
		Warning: "Could not render preview: " + err.Error(),
	}
}

// Sanitize strips everything but the markup produced by ToHTML, wrapping
// the result in a div that carries the document font settings.
func Sanitize(html string) string {
	initPolicy()
	return `<div style="font-family: Verdana, sans-serif; font-size: 14px; line-height: 1.6;">` +
		previewPolicy.Sanitize(html) + `</div>`
}
