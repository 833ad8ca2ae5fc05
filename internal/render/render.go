// Package render substitutes recipient fields into subject and body
// templates and converts the body markup into an HTML document.
package render

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedTemplate is returned for unbalanced braces or empty fields
var ErrMalformedTemplate = errors.New("malformed template")

// MissingFieldError reports a placeholder with no matching column
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing template field %q", e.Field)
}

// Render replaces every {FieldName} in tmpl with fields[FieldName].
// "{{" and "}}" produce literal braces. A conversion (!r) or format spec
// (:>10) after the name is ignored. Render fails on the first placeholder
// whose field is absent and names it in a *MissingFieldError.
func Render(tmpl string, fields map[string]string) (string, error) {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: single '{' at offset %d", ErrMalformedTemplate, i)
			}
			name := fieldName(tmpl[i+1 : i+1+end])
			if name == "" {
				return "", fmt.Errorf("%w: empty field name at offset %d", ErrMalformedTemplate, i)
			}
			value, ok := fields[name]
			if !ok {
				return "", &MissingFieldError{Field: name}
			}
			b.WriteString(value)
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("%w: single '}' at offset %d", ErrMalformedTemplate, i)
		default:
			b.WriteByte(c)
		}
	}

	return b.String(), nil
}

func fieldName(placeholder string) string {
	if idx := strings.IndexAny(placeholder, "!:"); idx >= 0 {
		placeholder = placeholder[:idx]
	}
	return strings.TrimSpace(placeholder)
}
