package render

import (
	"regexp"
	"strings"
)

var (
	boldPattern = regexp.MustCompile(`\*\*(.*?)\*\*`)
	linkPattern = regexp.MustCompile(`\[(.*?)\]\((https?://[^\s)]+)\)`)
)

const (
	linkTemplate = `<a href="$2" style="color:#1a73e8; text-decoration:underline;" target="_blank">$1</a>`

	documentOpen  = "\n    <html><body style=\"font-family: Verdana, sans-serif; font-size: 14px; line-height: 1.6;\">\n        "
	documentClose = "\n    </body></html>\n    "
)

// ToHTML converts the markup subset used in bodies into an HTML document:
// **bold**, [label](http(s)://url) links, newlines and double spaces.
// Links with any other scheme are left as literal text. The conversion
// must be applied once, to raw rendered text.
func ToHTML(text string) string {
	if text == "" {
		return ""
	}
	text = boldPattern.ReplaceAllString(text, "<b>$1</b>")
	text = linkPattern.ReplaceAllString(text, linkTemplate)
	text = strings.ReplaceAll(text, "\n", "<br>")
	text = strings.ReplaceAll(text, "  ", "&nbsp;&nbsp;")
	return documentOpen + text + documentClose
}
