// Package sanitize escapes the HTML-significant characters of user supplied
// strings before they are stored or broadcast.
package sanitize

import "strings"

var replacer = strings.NewReplacer(
	"<", "&lt;",
	">", "&gt;",
	"&", "&amp;",
	`"`, "&quot;",
	"'", "&#39;",
	"`", "&#96;",
)

// Text trims surrounding whitespace and escapes <, >, &, ", ' and `.
func Text(s string) string {
	return replacer.Replace(strings.TrimSpace(s))
}
