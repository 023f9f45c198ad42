// Package slug turns free-text restaurant names into stable, filesystem-safe
// identifiers.
package slug

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Separator joins the alphanumeric runs of a slug.
const Separator = '_'

// Make decomposes name (NFKD), drops every non-ASCII code point, lowercases
// it and collapses each run of characters outside [a-z0-9] into a single
// Separator. Leading and trailing separators are trimmed. Distinct names may
// collide; callers decide how to handle that.
func Make(name string) string {
	decomposed := norm.NFKD.String(name)

	var b strings.Builder
	b.Grow(len(decomposed))
	pending := false
	for i := 0; i < len(decomposed); i++ {
		c := decomposed[i]
		if c >= 0x80 {
			// Non-ASCII bytes vanish without breaking the current run.
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte(Separator)
			}
			pending = false
			b.WriteByte(c)
			continue
		}
		pending = true
	}
	return b.String()
}
