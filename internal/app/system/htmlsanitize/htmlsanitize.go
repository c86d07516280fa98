// internal/app/system/htmlsanitize/htmlsanitize.go
//
// Package htmlsanitize scrubs user-posted text before it is stored and
// replayed to every pod member. Pod transcripts are plain text, so the
// policy strips all markup rather than allowlisting a safe subset.
package htmlsanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.StrictPolicy()

// MessageText returns the text with all HTML removed and surrounding
// whitespace trimmed.
func MessageText(s string) string {
	return strings.TrimSpace(policy.Sanitize(s))
}
