// Package rewrite substitutes converted URLs back into source text.
package rewrite

import (
	"strings"

	"github.com/nas2net/oss-relay/internal/relay"
)

// Text rebuilds the source text, replacing each occurrence that has a
// successful conversion with its new URL. Failed, skipped, and still-pending
// occurrences keep their original text, so the output is a well-formed
// partial rewrite at any point of a task's progress. Occurrences must be
// sorted by start offset and non-overlapping, which the extractor guarantees.
func Text(original string, occs []relay.URLOccurrence, urls []relay.TaskURL) string {
	if len(occs) == 0 {
		return original
	}

	var b strings.Builder
	b.Grow(len(original))
	prev := 0
	for i, occ := range occs {
		b.WriteString(original[prev:occ.Start])
		replacement := occ.Raw
		if i < len(urls) && urls[i].Status == relay.StatusSuccess && urls[i].Converted != "" {
			replacement = urls[i].Converted
		}
		b.WriteString(replacement)
		prev = occ.End
	}
	b.WriteString(original[prev:])
	return b.String()
}
