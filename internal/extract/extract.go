// Package extract scans free-form text for http/https URLs.
package extract

import (
	"regexp"

	"github.com/nas2net/oss-relay/internal/relay"
)

// urlPattern greedily consumes everything after the scheme that is not
// whitespace, an angle bracket, or a quote. Trailing closers are trimmed
// afterwards so balance inside the match can be taken into account.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"']+`)

// closers maps trailing delimiters to the opener that would justify keeping
// them in the match.
var closers = map[byte]byte{
	')': '(',
	']': '[',
}

// URLs returns every URL occurrence in text, left to right, duplicates
// included. Matches are non-overlapping and offsets index into text such
// that text[Start:End] == Raw. No URLs yields an empty slice, not an error.
func URLs(text string) []relay.URLOccurrence {
	matches := urlPattern.FindAllStringIndex(text, -1)
	occs := make([]relay.URLOccurrence, 0, len(matches))
	for _, m := range matches {
		start, end := m[0], m[1]
		end = trimUnbalanced(text, start, end)
		if end <= start {
			continue
		}
		occs = append(occs, relay.URLOccurrence{
			Raw:   text[start:end],
			Start: start,
			End:   end,
		})
	}
	return occs
}

// trimUnbalanced drops trailing ')' or ']' that close a delimiter opened
// before the match rather than inside it, e.g. the final paren of
// "(see https://a.com/x)". A closer balanced within the match is kept, as in
// "https://a.com/path_(v2)".
func trimUnbalanced(text string, start, end int) int {
	for end > start {
		closer := text[end-1]
		opener, ok := closers[closer]
		if !ok {
			return end
		}
		depth := 0
		for i := start; i < end-1; i++ {
			switch text[i] {
			case opener:
				depth++
			case closer:
				depth--
			}
		}
		if depth > 0 {
			return end
		}
		end--
	}
	return end
}
