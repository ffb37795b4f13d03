package sheets

import "strings"

// zero-width characters that show up in headers pasted from office tools.
var zeroWidth = strings.NewReplacer(
	"\u200b", "", // zero-width space
	"\u200c", "", // zero-width non-joiner
	"\u200d", "", // zero-width joiner
	"\ufeff", "", // BOM
	"\u00a0", " ", // non-breaking space
)

// NormalizeHeader canonicalizes a header cell for column lookup: strips
// zero-width characters, trims surrounding whitespace, and lowercases.
// Every column resolution in the codebase goes through this one function.
func NormalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(zeroWidth.Replace(h)))
}

// FindColumn resolves the index of the first header matching any of the
// given names after normalization. Returns -1 and false when none match.
func FindColumn(headers []string, names ...string) (int, bool) {
	for i, h := range headers {
		n := NormalizeHeader(h)
		for _, want := range names {
			if n == NormalizeHeader(want) {
				return i, true
			}
		}
	}
	return -1, false
}
