package refdata

import (
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// diacriticFolder decomposes, strips combining marks, and recomposes, turning
// "Göteborg" into "Goteborg". UN/LOCODE publishes a NameWoDiacritics column;
// this is the fallback when a source file omits it.
var diacriticFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldDiacritics returns s with combining diacritical marks removed.
// On a transform error the input is returned unchanged.
func FoldDiacritics(s string) string {
	out, _, err := transform.String(diacriticFolder, s)
	if err != nil {
		return s
	}
	return out
}
