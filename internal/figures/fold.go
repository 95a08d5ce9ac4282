package figures

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks removes combining marks after NFD decomposition, so "å"
// becomes "a". ø and æ do not decompose and get an explicit mapping.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

var nordicReplacer = strings.NewReplacer(
	"ø", "o", "Ø", "o",
	"æ", "ae", "Æ", "ae",
)

// Fold lowercases s and strips diacritics so label matching tolerates both
// "Årsresultat" and OCR output that dropped the ring ("Arsresultat").
func Fold(s string) string {
	out, _, err := transform.String(stripMarks, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(nordicReplacer.Replace(out))
}
