package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fingerprint derives the listing identity used to recognize the same
// article across relistings: normalized title, brand and size hashed
// together. Two listings with the same fingerprint are treated as the same
// article for price tracking.
func Fingerprint(title, brand, size string) string {
	key := normalizeField(title) + "|" + normalizeField(brand) + "|" + normalizeField(size)
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func normalizeField(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if out, _, err := transform.String(stripDiacritics, s); err == nil {
		s = out
	}
	return strings.Join(strings.Fields(s), " ")
}
