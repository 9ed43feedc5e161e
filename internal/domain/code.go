package domain

import (
	"math/rand"
	"strings"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// ShortCodeLength is the fixed length of a room's shareable code.
const ShortCodeLength = 6

// NewShortCode draws a 6-char alphanumeric code from rnd. Codes are stored
// upper-case; NormalizeShortCode makes lookups case-insensitive.
func NewShortCode(rnd *rand.Rand) string {
	var b strings.Builder
	b.Grow(ShortCodeLength)
	for i := 0; i < ShortCodeLength; i++ {
		b.WriteByte(codeAlphabet[rnd.Intn(len(codeAlphabet))])
	}
	return b.String()
}

// NormalizeShortCode upper-cases and trims a user-typed code.
func NormalizeShortCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidShortCode reports whether code (already normalized) is well-formed.
func ValidShortCode(code string) bool {
	if len(code) != ShortCodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeAlphabet, rune(code[i])) {
			return false
		}
	}
	return true
}
