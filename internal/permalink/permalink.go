// Package permalink generates URL-safe, stable slugs for entities.
package permalink

import (
	"fmt"
	"strings"
	"unicode"
)

// Generate turns a title into a lowercase, hyphen-separated slug.
// Runs of non-alphanumeric characters collapse into a single hyphen.
func Generate(title string) string {
	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// WithSuffix returns base disambiguated with a numeric suffix: n == 1 returns
// base unchanged, n == 2 returns "base-2", and so on.
func WithSuffix(base string, n int) string {
	if n <= 1 {
		return base
	}
	return fmt.Sprintf("%s-%d", base, n)
}
