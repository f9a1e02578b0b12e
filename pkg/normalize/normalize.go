// Package normalize canonicalizes author and title text into stable matching
// keys.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Key returns the matching form of s: NFKC-normalized, case-folded, with
// every run of whitespace collapsed to one space and the ends trimmed.
func Key(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// BookKey is the combined key of an author/title pair. The separator cannot
// appear in a normalized component.
func BookKey(author, title string) string {
	return Key(author) + "\x1f" + Key(title)
}
