// Package sortname derives the keys books are ordered by in listings.
package sortname

import (
	"strings"

	"github.com/shishobooks/shelfsync/pkg/normalize"
)

var articles = []string{"the", "a", "an"}

var honorifics = wordSet("dr", "mr", "mrs", "ms", "prof", "rev", "sir", "dame", "lord", "lady")

var generational = wordSet("jr", "sr", "junior", "senior", "ii", "iii", "iv")

var credentials = wordSet("phd", "ph.d", "md", "m.d", "jd", "j.d", "edd", "mba", "esq")

func wordSet(words ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func has(set map[string]struct{}, word string) bool {
	_, ok := set[strings.TrimRight(strings.ToLower(word), ".,")]
	return ok
}

// Title returns the sort key of a title: its normalized form with a leading
// English article moved to the end.
//
//	"The Hobbit" -> "hobbit, the"
//	"Мастер и Маргарита" -> "мастер и маргарита"
func Title(title string) string {
	key := normalize.Key(title)
	for _, article := range articles {
		rest, ok := strings.CutPrefix(key, article+" ")
		if ok && rest != "" {
			return rest + ", " + article
		}
	}
	return key
}

// Author returns the sort key of an author name, surname first. Honorifics
// and credentials are dropped while generational suffixes are kept. Name
// particles stay with the given names.
//
//	"Ludwig van Beethoven" -> "beethoven, ludwig van"
//	"Dr. Martin Luther King Jr." -> "king, martin luther, jr"
//
// Names that already carry a comma are taken to be in surname-first form.
func Author(name string) string {
	key := normalize.Key(name)
	if key == "" || strings.Contains(key, ",") {
		return key
	}

	words := strings.Fields(key)
	for len(words) > 1 && has(honorifics, words[0]) {
		words = words[1:]
	}

	var suffixes []string
	for len(words) > 1 {
		last := words[len(words)-1]
		if has(generational, last) {
			suffixes = append([]string{strings.TrimRight(last, ".,")}, suffixes...)
		} else if !has(credentials, last) {
			break
		}
		words = words[:len(words)-1]
	}
	if len(words) == 1 {
		return strings.Join(append(words, suffixes...), ", ")
	}

	parts := []string{words[len(words)-1], strings.Join(words[:len(words)-1], " ")}
	return strings.Join(append(parts, suffixes...), ", ")
}
