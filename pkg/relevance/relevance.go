package relevance

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkg/errors"
	"github.com/shishobooks/shelfsync/pkg/models"
	"github.com/shishobooks/shelfsync/pkg/normalize"
)

const (
	// MinScore is the lowest score a candidate can have and still be returned.
	MinScore = 2
	// MaxCandidates caps how many candidates Match returns.
	MaxCandidates = 5

	maxExtensionLength = 5
)

// Searcher finds catalog entries whose normalized author or title contains a
// token.
type Searcher interface {
	SearchByToken(ctx context.Context, token string) ([]*models.Book, error)
}

type Candidate struct {
	Book  *models.Book `json:"book"`
	Score int          `json:"score"`
}

type Matcher struct {
	searcher Searcher
}

func NewMatcher(searcher Searcher) *Matcher {
	return &Matcher{searcher}
}

// Match scores the catalog entries that share at least one token with
// filename. Candidates are sorted by descending score, then ascending ID, and
// only those scoring at least MinScore are kept.
func (m *Matcher) Match(ctx context.Context, filename string) ([]*Candidate, error) {
	query := Tokenize(stripExtension(filename))
	if len(query) == 0 {
		return []*Candidate{}, nil
	}

	seen := map[int]struct{}{}
	var books []*models.Book
	for _, token := range query {
		found, err := m.searcher.SearchByToken(ctx, token)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		for _, b := range found {
			if _, ok := seen[b.ID]; ok {
				continue
			}
			seen[b.ID] = struct{}{}
			books = append(books, b)
		}
	}

	candidates := make([]*Candidate, 0, len(books))
	for _, b := range books {
		score := Score(query, Tokenize(b.Author+" "+b.Title))
		if score < MinScore {
			continue
		}
		candidates = append(candidates, &Candidate{Book: b, Score: score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Book.ID < candidates[j].Book.ID
	})
	if len(candidates) > MaxCandidates {
		candidates = candidates[:MaxCandidates]
	}
	return candidates, nil
}

// Tokenize splits s into distinct normalized words, dropping single-character
// tokens.
func Tokenize(s string) []string {
	words := strings.FieldsFunc(normalize.Key(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(words))
	seen := map[string]struct{}{}
	for _, w := range words {
		if utf8.RuneCountInString(w) <= 1 {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		tokens = append(tokens, w)
	}
	return tokens
}

// Score counts the query tokens that contain, or are contained by, at least
// one candidate token.
func Score(query, candidate []string) int {
	score := 0
	for _, q := range query {
		for _, c := range candidate {
			if strings.Contains(c, q) || strings.Contains(q, c) {
				score++
				break
			}
		}
	}
	return score
}

func stripExtension(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" || len(ext) > maxExtensionLength+1 {
		return filename
	}
	return strings.TrimSuffix(filename, ext)
}
