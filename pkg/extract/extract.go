// Package extract parses free-text catalog posts into bibliographic metadata.
//
// A post is a loosely structured announcement, in English or Russian:
//
//	Author: Jane Doe
//	Title: The Long Voyage (cycle)
//	Genre: #sf #adventure
//	Rating: 8,7
//	A description of any length...
//	Composition:
//	1. Alpha (2001)
//	2. Beta (2002)
//	#completed #voyage
//
// Every field is optional and parsing never fails; a field that can't be found
// is left at its zero value.
package extract

import (
	"regexp"
	"strconv"
	"strings"
)

type Work struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
}

type Metadata struct {
	Author      string   `json:"author"`
	Title       string   `json:"title"`
	SeriesFlag  bool     `json:"series_flag"`
	Genres      []string `json:"genres"`
	Tags        []string `json:"tags"`
	Rating      float64  `json:"rating"`
	Description string   `json:"description"`
	Composition []Work   `json:"composition"`
}

// DefaultStoplist holds structural hashtags that describe the post rather
// than the book.
var DefaultStoplist = []string{"completed", "finished", "завершено", "завершен", "завершён"}

var seriesKeywords = []string{"cycle", "цикл", "series", "серия"}

var (
	authorRE      = labelRE(`author|автор`)
	titleRE       = labelRE(`title|название`)
	genreRE       = labelRE(`genres?|жанры?`)
	ratingRE      = labelRE(`rating|рейтинг`)
	compositionRE = labelRE(`composition|состав|содержание`)

	hashtagRE    = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])#([\p{L}\p{N}_]+)`)
	numberRE     = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	workRE       = regexp.MustCompile(`^\s*\d+\s*[.)]\s*(.+?)\s*\((\d{4})\)\s*[.,;]?\s*$`)
	ratingMarkRE = regexp.MustCompile(`^(?:rating|above|выше|рейтинг)?_?\d+(?:_\d+)?_?(?:plus)?$`)
)

// labelRE matches a "Label:" marker that isn't the tail of a longer word, so
// "Title:" doesn't match inside "Subtitle:". Group 1 is the label, group 2 the
// rest of its line.
func labelRE(names string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)(?:^|[^\p{L}])((?:` + names + `)[ \t]*:)[ \t]*([^\n]*)`)
}

type Extractor struct {
	stoplist map[string]struct{}
}

// New returns an Extractor that drops DefaultStoplist plus extraStoplist from
// genres and tags.
func New(extraStoplist ...string) *Extractor {
	stoplist := make(map[string]struct{}, len(DefaultStoplist)+len(extraStoplist))
	for _, s := range append(append([]string{}, DefaultStoplist...), extraStoplist...) {
		s = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "#"))
		if s != "" {
			stoplist[s] = struct{}{}
		}
	}
	return &Extractor{stoplist: stoplist}
}

var defaultExtractor = New()

// Parse extracts metadata using the default stoplist.
func Parse(text string) Metadata {
	return defaultExtractor.Parse(text)
}

func (e *Extractor) Parse(text string) Metadata {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	md := Metadata{
		Author: labelValue(authorRE, text),
		Title:  labelValue(titleRE, text),
		Genres: []string{},
		Tags:   e.hashtags(text),
	}
	md.SeriesFlag = isSeriesTitle(md.Title)

	if m := genreRE.FindStringSubmatch(text); m != nil {
		md.Genres = e.hashtags(m[2])
	}

	compStart, compEnd := -1, -1
	if loc := compositionRE.FindStringSubmatchIndex(text); loc != nil {
		compStart = lineStart(text, loc[2])
		compEnd = loc[3]
		md.Composition = parseComposition(text[compEnd:])
	}

	if loc := ratingRE.FindStringSubmatchIndex(text); loc != nil {
		if n := numberRE.FindString(text[loc[4]:loc[5]]); n != "" {
			md.Rating, _ = strconv.ParseFloat(strings.Replace(n, ",", ".", 1), 64)
		}

		descStart := loc[5]
		descEnd := len(text)
		if compStart >= descStart {
			descEnd = compStart
		}
		md.Description = strings.TrimSpace(text[descStart:descEnd])
	}

	return md
}

// hashtags returns the hashtags of s without the leading '#', minus the
// stoplist, deduplicated case-insensitively in order of first appearance.
func (e *Extractor) hashtags(s string) []string {
	tags := []string{}
	seen := map[string]struct{}{}
	for _, m := range hashtagRE.FindAllStringSubmatch(s, -1) {
		tag := m[1]
		key := strings.ToLower(tag)
		if e.stopped(key) {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		tags = append(tags, tag)
	}
	return tags
}

func (e *Extractor) stopped(tag string) bool {
	if _, ok := e.stoplist[tag]; ok {
		return true
	}
	return ratingMarkRE.MatchString(tag)
}

func labelValue(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[2])
}

func isSeriesTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range seriesKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func parseComposition(section string) []Work {
	var works []Work
	for _, line := range strings.Split(section, "\n") {
		m := workRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		year, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		works = append(works, Work{Title: m[1], Year: year})
	}
	return works
}

func lineStart(text string, i int) int {
	return strings.LastIndexByte(text[:i], '\n') + 1
}
