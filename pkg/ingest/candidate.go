package ingest

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shishobooks/shelfsync/pkg/feed"
)

// AttachmentCandidate is what is known about a file before it is downloaded.
type AttachmentCandidate struct {
	Filename string `json:"filename"`
	SourceID int    `json:"source_id"`
	Author   string `json:"author,omitempty"`
	Title    string `json:"title,omitempty"`
}

var bookExtensions = map[string]struct{}{
	".fb2": {}, ".epub": {}, ".pdf": {}, ".djvu": {}, ".mobi": {}, ".azw3": {}, ".txt": {}, ".rtf": {}, ".doc": {}, ".docx": {},
}

var (
	shortExtension       = regexp.MustCompile(`^\.[\p{L}\p{N}]{1,5}$`)
	authorTitleSeparator = regexp.MustCompile(`\s+[-–—]\s+`)
	filenameNoise        = regexp.MustCompile(`[_]+`)
)

// ParseCandidate derives a candidate from a document item. Filenames shaped
// like "Author - Title.ext" also yield an author and title.
func ParseCandidate(item feed.RawItem) *AttachmentCandidate {
	if !item.HasDocument() {
		return nil
	}
	c := &AttachmentCandidate{
		Filename: item.Media.Filename,
		SourceID: item.ID,
	}

	name := stripExtensions(c.Filename)
	name = strings.TrimSpace(filenameNoise.ReplaceAllString(name, " "))

	parts := authorTitleSeparator.Split(name, 2)
	if len(parts) == 2 {
		c.Author = strings.TrimSpace(parts[0])
		c.Title = strings.TrimSpace(parts[1])
	}
	return c
}

// stripExtensions drops the extension of name, and a book extension under it
// as in "book.fb2.zip".
func stripExtensions(name string) string {
	ext := filepath.Ext(name)
	if !shortExtension.MatchString(ext) {
		return name
	}
	name = strings.TrimSuffix(name, ext)
	if _, ok := bookExtensions[strings.ToLower(filepath.Ext(name))]; ok {
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return name
}
