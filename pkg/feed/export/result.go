package export

import (
	"bytes"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/shelfsync/pkg/feed"
)

const (
	dateLayout      = "2006-01-02T15:04:05"
	notIncludedMark = "(File not included."
)

type result struct {
	Name     string    `json:"name"`
	Type     string    `json:"type"`
	ID       int64     `json:"id"`
	Messages []message `json:"messages"`
}

type message struct {
	ID               int         `json:"id"`
	Type             string      `json:"type"`
	Date             string      `json:"date"`
	DateUnixtime     string      `json:"date_unixtime"`
	Text             messageText `json:"text"`
	Photo            string      `json:"photo"`
	File             string      `json:"file"`
	FileName         string      `json:"file_name"`
	FileSize         int64       `json:"file_size"`
	MimeType         string      `json:"mime_type"`
	MediaType        string      `json:"media_type"`
	ReplyToMessageID int         `json:"reply_to_message_id"`
}

// messageText is either a plain string or a list of plain strings and
// formatted entities.
type messageText string

func (t *messageText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] == 'n' {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return errors.WithStack(err)
		}
		*t = messageText(s)
		return nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return errors.WithStack(err)
	}
	var sb strings.Builder
	for _, part := range parts {
		if len(part) > 0 && part[0] == '"' {
			var s string
			if err := json.Unmarshal(part, &s); err != nil {
				return errors.WithStack(err)
			}
			sb.WriteString(s)
			continue
		}
		var entity struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(part, &entity); err != nil {
			return errors.WithStack(err)
		}
		sb.WriteString(entity.Text)
	}
	*t = messageText(sb.String())
	return nil
}

func (m message) rawItem(dir string) feed.RawItem {
	item := feed.RawItem{
		ID:        m.ID,
		Text:      string(m.Text),
		Date:      m.date(),
		ReplyToID: m.ReplyToMessageID,
	}

	switch {
	case m.Photo != "":
		item.Media = &feed.Media{
			Kind:     feed.MediaPhoto,
			Ref:      mediaRef(dir, m.Photo),
			Filename: path.Base(m.Photo),
			MimeType: "image/jpeg",
			Size:     m.FileSize,
		}
	case m.File != "":
		kind := feed.MediaDocument
		if m.MediaType != "" {
			kind = feed.MediaOther
		}
		name := m.FileName
		if name == "" && !strings.HasPrefix(m.File, notIncludedMark) {
			name = path.Base(m.File)
		}
		item.Media = &feed.Media{
			Kind:     kind,
			Ref:      mediaRef(dir, m.File),
			Filename: name,
			MimeType: m.MimeType,
			Size:     m.FileSize,
		}
	}
	return item
}

func (m message) date() time.Time {
	if m.DateUnixtime != "" {
		if sec, err := strconv.ParseInt(m.DateUnixtime, 10, 64); err == nil {
			return time.Unix(sec, 0).UTC()
		}
	}
	t, err := time.ParseInLocation(dateLayout, m.Date, time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

// mediaRef makes a root-relative reference to an exported file. Files left
// out of the export get an empty reference.
func mediaRef(dir, file string) string {
	if strings.HasPrefix(file, notIncludedMark) {
		return ""
	}
	return path.Join(dir, file)
}
