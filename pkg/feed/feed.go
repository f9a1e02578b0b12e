// Package feed describes the external message feed that catalog posts and
// file attachments are read from.
package feed

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type MediaKind string

const (
	MediaPhoto    MediaKind = "photo"
	MediaDocument MediaKind = "document"
	MediaOther    MediaKind = "other"
)

var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrMediaNotFound   = errors.New("media not found")
)

// Media describes an attachment without its content. Ref is opaque to
// everything except the Client that produced it.
type Media struct {
	Kind     MediaKind `json:"kind"`
	Ref      string    `json:"ref"`
	Filename string    `json:"filename,omitempty"`
	MimeType string    `json:"mime_type,omitempty"`
	Size     int64     `json:"size,omitempty"`
}

// RawItem is one message of a channel.
type RawItem struct {
	ID        int       `json:"id"`
	Text      string    `json:"text"`
	Media     *Media    `json:"media,omitempty"`
	Date      time.Time `json:"date"`
	ReplyToID int       `json:"reply_to_id,omitempty"`
}

func (i RawItem) HasPhoto() bool {
	return i.Media != nil && i.Media.Kind == MediaPhoto
}

func (i RawItem) HasDocument() bool {
	return i.Media != nil && i.Media.Kind == MediaDocument
}

type ChannelRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Client reads a channel newest first.
type Client interface {
	// FetchPage returns up to pageSize items with IDs strictly below
	// beforeID, newest first. A beforeID of 0 starts at the newest item. An
	// empty page means the start of the channel was reached.
	FetchPage(ctx context.Context, channel ChannelRef, pageSize, beforeID int) ([]RawItem, error)
	ResolveChannel(ctx context.Context, identifier string) (ChannelRef, error)
	DownloadMedia(ctx context.Context, media Media) ([]byte, error)
}

// TransientError wraps a failure the feed expects to clear up, optionally
// with the wait it asked for.
type TransientError struct {
	Err        error
	RetryAfter time.Duration
}

func (e *TransientError) Error() string {
	if e.RetryAfter > 0 {
		return e.Err.Error() + " (retry after " + e.RetryAfter.String() + ")"
	}
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RetryAfter returns the wait requested by a TransientError in err's chain, or
// 0.
func RetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// IsRetriable reports whether err represents a transient condition that
// warrants an automatic retry (rate limits, timeouts, connection errors).
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	message := strings.ToLower(err.Error())
	for _, token := range []string{"429", "rate limit", "flood", "502", "503", "504", "timeout", "connection reset", "connection refused", "temporary failure"} {
		if strings.Contains(message, token) {
			return true
		}
	}
	return false
}

// SleepWithContext blocks for the given duration, returning early if the
// context is cancelled.
func SleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
