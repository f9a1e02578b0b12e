// Package export reads channels from Telegram Desktop JSON exports: a
// directory holding result.json next to the exported photos and files.
//
// The root directory may itself be one export, or hold one export per
// subdirectory.
package export

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/shishobooks/shelfsync/pkg/feed"
)

const (
	resultFile = "result.json"
	readChunk  = 256 * 1024
)

type Client struct {
	root string

	mu       sync.Mutex
	channels map[string]*channel
}

type channel struct {
	ref     feed.ChannelRef
	dir     string
	modTime time.Time
	// Newest first.
	items []feed.RawItem
}

var _ feed.Client = (*Client)(nil)

func New(root string) *Client {
	return &Client{
		root:     root,
		channels: map[string]*channel{},
	}
}

// ResolveChannel finds the export whose channel name, numeric id or directory
// name matches identifier. Names match case-insensitively and a leading "@"
// is ignored.
func (c *Client) ResolveChannel(ctx context.Context, identifier string) (feed.ChannelRef, error) {
	want := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(identifier), "@"))
	if want == "" {
		return feed.ChannelRef{}, errors.Wrap(feed.ErrChannelNotFound, "empty channel identifier")
	}

	dirs, err := c.exportDirs()
	if err != nil {
		return feed.ChannelRef{}, err
	}
	for _, dir := range dirs {
		ch, err := c.load(ctx, dir)
		if err != nil {
			logger.FromContext(ctx).Warn("skipping unreadable export", logger.Data{"dir": dir, "error": err.Error()})
			continue
		}
		if strings.ToLower(ch.ref.Name) == want ||
			strconv.FormatInt(ch.ref.ID, 10) == want ||
			strings.ToLower(filepath.Base(dir)) == want {
			return ch.ref, nil
		}
	}
	return feed.ChannelRef{}, errors.Wrapf(feed.ErrChannelNotFound, "%q", identifier)
}

func (c *Client) FetchPage(ctx context.Context, ref feed.ChannelRef, pageSize, beforeID int) ([]feed.RawItem, error) {
	if pageSize <= 0 {
		return nil, errors.Errorf("invalid page size %d", pageSize)
	}
	ch, err := c.channelFor(ctx, ref)
	if err != nil {
		return nil, err
	}

	start := 0
	if beforeID > 0 {
		// items is sorted by descending id.
		start = sort.Search(len(ch.items), func(i int) bool {
			return ch.items[i].ID < beforeID
		})
	}
	end := start + pageSize
	if end > len(ch.items) {
		end = len(ch.items)
	}

	page := make([]feed.RawItem, end-start)
	copy(page, ch.items[start:end])
	return page, nil
}

// DownloadMedia reads an exported file, giving up as soon as ctx is done.
func (c *Client) DownloadMedia(ctx context.Context, media feed.Media) ([]byte, error) {
	if media.Ref == "" {
		return nil, errors.Wrap(feed.ErrMediaNotFound, "media was not included in the export")
	}
	p := filepath.Join(c.root, filepath.FromSlash(path.Clean("/" + media.Ref)))

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(feed.ErrMediaNotFound, "%s", media.Ref)
		}
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	var data []byte
	if media.Size > 0 {
		data = make([]byte, 0, media.Size)
	}
	buf := make([]byte, readChunk)
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		n, err := f.Read(buf)
		data = append(data, buf[:n]...)
		if err == io.EOF {
			return data, nil
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}
}

func (c *Client) channelFor(ctx context.Context, ref feed.ChannelRef) (*channel, error) {
	if dir := c.cachedDir(ref.ID); dir != "" {
		return c.load(ctx, dir)
	}
	if _, err := c.ResolveChannel(ctx, strconv.FormatInt(ref.ID, 10)); err != nil {
		return nil, err
	}
	if dir := c.cachedDir(ref.ID); dir != "" {
		return c.load(ctx, dir)
	}
	return nil, errors.Wrapf(feed.ErrChannelNotFound, "id %d", ref.ID)
}

func (c *Client) cachedDir(id int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for dir, ch := range c.channels {
		if ch.ref.ID == id {
			return dir
		}
	}
	return ""
}

func (c *Client) exportDirs() ([]string, error) {
	if _, err := os.Stat(filepath.Join(c.root, resultFile)); err == nil {
		return []string{c.root}, nil
	}

	entries, err := os.ReadDir(c.root)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(c.root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, resultFile)); err == nil {
			dirs = append(dirs, dir)
		}
	}
	return dirs, nil
}

// load parses the export in dir, reusing the cached copy while result.json is
// unchanged.
func (c *Client) load(ctx context.Context, dir string) (*channel, error) {
	file := filepath.Join(dir, resultFile)
	info, err := os.Stat(file)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	c.mu.Lock()
	cached, ok := c.channels[dir]
	c.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) {
		return cached, nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var res result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrapf(err, "parse %s", file)
	}

	rel, err := filepath.Rel(c.root, dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ch := &channel{
		ref:     feed.ChannelRef{ID: res.ID, Name: res.Name},
		dir:     dir,
		modTime: info.ModTime(),
		items:   make([]feed.RawItem, 0, len(res.Messages)),
	}
	for _, m := range res.Messages {
		if m.Type != "message" {
			continue
		}
		ch.items = append(ch.items, m.rawItem(filepath.ToSlash(rel)))
	}
	sort.Slice(ch.items, func(i, j int) bool {
		return ch.items[i].ID > ch.items[j].ID
	})

	logger.FromContext(ctx).Debug("export loaded", logger.Data{"dir": dir, "channel": res.Name, "items": len(ch.items)})

	c.mu.Lock()
	c.channels[dir] = ch
	c.mu.Unlock()
	return ch, nil
}
