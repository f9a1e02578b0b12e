package ingest

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/shishobooks/shelfsync/pkg/config"
	"github.com/shishobooks/shelfsync/pkg/feed"
	"github.com/shishobooks/shelfsync/pkg/storage"
	"github.com/shishobooks/shelfsync/pkg/testutils"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

const (
	metadataChannel = "meta"
	filesChannel    = "files"
)

// fakeClient serves in-memory channels. Downloads of refs listed in slow
// block until their context ends.
type fakeClient struct {
	mu        sync.Mutex
	channels  map[string][]feed.RawItem
	media     map[string][]byte
	slow      map[string]bool
	fetchErrs []error
	fetches   int
	downloads int
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		channels: map[string][]feed.RawItem{},
		media:    map[string][]byte{},
		slow:     map[string]bool{},
	}
}

func (f *fakeClient) add(channel string, items ...feed.RawItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[channel] = append(f.channels[channel], items...)
}

func (f *fakeClient) FetchPage(_ context.Context, channel feed.ChannelRef, pageSize, beforeID int) ([]feed.RawItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		return nil, err
	}

	all := append([]feed.RawItem{}, f.channels[channel.Name]...)
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	page := []feed.RawItem{}
	for _, item := range all {
		if beforeID > 0 && item.ID >= beforeID {
			continue
		}
		page = append(page, item)
		if len(page) == pageSize {
			break
		}
	}
	return page, nil
}

func (f *fakeClient) ResolveChannel(_ context.Context, identifier string) (feed.ChannelRef, error) {
	return feed.ChannelRef{ID: 1, Name: identifier}, nil
}

func (f *fakeClient) DownloadMedia(ctx context.Context, media feed.Media) ([]byte, error) {
	f.mu.Lock()
	f.downloads++
	data, ok := f.media[media.Ref]
	slow := f.slow[media.Ref]
	f.mu.Unlock()

	if slow {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if !ok {
		return nil, feed.ErrMediaNotFound
	}
	return data, nil
}

func post(id int, text string) feed.RawItem {
	return feed.RawItem{ID: id, Text: text}
}

func photoPost(id int, text, ref string) feed.RawItem {
	return feed.RawItem{ID: id, Text: text, Media: &feed.Media{Kind: feed.MediaPhoto, Ref: ref}}
}

func document(id, replyTo int, filename, ref string) feed.RawItem {
	return feed.RawItem{
		ID:        id,
		ReplyToID: replyTo,
		Media:     &feed.Media{Kind: feed.MediaDocument, Ref: ref, Filename: filename, MimeType: "application/epub+zip"},
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{G: 255, A: 255})
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

type fixture struct {
	orchestrator *Orchestrator
	client       *fakeClient
	db           *bun.DB
	store        *storage.Store
}

func newFixture(t *testing.T, mutate ...func(*Options)) *fixture {
	t.Helper()

	db := testutils.NewDB(t)
	cfg := config.NewForTest()
	cfg.StorageDir = t.TempDir()
	cfg.StorageBaseURL = "/objects/"
	store := storage.New(cfg)

	opts := OptionsFromConfig(cfg)
	opts.MetadataChannel = metadataChannel
	opts.FilesChannel = filesChannel
	opts.PageSize = 2
	opts.LockFilePath = filepath.Join(t.TempDir(), "sync.lock")
	for _, m := range mutate {
		m(&opts)
	}

	client := newFakeClient()
	return &fixture{
		orchestrator: New(db, client, store, opts),
		client:       client,
		db:           db,
		store:        store,
	}
}
