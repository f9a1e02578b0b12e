package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/shishobooks/shelfsync/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.NewForTest()
	cfg.StorageDir = t.TempDir()
	cfg.StorageBaseURL = "/objects/"
	cfg.CoverMaxWidth = 100
	return New(cfg)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	buf := &bytes.Buffer{}
	require.NoError(t, png.Encode(buf, img))
	return buf.Bytes()
}

func TestStoreObject(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	url, err := s.StoreObject(ctx, BucketFiles, "12-Jane Doe - Voyage.fb2", []byte("<FictionBook/>"), "")
	require.NoError(t, err)
	assert.Equal(t, "/objects/files/12-Jane Doe - Voyage.fb2", url)

	data, err := os.ReadFile(s.Path(url))
	require.NoError(t, err)
	assert.Equal(t, "<FictionBook/>", string(data))

	entries, err := os.ReadDir(filepath.Join(s.Dir(), BucketFiles))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestStoreObject_RejectsBadInput(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	_, err := s.StoreObject(ctx, "elsewhere", "a.txt", []byte("x"), "text/plain")
	assert.Error(t, err)

	_, err = s.StoreObject(ctx, BucketFiles, "", []byte("x"), "text/plain")
	assert.Error(t, err)
}

func TestSanitizeKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"book.epub", "book.epub"},
		{"../../etc/passwd", "passwd"},
		{"dir/sub/name.fb2", "name.fb2"},
		{".hidden", "hidden"},
		{"a:b?.zip", "a_b_.zip"},
		{"Иван - Дорога.fb2", "Иван - Дорога.fb2"},
		{"", ""},
		{"/", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeKey(tt.in), tt.in)
	}
}

func TestObjectKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "7-book.epub", ObjectKey(7, "book.epub"))
	assert.Regexp(t, `^7-[0-9a-f-]{36}$`, ObjectKey(7, ""))
}

func TestStoreCover_Downscales(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	url, err := s.StoreCover(context.Background(), "9-photo.png", pngBytes(t, 400, 200))
	require.NoError(t, err)
	assert.Equal(t, "/objects/covers/9-photo.jpg", url)

	f, err := os.Open(s.Path(url))
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())
}

func TestStoreCover_NotAnImage(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	url, err := s.StoreCover(context.Background(), "9-photo.jpg", []byte("plain text, not an image"))
	require.NoError(t, err)
	assert.Equal(t, "/objects/covers/9-photo.txt", url)
}

func TestPath_ForeignURL(t *testing.T) {
	t.Parallel()
	s := newStore(t)

	assert.Empty(t, s.Path("https://example.com/files/a"))
	assert.Empty(t, s.Path("/objects/files"))
}

func TestDeleteObject(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	url, err := s.StoreObject(ctx, BucketFiles, "7-book.epub", []byte("data"), "application/epub+zip")
	require.NoError(t, err)
	require.FileExists(t, s.Path(url))

	require.NoError(t, s.DeleteObject(ctx, url))
	assert.NoFileExists(t, s.Path(url))

	require.NoError(t, s.DeleteObject(ctx, url), "deleting twice is fine")
	assert.Error(t, s.DeleteObject(ctx, "https://example.com/files/7-book.epub"))
}
