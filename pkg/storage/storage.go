// Package storage keeps downloaded files and covers on the local filesystem
// and hands back the URL they are served under.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // Register PNG decoder
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/shishobooks/shelfsync/pkg/config"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	BucketFiles  = "files"
	BucketCovers = "covers"

	coverQuality = 85
)

var unsafeKeyChars = regexp.MustCompile(`[^\p{L}\p{N}._ -]+`)

type Store struct {
	dir           string
	baseURL       string
	coverMaxWidth int
}

func New(cfg *config.Config) *Store {
	return &Store{
		dir:           cfg.StorageDir,
		baseURL:       strings.TrimRight(cfg.StorageBaseURL, "/"),
		coverMaxWidth: cfg.CoverMaxWidth,
	}
}

// Dir is the root directory objects are written under.
func (s *Store) Dir() string {
	return s.dir
}

// BaseURL is the URL prefix objects are served under.
func (s *Store) BaseURL() string {
	return s.baseURL
}

// StoreObject writes data to bucket/key and returns its URL. An empty or
// generic mimeType is replaced by the sniffed one.
func (s *Store) StoreObject(ctx context.Context, bucket, key string, data []byte, mimeType string) (string, error) {
	if bucket != BucketFiles && bucket != BucketCovers {
		return "", errors.Errorf("unknown bucket %q", bucket)
	}
	key = SanitizeKey(key)
	if key == "" {
		return "", errors.New("object key cannot be empty")
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = mimetype.Detect(data).String()
	}

	dir := filepath.Join(s.dir, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.WithStack(err)
	}

	// Write to a temp file first so readers never see a partial object.
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", errors.WithStack(err)
	}
	if err := tmp.Close(); err != nil {
		return "", errors.WithStack(err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, key)); err != nil {
		return "", errors.WithStack(err)
	}

	logger.FromContext(ctx).Debug("object stored", logger.Data{"bucket": bucket, "key": key, "mime_type": mimeType, "size": len(data)})
	return s.URL(bucket, key), nil
}

// StoreCover downsizes an image to the configured maximum width, re-encodes it
// as JPEG and stores it under the covers bucket. Data that isn't a decodable
// image is stored as is.
func (s *Store) StoreCover(ctx context.Context, key string, data []byte) (string, error) {
	base := strings.TrimSuffix(key, filepath.Ext(key))

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		logger.FromContext(ctx).Warn("cover isn't a decodable image; storing as is", logger.Data{"key": key, "error": err.Error()})
		return s.StoreObject(ctx, BucketCovers, base+mimetype.Detect(data).Extension(), data, "")
	}

	img = fitWidth(img, s.coverMaxWidth)
	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: coverQuality}); err != nil {
		return "", errors.WithStack(err)
	}
	return s.StoreObject(ctx, BucketCovers, base+".jpg", buf.Bytes(), "image/jpeg")
}

// DeleteObject removes the object behind a URL returned by StoreObject. An
// object that is already gone is not an error.
func (s *Store) DeleteObject(ctx context.Context, url string) error {
	p := s.Path(url)
	if p == "" {
		return errors.Errorf("%q is not an object of this store", url)
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.WithStack(err)
	}
	logger.FromContext(ctx).Debug("object deleted", logger.Data{"ref": url})
	return nil
}

// URL returns the URL of bucket/key.
func (s *Store) URL(bucket, key string) string {
	return s.baseURL + "/" + path.Join(bucket, key)
}

// Path returns the filesystem path of an object URL returned by StoreObject,
// or "" if url doesn't belong to this store.
func (s *Store) Path(url string) string {
	rel, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok {
		return ""
	}
	bucket, key, ok := strings.Cut(rel, "/")
	if !ok || key != SanitizeKey(key) {
		return ""
	}
	return filepath.Join(s.dir, bucket, key)
}

// ObjectKey builds a unique key for a file that came from a source item.
func ObjectKey(sourceItemID int, filename string) string {
	name := SanitizeKey(filename)
	if name == "" {
		name = uuid.NewString()
	}
	return fmt.Sprintf("%d-%s", sourceItemID, name)
}

// SanitizeKey reduces key to a single safe path element.
func SanitizeKey(key string) string {
	key = filepath.Base(filepath.Clean("/" + key))
	if key == "/" {
		return ""
	}
	key = unsafeKeyChars.ReplaceAllString(key, "_")
	return strings.TrimLeft(key, ".")
}

func fitWidth(src image.Image, maxWidth int) image.Image {
	b := src.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return src
	}
	height := b.Dy() * maxWidth / b.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
