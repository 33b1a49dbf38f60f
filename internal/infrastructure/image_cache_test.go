package infrastructure

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"affsync/internal/domain"
	"affsync/pkg/config"
	"affsync/pkg/metrics"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="10" height="10"><rect width="10" height="10"/></svg>`

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// hugePNG rewrites the header of a small PNG to declare a w x h canvas
func hugePNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data := pngBytes(t, 1, 1)
	// signature, then the IHDR length and type, then its data
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func testImagesConfig() config.ImagesConfig {
	return config.ImagesConfig{
		MaxDimension: 100,
		JPEGQuality:  80,
		FetchTimeout: 5 * time.Second,
	}
}

type imageOrigin struct {
	server *httptest.Server
	hits   atomic.Int32
}

func newImageOrigin(t *testing.T, pngData []byte) *imageOrigin {
	o := &imageOrigin{}
	o.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		switch r.URL.Path {
		case "/logo.png":
			w.Header().Set("Content-Type", "image/png")
			w.Write(pngData)
		case "/logo.svg":
			w.Header().Set("Content-Type", "image/svg+xml")
			w.Write([]byte(testSVG))
		case "/page.html":
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte("<html></html>"))
		case "/ua":
			if !strings.Contains(r.UserAgent(), "Mozilla") {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			w.Write(pngData)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(o.server.Close)
	return o
}

func newTestImageCache(t *testing.T, store, fallback domain.ObjectStore) *ImageCache {
	return NewImageCache(store, fallback, testImagesConfig(), testLogger(), metrics.New(prometheus.NewRegistry()))
}

func TestImageCache_ResizesAndIsIdempotent(t *testing.T) {
	origin := newImageOrigin(t, pngBytes(t, 400, 200))
	dir := t.TempDir()
	cache := newTestImageCache(t, NewFilesystemObjectStore(dir, "/uploads"), nil)
	ctx := context.Background()

	first, err := cache.Cache(ctx, origin.server.URL+"/logo.png", "logos")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "/uploads/logos/"))
	assert.True(t, strings.HasSuffix(first, ".jpg"))

	stored, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(first, "/uploads/")))
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(stored))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 50, img.Bounds().Dy())

	second, err := cache.Cache(ctx, origin.server.URL+"/logo.png", "logos")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), origin.hits.Load(), "second call must not refetch")
}

func TestImageCache_SVGPassesThrough(t *testing.T) {
	origin := newImageOrigin(t, pngBytes(t, 10, 10))
	dir := t.TempDir()
	cache := newTestImageCache(t, NewFilesystemObjectStore(dir, "/uploads"), nil)

	url, err := cache.Cache(context.Background(), origin.server.URL+"/logo.svg", "logos")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, ".svg"))

	stored, err := os.ReadFile(filepath.Join(dir, strings.TrimPrefix(url, "/uploads/")))
	require.NoError(t, err)
	assert.Equal(t, testSVG, string(stored))
}

func TestImageCache_Failures(t *testing.T) {
	origin := newImageOrigin(t, pngBytes(t, 10, 10))
	cache := newTestImageCache(t, NewFilesystemObjectStore(t.TempDir(), "/uploads"), nil)
	ctx := context.Background()

	_, err := cache.Cache(ctx, origin.server.URL+"/page.html", "logos")
	assert.ErrorIs(t, err, domain.ErrNotImage)

	_, err = cache.Cache(ctx, origin.server.URL+"/missing.png", "logos")
	assert.Error(t, err)

	_, err = cache.Cache(ctx, "not a url", "logos")
	assert.Error(t, err)
}

func TestImageCache_RejectsOversizedCanvas(t *testing.T) {
	dir := t.TempDir()
	cache := newTestImageCache(t, NewFilesystemObjectStore(dir, "/uploads"), nil)
	huge := hugePNG(t, 100_000, 100_000)

	cfg, err := png.DecodeConfig(bytes.NewReader(huge))
	require.NoError(t, err)
	require.Equal(t, 100_000, cfg.Width)

	_, err = cache.StoreBytes(context.Background(), huge, "logos", "image/png")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotImage)
	assert.Contains(t, err.Error(), "exceeds")

	origin := newImageOrigin(t, huge)
	_, err = cache.Cache(context.Background(), origin.server.URL+"/logo.png", "logos")
	assert.ErrorIs(t, err, domain.ErrNotImage)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestImageCache_SendsBrowserUserAgent(t *testing.T) {
	origin := newImageOrigin(t, pngBytes(t, 10, 10))
	cache := newTestImageCache(t, NewFilesystemObjectStore(t.TempDir(), "/uploads"), nil)

	_, err := cache.Cache(context.Background(), origin.server.URL+"/ua", "logos")
	assert.NoError(t, err)
}

type failingStore struct{}

func (failingStore) Exists(context.Context, string) (bool, error) {
	return false, errors.New("unreachable")
}
func (failingStore) Put(context.Context, string, []byte, string) error {
	return errors.New("unreachable")
}
func (failingStore) PublicURL(key string) string { return "https://bucket/" + key }

func TestImageCache_StoreBytesFallsBackToLocal(t *testing.T) {
	dir := t.TempDir()
	cache := newTestImageCache(t, failingStore{}, NewFilesystemObjectStore(dir, "/uploads"))

	data := pngBytes(t, 20, 20)
	url, err := cache.StoreBytes(context.Background(), data, "logos", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "/uploads/logos/"))

	again, err := cache.StoreBytes(context.Background(), data, "logos", "image/png")
	require.NoError(t, err)
	assert.Equal(t, url, again, "same bytes map to the same address")

	_, err = cache.StoreBytes(context.Background(), []byte("hello"), "logos", "text/plain")
	assert.ErrorIs(t, err, domain.ErrNotImage)
}

func TestCleanImageURL(t *testing.T) {
	tests := map[string]string{
		"https://cdn.example.com/a.png":         "https://cdn.example.com/a.png",
		" https://cdn.example.com/a.png\" ":     "https://cdn.example.com/a.png",
		"//cdn.example.com/a.png":               "https://cdn.example.com/a.png",
		"https://cdn.example.com/a?x=1&amp;y=2": "https://cdn.example.com/a?x=1&y=2",
		"https://cdn.example.com/a.png%20":      "https://cdn.example.com/a.png",
	}
	for in, want := range tests {
		got, err := CleanImageURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := CleanImageURL("ftp://example.com/a.png")
	assert.Error(t, err)
}
