package infrastructure

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"affsync/internal/domain"
	"affsync/pkg/config"
	"affsync/pkg/logger"
	"affsync/pkg/metrics"
)

var _ domain.ImageCache = (*ImageCache)(nil)

const (
	maxImageBytes  = 10 << 20
	maxImagePixels = 40_000_000
	svgContentType = "image/svg+xml"
	imageKeyPrefix = "affsync/image/v1"
)

// cached image extensions, checked in order before fetching
var cachedExtensions = []string{"jpg", "svg"}

// junk trailing characters seen on feed image URLs
var malformedSuffixes = []string{`"`, `'`, ")", ";", ",", "%22", "%27", "%20", "\\"}

// ImageCache fetches external images, normalizes them and stores them under
// a content address: "{folder}/{hash}.{ext}"
type ImageCache struct {
	store     domain.ObjectStore
	fallback  domain.ObjectStore
	client    *http.Client
	userAgent string
	maxDim    int
	quality   int
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

// creates an image cache; fallback receives operator uploads when the
// primary store fails and may be nil
func NewImageCache(store, fallback domain.ObjectStore, cfg config.ImagesConfig, logger *logger.Logger, metrics *metrics.Metrics) *ImageCache {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	return &ImageCache{
		store:     store,
		fallback:  fallback,
		client:    &http.Client{Timeout: cfg.FetchTimeout},
		userAgent: userAgent,
		maxDim:    cfg.MaxDimension,
		quality:   cfg.JPEGQuality,
		logger:    logger,
		metrics:   metrics,
	}
}

// Cache stores the image at sourceURL and returns its public URL. A source
// URL always maps to the same object, so an existing object is returned
// without fetching.
func (c *ImageCache) Cache(ctx context.Context, sourceURL, folder string) (string, error) {
	cleaned, err := CleanImageURL(sourceURL)
	if err != nil {
		c.metrics.RecordImageCache("failed")
		return "", err
	}
	hash := contentHash([]byte(cleaned))

	for _, ext := range cachedExtensions {
		key := objectKey(folder, hash, ext)
		exists, err := c.store.Exists(ctx, key)
		if err != nil {
			c.metrics.RecordImageCache("failed")
			return "", err
		}
		if exists {
			c.metrics.RecordImageCache("hit")
			return c.store.PublicURL(key), nil
		}
	}

	data, contentType, err := c.fetch(ctx, cleaned)
	if err != nil {
		c.metrics.RecordImageCache("failed")
		return "", err
	}

	out, ext, outType, err := c.normalize(data, contentType)
	if err != nil {
		c.metrics.RecordImageCache("failed")
		return "", fmt.Errorf("failed to transcode %s: %w", cleaned, err)
	}

	key := objectKey(folder, hash, ext)
	if err := c.store.Put(ctx, key, out, outType); err != nil {
		c.metrics.RecordImageCache("failed")
		return "", err
	}

	c.metrics.RecordImageCache("stored")
	c.logger.WithContext(ctx).WithFields(map[string]any{
		"source": cleaned,
		"key":    key,
		"bytes":  len(out),
	}).Debug("Cached image")

	return c.store.PublicURL(key), nil
}

// StoreBytes stores an uploaded image addressed by the hash of its bytes,
// falling back to the local store when the primary one fails
func (c *ImageCache) StoreBytes(ctx context.Context, data []byte, folder, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty upload", domain.ErrNotImage)
	}
	contentType = sniffContentType(data, contentType)
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("%w: %s", domain.ErrNotImage, contentType)
	}

	out, ext, outType, err := c.normalize(data, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to transcode upload: %w", err)
	}
	key := objectKey(folder, contentHash(data), ext)

	if err := c.store.Put(ctx, key, out, outType); err != nil {
		if c.fallback == nil {
			return "", err
		}
		c.logger.WithContext(ctx).WithError(err).WithField("key", key).Warn("Primary image store failed, writing to local fallback")
		if err := c.fallback.Put(ctx, key, out, outType); err != nil {
			return "", fmt.Errorf("failed to store upload in fallback: %w", err)
		}
		c.metrics.RecordImageCache("fallback")
		return c.fallback.PublicURL(key), nil
	}

	c.metrics.RecordImageCache("stored")
	return c.store.PublicURL(key), nil
}

func (c *ImageCache) fetch(ctx context.Context, sourceURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/png,image/svg+xml,image/*;q=0.8")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.metrics.RecordExternalAPIFailure("image", "network_error")
		return nil, "", fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.metrics.RecordExternalAPICall("image", fmt.Sprintf("error_%d", resp.StatusCode), time.Since(start))
		return nil, "", fmt.Errorf("image origin returned status %d", resp.StatusCode)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "image/") {
		c.metrics.RecordExternalAPICall("image", "not_image", time.Since(start))
		return nil, "", fmt.Errorf("%w: %q", domain.ErrNotImage, mediaType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		c.metrics.RecordExternalAPIFailure("image", "read_body")
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}

	c.metrics.RecordExternalAPICall("image", "success", time.Since(start))
	return data, mediaType, nil
}

// normalize passes SVG through and re-encodes rasters as JPEG bounded by
// maxDim, flattening transparency onto white
func (c *ImageCache) normalize(data []byte, contentType string) ([]byte, string, string, error) {
	if contentType == svgContentType {
		return data, "svg", svgContentType, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > maxImagePixels {
		return nil, "", "", fmt.Errorf("%w: %dx%d canvas exceeds %d pixels", domain.ErrNotImage, cfg.Width, cfg.Height, maxImagePixels)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if c.maxDim > 0 && (width > c.maxDim || height > c.maxDim) {
		if width >= height {
			height = max(1, height*c.maxDim/width)
			width = c.maxDim
		} else {
			width = max(1, width*c.maxDim/height)
			height = c.maxDim
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	quality := c.quality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, "", "", fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), "jpg", "image/jpeg", nil
}

// CleanImageURL repairs the URL shapes feeds commonly emit: HTML entities,
// protocol-relative links and junk trailing characters
func CleanImageURL(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "&amp;", "&")
	for trimmed := true; trimmed; {
		trimmed = false
		for _, suffix := range malformedSuffixes {
			if strings.HasSuffix(s, suffix) {
				s = strings.TrimSuffix(s, suffix)
				trimmed = true
			}
		}
	}
	if strings.HasPrefix(s, "//") {
		s = "https:" + s
	}

	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid image url %q", raw)
	}
	return u.String(), nil
}

func sniffContentType(data []byte, declared string) string {
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil && strings.HasPrefix(mediaType, "image/") {
		return mediaType
	}
	detected, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	if !strings.HasPrefix(detected, "image/") && bytes.Contains(bytes.ToLower(data[:min(len(data), 1024)]), []byte("<svg")) {
		return svgContentType
	}
	return detected
}

func contentHash(data []byte) string {
	h := sha256.New()
	h.Write([]byte(imageKeyPrefix))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))[:40]
}

func objectKey(folder, hash, ext string) string {
	return path.Join(folder, hash+"."+ext)
}
