// Package image provides format detection, remote dimension probing, and
// downscaling for proxied and search-result images.
package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// Supported image format names.
const (
	FormatJPEG = "jpeg"
	FormatPNG  = "png"
	FormatWebP = "webp"
)

// RemoteImageInfo holds dimension and size metadata retrieved from a remote image URL.
type RemoteImageInfo struct {
	Width    int
	Height   int
	FileSize int64
}

// ProbeRemoteImage fetches a remote image URL and decodes its dimensions.
// It also reads Content-Length from the response for file size.
func ProbeRemoteImage(ctx context.Context, rawURL string) (*RemoteImageInfo, error) {
	client := &http.Client{Timeout: 10 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := client.Do(req) //nolint:gosec // URL comes from the search gateway, not user input
	if err != nil {
		return nil, fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	var fileSize int64
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		fileSize, _ = strconv.ParseInt(cl, 10, 64)
	}

	// Limit read to 5MB to prevent excessive memory usage for probing
	data, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if fileSize == 0 {
		fileSize = int64(len(data))
	}

	w, h, err := GetDimensions(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding dimensions: %w", err)
	}

	return &RemoteImageInfo{Width: w, Height: h, FileSize: fileSize}, nil
}

// DetectFormat reads the first bytes from r to identify the image format.
// Returns "jpeg", "png", or "webp". The returned reader replays the consumed bytes.
func DetectFormat(r io.Reader) (format string, replay io.Reader, err error) {
	// Read enough bytes for magic number detection (12 bytes covers all formats)
	buf := make([]byte, 12)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return "", nil, fmt.Errorf("reading header: %w", err)
	}
	buf = buf[:n]

	replay = io.MultiReader(bytes.NewReader(buf), r)

	if n >= 3 && buf[0] == 0xFF && buf[1] == 0xD8 && buf[2] == 0xFF {
		return FormatJPEG, replay, nil
	}
	if n >= 8 && string(buf[:8]) == "\x89PNG\r\n\x1a\n" {
		return FormatPNG, replay, nil
	}
	if n >= 12 && string(buf[:4]) == "RIFF" && string(buf[8:12]) == "WEBP" {
		return FormatWebP, replay, nil
	}

	return "", replay, fmt.Errorf("unrecognized image format")
}

// GetDimensions decodes only the image header to read width and height.
func GetDimensions(r io.Reader) (width, height int, err error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return 0, 0, fmt.Errorf("decoding image config: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// Downscale decodes the image from src, scales it to fit within maxWidth
// while maintaining aspect ratio, and re-encodes it. Returns the image bytes
// and the output MIME type. Images already narrower than maxWidth are
// re-encoded without scaling. WebP input is converted to PNG (no WebP
// encoder is available).
func Downscale(src io.Reader, maxWidth int) ([]byte, string, error) {
	format, replay, err := DetectFormat(src)
	if err != nil {
		return nil, "", fmt.Errorf("detecting format: %w", err)
	}

	img, _, err := image.Decode(replay)
	if err != nil {
		return nil, "", fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()

	if origW > maxWidth && maxWidth > 0 {
		newH := origH * maxWidth / origW
		if newH < 1 {
			newH = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, newH))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	outFormat := format
	if outFormat == FormatWebP {
		outFormat = FormatPNG
	}

	data, err := encode(img, outFormat, 85)
	if err != nil {
		return nil, "", err
	}

	return data, "image/" + outFormat, nil
}

// encode serializes an image in the given format.
func encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatJPEG:
		if quality < 1 || quality > 100 {
			quality = 85
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encoding jpeg: %w", err)
		}
	case FormatPNG:
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding png: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
	return buf.Bytes(), nil
}
