package image

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 64, A: 255}) //nolint:gosec
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encoding png fixture: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encoding jpeg fixture: %v", err)
	}
	return buf.Bytes()
}

func TestDetectFormat(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want string
	}{
		{"png", encodePNG(t, 2, 2), FormatPNG},
		{"jpeg", encodeJPEG(t, 2, 2), FormatJPEG},
		{"webp header", []byte("RIFF\x24\x00\x00\x00WEBPVP8 "), FormatWebP},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			format, replay, err := DetectFormat(bytes.NewReader(tc.data))
			if err != nil {
				t.Fatalf("DetectFormat: %v", err)
			}
			if format != tc.want {
				t.Errorf("expected %s, got %s", tc.want, format)
			}
			// The replay reader must return the full original bytes.
			all, _ := io.ReadAll(replay)
			if !bytes.Equal(all, tc.data) {
				t.Error("replay reader lost bytes")
			}
		})
	}
}

func TestDetectFormatUnknown(t *testing.T) {
	_, _, err := DetectFormat(bytes.NewReader([]byte("GIF89a not supported")))
	if err == nil {
		t.Error("expected an error for unsupported format")
	}
}

func TestGetDimensions(t *testing.T) {
	w, h, err := GetDimensions(bytes.NewReader(encodePNG(t, 320, 200)))
	if err != nil {
		t.Fatalf("GetDimensions: %v", err)
	}
	if w != 320 || h != 200 {
		t.Errorf("expected 320x200, got %dx%d", w, h)
	}
}

func TestDownscaleKeepsAspectRatio(t *testing.T) {
	data, mime, err := Downscale(bytes.NewReader(encodePNG(t, 400, 200)), 100)
	if err != nil {
		t.Fatalf("Downscale: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("expected image/png, got %s", mime)
	}

	w, h, err := GetDimensions(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if w != 100 || h != 50 {
		t.Errorf("expected 100x50, got %dx%d", w, h)
	}
}

func TestDownscaleLeavesSmallImages(t *testing.T) {
	data, _, err := Downscale(bytes.NewReader(encodePNG(t, 50, 40)), 100)
	if err != nil {
		t.Fatalf("Downscale: %v", err)
	}

	w, h, err := GetDimensions(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if w != 50 || h != 40 {
		t.Errorf("image narrower than the cap must keep its size, got %dx%d", w, h)
	}
}

func TestDownscaleJPEGStaysJPEG(t *testing.T) {
	_, mime, err := Downscale(bytes.NewReader(encodeJPEG(t, 300, 300)), 100)
	if err != nil {
		t.Fatalf("Downscale: %v", err)
	}
	if mime != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %s", mime)
	}
}

func TestProbeRemoteImage(t *testing.T) {
	fixture := encodePNG(t, 640, 480)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(fixture) //nolint:errcheck
	}))
	defer srv.Close()

	info, err := ProbeRemoteImage(context.Background(), srv.URL+"/fixture.png")
	if err != nil {
		t.Fatalf("ProbeRemoteImage: %v", err)
	}
	if info.Width != 640 || info.Height != 480 {
		t.Errorf("expected 640x480, got %dx%d", info.Width, info.Height)
	}
	if info.FileSize != int64(len(fixture)) {
		t.Errorf("expected file size %d, got %d", len(fixture), info.FileSize)
	}
}

func TestProbeRemoteImageUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := ProbeRemoteImage(context.Background(), srv.URL); err == nil {
		t.Error("expected an error for non-200 upstream")
	}
}
