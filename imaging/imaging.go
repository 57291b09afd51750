// Package imaging provides the raster utilities the pipeline needs before
// sending images to remote models: format detection, dimension capping for
// token cost, and byte-budget shrinking for validator payload limits.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	_ "image/gif" // register GIF decoding
)

// jpegQuality is the re-encode quality for lossy output.
const jpegQuality = 85

// DetectMIME sniffs the image format from magic bytes. Unknown data reports
// application/octet-stream.
func DetectMIME(data []byte) string {
	switch {
	case len(data) >= 8 && bytes.Equal(data[:8], []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}):
		return "image/png"
	case len(data) >= 3 && bytes.Equal(data[:3], []byte{0xff, 0xd8, 0xff}):
		return "image/jpeg"
	case len(data) >= 6 && (bytes.Equal(data[:6], []byte("GIF87a")) || bytes.Equal(data[:6], []byte("GIF89a"))):
		return "image/gif"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// lossless reports whether the MIME type is a lossless encoding we preserve
// across re-encodes.
func lossless(mime string) bool {
	return mime == "image/png" || mime == "image/gif"
}

// Downscale re-encodes the image so its longest side is at most maxDim
// pixels. Images already within the cap are returned unchanged. The returned
// MIME reflects the output encoding: lossless sources stay PNG, everything
// else becomes JPEG.
func Downscale(data []byte, maxDim int) ([]byte, string, error) {
	srcMIME := DetectMIME(data)

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxDim && h <= maxDim {
		return data, srcMIME, nil
	}

	scale := float64(maxDim) / float64(max(w, h))
	scaled := resample(img, int(float64(w)*scale), int(float64(h)*scale))

	return encode(scaled, srcMIME)
}

// FitBudget shrinks the image until its encoded size is at or under maxBytes,
// halving dimensions each pass. Lossless sources are re-encoded losslessly.
func FitBudget(data []byte, maxBytes int) ([]byte, string, error) {
	if len(data) <= maxBytes {
		return data, DetectMIME(data), nil
	}

	srcMIME := DetectMIME(data)
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for {
		encoded, mime, err := encode(img, srcMIME)
		if err != nil {
			return nil, "", err
		}
		if len(encoded) <= maxBytes {
			return encoded, mime, nil
		}

		w, h = w/2, h/2
		if w < 1 || h < 1 {
			return nil, "", fmt.Errorf("image cannot be reduced to %d bytes", maxBytes)
		}
		img = resample(img, w, h)
	}
}

func encode(img image.Image, srcMIME string) ([]byte, string, error) {
	var buf bytes.Buffer
	if lossless(srcMIME) {
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), "image/png", nil
	}
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), "image/jpeg", nil
}

// resample produces a w×h copy of img by nearest-neighbor sampling. Good
// enough for payload reduction; the remote models never see these pixels as
// the edit source.
func resample(img image.Image, w, h int) image.Image {
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	bounds := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		srcY := bounds.Min.Y + y*bounds.Dy()/h
		for x := 0; x < w; x++ {
			srcX := bounds.Min.X + x*bounds.Dx()/w
			out.Set(x, y, img.At(srcX, srcY))
		}
	}
	return out
}
