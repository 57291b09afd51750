package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noisyImage returns an incompressible test image so encoded sizes track
// pixel count.
func noisyImage(w, h int) image.Image {
	rng := rand.New(rand.NewSource(1))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(rng.Intn(256)),
				G: uint8(rng.Intn(256)),
				B: uint8(rng.Intn(256)),
				A: 255,
			})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestDetectMIME(t *testing.T) {
	pngData := encodePNG(t, noisyImage(4, 4))
	jpegData := encodeJPEG(t, noisyImage(4, 4))

	assert.Equal(t, "image/png", DetectMIME(pngData))
	assert.Equal(t, "image/jpeg", DetectMIME(jpegData))
	assert.Equal(t, "image/gif", DetectMIME([]byte("GIF89a-rest")))
	assert.Equal(t, "image/webp", DetectMIME([]byte("RIFF0000WEBPVP8 ")))
	assert.Equal(t, "application/octet-stream", DetectMIME([]byte("not an image")))
}

func TestDownscaleWithinCapUnchanged(t *testing.T) {
	data := encodePNG(t, noisyImage(64, 32))

	out, mime, err := Downscale(data, 100)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.Equal(t, "image/png", mime)
}

func TestDownscaleCapsLongestSide(t *testing.T) {
	data := encodePNG(t, noisyImage(200, 100))

	out, mime, err := Downscale(data, 50)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime, "lossless source stays lossless")

	img, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 25, img.Bounds().Dy())
}

func TestDownscaleLossySourceBecomesJPEG(t *testing.T) {
	data := encodeJPEG(t, noisyImage(200, 200))

	_, mime, err := Downscale(data, 50)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)
}

func TestFitBudget(t *testing.T) {
	data := encodePNG(t, noisyImage(256, 256))
	budget := len(data) / 4

	out, mime, err := FitBudget(data, budget)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(out), budget)
	assert.Equal(t, "image/png", mime)

	// Already small enough: returned as-is.
	same, _, err := FitBudget(data, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, same)
}

func TestFitBudgetImpossible(t *testing.T) {
	data := encodePNG(t, noisyImage(16, 16))

	_, _, err := FitBudget(data, 10)
	assert.Error(t, err)
}

func TestDownscaleRejectsGarbage(t *testing.T) {
	_, _, err := Downscale([]byte("garbage"), 100)
	assert.Error(t, err)
}
