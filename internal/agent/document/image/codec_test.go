package image

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetNRGBA(x, y, color.NRGBA{R: 255, A: 255})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{B: 255, A: 255})
			}
		}
	}
	return img
}

func TestCodec_EncodeRoundTrip(t *testing.T) {
	codec := NewCodec()
	src := checker(4, 3)

	for _, format := range []string{"png", "PNG", "bmp", "tiff"} {
		t.Run(format, func(t *testing.T) {
			data, err := codec.Encode(Normalize(src, format), format)
			require.NoError(t, err)

			decoded, err := imaging.Decode(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, src.Bounds(), decoded.Bounds())
			r, g, b, _ := decoded.At(0, 0).RGBA()
			assert.Equal(t, [3]uint32{0xffff, 0, 0}, [3]uint32{r, g, b})
		})
	}
}

func TestCodec_JPEGSignature(t *testing.T) {
	data, err := NewCodec(WithJPEGQuality(80)).Encode(Normalize(checker(8, 8), "jpg"), "jpg")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte{0xFF, 0xD8}))
}

func TestCodec_UnknownFormatFallsBackToPNG(t *testing.T) {
	data, err := NewCodec().Encode(checker(2, 2), "webp")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))
}

func TestKnown(t *testing.T) {
	assert.True(t, Known("png"))
	assert.True(t, Known("JPG"))
	assert.True(t, Known("tif"))
	assert.False(t, Known("webp"))
	assert.False(t, Known(""))
}

func TestParsePNGCompression(t *testing.T) {
	tests := map[string]png.CompressionLevel{
		"none":    png.NoCompression,
		"speed":   png.BestSpeed,
		"BEST":    png.BestCompression,
		"default": png.DefaultCompression,
		"":        png.DefaultCompression,
		"bogus":   png.DefaultCompression,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParsePNGCompression(in), in)
	}
}

func TestWithJPEGQuality_IgnoresOutOfRange(t *testing.T) {
	assert.Equal(t, 95, NewCodec(WithJPEGQuality(0)).jpegQuality)
	assert.Equal(t, 95, NewCodec(WithJPEGQuality(101)).jpegQuality)
	assert.Equal(t, 60, NewCodec(WithJPEGQuality(60)).jpegQuality)
	assert.Equal(t, png.BestSpeed, NewCodec(WithPNGCompression("speed")).pngCompression)
}
