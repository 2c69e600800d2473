package image

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
)

// Codec encodes normalized images into the bytes of a named format.
type Codec struct {
	jpegQuality    int
	pngCompression png.CompressionLevel
}

type CodecOption func(*Codec)

// WithJPEGQuality sets the JPEG quality, 1..100.
func WithJPEGQuality(quality int) CodecOption {
	return func(c *Codec) {
		if quality >= 1 && quality <= 100 {
			c.jpegQuality = quality
		}
	}
}

// WithPNGCompression accepts "default", "none", "speed" or "best".
func WithPNGCompression(level string) CodecOption {
	return func(c *Codec) {
		c.pngCompression = ParsePNGCompression(level)
	}
}

func NewCodec(opts ...CodecOption) *Codec {
	c := &Codec{
		jpegQuality:    95,
		pngCompression: png.DefaultCompression,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParsePNGCompression maps a config string to a png.CompressionLevel.
func ParsePNGCompression(level string) png.CompressionLevel {
	switch strings.ToLower(level) {
	case "none":
		return png.NoCompression
	case "speed":
		return png.BestSpeed
	case "best":
		return png.BestCompression
	default:
		return png.DefaultCompression
	}
}

// Encode writes img in format. Formats imaging does not know (anything but
// jpg, jpeg, png, gif, tif, tiff and bmp) are written as PNG.
func (c *Codec) Encode(img image.Image, format string) ([]byte, error) {
	f, err := imaging.FormatFromExtension(strings.ToLower(format))
	if err != nil {
		f = imaging.PNG
	}

	var buf bytes.Buffer
	err = imaging.Encode(&buf, img, f,
		imaging.JPEGQuality(c.jpegQuality),
		imaging.PNGCompressionLevel(c.pngCompression),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s image: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Known reports whether format is encoded natively rather than through the PNG fallback.
func Known(format string) bool {
	_, err := imaging.FormatFromExtension(strings.ToLower(format))
	return err == nil
}
