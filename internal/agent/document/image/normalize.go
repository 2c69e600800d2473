package image

import (
	"image"
	"image/color"
	"image/color/palette"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Normalize converts img into the pixel layout the encoder for format expects.
// The result always has its origin at (0,0) and the same size as img.
//
//	png        -> *image.NRGBA, alpha kept
//	jpeg, jpg  -> *image.RGBA, opaque (composited over black)
//	gif        -> *image.Paletted (Plan 9 palette)
//	other      -> *image.RGBA, opaque
func Normalize(img image.Image, format string) image.Image {
	switch strings.ToLower(format) {
	case "png":
		return imaging.Clone(img)
	case "jpeg", "jpg":
		return toOpaqueRGB(img)
	case "gif":
		return toPaletted(img)
	default:
		return toOpaqueRGB(img)
	}
}

func toOpaqueRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	rect := image.Rect(0, 0, b.Dx(), b.Dy())
	dst := image.NewRGBA(rect)
	draw.Draw(dst, rect, image.NewUniform(color.Black), image.Point{}, draw.Src)
	draw.Draw(dst, rect, img, b.Min, draw.Over)
	return dst
}

func toPaletted(img image.Image) *image.Paletted {
	if p, ok := img.(*image.Paletted); ok && p.Rect.Min == (image.Point{}) && len(p.Palette) <= 256 && p.Opaque() {
		return p
	}
	opaque := toOpaqueRGB(img)
	dst := image.NewPaletted(opaque.Rect, palette.Plan9)
	draw.Draw(dst, opaque.Rect, opaque, image.Point{}, draw.Src)
	return dst
}
