package pdf

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/disintegration/imaging"
	"github.com/ledongthuc/pdf"
	"golang.org/x/image/ccitt"
)

// maxImagePixels bounds the allocation for a single decoded image.
const maxImagePixels = 1 << 28

type colorSpace struct {
	family     string // Gray, RGB, CMYK or Indexed
	components int
	base       *colorSpace
	hival      int
	lookup     []byte
}

func (d *Document) decodeImage(v pdf.Value) (image.Image, error) {
	data, codec, err := d.streamBytes(v)
	if err != nil {
		return nil, err
	}

	var img image.Image
	switch {
	case codec == nil:
		img, err = d.decodeSamples(v, data)
	case codec.name == "DCTDecode":
		img, err = jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			err = fmt.Errorf("failed to decode jpeg stream: %w", err)
		}
	case codec.name == "CCITTFaxDecode":
		img, err = decodeCCITT(v, codec.params, data)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedFilter, codec.name)
	}
	if err != nil {
		return nil, err
	}

	if smask := v.Key("SMask"); smask.Kind() == pdf.Stream {
		if masked, ok := d.applySoftMask(img, smask); ok {
			img = masked
		}
	}
	return img, nil
}

func imageDimensions(v pdf.Value) (int, int, error) {
	width := int(v.Key("Width").Int64())
	height := int(v.Key("Height").Int64())
	if width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid image dimensions %dx%d", width, height)
	}
	if int64(width)*int64(height) > maxImagePixels {
		return 0, 0, fmt.Errorf("image of %dx%d pixels is too large", width, height)
	}
	return width, height, nil
}

func (d *Document) parseColorSpace(cs pdf.Value) (*colorSpace, error) {
	switch cs.Kind() {
	case pdf.Name:
		switch cs.Name() {
		case "DeviceGray", "G", "CalGray":
			return &colorSpace{family: "Gray", components: 1}, nil
		case "DeviceRGB", "RGB", "CalRGB":
			return &colorSpace{family: "RGB", components: 3}, nil
		case "DeviceCMYK", "CMYK":
			return &colorSpace{family: "CMYK", components: 4}, nil
		}
		return nil, fmt.Errorf("unsupported color space %s", cs.Name())
	case pdf.Array:
		switch family := cs.Index(0).Name(); family {
		case "CalGray", "CalRGB", "DeviceGray", "DeviceRGB", "DeviceCMYK":
			return d.parseColorSpace(cs.Index(0))
		case "ICCBased":
			switch n := cs.Index(1).Key("N").Int64(); n {
			case 1:
				return &colorSpace{family: "Gray", components: 1}, nil
			case 3:
				return &colorSpace{family: "RGB", components: 3}, nil
			case 4:
				return &colorSpace{family: "CMYK", components: 4}, nil
			default:
				if alt := cs.Index(1).Key("Alternate"); !alt.IsNull() {
					return d.parseColorSpace(alt)
				}
				return nil, fmt.Errorf("unsupported ICC profile with %d components", n)
			}
		case "Indexed", "I":
			base, err := d.parseColorSpace(cs.Index(1))
			if err != nil {
				return nil, err
			}
			if base.family == "Indexed" {
				return nil, fmt.Errorf("nested indexed color space")
			}
			hival := int(cs.Index(2).Int64())
			if hival < 0 || hival > 255 {
				return nil, fmt.Errorf("invalid indexed hival %d", hival)
			}
			var lookup []byte
			switch l := cs.Index(3); l.Kind() {
			case pdf.String:
				lookup = []byte(l.RawString())
			case pdf.Stream:
				lookup, _, err = d.streamBytes(l)
				if err != nil {
					return nil, fmt.Errorf("failed to read color lookup table: %w", err)
				}
			default:
				return nil, fmt.Errorf("missing color lookup table")
			}
			return &colorSpace{family: "Indexed", components: 1, base: base, hival: hival, lookup: lookup}, nil
		case "Separation":
			// A single colorant: tint 1 is full ink, rendered as black.
			return &colorSpace{family: "Separation", components: 1}, nil
		default:
			return nil, fmt.Errorf("unsupported color space %s", family)
		}
	}
	return nil, fmt.Errorf("missing color space")
}

// decodeSamples builds an image from unfiltered sample data.
func (d *Document) decodeSamples(v pdf.Value, data []byte) (image.Image, error) {
	width, height, err := imageDimensions(v)
	if err != nil {
		return nil, err
	}

	isMask := v.Key("ImageMask").Kind() == pdf.Bool && v.Key("ImageMask").Bool()
	bpc := int(v.Key("BitsPerComponent").Int64())
	var cs *colorSpace
	if isMask {
		bpc = 1
		cs = &colorSpace{family: "Gray", components: 1}
	} else {
		cs, err = d.parseColorSpace(v.Key("ColorSpace"))
		if err != nil {
			return nil, err
		}
	}
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("unsupported bits per component %d", bpc)
	}

	rowLen := (width*cs.components*bpc + 7) / 8
	if need := rowLen * height; len(data) < need {
		// Short streams are padded rather than rejected.
		data = append(data, make([]byte, need-len(data))...)
	}

	invert := decodeInverted(v.Key("Decode"))
	if cs.family == "Separation" {
		invert = !invert
	}
	maxVal := (1 << bpc) - 1
	sample := func(row []byte, i int) int {
		switch bpc {
		case 8:
			return int(row[i])
		case 16:
			return int(row[2*i])<<8 | int(row[2*i+1])
		default:
			bit := i * bpc
			shift := 8 - bpc - bit%8
			return int(row[bit/8]>>shift) & maxVal
		}
	}
	scale := func(s int) uint8 {
		if invert {
			s = maxVal - s
		}
		return uint8(s * 255 / maxVal)
	}

	rect := image.Rect(0, 0, width, height)
	switch cs.family {
	case "Gray", "Separation":
		img := image.NewGray(rect)
		for y := 0; y < height; y++ {
			row := data[y*rowLen : (y+1)*rowLen]
			for x := 0; x < width; x++ {
				img.Pix[y*img.Stride+x] = scale(sample(row, x))
			}
		}
		return img, nil
	case "RGB":
		img := image.NewRGBA(rect)
		for y := 0; y < height; y++ {
			row := data[y*rowLen : (y+1)*rowLen]
			for x := 0; x < width; x++ {
				o := y*img.Stride + x*4
				img.Pix[o] = scale(sample(row, x*3))
				img.Pix[o+1] = scale(sample(row, x*3+1))
				img.Pix[o+2] = scale(sample(row, x*3+2))
				img.Pix[o+3] = 0xff
			}
		}
		return img, nil
	case "CMYK":
		img := image.NewCMYK(rect)
		for y := 0; y < height; y++ {
			row := data[y*rowLen : (y+1)*rowLen]
			for x := 0; x < width; x++ {
				o := y*img.Stride + x*4
				for c := 0; c < 4; c++ {
					img.Pix[o+c] = scale(sample(row, x*4+c))
				}
			}
		}
		return img, nil
	case "Indexed":
		img := image.NewPaletted(rect, cs.palette())
		for y := 0; y < height; y++ {
			row := data[y*rowLen : (y+1)*rowLen]
			for x := 0; x < width; x++ {
				idx := sample(row, x)
				if idx > cs.hival {
					idx = cs.hival
				}
				img.Pix[y*img.Stride+x] = uint8(idx)
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("unsupported color space %s", cs.family)
}

func (cs *colorSpace) palette() color.Palette {
	n := cs.base.components
	p := make(color.Palette, cs.hival+1)
	for i := range p {
		entry := make([]byte, n)
		if off := i * n; off < len(cs.lookup) {
			copy(entry, cs.lookup[off:])
		}
		switch cs.base.family {
		case "Gray":
			p[i] = color.Gray{Y: entry[0]}
		case "CMYK":
			p[i] = color.CMYK{C: entry[0], M: entry[1], Y: entry[2], K: entry[3]}
		default:
			p[i] = color.RGBA{R: entry[0], G: entry[1], B: entry[2], A: 0xff}
		}
	}
	return p
}

// decodeInverted reports a Decode array of the form [1 0 ...].
func decodeInverted(decode pdf.Value) bool {
	if decode.Kind() != pdf.Array || decode.Len() < 2 {
		return false
	}
	return decode.Index(0).Float64() == 1 && decode.Index(1).Float64() == 0
}

func decodeCCITT(v, params pdf.Value, data []byte) (image.Image, error) {
	width := intParam(params, "Columns", 1728)
	height := intParam(params, "Rows", 0)
	if height <= 0 {
		height = int(v.Key("Height").Int64())
	}
	if width <= 0 || height <= 0 || int64(width)*int64(height) > maxImagePixels {
		return nil, fmt.Errorf("invalid fax image dimensions %dx%d", width, height)
	}

	sf := ccitt.Group3
	if intParam(params, "K", 0) < 0 {
		sf = ccitt.Group4
	}
	opts := &ccitt.Options{
		Align: params.Key("EncodedByteAlign").Kind() == pdf.Bool && params.Key("EncodedByteAlign").Bool(),
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	if err := ccitt.DecodeIntoGray(img, bytes.NewReader(data), ccitt.MSB, sf, opts); err != nil {
		return nil, fmt.Errorf("failed to decode fax stream: %w", err)
	}
	if decodeInverted(v.Key("Decode")) {
		for i := range img.Pix {
			img.Pix[i] = 0xff - img.Pix[i]
		}
	}
	return img, nil
}

// applySoftMask uses a same-sized grayscale SMask as the alpha channel.
func (d *Document) applySoftMask(img image.Image, smask pdf.Value) (image.Image, bool) {
	mask, err := d.decodeImage(smask)
	if err != nil {
		return nil, false
	}
	if !mask.Bounds().Size().Eq(img.Bounds().Size()) {
		return nil, false
	}

	out := imaging.Clone(img)
	alpha := imaging.Clone(mask)
	for i := 3; i < len(out.Pix); i += 4 {
		// Gray masks clone to equal R, G and B; take R as the coverage.
		out.Pix[i] = alpha.Pix[i-3]
	}
	return out, true
}
