package pdf

import (
	"bytes"
	"encoding/ascii85"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/ledongthuc/pdf"
)

var (
	// ErrUnsupportedFilter marks streams encoded with a filter this package cannot undo.
	ErrUnsupportedFilter = errors.New("unsupported stream filter")
	ErrStreamTooLarge    = errors.New("decoded stream exceeds its size limit")
)

// maxStreamBytes bounds decoded streams whose size cannot be derived from
// their dictionary (ICC profiles, lookup tables ...).
const maxStreamBytes = 256 << 20

// maxComponents is the widest pixel streamLimit allows for, DeviceN with
// eight colorants.
const maxComponents = 8

type filter struct {
	name   string
	params pdf.Value
}

var filterAbbreviations = map[string]string{
	"AHx": "ASCIIHexDecode",
	"A85": "ASCII85Decode",
	"Fl":  "FlateDecode",
	"RL":  "RunLengthDecode",
	"LZW": "LZWDecode",
	"DCT": "DCTDecode",
	"CCF": "CCITTFaxDecode",
}

func isImageCodec(name string) bool {
	switch name {
	case "DCTDecode", "CCITTFaxDecode", "JPXDecode", "JBIG2Decode":
		return true
	}
	return false
}

func streamFilters(v pdf.Value) []filter {
	names := v.Key("Filter")
	params := v.Key("DecodeParms")
	if params.IsNull() {
		params = v.Key("DP")
	}

	canonical := func(n string) string {
		if full, ok := filterAbbreviations[n]; ok {
			return full
		}
		return n
	}

	switch names.Kind() {
	case pdf.Name:
		p := params
		if p.Kind() == pdf.Array {
			p = p.Index(0)
		}
		return []filter{{name: canonical(names.Name()), params: p}}
	case pdf.Array:
		filters := make([]filter, 0, names.Len())
		for i := 0; i < names.Len(); i++ {
			var p pdf.Value
			if params.Kind() == pdf.Array {
				p = params.Index(i)
			} else if names.Len() == 1 {
				p = params
			}
			filters = append(filters, filter{name: canonical(names.Index(i).Name()), params: p})
		}
		return filters
	}
	return nil
}

// streamBytes returns the data of v with every generic filter undone. When the
// last filter is an image codec (DCT, CCITT ...) the data is still encoded with
// it and that filter is returned for the caller to decode.
func (d *Document) streamBytes(v pdf.Value) ([]byte, *filter, error) {
	filters := streamFilters(v)

	var codec *filter
	if n := len(filters); n > 0 && isImageCodec(filters[n-1].name) {
		codec = &filters[n-1]
		filters = filters[:n-1]
	}
	for _, f := range filters {
		if isImageCodec(f.name) {
			return nil, nil, fmt.Errorf("%w: %s is not the last filter", ErrUnsupportedFilter, f.name)
		}
	}

	if d.encrypted {
		// The library decrypts, but only knows Flate and ASCII85 and no image codecs.
		if codec != nil {
			return nil, nil, fmt.Errorf("%w: %s", ErrEncrypted, codec.name)
		}
		data, err := readStream(v, streamLimit(v))
		return data, nil, err
	}

	data, err := d.rawStream(v)
	if err != nil {
		return nil, nil, err
	}
	limit := streamLimit(v)
	for _, f := range filters {
		data, err = applyFilter(data, f, limit)
		if err != nil {
			return nil, nil, err
		}
	}
	return data, codec, nil
}

// rawStream slices the undecoded bytes of a stream out of the file. The library
// does not expose stream offsets, but formats stream values as "<<dict>>@offset".
func (d *Document) rawStream(v pdf.Value) ([]byte, error) {
	s := v.String()
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return nil, fmt.Errorf("cannot locate stream data")
	}
	offset, err := strconv.ParseInt(s[at+1:], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot locate stream data: %w", err)
	}
	length := v.Key("Length").Int64()
	if offset < 0 || length < 0 || offset > int64(len(d.data)) {
		return nil, fmt.Errorf("stream at %d with length %d is out of range", offset, length)
	}
	end := offset + length
	if end > int64(len(d.data)) {
		end = int64(len(d.data))
	}
	return d.data[offset:end], nil
}

// streamLimit is the largest decoded size v may have. Image streams are
// bounded by their declared dimensions, one predictor byte per row included.
func streamLimit(v pdf.Value) int64 {
	w, h := v.Key("Width").Int64(), v.Key("Height").Int64()
	if w <= 0 || h <= 0 || w*h > maxImagePixels {
		return maxStreamBytes
	}
	bpc := v.Key("BitsPerComponent").Int64()
	if bpc <= 0 || bpc > 16 {
		bpc = 16
	}
	row := (w*maxComponents*bpc+7)/8 + 1
	return row * h
}

func readStream(v pdf.Value, limit int64) ([]byte, error) {
	var data []byte
	err := guard(func() error {
		rc := v.Reader()
		defer rc.Close()
		var err error
		data, err = io.ReadAll(io.LimitReader(rc, limit+1))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrStreamTooLarge, limit)
	}
	return data, nil
}

func applyFilter(data []byte, f filter, limit int64) ([]byte, error) {
	var (
		out []byte
		err error
	)
	switch f.name {
	case "FlateDecode":
		out, err = inflate(data, limit)
		if err != nil {
			return nil, err
		}
		out, err = applyPredictor(out, f.params)
	case "ASCII85Decode":
		out, err = decodeASCII85(data)
	case "ASCIIHexDecode":
		out, err = decodeASCIIHex(data)
	case "RunLengthDecode":
		out = decodeRunLength(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, f.name)
	}
	if err != nil {
		return nil, err
	}
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: %s produced %d bytes", ErrStreamTooLarge, f.name, len(out))
	}
	return out, nil
}

// inflate decompresses a zlib stream, reading at most limit bytes of output.
func inflate(data []byte, limit int64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to inflate stream: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(io.LimitReader(zr, limit+1))
	if int64(len(out)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrStreamTooLarge, limit)
	}
	if err != nil {
		// Truncated streams are common; keep what was inflated.
		if len(out) > 0 && (errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)) {
			return out, nil
		}
		return nil, fmt.Errorf("failed to inflate stream: %w", err)
	}
	return out, nil
}

func decodeASCII85(data []byte) ([]byte, error) {
	data = bytes.TrimSpace(data)
	data = bytes.TrimPrefix(data, []byte("<~"))
	if i := bytes.Index(data, []byte("~>")); i >= 0 {
		data = data[:i]
	}
	out, err := io.ReadAll(ascii85.NewDecoder(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ascii85: %w", err)
	}
	return out, nil
}

func decodeASCIIHex(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data)/2)
	var hi byte
	half := false
	for _, c := range data {
		var n byte
		switch {
		case c >= '0' && c <= '9':
			n = c - '0'
		case c >= 'a' && c <= 'f':
			n = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			n = c - 'A' + 10
		case c == '>':
			if half {
				out = append(out, hi<<4)
			}
			return out, nil
		case c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0:
			continue
		default:
			return nil, fmt.Errorf("invalid hex digit %q", c)
		}
		if half {
			out = append(out, hi<<4|n)
			half = false
		} else {
			hi = n
			half = true
		}
	}
	if half {
		out = append(out, hi<<4)
	}
	return out, nil
}

func decodeRunLength(data []byte) []byte {
	var out []byte
	for i := 0; i < len(data); {
		n := int(data[i])
		i++
		switch {
		case n == 128:
			return out
		case n < 128:
			end := i + n + 1
			if end > len(data) {
				end = len(data)
			}
			out = append(out, data[i:end]...)
			i = end
		default:
			if i >= len(data) {
				return out
			}
			for k := 0; k < 257-n; k++ {
				out = append(out, data[i])
			}
			i++
		}
	}
	return out
}

func intParam(params pdf.Value, key string, fallback int) int {
	v := params.Key(key)
	if v.Kind() != pdf.Integer {
		return fallback
	}
	return int(v.Int64())
}

// applyPredictor undoes TIFF (2) and PNG (10-15) predictors.
func applyPredictor(data []byte, params pdf.Value) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	if predictor <= 1 {
		return data, nil
	}
	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)
	columns := intParam(params, "Columns", 1)
	if colors < 1 || bpc < 1 || columns < 1 {
		return nil, fmt.Errorf("invalid predictor parameters")
	}

	bpp := (colors*bpc + 7) / 8
	rowLen := (colors*bpc*columns + 7) / 8

	if predictor == 2 {
		if bpc != 8 {
			return nil, fmt.Errorf("%w: tiff predictor with %d bits per component", ErrUnsupportedFilter, bpc)
		}
		out := append([]byte(nil), data...)
		for row := 0; row+rowLen <= len(out); row += rowLen {
			for i := bpp; i < rowLen; i++ {
				out[row+i] += out[row+i-bpp]
			}
		}
		return out, nil
	}
	if predictor < 10 {
		return nil, fmt.Errorf("%w: predictor %d", ErrUnsupportedFilter, predictor)
	}

	out := make([]byte, 0, len(data))
	prev := make([]byte, rowLen)
	for off := 0; off < len(data); off += rowLen + 1 {
		kind := data[off]
		cur := make([]byte, rowLen)
		end := off + 1 + rowLen
		if end > len(data) {
			end = len(data)
		}
		copy(cur, data[off+1:end])

		for i := 0; i < rowLen; i++ {
			var left, upLeft byte
			if i >= bpp {
				left = cur[i-bpp]
				upLeft = prev[i-bpp]
			}
			up := prev[i]
			switch kind {
			case 0:
			case 1:
				cur[i] += left
			case 2:
				cur[i] += up
			case 3:
				cur[i] += byte((int(left) + int(up)) / 2)
			case 4:
				cur[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("invalid png predictor row type %d", kind)
			}
		}
		out = append(out, cur...)
		prev = cur
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	switch {
	case pa <= pb && pa <= pc:
		return a
	case pb <= pc:
		return b
	default:
		return c
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
