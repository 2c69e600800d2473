package pdf

import (
	"bytes"
	"encoding/ascii85"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeASCIIHex(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []byte
		wantErr bool
	}{
		{name: "plain", in: "48656c6c6f>", want: []byte("Hello")},
		{name: "whitespace and case", in: "4 8\n65 6C>", want: []byte("Hel")},
		{name: "odd digit count pads with zero", in: "ABC>", want: []byte{0xAB, 0xC0}},
		{name: "missing terminator", in: "0102", want: []byte{1, 2}},
		{name: "data after terminator ignored", in: "01>zz", want: []byte{1}},
		{name: "invalid digit", in: "0G>", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeASCIIHex([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeASCII85(t *testing.T) {
	payload := []byte("raster bytes \x00\x01\x02")
	enc := make([]byte, ascii85.MaxEncodedLen(len(payload)))
	enc = enc[:ascii85.Encode(enc, payload)]

	got, err := decodeASCII85(append(append([]byte("<~"), enc...), "~>"...))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	got, err = decodeASCII85(append(enc, "~>\n"...))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestDecodeRunLength(t *testing.T) {
	// literal run of 3, repeat 'z' 4 times, EOD, trailing garbage
	in := []byte{2, 'a', 'b', 'c', 253, 'z', 128, 'x'}
	assert.Equal(t, []byte("abczzzz"), decodeRunLength(in))

	// truncated literal keeps what is there
	assert.Equal(t, []byte("ab"), decodeRunLength([]byte{5, 'a', 'b'}))
}

func TestApplyPredictor_PNG(t *testing.T) {
	rows := []byte{
		1, 10, 5, 5, // Sub
		2, 1, 1, 1, // Up
		3, 2, 2, 2, // Average
		4, 0, 0, 0, // Paeth
	}
	got, err := applyPredictor(rows, dictOf(t, "<< /Predictor 15 /Colors 1 /BitsPerComponent 8 /Columns 3 >>"))
	require.NoError(t, err)
	assert.Equal(t, []byte{
		10, 15, 20,
		11, 16, 21,
		7, 13, 19,
		7, 13, 19,
	}, got)
}

func TestApplyPredictor_TIFF(t *testing.T) {
	got, err := applyPredictor([]byte{1, 1, 1, 5, 0, 2},
		dictOf(t, "<< /Predictor 2 /Colors 1 /BitsPerComponent 8 /Columns 3 >>"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 5, 5, 7}, got)
}

func TestApplyPredictor_Errors(t *testing.T) {
	_, err := applyPredictor([]byte{9, 0}, dictOf(t, "<< /Predictor 10 /Columns 1 >>"))
	assert.Error(t, err)

	_, err = applyPredictor([]byte{0}, dictOf(t, "<< /Predictor 2 /BitsPerComponent 4 /Columns 2 >>"))
	assert.ErrorIs(t, err, ErrUnsupportedFilter)

	data := []byte{1, 2, 3}
	got, err := applyPredictor(data, dictOf(t, "<< /Predictor 1 >>"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestApplyFilter_Unknown(t *testing.T) {
	_, err := applyFilter([]byte{1}, filter{name: "LZWDecode"}, maxStreamBytes)
	assert.ErrorIs(t, err, ErrUnsupportedFilter)
}

func TestApplyFilter_RunLengthOverLimit(t *testing.T) {
	// a two byte run expands to 128 copies of 'z'
	_, err := applyFilter([]byte{129, 'z'}, filter{name: "RunLengthDecode"}, 100)
	assert.ErrorIs(t, err, ErrStreamTooLarge)

	out, err := applyFilter([]byte{129, 'z'}, filter{name: "RunLengthDecode"}, 128)
	require.NoError(t, err)
	assert.Len(t, out, 128)
}

func TestInflate_Invalid(t *testing.T) {
	_, err := inflate([]byte("not zlib"), maxStreamBytes)
	assert.Error(t, err)

	out, err := inflate(deflate(t, bytes.Repeat([]byte{7}, 64)), maxStreamBytes)
	require.NoError(t, err)
	assert.Len(t, out, 64)
}

func TestInflate_StopsAtLimit(t *testing.T) {
	// 4 MiB of zeros deflates to a few KiB
	bomb := deflate(t, make([]byte, 4<<20))
	require.Less(t, len(bomb), 64<<10)

	_, err := inflate(bomb, 1<<20)
	assert.ErrorIs(t, err, ErrStreamTooLarge)

	out, err := inflate(bomb, 4<<20)
	require.NoError(t, err)
	assert.Len(t, out, 4<<20)
}
