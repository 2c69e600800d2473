package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/stretchr/testify/require"
)

// testPDF assembles small, well-formed PDF files object by object.
type testPDF struct {
	objects [][]byte
}

// reserve allocates an object number to be filled in later with set.
func (b *testPDF) reserve() int {
	b.objects = append(b.objects, nil)
	return len(b.objects)
}

func (b *testPDF) set(num int, body string) {
	b.objects[num-1] = []byte(body)
}

func (b *testPDF) add(body string) int {
	num := b.reserve()
	b.set(num, body)
	return num
}

func (b *testPDF) addStream(dict string, data []byte) int {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "<< %s /Length %d >>\nstream\n", dict, len(data))
	buf.Write(data)
	buf.WriteString("\nendstream")
	b.objects = append(b.objects, buf.Bytes())
	return len(b.objects)
}

func ref(num int) string {
	return fmt.Sprintf("%d 0 R", num)
}

// build writes header, objects, xref table and trailer. extraTrailer is
// inserted verbatim into the trailer dictionary.
func (b *testPDF) build(root int, extraTrailer string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")

	offsets := make([]int, len(b.objects))
	for i, obj := range b.objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n", i+1)
		buf.Write(obj)
		buf.WriteString("\nendobj\n")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(b.objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %s %s >>\n", len(b.objects)+1, ref(root), extraTrailer)
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xref)
	return buf.Bytes()
}

// singlePage builds a one page document whose XObject resources are given as
// name -> object number.
func singlePage(b *testPDF, xobjects map[string]int) []byte {
	var entries []string
	for name, num := range xobjects {
		entries = append(entries, fmt.Sprintf("/%s %s", name, ref(num)))
	}

	catalog := b.reserve()
	pages := b.reserve()
	page := b.add(fmt.Sprintf("<< /Type /Page /Parent %s /MediaBox [0 0 100 100] /Resources << /XObject << %s >> >> >>",
		ref(pages), strings.Join(entries, " ")))
	b.set(pages, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count 1 >>", ref(page)))
	b.set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %s >>", ref(pages)))
	return b.build(catalog, "")
}

// dictOf parses a dictionary literal by round-tripping it through a trailer entry.
func dictOf(t *testing.T, dict string) pdf.Value {
	t.Helper()
	b := &testPDF{}
	params := b.add(dict)
	catalog := b.reserve()
	pages := b.reserve()
	b.set(pages, "<< /Type /Pages /Kids [] /Count 0 >>")
	b.set(catalog, fmt.Sprintf("<< /Type /Catalog /Pages %s >>", ref(pages)))

	doc, err := Open(b.build(catalog, "/Params "+ref(params)))
	require.NoError(t, err)
	v := doc.reader.Trailer().Key("Params")
	require.Equal(t, pdf.Dict, v.Kind())
	return v
}
