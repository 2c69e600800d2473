package extraction

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/feichai0017/pdf-image-extractor/internal/agent/document"
)

type fakeResource struct {
	name    string
	img     image.Image
	err     error
	panics  bool
	onFetch func()
}

type fakePage struct {
	resources []fakeResource
}

func (p *fakePage) ImageResourceNames() []string {
	names := make([]string, 0, len(p.resources))
	for _, r := range p.resources {
		names = append(names, r.name)
	}
	return names
}

func (p *fakePage) ResolveImage(name string) (image.Image, error) {
	for _, r := range p.resources {
		if r.name != name {
			continue
		}
		if r.onFetch != nil {
			r.onFetch()
		}
		if r.panics {
			panic("corrupt resource " + name)
		}
		return r.img, r.err
	}
	return nil, fmt.Errorf("no resource %s", name)
}

type fakeDoc struct {
	mu       sync.Mutex
	pages    []*fakePage
	count    int
	countErr error
	pageErrs map[int]error
	loaded   []int
}

func newFakeDoc(pages ...*fakePage) *fakeDoc {
	return &fakeDoc{pages: pages, count: len(pages), pageErrs: map[int]error{}}
}

func (d *fakeDoc) PageCount() (int, error) {
	return d.count, d.countErr
}

func (d *fakeDoc) Page(index int) (document.Page, error) {
	d.mu.Lock()
	d.loaded = append(d.loaded, index)
	d.mu.Unlock()

	if err, ok := d.pageErrs[index]; ok {
		return nil, err
	}
	if index >= len(d.pages) {
		return nil, errors.New("page out of range")
	}
	return d.pages[index], nil
}

func (d *fakeDoc) loadedPages() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.loaded...)
}

func solid(c color.Color, w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func imageRes(name string, c color.Color) fakeResource {
	return fakeResource{name: name, img: solid(c, 4, 3)}
}

// noisyRes is an image whose encoding does not compress well.
func noisyRes(name string, seed int64) fakeResource {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, 128, 128))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return fakeResource{name: name, img: img}
}

func formRes(name string) fakeResource {
	return fakeResource{name: name, err: document.ErrNotImage}
}

func brokenRes(name string) fakeResource {
	return fakeResource{name: name, err: errors.New("unsupported filter")}
}

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

func entryNames(t *testing.T, archive []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	require.NoError(t, err)

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

type failingEncoder struct{}

func (failingEncoder) Encode(image.Image, string) ([]byte, error) {
	return nil, errors.New("encoder exploded")
}

type recordedExtraction struct {
	mode, outcome string
}

type fakeRecorder struct {
	mu           sync.Mutex
	extractions  []recordedExtraction
	images       map[string]int
	pageFailures int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{images: map[string]int{}}
}

func (r *fakeRecorder) ObserveExtraction(mode, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractions = append(r.extractions, recordedExtraction{mode: mode, outcome: outcome})
}

func (r *fakeRecorder) AddImages(result string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[result] += n
}

func (r *fakeRecorder) AddPageFailures(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pageFailures += n
}
