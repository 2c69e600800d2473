package images

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/feichai0017/pdf-image-extractor/internal/agent/document"
	"github.com/feichai0017/pdf-image-extractor/internal/models"
	"github.com/feichai0017/pdf-image-extractor/pkg/queue"
)

// validPDF passes the upload validator; the fake loader never parses it.
const validPDF = "%PDF-1.4\n% fake body\n%%EOF\n"

type stubPage struct {
	images map[string]image.Image
}

func (p *stubPage) ImageResourceNames() []string {
	names := make([]string, 0, len(p.images))
	for _, n := range []string{"Im1", "Im2", "Im3"} {
		if _, ok := p.images[n]; ok {
			names = append(names, n)
		}
	}
	return names
}

func (p *stubPage) ResolveImage(name string) (image.Image, error) {
	img, ok := p.images[name]
	if !ok {
		return nil, document.ErrNotImage
	}
	return img, nil
}

type stubDoc struct {
	pages    []*stubPage
	countErr error
}

func (d *stubDoc) PageCount() (int, error) {
	if d.countErr != nil {
		return 0, d.countErr
	}
	return len(d.pages), nil
}

func (d *stubDoc) Page(index int) (document.Page, error) {
	if index < 0 || index >= len(d.pages) {
		return nil, fmt.Errorf("no page %d", index)
	}
	return d.pages[index], nil
}

func (d *stubDoc) Metadata() models.DocumentMetadata {
	return models.DocumentMetadata{Title: "Stub", Pages: len(d.pages)}
}

type stubLoader struct {
	doc document.Document
	err error
}

func (l *stubLoader) CanLoad(string) bool { return true }

func (l *stubLoader) Load(ctx context.Context, _ []byte) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.doc, l.err
}

type stubLoaders struct {
	loader document.Loader
}

func (p *stubLoaders) GetLoader(fileType string) (document.Loader, error) {
	if fileType != ".pdf" {
		return nil, fmt.Errorf("unsupported file type: %s", fileType)
	}
	return p.loader, nil
}

func solid(c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// twoPageDoc has three images, one of them a duplicate of another.
func twoPageDoc() *stubDoc {
	red := solid(color.RGBA{R: 255, A: 255})
	blue := solid(color.RGBA{B: 255, A: 255})
	return &stubDoc{pages: []*stubPage{
		{images: map[string]image.Image{"Im1": red, "Im2": blue}},
		{images: map[string]image.Image{"Im1": red}},
	}}
}

type memQueue struct {
	mu         sync.Mutex
	statuses   map[string]*queue.TaskStatus
	enqueued   []*queue.Task
	cancelled  []string
	enqueueErr error
}

func newMemQueue() *memQueue {
	return &memQueue{statuses: make(map[string]*queue.TaskStatus)}
}

func (q *memQueue) Enqueue(_ context.Context, task *queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.enqueued = append(q.enqueued, task)
	return nil
}

func (q *memQueue) GetTaskStatus(_ context.Context, taskID string) (*queue.TaskStatus, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	s, ok := q.statuses[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrTaskNotFound, taskID)
	}
	cp := *s
	return &cp, nil
}

func (q *memQueue) CancelTask(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.statuses[taskID]; !ok {
		return errors.New("no such task")
	}
	q.cancelled = append(q.cancelled, taskID)
	q.statuses[taskID].Status = string(models.StatusCancelled)
	return nil
}

func (q *memQueue) SaveFinalStatus(_ context.Context, status *queue.TaskStatus) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *status
	q.statuses[status.TaskID] = &cp
	return nil
}

func (q *memQueue) status(taskID string) string {
	q.mu.Lock()
	defer q.mu.Unlock()
	if s, ok := q.statuses[taskID]; ok {
		return s.Status
	}
	return ""
}
