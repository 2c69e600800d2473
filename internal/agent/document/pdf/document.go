package pdf

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/feichai0017/pdf-image-extractor/internal/agent/document"
	"github.com/feichai0017/pdf-image-extractor/internal/models"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

// ErrEncrypted is returned for image streams that would need to be read raw from an encrypted file.
var ErrEncrypted = errors.New("encrypted stream cannot be read raw")

// Loader opens PDF uploads for the extractor.
type Loader struct {
	logger logger.Logger
}

func NewLoader(logger logger.Logger) *Loader {
	return &Loader{
		logger: logger.Named("pdf"),
	}
}

func (l *Loader) CanLoad(mimeType string) bool {
	return mimeType == "application/pdf"
}

func (l *Loader) Load(ctx context.Context, data []byte) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := Open(data)
	if err != nil {
		l.logger.Error("Failed to open PDF",
			logger.Int("size", len(data)),
			logger.Error(err),
		)
		return nil, err
	}
	return doc, nil
}

// Document wraps a parsed PDF. The underlying reader only reads from an
// in-memory buffer, so pages may be resolved from several goroutines.
type Document struct {
	reader    *pdf.Reader
	data      []byte
	encrypted bool
}

// Open parses data as a PDF file.
func Open(data []byte) (*Document, error) {
	var r *pdf.Reader
	err := guard(func() error {
		var err error
		r, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	doc := &Document{
		reader: r,
		data:   data,
	}
	_ = guard(func() error {
		doc.encrypted = !r.Trailer().Key("Encrypt").IsNull()
		return nil
	})
	return doc, nil
}

// PageCount returns /Root/Pages/Count. A missing or non-integer count is an error
// rather than zero pages.
func (d *Document) PageCount() (int, error) {
	var count int
	err := guard(func() error {
		pages := d.reader.Trailer().Key("Root").Key("Pages")
		if pages.Kind() != pdf.Dict {
			return errors.New("document has no page tree")
		}
		c := pages.Key("Count")
		if c.Kind() != pdf.Integer {
			return fmt.Errorf("page tree count is %v", c)
		}
		if c.Int64() < 0 {
			return fmt.Errorf("negative page count %d", c.Int64())
		}
		count = int(c.Int64())
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", document.ErrPageCount, err)
	}
	return count, nil
}

// Page returns the page at the 0-based index.
func (d *Document) Page(index int) (document.Page, error) {
	if index < 0 {
		return nil, fmt.Errorf("invalid page index %d", index)
	}
	var page pdf.Page
	err := guard(func() error {
		page = d.reader.Page(index + 1)
		if page.V.IsNull() || page.V.Kind() != pdf.Dict {
			return fmt.Errorf("page %d not found in page tree", index+1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Page{doc: d, page: page, index: index}, nil
}

// Metadata reads the trailer Info dictionary.
func (d *Document) Metadata() models.DocumentMetadata {
	hash := sha256.Sum256(d.data)
	metadata := models.DocumentMetadata{
		FileSize:  int64(len(d.data)),
		Hash:      hex.EncodeToString(hash[:]),
		Encrypted: d.encrypted,
		CreatedAt: time.Now(),
	}
	if n, err := d.PageCount(); err == nil {
		metadata.Pages = n
	}

	_ = guard(func() error {
		info := d.reader.Trailer().Key("Info")
		if info.IsNull() {
			return nil
		}
		metadata.Title = info.Key("Title").Text()
		metadata.Author = info.Key("Author").Text()
		metadata.Producer = info.Key("Producer").Text()
		return nil
	})
	return metadata
}

// guard runs fn and turns a panic from the PDF library into an error. The
// library panics on malformed objects and on filters it does not implement.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("malformed pdf: %w", e)
				return
			}
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()
	return fn()
}
