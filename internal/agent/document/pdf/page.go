package pdf

import (
	"fmt"
	"image"

	"github.com/ledongthuc/pdf"

	"github.com/feichai0017/pdf-image-extractor/internal/agent/document"
)

// Page is one page of a Document. Resources are inherited from parent page tree nodes.
type Page struct {
	doc   *Document
	page  pdf.Page
	index int
}

// ImageResourceNames lists the XObject names of the page in sorted order.
func (p *Page) ImageResourceNames() []string {
	var names []string
	_ = guard(func() error {
		xobjects := p.page.Resources().Key("XObject")
		if xobjects.Kind() != pdf.Dict {
			return nil
		}
		names = xobjects.Keys()
		return nil
	})
	return names
}

// ResolveImage decodes the named XObject. Form XObjects and anything else that is
// not an image stream yield document.ErrNotImage.
func (p *Page) ResolveImage(name string) (image.Image, error) {
	var xobj pdf.Value
	err := guard(func() error {
		xobj = p.page.Resources().Key("XObject").Key(name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if xobj.Kind() != pdf.Stream {
		return nil, document.ErrNotImage
	}
	if subtype := xobj.Key("Subtype").Name(); subtype != "Image" {
		return nil, document.ErrNotImage
	}

	var img image.Image
	err = guard(func() error {
		var err error
		img, err = p.doc.decodeImage(xobj)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("page %d resource %s: %w", p.index+1, name, err)
	}
	return img, nil
}
