package extraction

import (
	"errors"
	"fmt"

	"github.com/feichai0017/pdf-image-extractor/internal/agent/document"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

// pageRef is a page that was materialized successfully.
type pageRef struct {
	index int
	page  document.Page
}

// number is the 1-based page number used in entry names.
func (r pageRef) number() int {
	return r.index + 1
}

// pageIterator walks pages 0..total-1 once. A page that cannot be loaded is
// skipped; maxFailures consecutive failures end the walk.
type pageIterator struct {
	doc         document.Document
	logger      logger.Logger
	total       int
	next        int
	consecutive int
	maxFailures int
	failed      int
	stopped     bool
}

func newPageIterator(doc document.Document, maxFailures int, log logger.Logger) (*pageIterator, error) {
	total, err := doc.PageCount()
	if err == nil && total < 0 {
		err = fmt.Errorf("negative page count %d", total)
	}
	if err != nil {
		log.Error("Failed to determine page count", logger.Error(err))
		if !errors.Is(err, document.ErrPageCount) {
			err = fmt.Errorf("%w: %w", document.ErrPageCount, err)
		}
		return nil, err
	}
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &pageIterator{
		doc:         doc,
		logger:      log,
		total:       total,
		maxFailures: maxFailures,
	}, nil
}

// Next returns the next accessible page, or false when the walk is over.
func (it *pageIterator) Next() (pageRef, bool) {
	for !it.stopped && it.next < it.total {
		index := it.next
		it.next++

		page, err := it.load(index)
		if err != nil {
			it.consecutive++
			it.failed++
			it.logger.Warn("Failed to load page, skipping",
				logger.Int("page", index+1),
				logger.Int("consecutiveFailures", it.consecutive),
				logger.Error(err),
			)
			if it.consecutive >= it.maxFailures {
				it.stopped = true
				it.logger.Error("Too many consecutive page failures, abandoning remaining pages",
					logger.Int("lastPage", index+1),
					logger.Int("remaining", it.total-it.next),
				)
			}
			continue
		}

		it.consecutive = 0
		return pageRef{index: index, page: page}, true
	}
	return pageRef{}, false
}

func (it *pageIterator) load(index int) (page document.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic loading page: %v", r)
		}
	}()
	page, err = it.doc.Page(index)
	if err == nil && page == nil {
		err = fmt.Errorf("page %d is missing", index+1)
	}
	return page, err
}

// Total is the page count reported by the document.
func (it *pageIterator) Total() int {
	return it.total
}

// Failed is the number of pages that could not be loaded.
func (it *pageIterator) Failed() int {
	return it.failed
}

// Stopped reports whether the walk ended early on consecutive failures.
func (it *pageIterator) Stopped() bool {
	return it.stopped
}
