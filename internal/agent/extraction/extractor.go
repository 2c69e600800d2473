package extraction

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/feichai0017/pdf-image-extractor/internal/agent/document"
	docimage "github.com/feichai0017/pdf-image-extractor/internal/agent/document/image"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/metrics"
)

var (
	ErrMissingFormat   = errors.New("output format is required")
	ErrMissingBaseName = errors.New("archive base name is required")
)

// Request describes one extraction.
type Request struct {
	SourceSize      int64
	Format          string
	BaseName        string
	AllowDuplicates bool
}

// Report summarizes what happened to the pages and resources of a document.
type Report struct {
	Mode             Mode          `json:"mode"`
	Pages            int           `json:"pages"`
	PagesVisited     int           `json:"pagesVisited"`
	PagesFailed      int           `json:"pagesFailed"`
	Stopped          bool          `json:"stoppedEarly"`
	Images           int           `json:"images"`
	Duplicates       int           `json:"duplicates"`
	NonImages        int           `json:"nonImages"`
	ResourceFailures int           `json:"resourceFailures"`
	DigestFailures   int           `json:"digestFailures"`
	PageErrors       int           `json:"pageErrors"`
	Duration         time.Duration `json:"duration"`
}

// Result is the finished archive and its report.
type Result struct {
	Archive []byte
	Report  Report
}

// Extractor pulls every raster image out of a document into one zip archive.
type Extractor struct {
	encoder  Encoder
	digest   DigestFunc
	options  Options
	recorder metrics.Recorder
	logger   logger.Logger
}

type Option func(*Extractor)

func WithOptions(o Options) Option {
	return func(e *Extractor) {
		e.options = o
	}
}

func WithDigestFunc(f DigestFunc) Option {
	return func(e *Extractor) {
		e.digest = f
	}
}

func WithRecorder(r metrics.Recorder) Option {
	return func(e *Extractor) {
		e.recorder = r
	}
}

func NewExtractor(encoder Encoder, log logger.Logger, opts ...Option) *Extractor {
	e := &Extractor{
		encoder:  encoder,
		digest:   PixelDigest,
		options:  DefaultOptions(),
		recorder: metrics.NopRecorder{},
		logger:   log.Named("extractor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractImages returns the zip archive of all images in doc.
func (e *Extractor) ExtractImages(ctx context.Context, doc document.Document, sourceSize int64, format, baseName string, allowDuplicates bool) ([]byte, error) {
	res, err := e.Extract(ctx, doc, Request{
		SourceSize:      sourceSize,
		Format:          format,
		BaseName:        baseName,
		AllowDuplicates: allowDuplicates,
	})
	if err != nil {
		return nil, err
	}
	return res.Archive, nil
}

// Extract runs one extraction. It returns either a finalized archive or an
// error, never both.
func (e *Extractor) Extract(ctx context.Context, doc document.Document, req Request) (*Result, error) {
	if req.Format == "" {
		return nil, ErrMissingFormat
	}
	if req.BaseName == "" {
		return nil, ErrMissingBaseName
	}

	start := time.Now()
	log := logger.FromContext(ctx, e.logger).With(
		logger.String("baseName", req.BaseName),
		logger.String("format", req.Format),
	)

	pages, err := newPageIterator(doc, e.options.MaxConsecutiveFailures, log)
	if err != nil {
		e.recorder.ObserveExtraction("none", "failed", time.Since(start))
		return nil, err
	}

	if !docimage.Known(req.Format) {
		log.Warn("Unknown output format, images will be PNG encoded")
	}

	mode := e.options.SelectMode(req.SourceSize, pages.Total())
	log.Info("Starting image extraction",
		logger.String("mode", string(mode)),
		logger.Int("pages", pages.Total()),
		logger.Int64("size", req.SourceSize),
		logger.Bool("allowDuplicates", req.AllowDuplicates),
	)

	var buf bytes.Buffer
	sink := NewArchiveSink(&buf)
	job := &pageJob{
		format:   req.Format,
		baseName: req.BaseName,
		dedup:    !req.AllowDuplicates,
		digests:  NewDigestSet(),
		digest:   e.digest,
		sink:     sink,
		encoder:  e.encoder,
		logger:   log.Named("page"),
	}
	d := &dispatcher{workers: e.options.workers(), logger: log.Named("dispatcher")}

	results, err := d.run(ctx, mode, pages, job.run)
	if err != nil {
		log.Warn("Image extraction aborted", logger.Error(err))
		e.recorder.ObserveExtraction(string(mode), "aborted", time.Since(start))
		return nil, err
	}
	if err := sink.Close(); err != nil {
		log.Error("Failed to finalize archive", logger.Error(err))
		e.recorder.ObserveExtraction(string(mode), "failed", time.Since(start))
		return nil, err
	}

	report := summarize(mode, pages, results)
	report.Duration = time.Since(start)

	log.Info("Image extraction completed",
		logger.String("mode", string(mode)),
		logger.Int("pagesVisited", report.PagesVisited),
		logger.Int("pagesFailed", report.PagesFailed),
		logger.Bool("stoppedEarly", report.Stopped),
		logger.Int("images", report.Images),
		logger.Int("duplicates", report.Duplicates),
		logger.Int("resourceFailures", report.ResourceFailures),
		logger.Duration("duration", report.Duration),
	)
	e.recorder.ObserveExtraction(string(mode), "completed", report.Duration)
	e.recorder.AddImages("written", report.Images)
	e.recorder.AddImages("duplicate", report.Duplicates)
	e.recorder.AddImages("failed", report.ResourceFailures)
	e.recorder.AddPageFailures(report.PagesFailed + report.PageErrors)

	return &Result{Archive: buf.Bytes(), Report: report}, nil
}

func summarize(mode Mode, pages *pageIterator, results []PageResult) Report {
	report := Report{
		Mode:         mode,
		Pages:        pages.Total(),
		PagesVisited: len(results),
		PagesFailed:  pages.Failed(),
		Stopped:      pages.Stopped(),
	}
	for _, r := range results {
		report.Images += r.Written
		report.Duplicates += r.Duplicates
		report.NonImages += r.NonImages
		report.DigestFailures += r.DigestFailures
		report.ResourceFailures += len(r.Failures)
		if r.Err != nil {
			report.PageErrors++
		}
	}
	return report
}
