package extraction

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/feichai0017/pdf-image-extractor/internal/agent/document"
	docimage "github.com/feichai0017/pdf-image-extractor/internal/agent/document/image"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

// ErrImageExtraction wraps every failure confined to a single image resource.
var ErrImageExtraction = errors.New("image extraction failure")

// Encoder turns a normalized image into the bytes of format.
type Encoder interface {
	Encode(img image.Image, format string) ([]byte, error)
}

// Stage names the step at which a resource failed.
type Stage string

const (
	StageDecode Stage = "decode"
	StageEncode Stage = "encode"
	StageWrite  Stage = "write"
)

type ResourceFailure struct {
	Resource string
	Stage    Stage
	Err      error
}

// PageResult is what one page task reports back to the dispatcher.
type PageResult struct {
	Page           int
	Written        int
	Duplicates     int
	NonImages      int
	DigestFailures int
	Failures       []ResourceFailure
	// Err is set when the task itself failed (panic or cancellation).
	Err error
}

// EntryName formats the archive name of the ordinal-th image written for page.
func EntryName(baseName string, page, ordinal int, format string) string {
	return fmt.Sprintf("%s_page_%d_%d.%s", baseName, page, ordinal, format)
}

type outcome int

const (
	outcomeWritten outcome = iota
	outcomeDuplicate
	outcomeNotImage
	outcomeFailed
)

// pageJob holds what every page task of one extraction shares.
type pageJob struct {
	format   string
	baseName string
	dedup    bool
	digests  *DigestSet
	digest   DigestFunc
	sink     entrySink
	encoder  Encoder
	logger   logger.Logger
}

// run extracts the images of one page. The ordinal only advances for written
// entries, so names on a page are dense: _1, _2, ...
func (j *pageJob) run(ctx context.Context, ref pageRef) PageResult {
	result := PageResult{Page: ref.number()}
	log := j.logger.With(logger.Int("page", result.Page))

	names := ref.page.ImageResourceNames()
	if len(names) == 0 {
		return result
	}
	log.Debug("Extracting page images", logger.Strings("resources", names))

	ordinal := 1
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}

		out, digestFailed, stage, err := j.extractResource(ref.page, name, result.Page, ordinal)
		if digestFailed {
			result.DigestFailures++
		}
		switch out {
		case outcomeWritten:
			ordinal++
			result.Written++
		case outcomeDuplicate:
			result.Duplicates++
			log.Debug("Skipping duplicate image", logger.String("resource", name))
		case outcomeNotImage:
			result.NonImages++
		case outcomeFailed:
			err = fmt.Errorf("%w: %w", ErrImageExtraction, err)
			result.Failures = append(result.Failures, ResourceFailure{Resource: name, Stage: stage, Err: err})
			log.Warn("Failed to extract image",
				logger.String("resource", name),
				logger.String("stage", string(stage)),
				logger.Error(err),
			)
		}
	}
	return result
}

func (j *pageJob) extractResource(page document.Page, name string, pageNumber, ordinal int) (out outcome, digestFailed bool, stage Stage, err error) {
	stage = StageDecode
	defer func() {
		if r := recover(); r != nil {
			out, err = outcomeFailed, fmt.Errorf("panic: %v", r)
		}
	}()

	img, err := page.ResolveImage(name)
	if errors.Is(err, document.ErrNotImage) {
		return outcomeNotImage, false, stage, nil
	}
	if err != nil {
		return outcomeFailed, false, stage, err
	}
	if img == nil {
		return outcomeFailed, false, stage, errors.New("decoder returned no image")
	}

	if j.dedup {
		d, derr := j.digest(img)
		if derr != nil {
			// Without a digest the image cannot be compared; keep it.
			digestFailed = true
			j.logger.Warn("Failed to digest image, writing it without deduplication",
				logger.Int("page", pageNumber),
				logger.String("resource", name),
				logger.Error(derr),
			)
		} else if !j.digests.CheckAndInsert(d) {
			return outcomeDuplicate, false, stage, nil
		}
	}

	stage = StageEncode
	data, err := j.encoder.Encode(docimage.Normalize(img, j.format), j.format)
	if err != nil {
		return outcomeFailed, digestFailed, stage, err
	}

	stage = StageWrite
	if err := j.sink.WriteEntry(EntryName(j.baseName, pageNumber, ordinal, j.format), data); err != nil {
		return outcomeFailed, digestFailed, stage, err
	}
	return outcomeWritten, digestFailed, stage, nil
}
