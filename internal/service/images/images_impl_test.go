package images

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/pdf-image-extractor/internal/agent/document"
	"github.com/feichai0017/pdf-image-extractor/internal/agent/document/image"
	"github.com/feichai0017/pdf-image-extractor/internal/agent/extraction"
	"github.com/feichai0017/pdf-image-extractor/internal/models"
	"github.com/feichai0017/pdf-image-extractor/internal/utils/validator"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/queue"
	"github.com/feichai0017/pdf-image-extractor/pkg/storage"
	"github.com/feichai0017/pdf-image-extractor/pkg/storage/local"
)

type fixture struct {
	svc   *ImageService
	queue *memQueue
	store *local.LocalStorage
	root  string
	log   *logger.TestLogger
}

func newFixture(t *testing.T, loader document.Loader, async bool) *fixture {
	t.Helper()
	log := logger.NewTestLogger()
	f := &fixture{log: log}

	extractor := extraction.NewExtractor(image.NewCodec(), log)
	v := validator.NewUploadValidator(log, nil)

	var (
		q     queue.Queue
		store storage.Storage
	)
	if async {
		f.root = t.TempDir()
		ls, err := local.NewLocalStorage(f.root, log)
		require.NoError(t, err)
		f.store = ls
		f.queue = newMemQueue()
		q, store = f.queue, ls
	}

	f.svc = NewService(&stubLoaders{loader: loader}, extractor, v, q, store, log, nil)
	return f
}

func archiveNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestBaseName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":             "report",
		"dir/sub/report.pdf":     "report",
		`C:\scans\annual.v2.pdf`: "annual.v2",
		"noext":                  "noext",
		".pdf":                   "document",
		"":                       "document",
	}
	for in, want := range tests {
		assert.Equal(t, want, BaseName(in), in)
	}
	assert.Equal(t, "report_extracted-images.zip", ArchiveFileName("report"))
}

func TestExtractImages_Sync(t *testing.T) {
	f := newFixture(t, &stubLoader{doc: twoPageDoc()}, false)

	archive, err := f.svc.ExtractImages(context.Background(), "uploads/report.pdf", []byte(validPDF), models.ExtractOptions{})
	require.NoError(t, err)

	assert.Equal(t, "report_extracted-images.zip", archive.FileName)
	assert.Equal(t, 2, archive.ImageCount)
	assert.Equal(t, string(extraction.ModeSequential), archive.Mode)
	assert.Equal(t, []string{"report_page_1_1.png", "report_page_1_2.png"}, archiveNames(t, archive.Data))
	assert.True(t, f.log.Contains("Document loaded"))
}

func TestExtractImages_FormatCaseKeptAndDuplicatesAllowed(t *testing.T) {
	f := newFixture(t, &stubLoader{doc: twoPageDoc()}, false)

	archive, err := f.svc.ExtractImages(context.Background(), "scan.pdf", []byte(validPDF),
		models.ExtractOptions{Format: " JPG ", AllowDuplicates: true})
	require.NoError(t, err)

	assert.Equal(t, 3, archive.ImageCount)
	assert.Equal(t, []string{"scan_page_1_1.JPG", "scan_page_1_2.JPG", "scan_page_2_1.JPG"}, archiveNames(t, archive.Data))
}

func TestExtractImages_UppercasePNGKeepsExtension(t *testing.T) {
	f := newFixture(t, &stubLoader{doc: twoPageDoc()}, false)

	archive, err := f.svc.ExtractImages(context.Background(), "scan.pdf", []byte(validPDF),
		models.ExtractOptions{Format: "PNG"})
	require.NoError(t, err)

	names := archiveNames(t, archive.Data)
	require.NotEmpty(t, names)
	for _, name := range names {
		assert.True(t, strings.HasSuffix(name, ".PNG"), name)
	}
}

func TestExtractImages_Errors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		loader   *stubLoader
		filename string
		data     string
		opts     models.ExtractOptions
		want     error
	}{
		{"not a pdf", &stubLoader{doc: twoPageDoc()}, "a.pdf", "plain text", models.ExtractOptions{}, ErrValidation},
		{"bad format", &stubLoader{doc: twoPageDoc()}, "a.pdf", validPDF, models.ExtractOptions{Format: "../png"}, ErrValidation},
		{"unparseable", &stubLoader{err: errors.New("xref broken")}, "a.pdf", validPDF, models.ExtractOptions{}, ErrUnreadableDocument},
		{"no page count", &stubLoader{doc: &stubDoc{countErr: document.ErrPageCount}}, "a.pdf", validPDF, models.ExtractOptions{}, ErrUnreadableDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.loader, false)
			_, err := f.svc.ExtractImages(ctx, tt.filename, []byte(tt.data), tt.opts)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestExtractImages_Cancelled(t *testing.T) {
	f := newFixture(t, &stubLoader{doc: twoPageDoc()}, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.ExtractImages(ctx, "a.pdf", []byte(validPDF), models.ExtractOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnreadableDocument)
}

func TestAsyncUnavailable(t *testing.T) {
	f := newFixture(t, &stubLoader{doc: twoPageDoc()}, false)
	ctx := context.Background()

	assert.False(t, f.svc.AsyncEnabled())
	_, err := f.svc.SubmitExtraction(ctx, "a.pdf", []byte(validPDF), models.ExtractOptions{})
	assert.ErrorIs(t, err, ErrAsyncUnavailable)
	_, err = f.svc.GetExtractionStatus(ctx, "x")
	assert.ErrorIs(t, err, ErrAsyncUnavailable)
	assert.ErrorIs(t, f.svc.CancelTask(ctx, "x"), ErrAsyncUnavailable)
	assert.ErrorIs(t, f.svc.CleanupTasks(ctx), ErrAsyncUnavailable)
	assert.ErrorIs(t, f.svc.HandleExtraction(ctx, &queue.Task{ID: "x"}), ErrAsyncUnavailable)
}

func TestSubmitAndHandleExtraction(t *testing.T) {
	f := newFixture(t, &stubLoader{doc: twoPageDoc()}, true)
	ctx := context.Background()

	task, err := f.svc.SubmitExtraction(ctx, "report.pdf", []byte(validPDF), models.ExtractOptions{Format: "png"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, "report", task.Metadata["baseName"])
	assert.Equal(t, "false", task.Metadata["allowDuplicates"])
	assert.Equal(t, "pending", f.queue.status(task.ID))

	require.Len(t, f.queue.enqueued, 1)
	queued := f.queue.enqueued[0]
	assert.Equal(t, storage.UploadKey(task.ID), queued.Payload["fileId"])
	assert.Equal(t, queue.TaskTypeImageExtract, queued.Type)

	_, err = f.svc.GetExtractionSummary(ctx, task.ID)
	assert.ErrorIs(t, err, ErrTaskNotCompleted)

	require.NoError(t, f.svc.HandleExtraction(ctx, queued))
	assert.Equal(t, "completed", f.queue.status(task.ID))

	status, err := f.svc.GetExtractionStatus(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, 1.0, status.Progress)

	summary, err := f.svc.GetExtractionSummary(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.ID, summary.TaskID)
	assert.Equal(t, "report_extracted-images.zip", summary.ArchiveName)
	assert.Equal(t, 2, summary.Report.Images)
	assert.Equal(t, 1, summary.Report.Duplicates)
	assert.Equal(t, "Stub", summary.Document.Title)
	require.Len(t, summary.Entries, 2)
	assert.Equal(t, "report_page_1_1.png", summary.Entries[0].Name)

	rc, name, err := f.svc.OpenArchive(ctx, task.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "report_extracted-images.zip", name)
	assert.Equal(t, []string{"report_page_1_1.png", "report_page_1_2.png"}, archiveNames(t, data))
}

func TestSubmitExtraction_EnqueueFailureRemovesUpload(t *testing.T) {
	f := newFixture(t, &stubLoader{doc: twoPageDoc()}, true)
	f.queue.enqueueErr = errors.New("redis down")

	_, err := f.svc.SubmitExtraction(context.Background(), "a.pdf", []byte(validPDF), models.ExtractOptions{})
	require.Error(t, err)

	entries, err := os.ReadDir(filepath.Join(f.root, "uploads"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleExtraction_FailureIsRecorded(t *testing.T) {
	f := newFixture(t, &stubLoader{err: errors.New("xref broken")}, true)
	ctx := context.Background()

	task, err := f.svc.SubmitExtraction(ctx, "a.pdf", []byte(validPDF), models.ExtractOptions{})
	require.NoError(t, err)

	err = f.svc.HandleExtraction(ctx, f.queue.enqueued[0])
	assert.ErrorIs(t, err, ErrUnreadableDocument)
	assert.Equal(t, "failed", f.queue.status(task.ID))

	_, _, err = f.svc.OpenArchive(ctx, task.ID)
	assert.ErrorIs(t, err, ErrTaskNotCompleted)
}

func TestHandleExtraction_InvalidTask(t *testing.T) {
	f := newFixture(t, &stubLoader{doc: twoPageDoc()}, true)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.HandleExtraction(ctx, nil), ErrValidation)
	assert.ErrorIs(t, f.svc.HandleExtraction(ctx, &queue.Task{
		ID:       "t1",
		Payload:  map[string]interface{}{},
		Metadata: map[string]string{},
	}), ErrValidation)
}

func TestGetExtractionStatus_NotFound(t *testing.T) {
	f := newFixture(t, &stubLoader{doc: twoPageDoc()}, true)

	_, err := f.svc.GetExtractionStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)
}

func TestCancelTask(t *testing.T) {
	f := newFixture(t, &stubLoader{doc: twoPageDoc()}, true)
	ctx := context.Background()

	task, err := f.svc.SubmitExtraction(ctx, "a.pdf", []byte(validPDF), models.ExtractOptions{})
	require.NoError(t, err)

	require.NoError(t, f.svc.CancelTask(ctx, task.ID))
	assert.Equal(t, []string{task.ID}, f.queue.cancelled)
	assert.Error(t, f.svc.CancelTask(ctx, "missing"))
}

func TestCleanupTasks(t *testing.T) {
	f := newFixture(t, &stubLoader{doc: twoPageDoc()}, true)
	ctx := context.Background()

	_, err := f.store.Store(ctx, bytes.NewReader([]byte("old")), storage.UploadKey("old"))
	require.NoError(t, err)
	_, err = f.store.Store(ctx, bytes.NewReader([]byte("old")), storage.ArchiveKey("old"))
	require.NoError(t, err)
	_, err = f.store.Store(ctx, bytes.NewReader([]byte("new")), storage.UploadKey("new"))
	require.NoError(t, err)

	past := time.Now().Add(-48 * time.Hour)
	for _, key := range []string{storage.UploadKey("old"), storage.ArchiveKey("old")} {
		require.NoError(t, os.Chtimes(filepath.Join(f.root, filepath.FromSlash(key)), past, past))
	}

	require.NoError(t, f.svc.CleanupTasks(ctx))

	_, err = f.store.Get(ctx, storage.UploadKey("old"))
	assert.Error(t, err)
	_, err = f.store.Get(ctx, storage.ArchiveKey("old"))
	assert.Error(t, err)
	rc, err := f.store.Get(ctx, storage.UploadKey("new"))
	require.NoError(t, err)
	rc.Close()
}
