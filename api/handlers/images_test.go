package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/pdf-image-extractor/internal/models"
	"github.com/feichai0017/pdf-image-extractor/internal/service/images"
	"github.com/feichai0017/pdf-image-extractor/pkg/converters"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/queue"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	images.ImageExtractor

	gotFilename string
	gotData     []byte
	gotOpts     models.ExtractOptions

	archive  *models.ExtractedArchive
	task     *models.ExtractionTask
	summary  *converters.ExtractionSummary
	download string
	err      error
}

func (f *fakeService) ExtractImages(_ context.Context, filename string, data []byte, opts models.ExtractOptions) (*models.ExtractedArchive, error) {
	f.gotFilename, f.gotData, f.gotOpts = filename, data, opts
	return f.archive, f.err
}

func (f *fakeService) SubmitExtraction(_ context.Context, filename string, data []byte, opts models.ExtractOptions) (*models.ExtractionTask, error) {
	f.gotFilename, f.gotData, f.gotOpts = filename, data, opts
	return f.task, f.err
}

func (f *fakeService) GetExtractionStatus(context.Context, string) (*models.ExtractionTask, error) {
	return f.task, f.err
}

func (f *fakeService) GetExtractionSummary(context.Context, string) (*converters.ExtractionSummary, error) {
	if f.summary == nil {
		return nil, images.ErrTaskNotCompleted
	}
	return f.summary, nil
}

func (f *fakeService) OpenArchive(context.Context, string) (io.ReadCloser, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return io.NopCloser(bytes.NewReader([]byte(f.download))), "report_extracted-images.zip", nil
}

func (f *fakeService) CancelTask(context.Context, string) error {
	return f.err
}

func newRouter(svc images.ImageExtractor) (*gin.Engine, *logger.TestLogger) {
	log := logger.NewTestLogger()
	h := NewImageHandler(svc, log)
	r := gin.New()
	r.POST("/extract", h.ExtractImages)
	r.POST("/jobs", h.SubmitJob)
	r.GET("/jobs/:taskId", h.GetJob)
	r.GET("/jobs/:taskId/download", h.DownloadJob)
	r.DELETE("/jobs/:taskId", h.CancelJob)
	return r, log
}

func uploadRequest(t *testing.T, path string, fields map[string]string, withFile bool) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if withFile {
		fw, err := mw.CreateFormFile("fileInput", "report.pdf")
		require.NoError(t, err)
		_, err = fw.Write([]byte("%PDF-1.4 body %%EOF"))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestExtractImages_ReturnsArchive(t *testing.T) {
	svc := &fakeService{archive: &models.ExtractedArchive{
		FileName:   "report_extracted-images.zip",
		Data:       []byte("PK-zip"),
		ImageCount: 3,
		Mode:       "parallel",
	}}
	r, _ := newRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/extract", map[string]string{"format": "jpg", "allowDuplicates": "true"}, true))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="report_extracted-images.zip"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "3", w.Header().Get("X-Image-Count"))
	assert.Equal(t, "parallel", w.Header().Get("X-Extraction-Mode"))
	assert.Equal(t, "PK-zip", w.Body.String())

	assert.Equal(t, "report.pdf", svc.gotFilename)
	assert.Equal(t, models.ExtractOptions{Format: "jpg", AllowDuplicates: true}, svc.gotOpts)
}

func TestExtractImages_BadRequests(t *testing.T) {
	svc := &fakeService{}
	r, log := newRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/extract", map[string]string{"format": "png"}, false))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "fileInput is required")

	w = httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/extract", map[string]string{"allowDuplicates": "maybe"}, true))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Len(t, log.EntriesAt("warn"), 2)
}

func TestExtractImages_ServiceErrors(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: not a pdf", images.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: xref", images.ErrUnreadableDocument), http.StatusUnprocessableEntity},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		r, _ := newRouter(&fakeService{err: tt.err})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, uploadRequest(t, "/extract", nil, true))
		assert.Equal(t, tt.code, w.Code, tt.err.Error())
		assert.Contains(t, w.Body.String(), tt.err.Error())
	}
}

func TestSubmitJob(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeService{task: &models.ExtractionTask{
		ID:        "task-1",
		Status:    models.StatusPending,
		Metadata:  map[string]string{"format": "png"},
		CreatedAt: created,
	}}
	r, _ := newRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/jobs", nil, true))

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{
		"taskId": "task-1",
		"status": "pending",
		"filename": "report.pdf",
		"fileSize": 19,
		"format": "png",
		"createdAt": "2024-03-01T12:00:00Z"
	}`, w.Body.String())
}

func TestSubmitJob_AsyncUnavailable(t *testing.T) {
	r, _ := newRouter(&fakeService{err: images.ErrAsyncUnavailable})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, uploadRequest(t, "/jobs", nil, true))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGetJob(t *testing.T) {
	svc := &fakeService{
		task:    &models.ExtractionTask{ID: "task-1", Status: models.StatusCompleted, Progress: 1},
		summary: &converters.ExtractionSummary{TaskID: "task-1", ArchiveName: "a_extracted-images.zip"},
	}
	r, _ := newRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/task-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"completed"`)
	assert.Contains(t, w.Body.String(), `"archiveName":"a_extracted-images.zip"`)

	svc.task = &models.ExtractionTask{ID: "task-1", Status: models.StatusRunning}
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/task-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "summary")
}

func TestGetJob_NotFound(t *testing.T) {
	r, _ := newRouter(&fakeService{err: fmt.Errorf("lookup: %w", queue.ErrTaskNotFound)})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadJob(t *testing.T) {
	r, _ := newRouter(&fakeService{download: "zip-bytes"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/task-1/download", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "zip-bytes", w.Body.String())
	assert.Equal(t, `attachment; filename="report_extracted-images.zip"`, w.Header().Get("Content-Disposition"))

	r, _ = newRouter(&fakeService{err: images.ErrTaskNotCompleted})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs/task-1/download", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCancelJob(t *testing.T) {
	r, _ := newRouter(&fakeService{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/jobs/task-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "task-1")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{images.ErrValidation, http.StatusBadRequest},
		{images.ErrUnreadableDocument, http.StatusUnprocessableEntity},
		{queue.ErrTaskNotFound, http.StatusNotFound},
		{images.ErrTaskNotCompleted, http.StatusConflict},
		{images.ErrAsyncUnavailable, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{fmt.Errorf("wrapped: %w", context.Canceled), http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestHealthCheck(t *testing.T) {
	r := gin.New()
	r.GET("/health", NewHealthHandler(true).Check)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"async":true`)
}
