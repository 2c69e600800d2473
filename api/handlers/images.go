package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/pdf-image-extractor/internal/models"
	"github.com/feichai0017/pdf-image-extractor/internal/service/images"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/queue"
)

type ImageHandler struct {
	service images.ImageExtractor
	logger  logger.Logger
}

// SubmitResponse 定义异步提交响应结构
type SubmitResponse struct {
	TaskID    string `json:"taskId"`
	Status    string `json:"status"`
	Filename  string `json:"filename"`
	FileSize  int64  `json:"fileSize"`
	Format    string `json:"format"`
	CreatedAt string `json:"createdAt"`
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func NewImageHandler(service images.ImageExtractor, logger logger.Logger) *ImageHandler {
	return &ImageHandler{
		service: service,
		logger:  logger.Named("handler"),
	}
}

// extractForm 读取 fileInput / format / allowDuplicates 表单字段
func (h *ImageHandler) extractForm(c *gin.Context) (string, []byte, models.ExtractOptions, error) {
	var opts models.ExtractOptions

	file, header, err := c.Request.FormFile("fileInput")
	if err != nil {
		return "", nil, opts, fmt.Errorf("%w: fileInput is required: %w", images.ErrValidation, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, opts, fmt.Errorf("%w: failed to read upload: %w", images.ErrValidation, err)
	}

	opts.Format = c.PostForm("format")
	if raw := c.PostForm("allowDuplicates"); raw != "" {
		allow, err := strconv.ParseBool(raw)
		if err != nil {
			return "", nil, opts, fmt.Errorf("%w: allowDuplicates must be a boolean", images.ErrValidation)
		}
		opts.AllowDuplicates = allow
	}

	return header.Filename, data, opts, nil
}

// ExtractImages 同步提取，直接返回 zip
func (h *ImageHandler) ExtractImages(c *gin.Context) {
	filename, data, opts, err := h.extractForm(c)
	if err != nil {
		h.handleError(c, "Invalid extraction request", err)
		return
	}

	archive, err := h.service.ExtractImages(c.Request.Context(), filename, data, opts)
	if err != nil {
		h.handleError(c, "Failed to extract images", err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", archive.FileName))
	c.Header("X-Image-Count", strconv.Itoa(archive.ImageCount))
	c.Header("X-Extraction-Mode", archive.Mode)
	c.Data(http.StatusOK, "application/octet-stream", archive.Data)
}

// SubmitJob 创建异步提取任务
func (h *ImageHandler) SubmitJob(c *gin.Context) {
	filename, data, opts, err := h.extractForm(c)
	if err != nil {
		h.handleError(c, "Invalid extraction request", err)
		return
	}

	task, err := h.service.SubmitExtraction(c.Request.Context(), filename, data, opts)
	if err != nil {
		h.handleError(c, "Failed to submit extraction", err)
		return
	}

	c.JSON(http.StatusAccepted, SubmitResponse{
		TaskID:    task.ID,
		Status:    string(task.Status),
		Filename:  filename,
		FileSize:  int64(len(data)),
		Format:    task.Metadata["format"],
		CreatedAt: task.CreatedAt.Format(time.RFC3339),
	})
}

// GetJob 获取任务状态，完成时附带摘要
func (h *ImageHandler) GetJob(c *gin.Context) {
	taskID := c.Param("taskId")
	if taskID == "" {
		h.handleError(c, "Task ID is required", images.ErrValidation)
		return
	}

	ctx := c.Request.Context()
	task, err := h.service.GetExtractionStatus(ctx, taskID)
	if err != nil {
		h.handleError(c, "Failed to get status", err)
		return
	}

	resp := gin.H{
		"taskId":    task.ID,
		"status":    string(task.Status),
		"progress":  task.Progress,
		"error":     task.Error,
		"createdAt": task.CreatedAt.Format(time.RFC3339),
		"updatedAt": task.UpdatedAt.Format(time.RFC3339),
	}

	if task.Status == models.StatusCompleted {
		summary, err := h.service.GetExtractionSummary(ctx, taskID)
		if err != nil {
			h.logger.Warn("Failed to load summary",
				logger.String("taskId", taskID),
				logger.Error(err),
			)
		} else {
			resp["summary"] = summary
		}
	}

	c.JSON(http.StatusOK, resp)
}

// DownloadJob 下载任务生成的 zip
func (h *ImageHandler) DownloadJob(c *gin.Context) {
	taskID := c.Param("taskId")
	if taskID == "" {
		h.handleError(c, "Task ID is required", images.ErrValidation)
		return
	}

	reader, name, err := h.service.OpenArchive(c.Request.Context(), taskID)
	if err != nil {
		h.handleError(c, "Failed to get result", err)
		return
	}
	defer reader.Close()

	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", reader, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", name),
	})
}

// CancelJob 取消任务
func (h *ImageHandler) CancelJob(c *gin.Context) {
	taskID := c.Param("taskId")
	if taskID == "" {
		h.handleError(c, "Task ID is required", images.ErrValidation)
		return
	}

	if err := h.service.CancelTask(c.Request.Context(), taskID); err != nil {
		h.handleError(c, "Failed to cancel task", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Task cancelled successfully",
		"taskId":  taskID,
	})
}

// StatusFor 把服务层错误映射为 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, images.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, images.ErrUnreadableDocument):
		return http.StatusUnprocessableEntity
	case errors.Is(err, queue.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, images.ErrTaskNotCompleted):
		return http.StatusConflict
	case errors.Is(err, images.ErrAsyncUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError 统一错误处理
func (h *ImageHandler) handleError(c *gin.Context, message string, err error) {
	status := StatusFor(err)
	log := logger.FromContext(c.Request.Context(), h.logger)
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Warn(message, fields...)
	}

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.JSON(status, response)
}
