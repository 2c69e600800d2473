package images

import (
	"context"
	"errors"
	"io"

	"github.com/feichai0017/pdf-image-extractor/internal/models"
	"github.com/feichai0017/pdf-image-extractor/pkg/converters"
	"github.com/feichai0017/pdf-image-extractor/pkg/queue"
)

var (
	// ErrValidation 上传文件或参数不合法
	ErrValidation = errors.New("validation failed")
	// ErrUnreadableDocument 文档无法解析或无法得到页数
	ErrUnreadableDocument = errors.New("document could not be read")
	// ErrAsyncUnavailable 存储或队列未初始化，异步接口不可用
	ErrAsyncUnavailable = errors.New("asynchronous extraction is not available")
	// ErrTaskNotCompleted 任务尚未完成，没有结果可取
	ErrTaskNotCompleted = errors.New("task is not completed")
)

// ImageExtractor 对外提供的图像提取服务
type ImageExtractor interface {
	// ExtractImages 同步提取，返回 zip 压缩包
	ExtractImages(ctx context.Context, filename string, data []byte, opts models.ExtractOptions) (*models.ExtractedArchive, error)
	// SubmitExtraction 保存上传文件并加入异步队列
	SubmitExtraction(ctx context.Context, filename string, data []byte, opts models.ExtractOptions) (*models.ExtractionTask, error)
	// HandleExtraction 由 worker 调用，执行一个异步任务
	HandleExtraction(ctx context.Context, task *queue.Task) error
	GetExtractionStatus(ctx context.Context, taskID string) (*models.ExtractionTask, error)
	GetExtractionSummary(ctx context.Context, taskID string) (*converters.ExtractionSummary, error)
	// OpenArchive 返回已完成任务的 zip 内容及下载文件名
	OpenArchive(ctx context.Context, taskID string) (io.ReadCloser, string, error)
	CancelTask(ctx context.Context, taskID string) error
	CleanupTasks(ctx context.Context) error
}
