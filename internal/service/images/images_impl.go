package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	cfg "github.com/feichai0017/pdf-image-extractor/config"
	"github.com/feichai0017/pdf-image-extractor/internal/agent"
	"github.com/feichai0017/pdf-image-extractor/internal/agent/document"
	"github.com/feichai0017/pdf-image-extractor/internal/agent/document/image"
	"github.com/feichai0017/pdf-image-extractor/internal/agent/extraction"
	"github.com/feichai0017/pdf-image-extractor/internal/models"
	"github.com/feichai0017/pdf-image-extractor/internal/utils/validator"
	"github.com/feichai0017/pdf-image-extractor/pkg/converters"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/metrics"
	"github.com/feichai0017/pdf-image-extractor/pkg/queue"
	"github.com/feichai0017/pdf-image-extractor/pkg/storage"
)

// LoaderProvider 按文件类型返回文档加载器
type LoaderProvider interface {
	GetLoader(fileType string) (document.Loader, error)
}

type ImageService struct {
	loaders   LoaderProvider
	extractor *extraction.Extractor
	validator *validator.UploadValidator
	converter *converters.JSONConverter
	queue     queue.Queue
	storage   storage.Storage
	logger    logger.Logger
	config    *ServiceConfig
}

type ServiceConfig struct {
	DefaultFormat   string
	QueuePriority   int
	RetentionPeriod time.Duration
}

func defaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		DefaultFormat:   "png",
		QueuePriority:   2,
		RetentionPeriod: 24 * time.Hour,
	}
}

// NewService 创建服务。q 和 store 可以为 nil，此时只提供同步提取
func NewService(
	loaders LoaderProvider,
	extractor *extraction.Extractor,
	v *validator.UploadValidator,
	q queue.Queue,
	store storage.Storage,
	log logger.Logger,
	config *ServiceConfig,
) *ImageService {
	if config == nil {
		config = defaultServiceConfig()
	}

	return &ImageService{
		loaders:   loaders,
		extractor: extractor,
		validator: v,
		converter: converters.NewJSONConverter(),
		queue:     q,
		storage:   store,
		logger:    log.Named("images"),
		config:    config,
	}
}

// GetService 按配置组装服务。存储或队列初始化失败时降级为仅同步模式
func GetService(log logger.Logger, c *cfg.ExtractConfig, recorder metrics.Recorder) (*ImageService, error) {
	if c == nil {
		c = cfg.GetExtractConfig()
	}
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}

	codec := image.NewCodec(
		image.WithJPEGQuality(c.Extraction.JPEGQuality),
		image.WithPNGCompression(c.Extraction.PNGCompression),
	)
	extractor := extraction.NewExtractor(codec, log,
		extraction.WithOptions(extraction.Options{
			SizeThreshold:          c.Extraction.SizeThreshold,
			PageThreshold:          c.Extraction.PageThreshold,
			Workers:                c.Extraction.Workers,
			MaxConsecutiveFailures: c.Extraction.MaxConsecutiveFailures,
		}),
		extraction.WithRecorder(recorder),
	)

	v := validator.NewUploadValidator(log, &validator.ValidatorConfig{
		MaxFileSize: c.Upload.MaxFileSize,
		AllowedTypes: map[string][]string{
			".pdf": {"application/pdf"},
		},
	})

	svcConfig := &ServiceConfig{
		DefaultFormat:   c.Extraction.DefaultFormat,
		QueuePriority:   c.Queue.Priority,
		RetentionPeriod: c.Storage.RetentionPeriod,
	}

	var (
		store storage.Storage
		q     queue.Queue
	)
	s, err := storage.NewStorage(storage.StorageType(c.Storage.Type), log)
	if err != nil {
		log.Warn("Storage unavailable, asynchronous extraction disabled", logger.Error(err))
	} else {
		store = s
	}

	redisConfig := cfg.GetRedisConfig()
	aq, err := queue.NewAsynqQueue(&queue.QueueConfig{
		RedisAddr:      redisConfig.Addr,
		RedisPassword:  redisConfig.Password,
		RedisDB:        redisConfig.DB,
		MaxRetries:     3,
		ProcessTimeout: 30 * time.Minute,
		StatusTTL:      c.Storage.RetentionPeriod,
	}, log)
	if err != nil {
		log.Warn("Queue unavailable, asynchronous extraction disabled", logger.Error(err))
	} else {
		q = aq
	}

	return NewService(agent.NewLoaderFactory(log), extractor, v, q, store, log, svcConfig), nil
}

// AsyncEnabled 存储和队列都可用时返回 true
func (s *ImageService) AsyncEnabled() bool {
	return s.queue != nil && s.storage != nil
}

// ArchiveFileName 返回下载时使用的压缩包文件名
func ArchiveFileName(baseName string) string {
	return fmt.Sprintf("%s_extracted-images.zip", baseName)
}

// BaseName 去掉目录和最后一个扩展名
func BaseName(filename string) string {
	base := filepath.Base(filepath.ToSlash(filename))
	if i := strings.LastIndex(base, "\\"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == "/" {
		return "document"
	}
	return base
}

// ExtractImages 同步提取
func (s *ImageService) ExtractImages(ctx context.Context, filename string, data []byte, opts models.ExtractOptions) (*models.ExtractedArchive, error) {
	log := logger.FromContext(ctx, s.logger)

	format, err := s.prepare(filename, data, &opts)
	if err != nil {
		return nil, err
	}

	doc, err := s.load(ctx, filepath.Ext(filename), data)
	if err != nil {
		return nil, err
	}
	s.logMetadata(log, filename, doc)

	baseName := BaseName(filename)
	res, err := s.extractor.Extract(ctx, doc, extraction.Request{
		SourceSize:      int64(len(data)),
		Format:          format,
		BaseName:        baseName,
		AllowDuplicates: opts.AllowDuplicates,
	})
	if err != nil {
		return nil, classify(err)
	}

	return &models.ExtractedArchive{
		FileName:   ArchiveFileName(baseName),
		Data:       res.Archive,
		ImageCount: res.Report.Images,
		Mode:       string(res.Report.Mode),
	}, nil
}

// prepare 验证上传内容和输出格式，返回规范化后的格式名
func (s *ImageService) prepare(filename string, data []byte, opts *models.ExtractOptions) (string, error) {
	if err := s.validator.Validate(filename, data).Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}

	// 保留调用方的大小写，条目名会原样使用
	format := strings.TrimSpace(opts.Format)
	if format == "" {
		format = s.config.DefaultFormat
	}
	if err := s.validator.ValidateFormat(format); err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidation, err)
	}
	opts.Format = format
	return format, nil
}

func (s *ImageService) load(ctx context.Context, fileType string, data []byte) (document.Document, error) {
	loader, err := s.loaders.GetLoader(fileType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	doc, err := loader.Load(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnreadableDocument, err)
	}
	return doc, nil
}

func (s *ImageService) logMetadata(log logger.Logger, filename string, doc document.Document) {
	mp, ok := doc.(document.MetadataProvider)
	if !ok {
		return
	}
	md := mp.Metadata()
	log.Info("Document loaded",
		logger.String("filename", filename),
		logger.String("title", md.Title),
		logger.String("author", md.Author),
		logger.Int("pages", md.Pages),
		logger.Bool("encrypted", md.Encrypted),
		logger.String("hash", md.Hash),
	)
}

// classify 把提取器的错误映射到服务层错误
func classify(err error) error {
	if errors.Is(err, document.ErrPageCount) {
		return fmt.Errorf("%w: %w", ErrUnreadableDocument, err)
	}
	return err
}

// SubmitExtraction 保存上传文件并创建异步任务
func (s *ImageService) SubmitExtraction(ctx context.Context, filename string, data []byte, opts models.ExtractOptions) (*models.ExtractionTask, error) {
	if !s.AsyncEnabled() {
		return nil, ErrAsyncUnavailable
	}
	log := logger.FromContext(ctx, s.logger)

	format, err := s.prepare(filename, data, &opts)
	if err != nil {
		return nil, err
	}

	taskID := uuid.New().String()
	now := time.Now()

	task := &models.ExtractionTask{
		ID:        taskID,
		Status:    models.StatusPending,
		Type:      queue.TaskTypeImageExtract,
		Priority:  s.config.QueuePriority,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata: map[string]string{
			"filename":        filename,
			"baseName":        BaseName(filename),
			"size":            strconv.Itoa(len(data)),
			"type":            strings.ToLower(filepath.Ext(filename)),
			"format":          format,
			"allowDuplicates": strconv.FormatBool(opts.AllowDuplicates),
		},
	}

	// 存储文件
	fileID, err := s.storage.Store(ctx, bytes.NewReader(data), storage.UploadKey(taskID))
	if err != nil {
		log.Error("Failed to store upload",
			logger.String("filename", filename),
			logger.Error(err),
		)
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	queueTask := &queue.Task{
		ID:       taskID,
		Type:     task.Type,
		Priority: task.Priority,
		Payload: map[string]interface{}{
			"fileId": fileID,
			"size":   len(data),
		},
		Metadata:  task.Metadata,
		CreatedAt: now,
	}

	// 先写入初始状态，worker 可能在 Enqueue 返回前就开始执行
	if err := s.queue.SaveFinalStatus(ctx, &queue.TaskStatus{
		TaskID:    taskID,
		Status:    string(models.StatusPending),
		StartedAt: now,
	}); err != nil {
		log.Error("Failed to save initial status",
			logger.String("taskId", taskID),
			logger.Error(err),
		)
	}

	if err := s.queue.Enqueue(ctx, queueTask); err != nil {
		log.Error("Failed to enqueue task",
			logger.String("taskId", taskID),
			logger.Error(err),
		)
		if delErr := s.storage.Delete(ctx, fileID); delErr != nil {
			log.Warn("Failed to remove orphaned upload", logger.String("key", fileID), logger.Error(delErr))
		}
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Info("Extraction task created",
		logger.String("taskId", taskID),
		logger.String("filename", filename),
		logger.String("format", format),
	)

	return task, nil
}

// HandleExtraction 执行异步提取任务
func (s *ImageService) HandleExtraction(ctx context.Context, task *queue.Task) error {
	if !s.AsyncEnabled() {
		return ErrAsyncUnavailable
	}
	if task == nil || task.ID == "" || task.Payload == nil || task.Metadata == nil {
		return fmt.Errorf("%w: invalid task, missing required data", ErrValidation)
	}
	fileID, ok := task.Payload["fileId"].(string)
	if !ok || fileID == "" {
		return fmt.Errorf("%w: task %s has no fileId", ErrValidation, task.ID)
	}

	log := s.logger.With(logger.String("taskId", task.ID))
	log.Info("Processing extraction task",
		logger.String("filename", task.Metadata["filename"]),
		logger.String("format", task.Metadata["format"]),
	)

	started := time.Now()
	s.saveStatus(ctx, log, &queue.TaskStatus{
		TaskID:    task.ID,
		Status:    string(models.StatusRunning),
		Progress:  0.1,
		StartedAt: started,
	})

	summary, err := s.runTask(ctx, task, fileID)
	if err != nil {
		status := &queue.TaskStatus{
			TaskID:     task.ID,
			Status:     string(models.StatusFailed),
			Error:      err.Error(),
			StartedAt:  started,
			FinishedAt: time.Now(),
		}
		if ctx.Err() != nil {
			status.Status = string(models.StatusCancelled)
		}
		// 任务上下文可能已取消，状态仍需写入
		s.saveStatus(context.WithoutCancel(ctx), log, status)
		log.Error("Extraction task failed", logger.Error(err))
		return err
	}

	s.saveStatus(ctx, log, &queue.TaskStatus{
		TaskID:     task.ID,
		Status:     string(models.StatusCompleted),
		Progress:   1.0,
		ResultKey:  storage.ArchiveKey(task.ID),
		StartedAt:  started,
		FinishedAt: time.Now(),
	})

	log.Info("Extraction task completed",
		logger.Int("images", summary.Report.Images),
		logger.Int("entries", len(summary.Entries)),
		logger.Int64("archiveSize", summary.ArchiveSize),
	)
	return nil
}

func (s *ImageService) runTask(ctx context.Context, task *queue.Task, fileID string) (*converters.ExtractionSummary, error) {
	reader, err := s.storage.Get(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	data, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	fileType := task.Metadata["type"]
	if fileType == "" {
		fileType = ".pdf"
	}
	doc, err := s.load(ctx, fileType, data)
	if err != nil {
		return nil, err
	}

	format := task.Metadata["format"]
	if format == "" {
		format = s.config.DefaultFormat
	}
	baseName := task.Metadata["baseName"]
	if baseName == "" {
		baseName = BaseName(task.Metadata["filename"])
	}
	allowDuplicates, _ := strconv.ParseBool(task.Metadata["allowDuplicates"])

	res, err := s.extractor.Extract(ctx, doc, extraction.Request{
		SourceSize:      int64(len(data)),
		Format:          format,
		BaseName:        baseName,
		AllowDuplicates: allowDuplicates,
	})
	if err != nil {
		return nil, classify(err)
	}

	if _, err := s.storage.Store(ctx, bytes.NewReader(res.Archive), storage.ArchiveKey(task.ID)); err != nil {
		return nil, fmt.Errorf("failed to store archive: %w", err)
	}

	summary, err := s.converter.Convert(res.Archive, res.Report)
	if err != nil {
		return nil, err
	}
	summary.TaskID = task.ID
	summary.FileName = task.Metadata["filename"]
	summary.ArchiveName = ArchiveFileName(baseName)
	summary.Format = format
	summary.AllowDuplicates = allowDuplicates
	if mp, ok := doc.(document.MetadataProvider); ok {
		summary.Document = mp.Metadata()
	}

	summaryData, err := s.converter.Marshal(summary)
	if err != nil {
		return nil, err
	}
	if _, err := s.storage.Store(ctx, bytes.NewReader(summaryData), storage.SummaryKey(task.ID)); err != nil {
		return nil, fmt.Errorf("failed to store summary: %w", err)
	}

	return summary, nil
}

func (s *ImageService) saveStatus(ctx context.Context, log logger.Logger, status *queue.TaskStatus) {
	if err := s.queue.SaveFinalStatus(ctx, status); err != nil {
		log.Error("Failed to save task status",
			logger.String("status", status.Status),
			logger.Error(err),
		)
	}
}

// GetExtractionStatus 获取任务状态
func (s *ImageService) GetExtractionStatus(ctx context.Context, taskID string) (*models.ExtractionTask, error) {
	if s.queue == nil {
		return nil, ErrAsyncUnavailable
	}

	status, err := s.queue.GetTaskStatus(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}

	return &models.ExtractionTask{
		ID:        status.TaskID,
		Status:    models.ParseStatus(status.Status),
		Type:      queue.TaskTypeImageExtract,
		Progress:  status.Progress,
		Error:     status.Error,
		Metadata:  make(map[string]string),
		CreatedAt: status.StartedAt,
		UpdatedAt: status.FinishedAt,
	}, nil
}

// GetExtractionSummary 获取已完成任务的摘要
func (s *ImageService) GetExtractionSummary(ctx context.Context, taskID string) (*converters.ExtractionSummary, error) {
	if !s.AsyncEnabled() {
		return nil, ErrAsyncUnavailable
	}

	status, err := s.GetExtractionStatus(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if status.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotCompleted, status.Status)
	}

	reader, err := s.storage.Get(ctx, storage.SummaryKey(taskID))
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read summary: %w", err)
	}
	return converters.UnmarshalSummary(data)
}

// OpenArchive 返回已完成任务的压缩包，调用方负责关闭
func (s *ImageService) OpenArchive(ctx context.Context, taskID string) (io.ReadCloser, string, error) {
	summary, err := s.GetExtractionSummary(ctx, taskID)
	if err != nil {
		return nil, "", err
	}

	reader, err := s.storage.Get(ctx, storage.ArchiveKey(taskID))
	if err != nil {
		return nil, "", fmt.Errorf("failed to get archive: %w", err)
	}
	return reader, summary.ArchiveName, nil
}

// CancelTask 取消任务
func (s *ImageService) CancelTask(ctx context.Context, taskID string) error {
	if s.queue == nil {
		return ErrAsyncUnavailable
	}
	if err := s.queue.CancelTask(ctx, taskID); err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}

	s.logger.Info("Task cancelled", logger.String("taskId", taskID))
	return nil
}

// CleanupTasks 清理过期的上传文件和结果
func (s *ImageService) CleanupTasks(ctx context.Context) error {
	if s.storage == nil {
		return ErrAsyncUnavailable
	}
	threshold := time.Now().Add(-s.config.RetentionPeriod)

	var errs []error
	for _, prefix := range []string{storage.UploadPrefix, storage.ResultPrefix} {
		if err := s.storage.CleanupBefore(ctx, prefix, threshold); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to cleanup storage: %w", err)
	}

	s.logger.Info("Completed tasks cleanup", logger.Time("threshold", threshold))
	return nil
}
