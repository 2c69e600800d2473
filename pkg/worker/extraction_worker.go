package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/queue"
)

// TaskHandler 执行一个已解码的提取任务
type TaskHandler interface {
	HandleExtraction(ctx context.Context, task *queue.Task) error
}

type ExtractionWorker struct {
	BaseWorker
	handler TaskHandler
	// 这些错误重试也不会成功
	permanent []error
}

func NewExtractionWorker(cfg *Config, handler TaskHandler, log logger.Logger, permanent ...error) (*ExtractionWorker, error) {
	if cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("worker concurrency must be positive, got %d", cfg.Concurrency)
	}
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = DefaultQueues()
	}

	log = log.Named("worker")
	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Minute
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Error("Task failed",
					logger.String("type", task.Type()),
					logger.Error(err),
				)
			}),
		},
	)

	w := &ExtractionWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		handler:   handler,
		permanent: permanent,
	}

	// 注册任务处理器
	w.registerHandlers()
	return w, nil
}

func (w *ExtractionWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeImageExtract, w.handleImageExtract)
}

func (w *ExtractionWorker) handleImageExtract(ctx context.Context, t *asynq.Task) error {
	task, err := decodeTask(t.Payload())
	if err != nil {
		w.logger.Error("Failed to decode task",
			logger.Error(err),
			logger.String("payload", string(t.Payload())),
		)
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	log := w.logger.With(logger.String("taskId", task.ID))
	log.Info("Processing extraction task", logger.Any("metadata", task.Metadata))

	info := t.ResultWriter()
	if _, err := info.Write([]byte(`{"status":"running","progress":0}`)); err != nil {
		log.Warn("Failed to write task status", logger.Error(err))
	}

	if err := w.handler.HandleExtraction(ctx, task); err != nil {
		if _, writeErr := info.Write([]byte(fmt.Sprintf(`{"status":"failed","error":%q}`, err.Error()))); writeErr != nil {
			log.Warn("Failed to write task failure", logger.Error(writeErr))
		}
		if w.isPermanent(err) {
			return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
		}
		return err
	}

	if _, err := info.Write([]byte(`{"status":"completed","progress":100}`)); err != nil {
		log.Warn("Failed to write task completion", logger.Error(err))
	}
	return nil
}

func (w *ExtractionWorker) isPermanent(err error) bool {
	for _, target := range w.permanent {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// decodeTask 反序列化并检查必要字段
func decodeTask(payload []byte) (*queue.Task, error) {
	var task queue.Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if task.ID == "" || task.Metadata == nil || task.Payload == nil {
		return nil, fmt.Errorf("invalid task data: missing required fields")
	}
	return &task, nil
}

func (w *ExtractionWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopChan:
		}
	}()

	return nil
}
