package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/feichai0017/pdf-image-extractor/config"
	"github.com/feichai0017/pdf-image-extractor/internal/service/images"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/worker"
)

const cleanupInterval = time.Hour

func main() {
	cfg := config.GetExtractConfig()

	// 初始化日志
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithDevelopment(cfg.Log.Development),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
		logger.WithInitialFields(map[string]interface{}{"service": "pdf-image-worker"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// 创建提取服务
	imageService, err := images.GetService(log, cfg, nil)
	if err != nil {
		log.Error("Failed to create image service", logger.Error(err))
		os.Exit(1)
	}
	if !imageService.AsyncEnabled() {
		log.Error("Worker requires storage and queue", logger.Error(images.ErrAsyncUnavailable))
		os.Exit(1)
	}

	// 创建 worker 配置
	redisCfg := config.GetRedisConfig()
	workerCfg := &worker.Config{
		RedisAddr:     redisCfg.Addr,
		RedisPassword: redisCfg.Password,
		RedisDB:       redisCfg.DB,
		Concurrency:   cfg.Queue.Concurrency,
		Queues:        worker.DefaultQueues(),
	}

	// 创建 worker，这两类错误不重试
	extractionWorker, err := worker.NewExtractionWorker(workerCfg, imageService, log,
		images.ErrValidation,
		images.ErrUnreadableDocument,
	)
	if err != nil {
		log.Error("Failed to create extraction worker", logger.Error(err))
		os.Exit(1)
	}

	// 创建上下文和取消函数
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动 worker
	if err := extractionWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Worker started", logger.Int("concurrency", workerCfg.Concurrency))

	// 定期清理过期文件
	go func() {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := imageService.CleanupTasks(ctx); err != nil {
					log.Error("Cleanup failed", logger.Error(err))
				}
			}
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	// 优雅关闭
	log.Info("Shutting down worker...")
	cancel()
	extractionWorker.Stop()
	log.Info("Worker stopped")
}
