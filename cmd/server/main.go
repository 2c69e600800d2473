package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/feichai0017/pdf-image-extractor/api/handlers"
	"github.com/feichai0017/pdf-image-extractor/api/routes"
	"github.com/feichai0017/pdf-image-extractor/config"
	"github.com/feichai0017/pdf-image-extractor/internal/service/images"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/metrics"
)

func main() {
	cfg := config.GetExtractConfig()

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithDevelopment(cfg.Log.Development),
		logger.WithOutputPaths([]string{"stdout", "logs/app.log"}),
		logger.WithInitialFields(map[string]interface{}{"service": "pdf-image-extractor"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// init metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.NewPrometheusRecorder(registry)
	if err != nil {
		log.Fatal("Failed to register metrics", logger.Error(err))
	}

	// init image service
	imageService, err := images.GetService(log, cfg, recorder)
	if err != nil {
		log.Fatal("Failed to get image service", logger.Error(err))
	}

	// init handlers
	h := handlers.NewHandlers(imageService, imageService.AsyncEnabled(), log)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = 32 << 20
	routes.SetupRoutes(r, h, registry, log)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting",
			logger.String("addr", cfg.Server.Addr),
			logger.Bool("async", imageService.AsyncEnabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	// in-flight extractions see their request context cancelled and return no archive
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}
