package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feichai0017/pdf-image-extractor/api/handlers"
	"github.com/feichai0017/pdf-image-extractor/api/middleware"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, gatherer prometheus.Gatherer, log logger.Logger) {
	// 全局中间件
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(log))
	r.Use(middleware.CORS())

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API 版本组
	v1 := r.Group("/api/v1")

	// 健康检查
	v1.GET("/health", h.Health.Check)

	// 同步提取
	v1.POST("/misc/extract-images", h.Images.ExtractImages)

	// 异步任务路由组
	jobs := v1.Group("/images/jobs")
	{
		jobs.POST("", h.Images.SubmitJob)
		jobs.GET("/:taskId", h.Images.GetJob)
		jobs.GET("/:taskId/download", h.Images.DownloadJob)
		jobs.DELETE("/:taskId", h.Images.CancelJob)
	}
}
