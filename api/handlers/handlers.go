package handlers

import (
	"github.com/feichai0017/pdf-image-extractor/internal/service/images"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

type Handlers struct {
	Images *ImageHandler
	Health *HealthHandler
}

func NewHandlers(
	imageService images.ImageExtractor,
	asyncEnabled bool,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Images: NewImageHandler(imageService, logger),
		Health: NewHealthHandler(asyncEnabled),
	}
}
