package agent

import (
	"fmt"
	"strings"

	"github.com/feichai0017/pdf-image-extractor/internal/agent/document"
	"github.com/feichai0017/pdf-image-extractor/internal/agent/document/pdf"
	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

// 扩展名到 MIME 类型的映射
var extToMIME = map[string]string{
	".pdf": "application/pdf",
}

type LoaderFactory struct {
	loaders map[string]document.Loader
	logger  logger.Logger
}

func NewLoaderFactory(logger logger.Logger) *LoaderFactory {
	factory := &LoaderFactory{
		loaders: make(map[string]document.Loader),
		logger:  logger,
	}

	factory.Register("application/pdf", pdf.NewLoader(logger))
	return factory
}

// Register 注册指定 MIME 类型的加载器
func (f *LoaderFactory) Register(mimeType string, loader document.Loader) {
	f.loaders[mimeType] = loader
}

// GetLoader 根据扩展名或 MIME 类型返回加载器
func (f *LoaderFactory) GetLoader(fileType string) (document.Loader, error) {
	key := strings.ToLower(fileType)
	if mimeType, ok := extToMIME[key]; ok {
		key = mimeType
	}

	loader, ok := f.loaders[key]
	if !ok || !loader.CanLoad(key) {
		f.logger.Error("No loader found",
			logger.String("fileType", fileType),
		)
		return nil, fmt.Errorf("unsupported file type: %s", fileType)
	}
	return loader, nil
}
