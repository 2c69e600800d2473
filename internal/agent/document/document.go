package document

import (
	"context"
	"errors"
	"image"

	"github.com/feichai0017/pdf-image-extractor/internal/models"
)

var (
	// ErrNotImage is returned by Page.ResolveImage for resources that are not raster images.
	ErrNotImage = errors.New("resource is not an image")
	// ErrPageCount means the document cannot report how many pages it has.
	ErrPageCount = errors.New("page count unavailable")
)

// Document 只读的分页文档
type Document interface {
	// PageCount 返回文档声明的页数，损坏的文档上可能不可靠
	PageCount() (int, error)
	// Page 按 0 起始的索引获取页面
	Page(index int) (Page, error)
}

// Page 单个页面及其内嵌图像资源
type Page interface {
	// ImageResourceNames 返回页面资源字典中的对象名称，没有资源时返回 nil
	ImageResourceNames() []string
	// ResolveImage 将资源解码为像素数据，非图像资源返回 ErrNotImage
	ResolveImage(name string) (image.Image, error)
}

// MetadataProvider is implemented by documents that expose Info dictionary fields.
type MetadataProvider interface {
	Metadata() models.DocumentMetadata
}

// Loader 把上传的字节打开为 Document
type Loader interface {
	// CanLoad 检查是否可以处理指定MIME类型的文件
	CanLoad(mimeType string) bool
	// Load 解析文档
	Load(ctx context.Context, data []byte) (Document, error)
}
