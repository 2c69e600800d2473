package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
	"github.com/feichai0017/pdf-image-extractor/pkg/storage/local"
	"github.com/feichai0017/pdf-image-extractor/pkg/storage/minio"
	"github.com/feichai0017/pdf-image-extractor/pkg/storage/s3"
)

// StorageType 定义存储类型
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
	StorageTypeLocal StorageType = "local"
)

// 上传文件与提取结果使用的对象前缀
const (
	UploadPrefix = "uploads/"
	ResultPrefix = "results/"
)

// Storage 接口定义
type Storage interface {
	// Store 存储文件，返回对象键
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get 获取文件
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除文件
	Delete(ctx context.Context, key string) error
	// CleanupBefore 清理 prefix 下早于 threshold 的文件
	CleanupBefore(ctx context.Context, prefix string, threshold time.Time) error
}

// UploadKey 返回任务原始 PDF 的对象键
func UploadKey(taskID string) string {
	return fmt.Sprintf("%s%s.pdf", UploadPrefix, taskID)
}

// ArchiveKey 返回任务 zip 结果的对象键
func ArchiveKey(taskID string) string {
	return fmt.Sprintf("%s%s.zip", ResultPrefix, taskID)
}

// SummaryKey 返回任务 JSON 摘要的对象键
func SummaryKey(taskID string) string {
	return fmt.Sprintf("%s%s.json", ResultPrefix, taskID)
}

// NewStorage 创建存储实例的工厂方法
func NewStorage(storageType StorageType, log logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.GetClient(log)
	case StorageTypeMinio:
		return minio.GetClient(log)
	case StorageTypeLocal:
		return local.GetClient(log)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
