package converters

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/feichai0017/pdf-image-extractor/internal/agent/extraction"
	"github.com/feichai0017/pdf-image-extractor/internal/models"
)

// SummaryConverter 将提取结果转换为摘要
type SummaryConverter interface {
	Convert(archive []byte, report extraction.Report) (*ExtractionSummary, error)
}

// ExtractionSummary 异步任务完成后保存的摘要
type ExtractionSummary struct {
	TaskID          string                  `json:"taskId"`
	Status          string                  `json:"status"`
	FileName        string                  `json:"fileName"`
	ArchiveName     string                  `json:"archiveName"`
	Format          string                  `json:"format"`
	AllowDuplicates bool                    `json:"allowDuplicates"`
	Document        models.DocumentMetadata `json:"document"`
	Report          extraction.Report       `json:"report"`
	Entries         []ArchiveEntry          `json:"entries"`
	ArchiveSize     int64                   `json:"archiveSize"`
	ProcessedAt     time.Time               `json:"processedAt"`
}

// ArchiveEntry 压缩包中的一个文件
type ArchiveEntry struct {
	Name           string `json:"name"`
	Page           int    `json:"page"`
	Size           uint64 `json:"size"`
	CompressedSize uint64 `json:"compressedSize"`
}

// JSONConverter 实现摘要转换器
type JSONConverter struct{}

func NewJSONConverter() *JSONConverter {
	return &JSONConverter{}
}

func (c *JSONConverter) Convert(archive []byte, report extraction.Report) (*ExtractionSummary, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	summary := &ExtractionSummary{
		Status:      "completed",
		Report:      report,
		Entries:     make([]ArchiveEntry, 0, len(zr.File)),
		ArchiveSize: int64(len(archive)),
		ProcessedAt: time.Now(),
	}

	for _, f := range zr.File {
		summary.Entries = append(summary.Entries, ArchiveEntry{
			Name:           f.Name,
			Page:           pageOf(f.Name),
			Size:           f.UncompressedSize64,
			CompressedSize: f.CompressedSize64,
		})
	}

	// 并行模式下条目顺序不固定，按页码和名称排序
	sort.Slice(summary.Entries, func(i, j int) bool {
		a, b := summary.Entries[i], summary.Entries[j]
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		return a.Name < b.Name
	})

	return summary, nil
}

// Marshal 序列化摘要
func (c *JSONConverter) Marshal(summary *ExtractionSummary) ([]byte, error) {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal summary: %w", err)
	}
	return data, nil
}

// pageOf 从 "{base}_page_{n}_{ordinal}.{ext}" 中取出页码
func pageOf(name string) int {
	var page, ordinal int
	for i := len(name) - 1; i >= 0; i-- {
		if i+6 <= len(name) && name[i:i+6] == "_page_" {
			if _, err := fmt.Sscanf(name[i+6:], "%d_%d", &page, &ordinal); err == nil {
				return page
			}
			return 0
		}
	}
	return 0
}

// UnmarshalSummary 解析保存的摘要
func UnmarshalSummary(data []byte) (*ExtractionSummary, error) {
	var summary ExtractionSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	return &summary, nil
}
