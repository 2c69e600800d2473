package models

import (
	"time"
)

// DocumentMetadata 文档元数据
type DocumentMetadata struct {
	Title     string    `json:"title,omitempty"`
	Author    string    `json:"author,omitempty"`
	Producer  string    `json:"producer,omitempty"`
	Pages     int       `json:"pages"`
	Encrypted bool      `json:"encrypted"`
	FileSize  int64     `json:"fileSize"`
	Hash      string    `json:"hash,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExtractOptions 图像提取参数
type ExtractOptions struct {
	Format          string `json:"format"`
	AllowDuplicates bool   `json:"allowDuplicates"`
}

// ExtractedArchive 同步提取的结果
type ExtractedArchive struct {
	FileName   string
	Data       []byte
	ImageCount int
	Mode       string
}

// ExtractionTask 异步提取任务
type ExtractionTask struct {
	ID        string            `json:"id"`
	Status    ProcessingStatus  `json:"status"`
	Type      string            `json:"type"`
	Priority  int               `json:"priority"`
	Progress  float64           `json:"progress"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt,omitempty"`
}

type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusRunning   ProcessingStatus = "running"
	StatusCompleted ProcessingStatus = "completed"
	StatusFailed    ProcessingStatus = "failed"
	StatusCancelled ProcessingStatus = "cancelled"
)

// ParseStatus 将队列中的状态字符串映射为 ProcessingStatus
func ParseStatus(s string) ProcessingStatus {
	switch s {
	case "pending", "scheduled", "retry":
		return StatusPending
	case "active", "running":
		return StatusRunning
	case "completed":
		return StatusCompleted
	case "failed", "archived":
		return StatusFailed
	case "cancelled":
		return StatusCancelled
	default:
		return StatusPending
	}
}
