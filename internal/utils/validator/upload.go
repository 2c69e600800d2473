// internal/utils/validator/upload.go
package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/feichai0017/pdf-image-extractor/pkg/logger"
)

var formatPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,10}$`)

// UploadValidator 上传文件验证器
type UploadValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize  int64               // 最大文件大小（字节）
	AllowedTypes map[string][]string // 允许的文件类型 {扩展名: []MIME类型}
}

// ValidationResult 验证结果
type ValidationResult struct {
	IsValid  bool              `json:"isValid"`
	Errors   []ValidationError `json:"errors,omitempty"`
	FileInfo FileInfo          `json:"fileInfo"`
}

// ValidationError 验证错误
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e ValidationError) Error() string {
	return e.Message
}

// FileInfo 文件信息
type FileInfo struct {
	Filename  string `json:"filename"`
	Size      int64  `json:"size"`
	MimeType  string `json:"mimeType"`
	Extension string `json:"extension"`
	Hash      string `json:"hash"`
}

// Err 把验证失败合并为一个 error，验证通过时返回 nil
func (r *ValidationResult) Err() error {
	if r.IsValid || len(r.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Message)
	}
	return fmt.Errorf("invalid upload: %s", strings.Join(msgs, "; "))
}

// NewUploadValidator 创建新的上传验证器
func NewUploadValidator(logger logger.Logger, config *ValidatorConfig) *UploadValidator {
	if config == nil {
		config = &ValidatorConfig{
			MaxFileSize: 100 * 1024 * 1024, // 100MB
			AllowedTypes: map[string][]string{
				".pdf": {"application/pdf"},
			},
		}
	}

	return &UploadValidator{
		logger: logger,
		config: config,
	}
}

// Validate 验证上传的文件内容
func (v *UploadValidator) Validate(filename string, data []byte) *ValidationResult {
	hash := sha256.Sum256(data)
	result := &ValidationResult{
		IsValid: true,
		Errors:  make([]ValidationError, 0),
		FileInfo: FileInfo{
			Filename:  filename,
			Size:      int64(len(data)),
			Extension: strings.ToLower(filepath.Ext(filename)),
			MimeType:  http.DetectContentType(data),
			Hash:      hex.EncodeToString(hash[:]),
		},
	}

	for _, check := range []func(FileInfo, []byte) []ValidationError{
		v.performBasicValidation,
		v.validateMimeType,
		v.validatePDF,
	} {
		if errs := check(result.FileInfo, data); len(errs) > 0 {
			result.IsValid = false
			result.Errors = append(result.Errors, errs...)
		}
	}

	if !result.IsValid {
		v.logger.Warn("Upload rejected",
			logger.String("filename", filename),
			logger.String("hash", result.FileInfo.Hash),
			logger.Any("errors", result.Errors),
		)
	}
	return result
}

// ValidateFormat 验证输出格式名称
func (v *UploadValidator) ValidateFormat(format string) error {
	if !formatPattern.MatchString(format) {
		return ValidationError{
			Code:    "INVALID_FORMAT",
			Message: fmt.Sprintf("format %q must be 1-10 letters or digits", format),
			Field:   "format",
		}
	}
	return nil
}

// 基本验证
func (v *UploadValidator) performBasicValidation(info FileInfo, _ []byte) []ValidationError {
	var errors []ValidationError

	if info.Size == 0 {
		errors = append(errors, ValidationError{
			Code:    "EMPTY_FILE",
			Message: "File is empty",
			Field:   "size",
		})
	}
	if info.Size > v.config.MaxFileSize {
		errors = append(errors, ValidationError{
			Code:    "FILE_TOO_LARGE",
			Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", v.config.MaxFileSize),
			Field:   "size",
		})
	}
	if _, ok := v.config.AllowedTypes[info.Extension]; !ok {
		errors = append(errors, ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("File type %s is not allowed", info.Extension),
			Field:   "extension",
		})
	}

	return errors
}

// MIME类型验证
func (v *UploadValidator) validateMimeType(info FileInfo, _ []byte) []ValidationError {
	allowed, ok := v.config.AllowedTypes[info.Extension]
	if !ok {
		return nil // 已在基本验证中报告
	}

	for _, mime := range allowed {
		if mime == info.MimeType {
			return nil
		}
	}
	return []ValidationError{{
		Code:    "INVALID_MIME_TYPE",
		Message: fmt.Sprintf("Invalid MIME type %s for extension %s", info.MimeType, info.Extension),
		Field:   "mimeType",
	}}
}

// PDF特定验证: 文件头与结尾标记
func (v *UploadValidator) validatePDF(info FileInfo, data []byte) []ValidationError {
	if info.Extension != ".pdf" || len(data) == 0 {
		return nil
	}

	var errors []ValidationError
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		errors = append(errors, ValidationError{
			Code:    "INVALID_PDF_HEADER",
			Message: "File does not start with a PDF header",
			Field:   "content",
		})
	}
	tail := data
	if len(tail) > 1024 {
		tail = tail[len(tail)-1024:]
	}
	if !bytes.Contains(tail, []byte("%%EOF")) {
		errors = append(errors, ValidationError{
			Code:    "TRUNCATED_PDF",
			Message: "File is missing the PDF end-of-file marker",
			Field:   "content",
		})
	}
	return errors
}
