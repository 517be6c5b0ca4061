package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"micro-agent-go/internal/config"
	"micro-agent-go/pkg/storage"
)

// attachmentURLExpiry 是附件下载链接的有效期。
const attachmentURLExpiry = 24 * time.Hour

// Attachment 是一次附件上传的结果。
type Attachment struct {
	ObjectName string `json:"objectName"`
	FileName   string `json:"fileName"`
	URL        string `json:"url"`
}

// AttachmentService 负责聊天附件在对象存储中的存取。
type AttachmentService interface {
	Upload(ctx context.Context, userID uint, fileName string, reader io.Reader, size int64, contentType string) (*Attachment, error)
	GetURL(objectName string) (string, error)
	Delete(ctx context.Context, objectName string) error
}

type attachmentService struct {
	cfg config.MinIOConfig
}

// NewAttachmentService 创建一个新的 AttachmentService 实例。
func NewAttachmentService(cfg config.MinIOConfig) AttachmentService {
	return &attachmentService{cfg: cfg}
}

// Upload 上传附件。对象名按用户隔离并随机化，避免同名覆盖。
func (s *attachmentService) Upload(ctx context.Context, userID uint, fileName string, reader io.Reader, size int64, contentType string) (*Attachment, error) {
	ext := filepath.Ext(fileName)
	objectName := fmt.Sprintf("attachments/%d/%s%s", userID, strings.ReplaceAll(uuid.NewString(), "-", ""), ext)

	if err := storage.PutObject(ctx, s.cfg.BucketName, objectName, reader, size, contentType); err != nil {
		return nil, fmt.Errorf("上传附件失败: %w", err)
	}

	url, err := storage.GetPresignedURL(s.cfg.BucketName, objectName, attachmentURLExpiry)
	if err != nil {
		return nil, fmt.Errorf("生成附件下载链接失败: %w", err)
	}

	return &Attachment{ObjectName: objectName, FileName: fileName, URL: url}, nil
}

func (s *attachmentService) GetURL(objectName string) (string, error) {
	return storage.GetPresignedURL(s.cfg.BucketName, objectName, attachmentURLExpiry)
}

func (s *attachmentService) Delete(ctx context.Context, objectName string) error {
	return storage.RemoveObject(ctx, s.cfg.BucketName, objectName)
}
