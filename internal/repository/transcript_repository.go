// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"

	"micro-agent-go/internal/model"

	"gorm.io/gorm"
)

// TranscriptRepository 定义了会话转录消息的持久化操作接口。
type TranscriptRepository interface {
	// UpsertByItemID 按 item_id 幂等写入：已存在则原地更新角色、正文与
	// 会话标识，否则插入新行。重复镜像不会产生重复行。
	UpsertByItemID(ctx context.Context, record *model.ChatTranscriptMessage) error
	// FindByUser 按存储顺序（新在前）分页返回用户的转录消息。
	FindByUser(ctx context.Context, userID uint, limit, offset int) ([]model.ChatTranscriptMessage, error)
}

type transcriptRepository struct {
	db *gorm.DB
}

// NewTranscriptRepository 创建一个新的 TranscriptRepository 实例。
func NewTranscriptRepository(db *gorm.DB) TranscriptRepository {
	return &transcriptRepository{db: db}
}

// UpsertByItemID 实现按唯一键的幂等写入。
func (r *transcriptRepository) UpsertByItemID(ctx context.Context, record *model.ChatTranscriptMessage) error {
	var existing model.ChatTranscriptMessage
	err := r.db.WithContext(ctx).Where("item_id = ?", record.ItemID).First(&existing).Error
	if err == nil {
		existing.Role = record.Role
		existing.Message = record.Message
		existing.ThreadID = record.ThreadID
		return r.db.WithContext(ctx).Save(&existing).Error
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return r.db.WithContext(ctx).Create(record).Error
}

// FindByUser 按创建时间倒序分页检索。
func (r *transcriptRepository) FindByUser(ctx context.Context, userID uint, limit, offset int) ([]model.ChatTranscriptMessage, error) {
	var records []model.ChatTranscriptMessage
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&records).Error
	return records, err
}
