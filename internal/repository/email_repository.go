// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"

	"micro-agent-go/internal/model"

	"gorm.io/gorm"
)

// EmailRepository 定义了出站邮件队列的持久化操作接口。
type EmailRepository interface {
	Create(ctx context.Context, email *model.OutboundEmail) error
	FindByID(ctx context.Context, id uint) (*model.OutboundEmail, error)
	UpdateStatus(ctx context.Context, id uint, status string) error
}

type emailRepository struct {
	db *gorm.DB
}

// NewEmailRepository 创建一个新的 EmailRepository 实例。
func NewEmailRepository(db *gorm.DB) EmailRepository {
	return &emailRepository{db: db}
}

func (r *emailRepository) Create(ctx context.Context, email *model.OutboundEmail) error {
	return r.db.WithContext(ctx).Create(email).Error
}

func (r *emailRepository) FindByID(ctx context.Context, id uint) (*model.OutboundEmail, error) {
	var email model.OutboundEmail
	err := r.db.WithContext(ctx).First(&email, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &email, nil
}

func (r *emailRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	return r.db.WithContext(ctx).Model(&model.OutboundEmail{}).
		Where("id = ?", id).
		Update("status", status).Error
}
