// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"

	"micro-agent-go/internal/model"

	"gorm.io/gorm"
)

// MicroAgentRepository 定义了智能体订阅数据的持久化操作接口。
type MicroAgentRepository interface {
	Create(ctx context.Context, agent *model.MicroAgent) error
	FindByID(ctx context.Context, id uint) (*model.MicroAgent, error)
	FindByUserID(ctx context.Context, userID uint) ([]model.MicroAgent, error)
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*model.MicroAgent, error)
	Update(ctx context.Context, agent *model.MicroAgent) error
}

type microAgentRepository struct {
	db *gorm.DB
}

// NewMicroAgentRepository 创建一个新的 MicroAgentRepository 实例。
func NewMicroAgentRepository(db *gorm.DB) MicroAgentRepository {
	return &microAgentRepository{db: db}
}

func (r *microAgentRepository) Create(ctx context.Context, agent *model.MicroAgent) error {
	return r.db.WithContext(ctx).Create(agent).Error
}

func (r *microAgentRepository) FindByID(ctx context.Context, id uint) (*model.MicroAgent, error) {
	var agent model.MicroAgent
	err := r.db.WithContext(ctx).First(&agent, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *microAgentRepository) FindByUserID(ctx context.Context, userID uint) ([]model.MicroAgent, error) {
	var agents []model.MicroAgent
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&agents).Error
	return agents, err
}

func (r *microAgentRepository) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*model.MicroAgent, error) {
	var agent model.MicroAgent
	err := r.db.WithContext(ctx).Where("stripe_subscription_id = ?", subscriptionID).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &agent, nil
}

func (r *microAgentRepository) Update(ctx context.Context, agent *model.MicroAgent) error {
	return r.db.WithContext(ctx).Save(agent).Error
}
