// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"strings"

	"micro-agent-go/internal/model"

	"gorm.io/gorm"
)

// ErrBindingConflict 表示绑定行插入时撞上了主键冲突：另一个并发调用已经
// 抢先创建。调用方应当重新读取获胜行，而不是把错误抛给用户。
var ErrBindingConflict = errors.New("vector store binding already exists")

// BindingRepository 定义了用户与外部记忆资源绑定关系的持久化操作接口。
type BindingRepository interface {
	FindByUserID(ctx context.Context, userID uint) (*model.UserVectorStore, error)
	// Insert 插入新的绑定行。user_id 为主键，并发的第二次插入返回
	// ErrBindingConflict，由存储层的唯一性约束而非进程内锁保证正确性。
	Insert(ctx context.Context, binding *model.UserVectorStore) error
}

type bindingRepository struct {
	db *gorm.DB
}

// NewBindingRepository 创建一个新的 BindingRepository 实例。
func NewBindingRepository(db *gorm.DB) BindingRepository {
	return &bindingRepository{db: db}
}

// FindByUserID 按用户标识查找绑定行，不存在时返回 ErrNotFound。
func (r *bindingRepository) FindByUserID(ctx context.Context, userID uint) (*model.UserVectorStore, error) {
	var binding model.UserVectorStore
	err := r.db.WithContext(ctx).First(&binding, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

// Insert 插入绑定行并识别唯一性冲突。
func (r *bindingRepository) Insert(ctx context.Context, binding *model.UserVectorStore) error {
	err := r.db.WithContext(ctx).Create(binding).Error
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "Duplicate entry") {
		return ErrBindingConflict
	}
	return err
}
