// Package model 包含了应用的数据模型定义。
package model

import "time"

// UserVectorStore 定义了 user_vector_store 表的 ORM 模型。
// 每个用户至多一行，user_id 为主键：并发首次创建时第二个插入会因
// 主键冲突失败，由上层捕获冲突后重新读取获胜行。
type UserVectorStore struct {
	UserID        uint      `gorm:"primaryKey" json:"userId"`
	VectorStoreID string    `gorm:"type:varchar(255);not null" json:"vectorStoreId"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (UserVectorStore) TableName() string {
	return "user_vector_store"
}
