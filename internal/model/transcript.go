// Package model 包含了应用的数据模型定义。
package model

import "time"

// ChatTranscriptMessage 定义了 chat_transcript_messages 表的 ORM 模型。
// item_id 上的唯一索引保证同一条逻辑消息至多落一行；重复镜像走更新路径。
type ChatTranscriptMessage struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"userId"`
	ThreadID  string    `gorm:"type:varchar(64);index;not null" json:"threadId"`
	ItemID    string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"itemId"`
	Role      string    `gorm:"type:varchar(20);not null" json:"role"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ChatTranscriptMessage) TableName() string {
	return "chat_transcript_messages"
}
