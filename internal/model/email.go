// Package model 包含了应用的数据模型定义。
package model

import "time"

// 出站邮件投递状态。
const (
	EmailStatusQueued = "queued"
	EmailStatusSent   = "sent"
	EmailStatusFailed = "failed"
)

// OutboundEmail 定义了 outbound_emails 表的 ORM 模型。
// 邮件先入库再经 Kafka 异步投递，投递结果回写 status。
type OutboundEmail struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ToAddress string    `gorm:"type:varchar(255);not null" json:"toAddress"`
	Subject   string    `gorm:"type:varchar(255);not null" json:"subject"`
	Body      string    `gorm:"type:text;not null" json:"body"`
	Status    string    `gorm:"type:varchar(20);not null;default:'queued'" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (OutboundEmail) TableName() string {
	return "outbound_emails"
}
