// Package model 包含了应用的数据模型定义。
package model

import "time"

// 订阅生命周期状态。
const (
	MicroAgentStatusPending  = "pending"
	MicroAgentStatusActive   = "active"
	MicroAgentStatusCanceled = "canceled"
	MicroAgentStatusPastDue  = "past_due"
)

// MicroAgent 定义了 micro_agents 表的 ORM 模型，记录用户订阅的智能体。
type MicroAgent struct {
	ID                   uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID               uint      `gorm:"index;not null" json:"userId"`
	AgentName            string    `gorm:"type:varchar(255);not null" json:"agentName"`
	WorkflowID           string    `gorm:"type:varchar(255);not null" json:"workflowId"`
	StripePriceID        string    `gorm:"type:varchar(255);not null" json:"stripePriceId"`
	StripeSubscriptionID string    `gorm:"type:varchar(255);index" json:"stripeSubscriptionId,omitempty"`
	Status               string    `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (MicroAgent) TableName() string {
	return "micro_agents"
}
