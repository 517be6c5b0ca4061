package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/subscription"

	"micro-agent-go/internal/config"
	"micro-agent-go/internal/model"
	"micro-agent-go/internal/repository"
	"micro-agent-go/pkg/log"
)

var (
	// ErrAgentNotFound 表示订阅记录不存在。
	ErrAgentNotFound = errors.New("订阅记录不存在")
	// ErrAgentForbidden 表示订阅记录不属于当前用户。
	ErrAgentForbidden = errors.New("无权操作该订阅")
)

// MicroAgentService 负责智能体订阅的生命周期：发起订阅、查询、取消，
// 以及响应支付侧 webhook 事件的状态流转。支付会话由前端直连支付侧创建，
// 订阅记录 ID 作为 client_reference_id 携带，完成后经 webhook 回流激活。
type MicroAgentService interface {
	Subscribe(ctx context.Context, userID uint, agentName, workflowID, priceID string) (*model.MicroAgent, error)
	ListByUser(ctx context.Context, userID uint) ([]model.MicroAgent, error)
	Cancel(ctx context.Context, userID, agentID uint) (*model.MicroAgent, error)
	// ActivateFromCheckout 在 checkout.session.completed 事件到达时激活订阅。
	ActivateFromCheckout(ctx context.Context, agentID uint, subscriptionID string) error
	// UpdateStatusBySubscription 根据订阅 ID 更新订阅状态（invoice/subscription 事件）。
	UpdateStatusBySubscription(ctx context.Context, subscriptionID, status string) error
}

type microAgentService struct {
	agents repository.MicroAgentRepository
	cfg    config.StripeConfig
}

// NewMicroAgentService 创建一个新的 MicroAgentService 实例。
// Stripe SDK 使用包级密钥，在此处一并注入。
func NewMicroAgentService(agents repository.MicroAgentRepository, cfg config.StripeConfig) MicroAgentService {
	stripe.Key = cfg.SecretKey
	return &microAgentService{agents: agents, cfg: cfg}
}

// Subscribe 创建一条 pending 状态的订阅记录。支付完成的
// checkout.session.completed 事件到达后记录被激活。
func (s *microAgentService) Subscribe(ctx context.Context, userID uint, agentName, workflowID, priceID string) (*model.MicroAgent, error) {
	agent := &model.MicroAgent{
		UserID:        userID,
		AgentName:     agentName,
		WorkflowID:    workflowID,
		StripePriceID: priceID,
		Status:        model.MicroAgentStatusPending,
	}
	if err := s.agents.Create(ctx, agent); err != nil {
		return nil, fmt.Errorf("创建订阅记录失败: %w", err)
	}
	return agent, nil
}

func (s *microAgentService) ListByUser(ctx context.Context, userID uint) ([]model.MicroAgent, error) {
	return s.agents.FindByUserID(ctx, userID)
}

// Cancel 取消订阅。远端取消失败只记录日志，本地状态仍然流转，
// 最终状态以 customer.subscription.deleted 事件为准。
func (s *microAgentService) Cancel(ctx context.Context, userID, agentID uint) (*model.MicroAgent, error) {
	agent, err := s.agents.FindByID(ctx, agentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询订阅记录失败: %w", err)
	}
	if agent.UserID != userID {
		return nil, ErrAgentForbidden
	}

	if agent.StripeSubscriptionID != "" {
		if _, err := subscription.Cancel(agent.StripeSubscriptionID, nil); err != nil {
			log.Warnf("远端取消订阅失败: subscriptionID=%s, error=%v", agent.StripeSubscriptionID, err)
		}
	}

	agent.Status = model.MicroAgentStatusCanceled
	if err := s.agents.Update(ctx, agent); err != nil {
		return nil, fmt.Errorf("更新订阅状态失败: %w", err)
	}
	return agent, nil
}

func (s *microAgentService) ActivateFromCheckout(ctx context.Context, agentID uint, subscriptionID string) error {
	agent, err := s.agents.FindByID(ctx, agentID)
	if err != nil {
		return fmt.Errorf("查询订阅记录失败: agentID=%d, %w", agentID, err)
	}

	agent.StripeSubscriptionID = subscriptionID
	agent.Status = model.MicroAgentStatusActive
	if err := s.agents.Update(ctx, agent); err != nil {
		return fmt.Errorf("激活订阅失败: agentID=%d, %w", agentID, err)
	}
	log.Infof("订阅已激活: agentID=%d, subscriptionID=%s", agentID, subscriptionID)
	return nil
}

func (s *microAgentService) UpdateStatusBySubscription(ctx context.Context, subscriptionID, status string) error {
	agent, err := s.agents.FindBySubscriptionID(ctx, subscriptionID)
	if errors.Is(err, repository.ErrNotFound) {
		// 未知订阅的事件直接忽略
		log.Warnf("收到未知订阅的事件: subscriptionID=%s", subscriptionID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("查询订阅记录失败: subscriptionID=%s, %w", subscriptionID, err)
	}

	agent.Status = status
	if err := s.agents.Update(ctx, agent); err != nil {
		return fmt.Errorf("更新订阅状态失败: subscriptionID=%s, %w", subscriptionID, err)
	}
	return nil
}
