package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"micro-agent-go/internal/config"
	"micro-agent-go/internal/model"
	"micro-agent-go/internal/service"
	"micro-agent-go/pkg/log"
)

// WebhookHandler 负责接收并处理支付侧的 webhook 回调。
type WebhookHandler struct {
	agentService service.MicroAgentService
	cfg          config.StripeConfig
}

// NewWebhookHandler 创建一个新的 WebhookHandler 实例。
func NewWebhookHandler(agentService service.MicroAgentService, cfg config.StripeConfig) *WebhookHandler {
	return &WebhookHandler{agentService: agentService, cfg: cfg}
}

// HandleStripe 校验签名并分发 Stripe 事件。
// 处理失败返回非 2xx，让 Stripe 按其策略重试投递。
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "读取请求体失败"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.cfg.WebhookSecret)
	if err != nil {
		log.Warnf("Stripe webhook 签名校验失败: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "签名校验失败"})
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		err = h.handleCheckoutCompleted(c, event)
	case "invoice.paid":
		err = h.handleInvoiceStatus(c, event, model.MicroAgentStatusActive)
	case "invoice.payment_failed":
		err = h.handleInvoiceStatus(c, event, model.MicroAgentStatusPastDue)
	case "customer.subscription.deleted":
		err = h.handleSubscriptionDeleted(c, event)
	default:
		// 未订阅处理的事件类型直接确认
		log.Debugf("忽略 Stripe 事件: type=%s", event.Type)
	}

	if err != nil {
		log.Errorf("处理 Stripe 事件失败: type=%s, error=%v", event.Type, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "事件处理失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

func (h *WebhookHandler) handleCheckoutCompleted(c *gin.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return err
	}

	agentID, err := strconv.ParseUint(session.ClientReferenceID, 10, 64)
	if err != nil {
		// 不携带可识别记录的会话直接确认，避免无意义的重试
		log.Warnf("checkout 会话缺少有效的 client_reference_id: %s", session.ClientReferenceID)
		return nil
	}

	subscriptionID := ""
	if session.Subscription != nil {
		subscriptionID = session.Subscription.ID
	}
	return h.agentService.ActivateFromCheckout(c.Request.Context(), uint(agentID), subscriptionID)
}

func (h *WebhookHandler) handleInvoiceStatus(c *gin.Context, event stripe.Event, status string) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return err
	}
	if invoice.Subscription == nil || invoice.Subscription.ID == "" {
		return nil
	}
	return h.agentService.UpdateStatusBySubscription(c.Request.Context(), invoice.Subscription.ID, status)
}

func (h *WebhookHandler) handleSubscriptionDeleted(c *gin.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return err
	}
	return h.agentService.UpdateStatusBySubscription(c.Request.Context(), sub.ID, model.MicroAgentStatusCanceled)
}
