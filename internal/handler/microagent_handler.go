package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"micro-agent-go/internal/middleware"
	"micro-agent-go/internal/service"
	"micro-agent-go/pkg/log"
)

// MicroAgentHandler 负责智能体订阅相关的 API 请求。
type MicroAgentHandler struct {
	agentService service.MicroAgentService
}

// NewMicroAgentHandler 创建一个新的 MicroAgentHandler 实例。
func NewMicroAgentHandler(agentService service.MicroAgentService) *MicroAgentHandler {
	return &MicroAgentHandler{agentService: agentService}
}

// SubscribeRequest 定义了发起订阅 API 的请求体结构。
type SubscribeRequest struct {
	AgentName  string `json:"agentName" binding:"required"`
	WorkflowID string `json:"workflowId" binding:"required"`
	PriceID    string `json:"priceId" binding:"required"`
}

// Subscribe 发起一笔订阅，返回 pending 状态的订阅记录。
func (h *MicroAgentHandler) Subscribe(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息"})
		return
	}

	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载"})
		return
	}

	agent, err := h.agentService.Subscribe(c.Request.Context(), user.ID, req.AgentName, req.WorkflowID, req.PriceID)
	if err != nil {
		log.Errorf("发起订阅失败: userID=%d, error=%v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "发起订阅失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": agent})
}

// List 返回当前用户的全部订阅。
func (h *MicroAgentHandler) List(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息"})
		return
	}

	agents, err := h.agentService.ListByUser(c.Request.Context(), user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询订阅列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": agents})
}

// Cancel 取消当前用户的一笔订阅。
func (h *MicroAgentHandler) Cancel(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息"})
		return
	}

	agentID, err := strconv.ParseUint(c.Param("agentId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的订阅 ID"})
		return
	}

	agent, err := h.agentService.Cancel(c.Request.Context(), user.ID, uint(agentID))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAgentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": err.Error()})
		case errors.Is(err, service.ErrAgentForbidden):
			c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "取消订阅失败"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": agent})
}
