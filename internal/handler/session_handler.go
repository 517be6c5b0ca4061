package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"micro-agent-go/internal/middleware"
	"micro-agent-go/internal/service"
)

// SessionHandler 负责托管聊天会话的创建与刷新。
type SessionHandler struct {
	chatService service.ChatService
}

// NewSessionHandler 创建一个新的 SessionHandler 实例。
func NewSessionHandler(chatService service.ChatService) *SessionHandler {
	return &SessionHandler{chatService: chatService}
}

// Create 为当前用户创建一个托管聊天会话。
func (h *SessionHandler) Create(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息"})
		return
	}

	session, err := h.chatService.CreateSession(c.Request.Context(), user)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "创建会话失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": session})
}

// RefreshSessionRequest 定义了刷新会话 API 的请求体结构。
type RefreshSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// Refresh 先尽力取消旧会话再创建新会话。
func (h *SessionHandler) Refresh(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息"})
		return
	}

	var req RefreshSessionRequest
	_ = c.ShouldBindJSON(&req)

	session, err := h.chatService.RefreshSession(c.Request.Context(), user, req.SessionID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"code": http.StatusBadGateway, "message": "刷新会话失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": session})
}
