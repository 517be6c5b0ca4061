package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"micro-agent-go/internal/repository"
	"micro-agent-go/internal/service"
	"micro-agent-go/pkg/log"
	"micro-agent-go/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// ChatHandler 负责对话接口：REST 单轮对话与 WebSocket 长连接。
type ChatHandler struct {
	chatService   service.ChatService
	userService   service.UserService
	jwtManager    *token.JWTManager
	stopToken     string
	stopTokenLock sync.Mutex
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// ChatRequest 定义了 REST 单轮对话的请求体结构。
type ChatRequest struct {
	ThreadID string `json:"threadId" binding:"required"`
	Message  string `json:"message" binding:"required"`
}

// Respond 处理一轮 REST 对话请求。
func (h *ChatHandler) Respond(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载：threadId 和 message 不能为空"})
		return
	}

	turn, err := h.chatService.Respond(c.Request.Context(), req.ThreadID, req.Message)
	if err != nil {
		h.renderChatError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data": gin.H{
			"userItem":      turn.UserItem,
			"assistantItem": turn.AssistantItem,
		},
	})
}

// chatErrorMessage 把对话主路径的错误翻译成对用户可见的提示。
// REST 与 WebSocket 两条出口共用，保证可重试信号一致。
func chatErrorMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrWorkflowNotConfigured):
		return "对话服务未配置"
	case errors.Is(err, service.ErrAssistantUnavailable):
		return "助手暂时不可用"
	case errors.Is(err, service.ErrEmptyResponse):
		return "助手未返回任何内容"
	}
	return err.Error()
}

func (h *ChatHandler) renderChatError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrWorkflowNotConfigured):
		status = http.StatusServiceUnavailable
	case errors.Is(err, service.ErrAssistantUnavailable), errors.Is(err, service.ErrEmptyResponse):
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"code": status, "message": chatErrorMessage(err)})
}

// GetWebsocketStopToken 返回一个可用于中断在途响应的令牌。
func (h *ChatHandler) GetWebsocketStopToken(c *gin.Context) {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	// 在真实的多服务器设置中，这应该在 Redis 中生成和存储
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"cmdToken": h.stopToken}})
}

// wsChatMessage 是 WebSocket 上一条对话消息的结构。
type wsChatMessage struct {
	Type             string `json:"type"`
	ThreadID         string `json:"threadId"`
	Message          string `json:"message"`
	InternalCmdToken string `json:"_internal_cmd_token"`
}

// wsSession 持有单个 WebSocket 连接的状态：串行化写入的锁与
// 在途对话的取消函数。gorilla/websocket 只允许一个并发写入方，
// 读循环与对话协程的所有写操作都经由 write 排队。
type wsSession struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (s *wsSession) write(payload map[string]interface{}) {
	b, _ := json.Marshal(payload)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("向 WebSocket 写入消息失败: %v", err)
	}
}

func (s *wsSession) writeError(message string) {
	s.write(map[string]interface{}{
		"type":      "error",
		"message":   message,
		"timestamp": time.Now().UnixMilli(),
	})
}

// begin 登记一轮新对话的取消函数；已有在途对话时返回 false。
func (s *wsSession) begin(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	s.cancel = cancel
	return true
}

// finish 结束当前对话并释放其 context。重复调用是无害的。
func (s *wsSession) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// stop 取消在途对话，返回是否确实有对话被取消。
func (s *wsSession) stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// Handle 处理一个传入的 WebSocket 连接。token 放在路径参数中，
// 因为浏览器的 WebSocket API 不支持自定义请求头。
// 每轮对话在独立协程中执行，读循环保持空闲以便随时接收停止指令。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	user, err := h.userService.GetByID(claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}

	session := &wsSession{conn: conn}
	var wg sync.WaitGroup

	defer conn.Close()
	defer wg.Wait()
	// 连接断开时中断仍在途的对话，避免泄漏轮询协程
	defer session.finish()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	// 转录镜像从 request context 取当前用户
	baseCtx := repository.WithUser(c.Request.Context(), user)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var msg wsChatMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			session.writeError("无效的消息格式")
			continue
		}

		// 停止指令: {"type":"stop","_internal_cmd_token":"..."}
		if msg.Type == "stop" {
			h.stopTokenLock.Lock()
			valid := msg.InternalCmdToken == h.stopToken
			h.stopTokenLock.Unlock()
			if valid && session.stop() {
				session.write(map[string]interface{}{
					"type":      "stop",
					"message":   "响应已停止",
					"timestamp": time.Now().UnixMilli(),
				})
			}
			continue
		}

		if msg.ThreadID == "" || msg.Message == "" {
			session.writeError("threadId 和 message 不能为空")
			continue
		}

		runCtx, cancel := context.WithCancel(baseCtx)
		if !session.begin(cancel) {
			cancel()
			session.writeError("上一轮响应尚未完成")
			continue
		}

		wg.Add(1)
		go func(threadID, message string) {
			defer wg.Done()
			defer session.finish()

			turn, err := h.chatService.Respond(runCtx, threadID, message)
			if err != nil {
				// 停止指令触发的取消已单独回执，不再追加错误帧
				if runCtx.Err() != nil {
					return
				}
				log.Errorf("处理对话失败: %v", err)
				session.writeError(chatErrorMessage(err))
				return
			}

			session.write(map[string]interface{}{
				"type":          "reply",
				"threadId":      threadID,
				"userItem":      turn.UserItem,
				"assistantItem": turn.AssistantItem,
				"timestamp":     time.Now().UnixMilli(),
			})
		}(msg.ThreadID, msg.Message)
	}
}
