package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"micro-agent-go/internal/middleware"
	"micro-agent-go/internal/service"
)

// TranscriptHandler 负责转录消息的查询接口。
type TranscriptHandler struct {
	transcriptService service.TranscriptService
}

// NewTranscriptHandler 创建一个新的 TranscriptHandler 实例。
func NewTranscriptHandler(transcriptService service.TranscriptService) *TranscriptHandler {
	return &TranscriptHandler{transcriptService: transcriptService}
}

// List 返回当前用户的转录消息，时间正序，单页上限 500 条。
func (h *TranscriptHandler) List(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, err := h.transcriptService.ListForUser(c.Request.Context(), user.ID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询转录消息失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": records})
}
