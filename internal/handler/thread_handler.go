package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"micro-agent-go/internal/repository"
	"micro-agent-go/internal/service"
)

// ThreadHandler 负责会话线程及线程内消息的管理接口。
type ThreadHandler struct {
	threadService service.ThreadService
}

// NewThreadHandler 创建一个新的 ThreadHandler 实例。
func NewThreadHandler(threadService service.ThreadService) *ThreadHandler {
	return &ThreadHandler{threadService: threadService}
}

// CreateThreadRequest 定义了创建线程 API 的请求体结构。
type CreateThreadRequest struct {
	Metadata map[string]interface{} `json:"metadata"`
}

// Create 创建一个新的会话线程。
func (h *ThreadHandler) Create(c *gin.Context) {
	var req CreateThreadRequest
	// 请求体可以为空
	_ = c.ShouldBindJSON(&req)

	thread, err := h.threadService.CreateThread(c.Request.Context(), req.Metadata)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "创建线程失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": thread})
}

// Get 查询单个线程。
func (h *ThreadHandler) Get(c *gin.Context) {
	thread, err := h.threadService.GetThread(c.Request.Context(), c.Param("threadId"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": thread})
}

// List 按游标分页列出线程。
func (h *ThreadHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	page, err := h.threadService.ListThreads(c.Request.Context(), limit, c.Query("after"), c.DefaultQuery("order", "desc"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询线程列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": page})
}

// UpdateMetadata 替换线程的元数据。
func (h *ThreadHandler) UpdateMetadata(c *gin.Context) {
	var req CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的请求负载"})
		return
	}

	thread, err := h.threadService.UpdateThreadMetadata(c.Request.Context(), c.Param("threadId"), req.Metadata)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": thread})
}

// Delete 删除线程及其全部消息，重复删除视为成功。
func (h *ThreadHandler) Delete(c *gin.Context) {
	if err := h.threadService.DeleteThread(c.Request.Context(), c.Param("threadId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除线程失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

// ListItems 按游标分页列出线程内的消息。
func (h *ThreadHandler) ListItems(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	page, err := h.threadService.ListItems(c.Request.Context(), c.Param("threadId"), limit, c.Query("after"), c.DefaultQuery("order", "asc"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "查询消息列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": page})
}

// GetItem 查询线程内的单条消息。
func (h *ThreadHandler) GetItem(c *gin.Context) {
	item, err := h.threadService.GetItem(c.Request.Context(), c.Param("threadId"), c.Param("itemId"))
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": item})
}

// DeleteItem 删除线程内的单条消息，重复删除视为成功。
func (h *ThreadHandler) DeleteItem(c *gin.Context) {
	if err := h.threadService.DeleteItem(c.Request.Context(), c.Param("threadId"), c.Param("itemId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "删除消息失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success"})
}

func (h *ThreadHandler) renderError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": "记录不存在"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "服务内部错误"})
}
