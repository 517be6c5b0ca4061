package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"micro-agent-go/internal/config"
	"micro-agent-go/internal/model"
	"micro-agent-go/internal/repository"
	"micro-agent-go/pkg/log"
	"micro-agent-go/pkg/workflow"
)

// historyWindowSize 是每轮对话发送给工作流的历史消息条数上限（时间正序的最近 N 条）。
const historyWindowSize = 250

var (
	// ErrWorkflowNotConfigured 表示未配置工作流 ID，无法发起对话。
	ErrWorkflowNotConfigured = errors.New("workflow id is not configured")
	// ErrAssistantUnavailable 表示工作流调用失败。
	ErrAssistantUnavailable = errors.New("assistant is unavailable")
	// ErrEmptyResponse 表示工作流执行成功但未产出任何助手文本。
	ErrEmptyResponse = errors.New("assistant returned an empty response")
)

// ChatTurn 是一轮对话的结果：本轮写入的用户消息与助手回复。
type ChatTurn struct {
	UserItem      model.ThreadItem
	AssistantItem model.ThreadItem
}

// ChatService 负责对话主路径：把用户输入落入消息存储、携带历史
// 调用托管工作流、再把助手回复落回存储。
type ChatService interface {
	// Respond 执行一轮对话并返回本轮的两条消息。
	Respond(ctx context.Context, threadID, userText string) (*ChatTurn, error)
	// CreateSession 为当前用户创建一个托管聊天会话。
	CreateSession(ctx context.Context, user *model.User) (*workflow.Session, error)
	// RefreshSession 先尽力取消旧会话再创建新会话。
	RefreshSession(ctx context.Context, user *model.User, oldSessionID string) (*workflow.Session, error)
}

type chatService struct {
	store  repository.ThreadStore
	client workflow.Client
	memory MemoryService
	cfg    config.WorkflowConfig
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(store repository.ThreadStore, client workflow.Client, memory MemoryService, cfg config.WorkflowConfig) ChatService {
	return &chatService{
		store:  store,
		client: client,
		memory: memory,
		cfg:    cfg,
	}
}

// newItemID 生成一条消息的标识，形如 msg_1a2b3c4d。
func newItemID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Respond 实现一轮完整对话。用户消息先落库再调用工作流，
// 因此即使工作流失败，用户输入也已经保留在存储中。
func (s *chatService) Respond(ctx context.Context, threadID, userText string) (*ChatTurn, error) {
	if s.cfg.WorkflowID == "" {
		return nil, ErrWorkflowNotConfigured
	}
	userText = strings.TrimSpace(userText)
	if userText == "" {
		return nil, errors.New("message text is empty")
	}

	userItem := model.ThreadItem{
		ID:       newItemID(),
		ThreadID: threadID,
		Role:     model.RoleUser,
		Content: []model.ContentPart{
			{Type: "input_text", Text: userText},
		},
		Status:    model.StatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendItem(ctx, threadID, userItem); err != nil {
		return nil, fmt.Errorf("保存用户消息失败: %w", err)
	}

	messages := s.loadHistory(ctx, threadID, userItem)

	req := workflow.RunRequest{
		WorkflowID: s.cfg.WorkflowID,
		Version:    s.cfg.Version,
		Messages:   messages,
		ThreadID:   threadID,
	}
	if user := repository.UserFromContext(ctx); user != nil {
		req.UserID = fmt.Sprintf("%d", user.ID)
		// 记忆资源缺失不阻塞对话，工作流在无记忆时照常运行
		if resourceID, err := s.memory.GetBindingID(ctx, user.ID); err == nil {
			req.MemoryResourceID = resourceID
		} else if !errors.Is(err, repository.ErrNotFound) {
			log.Warnf("查询记忆资源绑定失败: %v", err)
		}
	}

	result, err := s.client.RunWorkflow(ctx, req)
	if err != nil {
		log.Errorw("工作流调用失败", "threadID", threadID, "error", err)
		return nil, ErrAssistantUnavailable
	}

	replyText := workflow.ExtractOutputText(result)
	if replyText == "" {
		return nil, ErrEmptyResponse
	}

	assistantItem := model.ThreadItem{
		ID:       newItemID(),
		ThreadID: threadID,
		Role:     model.RoleAssistant,
		Content: []model.ContentPart{
			{Type: "output_text", Text: replyText},
		},
		Status:    model.StatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendItem(ctx, threadID, assistantItem); err != nil {
		return nil, fmt.Errorf("保存助手回复失败: %w", err)
	}

	return &ChatTurn{UserItem: userItem, AssistantItem: assistantItem}, nil
}

// loadHistory 读取线程的时间正序历史并转换成工作流消息。
// 存储读取失败只记录日志，降级为仅携带本轮用户消息。
func (s *chatService) loadHistory(ctx context.Context, threadID string, current model.ThreadItem) []workflow.Message {
	page, err := s.store.ListItems(ctx, threadID, historyWindowSize, "", repository.OrderAsc)

	var items []model.ThreadItem
	if err != nil {
		log.Warnf("读取线程 %s 历史失败: %v", threadID, err)
	} else {
		items = page.Data
	}

	messages := make([]workflow.Message, 0, len(items)+1)
	sawCurrent := false
	for _, item := range items {
		if item.Role != model.RoleUser && item.Role != model.RoleAssistant {
			continue
		}
		text := model.ExtractText(item.Content)
		if text == "" {
			continue
		}
		if item.ID == current.ID {
			sawCurrent = true
		}
		messages = append(messages, toWorkflowMessage(item.Role, text))
	}

	// 存储读取失败或窗口截断时，保证本轮用户消息一定在末尾
	if !sawCurrent {
		messages = append(messages, toWorkflowMessage(model.RoleUser, model.ExtractText(current.Content)))
	}
	return messages
}

func toWorkflowMessage(role model.ItemRole, text string) workflow.Message {
	contentType := "input_text"
	if role == model.RoleAssistant {
		contentType = "output_text"
	}
	return workflow.Message{
		Role:    string(role),
		Content: []workflow.MessageContent{{Type: contentType, Text: text}},
	}
}

// CreateSession 创建托管聊天会话，会话携带用户的记忆资源作为状态变量。
func (s *chatService) CreateSession(ctx context.Context, user *model.User) (*workflow.Session, error) {
	if s.cfg.WorkflowID == "" {
		return nil, ErrWorkflowNotConfigured
	}

	stateVars := map[string]interface{}{
		"user_id": fmt.Sprintf("%d", user.ID),
	}
	resourceID, err := s.memory.GetOrCreateBinding(ctx, user.ID)
	if err != nil {
		// 记忆资源缺失不阻塞会话创建
		log.Warnf("为用户 %d 准备记忆资源失败: %v", user.ID, err)
	} else {
		stateVars["vector_store_id"] = resourceID
	}

	session, err := s.client.CreateSession(ctx, fmt.Sprintf("%d", user.ID), workflow.SessionWorkflow{
		ID:             s.cfg.WorkflowID,
		Version:        s.cfg.Version,
		StateVariables: stateVars,
	})
	if err != nil {
		log.Errorw("创建会话失败", "userID", user.ID, "error", err)
		return nil, ErrAssistantUnavailable
	}
	return session, nil
}

// RefreshSession 取消旧会话（尽力而为）并创建新会话。
func (s *chatService) RefreshSession(ctx context.Context, user *model.User, oldSessionID string) (*workflow.Session, error) {
	if oldSessionID != "" {
		// 取消失败不阻塞刷新
		_ = s.client.CancelSession(ctx, oldSessionID)
	}
	return s.CreateSession(ctx, user)
}
