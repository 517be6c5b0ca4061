// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"sync"

	"micro-agent-go/internal/model"
	"micro-agent-go/internal/repository"
	"micro-agent-go/pkg/log"
)

// maxTranscriptPageSize 是转录消息单页的上限。
const maxTranscriptPageSize = 500

// TranscriptService 将已定稿的会话消息镜像到持久存储与长期记忆，
// 并提供转录消息的查询。它实现了 repository.TranscriptMirror。
type TranscriptService interface {
	repository.TranscriptMirror
	// ListForUser 返回用户的转录消息：按存储顺序（新在前）分页读取，
	// 再反转成时间正序用于展示，单页上限 500 条。
	ListForUser(ctx context.Context, userID uint, limit, offset int) ([]model.ChatTranscriptMessage, error)
}

type transcriptService struct {
	transcripts repository.TranscriptRepository
	memory      MemoryService

	// persisted 记录每条消息最近一次成功镜像的 (role, message) 签名，
	// 避免内容未变的重复保存（例如流式更新收敛到同一最终文本）触发冗余写。
	mu        sync.Mutex
	persisted map[string]string
}

// NewTranscriptService 创建一个新的 TranscriptService 实例。
func NewTranscriptService(transcripts repository.TranscriptRepository, memory MemoryService) TranscriptService {
	return &transcriptService{
		transcripts: transcripts,
		memory:      memory,
		persisted:   make(map[string]string),
	}
}

func persistedCacheKey(threadID, itemID string) string {
	return threadID + ":" + itemID
}

// MirrorItem 把一条消息镜像到持久存储与长期记忆。整个路径尽力而为：
// 任何失败只记录日志，绝不影响会话主路径。
func (s *transcriptService) MirrorItem(ctx context.Context, threadID string, item model.ThreadItem) {
	// 上下文中没有已认证用户时跳过镜像。这是有意的 no-op，不是错误。
	user := repository.UserFromContext(ctx)
	if user == nil {
		return
	}

	// 只镜像 user/assistant 两种角色
	if item.Role != model.RoleUser && item.Role != model.RoleAssistant {
		return
	}

	// 瞬态消息（流式中、排队中）不镜像，等待其收敛到终态
	if !item.Status.Terminal() {
		return
	}

	message := model.ExtractText(item.Content)
	if message == "" {
		return
	}
	if item.ID == "" {
		return
	}

	cacheKey := persistedCacheKey(threadID, item.ID)
	signature := string(item.Role) + ":" + message

	s.mu.Lock()
	previous, ok := s.persisted[cacheKey]
	s.mu.Unlock()
	if ok && previous == signature {
		return
	}

	record := &model.ChatTranscriptMessage{
		UserID:   user.ID,
		ThreadID: threadID,
		ItemID:   item.ID,
		Role:     string(item.Role),
		Message:  message,
	}
	if err := s.transcripts.UpsertByItemID(ctx, record); err != nil {
		log.Errorw("转录消息落库失败", "threadID", threadID, "itemID", item.ID, "error", err)
		return
	}

	tags := map[string]string{
		"type":      "chat_message",
		"role":      string(item.Role),
		"thread_id": threadID,
		"item_id":   item.ID,
	}
	if item.Status != "" {
		tags["status"] = string(item.Status)
	}
	if err := s.memory.AppendMemory(ctx, user.ID, message, tags); err != nil {
		log.Errorw("长期记忆追加失败", "threadID", threadID, "itemID", item.ID, "error", err)
		return
	}

	s.mu.Lock()
	s.persisted[cacheKey] = signature
	s.mu.Unlock()
}

// ForgetItem 清除某条消息的已镜像状态缓存。
func (s *transcriptService) ForgetItem(threadID, itemID string) {
	s.mu.Lock()
	delete(s.persisted, persistedCacheKey(threadID, itemID))
	s.mu.Unlock()
}

// ListForUser 分页查询转录消息并反转为时间正序。
func (s *transcriptService) ListForUser(ctx context.Context, userID uint, limit, offset int) ([]model.ChatTranscriptMessage, error) {
	if limit <= 0 || limit > maxTranscriptPageSize {
		limit = maxTranscriptPageSize
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.transcripts.FindByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("查询转录消息失败: %w", err)
	}

	// 存储按新在前排序，展示反转为时间正序
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}
