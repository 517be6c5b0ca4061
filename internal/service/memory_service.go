// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"micro-agent-go/internal/model"
	"micro-agent-go/internal/repository"
	"micro-agent-go/pkg/embedding"
	"micro-agent-go/pkg/log"
	"micro-agent-go/pkg/memoryindex"

	"github.com/go-redis/redis/v8"
)

// bindingCacheTTL 是 Redis 中绑定关系缓存的过期时间。
const bindingCacheTTL = 7 * 24 * time.Hour

// MemoryService 负责保证每个用户恰好存在一个长期记忆资源：
// 惰性创建，并发首次访问时安全。
type MemoryService interface {
	// GetOrCreateBinding 返回用户的记忆资源标识，必要时先创建。
	GetOrCreateBinding(ctx context.Context, userID uint) (string, error)
	// GetBindingID 只读查询用户的记忆资源标识，不存在时返回
	// repository.ErrNotFound，绝不触发创建。
	GetBindingID(ctx context.Context, userID uint) (string, error)
	// AppendMemory 向用户的记忆资源追加一条记忆，必要时先创建资源。
	AppendMemory(ctx context.Context, userID uint, text string, tags map[string]string) error
}

type memoryService struct {
	bindings repository.BindingRepository
	index    memoryindex.Client
	embedder embedding.Client
	rdb      *redis.Client
}

// NewMemoryService 创建一个新的 MemoryService 实例。rdb 可以为 nil（不启用缓存）。
func NewMemoryService(bindings repository.BindingRepository, index memoryindex.Client, embedder embedding.Client, rdb *redis.Client) MemoryService {
	return &memoryService{
		bindings: bindings,
		index:    index,
		embedder: embedder,
		rdb:      rdb,
	}
}

func bindingCacheKey(userID uint) string {
	return fmt.Sprintf("user:%d:vector_store", userID)
}

// cachedBindingID 尝试从 Redis 读取绑定缓存，未命中或未启用缓存时返回空字符串。
func (s *memoryService) cachedBindingID(ctx context.Context, userID uint) string {
	if s.rdb == nil {
		return ""
	}
	id, err := s.rdb.Get(ctx, bindingCacheKey(userID)).Result()
	if err != nil {
		return ""
	}
	return id
}

// cacheBindingID 将持久化确认后的绑定写入 Redis。
func (s *memoryService) cacheBindingID(ctx context.Context, userID uint, id string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Set(ctx, bindingCacheKey(userID), id, bindingCacheTTL).Err(); err != nil {
		log.Warnf("缓存记忆资源绑定失败: userID=%d, err=%v", userID, err)
	}
}

// GetOrCreateBinding 先查已有绑定，不存在时创建外部资源并落库。
// 并发首次创建由 user_id 主键的唯一性约束裁决：插入冲突说明另一个
// 调用已经获胜，此时重新读取获胜行返回，自己创建的外部资源被放弃。
func (s *memoryService) GetOrCreateBinding(ctx context.Context, userID uint) (string, error) {
	if id := s.cachedBindingID(ctx, userID); id != "" {
		return id, nil
	}

	binding, err := s.bindings.FindByUserID(ctx, userID)
	if err == nil {
		s.cacheBindingID(ctx, userID, binding.VectorStoreID)
		return binding.VectorStoreID, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return "", err
	}

	// 资源名称由用户标识确定性派生，便于追溯
	resourceID, err := s.index.CreateResource(ctx, fmt.Sprintf("user-%d-memory", userID))
	if err != nil {
		return "", fmt.Errorf("创建记忆资源失败: %w", err)
	}

	insertErr := s.bindings.Insert(ctx, &model.UserVectorStore{
		UserID:        userID,
		VectorStoreID: resourceID,
	})
	if errors.Is(insertErr, repository.ErrBindingConflict) {
		// 输掉了并发首次创建的竞争，读取获胜行。落败方创建的外部资源
		// 不做回收，与存量行为保持一致。
		winner, ferr := s.bindings.FindByUserID(ctx, userID)
		if ferr != nil {
			return "", ferr
		}
		log.Debugf("记忆资源绑定竞争落败，放弃孤儿资源: userID=%d, orphan=%s", userID, resourceID)
		s.cacheBindingID(ctx, userID, winner.VectorStoreID)
		return winner.VectorStoreID, nil
	}
	if insertErr != nil {
		return "", insertErr
	}

	s.cacheBindingID(ctx, userID, resourceID)
	return resourceID, nil
}

// GetBindingID 只读查询绑定。
func (s *memoryService) GetBindingID(ctx context.Context, userID uint) (string, error) {
	if id := s.cachedBindingID(ctx, userID); id != "" {
		return id, nil
	}
	binding, err := s.bindings.FindByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	s.cacheBindingID(ctx, userID, binding.VectorStoreID)
	return binding.VectorStoreID, nil
}

// AppendMemory 将文本连同标签序列化为结构化文档写入用户的记忆资源。
// 记忆条目只追加。向量化失败不阻断写入，条目退化为纯文本索引。
func (s *memoryService) AppendMemory(ctx context.Context, userID uint, text string, tags map[string]string) error {
	resourceID, err := s.GetOrCreateBinding(ctx, userID)
	if err != nil {
		return err
	}

	payload := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		payload[k] = v
	}
	payload["message"] = text
	document, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	var vector []float32
	if s.embedder != nil {
		vector, err = s.embedder.CreateEmbedding(ctx, text)
		if err != nil {
			log.Warnf("记忆条目向量化失败，按纯文本写入: userID=%d, err=%v", userID, err)
			vector = nil
		}
	}

	metadata := make(map[string]string, len(tags)+1)
	for k, v := range tags {
		metadata[k] = v
	}
	metadata["user_id"] = fmt.Sprintf("%d", userID)

	return s.index.AppendEntry(ctx, resourceID, document, vector, metadata)
}
