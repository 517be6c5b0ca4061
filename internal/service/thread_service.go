package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"micro-agent-go/internal/model"
	"micro-agent-go/internal/repository"
)

// 列表分页的默认与上限值。
const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// ThreadService 提供会话线程与线程内消息的管理。
type ThreadService interface {
	CreateThread(ctx context.Context, metadata map[string]interface{}) (*model.Thread, error)
	GetThread(ctx context.Context, threadID string) (*model.Thread, error)
	ListThreads(ctx context.Context, limit int, cursor, order string) (*model.ThreadPage, error)
	UpdateThreadMetadata(ctx context.Context, threadID string, metadata map[string]interface{}) (*model.Thread, error)
	DeleteThread(ctx context.Context, threadID string) error
	ListItems(ctx context.Context, threadID string, limit int, cursor, order string) (*model.ItemPage, error)
	GetItem(ctx context.Context, threadID, itemID string) (*model.ThreadItem, error)
	DeleteItem(ctx context.Context, threadID, itemID string) error
}

type threadService struct {
	store repository.ThreadStore
}

// NewThreadService 创建一个新的 ThreadService 实例。
func NewThreadService(store repository.ThreadStore) ThreadService {
	return &threadService{store: store}
}

// newThreadID 生成线程标识，形如 thread_1a2b3c4d5e6f。
func newThreadID() string {
	return "thread_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultPageLimit
	}
	if limit > maxPageLimit {
		return maxPageLimit
	}
	return limit
}

func normalizeOrder(order string) string {
	if order == repository.OrderAsc {
		return repository.OrderAsc
	}
	return repository.OrderDesc
}

func (s *threadService) CreateThread(ctx context.Context, metadata map[string]interface{}) (*model.Thread, error) {
	thread := model.Thread{
		ID:        newThreadID(),
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	if err := s.store.SaveThread(ctx, thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

func (s *threadService) GetThread(ctx context.Context, threadID string) (*model.Thread, error) {
	thread, err := s.store.LoadThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

func (s *threadService) ListThreads(ctx context.Context, limit int, cursor, order string) (*model.ThreadPage, error) {
	page, err := s.store.ListThreads(ctx, normalizeLimit(limit), cursor, normalizeOrder(order))
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *threadService) UpdateThreadMetadata(ctx context.Context, threadID string, metadata map[string]interface{}) (*model.Thread, error) {
	thread, err := s.store.LoadThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	thread.Metadata = metadata
	if err := s.store.SaveThread(ctx, thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

func (s *threadService) DeleteThread(ctx context.Context, threadID string) error {
	return s.store.DeleteThread(ctx, threadID)
}

func (s *threadService) ListItems(ctx context.Context, threadID string, limit int, cursor, order string) (*model.ItemPage, error) {
	page, err := s.store.ListItems(ctx, threadID, normalizeLimit(limit), cursor, normalizeOrder(order))
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *threadService) GetItem(ctx context.Context, threadID, itemID string) (*model.ThreadItem, error) {
	item, err := s.store.LoadItem(ctx, threadID, itemID)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *threadService) DeleteItem(ctx context.Context, threadID, itemID string) error {
	return s.store.DeleteItem(ctx, threadID, itemID)
}
