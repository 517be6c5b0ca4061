// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"micro-agent-go/internal/model"
	"micro-agent-go/pkg/log"
)

// 列表排序方向。
const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// TranscriptMirror 在消息写入后被调用，将终态消息镜像到持久存储与长期记忆。
// 镜像是尽力而为的：实现内部消化所有错误，绝不影响会话主路径。
type TranscriptMirror interface {
	MirrorItem(ctx context.Context, threadID string, item model.ThreadItem)
	// ForgetItem 清除某条消息的已镜像状态缓存（消息被删除时调用）。
	ForgetItem(threadID, itemID string)
}

// ThreadStore 定义了会话与消息的内存存储接口。它是所有外部调用之前
// 的唯一可信数据源；组合上要求异步契约，以便与 I/O 邻居统一编排。
type ThreadStore interface {
	LoadThread(ctx context.Context, threadID string) (model.Thread, error)
	SaveThread(ctx context.Context, thread model.Thread) error
	ListThreads(ctx context.Context, limit int, cursor, order string) (model.ThreadPage, error)
	DeleteThread(ctx context.Context, threadID string) error

	ListItems(ctx context.Context, threadID string, limit int, cursor, order string) (model.ItemPage, error)
	AppendItem(ctx context.Context, threadID string, item model.ThreadItem) error
	UpsertItem(ctx context.Context, threadID string, item model.ThreadItem) error
	LoadItem(ctx context.Context, threadID, itemID string) (model.ThreadItem, error)
	DeleteItem(ctx context.Context, threadID, itemID string) error
}

// threadState 保存一个会话及其按插入顺序排列的消息。
type threadState struct {
	thread model.Thread
	items  []model.ThreadItem
}

// memoryThreadStore 是 ThreadStore 的进程内实现。状态仅存在于单进程，
// 多副本部署需要外部后备存储（已知的扩展边界）。
type memoryThreadStore struct {
	mu      sync.RWMutex
	threads map[string]*threadState
	// order 记录会话的创建顺序，保证遍历时平局的稳定性
	order  []string
	mirror TranscriptMirror
}

// NewThreadStore 创建一个新的内存会话存储。mirror 可以为 nil（不做镜像）。
func NewThreadStore(mirror TranscriptMirror) ThreadStore {
	return &memoryThreadStore{
		threads: make(map[string]*threadState),
		mirror:  mirror,
	}
}

// LoadThread 按标识读取会话元数据，不存在时返回 ErrNotFound。
func (s *memoryThreadStore) LoadThread(ctx context.Context, threadID string) (model.Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.threads[threadID]
	if !ok {
		return model.Thread{}, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	return state.thread.Clone(), nil
}

// SaveThread 按标识插入或更新会话元数据。服务端已持有的消息不受影响，
// 防止调用方用不带消息的表示覆盖掉已有数据。
func (s *memoryThreadStore) SaveThread(ctx context.Context, thread model.Thread) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.threads[thread.ID]; ok {
		state.thread = thread.Clone()
		return nil
	}
	s.threads[thread.ID] = &threadState{thread: thread.Clone()}
	s.order = append(s.order, thread.ID)
	return nil
}

// ListThreads 按创建时间分页列出会话。
func (s *memoryThreadStore) ListThreads(ctx context.Context, limit int, cursor, order string) (model.ThreadPage, error) {
	s.mu.RLock()
	threads := make([]model.Thread, 0, len(s.order))
	for _, id := range s.order {
		if state, ok := s.threads[id]; ok {
			threads = append(threads, state.thread.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(threads, func(i, j int) bool {
		if order == OrderDesc {
			return threads[i].CreatedAt.After(threads[j].CreatedAt)
		}
		return threads[i].CreatedAt.Before(threads[j].CreatedAt)
	})

	start := 0
	if cursor != "" {
		for idx, t := range threads {
			if t.ID == cursor {
				start = idx + 1
				break
			}
		}
	}

	page := model.ThreadPage{Data: []model.Thread{}}
	slice := threads[min(start, len(threads)):]
	if len(slice) > limit {
		page.HasMore = true
		slice = slice[:limit]
	}
	page.Data = slice
	if page.HasMore && len(slice) > 0 {
		page.NextCursor = slice[len(slice)-1].ID
	}
	return page, nil
}

// DeleteThread 删除会话及其全部消息，幂等。
func (s *memoryThreadStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	state, ok := s.threads[threadID]
	if ok {
		delete(s.threads, threadID)
		for idx, id := range s.order {
			if id == threadID {
				s.order = append(s.order[:idx], s.order[idx+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if ok && s.mirror != nil {
		for _, item := range state.items {
			s.mirror.ForgetItem(threadID, item.ID)
		}
	}
	return nil
}

// vivify 返回指定会话的状态，不存在时自动创建一个空会话记录，
// 使得消息操作不会仅仅因为调用方未先 SaveThread 而失败。调用方必须持有写锁。
func (s *memoryThreadStore) vivify(threadID string) *threadState {
	state, ok := s.threads[threadID]
	if !ok {
		state = &threadState{
			thread: model.Thread{ID: threadID, CreatedAt: time.Now().UTC()},
		}
		s.threads[threadID] = state
		s.order = append(s.order, threadID)
	}
	return state
}

// ListItems 按创建时间分页列出一个会话内的消息，游标契约与 ListThreads 一致。
func (s *memoryThreadStore) ListItems(ctx context.Context, threadID string, limit int, cursor, order string) (model.ItemPage, error) {
	s.mu.Lock()
	state := s.vivify(threadID)
	items := make([]model.ThreadItem, len(state.items))
	for idx, item := range state.items {
		items[idx] = item.Clone()
	}
	s.mu.Unlock()

	sort.SliceStable(items, func(i, j int) bool {
		if order == OrderDesc {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	start := 0
	if cursor != "" {
		for idx, item := range items {
			if item.ID == cursor {
				start = idx + 1
				break
			}
		}
	}

	page := model.ItemPage{Data: []model.ThreadItem{}}
	slice := items[min(start, len(items)):]
	if len(slice) > limit {
		page.HasMore = true
		slice = slice[:limit]
	}
	page.Data = slice
	if page.HasMore && len(slice) > 0 {
		page.NextCursor = slice[len(slice)-1].ID
	}
	return page, nil
}

// AppendItem 将消息追加到会话末尾，随后触发异步镜像。
func (s *memoryThreadStore) AppendItem(ctx context.Context, threadID string, item model.ThreadItem) error {
	s.mu.Lock()
	state := s.vivify(threadID)
	state.items = append(state.items, item.Clone())
	s.mu.Unlock()

	s.dispatchMirror(ctx, threadID, item)
	return nil
}

// UpsertItem 按标识原地替换第一条匹配的消息；没有匹配则追加。随后触发异步镜像。
func (s *memoryThreadStore) UpsertItem(ctx context.Context, threadID string, item model.ThreadItem) error {
	s.mu.Lock()
	state := s.vivify(threadID)
	replaced := false
	for idx, existing := range state.items {
		if existing.ID == item.ID {
			state.items[idx] = item.Clone()
			replaced = true
			break
		}
	}
	if !replaced {
		state.items = append(state.items, item.Clone())
	}
	s.mu.Unlock()

	s.dispatchMirror(ctx, threadID, item)
	return nil
}

// LoadItem 按标识读取一条消息，不存在时返回 ErrNotFound。
func (s *memoryThreadStore) LoadItem(ctx context.Context, threadID, itemID string) (model.ThreadItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if state, ok := s.threads[threadID]; ok {
		for _, item := range state.items {
			if item.ID == itemID {
				return item.Clone(), nil
			}
		}
	}
	return model.ThreadItem{}, fmt.Errorf("item %s: %w", itemID, ErrNotFound)
}

// DeleteItem 按标识删除一条消息，幂等；同时清除其已镜像状态缓存。
func (s *memoryThreadStore) DeleteItem(ctx context.Context, threadID, itemID string) error {
	s.mu.Lock()
	if state, ok := s.threads[threadID]; ok {
		for idx, item := range state.items {
			if item.ID == itemID {
				state.items = append(state.items[:idx], state.items[idx+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if s.mirror != nil {
		s.mirror.ForgetItem(threadID, itemID)
	}
	return nil
}

// dispatchMirror 在独立的 goroutine 中触发镜像，与响应主路径解耦。
// 使用 WithoutCancel 保留请求上下文中的用户信息，同时让镜像不随请求取消而中断。
func (s *memoryThreadStore) dispatchMirror(ctx context.Context, threadID string, item model.ThreadItem) {
	if s.mirror == nil {
		return
	}
	detached := context.WithoutCancel(ctx)
	copied := item.Clone()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("镜像消息时发生 panic: thread=%s item=%s err=%v", threadID, copied.ID, r)
			}
		}()
		s.mirror.MirrorItem(detached, threadID, copied)
	}()
}
