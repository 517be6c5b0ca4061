package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"micro-agent-go/internal/model"
	"micro-agent-go/internal/repository"
)

// fakeTranscriptRepo 按 item_id 幂等写入的进程内实现。
type fakeTranscriptRepo struct {
	mu      sync.Mutex
	rows    map[string]model.ChatTranscriptMessage
	upserts int
	fail    bool
}

func newFakeTranscriptRepo() *fakeTranscriptRepo {
	return &fakeTranscriptRepo{rows: make(map[string]model.ChatTranscriptMessage)}
}

func (r *fakeTranscriptRepo) UpsertByItemID(ctx context.Context, record *model.ChatTranscriptMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("db down")
	}
	r.upserts++
	r.rows[record.ItemID] = *record
	return nil
}

func (r *fakeTranscriptRepo) FindByUser(ctx context.Context, userID uint, limit, offset int) ([]model.ChatTranscriptMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.ChatTranscriptMessage
	for _, row := range r.rows {
		if row.UserID == userID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeTranscriptRepo) upsertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upserts
}

// fakeMemoryService 记录追加的记忆条目。
type fakeMemoryService struct {
	mu      sync.Mutex
	appends []string
	fail    bool
}

func (f *fakeMemoryService) GetOrCreateBinding(ctx context.Context, userID uint) (string, error) {
	return "vs_fake", nil
}

func (f *fakeMemoryService) GetBindingID(ctx context.Context, userID uint) (string, error) {
	return "vs_fake", nil
}

func (f *fakeMemoryService) AppendMemory(ctx context.Context, userID uint, text string, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("index down")
	}
	f.appends = append(f.appends, text)
	return nil
}

func (f *fakeMemoryService) appendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.appends)
}

func testUserCtx() context.Context {
	return repository.WithUser(context.Background(), &model.User{ID: 1, Username: "alice"})
}

func completedItem(id, text string, role model.ItemRole) model.ThreadItem {
	return model.ThreadItem{
		ID:        id,
		Role:      role,
		Content:   []model.ContentPart{{Type: "input_text", Text: text}},
		Status:    model.StatusCompleted,
		CreatedAt: time.Now().UTC(),
	}
}

func TestMirrorItemPersistsEligibleMessage(t *testing.T) {
	repo := newFakeTranscriptRepo()
	memory := &fakeMemoryService{}
	svc := NewTranscriptService(repo, memory)

	svc.MirrorItem(testUserCtx(), "thread_1", completedItem("msg_1", "hello", model.RoleUser))

	if repo.upsertCount() != 1 {
		t.Fatalf("upserts = %d, want 1", repo.upsertCount())
	}
	if memory.appendCount() != 1 {
		t.Fatalf("记忆条目 = %d, want 1", memory.appendCount())
	}
	row := repo.rows["msg_1"]
	if row.Role != "user" || row.Message != "hello" || row.ThreadID != "thread_1" || row.UserID != 1 {
		t.Fatalf("落库行错误: %+v", row)
	}
}

func TestMirrorItemSkipsIneligible(t *testing.T) {
	cases := []struct {
		name string
		ctx  context.Context
		item model.ThreadItem
	}{
		{"无认证用户", context.Background(), completedItem("msg_1", "hi", model.RoleUser)},
		{"系统角色", testUserCtx(), completedItem("msg_2", "hi", model.RoleSystem)},
		{"工具角色", testUserCtx(), completedItem("msg_3", "hi", model.RoleTool)},
		{"瞬态消息", testUserCtx(), func() model.ThreadItem {
			item := completedItem("msg_4", "hi", model.RoleAssistant)
			item.Status = model.StatusStreaming
			return item
		}()},
		{"空文本", testUserCtx(), completedItem("msg_5", "   ", model.RoleUser)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newFakeTranscriptRepo()
			memory := &fakeMemoryService{}
			svc := NewTranscriptService(repo, memory)

			svc.MirrorItem(tc.ctx, "thread_1", tc.item)

			if repo.upsertCount() != 0 || memory.appendCount() != 0 {
				t.Fatalf("不合条件的消息被镜像了: upserts=%d appends=%d", repo.upsertCount(), memory.appendCount())
			}
		})
	}
}

func TestMirrorItemDedupsUnchangedContent(t *testing.T) {
	repo := newFakeTranscriptRepo()
	memory := &fakeMemoryService{}
	svc := NewTranscriptService(repo, memory)
	ctx := testUserCtx()

	item := completedItem("msg_1", "stable text", model.RoleAssistant)
	svc.MirrorItem(ctx, "thread_1", item)
	svc.MirrorItem(ctx, "thread_1", item)

	if repo.upsertCount() != 1 || memory.appendCount() != 1 {
		t.Fatalf("内容未变的重复镜像应跳过: upserts=%d appends=%d", repo.upsertCount(), memory.appendCount())
	}

	// 内容变化后重新镜像
	item.Content = []model.ContentPart{{Type: "output_text", Text: "edited text"}}
	svc.MirrorItem(ctx, "thread_1", item)
	if repo.upsertCount() != 2 {
		t.Fatalf("内容变化后应重新落库: upserts=%d", repo.upsertCount())
	}
}

func TestMirrorItemRetriesAfterFailure(t *testing.T) {
	repo := newFakeTranscriptRepo()
	memory := &fakeMemoryService{fail: true}
	svc := NewTranscriptService(repo, memory)
	ctx := testUserCtx()

	item := completedItem("msg_1", "hello", model.RoleUser)

	// 记忆写入失败：错误被消化，但去重缓存不更新
	svc.MirrorItem(ctx, "thread_1", item)
	if memory.appendCount() != 0 {
		t.Fatal("失败的记忆写入不应计数")
	}

	// 故障恢复后，同一条消息可以再次完整镜像
	memory.mu.Lock()
	memory.fail = false
	memory.mu.Unlock()
	svc.MirrorItem(ctx, "thread_1", item)
	if memory.appendCount() != 1 {
		t.Fatalf("故障恢复后应重新镜像: appends=%d", memory.appendCount())
	}
}

func TestForgetItemAllowsRemirror(t *testing.T) {
	repo := newFakeTranscriptRepo()
	memory := &fakeMemoryService{}
	svc := NewTranscriptService(repo, memory)
	ctx := testUserCtx()

	item := completedItem("msg_1", "hello", model.RoleUser)
	svc.MirrorItem(ctx, "thread_1", item)
	svc.ForgetItem("thread_1", "msg_1")
	svc.MirrorItem(ctx, "thread_1", item)

	if repo.upsertCount() != 2 {
		t.Fatalf("ForgetItem 后应重新镜像: upserts=%d", repo.upsertCount())
	}
}
