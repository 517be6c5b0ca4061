package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"micro-agent-go/internal/model"
)

// recordingMirror 记录镜像调用，供断言使用。
type recordingMirror struct {
	mu        sync.Mutex
	mirrored  []string
	forgotten []string
}

func (m *recordingMirror) MirrorItem(ctx context.Context, threadID string, item model.ThreadItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mirrored = append(m.mirrored, threadID+"/"+item.ID)
}

func (m *recordingMirror) ForgetItem(threadID, itemID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forgotten = append(m.forgotten, threadID+"/"+itemID)
}

func (m *recordingMirror) mirroredCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mirrored)
}

func (m *recordingMirror) forgottenItems() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.forgotten...)
}

// waitFor 轮询等待条件满足，用于断言异步镜像。
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("等待条件超时")
}

func newItem(id string, createdAt time.Time) model.ThreadItem {
	return model.ThreadItem{
		ID:        id,
		Role:      model.RoleUser,
		Content:   []model.ContentPart{{Type: "input_text", Text: "text-" + id}},
		Status:    model.StatusCompleted,
		CreatedAt: createdAt,
	}
}

func TestLoadThreadNotFound(t *testing.T) {
	store := NewThreadStore(nil)
	_, err := store.LoadThread(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveThreadPreservesItems(t *testing.T) {
	store := NewThreadStore(nil)
	ctx := context.Background()

	thread := model.Thread{ID: "thread_1", CreatedAt: time.Now().UTC()}
	if err := store.SaveThread(ctx, thread); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendItem(ctx, "thread_1", newItem("msg_1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	// 用不带消息的表示重新保存，消息必须保留
	thread.Metadata = map[string]interface{}{"title": "updated"}
	if err := store.SaveThread(ctx, thread); err != nil {
		t.Fatal(err)
	}

	if _, err := store.LoadItem(ctx, "thread_1", "msg_1"); err != nil {
		t.Fatalf("重新保存线程后消息丢失: %v", err)
	}
	loaded, err := store.LoadThread(ctx, "thread_1")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Metadata["title"] != "updated" {
		t.Fatalf("元数据未更新: %+v", loaded.Metadata)
	}
}

func TestListItemsPagination(t *testing.T) {
	store := NewThreadStore(nil)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		item := newItem(fmt.Sprintf("msg_%d", i), base.Add(time.Duration(i)*time.Second))
		if err := store.AppendItem(ctx, "thread_1", item); err != nil {
			t.Fatal(err)
		}
	}

	// 第一页：asc，2 条
	page, err := store.ListItems(ctx, "thread_1", 2, "", OrderAsc)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Data) != 2 || !page.HasMore {
		t.Fatalf("第一页: len=%d hasMore=%v", len(page.Data), page.HasMore)
	}
	if page.Data[0].ID != "msg_0" || page.Data[1].ID != "msg_1" {
		t.Fatalf("第一页顺序错误: %s, %s", page.Data[0].ID, page.Data[1].ID)
	}
	if page.NextCursor != "msg_1" {
		t.Fatalf("NextCursor = %q, want msg_1", page.NextCursor)
	}

	// 第二页：接着游标读
	page, err = store.ListItems(ctx, "thread_1", 2, page.NextCursor, OrderAsc)
	if err != nil {
		t.Fatal(err)
	}
	if page.Data[0].ID != "msg_2" || page.Data[1].ID != "msg_3" || !page.HasMore {
		t.Fatalf("第二页错误: %+v", page)
	}

	// 末页：没有更多数据
	page, err = store.ListItems(ctx, "thread_1", 2, page.NextCursor, OrderAsc)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Data) != 1 || page.HasMore || page.NextCursor != "" {
		t.Fatalf("末页错误: %+v", page)
	}

	// desc 顺序
	page, err = store.ListItems(ctx, "thread_1", 3, "", OrderDesc)
	if err != nil {
		t.Fatal(err)
	}
	if page.Data[0].ID != "msg_4" || page.Data[2].ID != "msg_2" {
		t.Fatalf("desc 顺序错误: %s...%s", page.Data[0].ID, page.Data[2].ID)
	}
}

func TestListItemsUnknownCursorStartsFromHead(t *testing.T) {
	store := NewThreadStore(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := store.AppendItem(ctx, "thread_1", newItem(fmt.Sprintf("msg_%d", i), time.Now().UTC().Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatal(err)
		}
	}

	page, err := store.ListItems(ctx, "thread_1", 10, "bogus", OrderAsc)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Data) != 3 || page.Data[0].ID != "msg_0" {
		t.Fatalf("未知游标应从头开始: %+v", page)
	}
}

func TestListThreadsPagination(t *testing.T) {
	store := NewThreadStore(nil)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 4; i++ {
		err := store.SaveThread(ctx, model.Thread{
			ID:        fmt.Sprintf("thread_%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	page, err := store.ListThreads(ctx, 3, "", OrderDesc)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Data) != 3 || !page.HasMore || page.Data[0].ID != "thread_3" {
		t.Fatalf("线程第一页错误: %+v", page)
	}

	page, err = store.ListThreads(ctx, 3, page.NextCursor, OrderDesc)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Data) != 1 || page.HasMore || page.Data[0].ID != "thread_0" {
		t.Fatalf("线程末页错误: %+v", page)
	}
}

func TestAppendItemAutoVivifiesThread(t *testing.T) {
	store := NewThreadStore(nil)
	ctx := context.Background()

	if err := store.AppendItem(ctx, "thread_new", newItem("msg_1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	thread, err := store.LoadThread(ctx, "thread_new")
	if err != nil {
		t.Fatalf("自动创建的线程应可读取: %v", err)
	}
	if thread.ID != "thread_new" || thread.CreatedAt.IsZero() {
		t.Fatalf("自动创建的线程字段错误: %+v", thread)
	}
}

func TestUpsertItemReplacesInPlace(t *testing.T) {
	store := NewThreadStore(nil)
	ctx := context.Background()

	base := time.Now().UTC()
	if err := store.AppendItem(ctx, "thread_1", newItem("msg_1", base)); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendItem(ctx, "thread_1", newItem("msg_2", base.Add(time.Second))); err != nil {
		t.Fatal(err)
	}

	updated := newItem("msg_1", base)
	updated.Content = []model.ContentPart{{Type: "input_text", Text: "edited"}}
	if err := store.UpsertItem(ctx, "thread_1", updated); err != nil {
		t.Fatal(err)
	}

	page, err := store.ListItems(ctx, "thread_1", 10, "", OrderAsc)
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Data) != 2 {
		t.Fatalf("Upsert 不应追加新消息: %d", len(page.Data))
	}
	if page.Data[0].ID != "msg_1" || page.Data[0].Content[0].Text != "edited" {
		t.Fatalf("Upsert 未原地替换: %+v", page.Data[0])
	}

	// 不存在的标识则追加
	if err := store.UpsertItem(ctx, "thread_1", newItem("msg_3", base.Add(2*time.Second))); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadItem(ctx, "thread_1", "msg_3"); err != nil {
		t.Fatalf("Upsert 追加失败: %v", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := NewThreadStore(nil)
	ctx := context.Background()

	if err := store.AppendItem(ctx, "thread_1", newItem("msg_1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := store.DeleteItem(ctx, "thread_1", "msg_1"); err != nil {
			t.Fatalf("第 %d 次删除消息失败: %v", i+1, err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := store.DeleteThread(ctx, "thread_1"); err != nil {
			t.Fatalf("第 %d 次删除线程失败: %v", i+1, err)
		}
	}
	if err := store.DeleteThread(ctx, "never-existed"); err != nil {
		t.Fatalf("删除不存在的线程应成功: %v", err)
	}
}

func TestReturnedItemsAreDeepCopies(t *testing.T) {
	store := NewThreadStore(nil)
	ctx := context.Background()

	if err := store.AppendItem(ctx, "thread_1", newItem("msg_1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.LoadItem(ctx, "thread_1", "msg_1")
	if err != nil {
		t.Fatal(err)
	}
	loaded.Content[0].Text = "mutated"

	again, err := store.LoadItem(ctx, "thread_1", "msg_1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Content[0].Text != "text-msg_1" {
		t.Fatalf("外部修改泄漏进了存储: %q", again.Content[0].Text)
	}
}

func TestReturnedValuesAreDeepCopiedAtEveryNestingLevel(t *testing.T) {
	store := NewThreadStore(nil)
	ctx := context.Background()

	thread := model.Thread{
		ID:        "thread_1",
		CreatedAt: time.Now().UTC(),
		Metadata: map[string]interface{}{
			"nested": map[string]interface{}{"k": "original"},
		},
	}
	if err := store.SaveThread(ctx, thread); err != nil {
		t.Fatal(err)
	}

	item := newItem("msg_1", time.Now().UTC())
	item.Content[0].Extra = map[string]interface{}{
		"annotations": []interface{}{"original"},
	}
	if err := store.AppendItem(ctx, "thread_1", item); err != nil {
		t.Fatal(err)
	}

	loadedThread, err := store.LoadThread(ctx, "thread_1")
	if err != nil {
		t.Fatal(err)
	}
	loadedThread.Metadata["nested"].(map[string]interface{})["k"] = "mutated"

	loadedItem, err := store.LoadItem(ctx, "thread_1", "msg_1")
	if err != nil {
		t.Fatal(err)
	}
	loadedItem.Content[0].Extra["annotations"].([]interface{})[0] = "mutated"

	againThread, err := store.LoadThread(ctx, "thread_1")
	if err != nil {
		t.Fatal(err)
	}
	if got := againThread.Metadata["nested"].(map[string]interface{})["k"]; got != "original" {
		t.Fatalf("调用方对返回对象的修改泄漏进了存储: nested.k = %q", got)
	}

	againItem, err := store.LoadItem(ctx, "thread_1", "msg_1")
	if err != nil {
		t.Fatal(err)
	}
	if got := againItem.Content[0].Extra["annotations"].([]interface{})[0]; got != "original" {
		t.Fatalf("调用方对返回对象的修改泄漏进了存储: annotations[0] = %q", got)
	}
}

func TestAppendItemDispatchesMirror(t *testing.T) {
	mirror := &recordingMirror{}
	store := NewThreadStore(mirror)
	ctx := context.Background()

	if err := store.AppendItem(ctx, "thread_1", newItem("msg_1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return mirror.mirroredCount() == 1 })
}

func TestDeleteForgetsMirroredItems(t *testing.T) {
	mirror := &recordingMirror{}
	store := NewThreadStore(mirror)
	ctx := context.Background()

	if err := store.AppendItem(ctx, "thread_1", newItem("msg_1", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	if err := store.AppendItem(ctx, "thread_1", newItem("msg_2", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	if err := store.DeleteItem(ctx, "thread_1", "msg_1"); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteThread(ctx, "thread_1"); err != nil {
		t.Fatal(err)
	}

	forgotten := mirror.forgottenItems()
	if len(forgotten) != 2 {
		t.Fatalf("forgotten = %v, want 2 entries", forgotten)
	}
	if forgotten[0] != "thread_1/msg_1" || forgotten[1] != "thread_1/msg_2" {
		t.Fatalf("forgotten = %v", forgotten)
	}
}
