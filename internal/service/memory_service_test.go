package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"micro-agent-go/internal/model"
	"micro-agent-go/internal/repository"
)

// fakeBindingRepo 用进程内 map 模拟绑定表的主键唯一性约束。
type fakeBindingRepo struct {
	mu       sync.Mutex
	rows     map[uint]string
	inserts  int
	findErr  error
	insertCh chan struct{} // 非 nil 时 Insert 在此阻塞，用于制造并发竞争
}

func newFakeBindingRepo() *fakeBindingRepo {
	return &fakeBindingRepo{rows: make(map[uint]string)}
}

func (r *fakeBindingRepo) FindByUserID(ctx context.Context, userID uint) (*model.UserVectorStore, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.rows[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &model.UserVectorStore{UserID: userID, VectorStoreID: id}, nil
}

func (r *fakeBindingRepo) Insert(ctx context.Context, binding *model.UserVectorStore) error {
	if r.insertCh != nil {
		<-r.insertCh
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[binding.UserID]; ok {
		return repository.ErrBindingConflict
	}
	r.rows[binding.UserID] = binding.VectorStoreID
	r.inserts++
	return nil
}

// fakeMemoryIndex 记录资源创建与条目写入。
type fakeMemoryIndex struct {
	mu      sync.Mutex
	created int
	entries []string
}

func (f *fakeMemoryIndex) CreateResource(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return fmt.Sprintf("vs_%s_%d", name, f.created), nil
}

func (f *fakeMemoryIndex) AppendEntry(ctx context.Context, resourceID string, document []byte, vector []float32, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, resourceID+":"+string(document))
	return nil
}

func TestGetOrCreateBindingCreatesOnce(t *testing.T) {
	repo := newFakeBindingRepo()
	index := &fakeMemoryIndex{}
	svc := NewMemoryService(repo, index, nil, nil)
	ctx := context.Background()

	first, err := svc.GetOrCreateBinding(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if first == "" {
		t.Fatal("资源标识不应为空")
	}

	second, err := svc.GetOrCreateBinding(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if second != first {
		t.Fatalf("重复调用返回了不同的资源: %q vs %q", first, second)
	}
	if repo.inserts != 1 {
		t.Fatalf("inserts = %d, want 1", repo.inserts)
	}
}

func TestGetOrCreateBindingConcurrentRace(t *testing.T) {
	repo := newFakeBindingRepo()
	repo.insertCh = make(chan struct{})
	index := &fakeMemoryIndex{}
	svc := NewMemoryService(repo, index, nil, nil)

	const callers = 8
	results := make(chan string, callers)
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := svc.GetOrCreateBinding(context.Background(), 1)
			if err != nil {
				errs <- err
				return
			}
			results <- id
		}()
	}

	// 放行所有阻塞的 Insert，让它们同时撞向唯一性约束
	close(repo.insertCh)
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("并发调用失败: %v", err)
	}

	ids := make(map[string]struct{})
	for id := range results {
		ids[id] = struct{}{}
	}
	if len(ids) != 1 {
		t.Fatalf("并发调用返回了多个资源标识: %v", ids)
	}
	if repo.inserts != 1 {
		t.Fatalf("绑定行插入了 %d 次, want 1", repo.inserts)
	}
}

func TestGetBindingIDNeverCreates(t *testing.T) {
	repo := newFakeBindingRepo()
	index := &fakeMemoryIndex{}
	svc := NewMemoryService(repo, index, nil, nil)

	_, err := svc.GetBindingID(context.Background(), 42)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if index.created != 0 {
		t.Fatalf("只读查询不应创建资源: created=%d", index.created)
	}
}

func TestAppendMemoryWritesStructuredEntry(t *testing.T) {
	repo := newFakeBindingRepo()
	index := &fakeMemoryIndex{}
	svc := NewMemoryService(repo, index, nil, nil)
	ctx := context.Background()

	err := svc.AppendMemory(ctx, 3, "hello there", map[string]string{
		"type": "chat_message",
		"role": "user",
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(index.entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(index.entries))
	}
	entry := index.entries[0]
	for _, want := range []string{`"message":"hello there"`, `"type":"chat_message"`, `"role":"user"`} {
		if !strings.Contains(entry, want) {
			t.Fatalf("条目缺少 %s: %s", want, entry)
		}
	}
	// 追加记忆会惰性创建绑定
	if repo.inserts != 1 {
		t.Fatalf("inserts = %d, want 1", repo.inserts)
	}
}
