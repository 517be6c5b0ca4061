package handler

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"micro-agent-go/internal/model"
	"micro-agent-go/internal/service"
	"micro-agent-go/pkg/token"
	"micro-agent-go/pkg/workflow"
)

// wsFakeChatService 可配置单轮对话的结果。block 为 true 时
// Respond 会一直阻塞到 context 被取消，用于验证停止指令。
type wsFakeChatService struct {
	started   chan struct{}
	cancelled chan struct{}
	turn      *service.ChatTurn
	err       error
	block     bool
}

func (f *wsFakeChatService) Respond(ctx context.Context, threadID, userText string) (*service.ChatTurn, error) {
	if f.block {
		close(f.started)
		<-ctx.Done()
		close(f.cancelled)
		return nil, ctx.Err()
	}
	return f.turn, f.err
}

func (f *wsFakeChatService) CreateSession(ctx context.Context, user *model.User) (*workflow.Session, error) {
	return nil, nil
}

func (f *wsFakeChatService) RefreshSession(ctx context.Context, user *model.User, oldSessionID string) (*workflow.Session, error) {
	return nil, nil
}

type wsFakeUserService struct {
	user *model.User
}

func (f *wsFakeUserService) Register(username, password, email string) (*model.User, error) {
	return nil, nil
}

func (f *wsFakeUserService) Login(username, password string) (*service.TokenPair, error) {
	return nil, nil
}

func (f *wsFakeUserService) GetByID(userID uint) (*model.User, error) {
	return f.user, nil
}

// dialChat 启动一个只挂载 WebSocket 路由的测试服务器并建立连接。
func dialChat(t *testing.T, chat service.ChatService) (*websocket.Conn, *ChatHandler, func()) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	jwtManager := token.NewJWTManager("test-secret", 1, 1)
	h := NewChatHandler(chat, &wsFakeUserService{user: &model.User{ID: 7, Username: "alice"}}, jwtManager)

	r := gin.New()
	r.GET("/chat/:token", h.Handle)
	srv := httptest.NewServer(r)

	tok, err := jwtManager.GenerateToken(7, "alice", "user")
	if err != nil {
		srv.Close()
		t.Fatalf("GenerateToken: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/" + tok
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("Dial: %v", err)
	}
	return conn, h, func() {
		conn.Close()
		srv.Close()
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("读取 WebSocket 帧失败: %v", err)
	}
	var frame map[string]interface{}
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("解析帧失败: %v", err)
	}
	return frame
}

func TestWebsocketStopCancelsInFlightRun(t *testing.T) {
	fake := &wsFakeChatService{
		started:   make(chan struct{}),
		cancelled: make(chan struct{}),
		block:     true,
	}
	conn, h, cleanup := dialChat(t, fake)
	defer cleanup()

	h.stopTokenLock.Lock()
	h.stopToken = "WSS_STOP_CMD_test"
	h.stopTokenLock.Unlock()

	if err := conn.WriteJSON(map[string]string{"threadId": "thread_1", "message": "hi"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	select {
	case <-fake.started:
	case <-time.After(2 * time.Second):
		t.Fatal("对话协程未启动")
	}

	// 对话仍在途时读循环必须能接收停止指令
	if err := conn.WriteJSON(map[string]string{"type": "stop", "_internal_cmd_token": "WSS_STOP_CMD_test"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	frame := readFrame(t, conn)
	if frame["type"] != "stop" {
		t.Fatalf("期望收到停止回执, got: %+v", frame)
	}
	select {
	case <-fake.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("停止指令未取消在途的工作流调用")
	}

	// 被取消的一轮不应再追加错误帧
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("取消后不应再收到额外的帧")
	}
}

func TestWebsocketReplyDelivered(t *testing.T) {
	fake := &wsFakeChatService{
		turn: &service.ChatTurn{
			UserItem:      model.ThreadItem{ID: "msg_u", Role: model.RoleUser},
			AssistantItem: model.ThreadItem{ID: "msg_a", Role: model.RoleAssistant},
		},
	}
	conn, _, cleanup := dialChat(t, fake)
	defer cleanup()

	if err := conn.WriteJSON(map[string]string{"threadId": "thread_1", "message": "hi"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	frame := readFrame(t, conn)
	if frame["type"] != "reply" || frame["threadId"] != "thread_1" {
		t.Fatalf("期望收到回复帧, got: %+v", frame)
	}
	if frame["userItem"] == nil || frame["assistantItem"] == nil {
		t.Fatalf("回复帧缺少本轮消息: %+v", frame)
	}
}

func TestWebsocketErrorsKeepRetrySignal(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{service.ErrWorkflowNotConfigured, "对话服务未配置"},
		{service.ErrAssistantUnavailable, "助手暂时不可用"},
		{service.ErrEmptyResponse, "助手未返回任何内容"},
	}
	for _, c := range cases {
		fake := &wsFakeChatService{err: c.err}
		conn, _, cleanup := dialChat(t, fake)

		if err := conn.WriteJSON(map[string]string{"threadId": "thread_1", "message": "hi"}); err != nil {
			cleanup()
			t.Fatalf("WriteJSON: %v", err)
		}
		frame := readFrame(t, conn)
		cleanup()

		if frame["type"] != "error" || frame["message"] != c.want {
			t.Fatalf("错误 %v: 期望提示 %q, got: %+v", c.err, c.want, frame)
		}
	}
}
