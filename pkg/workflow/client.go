// Package workflow 提供了调用托管推理工作流 API 的客户端。
// 它负责把会话历史包装成一次工作流运行请求、在运行异步排队时轮询
// 至完成，并从松散结构的运行结果中提取助手文本。
package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"micro-agent-go/internal/config"
	"micro-agent-go/pkg/log"
)

// 运行状态。queued/in_progress 视为未完成，需要继续轮询。
const (
	runStatusQueued     = "queued"
	runStatusInProgress = "in_progress"
)

// defaultPollInterval 是异步运行的轮询间隔。
const defaultPollInterval = 800 * time.Millisecond

// Message 是发送给工作流的一条标准化历史消息。
type Message struct {
	Role    string           `json:"role"`
	Content []MessageContent `json:"content"`
}

// MessageContent 是历史消息的一个内容片段。
type MessageContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// RunRequest 描述一次工作流运行。
type RunRequest struct {
	WorkflowID       string
	Version          string
	Messages         []Message
	ThreadID         string
	MemoryResourceID string
	UserID           string
}

// Client 定义了工作流 API 客户端的接口。
type Client interface {
	// RunWorkflow 执行一次工作流运行并等待其完成，返回原始结果负载。
	RunWorkflow(ctx context.Context, req RunRequest) (map[string]interface{}, error)
	// CreateSession 为指定用户创建一个新的托管聊天会话。
	CreateSession(ctx context.Context, userID string, workflow SessionWorkflow) (*Session, error)
	// CancelSession 取消一个既有会话，尽力而为。
	CancelSession(ctx context.Context, sessionID string) error
}

// SessionWorkflow 是创建会话时携带的工作流配置。
type SessionWorkflow struct {
	ID             string                 `json:"id"`
	Version        string                 `json:"version,omitempty"`
	StateVariables map[string]interface{} `json:"state_variables,omitempty"`
}

// Session 是托管聊天会话的创建结果。
type Session struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	ExpiresAt    int64  `json:"expires_at"`
	Status       string `json:"status"`
	User         string `json:"user"`
}

type httpClient struct {
	cfg          config.WorkflowConfig
	client       *http.Client
	pollInterval time.Duration
}

// NewClient 创建一个新的工作流客户端。
func NewClient(cfg config.WorkflowConfig) Client {
	interval := defaultPollInterval
	if cfg.PollIntervalMs > 0 {
		interval = time.Duration(cfg.PollIntervalMs) * time.Millisecond
	}
	return &httpClient{
		cfg:          cfg,
		client:       &http.Client{},
		pollInterval: interval,
	}
}

// runBody 是一次运行请求的传输结构。
type runBody struct {
	Version string                 `json:"version,omitempty"`
	Input   map[string]interface{} `json:"input"`
}

// RunWorkflow 发起运行。若响应是一个带 status 的异步运行对象，
// 则按固定间隔轮询至终态；轮询循环随调用方上下文取消而中止。
func (c *httpClient) RunWorkflow(ctx context.Context, req RunRequest) (map[string]interface{}, error) {
	input := map[string]interface{}{
		"messages":  req.Messages,
		"thread_id": req.ThreadID,
	}
	if req.Version != "" {
		input["workflow_version"] = req.Version
	}
	if req.MemoryResourceID != "" {
		input["vector_store_id"] = req.MemoryResourceID
	}
	if req.UserID != "" {
		input["user_id"] = req.UserID
	}

	body := runBody{Version: req.Version, Input: input}
	path := fmt.Sprintf("/workflows/%s/runs", req.WorkflowID)

	result, err := c.postJSON(ctx, path, body)
	if err != nil {
		return nil, err
	}

	// 同步结果直接返回；异步运行对象进入轮询
	runID, _ := result["id"].(string)
	for isPendingRun(result) && runID != "" {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
		result, err = c.getJSON(ctx, fmt.Sprintf("/workflows/%s/runs/%s", req.WorkflowID, runID))
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// isPendingRun 判断负载是否为仍在执行中的异步运行对象。
func isPendingRun(payload map[string]interface{}) bool {
	status, _ := payload["status"].(string)
	return status == runStatusQueued || status == runStatusInProgress
}

// CreateSession 创建托管聊天会话。
func (c *httpClient) CreateSession(ctx context.Context, userID string, wf SessionWorkflow) (*Session, error) {
	payload := map[string]interface{}{
		"user":     userID,
		"workflow": wf,
	}
	result, err := c.postJSON(ctx, "/chatkit/sessions", payload)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session payload: %w", err)
	}
	return &session, nil
}

// CancelSession 取消会话。失败只记录日志，不影响主流程。
func (c *httpClient) CancelSession(ctx context.Context, sessionID string) error {
	_, err := c.postJSON(ctx, fmt.Sprintf("/chatkit/sessions/%s/cancel", sessionID), map[string]interface{}{})
	if err != nil {
		log.Warnf("取消会话 %s 失败: %v", sessionID, err)
		return err
	}
	return nil
}

func (c *httpClient) postJSON(ctx context.Context, path string, body interface{}) (map[string]interface{}, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+path, bytes.NewReader(reqBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow request: %w", err)
	}
	return c.do(req)
}

func (c *httpClient) getJSON(ctx context.Context, path string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow request: %w", err)
	}
	return c.do(req)
}

func (c *httpClient) do(req *http.Request) (map[string]interface{}, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call workflow api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("workflow api returned non-2xx status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode workflow response: %w", err)
	}
	return result, nil
}
