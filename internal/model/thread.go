// Package model 包含了应用的数据模型定义。
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// ItemRole 表示一条会话消息的角色。
type ItemRole string

const (
	RoleUser      ItemRole = "user"
	RoleAssistant ItemRole = "assistant"
	RoleSystem    ItemRole = "system"
	RoleTool      ItemRole = "tool"
)

// ItemStatus 表示一条会话消息的生命周期状态。
type ItemStatus string

const (
	StatusInProgress ItemStatus = "in_progress"
	StatusStreaming  ItemStatus = "streaming"
	StatusPending    ItemStatus = "pending"
	StatusCompleted  ItemStatus = "completed"
)

// Terminal 判断状态是否为终态。处于瞬态的消息不会被镜像到持久存储。
func (s ItemStatus) Terminal() bool {
	switch s {
	case StatusInProgress, StatusStreaming, StatusPending:
		return false
	}
	return true
}

// Thread 代表一次会话，包含有序的消息列表。
type Thread struct {
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"createdAt"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Clone 返回 Thread 的深拷贝，调用方后续修改不会影响存储内部状态。
func (t Thread) Clone() Thread {
	out := t
	out.Metadata = deepCopyMap(t.Metadata)
	return out
}

// deepCopyValue 递归复制 JSON 解码产生的 map/slice 结构，
// 其余类型（string、float64、bool、nil 等）按值返回。
func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = deepCopyValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	return deepCopyValue(m).(map[string]interface{})
}

// ContentPart 是消息内容的一个片段。外部负载的结构并不完全可控，
// 已知的 type/text 字段之外的键保留在 Extra 中以便提取时探测。
type ContentPart struct {
	Type  string `json:"type,omitempty"`
	Text  string `json:"text,omitempty"`
	Extra map[string]interface{}
}

// UnmarshalJSON 捕获 type/text 之外的未知键到 Extra。
// 空字符串或非字符串的 type/text 留在 Extra 中，保证重新序列化时键不丢失。
func (p *ContentPart) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["type"].(string); ok && v != "" {
		p.Type = v
		delete(raw, "type")
	}
	if v, ok := raw["text"].(string); ok && v != "" {
		p.Text = v
		delete(raw, "text")
	}
	if len(raw) > 0 {
		p.Extra = raw
	}
	return nil
}

// MarshalJSON 将 Extra 中的键与已知字段合并输出。
func (p ContentPart) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(p.Extra)+2)
	for k, v := range p.Extra {
		out[k] = v
	}
	if p.Type != "" {
		out["type"] = p.Type
	}
	if p.Text != "" {
		out["text"] = p.Text
	}
	return json.Marshal(out)
}

// Clone 返回 ContentPart 的深拷贝。
func (p ContentPart) Clone() ContentPart {
	out := p
	out.Extra = deepCopyMap(p.Extra)
	return out
}

// ThreadItem 代表会话中的一条消息。
type ThreadItem struct {
	ID        string        `json:"id"`
	ThreadID  string        `json:"threadId"`
	Role      ItemRole      `json:"role"`
	Content   []ContentPart `json:"content"`
	Status    ItemStatus    `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Clone 返回 ThreadItem 的深拷贝。
func (i ThreadItem) Clone() ThreadItem {
	out := i
	if i.Content != nil {
		out.Content = make([]ContentPart, len(i.Content))
		for idx, part := range i.Content {
			out.Content[idx] = part.Clone()
		}
	}
	return out
}

// ThreadPage 是会话列表的一页。
type ThreadPage struct {
	Data       []Thread `json:"data"`
	HasMore    bool     `json:"hasMore"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// ItemPage 是消息列表的一页。
type ItemPage struct {
	Data       []ThreadItem `json:"data"`
	HasMore    bool         `json:"hasMore"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// extractKeys 是从松散结构的内容片段中探测文本时使用的键，按固定优先级排列。
var extractKeys = []string{"text", "value", "output_text", "input_text"}

// ExtractText 将一组内容片段拼接为纯文本。每个片段优先取 Text 字段；
// 否则按固定顺序探测 Extra 中的候选键，取第一个非空字符串。
// 片段之间以单个空格连接，无法解析的片段不产生任何输出。
func ExtractText(parts []ContentPart) string {
	var chunks []string
	for _, part := range parts {
		if t := strings.TrimSpace(part.Text); t != "" {
			chunks = append(chunks, t)
			continue
		}
		for _, key := range extractKeys {
			candidate, ok := part.Extra[key].(string)
			if !ok {
				continue
			}
			if t := strings.TrimSpace(candidate); t != "" {
				chunks = append(chunks, t)
				break
			}
		}
	}
	return strings.TrimSpace(strings.Join(chunks, " "))
}
