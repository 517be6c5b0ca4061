package workflow

import (
	"strings"

	"micro-agent-go/internal/model"
	"micro-agent-go/pkg/log"
)

// outputKeys 是运行结果中按固定顺序探测的候选输出键。
var outputKeys = []string{"output", "outputs", "response", "responses"}

// ExtractOutputText 从一次运行结果中尽力提取助手文本。
// 依次扫描候选键下的单个对象或对象列表，跳过声明了非 assistant 角色的
// 条目，其余条目经内容列表提取或直接字符串字段取文本；全部片段按
// 首次出现顺序去重后以空行连接。没有任何可提取文本时返回空字符串，
// 调用方应将其视为可重试的"空响应"，而不是崩溃。
func ExtractOutputText(result map[string]interface{}) string {
	var candidates []string

	for _, key := range outputKeys {
		data, ok := result[key]
		if !ok || data == nil {
			continue
		}

		entries, isList := data.([]interface{})
		if !isList {
			entries = []interface{}{data}
		}

		for _, raw := range entries {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if role, _ := entry["role"].(string); role != "" && role != string(model.RoleAssistant) {
				continue
			}

			switch content := entry["content"].(type) {
			case []interface{}:
				if text := model.ExtractText(contentParts(content)); text != "" {
					candidates = append(candidates, text)
				}
			case string:
				if text := strings.TrimSpace(content); text != "" {
					candidates = append(candidates, text)
				}
			}

			if text, _ := entry["text"].(string); strings.TrimSpace(text) != "" {
				candidates = append(candidates, strings.TrimSpace(text))
			}
		}
	}

	if len(candidates) == 0 {
		message, _ := result["message"].(string)
		if message == "" {
			message, _ = result["error"].(string)
		}
		if message != "" {
			log.Warnf("工作流运行未返回助手文本: %s", message)
		}
		return ""
	}

	// 按首次出现顺序去重
	seen := make(map[string]struct{}, len(candidates))
	deduped := candidates[:0]
	for _, text := range candidates {
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		deduped = append(deduped, text)
	}
	return strings.Join(deduped, "\n\n")
}

// contentParts 将未定型的内容列表转换为内容片段。
func contentParts(raw []interface{}) []model.ContentPart {
	parts := make([]model.ContentPart, 0, len(raw))
	for _, entry := range raw {
		switch v := entry.(type) {
		case map[string]interface{}:
			part := model.ContentPart{}
			if t, ok := v["type"].(string); ok {
				part.Type = t
			}
			if t, ok := v["text"].(string); ok {
				part.Text = t
			}
			extra := make(map[string]interface{})
			for k, val := range v {
				if k == "type" || k == "text" {
					continue
				}
				extra[k] = val
			}
			if len(extra) > 0 {
				part.Extra = extra
			}
			parts = append(parts, part)
		case string:
			parts = append(parts, model.ContentPart{Text: v})
		}
	}
	return parts
}
