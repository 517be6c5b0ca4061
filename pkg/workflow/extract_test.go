package workflow

import "testing"

func TestExtractOutputTextFromContentList(t *testing.T) {
	result := map[string]interface{}{
		"output": []interface{}{
			map[string]interface{}{
				"role": "assistant",
				"content": []interface{}{
					map[string]interface{}{"type": "output_text", "text": "Hello!"},
				},
			},
		},
	}
	if got := ExtractOutputText(result); got != "Hello!" {
		t.Fatalf("ExtractOutputText() = %q, want %q", got, "Hello!")
	}
}

func TestExtractOutputTextSkipsNonAssistantEntries(t *testing.T) {
	result := map[string]interface{}{
		"outputs": []interface{}{
			map[string]interface{}{"role": "tool", "content": "tool output"},
			map[string]interface{}{"role": "assistant", "content": "real answer"},
			// 未声明角色的条目也参与提取
			map[string]interface{}{"text": "extra note"},
		},
	}
	want := "real answer\n\nextra note"
	if got := ExtractOutputText(result); got != want {
		t.Fatalf("ExtractOutputText() = %q, want %q", got, want)
	}
}

func TestExtractOutputTextSingleObjectAndStringContent(t *testing.T) {
	result := map[string]interface{}{
		"response": map[string]interface{}{
			"content": "  plain text  ",
		},
	}
	if got := ExtractOutputText(result); got != "plain text" {
		t.Fatalf("ExtractOutputText() = %q, want %q", got, "plain text")
	}
}

func TestExtractOutputTextDedupsRepeatedFragments(t *testing.T) {
	result := map[string]interface{}{
		"output": []interface{}{
			map[string]interface{}{"content": "same"},
			map[string]interface{}{"content": "same"},
			map[string]interface{}{"content": "other"},
		},
	}
	want := "same\n\nother"
	if got := ExtractOutputText(result); got != want {
		t.Fatalf("ExtractOutputText() = %q, want %q", got, want)
	}
}

func TestExtractOutputTextEmptyResult(t *testing.T) {
	cases := []map[string]interface{}{
		{},
		{"status": "completed"},
		{"output": []interface{}{}},
		{"message": "run failed upstream"},
	}
	for _, result := range cases {
		if got := ExtractOutputText(result); got != "" {
			t.Fatalf("ExtractOutputText(%v) = %q, want empty", result, got)
		}
	}
}

func TestExtractOutputTextProbesKeysInOrder(t *testing.T) {
	// output 先于 response 被探测
	result := map[string]interface{}{
		"response": map[string]interface{}{"content": "from response"},
		"output":   map[string]interface{}{"content": "from output"},
	}
	want := "from output\n\nfrom response"
	if got := ExtractOutputText(result); got != want {
		t.Fatalf("ExtractOutputText() = %q, want %q", got, want)
	}
}
