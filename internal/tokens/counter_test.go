package tokens

import (
	"strings"
	"testing"

	"github.com/soloqueue/soloqueue/internal/providers"
)

func TestModelLimit(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"deepseek-chat", 65536},
		{"deepseek-reasoner", 65536},
		{"gpt-4o-mini", 128000},
		{"gpt-4", 8192},
		{"gpt-4-turbo-2024", 128000},
		{"totally-unknown", DefaultModelLimit},
	}
	for _, tt := range tests {
		if got := ModelLimit(tt.model); got != tt.want {
			t.Errorf("ModelLimit(%q) = %d, want %d", tt.model, got, tt.want)
		}
	}
}

func TestEstimatorCountMessage(t *testing.T) {
	e := Estimator{}

	// 40 chars of content → 10 tokens + 4 overhead.
	msg := providers.Message{Role: "user", Content: strings.Repeat("a", 40)}
	if got := e.CountMessage(msg); got != 14 {
		t.Errorf("CountMessage = %d, want 14", got)
	}
}

func TestEstimatorCountsReasoningAndToolCalls(t *testing.T) {
	e := Estimator{}
	msg := providers.Message{
		Role:      "assistant",
		Content:   strings.Repeat("a", 40), // 10
		Reasoning: strings.Repeat("b", 80), // 20
		ToolCalls: []providers.ToolCall{
			{Name: "read_file", Arguments: map[string]interface{}{"path": "x.txt"}},
		},
	}
	base := e.CountMessage(providers.Message{Role: "assistant", Content: msg.Content})
	got := e.CountMessage(msg)
	if got <= base+20+toolCallOverhead {
		t.Errorf("CountMessage = %d, want > %d (reasoning + tool call accounted)", got, base+20+toolCallOverhead)
	}
}

func TestEstimatorToolRoleOverhead(t *testing.T) {
	e := Estimator{}
	plain := providers.Message{Role: "user", Content: "hi"}
	tool := providers.Message{Role: "tool", Content: "hi", Name: "bash", ToolCallID: "c1"}
	if e.CountMessage(tool) <= e.CountMessage(plain) {
		t.Error("tool message should cost more than a plain message")
	}
}

func TestCountMessagesAddsListOverhead(t *testing.T) {
	e := Estimator{}
	msgs := []providers.Message{
		{Role: "user", Content: strings.Repeat("a", 4)},
		{Role: "assistant", Content: strings.Repeat("b", 4)},
	}
	want := listOverhead + e.CountMessage(msgs[0]) + e.CountMessage(msgs[1])
	if got := e.CountMessages(msgs); got != want {
		t.Errorf("CountMessages = %d, want %d", got, want)
	}
}
