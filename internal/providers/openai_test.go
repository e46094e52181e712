package providers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildRequestBodyKeepsAssistantReasoning(t *testing.T) {
	p := NewOpenAIProvider("deepseek", "key", "", "deepseek-reasoner")

	body := p.buildRequestBody(ChatRequest{
		Messages: []Message{
			{Role: "system", Content: "You are helpful."},
			{Role: "user", Content: "question"},
			{Role: "assistant", Content: "a", Reasoning: "chain of thought"},
			{Role: "user", Content: "follow-up"},
		},
	}, false)

	msgs, ok := body["messages"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, msgs, 4)

	require.Equal(t, "chain of thought", msgs[2]["reasoning_content"])
	require.Equal(t, "a", msgs[2]["content"])

	// Only assistant messages carry reasoning on the wire.
	for _, i := range []int{0, 1, 3} {
		_, present := msgs[i]["reasoning_content"]
		require.False(t, present, "message %d must not have reasoning_content", i)
	}
}

func TestBuildRequestBodyOmitsEmptyReasoning(t *testing.T) {
	p := NewOpenAIProvider("openai", "key", "", "gpt-4o")

	body := p.buildRequestBody(ChatRequest{
		Messages: []Message{{Role: "assistant", Content: "plain answer"}},
	}, false)

	msgs := body["messages"].([]map[string]interface{})
	_, present := msgs[0]["reasoning_content"]
	require.False(t, present)
}

func TestBuildRequestBodyToolCallWire(t *testing.T) {
	p := NewOpenAIProvider("deepseek", "key", "", "deepseek-chat")

	body := p.buildRequestBody(ChatRequest{
		Messages: []Message{
			{
				Role:      "assistant",
				Reasoning: "let me check",
				ToolCalls: []ToolCall{{
					ID:        "call-1",
					Name:      "read_file",
					Arguments: map[string]interface{}{"path": "x.txt"},
				}},
			},
			{Role: "tool", Content: "42", ToolCallID: "call-1", Name: "read_file"},
		},
	}, true)

	msgs := body["messages"].([]map[string]interface{})
	require.Len(t, msgs, 2)

	// Assistant: tool_calls wrapped as type+function, arguments as a JSON
	// string, content omitted, reasoning preserved.
	_, hasContent := msgs[0]["content"]
	require.False(t, hasContent)
	require.Equal(t, "let me check", msgs[0]["reasoning_content"])
	calls := msgs[0]["tool_calls"].([]map[string]interface{})
	require.Len(t, calls, 1)
	require.Equal(t, "call-1", calls[0]["id"])
	require.Equal(t, "function", calls[0]["type"])
	fn := calls[0]["function"].(map[string]interface{})
	require.Equal(t, "read_file", fn["name"])
	require.JSONEq(t, `{"path":"x.txt"}`, fn["arguments"].(string))

	// Tool result references the call id.
	require.Equal(t, "call-1", msgs[1]["tool_call_id"])
	require.Equal(t, "42", msgs[1]["content"])

	// Streaming requests ask for usage in the final chunk.
	require.Equal(t, true, body["stream"])
	require.Equal(t, map[string]interface{}{"include_usage": true}, body["stream_options"])
}
