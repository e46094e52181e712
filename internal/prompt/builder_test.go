package prompt

import (
	"strings"
	"testing"

	"github.com/soloqueue/soloqueue/internal/providers"
	"github.com/soloqueue/soloqueue/internal/tokens"
)

// fixedMsg builds a message costing exactly n tokens under the estimator:
// (n-4) tokens of content plus the 4-token message overhead.
func fixedMsg(role string, n int) providers.Message {
	return providers.Message{Role: role, Content: strings.Repeat("x", (n-4)*4)}
}

func TestBuildContextEviction(t *testing.T) {
	// System prompt 100 tokens, 10 history messages of 100 tokens each,
	// limit 500, safety 0.9, buffer 100 → budget 350 → system + 2 newest.
	b := &Builder{Counter: tokens.Estimator{}, ResponseBuffer: 100, SafetyMargin: 0.9}

	system := strings.Repeat("s", (100-4)*4)
	var history []providers.Message
	for i := 0; i < 10; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		history = append(history, fixedMsg(role, 100))
	}

	got := b.BuildContext(system, history, 500)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
	if got[0].Role != "system" {
		t.Errorf("first message role = %q, want system", got[0].Role)
	}
	if got[1].Content != history[8].Content || got[2].Content != history[9].Content {
		t.Error("retained history is not the two newest messages in original order")
	}
}

func TestBuildContextSystemOnlyWhenOverBudget(t *testing.T) {
	b := &Builder{Counter: tokens.Estimator{}, ResponseBuffer: 100, SafetyMargin: 0.9}

	system := strings.Repeat("s", 400*4) // 400 tokens, budget is 350
	history := []providers.Message{fixedMsg("user", 10)}

	got := b.BuildContext(system, history, 500)
	if len(got) != 1 || got[0].Role != "system" {
		t.Fatalf("got %v, want only the system message", got)
	}
}

func TestBuildContextKeepsAllWhenFits(t *testing.T) {
	b := NewBuilder(tokens.Estimator{})
	history := []providers.Message{
		fixedMsg("user", 20),
		fixedMsg("assistant", 20),
	}
	got := b.BuildContext("short prompt", history, 100000)
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3", len(got))
	}
}

func TestBuildContextEmptyHistory(t *testing.T) {
	b := NewBuilder(tokens.Estimator{})
	got := b.BuildContext("prompt", nil, 8192)
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
}
