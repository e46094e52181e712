// Package prompt assembles the message list for a model call under a token
// budget.
package prompt

import (
	"log/slog"

	"github.com/soloqueue/soloqueue/internal/providers"
	"github.com/soloqueue/soloqueue/internal/tokens"
)

// Defaults for budget computation.
const (
	DefaultResponseBuffer = 4096
	DefaultSafetyMargin   = 0.95
)

// Builder fits a system prompt plus conversation history into a model's
// context window. The system prompt is always included; history is retained
// newest-first until the budget runs out.
type Builder struct {
	Counter        tokens.Counter
	ResponseBuffer int
	SafetyMargin   float64
}

func NewBuilder(counter tokens.Counter) *Builder {
	return &Builder{
		Counter:        counter,
		ResponseBuffer: DefaultResponseBuffer,
		SafetyMargin:   DefaultSafetyMargin,
	}
}

// BuildContext returns the messages to send: the system prompt, then the
// newest history messages that fit, in original (oldest→newest) order.
// budget = floor(limit × safety) − response_buffer. When the system prompt
// alone exceeds the budget, history is dropped entirely.
func (b *Builder) BuildContext(systemPrompt string, history []providers.Message, limit int) []providers.Message {
	budget := int(float64(limit)*b.SafetyMargin) - b.ResponseBuffer

	system := providers.Message{Role: "system", Content: systemPrompt}
	used := b.Counter.CountMessage(system)
	if used > budget {
		slog.Warn("prompt: system prompt exceeds budget, dropping history",
			"system_tokens", used, "budget", budget)
		return []providers.Message{system}
	}

	remaining := budget - used
	keep := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := b.Counter.CountMessage(history[i])
		if cost > remaining {
			break
		}
		remaining -= cost
		keep++
	}
	if keep < len(history) {
		slog.Debug("prompt: history truncated",
			"kept", keep, "dropped", len(history)-keep, "budget", budget)
	}

	out := make([]providers.Message, 0, keep+1)
	out = append(out, system)
	out = append(out, history[len(history)-keep:]...)
	return out
}
