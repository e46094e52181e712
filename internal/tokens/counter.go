// Package tokens estimates token usage for model requests.
package tokens

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/soloqueue/soloqueue/internal/providers"
)

// Per-message accounting overheads. Mirrors the OpenAI chat format: every
// message carries a fixed structural cost, each tool call adds its name and
// serialized arguments plus a small envelope, and tool-role messages carry
// their id reference.
const (
	messageOverhead  = 4
	toolCallOverhead = 10
	toolRoleOverhead = 5
	listOverhead     = 3
)

// DefaultModelLimit is used for models missing from the limits table.
const DefaultModelLimit = 128000

// Counter estimates token counts for text and chat messages.
type Counter interface {
	CountText(s string) int
	CountMessage(msg providers.Message) int
	CountMessages(msgs []providers.Message) int
}

// modelLimits maps model-name prefixes to context-window sizes.
var modelLimits = map[string]int{
	"deepseek-chat":     65536,
	"deepseek-reasoner": 65536,
	"kimi-k2":           131072,
	"moonshot":          131072,
	"gpt-4o":            128000,
	"gpt-4-turbo":       128000,
	"gpt-4":             8192,
	"gpt-3.5-turbo":     16385,
}

// ModelLimit returns the context-window size for a model name, matching on
// the longest known prefix. Unknown models default to 128k.
func ModelLimit(model string) int {
	best := 0
	limit := DefaultModelLimit
	for prefix, l := range modelLimits {
		if strings.HasPrefix(model, prefix) && len(prefix) > best {
			best = len(prefix)
			limit = l
		}
	}
	return limit
}

// TiktokenCounter counts tokens with a BPE encoding matched to the model.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

var (
	encCache   = map[string]*tiktoken.Tiktoken{}
	encCacheMu sync.Mutex
)

// NewCounter returns a Counter for the given model. It prefers the model's
// own encoding, falls back to cl100k_base, and finally to the character
// estimator when no encoding data is available (e.g. offline).
func NewCounter(model string) Counter {
	encCacheMu.Lock()
	defer encCacheMu.Unlock()

	if enc, ok := encCache[model]; ok {
		return &TiktokenCounter{enc: enc}
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		slog.Warn("tokens: no encoding available, using estimator", "model", model, "error", err)
		return Estimator{}
	}
	encCache[model] = enc
	return &TiktokenCounter{enc: enc}
}

func (c *TiktokenCounter) CountText(s string) int {
	if s == "" {
		return 0
	}
	return len(c.enc.Encode(s, nil, nil))
}

func (c *TiktokenCounter) CountMessage(msg providers.Message) int {
	return messageTokens(c.CountText, msg)
}

func (c *TiktokenCounter) CountMessages(msgs []providers.Message) int {
	return messagesTokens(c.CountText, msgs)
}

// Estimator approximates tokens as len/4. Deterministic and dependency-free;
// used when encodings cannot be loaded and in tests.
type Estimator struct{}

func (Estimator) CountText(s string) int { return len(s) / 4 }

func (e Estimator) CountMessage(msg providers.Message) int {
	return messageTokens(e.CountText, msg)
}

func (e Estimator) CountMessages(msgs []providers.Message) int {
	return messagesTokens(e.CountText, msgs)
}

func messageTokens(count func(string) int, msg providers.Message) int {
	n := messageOverhead
	n += count(msg.Content)
	n += count(msg.Reasoning)
	for _, tc := range msg.ToolCalls {
		n += count(tc.Name)
		if len(tc.Arguments) > 0 {
			if raw, err := json.Marshal(tc.Arguments); err == nil {
				n += count(string(raw))
			}
		}
		n += toolCallOverhead
	}
	if msg.Role == "tool" {
		n += count(msg.Name)
		n += toolRoleOverhead
	}
	return n
}

func messagesTokens(count func(string) int, msgs []providers.Message) int {
	n := listOverhead
	for _, m := range msgs {
		n += messageTokens(count, m)
	}
	return n
}
