// Package approval gates write actions on an out-of-process human decision.
package approval

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soloqueue/soloqueue/internal/bus"
	"github.com/soloqueue/soloqueue/pkg/protocol"
)

// DefaultTimeout is how long a request waits for the UI before denying.
const DefaultTimeout = 30 * time.Second

// syncMargin pads the blocking wait so the inner await always resolves first.
const syncMargin = 5 * time.Second

// pendingRequest tracks one in-flight approval.
type pendingRequest struct {
	done  chan bool // buffered(1); receives the decision
	timer *time.Timer
}

// Bridge routes write-action approvals to a UI event channel. Disconnected,
// every request is denied immediately. Connected, requests are broadcast as
// write_action_request events and block until SubmitResponse or timeout.
// Safe to call from any worker goroutine.
type Bridge struct {
	events  bus.EventPublisher
	Timeout time.Duration

	mu        sync.Mutex
	connected bool
	pending   map[string]*pendingRequest
}

func NewBridge(events bus.EventPublisher) *Bridge {
	return &Bridge{
		events:  events,
		Timeout: DefaultTimeout,
		pending: make(map[string]*pendingRequest),
	}
}

// SetConnected flips the UI attachment state. Turning it off leaves pending
// slots to resolve by timeout.
func (b *Bridge) SetConnected(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = on
	slog.Info("approval: connection state changed", "connected", on)
}

// Connected reports whether a UI channel is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// RequestApproval blocks the calling worker until the UI answers, the inner
// await times out, or the outer margin expires. operation is one of the
// protocol.Op* constants. Denies when disconnected.
func (b *Bridge) RequestApproval(agentID, filePath, operation string) bool {
	result := make(chan bool, 1)
	go func() {
		result <- b.RequestApprovalAsync(agentID, filePath, operation, "")
	}()

	select {
	case approved := <-result:
		return approved
	case <-time.After(b.Timeout + syncMargin):
		slog.Warn("approval: blocking wait exceeded margin, denying",
			"agent", agentID, "path", filePath)
		return false
	}
}

// RequestApprovalAsync registers a completion slot, emits the request event,
// and waits up to the timeout. The slot is removed on every exit path.
func (b *Bridge) RequestApprovalAsync(agentID, filePath, operation, requestID string) bool {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		slog.Warn("approval: denied, no UI connected",
			"agent", agentID, "path", filePath, "operation", operation)
		return false
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req := &pendingRequest{done: make(chan bool, 1)}
	req.timer = time.AfterFunc(b.Timeout, func() { b.resolve(requestID, false) })
	b.pending[requestID] = req
	b.mu.Unlock()

	b.events.Broadcast(bus.Event{
		Name: protocol.EventWriteActionRequest,
		Payload: protocol.WriteActionRequest{
			ID:        requestID,
			AgentID:   agentID,
			FilePath:  filePath,
			Operation: operation,
			Timestamp: time.Now().UTC(),
		},
	})
	slog.Info("approval: requested", "id", requestID, "agent", agentID,
		"path", filePath, "operation", operation)

	approved := <-req.done
	if !approved {
		slog.Info("approval: denied", "id", requestID)
	}
	return approved
}

// SubmitResponse fulfils a pending slot. Returns whether a matching request
// existed.
func (b *Bridge) SubmitResponse(requestID string, approved bool) bool {
	return b.resolve(requestID, approved)
}

func (b *Bridge) resolve(requestID string, approved bool) bool {
	b.mu.Lock()
	req, ok := b.pending[requestID]
	if ok {
		delete(b.pending, requestID)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	req.timer.Stop()
	req.done <- approved
	return true
}

// PendingCount reports in-flight requests (for diagnostics).
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
