package approval

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/soloqueue/soloqueue/internal/bus"
	"github.com/soloqueue/soloqueue/pkg/protocol"
)

// captureBus records broadcast events and can auto-answer requests.
type captureBus struct {
	mu     sync.Mutex
	events []bus.Event
	answer func(req protocol.WriteActionRequest)
}

func (c *captureBus) Subscribe(string, bus.EventHandler) {}
func (c *captureBus) Unsubscribe(string)                 {}

func (c *captureBus) Broadcast(e bus.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
	if c.answer != nil {
		if req, ok := e.Payload.(protocol.WriteActionRequest); ok {
			go c.answer(req)
		}
	}
}

func (c *captureBus) lastRequest(t *testing.T) protocol.WriteActionRequest {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.events)
	req, ok := c.events[len(c.events)-1].Payload.(protocol.WriteActionRequest)
	require.True(t, ok)
	return req
}

func TestDisconnectedDeniesImmediately(t *testing.T) {
	b := NewBridge(&captureBus{})
	require.False(t, b.RequestApproval("main__a", "out.txt", protocol.OpCreate))
}

func TestApprovedRequest(t *testing.T) {
	cb := &captureBus{}
	b := NewBridge(cb)
	b.SetConnected(true)
	cb.answer = func(req protocol.WriteActionRequest) {
		require.True(t, b.SubmitResponse(req.ID, true))
	}

	require.True(t, b.RequestApproval("main__a", "out.txt", protocol.OpUpdate))
	require.Equal(t, 0, b.PendingCount())

	req := cb.lastRequest(t)
	require.Equal(t, "main__a", req.AgentID)
	require.Equal(t, "out.txt", req.FilePath)
	require.Equal(t, protocol.OpUpdate, req.Operation)
}

func TestDeniedRequest(t *testing.T) {
	cb := &captureBus{}
	b := NewBridge(cb)
	b.SetConnected(true)
	cb.answer = func(req protocol.WriteActionRequest) {
		b.SubmitResponse(req.ID, false)
	}

	require.False(t, b.RequestApproval("main__a", "out.txt", protocol.OpDelete))
}

func TestTimeoutDenies(t *testing.T) {
	cb := &captureBus{}
	b := NewBridge(cb)
	b.Timeout = 50 * time.Millisecond
	b.SetConnected(true)

	start := time.Now()
	require.False(t, b.RequestApproval("main__a", "out.txt", protocol.OpCreate))
	require.Less(t, time.Since(start), 5*time.Second)
	require.Equal(t, 0, b.PendingCount())
}

func TestSubmitResponseUnknownID(t *testing.T) {
	b := NewBridge(&captureBus{})
	b.SetConnected(true)
	require.False(t, b.SubmitResponse("nope", true))
}

func TestConcurrentRequests(t *testing.T) {
	cb := &captureBus{}
	b := NewBridge(cb)
	b.SetConnected(true)
	cb.answer = func(req protocol.WriteActionRequest) {
		// Approve creates, deny deletes.
		b.SubmitResponse(req.ID, req.Operation == protocol.OpCreate)
	}

	var wg sync.WaitGroup
	results := make([]bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			op := protocol.OpCreate
			if i%2 == 1 {
				op = protocol.OpDelete
			}
			results[i] = b.RequestApprovalAsync("main__a", "f.txt", op, "")
		}(i)
	}
	wg.Wait()

	for i, approved := range results {
		require.Equal(t, i%2 == 0, approved, "request %d", i)
	}
}
