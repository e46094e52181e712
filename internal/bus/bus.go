package bus

import "sync"

// MessageBus is an in-process fan-out implementation of EventPublisher.
// Handlers run synchronously on the broadcasting goroutine; they must
// not block.
type MessageBus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func NewMessageBus() *MessageBus {
	return &MessageBus{handlers: make(map[string]EventHandler)}
}

func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	subs := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		subs = append(subs, h)
	}
	b.mu.RUnlock()

	for _, h := range subs {
		h(event)
	}
}
