package bus

// Event represents an engine-side event to broadcast to UI observers.
type Event struct {
	Name    string      `json:"name"` // event name (protocol.Event* constants)
	Payload interface{} `json:"payload,omitempty"`
}

// EventHandler handles a broadcast event.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast + subscription.
// Used by the orchestrator and the approval bridge to decouple from
// the concrete MessageBus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(event Event)
}
