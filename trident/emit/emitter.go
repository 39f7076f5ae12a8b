package emit

// Emitter receives observability events from workflow execution.
//
// Implementations must be safe for concurrent use: nodes in the same
// execution level emit from separate goroutines. Emit must not panic and
// must not block execution; backends that can stall should buffer or drop.
type Emitter interface {
	Emit(event Event)
}

// Null is an Emitter that discards every event.
type Null struct{}

// Emit discards the event.
func (Null) Emit(Event) {}

// Multi fans events out to several emitters in order.
type Multi []Emitter

// Emit forwards the event to every emitter.
func (m Multi) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}
