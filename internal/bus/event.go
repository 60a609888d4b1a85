package bus

import "time"

// Event represents a domain event published on the bus.
// ID is assigned by Publish when left empty.
type Event struct {
	ID        string
	Kind      string
	Timestamp time.Time
	Payload   any
}
