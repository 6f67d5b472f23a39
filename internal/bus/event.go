package bus

import "time"

// Event kinds pushed to real-time observers.
const (
	KindStatus     = "status"
	KindNewMessage = "new-message"
	KindNewLead    = "new-lead"
)

// Event is a single notification fanned out to subscribers.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
