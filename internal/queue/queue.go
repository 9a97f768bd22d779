package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Message is a queued job as handed to a consumer. The same message may be
// delivered more than once; ReadCount tells a consumer how many deliveries
// this one has seen.
type Message struct {
	ID         int64
	ReadCount  int
	EnqueuedAt time.Time
	Payload    json.RawMessage
}

// Queue is a named at-least-once message queue. Receive makes messages
// invisible for the visibility timeout; a message not deleted before the
// timeout expires becomes visible again for redelivery.
type Queue interface {
	// Send enqueues payload on the named queue and returns the message ID.
	Send(ctx context.Context, queue string, payload any) (int64, error)

	// Receive returns up to qty visible messages, hiding each for vt.
	// An empty queue returns an empty slice, not an error.
	Receive(ctx context.Context, queue string, vt time.Duration, qty int) ([]Message, error)

	// Delete permanently removes a message, acknowledging it.
	Delete(ctx context.Context, queue string, msgID int64) error
}
