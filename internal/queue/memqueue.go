package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

type memMessage struct {
	msg       Message
	visibleAt time.Time
}

// MemQueue is an in-process Queue with the same visibility-timeout semantics
// as the Postgres implementation. It backs local development without a
// database and the pipeline tests.
type MemQueue struct {
	mu     sync.Mutex
	nextID int64
	queues map[string][]*memMessage
	now    func() time.Time
}

func NewMemQueue() *MemQueue {
	return &MemQueue{
		queues: make(map[string][]*memMessage),
		now:    time.Now,
	}
}

func (q *MemQueue) Send(_ context.Context, queue string, payload any) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	q.queues[queue] = append(q.queues[queue], &memMessage{
		msg: Message{
			ID:         q.nextID,
			EnqueuedAt: q.now(),
			Payload:    body,
		},
	})
	return q.nextID, nil
}

func (q *MemQueue) Receive(_ context.Context, queue string, vt time.Duration, qty int) ([]Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Message
	for _, m := range q.queues[queue] {
		if len(out) >= qty {
			break
		}
		if m.visibleAt.After(now) {
			continue
		}
		m.visibleAt = now.Add(vt)
		m.msg.ReadCount++
		out = append(out, m.msg)
	}
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

func (q *MemQueue) Delete(_ context.Context, queue string, msgID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.queues[queue]
	for i, m := range msgs {
		if m.msg.ID == msgID {
			q.queues[queue] = append(msgs[:i], msgs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len reports how many messages remain on the named queue, visible or not.
func (q *MemQueue) Len(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[queue])
}
