package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// PGMQ backs the Queue interface with the pgmq Postgres extension, so jobs
// live in the same database as the rows they reference.
type PGMQ struct {
	db *bun.DB
}

func NewPGMQ(db *bun.DB) *PGMQ {
	return &PGMQ{db: db}
}

// CreateQueues creates the named queues if they do not exist yet.
func (q *PGMQ) CreateQueues(ctx context.Context, names ...string) error {
	for _, name := range names {
		if _, err := q.db.ExecContext(ctx, "SELECT pgmq.create(?)", name); err != nil {
			return fmt.Errorf("create queue %s: %w", name, err)
		}
	}
	return nil
}

func (q *PGMQ) Send(ctx context.Context, queue string, payload any) (int64, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	var msgID int64
	err = q.db.NewRaw("SELECT pgmq.send(?, ?::jsonb)", queue, string(body)).Scan(ctx, &msgID)
	if err != nil {
		return 0, fmt.Errorf("send to %s: %w", queue, err)
	}
	return msgID, nil
}

type pgmqRow struct {
	MsgID      int64     `bun:"msg_id"`
	ReadCt     int       `bun:"read_ct"`
	EnqueuedAt time.Time `bun:"enqueued_at"`
	Message    string    `bun:"message"`
}

func (q *PGMQ) Receive(ctx context.Context, queue string, vt time.Duration, qty int) ([]Message, error) {
	var rows []pgmqRow
	err := q.db.NewRaw(
		"SELECT msg_id, read_ct, enqueued_at, message FROM pgmq.read(?, ?, ?)",
		queue, int(vt.Seconds()), qty,
	).Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("read from %s: %w", queue, err)
	}

	msgs := make([]Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, Message{
			ID:         row.MsgID,
			ReadCount:  row.ReadCt,
			EnqueuedAt: row.EnqueuedAt,
			Payload:    json.RawMessage(row.Message),
		})
	}
	return msgs, nil
}

func (q *PGMQ) Delete(ctx context.Context, queue string, msgID int64) error {
	var deleted bool
	err := q.db.NewRaw("SELECT pgmq.delete(?, ?::bigint)", queue, msgID).Scan(ctx, &deleted)
	if err != nil {
		return fmt.Errorf("delete %d from %s: %w", msgID, queue, err)
	}
	return nil
}
