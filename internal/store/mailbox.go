package store

import (
	"context"

	"github.com/roach88/potluck/internal/shape"
)

// CreateMessage queues text from sender to recipient and returns the entry id.
func (q *Queries) CreateMessage(ctx context.Context, sender, recipient int64, text string) (int64, error) {
	w := shape.NewWrite(shape.Mailbox).
		Set(shape.ColMainUserID, sender).
		Set(shape.ColPeerUserID, recipient).
		Set(shape.ColMessage, text)
	return q.insert(ctx, "create message", w)
}

// ReadMessage reads one mailbox entry.
func (q *Queries) ReadMessage(ctx context.Context, id int64) (Row, error) {
	return q.readByID(ctx, "read message", shape.NewRead(shape.Mailbox).All(), id)
}

// ReadMessagesBySender reads every queued entry sent by sender.
func (q *Queries) ReadMessagesBySender(ctx context.Context, sender int64) ([]Row, error) {
	r := shape.NewRead(shape.Mailbox).All()
	return q.readWhere(ctx, "read messages by sender", r, shape.Eq(shape.ColMainUserID, sender))
}

// ReadMessagesByRecipient reads every queued entry addressed to recipient.
func (q *Queries) ReadMessagesByRecipient(ctx context.Context, recipient int64) ([]Row, error) {
	r := shape.NewRead(shape.Mailbox).All()
	return q.readWhere(ctx, "read messages by recipient", r, shape.Eq(shape.ColPeerUserID, recipient))
}

// DeleteMessage deletes one entry.
func (q *Queries) DeleteMessage(ctx context.Context, id int64) (int64, error) {
	return q.remove(ctx, "delete message", shape.Mailbox, shape.Eq(shape.ColID, id))
}

// DeleteMessagesBySender deletes every entry sent by sender.
func (q *Queries) DeleteMessagesBySender(ctx context.Context, sender int64) (int64, error) {
	return q.remove(ctx, "delete messages by sender", shape.Mailbox, shape.Eq(shape.ColMainUserID, sender))
}

// DeleteMessagesByRecipient deletes every entry addressed to recipient.
func (q *Queries) DeleteMessagesByRecipient(ctx context.Context, recipient int64) (int64, error) {
	return q.remove(ctx, "delete messages by recipient", shape.Mailbox, shape.Eq(shape.ColPeerUserID, recipient))
}

// DrainMessages removes and returns every entry addressed to recipient,
// oldest first. Read and delete are one statement, so an entry queued while
// the drain runs is either returned or left for the next drain, never lost.
func (q *Queries) DrainMessages(ctx context.Context, recipient int64) ([]Row, error) {
	const op = "drain messages"

	st, err := q.builder().DeleteReturning(shape.NewRead(shape.Mailbox).All(), shape.Eq(shape.ColPeerUserID, recipient))
	if err != nil {
		return nil, &Error{Kind: KindCheck, Op: op, Err: err}
	}
	rows, err := q.Query(ctx, st)
	if err != nil {
		return nil, relabel(op, err)
	}
	sortByID(rows)
	return rows, nil
}
