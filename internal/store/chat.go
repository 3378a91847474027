package store

import (
	"context"

	"github.com/roach88/potluck/internal/shape"
)

// CreateChat inserts a chat and returns its id.
func (q *Queries) CreateChat(ctx context.Context, w *shape.Write) (int64, error) {
	return q.insert(ctx, "create chat", w)
}

// ReadChat reads the projection r of chat id.
func (q *Queries) ReadChat(ctx context.Context, r *shape.Read, id int64) (Row, error) {
	return q.readByID(ctx, "read chat", r, id)
}

// ReadChatByPair reads the chat between a and b in either direction.
func (q *Queries) ReadChatByPair(ctx context.Context, r *shape.Read, a, b int64) (Row, error) {
	const op = "read chat by pair"

	rows, err := q.readWhere(ctx, op, r, pair(a, b)...)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows[0], nil
	}
	if a == b {
		return nil, nil
	}

	rows, err = q.readWhere(ctx, op, r, pair(b, a)...)
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return rows[0], nil
	}
	return nil, nil
}

// UpdateChat updates chat id and bumps last_chat_update unless w sets it.
func (q *Queries) UpdateChat(ctx context.Context, w *shape.Write, id int64) (int64, error) {
	if w.Len() > 0 && !w.Has(shape.ColLastChatUpdate) {
		w.Set(shape.ColLastChatUpdate, shape.Now)
	}
	return q.update(ctx, "update chat", w, id)
}

// AppendChatMessage appends msg to the message list of chat id. It returns
// 0 when the chat does not exist. Run it inside InTx, or use
// Store.AppendChatMessage, so concurrent appends do not overwrite each other.
func (q *Queries) AppendChatMessage(ctx context.Context, id int64, msg string) (int64, error) {
	row, err := q.ReadChat(ctx, shape.NewRead(shape.Chats).Fields(shape.ColID, shape.ColMessages), id)
	if err != nil {
		return 0, relabel("append chat message", err)
	}
	if row == nil {
		return 0, nil
	}

	messages := append(row.List(shape.ColMessages), msg)
	w := shape.NewWrite(shape.Chats).Set(shape.ColMessages, messages)
	n, err := q.UpdateChat(ctx, w, id)
	return n, relabel("append chat message", err)
}

// AppendChatMessage appends msg to chat id in its own transaction.
func (s *Store) AppendChatMessage(ctx context.Context, id int64, msg string) (int64, error) {
	var n int64
	err := s.InTx(ctx, func(q *Queries) error {
		var err error
		n, err = q.AppendChatMessage(ctx, id, msg)
		return err
	})
	return n, err
}

// DeleteChat deletes chat id.
func (q *Queries) DeleteChat(ctx context.Context, id int64) (int64, error) {
	return q.remove(ctx, "delete chat", shape.Chats, shape.Eq(shape.ColID, id))
}
