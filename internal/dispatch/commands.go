package dispatch

import (
	"context"
	"fmt"

	"github.com/roach88/potluck/internal/session"
	"github.com/roach88/potluck/internal/store"
)

// Command names.
const (
	CmdAddFriend     = "add_friend"
	CmdRequestFriend = "request_friend"
	CmdGetRequests   = "get_requests"
	CmdMessageFriend = "message_friend"
	CmdGetMessages   = "get_messages"
	CmdBlockFriend   = "block_friend"
	CmdUnblockFriend = "unblock_friend"
	CmdRemoveFriend  = "remove_friend"
	CmdSignOut       = "sign_out"
)

var commandOrder = []string{
	CmdAddFriend,
	CmdRequestFriend,
	CmdGetRequests,
	CmdMessageFriend,
	CmdGetMessages,
	CmdBlockFriend,
	CmdUnblockFriend,
	CmdRemoveFriend,
	CmdSignOut,
}

// call is one tagged frame being processed.
type call struct {
	self    int64
	token   Token
	payload Payload
	conn    session.Conn
	command string

	// after runs once the response has been sent.
	after func()
}

// peer returns the counterpart id. Commands that address another identity
// reject a missing, non-positive, or self peer unless allowSelf is set.
func (c *call) peer(allowSelf bool) (int64, error) {
	p := c.payload.PeerUserID
	if p == nil || *p <= 0 {
		return 0, errBadPeer
	}
	if *p == c.self && !allowSelf {
		return 0, fmt.Errorf("%w: peer is self", errBadPeer)
	}
	return *p, nil
}

type command struct {
	// failure is the only error string a client ever sees for this command.
	failure string
	run     func(ctx context.Context, d *Dispatcher, c *call) (any, error)
}

func (d *Dispatcher) table() map[string]command {
	return map[string]command{
		CmdAddFriend:     {failure: "no request found", run: addFriend},
		CmdRequestFriend: {failure: "unable to request friend", run: requestFriend},
		CmdGetRequests:   {failure: "unable to get requests", run: getRequests},
		CmdMessageFriend: {failure: "unable to message friend", run: messageFriend},
		CmdGetMessages:   {failure: "unable to get messages", run: getMessages},
		CmdBlockFriend:   {failure: "unable to block friend", run: blockFriend},
		CmdUnblockFriend: {failure: "unable to unblock friend", run: unblockFriend},
		CmdRemoveFriend:  {failure: "unable to remove friend", run: removeFriend},
		CmdSignOut:       {failure: "unable to sign out", run: signOut},
	}
}

// addFriend accepts the pending request peer→self. The request is consumed
// and both friend edges are created in one transaction.
func addFriend(ctx context.Context, d *Dispatcher, c *call) (any, error) {
	peer, err := c.peer(false)
	if err != nil {
		return nil, err
	}

	d.enter(c.command, Authorizing)
	if !d.authz.HasPendingRequest(ctx, peer, c.self) {
		return nil, errDenied
	}

	d.enter(c.command, Executing)
	err = d.db.InTx(ctx, func(q *store.Queries) error {
		n, err := q.DeleteEdgeByPair(ctx, store.Request, peer, c.self)
		if err != nil {
			return err
		}
		if n == 0 {
			// Consumed by a concurrent frame between the check and the delete.
			return errDenied
		}
		for _, p := range [][2]int64{{c.self, peer}, {peer, c.self}} {
			ok, err := q.HasEdge(ctx, store.Friend, p[0], p[1])
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			if _, err := q.CreateEdge(ctx, store.Friend, p[0], p[1]); err != nil {
				return err
			}
		}
		// A crossed request self→peer is satisfied too.
		_, err = q.DeleteEdgeByPair(ctx, store.Request, c.self, peer)
		return err
	})
	if err != nil {
		return nil, err
	}

	d.push(CmdAddFriend, peer, PeerPayload{PeerUserID: c.self})
	return PeerPayload{PeerUserID: peer}, nil
}

func requestFriend(ctx context.Context, d *Dispatcher, c *call) (any, error) {
	peer, err := c.peer(false)
	if err != nil {
		return nil, err
	}

	d.enter(c.command, Authorizing)
	if !d.authz.NotFriends(ctx, c.self, peer) || !d.authz.NotBlockedBy(ctx, peer, c.self) {
		return nil, errDenied
	}

	d.enter(c.command, Executing)
	if _, err := d.db.CreateEdge(ctx, store.Request, c.self, peer); err != nil {
		return nil, err
	}

	d.push(CmdRequestFriend, peer, PeerPayload{PeerUserID: c.self})
	return PeerPayload{PeerUserID: peer}, nil
}

// getRequests lists the requests self has sent.
func getRequests(ctx context.Context, d *Dispatcher, c *call) (any, error) {
	d.enter(c.command, Executing)
	rows, err := d.db.ReadEdgesByMain(ctx, store.Request, c.self)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// messageFriend pushes the message to a live peer, or queues it in the
// mailbox when the peer is offline or the push fails.
func messageFriend(ctx context.Context, d *Dispatcher, c *call) (any, error) {
	peer, err := c.peer(true)
	if err != nil {
		return nil, err
	}
	if c.payload.Message == nil || *c.payload.Message == "" {
		return nil, fmt.Errorf("%w: empty message", errDenied)
	}
	text := *c.payload.Message

	d.enter(c.command, Authorizing)
	if !d.authz.IsAuthorized(ctx, c.self, peer) {
		return nil, errDenied
	}

	d.enter(c.command, Executing)
	delivered := d.push(CmdMessageFriend, peer, MessagePayload{PeerUserID: c.self, Message: text})
	if !delivered {
		if _, err := d.db.CreateMessage(ctx, c.self, peer, text); err != nil {
			return nil, err
		}
		d.metrics.Queued()
	}
	return MessagePayload{PeerUserID: peer, Delivered: &delivered}, nil
}

// getMessages drains self's mailbox. Entries are deleted as they are read;
// a second call returns nothing until new messages are queued.
func getMessages(ctx context.Context, d *Dispatcher, c *call) (any, error) {
	d.enter(c.command, Executing)

	var rows []store.Row
	err := d.db.InTx(ctx, func(q *store.Queries) error {
		var err error
		rows, err = q.DrainMessages(ctx, c.self)
		return err
	})
	if err != nil {
		return nil, err
	}
	d.metrics.Drained(len(rows))
	return rows, nil
}

// blockFriend blocks a current friend. The block edge is self→peer only,
// but the friendship is dissolved in both directions in the same
// transaction: friendship stays symmetric and a block edge never coexists
// with a friend edge. unblock_friend removes the block and nothing else, so
// the pair has to go through request_friend and add_friend again.
func blockFriend(ctx context.Context, d *Dispatcher, c *call) (any, error) {
	peer, err := c.peer(false)
	if err != nil {
		return nil, err
	}

	d.enter(c.command, Authorizing)
	if !d.authz.IsFriends(ctx, c.self, peer) {
		return nil, errDenied
	}

	d.enter(c.command, Executing)
	err = d.db.InTx(ctx, func(q *store.Queries) error {
		if _, err := q.CreateEdge(ctx, store.Block, c.self, peer); err != nil {
			return err
		}
		for _, p := range [][2]int64{{c.self, peer}, {peer, c.self}} {
			if _, err := q.DeleteEdgeByPair(ctx, store.Friend, p[0], p[1]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return PeerPayload{PeerUserID: peer}, nil
}

func unblockFriend(ctx context.Context, d *Dispatcher, c *call) (any, error) {
	peer, err := c.peer(false)
	if err != nil {
		return nil, err
	}

	d.enter(c.command, Authorizing)
	if !d.authz.IsBlockedBy(ctx, c.self, peer) {
		return nil, errDenied
	}

	d.enter(c.command, Executing)
	n, err := d.db.DeleteEdgeByPair(ctx, store.Block, c.self, peer)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errDenied
	}
	return PeerPayload{PeerUserID: peer}, nil
}

// removeFriend deletes the friendship in both directions.
func removeFriend(ctx context.Context, d *Dispatcher, c *call) (any, error) {
	peer, err := c.peer(false)
	if err != nil {
		return nil, err
	}

	d.enter(c.command, Authorizing)
	if !d.authz.IsFriends(ctx, c.self, peer) {
		return nil, errDenied
	}

	d.enter(c.command, Executing)
	err = d.db.InTx(ctx, func(q *store.Queries) error {
		for _, p := range [][2]int64{{c.self, peer}, {peer, c.self}} {
			if _, err := q.DeleteEdgeByPair(ctx, store.Friend, p[0], p[1]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return PeerPayload{PeerUserID: peer}, nil
}

// signOut drops self's session. The transport is closed after the reply.
func signOut(_ context.Context, d *Dispatcher, c *call) (any, error) {
	d.enter(c.command, Executing)
	d.sessions.Unbind(string(c.token), c.conn)
	c.after = func() { c.conn.Close() }
	return struct{}{}, nil
}
