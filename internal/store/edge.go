package store

import (
	"context"
	"fmt"

	"github.com/roach88/potluck/internal/shape"
)

// Relation names one of the three relationship edge tables.
type Relation int

const (
	Friend Relation = iota
	Block
	Request
)

func (r Relation) String() string {
	switch r {
	case Friend:
		return "friend"
	case Block:
		return "block"
	case Request:
		return "request"
	default:
		return fmt.Sprintf("relation(%d)", int(r))
	}
}

// ParseRelation maps "friend", "block" or "request" to a Relation.
func ParseRelation(s string) (Relation, error) {
	switch s {
	case "friend":
		return Friend, nil
	case "block":
		return Block, nil
	case "request":
		return Request, nil
	default:
		return 0, fmt.Errorf("unknown relation %q", s)
	}
}

// Entity returns the table backing the relation.
func (r Relation) Entity() *shape.Entity {
	switch r {
	case Block:
		return shape.Blocks
	case Request:
		return shape.Requests
	default:
		return shape.Friends
	}
}

func pair(main, peer int64) []shape.Cond {
	return []shape.Cond{
		shape.Eq(shape.ColMainUserID, main),
		shape.Eq(shape.ColPeerUserID, peer),
	}
}

// CreateEdge inserts a main→peer edge and returns its id.
func (q *Queries) CreateEdge(ctx context.Context, rel Relation, main, peer int64) (int64, error) {
	w := shape.NewWrite(rel.Entity()).
		Set(shape.ColMainUserID, main).
		Set(shape.ColPeerUserID, peer)
	return q.insert(ctx, "create "+rel.String(), w)
}

// ReadEdgesByMain reads every edge whose main side is main.
func (q *Queries) ReadEdgesByMain(ctx context.Context, rel Relation, main int64) ([]Row, error) {
	r := shape.NewRead(rel.Entity()).All()
	return q.readWhere(ctx, "read "+rel.String()+"s by main", r, shape.Eq(shape.ColMainUserID, main))
}

// ReadEdgesByPeer reads every edge whose peer side is peer.
func (q *Queries) ReadEdgesByPeer(ctx context.Context, rel Relation, peer int64) ([]Row, error) {
	r := shape.NewRead(rel.Entity()).All()
	return q.readWhere(ctx, "read "+rel.String()+"s by peer", r, shape.Eq(shape.ColPeerUserID, peer))
}

// HasEdge reports whether a main→peer edge exists.
func (q *Queries) HasEdge(ctx context.Context, rel Relation, main, peer int64) (bool, error) {
	return q.exists(ctx, "exists "+rel.String(), rel.Entity(), pair(main, peer)...)
}

// DeleteEdge deletes one edge by row id.
func (q *Queries) DeleteEdge(ctx context.Context, rel Relation, id int64) (int64, error) {
	return q.remove(ctx, "delete "+rel.String(), rel.Entity(), shape.Eq(shape.ColID, id))
}

// DeleteEdgeByPair deletes the main→peer edge.
func (q *Queries) DeleteEdgeByPair(ctx context.Context, rel Relation, main, peer int64) (int64, error) {
	return q.remove(ctx, "delete "+rel.String(), rel.Entity(), pair(main, peer)...)
}
