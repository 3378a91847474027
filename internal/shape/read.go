package shape

import (
	"errors"
	"fmt"
)

// Read is a projection over one entity.
//
// Build it with NewRead and either Fields or All. Invalid columns are
// recorded and surfaced by Projection; the builder never panics.
type Read struct {
	entity *Entity
	all    bool
	fields []Column
	seen   map[Column]bool
	err    error
}

// NewRead starts an empty projection over e.
func NewRead(e *Entity) *Read {
	return &Read{entity: e, seen: make(map[Column]bool)}
}

// All selects every column. Fields added before or after are ignored.
func (r *Read) All() *Read {
	r.all = true
	return r
}

// Fields adds columns to the projection in the given order. Repeated columns
// keep their first position.
func (r *Read) Fields(cols ...Column) *Read {
	for _, c := range cols {
		if _, ok := r.entity.Column(c); !ok {
			r.err = errors.Join(r.err, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, r.entity.table, c))
			continue
		}
		if r.seen[c] {
			continue
		}
		r.seen[c] = true
		r.fields = append(r.fields, c)
	}
	return r
}

// Entity returns the projected entity.
func (r *Read) Entity() *Entity { return r.entity }

// IsAll reports whether the wildcard is selected.
func (r *Read) IsAll() bool { return r.all }

// Projection returns the selected columns. When All is set it returns
// (nil, true, nil) regardless of any fields. A projection with no columns
// and no wildcard is an error.
func (r *Read) Projection() ([]Column, bool, error) {
	if r.all {
		return nil, true, nil
	}
	if r.err != nil {
		return nil, false, r.err
	}
	if len(r.fields) == 0 {
		return nil, false, fmt.Errorf("%w: read on %s selects nothing", ErrEmptyShape, r.entity.table)
	}
	out := make([]Column, len(r.fields))
	copy(out, r.fields)
	return out, false, nil
}

// Cond is an equality condition used in filters.
type Cond struct {
	Column Column
	Value  any
}

// Eq builds an equality condition.
func Eq(c Column, v any) Cond {
	return Cond{Column: c, Value: v}
}

// CheckCond validates a condition against e and returns the normalized value.
func CheckCond(e *Entity, c Cond) (any, error) {
	def, ok := e.Column(c.Column)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, e.table, c.Column)
	}
	v, err := normalize(def.Kind, c.Value)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", e.table, c.Column, err)
	}
	if _, isNow := v.(nowValue); isNow {
		return nil, fmt.Errorf("%s.%s: %w: NOW is only valid in write shapes", e.table, c.Column, ErrKindMismatch)
	}
	return v, nil
}
