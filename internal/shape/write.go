package shape

import (
	"errors"
	"fmt"
	"time"
)

// Assignment is one column = value pair of a write shape.
type Assignment struct {
	Column Column
	Value  any
}

// Write is an ordered list of assignments over one entity.
//
// Setting a column twice replaces the value but keeps the original position.
type Write struct {
	entity *Entity
	pairs  []Assignment
	pos    map[Column]int
	err    error
}

// NewWrite starts an empty write shape over e.
func NewWrite(e *Entity) *Write {
	return &Write{entity: e, pos: make(map[Column]int)}
}

// Set assigns v to column c. Values are checked against the column kind:
// int/int32/int64 for int columns, string, bool, []string, and time.Time or
// Now for timestamps.
func (w *Write) Set(c Column, v any) *Write {
	def, ok := w.entity.Column(c)
	if !ok {
		w.err = errors.Join(w.err, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, w.entity.table, c))
		return w
	}
	nv, err := normalize(def.Kind, v)
	if err != nil {
		w.err = errors.Join(w.err, fmt.Errorf("%s.%s: %w", w.entity.table, c, err))
		return w
	}
	if i, ok := w.pos[c]; ok {
		w.pairs[i].Value = nv
		return w
	}
	w.pos[c] = len(w.pairs)
	w.pairs = append(w.pairs, Assignment{Column: c, Value: nv})
	return w
}

// Has reports whether c has been assigned.
func (w *Write) Has(c Column) bool {
	_, ok := w.pos[c]
	return ok
}

// Value returns the value assigned to c.
func (w *Write) Value(c Column) (any, bool) {
	i, ok := w.pos[c]
	if !ok {
		return nil, false
	}
	return w.pairs[i].Value, true
}

// Entity returns the target entity.
func (w *Write) Entity() *Entity { return w.entity }

// Len returns the number of assignments.
func (w *Write) Len() int { return len(w.pairs) }

// Err returns the accumulated validation errors.
func (w *Write) Err() error { return w.err }

// Encoded is the output of Encode. Fields[i] is always paired with Values[i].
type Encoded struct {
	Fields []Column
	Values []any
}

// Len returns the number of pairs.
func (e Encoded) Len() int { return len(e.Fields) }

// Encode flattens w into its field and value lists in a single pass. Now is
// resolved with now(). Empty or invalid shapes fail before anything is
// emitted.
func Encode(w *Write, now func() time.Time) (Encoded, error) {
	if w == nil {
		return Encoded{}, fmt.Errorf("%w: nil write", ErrEmptyShape)
	}
	if w.err != nil {
		return Encoded{}, w.err
	}
	if len(w.pairs) == 0 {
		return Encoded{}, fmt.Errorf("%w: write on %s sets nothing", ErrEmptyShape, w.entity.table)
	}

	enc := Encoded{
		Fields: make([]Column, 0, len(w.pairs)),
		Values: make([]any, 0, len(w.pairs)),
	}
	for _, p := range w.pairs {
		v := p.Value
		if _, isNow := v.(nowValue); isNow {
			v = now()
		}
		enc.Fields = append(enc.Fields, p.Column)
		enc.Values = append(enc.Values, v)
	}
	return enc, nil
}
