package shape

import (
	"errors"
	"fmt"
	"time"
)

// Column names a column of an entity table.
type Column string

// Kind is the storage kind of a column.
type Kind int

const (
	KindInt Kind = iota
	KindText
	KindBool
	KindTextList
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindTextList:
		return "text[]"
	case KindTime:
		return "timestamp"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ColumnDef describes one column of an entity.
type ColumnDef struct {
	Name Column
	Kind Kind

	// Insertable columns may appear in a create shape.
	Insertable bool

	// Mutable columns may appear in an update shape.
	Mutable bool

	// Required columns must appear in every create shape.
	Required bool
}

// Entity is a fixed table shape.
type Entity struct {
	table   string
	altKey  Column
	columns []ColumnDef
	index   map[Column]int
}

func newEntity(table string, altKey Column, defs ...ColumnDef) *Entity {
	e := &Entity{
		table:   table,
		altKey:  altKey,
		columns: defs,
		index:   make(map[Column]int, len(defs)),
	}
	for i, d := range defs {
		e.index[d.Name] = i
	}
	return e
}

// Table returns the table name.
func (e *Entity) Table() string { return e.table }

// AltKey returns the alternate unique key, or "" if the entity has none.
func (e *Entity) AltKey() Column { return e.altKey }

// Column looks up a column definition.
func (e *Entity) Column(c Column) (ColumnDef, bool) {
	i, ok := e.index[c]
	if !ok {
		return ColumnDef{}, false
	}
	return e.columns[i], true
}

// Columns returns the column definitions in declaration order.
func (e *Entity) Columns() []ColumnDef {
	out := make([]ColumnDef, len(e.columns))
	copy(out, e.columns)
	return out
}

// Kind returns the kind of column c. Unknown columns report KindText.
func (e *Entity) Kind(c Column) Kind {
	if d, ok := e.Column(c); ok {
		return d.Kind
	}
	return KindText
}

func (e *Entity) String() string { return e.table }

// Errors reported while building shapes.
var (
	ErrEmptyShape      = errors.New("empty shape")
	ErrUnknownColumn   = errors.New("unknown column")
	ErrKindMismatch    = errors.New("value kind mismatch")
	ErrNotInsertable   = errors.New("column not insertable")
	ErrNotMutable      = errors.New("column not mutable")
	ErrMissingRequired = errors.New("missing required column")
)

// nowValue is the marker type behind Now.
type nowValue struct{}

func (nowValue) String() string { return "NOW" }

// Now stands for "the current time" in a write shape. It is resolved to a
// concrete time.Time during Encode, using the caller's clock.
var Now = nowValue{}

// normalize converts v to the canonical Go type for kind k.
func normalize(k Kind, v any) (any, error) {
	switch k {
	case KindInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		}
	case KindText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case KindBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case KindTextList:
		if l, ok := v.([]string); ok {
			out := make([]string, len(l))
			copy(out, l)
			return out, nil
		}
	case KindTime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case nowValue:
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: want %s, got %T", ErrKindMismatch, k, v)
}
