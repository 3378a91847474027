package querysql

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/potluck/internal/shape"
)

// Statement is a parameterized SQL statement. Params[i] binds the i-th
// placeholder in Text. Entity is the table the statement targets; the store
// uses it to decode result columns.
type Statement struct {
	Text   string
	Params []any
	Entity *shape.Entity
}

// ErrLookup is returned when a read lookup names neither or both of the row
// id and the alternate key.
var ErrLookup = errors.New("lookup must name exactly one of id or alternate key")

// ErrUnfilteredDelete is returned by Delete when no condition is given.
var ErrUnfilteredDelete = errors.New("delete requires at least one condition")

// Lookup selects a single row by id or by the entity's alternate key.
// Exactly one of ID and Key must be set.
type Lookup struct {
	ID    *int64
	Key   shape.Column
	Value any
}

// ByID looks a row up by its id.
func ByID(id int64) Lookup {
	return Lookup{ID: &id}
}

// ByKey looks a row up by an alternate unique key.
func ByKey(col shape.Column, v any) Lookup {
	return Lookup{Key: col, Value: v}
}

// Builder turns shapes into statements.
//
// Column and table names come only from shape entities, never from callers,
// and every value is bound as a parameter. Placeholders follow the dialect
// (? for SQLite, $n for Postgres) and are numbered in the order their
// params appear, so Params can be passed straight to ExecContext.
//
// A Builder holds no per-statement state and is safe for concurrent use.
type Builder struct {
	dialect Dialect
	now     func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithClock sets the clock used to resolve shape.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		b.now = now
	}
}

// NewBuilder creates a Builder for the given dialect. Timestamps resolve
// against the UTC wall clock unless WithClock is given.
func NewBuilder(d Dialect, opts ...Option) *Builder {
	b := &Builder{
		dialect: d,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Dialect returns the builder's dialect.
func (b *Builder) Dialect() Dialect { return b.dialect }

// Create compiles an insert that returns the new row id:
//
//	INSERT INTO t (a, b) VALUES (?, ?) RETURNING id
//
// Every required column must be set and every set column must be
// insertable. Both SQLite (3.35+) and Postgres accept RETURNING, so the
// caller scans the id instead of relying on LastInsertId.
func (b *Builder) Create(w *shape.Write) (Statement, error) {
	enc, err := shape.Encode(w, b.now)
	if err != nil {
		return Statement{}, fmt.Errorf("compile create: %w", err)
	}
	e := w.Entity()

	for _, def := range e.Columns() {
		if def.Required && !w.Has(def.Name) {
			return Statement{}, fmt.Errorf("compile create: %w: %s.%s", shape.ErrMissingRequired, e.Table(), def.Name)
		}
	}

	fields := make([]string, 0, enc.Len())
	placeholders := make([]string, 0, enc.Len())
	params := make([]any, 0, enc.Len())
	for i, f := range enc.Fields {
		def, _ := e.Column(f)
		if !def.Insertable {
			return Statement{}, fmt.Errorf("compile create: %w: %s.%s", shape.ErrNotInsertable, e.Table(), f)
		}
		p, err := b.dialect.Bind(def.Kind, enc.Values[i])
		if err != nil {
			return Statement{}, fmt.Errorf("compile create: %w", err)
		}
		fields = append(fields, string(f))
		params = append(params, p)
		placeholders = append(placeholders, b.dialect.Placeholder(len(params)))
	}

	text := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		e.Table(),
		strings.Join(fields, ", "),
		strings.Join(placeholders, ", "))
	return Statement{Text: text, Params: params, Entity: e}, nil
}

// Update compiles an update of one row filtered by id alone. The id is the
// final parameter:
//
//	UPDATE t SET a = ?, b = ? WHERE id = ?
func (b *Builder) Update(w *shape.Write, id int64) (Statement, error) {
	enc, err := shape.Encode(w, b.now)
	if err != nil {
		return Statement{}, fmt.Errorf("compile update: %w", err)
	}
	e := w.Entity()

	sets := make([]string, 0, enc.Len())
	params := make([]any, 0, enc.Len()+1)
	for i, f := range enc.Fields {
		def, _ := e.Column(f)
		if !def.Mutable {
			return Statement{}, fmt.Errorf("compile update: %w: %s.%s", shape.ErrNotMutable, e.Table(), f)
		}
		p, err := b.dialect.Bind(def.Kind, enc.Values[i])
		if err != nil {
			return Statement{}, fmt.Errorf("compile update: %w", err)
		}
		params = append(params, p)
		sets = append(sets, fmt.Sprintf("%s = %s", f, b.dialect.Placeholder(len(params))))
	}
	params = append(params, id)

	text := fmt.Sprintf("UPDATE %s SET %s WHERE id = %s",
		e.Table(),
		strings.Join(sets, ", "),
		b.dialect.Placeholder(len(params)))
	return Statement{Text: text, Params: params, Entity: e}, nil
}

// Read compiles a single-row read by id or alternate key:
//
//	SELECT a, b FROM t WHERE id = ?
//	SELECT * FROM users WHERE gmail = ?
func (b *Builder) Read(r *shape.Read, l Lookup) (Statement, error) {
	e := r.Entity()

	var cond shape.Cond
	switch {
	case l.ID != nil && l.Key == "":
		cond = shape.Eq(shape.ColID, *l.ID)
	case l.ID == nil && l.Key != "":
		if e.AltKey() == "" || l.Key != e.AltKey() {
			return Statement{}, fmt.Errorf("compile read: %w: %s is not the alternate key of %s", ErrLookup, l.Key, e.Table())
		}
		cond = shape.Eq(l.Key, l.Value)
	default:
		return Statement{}, fmt.Errorf("compile read: %w", ErrLookup)
	}

	projection, err := b.projection(r)
	if err != nil {
		return Statement{}, fmt.Errorf("compile read: %w", err)
	}
	where, params, err := b.where(e, []shape.Cond{cond})
	if err != nil {
		return Statement{}, fmt.Errorf("compile read: %w", err)
	}

	text := fmt.Sprintf("SELECT %s FROM %s%s", projection, e.Table(), where)
	return Statement{Text: text, Params: params, Entity: e}, nil
}

// ReadWhere compiles a multi-row read. Rows are always ordered by id so
// results are deterministic:
//
//	SELECT a FROM t WHERE main_user_id = ? ORDER BY id ASC
func (b *Builder) ReadWhere(r *shape.Read, conds ...shape.Cond) (Statement, error) {
	e := r.Entity()

	projection, err := b.projection(r)
	if err != nil {
		return Statement{}, fmt.Errorf("compile read: %w", err)
	}
	where, params, err := b.where(e, conds)
	if err != nil {
		return Statement{}, fmt.Errorf("compile read: %w", err)
	}

	text := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY id ASC", projection, e.Table(), where)
	return Statement{Text: text, Params: params, Entity: e}, nil
}

// Exists compiles a lookup that returns at most one id.
func (b *Builder) Exists(e *shape.Entity, conds ...shape.Cond) (Statement, error) {
	where, params, err := b.where(e, conds)
	if err != nil {
		return Statement{}, fmt.Errorf("compile exists: %w", err)
	}
	text := fmt.Sprintf("SELECT id FROM %s%s LIMIT 1", e.Table(), where)
	return Statement{Text: text, Params: params, Entity: e}, nil
}

// Delete compiles a delete. At least one condition is required.
func (b *Builder) Delete(e *shape.Entity, conds ...shape.Cond) (Statement, error) {
	if len(conds) == 0 {
		return Statement{}, fmt.Errorf("compile delete: %w", ErrUnfilteredDelete)
	}
	where, params, err := b.where(e, conds)
	if err != nil {
		return Statement{}, fmt.Errorf("compile delete: %w", err)
	}
	text := fmt.Sprintf("DELETE FROM %s%s", e.Table(), where)
	return Statement{Text: text, Params: params, Entity: e}, nil
}

// DeleteByID compiles a delete of a single row.
func (b *Builder) DeleteByID(e *shape.Entity, id int64) (Statement, error) {
	return b.Delete(e, shape.Eq(shape.ColID, id))
}

// DeleteReturning compiles a delete that hands back the removed rows, which
// makes read-and-remove a single atomic statement.
func (b *Builder) DeleteReturning(r *shape.Read, conds ...shape.Cond) (Statement, error) {
	e := r.Entity()
	if len(conds) == 0 {
		return Statement{}, fmt.Errorf("compile delete: %w", ErrUnfilteredDelete)
	}
	projection, err := b.projection(r)
	if err != nil {
		return Statement{}, fmt.Errorf("compile delete: %w", err)
	}
	where, params, err := b.where(e, conds)
	if err != nil {
		return Statement{}, fmt.Errorf("compile delete: %w", err)
	}
	text := fmt.Sprintf("DELETE FROM %s%s RETURNING %s", e.Table(), where, projection)
	return Statement{Text: text, Params: params, Entity: e}, nil
}

// projection renders the select list.
func (b *Builder) projection(r *shape.Read) (string, error) {
	cols, all, err := r.Projection()
	if err != nil {
		return "", err
	}
	if all {
		return "*", nil
	}
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = string(c)
	}
	return strings.Join(names, ", "), nil
}

// where renders " WHERE a = ? AND b = ?" and its params. Values are never
// interpolated.
func (b *Builder) where(e *shape.Entity, conds []shape.Cond) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}
	parts := make([]string, 0, len(conds))
	params := make([]any, 0, len(conds))
	for _, c := range conds {
		v, err := shape.CheckCond(e, c)
		if err != nil {
			return "", nil, err
		}
		p, err := b.dialect.Bind(e.Kind(c.Column), v)
		if err != nil {
			return "", nil, err
		}
		params = append(params, p)
		parts = append(parts, fmt.Sprintf("%s = %s", c.Column, b.dialect.Placeholder(len(params))))
	}
	return " WHERE " + strings.Join(parts, " AND "), params, nil
}
