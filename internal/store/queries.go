package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/potluck/internal/querysql"
	"github.com/roach88/potluck/internal/shape"
)

// Row is one decoded result row keyed by column. Text columns hold string,
// int columns int64, lists []string and timestamps time.Time.
type Row map[shape.Column]any

// Int returns column c as int64, or 0.
func (r Row) Int(c shape.Column) int64 {
	n, _ := r[c].(int64)
	return n
}

// Text returns column c as string, or "".
func (r Row) Text(c shape.Column) string {
	s, _ := r[c].(string)
	return s
}

// Bool returns column c as bool, or false.
func (r Row) Bool(c shape.Column) bool {
	b, _ := r[c].(bool)
	return b
}

// List returns column c as a list, or an empty list.
func (r Row) List(c shape.Column) []string {
	l, ok := r[c].([]string)
	if !ok {
		return []string{}
	}
	return l
}

// Time returns column c as a time, or the zero time.
func (r Row) Time(c shape.Column) time.Time {
	t, _ := r[c].(time.Time)
	return t
}

// ID returns the row id.
func (r Row) ID() int64 {
	return r.Int(shape.ColID)
}

type execer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Queries runs statements on the pool or on one transaction.
type Queries struct {
	s  *Store
	tx *sql.Tx
}

func (q *Queries) conn(ctx context.Context) (execer, error) {
	if q.tx != nil {
		return q.tx, nil
	}
	return q.s.pool(ctx)
}

func (q *Queries) builder() *querysql.Builder {
	return q.s.builder
}

// Query runs st and returns its decoded rows. An empty result is an empty
// slice, never nil.
func (q *Queries) Query(ctx context.Context, st querysql.Statement) ([]Row, error) {
	c, err := q.conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := c.QueryContext(ctx, st.Text, st.Params...)
	if err != nil {
		return nil, classify("query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify("query", err)
	}

	out := []Row{}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify("scan", err)
		}

		row := make(Row, len(cols))
		for i, name := range cols {
			col := shape.Column(name)
			kind := shape.KindText
			if st.Entity != nil {
				kind = st.Entity.Kind(col)
			}
			v, err := q.s.cfg.Dialect.Decode(kind, raw[i])
			if err != nil {
				return nil, classify("scan", fmt.Errorf("column %s: %w", name, err))
			}
			row[col] = v
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, classify("iterate", err)
	}
	return out, nil
}

// QueryOne runs st and returns its first row, or nil if there is none.
func (q *Queries) QueryOne(ctx context.Context, st querysql.Statement) (Row, error) {
	rows, err := q.Query(ctx, st)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// Exec runs st and returns the number of affected rows.
func (q *Queries) Exec(ctx context.Context, st querysql.Statement) (int64, error) {
	c, err := q.conn(ctx)
	if err != nil {
		return 0, err
	}

	res, err := c.ExecContext(ctx, st.Text, st.Params...)
	if err != nil {
		return 0, classify("exec", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("exec", err)
	}
	return n, nil
}

// insert runs a create statement and returns the new id.
func (q *Queries) insert(ctx context.Context, op string, w *shape.Write) (int64, error) {
	st, err := q.builder().Create(w)
	if err != nil {
		return 0, &Error{Kind: KindCheck, Op: op, Err: err}
	}

	rows, err := q.Query(ctx, st)
	if err != nil {
		return 0, relabel(op, err)
	}
	if len(rows) == 0 {
		return 0, &Error{Kind: KindOther, Op: op, Err: errNoID}
	}
	return rows[0].ID(), nil
}

// readByID runs a single-row read by id.
func (q *Queries) readByID(ctx context.Context, op string, r *shape.Read, id int64) (Row, error) {
	st, err := q.builder().Read(r, querysql.ByID(id))
	if err != nil {
		return nil, &Error{Kind: KindCheck, Op: op, Err: err}
	}
	row, err := q.QueryOne(ctx, st)
	return row, relabel(op, err)
}

// readWhere runs a multi-row read.
func (q *Queries) readWhere(ctx context.Context, op string, r *shape.Read, conds ...shape.Cond) ([]Row, error) {
	st, err := q.builder().ReadWhere(r, conds...)
	if err != nil {
		return nil, &Error{Kind: KindCheck, Op: op, Err: err}
	}
	rows, err := q.Query(ctx, st)
	return rows, relabel(op, err)
}

// update runs an update by id and returns the affected row count.
func (q *Queries) update(ctx context.Context, op string, w *shape.Write, id int64) (int64, error) {
	st, err := q.builder().Update(w, id)
	if err != nil {
		return 0, &Error{Kind: KindCheck, Op: op, Err: err}
	}
	n, err := q.Exec(ctx, st)
	return n, relabel(op, err)
}

// remove runs a filtered delete and returns the affected row count.
func (q *Queries) remove(ctx context.Context, op string, e *shape.Entity, conds ...shape.Cond) (int64, error) {
	st, err := q.builder().Delete(e, conds...)
	if err != nil {
		return 0, &Error{Kind: KindCheck, Op: op, Err: err}
	}
	n, err := q.Exec(ctx, st)
	return n, relabel(op, err)
}

// exists reports whether any row matches conds.
func (q *Queries) exists(ctx context.Context, op string, e *shape.Entity, conds ...shape.Cond) (bool, error) {
	st, err := q.builder().Exists(e, conds...)
	if err != nil {
		return false, &Error{Kind: KindCheck, Op: op, Err: err}
	}
	rows, err := q.Query(ctx, st)
	if err != nil {
		return false, relabel(op, err)
	}
	return len(rows) > 0, nil
}

// relabel replaces the generic Op of a store error with the data-access
// operation name.
func relabel(op string, err error) error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*Error); ok {
		return &Error{Kind: se.Kind, Op: op, Err: se.Err}
	}
	return classify(op, err)
}

func sortByID(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ID() < rows[j].ID()
	})
}
