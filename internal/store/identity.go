package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/potluck/internal/querysql"
	"github.com/roach88/potluck/internal/shape"
)

var validate = validator.New()

// NormalizeHandle returns the canonical form of an identity handle: trimmed,
// NFC-normalized and lower-cased. It fails if the result is not an address.
func NormalizeHandle(handle string) (string, error) {
	h := strings.ToLower(norm.NFC.String(strings.TrimSpace(handle)))
	if err := validate.Var(h, "required,email"); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return h, nil
}

// CreateIdentity inserts a user and returns its id. The handle in w is
// replaced with its normalized form.
func (q *Queries) CreateIdentity(ctx context.Context, w *shape.Write) (int64, error) {
	const op = "create identity"

	if v, ok := w.Value(shape.ColGmail); ok {
		handle, _ := v.(string)
		h, err := NormalizeHandle(handle)
		if err != nil {
			return 0, &Error{Kind: KindCheck, Op: op, Err: err}
		}
		w.Set(shape.ColGmail, h)
	}
	return q.insert(ctx, op, w)
}

// ReadIdentity reads the projection r of user id. A missing user is a nil
// Row.
func (q *Queries) ReadIdentity(ctx context.Context, r *shape.Read, id int64) (Row, error) {
	return q.readByID(ctx, "read identity", r, id)
}

// ReadIdentityByHandle reads the projection r of the user with the given
// handle.
func (q *Queries) ReadIdentityByHandle(ctx context.Context, r *shape.Read, handle string) (Row, error) {
	const op = "read identity by handle"

	h, err := NormalizeHandle(handle)
	if err != nil {
		return nil, &Error{Kind: KindCheck, Op: op, Err: err}
	}
	st, err := q.builder().Read(r, querysql.ByKey(shape.ColGmail, h))
	if err != nil {
		return nil, &Error{Kind: KindCheck, Op: op, Err: err}
	}
	row, err := q.QueryOne(ctx, st)
	return row, relabel(op, err)
}

// UpdateIdentity updates profile fields of user id and bumps last_update.
// It returns the number of rows changed (0 when the user does not exist).
func (q *Queries) UpdateIdentity(ctx context.Context, w *shape.Write, id int64) (int64, error) {
	if w.Len() > 0 && !w.Has(shape.ColLastUpdate) {
		w.Set(shape.ColLastUpdate, shape.Now)
	}
	return q.update(ctx, "update identity", w, id)
}
