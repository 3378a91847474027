package store

import (
	"context"

	"github.com/roach88/potluck/internal/shape"
)

// CreateRecipe inserts a recipe and returns its id.
func (q *Queries) CreateRecipe(ctx context.Context, w *shape.Write) (int64, error) {
	return q.insert(ctx, "create recipe", w)
}

// ReadRecipe reads the projection r of recipe id.
func (q *Queries) ReadRecipe(ctx context.Context, r *shape.Read, id int64) (Row, error) {
	return q.readByID(ctx, "read recipe", r, id)
}

// ReadRecipesByOwner reads every recipe owned by owner, oldest first.
func (q *Queries) ReadRecipesByOwner(ctx context.Context, r *shape.Read, owner int64) ([]Row, error) {
	return q.readWhere(ctx, "read recipes by owner", r, shape.Eq(shape.ColMainUserID, owner))
}

// UpdateRecipe updates recipe id.
func (q *Queries) UpdateRecipe(ctx context.Context, w *shape.Write, id int64) (int64, error) {
	return q.update(ctx, "update recipe", w, id)
}

// DeleteRecipe deletes recipe id.
func (q *Queries) DeleteRecipe(ctx context.Context, id int64) (int64, error) {
	return q.remove(ctx, "delete recipe", shape.Recipes, shape.Eq(shape.ColID, id))
}
