package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/potluck/internal/shape"
)

func TestIdentity_CreateAndRead(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	id, err := s.CreateIdentity(ctx, identityWrite(1))
	require.NoError(t, err)
	assert.Positive(t, id)

	row, err := s.ReadIdentity(ctx, shape.NewRead(shape.Identities).Fields(shape.ColGmail, shape.ColFirstName), id)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "user1@example.com", row.Text(shape.ColGmail))
	assert.Equal(t, "First1", row.Text(shape.ColFirstName))
	assert.NotContains(t, row, shape.ColLastName, "projection must only hold the selected columns")
}

func TestIdentity_ReadMissingIsNil(t *testing.T) {
	s := createTestStore(t)

	row, err := s.ReadIdentity(context.Background(), shape.NewRead(shape.Identities).All(), 42)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestIdentity_HandleIsNormalized(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	w := identityWrite(1).Set(shape.ColGmail, "  Ada.Lovelace@Example.COM ")
	id, err := s.CreateIdentity(ctx, w)
	require.NoError(t, err)

	row, err := s.ReadIdentityByHandle(ctx, shape.NewRead(shape.Identities).All(), "ADA.lovelace@example.com")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, id, row.ID())
	assert.Equal(t, "ada.lovelace@example.com", row.Text(shape.ColGmail))
}

func TestIdentity_DuplicateHandle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	createTestIdentities(t, s, 1)

	w := identityWrite(2).Set(shape.ColGmail, "USER1@example.com")
	_, err := s.CreateIdentity(ctx, w)
	require.Error(t, err)
	assert.Equal(t, KindUnique, KindOf(err))
	assert.True(t, IsConstraint(err))
}

func TestIdentity_InvalidHandle(t *testing.T) {
	s := createTestStore(t)

	_, err := s.CreateIdentity(context.Background(), identityWrite(1).Set(shape.ColGmail, "not-an-address"))
	require.Error(t, err)
	assert.Equal(t, KindCheck, KindOf(err))
	assert.ErrorIs(t, err, ErrInvalidHandle)
}

func TestIdentity_EmptyTextViolatesCheck(t *testing.T) {
	s := createTestStore(t)

	_, err := s.CreateIdentity(context.Background(), identityWrite(1).Set(shape.ColFirstName, ""))
	require.Error(t, err)
	assert.Equal(t, KindCheck, KindOf(err))
}

func TestIdentity_MissingRequiredField(t *testing.T) {
	s := createTestStore(t)

	w := shape.NewWrite(shape.Identities).Set(shape.ColGmail, "a@b.co")
	_, err := s.CreateIdentity(context.Background(), w)
	require.Error(t, err)
	assert.ErrorIs(t, err, shape.ErrMissingRequired)
}

func TestIdentity_UpdateBumpsLastUpdate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := createTestIdentities(t, s, 1)

	n, err := s.UpdateIdentity(ctx, shape.NewWrite(shape.Identities).Set(shape.ColFirstName, "Grace"), ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := s.ReadIdentity(ctx, shape.NewRead(shape.Identities).All(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, "Grace", row.Text(shape.ColFirstName))
	assert.True(t, row.Time(shape.ColLastUpdate).Equal(testNow), "last_update = %v", row[shape.ColLastUpdate])
}

func TestIdentity_UpdateMissingRow(t *testing.T) {
	s := createTestStore(t)

	n, err := s.UpdateIdentity(context.Background(), shape.NewWrite(shape.Identities).Set(shape.ColFirstName, "x"), 99)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIdentity_EmptyUpdateFails(t *testing.T) {
	s := createTestStore(t)

	_, err := s.UpdateIdentity(context.Background(), shape.NewWrite(shape.Identities), 1)
	assert.ErrorIs(t, err, shape.ErrEmptyShape)
}

func recipeWrite(owner int64, name string) *shape.Write {
	return shape.NewWrite(shape.Recipes).
		Set(shape.ColName, name).
		Set(shape.ColTime, "30m").
		Set(shape.ColType, "dinner").
		Set(shape.ColPrivate, true).
		Set(shape.ColIngredients, []string{"rice", "beans"}).
		Set(shape.ColHowToPrepare, []string{"boil", "serve"}).
		Set(shape.ColMainUserID, owner).
		Set(shape.ColOriginUserID, owner).
		Set(shape.ColOriginUserFullName, "First1 Last1")
}

func TestRecipe_CRUD(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := createTestIdentities(t, s, 2)

	id, err := s.CreateRecipe(ctx, recipeWrite(ids[0], "rice and beans"))
	require.NoError(t, err)

	row, err := s.ReadRecipe(ctx, shape.NewRead(shape.Recipes).All(), id)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "rice and beans", row.Text(shape.ColName))
	assert.True(t, row.Bool(shape.ColPrivate))
	assert.Equal(t, []string{"rice", "beans"}, row.List(shape.ColIngredients))
	assert.Equal(t, []string{"boil", "serve"}, row.List(shape.ColHowToPrepare))
	assert.Equal(t, ids[0], row.Int(shape.ColMainUserID))
	assert.Equal(t, "", row.Text(shape.ColImgFile))

	n, err := s.UpdateRecipe(ctx, shape.NewWrite(shape.Recipes).
		Set(shape.ColPrivate, false).
		Set(shape.ColIngredients, []string{}), id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err = s.ReadRecipe(ctx, shape.NewRead(shape.Recipes).Fields(shape.ColPrivate, shape.ColIngredients), id)
	require.NoError(t, err)
	assert.False(t, row.Bool(shape.ColPrivate))
	assert.Equal(t, []string{}, row.List(shape.ColIngredients))

	n, err = s.DeleteRecipe(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err = s.ReadRecipe(ctx, shape.NewRead(shape.Recipes).All(), id)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestRecipe_ReadByOwnerIsOrdered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := createTestIdentities(t, s, 2)

	for _, name := range []string{"a", "b", "c"} {
		_, err := s.CreateRecipe(ctx, recipeWrite(ids[0], name))
		require.NoError(t, err)
	}
	_, err := s.CreateRecipe(ctx, recipeWrite(ids[1], "other"))
	require.NoError(t, err)

	rows, err := s.ReadRecipesByOwner(ctx, shape.NewRead(shape.Recipes).Fields(shape.ColID, shape.ColName), ids[0])
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0].Text(shape.ColName))
	assert.Equal(t, "c", rows[2].Text(shape.ColName))
	assert.Less(t, rows[0].ID(), rows[1].ID())
}

func TestRecipe_UnknownOwner(t *testing.T) {
	s := createTestStore(t)

	_, err := s.CreateRecipe(context.Background(), recipeWrite(77, "ghost"))
	require.Error(t, err)
	assert.Equal(t, KindForeignKey, KindOf(err))
}

func TestEdges(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := createTestIdentities(t, s, 3)
	a, b, c := ids[0], ids[1], ids[2]

	for _, rel := range []Relation{Friend, Block, Request} {
		t.Run(rel.String(), func(t *testing.T) {
			_, err := s.CreateEdge(ctx, rel, a, b)
			require.NoError(t, err)
			id, err := s.CreateEdge(ctx, rel, c, b)
			require.NoError(t, err)

			ok, err := s.HasEdge(ctx, rel, a, b)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = s.HasEdge(ctx, rel, b, a)
			require.NoError(t, err)
			assert.False(t, ok, "edges are directional")

			byMain, err := s.ReadEdgesByMain(ctx, rel, a)
			require.NoError(t, err)
			require.Len(t, byMain, 1)
			assert.Equal(t, b, byMain[0].Int(shape.ColPeerUserID))

			byPeer, err := s.ReadEdgesByPeer(ctx, rel, b)
			require.NoError(t, err)
			require.Len(t, byPeer, 2)
			assert.Equal(t, a, byPeer[0].Int(shape.ColMainUserID))
			assert.Equal(t, c, byPeer[1].Int(shape.ColMainUserID))

			_, err = s.CreateEdge(ctx, rel, a, b)
			assert.Equal(t, KindUnique, KindOf(err))

			n, err := s.DeleteEdgeByPair(ctx, rel, a, b)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			n, err = s.DeleteEdge(ctx, rel, id)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			byPeer, err = s.ReadEdgesByPeer(ctx, rel, b)
			require.NoError(t, err)
			assert.Empty(t, byPeer)
		})
	}
}

func TestEdges_RelationsAreSeparate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := createTestIdentities(t, s, 2)

	_, err := s.CreateEdge(ctx, Request, ids[0], ids[1])
	require.NoError(t, err)

	ok, err := s.HasEdge(ctx, Friend, ids[0], ids[1])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseRelation(t *testing.T) {
	for _, rel := range []Relation{Friend, Block, Request} {
		got, err := ParseRelation(rel.String())
		require.NoError(t, err)
		assert.Equal(t, rel, got)
	}

	_, err := ParseRelation("enemy")
	assert.EqualError(t, err, `unknown relation "enemy"`)
}

func TestEdges_UnknownIdentity(t *testing.T) {
	s := createTestStore(t)
	ids := createTestIdentities(t, s, 1)

	_, err := s.CreateEdge(context.Background(), Block, ids[0], 500)
	assert.Equal(t, KindForeignKey, KindOf(err))
}

func TestMailbox_DrainIsDestructive(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := createTestIdentities(t, s, 3)
	a, b, c := ids[0], ids[1], ids[2]

	for _, m := range []string{"one", "two"} {
		_, err := s.CreateMessage(ctx, a, b, m)
		require.NoError(t, err)
	}
	_, err := s.CreateMessage(ctx, c, b, "three")
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, b, a, "for a")
	require.NoError(t, err)

	rows, err := s.DrainMessages(ctx, b)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "one", rows[0].Text(shape.ColMessage))
	assert.Equal(t, "two", rows[1].Text(shape.ColMessage))
	assert.Equal(t, "three", rows[2].Text(shape.ColMessage))
	assert.Equal(t, c, rows[2].Int(shape.ColMainUserID))

	rows, err = s.DrainMessages(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, rows)

	left, err := s.ReadMessagesByRecipient(ctx, a)
	require.NoError(t, err)
	assert.Len(t, left, 1, "other recipients are untouched")
}

func TestMailbox_ReadAndDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := createTestIdentities(t, s, 2)
	a, b := ids[0], ids[1]

	id, err := s.CreateMessage(ctx, a, b, "hello")
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, a, b, "again")
	require.NoError(t, err)

	row, err := s.ReadMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "hello", row.Text(shape.ColMessage))
	assert.False(t, row.Time(shape.ColCreateDate).IsZero())

	sent, err := s.ReadMessagesBySender(ctx, a)
	require.NoError(t, err)
	assert.Len(t, sent, 2)

	n, err := s.DeleteMessage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteMessagesBySender(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteMessagesByRecipient(ctx, b)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMailbox_EmptyMessageRejected(t *testing.T) {
	s := createTestStore(t)
	ids := createTestIdentities(t, s, 2)

	_, err := s.CreateMessage(context.Background(), ids[0], ids[1], "")
	assert.Equal(t, KindCheck, KindOf(err))
}

func TestChat_PairLookupAndAppend(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	ids := createTestIdentities(t, s, 3)
	a, b, c := ids[0], ids[1], ids[2]

	id, err := s.CreateChat(ctx, shape.NewWrite(shape.Chats).
		Set(shape.ColMainUserID, a).
		Set(shape.ColPeerUserID, b).
		Set(shape.ColMessages, []string{"hi"}))
	require.NoError(t, err)

	all := shape.NewRead(shape.Chats).All()
	for _, p := range [][2]int64{{a, b}, {b, a}} {
		row, err := s.ReadChatByPair(ctx, all, p[0], p[1])
		require.NoError(t, err)
		require.NotNil(t, row)
		assert.Equal(t, id, row.ID())
	}

	row, err := s.ReadChatByPair(ctx, all, a, c)
	require.NoError(t, err)
	assert.Nil(t, row)

	n, err := s.AppendChatMessage(ctx, id, "hello back")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err = s.ReadChat(ctx, all, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"hi", "hello back"}, row.List(shape.ColMessages))
	assert.True(t, row.Time(shape.ColLastChatUpdate).Equal(testNow))

	n, err = s.AppendChatMessage(ctx, 999, "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.DeleteChat(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestNormalizeHandle(t *testing.T) {
	h, err := NormalizeHandle(" Bob@Example.org ")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.org", h)

	// Composed and decomposed forms normalize to the same handle.
	composed, err := NormalizeHandle("jos\u00e9@example.org")
	require.NoError(t, err)
	decomposed, err := NormalizeHandle("jose\u0301@example.org")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)

	_, err = NormalizeHandle("")
	assert.ErrorIs(t, err, ErrInvalidHandle)
}
