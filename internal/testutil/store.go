package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/potluck/internal/querysql"
	"github.com/roach88/potluck/internal/shape"
	"github.com/roach88/potluck/internal/store"
)

// NewStore opens a migrated SQLite store in t.TempDir(). It is shut down when
// the test ends. A nil clock uses a fresh DeterministicClock.
func NewStore(t testing.TB, clock func() time.Time) *store.Store {
	t.Helper()
	if clock == nil {
		clock = NewDeterministicClock().Now
	}

	path := filepath.Join(t.TempDir(), "potluck.db")
	s, err := store.Open(store.Config{Dialect: querysql.SQLite, DSN: path}, store.WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Shutdown() })
	return s
}

// IdentityWrite returns a complete identity create shape. Identity n gets
// handle user<n>@example.com.
func IdentityWrite(n int) *shape.Write {
	return shape.NewWrite(shape.Identities).
		Set(shape.ColGmail, fmt.Sprintf("user%d@example.com", n)).
		Set(shape.ColFirstName, fmt.Sprintf("First%d", n)).
		Set(shape.ColLastName, fmt.Sprintf("Last%d", n)).
		Set(shape.ColLoginIP, "127.0.0.1").
		Set(shape.ColSecureKey, fmt.Sprintf("key-%d", n))
}

// SeedIdentities inserts identities 1..n. On a fresh store their ids are
// 1..n as well.
func SeedIdentities(t testing.TB, s *store.Store, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 1; i <= n; i++ {
		id, err := s.CreateIdentity(context.Background(), IdentityWrite(i))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}
