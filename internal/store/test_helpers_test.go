package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/potluck/internal/querysql"
	"github.com/roach88/potluck/internal/shape"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a migrated SQLite store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(Config{Dialect: querysql.SQLite, DSN: path}, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Shutdown() })
	return s
}

// identityWrite builds a complete identity create shape for n.
func identityWrite(n int) *shape.Write {
	return shape.NewWrite(shape.Identities).
		Set(shape.ColGmail, fmt.Sprintf("user%d@example.com", n)).
		Set(shape.ColFirstName, fmt.Sprintf("First%d", n)).
		Set(shape.ColLastName, fmt.Sprintf("Last%d", n)).
		Set(shape.ColLoginIP, "127.0.0.1").
		Set(shape.ColSecureKey, fmt.Sprintf("key-%d", n))
}

// createTestIdentities inserts n identities and returns their ids.
func createTestIdentities(t *testing.T, s *Store, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 1; i <= n; i++ {
		id, err := s.CreateIdentity(context.Background(), identityWrite(i))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}
