// Package store is the relational store gateway for potluck.
//
// A Store owns one connection pool, created lazily on first use or eagerly by
// Connect. Every call takes a querysql.Statement and either returns decoded
// rows or a *Error whose Kind classifies the failure:
//
//   - KindUnique: uniqueness or primary key violation
//   - KindForeignKey: reference to a missing identity
//   - KindNotNull: mandatory column left NULL
//   - KindCheck: check constraint (empty text) or invalid input
//   - KindClosed: the store has been shut down
//   - KindOther: anything else
//
// Absence is never an error: single-row reads return a nil Row and multi-row
// reads return an empty slice.
//
// # Data Access
//
// Queries carries the data-access functions for the fixed entity set
// (identities, recipes, relationship edges, mailbox entries, chats). The same
// functions run on the pool or inside a transaction started with InTx.
//
// # Database Configuration
//
// SQLite connections are opened with:
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Postgres connections go through lib/pq. Schemas for both dialects are
// embedded and applied by Migrate.
package store
