// Package storage is the persistence boundary of the notification engine.
//
// It holds:
//   - Schedule definitions (read by the registry, lastRun/nextRun written back)
//   - Template definitions, one per notification kind
//   - The append-only send ledger
//   - Read-only directory queries used to resolve recipients
//
// Drivers: "memory" (tests, dry runs), "sqlite" (modernc.org/sqlite, pure Go)
// and "postgres" (pgx). SQL drivers share one implementation and are migrated
// with goose on open.
package storage
