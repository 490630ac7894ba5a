// Package core implements import reconciliation for sale-unit ledgers.
//
// An import is a spreadsheet that an external diff service has already
// compared against the current state of a project. This package persists the
// resulting diff rows, applies them to units, customers, counterparties and
// ledger transactions, records a field-level audit trail, and reverts what it
// safely can. It has no transport dependencies and is driven by the web
// package, the command in cmd/server, and tests.
//
// # Lifecycle
//
// Every import is tracked by an [ImportLog] that moves through three states:
//
//	diffed ──Commit──▶ confirmed ──Rollback──▶ rolled_back
//
// Each arrow is taken at most once. Any other request fails with a
// [StateConflictError] naming the state the operation required.
//
// # Storage
//
// All persistence goes through the [Store] port. Commit and rollback run
// inside a single [Store.WithTx] call and start by locking the import log row,
// which serializes concurrent attempts on the same import. Two
// implementations exist: store/postgres (pgx) and store/memory.
//
// # Row outcomes
//
// Rows that cannot be applied (missing unit code, CHANGED rows for a unit
// that does not exist) are recorded as failed audit entries and counted as
// skipped. They are never returned as errors. Only storage faults abort the
// transaction.
//
// # Rollback boundary
//
// Rollback deletes ledger transactions created by the import and units that
// the import created, provided nothing else has touched them since. Column
// edits made by CHANGED rows on pre-existing units are not reverted.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError]:
//
//   - IMP001-IMP003: import lifecycle (state conflict, not found, invalid input)
//   - DIFF001-DIFF002: diff service availability
//   - DB001-DB007: database errors
//   - VAL001-VAL006: value validation
//   - FILE001-FILE005: upload errors
//   - REQ001-REQ002, RATE001: request handling
package core
