// Package store provides persistent storage for the Skilloc server.
//
// # Model
//
// Persistence is a key-value store of record collections: each collection is
// an ordered JSON array of records addressed by name. Account data lives in
// fixed collections (clients, workers, workerdb); conversation logs use the
// conversation key as the collection name, one append-only array per
// two-party thread.
//
// # Backends
//
// Two interchangeable implementations of the Records interface:
//
//   - JSONStore: one <collection>.json file per collection under a data
//     directory, atomic replace via temp file + rename. The default.
//   - SQLiteStore: a single records(collection, data) table using the
//     pure-Go modernc.org/sqlite driver. Selected with database.driver:
//     "sqlite". Use ":memory:" in tests.
//
// Both store the identical JSON encoding, so the backend can be switched
// without migrating data semantics.
//
// # Concurrency
//
// Records guarantees only that a single Write is atomic. Read-modify-write
// sequences (appending a message, updating an account) must be serialized by
// the caller; the conversation log and account service each hold their own
// locks for this.
package store
