// Package checkpoint persists in-progress import sessions so they survive a
// restart.
//
// One checkpoint exists per tenant, stored as a single JSON document under a
// tenant-scoped key. A save overwrites the previous document.
//
// # Failure Semantics
//
// Persistence is best effort:
//   - Save errors are logged and swallowed; the live session continues.
//   - Load returns "absent" for a missing key, a storage error, or a payload
//     that does not parse. A corrupt payload is logged as CHECKPOINT_CORRUPT.
//
// # Backends
//
//   - SQLiteBackend: durable, WAL mode, one row per key
//   - MemoryBackend: process-local, used in tests
package checkpoint
