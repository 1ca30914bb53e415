// Package store provides a multi-stream, append-only message store on SQLite
// or PostgreSQL.
//
// The store keeps:
//   - Streams: named, ordered, immutable sequences of messages
//   - Messages: payloads with a per-stream Version and a store-wide Position
//   - Head: the allocation counter for positions
//   - Schema info: the durable layout version ("version" = 2)
//
// # Guarantees
//
// Append is all-or-nothing. Within a stream, versions are dense and assigned
// under backend transactional isolation, so concurrent appenders in any
// number of processes observe one linear history and an explicit expected
// version never loses an update. Positions are strictly increasing, a batch
// occupies a contiguous block, and commit order equals position order.
//
// Retrying a committed batch (same message ids, same stream, same expected
// version) returns the original result and writes nothing.
//
// # Stream keys
//
// Stream ids of any length map to storage keys of at most 42 bytes through
// ResolveStreamKey, which is pure and stable across processes.
//
// # Database Configuration
//
// SQLite connections use:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - BEGIN IMMEDIATE transactions
//
// PostgreSQL appends lock the stream row (SELECT ... FOR UPDATE) and publish a
// NOTIFY on commit. SQL text lives in internal/scripts.
package store
