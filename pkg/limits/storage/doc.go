// Package storage provides the shared per-key state used by admission control.
//
// # Overview
//
// Rate-limit windows, idempotency claims, concurrency slots and circuit
// state all reduce to a handful of atomic per-key operations: increment
// with a TTL set on creation, decrement, set-if-absent, and TTL lookup.
// The Store interface captures exactly those operations so the admission
// components never see how the state is kept:
//
//   - Memory: sharded in-process maps (default, single instance)
//   - SQLite: file-backed state that survives restarts (single instance)
//   - Redis: Lua-scripted state shared by every instance
//
// # Usage
//
//	store := storage.NewMemoryStore()
//	defer store.Close()
//
//	count, remaining, err := store.Incr(ctx, "rl:user:u1", time.Minute)
//
// # Thread Safety
//
// All stores are safe for concurrent use. Atomicity is per key: the memory
// store locks one shard, SQLite serializes on its single connection and
// Redis runs each multi-step update as one script.
package storage
