// Package persist mirrors cart, favorites and session state into a durable
// key-value slot so state survives restarts.
//
// Storage is the collaborator contract: get/set/delete of string values.
// Three backends ship with the package:
//
//   - FileStorage: one TOML document on disk, rewritten atomically
//   - RedisStorage: go-redis, keys prefixed per deployment
//   - MemoryStorage: process memory, for tests and throwaway sessions
//
// Adapter layers JSON snapshots on top. Persistence is an optimization, not
// a correctness requirement: Save* logs and swallows failures, Load* returns
// empty state for absent, unreadable or corrupt slots and repairs lines that
// violate the cart invariants.
package persist
