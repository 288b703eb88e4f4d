// Package state tracks the health of asynchronous remote mirroring.
//
// # Overview
//
// Local cart and favorites mutations complete immediately; their remote
// mirror calls run in the background. Tracker is where those background calls
// report back, so callers can ask whether a given line or favorite is synced,
// still pending, or failed and eligible for retry.
//
//	Mutation goroutine:            Mirror goroutine:
//	┌────────────────────┐        ┌──────────────────────┐
//	│ update cart        │        │ PUT /cart/items/{id} │
//	│ gen := Begin(key)  │───────→│        ↓             │
//	│ return to caller   │        │ Finish(key, gen, err)│
//	└────────────────────┘        └──────────────────────┘
//
// # Generations
//
// Begin hands out a monotonically increasing generation. Only the newest
// generation for a key may settle it: when a user bumps a quantity twice in
// quick succession, the first PUT may finish after the second, and its result
// must not overwrite the second's. Finish reports whether the result applied.
//
// Forget drops a key outright; any call still in flight for it becomes stale.
// Reset clears everything, which the engine does on logout.
//
// # Snapshot
//
// Snapshot returns a copy with pending count, failed keys, the latest error
// and ConsecutiveFailures. IsOffline reports two or more failures in a row,
// the same threshold the retry loop uses to start backing off.
//
// # Metrics
//
// NewMetrics registers storefront_remote_sync_total{kind,result} and
// storefront_remote_sync_pending on a caller-supplied registry. Results are
// ok, error and stale. A tracker built without metrics records nothing.
//
// # Concurrency Model
//
// All methods are safe for concurrent use; reads take the read lock. The zero
// Tracker is ready to use.
package state
