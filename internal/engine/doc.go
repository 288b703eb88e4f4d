// Package engine reconciles the local cart and favorites with the server.
//
// # Modes
//
// An Engine is Anonymous until a session arrives through Login (usually via
// HandleTransition subscribed to auth.Manager). Anonymous mutations touch the
// in-memory store and local persistence only; the server is never called.
//
// Entering Authenticated mode runs a one-time merge:
//
//	local  [{A, 2}]            server [{A, 5}, {B, 1}]
//	                  ↓ MaxQuantity, clamped to stock
//	merged [{A, 5}, {B, 1}]
//
// Local lines keep their order and server-only lines follow. Lines the merge
// changed or that only exist locally are pushed with bounded concurrency.
// Favorites are unioned. When the server cannot be read the merge stays
// pending and RetryFailed runs it later.
//
// A session restored from persistence in a new process goes through Resume
// instead: it was merged before, so only a merge left pending by the earlier
// process is carried over. Mirror calls that process sent without seeing them
// succeed are kept under persist.UnsyncedKey; Resume reports them failed with
// ErrUnconfirmed so RetryFailed re-sends them.
//
// Logout keeps the cart and favorites; a later login merges them again.
//
// # Mutations
//
// Every mutation is applied and persisted under one mutex, so local state
// changes in exactly the order callers issue them. Authenticated mutations
// then dispatch a mirror call carrying the absolute result (quantity upsert,
// delete, clear or favorite membership), never a delta. Mirror calls run
// one at a time in dispatch order; a call superseded by a newer one for the
// same entity is skipped. Remote failures never roll back local state. They
// are recorded in the state.Tracker, and RetryFailed re-sends the current
// local value.
//
// Wait blocks until all dispatched mirror calls have finished.
package engine
