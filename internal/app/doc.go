// Package app provides the orchestration layer for the storefront client.
//
// # Overview
//
// This package wires together configuration, logging, persistence, the remote
// API client, the session manager, the sync engine and checkout. It is the
// composition root: every dependency is built and connected in New, and Run
// executes a single command against the result.
//
// # Architecture
//
//  1. Load .env, then the TOML config with environment overrides
//  2. Build the zap logger from the logging section
//  3. Open file, Redis or in-memory storage behind a persist.Adapter
//  4. Create the api.Client (rate limited for mutations)
//  5. Register sync metrics on a private Prometheus registry
//  6. Create the engine and subscribe it to auth transitions
//  7. Load the persisted cart and favorites, then restore the session
//
// # Components
//
//   - app.go: Options, New, Run and storage selection
//   - commands.go: the command table and its output
//   - retrier.go: background loop that re-sends failed server updates
//
// # Data Flow
//
//	┌──────────────┐
//	│   Run()      │
//	└──────┬───────┘
//	       ├─────> config.Load()         TOML + env
//	       ├─────> logging.New()         zap logger
//	       ├─────> New()                 wire components, restore session
//	       ├─────> Execute()             one command
//	       └─────> Engine.Wait()         drain background mirror calls
//
//	Watch Loop:
//	┌─────────────────────────────────────────┐
//	│ StartRetrier() goroutine                │
//	│  ├─> RetryFailed()                      │
//	│  ├─> Wait()                             │
//	│  └─> SyncSnapshot()  back off on fail   │
//	└─────────────────────────────────────────┘
//
// # Retry Behavior
//
// The retrier waits RetryInterval between passes while everything is in sync.
// Each pass that ends with failed entities doubles the wait, up to 30 seconds;
// a clean pass resets it.
//
// # Error Handling
//
// Fatal errors (returned from Run):
//   - Config file unreadable or invalid
//   - Unknown storage backend or merge policy
//   - Bad command line (wrapping ErrUsage)
//   - Command failures such as rejected credentials or a failed checkout
//
// Recoverable errors (logged, local state kept):
//   - Background mirror call failures, including updates an earlier run
//     never saw confirmed (re-sent by sync and watch)
//   - Favorites refresh failures while listing favorites
//   - A login merge that could not fetch the server cart
//
// # Usage Example
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	err := app.Run(ctx, app.Options{Args: []string{"add", id, "2"}})
package app
