// Package auth holds the signed-in session and broadcasts session
// transitions.
//
// Manager is the single source of truth for who is signed in. SignIn and
// Register go through an api.Authenticator, and Register signs the new
// account in when the server does not return a token itself. SetSession and
// Restore activate a known session. Every actual change produces a Transition delivered synchronously
// to subscribers in registration order. A token refresh for the same user is
// a transition that is neither LoggedIn nor LoggedOut; a user switch is both.
//
// The active session is persisted under persist.SessionKey so Restore can
// bring it back after a restart. Restored transitions are flagged so the
// engine can resume a session instead of merging as for a fresh sign-in.
package auth
