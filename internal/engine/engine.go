package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/five82/storefront/internal/api"
	"github.com/five82/storefront/internal/auth"
	"github.com/five82/storefront/internal/cart"
	"github.com/five82/storefront/internal/logging"
	"github.com/five82/storefront/internal/persist"
	"github.com/five82/storefront/internal/state"
)

// Mode is the engine's session state.
type Mode int

const (
	Anonymous Mode = iota
	Authenticated
)

func (m Mode) String() string {
	if m == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// ErrNoCatalog is returned by AddItemByID when no catalog is configured.
var ErrNoCatalog = errors.New("no product catalog configured")

// ErrUnconfirmed is the sync error of an update an earlier process sent but
// never saw the server accept.
var ErrUnconfirmed = errors.New("server update not confirmed")

const (
	defaultMergeConcurrency = 4
	defaultRemoteTimeout    = 10 * time.Second
)

// Options wires an Engine. A nil Store, Persist or Tracker gets an in-memory
// default; a nil Remote or Catalog disables the feature that needs it.
type Options struct {
	Store   *cart.Store
	Persist *persist.Adapter
	Remote  api.CartSyncer
	Catalog api.Catalog
	Tracker *state.Tracker
	Logger  *zap.Logger

	MergePolicy      MergePolicy
	MergeConcurrency int
	// RemoteTimeout bounds each background mirror call.
	RemoteTimeout time.Duration
}

// Engine applies cart and favorites intents locally, persists them and, for
// an authenticated session, mirrors them to the server in the background.
type Engine struct {
	mu           sync.Mutex
	store        *cart.Store
	session      *auth.Session
	mergePending bool
	// unsynced holds keys sent to the server and not yet confirmed. It is
	// persisted so a later process can re-send them.
	unsynced     map[state.Key]struct{}

	persist *persist.Adapter
	remote  api.CartSyncer
	catalog api.Catalog
	tracker *state.Tracker
	logger  *zap.Logger

	policy      MergePolicy
	concurrency int
	timeout     time.Duration

	// Mirror calls run one after another in dispatch order.
	baseCtx  context.Context
	tail     chan struct{}
	inflight sync.WaitGroup
}

// New builds an engine in Anonymous mode.
func New(opts Options) *Engine {
	e := &Engine{
		store:       opts.Store,
		persist:     opts.Persist,
		remote:      opts.Remote,
		catalog:     opts.Catalog,
		tracker:     opts.Tracker,
		logger:      logging.OrNop(opts.Logger).Named("engine"),
		policy:      opts.MergePolicy,
		concurrency: opts.MergeConcurrency,
		timeout:     opts.RemoteTimeout,
		baseCtx:     context.Background(),
	}
	if e.store == nil {
		e.store = cart.NewStore()
	}
	if e.persist == nil {
		e.persist = persist.NewAdapter(&persist.MemoryStorage{}, "", opts.Logger)
	}
	if e.tracker == nil {
		e.tracker = &state.Tracker{}
	}
	if e.policy == nil {
		e.policy = MaxQuantity
	}
	if e.concurrency <= 0 {
		e.concurrency = defaultMergeConcurrency
	}
	if e.timeout <= 0 {
		e.timeout = defaultRemoteTimeout
	}
	return e
}

// Start loads the persisted cart and favorites. Background mirror calls
// derive from ctx.
func (e *Engine) Start(ctx context.Context) {
	st := e.persist.LoadCart(ctx)
	favs := e.persist.LoadFavorites(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.baseCtx = ctx
	e.store.Replace(st)
	e.store.SetFavorites(favs)
	e.logger.Debug("state loaded",
		zap.Int("lines", st.Len()),
		zap.Int("favorites", len(favs)))
}

// Mode reports whether a session is active.
func (e *Engine) Mode() Mode {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modeLocked()
}

func (e *Engine) modeLocked() Mode {
	if e.session != nil && e.remote != nil {
		return Authenticated
	}
	return Anonymous
}

// Session returns the active session.
func (e *Engine) Session() (auth.Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return auth.Session{}, false
	}
	return *e.session, true
}

// HandleTransition follows auth session changes. Register it with
// auth.Manager.Subscribe.
func (e *Engine) HandleTransition(ctx context.Context, t auth.Transition) {
	if t.LoggedOut() {
		e.Logout()
	}
	switch {
	case t.LoggedIn() && t.Restored:
		e.Resume(*t.Next)
	case t.LoggedIn():
		if err := e.Login(ctx, *t.Next); err != nil {
			e.logger.Warn("login merge deferred", zap.Error(err))
		}
	case t.Next != nil:
		e.mu.Lock()
		if e.session != nil {
			refreshed := *t.Next
			e.session = &refreshed
		}
		e.mu.Unlock()
	}
}

// Login enters Authenticated mode and merges local state with the server.
// A failed fetch leaves the merge pending for RetryFailed; the session stays
// active either way.
func (e *Engine) Login(ctx context.Context, s auth.Session) error {
	e.mu.Lock()
	active := s
	e.session = &active
	e.resetUnsyncedLocked(ctx)
	e.setMergePendingLocked(ctx, e.remote != nil)
	e.mu.Unlock()

	e.logger.Info("session active", zap.String("user_id", s.UserID))
	if e.remote == nil {
		return nil
	}
	return e.merge(ctx)
}

// Resume re-enters Authenticated mode for a session restored from an earlier
// process. Server-side changes are not pulled. A merge that was still pending
// when that process exited stays pending, and updates it never saw confirmed
// are reported failed with ErrUnconfirmed; RetryFailed re-sends both.
func (e *Engine) Resume(s auth.Session) {
	e.mu.Lock()
	defer e.mu.Unlock()
	active := s
	e.session = &active
	e.mergePending = false
	e.unsynced = nil
	if e.remote != nil {
		var pending bool
		if e.persist.LoadJSON(e.baseCtx, persist.MergePendingKey, &pending) {
			e.mergePending = pending
		}
		e.loadUnsyncedLocked()
	}
	e.logger.Debug("session resumed",
		zap.String("user_id", s.UserID),
		zap.Bool("merge_pending", e.mergePending),
		zap.Int("unconfirmed", len(e.unsynced)))
}

// Logout returns to Anonymous mode. Local cart and favorites are kept.
func (e *Engine) Logout() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return
	}
	e.logger.Info("session ended", zap.String("user_id", e.session.UserID))
	e.session = nil
	e.setMergePendingLocked(e.baseCtx, false)
	e.resetUnsyncedLocked(e.baseCtx)
	e.tracker.Reset()
}

// Wait blocks until every dispatched mirror call has finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// Cart returns a copy of the cart.
func (e *Engine) Cart() cart.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.State()
}

// Favorites returns the favorite ids in insertion order.
func (e *Engine) Favorites() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Favorites()
}

// IsFavorite reports favorite membership.
func (e *Engine) IsFavorite(productID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.IsFavorite(productID)
}

// SyncStatus reports the remote state of one mirrored entity.
func (e *Engine) SyncStatus(key state.Key) state.Status {
	return e.tracker.Status(key)
}

// LastSyncError returns the latest remote failure for key.
func (e *Engine) LastSyncError(key state.Key) error {
	return e.tracker.LastError(key)
}

// SyncSnapshot summarizes remote sync health.
func (e *Engine) SyncSnapshot() state.Snapshot {
	return e.tracker.Snapshot()
}

// MergePending reports whether the login merge still has to run.
func (e *Engine) MergePending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mergePending
}

func (e *Engine) setMergePendingLocked(ctx context.Context, pending bool) {
	e.mergePending = pending
	if pending {
		e.persist.SaveJSON(ctx, persist.MergePendingKey, true)
	} else {
		e.persist.Delete(ctx, persist.MergePendingKey)
	}
}

func (e *Engine) persistCartLocked(ctx context.Context) {
	e.persist.SaveCart(ctx, e.store.State())
}

func (e *Engine) persistFavoritesLocked(ctx context.Context) {
	e.persist.SaveFavorites(ctx, e.store.Favorites())
}
