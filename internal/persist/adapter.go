package persist

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/five82/storefront/internal/cart"
	"github.com/five82/storefront/internal/logging"
)

// Slot names under the namespace.
const (
	CartKey         = "cartItems"
	FavoritesKey    = "favorites"
	SessionKey      = "user"
	MergePendingKey = "mergePending"
	UnsyncedKey     = "unsynced"
)

const defaultNamespace = "storefront"

// Adapter mirrors cart, favorites and session snapshots into a Storage.
// Saves are best effort and loads never fail.
type Adapter struct {
	storage   Storage
	namespace string
	logger    *zap.Logger
}

// NewAdapter builds an adapter writing keys as "<namespace>:<slot>".
func NewAdapter(storage Storage, namespace string, logger *zap.Logger) *Adapter {
	if strings.TrimSpace(namespace) == "" {
		namespace = defaultNamespace
	}
	if storage == nil {
		storage = &MemoryStorage{}
	}
	return &Adapter{
		storage:   storage,
		namespace: namespace,
		logger:    logging.OrNop(logger).Named("persist"),
	}
}

// Key returns the storage key for a slot.
func (a *Adapter) Key(slot string) string {
	return a.namespace + ":" + slot
}

type cartSnapshot struct {
	Items []cart.Line `json:"items"`
}

// SaveCart writes a snapshot of st.
func (a *Adapter) SaveCart(ctx context.Context, st cart.State) {
	a.SaveJSON(ctx, CartKey, cartSnapshot{Items: st.Lines})
}

// LoadCart returns the stored cart, or an empty one when the slot is absent
// or unreadable. Lines that violate the quantity invariants are repaired or
// dropped.
func (a *Adapter) LoadCart(ctx context.Context) cart.State {
	var snap cartSnapshot
	if !a.LoadJSON(ctx, CartKey, &snap) {
		return cart.State{LastOperationSuccess: true}
	}
	return cart.State{Lines: sanitizeLines(snap.Items), LastOperationSuccess: true}
}

// SaveFavorites writes the favorite ids.
func (a *Adapter) SaveFavorites(ctx context.Context, ids []string) {
	if ids == nil {
		ids = []string{}
	}
	a.SaveJSON(ctx, FavoritesKey, ids)
}

// LoadFavorites returns the stored favorite ids without duplicates.
func (a *Adapter) LoadFavorites(ctx context.Context) []string {
	var ids []string
	if !a.LoadJSON(ctx, FavoritesKey, &ids) {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SaveSession stores the signed-in session.
func (a *Adapter) SaveSession(ctx context.Context, session any) {
	a.SaveJSON(ctx, SessionKey, session)
}

// LoadSession decodes the stored session into dest.
func (a *Adapter) LoadSession(ctx context.Context, dest any) bool {
	return a.LoadJSON(ctx, SessionKey, dest)
}

// ClearSession forgets the stored session.
func (a *Adapter) ClearSession(ctx context.Context) {
	a.Delete(ctx, SessionKey)
}

// SaveJSON encodes v into slot. Failures are logged, never returned.
func (a *Adapter) SaveJSON(ctx context.Context, slot string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		a.logger.Warn("encode snapshot failed", zap.String("slot", slot), zap.Error(err))
		return
	}
	if err := a.storage.Set(ctx, a.Key(slot), string(data)); err != nil {
		a.logger.Warn("save snapshot failed", zap.String("slot", slot), zap.Error(err))
	}
}

// LoadJSON decodes slot into dest and reports whether a usable value was found.
func (a *Adapter) LoadJSON(ctx context.Context, slot string, dest any) bool {
	raw, ok, err := a.storage.Get(ctx, a.Key(slot))
	if err != nil {
		a.logger.Warn("load snapshot failed", zap.String("slot", slot), zap.Error(err))
		return false
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		a.logger.Warn("discarding corrupt snapshot", zap.String("slot", slot), zap.Error(err))
		return false
	}
	return true
}

// Delete removes slot. Failures are logged.
func (a *Adapter) Delete(ctx context.Context, slot string) {
	if err := a.storage.Delete(ctx, a.Key(slot)); err != nil {
		a.logger.Warn("delete snapshot failed", zap.String("slot", slot), zap.Error(err))
	}
}

func sanitizeLines(lines []cart.Line) []cart.Line {
	if len(lines) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(lines))
	out := make([]cart.Line, 0, len(lines))
	for _, l := range lines {
		l.ProductID = strings.TrimSpace(l.ProductID)
		if l.ProductID == "" || l.Quantity < 1 || l.StockLimit < 1 {
			continue
		}
		if _, dup := seen[l.ProductID]; dup {
			continue
		}
		seen[l.ProductID] = struct{}{}
		l.Quantity = cart.Clamp(l.Quantity, l.StockLimit)
		out = append(out, l)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
