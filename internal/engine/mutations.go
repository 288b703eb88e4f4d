package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/five82/storefront/internal/cart"
	"github.com/five82/storefront/internal/state"
)

// AddItem adds qty of p. The quantity is clamped to stock; inspect
// Cart().LastOperationSuccess to learn whether clamping happened.
func (e *Engine) AddItem(ctx context.Context, p cart.Product, qty int) (cart.Line, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	line, err := e.store.AddItem(p, qty)
	if err != nil {
		return cart.Line{}, err
	}
	e.persistCartLocked(ctx)
	e.mirrorLineLocked(line.ProductID)
	return line, nil
}

// AddItemByID looks productID up in the catalog and adds qty of it.
func (e *Engine) AddItemByID(ctx context.Context, productID string, qty int) (cart.Line, error) {
	if err := cart.ValidateProductID(productID); err != nil {
		return cart.Line{}, err
	}
	if e.catalog == nil {
		return cart.Line{}, ErrNoCatalog
	}
	p, err := e.catalog.FetchProduct(ctx, productID)
	if err != nil {
		return cart.Line{}, fmt.Errorf("lookup product %s: %w", productID, err)
	}
	return e.AddItem(ctx, p, qty)
}

// IncrementItem raises a line by one up to its stock. The bool is false when
// the line does not exist.
func (e *Engine) IncrementItem(ctx context.Context, productID string) (cart.Line, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.store.State().Quantity(productID)
	line, ok := e.store.IncrementItem(productID)
	if !ok || line.Quantity == before {
		return line, ok
	}
	e.persistCartLocked(ctx)
	e.mirrorLineLocked(productID)
	return line, true
}

// DecrementItem lowers a line by one, removing it below one. The bool is
// false when the line no longer exists.
func (e *Engine) DecrementItem(ctx context.Context, productID string) (cart.Line, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	existed := e.store.State().Quantity(productID) > 0
	line, ok := e.store.DecrementItem(productID)
	if !existed {
		return line, false
	}
	e.persistCartLocked(ctx)
	e.mirrorLineLocked(productID)
	return line, ok
}

// SetQuantity sets an absolute quantity clamped to [1, stock].
func (e *Engine) SetQuantity(ctx context.Context, productID string, qty int) (cart.Line, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	before := e.store.State().Quantity(productID)
	line, ok := e.store.SetQuantity(productID, qty)
	if !ok || line.Quantity == before {
		return line, ok
	}
	e.persistCartLocked(ctx)
	e.mirrorLineLocked(productID)
	return line, true
}

// RemoveItem deletes a line and reports whether it existed.
func (e *Engine) RemoveItem(ctx context.Context, productID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.store.RemoveItem(productID) {
		return false
	}
	e.persistCartLocked(ctx)
	e.mirrorLineLocked(productID)
	return true
}

// Clear empties the cart.
func (e *Engine) Clear(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.store.Clear()
	e.persistCartLocked(ctx)
	if e.modeLocked() != Authenticated {
		return
	}
	// The clear supersedes any line still waiting for a retry.
	for _, k := range e.tracker.Failed() {
		if k.Kind == state.KindCart {
			e.tracker.Forget(k)
		}
	}
	for k := range e.unsynced {
		if k.Kind == state.KindCart && e.tracker.Status(k) == state.Synced {
			e.forgetUnsyncedLocked(k)
		}
	}
	e.mirrorClearLocked()
}

// ToggleFavorite flips favorite membership and returns the new membership.
// A malformed id is rejected without touching state.
func (e *Engine) ToggleFavorite(ctx context.Context, productID string) (bool, error) {
	if err := cart.ValidateProductID(productID); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	member := e.store.ToggleFavorite(productID)
	e.persistFavoritesLocked(ctx)
	e.mirrorFavoriteLocked(productID)
	e.logger.Debug("favorite toggled", zap.String("product_id", productID), zap.Bool("member", member))
	return member, nil
}

// RefreshFavorites pulls the server's favorites and adds any missing
// locally. It is a no-op while anonymous.
func (e *Engine) RefreshFavorites(ctx context.Context) error {
	e.mu.Lock()
	if e.modeLocked() != Authenticated {
		e.mu.Unlock()
		return nil
	}
	token := e.session.Token
	e.mu.Unlock()

	ids, err := e.remote.FetchFavorites(ctx, token)
	if err != nil {
		return fmt.Errorf("refresh favorites: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.session.Token != token {
		return nil
	}
	added := 0
	for _, id := range ids {
		if !e.store.IsFavorite(id) {
			e.store.SetFavorite(id, true)
			added++
		}
	}
	if added > 0 {
		e.persistFavoritesLocked(ctx)
	}
	return nil
}
