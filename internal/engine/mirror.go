package engine

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/five82/storefront/internal/persist"
	"github.com/five82/storefront/internal/state"
)

// dispatchLocked queues fn behind every earlier mirror call. A call that has
// been superseded by a newer one for the same key by the time its turn comes
// is skipped; the newer call carries the absolute value.
func (e *Engine) dispatchLocked(key state.Key, fn func(ctx context.Context) error) {
	gen := e.tracker.Begin(key)
	e.markUnsyncedLocked(key)
	token := e.session.Token
	prev := e.tail
	done := make(chan struct{})
	e.tail = done
	base := e.baseCtx

	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		if !e.tracker.Current(key, gen) {
			return
		}
		ctx, cancel := context.WithTimeout(base, e.timeout)
		err := fn(ctx)
		cancel()
		if !e.tracker.Finish(key, gen, err) {
			e.logger.Debug("discarding stale mirror result", zap.Stringer("key", key))
			return
		}
		e.settle(key, token, err)
		if err != nil {
			e.logger.Warn("remote mirror failed",
				zap.String("op", string(key.Kind)),
				zap.String("product_id", key.ID),
				zap.Error(err))
		}
	}()
}

// mirrorLineLocked sends the line's current absolute quantity, or a delete
// when the line is gone.
func (e *Engine) mirrorLineLocked(productID string) {
	if e.modeLocked() != Authenticated {
		return
	}
	token := e.session.Token
	qty := e.store.State().Quantity(productID)
	e.dispatchLocked(state.Key{Kind: state.KindCart, ID: productID}, func(ctx context.Context) error {
		if qty > 0 {
			_, err := e.remote.SetCartItem(ctx, token, productID, qty)
			return err
		}
		_, err := e.remote.RemoveCartItem(ctx, token, productID)
		return err
	})
}

func (e *Engine) mirrorFavoriteLocked(productID string) {
	if e.modeLocked() != Authenticated {
		return
	}
	token := e.session.Token
	member := e.store.IsFavorite(productID)
	e.dispatchLocked(state.Key{Kind: state.KindFavorite, ID: productID}, func(ctx context.Context) error {
		return e.remote.SetFavorite(ctx, token, productID, member)
	})
}

func (e *Engine) mirrorClearLocked() {
	if e.modeLocked() != Authenticated {
		return
	}
	token := e.session.Token
	e.dispatchLocked(state.Key{Kind: state.KindCartClear}, func(ctx context.Context) error {
		return e.remote.ClearCart(ctx, token)
	})
}

// settle records the outcome of the newest call for key in the unsynced set.
func (e *Engine) settle(key state.Key, token string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil || e.session.Token != token {
		return
	}
	if err != nil {
		e.markUnsyncedLocked(key)
		return
	}
	// A newer call for key may have started since.
	if e.tracker.Status(key) == state.Synced {
		e.forgetUnsyncedLocked(key)
	}
}

func (e *Engine) markUnsyncedLocked(key state.Key) {
	if _, ok := e.unsynced[key]; ok {
		return
	}
	if e.unsynced == nil {
		e.unsynced = make(map[state.Key]struct{})
	}
	e.unsynced[key] = struct{}{}
	e.saveUnsyncedLocked()
}

func (e *Engine) forgetUnsyncedLocked(key state.Key) {
	if _, ok := e.unsynced[key]; !ok {
		return
	}
	delete(e.unsynced, key)
	e.saveUnsyncedLocked()
}

func (e *Engine) resetUnsyncedLocked(ctx context.Context) {
	e.unsynced = nil
	e.persist.Delete(ctx, persist.UnsyncedKey)
}

func (e *Engine) saveUnsyncedLocked() {
	if len(e.unsynced) == 0 {
		e.persist.Delete(e.baseCtx, persist.UnsyncedKey)
		return
	}
	keys := make([]state.Key, 0, len(e.unsynced))
	for k := range e.unsynced {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	e.persist.SaveJSON(e.baseCtx, persist.UnsyncedKey, keys)
}

// loadUnsyncedLocked restores the unsynced set and reports each key failed so
// RetryFailed picks it up.
func (e *Engine) loadUnsyncedLocked() {
	var keys []state.Key
	if !e.persist.LoadJSON(e.baseCtx, persist.UnsyncedKey, &keys) {
		return
	}
	for _, k := range keys {
		switch k.Kind {
		case state.KindCart, state.KindFavorite:
			if k.ID == "" {
				continue
			}
		case state.KindCartClear:
		default:
			continue
		}
		if e.unsynced == nil {
			e.unsynced = make(map[state.Key]struct{})
		}
		e.unsynced[k] = struct{}{}
		e.tracker.MarkFailed(k, ErrUnconfirmed)
	}
}

// RetryFailed runs a pending login merge, then re-sends every entity whose
// last mirror call failed using current local state. It returns how many
// entities were re-sent. Anonymous engines do nothing.
func (e *Engine) RetryFailed(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.modeLocked() != Authenticated {
		e.mu.Unlock()
		return 0, nil
	}
	pending := e.mergePending
	e.mu.Unlock()

	if pending {
		if err := e.merge(ctx); err != nil {
			return 0, err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.modeLocked() != Authenticated {
		return 0, nil
	}
	failed := e.tracker.Failed()
	for _, k := range failed {
		switch k.Kind {
		case state.KindCart:
			e.mirrorLineLocked(k.ID)
		case state.KindFavorite:
			e.mirrorFavoriteLocked(k.ID)
		case state.KindCartClear:
			e.mirrorClearLocked()
			for _, l := range e.store.State().Lines {
				e.mirrorLineLocked(l.ProductID)
			}
		default:
			e.tracker.Forget(k)
		}
	}
	if len(failed) > 0 {
		e.logger.Info("retrying failed mirror calls", zap.Int("count", len(failed)))
	}
	return len(failed), nil
}
