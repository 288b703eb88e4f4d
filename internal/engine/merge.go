package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/five82/storefront/internal/api"
	"github.com/five82/storefront/internal/cart"
	"github.com/five82/storefront/internal/state"
)

// push is one server write produced by a merge. Zero quantity deletes.
type push struct {
	productID string
	quantity  int
}

func (e *Engine) merge(ctx context.Context) error {
	e.mu.Lock()
	if e.session == nil || e.remote == nil {
		e.mu.Unlock()
		return nil
	}
	token := e.session.Token
	local := e.store.State()
	e.mu.Unlock()

	key := state.Key{Kind: state.KindMerge}
	gen := e.tracker.Begin(key)

	var (
		remoteLines []api.RemoteLine
		remoteFavs  []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		remoteLines, err = e.remote.FetchCart(gctx, token)
		return err
	})
	g.Go(func() error {
		var err error
		remoteFavs, err = e.remote.FetchFavorites(gctx, token)
		return err
	})
	if err := g.Wait(); err != nil {
		e.tracker.Finish(key, gen, err)
		return fmt.Errorf("login merge: %w", err)
	}
	e.fillUnknownStock(ctx, remoteLines, local)

	e.mu.Lock()
	if e.session == nil || e.session.Token != token {
		e.mu.Unlock()
		e.tracker.Forget(key)
		return nil
	}
	merged, pushes := mergeLines(e.store.State(), remoteLines, e.policy)
	e.store.Replace(merged)

	onServer := make(map[string]struct{}, len(remoteFavs))
	for _, id := range remoteFavs {
		onServer[id] = struct{}{}
	}
	var favPushes []string
	for _, id := range e.store.Favorites() {
		if _, ok := onServer[id]; !ok {
			favPushes = append(favPushes, id)
		}
	}
	for _, id := range remoteFavs {
		e.store.SetFavorite(id, true)
	}
	for _, p := range pushes {
		e.markUnsyncedLocked(state.Key{Kind: state.KindCart, ID: p.productID})
	}
	for _, id := range favPushes {
		e.markUnsyncedLocked(state.Key{Kind: state.KindFavorite, ID: id})
	}
	e.persistCartLocked(ctx)
	e.persistFavoritesLocked(ctx)
	e.setMergePendingLocked(ctx, false)
	e.mu.Unlock()

	e.tracker.Finish(key, gen, nil)
	e.logger.Info("login merge complete",
		zap.Int("lines", merged.Len()),
		zap.Int("cart_pushes", len(pushes)),
		zap.Int("favorite_pushes", len(favPushes)))

	e.pushMerge(ctx, token, pushes, favPushes)
	return nil
}

// pushMerge writes merge results with bounded concurrency. Failures are
// tracked per entity for RetryFailed rather than returned.
func (e *Engine) pushMerge(ctx context.Context, token string, pushes []push, favorites []string) {
	var g errgroup.Group
	g.SetLimit(e.concurrency)

	for _, p := range pushes {
		key := state.Key{Kind: state.KindCart, ID: p.productID}
		gen := e.tracker.Begin(key)
		g.Go(func() error {
			var err error
			if p.quantity > 0 {
				_, err = e.remote.SetCartItem(ctx, token, p.productID, p.quantity)
			} else {
				_, err = e.remote.RemoveCartItem(ctx, token, p.productID)
			}
			if !e.tracker.Finish(key, gen, err) {
				return nil
			}
			e.settle(key, token, err)
			if err != nil {
				e.logger.Warn("merge push failed", zap.String("product_id", p.productID), zap.Error(err))
			}
			return nil
		})
	}
	for _, id := range favorites {
		key := state.Key{Kind: state.KindFavorite, ID: id}
		gen := e.tracker.Begin(key)
		g.Go(func() error {
			err := e.remote.SetFavorite(ctx, token, id, true)
			if !e.tracker.Finish(key, gen, err) {
				return nil
			}
			e.settle(key, token, err)
			if err != nil {
				e.logger.Warn("merge favorite push failed", zap.String("product_id", id), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// fillUnknownStock resolves stock for server lines that omitted it: from the
// local line, then the catalog, and finally the server quantity itself.
func (e *Engine) fillUnknownStock(ctx context.Context, lines []api.RemoteLine, local cart.State) {
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := range lines {
		if lines[i].Stock != api.UnknownStock {
			continue
		}
		if l, ok := local.Find(lines[i].ProductID); ok {
			lines[i].Stock = l.StockLimit
			continue
		}
		if e.catalog == nil {
			lines[i].Stock = lines[i].Quantity
			continue
		}
		g.Go(func() error {
			p, err := e.catalog.FetchProduct(ctx, lines[i].ProductID)
			if err != nil {
				e.logger.Warn("stock lookup failed, trusting server quantity",
					zap.String("product_id", lines[i].ProductID),
					zap.Error(err))
				lines[i].Stock = lines[i].Quantity
				return nil
			}
			lines[i].Stock = p.Stock
			if lines[i].Name == "" {
				lines[i].Name = p.Name
			}
			if lines[i].UnitPrice.IsZero() {
				lines[i].UnitPrice = p.Price
			}
			if lines[i].Image == "" {
				lines[i].Image = p.Image
			}
			return nil
		})
	}
	_ = g.Wait()
}

// mergeLines combines local and server carts. Local lines keep their order,
// server-only lines follow in server order. Conflicts resolve through policy
// and every quantity is clamped to stock, preferring the server's stock.
// pushes lists the writes that bring the server in line with the result.
func mergeLines(local cart.State, remote []api.RemoteLine, policy MergePolicy) (cart.State, []push) {
	byID := make(map[string]api.RemoteLine, len(remote))
	for _, r := range remote {
		byID[r.ProductID] = r
	}

	var merged cart.State
	var pushes []push
	for _, l := range local.Lines {
		r, onServer := byID[l.ProductID]
		if !onServer {
			merged.Lines = append(merged.Lines, l)
			pushes = append(pushes, push{productID: l.ProductID, quantity: l.Quantity})
			continue
		}
		stock := l.StockLimit
		if r.Stock != api.UnknownStock {
			stock = r.Stock
		}
		qty := cart.Clamp(policy(l.Quantity, r.Quantity), stock)
		if qty == 0 {
			pushes = append(pushes, push{productID: l.ProductID})
			continue
		}
		line := l
		line.Quantity = qty
		line.StockLimit = stock
		if r.Name != "" {
			line.Name = r.Name
		}
		if !r.UnitPrice.IsZero() {
			line.UnitPrice = r.UnitPrice
		}
		if r.Image != "" {
			line.ImageRef = r.Image
		}
		merged.Lines = append(merged.Lines, line)
		if qty != r.Quantity {
			pushes = append(pushes, push{productID: l.ProductID, quantity: qty})
		}
	}

	for _, r := range remote {
		if _, ok := local.Find(r.ProductID); ok {
			continue
		}
		stock := r.Stock
		if stock == api.UnknownStock {
			stock = r.Quantity
		}
		qty := cart.Clamp(r.Quantity, stock)
		if qty == 0 {
			pushes = append(pushes, push{productID: r.ProductID})
			continue
		}
		line := r.Line(stock)
		line.Quantity = qty
		merged.Lines = append(merged.Lines, line)
		if qty != r.Quantity {
			pushes = append(pushes, push{productID: r.ProductID, quantity: qty})
		}
	}
	merged.LastOperationSuccess = true
	return merged, pushes
}
