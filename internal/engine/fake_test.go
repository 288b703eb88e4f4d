package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/five82/storefront/internal/api"
	"github.com/five82/storefront/internal/cart"
)

const (
	idA = "64b7f0c2a1b2c3d4e5f60001"
	idB = "64b7f0c2a1b2c3d4e5f60002"
	idC = "64b7f0c2a1b2c3d4e5f60003"
)

func product(id string, price string, stock int) cart.Product {
	return cart.Product{ID: id, Name: "P-" + id[len(id)-1:], Price: decimal.RequireFromString(price), Stock: stock}
}

var errDown = &api.Error{Kind: api.KindNetwork, Op: "test", Err: errors.New("connection refused")}

// fakeRemote is an in-memory server cart for one user.
type fakeRemote struct {
	mu        sync.Mutex
	lines     []api.RemoteLine
	favorites map[string]bool
	calls     []string
	// fail makes every call return the error.
	fail     error
	failCart error
}

func newFakeRemote(lines ...api.RemoteLine) *fakeRemote {
	return &fakeRemote{lines: lines, favorites: map[string]bool{}}
}

func (f *fakeRemote) record(call string) error {
	f.calls = append(f.calls, call)
	return f.fail
}

func (f *fakeRemote) setFail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = err
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRemote) quantities() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, l := range f.lines {
		out[l.ProductID] = l.Quantity
	}
	return out
}

func (f *fakeRemote) isFavorite(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.favorites[id]
}

func (f *fakeRemote) FetchCart(_ context.Context, _ string) ([]api.RemoteLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch cart"); err != nil {
		return nil, err
	}
	if f.failCart != nil {
		return nil, f.failCart
	}
	return append([]api.RemoteLine(nil), f.lines...), nil
}

func (f *fakeRemote) SetCartItem(_ context.Context, _ string, id string, qty int) ([]api.RemoteLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("set " + id); err != nil {
		return nil, err
	}
	for i := range f.lines {
		if f.lines[i].ProductID == id {
			f.lines[i].Quantity = qty
			return nil, nil
		}
	}
	f.lines = append(f.lines, api.RemoteLine{ProductID: id, Quantity: qty, Stock: api.UnknownStock})
	return nil, nil
}

func (f *fakeRemote) RemoveCartItem(_ context.Context, _ string, id string) ([]api.RemoteLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("remove " + id); err != nil {
		return nil, err
	}
	for i := range f.lines {
		if f.lines[i].ProductID == id {
			f.lines = append(f.lines[:i], f.lines[i+1:]...)
			break
		}
	}
	return nil, nil
}

func (f *fakeRemote) ClearCart(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("clear"); err != nil {
		return err
	}
	f.lines = nil
	return nil
}

func (f *fakeRemote) FetchFavorites(_ context.Context, _ string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("fetch favorites"); err != nil {
		return nil, err
	}
	var ids []string
	for id, ok := range f.favorites {
		if ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeRemote) SetFavorite(_ context.Context, _ string, id string, member bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("favorite " + id); err != nil {
		return err
	}
	f.favorites[id] = member
	return nil
}

type fakeCatalog struct {
	products map[string]cart.Product
}

func (c fakeCatalog) FetchProducts(context.Context) ([]cart.Product, error) {
	var out []cart.Product
	for _, p := range c.products {
		out = append(out, p)
	}
	return out, nil
}

func (c fakeCatalog) FetchProduct(_ context.Context, id string) (cart.Product, error) {
	p, ok := c.products[id]
	if !ok {
		return cart.Product{}, &api.Error{Kind: api.KindServer, Op: "get product", Status: 404}
	}
	return p, nil
}
