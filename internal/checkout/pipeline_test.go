package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/storefront/internal/api"
	"github.com/five82/storefront/internal/auth"
	"github.com/five82/storefront/internal/cart"
	"github.com/five82/storefront/internal/engine"
	"github.com/five82/storefront/internal/persist"
	"github.com/five82/storefront/internal/state"
)

const validID = "64b7f0c2a1b2c3d4e5f60001"

var address = ShippingAddress{Address: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}

type fakeCart struct {
	state   cart.State
	session *auth.Session
	cleared int
}

func (f *fakeCart) Cart() cart.State { return f.state.Clone() }

func (f *fakeCart) Session() (auth.Session, bool) {
	if f.session == nil {
		return auth.Session{}, false
	}
	return *f.session, true
}

func (f *fakeCart) Clear(context.Context) {
	f.cleared++
	f.state = cart.State{LastOperationSuccess: true}
}

type fakeOrders struct {
	got    []api.OrderRequest
	token  string
	err    error
	orders []api.OrderRecord
}

func (f *fakeOrders) CreateOrder(_ context.Context, token string, req api.OrderRequest) (api.OrderRecord, error) {
	f.got = append(f.got, req)
	f.token = token
	if f.err != nil {
		return api.OrderRecord{}, f.err
	}
	return api.OrderRecord{ID: "order-1", TotalPrice: decimal.RequireFromString(req.TotalPrice.String())}, nil
}

func (f *fakeOrders) FetchOrders(_ context.Context, token string) ([]api.OrderRecord, error) {
	f.token = token
	return f.orders, f.err
}

func signedIn() *auth.Session {
	return &auth.Session{UserID: "u1", Token: "jwt"}
}

func line(id string, price string, qty int) cart.Line {
	return cart.Line{ProductID: id, UnitPrice: decimal.RequireFromString(price), Quantity: qty, StockLimit: 10}
}

func TestSubmit_FiltersInvalidLinesAndTotals(t *testing.T) {
	src := &fakeCart{
		state: cart.State{Lines: []cart.Line{
			line("invalid", "99", 1),
			line(validID, "10.00", 3),
		}},
		session: signedIn(),
	}
	orders := &fakeOrders{}
	p := &Pipeline{Cart: src, Service: orders}

	res, err := p.Submit(context.Background(), address)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, "30.00", res.Draft.ComputedTotal.StringFixed(2))
	assert.Equal(t, []DraftLine{{ProductID: validID, Quantity: 3}}, res.Draft.Lines)
	assert.Equal(t, "order-1", res.Order.ID)

	require.Len(t, orders.got, 1)
	req := orders.got[0]
	assert.Equal(t, "jwt", orders.token)
	assert.Equal(t, "30.00", req.TotalPrice.String())
	assert.Equal(t, []api.OrderItem{{Product: validID, Quantity: 3}}, req.OrderItems)
	assert.Equal(t, "Springfield", req.ShippingAddress.City)

	assert.Equal(t, 1, src.cleared)
	assert.True(t, src.state.IsEmpty())
}

func TestSubmit_ServerErrorLeavesCartIntact(t *testing.T) {
	src := &fakeCart{
		state:   cart.State{Lines: []cart.Line{line(validID, "10.00", 3)}},
		session: signedIn(),
	}
	before := src.Cart()
	orders := &fakeOrders{err: &api.Error{Kind: api.KindServer, Op: "create order", Status: 500}}
	p := &Pipeline{Cart: src, Service: orders}

	_, err := p.Submit(context.Background(), address)
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrServer)
	assert.Zero(t, src.cleared)
	assert.True(t, before.Equal(src.Cart()))
}

func TestSubmit_Guards(t *testing.T) {
	orders := &fakeOrders{}

	anon := &Pipeline{Cart: &fakeCart{state: cart.State{Lines: []cart.Line{line(validID, "1", 1)}}}, Service: orders}
	_, err := anon.Submit(context.Background(), address)
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	empty := &Pipeline{Cart: &fakeCart{session: signedIn()}, Service: orders}
	_, err = empty.Submit(context.Background(), address)
	assert.ErrorIs(t, err, ErrEmptyCart)

	junk := &fakeCart{
		state:   cart.State{Lines: []cart.Line{line("x", "1", 1), line(validID, "1", 0)}},
		session: signedIn(),
	}
	res, err := (&Pipeline{Cart: junk, Service: orders}).Submit(context.Background(), address)
	assert.ErrorIs(t, err, ErrNoValidItems)
	assert.Equal(t, 2, res.Dropped)
	assert.Equal(t, 2, junk.state.Len(), "cart left for correction")

	ok := &fakeCart{state: cart.State{Lines: []cart.Line{line(validID, "1", 1)}}, session: signedIn()}
	_, err = (&Pipeline{Cart: ok, Service: orders}).Submit(context.Background(), ShippingAddress{Address: "1 Main", City: " "})
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Zero(t, ok.cleared)

	assert.Empty(t, orders.got, "no guard failure reaches the order service")
}

func TestSubmit_TotalFlooredAtMinimum(t *testing.T) {
	src := &fakeCart{state: cart.State{Lines: []cart.Line{line(validID, "0", 2)}}, session: signedIn()}
	orders := &fakeOrders{}

	res, err := (&Pipeline{Cart: src, Service: orders}).Submit(context.Background(), address)
	require.NoError(t, err)
	assert.Equal(t, "0.01", res.Draft.ComputedTotal.StringFixed(2))

	src.state = cart.State{Lines: []cart.Line{line(validID, "0.333", 3)}}
	res, err = (&Pipeline{Cart: src, Service: orders, MinimumTotal: decimal.RequireFromString("5")}).Submit(context.Background(), address)
	require.NoError(t, err)
	assert.Equal(t, "5.00", res.Draft.ComputedTotal.StringFixed(2))

	src.state = cart.State{Lines: []cart.Line{line(validID, "3.337", 3)}}
	res, err = (&Pipeline{Cart: src, Service: orders}).Submit(context.Background(), address)
	require.NoError(t, err)
	assert.Equal(t, "10.01", res.Draft.ComputedTotal.String())
}

func TestOrders(t *testing.T) {
	orders := &fakeOrders{orders: []api.OrderRecord{{ID: "o1"}}}
	p := &Pipeline{Cart: &fakeCart{session: signedIn()}, Service: orders}

	got, err := p.Orders(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "jwt", orders.token)

	_, err = (&Pipeline{Cart: &fakeCart{}, Service: orders}).Orders(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	orders.err = errors.New("boom")
	_, err = p.Orders(context.Background())
	assert.Error(t, err)
}

func TestSubmit_ClearsEngineCart(t *testing.T) {
	ctx := context.Background()
	e := engine.New(engine.Options{Persist: persist.NewAdapter(&persist.MemoryStorage{}, "", nil)})
	e.Start(ctx)
	_, err := e.AddItem(ctx, cart.Product{ID: validID, Price: decimal.RequireFromString("2.50"), Stock: 4}, 2)
	require.NoError(t, err)
	require.NoError(t, e.Login(ctx, *signedIn()))

	res, err := (&Pipeline{Cart: e, Service: &fakeOrders{}}).Submit(ctx, address)
	require.NoError(t, err)
	assert.Equal(t, "5.00", res.Draft.ComputedTotal.StringFixed(2))
	assert.True(t, e.Cart().IsEmpty())
}

// failingClear accepts every cart write except the clear.
type failingClear struct {
	mu      sync.Mutex
	clears  int
	clearTo error
}

func (f *failingClear) FetchCart(context.Context, string) ([]api.RemoteLine, error) {
	return nil, nil
}

func (f *failingClear) SetCartItem(context.Context, string, string, int) ([]api.RemoteLine, error) {
	return nil, nil
}

func (f *failingClear) RemoveCartItem(context.Context, string, string) ([]api.RemoteLine, error) {
	return nil, nil
}

func (f *failingClear) ClearCart(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clears++
	return f.clearTo
}

func (f *failingClear) FetchFavorites(context.Context, string) ([]string, error) {
	return nil, nil
}

func (f *failingClear) SetFavorite(context.Context, string, string, bool) error {
	return nil
}

func TestSubmit_LocalClearStandsWhenRemoteClearFails(t *testing.T) {
	ctx := context.Background()
	storage := &persist.MemoryStorage{}
	remote := &failingClear{clearTo: &api.Error{Kind: api.KindServer, Op: "clear cart", Status: 500}}
	e := engine.New(engine.Options{
		Persist: persist.NewAdapter(storage, "", nil),
		Remote:  remote,
	})
	e.Start(ctx)
	_, err := e.AddItem(ctx, cart.Product{ID: validID, Price: decimal.RequireFromString("2.50"), Stock: 4}, 2)
	require.NoError(t, err)
	require.NoError(t, e.Login(ctx, *signedIn()))
	require.Equal(t, engine.Authenticated, e.Mode())

	res, err := (&Pipeline{Cart: e, Service: &fakeOrders{}}).Submit(ctx, address)
	require.NoError(t, err)
	assert.Equal(t, "order-1", res.Order.ID)
	e.Wait()

	assert.True(t, e.Cart().IsEmpty())
	assert.True(t, persist.NewAdapter(storage, "", nil).LoadCart(ctx).IsEmpty())
	assert.Equal(t, 1, remote.clears)
	clearKey := state.Key{Kind: state.KindCartClear}
	assert.Equal(t, state.RemoteFailed, e.SyncStatus(clearKey))
	assert.ErrorIs(t, e.LastSyncError(clearKey), api.ErrServer)
}
