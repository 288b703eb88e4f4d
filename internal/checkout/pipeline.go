package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/five82/storefront/internal/api"
	"github.com/five82/storefront/internal/auth"
	"github.com/five82/storefront/internal/cart"
	"github.com/five82/storefront/internal/logging"
)

var (
	ErrNotAuthenticated = errors.New("checkout requires a signed-in user")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrNoValidItems     = errors.New("cart has no orderable items")
	ErrInvalidAddress   = errors.New("invalid shipping address")
)

// DefaultMinimumTotal is the smallest total the order endpoint accepts.
var DefaultMinimumTotal = decimal.New(1, -2)

// CartSource is the cart the pipeline orders from and clears on success.
type CartSource interface {
	Cart() cart.State
	Session() (auth.Session, bool)
	Clear(ctx context.Context)
}

// ShippingAddress is where the order ships.
type ShippingAddress struct {
	Address    string `validate:"required"`
	City       string `validate:"required"`
	PostalCode string `validate:"required"`
	Country    string `validate:"required"`
}

func (a ShippingAddress) trimmed() ShippingAddress {
	return ShippingAddress{
		Address:    strings.TrimSpace(a.Address),
		City:       strings.TrimSpace(a.City),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
}

// DraftLine is one orderable line.
type DraftLine struct {
	ProductID string
	Quantity  int
}

// Draft is what gets submitted.
type Draft struct {
	Lines         []DraftLine
	ComputedTotal decimal.Decimal
}

// Result describes a created order.
type Result struct {
	Order   api.OrderRecord
	Draft   Draft
	Dropped int
}

// Pipeline validates the cart and submits it as an order.
type Pipeline struct {
	Cart         CartSource
	Service      api.OrderService
	MinimumTotal decimal.Decimal
	Logger       *zap.Logger
}

// Submit orders the current cart. On success the cart is cleared; on any
// failure it is left exactly as it was.
func (p *Pipeline) Submit(ctx context.Context, addr ShippingAddress) (Result, error) {
	logger := logging.OrNop(p.Logger).Named("checkout")

	session, ok := p.Cart.Session()
	if !ok || !session.Valid() {
		return Result{}, ErrNotAuthenticated
	}
	st := p.Cart.Cart()
	if st.IsEmpty() {
		return Result{}, ErrEmptyCart
	}

	draft, dropped := p.buildDraft(st)
	if dropped > 0 {
		logger.Warn("dropping invalid cart lines from order", zap.Int("dropped", dropped))
	}
	if len(draft.Lines) == 0 {
		return Result{Dropped: dropped}, ErrNoValidItems
	}

	addr = addr.trimmed()
	if err := cart.Validator().Struct(addr); err != nil {
		return Result{Draft: draft, Dropped: dropped}, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	req := api.OrderRequest{
		OrderItems: make([]api.OrderItem, 0, len(draft.Lines)),
		ShippingAddress: api.Address{
			Address:    addr.Address,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		},
		TotalPrice: json.Number(draft.ComputedTotal.StringFixed(2)),
	}
	for _, l := range draft.Lines {
		req.OrderItems = append(req.OrderItems, api.OrderItem{Product: l.ProductID, Quantity: l.Quantity})
	}

	order, err := p.Service.CreateOrder(ctx, session.Token, req)
	if err != nil {
		logger.Warn("order submission failed",
			zap.String("kind", api.KindOf(err).String()),
			zap.Error(err))
		return Result{Draft: draft, Dropped: dropped}, fmt.Errorf("submit order: %w", err)
	}

	p.Cart.Clear(ctx)
	logger.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("total", draft.ComputedTotal.StringFixed(2)),
		zap.Int("lines", len(draft.Lines)))
	return Result{Order: order, Draft: draft, Dropped: dropped}, nil
}

// Orders lists the signed-in user's orders.
func (p *Pipeline) Orders(ctx context.Context) ([]api.OrderRecord, error) {
	session, ok := p.Cart.Session()
	if !ok || !session.Valid() {
		return nil, ErrNotAuthenticated
	}
	orders, err := p.Service.FetchOrders(ctx, session.Token)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

func (p *Pipeline) buildDraft(st cart.State) (Draft, int) {
	draft := Draft{ComputedTotal: decimal.Zero}
	dropped := 0
	for _, l := range st.Lines {
		if !cart.ValidProductID(l.ProductID) || l.Quantity < 1 {
			dropped++
			continue
		}
		draft.Lines = append(draft.Lines, DraftLine{ProductID: l.ProductID, Quantity: l.Quantity})
		draft.ComputedTotal = draft.ComputedTotal.Add(l.Subtotal())
	}
	minimum := p.MinimumTotal
	if !minimum.IsPositive() {
		minimum = DefaultMinimumTotal
	}
	if draft.ComputedTotal.LessThan(minimum) {
		draft.ComputedTotal = minimum
	}
	draft.ComputedTotal = draft.ComputedTotal.Round(2)
	return draft, dropped
}
