package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/five82/storefront/internal/cart"
	"github.com/five82/storefront/internal/logging"
)

// Authenticator exchanges credentials for a session record.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (UserRecord, error)
	Register(ctx context.Context, name, email, password string) (UserRecord, error)
}

// Catalog reads product records.
type Catalog interface {
	FetchProducts(ctx context.Context) ([]cart.Product, error)
	FetchProduct(ctx context.Context, id string) (cart.Product, error)
}

// CategoryLister reads catalog categories.
type CategoryLister interface {
	FetchCategories(ctx context.Context) ([]Category, error)
}

// CartSyncer mirrors cart and favorites state to the server for the user
// identified by token.
type CartSyncer interface {
	FetchCart(ctx context.Context, token string) ([]RemoteLine, error)
	SetCartItem(ctx context.Context, token, productID string, quantity int) ([]RemoteLine, error)
	RemoveCartItem(ctx context.Context, token, productID string) ([]RemoteLine, error)
	ClearCart(ctx context.Context, token string) error
	FetchFavorites(ctx context.Context, token string) ([]string, error)
	SetFavorite(ctx context.Context, token, productID string, member bool) error
}

// OrderService creates and lists orders.
type OrderService interface {
	CreateOrder(ctx context.Context, token string, req OrderRequest) (OrderRecord, error)
	FetchOrders(ctx context.Context, token string) ([]OrderRecord, error)
}

// Ensure Client implements the collaborator interfaces at compile time.
var (
	_ Authenticator  = (*Client)(nil)
	_ Catalog        = (*Client)(nil)
	_ CategoryLister = (*Client)(nil)
	_ CartSyncer     = (*Client)(nil)
	_ OrderService   = (*Client)(nil)
)

// Client talks to the storefront REST API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// Options tune a Client.
type Options struct {
	Timeout time.Duration
	// MutationsPerSecond limits non-GET requests; zero disables limiting.
	MutationsPerSecond float64
	HTTPClient         *http.Client
	Logger             *zap.Logger
}

const (
	defaultAPIURL    = "http://localhost:5000/api"
	defaultUserAgent = "storefront/0.1"
	requestTimeout   = 10 * time.Second
	maxErrorBody     = 64 << 10
)

// NewClient builds a Client rooted at apiURL, e.g. "http://localhost:5000/api".
func NewClient(apiURL string, opts Options) (*Client, error) {
	base, err := parseBaseURL(apiURL)
	if err != nil {
		return nil, err
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = requestTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	c := &Client{
		baseURL:   base,
		http:      httpClient,
		userAgent: defaultUserAgent,
		logger:    logging.OrNop(opts.Logger).Named("api"),
	}
	if opts.MutationsPerSecond > 0 {
		burst := int(opts.MutationsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.MutationsPerSecond), burst)
	}
	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// ImageURL resolves a product image reference against the API root. Absolute
// URLs are returned unchanged.
func (c *Client) ImageURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	return c.baseURL.JoinPath(strings.TrimPrefix(ref, "/")).String()
}

type request struct {
	op     string
	method string
	path   []string
	token  string
	body   any
}

func (c *Client) do(ctx context.Context, r request, dest any) error {
	if c == nil {
		return &Error{Kind: KindNetwork, Op: r.op, Message: "client is nil"}
	}
	if r.method != http.MethodGet && c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &Error{Kind: KindNetwork, Op: r.op, Err: err}
		}
	}

	var body io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return &Error{Kind: KindValidation, Op: r.op, Message: "encode request", Err: err}
		}
		body = bytes.NewReader(payload)
	}

	reqURL := c.baseURL.JoinPath(r.path...)
	req, err := http.NewRequestWithContext(ctx, r.method, reqURL.String(), body)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: r.op, Message: "create request", Err: err}
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: r.op, Message: "execute request", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := statusError(r.op, resp.StatusCode, raw)
		c.logger.Debug("api request failed",
			zap.String("op", r.op),
			zap.String("request_id", requestID),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", apiErr.Kind.String()))
		return apiErr
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return &Error{Kind: KindServer, Op: r.op, Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}

// Login exchanges credentials for a user record carrying the bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (UserRecord, error) {
	var payload struct {
		Data UserRecord `json:"data"`
	}
	err := c.do(ctx, request{
		op:     "login",
		method: http.MethodPost,
		path:   []string{"auth", "login"},
		body:   map[string]string{"email": email, "password": password},
	}, &payload)
	if err != nil {
		return UserRecord{}, err
	}
	if payload.Data.Token == "" {
		return UserRecord{}, &Error{Kind: KindServer, Op: "login", Message: "response carried no token"}
	}
	return payload.Data, nil
}

// Register creates an account. Some servers sign the new user in and return
// a token; a record without one means the caller still has to log in.
func (c *Client) Register(ctx context.Context, name, email, password string) (UserRecord, error) {
	var raw json.RawMessage
	err := c.do(ctx, request{
		op:     "register",
		method: http.MethodPost,
		path:   []string{"auth", "register"},
		body:   map[string]string{"name": name, "email": email, "password": password},
	}, &raw)
	if err != nil {
		return UserRecord{}, err
	}
	user, err := decodeUser(raw)
	if err != nil {
		return UserRecord{}, &Error{Kind: KindServer, Op: "register", Message: "decode user", Err: err}
	}
	return user, nil
}

// FetchCategories lists the catalog categories.
func (c *Client) FetchCategories(ctx context.Context) ([]Category, error) {
	var raw json.RawMessage
	if err := c.do(ctx, request{op: "list categories", method: http.MethodGet, path: []string{"category"}}, &raw); err != nil {
		return nil, err
	}
	return decodeCategories("list categories", raw)
}

// FetchProducts lists the catalog.
func (c *Client) FetchProducts(ctx context.Context) ([]cart.Product, error) {
	var payload struct {
		Products []ProductRecord `json:"products"`
	}
	if err := c.do(ctx, request{op: "list products", method: http.MethodGet, path: []string{"products"}}, &payload); err != nil {
		return nil, err
	}
	out := make([]cart.Product, 0, len(payload.Products))
	for _, p := range payload.Products {
		out = append(out, p.Product())
	}
	return out, nil
}

// FetchProduct returns one catalog record.
func (c *Client) FetchProduct(ctx context.Context, id string) (cart.Product, error) {
	var payload struct {
		Product ProductRecord `json:"product"`
	}
	if err := c.do(ctx, request{op: "get product", method: http.MethodGet, path: []string{"products", id}}, &payload); err != nil {
		return cart.Product{}, err
	}
	return payload.Product.Product(), nil
}

// FetchCart returns the server cart in normalized form.
func (c *Client) FetchCart(ctx context.Context, token string) ([]RemoteLine, error) {
	var raw json.RawMessage
	if err := c.do(ctx, request{op: "get cart", method: http.MethodGet, path: []string{"cart"}, token: token}, &raw); err != nil {
		return nil, err
	}
	return decodeCart("get cart", raw)
}

// SetCartItem upserts an absolute quantity for productID.
func (c *Client) SetCartItem(ctx context.Context, token, productID string, quantity int) ([]RemoteLine, error) {
	var raw json.RawMessage
	err := c.do(ctx, request{
		op:     "set cart item",
		method: http.MethodPut,
		path:   []string{"cart", "items", productID},
		token:  token,
		body:   map[string]int{"quantity": quantity},
	}, &raw)
	if err != nil {
		return nil, err
	}
	return decodeCart("set cart item", raw)
}

// RemoveCartItem deletes productID from the server cart. Removing an absent
// item succeeds.
func (c *Client) RemoveCartItem(ctx context.Context, token, productID string) ([]RemoteLine, error) {
	var raw json.RawMessage
	err := c.do(ctx, request{
		op:     "remove cart item",
		method: http.MethodDelete,
		path:   []string{"cart", "items", productID},
		token:  token,
	}, &raw)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeCart("remove cart item", raw)
}

// ClearCart empties the server cart. Clearing twice succeeds.
func (c *Client) ClearCart(ctx context.Context, token string) error {
	err := c.do(ctx, request{op: "clear cart", method: http.MethodDelete, path: []string{"cart"}, token: token}, nil)
	if IsNotFound(err) {
		return nil
	}
	return err
}

// FetchFavorites returns the user's favorite product ids.
func (c *Client) FetchFavorites(ctx context.Context, token string) ([]string, error) {
	var raw json.RawMessage
	if err := c.do(ctx, request{op: "get favorites", method: http.MethodGet, path: []string{"favorites"}, token: token}, &raw); err != nil {
		return nil, err
	}
	return decodeFavorites("get favorites", raw)
}

type favoriteStatus struct {
	IsFavorite bool `json:"isFavorite"`
}

// ToggleFavorite flips membership server-side and returns the new membership.
func (c *Client) ToggleFavorite(ctx context.Context, token, productID string) (bool, error) {
	var payload favoriteStatus
	err := c.do(ctx, request{
		op:     "toggle favorite",
		method: http.MethodPost,
		path:   []string{"favorites", productID, "toggle"},
		token:  token,
	}, &payload)
	return payload.IsFavorite, err
}

// CheckFavorite reports server-side membership.
func (c *Client) CheckFavorite(ctx context.Context, token, productID string) (bool, error) {
	var payload favoriteStatus
	err := c.do(ctx, request{
		op:     "check favorite",
		method: http.MethodGet,
		path:   []string{"favorites", productID, "check"},
		token:  token,
	}, &payload)
	return payload.IsFavorite, err
}

// SetFavorite drives server membership to member. It checks membership first
// and toggles only when it differs. Servers without the check endpoint are
// driven through the toggle alone, toggling a second time when the first flip
// landed on the wrong side.
func (c *Client) SetFavorite(ctx context.Context, token, productID string, member bool) error {
	current, err := c.CheckFavorite(ctx, token, productID)
	checked := err == nil
	switch {
	case checked && current == member:
		return nil
	case err != nil && !IsNotFound(err):
		return err
	}

	got, err := c.ToggleFavorite(ctx, token, productID)
	if err != nil {
		return err
	}
	if got == member {
		return nil
	}
	if !checked {
		got, err = c.ToggleFavorite(ctx, token, productID)
		if err != nil {
			return err
		}
		if got == member {
			return nil
		}
	}
	return &Error{Kind: KindServer, Op: "set favorite", Message: fmt.Sprintf("membership stuck at %t", got)}
}

// CreateOrder submits an order.
func (c *Client) CreateOrder(ctx context.Context, token string, req OrderRequest) (OrderRecord, error) {
	var raw json.RawMessage
	err := c.do(ctx, request{op: "create order", method: http.MethodPost, path: []string{"orders"}, token: token, body: req}, &raw)
	if err != nil {
		return OrderRecord{}, err
	}
	return decodeOrder("create order", raw)
}

// FetchOrders lists the user's orders.
func (c *Client) FetchOrders(ctx context.Context, token string) ([]OrderRecord, error) {
	var raw json.RawMessage
	if err := c.do(ctx, request{op: "list orders", method: http.MethodGet, path: []string{"orders"}, token: token}, &raw); err != nil {
		return nil, err
	}
	return decodeOrders("list orders", raw)
}

func parseBaseURL(apiURL string) (*url.URL, error) {
	trimmed := strings.TrimSpace(apiURL)
	if trimmed == "" {
		trimmed = defaultAPIURL
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse api_url %q: %w", apiURL, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("parse api_url %q: missing host", apiURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
