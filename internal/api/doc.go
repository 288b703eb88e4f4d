// Package api provides an HTTP client for the storefront REST API.
//
// # Overview
//
// Client is the remote side of cart reconciliation. It registers and logs in,
// reads the catalog and its categories, mirrors cart and favorites mutations for an authenticated user and
// submits orders. Consumers depend on the narrow interfaces declared here
// (Authenticator, Catalog, CategoryLister, CartSyncer, OrderService) so tests can substitute
// fakes.
//
// # Client Usage
//
//	client, err := api.NewClient("http://localhost:5000/api", api.Options{
//		Timeout:            10 * time.Second,
//		MutationsPerSecond: 5,
//		Logger:             logger,
//	})
//	if err != nil {
//		return err
//	}
//	user, err := client.Login(ctx, email, password)
//	lines, err := client.FetchCart(ctx, user.Token)
//
// # API Endpoints
//
//   - POST /auth/register, POST /auth/login
//   - GET /products, GET /products/{id}, GET /category
//   - GET /cart, PUT /cart/items/{id}, DELETE /cart/items/{id}, DELETE /cart
//   - GET /favorites, POST /favorites/{id}/toggle, GET /favorites/{id}/check
//   - POST /orders, GET /orders
//
// Cart writes are absolute: PUT carries the desired quantity rather than a
// delta, so replaying a write is harmless. Deleting an item or the cart that
// the server no longer has is treated as success.
//
// Favorites are written through a toggle. SetFavorite checks the
// current membership and toggles only when it differs. Servers without the
// check endpoint are driven by toggling and, when the reported membership is
// wrong, toggling again.
//
// # Request Handling
//
// All requests:
//   - Use context for cancellation and timeout control
//   - Set Accept: application/json and User-Agent: storefront/0.1
//   - Carry a fresh X-Request-ID so server logs can be correlated
//   - Send Authorization: Bearer <token> when a token is supplied
//
// Non-GET requests wait on a token bucket when Options.MutationsPerSecond is
// set, which keeps bursts of quantity clicks from hammering the server.
//
// # Error Handling
//
// Every failure is an *Error carrying a Kind:
//
//   - KindNetwork: the request never produced a response
//   - KindUnauthorized: 401 or 403
//   - KindValidation: 400, 409 or 422, with field errors when the body has them
//   - KindServer: any other status, or an undecodable response
//
// Match with errors.Is against ErrNetwork, ErrUnauthorized,
// ErrValidationFailed and ErrServer, or call KindOf.
//
// # Normalization
//
// The server has shipped several cart shapes over time. Items may embed the
// product, reference it by id, or flatten its fields; the list may be bare or
// nested under items, cart or data. Prices arrive as numbers or strings.
// Everything is normalized into RemoteLine, with Stock set to UnknownStock
// when the server omitted it. Favorites normalize to product ids.
//
// # Thread Safety
//
// Client is safe for concurrent use.
package api
