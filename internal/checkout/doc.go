// Package checkout turns the cart into an order.
//
// Submit runs its guards in order and stops at the first failure: a signed-in
// user, a non-empty cart, at least one orderable line, a complete shipping
// address. Lines with a malformed product id or a quantity below one are
// dropped and counted in Result.Dropped rather than failing the order.
//
// The total is the sum of line subtotals, floored at MinimumTotal (one cent
// by default) and rounded to two places. Only after the order service accepts
// the order is the cart cleared; a failed submission leaves it untouched and
// returns the *api.Error wrapped, so callers can classify it with errors.Is.
package checkout
