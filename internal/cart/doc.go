// Package cart implements the quantity-bounded item store behind the
// storefront cart and favorites.
//
// # Overview
//
// A Store holds two collections:
//
//   - State: an ordered sequence of Line values, unique by product id, in
//     insertion (display) order
//   - the favorite set: unique product ids, kept in insertion order
//
// All operations are synchronous and touch only memory. Persistence and
// remote mirroring are layered on top by the engine package.
//
// # Quantity Rules
//
// Every line satisfies 1 <= Quantity <= StockLimit. Products with no stock
// never produce a line:
//
//	AddItem(p, n)      quantity = min(existing + n, p.Stock)
//	IncrementItem(id)  +1, no-op at the ceiling
//	DecrementItem(id)  -1, removes the line below one
//	SetQuantity(id, n) clamped to [1, StockLimit]
//
// State.LastOperationSuccess is false after a mutation that could not honor
// the requested quantity. Clamping is reported through that flag, not as an
// error. AddItem returns ErrOutOfStock for products with zero stock and
// ErrInvalidQuantity for requests below one; the store is unchanged in both
// cases.
//
// # Absence
//
// Absent product ids are a valid prior state. Increment, decrement, set and
// remove on an unknown id are no-ops, never errors.
//
// # Product IDs
//
// ValidProductID checks the 24 character hexadecimal identifier shape using
// go-playground/validator. The store itself accepts any id; validation is
// applied where an id is the sole subject of a request (favorites) or when an
// order is assembled.
//
// # Thread Safety
//
// Store is not safe for concurrent use. The engine owns the single instance
// and serializes every mutation behind its own mutex.
package cart
