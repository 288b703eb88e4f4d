package cart

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfStock is returned when a product with no stock is added.
	ErrOutOfStock = errors.New("out of stock")
	// ErrInvalidQuantity is returned when a requested quantity is below one.
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrInvalidProductID is returned for malformed product identifiers.
	ErrInvalidProductID = errors.New("invalid product id")
)

// Store holds the cart lines and the favorite set. It is not safe for
// concurrent use; callers serialize access.
type Store struct {
	state     State
	favorites []string
	favIndex  map[string]struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{state: State{LastOperationSuccess: true}}
}

// State returns a deep copy of the cart.
func (s *Store) State() State {
	return s.state.Clone()
}

// Line returns the line for productID.
func (s *Store) Line(productID string) (Line, bool) {
	return s.state.Find(productID)
}

// Replace swaps the whole cart, e.g. after loading a snapshot or merging.
func (s *Store) Replace(st State) {
	s.state = st.Clone()
	s.state.LastOperationSuccess = true
}

// AddItem upserts a line for p. The resulting quantity is clamped to the
// product's stock; LastOperationSuccess records whether clamping happened.
func (s *Store) AddItem(p Product, qty int) (Line, error) {
	if qty < 1 {
		s.state.LastOperationSuccess = false
		return Line{}, fmt.Errorf("add %s: %w", p.ID, ErrInvalidQuantity)
	}
	if p.Stock <= 0 {
		s.state.LastOperationSuccess = false
		return Line{}, fmt.Errorf("add %s: %w", p.ID, ErrOutOfStock)
	}

	existing := 0
	idx := s.state.index(p.ID)
	if idx >= 0 {
		existing = s.state.Lines[idx].Quantity
	}
	want := existing + qty
	final := min(want, p.Stock)

	line := LineFromProduct(p, final)
	if idx >= 0 {
		s.state.Lines[idx] = line
	} else {
		s.state.Lines = append(s.state.Lines, line)
	}
	s.state.LastOperationSuccess = final == want
	return line, nil
}

// IncrementItem raises the quantity by one. It is a no-op at the stock
// ceiling and for absent lines.
func (s *Store) IncrementItem(productID string) (Line, bool) {
	idx := s.state.index(productID)
	if idx < 0 {
		s.state.LastOperationSuccess = true
		return Line{}, false
	}
	line := &s.state.Lines[idx]
	if line.Quantity >= line.StockLimit {
		line.Quantity = line.StockLimit
		s.state.LastOperationSuccess = false
		return *line, true
	}
	line.Quantity++
	s.state.LastOperationSuccess = true
	return *line, true
}

// DecrementItem lowers the quantity by one, removing the line when it would
// drop below one. The returned bool is false when the line no longer exists.
func (s *Store) DecrementItem(productID string) (Line, bool) {
	s.state.LastOperationSuccess = true
	idx := s.state.index(productID)
	if idx < 0 {
		return Line{}, false
	}
	if s.state.Lines[idx].Quantity <= 1 {
		s.removeAt(idx)
		return Line{}, false
	}
	s.state.Lines[idx].Quantity--
	return s.state.Lines[idx], true
}

// SetQuantity sets an absolute quantity clamped to [1, stock].
func (s *Store) SetQuantity(productID string, qty int) (Line, bool) {
	idx := s.state.index(productID)
	if idx < 0 {
		s.state.LastOperationSuccess = true
		return Line{}, false
	}
	line := &s.state.Lines[idx]
	line.Quantity = Clamp(qty, line.StockLimit)
	s.state.LastOperationSuccess = line.Quantity == qty
	return *line, true
}

// RemoveItem deletes the line if present and reports whether it existed.
func (s *Store) RemoveItem(productID string) bool {
	s.state.LastOperationSuccess = true
	idx := s.state.index(productID)
	if idx < 0 {
		return false
	}
	s.removeAt(idx)
	return true
}

// Clear empties the cart.
func (s *Store) Clear() {
	s.state = State{LastOperationSuccess: true}
}

func (s *Store) removeAt(idx int) {
	s.state.Lines = append(s.state.Lines[:idx], s.state.Lines[idx+1:]...)
	if len(s.state.Lines) == 0 {
		s.state.Lines = nil
	}
}

// ToggleFavorite flips membership of productID and returns the new membership.
func (s *Store) ToggleFavorite(productID string) bool {
	if s.IsFavorite(productID) {
		s.removeFavorite(productID)
		return false
	}
	s.addFavorite(productID)
	return true
}

// SetFavorite forces membership of productID.
func (s *Store) SetFavorite(productID string, member bool) {
	if member {
		s.addFavorite(productID)
	} else {
		s.removeFavorite(productID)
	}
}

// IsFavorite reports membership.
func (s *Store) IsFavorite(productID string) bool {
	_, ok := s.favIndex[productID]
	return ok
}

// Favorites returns the favorite ids in insertion order.
func (s *Store) Favorites() []string {
	if len(s.favorites) == 0 {
		return nil
	}
	dup := make([]string, len(s.favorites))
	copy(dup, s.favorites)
	return dup
}

// SetFavorites replaces the favorite set, dropping duplicates.
func (s *Store) SetFavorites(ids []string) {
	s.favorites = nil
	s.favIndex = nil
	for _, id := range ids {
		s.addFavorite(id)
	}
}

func (s *Store) addFavorite(id string) {
	if s.IsFavorite(id) {
		return
	}
	if s.favIndex == nil {
		s.favIndex = make(map[string]struct{})
	}
	s.favIndex[id] = struct{}{}
	s.favorites = append(s.favorites, id)
}

func (s *Store) removeFavorite(id string) {
	if !s.IsFavorite(id) {
		return
	}
	delete(s.favIndex, id)
	for i, fav := range s.favorites {
		if fav == id {
			s.favorites = append(s.favorites[:i], s.favorites[i+1:]...)
			break
		}
	}
}
