package cart

import (
	"github.com/shopspring/decimal"
)

// Product is the catalog record a line is built from.
type Product struct {
	ID       string          `json:"_id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Image    string          `json:"image,omitempty"`
	Category string          `json:"category,omitempty"`
}

// Line is one product's entry in the cart.
type Line struct {
	ProductID  string          `json:"productId"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	StockLimit int             `json:"stock"`
	ImageRef   string          `json:"image,omitempty"`
}

// Subtotal returns UnitPrice × Quantity.
func (l Line) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// LineFromProduct builds a line for p with the given quantity.
func LineFromProduct(p Product, qty int) Line {
	return Line{
		ProductID:  p.ID,
		Name:       p.Name,
		UnitPrice:  p.Price,
		Quantity:   qty,
		StockLimit: p.Stock,
		ImageRef:   p.Image,
	}
}

// State is an ordered, productID-unique sequence of lines. Insertion order is
// display order.
type State struct {
	Lines []Line `json:"items"`

	// LastOperationSuccess is false when the most recent mutation could not
	// honor the requested quantity.
	LastOperationSuccess bool `json:"-"`
}

// Len returns the number of lines.
func (s State) Len() int {
	return len(s.Lines)
}

// IsEmpty reports whether the cart has no lines.
func (s State) IsEmpty() bool {
	return len(s.Lines) == 0
}

// Find returns the line for productID.
func (s State) Find(productID string) (Line, bool) {
	if i := s.index(productID); i >= 0 {
		return s.Lines[i], true
	}
	return Line{}, false
}

// Quantity returns the quantity held for productID, zero when absent.
func (s State) Quantity(productID string) int {
	if l, ok := s.Find(productID); ok {
		return l.Quantity
	}
	return 0
}

// Total sums line subtotals.
func (s State) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// ItemCount sums quantities across lines.
func (s State) ItemCount() int {
	n := 0
	for _, l := range s.Lines {
		n += l.Quantity
	}
	return n
}

// Clone returns a deep copy.
func (s State) Clone() State {
	dup := State{LastOperationSuccess: s.LastOperationSuccess}
	if len(s.Lines) > 0 {
		dup.Lines = make([]Line, len(s.Lines))
		copy(dup.Lines, s.Lines)
	}
	return dup
}

// Equal reports line-for-line equality, ignoring LastOperationSuccess.
func (s State) Equal(other State) bool {
	if len(s.Lines) != len(other.Lines) {
		return false
	}
	for i := range s.Lines {
		a, b := s.Lines[i], other.Lines[i]
		if a.ProductID != b.ProductID ||
			a.Name != b.Name ||
			!a.UnitPrice.Equal(b.UnitPrice) ||
			a.Quantity != b.Quantity ||
			a.StockLimit != b.StockLimit ||
			a.ImageRef != b.ImageRef {
			return false
		}
	}
	return true
}

func (s State) index(productID string) int {
	for i := range s.Lines {
		if s.Lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Clamp bounds qty to [1, limit]. A non-positive limit yields zero.
func Clamp(qty, limit int) int {
	if limit <= 0 {
		return 0
	}
	if qty < 1 {
		return 1
	}
	if qty > limit {
		return limit
	}
	return qty
}
