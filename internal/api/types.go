package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/five82/storefront/internal/cart"
)

// UnknownStock marks a RemoteLine whose stock the server did not report.
const UnknownStock = -1

// UserRecord is the login response payload.
type UserRecord struct {
	ID      string `json:"_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	IsAdmin bool   `json:"isAdmin"`
	Token   string `json:"token"`
}

// ProductRecord is a catalog product as the server sends it.
type ProductRecord struct {
	ID       string           `json:"_id"`
	AltID    string           `json:"id"`
	Name     string           `json:"name"`
	Price    *decimal.Decimal `json:"price"`
	Stock    *flexInt         `json:"stock"`
	Image    string           `json:"image"`
	Category json.RawMessage  `json:"category"`
}

// Product converts the record into a cart product. Unknown stock becomes zero.
func (r ProductRecord) Product() cart.Product {
	p := cart.Product{
		ID:       r.id(),
		Name:     r.Name,
		Image:    r.Image,
		Category: categoryName(r.Category),
	}
	if r.Price != nil {
		p.Price = *r.Price
	}
	if r.Stock != nil {
		p.Stock = int(*r.Stock)
	}
	return p
}

func (r ProductRecord) id() string {
	if r.ID != "" {
		return r.ID
	}
	return r.AltID
}

func categoryName(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Name
	}
	return ""
}

// Category is a catalog category.
type Category struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// Matches reports whether ref names c by id or, ignoring case, by name.
func (c Category) Matches(ref string) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	return ref == c.ID || strings.EqualFold(ref, c.Name)
}

func decodeCategories(op string, raw json.RawMessage) ([]Category, error) {
	list, err := findList(raw, "data", "categories")
	if err != nil {
		return nil, &Error{Kind: KindServer, Op: op, Message: "decode categories", Err: err}
	}
	var records []Category
	if len(list) > 0 {
		if err := json.Unmarshal(list, &records); err != nil {
			return nil, &Error{Kind: KindServer, Op: op, Message: "decode categories", Err: err}
		}
	}
	out := make([]Category, 0, len(records))
	for _, c := range records {
		if c.ID == "" && c.Name == "" {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// decodeUser accepts a user record at the top level or under data/user.
func decodeUser(raw json.RawMessage) (UserRecord, error) {
	var wrapped struct {
		Data *UserRecord `json:"data"`
		User *UserRecord `json:"user"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return UserRecord{}, err
	}
	switch {
	case wrapped.Data != nil:
		return *wrapped.Data, nil
	case wrapped.User != nil:
		return *wrapped.User, nil
	}
	var rec UserRecord
	err := json.Unmarshal(raw, &rec)
	return rec, err
}

// RemoteLine is a server cart line in normalized form.
type RemoteLine struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
	// Stock is UnknownStock when the server omitted it.
	Stock int
	Image string
}

// Line converts r into a cart line. stock replaces an unknown server stock.
func (r RemoteLine) Line(stock int) cart.Line {
	if r.Stock != UnknownStock {
		stock = r.Stock
	}
	return cart.Line{
		ProductID:  r.ProductID,
		Name:       r.Name,
		UnitPrice:  r.UnitPrice,
		Quantity:   r.Quantity,
		StockLimit: stock,
		ImageRef:   r.Image,
	}
}

// flexInt accepts JSON numbers and numeric strings.
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

type cartItemRecord struct {
	Product   json.RawMessage  `json:"product"`
	ProductID string           `json:"productId"`
	ID        string           `json:"_id"`
	AltID     string           `json:"id"`
	Name      string           `json:"name"`
	Price     *decimal.Decimal `json:"price"`
	Stock     *flexInt         `json:"stock"`
	Image     string           `json:"image"`
	Quantity  flexInt          `json:"quantity"`
}

func (r cartItemRecord) remoteLine() RemoteLine {
	line := RemoteLine{
		Name:     r.Name,
		Quantity: int(r.Quantity),
		Stock:    UnknownStock,
		Image:    r.Image,
	}
	if r.Price != nil {
		line.UnitPrice = *r.Price
	}
	if r.Stock != nil {
		line.Stock = int(*r.Stock)
	}

	product := bytes.TrimSpace(r.Product)
	switch {
	case len(product) > 0 && product[0] == '"':
		_ = json.Unmarshal(product, &line.ProductID)
	case len(product) > 0 && product[0] == '{':
		var p ProductRecord
		if err := json.Unmarshal(product, &p); err == nil {
			line.ProductID = p.id()
			if p.Name != "" {
				line.Name = p.Name
			}
			if p.Price != nil {
				line.UnitPrice = *p.Price
			}
			if p.Stock != nil {
				line.Stock = int(*p.Stock)
			}
			if p.Image != "" {
				line.Image = p.Image
			}
		}
	}
	if line.ProductID == "" {
		// An embedded product's _id belongs to the line subdocument, not the product.
		switch {
		case r.ProductID != "":
			line.ProductID = r.ProductID
		case r.ID != "":
			line.ProductID = r.ID
		default:
			line.ProductID = r.AltID
		}
	}
	return line
}

// decodeCart normalizes the cart document shapes the server has used.
func decodeCart(op string, raw json.RawMessage) ([]RemoteLine, error) {
	items, err := findList(raw, "items", "cartItems", "cart", "data")
	if err != nil {
		return nil, &Error{Kind: KindServer, Op: op, Message: "decode cart", Err: err}
	}
	var records []cartItemRecord
	if len(items) > 0 {
		if err := json.Unmarshal(items, &records); err != nil {
			return nil, &Error{Kind: KindServer, Op: op, Message: "decode cart items", Err: err}
		}
	}
	out := make([]RemoteLine, 0, len(records))
	seen := make(map[string]int, len(records))
	for _, rec := range records {
		line := rec.remoteLine()
		if line.ProductID == "" || line.Quantity < 1 {
			continue
		}
		if i, dup := seen[line.ProductID]; dup {
			out[i].Quantity += line.Quantity
			continue
		}
		seen[line.ProductID] = len(out)
		out = append(out, line)
	}
	return out, nil
}

// decodeFavorites accepts a bare array or one wrapped under favorites/data,
// holding ids, product objects or {product: ...} documents.
func decodeFavorites(op string, raw json.RawMessage) ([]string, error) {
	list, err := findList(raw, "favorites", "data", "items")
	if err != nil {
		return nil, &Error{Kind: KindServer, Op: op, Message: "decode favorites", Err: err}
	}
	var entries []json.RawMessage
	if len(list) > 0 {
		if err := json.Unmarshal(list, &entries); err != nil {
			return nil, &Error{Kind: KindServer, Op: op, Message: "decode favorites", Err: err}
		}
	}
	out := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		id := favoriteID(entry)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func favoriteID(entry json.RawMessage) string {
	entry = bytes.TrimSpace(entry)
	if len(entry) == 0 {
		return ""
	}
	if entry[0] == '"' {
		var id string
		_ = json.Unmarshal(entry, &id)
		return strings.TrimSpace(id)
	}
	var doc struct {
		Product   json.RawMessage `json:"product"`
		ProductID string          `json:"productId"`
		ID        string          `json:"_id"`
		AltID     string          `json:"id"`
	}
	if err := json.Unmarshal(entry, &doc); err != nil {
		return ""
	}
	if len(bytes.TrimSpace(doc.Product)) > 0 {
		if id := favoriteID(doc.Product); id != "" {
			return id
		}
	}
	switch {
	case doc.ProductID != "":
		return doc.ProductID
	case doc.ID != "":
		return doc.ID
	default:
		return doc.AltID
	}
}

// findList returns the first JSON array reachable from raw, descending into
// the named object keys in order. A missing list yields nil.
func findList(raw json.RawMessage, keys ...string) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		return raw, nil
	case '{':
	default:
		return nil, errUnexpectedShape
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}
	for _, key := range keys {
		child, ok := obj[key]
		if !ok {
			continue
		}
		child = bytes.TrimSpace(child)
		if len(child) == 0 || string(child) == "null" {
			continue
		}
		if child[0] == '[' {
			return child, nil
		}
		if child[0] == '{' {
			if list, err := findList(child, keys...); err == nil && list != nil {
				return list, nil
			}
		}
	}
	return nil, nil
}

var errUnexpectedShape = errors.New("expected object or array")

// Address is the shipping address attached to an order.
type Address struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// OrderItem is one product line of an order request.
type OrderItem struct {
	Product  string `json:"product"`
	Name     string `json:"name,omitempty"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price,omitempty"`
}

// OrderRequest is the POST /orders body.
type OrderRequest struct {
	OrderItems      []OrderItem `json:"orderItems"`
	ShippingAddress Address     `json:"shippingAddress"`
	TotalPrice      json.Number `json:"totalPrice"`
}

// OrderRecord is an order as the server reports it.
type OrderRecord struct {
	ID              string          `json:"_id"`
	OrderItems      []OrderItem     `json:"orderItems"`
	ShippingAddress Address         `json:"shippingAddress"`
	TotalPrice      decimal.Decimal `json:"totalPrice"`
	Status          string          `json:"status"`
	IsPaid          bool            `json:"isPaid"`
	IsDelivered     bool            `json:"isDelivered"`
	CreatedAt       string          `json:"createdAt"`
}

type orderRecordWire struct {
	OrderRecord
	Items []cartItemRecord `json:"orderItems"`
}

func (w orderRecordWire) record() OrderRecord {
	rec := w.OrderRecord
	rec.OrderItems = make([]OrderItem, 0, len(w.Items))
	for _, it := range w.Items {
		line := it.remoteLine()
		item := OrderItem{Product: line.ProductID, Name: line.Name, Quantity: line.Quantity}
		if !line.UnitPrice.IsZero() {
			item.Price = line.UnitPrice.StringFixed(2)
		}
		rec.OrderItems = append(rec.OrderItems, item)
	}
	return rec
}

func decodeOrder(op string, raw json.RawMessage) (OrderRecord, error) {
	raw = bytes.TrimSpace(raw)
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return OrderRecord{}, &Error{Kind: KindServer, Op: op, Message: "decode order", Err: err}
	}
	for _, key := range []string{"order", "data"} {
		if inner, ok := envelope[key]; ok && len(bytes.TrimSpace(inner)) > 0 && bytes.TrimSpace(inner)[0] == '{' {
			raw = inner
			break
		}
	}
	var w orderRecordWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return OrderRecord{}, &Error{Kind: KindServer, Op: op, Message: "decode order", Err: err}
	}
	return w.record(), nil
}

func decodeOrders(op string, raw json.RawMessage) ([]OrderRecord, error) {
	list, err := findList(raw, "orders", "data")
	if err != nil {
		return nil, &Error{Kind: KindServer, Op: op, Message: "decode orders", Err: err}
	}
	var wires []orderRecordWire
	if len(list) > 0 {
		if err := json.Unmarshal(list, &wires); err != nil {
			return nil, &Error{Kind: KindServer, Op: op, Message: "decode orders", Err: err}
		}
	}
	out := make([]OrderRecord, 0, len(wires))
	for _, w := range wires {
		out = append(out, w.record())
	}
	return out, nil
}
