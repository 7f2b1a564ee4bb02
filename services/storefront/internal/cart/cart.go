package cart

import (
	"strings"

	"github.com/shopspring/decimal"

	"bananastore/pkg/domain"
)

// MaxQuantity caps the units held on one line.
const MaxQuantity = 99

// Cart is an ordered list of line items, one per product.
type Cart struct {
	Items []domain.CartItem `json:"items"`
}

// Add puts qty units of p in the cart, merging with an existing line.
// Product fields are refreshed from p.
func (c *Cart) Add(p domain.Product, qty int) {
	qty = clamp(qty, 1, MaxQuantity)
	for i := range c.Items {
		if c.Items[i].ID == p.ID {
			c.Items[i].Quantity = clamp(c.Items[i].Quantity+qty, 1, MaxQuantity)
			c.Items[i].Name = p.Name
			c.Items[i].Image = p.Image
			c.Items[i].Price = p.Price
			c.Items[i].Duration = p.Duration
			return
		}
	}
	c.Items = append(c.Items, domain.CartItem{
		ID:       p.ID,
		Name:     p.Name,
		Image:    p.Image,
		Price:    p.Price,
		Duration: p.Duration,
		Quantity: qty,
	})
}

// UpdateQuantity changes a line by delta, keeping it within one and
// MaxQuantity units.
func (c *Cart) UpdateQuantity(id string, delta int) bool {
	id = strings.TrimSpace(id)
	for i := range c.Items {
		if c.Items[i].ID != id {
			continue
		}
		delta = clamp(delta, -MaxQuantity, MaxQuantity)
		c.Items[i].Quantity = clamp(c.Items[i].Quantity+delta, 1, MaxQuantity)
		return true
	}
	return false
}

func clamp(n, lo, hi int) int {
	return min(max(n, lo), hi)
}

func (c *Cart) Remove(id string) bool {
	id = strings.TrimSpace(id)
	for i := range c.Items {
		if c.Items[i].ID == id {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Cart) Clear() {
	c.Items = nil
}

func (c Cart) Empty() bool {
	return len(c.Items) == 0
}

// Count is the number of units across all lines.
func (c Cart) Count() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// Total sums price times quantity without float drift.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(LineTotal(item))
	}
	return total
}

func LineTotal(item domain.CartItem) decimal.Decimal {
	return decimal.NewFromFloat(item.Price).Mul(decimal.NewFromInt(int64(item.Quantity)))
}

// Summary is the cart as rendered to the browser.
type Summary struct {
	Items []Line `json:"items"`
	Count int    `json:"count"`
	Total string `json:"total"`
}

type Line struct {
	domain.CartItem
	LineTotal string `json:"lineTotal"`
}

func (c Cart) Summary() Summary {
	lines := make([]Line, 0, len(c.Items))
	for _, item := range c.Items {
		lines = append(lines, Line{CartItem: item, LineTotal: LineTotal(item).StringFixed(2)})
	}
	return Summary{Items: lines, Count: c.Count(), Total: c.Total().StringFixed(2)}
}
