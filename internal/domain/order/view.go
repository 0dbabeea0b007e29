package order

import (
	"cmp"
	"slices"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// View is a normalized order list sorted by CreatedAt, newest first.
type View struct {
	mu     sync.Mutex
	orders []Order
}

// NewView sorts orders and wraps them in a View.
func NewView(orders []Order) *View {
	sorted := slices.Clone(orders)
	slices.SortStableFunc(sorted, func(a, b Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return &View{orders: sorted}
}

// All returns every order.
func (v *View) All() []Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.orders)
}

// ByType returns the orders of type t.
func (v *View) ByType(t Type) []Order {
	return v.filter(func(o Order) bool { return o.Type == t })
}

// ByStatus returns the orders whose status matches status, ignoring case.
func (v *View) ByStatus(status string) []Order {
	return v.filter(func(o Order) bool { return strings.EqualFold(string(o.Status), status) })
}

// Find returns the order with the given id.
func (v *View) Find(id string) (Order, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, o := range v.orders {
		if o.ID == id {
			return o, true
		}
	}
	return Order{}, false
}

func (v *View) filter(keep func(Order) bool) []Order {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Order, 0, len(v.orders))
	for _, o := range v.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	return out
}

func (v *View) replace(o Order) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.orders {
		if v.orders[i].ID == o.ID && v.orders[i].Type == o.Type {
			v.orders[i] = o
			return
		}
	}
}

// Summary aggregates a View.
type Summary struct {
	Total      int             `json:"total"`
	ByStatus   map[Status]int  `json:"byStatus"`
	ByType     map[Type]int    `json:"byType"`
	TotalSpend decimal.Decimal `json:"totalSpend"`
}

// Summary counts orders by status and type. Spend covers retail orders only;
// bulk and sample requests carry no comparable total.
func (v *View) Summary() Summary {
	v.mu.Lock()
	defer v.mu.Unlock()

	s := Summary{
		Total:      len(v.orders),
		ByStatus:   make(map[Status]int),
		ByType:     map[Type]int{TypeRetail: 0, TypeBulk: 0, TypeSample: 0},
		TotalSpend: decimal.Zero,
	}
	for _, o := range v.orders {
		s.ByStatus[o.Status]++
		s.ByType[o.Type]++
		if o.Type == TypeRetail && o.TotalAmount != nil {
			s.TotalSpend = s.TotalSpend.Add(*o.TotalAmount)
		}
	}
	s.TotalSpend = s.TotalSpend.Round(2)
	return s
}
