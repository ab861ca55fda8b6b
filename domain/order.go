package domain

import "github.com/shopspring/decimal"

// OrderType distinguishes the two schedulable order kinds.
type OrderType string

const (
	PurchaseOrder OrderType = "PO"
	SalesOrder    OrderType = "SO"
)

// Order is a single schedulable unit on the board. Date is nil while the
// order sits in the unscheduled pool and is mutated only by board
// operations, never by callers.
type Order struct {
	ID            string          `json:"id"`
	Type          OrderType       `json:"orderType"`
	DisplayNumber string          `json:"displayNumber,omitempty"`
	PartyCode     string          `json:"partyCode,omitempty"`
	Quantity      decimal.Decimal `json:"quantityMeasure"`
	Status        string          `json:"status,omitempty"`
	ReadOnly      bool            `json:"isReadOnly,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	Date          *Date           `json:"date,omitempty"`
}

// Scheduled reports whether the order currently occupies a calendar date.
func (o Order) Scheduled() bool { return o.Date != nil }

// Run is an ordered, named grouping of orders scheduled together in one
// cell. The order of OrderIDs is the delivery/production sequence and is
// preserved by every mutation that does not explicitly reorder it.
type Run struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Notes    string   `json:"notes,omitempty"`
	OrderIDs []string `json:"orderIds"`
}
