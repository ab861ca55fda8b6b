package domain

// Synthetic board rows. Inbound receives purchase orders, unassigned is the
// workbench row that accepts either kind.
const (
	ResourceInbound    = "inbound"
	ResourceUnassigned = "unassigned"
)

// CellKey addresses one grid cell: a resource row crossed with a calendar
// date. A struct key rather than a "resource|date" composite string, so the
// compiler keeps addressing honest.
type CellKey struct {
	Resource string `json:"resource"`
	Date     Date   `json:"date"`
}

// CellData holds the contents of one cell: runs placed in it plus loose
// orders not yet grouped into a run. Both act as sets; element order
// carries no meaning.
type CellData struct {
	RunIDs        []string `json:"runIds,omitempty"`
	LooseOrderIDs []string `json:"looseOrderIds,omitempty"`
}

// Empty reports whether the cell holds nothing and can be dropped from the
// sparse grid.
func (c CellData) Empty() bool {
	return len(c.RunIDs) == 0 && len(c.LooseOrderIDs) == 0
}

// SyntheticResource reports whether the resource is one of the two
// synthetic rows rather than a real truck.
func SyntheticResource(resource string) bool {
	return resource == ResourceInbound || resource == ResourceUnassigned
}

// AllowedResource is the assignment policy: purchase orders land only on
// the inbound row, sales orders only on real truck rows. The unassigned
// workbench accepts both.
func AllowedResource(t OrderType, resource string) bool {
	if resource == ResourceUnassigned {
		return true
	}
	switch t {
	case PurchaseOrder:
		return resource == ResourceInbound
	case SalesOrder:
		return resource != ResourceInbound
	}
	return false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
