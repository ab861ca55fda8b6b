package domain

import "testing"

func TestAllowedResource(t *testing.T) {
	cases := []struct {
		name     string
		ot       OrderType
		resource string
		want     bool
	}{
		{"purchase order on inbound", PurchaseOrder, ResourceInbound, true},
		{"purchase order on truck", PurchaseOrder, "truck1", false},
		{"purchase order on workbench", PurchaseOrder, ResourceUnassigned, true},
		{"sales order on truck", SalesOrder, "truck1", true},
		{"sales order on inbound", SalesOrder, ResourceInbound, false},
		{"sales order on workbench", SalesOrder, ResourceUnassigned, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AllowedResource(tc.ot, tc.resource); got != tc.want {
				t.Fatalf("AllowedResource(%s, %s) = %v, want %v", tc.ot, tc.resource, got, tc.want)
			}
		})
	}
}

func TestDateRoundTrip(t *testing.T) {
	d, err := ParseDate("2025-01-15")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.String() != "2025-01-15" {
		t.Fatalf("got %s", d)
	}
	if next := d.AddDays(20); next.String() != "2025-02-04" {
		t.Fatalf("AddDays crossed the month wrong: %s", next)
	}
	if _, err := ParseDate("01/15/2025"); err == nil {
		t.Fatal("expected parse failure")
	}
}
