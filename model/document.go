package model

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

func init() {
	// Report consumers expect plain JSON numbers, not quoted decimals.
	decimal.MarshalJSONWithoutQuotes = true
}

// Role identifies which of the three reconciled documents a value
// belongs to. The schema itself is shared across roles.
type Role string

const (
	RolePO  Role = "po"
	RoleDN  Role = "dn"
	RoleINV Role = "inv"
)

// Roles lists the three document roles in reconciliation order.
var Roles = []Role{RolePO, RoleDN, RoleINV}

// Valid reports whether r is one of the three known roles.
func (r Role) Valid() bool {
	return r == RolePO || r == RoleDN || r == RoleINV
}

// Label returns the display form of the role (PO, DN, INV).
func (r Role) Label() string {
	return strings.ToUpper(string(r))
}

// LineItem is one row of a business document.
type LineItem struct {
	ItemCode  string           `json:"item_code"`
	ItemName  string           `json:"item_name"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Unit      string           `json:"unit,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Total     *decimal.Decimal `json:"total,omitempty"`
}

// Document is one extracted business form. Item order is preserved as
// extracted; it matters for display, not for matching.
type Document struct {
	Role           Role             `json:"role"`
	DocumentNumber string           `json:"document_number,omitempty"`
	DocumentDate   string           `json:"document_date,omitempty"`
	Counterparty   string           `json:"counterparty,omitempty"`
	Items          []LineItem       `json:"items"`
	Subtotal       *decimal.Decimal `json:"subtotal,omitempty"`
	VATRate        *decimal.Decimal `json:"vat_rate,omitempty"`
	VATAmount      *decimal.Decimal `json:"vat_amount,omitempty"`
	GrandTotal     *decimal.Decimal `json:"grand_total,omitempty"`
	Notes          string           `json:"notes,omitempty"`
}

// NormalizeCode returns the comparison form of an item code. Item
// identity across documents is defined solely by this value.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the document invariants: every line item has a
// non-empty item code, a non-negative quantity, and non-negative
// prices where present. The returned error names the offending field.
func (d *Document) Validate() error {
	if !d.Role.Valid() {
		return fmt.Errorf("unknown document role %q", d.Role)
	}
	for i, item := range d.Items {
		if NormalizeCode(item.ItemCode) == "" {
			return fmt.Errorf("%s item %d: item_code is empty", d.Role.Label(), i)
		}
		if item.Quantity.IsNegative() {
			return fmt.Errorf("%s item %d (%s): quantity is negative", d.Role.Label(), i, item.ItemCode)
		}
		if item.UnitPrice != nil && item.UnitPrice.IsNegative() {
			return fmt.Errorf("%s item %d (%s): unit_price is negative", d.Role.Label(), i, item.ItemCode)
		}
		if item.Total != nil && item.Total.IsNegative() {
			return fmt.Errorf("%s item %d (%s): total is negative", d.Role.Label(), i, item.ItemCode)
		}
	}
	return nil
}
