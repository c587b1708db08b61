package matcher

import (
	"strings"
	"testing"

	"github.com/threewaymatch/backend/model"
)

func TestSummaryContainsReportFields(t *testing.T) {
	po := doc(model.RolePO, "PO-2024-001", priced("LT-01", "Laptop", "10", "1200.00", "12000.00"))
	dn := doc(model.RoleDN, "DN-2024-001", line("LT-01", "Laptop", "10"))
	inv := doc(model.RoleINV, "INV-2024-001", priced("LT-01", "Laptop", "10", "1200.00", "12000.00"))

	report := mustMatch(t, po, dn, inv, Options{})
	summary := Summary(report)

	for _, want := range []string{
		"3-WAY MATCH REPORT",
		"PO:  PO-2024-001",
		"DN:  DN-2024-001",
		"INV: INV-2024-001",
		"Status: ALL_MATCHED",
		"Items: 1 matched, 0 mismatched",
		"[MATCH] LT-01 — Laptop",
		RecommendationApprove,
	} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestSummaryMissingDocumentNumbers(t *testing.T) {
	po := doc(model.RolePO, "", priced("LT-01", "Laptop", "10", "1200.00", "12000.00"))
	dn := doc(model.RoleDN, "", line("LT-01", "Laptop", "10"))
	inv := doc(model.RoleINV, "", priced("LT-01", "Laptop", "10", "1200.00", "12000.00"))

	summary := Summary(mustMatch(t, po, dn, inv, Options{}))

	if !strings.Contains(summary, "PO:  N/A") {
		t.Errorf("expected N/A placeholder for missing PO number:\n%s", summary)
	}
}

func TestSummaryEmptyJoin(t *testing.T) {
	po := doc(model.RolePO, "PO-1")
	dn := doc(model.RoleDN, "DN-1")
	inv := doc(model.RoleINV, "INV-1")

	summary := Summary(mustMatch(t, po, dn, inv, Options{}))

	if !strings.Contains(summary, "No line items could be joined") {
		t.Errorf("expected empty-join notice:\n%s", summary)
	}
	if !strings.Contains(summary, RecommendationHold) {
		t.Errorf("expected hold recommendation for empty join:\n%s", summary)
	}
}

func TestSummaryListsMismatchedItems(t *testing.T) {
	po := doc(model.RolePO, "PO-1", priced("LT-01", "Laptop", "10", "1200.00", "12000.00"))
	dn := doc(model.RoleDN, "DN-1", line("LT-01", "Laptop", "8"))
	inv := doc(model.RoleINV, "INV-1", priced("LT-01", "Laptop", "8", "1200.00", "9600.00"))

	summary := Summary(mustMatch(t, po, dn, inv, Options{}))

	if !strings.Contains(summary, "[MISMATCH] LT-01") {
		t.Errorf("expected mismatched item line:\n%s", summary)
	}
}
