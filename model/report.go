package model

// Check names used as keys in ItemDetail.Checks. An item only carries
// the checks applicable to it.
const (
	CheckQuantityPOvsDN        = "quantity_po_vs_dn"
	CheckQuantityDNvsINV       = "quantity_dn_vs_inv"
	CheckUnitPricePOvsINV      = "unit_price_po_vs_inv"
	CheckLineTotalVerification = "line_total_verification"
	CheckUnexpectedItem        = "unexpected_item"
)

// ItemStatus is the per-item match outcome.
type ItemStatus string

const (
	ItemMatch    ItemStatus = "MATCH"
	ItemMismatch ItemStatus = "MISMATCH"
)

// ReportStatus is the overall match outcome.
type ReportStatus string

const (
	AllMatched       ReportStatus = "ALL_MATCHED"
	MismatchDetected ReportStatus = "MISMATCH_DETECTED"
)

// CheckResult is the outcome of one pairwise comparison for one item.
// Note is set exactly when Match is false.
type CheckResult struct {
	SourceALabel string `json:"source_a_label"`
	SourceAValue string `json:"source_a_value"`
	SourceBLabel string `json:"source_b_label"`
	SourceBValue string `json:"source_b_value"`
	Match        bool   `json:"match"`
	Note         string `json:"note,omitempty"`
}

// ItemDetail is one joined item across the three documents.
// Status is MATCH iff every present check matched.
type ItemDetail struct {
	ItemCode string                 `json:"item_code"`
	ItemName string                 `json:"item_name"`
	Status   ItemStatus             `json:"status"`
	Checks   map[string]CheckResult `json:"checks"`
}

// MatchSummary aggregates the per-item outcomes.
// Matched + Mismatched == TotalItems always holds.
type MatchSummary struct {
	Status     ReportStatus `json:"status"`
	TotalItems int          `json:"total_items"`
	Matched    int          `json:"matched"`
	Mismatched int          `json:"mismatched"`
}

// DocumentRefs carries the document numbers the report reconciles.
type DocumentRefs struct {
	PONumber  string `json:"po_number"`
	DNNumber  string `json:"dn_number"`
	INVNumber string `json:"inv_number"`
}

// MatchReport is the final reconciliation artifact. It serializes to
// plain mappings, sequences, and scalars only.
type MatchReport struct {
	MatchSummary   MatchSummary `json:"match_summary"`
	DocumentRefs   DocumentRefs `json:"document_refs"`
	Details        []ItemDetail `json:"details"`
	Recommendation string       `json:"recommendation"`
}
