// Package matcher implements the 3-way cross-reference between a
// purchase order, a delivery note, and an invoice. It is a pure
// function of its inputs: no I/O, no retries, no awareness of where
// the documents came from.
package matcher

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/threewaymatch/backend/model"
)

// Recommendation strings, fixed per report status.
const (
	RecommendationApprove = "APPROVE payment — all documents reconciled."
	RecommendationHold    = "HOLD payment — discrepancies require resolution before approval."
)

// Options tunes the comparison tolerances. Quantities are always
// compared exactly; only currency amounts use the epsilon.
type Options struct {
	// PriceEpsilon is the tolerance below which two currency amounts
	// are equal. Zero means the default of 0.01.
	PriceEpsilon decimal.Decimal
	// Currency names the working currency in mismatch notes.
	Currency string
}

func (o Options) epsilon() decimal.Decimal {
	if o.PriceEpsilon.IsPositive() {
		return o.PriceEpsilon
	}
	return decimal.New(1, -2)
}

// InvariantViolationError reports a document that violates the schema
// contract (e.g. negative quantity). It indicates a bug in the caller,
// not a business-level mismatch.
type InvariantViolationError struct {
	Role  model.Role
	Cause error
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("document invariant violated for %s: %v", e.Role.Label(), e.Cause)
}

func (e *InvariantViolationError) Unwrap() error {
	return e.Cause
}

// Match joins the line items of the three documents by normalized item
// code and evaluates the consistency checks. Business mismatches are a
// normal outcome recorded in the report; the only error returned is an
// InvariantViolationError for inputs that break the schema contract.
func Match(po, dn, inv model.Document, opts Options) (model.MatchReport, error) {
	for _, d := range []*model.Document{&po, &dn, &inv} {
		if err := d.Validate(); err != nil {
			return model.MatchReport{}, &InvariantViolationError{Role: d.Role, Cause: err}
		}
	}

	eps := opts.epsilon()

	poIdx := indexItems(po.Items)
	dnIdx := indexItems(dn.Items)
	invIdx := indexItems(inv.Items)

	// Details are ordered by first appearance: PO items, then DN items
	// not yet seen, then INV items not yet seen.
	var codes []string
	seen := make(map[string]bool)
	for _, items := range [][]model.LineItem{po.Items, dn.Items, inv.Items} {
		for _, item := range items {
			code := model.NormalizeCode(item.ItemCode)
			if !seen[code] {
				seen[code] = true
				codes = append(codes, code)
			}
		}
	}

	details := make([]model.ItemDetail, 0, len(codes))
	matched := 0
	for _, code := range codes {
		detail := evaluateItem(poIdx[code], dnIdx[code], invIdx[code], eps, opts.Currency)
		if detail.Status == model.ItemMatch {
			matched++
		}
		details = append(details, detail)
	}

	status := model.MismatchDetected
	if len(details) > 0 && matched == len(details) {
		status = model.AllMatched
	}
	recommendation := RecommendationHold
	if status == model.AllMatched {
		recommendation = RecommendationApprove
	}

	return model.MatchReport{
		MatchSummary: model.MatchSummary{
			Status:     status,
			TotalItems: len(details),
			Matched:    matched,
			Mismatched: len(details) - matched,
		},
		DocumentRefs: model.DocumentRefs{
			PONumber:  po.DocumentNumber,
			DNNumber:  dn.DocumentNumber,
			INVNumber: inv.DocumentNumber,
		},
		Details:        details,
		Recommendation: recommendation,
	}, nil
}

// indexItems maps normalized codes to line items. The first occurrence
// of a code within a document wins.
func indexItems(items []model.LineItem) map[string]*model.LineItem {
	idx := make(map[string]*model.LineItem, len(items))
	for i := range items {
		code := model.NormalizeCode(items[i].ItemCode)
		if _, ok := idx[code]; !ok {
			idx[code] = &items[i]
		}
	}
	return idx
}

// evaluateItem runs every check applicable to one joined item code.
// Nil arguments mean the item is absent from that document.
func evaluateItem(poItem, dnItem, invItem *model.LineItem, eps decimal.Decimal, currency string) model.ItemDetail {
	checks := make(map[string]model.CheckResult)

	if poItem == nil {
		checks[model.CheckUnexpectedItem] = unexpectedItemCheck(dnItem, invItem)
	}

	if poItem != nil && dnItem != nil {
		checks[model.CheckQuantityPOvsDN] = quantityCheck(
			poItem.Quantity, dnItem.Quantity,
			"PO (ordered)", "DN (delivered)",
			unitOf(poItem, dnItem),
			"shortage, delivered less than ordered",
			"excess, delivered more than ordered",
		)
	}

	if dnItem != nil && invItem != nil {
		checks[model.CheckQuantityDNvsINV] = quantityCheck(
			dnItem.Quantity, invItem.Quantity,
			"DN (delivered)", "INV (invoiced)",
			unitOf(dnItem, invItem),
			"shortage, invoiced less than delivered",
			"excess, invoiced more than delivered",
		)
	}

	if poItem != nil && invItem != nil && poItem.UnitPrice != nil && invItem.UnitPrice != nil {
		checks[model.CheckUnitPricePOvsINV] = priceCheck(
			*poItem.UnitPrice, *invItem.UnitPrice,
			"PO (unit price)", "INV (unit price)",
			eps, currency,
		)
	}

	if invItem != nil && invItem.UnitPrice != nil && invItem.Total != nil {
		recomputed := invItem.UnitPrice.Mul(invItem.Quantity)
		checks[model.CheckLineTotalVerification] = priceCheck(
			recomputed, *invItem.Total,
			"INV (qty × unit price)", "INV (stated total)",
			eps, currency,
		)
	}

	status := model.ItemMatch
	for _, c := range checks {
		if !c.Match {
			status = model.ItemMismatch
			break
		}
	}

	return model.ItemDetail{
		ItemCode: displayCode(poItem, dnItem, invItem),
		ItemName: displayName(poItem, dnItem, invItem),
		Status:   status,
		Checks:   checks,
	}
}

// quantityCheck compares two quantities exactly. On mismatch the note
// carries the signed delta (b relative to a) and whether that is a
// shortage or an excess.
func quantityCheck(a, b decimal.Decimal, aLabel, bLabel, unit, belowPhrase, abovePhrase string) model.CheckResult {
	result := model.CheckResult{
		SourceALabel: aLabel,
		SourceAValue: quantityString(a, unit),
		SourceBLabel: bLabel,
		SourceBValue: quantityString(b, unit),
		Match:        a.Equal(b),
	}
	if !result.Match {
		diff := b.Sub(a)
		phrase := abovePhrase
		if diff.IsNegative() {
			phrase = belowPhrase
		}
		result.Note = fmt.Sprintf("delta %s: %s", signedQuantityString(diff, unit), phrase)
	}
	return result
}

// priceCheck compares two currency amounts within the epsilon. On
// mismatch the note states the absolute difference.
func priceCheck(a, b decimal.Decimal, aLabel, bLabel string, eps decimal.Decimal, currency string) model.CheckResult {
	result := model.CheckResult{
		SourceALabel: aLabel,
		SourceAValue: amountString(a, currency),
		SourceBLabel: bLabel,
		SourceBValue: amountString(b, currency),
		Match:        a.Sub(b).Abs().LessThan(eps),
	}
	if !result.Match {
		result.Note = fmt.Sprintf("difference of %s", amountString(a.Sub(b).Abs(), currency))
	}
	return result
}

// unexpectedItemCheck flags an item present in the DN and/or the INV
// but absent from the PO. It never matches.
func unexpectedItemCheck(dnItem, invItem *model.LineItem) model.CheckResult {
	var where string
	var qty *model.LineItem
	switch {
	case dnItem != nil && invItem != nil:
		where = "DN, INV"
		qty = dnItem
	case dnItem != nil:
		where = "DN"
		qty = dnItem
	default:
		where = "INV"
		qty = invItem
	}
	return model.CheckResult{
		SourceALabel: "PO",
		SourceAValue: "absent",
		SourceBLabel: where,
		SourceBValue: quantityString(qty.Quantity, qty.Unit),
		Match:        false,
		Note:         fmt.Sprintf("item not on the purchase order (present in %s)", where),
	}
}

// displayName prefers the buyer's own naming: PO first, then DN, then INV.
func displayName(poItem, dnItem, invItem *model.LineItem) string {
	for _, item := range []*model.LineItem{poItem, dnItem, invItem} {
		if item != nil && item.ItemName != "" {
			return item.ItemName
		}
	}
	return ""
}

// displayCode keeps the original casing of the first document that
// carries the item, in PO/DN/INV order.
func displayCode(poItem, dnItem, invItem *model.LineItem) string {
	for _, item := range []*model.LineItem{poItem, dnItem, invItem} {
		if item != nil {
			return item.ItemCode
		}
	}
	return ""
}

func unitOf(items ...*model.LineItem) string {
	for _, item := range items {
		if item != nil && item.Unit != "" {
			return item.Unit
		}
	}
	return ""
}

func quantityString(q decimal.Decimal, unit string) string {
	if unit == "" {
		return q.String()
	}
	return q.String() + " " + unit
}

func amountString(a decimal.Decimal, currency string) string {
	if currency == "" {
		return a.String()
	}
	return a.String() + " " + currency
}

// signedQuantityString renders a delta with an explicit sign.
func signedQuantityString(d decimal.Decimal, unit string) string {
	s := quantityString(d, unit)
	if d.IsPositive() {
		return "+" + s
	}
	return s
}
