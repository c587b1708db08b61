package matcher

import (
	"fmt"
	"strings"

	"github.com/threewaymatch/backend/model"
)

// Summary renders a short human-readable restatement of the report for
// display. It carries no information the report does not already
// expose; the structured fields remain the source of truth.
func Summary(report model.MatchReport) string {
	line := strings.Repeat("=", 50)

	refs := report.DocumentRefs
	lines := []string{
		line,
		"  3-WAY MATCH REPORT",
		line,
		"",
		"  PO:  " + orNA(refs.PONumber),
		"  DN:  " + orNA(refs.DNNumber),
		"  INV: " + orNA(refs.INVNumber),
		"",
		fmt.Sprintf("  Status: %s", report.MatchSummary.Status),
		fmt.Sprintf("  Items: %d matched, %d mismatched",
			report.MatchSummary.Matched, report.MatchSummary.Mismatched),
		"",
	}

	if report.MatchSummary.TotalItems == 0 {
		lines = append(lines, "  No line items could be joined across the three documents.", "")
	}

	for _, item := range report.Details {
		lines = append(lines, fmt.Sprintf("  [%s] %s — %s", item.Status, item.ItemCode, item.ItemName))
	}

	lines = append(lines, "", "  "+report.Recommendation, line)
	return strings.Join(lines, "\n")
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
