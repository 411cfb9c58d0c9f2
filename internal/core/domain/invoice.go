package domain

import "time"

// CategoryUncategorized is the only category allowed outside the configured
// set. Both the categorizer adapter and the orchestrator normalize to it.
const CategoryUncategorized = "Uncategorized"

// LineItem is one extracted invoice line. All fields are best-effort.
type LineItem struct {
	Description string   `json:"description,omitempty"`
	Quantity    *int     `json:"quantity,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
}

// InvoiceDraft carries whatever the extraction stage recovered. Every field
// is optional: OCR may partially fail and a partial draft still proceeds
// through categorization and filing.
type InvoiceDraft struct {
	VendorName    string     `json:"vendor_name,omitempty"`
	InvoiceNumber string     `json:"invoice_number,omitempty"`
	IssueDate     *time.Time `json:"issue_date,omitempty"`
	TotalAmount   *float64   `json:"total_amount,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	LineItems     []LineItem `json:"line_items,omitempty"`
	Confidence    *float64   `json:"confidence,omitempty"`
}

// Usable reports whether the draft carries at least one extracted field.
// A draft with nothing usable is an extraction failure, not a success.
func (d *InvoiceDraft) Usable() bool {
	if d == nil {
		return false
	}
	return d.VendorName != "" ||
		d.InvoiceNumber != "" ||
		d.IssueDate != nil ||
		d.TotalAmount != nil ||
		len(d.LineItems) > 0
}

// CategoryDecision is the categorization result. Category is always a member
// of the configured allowed set or CategoryUncategorized.
type CategoryDecision struct {
	Category  string `json:"category"`
	Rationale string `json:"rationale,omitempty"`
}

// LedgerReference points at the draft payable entry created in the
// accounting system.
type LedgerReference struct {
	BillID      string `json:"bill_id"`
	URL         string `json:"url,omitempty"`
	AccountCode string `json:"account_code,omitempty"`
}

// CategoryAllowed reports whether category is a member of allowed or the
// uncategorized sentinel.
func CategoryAllowed(category string, allowed []string) bool {
	if category == CategoryUncategorized {
		return true
	}
	for _, c := range allowed {
		if c == category {
			return true
		}
	}
	return false
}
