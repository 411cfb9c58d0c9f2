package usecase

import (
	"fmt"
	"strings"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

func startedNotification(event domain.InvoiceEvent) domain.Notification {
	name := event.DeclaredName
	if name == "" {
		name = "your document"
	}
	return domain.Notification{
		EventID: event.EventID,
		Phase:   domain.PhaseStarted,
		Text:    fmt.Sprintf("Processing invoice `%s`...", name),
	}
}

func terminalNotification(event domain.InvoiceEvent, outcome domain.ProcessingOutcome) domain.Notification {
	if outcome.Status == domain.StatusSucceeded {
		return successNotification(event, outcome)
	}
	return failureNotification(event, outcome)
}

func successNotification(event domain.InvoiceEvent, outcome domain.ProcessingOutcome) domain.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "Done! I've processed `%s`.\n", event.DeclaredName)

	draft := outcome.Draft
	if draft != nil {
		if draft.VendorName != "" {
			fmt.Fprintf(&b, "• Vendor: %s\n", draft.VendorName)
		}
		if draft.TotalAmount != nil {
			currency := draft.Currency
			if currency == "" {
				currency = "N/A"
			}
			fmt.Fprintf(&b, "• Amount: %.2f %s\n", *draft.TotalAmount, currency)
		} else {
			b.WriteString("• Amount: not found, please fill in during review\n")
		}
	}

	category := ""
	if outcome.Category != nil {
		category = outcome.Category.Category
		fmt.Fprintf(&b, "• Category: %s\n", category)
	}

	ledgerLink := ""
	if outcome.Ledger != nil {
		ledgerLink = outcome.Ledger.URL
		if ledgerLink != "" {
			fmt.Fprintf(&b, "• Draft bill: %s (ID %s)\n", ledgerLink, outcome.Ledger.BillID)
		} else {
			fmt.Fprintf(&b, "• Draft bill ID: %s\n", outcome.Ledger.BillID)
		}
	}
	b.WriteString("Please review and approve the draft bill.")

	return domain.Notification{
		EventID:    event.EventID,
		Phase:      domain.PhaseSucceeded,
		Text:       b.String(),
		Draft:      draft,
		Category:   category,
		LedgerLink: ledgerLink,
	}
}

func failureNotification(event domain.InvoiceEvent, outcome domain.ProcessingOutcome) domain.Notification {
	stage := outcome.FailureStage()
	summary := outcome.ErrorSummary
	if summary == "" {
		summary = "unknown error"
	}
	text := fmt.Sprintf("Sorry, I couldn't process `%s`: %s failed (%s).",
		event.DeclaredName, stage, summary)

	n := domain.Notification{
		EventID:      event.EventID,
		Phase:        domain.PhaseFailed,
		Stage:        stage,
		Text:         text,
		Draft:        outcome.Draft,
		ErrorSummary: summary,
	}
	if outcome.Category != nil {
		n.Category = outcome.Category.Category
	}
	return n
}
