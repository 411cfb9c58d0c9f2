package openai

import (
	"fmt"
	"strings"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

func buildCategorizationPrompt(draft *domain.InvoiceDraft, allowed []string, businessContext string) string {
	var details strings.Builder
	fmt.Fprintf(&details, "Vendor: %s\n", valueOrUnknown(draft.VendorName))
	fmt.Fprintf(&details, "Invoice Number: %s\n", valueOrUnknown(draft.InvoiceNumber))
	if draft.IssueDate != nil {
		fmt.Fprintf(&details, "Issue Date: %s\n", draft.IssueDate.Format("2006-01-02"))
	} else {
		details.WriteString("Issue Date: unknown\n")
	}
	if draft.TotalAmount != nil {
		fmt.Fprintf(&details, "Total Amount: %.2f %s\n", *draft.TotalAmount, draft.Currency)
	} else {
		details.WriteString("Total Amount: unknown\n")
	}
	details.WriteString("Line Items:\n")
	if len(draft.LineItems) == 0 {
		details.WriteString("  (No line items extracted)\n")
	}
	for _, item := range draft.LineItems {
		fmt.Fprintf(&details, "  - Description: %s", valueOrUnknown(item.Description))
		if item.Quantity != nil {
			fmt.Fprintf(&details, ", Quantity: %d", *item.Quantity)
		}
		if item.Amount != nil {
			fmt.Fprintf(&details, ", Amount: %.2f", *item.Amount)
		}
		details.WriteString("\n")
	}

	return fmt.Sprintf(`You are an accounts payable assistant for '%s'.
Your task is to categorize the following invoice data based on the provided list of allowed expense categories.

Allowed Expense Categories:
%s

Invoice Data:
%s
Please analyze the invoice data and respond ONLY with a JSON object containing the categorization result. The JSON object must have the following structure:
{
  "status": "<status>",
  "assigned_category": "<category>",
  "suggested_new_category": "<text>",
  "notes": "<text>"
}

Instructions:
- status is required and must be 'matched', 'not_matched', or 'error'.
- If the invoice clearly matches one of the allowed categories, set status to 'matched' and assigned_category to the EXACT category name.
- If the invoice does not clearly match any allowed category, set status to 'not_matched' and assigned_category to null. You may suggest a new category in suggested_new_category if appropriate.
- If you encounter an error processing the request, set status to 'error' and provide details in notes.
- Do NOT include any text outside the JSON object in your response.`,
		businessContext, strings.Join(allowed, ", "), details.String())
}

func valueOrUnknown(value string) string {
	if strings.TrimSpace(value) == "" {
		return "unknown"
	}
	return value
}
