package mistral

import "fmt"

func buildExtractionPrompt(invoiceText string) string {
	return fmt.Sprintf(`Extract the following information from the provided invoice text:
- vendor_name: The name of the company issuing the invoice.
- invoice_number: The unique identifier for the invoice.
- issue_date: The date the invoice was issued (format YYYY-MM-DD). If multiple dates exist, prefer the main invoice date.
- total_amount: The final total amount due, including tax if specified. Must be a number.
- currency: The ISO 4217 currency code of the total amount, if stated.
- line_items: A list of items/services, including "description" and "amount" for each. If no line items are clearly listed, provide an empty list [].

Format the output STRICTLY as a JSON object with these exact keys: "vendor_name", "invoice_number", "issue_date", "total_amount", "currency", "line_items".
If a value is not found or cannot be determined, use null for that key. Do not include explanations or apologies.

Invoice Text:
%s

JSON Output:`, "```\n"+invoiceText+"\n```")
}
