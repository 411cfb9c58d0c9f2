package mistral

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/resilience"
)

// Client talks to the Mistral chat-completions API. Extraction is a two-step
// adapter: local text recovery from the document bytes, then one model call
// that turns the text into a structured draft.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func New(baseURL, apiKey, model string) *Client {
	if model == "" {
		model = "mistral-large-latest"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

type Extractor struct {
	client   *Client
	executor *resilience.Executor
	maxChars int
}

func NewExtractor(client *Client, executor *resilience.Executor) *Extractor {
	return &Extractor{
		client:   client,
		executor: executor,
		maxChars: 15000,
	}
}

type extractedFields struct {
	VendorName    string          `json:"vendor_name"`
	InvoiceNumber string          `json:"invoice_number"`
	IssueDate     string          `json:"issue_date"`
	TotalAmount   *float64        `json:"total_amount"`
	Currency      string          `json:"currency"`
	LineItems     []extractedLine `json:"line_items"`
}

type extractedLine struct {
	Description string   `json:"description"`
	Quantity    *int     `json:"quantity"`
	Amount      *float64 `json:"amount"`
}

func (e *Extractor) Extract(ctx context.Context, file *domain.RawFile) (*domain.InvoiceDraft, error) {
	text, err := documentText(file)
	if err != nil {
		return nil, err
	}
	if len(text) > e.maxChars {
		text = text[:e.maxChars]
	}

	var raw string
	call := func(ctx context.Context) error {
		response, err := e.client.chat(ctx, buildExtractionPrompt(text))
		if err != nil {
			return err
		}
		raw = response
		return nil
	}

	if e.executor != nil {
		err = e.executor.Execute(ctx, "mistral.extract", 0, call, classifyMistralError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapTransientIfNeeded(err)
	}

	var fields extractedFields
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &fields); err != nil {
		return nil, fmt.Errorf("parse extraction json: %w", err)
	}
	return fields.toDraft(), nil
}

func (f extractedFields) toDraft() *domain.InvoiceDraft {
	draft := &domain.InvoiceDraft{
		VendorName:    strings.TrimSpace(f.VendorName),
		InvoiceNumber: strings.TrimSpace(f.InvoiceNumber),
		TotalAmount:   f.TotalAmount,
		Currency:      strings.ToUpper(strings.TrimSpace(f.Currency)),
	}
	if f.IssueDate != "" {
		if parsed, err := time.Parse("2006-01-02", f.IssueDate); err == nil {
			draft.IssueDate = &parsed
		}
	}
	for _, line := range f.LineItems {
		if strings.TrimSpace(line.Description) == "" && line.Amount == nil {
			continue
		}
		draft.LineItems = append(draft.LineItems, domain.LineItem{
			Description: strings.TrimSpace(line.Description),
			Quantity:    line.Quantity,
			Amount:      line.Amount,
		})
	}
	return draft
}

func (c *Client) chat(ctx context.Context, prompt string) (string, error) {
	request := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature":     0.1,
		"response_format": map[string]string{"type": "json_object"},
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, "/v1/chat/completions", request, &response, "extract"); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("mistral extract returned no choices")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
