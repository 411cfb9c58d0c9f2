package openai

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

// Client talks to the OpenAI chat-completions API.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

func New(baseURL, apiKey, model string) *Client {
	if model == "" {
		model = "gpt-4o"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Categorizer assigns one of the configured expense categories to a draft.
// A "not_matched" answer and an out-of-set category both normalize to
// domain.CategoryUncategorized rather than surfacing as errors.
type Categorizer struct {
	client   *Client
	executor *resilience.Executor
}

func NewCategorizer(client *Client, executor *resilience.Executor) *Categorizer {
	return &Categorizer{client: client, executor: executor}
}

type categorizationResult struct {
	Status               string `json:"status"`
	AssignedCategory     string `json:"assigned_category"`
	SuggestedNewCategory string `json:"suggested_new_category"`
	Notes                string `json:"notes"`
}

func (c *Categorizer) Categorize(ctx context.Context, draft *domain.InvoiceDraft, allowed []string, businessContext string) (domain.CategoryDecision, error) {
	prompt := buildCategorizationPrompt(draft, allowed, businessContext)

	var raw string
	call := func(ctx context.Context) error {
		response, err := c.client.chat(ctx, prompt)
		if err != nil {
			return err
		}
		raw = response
		return nil
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "openai.categorize", 0, call, classifyOpenAIError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return domain.CategoryDecision{}, wrapTransientIfNeeded(err)
	}

	var result categorizationResult
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &result); err != nil {
		return domain.CategoryDecision{}, fmt.Errorf("parse categorization json: %w", err)
	}
	return result.toDecision(allowed), nil
}

func (r categorizationResult) toDecision(allowed []string) domain.CategoryDecision {
	category := strings.TrimSpace(r.AssignedCategory)
	rationale := strings.TrimSpace(r.Notes)

	switch r.Status {
	case "matched":
		if !domain.CategoryAllowed(category, allowed) || category == "" {
			note := fmt.Sprintf("model proposed %q which is not a configured category", category)
			if rationale != "" {
				note += "; " + rationale
			}
			return domain.CategoryDecision{Category: domain.CategoryUncategorized, Rationale: note}
		}
		return domain.CategoryDecision{Category: category, Rationale: rationale}
	case "not_matched":
		if suggestion := strings.TrimSpace(r.SuggestedNewCategory); suggestion != "" {
			if rationale != "" {
				rationale += "; "
			}
			rationale += fmt.Sprintf("model suggested new category %q", suggestion)
		}
		return domain.CategoryDecision{Category: domain.CategoryUncategorized, Rationale: rationale}
	default:
		note := "model reported " + r.Status
		if rationale != "" {
			note += ": " + rationale
		}
		return domain.CategoryDecision{Category: domain.CategoryUncategorized, Rationale: note}
	}
}

func (c *Client) chat(ctx context.Context, prompt string) (string, error) {
	request := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature":     0.2,
		"response_format": map[string]string{"type": "json_object"},
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.postJSON(ctx, "/v1/chat/completions", request, &response, "categorize"); err != nil {
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("openai categorize returned no choices")
	}
	content := strings.TrimSpace(response.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("openai categorize returned an empty message")
	}
	return content, nil
}

func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}
