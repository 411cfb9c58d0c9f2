package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

var allowedCategories = []string{"Software & Subscriptions", "Office Supplies", "Travel"}

func chatResponse(t *testing.T, content string) []byte {
	t.Helper()
	payload := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal chat response: %v", err)
	}
	return raw
}

func testDraft() *domain.InvoiceDraft {
	amount := 49.99
	return &domain.InvoiceDraft{
		VendorName:  "Figma Inc",
		TotalAmount: &amount,
		Currency:    "USD",
	}
}

func TestCategorizeMatchedCategory(t *testing.T) {
	var gotPrompt string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			gotPrompt = req.Messages[0].Content
		}
		w.Write(chatResponse(t, `{"status":"matched","assigned_category":"Software & Subscriptions","notes":"design tool subscription"}`))
	}))
	defer server.Close()

	categorizer := NewCategorizer(New(server.URL, "key", ""), nil)
	decision, err := categorizer.Categorize(context.Background(), testDraft(), allowedCategories, "Forty Pixels design studio")
	if err != nil {
		t.Fatalf("categorize error: %v", err)
	}
	if decision.Category != "Software & Subscriptions" {
		t.Fatalf("category = %q", decision.Category)
	}
	if decision.Rationale != "design tool subscription" {
		t.Fatalf("rationale = %q", decision.Rationale)
	}
	if !strings.Contains(gotPrompt, "Forty Pixels design studio") {
		t.Fatal("prompt missing business context")
	}
	if !strings.Contains(gotPrompt, "Software & Subscriptions, Office Supplies, Travel") {
		t.Fatal("prompt missing allowed categories")
	}
	if !strings.Contains(gotPrompt, "Figma Inc") {
		t.Fatal("prompt missing invoice details")
	}
}

func TestCategorizeNotMatchedFallsBack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatResponse(t, `{"status":"not_matched","assigned_category":null,"suggested_new_category":"Marketing","notes":"ad spend"}`))
	}))
	defer server.Close()

	categorizer := NewCategorizer(New(server.URL, "key", ""), nil)
	decision, err := categorizer.Categorize(context.Background(), testDraft(), allowedCategories, "ctx")
	if err != nil {
		t.Fatalf("categorize error: %v", err)
	}
	if decision.Category != domain.CategoryUncategorized {
		t.Fatalf("category = %q", decision.Category)
	}
	if !strings.Contains(decision.Rationale, "Marketing") {
		t.Fatalf("rationale should carry the suggestion: %q", decision.Rationale)
	}
}

func TestCategorizeNormalizesOutOfSetAnswer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(chatResponse(t, `{"status":"matched","assigned_category":"Entertainment"}`))
	}))
	defer server.Close()

	categorizer := NewCategorizer(New(server.URL, "key", ""), nil)
	decision, err := categorizer.Categorize(context.Background(), testDraft(), allowedCategories, "ctx")
	if err != nil {
		t.Fatalf("categorize error: %v", err)
	}
	if decision.Category != domain.CategoryUncategorized {
		t.Fatalf("out-of-set answer must normalize, got %q", decision.Category)
	}
	if !strings.Contains(decision.Rationale, "Entertainment") {
		t.Fatalf("rationale should name the rejected category: %q", decision.Rationale)
	}
}

func TestCategorizeRateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	categorizer := NewCategorizer(New(server.URL, "key", ""), nil)
	_, err := categorizer.Categorize(context.Background(), testDraft(), allowedCategories, "ctx")
	if err == nil {
		t.Fatal("expected error")
	}
	if !domain.IsTransient(err) {
		t.Fatalf("429 should be transient: %v", err)
	}
}

func TestCategorizeAuthFailureIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
	}))
	defer server.Close()

	categorizer := NewCategorizer(New(server.URL, "key", ""), nil)
	_, err := categorizer.Categorize(context.Background(), testDraft(), allowedCategories, "ctx")
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.IsTransient(err) {
		t.Fatalf("401 must be permanent: %v", err)
	}
}
