package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/resilience"
)

// Notifier posts run status messages back to the originating channel via
// chat.postMessage. Slack reports application failures with a 200 status and
// ok:false in the body, so both layers are checked.
type Notifier struct {
	baseURL    string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
}

func NewNotifier(baseURL, token string, executor *resilience.Executor) *Notifier {
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &Notifier{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		executor:   executor,
	}
}

// APIError is Slack's ok:false answer. Only rate limiting is retryable.
type APIError struct {
	Code string
}

func (e *APIError) Error() string {
	return "slack api error: " + e.Code
}

func (n *Notifier) Notify(ctx context.Context, conversationRef string, payload domain.Notification) error {
	call := func(ctx context.Context) error {
		return n.postMessage(ctx, conversationRef, payload.Text)
	}

	var err error
	if n.executor != nil {
		err = n.executor.Execute(ctx, "slack.post_message", 0, call, classifyPostError)
	} else {
		err = call(ctx)
	}
	return wrapTransientIfNeeded(err)
}

func (n *Notifier) postMessage(ctx context.Context, channel, text string) error {
	body, err := json.Marshal(map[string]string{
		"channel": channel,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("marshal post message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/chat.postMessage", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create post message request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack post message request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  "post_message",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decode post message response: %w", err)
	}
	if !result.OK {
		return &APIError{Code: result.Error}
	}
	return nil
}
