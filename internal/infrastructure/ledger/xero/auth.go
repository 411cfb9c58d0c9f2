package xero

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Refreshed slightly early so a token never expires mid-request.
const tokenExpirySkew = 60 * time.Second

// bearerToken returns a usable access token, refreshing it first when the
// held one is expired or missing.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" {
		if c.expiresAt.IsZero() || c.now().Add(tokenExpirySkew).Before(c.expiresAt) {
			return c.accessToken, nil
		}
	}
	if !c.refreshableLocked() {
		if c.accessToken != "" {
			return c.accessToken, nil
		}
		return "", errors.New("no xero access token and no refresh credentials configured")
	}
	return c.refreshLocked(ctx)
}

// invalidateToken drops a token Xero rejected so the next call refreshes.
// The stale comparison keeps a concurrent caller's newer token intact.
func (c *Client) invalidateToken(stale string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == stale {
		c.accessToken = ""
		c.expiresAt = time.Time{}
	}
}

func (c *Client) refreshable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshableLocked()
}

func (c *Client) refreshableLocked() bool {
	return c.clientID != "" && c.clientSecret != "" && c.refreshToken != ""
}

func (c *Client) refreshLocked(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {c.refreshToken},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create refresh request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("xero token refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &HTTPStatusError{
			Operation:  "refresh_token",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	var token struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decode refresh response: %w", err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("xero token refresh returned no access token")
	}

	c.accessToken = token.AccessToken
	// Xero rotates the refresh token on every grant.
	if token.RefreshToken != "" {
		c.refreshToken = token.RefreshToken
	}
	if token.ExpiresIn > 0 {
		c.expiresAt = c.now().Add(time.Duration(token.ExpiresIn) * time.Second)
	} else {
		c.expiresAt = time.Time{}
	}
	return c.accessToken, nil
}
