package xero

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
)

type createdInvoice struct {
	InvoiceID string `json:"InvoiceID"`
}

func (c *Client) findContact(ctx context.Context, name string) (string, error) {
	where := url.QueryEscape(fmt.Sprintf("Name==%q", name))
	var response struct {
		Contacts []struct {
			ContactID string `json:"ContactID"`
		} `json:"Contacts"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/Contacts?where="+where, nil, &response, "find_contact")
	if err != nil {
		var statusErr *HTTPStatusError
		if asStatus(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}
	if len(response.Contacts) == 0 {
		return "", nil
	}
	return response.Contacts[0].ContactID, nil
}

func (c *Client) createContact(ctx context.Context, name string) (string, error) {
	payload := map[string]any{
		"Contacts": []map[string]string{{"Name": name}},
	}
	var response struct {
		Contacts []struct {
			ContactID string `json:"ContactID"`
		} `json:"Contacts"`
	}
	if err := c.doJSON(ctx, http.MethodPut, "/Contacts", payload, &response, "create_contact"); err != nil {
		return "", err
	}
	if len(response.Contacts) == 0 || response.Contacts[0].ContactID == "" {
		return "", fmt.Errorf("xero create_contact returned no contact id")
	}
	return response.Contacts[0].ContactID, nil
}

func (c *Client) createInvoice(ctx context.Context, bill map[string]any) (createdInvoice, error) {
	payload := map[string]any{"Invoices": []map[string]any{bill}}
	var response struct {
		Invoices []struct {
			InvoiceID        string `json:"InvoiceID"`
			HasErrors        bool   `json:"HasErrors"`
			ValidationErrors []struct {
				Message string `json:"Message"`
			} `json:"ValidationErrors"`
		} `json:"Invoices"`
	}
	if err := c.doJSON(ctx, http.MethodPut, "/Invoices", payload, &response, "create_bill"); err != nil {
		return createdInvoice{}, err
	}
	if len(response.Invoices) == 0 {
		return createdInvoice{}, fmt.Errorf("xero create_bill returned no invoices")
	}
	invoice := response.Invoices[0]
	if invoice.HasErrors || invoice.InvoiceID == "" {
		messages := make([]string, 0, len(invoice.ValidationErrors))
		for _, v := range invoice.ValidationErrors {
			messages = append(messages, v.Message)
		}
		return createdInvoice{}, fmt.Errorf("xero rejected draft bill: %s", strings.Join(messages, "; "))
	}
	return createdInvoice{InvoiceID: invoice.InvoiceID}, nil
}

func (c *Client) attachDocument(ctx context.Context, invoiceID string, file *domain.RawFile) error {
	path := fmt.Sprintf("/Invoices/%s/Attachments/%s", url.PathEscape(invoiceID), url.PathEscape(file.Name))
	resp, err := c.do(ctx, "attach", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(file.Bytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", file.MIMEType)
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  "attach",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any, operation string) error {
	var raw []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", operation, err)
		}
		raw = encoded
	}

	resp, err := c.do(ctx, operation, func() (*http.Request, error) {
		var body io.Reader
		if raw != nil {
			body = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &HTTPStatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// do sends one request with a live bearer token. An unauthorized answer is
// retried exactly once with a freshly refreshed token; the request builder
// is re-invoked so the body reader starts over.
func (c *Client) do(ctx context.Context, operation string, build func() (*http.Request, error)) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.bearerToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("xero %s auth: %w", operation, err)
		}
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("create %s request: %w", operation, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Xero-Tenant-Id", c.tenantID)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("xero %s request: %w", operation, err)
		}
		if resp.StatusCode == http.StatusUnauthorized && attempt == 0 && c.refreshable() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
			resp.Body.Close()
			c.invalidateToken(token)
			continue
		}
		return resp, nil
	}
}
