package slack

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/resilience"
)

// Fetcher downloads a shared file through Slack's authorized private URL.
// Slack answers an expired or unauthorized download with an HTML login page
// and a 200 status, so the body is sniffed after download and an HTML body
// behind a non-HTML declared type is treated as an authorization failure.
type Fetcher struct {
	token      string
	policy     domain.AdmissionPolicy
	httpClient *http.Client
	executor   *resilience.Executor
}

func NewFetcher(token string, policy domain.AdmissionPolicy, executor *resilience.Executor) *Fetcher {
	return &Fetcher{
		token:      token,
		policy:     policy,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		executor:   executor,
	}
}

// WithHTTPClient replaces the transport, for tests.
func (f *Fetcher) WithHTTPClient(client *http.Client) *Fetcher {
	f.httpClient = client
	return f
}

func (f *Fetcher) Fetch(ctx context.Context, event domain.InvoiceEvent) (*domain.RawFile, error) {
	if _, err := url.ParseRequestURI(event.SourceRef); err != nil {
		return nil, domain.WrapError(domain.ErrMalformedEvent, "fetch", fmt.Errorf("source ref is not a URL: %w", err))
	}

	var file *domain.RawFile
	call := func(ctx context.Context) error {
		downloaded, err := f.download(ctx, event)
		if err != nil {
			return err
		}
		file = downloaded
		return nil
	}

	var err error
	if f.executor != nil {
		err = f.executor.Execute(ctx, "slack.download", 0, call, classifySlackError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapTransientIfNeeded(err)
	}
	return file, nil
}

func (f *Fetcher) download(ctx context.Context, event domain.InvoiceEvent) (*domain.RawFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, event.SourceRef, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack download request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &HTTPStatusError{
			Operation:  "download",
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	limit := f.policy.MaxSizeBytes
	if limit <= 0 {
		limit = 50 << 20
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read download body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, domain.WrapError(domain.ErrUnsupportedFile, "fetch",
			fmt.Errorf("downloaded body exceeds %d byte ceiling", limit))
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("slack download returned an empty body")
	}

	declared := domain.NormalizeMIMEType(event.DeclaredMIMEType)
	if err := checkContent(declared, data); err != nil {
		return nil, err
	}

	return &domain.RawFile{
		Name:     event.DeclaredName,
		MIMEType: declared,
		Bytes:    data,
	}, nil
}

// checkContent verifies the downloaded bytes agree with the declared type.
func checkContent(declared string, data []byte) error {
	switch declared {
	case "application/pdf":
		if !bytes.HasPrefix(data, []byte("%PDF-")) {
			return mismatch(declared, data)
		}
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		if !bytes.HasPrefix(data, []byte("PK")) {
			return mismatch(declared, data)
		}
	default:
		if looksLikeHTML(data) {
			return mismatch(declared, data)
		}
	}
	return nil
}

func mismatch(declared string, data []byte) error {
	if looksLikeHTML(data) {
		return domain.WrapError(domain.ErrUnsupportedFile, "fetch",
			fmt.Errorf("declared %s but received an HTML page, download token likely rejected", declared))
	}
	sniffed := domain.NormalizeMIMEType(http.DetectContentType(data))
	return domain.WrapError(domain.ErrUnsupportedFile, "fetch",
		fmt.Errorf("declared %s but body sniffs as %s", declared, sniffed))
}

func looksLikeHTML(data []byte) bool {
	head := bytes.TrimSpace(data)
	if len(head) > 512 {
		head = head[:512]
	}
	lower := bytes.ToLower(head)
	return bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.HasPrefix(lower, []byte("<html"))
}
