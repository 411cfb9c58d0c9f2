package xero

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fortypixels/invoice-pilot/internal/core/domain"
	"github.com/fortypixels/invoice-pilot/internal/infrastructure/resilience"
)

// Auth carries the OAuth material for one Xero connection. A bare
// AccessToken works until Xero expires it (about thirty minutes); with
// ClientID, ClientSecret and RefreshToken set the client refreshes the
// access token itself, proactively on expiry and once more on a 401.
type Auth struct {
	AccessToken  string
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
}

// Client talks to the Xero accounting API for one tenant.
type Client struct {
	baseURL    string
	tenantID   string
	httpClient *http.Client

	clientID     string
	clientSecret string
	tokenURL     string
	now          func() time.Time

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

func New(baseURL, tenantID string, auth Auth) *Client {
	if baseURL == "" {
		baseURL = "https://api.xero.com/api.xro/2.0"
	}
	if auth.TokenURL == "" {
		auth.TokenURL = "https://identity.xero.com/connect/token"
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		tenantID:     tenantID,
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		clientID:     auth.ClientID,
		clientSecret: auth.ClientSecret,
		tokenURL:     auth.TokenURL,
		now:          time.Now,
		accessToken:  auth.AccessToken,
		refreshToken: auth.RefreshToken,
	}
}

// Filer creates draft payable bills. The vendor contact is found or created
// first, the category is mapped to an account code, and the original document
// is attached to the bill afterwards. Attachment upload is best-effort: the
// bill already exists by then and a retry of the whole run would duplicate it.
type Filer struct {
	client             *Client
	executor           *resilience.Executor
	logger             *slog.Logger
	accountCodes       map[string]string
	defaultAccountCode string
}

func NewFiler(client *Client, executor *resilience.Executor, logger *slog.Logger, accountCodes map[string]string, defaultAccountCode string) *Filer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Filer{
		client:             client,
		executor:           executor,
		logger:             logger,
		accountCodes:       accountCodes,
		defaultAccountCode: defaultAccountCode,
	}
}

const fallbackVendorName = "Unknown Vendor"

func (f *Filer) File(ctx context.Context, draft *domain.InvoiceDraft, decision domain.CategoryDecision, file *domain.RawFile) (*domain.LedgerReference, error) {
	vendor := strings.TrimSpace(draft.VendorName)
	if vendor == "" {
		vendor = fallbackVendorName
	}

	contactID, err := f.resolveContact(ctx, vendor)
	if err != nil {
		return nil, wrapTransientIfNeeded(err)
	}

	accountCode := f.accountCode(decision.Category)
	bill := f.buildBill(draft, contactID, accountCode)

	var created createdInvoice
	call := func(ctx context.Context) error {
		result, err := f.client.createInvoice(ctx, bill)
		if err != nil {
			return err
		}
		created = result
		return nil
	}
	if f.executor != nil {
		err = f.executor.Execute(ctx, "xero.create_bill", 0, call, classifyXeroError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapTransientIfNeeded(err)
	}

	if file != nil {
		if err := f.client.attachDocument(ctx, created.InvoiceID, file); err != nil {
			f.logger.Warn("bill attachment upload failed",
				slog.String("bill_id", created.InvoiceID),
				slog.String("file", file.Name),
				slog.Any("error", err))
		}
	}

	return &domain.LedgerReference{
		BillID:      created.InvoiceID,
		URL:         billURL(created.InvoiceID),
		AccountCode: accountCode,
	}, nil
}

func (f *Filer) resolveContact(ctx context.Context, vendor string) (string, error) {
	var contactID string
	call := func(ctx context.Context) error {
		id, err := f.client.findContact(ctx, vendor)
		if err != nil {
			return err
		}
		if id == "" {
			id, err = f.client.createContact(ctx, vendor)
			if err != nil {
				return err
			}
		}
		contactID = id
		return nil
	}

	var err error
	if f.executor != nil {
		err = f.executor.Execute(ctx, "xero.resolve_contact", 0, call, classifyXeroError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", err
	}
	return contactID, nil
}

func (f *Filer) accountCode(category string) string {
	if code, ok := f.accountCodes[category]; ok {
		return code
	}
	return f.defaultAccountCode
}

func (f *Filer) buildBill(draft *domain.InvoiceDraft, contactID, accountCode string) map[string]any {
	lines := make([]map[string]any, 0, len(draft.LineItems))
	for _, item := range draft.LineItems {
		quantity := 1
		if item.Quantity != nil && *item.Quantity > 0 {
			quantity = *item.Quantity
		}
		amount := 0.0
		if item.Amount != nil {
			amount = *item.Amount
		}
		description := item.Description
		if description == "" {
			description = "Item from " + vendorOrFallback(draft)
		}
		lines = append(lines, map[string]any{
			"Description": description,
			"Quantity":    quantity,
			"UnitAmount":  amount / float64(quantity),
			"AccountCode": accountCode,
		})
	}
	if len(lines) == 0 {
		total := 0.0
		if draft.TotalAmount != nil {
			total = *draft.TotalAmount
		}
		lines = append(lines, map[string]any{
			"Description": summaryLineDescription(draft),
			"Quantity":    1,
			"UnitAmount":  total,
			"AccountCode": accountCode,
		})
	}

	bill := map[string]any{
		"Type":      "ACCPAY",
		"Contact":   map[string]string{"ContactID": contactID},
		"Status":    "DRAFT",
		"LineItems": lines,
		"Reference": "Chat upload: Inv " + numberOrNA(draft),
	}
	if draft.InvoiceNumber != "" {
		bill["InvoiceNumber"] = draft.InvoiceNumber
	}
	if draft.Currency != "" {
		bill["CurrencyCode"] = draft.Currency
	}
	if draft.IssueDate != nil {
		bill["DateString"] = draft.IssueDate.Format("2006-01-02")
	} else {
		bill["DateString"] = time.Now().Format("2006-01-02")
	}
	return bill
}

func summaryLineDescription(draft *domain.InvoiceDraft) string {
	return fmt.Sprintf("Invoice %s from %s", numberOrNA(draft), vendorOrFallback(draft))
}

func vendorOrFallback(draft *domain.InvoiceDraft) string {
	if strings.TrimSpace(draft.VendorName) == "" {
		return fallbackVendorName
	}
	return draft.VendorName
}

func numberOrNA(draft *domain.InvoiceDraft) string {
	if draft.InvoiceNumber == "" {
		return "N/A"
	}
	return draft.InvoiceNumber
}

func billURL(invoiceID string) string {
	return "https://go.xero.com/AccountsPayable/Edit.aspx?InvoiceID=" + url.QueryEscape(invoiceID)
}
