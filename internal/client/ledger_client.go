package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// LedgerClientInterface defines the ledger subsystem's posting entrypoints.
// Posting is always invoked after the approval transaction commits; failures
// are recorded on the outbox entry, never surfaced as approval failures.
type LedgerClientInterface interface {
	PostVendorInvoice(ctx context.Context, invoiceID string) error
	PostExpensePayment(ctx context.Context, expenseID, cashAccountID string) error
}

// LedgerClient is an HTTP client for the double-entry ledger service (GL-2).
type LedgerClient struct {
	baseURL string
	http    *http.Client
}

// NewLedgerClient creates a new ledger service client.
func NewLedgerClient(baseURL string, timeout time.Duration) *LedgerClient {
	return &LedgerClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// PostVendorInvoiceRequest is the posting payload for an approved invoice.
type PostVendorInvoiceRequest struct {
	InvoiceID string `json:"invoice_id"`
}

// PostExpensePaymentRequest is the posting payload for an expense payment.
type PostExpensePaymentRequest struct {
	ExpenseID     string `json:"expense_id"`
	CashAccountID string `json:"cash_account_id"`
}

// PostVendorInvoice asks the ledger to post journal entries for an approved
// vendor invoice.
func (c *LedgerClient) PostVendorInvoice(ctx context.Context, invoiceID string) error {
	req := PostVendorInvoiceRequest{InvoiceID: invoiceID}
	if err := c.post(ctx, "/api/v1/postings/vendor-invoice", req); err != nil {
		return fmt.Errorf("failed to post vendor invoice: %w", err)
	}
	return nil
}

// PostExpensePayment asks the ledger to post an expense payment against the
// given cash account.
func (c *LedgerClient) PostExpensePayment(ctx context.Context, expenseID, cashAccountID string) error {
	req := PostExpensePaymentRequest{ExpenseID: expenseID, CashAccountID: cashAccountID}
	if err := c.post(ctx, "/api/v1/postings/expense-payment", req); err != nil {
		return fmt.Errorf("failed to post expense payment: %w", err)
	}
	return nil
}

func (c *LedgerClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger returned %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
