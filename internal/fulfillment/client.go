// Package fulfillment hands paid orders to the external fulfillment system.
package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Line is one forwarded order line.
type Line struct {
	RequestItemID int64           `json:"request_item_id"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
}

// Order is the payload accepted by the fulfillment webhook.
type Order struct {
	OrderID     int64           `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	BuyerID     int64           `json:"buyer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PaidAmount  decimal.Decimal `json:"paid_amount"`
	ForwardedAt time.Time       `json:"forwarded_at"`
	Lines       []Line          `json:"lines"`
}

// Client posts forwarded orders to the fulfillment endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Send delivers the order. The order number doubles as the idempotency key
// so a retried delivery is recognised downstream.
func (c *Client) Send(ctx context.Context, order Order) error {
	body, err := json.Marshal(order)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", order.OrderNumber)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fulfillment: post order %s: %w", order.OrderNumber, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusConflict {
		return nil
	}
	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: string(detail)}
	}
	return nil
}

// StatusError reports a non-success webhook response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fulfillment: status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the failure is worth retrying.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}
