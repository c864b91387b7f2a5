package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"go.uber.org/zap"
)

type Config struct {
	BaseURL    string
	KeyID      string
	KeySecret  string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// Client talks to a Razorpay-style REST API with basic auth. Mutating calls
// carry an idempotency key so the bounded retries cannot double-charge or
// double-refund.
type Client struct {
	cfg     Config
	http    *http.Client
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, log *zap.Logger, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		log:     log.With(zap.String("component", "gateway")),
		metrics: m,
	}
}

type createOrderReq struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type orderResp struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

type paymentResp struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Status string `json:"status"`
}

type refundReq struct {
	Amount int64 `json:"amount"`
}

type refundResp struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

type errorResp struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) CreateIntent(ctx context.Context, amountMinor int64, currency, receipt string) (orders.Intent, error) {
	var out orderResp
	err := c.do(ctx, "create_intent", http.MethodPost, "/v1/orders", "intent-"+receipt,
		createOrderReq{Amount: amountMinor, Currency: currency, Receipt: receipt}, &out)
	if err != nil {
		return orders.Intent{}, err
	}
	return orders.Intent{GatewayOrderID: out.ID, ClientHandle: out.ID}, nil
}

func (c *Client) FetchPayment(ctx context.Context, gatewayPaymentID string) (orders.PaymentDetails, error) {
	var out paymentResp
	err := c.do(ctx, "fetch_payment", http.MethodGet, "/v1/payments/"+url.PathEscape(gatewayPaymentID), "", nil, &out)
	if err != nil {
		return orders.PaymentDetails{}, err
	}
	return orders.PaymentDetails{ID: out.ID, Method: orders.PaymentMethod(out.Method), Status: out.Status}, nil
}

func (c *Client) Refund(ctx context.Context, gatewayPaymentID string, amountMinor int64, idempotencyKey string) (orders.RefundResult, error) {
	var out refundResp
	err := c.do(ctx, "refund", http.MethodPost, "/v1/payments/"+url.PathEscape(gatewayPaymentID)+"/refund", idempotencyKey,
		refundReq{Amount: amountMinor}, &out)
	if err != nil {
		return orders.RefundResult{}, err
	}
	return orders.RefundResult{RefundID: out.ID, AmountMinor: out.Amount, Status: out.Status}, nil
}

func (c *Client) do(ctx context.Context, op, method, path, idemKey string, body, out any) (err error) {
	start := time.Now()
	defer func() { c.metrics.ObserveGateway(op, start, err) }()

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return &orders.GatewayError{Op: op, Err: err}
		}
	}

	for attempt := 0; ; attempt++ {
		err = c.once(ctx, op, method, path, idemKey, payload, out)
		if err == nil || !orders.IsRetryable(err) || attempt >= c.cfg.MaxRetries {
			return err
		}
		wait := c.cfg.Backoff << attempt
		c.log.Warn("gateway_retry", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(err))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return &orders.GatewayError{Op: op, Retryable: true, Err: ctx.Err()}
		}
	}
}

func (c *Client) once(ctx context.Context, op, method, path, idemKey string, payload []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var rdr io.Reader
	if payload != nil {
		rdr = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, rdr)
	if err != nil {
		return &orders.GatewayError{Op: op, Err: err}
	}
	req.SetBasicAuth(c.cfg.KeyID, c.cfg.KeySecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idemKey != "" {
		req.Header.Set("X-Idempotency-Key", idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// transport failures and timeouts are worth another try
		return &orders.GatewayError{Op: op, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &orders.GatewayError{Op: op, StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}
	if resp.StatusCode >= 300 {
		return &orders.GatewayError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:        errors.New(describe(b, resp.Status)),
		}
	}
	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			return &orders.GatewayError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

func describe(body []byte, fallback string) string {
	var er errorResp
	if json.Unmarshal(body, &er) == nil && er.Error.Description != "" {
		if er.Error.Code != "" {
			return er.Error.Code + ": " + er.Error.Description
		}
		return er.Error.Description
	}
	return fallback
}
