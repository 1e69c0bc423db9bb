// services/ledger_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"guild-quest-rewards/config"
	"guild-quest-rewards/metrics"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Ledger is the contract of the external token ledger.
type Ledger interface {
	CreateAccount(ctx context.Context) (string, error)
	Balance(ctx context.Context, accountID string) (float64, error)
	Credit(ctx context.Context, accountID string, amount int64, idempotencyKey string) (*LedgerReceipt, error)
	Spend(ctx context.Context, accountID, item string, cost int64) (*LedgerReceipt, error)
	Info(ctx context.Context) (json.RawMessage, error)
}

// LedgerReceipt is the ledger's answer to a balance-changing call.
type LedgerReceipt struct {
	Balance float64         `json:"balance"`
	Message string          `json:"message"`
	Raw     json.RawMessage `json:"-"`
}

// LedgerClient talks to the ledger over HTTP.
type LedgerClient struct {
	BaseURL     string
	HTTPClient  *http.Client
	Limiter     *rate.Limiter
	ReadRetries int
	Log         logrus.FieldLogger
}

func NewLedgerClient(cfg config.LedgerConfig, log logrus.FieldLogger) *LedgerClient {
	limit := rate.Inf
	burst := 1
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
		burst = int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
	}
	return &LedgerClient{
		BaseURL:     strings.TrimRight(cfg.URL, "/"),
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		Limiter:     rate.NewLimiter(limit, burst),
		ReadRetries: cfg.ReadRetries,
		Log:         log.WithField("component", "ledger_client"),
	}
}

// CreateAccount calls GET /user/new and returns the new account id.
func (c *LedgerClient) CreateAccount(ctx context.Context) (string, error) {
	body, err := c.do(ctx, "create_account", http.MethodGet, "/user/new", nil, nil)
	if err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "user_id")
	if !id.Exists() || id.String() == "" {
		return "", &LedgerError{Op: "create_account", Message: "response missing user_id"}
	}
	return id.String(), nil
}

// Balance calls GET /rewards/balance. Reads are retried up to ReadRetries times.
func (c *LedgerClient) Balance(ctx context.Context, accountID string) (float64, error) {
	path := "/rewards/balance?user_id=" + url.QueryEscape(accountID)

	var lastErr error
	for attempt := 0; attempt <= c.ReadRetries; attempt++ {
		body, err := c.do(ctx, "balance", http.MethodGet, path, nil, nil)
		if err == nil {
			bal := gjson.GetBytes(body, "balance")
			if !bal.Exists() {
				return 0, &LedgerError{Op: "balance", Message: "response missing balance"}
			}
			return bal.Float(), nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
		c.Log.WithError(err).WithField("attempt", attempt+1).Debug("retrying ledger balance read")
	}
	return 0, lastErr
}

// Credit calls POST /rewards/earn. It is never retried here; callers retry
// with the same idempotency key.
func (c *LedgerClient) Credit(ctx context.Context, accountID string, amount int64, idempotencyKey string) (*LedgerReceipt, error) {
	payload := map[string]any{
		"user_id":         accountID,
		"amount":          amount,
		"idempotency_key": idempotencyKey,
	}
	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	body, err := c.do(ctx, "credit", http.MethodPost, "/rewards/earn", payload, headers)
	if err != nil {
		return nil, err
	}
	return decodeReceipt("credit", body)
}

// Spend calls POST /rewards/spend. A 4xx (e.g. insufficient balance) surfaces
// as ErrLedgerRejected.
func (c *LedgerClient) Spend(ctx context.Context, accountID, item string, cost int64) (*LedgerReceipt, error) {
	payload := map[string]any{
		"user_id": accountID,
		"item":    item,
		"cost":    cost,
	}
	body, err := c.do(ctx, "spend", http.MethodPost, "/rewards/spend", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeReceipt("spend", body)
}

// Info returns the ledger's status document as-is.
func (c *LedgerClient) Info(ctx context.Context) (json.RawMessage, error) {
	var lastErr error
	for attempt := 0; attempt <= c.ReadRetries; attempt++ {
		body, err := c.do(ctx, "info", http.MethodGet, "/", nil, nil)
		if err == nil {
			if !json.Valid(body) {
				return nil, &LedgerError{Op: "info", Message: "response is not JSON"}
			}
			return json.RawMessage(body), nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (c *LedgerClient) do(ctx context.Context, op, method, path string, payload any, headers map[string]string) ([]byte, error) {
	start := time.Now()
	body, err := c.roundTrip(ctx, op, method, path, payload, headers)

	result := "ok"
	if err != nil {
		result = "unavailable"
		if errors.Is(err, ErrLedgerRejected) {
			result = "rejected"
		}
		c.Log.WithFields(logrus.Fields{"op": op, "path": path}).WithError(err).Warn("ledger call failed")
	}
	metrics.RecordLedgerCall(op, result, time.Since(start))
	return body, err
}

func (c *LedgerClient) roundTrip(ctx context.Context, op, method, path string, payload any, headers map[string]string) ([]byte, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, &LedgerError{Op: op, Message: "rate limiter: " + err.Error(), Err: err}
	}

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return nil, &LedgerError{Op: op, Message: "build request: " + err.Error(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &LedgerError{Op: op, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &LedgerError{Op: op, StatusCode: 0, Message: "read body: " + err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &LedgerError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(body, resp.StatusCode)}
	}
	return body, nil
}

func decodeReceipt(op string, body []byte) (*LedgerReceipt, error) {
	if !gjson.ValidBytes(body) {
		return nil, &LedgerError{Op: op, Message: "response is not JSON"}
	}
	bal := gjson.GetBytes(body, "balance")
	if !bal.Exists() {
		return nil, &LedgerError{Op: op, Message: "response missing balance"}
	}
	return &LedgerReceipt{
		Balance: bal.Float(),
		Message: gjson.GetBytes(body, "message").String(),
		Raw:     json.RawMessage(body),
	}, nil
}

// errorMessage pulls a human-readable reason out of an error body.
func errorMessage(body []byte, status int) string {
	if gjson.ValidBytes(body) {
		for _, field := range []string{"error", "message", "detail"} {
			if v := gjson.GetBytes(body, field); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	return http.StatusText(status)
}

// retryable is true for transport failures and 5xx responses.
func retryable(err error) bool {
	var le *LedgerError
	if !errors.As(err, &le) {
		return false
	}
	return le.StatusCode == 0 || le.StatusCode >= 500
}
