// Package validation talks to the receipt validation backend that decides
// whether a completed transaction is granted.
package validation

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"

	"iap-reconciler/internal/iap"
	"iap-reconciler/pkg/logging"
)

const SignatureHeader = "X-Signature"

// Request is the body posted to the validation backend.
type Request struct {
	Platform        iap.Platform `json:"platform"`
	ProductIDs      []string     `json:"product_ids"`
	TransactionID   string       `json:"transaction_id"`
	TransactionDate time.Time    `json:"transaction_date"`
	Receipt         string       `json:"receipt"`
	PurchaseToken   string       `json:"purchase_token"`
}

// Decision is the backend's verdict. Consumable is optional; when absent
// the caller decides from its own product configuration.
type Decision struct {
	Granted    bool   `json:"granted"`
	Consumable *bool  `json:"consumable,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Client posts transactions to the validation backend. Retries happen in
// the HTTP client, the circuit breaker sees one call per Validate.
type Client struct {
	url     string
	secret  string
	http    *resty.Client
	breaker *gobreaker.CircuitBreaker
}

type Option func(*clientOptions)

type clientOptions struct {
	httpClient       *http.Client
	retryDelays      []time.Duration
	failureThreshold uint32
	openTimeout      time.Duration
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = c }
}

// WithRetryDelays sets the wait after each failed attempt. The number of
// attempts equals the number of delays.
func WithRetryDelays(delays ...time.Duration) Option {
	return func(o *clientOptions) { o.retryDelays = delays }
}

// WithBreaker sets how many consecutive failures open the breaker and how
// long it stays open.
func WithBreaker(failureThreshold uint32, openTimeout time.Duration) Option {
	return func(o *clientOptions) {
		o.failureThreshold = failureThreshold
		o.openTimeout = openTimeout
	}
}

func NewClient(url, secret string, timeout time.Duration, opts ...Option) *Client {
	o := clientOptions{
		retryDelays:      []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
		failureThreshold: 5,
		openTimeout:      30 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if len(o.retryDelays) == 0 {
		o.retryDelays = []time.Duration{0}
	}

	var httpClient *resty.Client
	if o.httpClient != nil {
		httpClient = resty.NewWithClient(o.httpClient)
	} else {
		httpClient = resty.New().SetTimeout(timeout)
	}

	delays := o.retryDelays
	shortest, longest := delayBounds(delays)
	httpClient.
		SetLogger(restyLogger{}).
		SetHeader("User-Agent", "iap-reconciler/1.0").
		SetRetryCount(len(delays) - 1).
		SetRetryWaitTime(shortest).
		SetRetryMaxWaitTime(longest).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			return delays[min(resp.Request.Attempt, len(delays))-1], nil
		}).
		AddRetryCondition(retryable).
		AddRetryHook(func(resp *resty.Response, err error) {
			if resp == nil || resp.Request == nil {
				return
			}
			logging.Errorf("Validation request failed - attempt: %d, status: %d, error: %v", resp.Request.Attempt, resp.StatusCode(), err)
		})

	threshold := o.failureThreshold
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "receipt-validation",
		MaxRequests: 1,
		Timeout:     o.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.Warnf("Circuit breaker [%s] changed state: %s -> %s", name, from, to)
		},
		// a rejected request says nothing about backend health
		IsSuccessful: func(err error) bool {
			var rejected *RejectedError
			return err == nil || errors.As(err, &rejected)
		},
	})

	return &Client{
		url:     url,
		secret:  secret,
		http:    httpClient,
		breaker: breaker,
	}
}

// retryable retries transport failures and 5xx answers. A 4xx is final and
// so is a 2xx whose body failed to decode.
func retryable(resp *resty.Response, err error) bool {
	if resp == nil || resp.RawResponse == nil {
		return err != nil
	}
	return resp.StatusCode() >= http.StatusInternalServerError
}

// delayBounds returns the smallest and largest delay, at least 1ms each.
func delayBounds(delays []time.Duration) (time.Duration, time.Duration) {
	shortest, longest := time.Duration(0), time.Millisecond
	for _, d := range delays {
		if d <= 0 {
			continue
		}
		if shortest == 0 || d < shortest {
			shortest = d
		}
		if d > longest {
			longest = d
		}
	}
	if shortest == 0 {
		shortest = time.Millisecond
	}
	return shortest, longest
}

// RejectedError is a 4xx answer. It is not retried.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("validation request rejected with status %d: %s", e.StatusCode, e.Body)
}

// Validate asks the backend for a decision on tx.
func (c *Client) Validate(ctx context.Context, platform iap.Platform, tx iap.Transaction) (Decision, error) {
	body, err := json.Marshal(Request{
		Platform:        platform,
		ProductIDs:      tx.ProductIDs,
		TransactionID:   tx.TransactionID,
		TransactionDate: tx.TransactionDate,
		Receipt:         tx.Receipt,
		PurchaseToken:   tx.PurchaseToken,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("failed to marshal validation request: %w", err)
	}

	attempts := 0
	result, err := c.breaker.Execute(func() (interface{}, error) {
		decision, n, err := c.send(ctx, body)
		attempts = n
		return decision, err
	})
	if err == nil {
		return result.(Decision), nil
	}

	var rejected *RejectedError
	switch {
	case errors.As(err, &rejected):
		return Decision{}, err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		logging.Warnf("Validation backend unavailable - transaction: %s, state: %s", tx.Key(), c.breaker.State())
		return Decision{}, fmt.Errorf("validation backend unavailable: %w", err)
	}

	logging.Errorf("Validation gave up - transaction: %s, attempts: %d, error: %v", tx.Key(), attempts, err)
	return Decision{}, fmt.Errorf("validation failed after %d attempts: %w", attempts, err)
}

// send posts body and returns the decision with the number of attempts
// the HTTP client made.
func (c *Client) send(ctx context.Context, body []byte) (Decision, int, error) {
	var decision Decision
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&decision).
		ForceContentType("application/json")
	if c.secret != "" {
		req.SetHeader(SignatureHeader, Sign(body, c.secret))
	}

	resp, err := req.Post(c.url)
	if err != nil {
		return Decision{}, req.Attempt, fmt.Errorf("failed to send request: %w", err)
	}

	switch code := resp.StatusCode(); {
	case code >= 400 && code < 500:
		return Decision{}, req.Attempt, &RejectedError{StatusCode: code, Body: resp.String()}
	case code < 200 || code >= 300:
		return Decision{}, req.Attempt, fmt.Errorf("unexpected status code: %d", code)
	}
	return decision, req.Attempt, nil
}

// restyLogger sends the HTTP client's own messages to the application log.
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) { logging.Errorf(format, v...) }
func (restyLogger) Warnf(format string, v ...interface{})  { logging.Warnf(format, v...) }
func (restyLogger) Debugf(format string, v ...interface{}) { logging.Debugf(format, v...) }

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// AllowAll grants every transaction. It stands in for the backend when no
// validation URL is configured.
type AllowAll struct{}

func (AllowAll) Validate(_ context.Context, _ iap.Platform, tx iap.Transaction) (Decision, error) {
	logging.Warnf("No validation backend configured, granting transaction %s unvalidated", tx.Key())
	return Decision{Granted: true, Reason: "unvalidated"}, nil
}
