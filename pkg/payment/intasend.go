// Package payment talks to the IntaSend checkout API and parses its webhooks.
package payment

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

	"github.com/tidwall/gjson"
	"wellnest/internal/metrics"
	"wellnest/internal/retry"
)

const (
	DefaultBaseURL  = "https://api.intasend.com/api/v1"
	DefaultCurrency = "KES"
	CheckoutComment = "WellNest Premium Payment"

	// StatusPaid is the checkout status IntaSend reports once money moved.
	StatusPaid = "PAID"

	maxResponseBytes = 1 << 20
)

// Config holds IntaSend credentials and transport settings.
type Config struct {
	PublicKey  string
	SecretKey  string
	BaseURL    string
	Currency   string
	HTTPClient *http.Client
	Retry      retry.Policy
}

// Client is an IntaSend REST client. Responses are handed back verbatim.
type Client struct {
	publicKey  string
	secretKey  string
	baseURL    string
	currency   string
	httpClient *http.Client
	retry      retry.Policy
}

// Response is an upstream reply kept as received.
type Response struct {
	Status int
	Body   []byte
}

// CheckoutRequest starts a hosted checkout. Amount is forwarded untouched so
// numeric and string amounts both reach IntaSend as the caller sent them.
type CheckoutRequest struct {
	Email       string
	Amount      json.RawMessage
	RedirectURL string
}

// NewClient validates cfg and applies defaults.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.PublicKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("intasend public and secret keys are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	policy := cfg.Retry
	if policy.Attempts == 0 {
		policy = retry.Default
	}
	return &Client{
		publicKey:  strings.TrimSpace(cfg.PublicKey),
		secretKey:  strings.TrimSpace(cfg.SecretKey),
		baseURL:    baseURL,
		currency:   currency,
		httpClient: hc,
		retry:      policy,
	}, nil
}

// Currency returns the currency sent with every checkout.
func (c *Client) Currency() string {
	return c.currency
}

type checkoutPayload struct {
	PublicKey   string          `json:"public_key"`
	Email       string          `json:"email"`
	Amount      json.RawMessage `json:"amount"`
	Currency    string          `json:"currency"`
	RedirectURL string          `json:"redirect_url"`
	Comment     string          `json:"comment"`
}

// InitializeCheckout creates a checkout. It is sent once: a retried POST
// could open two checkouts.
func (c *Client) InitializeCheckout(ctx context.Context, req CheckoutRequest) (Response, error) {
	body, err := json.Marshal(checkoutPayload{
		PublicKey:   c.publicKey,
		Email:       req.Email,
		Amount:      req.Amount,
		Currency:    c.currency,
		RedirectURL: req.RedirectURL,
		Comment:     CheckoutComment,
	})
	if err != nil {
		return Response{}, fmt.Errorf("encode checkout: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.baseURL+"/checkout/", body)
}

// CheckoutStatus fetches a checkout by reference, retrying transport errors
// and 5xx replies. When retries run out on a 5xx, that reply is returned.
func (c *Client) CheckoutStatus(ctx context.Context, reference string) (Response, error) {
	endpoint := c.baseURL + "/checkout/" + url.PathEscape(reference) + "/"
	var last Response
	err := c.retry.Do(ctx, func(ctx context.Context) error {
		resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.Retryable(err)
		}
		last = resp
		if resp.Status >= 500 {
			return retry.Retryable(fmt.Errorf("intasend status %d", resp.Status))
		}
		return nil
	})
	if err != nil && last.Status == 0 {
		return Response{}, err
	}
	return last, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveUpstream("intasend", 0, time.Since(start))
		return Response{}, fmt.Errorf("intasend %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	metrics.ObserveUpstream("intasend", resp.StatusCode, time.Since(start))
	if err != nil {
		return Response{}, fmt.Errorf("read intasend response: %w", err)
	}
	return Response{Status: resp.StatusCode, Body: raw}, nil
}

// CheckoutID returns the "id" of a checkout creation reply, if any.
func CheckoutID(body []byte) string {
	return gjson.GetBytes(body, "id").String()
}

// CheckoutResult is the subset of a checkout status reply used for settlement.
type CheckoutResult struct {
	Status   string
	Email    string
	Amount   string
	Currency string
}

// Paid reports whether IntaSend considers the checkout paid.
func (r CheckoutResult) Paid() bool {
	return r.Status == StatusPaid
}

// ParseCheckoutResult reads a checkout status reply. Unknown or malformed
// bodies yield an empty result, which is never Paid.
func ParseCheckoutResult(body []byte) CheckoutResult {
	if !gjson.ValidBytes(body) {
		return CheckoutResult{}
	}
	res := gjson.GetManyBytes(body, "status", "email", "amount", "currency")
	return CheckoutResult{
		Status:   res[0].String(),
		Email:    res[1].String(),
		Amount:   res[2].String(),
		Currency: res[3].String(),
	}
}
