package ai

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

	"wellnest/internal/metrics"
	"wellnest/internal/retry"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	maxGeminiResponse    = 4 << 20
)

// defaultAttemptTimeout keeps three attempts plus backoff near
// retry.DefaultBudget, which cuts off whatever remains.
const defaultAttemptTimeout = 10 * time.Second

// ErrEmptyResponse is returned when a 2xx reply carries no candidate text.
var ErrEmptyResponse = errors.New("empty response from gemini")

// APIError is a non-2xx reply from the Gemini API, body kept verbatim.
type APIError struct {
	Status int
	Body   []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini api error: status %d", e.Status)
}

// Generation is the first candidate text plus the raw response body.
type Generation struct {
	Text string
	Raw  []byte
}

// GeminiClient calls the Google AI Studio (Gemini) API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	retry      retry.Policy
}

// GeminiOption customizes a GeminiClient.
type GeminiOption func(*GeminiClient)

// WithGeminiBaseURL points the client at another endpoint, e.g. a test server.
func WithGeminiBaseURL(baseURL string) GeminiOption {
	return func(c *GeminiClient) {
		if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithGeminiHTTPClient replaces the default client (10s per attempt).
func WithGeminiHTTPClient(hc *http.Client) GeminiOption {
	return func(c *GeminiClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithGeminiRetry overrides retry.Default.
func WithGeminiRetry(p retry.Policy) GeminiOption {
	return func(c *GeminiClient) { c.retry = p }
}

// NewGeminiClient constructs a client with the provided API key.
func NewGeminiClient(apiKey string, opts ...GeminiOption) (*GeminiClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key required")
	}
	c := &GeminiClient{
		apiKey:     apiKey,
		baseURL:    defaultGeminiBaseURL,
		httpClient: &http.Client{Timeout: defaultAttemptTimeout},
		retry:      retry.Default,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GenerateText sends one generateContent request and returns the first
// candidate's first part. Non-2xx replies surface as *APIError.
func (c *GeminiClient) GenerateText(ctx context.Context, model, systemPrompt, userPrompt string) (Generation, error) {
	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: userPrompt}}}},
	}
	if strings.TrimSpace(systemPrompt) != "" {
		reqBody.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, normalizeModel(model), url.QueryEscape(c.apiKey))
	raw, err := c.doJSON(ctx, endpoint, reqBody)
	if err != nil {
		return Generation{}, err
	}
	var resp generateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Generation{Raw: raw}, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return Generation{Raw: raw}, ErrEmptyResponse
	}
	return Generation{Text: resp.Candidates[0].Content.Parts[0].Text, Raw: raw}, nil
}

func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "models/")
	return model
}

// doJSON retries transport failures and 5xx replies. Transport errors are
// unwrapped from *url.Error so the API key in the query never reaches logs.
func (c *GeminiClient) doJSON(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			metrics.ObserveUpstream("gemini", 0, time.Since(start))
			var urlErr *url.Error
			if errors.As(err, &urlErr) {
				err = urlErr.Err
			}
			if ctx.Err() != nil {
				return fmt.Errorf("gemini request: %w", err)
			}
			return retry.Retryable(fmt.Errorf("gemini request: %w", err))
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxGeminiResponse))
		metrics.ObserveUpstream("gemini", resp.StatusCode, time.Since(start))
		if err != nil {
			return retry.Retryable(fmt.Errorf("read gemini response: %w", err))
		}
		if resp.StatusCode >= 400 {
			apiErr := &APIError{Status: resp.StatusCode, Body: raw}
			if resp.StatusCode >= 500 {
				return retry.Retryable(apiErr)
			}
			return apiErr
		}
		out = raw
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}
