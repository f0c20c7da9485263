package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"wellnest/internal/retry"
)

func newTestGemini(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewGeminiClient("test-key",
		WithGeminiBaseURL(srv.URL),
		WithGeminiRetry(retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}),
	)
	if err != nil {
		t.Fatalf("new gemini client: %v", err)
	}
	return c
}

func TestGeminiGenerateText(t *testing.T) {
	c := newTestGemini(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-pro:generateContent" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("api key not sent as query parameter, got %q", got)
		}
		var body generateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(body.Contents) != 1 || body.Contents[0].Parts[0].Text != "hello" {
			t.Errorf("unexpected request body: %+v", body)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hi there"}]}}]}`))
	})

	gen, err := c.GenerateText(context.Background(), "models/gemini-pro", "", "hello")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gen.Text != "hi there" {
		t.Fatalf("unexpected text %q", gen.Text)
	}
	if !strings.Contains(string(gen.Raw), "candidates") {
		t.Fatalf("raw body not kept: %s", gen.Raw)
	}
}

func TestGeminiClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestGemini(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"API key not valid"}}`))
	})

	_, err := c.GenerateText(context.Background(), "gemini-pro", "", "hello")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || !strings.Contains(string(apiErr.Body), "API key not valid") {
		t.Fatalf("unexpected api error: %d %s", apiErr.Status, apiErr.Body)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls.Load())
	}
}

func TestGeminiServerErrorRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestGemini(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`overloaded`))
	})

	_, err := c.GenerateText(context.Background(), "gemini-pro", "", "hello")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 *APIError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestGeminiEmptyCandidates(t *testing.T) {
	c := newTestGemini(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	})

	gen, err := c.GenerateText(context.Background(), "gemini-pro", "", "hello")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	if string(gen.Raw) != `{"candidates":[]}` {
		t.Fatalf("raw body should accompany the error, got %q", gen.Raw)
	}
}

func TestGeminiTransportErrorHidesKey(t *testing.T) {
	c, err := NewGeminiClient("super-secret-key",
		WithGeminiBaseURL("http://127.0.0.1:1"),
		WithGeminiRetry(retry.Policy{Attempts: 1}),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.GenerateText(context.Background(), "gemini-pro", "", "hello")
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if strings.Contains(err.Error(), "super-secret-key") {
		t.Fatalf("api key leaked into error: %v", err)
	}
}

func TestNewGeminiClientRequiresKey(t *testing.T) {
	if _, err := NewGeminiClient("  "); err == nil {
		t.Fatalf("expected error for empty key")
	}
}
