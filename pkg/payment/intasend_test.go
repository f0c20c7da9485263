package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"wellnest/internal/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{
		PublicKey: "ISPubKey_test",
		SecretKey: "ISSecretKey_test",
		BaseURL:   srv.URL + "/",
		Retry:     retry.Policy{Attempts: 3, BaseDelay: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestInitializeCheckoutPayload(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Method != http.MethodPost || r.URL.Path != "/checkout/" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ISSecretKey_test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if payload["public_key"] != "ISPubKey_test" || payload["currency"] != "KES" ||
			payload["comment"] != CheckoutComment || payload["amount"] != float64(500) ||
			payload["email"] != "a@x.io" || payload["redirect_url"] != "" {
			t.Errorf("unexpected payload: %v", payload)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"CHK123","url":"https://pay.example/CHK123"}`))
	})

	resp, err := c.InitializeCheckout(context.Background(), CheckoutRequest{Email: "a@x.io", Amount: json.RawMessage(`500`)})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if resp.Status != http.StatusCreated || CheckoutID(resp.Body) != "CHK123" {
		t.Fatalf("unexpected response %d %s", resp.Status, resp.Body)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}
}

func TestInitializeCheckoutNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"detail":"upstream down"}`))
	})
	resp, err := c.InitializeCheckout(context.Background(), CheckoutRequest{Email: "a@x.io", Amount: json.RawMessage(`"500"`)})
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if resp.Status != http.StatusBadGateway || calls.Load() != 1 {
		t.Fatalf("expected single verbatim 502, got status=%d calls=%d", resp.Status, calls.Load())
	}
}

func TestCheckoutStatusRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout/REF%2F1/" && r.URL.RawPath != "/checkout/REF%2F1/" {
			t.Errorf("reference not path-escaped: %q", r.URL.RawPath)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"status":"PAID","email":"A@x.io","amount":"500.00"}`))
	})

	resp, err := c.CheckoutStatus(context.Background(), "REF/1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if calls.Load() != 3 || resp.Status != http.StatusOK {
		t.Fatalf("expected success on third attempt, calls=%d status=%d", calls.Load(), resp.Status)
	}
	res := ParseCheckoutResult(resp.Body)
	if !res.Paid() || res.Email != "A@x.io" || res.Amount != "500.00" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCheckoutStatusReturnsLastServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"detail":"maintenance"}`))
	})
	resp, err := c.CheckoutStatus(context.Background(), "REF1")
	if err != nil {
		t.Fatalf("expected verbatim reply, got error %v", err)
	}
	if resp.Status != http.StatusServiceUnavailable || string(resp.Body) != `{"detail":"maintenance"}` {
		t.Fatalf("unexpected reply %d %s", resp.Status, resp.Body)
	}
}

func TestNewClientRequiresKeys(t *testing.T) {
	if _, err := NewClient(Config{PublicKey: "pub"}); err == nil {
		t.Fatalf("expected error without secret key")
	}
}

func TestParseCheckoutResultMalformed(t *testing.T) {
	for _, body := range []string{"", "not json", `{"status":"PENDING"}`, `{"status":"paid"}`} {
		if ParseCheckoutResult([]byte(body)).Paid() {
			t.Fatalf("body %q must not count as paid", body)
		}
	}
}
