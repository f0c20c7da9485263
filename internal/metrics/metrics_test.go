package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentHandlerLabelsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/payment/verify/{reference}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	h := InstrumentHandler(mux)

	counter := httpRequests.WithLabelValues("GET /api/payment/verify/{reference}", "202")
	before := testutil.ToFloat64(counter)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/payment/verify/ABC", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/payment/verify/XYZ", nil))

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Fatalf("expected 2 requests under the route pattern, got %v", got)
	}
}

func TestObserveUpstreamOutcome(t *testing.T) {
	cases := map[int]string{0: "transport_error", 200: "ok", 404: "client_error", 503: "server_error"}
	for status, outcome := range cases {
		counter := upstreamRequests.WithLabelValues("test", outcome)
		before := testutil.ToFloat64(counter)
		ObserveUpstream("test", status, 10*time.Millisecond)
		if got := testutil.ToFloat64(counter) - before; got != 1 {
			t.Fatalf("status %d: expected outcome %q incremented, got delta %v", status, outcome, got)
		}
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	PaymentSettled()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wellnest_payments_settled_total") {
		t.Fatalf("expected settled counter in exposition output")
	}
}

func TestSecurityAlertCounter(t *testing.T) {
	counter := securityAlerts.WithLabelValues("login", "failure")
	before := testutil.ToFloat64(counter)
	SecurityAlert("login", "failure")
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Fatalf("expected alert counter incremented, got delta %v", got)
	}
}
