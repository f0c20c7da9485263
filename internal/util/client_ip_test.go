package util

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func proxyRequest(remote string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestClientIPBehindLoadBalancer(t *testing.T) {
	lb, err := NewTrustedProxies([]string{"172.16.0.0/12", "192.0.2.1"})
	if err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}

	cases := map[string]struct {
		req     *http.Request
		trusted *TrustedProxies
		want    string
	}{
		"direct caller spoofing headers": {
			req:  proxyRequest("198.51.100.23:40000", map[string]string{"X-Forwarded-For": "203.0.113.9", "X-Real-IP": "203.0.113.10"}),
			want: "198.51.100.23",
		},
		"single trusted hop": {
			req:     proxyRequest("172.16.4.2:5000", map[string]string{"X-Forwarded-For": "203.0.113.9"}),
			trusted: lb,
			want:    "203.0.113.9",
		},
		"rightmost untrusted hop wins": {
			req:     proxyRequest("192.0.2.1:5000", map[string]string{"X-Forwarded-For": "203.0.113.1, 203.0.113.9, 172.20.0.3"}),
			trusted: lb,
			want:    "203.0.113.9",
		},
		"garbage forwarded-for falls back to real ip": {
			req:     proxyRequest("172.16.4.2:5000", map[string]string{"X-Forwarded-For": "not-an-ip", "X-Real-IP": "203.0.113.44"}),
			trusted: lb,
			want:    "203.0.113.44",
		},
		"chain of trusted hops": {
			req:     proxyRequest("172.16.4.2:5000", map[string]string{"X-Forwarded-For": "172.17.0.8, 172.18.0.9"}),
			trusted: lb,
			want:    "172.17.0.8",
		},
		"ipv4 mapped remote": {
			req:  proxyRequest("[::ffff:198.51.100.23]:443", nil),
			want: "198.51.100.23",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := ClientIP(tc.req, tc.trusted); got != tc.want {
				t.Fatalf("ClientIP() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxiesParsing(t *testing.T) {
	for _, bad := range [][]string{{"lb.internal"}, {"172.16.0.0/40"}} {
		if _, err := NewTrustedProxies(bad); err == nil {
			t.Fatalf("NewTrustedProxies(%v) accepted invalid entry", bad)
		}
	}
	none, err := NewTrustedProxies([]string{"", "   "})
	if err != nil || none != nil {
		t.Fatalf("blank entries = %v, %v; want nil set", none, err)
	}
	if none.Contains(netip.MustParseAddr("172.16.0.1")) {
		t.Fatalf("nil set must trust nobody")
	}
	single, err := NewTrustedProxies([]string{"192.0.2.1"})
	if err != nil {
		t.Fatalf("single address: %v", err)
	}
	if !single.Contains(netip.MustParseAddr("::ffff:192.0.2.1")) || single.Contains(netip.MustParseAddr("192.0.2.2")) {
		t.Fatalf("single address set matched wrong hosts")
	}
}
