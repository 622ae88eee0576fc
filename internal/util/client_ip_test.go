package util

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func requestFrom(remote string, headers map[string]string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req
}

func TestClientIPWithoutProxies(t *testing.T) {
	var none *TrustedProxies
	req := requestFrom("198.51.100.10:5555", map[string]string{
		"X-Forwarded-For": "203.0.113.5",
		"X-Real-IP":       "203.0.113.6",
	})
	if got := none.ClientIP(req); got != "198.51.100.10" {
		t.Fatalf("spoofed headers must be ignored, got %q", got)
	}
	if got := none.ClientIP(requestFrom("[2001:db8::1]:443", nil)); got != "2001:db8::1" {
		t.Fatalf("ipv6 remote = %q", got)
	}
	if got := none.ClientIP(requestFrom("pipe", nil)); got != "pipe" {
		t.Fatalf("unparseable remote should pass through, got %q", got)
	}
}

func TestClientIPBehindLoadBalancer(t *testing.T) {
	lb, err := NewTrustedProxies([]string{"10.0.0.0/8", "fd00::/8", " 192.168.1.10 "})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}
	cases := map[string]struct {
		remote  string
		headers map[string]string
		want    string
	}{
		"mobile client via lb": {
			remote:  "10.1.2.3:80",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5"},
			want:    "203.0.113.5",
		},
		"client prepends fake hop": {
			remote:  "10.1.2.3:80",
			headers: map[string]string{"X-Forwarded-For": "1.1.1.1, 203.0.113.5, 192.168.1.10"},
			want:    "203.0.113.5",
		},
		"ipv6 proxy chain": {
			remote:  "[fd00::2]:80",
			headers: map[string]string{"X-Forwarded-For": "2001:db8::7, fd00::9"},
			want:    "2001:db8::7",
		},
		"garbage xff uses x-real-ip": {
			remote:  "10.1.2.3:80",
			headers: map[string]string{"X-Forwarded-For": "unknown", "X-Real-IP": "203.0.113.9"},
			want:    "203.0.113.9",
		},
		"only internal hops": {
			remote:  "10.1.2.3:80",
			headers: map[string]string{"X-Forwarded-For": "10.9.9.9"},
			want:    "10.9.9.9",
		},
		"untrusted remote ignores headers": {
			remote:  "198.51.100.1:80",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.5"},
			want:    "198.51.100.1",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := lb.ClientIP(requestFrom(tc.remote, tc.headers)); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	empty, err := NewTrustedProxies([]string{"", "  "})
	if err != nil || empty != nil {
		t.Fatalf("blank entries should yield nil, got %v %v", empty, err)
	}
	if _, err := NewTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatal("expected error for bad cidr")
	}
	if _, err := NewTrustedProxies([]string{"proxy.internal"}); err == nil {
		t.Fatal("expected error for hostname")
	}
	single, err := NewTrustedProxies([]string{"192.168.1.10"})
	if err != nil {
		t.Fatalf("single ip: %v", err)
	}
	if !single.Contains(net.ParseIP("192.168.1.10")) || single.Contains(net.ParseIP("192.168.1.11")) {
		t.Fatal("single ip entry should match exactly one address")
	}
}
