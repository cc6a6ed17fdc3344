package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "2001:db8::1"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		realIP     string
		trusted    *TrustedProxies
		want       string
	}{
		{
			name:       "no proxies configured ignores forwarded header",
			remoteAddr: "203.0.113.9:51234",
			forwarded:  "198.51.100.7",
			trusted:    nil,
			want:       "203.0.113.9",
		},
		{
			name:       "untrusted peer ignores forwarded header",
			remoteAddr: "203.0.113.9:51234",
			forwarded:  "198.51.100.7",
			trusted:    trusted,
			want:       "203.0.113.9",
		},
		{
			name:       "trusted peer resolves through forwarded chain",
			remoteAddr: "10.1.2.3:443",
			forwarded:  "198.51.100.7, 10.0.0.4",
			trusted:    trusted,
			want:       "198.51.100.7",
		},
		{
			name:       "fully trusted chain returns first hop",
			remoteAddr: "10.1.2.3:443",
			forwarded:  "10.9.9.9",
			trusted:    trusted,
			want:       "10.9.9.9",
		},
		{
			name:       "trusted peer falls back to real ip header",
			remoteAddr: "10.1.2.3:443",
			realIP:     "198.51.100.7",
			trusted:    trusted,
			want:       "198.51.100.7",
		},
		{
			name:       "trusted ipv6 peer without forwarding",
			remoteAddr: "[2001:db8::1]:443",
			trusted:    trusted,
			want:       "2001:db8::1",
		},
		{
			name:       "garbage forwarded entries skipped",
			remoteAddr: "10.1.2.3:443",
			forwarded:  "not-an-ip, 198.51.100.7",
			trusted:    trusted,
			want:       "198.51.100.7",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/documents", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	if tp, err := NewTrustedProxies(nil); err != nil || tp != nil {
		t.Fatalf("empty input should yield nil allowlist, got %v %v", tp, err)
	}
	if tp, err := NewTrustedProxies([]string{" ", ""}); err != nil || tp != nil {
		t.Fatalf("blank entries should yield nil allowlist, got %v %v", tp, err)
	}
	if _, err := NewTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected error for invalid entry")
	}
	if _, err := NewTrustedProxies([]string{"10.0.0.0/99"}); err == nil {
		t.Fatal("expected error for invalid CIDR")
	}
}
