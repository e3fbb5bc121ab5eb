package ipfilter

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		want    int
	}{
		{"empty", nil, 0},
		{"single IPv4", []string{"192.168.1.1"}, 1},
		{"CIDR", []string{"10.0.0.0/8", "192.168.0.0/16"}, 2},
		{"IPv6", []string{"::1", "fe80::/10"}, 2},
		{"with invalid", []string{"192.168.1.1", "invalid", " ", "10.0.0.0/33"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(tt.allowed, false, testLogger())
			if f.Count() != tt.want {
				t.Errorf("Count() = %d, want %d", f.Count(), tt.want)
			}
			if f.Enabled() != (tt.want > 0) {
				t.Errorf("Enabled() = %v", f.Enabled())
			}
		})
	}
}

func TestFilter_IsAllowed(t *testing.T) {
	f := New([]string{"10.0.0.0/8", "192.168.1.1", "2001:db8::/32"}, false, testLogger())

	tests := []struct {
		ip   string
		want bool
	}{
		{"10.1.2.3", true},
		{"192.168.1.1", true},
		{"192.168.1.2", false},
		{"::ffff:10.0.0.1", true},
		{"2001:db8::1", true},
		{"2001:db9::1", false},
		{"not-an-ip", false},
	}

	for _, tt := range tests {
		if got := f.IsAllowedString(tt.ip); got != tt.want {
			t.Errorf("IsAllowedString(%q) = %v, want %v", tt.ip, got, tt.want)
		}
	}

	open := New(nil, false, testLogger())
	if !open.IsAllowed(netip.MustParseAddr("8.8.8.8")) {
		t.Error("empty filter should allow everyone")
	}
}

func TestClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		remote     string
		headers    map[string]string
		want       string
	}{
		{"remote addr", false, "192.168.1.1:1234", nil, "192.168.1.1"},
		{"remote without port", false, "192.168.1.1", nil, "192.168.1.1"},
		{"ignores XFF without trust", false, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "10.0.0.1"},
		{"XFF first entry", true, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.1"}, "1.2.3.4"},
		{"X-Real-IP", true, "10.0.0.1:1", map[string]string{"X-Real-IP": "5.6.7.8"}, "5.6.7.8"},
		{"bad XFF falls back", true, "10.0.0.1:1", map[string]string{"X-Forwarded-For": "garbage"}, "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := New(nil, tt.trustProxy, testLogger())
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			addr, ok := f.ClientAddr(r)
			if !ok || addr.String() != tt.want {
				t.Errorf("ClientAddr() = %v, %v, want %s", addr, ok, tt.want)
			}
		})
	}
}

func TestFilter_HTTPMiddleware(t *testing.T) {
	f := New([]string{"127.0.0.1"}, false, testLogger())
	handler := f.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		remote string
		want   int
	}{
		{"127.0.0.1:5555", http.StatusOK},
		{"10.0.0.5:5555", http.StatusForbidden},
		{"garbage", http.StatusForbidden},
	}

	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		r.RemoteAddr = tt.remote
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		if rec.Code != tt.want {
			t.Errorf("remote %s: status = %d, want %d", tt.remote, rec.Code, tt.want)
		}
	}
}
