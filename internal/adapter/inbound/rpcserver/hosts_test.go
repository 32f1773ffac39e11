package rpcserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAllowedHosts(t *testing.T) {
	hosts := allowedHosts([]string{"9944", "9933"})

	want := []string{"localhost:9944", "127.0.0.1:9944", "localhost:9933", "127.0.0.1:9933"}
	if len(hosts) != len(want) {
		t.Fatalf("got %v, want %v", hosts, want)
	}
	for i := range want {
		if hosts[i] != want[i] {
			t.Fatalf("got %v, want %v", hosts, want)
		}
	}
}

func TestHostFilter(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := HostFilter(allowedHosts([]string{"9944"}))(next)

	cases := []struct {
		host string
		want int
	}{
		{"localhost:9944", http.StatusOK},
		{"127.0.0.1:9944", http.StatusOK},
		{"LOCALHOST:9944", http.StatusOK},
		{"evil.example.com:9944", http.StatusForbidden},
		{"localhost:9933", http.StatusForbidden},
		{"localhost", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "http://placeholder/", nil)
		req.Host = tc.host
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Errorf("host %q: got status %d, want %d", tc.host, rec.Code, tc.want)
		}
	}
}
