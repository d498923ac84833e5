package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		inbound  string
		wantSame bool
	}{
		{"generated when absent", "", false},
		{"inbound is reused", "req-123", true},
		{"oversized inbound is replaced", strings.Repeat("x", maxRequestIDLength+1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/users", nil)
			if tt.inbound != "" {
				req.Header.Set(RequestIDHeader, tt.inbound)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Header().Get(RequestIDHeader) != seen {
				t.Errorf("header %q does not match context %q", rec.Header().Get(RequestIDHeader), seen)
			}
			if tt.wantSame {
				if seen != tt.inbound {
					t.Errorf("request id = %q, want %q", seen, tt.inbound)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Errorf("expected generated UUID, got %q", seen)
			}
		})
	}
}
