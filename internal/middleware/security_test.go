package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurity(t *testing.T) {
	tests := []struct {
		name        string
		isDev       bool
		checkHeader string
		wantValue   string
	}{
		{"X-Content-Type-Options", false, "X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options", false, "X-Frame-Options", "DENY"},
		{"Referrer-Policy", false, "Referrer-Policy", "no-referrer"},
		{"CSP", false, "Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
		{"Cache-Control", false, "Cache-Control", "no-store"},
		{"Cross-Origin-Resource-Policy", false, "Cross-Origin-Resource-Policy", "same-origin"},
		{"HSTS in production", false, "Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
		{"no HSTS in development", true, "Strict-Transport-Security", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Security(SecurityConfig{IsDevelopment: tt.isDev})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users", nil))

			if got := rec.Header().Get(tt.checkHeader); got != tt.wantValue {
				t.Errorf("header %s = %q, want %q", tt.checkHeader, got, tt.wantValue)
			}
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	tests := []struct {
		name          string
		maxBytes      int64
		contentLength int64
		body          string
		wantStatus    int
	}{
		{
			name:          "small body allowed",
			maxBytes:      1024,
			contentLength: 10,
			body:          "small body",
			wantStatus:    http.StatusOK,
		},
		{
			name:          "declared length exceeds limit",
			maxBytes:      10,
			contentLength: 100,
			body:          "this is a much longer body that exceeds the limit",
			wantStatus:    http.StatusRequestEntityTooLarge,
		},
		{
			name:          "unknown length is capped while reading",
			maxBytes:      10,
			contentLength: -1,
			body:          "this is a much longer body that exceeds the limit",
			wantStatus:    http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := MaxBodySize(tt.maxBytes)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, err := io.Copy(io.Discard, r.Body); err != nil {
					var maxErr *http.MaxBytesError
					if errors.As(err, &maxErr) {
						w.WriteHeader(http.StatusRequestEntityTooLarge)
						return
					}
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/users", strings.NewReader(tt.body))
			req.ContentLength = tt.contentLength
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
