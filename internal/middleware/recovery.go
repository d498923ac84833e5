package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

const internalErrorBody = `{"error":"An internal error occurred","code":"INTERNAL_ERROR"}`

// Recoverer turns a handler panic into a logged 500 with the standard
// internal error body.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rvr := recover()
				if rvr == nil {
					return
				}
				if rvr == http.ErrAbortHandler {
					panic(rvr)
				}

				logger.ErrorContext(r.Context(), "panic recovered",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.Any("panic", rvr),
					slog.String("stack", string(debug.Stack())),
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(internalErrorBody))
			}()

			next.ServeHTTP(w, r)
		})
	}
}
