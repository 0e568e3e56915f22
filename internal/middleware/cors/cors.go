// Package cors adds permissive cross-origin headers and answers preflight
// requests for every path.
package cors

import "net/http"

const (
	AllowOrigin  = "*"
	AllowMethods = "GET, POST, PUT, DELETE, OPTIONS"
	AllowHeaders = "Content-Type"
)

// SetHeaders writes the CORS headers onto h.
func SetHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", AllowOrigin)
	h.Set("Access-Control-Allow-Methods", AllowMethods)
	h.Set("Access-Control-Allow-Headers", AllowHeaders)
}

// Middleware sets CORS headers on every response. OPTIONS requests are
// answered here with 200 and an empty JSON object and never reach next.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetHeaders(w.Header())

		if r.Method == http.MethodOptions {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("{}"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
