package api

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/pavan9802/prediction-market/internal/ratelimit"
)

// rateLimitBody is the JSON payload returned with a 429.
type rateLimitBody struct {
	Error      string `json:"error"`
	Identifier string `json:"identifier"`
	RetryAfter int    `json:"retryAfter"`
}

// identifierFor derives the rate-limit key: the authenticated principal when
// present, otherwise the client address. Behind a proxy the first element of
// X-Forwarded-For is the client.
func identifierFor(r *http.Request) string {
	if userID := r.Header.Get("X-User-ID"); userID != "" {
		return "user:" + userID
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if first != "" {
			return "ip:" + first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// RateLimit admits requests through the token-bucket limiter. Exempt path
// prefixes bypass acquisition entirely.
func RateLimit(limiter *ratelimit.Limiter, exemptPrefixes []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range exemptPrefixes {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		key := identifierFor(r)
		ok, retryAfter := limiter.TryAcquire(key)
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Identifier", key)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(rateLimitBody{
				Error:      "Rate limit exceeded",
				Identifier: key,
				RetryAfter: retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
