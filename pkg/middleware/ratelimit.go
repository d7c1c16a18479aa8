package middleware

import (
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// NewLimiter returns a token bucket allowing perMinute requests per minute
// with the given burst. A non-positive perMinute disables limiting.
func NewLimiter(perMinute, burst int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst)
}

// RateLimit answers 429 with a Retry-After header once limiter is exhausted.
// onReject, when non-nil, is called for every rejected request.
func RateLimit(limiter *rate.Limiter, onReject func(r *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Reserve()
			if !res.OK() || res.Delay() > 0 {
				retryAfter := res.Delay()
				res.Cancel()
				if onReject != nil {
					onReject(r)
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"status":"rejected","message":"too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
