package server

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// TurnRateMiddleware limits turns per caller (keyed by remote address after
// RealIP) to protect the upstream STT and model quotas. perMinute <= 0
// disables the limiter.
func TurnRateMiddleware(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limiterFor := func(caller string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		l, ok := limiters[caller]
		if !ok {
			l = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
			limiters[caller] = l
		}
		return l
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiterFor(r.RemoteAddr).Allow() {
				writeError(w, http.StatusTooManyRequests, "rate_limited", "too many turns, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
