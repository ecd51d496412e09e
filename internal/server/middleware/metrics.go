package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/observability"
)

// Metrics records request counts and latency per route pattern.
func Metrics(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := wrap(w)
			next.ServeHTTP(rw, r)
			m.ObserveHTTP(routeOf(r), strconv.Itoa(rw.status), time.Since(start))
		})
	}
}
