package middleware

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

type httpObserver interface {
	Observe(method, route, status string, elapsed time.Duration)
}

func Metrics(observer httpObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if observer == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			observer.Observe(r.Method, routePattern(r), strconv.Itoa(defaultStatus(ww.Status())), time.Since(start))
		})
	}
}
