package util

import (
	"encoding/json"
	"fmt"
	"net/http"

	sentryhttp "github.com/getsentry/sentry-go/http"
)

// WithRecover turns handler panics into a 500 JSON response. The sentry
// handler reports the panic (a no-op without a client) and re-panics into the
// deferred recover here.
func WithRecover(next http.Handler) http.Handler {
	reporter := sentryhttp.New(sentryhttp.Options{Repanic: true})
	inner := reporter.Handle(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			LoggerFromContext(r.Context()).Error("panic recovered",
				"path", r.URL.Path,
				"panic", fmt.Sprint(rec),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
		}()
		inner.ServeHTTP(w, r)
	})
}
