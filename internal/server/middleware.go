package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"stillpoint/internal/metrics"
)

// requestInfo is filled in by the auth middleware so the observer can log
// who made the request.
type requestInfo struct {
	actorID string
}

type requestInfoKey struct{}

func noteActor(ctx context.Context, actorID string) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.actorID = actorID
	}
}

// observe logs each request and records it in the HTTP metrics, labelled by
// route pattern to keep cardinality bounded.
func observe(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			info := &requestInfo{}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
			metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())

			evt := log.Info()
			if status >= http.StatusInternalServerError {
				evt = log.Error()
			}
			evt.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", elapsed).
				Str("actor_id", info.actorID).
				Msg("request")
		})
	}
}
