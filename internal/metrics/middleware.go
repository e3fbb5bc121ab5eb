package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Path segments followed by an identifier in the management API
var idParents = map[string]string{
	"campaigns":  "{id}",
	"queue":      "{item}",
	"posts":      "{id}",
	"ratelimits": "{level}",
}

// HTTPMiddleware records request count, latency and error class of every
// API request in the global metrics
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := Global()
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		path := routeOf(r)

		m.APIRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		m.APIRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())

		if class := errorClass(status); class != "" {
			IncAPIErrors(class)
		}
	})
}

// routeOf returns the chi route pattern, or the path with identifiers
// replaced when the request did not match a route
func routeOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return normalizePath(r.URL.Path)
}

func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		if placeholder, ok := idParents[parts[i-1]]; ok {
			parts[i] = placeholder
		}
	}
	return strings.Join(parts, "/")
}

// errorClass maps an HTTP status to the error label of APIErrorsTotal;
// successful responses map to ""
func errorClass(status int) string {
	switch {
	case status < 400:
		return ""
	case status == http.StatusUnauthorized:
		return "unauthorized"
	case status == http.StatusForbidden:
		return "forbidden"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusConflict:
		return "conflict"
	case status == http.StatusUnprocessableEntity:
		return "invalid"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusServiceUnavailable:
		return "unavailable"
	case status >= 500:
		return "internal"
	default:
		return "bad_request"
	}
}
