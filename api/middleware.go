package api

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/oasisprotocol/vaulthub/common"
	"github.com/oasisprotocol/vaulthub/log"
	"github.com/oasisprotocol/vaulthub/metrics"
)

var (
	defaultLimit = uint64(100)
	maxLimit     = uint64(1000)
)

// normalizeEndpoint removes all unique identifiers from the URL in order to
// make it possible to group the Prometheus metrics nicely.
func normalizeEndpoint(url string) string {
	var nels []string

	els := strings.Split(url, "/")
	for _, e := range els {
		// Unique ids are addresses, hashes or integers, so we can just cut
		// everything that looks like hex or an int.
		isHex := strings.HasPrefix(e, "0x") && len(e) > 2
		isInt := len(e) > 0 && strings.IndexFunc(e, func(c rune) bool { return c < '0' || c > '9' }) == -1
		if isHex || isInt || len(e) >= 32 {
			nels = append(nels, "*")
		} else {
			nels = append(nels, e)
		}
	}

	return strings.Join(nels, "/")
}

// MetricsMiddleware is a middleware that measures the start and end of each request,
// as well as other useful request information.
// It should be used as the outermost middleware, so it can
// - set a requestID and make it available to all handlers and
// - observe the final HTTP status code at the end of the request.
func MetricsMiddleware(m metrics.RequestMetrics, logger *log.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.New()
			logger.Debug("starting request",
				"endpoint", r.URL.Path,
				"request_id", requestID,
			)
			t := time.Now()
			metricName := r.Method + " " + normalizeEndpoint(r.URL.Path)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Header().Set(RequestIDHeader, requestID.String())
			next.ServeHTTP(ww, r.WithContext(
				context.WithValue(r.Context(), common.RequestIDContextKey, requestID),
			))

			httpStatus := ww.Status()
			if httpStatus == 0 {
				httpStatus = http.StatusOK
			}
			latency := time.Since(t)
			logger.Info("ending request",
				"method", r.Method,
				"query_path", r.URL.Path,
				"query_params", r.URL.RawQuery,
				"request_id", requestID,
				"latency", latency,
				"latency_bin", binQueryLatency(latency),
				"status_code", httpStatus,
			)

			statusTxt, cause := "success", ""
			switch {
			case httpStatus >= 500:
				statusTxt = "failure"
			case httpStatus == http.StatusNotFound:
				// Unknown paths are mostly scanners; keep them out of the
				// endpoint labels.
				statusTxt, metricName = "failure_4xx", "ignored"
			case httpStatus >= 400:
				statusTxt, cause = "failure_4xx", http.StatusText(httpStatus)
			}
			// Ensure metric names are valid UTF-8 strings to prevent Prometheus panics.
			if !utf8.ValidString(metricName) {
				logger.Debug("invalid metric name", "metric_name", metricName)
				metricName = "ignored"
				statusTxt = "non_utf8_path"
			}
			m.Served(metricName, statusTxt, cause, latency)
		})
	}
}

// Bin request durations to make it easier to search
// for slow requests in the logs.
func binQueryLatency(t time.Duration) string {
	switch {
	case t < 100*time.Millisecond:
		return "<100ms"
	case t < 300*time.Millisecond:
		return "100-300ms"
	case t < 500*time.Millisecond:
		return "300-500ms"
	case t < 1000*time.Millisecond:
		return "500-1000ms"
	default:
		return ">1000ms"
	}
}

// CorsMiddleware allows GET and POST requests from the given origins, or
// from any origin if none are given.
func CorsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
		},
		AllowedHeaders:   []string{"Content-Type", CallerHeader},
		ExposedHeaders:   []string{RequestIDHeader},
		AllowCredentials: false,
	}).Handler
}
