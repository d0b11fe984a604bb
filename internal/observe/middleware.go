package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// responseStatus remembers the status a handler wrote.
type responseStatus struct {
	http.ResponseWriter
	code int
}

func (w *responseStatus) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the inner writer to http.ResponseController, which the
// websocket upgrade needs.
func (w *responseStatus) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// routeOf prefers the pattern the mux matched so that /api/meetings/{id}
// is one series, not one per meeting.
func routeOf(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.URL.Path
}

// Middleware traces, times and logs every request of the control API.
// Incoming traceparent headers are continued and the trace ID is echoed
// as X-Correlation-ID. m may be nil.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx, span := StartSpan(
				prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header)),
				r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method), semconv.URLPath(r.URL.Path)),
			)
			defer span.End()

			traceID := CorrelationID(ctx)
			if traceID != "" {
				w.Header().Set("X-Correlation-ID", traceID)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			r = r.WithContext(ctx)
			rw := &responseStatus{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(rw, r)

			route := routeOf(r)
			if r.Pattern != "" {
				span.SetName(r.Pattern)
			}
			span.SetAttributes(semconv.HTTPResponseStatusCode(rw.code))
			if rw.code >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.code))
			}

			elapsed := time.Since(start)
			if m != nil {
				m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", route),
					attribute.Int("status", rw.code),
				))
			}
			slog.LogAttrs(ctx, slog.LevelDebug, "http: request completed",
				slog.String("trace_id", traceID),
				slog.String("route", route),
				slog.Int("status", rw.code),
				slog.Duration("elapsed", elapsed),
			)
		})
	}
}
