package observe

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.opentelemetry.io/otel/trace"
)

// opsWriter wraps [http.ResponseWriter] so the middleware can report which
// status an operational endpoint answered with. Only the first explicit
// WriteHeader counts; an implicit 200 from a bare Write is recorded too.
type opsWriter struct {
	http.ResponseWriter
	status int
	wrote  bool
}

func (w *opsWriter) WriteHeader(code int) {
	if !w.wrote {
		w.status = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *opsWriter) Write(p []byte) (int, error) {
	if !w.wrote {
		w.status = http.StatusOK
		w.wrote = true
	}
	return w.ResponseWriter.Write(p)
}

// Middleware instruments the relay's operational endpoints (stats, health,
// readiness and the Prometheus scrape). Each request runs inside an OTel
// server span whose trace ID doubles as the X-Correlation-ID response header,
// the elapsed time lands in [Metrics.HTTPRequestDuration], and completion is
// logged through the trace-aware [Logger].
//
// Incoming W3C traceparent headers are honoured, so a supervisor polling the
// relay can stitch the relay's spans into its own traces.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			ow := &opsWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ow, r.WithContext(ctx))

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", r.URL.Path),
				),
			)

			span.SetAttributes(semconv.HTTPResponseStatusCode(ow.status))
			if ow.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(ow.status))
			}

			log := Logger(ctx).With(
				"method", r.Method,
				"path", r.URL.Path,
				"status", ow.status,
				"duration", elapsed,
			)
			if ow.status >= http.StatusBadRequest {
				log.Warn("ops request failed")
			} else {
				log.Debug("ops request served")
			}
		})
	}
}
