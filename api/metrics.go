package api

import (
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/elma1989/join/telemetry"
)

const ctxMetrics = "join.metrics"

// requestMetrics collects timings for one request and logs them as a single
// structured line when the request ends.
type requestMetrics struct {
	logger        *log.Logger
	start         time.Time
	authDuration  time.Duration
	fetchDuration time.Duration
	itemsReturned int
	errorStage    string
	span          trace.Span
}

func newRequestMetrics(logger *log.Logger, span trace.Span) *requestMetrics {
	return &requestMetrics{logger: logger, start: time.Now(), span: span, itemsReturned: -1}
}

func (m *requestMetrics) ObserveAuth(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.authDuration = d
}

func (m *requestMetrics) ObserveFetch(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.fetchDuration = d
}

func (m *requestMetrics) SetItemsReturned(n int) {
	if m == nil {
		return
	}
	if n < 0 {
		n = 0
	}
	m.itemsReturned = n
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if m == nil || stage == "" {
		return
	}
	m.errorStage = stage
	if m.span != nil {
		m.span.AddEvent("error", trace.WithAttributes(attribute.String("stage", stage)))
	}
}

func (m *requestMetrics) Log(route, method string, status int, err error) {
	if m == nil || m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":    route,
		"method":   method,
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.fetchDuration > 0 {
		fields["fetch_ms"] = durationToMillis(m.fetchDuration)
	}
	if m.itemsReturned >= 0 {
		fields["items_returned"] = m.itemsReturned
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// RequestMetrics opens a span per request and logs its metrics line.
func RequestMetrics(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			ctx, span := telemetry.Tracer().Start(req.Context(), req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", route),
				))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			m := newRequestMetrics(logger, span)
			c.Set(ctxMetrics, m)
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			span.SetAttributes(attribute.Int("http.status_code", status))
			if m.errorStage != "" {
				span.SetAttributes(attribute.String("error.stage", m.errorStage))
			}
			if status >= 500 {
				span.SetStatus(codes.Error, m.errorStage)
			}
			m.Log(route, req.Method, status, err)
			return nil
		}
	}
}

// metricsFrom returns the request's metrics, or nil outside RequestMetrics.
// All methods accept a nil receiver.
func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(ctxMetrics).(*requestMetrics)
	return m
}
