package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sogeor/flow/api"

type requestMetrics struct {
	logger  *log.Logger
	span    trace.Span
	route   string
	method  string
	start   time.Time
	account string
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, tracer trace.Tracer, route, method string) (*requestMetrics, context.Context) {
	ctx, span := tracer.Start(ctx, method+" "+route, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(
		attribute.String("http.request.method", method),
		attribute.String("http.route", route),
	))
	return &requestMetrics{
		logger: logger,
		span:   span,
		route:  route,
		method: method,
		start:  time.Now(),
	}, ctx
}

func (m *requestMetrics) SetAccount(id string) {
	m.account = id
}

func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	m.span.SetAttributes(attribute.Int("http.response.status_code", status))
	if status >= http.StatusInternalServerError {
		if err != nil {
			m.span.RecordError(err)
		}
		m.span.SetStatus(codes.Error, http.StatusText(status))
	}
	m.span.End()

	if m.logger == nil {
		return
	}
	fields := log.Fields{
		"route":    m.route,
		"method":   m.method,
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	if m.account != "" {
		fields["account"] = m.account
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	m.logger.WithFields(fields).Info("http.request.metrics")
}

// RequestMetrics opens a server span per request and logs one
// http.request.metrics line when it completes.
func RequestMetrics(logger *log.Logger, tp trace.TracerProvider) echo.MiddlewareFunc {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(tracerName)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if route == "" {
				route = c.Request().URL.Path
			}
			metrics, ctx := newRequestMetrics(c.Request().Context(), logger, tracer, route, c.Request().Method)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status, _ = statusFor(err)
			}
			metrics.SetAccount(principalFrom(c).AccountID)
			metrics.Log(status, err)
			return err
		}
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
