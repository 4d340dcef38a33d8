package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	eventDomain      = "focusflow.api"
	observabilityMsg = "observability.event"
	tracerName       = "focusflow-api/api"
	attrPrefix       = "focusflow.request."
)

// requestMetrics collects per-request timings and emits one observability
// event to the log and the request span when the request finishes.
type requestMetrics struct {
	logger     *log.Logger
	span       trace.Span
	eventName  string
	route      string
	method     string
	start      time.Time
	decode     time.Duration
	store      time.Duration
	encode     time.Duration
	items      int
	itemsSet   bool
	errorStage string
	cause      error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, eventName, method, route string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, eventName, trace.WithSpanKind(trace.SpanKindServer))
	return &requestMetrics{
		logger:    logger,
		span:      span,
		eventName: eventName,
		route:     route,
		method:    method,
		start:     time.Now(),
	}, ctx
}

func (m *requestMetrics) ObserveDecode(d time.Duration) {
	if d > 0 {
		m.decode = d
	}
}

func (m *requestMetrics) ObserveStore(d time.Duration) {
	if d > 0 {
		m.store = d
	}
}

func (m *requestMetrics) ObserveEncode(d time.Duration) {
	if d > 0 {
		m.encode = d
	}
}

// SetItems records how many projects, tasks or identities the request
// carried or returned.
func (m *requestMetrics) SetItems(n int) {
	if n < 0 {
		n = 0
	}
	m.items = n
	m.itemsSet = true
}

func (m *requestMetrics) SetErrorStage(stage string) {
	if stage == "" {
		return
	}
	m.errorStage = stage
}

// SetCause keeps the error behind a failed response for the event.
func (m *requestMetrics) SetCause(err error) {
	if err != nil {
		m.cause = err
	}
}

func (m *requestMetrics) attributes(status int, err error) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.String("http.method", m.method),
		attribute.Int("http.status_code", status),
		attribute.Float64(attrPrefix+"total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.decode > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"decode_ms", durationToMillis(m.decode)))
	}
	if m.store > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"store_ms", durationToMillis(m.store)))
	}
	if m.encode > 0 {
		attrs = append(attrs, attribute.Float64(attrPrefix+"encode_ms", durationToMillis(m.encode)))
	}
	if m.itemsSet {
		attrs = append(attrs, attribute.Int(attrPrefix+"items", m.items))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}
	return attrs
}

// Log emits the observability event and ends the span.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	attrs := m.attributes(status, err)
	severityText, severityNumber := severityForStatus(status, err)

	if m.span != nil {
		m.span.SetAttributes(attrs...)
		eventAttrs := append([]attribute.KeyValue{
			attribute.String("event.name", m.eventName),
			attribute.String("event.domain", eventDomain),
			attribute.String("severity_text", severityText),
			attribute.Int("severity_number", severityNumber),
		}, attrs...)
		m.span.AddEvent(observabilityMsg, trace.WithAttributes(eventAttrs...))
		switch {
		case status >= http.StatusInternalServerError:
			desc := http.StatusText(status)
			if err != nil {
				desc = err.Error()
			}
			m.span.SetStatus(codes.Error, desc)
		case err != nil && status < http.StatusBadRequest:
			m.span.SetStatus(codes.Error, err.Error())
		default:
			m.span.SetStatus(codes.Ok, "")
		}
		defer m.span.End()
	}

	if m.logger == nil {
		return
	}
	attrMap := make(map[string]any, len(attrs))
	for _, kv := range attrs {
		attrMap[string(kv.Key)] = kv.Value.AsInterface()
	}
	fields := log.Fields{
		"event.name":      m.eventName,
		"event.domain":    eventDomain,
		"severity_text":   severityText,
		"severity_number": severityNumber,
		"attributes":      attrMap,
	}
	if m.span != nil {
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
	}
	entry := m.logger.WithFields(fields)
	switch severityText {
	case "ERROR":
		entry.Error(observabilityMsg)
	case "WARN":
		entry.Warn(observabilityMsg)
	default:
		entry.Info(observabilityMsg)
	}
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	case err != nil:
		return "ERROR", 17
	default:
		return "INFO", 9
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
