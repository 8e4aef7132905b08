package dispatch

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"hybrid-echo-go/internal/backend"
	"hybrid-echo-go/internal/config"
	"hybrid-echo-go/internal/metrics"
	"hybrid-echo-go/internal/model"
)

const tracerName = "hybrid-echo-go/internal/dispatch"

// Dispatcher is the single http.Handler behind the shared port. Each request
// is classified once and handed to exactly one backend.
type Dispatcher struct {
	table      *backend.Table
	classifier Classifier
	metrics    *metrics.Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewDispatcher builds a dispatcher over table using the match mode from cfg.
func NewDispatcher(table *backend.Table, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*Dispatcher, error) {
	if table == nil {
		return nil, fmt.Errorf("dispatch: nil backend table")
	}
	mode, err := ParseMatchMode(cfg.Dispatch.Match)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		table:      table,
		classifier: NewClassifier(table, mode),
		metrics:    m,
		logger:     logger.With("component", "dispatch"),
		tracer:     otel.Tracer(tracerName),
		propagator: otel.GetTextMapPropagator(),
	}, nil
}

// Classifier returns the classifier in use.
func (d *Dispatcher) Classifier() Classifier { return d.classifier }

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	reqID := r.Header.Get(headerRequestID)
	if reqID == "" {
		reqID = uuid.NewString()
		r.Header.Set(headerRequestID, reqID)
	}
	w.Header().Set(headerRequestID, reqID)

	desc := d.table.At(d.classifier.Classify(r.Header))
	kind := desc.Backend.Kind()
	label := kind.String()

	ctx := d.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := d.tracer.Start(ctx, "dispatch "+label,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("dispatch.backend", label),
			attribute.Int("dispatch.index", desc.Index),
			attribute.String("http.request.method", r.Method),
			attribute.String("url.path", r.URL.Path),
			attribute.String("request.id", reqID),
		),
	)
	defer span.End()

	inFlight := d.metrics.InFlight.WithLabelValues(label)
	inFlight.Inc()
	defer inFlight.Dec()

	rec := newRecorder(w)
	env := d.serve(rec, r.WithContext(ctx), desc.Backend, start)

	elapsed := time.Since(start)
	outcome := env.Outcome()
	d.record(label, outcome, elapsed)

	span.SetAttributes(attribute.Int("http.response.status_code", env.Status))
	attrs := []any{
		"backend", label,
		"status", env.Status,
		"outcome", outcome.String(),
		"bytes", env.Bytes,
		"duration_ms", elapsed.Milliseconds(),
		"request_id", reqID,
	}
	if env.RPC != nil {
		span.SetAttributes(attribute.String("rpc.grpc.status_code", env.RPC.Code.String()))
		attrs = append(attrs, "grpc_code", env.RPC.Code.String())
	}

	if outcome == model.OutcomeServerError {
		span.SetStatus(otelcodes.Error, http.StatusText(env.Status))
		d.logger.Warn("backend returned server error", attrs...)
		return
	}
	d.logger.Debug("request dispatched", attrs...)
}

func (d *Dispatcher) record(label string, outcome model.Outcome, elapsed time.Duration) {
	d.metrics.DispatchTotal.WithLabelValues(label, outcome.String()).Inc()
	d.metrics.DispatchDuration.WithLabelValues(label).Observe(elapsed.Seconds())
}

// serve runs the backend and normalizes its response. A panic before any
// byte reached the client is answered with a protocol-appropriate failure;
// after that the only option left is to abort the connection, which is
// still counted as a server error.
func (d *Dispatcher) serve(rec *recorder, r *http.Request, b backend.Backend, start time.Time) (env model.Envelope) {
	defer func() {
		if p := recover(); p != nil {
			if p == http.ErrAbortHandler {
				d.record(b.Kind().String(), model.OutcomeServerError, time.Since(start))
				panic(p)
			}
			d.logger.Error("backend panic",
				"backend", b.Kind().String(),
				"panic", fmt.Sprint(p),
				"stack", string(debug.Stack()),
				"request_id", r.Header.Get(headerRequestID),
			)
			if rec.wroteHeader {
				d.record(b.Kind().String(), model.OutcomeServerError, time.Since(start))
				panic(http.ErrAbortHandler)
			}
			writeFailure(rec, b.Kind())
		}
		env = normalize(rec, b.Kind())
	}()

	switch b.Kind() {
	case model.KindHTTP:
		b.HTTP().ServeHTTP(rec, r)
	case model.KindRPC:
		b.RPC().ServeHTTP(rec, r)
	}
	return env
}
