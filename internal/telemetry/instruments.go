package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "qr-attendance/backend"

// Instruments bundles the tracer and counters the services record into.
type Instruments struct {
	Tracer      trace.Tracer
	issued      metric.Int64Counter
	redemptions metric.Int64Counter
	overrides   metric.Int64Counter
	swept       metric.Int64Counter
}

// NewInstruments creates the instruments on the given providers.
func NewInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(instrumentationName)
	issued, err := meter.Int64Counter("attendance.tokens.issued",
		metric.WithDescription("Tokens minted by the issuance service"))
	if err != nil {
		return nil, err
	}
	redemptions, err := meter.Int64Counter("attendance.redemptions",
		metric.WithDescription("Redemption attempts by outcome and reason"))
	if err != nil {
		return nil, err
	}
	overrides, err := meter.Int64Counter("attendance.overrides",
		metric.WithDescription("Administrative overrides by action and result"))
	if err != nil {
		return nil, err
	}
	swept, err := meter.Int64Counter("attendance.sessions.swept",
		metric.WithDescription("Sessions closed by the expiry sweep"))
	if err != nil {
		return nil, err
	}
	return &Instruments{
		Tracer:      tp.Tracer(instrumentationName),
		issued:      issued,
		redemptions: redemptions,
		overrides:   overrides,
		swept:       swept,
	}, nil
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	in, err := NewInstruments(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	if err != nil {
		panic("telemetry: noop instruments: " + err.Error())
	}
	return in
}

func (in *Instruments) TokenIssued(ctx context.Context) {
	in.issued.Add(ctx, 1)
}

func (in *Instruments) Redemption(ctx context.Context, outcome, reason string) {
	in.redemptions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("reason", reason)))
}

func (in *Instruments) Override(ctx context.Context, action string, ok bool) {
	in.overrides.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.Bool("ok", ok)))
}

func (in *Instruments) SessionsSwept(ctx context.Context, n int) {
	if n > 0 {
		in.swept.Add(ctx, int64(n))
	}
}
