package observability

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"chargegrid.ai/internal/sim/world"
	chargeruntime "chargegrid.ai/internal/sim/world/feature/charge/runtime"
)

type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // otlp only
	SampleRatio float64
}

// TracingConfigFromEnv reads CG_TRACING_* variables. Tracing is off unless
// CG_TRACING_ENABLED=true.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("CG_TRACING_ENABLED"), "true"),
		ServiceName: os.Getenv("CG_TRACING_SERVICE_NAME"),
		Exporter:    strings.ToLower(os.Getenv("CG_TRACING_EXPORTER")),
		Endpoint:    os.Getenv("CG_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "chargegrid-server"
	}
	if cfg.Exporter == "" {
		cfg.Exporter = "stdout"
	}
	if raw := os.Getenv("CG_TRACING_SAMPLE_RATIO"); raw != "" {
		if r, err := strconv.ParseFloat(raw, 64); err == nil && r >= 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	return cfg
}

// InitTracing installs the global tracer provider and returns its shutdown
// func. When tracing is disabled a no-op provider is installed.
func InitTracing(ctx context.Context, cfg TracingConfig, logger *log.Logger) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "chargegrid"),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	if logger != nil {
		logger.Printf("tracing enabled exporter=%s service=%s ratio=%.2f", cfg.Exporter, cfg.ServiceName, cfg.SampleRatio)
	}
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout", "":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stdout), stdouttrace.WithoutTimestamps())
	case "otlp", "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// StepTracer turns every world step into a "world.step" span carrying one
// event per cascade run during the step. Both hooks run on the world
// goroutine.
type StepTracer struct {
	tracer  trace.Tracer
	now     func() time.Time
	pending []cascadeRecord
}

type cascadeRecord struct {
	stats chargeruntime.CascadeStats
	err   error
}

var _ world.Observer = (*StepTracer)(nil)

func NewStepTracer(tracer trace.Tracer) *StepTracer {
	if tracer == nil {
		tracer = otel.Tracer("chargegrid.ai/world")
	}
	return &StepTracer{tracer: tracer, now: time.Now}
}

func (t *StepTracer) ObserveCascade(stats chargeruntime.CascadeStats, err error) {
	t.pending = append(t.pending, cascadeRecord{stats: stats, err: err})
}

func (t *StepTracer) ObserveStep(m world.WorldMetrics) {
	end := t.now()
	start := end.Add(-time.Duration(m.StepMS * float64(time.Millisecond)))
	// Tick is already advanced when the step is published.
	_, span := t.tracer.Start(context.Background(), "world.step",
		trace.WithTimestamp(start),
		trace.WithAttributes(
			attribute.Int64("world.tick", int64(m.Tick)-1),
			attribute.Int("world.wires", m.Wires),
			attribute.Int("world.emitters", m.Emitters),
			attribute.Int("world.clients", m.Clients),
			attribute.Int("world.cascades", len(t.pending)),
		))
	for _, c := range t.pending {
		attrs := []attribute.KeyValue{
			attribute.String("cascade.trigger", c.stats.Trigger),
			attribute.Int("cascade.evaluations", c.stats.Evaluations),
			attribute.Int("cascade.writes", c.stats.Writes),
			attribute.Int("cascade.waves", c.stats.Waves),
		}
		if c.err != nil {
			span.RecordError(c.err, trace.WithAttributes(attrs...))
			span.SetStatus(codes.Error, "cascade diverged")
			continue
		}
		span.AddEvent("cascade", trace.WithAttributes(attrs...))
	}
	span.End(trace.WithTimestamp(end))
	t.pending = t.pending[:0]
}

// Observers fans world hooks out to several observers in order.
type Observers []world.Observer

func (o Observers) ObserveCascade(stats chargeruntime.CascadeStats, err error) {
	for _, ob := range o {
		ob.ObserveCascade(stats, err)
	}
}

func (o Observers) ObserveStep(m world.WorldMetrics) {
	for _, ob := range o {
		ob.ObserveStep(m)
	}
}
