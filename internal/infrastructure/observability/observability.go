// Package observability installs the OpenTelemetry providers used by the
// gateway, uploader and realtime spans.
package observability

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/edumarket/chatsync/internal/config"
	"github.com/edumarket/chatsync/internal/utils/redact"
)

const metricExportInterval = 30 * time.Second

// Shutdown flushes and releases telemetry resources.
type Shutdown func(ctx context.Context) error

// Setup registers global tracer and meter providers. Without an OTLP
// endpoint spans are recorded in process and never exported.
func Setup(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Shutdown, error) {
	res, err := sessionResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRatio))),
	}
	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if cfg.EnableTracing && cfg.OTLPEndpoint != "" {
		target, err := parseEndpoint(cfg.OTLPEndpoint)
		if err != nil {
			return nil, err
		}
		spans, err := otlptracehttp.New(ctx, target.traceOptions()...)
		if err != nil {
			return nil, err
		}
		points, err := otlpmetrichttp.New(ctx, target.metricOptions()...)
		if err != nil {
			return nil, err
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spans))
		metricOpts = append(metricOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(points, sdkmetric.WithInterval(metricExportInterval)),
		))
		log.Info().Str("endpoint", target.host).Bool("insecure", target.insecure).Msg("exporting telemetry over OTLP")
	} else {
		log.Debug().Msg("telemetry export disabled")
	}

	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	meterProvider := sdkmetric.NewMeterProvider(metricOpts...)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		return errors.Join(
			tracerProvider.ForceFlush(ctx),
			tracerProvider.Shutdown(ctx),
			meterProvider.Shutdown(ctx),
		)
	}, nil
}

// sessionResource describes the signed-in client. The user id is hashed
// so traces can be grouped per user without exporting the id itself.
func sessionResource(ctx context.Context, cfg *config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
			attribute.String("chatsync.role", cfg.UserRole),
			attribute.String("chatsync.user", redact.New(redact.LevelHashed, cfg.ServiceName).ID(cfg.UserID)),
		),
	)
}

type otlpTarget struct {
	host     string
	path     string
	insecure bool
}

// parseEndpoint accepts "host:port" or a full http(s) URL.
func parseEndpoint(raw string) (otlpTarget, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("http://" + raw)
		if err != nil {
			return otlpTarget{}, err
		}
	}
	if u.Host == "" {
		return otlpTarget{}, errors.New("otlp endpoint has no host")
	}
	return otlpTarget{host: u.Host, path: u.Path, insecure: u.Scheme != "https"}, nil
}

func (t otlpTarget) traceOptions() []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(t.host)}
	if t.path != "" && t.path != "/" {
		opts = append(opts, otlptracehttp.WithURLPath(t.path+"/v1/traces"))
	}
	if t.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	return opts
}

func (t otlpTarget) metricOptions() []otlpmetrichttp.Option {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(t.host)}
	if t.path != "" && t.path != "/" {
		opts = append(opts, otlpmetrichttp.WithURLPath(t.path+"/v1/metrics"))
	}
	if t.insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return opts
}
