// Package telemetry wires up distributed tracing for the mechos runtime.
// Every span carries the robot that produced it as a resource attribute, so
// a fleet-wide trace backend can separate one robot's OODA ticks from
// another's without relying on log scraping.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// defaultServiceName is used when a caller leaves Config.ServiceName empty,
// so a robot booted without explicit telemetry config still reports under a
// recognizable name instead of the OTel SDK's generic unknown_service.
const defaultServiceName = "mechos-agentd"

// Config holds OpenTelemetry related settings.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
	// RobotID identifies which robot in the fleet this process is driving.
	// Attached to every span as robot.id so a fleet-wide trace backend can
	// filter by robot the same way swarmbridge tags fleet events.
	RobotID string `yaml:"robot_id"`
}

// Setup initializes OpenTelemetry tracing based on the provided configuration.
// It returns a shutdown function that should be deferred by the caller.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if !cfg.Enabled || cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if cfg.RobotID != "" {
		attrs = append(attrs, attribute.String("robot.id", cfg.RobotID))
	}

	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
