// Package observability exports audit chain metrics over OpenTelemetry.
//
// The provider carries counters for the recording pipeline (actions
// appended, verdict outcomes, alerts emitted) and an up-down counter
// for subscriber backlog. Disabled providers are no-ops so call sites
// never branch on configuration.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/caretrust/auditchain/pkg/contracts"
	"github.com/caretrust/auditchain/pkg/ledger"
)

// Config configures the OpenTelemetry metric provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317" for gRPC
	Enabled        bool
	Insecure       bool // dev only
	ExportInterval time.Duration
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "auditchain",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        true,
		ExportInterval: 15 * time.Second,
	}
}

// Provider manages the meter provider and the pipeline instruments.
type Provider struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *slog.Logger

	appends      metric.Int64Counter
	verdicts     metric.Int64Counter
	alerts       metric.Int64Counter
	queueDepth   metric.Int64UpDownCounter
	verifySweeps metric.Int64Counter
}

// New creates a provider. With Enabled false every instrument is nil
// and the record methods are no-ops.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}
	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observability: resource construction failed: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("observability: metric exporter failed: %w", err)
	}

	interval := config.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("auditchain")

	if err := p.initInstruments(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error
	if p.appends, err = p.meter.Int64Counter("auditchain.ledger.appends",
		metric.WithDescription("Entries appended to the ledger")); err != nil {
		return err
	}
	if p.verdicts, err = p.meter.Int64Counter("auditchain.verdicts",
		metric.WithDescription("Verdicts rendered, by jurisdiction and outcome")); err != nil {
		return err
	}
	if p.alerts, err = p.meter.Int64Counter("auditchain.alerts",
		metric.WithDescription("Alerts emitted to subscribers")); err != nil {
		return err
	}
	if p.queueDepth, err = p.meter.Int64UpDownCounter("auditchain.alerts.queue_depth",
		metric.WithDescription("Queued, undelivered alerts across subscribers")); err != nil {
		return err
	}
	if p.verifySweeps, err = p.meter.Int64Counter("auditchain.verify.sweeps",
		metric.WithDescription("Chain verification sweeps, by result")); err != nil {
		return err
	}
	return nil
}

// LedgerHandler returns a ledger handler that counts appends and
// verdict outcomes. Register it like any other append observer.
func (p *Provider) LedgerHandler() ledger.Handler {
	return func(entry ledger.Entry) {
		if p.appends == nil {
			return
		}
		ctx := context.Background()
		p.appends.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", string(entry.Action.Kind))))
		for _, v := range entry.Verdicts {
			p.verdicts.Add(ctx, 1, metric.WithAttributes(
				attribute.String("jurisdiction", v.Jurisdiction),
				attribute.String("outcome", string(v.Outcome)),
				attribute.String("severity", string(v.Severity)),
			))
		}
	}
}

// RecordAlert counts one emitted alert.
func (p *Provider) RecordAlert(ctx context.Context, severity contracts.Severity) {
	if p.alerts == nil {
		return
	}
	p.alerts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("severity", string(severity))))
}

// AddQueueDepth adjusts the subscriber backlog gauge.
func (p *Provider) AddQueueDepth(ctx context.Context, delta int64) {
	if p.queueDepth == nil {
		return
	}
	p.queueDepth.Add(ctx, delta)
}

// RecordVerify counts one verification sweep.
func (p *Provider) RecordVerify(ctx context.Context, intact bool) {
	if p.verifySweeps == nil {
		return
	}
	p.verifySweeps.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("intact", intact)))
}

// Shutdown flushes pending metrics.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
