package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// DefaultServiceName is reported when [ProviderConfig.ServiceName] is empty.
const DefaultServiceName = "gabby"

// Resource attribute keys describing how this server instance is wired.
const (
	AttrListenAddr   = attribute.Key("gabby.server.listen_addr")
	AttrSTTMode      = attribute.Key("gabby.stt.mode")
	AttrChatProvider = attribute.Key("gabby.chat.provider")
	AttrTTSProvider  = attribute.Key("gabby.tts.provider")
	AttrLanguage     = attribute.Key("gabby.language.default")
)

// ProviderConfig describes the running server for the OpenTelemetry SDK.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string

	// InstanceID identifies this process. A random id is used when empty.
	InstanceID string

	// ListenAddr, STTMode, ChatProvider, TTSProvider and DefaultLanguage are
	// attached to every metric and span as resource attributes. Empty values
	// are omitted.
	ListenAddr      string
	STTMode         string
	ChatProvider    string
	TTSProvider     string
	DefaultLanguage string

	// Registerer receives the Prometheus collector. Defaults to
	// prometheus.DefaultRegisterer, which is what /metrics serves.
	Registerer prometheus.Registerer

	// TraceExporter is an optional span exporter. Spans are recorded but not
	// exported when nil.
	TraceExporter sdktrace.SpanExporter
}

// Resource builds the OTel resource for cfg. OTEL_RESOURCE_ATTRIBUTES
// overrides the configured values.
func (cfg ProviderConfig) Resource(ctx context.Context) (*resource.Resource, error) {
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}
	id := cfg.InstanceID
	if id == "" {
		id = uuid.NewString()
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(name),
		semconv.ServiceInstanceID(id),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	for _, kv := range []struct {
		key   attribute.Key
		value string
	}{
		{AttrListenAddr, cfg.ListenAddr},
		{AttrSTTMode, cfg.STTMode},
		{AttrChatProvider, cfg.ChatProvider},
		{AttrTTSProvider, cfg.TTSProvider},
		{AttrLanguage, cfg.DefaultLanguage},
	} {
		if kv.value != "" {
			attrs = append(attrs, kv.key.String(kv.value))
		}
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}
	return res, nil
}

// InitProvider registers a MeterProvider backed by the Prometheus exporter and
// a TracerProvider as the global OTel providers, both tagged with the
// resource of cfg. The returned function flushes and closes them.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := cfg.Resource(ctx)
	if err != nil {
		return nil, err
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	promExp, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
