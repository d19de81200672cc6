package util

import (
	"context"
	"io"
	"os"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"

	"github.com/dandiarchive/dandipub/dpapi"
	"github.com/dandiarchive/dandipub/pkg/logging"
)

// The module name used for unique strings, such as tracing identifiers.
const Module = "github.com/dandiarchive/dandipub"

// newResource identifies the process to trace collectors.
// The process attributes carry no schema URL so they merge with whatever
// schema the SDK's default resource uses.
func newResource(version string, module string) (*resource.Resource, error) {
	own := resource.NewSchemaless(
		semconv.ServiceNameKey.String(module),
		semconv.ServiceVersionKey.String(version),
	)
	res, err := resource.Merge(resource.Default(), own)
	if err != nil {
		return nil, err
	}
	return resource.Merge(res, resource.Environment())
}

// newTracingProvider creates a tracer provider from CLI flags.
// It returns nil when no exporter is enabled.
func newTracingProvider(c *cli.Context) (_ *sdktrace.TracerProvider, retErr error) {
	logger := logging.Ctx(c.Context)

	var exporters []sdktrace.TracerProviderOption
	fileExporter, err := newFileSpanExporter(c.Context, c.String("trace.file"))
	if err != nil {
		return nil, err
	}
	defer func() {
		if retErr != nil {
			fileExporter.Shutdown(c.Context)
		}
	}()
	if fileExporter != nil {
		exporters = append(exporters, sdktrace.WithBatcher(fileExporter))
	}

	if c.Bool("trace.http.enable") {
		var httpOpts []otlptracehttp.Option
		if c.Bool("trace.http.insecure") {
			httpOpts = append(httpOpts, otlptracehttp.WithInsecure())
		}
		if endpoint := c.String("trace.http.endpoint"); endpoint != "" {
			logger.Debug("", "trace.http.endpoint: %s", endpoint)
			httpOpts = append(httpOpts, otlptracehttp.WithEndpoint(endpoint))
		}
		httpExporter, err := otlptrace.New(c.Context, otlptracehttp.NewClient(httpOpts...))
		if err != nil {
			return nil, err
		}
		exporters = append(exporters, sdktrace.WithBatcher(httpExporter))
	}
	if len(exporters) == 0 {
		return nil, nil
	}
	res, err := newResource(c.App.Version, Module)
	if err != nil {
		return nil, err
	}
	opts := append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}, exporters...)
	return sdktrace.NewTracerProvider(opts...), nil
}

// fileSpanExporter closes its file on Shutdown.
type fileSpanExporter struct {
	sdktrace.SpanExporter
	io.Closer
}

// Shutdown flushes the exporter and closes the file.
//
// Errors:
//
//   - dandi-error-internal -- when the exporter fails to shut down
func (e *fileSpanExporter) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	defer e.Closer.Close()
	if err := e.SpanExporter.Shutdown(ctx); err != nil {
		return dpapi.ErrorInternal("tracing shutdown failed", err)
	}
	return nil
}

// newFileSpanExporter creates or truncates the named file and writes pretty-printed spans to it.
//
// Errors:
//
//   - dandi-error-io -- when the file cannot be created
//   - dandi-error-internal -- when the exporter cannot be built
func newFileSpanExporter(ctx context.Context, name string) (*fileSpanExporter, error) {
	if name == "" {
		return nil, nil
	}
	logging.Ctx(ctx).Debug("", "trace file path: %s", name)
	f, err := os.Create(name)
	if err != nil {
		return nil, dpapi.ErrorIo("creating trace file", name, err)
	}
	exp, err := stdouttrace.New(
		stdouttrace.WithWriter(f),
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithoutTimestamps(),
	)
	if err != nil {
		f.Close()
		return nil, dpapi.ErrorInternal("creating trace exporter", err)
	}
	return &fileSpanExporter{exp, f}, nil
}
