package op

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/loomworks/loom/pkg/core"
	"github.com/loomworks/loom/pkg/telemetry"
)

func TestRunSpanCarriesOpAttributes(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	o := NewFunc(ToolSpec{Name: "noop"}, ModeSync,
		func(ctx context.Context, c *core.Context) (any, error) { return "ok", nil })
	if err := Run(context.Background(), o, core.New(), nil); err != nil {
		t.Fatal(err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := map[attribute.Key]attribute.Value{}
	for _, kv := range spans[0].Attributes {
		attrs[kv.Key] = kv.Value
	}
	if got := attrs[attribute.Key(telemetry.AttrOpName)].AsString(); got != "noop" {
		t.Errorf("%s = %q, want noop", telemetry.AttrOpName, got)
	}
	if got := attrs[attribute.Key(telemetry.AttrOpMode)].AsString(); got != "sync" {
		t.Errorf("%s = %q, want sync", telemetry.AttrOpMode, got)
	}
	if got := attrs[attribute.Key(telemetry.AttrOpAttempt)].AsInt64(); got != 1 {
		t.Errorf("%s = %d, want 1", telemetry.AttrOpAttempt, got)
	}
}
