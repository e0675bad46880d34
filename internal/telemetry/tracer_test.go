package telemetry

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracer(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := InitTracer("svc-test", logger,
		WithWriter(&buf),
		WithServiceVersion("1.2.3"),
		WithEnvironment("test"),
		WithSyncExport(),
	)
	if err != nil {
		t.Fatalf("InitTracer() error = %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "unit-span")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{"unit-span", "svc-test", "1.2.3"} {
		if !strings.Contains(out, want) {
			t.Errorf("exported spans missing %q", want)
		}
	}
}
